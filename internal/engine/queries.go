// internal/engine/queries.go
package engine

import (
	"context"
	"slices"
	"sort"

	"github.com/google/uuid"
	"github.com/jason-s-yu/ladder/internal/leaderboard"
	"github.com/jason-s-yu/ladder/internal/match"
	"github.com/jason-s-yu/ladder/internal/models"
	"github.com/jason-s-yu/ladder/internal/store"
	"github.com/samber/lo"
)

// Match returns an active match.
func (e *Engine) Match(ctx context.Context, guild string, id uuid.UUID) (*match.Match, error) {
	unlock := e.lock(guild)
	defer unlock()

	_, m, err := e.loadMatch(ctx, guild, id)
	return m, err
}

// ActiveMatches returns the guild's active matches, oldest first.
func (e *Engine) ActiveMatches(ctx context.Context, guild string) ([]*match.Match, error) {
	unlock := e.lock(guild)
	defer unlock()

	ms, err := e.repo.Matches(ctx, guild)
	if err != nil {
		return nil, err
	}
	out := lo.Values(ms)
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// History returns archived matches, newest first. A non-empty participant
// keeps only that participant's matches; limit <= 0 returns everything.
func (e *Engine) History(ctx context.Context, guild, participant string, limit int) ([]store.HistoryEntry, error) {
	unlock := e.lock(guild)
	defer unlock()

	h, err := e.repo.History(ctx, guild)
	if err != nil {
		return nil, err
	}
	if participant != "" {
		h = lo.Filter(h, func(entry store.HistoryEntry, _ int) bool {
			return slices.Contains(entry.SideA, participant) || slices.Contains(entry.SideB, participant)
		})
	}
	slices.Reverse(h)
	if limit > 0 && limit < len(h) {
		h = h[:limit]
	}
	return h, nil
}

// Leaderboard ranks the guild's participants from persisted ratings.
func (e *Engine) Leaderboard(ctx context.Context, guild string, n int, filter leaderboard.Filter) ([]leaderboard.Entry, error) {
	unlock := e.lock(guild)
	defer unlock()

	ps, err := e.repo.Participants(ctx, guild)
	if err != nil {
		return nil, err
	}
	return leaderboard.TopN(participantsSorted(ps), n, filter), nil
}

// Recover brings persisted state back to a consistent point after a restart.
// Verification requests do not survive a restart, so matches waiting on a
// result confirmation return to ONGOING and matches waiting on a start
// confirmation are cancelled.
func (e *Engine) Recover(ctx context.Context) error {
	guilds, err := e.repo.Guilds(ctx)
	if err != nil {
		return err
	}
	for _, guild := range guilds {
		if err := e.recoverGuild(ctx, guild); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) recoverGuild(ctx context.Context, guild string) error {
	unlock := e.lock(guild)
	defer unlock()

	if err := e.loadQueuesUnsafe(ctx, guild); err != nil {
		return err
	}
	ms, err := e.repo.Matches(ctx, guild)
	if err != nil {
		return err
	}

	// A participant may have been queued and formed into a match by a
	// write that was interrupted.
	active := activeParticipants(ms)
	for id := range active {
		e.queues.RemoveEverywhere(guild, id)
	}
	if err := e.saveQueuesUnsafe(ctx, guild); err != nil {
		return err
	}

	changed := 0
	for _, m := range ms {
		if _, pending := e.verify.Pending(m.ID); pending {
			continue
		}
		switch m.State {
		case match.StateAwaitingResult:
			if err := m.DiscardReport(); err != nil {
				return err
			}
			changed++
		case match.StateAwaitingStart:
			if err := m.Cancel(e.now()); err != nil {
				return err
			}
			e.emit(ctx, m, EventCancelled, "", map[string]any{"reason": "restart"})
			changed++
		}
	}
	if changed > 0 {
		e.log(guild, nil).Infof("recovered %d matches with lost confirmations", changed)
	}
	return e.saveMatches(ctx, guild, ms)
}

// participantsSorted orders participants by registration, so rating ties
// rank in the order participants joined. Participants without a sequence
// number come first, by id.
func participantsSorted(ps map[string]models.Participant) []models.Participant {
	out := lo.Values(ps)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Seq != out[j].Seq {
			return out[i].Seq < out[j].Seq
		}
		return out[i].ID < out[j].ID
	})
	return out
}
