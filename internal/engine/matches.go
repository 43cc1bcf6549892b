// internal/engine/matches.go
package engine

import (
	"context"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/ladder/internal/match"
	"github.com/jason-s-yu/ladder/internal/notify"
	"github.com/jason-s-yu/ladder/internal/rating"
	"github.com/jason-s-yu/ladder/internal/verify"
)

// Caller identifies who invokes an operation. Admin callers are league staff.
type Caller struct {
	ID    string
	Admin bool
}

// ChallengeRequest describes an explicit match between two sides, as used by
// the team ladder and individual rating modes.
type ChallengeRequest struct {
	Mode     string   `json:"mode"`
	SideA    []string `json:"side_a"`
	SideB    []string `json:"side_b"`
	CaptainA string   `json:"captain_a,omitempty"`
	CaptainB string   `json:"captain_b,omitempty"`
	// TeamSize, when set, requires both sides to have exactly that many members.
	TeamSize int     `json:"team_size,omitempty"`
	K        float64 `json:"k,omitempty"`
}

// Pick applies a captain's draft pick. When the draft finishes the match starts.
func (e *Engine) Pick(ctx context.Context, guild string, matchID uuid.UUID, captain, player string) (m *match.Match, err error) {
	defer e.observe("pick", time.Now(), &err)
	return e.draftStep(ctx, guild, matchID, captain, func(m *match.Match) error {
		return m.Pick(captain, player)
	})
}

// ChooseSide applies a self-pick choice. When every player has a side the
// match starts.
func (e *Engine) ChooseSide(ctx context.Context, guild string, matchID uuid.UUID, player string, side match.Side) (m *match.Match, err error) {
	defer e.observe("choose_side", time.Now(), &err)
	return e.draftStep(ctx, guild, matchID, player, func(m *match.Match) error {
		return m.ChooseSide(player, side)
	})
}

func (e *Engine) draftStep(ctx context.Context, guild string, matchID uuid.UUID, actor string, step func(*match.Match) error) (*match.Match, error) {
	unlock := e.lock(guild)
	defer unlock()

	ms, m, err := e.loadMatch(ctx, guild, matchID)
	if err != nil {
		return nil, err
	}
	if err := step(m); err != nil {
		return nil, err
	}
	started := false
	if m.Draft == nil {
		if err := m.Start(e.now()); err != nil {
			return nil, err
		}
		started = true
	}
	if err := e.saveMatches(ctx, guild, ms); err != nil {
		return nil, err
	}

	e.emit(ctx, m, EventPicked, actor, nil)
	if started {
		e.emit(ctx, m, EventStarted, "", nil)
		e.notify(ctx, notify.Notification{Guild: guild, Template: notify.MatchStarted, Args: matchArgs(m)})
	} else {
		e.announceDraftTurn(ctx, m)
	}
	return m, nil
}

// Challenge creates a FORMING match between two explicit sides. Members are
// removed from any queue they were waiting in.
func (e *Engine) Challenge(ctx context.Context, guild string, req ChallengeRequest) (m *match.Match, err error) {
	defer e.observe("challenge", time.Now(), &err)
	unlock := e.lock(guild)
	defer unlock()

	size := match.Size{Exact: req.TeamSize}
	a, err := match.NewRoster(req.SideA, size)
	if err != nil {
		return nil, err
	}
	b, err := match.NewRoster(req.SideB, size)
	if err != nil {
		return nil, err
	}
	if req.CaptainA != "" {
		if err := a.DesignateCaptain(req.CaptainA); err != nil {
			return nil, err
		}
	}
	if req.CaptainB != "" {
		if err := b.DesignateCaptain(req.CaptainB); err != nil {
			return nil, err
		}
	}

	ms, err := e.repo.Matches(ctx, guild)
	if err != nil {
		return nil, err
	}
	active := activeParticipants(ms)
	for _, id := range append(slices.Clone(a.Members), b.Members...) {
		if active.InMatch(id) {
			return nil, match.NewErrorf(match.AlreadyInMatch, "%s is already playing in an active match", id)
		}
	}

	mode := req.Mode
	if mode == "" {
		mode = "ladder"
	}
	k := req.K
	if k <= 0 {
		k = e.opts.LadderK
	}
	m, err = match.New(guild, mode, k, a, b, e.now())
	if err != nil {
		return nil, err
	}
	m.RoomName, m.RoomPass = e.rooms.Generate()

	if err := e.loadQueuesUnsafe(ctx, guild); err != nil {
		return nil, err
	}
	dequeued := false
	for _, id := range m.Participants() {
		if len(e.queues.RemoveEverywhere(guild, id)) > 0 {
			dequeued = true
		}
	}

	ms[m.ID] = m
	if err := e.saveMatches(ctx, guild, ms); err != nil {
		return nil, err
	}
	if dequeued {
		if err := e.saveQueuesUnsafe(ctx, guild); err != nil {
			return nil, err
		}
	}

	e.metrics.MatchesFormed.WithLabelValues(mode).Inc()
	e.log(guild, m).Info("challenge created")
	e.emit(ctx, m, EventFormed, "", map[string]any{"participants": m.Participants()})
	e.notifyEach(ctx, guild, m.Participants(), notify.MatchFormed, matchArgs(m))
	return m, nil
}

// Start moves a FORMING match straight to ONGOING. Only staff may skip the
// start confirmation.
func (e *Engine) Start(ctx context.Context, guild string, matchID uuid.UUID, caller Caller) (m *match.Match, err error) {
	defer e.observe("start", time.Now(), &err)
	if !caller.Admin {
		return nil, match.NewError(match.Forbidden, "only league staff can start a match without confirmation")
	}
	if _, pending := e.verify.Pending(matchID); pending {
		return nil, match.ErrVerificationInProgress
	}
	unlock := e.lock(guild)
	defer unlock()

	ms, m, err := e.loadMatch(ctx, guild, matchID)
	if err != nil {
		return nil, err
	}
	if err := m.Start(e.now()); err != nil {
		return nil, err
	}
	if err := e.saveMatches(ctx, guild, ms); err != nil {
		return nil, err
	}
	e.emit(ctx, m, EventStarted, caller.ID, nil)
	e.notify(ctx, notify.Notification{Guild: guild, Template: notify.MatchStarted, Args: matchArgs(m)})
	return m, nil
}

// ForceResult records a staff result and completes the match at once. A
// pending confirmation of the match is rejected first.
func (e *Engine) ForceResult(ctx context.Context, guild string, matchID uuid.UUID, caller Caller, winsA, winsB int) (m *match.Match, changes []rating.Change, err error) {
	defer e.observe("force_result", time.Now(), &err)
	if !caller.Admin {
		return nil, nil, match.NewError(match.Forbidden, "only league staff can force a result")
	}
	if req, pending := e.verify.Pending(matchID); pending && req.Guild == guild {
		e.verify.Override(matchID, false)
	}

	func() {
		unlock := e.lock(guild)
		defer unlock()

		var ms map[uuid.UUID]*match.Match
		if ms, m, err = e.loadMatch(ctx, guild, matchID); err != nil {
			return
		}
		if err = m.ForceResult(caller.ID, winsA, winsB, e.now()); err != nil {
			return
		}
		e.emit(ctx, m, EventForced, caller.ID, map[string]any{"wins_a": winsA, "wins_b": winsB})
		changes, err = e.completeUnsafe(ctx, guild, ms, m)
	}()
	if err != nil {
		return nil, nil, err
	}
	e.dropPending(guild, matchID)
	return m, changes, nil
}

// dropPending times out a confirmation opened on matchID after the match
// ended. The guild lock must not be held: the continuation takes it.
func (e *Engine) dropPending(guild string, matchID uuid.UUID) {
	if req, ok := e.verify.Pending(matchID); ok && req.Guild == guild {
		e.verify.Abandon(matchID)
	}
}

// completeUnsafe settles m's reported result, archives it and applies the
// rating changes. This is the only place ratings are written.
func (e *Engine) completeUnsafe(ctx context.Context, guild string, ms map[uuid.UUID]*match.Match, m *match.Match) ([]rating.Change, error) {
	ps, err := e.repo.Participants(ctx, guild)
	if err != nil {
		return nil, err
	}
	changes, err := m.Complete(e.opts.Calculator, e.ratingsOf(ps, m.Participants()), e.now())
	if err != nil {
		return nil, err
	}

	// The match leaves the active document before ratings are written, so a
	// failure in between can never apply the result twice.
	if err := e.saveMatches(ctx, guild, ms); err != nil {
		return nil, err
	}

	for _, c := range changes {
		p, ok := ps[c.ParticipantID]
		if !ok {
			p.ID, p.Name, p.Seq = c.ParticipantID, c.ParticipantID, nextSeq(ps)
		}
		p.Rating = c.New
		if m.SideA.Contains(c.ParticipantID) {
			p.Wins += m.WinsA
			p.Losses += m.WinsB
		} else {
			p.Wins += m.WinsB
			p.Losses += m.WinsA
		}
		ps[c.ParticipantID] = p
		e.metrics.RatingDelta.Observe(float64(abs(c.Delta)))
	}
	if err := e.repo.SaveParticipants(ctx, guild, ps); err != nil {
		return nil, err
	}

	e.log(guild, m).WithField("score", [2]int{m.WinsA, m.WinsB}).Info("match completed")
	e.emit(ctx, m, EventCompleted, "", map[string]any{"wins_a": m.WinsA, "wins_b": m.WinsB, "changes": changes})
	args := matchArgs(m)
	args["wins_a"], args["wins_b"] = m.WinsA, m.WinsB
	args["changes"] = changes
	e.notify(ctx, notify.Notification{Guild: guild, Template: notify.MatchCompleted, Args: args})
	return changes, nil
}

// Cancel ends a match. Staff cancel at once; a participant's request must be
// confirmed by the opposing side, and the returned request is that pending
// confirmation.
func (e *Engine) Cancel(ctx context.Context, guild string, matchID uuid.UUID, caller Caller) (m *match.Match, req *verify.Request, err error) {
	defer e.observe("cancel", time.Now(), &err)
	if !caller.Admin {
		r, err := e.proposeCancel(ctx, guild, matchID, caller.ID)
		if err != nil {
			return nil, nil, err
		}
		return nil, &r, nil
	}

	if pending, ok := e.verify.Pending(matchID); ok && pending.Guild == guild {
		e.verify.Override(matchID, false)
	}
	func() {
		unlock := e.lock(guild)
		defer unlock()

		var ms map[uuid.UUID]*match.Match
		if ms, m, err = e.loadMatch(ctx, guild, matchID); err != nil {
			return
		}
		err = e.cancelUnsafe(ctx, guild, ms, m, caller.ID)
	}()
	if err != nil {
		return nil, nil, err
	}
	e.dropPending(guild, matchID)
	return m, nil, nil
}

func (e *Engine) cancelUnsafe(ctx context.Context, guild string, ms map[uuid.UUID]*match.Match, m *match.Match, actor string) error {
	if err := m.Cancel(e.now()); err != nil {
		return err
	}
	if err := e.saveMatches(ctx, guild, ms); err != nil {
		return err
	}
	e.log(guild, m).WithField("actor", actor).Info("match cancelled")
	e.emit(ctx, m, EventCancelled, actor, nil)
	e.notifyEach(ctx, guild, m.Participants(), notify.MatchCancelled, matchArgs(m))
	return nil
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
