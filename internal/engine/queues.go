// internal/engine/queues.go
package engine

import (
	"context"
	"time"

	"github.com/jason-s-yu/ladder/internal/match"
	"github.com/jason-s-yu/ladder/internal/notify"
	"github.com/jason-s-yu/ladder/internal/queue"
	"github.com/sirupsen/logrus"
)

// QueueResult is the outcome of joining a queue. Match is set when the join
// filled the queue.
type QueueResult struct {
	Status queue.Status `json:"status"`
	Match  *match.Match `json:"match,omitempty"`
}

// loadQueuesUnsafe replaces the in-memory pools of guild with the persisted
// snapshot, minus anyone already playing in an active match. The guild lock
// must be held.
func (e *Engine) loadQueuesUnsafe(ctx context.Context, guild string) error {
	pools, err := e.repo.Queues(ctx, guild)
	if err != nil {
		return err
	}
	ms, err := e.repo.Matches(ctx, guild)
	if err != nil {
		return err
	}
	e.queues.Restore(guild, pools)
	for id := range activeParticipants(ms) {
		if removed := e.queues.RemoveEverywhere(guild, id); len(removed) > 0 {
			e.logger.WithFields(logrus.Fields{"guild": guild, "participant": id}).
				Warn("dropped queued participant who is already in a match")
		}
	}
	return nil
}

func (e *Engine) saveQueuesUnsafe(ctx context.Context, guild string) error {
	snap := e.queues.Snapshot(guild)
	for _, c := range e.queues.Queues() {
		e.metrics.QueueWaiting.WithLabelValues(guild, c.ID).Set(float64(len(snap[c.ID])))
	}
	return e.repo.SaveQueues(ctx, guild, snap)
}

// Enqueue adds participant to a queue. If that fills the queue a match is
// formed: random and balanced queues start immediately, draft queues stay
// FORMING until the sides are picked.
func (e *Engine) Enqueue(ctx context.Context, guild, queueID, participant string) (res QueueResult, err error) {
	defer e.observe("enqueue", time.Now(), &err)
	unlock := e.lock(guild)
	defer unlock()

	if err := e.loadQueuesUnsafe(ctx, guild); err != nil {
		return QueueResult{}, err
	}
	ms, err := e.repo.Matches(ctx, guild)
	if err != nil {
		return QueueResult{}, err
	}

	status, formation, err := e.queues.Enqueue(guild, queueID, participant, activeParticipants(ms))
	if err != nil {
		return QueueResult{}, err
	}
	res.Status = status

	var formed *match.Match
	if formation != nil {
		if formed, err = e.formUnsafe(ctx, guild, *formation, activeParticipants(ms)); err != nil {
			return QueueResult{}, err
		}
	}
	// Pools are saved before the match; a player is never persisted as both
	// queued and playing.
	if err := e.saveQueuesUnsafe(ctx, guild); err != nil {
		return QueueResult{}, err
	}
	if formed != nil {
		ms[formed.ID] = formed
		if err := e.saveMatches(ctx, guild, ms); err != nil {
			return QueueResult{}, err
		}
		res.Match = formed
	}

	e.notify(ctx, notify.Notification{Guild: guild, Template: notify.QueueJoined, Args: map[string]any{
		"participant": participant,
		"queue":       queueID,
		"waiting":     len(status.Waiting),
		"capacity":    status.Capacity,
	}})
	if res.Match != nil {
		e.announceFormed(ctx, res.Match)
	}
	return res, nil
}

// formUnsafe turns a drained formation into a match.
func (e *Engine) formUnsafe(ctx context.Context, guild string, f queue.Formation, active activeSet) (*match.Match, error) {
	for _, id := range f.Participants {
		if active.InMatch(id) {
			return nil, match.NewErrorf(match.AlreadyInMatch, "%s is already playing in an active match", id)
		}
	}
	ps, err := e.repo.Participants(ctx, guild)
	if err != nil {
		return nil, err
	}
	assignment, err := e.queues.Assign(f, e.ratingsOf(ps, f.Participants))
	if err != nil {
		return nil, err
	}

	now := e.now()
	var m *match.Match
	if assignment.Draft != nil {
		m = match.NewDrafting(guild, f.Queue.ID, f.Queue.K, assignment.Draft, now)
	} else {
		size := match.Size{Exact: len(f.Participants) / 2}
		a, err := match.NewRoster(assignment.SideA, size)
		if err != nil {
			return nil, err
		}
		b, err := match.NewRoster(assignment.SideB, size)
		if err != nil {
			return nil, err
		}
		if m, err = match.New(guild, f.Queue.ID, f.Queue.K, a, b, now); err != nil {
			return nil, err
		}
	}
	m.RoomName, m.RoomPass = e.rooms.Generate()
	if m.Draft == nil {
		if err := m.Start(now); err != nil {
			return nil, err
		}
	}

	e.metrics.MatchesFormed.WithLabelValues(f.Queue.ID).Inc()
	e.log(guild, m).WithField("policy", f.Queue.Policy).Info("match formed")
	return m, nil
}

func (e *Engine) announceFormed(ctx context.Context, m *match.Match) {
	e.emit(ctx, m, EventFormed, "", map[string]any{"participants": m.Participants()})
	e.notifyEach(ctx, m.Guild, m.Participants(), notify.MatchFormed, matchArgs(m))
	if m.Draft != nil {
		e.announceDraftTurn(ctx, m)
		return
	}
	e.emit(ctx, m, EventStarted, "", nil)
	e.notify(ctx, notify.Notification{Guild: m.Guild, Template: notify.MatchStarted, Args: matchArgs(m)})
}

func (e *Engine) announceDraftTurn(ctx context.Context, m *match.Match) {
	d := m.Draft
	if d == nil {
		return
	}
	args := matchArgs(m)
	args["remaining"] = d.Remaining
	args["side"] = string(d.Turn())
	args["mode"] = string(d.Mode)
	if d.Mode == match.DraftCaptains {
		captain := d.CaptainA
		if d.Turn() == match.SideB {
			captain = d.CaptainB
		}
		args["captain"] = captain
	}
	e.notify(ctx, notify.Notification{Guild: m.Guild, Template: notify.MatchDraftTurn, Args: args})
}

// Dequeue removes participant from a queue.
func (e *Engine) Dequeue(ctx context.Context, guild, queueID, participant string) (st queue.Status, err error) {
	defer e.observe("dequeue", time.Now(), &err)
	unlock := e.lock(guild)
	defer unlock()

	if err := e.loadQueuesUnsafe(ctx, guild); err != nil {
		return queue.Status{}, err
	}
	st, err = e.queues.Dequeue(guild, queueID, participant)
	if err != nil {
		return queue.Status{}, err
	}
	if err := e.saveQueuesUnsafe(ctx, guild); err != nil {
		return queue.Status{}, err
	}
	e.notify(ctx, notify.Notification{Guild: guild, Template: notify.QueueLeft, Args: map[string]any{
		"participant": participant,
		"queue":       queueID,
		"waiting":     len(st.Waiting),
		"capacity":    st.Capacity,
	}})
	return st, nil
}

// QueueStatus returns who is waiting in a queue.
func (e *Engine) QueueStatus(ctx context.Context, guild, queueID string) (queue.Status, error) {
	unlock := e.lock(guild)
	defer unlock()

	if err := e.loadQueuesUnsafe(ctx, guild); err != nil {
		return queue.Status{}, err
	}
	return e.queues.Waiting(guild, queueID)
}
