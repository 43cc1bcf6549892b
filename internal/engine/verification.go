// internal/engine/verification.go
package engine

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/ladder/internal/match"
	"github.com/jason-s-yu/ladder/internal/notify"
	"github.com/jason-s-yu/ladder/internal/verify"
	"github.com/sirupsen/logrus"
)

// continuationTimeout bounds the persistence work of a settled verification.
const continuationTimeout = 30 * time.Second

// ProposeStart asks the opposing side to confirm the start of a FORMING
// match. An unanswered request cancels the match; a rejected one returns it
// to FORMING.
func (e *Engine) ProposeStart(ctx context.Context, guild string, matchID uuid.UUID, proposer string) (req verify.Request, err error) {
	defer e.observe("propose_start", time.Now(), &err)
	unlock := e.lock(guild)
	defer unlock()

	ms, m, err := e.loadMatch(ctx, guild, matchID)
	if err != nil {
		return verify.Request{}, err
	}
	responder, err := m.Responder(proposer)
	if err != nil {
		return verify.Request{}, err
	}
	if err := m.AwaitStart(); err != nil {
		return verify.Request{}, err
	}
	if err := e.saveMatches(ctx, guild, ms); err != nil {
		return verify.Request{}, err
	}

	h, err := e.verify.Propose(verify.Proposal{
		Guild:      guild,
		MatchID:    m.ID,
		Proposer:   proposer,
		Responder:  responder,
		Payload:    verify.PayloadStart,
		Timeout:    e.opts.StartTimeout,
		OnApproved: e.onStartApproved,
		OnRollback: e.onStartRollback,
	})
	if err != nil {
		if rerr := m.RevertStart(); rerr == nil {
			if serr := e.saveMatches(ctx, guild, ms); serr != nil {
				e.log(guild, m).WithError(serr).Error("failed to revert start after proposal error")
			}
		}
		return verify.Request{}, err
	}

	e.emit(ctx, m, EventStartProposed, proposer, nil)
	args := matchArgs(m)
	args["proposer"], args["timeout"] = proposer, e.opts.StartTimeout.String()
	e.notify(ctx, notify.Notification{Guild: guild, Recipient: responder, Template: notify.VerifyStartPrompt, Args: args})
	return h.Request, nil
}

// ReportResult records reporter's series result and asks the opposing side to
// confirm it. An unanswered or rejected report returns the match to ONGOING.
func (e *Engine) ReportResult(ctx context.Context, guild string, matchID uuid.UUID, reporter string, winsA, winsB int) (req verify.Request, err error) {
	defer e.observe("report_result", time.Now(), &err)
	unlock := e.lock(guild)
	defer unlock()

	ms, m, err := e.loadMatch(ctx, guild, matchID)
	if err != nil {
		return verify.Request{}, err
	}
	if err := m.ReportResult(reporter, winsA, winsB, e.now(), e.opts.MinMatchDuration); err != nil {
		return verify.Request{}, err
	}
	responder, err := m.Responder(reporter)
	if err != nil {
		return verify.Request{}, err
	}
	if err := e.saveMatches(ctx, guild, ms); err != nil {
		return verify.Request{}, err
	}

	h, err := e.verify.Propose(verify.Proposal{
		Guild:      guild,
		MatchID:    m.ID,
		Proposer:   reporter,
		Responder:  responder,
		Payload:    verify.PayloadResult,
		Timeout:    e.opts.ResultTimeout,
		OnApproved: e.onResultApproved,
		OnRollback: e.onResultRollback,
	})
	if err != nil {
		if rerr := m.DiscardReport(); rerr == nil {
			if serr := e.saveMatches(ctx, guild, ms); serr != nil {
				e.log(guild, m).WithError(serr).Error("failed to discard report after proposal error")
			}
		}
		return verify.Request{}, err
	}

	e.emit(ctx, m, EventReported, reporter, map[string]any{"wins_a": winsA, "wins_b": winsB})
	args := matchArgs(m)
	args["proposer"], args["timeout"] = reporter, e.opts.ResultTimeout.String()
	args["wins_a"], args["wins_b"] = winsA, winsB
	e.notify(ctx, notify.Notification{Guild: guild, Recipient: responder, Template: notify.VerifyResultPrompt, Args: args})
	return h.Request, nil
}

func (e *Engine) proposeCancel(ctx context.Context, guild string, matchID uuid.UUID, proposer string) (verify.Request, error) {
	unlock := e.lock(guild)
	defer unlock()

	_, m, err := e.loadMatch(ctx, guild, matchID)
	if err != nil {
		return verify.Request{}, err
	}
	if m.Draft != nil {
		return verify.Request{}, match.NewError(match.Forbidden, "only league staff can cancel a match during the draft")
	}
	responder, err := m.Responder(proposer)
	if err != nil {
		return verify.Request{}, err
	}
	h, err := e.verify.Propose(verify.Proposal{
		Guild:      guild,
		MatchID:    m.ID,
		Proposer:   proposer,
		Responder:  responder,
		Payload:    verify.PayloadCancel,
		Timeout:    e.opts.StartTimeout,
		OnApproved: e.onCancelApproved,
		OnRollback: e.onSettledWithoutChange,
	})
	if err != nil {
		return verify.Request{}, err
	}
	args := matchArgs(m)
	args["proposer"], args["timeout"] = proposer, e.opts.StartTimeout.String()
	e.notify(ctx, notify.Notification{Guild: guild, Recipient: responder, Template: notify.VerifyCancelPrompt, Args: args})
	return h.Request, nil
}

// Respond answers the pending confirmation of a match. Staff callers and
// configured admins may answer any request. An answer from anyone other than
// the designated responder is ignored: the request stays open and Respond
// returns Pending with no error. The settlement, including its persistence,
// has completed when Respond returns.
func (e *Engine) Respond(ctx context.Context, guild string, matchID uuid.UUID, caller Caller, approve bool) (outcome verify.Outcome, err error) {
	defer e.observe("respond", time.Now(), &err)

	req, ok := e.verify.Pending(matchID)
	if !ok || req.Guild != guild {
		known, err := e.knownMatch(ctx, guild, matchID)
		if err != nil {
			return verify.Pending, err
		}
		if known {
			return verify.Pending, match.NewError(match.StaleState, "there is nothing waiting for confirmation on this match")
		}
		return verify.Pending, match.NewErrorf(match.NotFound, "there is no match %s", matchID)
	}
	ignored := e.logger.WithFields(logrus.Fields{"guild": guild, "match": matchID, "caller": caller.ID})
	if caller.ID == req.Proposer && !caller.Admin {
		ignored.Debug("ignored proposer answering their own request")
		return verify.Pending, nil
	}

	var settled bool
	if caller.Admin {
		settled = e.verify.Override(matchID, approve)
	} else {
		settled = e.verify.Respond(matchID, caller.ID, approve)
	}
	if !settled {
		if _, still := e.verify.Pending(matchID); !still {
			return verify.Pending, match.NewError(match.StaleState, "this request was already answered")
		}
		ignored.Debug("ignored answer from someone other than the responder")
		return verify.Pending, nil
	}
	if approve {
		return verify.Approved, nil
	}
	return verify.Rejected, nil
}

// knownMatch reports whether matchID is an active or archived match of guild.
func (e *Engine) knownMatch(ctx context.Context, guild string, matchID uuid.UUID) (bool, error) {
	unlock := e.lock(guild)
	defer unlock()

	ms, err := e.repo.Matches(ctx, guild)
	if err != nil {
		return false, err
	}
	if _, ok := ms[matchID]; ok {
		return true, nil
	}
	history, err := e.repo.History(ctx, guild)
	if err != nil {
		return false, err
	}
	for _, h := range history {
		if h.MatchID == matchID {
			return true, nil
		}
	}
	return false, nil
}

// Abandon handles a participant leaving the guild: they leave every queue
// and confirmations waiting on them time out.
func (e *Engine) Abandon(ctx context.Context, guild, participant string) (timedOut []uuid.UUID, err error) {
	defer e.observe("abandon", time.Now(), &err)

	func() {
		unlock := e.lock(guild)
		defer unlock()
		if err = e.loadQueuesUnsafe(ctx, guild); err != nil {
			return
		}
		if removed := e.queues.RemoveEverywhere(guild, participant); len(removed) > 0 {
			err = e.saveQueuesUnsafe(ctx, guild)
		}
	}()
	if err != nil {
		return nil, err
	}

	for _, id := range e.verify.RespondersAwaiting(participant) {
		req, ok := e.verify.Pending(id)
		if !ok || req.Guild != guild {
			continue
		}
		if e.verify.Abandon(id) {
			timedOut = append(timedOut, id)
		}
	}
	return timedOut, nil
}

// settled reloads the match of req under the guild lock and applies fn. A
// match that has moved on is logged and left alone.
func (e *Engine) settled(req verify.Request, outcome verify.Outcome, fn func(ctx context.Context, ms map[uuid.UUID]*match.Match, m *match.Match) error) {
	e.metrics.Verifications.WithLabelValues(string(req.Payload), outcome.String()).Inc()

	ctx, cancel := context.WithTimeout(context.Background(), continuationTimeout)
	defer cancel()

	unlock := e.lock(req.Guild)
	defer unlock()

	entry := e.logger.WithFields(logrus.Fields{
		"guild":   req.Guild,
		"match":   req.MatchID,
		"payload": req.Payload,
		"outcome": outcome.String(),
	})
	ms, m, err := e.loadMatch(ctx, req.Guild, req.MatchID)
	if err != nil {
		entry.WithError(err).Warn("settled verification for a match that is gone")
		return
	}
	e.emit(ctx, m, EventVerification, req.Responder, map[string]any{"payload": req.Payload, "outcome": outcome.String()})

	if err := fn(ctx, ms, m); err != nil {
		var me *match.Error
		if errors.As(err, &me) {
			entry.WithError(err).Warn("verification outcome no longer applies")
			return
		}
		entry.WithError(err).Error("failed to apply verification outcome")
		return
	}

	template := notify.VerifyApproved
	switch outcome {
	case verify.Rejected:
		template = notify.VerifyRejected
	case verify.TimedOut:
		template = notify.VerifyTimedOut
	}
	args := matchArgs(m)
	args["payload"] = string(req.Payload)
	e.notify(ctx, notify.Notification{Guild: req.Guild, Recipient: req.Proposer, Template: template, Args: args})
}

func (e *Engine) onStartApproved(req verify.Request) {
	e.settled(req, verify.Approved, func(ctx context.Context, ms map[uuid.UUID]*match.Match, m *match.Match) error {
		if err := m.Start(e.now()); err != nil {
			return err
		}
		if err := e.saveMatches(ctx, req.Guild, ms); err != nil {
			return err
		}
		e.emit(ctx, m, EventStarted, req.Responder, nil)
		e.notify(ctx, notify.Notification{Guild: req.Guild, Template: notify.MatchStarted, Args: matchArgs(m)})
		return nil
	})
}

func (e *Engine) onStartRollback(req verify.Request, outcome verify.Outcome) {
	e.settled(req, outcome, func(ctx context.Context, ms map[uuid.UUID]*match.Match, m *match.Match) error {
		if outcome == verify.TimedOut {
			return e.cancelUnsafe(ctx, req.Guild, ms, m, "")
		}
		if err := m.RevertStart(); err != nil {
			return err
		}
		return e.saveMatches(ctx, req.Guild, ms)
	})
}

func (e *Engine) onResultApproved(req verify.Request) {
	e.settled(req, verify.Approved, func(ctx context.Context, ms map[uuid.UUID]*match.Match, m *match.Match) error {
		_, err := e.completeUnsafe(ctx, req.Guild, ms, m)
		return err
	})
}

func (e *Engine) onResultRollback(req verify.Request, outcome verify.Outcome) {
	e.settled(req, outcome, func(ctx context.Context, ms map[uuid.UUID]*match.Match, m *match.Match) error {
		if err := m.DiscardReport(); err != nil {
			return err
		}
		if err := e.saveMatches(ctx, req.Guild, ms); err != nil {
			return err
		}
		e.emit(ctx, m, EventReportDropped, req.Responder, map[string]any{"outcome": outcome.String()})
		return nil
	})
}

func (e *Engine) onCancelApproved(req verify.Request) {
	e.settled(req, verify.Approved, func(ctx context.Context, ms map[uuid.UUID]*match.Match, m *match.Match) error {
		return e.cancelUnsafe(ctx, req.Guild, ms, m, req.Responder)
	})
}

func (e *Engine) onSettledWithoutChange(req verify.Request, outcome verify.Outcome) {
	e.settled(req, outcome, func(context.Context, map[uuid.UUID]*match.Match, *match.Match) error {
		return nil
	})
}
