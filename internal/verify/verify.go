// internal/verify/verify.go
package verify

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/ladder/internal/match"
	"github.com/sirupsen/logrus"
)

// Payload names what a request asks the responder to confirm.
type Payload string

const (
	PayloadStart  Payload = "start"
	PayloadResult Payload = "result"
	PayloadCancel Payload = "cancel"
)

// Outcome is how a request was settled.
type Outcome int

const (
	Pending Outcome = iota
	Approved
	Rejected
	TimedOut
)

func (o Outcome) String() string {
	switch o {
	case Approved:
		return "approved"
	case Rejected:
		return "rejected"
	case TimedOut:
		return "timed_out"
	}
	return "pending"
}

// Request is an outstanding confirmation.
type Request struct {
	ID        uuid.UUID `json:"id"`
	Guild     string    `json:"guild"`
	MatchID   uuid.UUID `json:"match_id"`
	Proposer  string    `json:"proposer"`
	Responder string    `json:"responder"`
	Payload   Payload   `json:"payload"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Proposal describes a new request. OnApproved runs when the responder
// approves; OnRollback runs on rejection or timeout. Either may be nil.
type Proposal struct {
	Guild     string
	MatchID   uuid.UUID
	Proposer  string
	Responder string
	Payload   Payload
	Timeout   time.Duration

	OnApproved func(Request)
	OnRollback func(Request, Outcome)
}

// Handle tracks one request until it is settled.
type Handle struct {
	Request Request

	done       chan struct{}
	outcome    Outcome
	timer      *time.Timer
	onApproved func(Request)
	onRollback func(Request, Outcome)
}

// Done is closed once the request is settled and its continuation has run.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Outcome returns the settled outcome, or Pending.
func (h *Handle) Outcome() Outcome {
	select {
	case <-h.done:
		return h.outcome
	default:
		return Pending
	}
}

// Wait blocks until the request is settled or ctx ends.
func (h *Handle) Wait(ctx context.Context) (Outcome, error) {
	select {
	case <-h.done:
		return h.outcome, nil
	case <-ctx.Done():
		return Pending, ctx.Err()
	}
}

// Workflow holds the outstanding requests of every match, at most one per match.
type Workflow struct {
	// Overrides reports whether who may settle any request (league staff).
	Overrides func(who string) bool

	mu      sync.Mutex
	pending map[uuid.UUID]*Handle
	logger  logrus.FieldLogger
	now     func() time.Time
}

// New creates an empty workflow.
func New(logger logrus.FieldLogger) *Workflow {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Workflow{
		pending: make(map[uuid.UUID]*Handle),
		logger:  logger,
		now:     time.Now,
	}
}

// Propose opens a request and starts its timeout.
func (w *Workflow) Propose(p Proposal) (*Handle, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.pending[p.MatchID]; ok {
		return nil, match.ErrVerificationInProgress
	}
	now := w.now()
	h := &Handle{
		Request: Request{
			ID:        uuid.New(),
			Guild:     p.Guild,
			MatchID:   p.MatchID,
			Proposer:  p.Proposer,
			Responder: p.Responder,
			Payload:   p.Payload,
			CreatedAt: now,
			ExpiresAt: now.Add(p.Timeout),
		},
		done:       make(chan struct{}),
		onApproved: p.OnApproved,
		onRollback: p.OnRollback,
	}
	w.pending[p.MatchID] = h
	h.timer = time.AfterFunc(p.Timeout, func() {
		w.settle(h, TimedOut)
	})

	w.logger.WithFields(logrus.Fields{
		"guild":     p.Guild,
		"match":     p.MatchID,
		"payload":   p.Payload,
		"responder": p.Responder,
	}).Debug("verification proposed")
	return h, nil
}

// Respond settles the outstanding request of matchID if who is its responder
// or an override identity. Responses from anyone else are ignored and false
// is returned.
func (w *Workflow) Respond(matchID uuid.UUID, who string, approve bool) bool {
	w.mu.Lock()
	h, ok := w.pending[matchID]
	allowed := ok && (h.Request.Responder == who || (w.Overrides != nil && w.Overrides(who)))
	w.mu.Unlock()
	if !allowed {
		return false
	}
	return w.settle(h, outcomeOf(approve))
}

// Override settles the outstanding request of matchID on behalf of an
// already-authorised administrator.
func (w *Workflow) Override(matchID uuid.UUID, approve bool) bool {
	w.mu.Lock()
	h, ok := w.pending[matchID]
	w.mu.Unlock()
	if !ok {
		return false
	}
	return w.settle(h, outcomeOf(approve))
}

// Abandon times out the outstanding request of matchID immediately, as when
// the responder has left.
func (w *Workflow) Abandon(matchID uuid.UUID) bool {
	w.mu.Lock()
	h, ok := w.pending[matchID]
	w.mu.Unlock()
	if !ok {
		return false
	}
	return w.settle(h, TimedOut)
}

// Pending returns the outstanding request of matchID.
func (w *Workflow) Pending(matchID uuid.UUID) (Request, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	h, ok := w.pending[matchID]
	if !ok {
		return Request{}, false
	}
	return h.Request, true
}

// Outstanding returns every unsettled request.
func (w *Workflow) Outstanding() []Request {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]Request, 0, len(w.pending))
	for _, h := range w.pending {
		out = append(out, h.Request)
	}
	return out
}

// RespondersAwaiting returns the matches whose outstanding request waits on who.
func (w *Workflow) RespondersAwaiting(who string) []uuid.UUID {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []uuid.UUID
	for id, h := range w.pending {
		if h.Request.Responder == who {
			out = append(out, id)
		}
	}
	return out
}

func outcomeOf(approve bool) Outcome {
	if approve {
		return Approved
	}
	return Rejected
}

// settle applies outcome to h exactly once. The continuation runs on the
// settling goroutine without the workflow lock held, then Done is closed.
func (w *Workflow) settle(h *Handle, outcome Outcome) bool {
	w.mu.Lock()
	if h.outcome != Pending || w.pending[h.Request.MatchID] != h {
		w.mu.Unlock()
		return false
	}
	h.outcome = outcome
	h.timer.Stop()
	delete(w.pending, h.Request.MatchID)
	w.mu.Unlock()

	w.logger.WithFields(logrus.Fields{
		"guild":   h.Request.Guild,
		"match":   h.Request.MatchID,
		"payload": h.Request.Payload,
		"outcome": outcome,
	}).Info("verification settled")

	defer close(h.done)
	if outcome == Approved {
		if h.onApproved != nil {
			h.onApproved(h.Request)
		}
		return true
	}
	if h.onRollback != nil {
		h.onRollback(h.Request, outcome)
	}
	return true
}
