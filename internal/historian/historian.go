// Package historian moves match events from the event queue into the
// match_events table in batches.
package historian

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/ladder/internal/cache"
	"github.com/jason-s-yu/ladder/internal/database"
	"github.com/jason-s-yu/ladder/internal/engine"
	"github.com/sirupsen/logrus"
)

// Source yields the next queued event, or nil when none arrived in time.
type Source interface {
	Next(ctx context.Context) (*cache.MatchEvent, error)
}

// Sink persists a batch of rows.
type Sink func(ctx context.Context, rows []database.MatchEventRow) error

// Config tunes batching.
type Config struct {
	BatchSize  int
	FlushEvery time.Duration
	// Idle is how long a match may go without events before it is reported
	// as stuck. Zero disables the check.
	Idle time.Duration
}

// Historian batches events from a Source into a Sink.
type Historian struct {
	src    Source
	sink   Sink
	cfg    Config
	logger logrus.FieldLogger
	now    func() time.Time

	mu       sync.Mutex
	batch    []database.MatchEventRow
	lastSeen map[uuid.UUID]time.Time
}

// New creates a historian.
func New(src Source, sink Sink, cfg Config, logger logrus.FieldLogger) *Historian {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 20
	}
	if cfg.FlushEvery <= 0 {
		cfg.FlushEvery = 500 * time.Millisecond
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Historian{
		src:      src,
		sink:     sink,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
		lastSeen: make(map[uuid.UUID]time.Time),
	}
}

// Run consumes events until ctx is cancelled, then flushes what is left.
func (h *Historian) Run(ctx context.Context) error {
	ticker := time.NewTicker(h.cfg.FlushEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return h.Flush(flushCtx)

		case <-ticker.C:
			if err := h.Flush(ctx); err != nil {
				h.logger.WithError(err).Error("failed to flush match events")
			}
			h.SweepIdle()

		default:
			ev, err := h.src.Next(ctx)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					continue
				}
				h.logger.WithError(err).Error("failed to read match event")
				continue
			}
			if ev == nil {
				continue
			}
			if err := h.Add(ctx, *ev); err != nil {
				h.logger.WithError(err).Error("failed to flush match events")
			}
		}
	}
}

// Add queues ev and flushes when the batch is full.
func (h *Historian) Add(ctx context.Context, ev cache.MatchEvent) error {
	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		return err
	}
	if ev.Payload == nil {
		payload = nil
	}
	row := database.MatchEventRow{
		MatchID:   ev.MatchID,
		Seq:       int(ev.Seq),
		Guild:     ev.Guild,
		Type:      ev.Type,
		Actor:     ev.Actor,
		Payload:   payload,
		CreatedAt: time.UnixMilli(ev.Timestamp).UTC(),
	}

	h.mu.Lock()
	h.batch = append(h.batch, row)
	switch ev.Type {
	case engine.EventCompleted, engine.EventCancelled:
		delete(h.lastSeen, ev.MatchID)
	default:
		h.lastSeen[ev.MatchID] = h.now()
	}
	full := len(h.batch) >= h.cfg.BatchSize
	h.mu.Unlock()

	if full {
		return h.Flush(ctx)
	}
	return nil
}

// Flush writes the current batch. A failed batch is kept for the next flush.
func (h *Historian) Flush(ctx context.Context) error {
	h.mu.Lock()
	rows := h.batch
	h.batch = nil
	h.mu.Unlock()

	if len(rows) == 0 {
		return nil
	}
	if err := h.sink(ctx, rows); err != nil {
		h.mu.Lock()
		h.batch = append(rows, h.batch...)
		h.mu.Unlock()
		return err
	}
	h.logger.Debugf("flushed %d match events", len(rows))
	return nil
}

// Pending returns how many events wait for the next flush.
func (h *Historian) Pending() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.batch)
}

// SweepIdle reports and forgets matches that have been silent for longer
// than the idle threshold without finishing.
func (h *Historian) SweepIdle() []uuid.UUID {
	if h.cfg.Idle <= 0 {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	var idle []uuid.UUID
	now := h.now()
	for id, last := range h.lastSeen {
		if now.Sub(last) > h.cfg.Idle {
			idle = append(idle, id)
			delete(h.lastSeen, id)
			h.logger.WithField("match", id).Warn("match has had no events and never finished")
		}
	}
	return idle
}
