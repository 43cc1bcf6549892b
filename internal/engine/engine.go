// internal/engine/engine.go
package engine

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/ladder/internal/cache"
	"github.com/jason-s-yu/ladder/internal/match"
	"github.com/jason-s-yu/ladder/internal/metrics"
	"github.com/jason-s-yu/ladder/internal/notify"
	"github.com/jason-s-yu/ladder/internal/queue"
	"github.com/jason-s-yu/ladder/internal/rating"
	"github.com/jason-s-yu/ladder/internal/store"
	"github.com/jason-s-yu/ladder/internal/verify"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
)

// Match event types written to the event log.
const (
	EventFormed        = "formed"
	EventPicked        = "picked"
	EventStartProposed = "start_proposed"
	EventStarted       = "started"
	EventReported      = "reported"
	EventForced        = "forced"
	EventReportDropped = "report_dropped"
	EventCompleted     = "completed"
	EventCancelled     = "cancelled"
	EventVerification  = "verification"
)

// EventPublisher receives match lifecycle events.
type EventPublisher interface {
	Publish(ctx context.Context, ev cache.MatchEvent) error
}

// Options tunes the engine's rules.
type Options struct {
	// Calculator supplies the rating scale; K comes from each match.
	Calculator    rating.Calculator
	LadderK       float64
	InitialRating int

	MinMatchDuration time.Duration
	StartTimeout     time.Duration
	ResultTimeout    time.Duration

	// Admins may act as the override identity in verification by id, in
	// addition to callers authenticated as admin.
	Admins []string
}

// Config wires the engine's collaborators. Repo and Queues are required.
type Config struct {
	Repo     *store.Repository
	Queues   *queue.Manager
	Rooms    *match.RoomGenerator
	Notifier notify.Notifier
	Events   EventPublisher
	Metrics  *metrics.Metrics
	Logger   *logrus.Logger
	Options  Options
}

// Engine runs the match lifecycle for every guild. Every operation is a full
// load-mutate-save cycle on the guild's documents under that guild's lock.
type Engine struct {
	repo     *store.Repository
	queues   *queue.Manager
	verify   *verify.Workflow
	rooms    *match.RoomGenerator
	notifier notify.Notifier
	events   EventPublisher
	metrics  *metrics.Metrics
	logger   *logrus.Logger
	opts     Options
	now      func() time.Time

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// New creates an engine from cfg, filling unset options with defaults.
func New(cfg Config) *Engine {
	opts := cfg.Options
	if opts.Calculator.Scale <= 0 || opts.Calculator.K <= 0 {
		opts.Calculator = rating.NewCalculator(opts.Calculator.K, opts.Calculator.Scale)
	}
	if opts.LadderK <= 0 {
		opts.LadderK = 40
	}
	if opts.InitialRating <= 0 {
		opts.InitialRating = rating.DefaultRating
	}
	if opts.StartTimeout <= 0 {
		opts.StartTimeout = 5 * time.Minute
	}
	if opts.ResultTimeout <= 0 {
		opts.ResultTimeout = 5 * time.Minute
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	m := cfg.Metrics
	if m == nil {
		m = metrics.New()
	}
	rooms := cfg.Rooms
	if rooms == nil {
		rooms = match.NewRoomGenerator(nil, 0)
	}
	n := cfg.Notifier
	if n == nil {
		n = notify.Fanout{}
	}

	wf := verify.New(logger)
	admins := lo.Uniq(opts.Admins)
	wf.Overrides = func(who string) bool { return lo.Contains(admins, who) }

	return &Engine{
		repo:     cfg.Repo,
		queues:   cfg.Queues,
		verify:   wf,
		rooms:    rooms,
		notifier: n,
		events:   cfg.Events,
		metrics:  m,
		logger:   logger,
		opts:     opts,
		now:      time.Now,
		locks:    make(map[string]*sync.Mutex),
	}
}

// Verification exposes the workflow, for delivery adapters that look up
// pending prompts.
func (e *Engine) Verification() *verify.Workflow {
	return e.verify
}

// Queues exposes the queue configuration.
func (e *Engine) Queues() []queue.Config {
	return e.queues.Queues()
}

// lock serialises all state changes of guild. The returned func unlocks.
func (e *Engine) lock(guild string) func() {
	e.locksMu.Lock()
	mu, ok := e.locks[guild]
	if !ok {
		mu = &sync.Mutex{}
		e.locks[guild] = mu
	}
	e.locksMu.Unlock()

	mu.Lock()
	return mu.Unlock
}

// observe records latency and error codes of an operation. Use with a named
// error result: defer e.observe("op", time.Now(), &err).
func (e *Engine) observe(op string, start time.Time, err *error) {
	e.metrics.OperationLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err == nil || *err == nil {
		return
	}
	code, ok := match.CodeOf(*err)
	label := "internal"
	if ok {
		label = code.String()
	} else {
		e.logger.WithError(*err).WithField("operation", op).Error("operation failed")
	}
	e.metrics.OperationErrors.WithLabelValues(op, label).Inc()
}

func (e *Engine) log(guild string, m *match.Match) *logrus.Entry {
	fields := logrus.Fields{"guild": guild}
	if m != nil {
		fields["match"] = m.ID
		fields["queue"] = m.Queue
	}
	return e.logger.WithFields(fields)
}

// emit publishes a match event. Failures are logged; the event log is not
// authoritative.
func (e *Engine) emit(ctx context.Context, m *match.Match, typ, actor string, payload map[string]any) {
	if e.events == nil {
		return
	}
	ev := cache.MatchEvent{
		MatchID:   m.ID,
		Guild:     m.Guild,
		Type:      typ,
		Actor:     actor,
		Payload:   payload,
		Timestamp: e.now().UnixMilli(),
	}
	if err := e.events.Publish(ctx, ev); err != nil {
		e.log(m.Guild, m).WithError(err).Warn("failed to publish match event")
	}
}

func (e *Engine) notify(ctx context.Context, n notify.Notification) {
	if err := e.notifier.Notify(ctx, n); err != nil {
		e.logger.WithError(err).WithFields(logrus.Fields{
			"guild":    n.Guild,
			"template": n.Template,
		}).Warn("notification delivery failed")
	}
}

func (e *Engine) notifyEach(ctx context.Context, guild string, recipients []string, template string, args map[string]any) {
	for _, r := range recipients {
		e.notify(ctx, notify.Notification{Guild: guild, Recipient: r, Template: template, Args: args})
	}
}

// activeSet reports participants of active matches.
type activeSet map[string]uuid.UUID

func (a activeSet) InMatch(id string) bool {
	_, ok := a[id]
	return ok
}

func activeParticipants(ms map[uuid.UUID]*match.Match) activeSet {
	out := activeSet{}
	for _, m := range ms {
		if !m.IsActive() {
			continue
		}
		for _, p := range m.Participants() {
			out[p] = m.ID
		}
	}
	return out
}

func (e *Engine) loadMatch(ctx context.Context, guild string, id uuid.UUID) (map[uuid.UUID]*match.Match, *match.Match, error) {
	ms, err := e.repo.Matches(ctx, guild)
	if err != nil {
		return nil, nil, err
	}
	m, ok := ms[id]
	if !ok {
		return nil, nil, match.NewErrorf(match.NotFound, "there is no active match %s", id)
	}
	return ms, m, nil
}

// saveMatches persists ms, archiving terminal matches first.
func (e *Engine) saveMatches(ctx context.Context, guild string, ms map[uuid.UUID]*match.Match) error {
	var archived []store.HistoryEntry
	for _, m := range ms {
		if !m.IsActive() {
			archived = append(archived, store.Archive(m))
		}
	}
	sort.Slice(archived, func(i, j int) bool { return archived[i].EndedAt.Before(archived[j].EndedAt) })
	if err := e.repo.AppendHistory(ctx, guild, archived...); err != nil {
		return err
	}
	if err := e.repo.SaveMatches(ctx, guild, ms); err != nil {
		return err
	}
	active := len(lo.Filter(lo.Values(ms), func(m *match.Match, _ int) bool { return m.IsActive() }))
	e.metrics.ActiveMatches.WithLabelValues(guild).Set(float64(active))
	for _, h := range archived {
		e.metrics.MatchesFinished.WithLabelValues(h.Queue, string(h.State)).Inc()
	}
	return nil
}

func matchArgs(m *match.Match) map[string]any {
	return map[string]any{
		"match":     m.ID.String(),
		"queue":     m.Queue,
		"side_a":    m.SideA.Members,
		"side_b":    m.SideB.Members,
		"room_name": m.RoomName,
		"room_pass": m.RoomPass,
		"state":     string(m.State),
	}
}
