// internal/queue/queue.go
package queue

import (
	"fmt"
	"math/rand"
	"slices"
	"sync"
	"time"

	"github.com/jason-s-yu/ladder/internal/match"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
)

// Config describes one pickup queue.
type Config struct {
	ID       string  `json:"id"`
	TeamSize int     `json:"team_size"`
	MaxSize  int     `json:"max_size,omitempty"`
	Policy   Policy  `json:"policy"`
	K        float64 `json:"k"`
}

// Capacity is the number of waiting participants that forms a match.
func (c Config) Capacity() int {
	if c.MaxSize > 0 {
		return c.MaxSize
	}
	return c.TeamSize * 2
}

// Validate checks that the queue can form two equal sides.
func (c Config) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("queue id is empty")
	}
	if c.TeamSize < 1 {
		return fmt.Errorf("queue %s: team size must be at least 1", c.ID)
	}
	if n := c.Capacity(); n < 2 || n%2 != 0 {
		return fmt.Errorf("queue %s: capacity %d cannot be split into two sides", c.ID, n)
	}
	if _, ok := policies[c.Policy]; !ok {
		return fmt.Errorf("queue %s: unknown policy %q", c.ID, c.Policy)
	}
	return nil
}

// ActiveChecker reports whether a participant is already playing.
type ActiveChecker interface {
	InMatch(participant string) bool
}

// Status is the public view of a queue.
type Status struct {
	Queue    string   `json:"queue"`
	Waiting  []string `json:"waiting"`
	Capacity int      `json:"capacity"`
}

// Formation is the set of participants drained from a full queue.
type Formation struct {
	Guild        string   `json:"guild"`
	Queue        Config   `json:"queue"`
	Participants []string `json:"participants"`
}

// Manager holds the waiting pools of every guild. All pool mutation happens
// under one mutex, so a participant is drained at most once.
type Manager struct {
	mu      sync.Mutex
	configs map[string]Config
	order   []string
	pools   map[string]map[string][]string // guild -> queue -> waiting
	rng     *rand.Rand
	logger  logrus.FieldLogger
}

// NewManager creates a manager for the given queues.
func NewManager(configs []Config, logger logrus.FieldLogger) (*Manager, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	m := &Manager{
		configs: make(map[string]Config, len(configs)),
		pools:   make(map[string]map[string][]string),
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		logger:  logger,
	}
	for _, c := range configs {
		if err := c.Validate(); err != nil {
			return nil, err
		}
		if _, dup := m.configs[c.ID]; dup {
			return nil, fmt.Errorf("queue %s configured twice", c.ID)
		}
		m.configs[c.ID] = c
		m.order = append(m.order, c.ID)
	}
	return m, nil
}

// Seed makes team assignment deterministic. Used by tests.
func (m *Manager) Seed(seed int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rng = rand.New(rand.NewSource(seed))
}

// Queues returns the configured queues in configuration order.
func (m *Manager) Queues() []Config {
	return lo.Map(m.order, func(id string, _ int) Config { return m.configs[id] })
}

// Config returns the configuration of queueID.
func (m *Manager) Config(queueID string) (Config, error) {
	c, ok := m.configs[queueID]
	if !ok {
		return Config{}, match.NewErrorf(match.NotFound, "there is no queue called %s", queueID)
	}
	return c, nil
}

func (m *Manager) guildPoolsUnsafe(guild string) map[string][]string {
	p, ok := m.pools[guild]
	if !ok {
		p = make(map[string][]string)
		m.pools[guild] = p
	}
	return p
}

// Enqueue adds participant to the queue. When the queue reaches capacity it
// is drained FIFO and the drained participants are returned as a Formation.
// Drained participants are also removed from every other queue of the guild.
func (m *Manager) Enqueue(guild, queueID, participant string, active ActiveChecker) (Status, *Formation, error) {
	cfg, err := m.Config(queueID)
	if err != nil {
		return Status{}, nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	pools := m.guildPoolsUnsafe(guild)
	for id, waiting := range pools {
		if slices.Contains(waiting, participant) {
			if id == queueID {
				return Status{}, nil, match.ErrAlreadyQueued
			}
			return Status{}, nil, match.NewErrorf(match.AlreadyQueued, "you are already waiting in the %s queue", id)
		}
	}
	if active != nil && active.InMatch(participant) {
		return Status{}, nil, match.ErrAlreadyInMatch
	}

	pools[queueID] = append(pools[queueID], participant)

	var formation *Formation
	if capacity := cfg.Capacity(); len(pools[queueID]) == capacity {
		drained := slices.Clone(pools[queueID][:capacity])
		pools[queueID] = slices.Clone(pools[queueID][capacity:])
		for id := range pools {
			pools[id] = lo.Without(pools[id], drained...)
		}
		formation = &Formation{Guild: guild, Queue: cfg, Participants: drained}

		m.logger.WithFields(logrus.Fields{
			"guild": guild,
			"queue": queueID,
		}).Infof("queue full, forming match with %d participants", capacity)
	}

	return m.statusUnsafe(guild, cfg), formation, nil
}

// Dequeue removes participant from the queue.
func (m *Manager) Dequeue(guild, queueID, participant string) (Status, error) {
	cfg, err := m.Config(queueID)
	if err != nil {
		return Status{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	pools := m.guildPoolsUnsafe(guild)
	if !slices.Contains(pools[queueID], participant) {
		return Status{}, match.ErrNotQueued
	}
	pools[queueID] = lo.Without(pools[queueID], participant)
	return m.statusUnsafe(guild, cfg), nil
}

// RemoveEverywhere drops participant from every queue of the guild and
// returns the queues it was removed from.
func (m *Manager) RemoveEverywhere(guild, participant string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var removed []string
	pools := m.guildPoolsUnsafe(guild)
	for id, waiting := range pools {
		if slices.Contains(waiting, participant) {
			pools[id] = lo.Without(waiting, participant)
			removed = append(removed, id)
		}
	}
	slices.Sort(removed)
	return removed
}

// Waiting returns the status of the queue.
func (m *Manager) Waiting(guild, queueID string) (Status, error) {
	cfg, err := m.Config(queueID)
	if err != nil {
		return Status{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statusUnsafe(guild, cfg), nil
}

// Clear empties the queue.
func (m *Manager) Clear(guild, queueID string) error {
	if _, err := m.Config(queueID); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.guildPoolsUnsafe(guild), queueID)
	return nil
}

// Snapshot returns a copy of the guild's waiting pools, keyed by queue id.
func (m *Manager) Snapshot(guild string) map[string][]string {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string][]string)
	for id, waiting := range m.pools[guild] {
		if len(waiting) > 0 {
			out[id] = slices.Clone(waiting)
		}
	}
	return out
}

// Restore replaces the guild's waiting pools with a snapshot. Unknown queues
// are skipped, as are pools that would already be full.
func (m *Manager) Restore(guild string, pools map[string][]string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	restored := make(map[string][]string, len(pools))
	for id, waiting := range pools {
		cfg, ok := m.configs[id]
		if !ok {
			m.logger.WithField("guild", guild).Warnf("dropping snapshot of unknown queue %s", id)
			continue
		}
		waiting = lo.Uniq(waiting)
		if len(waiting) >= cfg.Capacity() {
			m.logger.WithField("guild", guild).Warnf("dropping over-full snapshot of queue %s", id)
			continue
		}
		restored[id] = slices.Clone(waiting)
	}
	m.pools[guild] = restored
}

func (m *Manager) statusUnsafe(guild string, cfg Config) Status {
	return Status{
		Queue:    cfg.ID,
		Waiting:  append([]string{}, m.pools[guild][cfg.ID]...),
		Capacity: cfg.Capacity(),
	}
}
