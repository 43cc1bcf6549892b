// internal/cache/redis.go
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultQueueName is the Redis list the historian consumes.
const DefaultQueueName = "ladder_match_events"

// MatchEvent is one lifecycle step of a match, as consumed by the historian.
type MatchEvent struct {
	MatchID   uuid.UUID      `json:"match_id"`
	Guild     string         `json:"guild"`
	Seq       int64          `json:"seq"`
	Type      string         `json:"type"`
	Actor     string         `json:"actor,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp int64          `json:"timestamp"`
}

// Connect creates a client for addr/db and pings it.
func Connect(ctx context.Context, addr string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}
	return rdb, nil
}

// Publisher appends match events to a Redis list.
type Publisher struct {
	rdb   *redis.Client
	queue string
}

// NewPublisher publishes to queue, or DefaultQueueName when empty.
func NewPublisher(rdb *redis.Client, queue string) *Publisher {
	if queue == "" {
		queue = DefaultQueueName
	}
	return &Publisher{rdb: rdb, queue: queue}
}

// Queue returns the list name events are pushed to.
func (p *Publisher) Queue() string {
	return p.queue
}

func seqKey(matchID uuid.UUID) string {
	return "ladder:seq:" + matchID.String()
}

// Publish assigns the next sequence number of the match to ev, serialises it
// and RPUSHes it to the queue. Timestamp defaults to now.
func (p *Publisher) Publish(ctx context.Context, ev MatchEvent) error {
	seq, err := p.rdb.Incr(ctx, seqKey(ev.MatchID)).Result()
	if err != nil {
		return fmt.Errorf("failed to allocate event sequence: %w", err)
	}
	ev.Seq = seq
	if ev.Timestamp == 0 {
		ev.Timestamp = time.Now().UnixMilli()
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal MatchEvent: %w", err)
	}
	pipe := p.rdb.TxPipeline()
	pipe.RPush(ctx, p.queue, data)
	pipe.Expire(ctx, seqKey(ev.MatchID), 7*24*time.Hour)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to RPush to Redis list '%s': %w", p.queue, err)
	}
	return nil
}

// Next blocks up to timeout for the next event on the queue. It returns
// (nil, nil) when the wait times out.
func Next(ctx context.Context, rdb *redis.Client, queue string, timeout time.Duration) (*MatchEvent, error) {
	res, err := rdb.BLPop(ctx, timeout, queue).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(res) < 2 {
		return nil, fmt.Errorf("unexpected BLPOP reply of length %d", len(res))
	}
	var ev MatchEvent
	if err := json.Unmarshal([]byte(res[1]), &ev); err != nil {
		return nil, fmt.Errorf("invalid event JSON: %w", err)
	}
	return &ev, nil
}

// Consumer pops match events off a queue.
type Consumer struct {
	rdb     *redis.Client
	queue   string
	timeout time.Duration
}

// NewConsumer reads from queue, or DefaultQueueName when empty, waiting up
// to timeout per call so that cancellation is noticed.
func NewConsumer(rdb *redis.Client, queue string, timeout time.Duration) *Consumer {
	if queue == "" {
		queue = DefaultQueueName
	}
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Consumer{rdb: rdb, queue: queue, timeout: timeout}
}

// Next returns the next event, or nil if none arrived in time.
func (c *Consumer) Next(ctx context.Context) (*MatchEvent, error) {
	return Next(ctx, c.rdb, c.queue, c.timeout)
}
