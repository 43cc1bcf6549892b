// internal/store/redis.go
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/redis/go-redis/v9"
)

// Redis stores each guild as one hash: field = document key, value = JSON.
type Redis struct {
	rdb    *redis.Client
	prefix string
}

// NewRedis wraps an already connected client. Hash names are prefix + guild.
func NewRedis(rdb *redis.Client, prefix string) *Redis {
	if prefix == "" {
		prefix = "ladder:guild:"
	}
	return &Redis{rdb: rdb, prefix: prefix}
}

func (r *Redis) hash(guild string) string {
	return r.prefix + guild
}

func (r *Redis) Get(ctx context.Context, guild, key string, out any) (bool, error) {
	data, err := r.rdb.HGet(ctx, r.hash(guild), key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("redis HGET %s %s: %w", r.hash(guild), key, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("decode %s/%s: %w", guild, key, err)
	}
	return true, nil
}

func (r *Redis) Set(ctx context.Context, guild, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", guild, key, err)
	}
	if err := r.rdb.HSet(ctx, r.hash(guild), key, data).Err(); err != nil {
		return fmt.Errorf("redis HSET %s %s: %w", r.hash(guild), key, err)
	}
	return nil
}

func (r *Redis) Guilds(ctx context.Context) ([]string, error) {
	var out []string
	iter := r.rdb.Scan(ctx, 0, r.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		out = append(out, strings.TrimPrefix(iter.Val(), r.prefix))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis SCAN %s*: %w", r.prefix, err)
	}
	sort.Strings(out)
	return out, nil
}

func (r *Redis) Close() error {
	return r.rdb.Close()
}
