// internal/store/store.go
package store

import (
	"context"
	"errors"
)

// Document keys persisted per guild.
const (
	KeyParticipants = "participants"
	KeyMatches      = "matches"
	KeyHistory      = "history"
	KeyQueues       = "queues"
)

// ErrClosed is returned by a store used after Close.
var ErrClosed = errors.New("store: closed")

// Documents is a guild-scoped JSON document store. Each document is read and
// written whole; callers serialise read-modify-write cycles per guild.
type Documents interface {
	// Get decodes the document into out. It reports false if the document
	// does not exist, leaving out untouched.
	Get(ctx context.Context, guild, key string, out any) (bool, error)
	// Set replaces the document with the JSON encoding of value.
	Set(ctx context.Context, guild, key string, value any) error
	// Guilds lists every guild with at least one document.
	Guilds(ctx context.Context) ([]string, error)
	Close() error
}
