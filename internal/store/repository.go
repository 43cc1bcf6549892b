// internal/store/repository.go
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/ladder/internal/match"
	"github.com/jason-s-yu/ladder/internal/models"
	"github.com/jason-s-yu/ladder/internal/rating"
)

// DefaultHistoryLimit bounds the archived matches kept per guild.
const DefaultHistoryLimit = 500

// HistoryEntry is an archived terminal match.
type HistoryEntry struct {
	MatchID uuid.UUID       `json:"match_id"`
	Queue   string          `json:"queue"`
	SideA   []string        `json:"sideA"`
	SideB   []string        `json:"sideB"`
	State   match.State     `json:"state"`
	WinsA   int             `json:"winsA"`
	WinsB   int             `json:"winsB"`
	Forced  bool            `json:"forced,omitempty"`
	Changes []rating.Change `json:"changes,omitempty"`
	EndedAt time.Time       `json:"endedAt"`
}

// Archive summarises a terminal match for the history document.
func Archive(m *match.Match) HistoryEntry {
	return HistoryEntry{
		MatchID: m.ID,
		Queue:   m.Queue,
		SideA:   m.SideA.Members,
		SideB:   m.SideB.Members,
		State:   m.State,
		WinsA:   m.WinsA,
		WinsB:   m.WinsB,
		Forced:  m.Reported != nil && m.Reported.Forced,
		Changes: m.Changes,
		EndedAt: m.EndedAt,
	}
}

// Repository gives typed access to a guild's documents.
type Repository struct {
	docs         Documents
	historyLimit int
}

// NewRepository wraps docs. historyLimit <= 0 uses DefaultHistoryLimit.
func NewRepository(docs Documents, historyLimit int) *Repository {
	if historyLimit <= 0 {
		historyLimit = DefaultHistoryLimit
	}
	return &Repository{docs: docs, historyLimit: historyLimit}
}

// Guilds lists guilds with persisted state.
func (r *Repository) Guilds(ctx context.Context) ([]string, error) {
	return r.docs.Guilds(ctx)
}

// Participants loads the guild's participants keyed by id.
func (r *Repository) Participants(ctx context.Context, guild string) (map[string]models.Participant, error) {
	out := map[string]models.Participant{}
	if _, err := r.docs.Get(ctx, guild, KeyParticipants, &out); err != nil {
		return nil, fmt.Errorf("load participants: %w", err)
	}
	for id, p := range out {
		p.ID = id
		out[id] = p
	}
	return out, nil
}

// SaveParticipants replaces the guild's participants.
func (r *Repository) SaveParticipants(ctx context.Context, guild string, ps map[string]models.Participant) error {
	if err := r.docs.Set(ctx, guild, KeyParticipants, ps); err != nil {
		return fmt.Errorf("save participants: %w", err)
	}
	return nil
}

// Matches loads the guild's active matches.
func (r *Repository) Matches(ctx context.Context, guild string) (map[uuid.UUID]*match.Match, error) {
	out := map[uuid.UUID]*match.Match{}
	if _, err := r.docs.Get(ctx, guild, KeyMatches, &out); err != nil {
		return nil, fmt.Errorf("load matches: %w", err)
	}
	return out, nil
}

// SaveMatches replaces the guild's active matches. Terminal matches are
// dropped from the document; archive them with AppendHistory first.
func (r *Repository) SaveMatches(ctx context.Context, guild string, ms map[uuid.UUID]*match.Match) error {
	active := make(map[uuid.UUID]*match.Match, len(ms))
	for id, m := range ms {
		if m.IsActive() {
			active[id] = m
		}
	}
	if err := r.docs.Set(ctx, guild, KeyMatches, active); err != nil {
		return fmt.Errorf("save matches: %w", err)
	}
	return nil
}

// History loads archived matches, oldest first.
func (r *Repository) History(ctx context.Context, guild string) ([]HistoryEntry, error) {
	var out []HistoryEntry
	if _, err := r.docs.Get(ctx, guild, KeyHistory, &out); err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	return out, nil
}

// AppendHistory archives entries, discarding the oldest beyond the limit.
func (r *Repository) AppendHistory(ctx context.Context, guild string, entries ...HistoryEntry) error {
	if len(entries) == 0 {
		return nil
	}
	history, err := r.History(ctx, guild)
	if err != nil {
		return err
	}
	history = append(history, entries...)
	if over := len(history) - r.historyLimit; over > 0 {
		history = history[over:]
	}
	if err := r.docs.Set(ctx, guild, KeyHistory, history); err != nil {
		return fmt.Errorf("save history: %w", err)
	}
	return nil
}

// Queues loads the guild's waiting pool snapshot.
func (r *Repository) Queues(ctx context.Context, guild string) (map[string][]string, error) {
	out := map[string][]string{}
	if _, err := r.docs.Get(ctx, guild, KeyQueues, &out); err != nil {
		return nil, fmt.Errorf("load queues: %w", err)
	}
	return out, nil
}

// SaveQueues replaces the guild's waiting pool snapshot.
func (r *Repository) SaveQueues(ctx context.Context, guild string, pools map[string][]string) error {
	if err := r.docs.Set(ctx, guild, KeyQueues, pools); err != nil {
		return fmt.Errorf("save queues: %w", err)
	}
	return nil
}
