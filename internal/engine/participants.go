// internal/engine/participants.go
package engine

import (
	"context"
	"time"

	"github.com/jason-s-yu/ladder/internal/match"
	"github.com/jason-s-yu/ladder/internal/models"
)

// Register creates a participant at the initial rating, or updates the name
// and tier of an existing one. An empty name or tier keeps the current value.
// Ratings are never changed here.
func (e *Engine) Register(ctx context.Context, guild, id, name, tier string) (p models.Participant, err error) {
	defer e.observe("register", time.Now(), &err)
	if id == "" {
		return models.Participant{}, match.NewError(match.NotFound, "a participant id is required")
	}
	unlock := e.lock(guild)
	defer unlock()

	ps, err := e.repo.Participants(ctx, guild)
	if err != nil {
		return models.Participant{}, err
	}
	p, ok := ps[id]
	if !ok {
		p = models.Participant{ID: id, Rating: e.opts.InitialRating, Seq: nextSeq(ps)}
	}
	if name != "" {
		p.Name = name
	}
	if p.Name == "" {
		p.Name = id
	}
	if tier != "" {
		p.Tier = tier
	}
	ps[id] = p
	if err := e.repo.SaveParticipants(ctx, guild, ps); err != nil {
		return models.Participant{}, err
	}
	return p, nil
}

// Participant returns a registered participant.
func (e *Engine) Participant(ctx context.Context, guild, id string) (models.Participant, error) {
	unlock := e.lock(guild)
	defer unlock()

	ps, err := e.repo.Participants(ctx, guild)
	if err != nil {
		return models.Participant{}, err
	}
	p, ok := ps[id]
	if !ok {
		return models.Participant{}, match.NewErrorf(match.NotFound, "%s is not registered", id)
	}
	return p, nil
}

func (e *Engine) ratingsOf(ps map[string]models.Participant, ids []string) map[string]int {
	out := make(map[string]int, len(ids))
	for _, id := range ids {
		if p, ok := ps[id]; ok {
			out[id] = p.Rating
		} else {
			out[id] = e.opts.InitialRating
		}
	}
	return out
}

// nextSeq returns the registration sequence number for a new participant.
func nextSeq(ps map[string]models.Participant) int64 {
	var last int64
	for _, p := range ps {
		last = max(last, p.Seq)
	}
	return last + 1
}
