package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// RatingChangeRow logs one participant's rating change from a completed match.
type RatingChangeRow struct {
	MatchID     uuid.UUID
	Participant string
	Guild       string
	OldRating   int
	NewRating   int
	CreatedAt   time.Time
}

// completedPayload is the part of a "completed" event payload that carries
// the rating changes.
type completedPayload struct {
	Changes []struct {
		ParticipantID string `json:"participant_id"`
		Old           int    `json:"old"`
		New           int    `json:"new"`
	} `json:"changes"`
}

// RatingChangesOf extracts the rating changes from a completed event row.
// Rows of other types yield nothing.
func RatingChangesOf(r MatchEventRow) ([]RatingChangeRow, error) {
	if r.Type != "completed" || len(r.Payload) == 0 {
		return nil, nil
	}
	var p completedPayload
	if err := json.Unmarshal(r.Payload, &p); err != nil {
		return nil, fmt.Errorf("decode completed payload of %s: %w", r.MatchID, err)
	}
	out := make([]RatingChangeRow, 0, len(p.Changes))
	for _, c := range p.Changes {
		out = append(out, RatingChangeRow{
			MatchID:     r.MatchID,
			Participant: c.ParticipantID,
			Guild:       r.Guild,
			OldRating:   c.Old,
			NewRating:   c.New,
			CreatedAt:   r.CreatedAt,
		})
	}
	return out, nil
}

func insertRatingChangesTx(ctx context.Context, tx pgx.Tx, rows []RatingChangeRow) error {
	if len(rows) == 0 {
		return nil
	}
	q := psql.Insert("rating_changes").
		Columns("match_id", "participant", "guild", "old_rating", "new_rating", "created_at")
	for _, r := range rows {
		q = q.Values(r.MatchID, r.Participant, r.Guild, r.OldRating, r.NewRating, r.CreatedAt)
	}
	q = q.Suffix("ON CONFLICT (match_id, participant) DO NOTHING")
	if _, err := ExecTx(ctx, tx, q); err != nil {
		return fmt.Errorf("insert rating changes: %w", err)
	}
	return nil
}

// RatingChanges returns a participant's rating history in a guild, oldest first.
func RatingChanges(ctx context.Context, db *pgxpool.Pool, guild, participant string) ([]RatingChangeRow, error) {
	rows, err := Query(ctx, db, psql.
		Select("match_id", "participant", "guild", "old_rating", "new_rating", "created_at").
		From("rating_changes").
		Where("guild = ? AND participant = ?", guild, participant).
		OrderBy("created_at"))
	if err != nil {
		return nil, fmt.Errorf("query rating changes: %w", err)
	}
	defer rows.Close()

	var out []RatingChangeRow
	for rows.Next() {
		var r RatingChangeRow
		if err := rows.Scan(&r.MatchID, &r.Participant, &r.Guild, &r.OldRating, &r.NewRating, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
