// internal/database/events.go
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// MatchEventRow is one row of the match_events table.
type MatchEventRow struct {
	MatchID   uuid.UUID
	Seq       int
	Guild     string
	Type      string
	Actor     string
	Payload   []byte
	CreatedAt time.Time
}

// InsertMatchEvents writes rows in a single transaction, together with the
// rating changes carried by completed events. Rows already stored (same match
// and sequence number) are skipped.
func InsertMatchEvents(ctx context.Context, db *pgxpool.Pool, rows []MatchEventRow) error {
	if len(rows) == 0 {
		return nil
	}
	return pgx.BeginTxFunc(ctx, db, pgx.TxOptions{}, func(tx pgx.Tx) error {
		q := psql.Insert("match_events").
			Columns("match_id", "seq", "guild", "event_type", "actor", "payload", "created_at")
		for _, r := range rows {
			payload := r.Payload
			if len(payload) == 0 {
				payload = []byte("{}")
			}
			q = q.Values(r.MatchID, r.Seq, r.Guild, r.Type, r.Actor, string(payload), r.CreatedAt)
		}
		q = q.Suffix("ON CONFLICT (match_id, seq) DO NOTHING")
		if _, err := ExecTx(ctx, tx, q); err != nil {
			return fmt.Errorf("insert match events: %w", err)
		}

		var changes []RatingChangeRow
		for _, r := range rows {
			c, err := RatingChangesOf(r)
			if err != nil {
				return err
			}
			changes = append(changes, c...)
		}
		return insertRatingChangesTx(ctx, tx, changes)
	})
}

// MatchEvents returns the stored events of a match in sequence order.
func MatchEvents(ctx context.Context, db *pgxpool.Pool, matchID uuid.UUID) ([]MatchEventRow, error) {
	rows, err := Query(ctx, db, psql.
		Select("match_id", "seq", "guild", "event_type", "actor", "payload", "created_at").
		From("match_events").
		Where("match_id = ?", matchID).
		OrderBy("seq"))
	if err != nil {
		return nil, fmt.Errorf("query match events: %w", err)
	}
	defer rows.Close()

	var out []MatchEventRow
	for rows.Next() {
		var r MatchEventRow
		if err := rows.Scan(&r.MatchID, &r.Seq, &r.Guild, &r.Type, &r.Actor, &r.Payload, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
