// internal/store/postgres.go
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jason-s-yu/ladder/internal/database"
)

// Postgres stores documents as jsonb rows of the guild_documents table.
type Postgres struct {
	db *pgxpool.Pool
}

// NewPostgres wraps a pool whose schema has been created with
// database.EnsureSchema.
func NewPostgres(db *pgxpool.Pool) *Postgres {
	return &Postgres{db: db}
}

func (p *Postgres) Get(ctx context.Context, guild, key string, out any) (bool, error) {
	row, err := database.QueryRow(ctx, p.db, database.Builder().
		Select("doc").
		From("guild_documents").
		Where("guild = ? AND key = ?", guild, key))
	if err != nil {
		return false, err
	}
	var data []byte
	if err := row.Scan(&data); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("select %s/%s: %w", guild, key, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("decode %s/%s: %w", guild, key, err)
	}
	return true, nil
}

func (p *Postgres) Set(ctx context.Context, guild, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", guild, key, err)
	}
	q := database.Builder().
		Insert("guild_documents").
		Columns("guild", "key", "doc").
		Values(guild, key, string(data)).
		Suffix("ON CONFLICT (guild, key) DO UPDATE SET doc = EXCLUDED.doc, updated_at = now()")
	if _, err := database.Exec(ctx, p.db, q); err != nil {
		return fmt.Errorf("upsert %s/%s: %w", guild, key, err)
	}
	return nil
}

func (p *Postgres) Guilds(ctx context.Context) ([]string, error) {
	rows, err := database.Query(ctx, p.db, database.Builder().
		Select("DISTINCT guild").
		From("guild_documents").
		OrderBy("guild"))
	if err != nil {
		return nil, fmt.Errorf("list guilds: %w", err)
	}
	guilds, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("list guilds: %w", err)
	}
	return guilds, nil
}

// Close closes the underlying pool.
func (p *Postgres) Close() error {
	p.db.Close()
	return nil
}
