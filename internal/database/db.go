// internal/database/db.go
package database

import (
	"context"
	"fmt"
	"os"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
)

// psql builds Postgres statements with $n placeholders.
var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// DSNFromEnv builds a connection string from PG_DSN, or from the individual
// POSTGRES_USER, POSTGRES_PASSWORD, PG_HOST, PG_PORT and PG_DATABASE variables.
func DSNFromEnv() string {
	if dsn := os.Getenv("PG_DSN"); dsn != "" {
		return dsn
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s",
		os.Getenv("POSTGRES_USER"),
		os.Getenv("POSTGRES_PASSWORD"),
		os.Getenv("PG_HOST"),
		os.Getenv("PG_PORT"),
		os.Getenv("PG_DATABASE"),
	)
}

// Connect opens a pool and pings it, retrying until wait has elapsed.
func Connect(ctx context.Context, dsn string, wait time.Duration, logger logrus.FieldLogger) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to parse pgx config: %w", err)
	}
	cfg.MaxConns = 10

	deadline := time.Now().Add(wait)
	for {
		pool, err := ping(ctx, cfg)
		if err == nil {
			logger.WithField("host", cfg.ConnConfig.Host).Info("connected to postgres")
			return pool, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("failed to connect to postgres after retries: %w", err)
		}
		logger.WithError(err).Warn("postgres not ready, retrying")
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Second):
		}
	}
}

func ping(ctx context.Context, cfg *pgxpool.Config) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS guild_documents (
	guild      TEXT        NOT NULL,
	key        TEXT        NOT NULL,
	doc        JSONB       NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (guild, key)
);

CREATE TABLE IF NOT EXISTS match_events (
	match_id   UUID        NOT NULL,
	seq        INT         NOT NULL,
	guild      TEXT        NOT NULL,
	event_type TEXT        NOT NULL,
	actor      TEXT        NOT NULL DEFAULT '',
	payload    JSONB       NOT NULL DEFAULT '{}',
	created_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (match_id, seq)
);

CREATE INDEX IF NOT EXISTS match_events_guild_idx ON match_events (guild, created_at);

CREATE TABLE IF NOT EXISTS rating_changes (
	match_id    UUID        NOT NULL,
	participant TEXT        NOT NULL,
	guild       TEXT        NOT NULL,
	old_rating  INT         NOT NULL,
	new_rating  INT         NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (match_id, participant)
);

CREATE INDEX IF NOT EXISTS rating_changes_participant_idx ON rating_changes (guild, participant, created_at);
`

// EnsureSchema creates the tables used by the document store and the historian.
func EnsureSchema(ctx context.Context, db *pgxpool.Pool) error {
	if _, err := db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// Exec runs a built statement.
func Exec(ctx context.Context, db *pgxpool.Pool, q sq.Sqlizer) (pgconn.CommandTag, error) {
	sql, args, err := q.ToSql()
	if err != nil {
		return pgconn.CommandTag{}, err
	}
	return db.Exec(ctx, sql, args...)
}

// ExecTx runs a built statement inside tx.
func ExecTx(ctx context.Context, tx pgx.Tx, q sq.Sqlizer) (pgconn.CommandTag, error) {
	sql, args, err := q.ToSql()
	if err != nil {
		return pgconn.CommandTag{}, err
	}
	return tx.Exec(ctx, sql, args...)
}

// QueryRow runs a built select expected to return at most one row.
func QueryRow(ctx context.Context, db *pgxpool.Pool, q sq.SelectBuilder) (pgx.Row, error) {
	sql, args, err := q.ToSql()
	if err != nil {
		return nil, err
	}
	return db.QueryRow(ctx, sql, args...), nil
}

// Query runs a built select.
func Query(ctx context.Context, db *pgxpool.Pool, q sq.SelectBuilder) (pgx.Rows, error) {
	sql, args, err := q.ToSql()
	if err != nil {
		return nil, err
	}
	return db.Query(ctx, sql, args...)
}

// Builder returns the Postgres statement builder.
func Builder() sq.StatementBuilderType {
	return psql
}
