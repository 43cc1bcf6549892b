// internal/store/sqlite.go
package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations/*.sql
var migrations embed.FS

const (
	getDocumentQuery    = "SELECT doc FROM guild_documents WHERE guild = ? AND key = ?"
	upsertDocumentQuery = `
		INSERT INTO guild_documents (guild, key, doc) VALUES (:guild, :key, :doc)
		ON CONFLICT (guild, key) DO UPDATE SET doc = excluded.doc, updated_at = CURRENT_TIMESTAMP
	`
	listGuildsQuery = "SELECT DISTINCT guild FROM guild_documents ORDER BY guild"
)

type documentRow struct {
	Guild string `db:"guild"`
	Key   string `db:"key"`
	Doc   string `db:"doc"`
}

// SQLite stores documents in a single SQLite table.
type SQLite struct {
	db *sqlx.DB
}

// OpenSQLite opens (or creates) the database at path and applies the embedded
// migrations. ":memory:" opens a private in-memory database.
func OpenSQLite(path string) (*SQLite, error) {
	dsn := path + "?_journal_mode=WAL"
	memory := path == ":memory:" || strings.HasPrefix(path, "file::memory:")
	if memory {
		dsn = "file::memory:"
	}
	db, err := sqlx.Connect("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	if memory {
		// Every connection to :memory: is a distinct database.
		db.SetMaxOpenConns(1)
	}
	if err := migrateUp(db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLite{db: db}, nil
}

func migrateUp(db *sqlx.DB) error {
	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	driver, err := sqlite3.WithInstance(db.DB, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("create migrate driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

func (s *SQLite) Get(ctx context.Context, guild, key string, out any) (bool, error) {
	var doc string
	err := s.db.GetContext(ctx, &doc, getDocumentQuery, guild, key)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("select %s/%s: %w", guild, key, err)
	}
	if err := json.Unmarshal([]byte(doc), out); err != nil {
		return false, fmt.Errorf("decode %s/%s: %w", guild, key, err)
	}
	return true, nil
}

func (s *SQLite) Set(ctx context.Context, guild, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", guild, key, err)
	}
	row := documentRow{Guild: guild, Key: key, Doc: string(data)}
	if _, err := s.db.NamedExecContext(ctx, upsertDocumentQuery, row); err != nil {
		return fmt.Errorf("upsert %s/%s: %w", guild, key, err)
	}
	return nil
}

func (s *SQLite) Guilds(ctx context.Context) ([]string, error) {
	var guilds []string
	if err := s.db.SelectContext(ctx, &guilds, listGuildsQuery); err != nil {
		return nil, fmt.Errorf("list guilds: %w", err)
	}
	return guilds, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
