package templates

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the pgx database/sql driver
)

// PostgresStore reads templates from the message_templates table.
type PostgresStore struct {
	db *sql.DB
}

// OpenPostgres opens and pings a pgx backed connection pool.
func OpenPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("templates: open database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("templates: ping database: %w", err)
	}
	return db, nil
}

// NewPostgresStore wraps an open database.
func NewPostgresStore(db *sql.DB) (*PostgresStore, error) {
	if db == nil {
		return nil, errors.New("templates: database is required")
	}
	return &PostgresStore{db: db}, nil
}

const selectTemplate = `
SELECT name, language, body, updated_at
FROM message_templates
WHERE name = $1 AND language IN ($2, $3)
ORDER BY CASE WHEN language = $2 THEN 0 ELSE 1 END
LIMIT 1`

// Get implements Store.
func (s *PostgresStore) Get(ctx context.Context, name, language string) (*Template, error) {
	name, language = normalizeKey(name, language)
	var t Template
	err := s.db.QueryRowContext(ctx, selectTemplate, name, language, DefaultLanguage).
		Scan(&t.Name, &t.Language, &t.Body, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("templates: get %s/%s: %w", name, language, err)
	}
	return &t, nil
}

const upsertTemplate = `
INSERT INTO message_templates (name, language, body, updated_at)
VALUES ($1, $2, $3, now())
ON CONFLICT (name, language) DO UPDATE SET body = EXCLUDED.body, updated_at = now()`

// Put inserts or replaces a template.
func (s *PostgresStore) Put(ctx context.Context, t Template) error {
	name, language := normalizeKey(t.Name, t.Language)
	if _, err := s.db.ExecContext(ctx, upsertTemplate, name, language, t.Body); err != nil {
		return fmt.Errorf("templates: put %s/%s: %w", name, language, err)
	}
	return nil
}
