// Package interaction persists log/explanation exchanges.
package interaction

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/qa-agent/logexplain/pkg/config"
	"github.com/qa-agent/logexplain/pkg/models"
)

// Repository stores and queries interactions.
type Repository interface {
	// Save assigns ID and CreatedAt and stores the interaction.
	Save(ctx context.Context, in models.Interaction) (models.Interaction, error)
	// FindByID returns models.ErrNotFound when id is unknown.
	FindByID(ctx context.Context, id string) (models.Interaction, error)
	// List returns interactions created at or after since, newest first.
	List(ctx context.Context, since time.Time, limit int) ([]models.Interaction, error)
	// Search matches query case-insensitively against the log and the response.
	Search(ctx context.Context, query string, limit int) ([]models.Interaction, error)
	// Delete removes id and reports whether it existed.
	Delete(ctx context.Context, id string) (bool, error)
	Close() error
}

// SQLRepository implements Repository on SQLite or Postgres.
type SQLRepository struct {
	db       *sql.DB
	postgres bool
	now      func() time.Time
}

const createSQLiteTable = `
CREATE TABLE IF NOT EXISTS interactions (
	id TEXT PRIMARY KEY,
	user_query TEXT NOT NULL,
	ai_response TEXT NOT NULL,
	context TEXT NOT NULL DEFAULT '',
	metadata TEXT NOT NULL DEFAULT '{}',
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_interactions_created ON interactions(created_at);
`

const createPostgresTable = `
CREATE TABLE IF NOT EXISTS interactions (
	id TEXT PRIMARY KEY,
	user_query TEXT NOT NULL,
	ai_response TEXT NOT NULL,
	context TEXT NOT NULL DEFAULT '',
	metadata TEXT NOT NULL DEFAULT '{}',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_interactions_created ON interactions(created_at);
`

// Open connects using the configured driver and runs auto-migration.
func Open(cfg config.DatabaseConfig) (*SQLRepository, error) {
	switch cfg.Driver {
	case "", "sqlite":
		return open("sqlite", cfg.DSN, createSQLiteTable, false)
	case "postgres":
		return open("postgres", cfg.DSN, createPostgresTable, true)
	default:
		return nil, fmt.Errorf("interaction db: unsupported driver %q", cfg.Driver)
	}
}

func open(driver, dsn, schema string, postgres bool) (*SQLRepository, error) {
	if dsn == "" {
		return nil, errors.New("interaction db: dsn required")
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open interaction db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate interaction db: %w", err)
	}
	return &SQLRepository{db: db, postgres: postgres, now: time.Now}, nil
}

// rebind rewrites ? placeholders as $n for Postgres.
func (r *SQLRepository) rebind(query string) string {
	if !r.postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, ch := range query {
		if ch == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(ch)
	}
	return b.String()
}

// Save stores in with a fresh ID and creation time.
func (r *SQLRepository) Save(ctx context.Context, in models.Interaction) (models.Interaction, error) {
	in.ID = uuid.NewString()
	in.CreatedAt = r.now().UTC()
	if in.Metadata == "" {
		in.Metadata = "{}"
	}
	_, err := r.db.ExecContext(ctx, r.rebind(
		`INSERT INTO interactions (id, user_query, ai_response, context, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`),
		in.ID, in.UserQuery, in.AIResponse, in.Context, in.Metadata, in.CreatedAt,
	)
	if err != nil {
		return models.Interaction{}, fmt.Errorf("%w: save interaction: %v", models.ErrPersistence, err)
	}
	return in, nil
}

const selectColumns = `SELECT id, user_query, ai_response, context, metadata, created_at FROM interactions`

// FindByID returns the interaction with id.
func (r *SQLRepository) FindByID(ctx context.Context, id string) (models.Interaction, error) {
	var in models.Interaction
	err := r.db.QueryRowContext(ctx, r.rebind(selectColumns+` WHERE id = ?`), id).
		Scan(&in.ID, &in.UserQuery, &in.AIResponse, &in.Context, &in.Metadata, &in.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Interaction{}, fmt.Errorf("interaction %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return models.Interaction{}, fmt.Errorf("find interaction: %w", err)
	}
	return in, nil
}

// List returns interactions since the given time, newest first.
func (r *SQLRepository) List(ctx context.Context, since time.Time, limit int) ([]models.Interaction, error) {
	query := selectColumns + ` WHERE created_at >= ? ORDER BY created_at DESC`
	args := []any{since.UTC()}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return r.query(ctx, query, args...)
}

// Search returns interactions whose log or response contains query.
func (r *SQLRepository) Search(ctx context.Context, query string, limit int) ([]models.Interaction, error) {
	pattern := "%" + strings.ToLower(query) + "%"
	q := selectColumns + ` WHERE LOWER(user_query) LIKE ? OR LOWER(ai_response) LIKE ? ORDER BY created_at DESC`
	args := []any{pattern, pattern}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	return r.query(ctx, q, args...)
}

// Delete removes the interaction with id.
func (r *SQLRepository) Delete(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, r.rebind(`DELETE FROM interactions WHERE id = ?`), id)
	if err != nil {
		return false, fmt.Errorf("delete interaction: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete interaction: %w", err)
	}
	return n > 0, nil
}

// Close releases the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

func (r *SQLRepository) query(ctx context.Context, query string, args ...any) ([]models.Interaction, error) {
	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query interactions: %w", err)
	}
	defer rows.Close()

	var out []models.Interaction
	for rows.Next() {
		var in models.Interaction
		if err := rows.Scan(&in.ID, &in.UserQuery, &in.AIResponse, &in.Context, &in.Metadata, &in.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan interaction: %w", err)
		}
		out = append(out, in)
	}
	return out, rows.Err()
}
