// Package runlog journals pipeline run outcomes in SQLite.
package runlog

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/qa-agent/logexplain/pkg/config"
	"github.com/qa-agent/logexplain/pkg/logging"
	"github.com/qa-agent/logexplain/pkg/models"
)

// Journal writes and queries run records in a dedicated SQLite database.
type Journal struct {
	db        *sql.DB
	retention int
	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// New opens the journal database, creates the schema and starts the
// retention loop.
func New(cfg config.RunLogConfig) (*Journal, error) {
	db, err := sql.Open("sqlite", cfg.DBPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open run journal: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate run journal: %w", err)
	}

	j := &Journal{
		db:        db,
		retention: cfg.RetentionDays,
		done:      make(chan struct{}),
	}

	j.wg.Add(1)
	go j.retentionLoop()

	return j, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS runs (
		run_id      TEXT PRIMARY KEY,
		log_path    TEXT NOT NULL,
		ticket_key  TEXT NOT NULL,
		state       TEXT NOT NULL,
		error       TEXT,
		commented   INTEGER NOT NULL DEFAULT 0,
		attached    INTEGER NOT NULL DEFAULT 0,
		notified    INTEGER NOT NULL DEFAULT 0,
		cache_hit   INTEGER NOT NULL DEFAULT 0,
		duration_ms INTEGER NOT NULL DEFAULT 0,
		created_at  DATETIME NOT NULL DEFAULT (datetime('now'))
	)`)
	if err != nil {
		return err
	}
	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_runs_ticket ON runs(ticket_key)`)
	if err != nil {
		return err
	}
	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created_at)`)
	return err
}

// Log inserts a run record. Error text is sanitized before it is stored.
func (j *Journal) Log(ctx context.Context, rec models.RunRecord) error {
	if j == nil || j.db == nil {
		return nil
	}
	if rec.RunID == "" {
		rec.RunID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	_, err := j.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO runs
		(run_id, log_path, ticket_key, state, error, commented, attached, notified, cache_hit, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RunID, rec.LogPath, rec.TicketKey, rec.State, logging.Sanitize(rec.Error),
		rec.Commented, rec.Attached, rec.Notified, rec.CacheHit, rec.DurationMs, rec.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("log run: %w", err)
	}
	return nil
}

// Query returns run records matching opts, newest first.
func (j *Journal) Query(ctx context.Context, opts models.RunQueryOpts) ([]models.RunRecord, error) {
	q := `SELECT run_id, log_path, ticket_key, state, error, commented, attached, notified,
		cache_hit, duration_ms, created_at
		FROM runs WHERE 1=1`
	var args []any

	if opts.TicketKey != "" {
		q += " AND ticket_key = ?"
		args = append(args, opts.TicketKey)
	}
	if opts.State != "" {
		q += " AND state = ?"
		args = append(args, opts.State)
	}
	if !opts.Since.IsZero() {
		q += " AND created_at >= ?"
		args = append(args, opts.Since.UTC())
	}

	q += " ORDER BY created_at DESC"

	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	q += " LIMIT ?"
	args = append(args, limit)

	rows, err := j.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []models.RunRecord
	for rows.Next() {
		var r models.RunRecord
		var errText sql.NullString
		if err := rows.Scan(
			&r.RunID, &r.LogPath, &r.TicketKey, &r.State, &errText,
			&r.Commented, &r.Attached, &r.Notified, &r.CacheHit,
			&r.DurationMs, &r.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan run row: %w", err)
		}
		r.Error = errText.String
		out = append(out, r)
	}
	return out, rows.Err()
}

// Stats returns run counts grouped by state and day.
func (j *Journal) Stats(ctx context.Context) ([]models.RunStat, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT state, date(created_at) as day, count(*) as cnt
		 FROM runs GROUP BY state, day ORDER BY day DESC, state`)
	if err != nil {
		return nil, fmt.Errorf("run stats: %w", err)
	}
	defer rows.Close()

	var stats []models.RunStat
	for rows.Next() {
		var s models.RunStat
		var day sql.NullString
		if err := rows.Scan(&s.State, &day, &s.Count); err != nil {
			return nil, fmt.Errorf("scan run stat: %w", err)
		}
		s.Day = day.String
		stats = append(stats, s)
	}
	return stats, rows.Err()
}

// Cleanup deletes records older than the retention period. A non-positive
// retention keeps everything.
func (j *Journal) Cleanup(ctx context.Context) (int64, error) {
	if j.retention <= 0 {
		return 0, nil
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -j.retention)
	res, err := j.db.ExecContext(ctx, `DELETE FROM runs WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("run cleanup: %w", err)
	}
	return res.RowsAffected()
}

// Close stops the retention goroutine and closes the database.
func (j *Journal) Close() error {
	var err error
	j.closeOnce.Do(func() {
		close(j.done)
		j.wg.Wait()
		err = j.db.Close()
	})
	return err
}

func (j *Journal) retentionLoop() {
	defer j.wg.Done()
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-j.done:
			return
		case <-ticker.C:
			_, _ = j.Cleanup(context.Background())
		}
	}
}
