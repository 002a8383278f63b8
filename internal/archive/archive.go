package archive

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ValentinMastro/EncodeTalker/internal/job"
)

// Archive stores terminal job outcomes in SQLite.
type Archive struct {
	db   *sql.DB
	path string
}

// Entry is one archived job.
type Entry struct {
	ID           string
	InputPath    string
	OutputPath   string
	Encoder      string
	AudioMode    string
	Status       job.Status
	ErrorMessage string
	CreatedAt    time.Time
	StartedAt    *time.Time
	FinishedAt   *time.Time
	Duration     time.Duration
}

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond

	// Fixed-width so timestamps sort lexically.
	timeLayout = "2006-01-02T15:04:05.000000000Z07:00"
)

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

// Open initializes or connects to the archive database at path.
func Open(path string) (*Archive, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create archive directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	a := &Archive{db: db, path: path}
	if err := a.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return a, nil
}

// Path returns the database file location.
func (a *Archive) Path() string {
	if a == nil {
		return ""
	}
	return a.path
}

// Close closes the underlying database connection.
func (a *Archive) Close() error {
	if a == nil || a.db == nil {
		return nil
	}
	return a.db.Close()
}

// Record upserts a terminal job. Non-terminal jobs are rejected.
func (a *Archive) Record(ctx context.Context, j job.Job) error {
	if a == nil {
		return nil
	}
	if !j.Status.IsTerminal() {
		return fmt.Errorf("archive: job %s is %s, not terminal", j.ShortID(), j.Status)
	}
	var durationMS sql.NullInt64
	if d, ok := j.ExecutionDuration(); ok {
		durationMS = sql.NullInt64{Int64: d.Milliseconds(), Valid: true}
	}
	const query = `INSERT INTO jobs (id, input_path, output_path, encoder, audio_mode, status, error_message, created_at, started_at, finished_at, duration_ms)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    status = excluded.status,
    error_message = excluded.error_message,
    started_at = excluded.started_at,
    finished_at = excluded.finished_at,
    duration_ms = excluded.duration_ms`
	return retryOnBusy(ctx, func() error {
		_, err := a.db.ExecContext(ctx, query,
			j.ID.String(),
			j.InputPath,
			j.OutputPath,
			string(j.Config.Encoder),
			j.Config.Audio.String(),
			string(j.Status),
			nullString(j.ErrorMessage),
			formatTime(&j.CreatedAt),
			formatTime(j.StartedAt),
			formatTime(j.FinishedAt),
			durationMS,
		)
		return err
	})
}

// List returns up to limit entries, most recently finished first. A
// non-positive limit returns every entry.
func (a *Archive) List(ctx context.Context, limit int) ([]Entry, error) {
	query := `SELECT id, input_path, output_path, encoder, audio_mode, status, error_message, created_at, started_at, finished_at, duration_ms
FROM jobs ORDER BY finished_at DESC, created_at DESC`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query archive: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e                 Entry
			status            string
			errMsg            sql.NullString
			created           string
			started, finished sql.NullString
			durationMS        sql.NullInt64
		)
		if err := rows.Scan(&e.ID, &e.InputPath, &e.OutputPath, &e.Encoder, &e.AudioMode, &status, &errMsg, &created, &started, &finished, &durationMS); err != nil {
			return nil, fmt.Errorf("scan archive row: %w", err)
		}
		e.Status = job.Status(status)
		e.ErrorMessage = errMsg.String
		if t, ok := parseTime(created); ok {
			e.CreatedAt = t
		}
		if started.Valid {
			if t, ok := parseTime(started.String); ok {
				e.StartedAt = &t
			}
		}
		if finished.Valid {
			if t, ok := parseTime(finished.String); ok {
				e.FinishedAt = &t
			}
		}
		if durationMS.Valid {
			e.Duration = time.Duration(durationMS.Int64) * time.Millisecond
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Count returns the number of archived jobs per status.
func (a *Archive) Count(ctx context.Context) (map[job.Status]int, error) {
	rows, err := a.db.QueryContext(ctx, "SELECT status, COUNT(1) FROM jobs GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("count archive: %w", err)
	}
	defer rows.Close()
	counts := make(map[job.Status]int)
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan archive count: %w", err)
		}
		counts[job.Status(status)] = n
	}
	return counts, rows.Err()
}

func nullString(s string) sql.NullString {
	if strings.TrimSpace(s) == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func formatTime(t *time.Time) sql.NullString {
	if t == nil || t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(timeLayout), Valid: true}
}

func parseTime(value string) (time.Time, bool) {
	t, err := time.Parse(timeLayout, value)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
