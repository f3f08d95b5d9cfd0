// Package journal records navigation runs in a local SQLite database.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bytedance/sonic"
	_ "modernc.org/sqlite"
)

// Run is one navigation command and its outcome.
type Run struct {
	ID             int64         `json:"id"`
	TaskID         string        `json:"task_id"`
	Description    string        `json:"description"`
	Success        bool          `json:"success"`
	FinalStatus    int           `json:"final_status"`
	StatusText     string        `json:"status_text"`
	Elapsed        time.Duration `json:"elapsed"`
	QueryCount     int           `json:"query_count"`
	FinishedPath   []string      `json:"finished_path"`
	UnfinishedPath []string      `json:"unfinished_path"`
	StartedAt      time.Time     `json:"started_at"`
}

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	task_id TEXT NOT NULL,
	description TEXT NOT NULL,
	success INTEGER NOT NULL,
	final_status INTEGER NOT NULL,
	status_text TEXT NOT NULL,
	elapsed_ms INTEGER NOT NULL,
	query_count INTEGER NOT NULL,
	finished_path TEXT NOT NULL,
	unfinished_path TEXT NOT NULL,
	started_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
`

// Journal is a SQLite-backed run history.
type Journal struct {
	db *sql.DB
}

// Open opens or creates the journal at path.
func Open(ctx context.Context, path string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create journal dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Journal{db: db}, nil
}

// Close releases the database.
func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}

// Record inserts run and returns its row id.
func (j *Journal) Record(ctx context.Context, run Run) (int64, error) {
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}
	finished, err := encodePath(run.FinishedPath)
	if err != nil {
		return 0, err
	}
	unfinished, err := encodePath(run.UnfinishedPath)
	if err != nil {
		return 0, err
	}
	res, err := j.db.ExecContext(ctx, `
INSERT INTO runs(task_id, description, success, final_status, status_text, elapsed_ms, query_count, finished_path, unfinished_path, started_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`, run.TaskID, run.Description, boolToInt(run.Success), run.FinalStatus, run.StatusText,
		run.Elapsed.Milliseconds(), run.QueryCount, finished, unfinished, ts(run.StartedAt))
	if err != nil {
		return 0, fmt.Errorf("insert run: %w", err)
	}
	return res.LastInsertId()
}

// Recent returns up to limit runs, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := j.db.QueryContext(ctx, `
SELECT id, task_id, description, success, final_status, status_text, elapsed_ms, query_count, finished_path, unfinished_path, started_at
FROM runs
ORDER BY started_at DESC, id DESC
LIMIT ?
`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var (
			r                    Run
			success              int
			elapsedMs            int64
			finished, unfinished string
			startedAt            string
		)
		if err := rows.Scan(&r.ID, &r.TaskID, &r.Description, &success, &r.FinalStatus, &r.StatusText,
			&elapsedMs, &r.QueryCount, &finished, &unfinished, &startedAt); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.Success = success != 0
		r.Elapsed = time.Duration(elapsedMs) * time.Millisecond
		if r.FinishedPath, err = decodePath(finished); err != nil {
			return nil, err
		}
		if r.UnfinishedPath, err = decodePath(unfinished); err != nil {
			return nil, err
		}
		if r.StartedAt, err = time.Parse(tsLayout, startedAt); err != nil {
			return nil, fmt.Errorf("parse started_at: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ErrClosed is returned by Count on a nil journal.
var ErrClosed = errors.New("journal: closed")

// Count returns the number of recorded runs.
func (j *Journal) Count(ctx context.Context) (int, error) {
	if j == nil || j.db == nil {
		return 0, ErrClosed
	}
	var n int
	if err := j.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count runs: %w", err)
	}
	return n, nil
}

func encodePath(p []string) (string, error) {
	if p == nil {
		p = []string{}
	}
	b, err := sonic.ConfigStd.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("encode path: %w", err)
	}
	return string(b), nil
}

func decodePath(s string) ([]string, error) {
	var p []string
	if err := sonic.ConfigStd.UnmarshalFromString(s, &p); err != nil {
		return nil, fmt.Errorf("decode path: %w", err)
	}
	return p, nil
}

// tsLayout is fixed width so started_at sorts lexically.
const tsLayout = "2006-01-02T15:04:05.000000000Z"

func ts(t time.Time) string {
	return t.UTC().Format(tsLayout)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
