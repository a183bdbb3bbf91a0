package usage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	// Both sqlite drivers register distinct names; the configured driver
	// selects between the CGO-free build and the cgo one.
	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"
)

// RequestLog records per-request dispatch outcomes in SQLite for the
// management surface: which account served which model, the outcome kind,
// token counts, attempts, and latency.
//
// SQLite runs in WAL mode with a single writer connection.
type RequestLog struct {
	db *sql.DB

	insertStmt *sql.Stmt
}

// RequestRecord is one completed dispatch.
type RequestRecord struct {
	RequestID    string
	Model        string
	Account      string
	Status       string
	ErrorKind    string
	Attempts     int
	InputTokens  int
	OutputTokens int
	CachedTokens int
	DurationMs   int64
	CreatedAt    time.Time
}

// OpenRequestLog opens (and migrates) the request log database. driver is
// "sqlite" (modernc, CGO-free) or "sqlite3" (mattn, cgo).
func OpenRequestLog(path, driver string) (*RequestLog, error) {
	if path == "" {
		return nil, fmt.Errorf("request log path cannot be empty")
	}
	if driver == "" {
		driver = "sqlite"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dsn := path
	switch driver {
	case "sqlite":
		dsn = fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL", path)
	case "sqlite3":
		dsn = fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000", path)
	default:
		return nil, fmt.Errorf("unknown request log driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open request log: %w", err)
	}
	db.SetMaxOpenConns(1) // single writer
	db.SetMaxIdleConns(1)

	rl := &RequestLog{db: db}
	if err := rl.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	if err := rl.prepare(); err != nil {
		db.Close()
		return nil, err
	}
	return rl, nil
}

func (rl *RequestLog) migrate() error {
	const schema = `
CREATE TABLE IF NOT EXISTS requests (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	request_id TEXT NOT NULL,
	model TEXT NOT NULL,
	account TEXT NOT NULL,
	status TEXT NOT NULL,
	error_kind TEXT NOT NULL DEFAULT '',
	attempts INTEGER NOT NULL DEFAULT 1,
	input_tokens INTEGER NOT NULL DEFAULT 0,
	output_tokens INTEGER NOT NULL DEFAULT 0,
	cached_tokens INTEGER NOT NULL DEFAULT 0,
	duration_ms INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_requests_created ON requests(created_at);
CREATE INDEX IF NOT EXISTS idx_requests_model ON requests(model);
`
	if _, err := rl.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to migrate request log: %w", err)
	}
	return nil
}

func (rl *RequestLog) prepare() error {
	stmt, err := rl.db.Prepare(`
INSERT INTO requests (request_id, model, account, status, error_kind, attempts,
	input_tokens, output_tokens, cached_tokens, duration_ms, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	rl.insertStmt = stmt
	return nil
}

// Insert writes one record.
func (rl *RequestLog) Insert(ctx context.Context, rec *RequestRecord) error {
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := rl.insertStmt.ExecContext(ctx,
		rec.RequestID, rec.Model, rec.Account, rec.Status, rec.ErrorKind,
		rec.Attempts, rec.InputTokens, rec.OutputTokens, rec.CachedTokens,
		rec.DurationMs, createdAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert request record: %w", err)
	}
	return nil
}

// Recent returns the newest records, newest first.
func (rl *RequestLog) Recent(ctx context.Context, limit int) ([]RequestRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := rl.db.QueryContext(ctx, `
SELECT request_id, model, account, status, error_kind, attempts,
	input_tokens, output_tokens, cached_tokens, duration_ms, created_at
FROM requests ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query request log: %w", err)
	}
	defer rows.Close()

	var out []RequestRecord
	for rows.Next() {
		var rec RequestRecord
		if err := rows.Scan(&rec.RequestID, &rec.Model, &rec.Account, &rec.Status,
			&rec.ErrorKind, &rec.Attempts, &rec.InputTokens, &rec.OutputTokens,
			&rec.CachedTokens, &rec.DurationMs, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan request record: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Prune deletes records older than the retention window.
func (rl *RequestLog) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	res, err := rl.db.ExecContext(ctx,
		`DELETE FROM requests WHERE created_at < ?`, time.Now().Add(-retention))
	if err != nil {
		return 0, fmt.Errorf("failed to prune request log: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the database.
func (rl *RequestLog) Close() error {
	if rl.insertStmt != nil {
		rl.insertStmt.Close()
	}
	return rl.db.Close()
}
