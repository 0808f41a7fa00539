package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ashureev/agentdemo/internal/domain"
	"github.com/ashureev/agentdemo/internal/shared"
	_ "modernc.org/sqlite"
)

const (
	// DefaultListLimit caps ListRuns when the caller passes no limit.
	DefaultListLimit = 50

	insertRetries   = 3
	insertBaseDelay = 100 * time.Millisecond
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	// Open database with WAL mode for better concurrency.
	dsn := "file:" + dbPath + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		flow TEXT NOT NULL,
		prompt TEXT NOT NULL,
		file_name TEXT,
		outcome TEXT NOT NULL,
		response TEXT NOT NULL,
		code TEXT,
		image_path TEXT,
		started_at INTEGER NOT NULL,
		finished_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_runs_session ON runs(session_id, started_at DESC);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// RecordRun inserts rec, retrying with exponential backoff while the database is busy.
func (s *SQLiteStore) RecordRun(ctx context.Context, rec *domain.RunRecord) error {
	query := `
	INSERT INTO runs (session_id, flow, prompt, file_name, outcome, response, code, image_path, started_at, finished_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	err := shared.RetryOnConflict(ctx, insertRetries, insertBaseDelay, "record run", func() error {
		result, err := s.db.ExecContext(ctx, query,
			rec.SessionID, string(rec.Flow), rec.Prompt, nullable(rec.FileName),
			string(rec.Outcome), rec.Response, nullable(rec.Code), nullable(rec.ImagePath),
			rec.StartedAt.UnixMilli(), rec.FinishedAt.UnixMilli(),
		)
		if err != nil {
			return err
		}
		id, err := result.LastInsertId()
		if err != nil {
			return fmt.Errorf("get last insert id: %w", err)
		}
		rec.ID = id
		return nil
	})
	if err != nil {
		return fmt.Errorf("record run for %s: %w", rec.SessionID, err)
	}
	return nil
}

// ListRuns returns up to limit runs, newest first.
func (s *SQLiteStore) ListRuns(ctx context.Context, sessionID string, limit int) ([]*domain.RunRecord, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	query := `
		SELECT id, session_id, flow, prompt, file_name, outcome, response,
		       code, image_path, started_at, finished_at
		FROM runs`
	args := []any{}
	if sessionID != "" {
		query += ` WHERE session_id = ?`
		args = append(args, sessionID)
	}
	query += ` ORDER BY started_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close runs rows", "error", closeErr)
		}
	}()

	var runs []*domain.RunRecord
	for rows.Next() {
		var rec domain.RunRecord
		var flow, outcome string
		var fileName, code, imagePath sql.NullString
		var startedAt, finishedAt int64

		if err := rows.Scan(
			&rec.ID, &rec.SessionID, &flow, &rec.Prompt, &fileName, &outcome,
			&rec.Response, &code, &imagePath, &startedAt, &finishedAt,
		); err != nil {
			return nil, fmt.Errorf("scan run row: %w", err)
		}

		rec.Flow = domain.FlowKind(flow)
		rec.Outcome = domain.RunOutcome(outcome)
		rec.FileName = fileName.String
		rec.Code = code.String
		rec.ImagePath = imagePath.String
		rec.StartedAt = time.UnixMilli(startedAt)
		rec.FinishedAt = time.UnixMilli(finishedAt)
		runs = append(runs, &rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}

	return runs, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

var _ Repository = (*SQLiteStore)(nil)
