// Package store persists broadcast envelopes into Postgres: one row per
// crawl task plus one row per extracted result link.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spidercast/spidercast/internal/envelope"
)

// Task statuses persisted in crawl_tasks.status.
const (
	TaskRunning = "running"
	TaskDone    = "done"
	TaskStopped = "stopped"
	TaskError   = "error"
)

// Schema creates the tables the store writes to. Idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS crawl_tasks (
	task_id       text PRIMARY KEY,
	status        text NOT NULL,
	started_at    timestamptz NOT NULL,
	finished_at   timestamptz,
	error_message text,
	current_page  integer NOT NULL DEFAULT 0,
	total_pages   integer NOT NULL DEFAULT 0,
	updated_at    timestamptz NOT NULL
);

CREATE TABLE IF NOT EXISTS crawl_results (
	task_id     text NOT NULL,
	url         text NOT NULL,
	title       text NOT NULL,
	source      text NOT NULL,
	keywords    jsonb NOT NULL,
	result_time text NOT NULL,
	created_at  timestamptz NOT NULL,
	PRIMARY KEY (task_id, url)
);
`

// Config controls the Postgres connection pool.
type Config struct {
	DSN      string
	MaxConns int32
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// Store writes envelope-derived rows into Postgres.
type Store struct {
	pool execCloser
}

// New creates a Postgres-backed Store using the provided config.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

// NewWithPool constructs a Store from an existing pool (primarily for testing).
func NewWithPool(pool execCloser) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: pool}, nil
}

// EnsureSchema creates the store tables if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Apply persists one broadcast envelope. Duplicate result deliveries are
// absorbed by the (task_id, url) key, so at-least-once bus delivery never
// yields duplicate rows.
func (s *Store) Apply(ctx context.Context, env envelope.Envelope) error {
	at := time.Unix(env.Timestamp, 0)
	switch env.MessageType {
	case envelope.TypeStatus:
		var status envelope.StatusPayload
		if err := json.Unmarshal(env.Payload, &status); err != nil {
			return fmt.Errorf("decode status payload: %w", err)
		}
		return s.applyStatus(ctx, env.TaskID, status, at)
	case envelope.TypeProgress:
		var progress envelope.ProgressPayload
		if err := json.Unmarshal(env.Payload, &progress); err != nil {
			return fmt.Errorf("decode progress payload: %w", err)
		}
		return s.applyProgress(ctx, env.TaskID, progress, at)
	case envelope.TypeResult:
		var result envelope.ResultPayload
		if err := json.Unmarshal(env.Payload, &result); err != nil {
			return fmt.Errorf("decode result payload: %w", err)
		}
		return s.applyResult(ctx, env.TaskID, result, at)
	default:
		return fmt.Errorf("unknown message type %q", env.MessageType)
	}
}

func (s *Store) applyStatus(ctx context.Context, taskID string, status envelope.StatusPayload, at time.Time) error {
	if status.Status == envelope.StatusStarted {
		query := `
			INSERT INTO crawl_tasks (task_id, status, started_at, updated_at)
			VALUES ($1, $2, $3, $3)
			ON CONFLICT (task_id) DO UPDATE
			SET status = EXCLUDED.status,
			    started_at = EXCLUDED.started_at,
			    finished_at = NULL,
			    error_message = NULL,
			    updated_at = EXCLUDED.updated_at;
		`
		if _, err := s.pool.Exec(ctx, query, taskID, TaskRunning, at); err != nil {
			return fmt.Errorf("upsert task start: %w", err)
		}
		return nil
	}

	query := `
		UPDATE crawl_tasks
		SET status = $2, finished_at = $3, error_message = $4, updated_at = $3
		WHERE task_id = $1;
	`
	if _, err := s.pool.Exec(ctx, query, taskID, status.Status, at, status.Error); err != nil {
		return fmt.Errorf("complete task: %w", err)
	}
	return nil
}

func (s *Store) applyProgress(ctx context.Context, taskID string, progress envelope.ProgressPayload, at time.Time) error {
	query := `
		UPDATE crawl_tasks
		SET current_page = GREATEST(current_page, $2), total_pages = $3, updated_at = $4
		WHERE task_id = $1;
	`
	if _, err := s.pool.Exec(ctx, query, taskID, progress.CurrentPage, progress.TotalPages, at); err != nil {
		return fmt.Errorf("update task progress: %w", err)
	}
	return nil
}

func (s *Store) applyResult(ctx context.Context, taskID string, result envelope.ResultPayload, at time.Time) error {
	keywordsJSON, err := json.Marshal(result.Keywords)
	if err != nil {
		return fmt.Errorf("marshal keywords: %w", err)
	}
	query := `
		INSERT INTO crawl_results (task_id, url, title, source, keywords, result_time, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (task_id, url) DO NOTHING;
	`
	if _, err := s.pool.Exec(ctx, query, taskID, result.URL, result.Title, result.Source, keywordsJSON, result.DateTime, at); err != nil {
		return fmt.Errorf("insert result: %w", err)
	}
	return nil
}
