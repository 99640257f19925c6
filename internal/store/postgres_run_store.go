package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dunamismax/kirkproxy/internal/domain"
	_ "github.com/lib/pq"
)

const runSchemaSQL = `
CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	mode TEXT NOT NULL,
	size INTEGER NOT NULL,
	status TEXT NOT NULL,
	failure_kind TEXT NOT NULL DEFAULT '',
	error TEXT NOT NULL DEFAULT '',
	output_key TEXT NOT NULL DEFAULT '',
	output_bytes INTEGER NOT NULL DEFAULT 0,
	webhook_url TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
`

const runColumns = `id, mode, size, status, failure_kind, error, output_key, output_bytes, webhook_url, created_at, updated_at`

type PostgresRunStore struct {
	db *sql.DB
}

func NewPostgresRunStore(ctx context.Context, dsn string) (*PostgresRunStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	store := &PostgresRunStore{db: db}
	if err := store.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

func (s *PostgresRunStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, runSchemaSQL); err != nil {
		return fmt.Errorf("ensure runs schema: %w", err)
	}
	return nil
}

func (s *PostgresRunStore) Close() error {
	return s.db.Close()
}

func (s *PostgresRunStore) Create(ctx context.Context, run domain.Run) error {
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO runs (`+runColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		run.ID,
		run.Mode,
		run.Size,
		run.Status,
		run.FailureKind,
		run.Error,
		run.OutputKey,
		run.OutputBytes,
		run.WebhookURL,
		run.CreatedAt,
		run.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

func (s *PostgresRunStore) Get(ctx context.Context, id string) (domain.Run, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = $1`, id)

	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Run{}, false, nil
		}
		return domain.Run{}, false, fmt.Errorf("query run: %w", err)
	}
	return run, true, nil
}

func (s *PostgresRunStore) Update(ctx context.Context, id string, update domain.RunUpdate) (domain.Run, error) {
	row := s.db.QueryRowContext(
		ctx,
		`UPDATE runs
		 SET status = $1, failure_kind = $2, error = $3, output_key = $4, output_bytes = $5, updated_at = $6
		 WHERE id = $7
		 RETURNING `+runColumns,
		update.Status,
		update.FailureKind,
		update.Error,
		update.OutputKey,
		update.OutputBytes,
		time.Now().UTC(),
		id,
	)

	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Run{}, ErrRunNotFound
		}
		return domain.Run{}, fmt.Errorf("update run: %w", err)
	}
	return run, nil
}

func scanRun(row *sql.Row) (domain.Run, error) {
	var run domain.Run
	err := row.Scan(
		&run.ID,
		&run.Mode,
		&run.Size,
		&run.Status,
		&run.FailureKind,
		&run.Error,
		&run.OutputKey,
		&run.OutputBytes,
		&run.WebhookURL,
		&run.CreatedAt,
		&run.UpdatedAt,
	)
	return run, err
}
