// Package db persists recovery runs, their unit outcomes and engine attempts
// in Postgres.
package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const batchSize = 100

type Store struct{ Pool *pgxpool.Pool }

func Open(ctx context.Context, url string) (*Store, error) {
	p, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, err
	}
	return &Store{Pool: p}, nil
}

func (s *Store) Close() { s.Pool.Close() }

func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return s.Pool.Ping(ctx)
}

func (s *Store) notifyRunChanged(ctx context.Context, id string) {
	_, _ = s.Pool.Exec(ctx, `SELECT pg_notify('recovery_events', $1)`, id)
}

// valuesClause renders rows placeholder tuples for a multi-value INSERT.
// casts holds one suffix per column, such as "::uuid", or "" for none.
func valuesClause(rows int, casts []string) string {
	var sb strings.Builder
	n := 1
	for r := 0; r < rows; r++ {
		if r > 0 {
			sb.WriteString(", ")
		}
		sb.WriteByte('(')
		for c, cast := range casts {
			if c > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "$%d%s", n, cast)
			n++
		}
		sb.WriteByte(')')
	}
	return sb.String()
}

// chunks calls fn with consecutive [start, end) windows of at most size.
func chunks(n, size int, fn func(start, end int) error) error {
	for start := 0; start < n; start += size {
		end := min(start+size, n)
		if err := fn(start, end); err != nil {
			return err
		}
	}
	return nil
}

func coalesceString(v string, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func nullableString(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.Pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS recovery_runs (
  id UUID PRIMARY KEY,
  status TEXT NOT NULL CHECK (status IN ('running','done','cancelled','failed')),
  target_name TEXT NOT NULL,
  target_path TEXT NOT NULL,
  target_identity TEXT NOT NULL,
  target_format TEXT,
  target_size BIGINT,
  python_version TEXT,
  version_provenance TEXT,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  started_at TIMESTAMPTZ,
  finished_at TIMESTAMPTZ,
  updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  progress_pct INTEGER NOT NULL DEFAULT 0 CHECK (progress_pct BETWEEN 0 AND 100),
  progress_msg TEXT,
  report_bucket TEXT,
  report_key TEXT,
  error_msg TEXT,
  totals_json JSONB
);

CREATE INDEX IF NOT EXISTS idx_recovery_runs_status_created ON recovery_runs (status, created_at);
CREATE INDEX IF NOT EXISTS idx_recovery_runs_identity ON recovery_runs (target_identity);

CREATE TABLE IF NOT EXISTS recovery_units (
  id BIGSERIAL PRIMARY KEY,
  run_id UUID NOT NULL REFERENCES recovery_runs(id) ON DELETE CASCADE,
  seq INTEGER NOT NULL,
  rel_path TEXT NOT NULL,
  size_bytes BIGINT NOT NULL,
  entry_point BOOLEAN NOT NULL DEFAULT FALSE,
  category TEXT NOT NULL,
  reason TEXT,
  raw_offset INTEGER,
  raw_length INTEGER,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  UNIQUE(run_id, rel_path)
);

CREATE TABLE IF NOT EXISTS recovery_attempts (
  id BIGSERIAL PRIMARY KEY,
  unit_row_id BIGINT NOT NULL REFERENCES recovery_units(id) ON DELETE CASCADE,
  idx SMALLINT NOT NULL,
  tool TEXT NOT NULL,
  stage TEXT NOT NULL,
  exit_code INTEGER NOT NULL,
  stdout_bytes BIGINT NOT NULL,
  stderr_bytes BIGINT NOT NULL,
  duration_ms BIGINT NOT NULL,
  success BOOLEAN NOT NULL,
  reason TEXT,
  output TEXT,
  diagnostic TEXT,
  UNIQUE(unit_row_id, idx)
);

CREATE INDEX IF NOT EXISTS idx_recovery_units_run_category ON recovery_units(run_id, category);
CREATE INDEX IF NOT EXISTS idx_recovery_attempts_unit ON recovery_attempts(unit_row_id);
`)
	return err
}
