package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/yourorg/unfreeze/internal/model"
)

// Run status values.
const (
	StatusRunning   = "running"
	StatusDone      = "done"
	StatusCancelled = "cancelled"
	StatusFailed    = "failed"
)

type BackfillRun struct {
	ID           string
	ReportBucket string
	ReportKey    string
	TargetName   string
}

// InsertRun creates the row for a run that has resolved its version.
func (s *Store) InsertRun(ctx context.Context, r model.Report) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO recovery_runs (
		  id, status, target_name, target_path, target_identity, target_format,
		  target_size, python_version, version_provenance, started_at, progress_msg
		)
		VALUES ($1::uuid, 'running', $2, $3, $4, $5, $6, $7, $8, $9, 'extracting')
		ON CONFLICT (id) DO NOTHING
	`, r.RunID, r.Target.Name, r.Target.Path, r.Target.Identity, nullableString(r.Target.Format),
		r.Target.Size, nullableString(r.Version.Text), nullableString(string(r.Version.Provenance)), r.StartedAt)
	if err == nil {
		s.notifyRunChanged(ctx, r.RunID)
	}
	return err
}

func (s *Store) UpdateProgress(ctx context.Context, id string, pct int, msg string) error {
	_, err := s.Pool.Exec(ctx, `
		UPDATE recovery_runs
		SET progress_pct=GREATEST(progress_pct, $2),
		    progress_msg=CASE WHEN $2 >= progress_pct THEN $3 ELSE progress_msg END,
		    updated_at=now()
		WHERE id=$1
		  AND status='running'
	`, id, pct, msg)
	return err
}

func (s *Store) MarkFailed(ctx context.Context, id, errMsg string) error {
	_, err := s.Pool.Exec(ctx, `
		UPDATE recovery_runs
		SET status='failed',
		    finished_at=now(),
		    updated_at=now(),
		    error_msg=$2,
		    progress_msg=COALESCE(progress_msg, $2)
		WHERE id=$1
		  AND status='running'
	`, id, errMsg)
	if err == nil {
		s.notifyRunChanged(ctx, id)
	}
	return err
}

func runStatus(r model.Report) string {
	if r.Cancelled {
		return StatusCancelled
	}
	return StatusDone
}

// SaveReport replaces the run's unit and attempt rows with the report's and
// closes the run. The run row is created if the earlier insert never landed.
func (s *Store) SaveReport(ctx context.Context, r model.Report, reportBucket, reportKey string) error {
	totals, err := json.Marshal(r.Totals)
	if err != nil {
		return err
	}
	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `
		INSERT INTO recovery_runs (
		  id, status, target_name, target_path, target_identity, target_format,
		  target_size, python_version, version_provenance, started_at
		)
		VALUES ($1::uuid, 'running', $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING
	`, r.RunID, r.Target.Name, r.Target.Path, r.Target.Identity, nullableString(r.Target.Format),
		r.Target.Size, nullableString(r.Version.Text), nullableString(string(r.Version.Provenance)), r.StartedAt); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM recovery_units WHERE run_id=$1::uuid`, r.RunID); err != nil {
		return err
	}
	if err := batchInsertUnits(ctx, tx, r.RunID, r.Units); err != nil {
		return fmt.Errorf("batch insert units: %w", err)
	}
	if _, err := tx.Exec(ctx, `
		UPDATE recovery_runs
		SET status=$2, finished_at=$3, updated_at=now(),
		    progress_pct=100, progress_msg='completed',
		    report_bucket=$4, report_key=$5, totals_json=$6::jsonb
		WHERE id=$1
	`, r.RunID, runStatus(r), r.FinishedAt, nullableString(reportBucket), nullableString(reportKey), string(totals)); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	s.notifyRunChanged(ctx, r.RunID)
	return nil
}

// batchInsertUnits pipelines unit inserts per chunk to collect their row ids,
// then writes the chunk's attempts as multi-value INSERTs.
func batchInsertUnits(ctx context.Context, tx pgx.Tx, runID string, units []model.UnitOutcome) error {
	return chunks(len(units), batchSize, func(start, end int) error {
		chunk := units[start:end]
		batch := &pgx.Batch{}
		for _, o := range chunk {
			var rawOffset, rawLength *int
			if o.RawRegion != nil {
				rawOffset, rawLength = &o.RawRegion.Offset, &o.RawRegion.Length
			}
			batch.Queue(`
INSERT INTO recovery_units (
  run_id, seq, rel_path, size_bytes, entry_point, category, reason, raw_offset, raw_length
)
VALUES ($1::uuid, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (run_id, rel_path) DO UPDATE SET
  seq = EXCLUDED.seq,
  size_bytes = EXCLUDED.size_bytes,
  entry_point = EXCLUDED.entry_point,
  category = EXCLUDED.category,
  reason = EXCLUDED.reason,
  raw_offset = EXCLUDED.raw_offset,
  raw_length = EXCLUDED.raw_length
RETURNING id`,
				runID,
				o.Unit.Seq,
				o.Unit.RelPath,
				o.Unit.Size,
				o.Unit.EntryPoint,
				coalesceString(string(o.Category), string(model.CategoryFailed)),
				nullableString(o.Reason),
				rawOffset,
				rawLength,
			)
		}

		br := tx.SendBatch(ctx, batch)
		rowIDs := make([]int64, 0, len(chunk))
		for range chunk {
			var id int64
			if err := br.QueryRow().Scan(&id); err != nil {
				_ = br.Close()
				return err
			}
			rowIDs = append(rowIDs, id)
		}
		if err := br.Close(); err != nil {
			return err
		}
		return batchInsertAttempts(ctx, tx, attemptRows(chunk, rowIDs))
	})
}

type attemptRow struct {
	unitRowID int64
	idx       int
	model.Attempt
}

func attemptRows(units []model.UnitOutcome, rowIDs []int64) []attemptRow {
	var rows []attemptRow
	for i, o := range units {
		for j, a := range o.Attempts {
			rows = append(rows, attemptRow{unitRowID: rowIDs[i], idx: j, Attempt: a})
		}
	}
	return rows
}

var attemptCasts = make([]string, 12)

func batchInsertAttempts(ctx context.Context, tx pgx.Tx, rows []attemptRow) error {
	return chunks(len(rows), batchSize, func(start, end int) error {
		chunk := rows[start:end]
		args := make([]interface{}, 0, len(chunk)*len(attemptCasts))
		for _, a := range chunk {
			args = append(args,
				a.unitRowID,
				a.idx,
				a.Tool,
				string(a.Stage),
				a.ExitCode,
				a.StdoutBytes,
				a.StderrBytes,
				a.Duration.Milliseconds(),
				a.Success,
				nullableString(a.Reason),
				nullableString(a.Output),
				nullableString(a.Diagnostic),
			)
		}
		_, err := tx.Exec(ctx, `
INSERT INTO recovery_attempts (
  unit_row_id, idx, tool, stage, exit_code, stdout_bytes, stderr_bytes,
  duration_ms, success, reason, output, diagnostic
) VALUES `+valuesClause(len(chunk), attemptCasts)+`
ON CONFLICT (unit_row_id, idx) DO NOTHING`, args...)
		return err
	})
}

// FailStaleRunning closes runs left 'running' by a process that died before
// saving its report.
func (s *Store) FailStaleRunning(ctx context.Context, idleFor time.Duration) ([]string, error) {
	seconds := int64(idleFor.Seconds())
	if seconds <= 0 {
		return nil, nil
	}
	rows, err := s.Pool.Query(ctx, `
		UPDATE recovery_runs
		SET status='failed',
		    finished_at=now(),
		    error_msg='run abandoned: no progress heartbeat',
		    progress_msg='run abandoned: no progress heartbeat'
		WHERE status='running'
		  AND updated_at < now() - ($1::bigint * interval '1 second')
		RETURNING id::text
	`, seconds)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}

// ListBackfillCandidates returns finished runs whose report was uploaded but
// whose unit rows are missing.
func (s *Store) ListBackfillCandidates(ctx context.Context, limit int) ([]BackfillRun, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.Pool.Query(ctx, `
SELECT r.id::text, r.report_bucket, r.report_key, r.target_name
FROM recovery_runs r
WHERE r.status IN ('done','cancelled')
  AND r.report_bucket IS NOT NULL
  AND r.report_key IS NOT NULL
  AND NOT EXISTS (SELECT 1 FROM recovery_units u WHERE u.run_id=r.id)
  AND COALESCE((r.totals_json->>'total')::int, 1) > 0
ORDER BY COALESCE(r.finished_at, r.created_at), r.id
LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]BackfillRun, 0, limit)
	for rows.Next() {
		var r BackfillRun
		if err := rows.Scan(&r.ID, &r.ReportBucket, &r.ReportKey, &r.TargetName); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
