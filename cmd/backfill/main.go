// Command backfill loads uploaded run reports into Postgres for runs whose
// unit rows never landed.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/joho/godotenv"
	"github.com/yourorg/unfreeze/internal/config"
	"github.com/yourorg/unfreeze/internal/db"
	"github.com/yourorg/unfreeze/internal/logging"
	"github.com/yourorg/unfreeze/internal/model"
	"github.com/yourorg/unfreeze/internal/s3"
	"go.uber.org/zap"
)

func main() {
	var (
		batchSize = flag.Int("batch-size", 25, "number of runs to ingest per batch")
		maxRuns   = flag.Int("max-runs", 0, "maximum runs to ingest (0 = unlimited)")
		verbose   = flag.Bool("verbose", false, "enable debug logging")
	)
	flag.Parse()

	_ = godotenv.Load(".env.local")
	_ = godotenv.Load(".env")

	logger, err := logging.New(*verbose)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(context.Background(), logger, *batchSize, *maxRuns); err != nil {
		logger.Fatal("backfill failed", zap.Error(err))
	}
}

func run(ctx context.Context, logger *zap.Logger, batchSize, maxRuns int) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if !cfg.DBEnabled() || !cfg.S3Enabled() {
		return errors.New("backfill needs DATABASE_URL and S3_ENDPOINT")
	}

	store, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("db open: %w", err)
	}
	defer store.Close()

	if err := store.EnsureSchema(ctx); err != nil {
		if !isInsufficientPrivilege(err) {
			return fmt.Errorf("ensure schema: %w", err)
		}
		logger.Warn("ensure schema skipped due to insufficient privilege", zap.Error(err))
	}

	s3c, err := s3.New(cfg.S3Endpoint, cfg.S3AccessKey, cfg.S3SecretKey, cfg.S3Region, cfg.S3UseSSL)
	if err != nil {
		return fmt.Errorf("s3 client: %w", err)
	}

	tmpRoot, err := os.MkdirTemp("", "unfreeze-backfill-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(tmpRoot)

	// Failed ingests stay candidates; remember them so the loop terminates.
	tried := map[string]bool{}
	var total, okCount, failCount int
	for maxRuns <= 0 || total < maxRuns {
		limit := batchLimit(batchSize, maxRuns, total) + len(tried)

		listCtx, listCancel := context.WithTimeout(ctx, 20*time.Second)
		candidates, err := store.ListBackfillCandidates(listCtx, limit)
		listCancel()
		if err != nil {
			return fmt.Errorf("list candidates: %w", err)
		}

		progressed := false
		for _, c := range candidates {
			if tried[c.ID] || (maxRuns > 0 && total >= maxRuns) {
				continue
			}
			tried[c.ID] = true
			progressed = true
			total++
			if err := ingestOne(ctx, store, s3c, tmpRoot, c); err != nil {
				failCount++
				logger.Warn("backfill run failed", zap.String("run_id", c.ID), zap.Error(err))
				continue
			}
			okCount++
			logger.Info("backfill run ingested", zap.String("run_id", c.ID), zap.String("target", c.TargetName))
		}
		if !progressed {
			break
		}
	}

	logger.Info("backfill complete", zap.Int("processed", total), zap.Int("ok", okCount), zap.Int("failed", failCount))
	return nil
}

func batchLimit(batchSize, maxRuns, done int) int {
	limit := batchSize
	if limit <= 0 {
		limit = 25
	}
	if maxRuns > 0 && done+limit > maxRuns {
		limit = maxRuns - done
	}
	return limit
}

func ingestOne(ctx context.Context, store *db.Store, s3c *s3.Client, tmpRoot string, c db.BackfillRun) error {
	tmpFile := filepath.Join(tmpRoot, c.ID+".report.json")
	defer os.Remove(tmpFile)

	dlCtx, dlCancel := context.WithTimeout(ctx, 8*time.Minute)
	err := s3c.DownloadToFile(dlCtx, c.ReportBucket, c.ReportKey, tmpFile)
	dlCancel()
	if err != nil {
		return err
	}

	report, err := readReport(tmpFile)
	if err != nil {
		return err
	}
	if report.RunID != c.ID {
		return fmt.Errorf("report belongs to run %s", report.RunID)
	}

	ingestCtx, ingestCancel := context.WithTimeout(ctx, 2*time.Minute)
	defer ingestCancel()
	return store.SaveReport(ingestCtx, report, c.ReportBucket, c.ReportKey)
}

func readReport(path string) (model.Report, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return model.Report{}, err
	}
	var report model.Report
	if err := json.Unmarshal(raw, &report); err != nil {
		return model.Report{}, fmt.Errorf("decode report: %w", err)
	}
	return report, nil
}

func isInsufficientPrivilege(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "42501"
}
