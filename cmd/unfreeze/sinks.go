package main

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/yourorg/unfreeze/internal/db"
	"github.com/yourorg/unfreeze/internal/s3"
	"go.uber.org/zap"
)

// staleRunAfter is how long a 'running' row may go without a progress update
// before it is considered abandoned.
const staleRunAfter = time.Hour

type sinks struct {
	store     *db.Store
	publisher *s3.Publisher
}

// openSinks connects the optional report sinks enabled by configuration.
func openSinks(ctx context.Context) (*sinks, error) {
	s := &sinks{}
	if cfg.DBEnabled() {
		store, err := db.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := store.Ping(ctx); err != nil {
			store.Close()
			return nil, err
		}
		if err := store.EnsureSchema(ctx); err != nil {
			if isInsufficientPrivilege(err) {
				logger.Warn("ensure schema skipped due to insufficient privilege", zap.Error(err))
			} else {
				store.Close()
				return nil, err
			}
		}
		if ids, err := store.FailStaleRunning(ctx, staleRunAfter); err != nil {
			logger.Warn("closing abandoned runs failed", zap.Error(err))
		} else if len(ids) > 0 {
			logger.Info("closed abandoned runs", zap.Strings("run_ids", ids))
		}
		s.store = store
	}
	if cfg.S3Enabled() {
		c, err := s3.New(cfg.S3Endpoint, cfg.S3AccessKey, cfg.S3SecretKey, cfg.S3Region, cfg.S3UseSSL)
		if err != nil {
			s.Close()
			return nil, err
		}
		if err := c.EnsureBucket(ctx, cfg.ReportsBucket, cfg.S3Region); err != nil {
			s.Close()
			return nil, err
		}
		s.publisher = s3.NewPublisher(c, cfg.ReportsBucket)
	}
	return s, nil
}

func (s *sinks) Close() {
	if s.store != nil {
		s.store.Close()
	}
}

func isInsufficientPrivilege(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "42501"
}
