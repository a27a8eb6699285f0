package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/yourorg/unfreeze/internal/db"
	"go.uber.org/zap"
)

// newMux serves /metrics and /healthz. store may be nil, in which case the
// health check always passes.
func newMux(store *db.Store) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if store != nil {
			if err := store.Ping(r.Context()); err != nil {
				logger.Warn("healthz: db ping failed", zap.Error(err))
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte(`{"status":"unhealthy","reason":"db unreachable"}`))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"healthy"}`))
	})
	return mux
}

// serveHTTP starts the metrics server when addr is set. The returned func
// shuts it down.
func serveHTTP(ctx context.Context, addr string, store *db.Store) (stop func()) {
	if addr == "" {
		return func() {}
	}
	s := &http.Server{Addr: addr, Handler: newMux(store), ReadHeaderTimeout: 5 * time.Second}
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server", zap.Error(err))
		}
	}()
	logger.Info("metrics server listening", zap.String("addr", addr))
	return func() {
		shctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		_ = s.Shutdown(shctx)
		<-done
	}
}
