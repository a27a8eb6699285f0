// Package worker runs a recovery: version resolution, extraction, the
// per-unit cascade on a bounded pool, and the run's report sinks.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/yourorg/unfreeze/internal/engine"
	"github.com/yourorg/unfreeze/internal/extract"
	"github.com/yourorg/unfreeze/internal/logging"
	"github.com/yourorg/unfreeze/internal/marshal"
	"github.com/yourorg/unfreeze/internal/metrics"
	"github.com/yourorg/unfreeze/internal/model"
	"github.com/yourorg/unfreeze/internal/stats"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Files written at the top of a run's output directory.
const (
	ReportFile  = "report.json"
	SummaryFile = "summary.txt"
	AuditFile   = "audit.ndjson"
	ExtractDir  = "extract"
)

type VersionResolver interface {
	Resolve(ctx context.Context, target model.Target) (model.RuntimeVersion, error)
}

type Extractor interface {
	Extract(ctx context.Context, target model.Target, v model.RuntimeVersion, workDir string) (*extract.Extraction, error)
}

// RunStore persists run rows. db.Store implements it.
type RunStore interface {
	ProgressSink
	InsertRun(ctx context.Context, r model.Report) error
	SaveReport(ctx context.Context, r model.Report, bucket, key string) error
	MarkFailed(ctx context.Context, runID, msg string) error
}

// Publisher uploads a finished output directory and returns where the
// report landed. s3.Publisher implements it.
type Publisher interface {
	Publish(ctx context.Context, runID, dir string) (bucket, key string, err error)
}

type Options struct {
	OutputDir   string
	Concurrency int
	Engines     []engine.Engine
	SinkTimeout time.Duration
}

type Runner struct {
	opts      Options
	resolver  VersionResolver
	extractor Extractor
	invoker   engine.Invoker
	store     RunStore
	publisher Publisher
	logger    *zap.Logger
	now       func() time.Time
}

func NewRunner(opts Options, resolver VersionResolver, extractor Extractor, invoker engine.Invoker, logger *zap.Logger) *Runner {
	logger = logging.OrNop(logger)
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.SinkTimeout <= 0 {
		opts.SinkTimeout = 2 * time.Minute
	}
	if len(opts.Engines) == 0 {
		opts.Engines = engine.DefaultCatalogue()
	}
	return &Runner{
		opts:      opts,
		resolver:  resolver,
		extractor: extractor,
		invoker:   invoker,
		logger:    logger,
		now:       time.Now,
	}
}

func (r *Runner) WithStore(s RunStore) *Runner {
	r.store = s
	return r
}

func (r *Runner) WithPublisher(p Publisher) *Runner {
	r.publisher = p
	return r
}

// OutputDir is where a run over target writes its artifacts.
func (r *Runner) OutputDir(target model.Target) string {
	return filepath.Join(r.opts.OutputDir, target.Name)
}

// Run recovers every unit of target. Units in flight when ctx is cancelled
// are not recorded; the partial report is still written and returned along
// with ctx's error.
func (r *Runner) Run(ctx context.Context, target model.Target) (model.Report, error) {
	report := model.Report{
		RunID:     uuid.NewString(),
		Target:    target,
		StartedAt: r.now().UTC(),
		Units:     []model.UnitOutcome{},
	}
	log := r.logger.With(zap.String("run_id", report.RunID), zap.String("target", target.Name))

	v, err := r.resolver.Resolve(ctx, target)
	if err != nil {
		metrics.ObserveRun("version_unresolved")
		return report, fmt.Errorf("resolve version: %w", err)
	}
	report.Version = v
	log = log.With(zap.String("python_version", v.Text))

	outDir := r.OutputDir(target)
	if err := prepareOutputDir(outDir); err != nil {
		metrics.ObserveRun("failed")
		return report, err
	}
	if r.store != nil {
		r.sink(ctx, log, "insert run", func(c context.Context) error { return r.store.InsertRun(c, report) })
	}

	ex, err := r.extractor.Extract(ctx, target, v, filepath.Join(outDir, ExtractDir))
	if err != nil {
		metrics.ObserveRun("extraction_failed")
		if r.store != nil {
			r.sink(ctx, log, "mark failed", func(c context.Context) error { return r.store.MarkFailed(c, report.RunID, err.Error()) })
		}
		return report, err
	}

	audit, auditFile, err := stats.CreateAuditLog(filepath.Join(outDir, AuditFile), report.RunID)
	if err != nil {
		metrics.ObserveRun("failed")
		return report, err
	}
	defer auditFile.Close()

	agg := stats.NewAggregator(report, audit, log)
	orch := NewOrchestrator(r.opts.Engines, r.invoker, marshal.NewExtractor(v), outDir, v.Text, log)
	progress := NewProgress(report.RunID, len(ex.Units), r.store, log)

	log.Info("recovering units", zap.Int("units", len(ex.Units)), zap.Int("concurrency", r.opts.Concurrency))
	var g errgroup.Group
	g.SetLimit(r.opts.Concurrency)
	for _, u := range ex.Units {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			o, err := orch.Recover(ctx, u)
			if err != nil {
				log.Debug("unit abandoned", zap.String("unit", u.RelPath), zap.Error(err))
				return nil
			}
			if err := agg.Record(o); err != nil {
				return err
			}
			progress.UnitDone(ctx, o)
			return nil
		})
	}
	werr := g.Wait()

	report = agg.Finalize()
	report.FinishedAt = r.now().UTC()
	report.Cancelled = ctx.Err() != nil

	if err := writeArtifacts(outDir, report); err != nil {
		log.Error("writing report failed", zap.Error(err))
		werr = errors.Join(werr, err)
	}
	r.publish(ctx, log, report, outDir)

	log.Info("run finished",
		zap.Int("committed", progress.Done()),
		zap.Int("total", report.Totals.Total),
		zap.Int("succeeded_primary", report.Totals.SucceededPrimary),
		zap.Int("succeeded_secondary", report.Totals.SucceededSecondary),
		zap.Int("disassembled_only", report.Totals.DisassembledOnly),
		zap.Int("raw_extracted", report.Totals.RawExtracted),
		zap.Int("failed", report.Totals.Failed),
		zap.Bool("cancelled", report.Cancelled))

	switch {
	case report.Cancelled:
		metrics.ObserveRun("cancelled")
		return report, ctx.Err()
	case werr != nil:
		metrics.ObserveRun("failed")
		return report, werr
	}
	metrics.ObserveRun("ok")
	return report, nil
}

// publish hands the finished run to the optional sinks. Sink errors are
// logged and never fail the run.
func (r *Runner) publish(ctx context.Context, log *zap.Logger, report model.Report, outDir string) {
	var bucket, key string
	if r.publisher != nil {
		r.sink(ctx, log, "publish outputs", func(c context.Context) error {
			var err error
			bucket, key, err = r.publisher.Publish(c, report.RunID, outDir)
			return err
		})
	}
	if r.store != nil {
		r.sink(ctx, log, "save report", func(c context.Context) error { return r.store.SaveReport(c, report, bucket, key) })
	}
}

// sink runs fn with retries on a context that survives run cancellation.
func (r *Runner) sink(ctx context.Context, log *zap.Logger, op string, fn func(context.Context) error) {
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.opts.SinkTimeout)
	defer cancel()
	if err := retry(sctx, log, op, 3, 500*time.Millisecond, fn); err != nil {
		log.Error("sink gave up", zap.String("op", op), zap.Error(err))
	}
}

// prepareOutputDir creates dir and clears whatever an earlier run over the
// same target left in it. The extract directory is cleared by the adapter.
func prepareOutputDir(dir string) error {
	for _, name := range []string{DecompiledDir, DisassembledDir, RawDir, ReportFile, SummaryFile} {
		if err := os.RemoveAll(filepath.Join(dir, name)); err != nil {
			return fmt.Errorf("clear previous output: %w", err)
		}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	return nil
}

func writeArtifacts(dir string, report model.Report) error {
	b, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, ReportFile), b, 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, SummaryFile), []byte(stats.Summary(report)), 0o644); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}
	return nil
}
