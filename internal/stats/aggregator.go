// Package stats tallies unit outcomes into the run report. All writes go
// through one goroutine, so concurrent unit completions never interleave.
package stats

import (
	"errors"
	"sort"
	"sync"

	"github.com/yourorg/unfreeze/internal/logging"
	"github.com/yourorg/unfreeze/internal/metrics"
	"github.com/yourorg/unfreeze/internal/model"
	"go.uber.org/zap"
)

// ErrFinalized is returned by Record once Finalize has been called.
var ErrFinalized = errors.New("aggregator already finalized")

type Aggregator struct {
	mu      sync.RWMutex
	closed  bool
	queue   chan model.UnitOutcome
	drained chan struct{}

	report model.Report
	audit  *AuditWriter
	logger *zap.Logger
}

// NewAggregator starts the append queue. base carries the run metadata; its
// Totals and Units are reset. audit may be nil.
func NewAggregator(base model.Report, audit *AuditWriter, logger *zap.Logger) *Aggregator {
	logger = logging.OrNop(logger)
	base.Totals = model.Totals{}
	base.Units = nil
	a := &Aggregator{
		queue:   make(chan model.UnitOutcome, 64),
		drained: make(chan struct{}),
		report:  base,
		audit:   audit,
		logger:  logger,
	}
	go a.loop()
	return a
}

func (a *Aggregator) loop() {
	defer close(a.drained)
	for o := range a.queue {
		if !isCategory(o.Category) {
			a.logger.Warn("unit outcome without a known category, counting as failed",
				zap.String("unit", o.Unit.RelPath), zap.String("category", string(o.Category)))
			o.Category = model.CategoryFailed
		}
		a.report.Totals.Add(o.Category)
		a.report.Units = append(a.report.Units, o)
		metrics.ObserveOutcome(string(o.Category))
		if a.audit != nil {
			if err := a.audit.Write(o); err != nil {
				a.logger.Warn("audit log write failed", zap.String("unit", o.Unit.RelPath), zap.Error(err))
			}
		}
	}
}

// Record commits one terminal outcome. It is safe for concurrent use.
func (a *Aggregator) Record(o model.UnitOutcome) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return ErrFinalized
	}
	a.queue <- o
	return nil
}

// Finalize drains the queue and returns the report with units in discovery
// order, whatever order they completed in. The audit log keeps completion
// order. Later calls return the same report.
func (a *Aggregator) Finalize() model.Report {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.queue)
		<-a.drained
		sort.SliceStable(a.report.Units, func(i, j int) bool {
			return a.report.Units[i].Unit.Seq < a.report.Units[j].Unit.Seq
		})
	}
	a.mu.Unlock()
	return a.report
}

func isCategory(c model.Category) bool {
	for _, known := range model.Categories {
		if c == known {
			return true
		}
	}
	return false
}
