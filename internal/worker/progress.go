package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/yourorg/unfreeze/internal/logging"
	"github.com/yourorg/unfreeze/internal/model"
	"go.uber.org/zap"
)

// ProgressSink receives coarse run progress. db.Store implements it.
type ProgressSink interface {
	UpdateProgress(ctx context.Context, runID string, pct int, msg string) error
}

// Progress tracks committed units and reports whenever the completed
// percentage crosses a step boundary.
type Progress struct {
	mu      sync.Mutex
	runID   string
	total   int
	done    int
	lastPct int
	step    int
	sink    ProgressSink
	logger  *zap.Logger
}

func NewProgress(runID string, total int, sink ProgressSink, logger *zap.Logger) *Progress {
	logger = logging.OrNop(logger)
	return &Progress{runID: runID, total: total, lastPct: -1, step: 10, sink: sink, logger: logger}
}

func derivePct(done, total int) int {
	if total <= 0 {
		return 100
	}
	return done * 100 / total
}

// UnitDone records one committed outcome.
func (p *Progress) UnitDone(ctx context.Context, o model.UnitOutcome) {
	p.mu.Lock()
	p.done++
	pct := derivePct(p.done, p.total)
	report := pct == 100 || p.lastPct < 0 || pct/p.step > p.lastPct/p.step
	if report {
		p.lastPct = pct
	}
	done, total := p.done, p.total
	p.mu.Unlock()

	if !report {
		return
	}
	msg := fmt.Sprintf("%d/%d units, last %s (%s)", done, total, o.Unit.RelPath, o.Category)
	p.logger.Info("recovery progress", zap.Int("pct", pct), zap.Int("done", done), zap.Int("total", total))
	if p.sink == nil {
		return
	}
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := p.sink.UpdateProgress(sctx, p.runID, pct, msg); err != nil {
		p.logger.Warn("progress update failed", zap.Error(err))
	}
}

// Done reports how many units have been committed so far.
func (p *Progress) Done() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done
}
