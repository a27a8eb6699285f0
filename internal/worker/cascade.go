package worker

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/yourorg/unfreeze/internal/engine"
	"github.com/yourorg/unfreeze/internal/logging"
	"github.com/yourorg/unfreeze/internal/marshal"
	"github.com/yourorg/unfreeze/internal/metrics"
	"github.com/yourorg/unfreeze/internal/model"
	"go.uber.org/zap"
)

// RawTool is the tool name recorded for the in-process raw extraction stage.
const RawTool = "marshal-scan"

// Output subdirectories, each mirroring the units' relative layout.
const (
	DecompiledDir   = "decompiled"
	DisassembledDir = "disassembled"
	RawDir          = "raw"
)

// RawExtractor is the last cascade stage. It writes the located region to dst.
type RawExtractor interface {
	ExtractFile(src, dst string) (model.Region, error)
}

// Orchestrator runs the recovery cascade for single units. It holds no
// per-unit state and is safe for concurrent use.
type Orchestrator struct {
	engines []engine.Engine
	invoker engine.Invoker
	raw     RawExtractor
	outDir  string
	version string
	logger  *zap.Logger
}

func NewOrchestrator(engines []engine.Engine, invoker engine.Invoker, raw RawExtractor, outDir, version string, logger *zap.Logger) *Orchestrator {
	logger = logging.OrNop(logger)
	return &Orchestrator{
		engines: engines,
		invoker: invoker,
		raw:     raw,
		outDir:  outDir,
		version: version,
		logger:  logger,
	}
}

var stageStates = map[model.Stage]model.UnitState{
	model.StagePrimary:     model.StateTryPrimary,
	model.StageSecondary:   model.StateTrySecondary,
	model.StageDisassemble: model.StateTryDisassemble,
}

// Recover drives unit to a terminal state. Source-producing stages stop the
// cascade on their first success. A successful disassembly is kept as the
// outcome but raw extraction still runs for its side artifact. The only
// error is the context's, in which case the outcome must not be recorded.
func (o *Orchestrator) Recover(ctx context.Context, unit model.Unit) (model.UnitOutcome, error) {
	unit.State = model.StatePending
	out := model.UnitOutcome{Unit: unit, Attempts: []model.Attempt{}}
	log := o.logger.With(zap.String("unit", unit.RelPath))

	if st, err := os.Stat(unit.Path); err == nil {
		out.Unit.Size = st.Size()
	}
	if out.Unit.Size == 0 {
		log.Info("empty unit, skipping engines")
		return o.finish(out, model.StateFailed, model.CategoryFailed, model.ReasonEmptyUnit, log), nil
	}

	disassembled := false
	for _, e := range o.engines {
		if e.Stage == model.StageDisassemble && disassembled {
			continue
		}
		out.Unit.State = stageStates[e.Stage]
		att := o.invoker.Invoke(ctx, engine.Invocation{
			Engine:  e,
			Input:   unit.Path,
			Output:  o.outputPath(e.Stage, unit.RelPath),
			Version: o.version,
		})
		out.Attempts = append(out.Attempts, att)
		if err := ctx.Err(); err != nil {
			return out, err
		}
		log.Debug("engine attempt",
			zap.String("stage", string(e.Stage)),
			zap.String("tool", att.Tool),
			zap.Bool("success", att.Success),
			zap.String("reason", att.Reason),
			zap.Int("exit_code", att.ExitCode),
			zap.Duration("duration", att.Duration))
		if !att.Success {
			continue
		}
		switch e.Stage {
		case model.StagePrimary:
			return o.finish(out, model.StateSucceeded, model.CategorySucceededPrimary, model.ReasonOK, log), nil
		case model.StageSecondary:
			return o.finish(out, model.StateSucceeded, model.CategorySucceededSecondary, model.ReasonOK, log), nil
		case model.StageDisassemble:
			disassembled = true
		}
	}

	out.Unit.State = model.StateTryRawExtract
	att, region := o.rawAttempt(unit)
	out.Attempts = append(out.Attempts, att)
	if region != nil {
		out.RawRegion = region
	}

	switch {
	case disassembled:
		return o.finish(out, model.StateDisassembledOnly, model.CategoryDisassembledOnly, model.ReasonOK, log), nil
	case region != nil:
		return o.finish(out, model.StateRawExtracted, model.CategoryRawExtracted, model.ReasonOK, log), nil
	default:
		return o.finish(out, model.StateFailed, model.CategoryFailed, model.ReasonCascadeExhausted, log), nil
	}
}

func (o *Orchestrator) rawAttempt(unit model.Unit) (att model.Attempt, _ *model.Region) {
	start := time.Now()
	dst := o.outputPath(model.StageRawExtract, unit.RelPath)
	att = model.Attempt{Tool: RawTool, Stage: model.StageRawExtract}

	var region model.Region
	err := os.MkdirAll(filepath.Dir(dst), 0o755)
	if err == nil {
		region, err = o.raw.ExtractFile(unit.Path, dst)
	}
	att.Duration = time.Since(start)
	defer func() { metrics.ObserveAttempt(att.Tool, string(att.Stage), att.Reason, att.Duration) }()

	switch {
	case err == nil:
		att.Success = true
		att.Output = dst
		att.StdoutBytes = int64(region.Length)
		return att, &region
	case errors.Is(err, marshal.ErrNoValidRegion):
		att.Reason = model.ReasonNoValidRegionFound
	default:
		att.Reason = model.ReasonEngineInvocationFailed
	}
	att.ExitCode = 1
	att.Diagnostic = err.Error()
	return att, nil
}

func (o *Orchestrator) finish(out model.UnitOutcome, state model.UnitState, c model.Category, reason string, log *zap.Logger) model.UnitOutcome {
	out.Unit.State = state
	out.Category = c
	out.Reason = reason
	log.Info("unit recovered",
		zap.String("category", string(c)),
		zap.String("reason", reason),
		zap.Int("attempts", len(out.Attempts)))
	return out
}

// outputPath mirrors rel under the stage's output directory.
func (o *Orchestrator) outputPath(stage model.Stage, rel string) string {
	base := strings.TrimSuffix(filepath.FromSlash(rel), ".pyc")
	switch stage {
	case model.StageDisassemble:
		return filepath.Join(o.outDir, DisassembledDir, base+".das")
	case model.StageRawExtract:
		return filepath.Join(o.outDir, RawDir, base+".marshaled")
	default:
		return filepath.Join(o.outDir, DecompiledDir, base+".py")
	}
}
