package version

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/yourorg/unfreeze/internal/logging"
	"github.com/yourorg/unfreeze/internal/model"
	"go.uber.org/zap"
)

// Detector runs the extraction tool in detect-only mode and returns its
// combined output.
type Detector interface {
	DetectOutput(ctx context.Context, target model.Target) (string, error)
}

// Prompter asks the operator for a version string. suggestion may be empty.
type Prompter interface {
	PromptVersion(ctx context.Context, target model.Target, suggestion string) (string, error)
}

type Resolver struct {
	store    Store
	detector Detector
	prompter Prompter
	logger   *zap.Logger
}

func NewResolver(store Store, detector Detector, prompter Prompter, logger *zap.Logger) *Resolver {
	return &Resolver{store: store, detector: detector, prompter: prompter, logger: logging.OrNop(logger)}
}

// Resolve returns the runtime version for target, persisting it before
// returning. A persisted answer is returned without running detection.
func (r *Resolver) Resolve(ctx context.Context, target model.Target) (model.RuntimeVersion, error) {
	log := r.logger.With(zap.String("target", target.Name), zap.String("identity", short(target.Identity)))

	v, ok, err := r.store.Get(target.Identity)
	if err != nil {
		return model.RuntimeVersion{}, err
	}
	if ok {
		v.Provenance = model.ProvenancePersisted
		log.Info("using persisted runtime version", zap.String("version", v.Text))
		return v, nil
	}

	v, suggestion, detected := r.detect(ctx, target, log)
	if !detected {
		v, err = r.prompt(ctx, target, suggestion, log)
		if err != nil {
			return model.RuntimeVersion{}, err
		}
	}

	if err := r.store.Put(target.Identity, v); err != nil {
		return model.RuntimeVersion{}, err
	}
	log.Info("runtime version resolved", zap.String("version", v.Text), zap.String("provenance", string(v.Provenance)))
	return v, nil
}

// detect returns a detected version, or a suggestion for the operator when the
// code was ambiguous.
func (r *Resolver) detect(ctx context.Context, target model.Target, log *zap.Logger) (model.RuntimeVersion, string, bool) {
	if r.detector == nil {
		return model.RuntimeVersion{}, "", false
	}
	out, err := r.detector.DetectOutput(ctx, target)
	if err != nil {
		log.Warn("version detection failed", zap.Error(err))
		return model.RuntimeVersion{}, "", false
	}
	d, ok := parseDetectOutput(out)
	if !ok {
		log.Warn("version detection produced no version line")
		return model.RuntimeVersion{}, "", false
	}
	if d.dotted {
		return model.NewRuntimeVersion(d.major, d.minor, model.ProvenanceDetected), "", true
	}
	major, minor, err := Decode(d.code)
	if errors.Is(err, ErrVersionAmbiguous) {
		log.Warn("version code outside known range, asking for confirmation", zap.Int("code", d.code), zap.Error(err))
		if major == 0 {
			return model.RuntimeVersion{}, "", false
		}
		return model.RuntimeVersion{}, fmt.Sprintf("%d.%d", major, minor), false
	}
	return model.NewRuntimeVersion(major, minor, model.ProvenanceDetected), "", true
}

func (r *Resolver) prompt(ctx context.Context, target model.Target, suggestion string, log *zap.Logger) (model.RuntimeVersion, error) {
	if r.prompter == nil {
		return model.RuntimeVersion{}, fmt.Errorf("%w: detection failed and no operator input is available", ErrVersionUnresolved)
	}
	text, err := r.prompter.PromptVersion(ctx, target, suggestion)
	if err != nil {
		return model.RuntimeVersion{}, fmt.Errorf("%w: %w", ErrVersionUnresolved, err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return model.RuntimeVersion{}, fmt.Errorf("%w: empty operator input", ErrVersionUnresolved)
	}
	v := model.RuntimeVersion{Text: text, Provenance: model.ProvenanceManual}
	if major, minor, ok := ParseText(text); ok {
		v.Major, v.Minor = major, minor
	} else {
		log.Warn("operator version is not major.minor, passing it through verbatim", zap.String("version", text))
	}
	return v, nil
}

// Reset forgets the persisted version for target.
func (r *Resolver) Reset(target model.Target) error {
	return r.store.Reset(target.Identity)
}

func short(identity string) string {
	if len(identity) > 12 {
		return identity[:12]
	}
	return identity
}
