// Package extract drives the external archive extractor and turns its output
// tree into recovery units.
package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/yourorg/unfreeze/internal/logging"
	"github.com/yourorg/unfreeze/internal/model"
	"go.uber.org/zap"
)

// ErrExtractionFailed is fatal to a run: nothing can be recovered without units.
var ErrExtractionFailed = errors.New("extraction failed")

// ExtractedSuffix is appended to the target's file name to form the
// directory the extractor writes; its presence signals success.
const ExtractedSuffix = "_extracted"

// Options configure the extractor invocation. Args are argv templates with
// the placeholders {target}, {version} and {outdir}.
type Options struct {
	Path           string
	DetectArgs     []string
	ExtractArgs    []string
	DetectTimeout  time.Duration
	ExtractTimeout time.Duration
	IncludeLibrary bool
}

func DefaultOptions(path string) Options {
	return Options{
		Path:           path,
		DetectArgs:     []string{"--detect", "{target}"},
		ExtractArgs:    []string{"--python-version", "{version}", "--output", "{outdir}", "{target}"},
		DetectTimeout:  time.Minute,
		ExtractTimeout: 10 * time.Minute,
	}
}

type Adapter struct {
	opts   Options
	logger *zap.Logger
}

func NewAdapter(opts Options, logger *zap.Logger) *Adapter {
	return &Adapter{opts: opts, logger: logging.OrNop(logger)}
}

// Extraction is the extractor's output as seen by the orchestrator.
type Extraction struct {
	Root        string
	Units       []model.Unit
	EntryPoints []string
}

// DetectOutput runs the extractor in detect-only mode and returns its
// combined output for version scanning.
func (a *Adapter) DetectOutput(ctx context.Context, target model.Target) (string, error) {
	args := expand(a.opts.DetectArgs, target, "", "")
	out, err := a.run(ctx, a.opts.DetectTimeout, "", args)
	if err != nil {
		return out, fmt.Errorf("detect: %w", err)
	}
	return out, nil
}

// Extract unpacks target into workDir and enumerates its units.
func (a *Adapter) Extract(ctx context.Context, target model.Target, v model.RuntimeVersion, workDir string) (*Extraction, error) {
	root := filepath.Join(workDir, target.Name+ExtractedSuffix)
	// A tree left by an earlier run must not pass for this run's output.
	if err := os.RemoveAll(root); err != nil {
		return nil, fmt.Errorf("%w: clear previous extraction: %v", ErrExtractionFailed, err)
	}
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExtractionFailed, err)
	}
	args := expand(a.opts.ExtractArgs, target, v.Text, workDir)
	a.logger.Info("extracting target", zap.String("target", target.Name), zap.String("version", v.Text), zap.String("workdir", workDir))
	out, err := a.run(ctx, a.opts.ExtractTimeout, workDir, args)
	if err != nil {
		a.logger.Error("extractor failed", zap.Error(err), zap.String("output", tail(out, 2048)))
		return nil, fmt.Errorf("%w: %v", ErrExtractionFailed, err)
	}

	st, err := os.Stat(root)
	if err != nil || !st.IsDir() {
		return nil, fmt.Errorf("%w: expected directory %s is missing", ErrExtractionFailed, root)
	}

	units, err := EnumerateUnits(root, a.opts.IncludeLibrary)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExtractionFailed, err)
	}
	ex := &Extraction{Root: root, Units: units}
	for _, u := range units {
		if u.EntryPoint {
			ex.EntryPoints = append(ex.EntryPoints, u.RelPath)
		}
	}
	a.logger.Info("extraction complete", zap.Int("units", len(units)), zap.Strings("entry_points", ex.EntryPoints))
	return ex, nil
}

func (a *Adapter) run(ctx context.Context, timeout time.Duration, dir string, args []string) (string, error) {
	if timeout <= 0 {
		timeout = time.Minute
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	//nolint:gosec // G204: extractor path is operator configuration
	cmd := exec.CommandContext(runCtx, a.opts.Path, args...)
	cmd.Dir = dir
	cmd.WaitDelay = 5 * time.Second
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	a.logger.Debug("exec extractor", zap.String("path", a.opts.Path), zap.Strings("args", args))
	err := cmd.Run()
	if err != nil && errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		err = fmt.Errorf("timeout after %v", timeout)
	}
	return buf.String(), err
}

func expand(tmpl []string, target model.Target, version, outDir string) []string {
	r := strings.NewReplacer("{target}", target.Path, "{version}", version, "{outdir}", outDir)
	out := make([]string, len(tmpl))
	for i, a := range tmpl {
		out[i] = r.Replace(a)
	}
	return out
}

func tail(s string, n int) string {
	if len(s) > n {
		return s[len(s)-n:]
	}
	return s
}

// bootstrapPrefixes name modules the freezer injects; they are never the
// program's own entry point.
var bootstrapPrefixes = []string{"pyiboot", "pyimod", "pyi_rth_"}

func isEntryPoint(rel string) bool {
	if strings.ContainsRune(rel, '/') {
		return false
	}
	base := strings.TrimSuffix(rel, ".pyc")
	if base == "struct" {
		return false
	}
	for _, p := range bootstrapPrefixes {
		if strings.HasPrefix(base, p) {
			return false
		}
	}
	return true
}

// EnumerateUnits lists compiled units under root sorted by relative path.
// Library archives unpacked under *.pyz_extracted are skipped unless
// includeLibrary is set.
func EnumerateUnits(root string, includeLibrary bool) ([]model.Unit, error) {
	var units []model.Unit
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && !includeLibrary && strings.HasSuffix(d.Name(), ".pyz"+ExtractedSuffix) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || !strings.HasSuffix(d.Name(), ".pyc") {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		units = append(units, model.Unit{
			Path:       path,
			RelPath:    rel,
			Size:       info.Size(),
			EntryPoint: isEntryPoint(rel),
			State:      model.StatePending,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(units, func(i, j int) bool { return units[i].RelPath < units[j].RelPath })
	for i := range units {
		units[i].Seq = i
	}
	return units, nil
}
