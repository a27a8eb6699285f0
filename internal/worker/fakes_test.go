package worker

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/yourorg/unfreeze/internal/engine"
	"github.com/yourorg/unfreeze/internal/extract"
	"github.com/yourorg/unfreeze/internal/marshal"
	"github.com/yourorg/unfreeze/internal/model"
)

func testEngines() []engine.Engine {
	return []engine.Engine{
		{Name: "pycdc", Stage: model.StagePrimary, Command: []string{"pycdc", "{input}"}, Output: engine.OutputStdout},
		{Name: "uncompyle6", Stage: model.StageSecondary, Command: []string{"uncompyle6", "{input}"}, Output: engine.OutputStdout},
		{Name: "pycdas", Stage: model.StageDisassemble, Command: []string{"pycdas", "{input}"}, Output: engine.OutputStdout},
	}
}

// fakeInvoker succeeds for the unit base names listed under each tool.
type fakeInvoker struct {
	mu      sync.Mutex
	succeed map[string][]string
	calls   []string
	onCall  func()
}

func (f *fakeInvoker) Invoke(ctx context.Context, inv engine.Invocation) model.Attempt {
	name := filepath.Base(inv.Input)
	f.mu.Lock()
	f.calls = append(f.calls, inv.Engine.Name+":"+name)
	f.mu.Unlock()
	if f.onCall != nil {
		f.onCall()
	}

	att := model.Attempt{Tool: inv.Engine.Name, Stage: inv.Engine.Stage}
	for _, ok := range f.succeed[inv.Engine.Name] {
		if ok != name {
			continue
		}
		if err := os.MkdirAll(filepath.Dir(inv.Output), 0o755); err == nil {
			_ = os.WriteFile(inv.Output, []byte("# recovered "+name+"\n"), 0o644)
		}
		att.Success = true
		att.Output = inv.Output
		att.StdoutBytes = 1
		return att
	}
	att.ExitCode = 1
	att.Reason = model.ReasonEngineInvocationFailed
	return att
}

func (f *fakeInvoker) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type fakeRaw struct {
	region *model.Region
	called int
}

func (f *fakeRaw) ExtractFile(src, dst string) (model.Region, error) {
	f.called++
	if f.region == nil {
		return model.Region{}, marshal.ErrNoValidRegion
	}
	return *f.region, os.WriteFile(dst, []byte("raw"), 0o644)
}

type fakeResolver struct {
	v   model.RuntimeVersion
	err error
}

func (f fakeResolver) Resolve(context.Context, model.Target) (model.RuntimeVersion, error) {
	return f.v, f.err
}

// fakeExtractor lays out the given unit contents under workDir.
type fakeExtractor struct {
	units  map[string][]byte
	err    error
	called bool
}

func (f *fakeExtractor) Extract(_ context.Context, target model.Target, _ model.RuntimeVersion, workDir string) (*extract.Extraction, error) {
	f.called = true
	if f.err != nil {
		return nil, f.err
	}
	root := filepath.Join(workDir, target.Name+extract.ExtractedSuffix)
	for rel, data := range f.units {
		p := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return nil, err
		}
		if err := os.WriteFile(p, data, 0o644); err != nil {
			return nil, err
		}
	}
	units, err := extract.EnumerateUnits(root, true)
	if err != nil {
		return nil, err
	}
	return &extract.Extraction{Root: root, Units: units}, nil
}

type fakeStore struct {
	mu       sync.Mutex
	inserted []string
	progress []int
	saved    []model.Report
	bucket   string
	key      string
	failed   []string
	saveErrs int
}

func (s *fakeStore) InsertRun(_ context.Context, r model.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inserted = append(s.inserted, r.RunID)
	return nil
}

func (s *fakeStore) UpdateProgress(_ context.Context, _ string, pct int, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progress = append(s.progress, pct)
	return nil
}

func (s *fakeStore) SaveReport(_ context.Context, r model.Report, bucket, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErrs > 0 {
		s.saveErrs--
		return errors.New("connection reset")
	}
	s.saved = append(s.saved, r)
	s.bucket, s.key = bucket, key
	return nil
}

func (s *fakeStore) MarkFailed(_ context.Context, runID, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed = append(s.failed, runID)
	return nil
}

type fakePublisher struct {
	dirs []string
}

func (p *fakePublisher) Publish(_ context.Context, runID, dir string) (string, string, error) {
	p.dirs = append(p.dirs, dir)
	return "reports", "runs/" + runID + "/" + ReportFile, nil
}

func writeUnit(t *testing.T, dir, name string, data []byte) model.Unit {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, data, 0o644))
	return model.Unit{Path: p, RelPath: name, Size: int64(len(data))}
}
