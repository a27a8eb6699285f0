package worker

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yourorg/unfreeze/internal/model"
	"github.com/yourorg/unfreeze/internal/stats"
	"github.com/yourorg/unfreeze/internal/version"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var testTarget = model.Target{Path: "/bin/app", Name: "app.exe", Identity: "abc123", Format: "pe", Size: 1024}

func fiveUnits() map[string][]byte {
	return map[string][]byte{
		"main.pyc":        []byte("main"),
		"util.pyc":        []byte("util"),
		"pkg/helpers.pyc": []byte("helpers"),
		"pkg/broken.pyc":  []byte("broken"),
		"pkg/empty.pyc":   nil,
	}
}

func fiveUnitInvoker() *fakeInvoker {
	return &fakeInvoker{succeed: map[string][]string{
		"pycdc":      {"main.pyc", "util.pyc"},
		"uncompyle6": {"helpers.pyc"},
		"pycdas":     {"broken.pyc"},
	}}
}

func newTestRunner(t *testing.T, inv *fakeInvoker, ex *fakeExtractor, concurrency int) *Runner {
	t.Helper()
	r := NewRunner(Options{OutputDir: t.TempDir(), Concurrency: concurrency, Engines: testEngines()},
		fakeResolver{v: model.NewRuntimeVersion(3, 8, model.ProvenanceDetected)}, ex, inv, nil)
	r.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }
	return r
}

func TestRunRecoversEveryUnit(t *testing.T) {
	store := &fakeStore{}
	pub := &fakePublisher{}
	r := newTestRunner(t, fiveUnitInvoker(), &fakeExtractor{units: fiveUnits()}, 3).WithStore(store).WithPublisher(pub)

	report, err := r.Run(context.Background(), testTarget)
	require.NoError(t, err)

	assert.Equal(t, model.Totals{
		SucceededPrimary:   2,
		SucceededSecondary: 1,
		DisassembledOnly:   1,
		RawExtracted:       0,
		Failed:             1,
		Total:              5,
	}, report.Totals)
	assert.Len(t, report.Units, 5)
	assert.False(t, report.Cancelled)
	assert.Equal(t, "3.8", report.Version.Text)

	byRel := map[string]model.UnitOutcome{}
	for i, o := range report.Units {
		assert.Equal(t, i, o.Unit.Seq)
		byRel[o.Unit.RelPath] = o
	}
	assert.Equal(t, model.ReasonEmptyUnit, byRel["pkg/empty.pyc"].Reason)
	assert.Equal(t, model.CategoryDisassembledOnly, byRel["pkg/broken.pyc"].Category)

	outDir := r.OutputDir(testTarget)
	assert.FileExists(t, filepath.Join(outDir, ReportFile))
	assert.FileExists(t, filepath.Join(outDir, SummaryFile))
	assert.FileExists(t, filepath.Join(outDir, DecompiledDir, "main.py"))
	assert.FileExists(t, filepath.Join(outDir, DecompiledDir, "pkg", "helpers.py"))
	assert.FileExists(t, filepath.Join(outDir, DisassembledDir, "pkg", "broken.das"))

	f, err := os.Open(filepath.Join(outDir, AuditFile))
	require.NoError(t, err)
	defer f.Close()
	entries, err := stats.ReadAudit(f)
	require.NoError(t, err)
	assert.Equal(t, report.Totals, stats.Replay(entries, report.RunID))

	require.Len(t, store.saved, 1)
	assert.Equal(t, []string{report.RunID}, store.inserted)
	assert.Equal(t, "reports", store.bucket)
	assert.Equal(t, "runs/"+report.RunID+"/"+ReportFile, store.key)
	assert.Contains(t, store.progress, 100)
	assert.Equal(t, []string{outDir}, pub.dirs)
}

func TestRunCategorySumMatchesTotal(t *testing.T) {
	units := map[string][]byte{}
	for i := 0; i < 40; i++ {
		units[filepath.ToSlash(filepath.Join("pkg", string(rune('a'+i%26))+string(rune('a'+i/26))+".pyc"))] = []byte("x")
	}
	r := newTestRunner(t, &fakeInvoker{}, &fakeExtractor{units: units}, 8)

	report, err := r.Run(context.Background(), testTarget)
	require.NoError(t, err)

	sum := 0
	for _, c := range model.Categories {
		sum += report.Totals.Count(c)
	}
	assert.Equal(t, report.Totals.Total, sum)
	assert.Equal(t, 40, report.Totals.Total)
	assert.Equal(t, 40, report.Totals.Failed)
}

func TestRunStopsOnUnresolvedVersion(t *testing.T) {
	ex := &fakeExtractor{units: fiveUnits()}
	r := NewRunner(Options{OutputDir: t.TempDir()}, fakeResolver{err: version.ErrVersionUnresolved}, ex, &fakeInvoker{}, nil)

	_, err := r.Run(context.Background(), testTarget)
	require.ErrorIs(t, err, version.ErrVersionUnresolved)
	assert.False(t, ex.called)
}

func TestRunExtractionFailureIsFatal(t *testing.T) {
	store := &fakeStore{}
	boom := errors.New("extractor exited 1")
	r := newTestRunner(t, &fakeInvoker{}, &fakeExtractor{err: boom}, 2).WithStore(store)

	report, err := r.Run(context.Background(), testTarget)
	require.ErrorIs(t, err, boom)
	assert.Equal(t, []string{report.RunID}, store.failed)
	assert.Empty(t, store.saved)
	assert.NoFileExists(t, filepath.Join(r.OutputDir(testTarget), ReportFile))
}

func TestRunCancelledLeavesPartialReport(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	inv := fiveUnitInvoker()
	inv.onCall = cancel
	r := newTestRunner(t, inv, &fakeExtractor{units: fiveUnits()}, 1)

	report, err := r.Run(ctx, testTarget)
	require.ErrorIs(t, err, context.Canceled)
	assert.True(t, report.Cancelled)
	assert.Less(t, report.Totals.Total, 5)
	assert.Len(t, report.Units, report.Totals.Total)
	assert.FileExists(t, filepath.Join(r.OutputDir(testTarget), ReportFile))
}

func TestRunRetriesReportSink(t *testing.T) {
	store := &fakeStore{saveErrs: 1}
	r := newTestRunner(t, fiveUnitInvoker(), &fakeExtractor{units: fiveUnits()}, 2).WithStore(store)

	_, err := r.Run(context.Background(), testTarget)
	require.NoError(t, err)
	assert.Len(t, store.saved, 1)
}

func TestRunIsReproducible(t *testing.T) {
	categories := func() []model.Category {
		r := newTestRunner(t, fiveUnitInvoker(), &fakeExtractor{units: fiveUnits()}, 4)
		report, err := r.Run(context.Background(), testTarget)
		require.NoError(t, err)
		var cs []model.Category
		for _, o := range report.Units {
			cs = append(cs, o.Category)
		}
		return cs
	}
	assert.Equal(t, categories(), categories())
}

func TestRunTwiceIntoSameOutputDir(t *testing.T) {
	r := newTestRunner(t, fiveUnitInvoker(), &fakeExtractor{units: fiveUnits()}, 2)

	first, err := r.Run(context.Background(), testTarget)
	require.NoError(t, err)
	second, err := r.Run(context.Background(), testTarget)
	require.NoError(t, err)
	require.NotEqual(t, first.RunID, second.RunID)

	f, err := os.Open(filepath.Join(r.OutputDir(testTarget), AuditFile))
	require.NoError(t, err)
	defer f.Close()
	entries, err := stats.ReadAudit(f)
	require.NoError(t, err)

	require.Len(t, entries, 5)
	for _, e := range entries {
		assert.Equal(t, second.RunID, e.RunID)
	}
	assert.Equal(t, 5, second.Totals.Total)
	assert.Equal(t, second.Totals, stats.Replay(entries, ""))
}

func TestRunClearsPreviousStageOutput(t *testing.T) {
	r := newTestRunner(t, fiveUnitInvoker(), &fakeExtractor{units: fiveUnits()}, 2)
	outDir := r.OutputDir(testTarget)
	stale := []string{
		filepath.Join(outDir, RawDir, "old.marshaled"),
		filepath.Join(outDir, DisassembledDir, "old.das"),
		filepath.Join(outDir, DecompiledDir, "gone.py"),
	}
	for _, p := range stale {
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte("left over"), 0o644))
	}

	_, err := r.Run(context.Background(), testTarget)
	require.NoError(t, err)

	for _, p := range stale {
		assert.NoFileExists(t, p)
	}
	assert.FileExists(t, filepath.Join(outDir, DecompiledDir, "main.py"))
}
