package stats

import (
	"bytes"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yourorg/unfreeze/internal/model"
	"go.uber.org/goleak"
)

func outcome(seq int, c model.Category) model.UnitOutcome {
	return model.UnitOutcome{
		Unit:     model.Unit{Seq: seq, RelPath: fmt.Sprintf("mod%03d.pyc", seq), Size: 10},
		Category: c,
		Attempts: []model.Attempt{{Tool: "pycdc", Stage: model.StagePrimary, Success: c == model.CategorySucceededPrimary}},
	}
}

func TestAggregatorTalliesEveryUnitOnce(t *testing.T) {
	defer goleak.VerifyNone(t)

	a := NewAggregator(model.Report{RunID: "run"}, nil, nil)
	const n = 500
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, a.Record(outcome(i, model.Categories[i%len(model.Categories)])))
		}(i)
	}
	wg.Wait()
	r := a.Finalize()

	assert.Equal(t, n, r.Totals.Total)
	assert.Len(t, r.Units, n)
	sum := 0
	for _, c := range model.Categories {
		sum += r.Totals.Count(c)
		assert.Equal(t, n/len(model.Categories), r.Totals.Count(c), c)
	}
	assert.Equal(t, r.Totals.Total, sum)
	assert.Equal(t, "run", r.RunID)
}

func TestAggregatorReportsDiscoveryOrder(t *testing.T) {
	defer goleak.VerifyNone(t)

	var buf bytes.Buffer
	a := NewAggregator(model.Report{}, NewAuditWriter(&buf, "run-1"), nil)
	for i := 0; i < 20; i++ {
		require.NoError(t, a.Record(outcome(19-i, model.CategoryFailed)))
	}
	r := a.Finalize()
	require.Len(t, r.Units, 20)
	for i, u := range r.Units {
		assert.Equal(t, i, u.Unit.Seq)
	}

	entries, err := ReadAudit(&buf)
	require.NoError(t, err)
	require.Len(t, entries, 20)
	assert.Equal(t, 19, entries[0].Unit.Seq)
}

func TestAggregatorUnknownCategoryCountsAsFailed(t *testing.T) {
	defer goleak.VerifyNone(t)

	a := NewAggregator(model.Report{}, nil, nil)
	require.NoError(t, a.Record(outcome(0, "bogus")))
	r := a.Finalize()
	assert.Equal(t, 1, r.Totals.Failed)
	assert.Equal(t, model.CategoryFailed, r.Units[0].Category)
}

func TestAggregatorRecordAfterFinalize(t *testing.T) {
	defer goleak.VerifyNone(t)

	a := NewAggregator(model.Report{}, nil, nil)
	require.NoError(t, a.Record(outcome(0, model.CategoryRawExtracted)))
	first := a.Finalize()
	require.ErrorIs(t, a.Record(outcome(1, model.CategoryFailed)), ErrFinalized)
	second := a.Finalize()
	assert.Equal(t, first.Totals, second.Totals)
	assert.Equal(t, 1, second.Totals.RawExtracted)
}

func TestAggregatorResetsBaseTotals(t *testing.T) {
	defer goleak.VerifyNone(t)

	a := NewAggregator(model.Report{Totals: model.Totals{Failed: 3, Total: 3}}, nil, nil)
	r := a.Finalize()
	assert.Equal(t, model.Totals{}, r.Totals)
}

func TestAggregatorWritesAuditLog(t *testing.T) {
	defer goleak.VerifyNone(t)

	var buf bytes.Buffer
	a := NewAggregator(model.Report{}, NewAuditWriter(&buf, "run-1"), nil)
	require.NoError(t, a.Record(outcome(0, model.CategorySucceededPrimary)))
	require.NoError(t, a.Record(outcome(1, model.CategoryDisassembledOnly)))
	require.NoError(t, a.Record(outcome(2, model.CategoryFailed)))
	r := a.Finalize()

	entries, err := ReadAudit(&buf)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "mod001.pyc", entries[1].Unit.RelPath)
	assert.NotEmpty(t, entries[0].TS)
	assert.Equal(t, r.Totals, Replay(entries, "run-1"))
}
