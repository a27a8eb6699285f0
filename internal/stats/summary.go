package stats

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/yourorg/unfreeze/internal/model"
)

var categoryLabels = map[model.Category]string{
	model.CategorySucceededPrimary:   "succeeded (primary)",
	model.CategorySucceededSecondary: "succeeded (secondary)",
	model.CategoryDisassembledOnly:   "disassembled only",
	model.CategoryRawExtracted:       "raw extracted",
	model.CategoryFailed:             "failed",
}

// Summary renders the human-readable end-of-run counts.
func Summary(r model.Report) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Recovery summary for %s (%s, %s)\n", r.Target.Name, humanize.Bytes(uint64(max(r.Target.Size, 0))), r.Target.Format)
	fmt.Fprintf(&sb, "Python %s (%s), run %s\n", r.Version.Text, r.Version.Provenance, r.RunID)
	if r.Cancelled {
		sb.WriteString("Run was cancelled; only units that finished are counted.\n")
	}
	tw := tabwriter.NewWriter(&sb, 0, 0, 2, ' ', 0)
	for _, c := range model.Categories {
		fmt.Fprintf(tw, "  %s\t%d\n", categoryLabels[c], r.Totals.Count(c))
	}
	fmt.Fprintf(tw, "  total\t%d\n", r.Totals.Total)
	_ = tw.Flush()
	if !r.FinishedAt.IsZero() && !r.StartedAt.IsZero() {
		fmt.Fprintf(&sb, "Finished in %s\n", r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond))
	}
	return sb.String()
}
