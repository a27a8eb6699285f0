package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/yourorg/unfreeze/internal/model"
	"github.com/yourorg/unfreeze/internal/stats"
)

func newReplayCmd() *cobra.Command {
	var runID string
	cmd := &cobra.Command{
		Use:   "replay <audit.ndjson>",
		Short: "Rebuild category totals from a run's audit log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			entries, err := stats.ReadAudit(f)
			if err != nil {
				return err
			}
			totals := stats.Replay(entries, runID)

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, c := range model.Categories {
				fmt.Fprintf(tw, "%s\t%d\n", c, totals.Count(c))
			}
			fmt.Fprintf(tw, "total\t%d\n", totals.Total)
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&runID, "run", "", "only count entries of this run id")
	return cmd
}
