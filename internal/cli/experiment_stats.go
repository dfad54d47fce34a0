package cli

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/emiliopalmerini/abassign/internal/util"
)

var experimentStatsCmd = &cobra.Command{
	Use:   "stats <experiment>",
	Short: "Show assignment counts per variant",
	Long: `Show how many users were assigned to each variant, next to the configured
traffic allocation.

Examples:
  abassign experiment stats timeline-ranking`,
	Args: cobra.ExactArgs(1),
	RunE: runExperimentStats,
}

func runExperimentStats(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, app *AppContext) error {
		exp, err := app.Engine.Experiments().Find(ctx, args[0])
		if err != nil {
			return err
		}
		stats, err := app.Engine.Stats(ctx, exp.ID)
		if err != nil {
			return fmt.Errorf("failed to count assignments: %w", err)
		}
		total := stats.Total()

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Experiment: %s (%s)\n", stats.ExperimentName, stats.Status)
		fmt.Fprintf(out, "Assigned users: %s\n\n", util.FormatNumber(total))

		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "VARIANT\tMODEL\tALLOCATION\tASSIGNED\tSHARE\tDRIFT")
		fmt.Fprintln(w, "-------\t-----\t----------\t--------\t-----\t-----")
		for _, v := range stats.Variants {
			fmt.Fprintf(w, "%s\t%s\t%.4g%%\t%d\t%s\t%+.1f\n",
				v.Name, v.ModelReference, v.TrafficAllocation, v.Assignments,
				util.FormatPercent(v.Assignments, total), stats.Drift(v))
		}
		w.Flush()
		return nil
	})
}
