package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/emiliopalmerini/abassign/internal/domain"
	"github.com/emiliopalmerini/abassign/internal/engine"
	"github.com/emiliopalmerini/abassign/internal/ports"
	"github.com/emiliopalmerini/abassign/internal/util"
)

var resolveCmd = &cobra.Command{
	Use:   "resolve <experiment> <user>",
	Short: "Resolve the variant of a user",
	Long: `Return the variant a user is assigned to, creating the assignment the first
time the user is seen by a RUNNING experiment.

Examples:
  abassign resolve timeline-ranking user-42`,
	Args: cobra.ExactArgs(2),
	RunE: runResolve,
}

var outcomeCmd = &cobra.Command{
	Use:   "outcome <experiment> <variant>",
	Short: "Report an outcome for a variant",
	Long: `Record an outcome event attributed to a variant.

Examples:
  abassign outcome timeline-ranking B --user user-42 --payload '{"clicked":true}'
  abassign outcome timeline-ranking A --type recommendation_request`,
	Args: cobra.ExactArgs(2),
	RunE: runOutcome,
}

var eraseCmd = &cobra.Command{
	Use:   "erase <user>",
	Short: "Erase every assignment and event of a user",
	Args:  cobra.ExactArgs(1),
	RunE:  runErase,
}

var auditCmd = &cobra.Command{
	Use:   "audit <experiment> <user>",
	Short: "Compare a stored assignment with a fresh resolution",
	Long: `Recompute the variant of a user from the experiment configuration alone and
compare it with the stored assignment.`,
	Args: cobra.ExactArgs(2),
	RunE: runAudit,
}

var eventsCmd = &cobra.Command{
	Use:   "events <experiment>",
	Short: "List recorded events of an experiment",
	Args:  cobra.ExactArgs(1),
	RunE:  runEvents,
}

var (
	outcomeUser    string
	outcomeType    string
	outcomePayload string

	eventsType  string
	eventsLimit int
)

func init() {
	rootCmd.AddCommand(resolveCmd)
	rootCmd.AddCommand(outcomeCmd)
	rootCmd.AddCommand(eraseCmd)
	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(eventsCmd)

	outcomeCmd.Flags().StringVarP(&outcomeUser, "user", "u", "", "User the outcome belongs to")
	outcomeCmd.Flags().StringVarP(&outcomeType, "type", "t", string(domain.EventOutcome), "Event type")
	outcomeCmd.Flags().StringVar(&outcomePayload, "payload", "", "JSON object stored with the event")

	eventsCmd.Flags().StringVarP(&eventsType, "type", "t", "", "Only list events of this type")
	eventsCmd.Flags().IntVarP(&eventsLimit, "limit", "n", 0, "Maximum number of events (0 for all)")
}

func runResolve(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, app *AppContext) error {
		exp, err := app.Engine.Experiments().Find(ctx, args[0])
		if err != nil {
			return err
		}
		res, err := app.Engine.ResolveVariant(ctx, exp.ID, args[1])
		if err != nil {
			return err
		}

		state := "existing"
		if res.Created {
			state = "new"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s (%s) [%s assignment]\n", args[1], res.VariantName, res.ModelReference, state)
		return nil
	})
}

func runOutcome(cmd *cobra.Command, args []string) error {
	var payload map[string]any
	if outcomePayload != "" {
		if err := json.Unmarshal([]byte(outcomePayload), &payload); err != nil {
			return fmt.Errorf("invalid --payload: %w", err)
		}
	}

	return withApp(cmd, func(ctx context.Context, app *AppContext) error {
		exp, err := app.Engine.Experiments().Find(ctx, args[0])
		if err != nil {
			return err
		}
		variant, err := findVariant(exp, args[1])
		if err != nil {
			return err
		}

		err = app.Engine.ReportOutcome(ctx, engine.OutcomeReport{
			ExperimentID: exp.ID,
			VariantID:    variant.ID,
			UserID:       outcomeUser,
			EventType:    domain.EventType(outcomeType),
			Payload:      payload,
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Recorded %s for %s/%s\n", outcomeType, exp.Name, variant.Name)
		return nil
	})
}

func runErase(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, app *AppContext) error {
		res, err := app.Engine.EraseForUser(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Erased %d assignments and %d events of %s\n", res.Assignments, res.Events, args[0])
		return nil
	})
}

func runAudit(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, app *AppContext) error {
		exp, err := app.Engine.Experiments().Find(ctx, args[0])
		if err != nil {
			return err
		}
		report, err := app.Engine.Audit(ctx, exp.ID, args[1])
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Resolver: %s (bucket %.5f)\n", report.ResolvedVariant.Name, report.ResolvedBucket)
		if report.Stored == nil {
			fmt.Fprintln(out, "Stored:   none")
			return nil
		}
		stored := report.Stored.VariantID
		if v := exp.Variant(stored); v != nil {
			stored = v.Name
		}
		fmt.Fprintf(out, "Stored:   %s (bucket %.5f, assigned %s)\n", stored, report.Stored.Bucket, util.FormatDateTime(&report.Stored.AssignedAt))
		if report.Match {
			fmt.Fprintln(out, "Match:    yes")
		} else {
			fmt.Fprintln(out, "Match:    NO")
		}
		return nil
	})
}

func runEvents(cmd *cobra.Command, args []string) error {
	var filter ports.EventFilter
	if eventsType != "" {
		t := domain.EventType(eventsType)
		filter.Type = &t
	}
	if eventsLimit < 0 {
		return fmt.Errorf("--limit must not be negative")
	}
	filter.Limit = eventsLimit

	return withApp(cmd, func(ctx context.Context, app *AppContext) error {
		exp, err := app.Engine.Experiments().Find(ctx, args[0])
		if err != nil {
			return err
		}
		evts, err := app.Engine.ListEvents(ctx, exp.ID, filter)
		if err != nil {
			return fmt.Errorf("failed to list events: %w", err)
		}

		out := cmd.OutOrStdout()
		if len(evts) == 0 {
			fmt.Fprintln(out, "No events found")
			return nil
		}

		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "RECORDED\tTYPE\tVARIANT\tUSER\tPAYLOAD")
		fmt.Fprintln(w, "--------\t----\t-------\t----\t-------")
		for _, e := range evts {
			variant := "-"
			if e.VariantID != nil {
				variant = *e.VariantID
				if v := exp.Variant(variant); v != nil {
					variant = v.Name
				}
			}
			user := "-"
			if e.UserID != nil {
				user = *e.UserID
			}
			payload := "-"
			if len(e.Payload) > 0 {
				raw, _ := json.Marshal(e.Payload)
				payload = string(raw)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", util.FormatDateTime(&e.RecordedAt), e.Type, variant, user, payload)
		}
		w.Flush()
		return nil
	})
}
