package cli

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/emiliopalmerini/abassign/internal/domain"
	"github.com/emiliopalmerini/abassign/internal/experiment"
	"github.com/emiliopalmerini/abassign/internal/util"
)

var experimentCmd = &cobra.Command{
	Use:   "experiment",
	Short: "Manage experiments",
	Long: `Create experiments, edit their variants while in DRAFT, and move them through
their lifecycle (DRAFT -> RUNNING -> COMPLETED or STOPPED).

Experiments can be referenced by ID or by name.`,
}

var experimentCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a new DRAFT experiment",
	Long: `Create a new experiment in DRAFT.

Variants are given as NAME=MODEL:ALLOCATION and keep the order in which they
are passed. Allocations are percentages and must sum to 100 before activation.

Examples:
  abassign experiment create timeline-ranking \
    --variant A=ranker-v1:50 --variant B=ranker-v2:50
  abassign experiment create checkout --strategy fnv1a -d "Checkout copy test"`,
	Args: cobra.ExactArgs(1),
	RunE: runExperimentCreate,
}

var experimentListCmd = &cobra.Command{
	Use:   "list",
	Short: "List experiments",
	RunE:  runExperimentList,
}

var experimentShowCmd = &cobra.Command{
	Use:   "show <experiment>",
	Short: "Show an experiment and its variants",
	Args:  cobra.ExactArgs(1),
	RunE:  runExperimentShow,
}

var experimentAddVariantCmd = &cobra.Command{
	Use:   "add-variant <experiment> <NAME=MODEL:ALLOCATION>",
	Short: "Add a variant to a DRAFT experiment",
	Args:  cobra.ExactArgs(2),
	RunE:  runExperimentAddVariant,
}

var experimentUpdateVariantCmd = &cobra.Command{
	Use:   "update-variant <experiment> <variant>",
	Short: "Change a variant of a DRAFT experiment",
	Long: `Change the name, model reference or traffic allocation of a variant.
Only the flags that are passed are changed.

Examples:
  abassign experiment update-variant checkout B --allocation 55`,
	Args: cobra.ExactArgs(2),
	RunE: runExperimentUpdateVariant,
}

var experimentRemoveVariantCmd = &cobra.Command{
	Use:   "remove-variant <experiment> <variant>",
	Short: "Remove a variant from a DRAFT experiment",
	Args:  cobra.ExactArgs(2),
	RunE:  runExperimentRemoveVariant,
}

var experimentActivateCmd = &cobra.Command{
	Use:   "activate <experiment>",
	Short: "Start a DRAFT experiment",
	Long: `Validate the variant allocations and move the experiment to RUNNING.
From then on its variants are immutable.`,
	Args: cobra.ExactArgs(1),
	RunE: runExperimentActivate,
}

var experimentCompleteCmd = &cobra.Command{
	Use:   "complete <experiment>",
	Short: "Complete a RUNNING experiment",
	Args:  cobra.ExactArgs(1),
	RunE:  runExperimentComplete,
}

var experimentStopCmd = &cobra.Command{
	Use:   "stop <experiment>",
	Short: "Stop a RUNNING experiment early",
	Args:  cobra.ExactArgs(1),
	RunE:  runExperimentStop,
}

var experimentDeleteCmd = &cobra.Command{
	Use:   "delete <experiment>",
	Short: "Delete a DRAFT experiment",
	Args:  cobra.ExactArgs(1),
	RunE:  runExperimentDelete,
}

// Flags
var (
	expDescription string
	expStrategy    string
	expVariants    []string
	expStatus      string
	expStopReason  string

	variantName       string
	variantModel      string
	variantAllocation float64
)

func init() {
	rootCmd.AddCommand(experimentCmd)

	experimentCmd.AddCommand(experimentCreateCmd)
	experimentCmd.AddCommand(experimentListCmd)
	experimentCmd.AddCommand(experimentShowCmd)
	experimentCmd.AddCommand(experimentAddVariantCmd)
	experimentCmd.AddCommand(experimentUpdateVariantCmd)
	experimentCmd.AddCommand(experimentRemoveVariantCmd)
	experimentCmd.AddCommand(experimentActivateCmd)
	experimentCmd.AddCommand(experimentCompleteCmd)
	experimentCmd.AddCommand(experimentStopCmd)
	experimentCmd.AddCommand(experimentDeleteCmd)
	experimentCmd.AddCommand(experimentStatsCmd)

	experimentCreateCmd.Flags().StringVarP(&expDescription, "description", "d", "", "Description of the experiment")
	experimentCreateCmd.Flags().StringVar(&expStrategy, "strategy", "", "Bucketing hash: xxh3 (default) or fnv1a")
	experimentCreateCmd.Flags().StringArrayVarP(&expVariants, "variant", "v", nil, "Variant as NAME=MODEL:ALLOCATION (repeatable)")

	experimentListCmd.Flags().StringVarP(&expStatus, "status", "s", "", "Only list experiments in this status")

	experimentUpdateVariantCmd.Flags().StringVar(&variantName, "name", "", "New variant name")
	experimentUpdateVariantCmd.Flags().StringVar(&variantModel, "model", "", "New model reference")
	experimentUpdateVariantCmd.Flags().Float64Var(&variantAllocation, "allocation", 0, "New traffic allocation in percent")

	experimentStopCmd.Flags().StringVarP(&expStopReason, "reason", "r", "", "Why the experiment was stopped")
}

func runExperimentCreate(cmd *cobra.Command, args []string) error {
	in := experiment.CreateInput{Name: args[0], Strategy: expStrategy}
	if cmd.Flags().Changed("description") {
		in.Description = &expDescription
	}
	for _, spec := range expVariants {
		v, err := parseVariantSpec(spec)
		if err != nil {
			return err
		}
		in.Variants = append(in.Variants, v)
	}

	return withApp(cmd, func(ctx context.Context, app *AppContext) error {
		exp, err := app.Engine.Experiments().Create(ctx, in)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Created experiment %s (%s) with %d variants\n", exp.Name, exp.ID, len(exp.Variants))
		return nil
	})
}

func runExperimentList(cmd *cobra.Command, args []string) error {
	var status *domain.ExperimentStatus
	if expStatus != "" {
		s, err := domain.ParseExperimentStatus(expStatus)
		if err != nil {
			return err
		}
		status = &s
	}

	return withApp(cmd, func(ctx context.Context, app *AppContext) error {
		exps, err := app.Engine.Experiments().List(ctx, status)
		if err != nil {
			return fmt.Errorf("failed to list experiments: %w", err)
		}

		out := cmd.OutOrStdout()
		if len(exps) == 0 {
			fmt.Fprintln(out, "No experiments found")
			return nil
		}

		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tSTATUS\tVARIANTS\tSTRATEGY\tCREATED\tACTIVATED\tCOMPLETED")
		fmt.Fprintln(w, "----\t------\t--------\t--------\t-------\t---------\t---------")
		for _, exp := range exps {
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\t%s\n",
				exp.Name, exp.Status, len(exp.Variants), exp.Strategy,
				util.FormatDateTime(&exp.CreatedAt), util.FormatDateTime(exp.ActivatedAt), util.FormatDateTime(exp.CompletedAt))
		}
		w.Flush()
		return nil
	})
}

func runExperimentShow(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, app *AppContext) error {
		exp, err := app.Engine.Experiments().Find(ctx, args[0])
		if err != nil {
			return err
		}
		printExperiment(cmd.OutOrStdout(), exp)
		return nil
	})
}

func runExperimentAddVariant(cmd *cobra.Command, args []string) error {
	in, err := parseVariantSpec(args[1])
	if err != nil {
		return err
	}

	return withApp(cmd, func(ctx context.Context, app *AppContext) error {
		exp, err := app.Engine.Experiments().Find(ctx, args[0])
		if err != nil {
			return err
		}
		v, err := app.Engine.Experiments().AddVariant(ctx, exp.ID, in)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Added variant %s (%s) to %s\n", v.Name, v.ID, exp.Name)
		return nil
	})
}

func runExperimentUpdateVariant(cmd *cobra.Command, args []string) error {
	var upd experiment.VariantUpdate
	if cmd.Flags().Changed("name") {
		upd.Name = &variantName
	}
	if cmd.Flags().Changed("model") {
		upd.ModelReference = &variantModel
	}
	if cmd.Flags().Changed("allocation") {
		upd.TrafficAllocation = &variantAllocation
	}
	if upd == (experiment.VariantUpdate{}) {
		return fmt.Errorf("nothing to update: pass --name, --model or --allocation")
	}

	return withApp(cmd, func(ctx context.Context, app *AppContext) error {
		exp, err := app.Engine.Experiments().Find(ctx, args[0])
		if err != nil {
			return err
		}
		current, err := findVariant(exp, args[1])
		if err != nil {
			return err
		}
		v, err := app.Engine.Experiments().UpdateVariant(ctx, exp.ID, current.ID, upd)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Updated variant %s: model %s, allocation %.4g%%\n", v.Name, v.ModelReference, v.TrafficAllocation)
		return nil
	})
}

func runExperimentRemoveVariant(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, app *AppContext) error {
		exp, err := app.Engine.Experiments().Find(ctx, args[0])
		if err != nil {
			return err
		}
		v, err := findVariant(exp, args[1])
		if err != nil {
			return err
		}
		if err := app.Engine.Experiments().RemoveVariant(ctx, exp.ID, v.ID); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Removed variant %s from %s\n", v.Name, exp.Name)
		return nil
	})
}

func runExperimentActivate(cmd *cobra.Command, args []string) error {
	return transitionExperiment(cmd, args[0], func(ctx context.Context, c *experiment.Controller, id string) (*domain.Experiment, error) {
		return c.Activate(ctx, id)
	})
}

func runExperimentComplete(cmd *cobra.Command, args []string) error {
	return transitionExperiment(cmd, args[0], func(ctx context.Context, c *experiment.Controller, id string) (*domain.Experiment, error) {
		return c.Complete(ctx, id)
	})
}

func runExperimentStop(cmd *cobra.Command, args []string) error {
	return transitionExperiment(cmd, args[0], func(ctx context.Context, c *experiment.Controller, id string) (*domain.Experiment, error) {
		return c.Stop(ctx, id, expStopReason)
	})
}

func transitionExperiment(cmd *cobra.Command, ref string, apply func(context.Context, *experiment.Controller, string) (*domain.Experiment, error)) error {
	return withApp(cmd, func(ctx context.Context, app *AppContext) error {
		c := app.Engine.Experiments()
		exp, err := c.Find(ctx, ref)
		if err != nil {
			return err
		}
		exp, err = apply(ctx, c, exp.ID)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Experiment %s is now %s\n", exp.Name, exp.Status)
		return nil
	})
}

func runExperimentDelete(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, app *AppContext) error {
		exp, err := app.Engine.Experiments().Find(ctx, args[0])
		if err != nil {
			return err
		}
		if err := app.Engine.Experiments().Delete(ctx, exp.ID); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted experiment %s\n", exp.Name)
		return nil
	})
}
