package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "abassign",
	Short: "Deterministic experiment assignment engine",
	Long: `abassign assigns users to experiment variants deterministically and durably.

Create experiments with weighted variants, move them through their lifecycle,
resolve users to variants, and record outcomes for later analysis.

Configuration is read from ABASSIGN_* environment variables.`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(serveCmd)
}

// withApp builds an AppContext for the duration of fn.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, app *AppContext) error) (err error) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	app, err := NewAppContext(ctx, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer func() {
		if cerr := app.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	return fn(ctx, app)
}
