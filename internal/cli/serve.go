package cli

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/emiliopalmerini/abassign/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Long: `Start the HTTP API server.

The port defaults to ABASSIGN_SERVER_PORT (8080). When running as an embedded
libsql replica with ABASSIGN_DATABASE_SYNC_INTERVAL set, the replica is synced
in the background.

Examples:
  abassign serve              # Start on the configured port
  abassign serve --port 3000  # Start on port 3000`,
	RunE: runServe,
}

var servePort int

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Port to listen on (overrides ABASSIGN_SERVER_PORT)")
}

func runServe(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, app *AppContext) error {
		ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		port := app.Config.Server.Port
		if servePort != 0 {
			port = servePort
		}

		var metrics http.Handler
		if app.Prometheus != nil {
			metrics = app.Prometheus.Handler()
		}
		server := web.NewServer(app.Engine, web.Options{
			Port:            port,
			Metrics:         metrics,
			Logger:          app.Logger.With("component", "http"),
			ShutdownTimeout: app.Config.Server.ShutdownTimeout,
		})

		g, ctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return server.Start(ctx)
		})
		if app.DB != nil && app.Config.Database.SyncInterval > 0 {
			g.Go(func() error {
				syncReplica(ctx, app, app.Config.Database.SyncInterval)
				return nil
			})
		}
		return g.Wait()
	})
}

func syncReplica(ctx context.Context, app *AppContext, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := app.DB.Sync(); err != nil {
				app.Logger.Warn("replica sync failed", "error", err)
			}
		}
	}
}
