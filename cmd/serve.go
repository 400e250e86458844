package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"conductor/internal/config"
	"conductor/internal/host"
	"conductor/pkg/logging"

	"github.com/spf13/cobra"
)

// serveWatch enables live reconciliation against config file changes.
var serveWatch bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the configured capability servers and keep them supervised",
	Long: `Starts every capability server from the configuration file and supervises
them until interrupted. With --watch, the configuration file is observed and
servers are started or stopped to match edits; changes to an already running
server's definition take effect the next time it is restarted.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	caller, err := buildCaller(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	h := buildHost(ctx, cfg, caller)
	defer func() {
		if err := h.Shutdown(); err != nil {
			logging.Error("CLI", err, "Shutdown finished with errors")
		}
	}()

	if serveWatch {
		watcher := config.NewWatcher(configPath, func(next config.HostConfig) {
			reconcileServers(h, next)
		})
		if err := watcher.Start(); err != nil {
			return err
		}
		defer watcher.Stop()
	}

	logging.Info("CLI", "Serving %d sessions, press Ctrl+C to stop", len(h.Sessions()))
	<-ctx.Done()
	return nil
}

// reconcileServers adds sessions for newly configured servers and stops
// sessions whose definitions were removed.
func reconcileServers(h *host.Host, cfg config.HostConfig) {
	running := make(map[string]bool)
	for _, id := range h.Sessions() {
		running[id] = true
	}

	configured := make(map[string]bool, len(cfg.Servers))
	for _, srv := range cfg.Servers {
		configured[srv.Name] = true
		if running[srv.Name] {
			continue
		}
		if err := registerServer(h, srv); err != nil {
			logging.Error("CLI", err, "Failed to start server %s after reload", srv.Name)
		}
	}

	for id := range running {
		if configured[id] {
			continue
		}
		if err := h.DeregisterSession(id); err != nil {
			logging.Error("CLI", err, "Failed to stop removed server %s", id)
		}
	}
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().BoolVar(&serveWatch, "watch", false, "Reconcile sessions against config file changes")
}
