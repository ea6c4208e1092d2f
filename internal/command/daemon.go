package command

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/johnayeni/mws-restaurant-reviews-app/internal/daemon"
)

// NewDaemonCmd creates the daemon command.
func NewDaemonCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the background sync daemon",
		Long: `Start the daemon that posts queued writes in the background.

The daemon:
- Watches the local cache for newly registered sync triggers
- Retries waiting triggers on an interval while the service is unreachable
- Gives up after max_sync_attempts and notifies you about dropped writes

Only one daemon can run per data directory (enforced via lock file).
Use Ctrl+C or SIGTERM to gracefully shut down.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmdCtx, err := GetContext(cmd)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			defer cmdCtx.Close()

			d, err := cmdCtx.App.NewDaemon()
			if err != nil {
				return writeCommandError(cmd, err)
			}

			ctx, cancel := context.WithCancel(commandContext(cmd))
			defer cancel()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(sigCh)

			if err := d.Start(ctx); err != nil {
				return writeCommandError(cmd, err)
			}

			retry := time.Duration(cmdCtx.Config.RetryInterval)
			if cmdCtx.JSONMode {
				_ = writeJSON(out(cmd), map[string]any{
					"status":         "started",
					"retry_interval": retry.String(),
				})
			} else {
				fmt.Fprintf(out(cmd), "Daemon started (retry interval: %s)\n", retry)
				fmt.Fprintln(out(cmd), "Watching for queued writes...")
				fmt.Fprintln(out(cmd), "Press Ctrl+C to stop")
			}

			select {
			case <-sigCh:
			case <-ctx.Done():
			}

			if !cmdCtx.JSONMode {
				fmt.Fprintln(out(cmd), "\nShutting down...")
			}
			cancel()
			if err := d.Stop(); err != nil {
				return writeCommandError(cmd, err)
			}

			if cmdCtx.JSONMode {
				return writeJSON(out(cmd), map[string]any{"status": "stopped"})
			}
			fmt.Fprintln(out(cmd), "Daemon stopped")
			return nil
		},
	}

	cmd.AddCommand(NewDaemonStatusCmd())
	return cmd
}

// NewDaemonStatusCmd creates the daemon status command.
func NewDaemonStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Check if daemon is running",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := resolveConfig(cmd)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			jsonMode, _ := cmd.Flags().GetBool("json")

			info, err := daemon.ReadLock(cfg.StorePath())
			if err != nil {
				return writeCommandError(cmd, err)
			}

			if jsonMode {
				payload := map[string]any{"running": info != nil}
				if info != nil {
					payload["pid"] = info.PID
					payload["started_at"] = info.StartedAt
				}
				return writeJSON(out(cmd), payload)
			}
			if info == nil {
				fmt.Fprintln(out(cmd), "Daemon is not running")
				return nil
			}
			started := time.Unix(info.StartedAt, 0)
			fmt.Fprintf(out(cmd), "Daemon running (pid %d, started %s)\n",
				info.PID, relativeTime(started.UnixMilli(), time.Now()))
			return nil
		},
	}
	return cmd
}
