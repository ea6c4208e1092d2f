package command

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/johnayeni/mws-restaurant-reviews-app/internal/daemon"
)

// NewSyncCmd creates the sync command.
func NewSyncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Post queued writes now",
		Long: `Fire every registered background-sync trigger once, the way the daemon does.
When a daemon is running for the same data directory it owns the triggers and
nothing is fired here.

Entries that fail stay queued. After the last allowed attempt the queue is
cleared and a notification is shown.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := GetContext(cmd)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			defer ctx.Close()

			report, err := ctx.App.SyncNow(commandContext(cmd))
			if err != nil {
				return writeCommandError(cmd, err)
			}
			if ctx.JSONMode {
				return writeJSON(out(cmd), reportPayload(report))
			}
			writeReport(cmd, report)
			return nil
		},
	}
	return cmd
}

func writeReport(cmd *cobra.Command, report daemon.Report) {
	w := out(cmd)
	switch {
	case report.DeferredTo != 0:
		fmt.Fprintf(w, "Daemon running (pid %d): queued writes will be posted in the background\n", report.DeferredTo)
		return
	case report.Offline:
		fmt.Fprintln(w, "Offline: queued writes will be posted when the service is reachable")
		return
	case len(report.Fired) == 0:
		fmt.Fprintln(w, "Nothing to sync")
		return
	}
	for _, fired := range report.Fired {
		switch {
		case fired.Err == nil:
			fmt.Fprintf(w, "%s: synced\n", fired.Tag)
		case fired.LastChance:
			fmt.Fprintf(w, "%s: gave up after %d attempts: %v\n", fired.Tag, fired.Attempt, fired.Err)
		default:
			fmt.Fprintf(w, "%s: attempt %d failed, will retry: %v\n", fired.Tag, fired.Attempt, fired.Err)
		}
	}
}

func reportPayload(report daemon.Report) map[string]any {
	fired := make([]map[string]any, 0, len(report.Fired))
	for _, f := range report.Fired {
		entry := map[string]any{
			"tag":         f.Tag,
			"attempt":     f.Attempt,
			"last_chance": f.LastChance,
			"completed":   f.Completed,
		}
		if f.Err != nil {
			entry["error"] = f.Err.Error()
		}
		fired = append(fired, entry)
	}
	payload := map[string]any{
		"offline": report.Offline,
		"fired":   fired,
	}
	if report.DeferredTo != 0 {
		payload["deferred_to"] = report.DeferredTo
	}
	return payload
}
