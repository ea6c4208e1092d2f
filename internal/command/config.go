package command

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/johnayeni/mws-restaurant-reviews-app/internal/core"
)

// NewConfigCmd creates the config command.
func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, path, err := resolveConfig(cmd)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			jsonMode, _ := cmd.Flags().GetBool("json")
			if jsonMode {
				return writeJSON(out(cmd), map[string]any{
					"path":   path,
					"config": cfg,
				})
			}

			w := out(cmd)
			fmt.Fprintf(w, "Config file: %s\n", path)
			fmt.Fprintf(w, "  server_url: %s\n", cfg.ServerURL)
			fmt.Fprintf(w, "  data_dir: %s\n", cfg.DataDir)
			fmt.Fprintf(w, "  cache_size: %d\n", cfg.CacheSize)
			fmt.Fprintf(w, "  max_sync_attempts: %d\n", cfg.MaxSyncAttempts)
			fmt.Fprintf(w, "  retry_interval: %s\n", time.Duration(cfg.RetryInterval))
			fmt.Fprintf(w, "  replay_concurrency: %d\n", cfg.ReplayConcurrency)
			fmt.Fprintf(w, "  notifications: %s\n", cfg.Notifications)
			return nil
		},
	}

	cmd.AddCommand(NewConfigSetCmd(), NewConfigPathCmd())
	return cmd
}

// NewConfigSetCmd creates the config set command.
func NewConfigSetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a configuration value",
		Long:  "Set a configuration value. Keys: " + strings.Join(core.ConfigKeys(), ", "),
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configPath(cmd)
			key := normalizeConfigKey(args[0])
			if _, err := core.SetConfigValue(path, key, args[1]); err != nil {
				return writeCommandError(cmd, err)
			}
			if jsonMode, _ := cmd.Flags().GetBool("json"); jsonMode {
				return writeJSON(out(cmd), map[string]string{key: args[1]})
			}
			fmt.Fprintf(out(cmd), "Set %s = %s\n", key, args[1])
			return nil
		},
	}
	return cmd
}

// NewConfigPathCmd creates the config path command.
func NewConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the config file path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(out(cmd), configPath(cmd))
			return nil
		},
	}
}

func configPath(cmd *cobra.Command) string {
	if path, _ := cmd.Flags().GetString("config"); strings.TrimSpace(path) != "" {
		return path
	}
	return core.ConfigPath()
}

func normalizeConfigKey(value string) string {
	return strings.ReplaceAll(value, "-", "_")
}
