package command

import (
	"context"
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/spf13/cobra"

	"github.com/johnayeni/mws-restaurant-reviews-app/internal/app"
	"github.com/johnayeni/mws-restaurant-reviews-app/internal/core"
	"github.com/johnayeni/mws-restaurant-reviews-app/internal/host"
)

// CommandContext provides shared command resources.
type CommandContext struct {
	App        *app.App
	Config     core.Config
	ConfigPath string
	JSONMode   bool
	Debug      bool
}

// Close releases the store handle.
func (c *CommandContext) Close() {
	if c == nil || c.App == nil {
		return
	}
	_ = c.App.Close()
}

// GetContext loads configuration and opens the application for a command.
func GetContext(cmd *cobra.Command) (*CommandContext, error) {
	cfg, path, err := resolveConfig(cmd)
	if err != nil {
		return nil, err
	}
	jsonMode, _ := cmd.Flags().GetBool("json")
	debug, _ := cmd.Flags().GetBool("debug")

	notifier, err := host.NewDesktopNotifier(core.FilePermissions{Path: path})
	if err != nil {
		return nil, fmt.Errorf("load notification permission: %w", err)
	}
	errOut := cmd.ErrOrStderr()
	notifier.Prompt = func(context.Context) (host.Permission, error) {
		if !jsonMode {
			fmt.Fprintf(errOut, "Notifications enabled for background sync results. Turn off with: %s config set notifications denied\n", AppName)
		}
		return host.PermissionGranted, nil
	}

	var logger *log.Logger
	if debug {
		logger = log.New(errOut, "["+AppName+"] ", log.LstdFlags)
	}

	a, err := app.Open(commandContext(cmd), cfg, app.Options{
		Logger:     logger,
		Notifier:   notifier,
		ConfigPath: path,
		Debug:      debug,
	})
	if err != nil {
		return nil, err
	}
	return &CommandContext{
		App:        a,
		Config:     cfg,
		ConfigPath: path,
		JSONMode:   jsonMode,
		Debug:      debug,
	}, nil
}

// resolveConfig reads the config file and applies flag overrides.
func resolveConfig(cmd *cobra.Command) (core.Config, string, error) {
	path := configPath(cmd)
	cfg, err := core.LoadConfig(path)
	if err != nil {
		return core.Config{}, path, err
	}
	if server, _ := cmd.Flags().GetString("server"); strings.TrimSpace(server) != "" {
		cfg.ServerURL = strings.TrimSpace(server)
	}
	if dir, _ := cmd.Flags().GetString("data-dir"); strings.TrimSpace(dir) != "" {
		cfg.DataDir = strings.TrimSpace(dir)
	}
	return cfg, path, cfg.Validate()
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func out(cmd *cobra.Command) io.Writer {
	return cmd.OutOrStdout()
}
