package command

import (
	"os"

	"github.com/spf13/cobra"
)

const AppName = "reviewsync"

// Version is overwritten at build time using -ldflags.
var Version = "dev"

func NewRootCmd(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   AppName,
		Short: "Reviewsync - offline-first restaurant reviews",
		Long: `Reviewsync browses restaurants and reviews from a local cache and keeps
writes made while offline in a queue until the review service is reachable.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.Version = version
	cmd.SetVersionTemplate(AppName + " version {{.Version}}\n")
	cmd.SetOut(os.Stdout)
	cmd.SetErr(os.Stderr)

	cmd.PersistentFlags().String("server", "", "review service base URL (overrides config)")
	cmd.PersistentFlags().String("data-dir", "", "directory holding the local cache (overrides config)")
	cmd.PersistentFlags().String("config", "", "config file path")
	cmd.PersistentFlags().Bool("json", false, "output in JSON format")
	cmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	cmd.AddCommand(
		NewRestaurantsCmd(),
		NewRestaurantCmd(),
		NewNeighborhoodsCmd(),
		NewCuisinesCmd(),
		NewReviewsCmd(),
		NewReviewCmd(),
		NewFaveCmd(),
		NewUnfaveCmd(),
		NewPendingCmd(),
		NewSyncCmd(),
		NewDaemonCmd(),
		NewConfigCmd(),
	)

	return cmd
}

func Execute() error {
	return NewRootCmd(Version).Execute()
}
