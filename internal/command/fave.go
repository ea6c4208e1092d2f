package command

import (
	"github.com/spf13/cobra"
)

// NewFaveCmd creates the fave command.
func NewFaveCmd() *cobra.Command {
	return newFavoriteCmd("fave <restaurant-id>", "Mark a restaurant as a favorite", true)
}

// NewUnfaveCmd creates the unfave command.
func NewUnfaveCmd() *cobra.Command {
	return newFavoriteCmd("unfave <restaurant-id>", "Remove a restaurant from favorites", false)
}

func newFavoriteCmd(use, short string, desired bool) *cobra.Command {
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Long: short + `.

The change shows up locally right away and is sent to the service by the
background sync daemon. Only the latest change per restaurant is sent.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseRestaurantID(args[0])
			if err != nil {
				return writeCommandError(cmd, err)
			}
			syncNow, _ := cmd.Flags().GetBool("sync")

			ctx, err := GetContext(cmd)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			defer ctx.Close()

			sub, err := ctx.App.ToggleFavorite(commandContext(cmd), id, desired)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			return reportSubmission(cmd, ctx, sub, syncNow)
		},
	}

	cmd.Flags().Bool("sync", false, "post queued writes immediately")
	return cmd
}
