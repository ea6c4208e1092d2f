package command

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/johnayeni/mws-restaurant-reviews-app/internal/types"
)

// NewPendingCmd creates the pending command.
func NewPendingCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pending",
		Short: "Show writes waiting to be posted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := GetContext(cmd)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			defer ctx.Close()

			reqCtx := commandContext(cmd)
			reviews, err := ctx.App.Queue.DrainReviews(reqCtx)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			favorites, err := ctx.App.Queue.DrainFavorites(reqCtx)
			if err != nil {
				return writeCommandError(cmd, err)
			}

			if ctx.JSONMode {
				return writeJSON(out(cmd), map[string]any{
					"reviews":   reviews,
					"favorites": favorites,
				})
			}
			if len(reviews) == 0 && len(favorites) == 0 {
				fmt.Fprintln(out(cmd), "Nothing pending")
				return nil
			}
			now := time.Now()
			for _, entry := range reviews {
				fmt.Fprintln(out(cmd), formatPendingEntry(entry, now))
			}
			for _, entry := range favorites {
				fmt.Fprintln(out(cmd), formatPendingEntry(entry, now))
			}
			return nil
		},
	}
	return cmd
}

func formatPendingEntry(entry types.PendingMutation, now time.Time) string {
	queued := metaStyle.Render("queued " + relativeTime(entry.QueuedAt, now))
	switch entry.Kind {
	case types.MutationNewReview:
		r := entry.Review
		return fmt.Sprintf("%-8s review of restaurant %d by %s, %s %s",
			entry.LocalID, r.RestaurantID, r.Name, formatStars(r.Rating), queued)
	case types.MutationFavoriteToggle:
		action := "unfave"
		if entry.Favorite.IsFavorite {
			action = "fave"
		}
		return fmt.Sprintf("%-8s %s restaurant %d %s", entry.LocalID, action, entry.Favorite.RestaurantID, queued)
	}
	return entry.LocalID
}
