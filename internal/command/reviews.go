package command

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/johnayeni/mws-restaurant-reviews-app/internal/app"
	"github.com/johnayeni/mws-restaurant-reviews-app/internal/types"
)

// NewReviewsCmd creates the reviews command.
func NewReviewsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reviews <restaurant-id>",
		Short: "List reviews for a restaurant",
		Long:  "List confirmed reviews oldest first, followed by reviews still waiting to be posted.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseRestaurantID(args[0])
			if err != nil {
				return writeCommandError(cmd, err)
			}
			ctx, err := GetContext(cmd)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			defer ctx.Close()

			reviews, stale, err := awaitFetch(cmd, ctx.App.Cache.FetchReviews(commandContext(cmd), id, nil))
			if err != nil {
				return writeCommandError(cmd, err)
			}

			if ctx.JSONMode {
				if reviews == nil {
					reviews = []types.Review{}
				}
				return writeJSON(out(cmd), map[string]any{
					"reviews": reviews,
					"stale":   stale,
				})
			}
			if len(reviews) == 0 {
				fmt.Fprintln(out(cmd), "No reviews yet")
				return nil
			}
			now := time.Now()
			for _, r := range reviews {
				fmt.Fprintln(out(cmd), formatReview(r, now))
			}
			return nil
		},
	}

	addCachedFlag(cmd)
	return cmd
}

// NewReviewCmd creates the review command group.
func NewReviewCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "review",
		Short: "Write reviews",
	}
	cmd.AddCommand(NewReviewAddCmd())
	return cmd
}

// NewReviewAddCmd creates the review add command.
func NewReviewAddCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add <restaurant-id>",
		Short: "Add a review",
		Long: `Add a review for a restaurant.

The review is queued locally and posted by the background sync daemon (or
by 'reviewsync sync'). Use --sync to post it right away.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseRestaurantID(args[0])
			if err != nil {
				return writeCommandError(cmd, err)
			}
			name, _ := cmd.Flags().GetString("name")
			rating, _ := cmd.Flags().GetInt("rating")
			comments, _ := cmd.Flags().GetString("comments")
			syncNow, _ := cmd.Flags().GetBool("sync")

			review := types.Review{
				RestaurantID: id,
				Name:         strings.TrimSpace(name),
				Rating:       rating,
				Comments:     comments,
			}
			if err := review.Validate(); err != nil {
				return writeCommandError(cmd, err)
			}

			ctx, err := GetContext(cmd)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			defer ctx.Close()

			sub, err := ctx.App.SubmitReview(commandContext(cmd), review)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			return reportSubmission(cmd, ctx, sub, syncNow)
		},
	}

	cmd.Flags().String("name", "", "reviewer name")
	cmd.Flags().Int("rating", 0, "rating from 1 to 5")
	cmd.Flags().String("comments", "", "review text")
	cmd.Flags().Bool("sync", false, "post queued writes immediately")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("rating")

	return cmd
}

// reportSubmission prints the outcome of a write and optionally flushes the queue.
func reportSubmission(cmd *cobra.Command, ctx *CommandContext, sub app.Submission, syncNow bool) error {
	payload := map[string]any{"submission": sub}
	if sub.Queued && syncNow {
		report, err := ctx.App.SyncNow(commandContext(cmd))
		if err != nil {
			return writeCommandError(cmd, err)
		}
		payload["sync"] = reportPayload(report)
		if !ctx.JSONMode {
			defer writeReport(cmd, report)
		}
	}

	if ctx.JSONMode {
		return writeJSON(out(cmd), payload)
	}
	switch {
	case sub.Queued:
		fmt.Fprintf(out(cmd), "Queued %s %s\n", sub.LocalID, pendingStyle.Render(pendingMarker))
	case sub.Review != nil:
		fmt.Fprintf(out(cmd), "Posted review %d\n", sub.Review.ID)
	case sub.Restaurant != nil:
		fmt.Fprintln(out(cmd), formatRestaurantLine(*sub.Restaurant, false))
	}
	return nil
}
