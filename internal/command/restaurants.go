package command

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/johnayeni/mws-restaurant-reviews-app/internal/cache"
	"github.com/johnayeni/mws-restaurant-reviews-app/internal/types"
)

// NewRestaurantsCmd creates the restaurants command.
func NewRestaurantsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "restaurants",
		Short: "List restaurants",
		Long: `List restaurants, refreshed from the review service.

Filters match exactly; "all" or an empty value matches everything.
--name takes a case-insensitive glob such as "*pizza*".`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := GetContext(cmd)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			defer ctx.Close()

			list, stale, err := awaitFetch(cmd, ctx.App.Cache.FetchRestaurants(commandContext(cmd), nil))
			if err != nil {
				return writeCommandError(cmd, err)
			}

			cuisine, _ := cmd.Flags().GetString("cuisine")
			neighborhood, _ := cmd.Flags().GetString("neighborhood")
			name, _ := cmd.Flags().GetString("name")
			favoritesOnly, _ := cmd.Flags().GetBool("favorites")

			list = cache.FilterByCuisineAndNeighborhood(list, cuisine, neighborhood)
			if list, err = cache.FilterByName(list, name); err != nil {
				return writeCommandError(cmd, fmt.Errorf("invalid --name pattern: %w", err))
			}
			if favoritesOnly {
				list = favoritesOf(list)
			}

			pending, err := ctx.App.Queue.PendingFavorites(commandContext(cmd))
			if err != nil {
				pending = nil
			}

			if ctx.JSONMode {
				return writeJSON(out(cmd), map[string]any{
					"restaurants": list,
					"stale":       stale,
				})
			}
			if len(list) == 0 {
				fmt.Fprintln(out(cmd), "No restaurants found")
				return nil
			}
			for _, r := range list {
				_, queued := pending[r.ID]
				fmt.Fprintln(out(cmd), formatRestaurantLine(r, queued))
			}
			return nil
		},
	}

	cmd.Flags().String("cuisine", cache.All, "only restaurants serving this cuisine")
	cmd.Flags().String("neighborhood", cache.All, "only restaurants in this neighborhood")
	cmd.Flags().String("name", "", "glob matched against restaurant names")
	cmd.Flags().Bool("favorites", false, "only favorite restaurants")
	addCachedFlag(cmd)

	return cmd
}

// NewRestaurantCmd creates the restaurant command.
func NewRestaurantCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "restaurant <id>",
		Short: "Show one restaurant",
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

			restaurant, stale, err := awaitFetch(cmd, ctx.App.Cache.FetchRestaurant(commandContext(cmd), id, nil))
			if err != nil {
				return writeCommandError(cmd, err)
			}
			_, queued, err := ctx.App.Queue.PendingFavorite(commandContext(cmd), id)
			if err != nil {
				queued = false
			}

			if ctx.JSONMode {
				return writeJSON(out(cmd), map[string]any{
					"restaurant":       restaurant,
					"favorite_pending": queued,
					"stale":            stale,
				})
			}
			fmt.Fprint(out(cmd), formatRestaurantDetail(restaurant, queued))
			return nil
		},
	}

	addCachedFlag(cmd)
	return cmd
}

// NewNeighborhoodsCmd creates the neighborhoods command.
func NewNeighborhoodsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "neighborhoods",
		Short: "List the neighborhoods restaurants are in",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := GetContext(cmd)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			defer ctx.Close()

			values, _, err := awaitFetch(cmd, ctx.App.Cache.FetchNeighborhoods(commandContext(cmd), nil))
			if err != nil {
				return writeCommandError(cmd, err)
			}
			return writeFacet(cmd, ctx, "neighborhoods", values)
		},
	}
	addCachedFlag(cmd)
	return cmd
}

// NewCuisinesCmd creates the cuisines command.
func NewCuisinesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cuisines",
		Short: "List the cuisines restaurants serve",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := GetContext(cmd)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			defer ctx.Close()

			values, _, err := awaitFetch(cmd, ctx.App.Cache.FetchCuisines(commandContext(cmd), nil))
			if err != nil {
				return writeCommandError(cmd, err)
			}
			return writeFacet(cmd, ctx, "cuisines", values)
		},
	}
	addCachedFlag(cmd)
	return cmd
}

func writeFacet(cmd *cobra.Command, ctx *CommandContext, key string, values []string) error {
	if ctx.JSONMode {
		if values == nil {
			values = []string{}
		}
		return writeJSON(out(cmd), map[string]any{key: values})
	}
	for _, v := range values {
		fmt.Fprintln(out(cmd), v)
	}
	return nil
}

func favoritesOf(list []types.Restaurant) []types.Restaurant {
	kept := make([]types.Restaurant, 0, len(list))
	for _, r := range list {
		if r.IsFavorite {
			kept = append(kept, r)
		}
	}
	return kept
}

func parseRestaurantID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid restaurant id %q", raw)
	}
	return id, nil
}
