package command

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/johnayeni/mws-restaurant-reviews-app/internal/cache"
	"github.com/johnayeni/mws-restaurant-reviews-app/internal/remote"
)

var errNothingCached = errors.New("nothing cached yet")

// awaitFetch returns the refreshed value of f. With --cached the cached value
// is returned without waiting; when the service is unreachable the cached
// value is used and stale is true.
func awaitFetch[T any](cmd *cobra.Command, f *cache.Fetch[T]) (value T, stale bool, err error) {
	cachedOnly, _ := cmd.Flags().GetBool("cached")
	if cachedOnly {
		if !f.Cached {
			return value, false, errNothingCached
		}
		return f.Immediate, true, nil
	}

	value, err = f.Wait(commandContext(cmd))
	if err == nil {
		return value, false, nil
	}
	if f.Cached && errors.Is(err, remote.ErrNetwork) {
		fmt.Fprintf(cmd.ErrOrStderr(), "Offline, showing cached data: %v\n", err)
		return f.Immediate, true, nil
	}
	return value, false, err
}

func addCachedFlag(cmd *cobra.Command) {
	cmd.Flags().Bool("cached", false, "show cached data without contacting the service")
}
