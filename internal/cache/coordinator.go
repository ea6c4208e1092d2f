package cache

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"sync"

	"github.com/johnayeni/mws-restaurant-reviews-app/internal/db"
	"github.com/johnayeni/mws-restaurant-reviews-app/internal/types"
)

// DefaultCacheSize is how many restaurants the local cache retains.
const DefaultCacheSize = 30

// Remote is the subset of the review service the coordinator reads from.
type Remote interface {
	ListRestaurants(ctx context.Context) ([]types.Restaurant, error)
	GetRestaurant(ctx context.Context, id int64) (types.Restaurant, error)
	ListReviews(ctx context.Context, restaurantID int64) ([]types.Review, error)
}

// Overlay exposes unconfirmed local writes so reads reflect optimistic state.
type Overlay interface {
	PendingFavorites(ctx context.Context) (map[int64]bool, error)
	PendingReviewsFor(ctx context.Context, restaurantID int64) ([]types.Review, error)
}

// Options configures a Coordinator.
type Options struct {
	CacheSize int
	Overlay   Overlay
	Logger    *log.Logger
}

// Coordinator serves cached data immediately and refreshes it from the remote
// service in the background. A nil store runs it in network-only mode.
type Coordinator struct {
	store     *db.Store
	remote    Remote
	overlay   Overlay
	cacheSize int
	logger    *log.Logger

	wg sync.WaitGroup
}

// NewCoordinator wires a coordinator over store and remote.
func NewCoordinator(store *db.Store, remote Remote, opts Options) *Coordinator {
	size := opts.CacheSize
	if size <= 0 {
		size = DefaultCacheSize
	}
	return &Coordinator{
		store:     store,
		remote:    remote,
		overlay:   opts.Overlay,
		cacheSize: size,
		logger:    opts.Logger,
	}
}

// SetOverlay installs the pending-write overlay after construction.
func (c *Coordinator) SetOverlay(overlay Overlay) {
	c.overlay = overlay
}

// Close waits for in-flight refreshes.
func (c *Coordinator) Close() {
	c.wg.Wait()
}

// FetchRestaurants returns the cached restaurant list and refreshes it. On a
// successful refresh cb sees the fresh list before it is written back and the
// cache trimmed; on failure cb gets the error and the cached list stands.
func (c *Coordinator) FetchRestaurants(ctx context.Context, cb func([]types.Restaurant, error)) *Fetch[[]types.Restaurant] {
	cached, ok := c.cachedRestaurants(ctx)
	f := newFetch(c.mergeFavorites(ctx, cached), ok)

	c.refresh(func() {
		fresh, err := c.remote.ListRestaurants(ctx)
		if err != nil {
			c.logf("refresh restaurants: %v", err)
			notify(cb, nil, err)
			f.resolve(nil, err)
			return
		}
		merged := c.mergeFavorites(ctx, fresh)
		notify(cb, merged, nil)
		if err := c.StoreRestaurants(ctx, fresh...); err != nil {
			c.logf("cache restaurants: %v", err)
		}
		f.resolve(merged, nil)
	})
	return f
}

// FetchRestaurant returns one cached restaurant and refreshes it, with any
// pending favorite toggle applied to both values.
func (c *Coordinator) FetchRestaurant(ctx context.Context, id int64, cb func(types.Restaurant, error)) *Fetch[types.Restaurant] {
	var cached types.Restaurant
	ok := false
	if c.store != nil {
		var err error
		cached, ok, err = db.GetAs[types.Restaurant](ctx, c.store, db.Restaurants, strconv.FormatInt(id, 10))
		if err != nil {
			c.logf("read cached restaurant %d: %v", id, err)
		}
	}
	if ok {
		cached = c.mergeFavorite(ctx, cached)
	}
	f := newFetch(cached, ok)

	c.refresh(func() {
		fresh, err := c.remote.GetRestaurant(ctx, id)
		if err != nil {
			c.logf("refresh restaurant %d: %v", id, err)
			notify(cb, types.Restaurant{}, err)
			f.resolve(types.Restaurant{}, err)
			return
		}
		merged := c.mergeFavorite(ctx, fresh)
		notify(cb, merged, nil)
		if err := c.StoreRestaurants(ctx, fresh); err != nil {
			c.logf("cache restaurant %d: %v", id, err)
		}
		f.resolve(merged, nil)
	})
	return f
}

// FetchReviews returns the reviews of a restaurant: confirmed reviews ordered
// by creation time followed by reviews still waiting to be posted.
func (c *Coordinator) FetchReviews(ctx context.Context, restaurantID int64, cb func([]types.Review, error)) *Fetch[[]types.Review] {
	var cached []types.Review
	ok := false
	if c.store != nil {
		records, err := c.store.GetAllByIndex(ctx, db.Reviews, "restaurant_id", restaurantID)
		if err == nil {
			cached, err = db.DecodeAll[types.Review](records)
		}
		if err != nil {
			c.logf("read cached reviews for %d: %v", restaurantID, err)
		}
		ok = err == nil
	}
	f := newFetch(c.appendPending(ctx, restaurantID, cached), ok)

	c.refresh(func() {
		fresh, err := c.remote.ListReviews(ctx, restaurantID)
		if err != nil {
			c.logf("refresh reviews for %d: %v", restaurantID, err)
			notify(cb, nil, err)
			f.resolve(nil, err)
			return
		}
		merged := c.appendPending(ctx, restaurantID, fresh)
		notify(cb, merged, nil)
		if err := c.StoreReviews(ctx, fresh...); err != nil {
			c.logf("cache reviews for %d: %v", restaurantID, err)
		}
		f.resolve(merged, nil)
	})
	return f
}

// FetchNeighborhoods derives the distinct neighborhoods from FetchRestaurants.
func (c *Coordinator) FetchNeighborhoods(ctx context.Context, cb func([]string, error)) *Fetch[[]string] {
	return mapFetch(c.FetchRestaurants(ctx, func(list []types.Restaurant, err error) {
		notify(cb, Neighborhoods(list), err)
	}), Neighborhoods)
}

// FetchCuisines derives the distinct cuisines from FetchRestaurants.
func (c *Coordinator) FetchCuisines(ctx context.Context, cb func([]string, error)) *Fetch[[]string] {
	return mapFetch(c.FetchRestaurants(ctx, func(list []types.Restaurant, err error) {
		notify(cb, Cuisines(list), err)
	}), Cuisines)
}

// StoreRestaurants writes restaurants in order and trims the cache to its
// configured size.
func (c *Coordinator) StoreRestaurants(ctx context.Context, restaurants ...types.Restaurant) error {
	if c.store == nil || len(restaurants) == 0 {
		return nil
	}
	values := make([]any, 0, len(restaurants))
	for _, r := range restaurants {
		values = append(values, r)
	}
	if err := c.store.Put(ctx, db.Restaurants, values...); err != nil {
		return err
	}
	removed, err := c.store.EvictOldest(ctx, db.Restaurants, c.cacheSize)
	if err != nil {
		return fmt.Errorf("evict restaurants: %w", err)
	}
	if removed > 0 {
		c.logf("evicted %d restaurants", removed)
	}
	return nil
}

// StoreReviews writes confirmed reviews. Reviews are not size bounded.
func (c *Coordinator) StoreReviews(ctx context.Context, reviews ...types.Review) error {
	if c.store == nil || len(reviews) == 0 {
		return nil
	}
	values := make([]any, 0, len(reviews))
	for _, r := range reviews {
		if r.ID <= 0 {
			return fmt.Errorf("store review: missing server id")
		}
		r.LocalID = ""
		r.ClientToken = ""
		values = append(values, r)
	}
	return c.store.Put(ctx, db.Reviews, values...)
}

func (c *Coordinator) cachedRestaurants(ctx context.Context) ([]types.Restaurant, bool) {
	if c.store == nil {
		return nil, false
	}
	records, err := c.store.GetAll(ctx, db.Restaurants)
	if err != nil {
		c.logf("read cached restaurants: %v", err)
		return nil, false
	}
	list, err := db.DecodeAll[types.Restaurant](records)
	if err != nil {
		c.logf("decode cached restaurants: %v", err)
		return nil, false
	}
	return list, true
}

func (c *Coordinator) pendingFavorites(ctx context.Context) map[int64]bool {
	if c.overlay == nil {
		return nil
	}
	pending, err := c.overlay.PendingFavorites(ctx)
	if err != nil && !errors.Is(err, db.ErrStorageUnavailable) {
		c.logf("read pending favorites: %v", err)
	}
	return pending
}

func (c *Coordinator) mergeFavorites(ctx context.Context, list []types.Restaurant) []types.Restaurant {
	pending := c.pendingFavorites(ctx)
	if len(pending) == 0 {
		return list
	}
	out := make([]types.Restaurant, len(list))
	for i, r := range list {
		if desired, ok := pending[r.ID]; ok {
			r.IsFavorite = types.FlexBool(desired)
		}
		out[i] = r
	}
	return out
}

func (c *Coordinator) mergeFavorite(ctx context.Context, r types.Restaurant) types.Restaurant {
	if desired, ok := c.pendingFavorites(ctx)[r.ID]; ok {
		r.IsFavorite = types.FlexBool(desired)
	}
	return r
}

func (c *Coordinator) appendPending(ctx context.Context, restaurantID int64, confirmed []types.Review) []types.Review {
	out := append([]types.Review{}, confirmed...)
	if c.overlay == nil {
		return out
	}
	pending, err := c.overlay.PendingReviewsFor(ctx, restaurantID)
	if err != nil {
		if !errors.Is(err, db.ErrStorageUnavailable) {
			c.logf("read pending reviews for %d: %v", restaurantID, err)
		}
		return out
	}
	return append(out, pending...)
}

func (c *Coordinator) refresh(fn func()) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		fn()
	}()
}

func notify[T any](cb func(T, error), value T, err error) {
	if cb != nil {
		cb(value, err)
	}
}

func (c *Coordinator) logf(format string, args ...any) {
	if c.logger == nil {
		return
	}
	c.logger.Printf(format, args...)
}
