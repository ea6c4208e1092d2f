package cache

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/johnayeni/mws-restaurant-reviews-app/internal/db"
	"github.com/johnayeni/mws-restaurant-reviews-app/internal/remote"
	"github.com/johnayeni/mws-restaurant-reviews-app/internal/remote/remotetest"
	"github.com/johnayeni/mws-restaurant-reviews-app/internal/types"
)

type fakeOverlay struct {
	favorites map[int64]bool
	reviews   map[int64][]types.Review
}

func (o fakeOverlay) PendingFavorites(context.Context) (map[int64]bool, error) {
	return o.favorites, nil
}

func (o fakeOverlay) PendingReviewsFor(_ context.Context, id int64) ([]types.Review, error) {
	return o.reviews[id], nil
}

func openStore(t *testing.T) *db.Store {
	t.Helper()
	store, err := db.Open(context.Background(), filepath.Join(t.TempDir(), "cache.db"), db.DefaultSchema())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newCoordinator(t *testing.T, store *db.Store, server *remotetest.Server, opts Options) *Coordinator {
	t.Helper()
	client, err := remote.NewClient(server.URL)
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	c := NewCoordinator(store, client, opts)
	t.Cleanup(c.Close)
	return c
}

func waitFetch[T any](t *testing.T, f *Fetch[T]) (T, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return f.Wait(ctx)
}

func TestFetchRestaurantsReadYourWrites(t *testing.T) {
	server := remotetest.NewServer(
		types.Restaurant{ID: 1, Name: "Mission Chinese Food", Neighborhood: "Manhattan", CuisineType: "Asian"},
		types.Restaurant{ID: 2, Name: "Emily", Neighborhood: "Brooklyn", CuisineType: "Pizza"},
	)
	defer server.Close()
	c := newCoordinator(t, openStore(t), server, Options{})
	ctx := context.Background()

	first := c.FetchRestaurants(ctx, nil)
	if len(first.Immediate) != 0 {
		t.Fatalf("expected empty cache, got %+v", first.Immediate)
	}
	eventual, err := waitFetch(t, first)
	if err != nil {
		t.Fatalf("first fetch: %v", err)
	}

	server.PutRestaurant(types.Restaurant{ID: 3, Name: "Katz's Delicatessen", Neighborhood: "Manhattan"})
	second := c.FetchRestaurants(ctx, nil)
	if !second.Cached {
		t.Fatal("expected second fetch to be served from cache")
	}
	if !reflect.DeepEqual(second.Immediate, eventual) {
		t.Fatalf("expected immediate %+v to equal previous eventual %+v", second.Immediate, eventual)
	}
	fresh, err := waitFetch(t, second)
	if err != nil {
		t.Fatalf("second fetch: %v", err)
	}
	if len(fresh) != 3 {
		t.Fatalf("expected 3 restaurants after refresh, got %d", len(fresh))
	}
}

func TestFetchRestaurantsCallbackRunsBeforeResolve(t *testing.T) {
	server := remotetest.NewServer(types.Restaurant{ID: 1, Name: "A"})
	defer server.Close()
	c := newCoordinator(t, openStore(t), server, Options{})

	var (
		mu     sync.Mutex
		called []types.Restaurant
	)
	f := c.FetchRestaurants(context.Background(), func(list []types.Restaurant, err error) {
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			t.Errorf("unexpected callback error: %v", err)
		}
		called = list
	})
	if _, err := waitFetch(t, f); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(called) != 1 || called[0].Name != "A" {
		t.Fatalf("expected callback with fresh data, got %+v", called)
	}
}

func TestFetchRestaurantsFailureKeepsImmediate(t *testing.T) {
	server := remotetest.NewServer(types.Restaurant{ID: 1, Name: "A"})
	defer server.Close()
	c := newCoordinator(t, openStore(t), server, Options{})
	ctx := context.Background()

	if _, err := waitFetch(t, c.FetchRestaurants(ctx, nil)); err != nil {
		t.Fatalf("prime: %v", err)
	}

	server.SetOffline(true)
	var cbErr error
	f := c.FetchRestaurants(ctx, func(_ []types.Restaurant, err error) { cbErr = err })
	if len(f.Immediate) != 1 {
		t.Fatalf("expected cached restaurant, got %+v", f.Immediate)
	}
	_, err := waitFetch(t, f)
	if !errors.Is(err, remote.ErrNetwork) {
		t.Fatalf("expected network error, got %v", err)
	}
	if !errors.Is(cbErr, remote.ErrNetwork) {
		t.Fatalf("expected callback to see network error, got %v", cbErr)
	}

	again := c.FetchRestaurants(ctx, nil)
	if len(again.Immediate) != 1 {
		t.Fatal("expected failed refresh to leave cache intact")
	}
	_, _ = waitFetch(t, again)
}

func TestFetchRestaurantsEvictsToCacheSize(t *testing.T) {
	var seed []types.Restaurant
	for i := 1; i <= 40; i++ {
		seed = append(seed, types.Restaurant{ID: int64(i), Name: fmt.Sprintf("r%d", i)})
	}
	server := remotetest.NewServer(seed...)
	defer server.Close()
	store := openStore(t)
	c := newCoordinator(t, store, server, Options{CacheSize: 30})

	if _, err := waitFetch(t, c.FetchRestaurants(context.Background(), nil)); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	count, err := store.Count(context.Background(), db.Restaurants)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 30 {
		t.Fatalf("expected 30 cached restaurants, got %d", count)
	}
	if _, ok, _ := store.Get(context.Background(), db.Restaurants, "10"); ok {
		t.Fatal("expected restaurant 10 to be evicted")
	}
	if _, ok, _ := store.Get(context.Background(), db.Restaurants, "11"); !ok {
		t.Fatal("expected restaurant 11 to remain")
	}
}

func TestFetchRestaurantMergesPendingFavorite(t *testing.T) {
	server := remotetest.NewServer(types.Restaurant{ID: 4, Name: "Roberta's"})
	defer server.Close()
	c := newCoordinator(t, openStore(t), server, Options{
		Overlay: fakeOverlay{favorites: map[int64]bool{4: true}},
	})
	ctx := context.Background()

	first := c.FetchRestaurant(ctx, 4, nil)
	if first.Cached {
		t.Fatal("expected cache miss")
	}
	got, err := waitFetch(t, first)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if !bool(got.IsFavorite) {
		t.Fatal("expected pending favorite to be merged into fresh value")
	}

	second := c.FetchRestaurant(ctx, 4, nil)
	if !second.Cached || !bool(second.Immediate.IsFavorite) {
		t.Fatalf("expected cached value with pending favorite, got %+v", second.Immediate)
	}
	_, _ = waitFetch(t, second)
}

func TestFetchRestaurantNotFound(t *testing.T) {
	server := remotetest.NewServer()
	defer server.Close()
	c := newCoordinator(t, openStore(t), server, Options{})

	_, err := waitFetch(t, c.FetchRestaurant(context.Background(), 12, nil))
	if !errors.Is(err, remote.ErrRemoteRejected) {
		t.Fatalf("expected rejection, got %v", err)
	}
}

func TestFetchReviewsAppendsPending(t *testing.T) {
	server := remotetest.NewServer(types.Restaurant{ID: 5})
	defer server.Close()
	server.AddReview(types.Review{ID: 7, RestaurantID: 5, Name: "B", Rating: 3, CreatedAt: 200})
	server.AddReview(types.Review{ID: 6, RestaurantID: 5, Name: "A", Rating: 5, CreatedAt: 100})
	pending := types.Review{LocalID: "tmp-1", RestaurantID: 5, Name: "X", Rating: 4, CreatedAt: 50}
	c := newCoordinator(t, openStore(t), server, Options{
		Overlay: fakeOverlay{reviews: map[int64][]types.Review{5: {pending}}},
	})
	ctx := context.Background()

	first := c.FetchReviews(ctx, 5, nil)
	if len(first.Immediate) != 1 || first.Immediate[0].LocalID != "tmp-1" {
		t.Fatalf("expected only the pending review before refresh, got %+v", first.Immediate)
	}
	if _, err := waitFetch(t, first); err != nil {
		t.Fatalf("fetch reviews: %v", err)
	}

	second := c.FetchReviews(ctx, 5, nil)
	var names []string
	for _, r := range second.Immediate {
		names = append(names, r.Name)
	}
	if fmt.Sprint(names) != "[A B X]" {
		t.Fatalf("expected confirmed by date then pending, got %v", names)
	}
	_, _ = waitFetch(t, second)
}

func TestNetworkOnlyWithoutStore(t *testing.T) {
	server := remotetest.NewServer(types.Restaurant{ID: 1, Name: "A"})
	defer server.Close()
	c := newCoordinator(t, nil, server, Options{})
	ctx := context.Background()

	f := c.FetchRestaurants(ctx, nil)
	if f.Cached || len(f.Immediate) != 0 {
		t.Fatalf("expected no cached data, got %+v", f.Immediate)
	}
	list, err := waitFetch(t, f)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected network data, got %+v", list)
	}
	if err := c.StoreReviews(ctx, types.Review{ID: 1}); err != nil {
		t.Fatalf("store without cache should be a no-op: %v", err)
	}
}

func TestFetchNeighborhoodsDistinct(t *testing.T) {
	server := remotetest.NewServer(
		types.Restaurant{ID: 1, Neighborhood: "A"},
		types.Restaurant{ID: 2, Neighborhood: "B"},
		types.Restaurant{ID: 3, Neighborhood: "A"},
		types.Restaurant{ID: 4, Neighborhood: "C"},
	)
	defer server.Close()
	c := newCoordinator(t, openStore(t), server, Options{})

	got, err := waitFetch(t, c.FetchNeighborhoods(context.Background(), nil))
	if err != nil {
		t.Fatalf("fetch neighborhoods: %v", err)
	}
	if !reflect.DeepEqual(got, []string{"A", "B", "C"}) {
		t.Fatalf("expected [A B C], got %v", got)
	}
	if calls := server.Calls("GET /restaurants"); calls != 1 {
		t.Fatalf("expected one list fetch, got %d", calls)
	}
}
