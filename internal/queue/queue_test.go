package queue

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/johnayeni/mws-restaurant-reviews-app/internal/db"
	"github.com/johnayeni/mws-restaurant-reviews-app/internal/host"
	"github.com/johnayeni/mws-restaurant-reviews-app/internal/types"
)

func newTestQueue(t *testing.T) (*Queue, *host.Recorder, *db.Store) {
	t.Helper()
	store, err := db.Open(context.Background(), filepath.Join(t.TempDir(), "cache.db"), db.DefaultSchema())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	rec := host.NewRecorder(host.PermissionGranted)
	q := New(store, rec)
	q.now = func() time.Time { return time.UnixMilli(1_000) }
	return q, rec, store
}

func validReview() types.Review {
	return types.Review{RestaurantID: 5, Name: "X", Rating: 4, Comments: "ok"}
}

func TestEnqueueReviewAssignsLocalIDs(t *testing.T) {
	q, rec, _ := newTestQueue(t)
	ctx := context.Background()

	first, err := q.EnqueueReview(ctx, validReview())
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	second, err := q.EnqueueReview(ctx, validReview())
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if first != "tmp-1" || second != "tmp-2" {
		t.Fatalf("expected tmp-1 and tmp-2, got %s and %s", first, second)
	}
	if got := rec.Tags(); !reflect.DeepEqual(got, []string{TagSyncReviews, TagSyncReviews}) {
		t.Fatalf("expected syncReviews registrations, got %v", got)
	}

	pending, err := q.DrainReviews(ctx)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("expected 2 pending, got %d", len(pending))
	}
	entry := pending[0]
	if entry.Kind != types.MutationNewReview || entry.LocalID != "tmp-1" || entry.Review == nil {
		t.Fatalf("unexpected entry: %+v", entry)
	}
	if entry.Review.ID != 0 || entry.Review.CreatedAt != 1_000 || entry.Review.ClientToken == "" {
		t.Fatalf("unexpected review bookkeeping: %+v", entry.Review)
	}
	if pending[0].Review.ClientToken == pending[1].Review.ClientToken {
		t.Fatal("expected distinct client tokens")
	}

	again, err := q.DrainReviews(ctx)
	if err != nil {
		t.Fatalf("drain again: %v", err)
	}
	if len(again) != 2 {
		t.Fatal("expected drain to leave entries queued")
	}
}

func TestEnqueueReviewRejectsInvalid(t *testing.T) {
	q, rec, _ := newTestQueue(t)
	_, err := q.EnqueueReview(context.Background(), types.Review{RestaurantID: 5, Name: "X", Rating: 9})
	if !errors.Is(err, types.ErrInvalidReview) {
		t.Fatalf("expected ErrInvalidReview, got %v", err)
	}
	if len(rec.Tags()) != 0 {
		t.Fatal("expected no trigger for invalid review")
	}
}

func TestEnqueueWithoutSchedulerIsUnavailable(t *testing.T) {
	store, err := db.Open(context.Background(), filepath.Join(t.TempDir(), "cache.db"), db.DefaultSchema())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()
	ctx := context.Background()

	for name, q := range map[string]*Queue{
		"no scheduler": New(store, nil),
		"no store":     New(nil, host.NewRecorder(host.PermissionGranted)),
	} {
		t.Run(name, func(t *testing.T) {
			if _, err := q.EnqueueReview(ctx, validReview()); !errors.Is(err, ErrSyncUnavailable) {
				t.Fatalf("expected ErrSyncUnavailable, got %v", err)
			}
			if err := q.EnqueueFavoriteToggle(ctx, 1, true); !errors.Is(err, ErrSyncUnavailable) {
				t.Fatalf("expected ErrSyncUnavailable, got %v", err)
			}
		})
	}
	count, err := store.Count(ctx, db.PendingReviews)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected nothing persisted, got %d", count)
	}
}

func TestEnqueueRollsBackWhenRegistrationFails(t *testing.T) {
	q, rec, store := newTestQueue(t)
	ctx := context.Background()

	if err := q.EnqueueFavoriteToggle(ctx, 3, true); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	rec.FailRegistrations(errors.New("no background sync"))

	if _, err := q.EnqueueReview(ctx, validReview()); !errors.Is(err, ErrSyncUnavailable) {
		t.Fatalf("expected ErrSyncUnavailable, got %v", err)
	}
	if count, _ := store.Count(ctx, db.PendingReviews); count != 0 {
		t.Fatalf("expected review to be rolled back, got %d", count)
	}

	if err := q.EnqueueFavoriteToggle(ctx, 3, false); !errors.Is(err, ErrSyncUnavailable) {
		t.Fatalf("expected ErrSyncUnavailable, got %v", err)
	}
	value, ok, err := q.PendingFavorite(ctx, 3)
	if err != nil || !ok || !value {
		t.Fatalf("expected previous toggle restored, got %v %v %v", value, ok, err)
	}
}

func TestFavoriteToggleLastWriteWins(t *testing.T) {
	q, rec, _ := newTestQueue(t)
	ctx := context.Background()

	if err := q.EnqueueFavoriteToggle(ctx, 3, true); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := q.EnqueueFavoriteToggle(ctx, 3, false); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := q.EnqueueFavoriteToggle(ctx, 4, true); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	pending, err := q.DrainFavorites(ctx)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("expected one toggle per restaurant, got %d", len(pending))
	}
	byID := map[string]bool{}
	for _, p := range pending {
		byID[p.LocalID] = p.Favorite.IsFavorite
	}
	if byID["3"] != false || byID["4"] != true {
		t.Fatalf("unexpected toggles: %v", byID)
	}
	if tags := rec.Tags(); len(tags) != 3 || tags[0] != TagSyncFavorites {
		t.Fatalf("expected syncFavorites registrations, got %v", tags)
	}

	favorites, err := q.PendingFavorites(ctx)
	if err != nil {
		t.Fatalf("pending favorites: %v", err)
	}
	if !reflect.DeepEqual(favorites, map[int64]bool{3: false, 4: true}) {
		t.Fatalf("unexpected overlay: %v", favorites)
	}
}

func TestRemoveFavoriteIfUnchanged(t *testing.T) {
	q, _, _ := newTestQueue(t)
	ctx := context.Background()

	if err := q.EnqueueFavoriteToggle(ctx, 3, false); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	removed, err := q.RemoveFavoriteIfUnchanged(ctx, 3, true)
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if removed {
		t.Fatal("expected newer toggle to be kept")
	}
	removed, err = q.RemoveFavoriteIfUnchanged(ctx, 3, false)
	if err != nil || !removed {
		t.Fatalf("expected removal, got %v %v", removed, err)
	}
	removed, err = q.RemoveFavoriteIfUnchanged(ctx, 3, false)
	if err != nil || removed {
		t.Fatalf("expected no-op on missing entry, got %v %v", removed, err)
	}
}

func TestRemoveIsIdempotent(t *testing.T) {
	q, _, _ := newTestQueue(t)
	ctx := context.Background()

	id, err := q.EnqueueReview(ctx, validReview())
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := q.Remove(ctx, types.MutationNewReview, id); err != nil {
			t.Fatalf("remove %d: %v", i, err)
		}
	}
	if n, _ := q.Count(ctx, types.MutationNewReview); n != 0 {
		t.Fatalf("expected empty queue, got %d", n)
	}
	if err := q.Remove(ctx, "bogus", id); err == nil || !strings.Contains(err.Error(), "unknown mutation kind") {
		t.Fatalf("expected unknown kind error, got %v", err)
	}
}

func TestClearAndPendingReviewsFor(t *testing.T) {
	q, _, _ := newTestQueue(t)
	ctx := context.Background()

	other := validReview()
	other.RestaurantID = 6
	for _, r := range []types.Review{validReview(), other, validReview()} {
		if _, err := q.EnqueueReview(ctx, r); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}
	forFive, err := q.PendingReviewsFor(ctx, 5)
	if err != nil {
		t.Fatalf("pending for 5: %v", err)
	}
	if len(forFive) != 2 {
		t.Fatalf("expected 2 pending reviews for restaurant 5, got %d", len(forFive))
	}

	if err := q.Clear(ctx, types.MutationNewReview); err != nil {
		t.Fatalf("clear: %v", err)
	}
	pending, err := q.DrainReviews(ctx)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected empty queue, got %d", len(pending))
	}
}
