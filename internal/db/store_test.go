package db

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestPutGetRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if err := store.Put(ctx, Restaurants, item{ID: 7, Name: "Mission Chinese Food"}); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, ok, err := GetAs[item](ctx, store, Restaurants, "7")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !ok {
		t.Fatal("expected record to exist")
	}
	if got.Name != "Mission Chinese Food" {
		t.Fatalf("expected name to round trip, got %q", got.Name)
	}

	_, ok, err = store.Get(ctx, Restaurants, "8")
	if err != nil {
		t.Fatalf("get missing: %v", err)
	}
	if ok {
		t.Fatal("expected missing record")
	}
}

func TestPutReplacesByKey(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if err := store.Put(ctx, Restaurants, item{ID: 1, Name: "old"}, item{ID: 2, Name: "other"}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := store.Put(ctx, Restaurants, item{ID: 1, Name: "new"}); err != nil {
		t.Fatalf("put again: %v", err)
	}

	records, err := store.GetAll(ctx, Restaurants)
	if err != nil {
		t.Fatalf("get all: %v", err)
	}
	if got := keys(records); fmt.Sprint(got) != "[2 1]" {
		t.Fatalf("expected rewrite to move key 1 last, got %v", got)
	}
	items, err := DecodeAll[item](records)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if items[1].Name != "new" {
		t.Fatalf("expected replaced value, got %q", items[1].Name)
	}
}

func TestPutRequiresKey(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if err := store.Put(ctx, Restaurants, item{Name: "no id"}); err == nil {
		t.Fatal("expected error for missing key")
	}
	if err := store.Put(ctx, Restaurants, "not an object"); err == nil {
		t.Fatal("expected error for non-object record")
	}
	count, err := store.Count(ctx, Restaurants)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected failed puts to leave no records, got %d", count)
	}
}

func TestPutBatchIsAtomic(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	err := store.Put(ctx, Restaurants, item{ID: 1, Name: "a"}, item{Name: "missing key"})
	if err == nil {
		t.Fatal("expected batch error")
	}
	count, err := store.Count(ctx, Restaurants)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected rollback of whole batch, got %d records", count)
	}
}

func TestGetAllByIndexOrdersByDate(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if err := store.Put(ctx, Reviews,
		item{ID: 1, RestaurantID: 5, CreatedAt: 300},
		item{ID: 2, RestaurantID: 6, CreatedAt: 100},
		item{ID: 3, RestaurantID: 5, CreatedAt: 100},
		item{ID: 4, RestaurantID: 5, CreatedAt: 200},
	); err != nil {
		t.Fatalf("put: %v", err)
	}

	records, err := store.GetAllByIndex(ctx, Reviews, "restaurant_id", int64(5))
	if err != nil {
		t.Fatalf("by index: %v", err)
	}
	if got := keys(records); fmt.Sprint(got) != "[3 4 1]" {
		t.Fatalf("expected reviews for restaurant 5 by date, got %v", got)
	}

	if _, err := store.GetAllByIndex(ctx, Reviews, "nope", 1); err == nil {
		t.Fatal("expected error for unknown index")
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if err := store.Put(ctx, Restaurants, item{ID: 1}); err != nil {
		t.Fatalf("put: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := store.Delete(ctx, Restaurants, "1"); err != nil {
			t.Fatalf("delete %d: %v", i, err)
		}
	}
	if _, ok, _ := store.Get(ctx, Restaurants, "1"); ok {
		t.Fatal("expected record to be deleted")
	}
}

func TestEvictOldestKeepsMostRecentWrites(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	for i := 1; i <= 40; i++ {
		if err := store.Put(ctx, Restaurants, item{ID: int64(i)}); err != nil {
			t.Fatalf("put %d: %v", i, err)
		}
	}

	removed, err := store.EvictOldest(ctx, Restaurants, 30)
	if err != nil {
		t.Fatalf("evict: %v", err)
	}
	if removed != 10 {
		t.Fatalf("expected 10 evictions, got %d", removed)
	}

	for i := 1; i <= 40; i++ {
		_, ok, err := store.Get(ctx, Restaurants, fmt.Sprint(i))
		if err != nil {
			t.Fatalf("get %d: %v", i, err)
		}
		if i <= 10 && ok {
			t.Fatalf("expected restaurant %d to be evicted", i)
		}
		if i > 10 && !ok {
			t.Fatalf("expected restaurant %d to remain", i)
		}
	}
}

func TestEvictOldestCountsRewritesAsRecent(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		if err := store.Put(ctx, Restaurants, item{ID: int64(i)}); err != nil {
			t.Fatalf("put: %v", err)
		}
	}
	if err := store.Put(ctx, Restaurants, item{ID: 1, Name: "refreshed"}); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	if _, err := store.EvictOldest(ctx, Restaurants, 2); err != nil {
		t.Fatalf("evict: %v", err)
	}
	records, err := store.GetAll(ctx, Restaurants)
	if err != nil {
		t.Fatalf("get all: %v", err)
	}
	if got := keys(records); fmt.Sprint(got) != "[3 1]" {
		t.Fatalf("expected [3 1] to survive, got %v", got)
	}

	if _, err := store.EvictOldest(ctx, Restaurants, -1); err == nil {
		t.Fatal("expected error for negative keep")
	}
}

func TestUpdateRollsBackOnError(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	boom := errors.New("boom")
	err := store.Update(ctx, PendingFavorites, func(tx *Tx) error {
		if err := tx.Put(map[string]any{"restaurant_id": 3, "is_favorite": true}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if _, ok, _ := store.Get(ctx, PendingFavorites, "3"); ok {
		t.Fatal("expected rolled back write to be absent")
	}
}

func TestUpdateIsolatesCollectionTransactions(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	started := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		err := store.Update(ctx, Restaurants, func(tx *Tx) error {
			if err := tx.Put(item{ID: 1}); err != nil {
				return err
			}
			close(started)
			time.Sleep(50 * time.Millisecond)
			return tx.Put(item{ID: 2})
		})
		if err != nil {
			t.Errorf("update: %v", err)
		}
	}()

	<-started
	records, err := store.GetAll(ctx, Restaurants)
	if err != nil {
		t.Fatalf("get all: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected reader to wait for the whole transaction, saw %d records", len(records))
	}
	wg.Wait()
}

func TestUnknownCollection(t *testing.T) {
	store := openTestStore(t)
	_, err := store.GetAll(context.Background(), "menus")
	if !errors.Is(err, ErrUnknownCollection) {
		t.Fatalf("expected ErrUnknownCollection, got %v", err)
	}
}

func TestNextSequenceSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "cache.db")

	store, err := Open(ctx, path, DefaultSchema())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	for want := int64(1); want <= 3; want++ {
		got, err := store.NextSequence(ctx, "local_review_id")
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		if got != want {
			t.Fatalf("expected %d, got %d", want, got)
		}
	}
	_ = store.Close()

	store, err = Open(ctx, path, DefaultSchema())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer store.Close()
	got, err := store.NextSequence(ctx, "local_review_id")
	if err != nil {
		t.Fatalf("next after reopen: %v", err)
	}
	if got != 4 {
		t.Fatalf("expected 4 after reopen, got %d", got)
	}

	other, err := store.NextSequence(ctx, "other")
	if err != nil {
		t.Fatalf("next other: %v", err)
	}
	if other != 1 {
		t.Fatalf("expected independent counter to start at 1, got %d", other)
	}
}
