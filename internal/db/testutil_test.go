package db

import (
	"context"
	"path/filepath"
	"testing"
)

type item struct {
	ID           int64  `json:"id"`
	Name         string `json:"name"`
	RestaurantID int64  `json:"restaurant_id,omitempty"`
	CreatedAt    int64  `json:"createdAt,omitempty"`
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cache.db")
	store, err := Open(context.Background(), path, DefaultSchema())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}

func keys(records []Record) []string {
	out := make([]string, 0, len(records))
	for _, rec := range records {
		out = append(out, rec.Key)
	}
	return out
}
