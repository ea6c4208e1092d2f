package host

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/johnayeni/mws-restaurant-reviews-app/internal/db"
)

type memoryPermissions struct {
	value Permission
	saves int
}

func (m *memoryPermissions) LoadPermission() (Permission, error) {
	if m.value == "" {
		return PermissionDefault, nil
	}
	return m.value, nil
}

func (m *memoryPermissions) SavePermission(p Permission) error {
	m.value = p
	m.saves++
	return nil
}

func newTestNotifier(t *testing.T, store PermissionStore) (*DesktopNotifier, *[]Notification) {
	t.Helper()
	n, err := NewDesktopNotifier(store)
	if err != nil {
		t.Fatalf("new notifier: %v", err)
	}
	var sent []Notification
	n.send = func(title, body string) error {
		sent = append(sent, Notification{Title: title, Body: body})
		return nil
	}
	return n, &sent
}

func TestDesktopNotifierRequiresPermission(t *testing.T) {
	perms := &memoryPermissions{}
	n, sent := newTestNotifier(t, perms)
	ctx := context.Background()

	if err := n.Notify(ctx, "Review Posted!", "body"); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if len(*sent) != 0 {
		t.Fatal("expected no notification before permission")
	}

	p, err := n.RequestPermission(ctx)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if p != PermissionGranted || perms.value != PermissionGranted {
		t.Fatalf("expected persisted grant, got %s/%s", p, perms.value)
	}
	if _, err := n.RequestPermission(ctx); err != nil {
		t.Fatalf("request again: %v", err)
	}
	if perms.saves != 1 {
		t.Fatalf("expected one save, got %d", perms.saves)
	}

	if err := n.Notify(ctx, "", "Some   reviews\nsynced"); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if len(*sent) != 1 || (*sent)[0].Title != appName || (*sent)[0].Body != "Some reviews synced" {
		t.Fatalf("unexpected notifications: %+v", *sent)
	}
}

func TestDesktopNotifierKeepsDenial(t *testing.T) {
	perms := &memoryPermissions{value: PermissionDenied}
	n, sent := newTestNotifier(t, perms)
	ctx := context.Background()

	p, err := n.RequestPermission(ctx)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if p != PermissionDenied {
		t.Fatalf("expected denial to stick, got %s", p)
	}
	_ = n.Notify(ctx, "t", "b")
	if len(*sent) != 0 {
		t.Fatal("expected denied notifier to stay silent")
	}
}

func TestDesktopNotifierPrompt(t *testing.T) {
	n, _ := newTestNotifier(t, nil)
	n.Prompt = func(context.Context) (Permission, error) { return PermissionDenied, nil }
	p, err := n.RequestPermission(context.Background())
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if p != PermissionDenied {
		t.Fatalf("expected prompt decision, got %s", p)
	}
}

func TestParsePermission(t *testing.T) {
	tests := []struct {
		raw     string
		want    Permission
		wantErr bool
	}{
		{"", PermissionDefault, false},
		{"Granted", PermissionGranted, false},
		{"denied", PermissionDenied, false},
		{"maybe", PermissionDefault, true},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := ParsePermission(tt.raw)
			if (err != nil) != tt.wantErr {
				t.Fatalf("unexpected error state: %v", err)
			}
			if got != tt.want {
				t.Fatalf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestStoreSchedulerPersistsTags(t *testing.T) {
	ctx := context.Background()
	store, err := db.Open(ctx, filepath.Join(t.TempDir(), "cache.db"), db.DefaultSchema())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()

	scheduler := StoreScheduler{Store: store}
	if err := scheduler.Register(ctx, "syncReviews"); err != nil {
		t.Fatalf("register: %v", err)
	}
	triggers, err := store.ListTriggers(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(triggers) != 1 || triggers[0].Tag != "syncReviews" {
		t.Fatalf("unexpected triggers: %+v", triggers)
	}

	if err := (StoreScheduler{}).Register(ctx, "syncReviews"); !errors.Is(err, ErrNoScheduler) {
		t.Fatalf("expected ErrNoScheduler, got %v", err)
	}
}
