package host

import (
	"context"
	"strings"
	"sync"

	"github.com/gen2brain/beeep"
)

const appName = "Restaurant Reviews"

// PermissionStore persists the notification permission between runs.
type PermissionStore interface {
	LoadPermission() (Permission, error)
	SavePermission(Permission) error
}

// DesktopNotifier sends OS notifications through beeep.
type DesktopNotifier struct {
	store PermissionStore
	// Prompt decides the permission when it has not been set yet. Nil grants.
	Prompt func(ctx context.Context) (Permission, error)

	mu         sync.Mutex
	permission Permission
	send       func(title, body string) error
}

// NewDesktopNotifier loads the saved permission from store.
func NewDesktopNotifier(store PermissionStore) (*DesktopNotifier, error) {
	n := &DesktopNotifier{
		store:      store,
		permission: PermissionDefault,
		send: func(title, body string) error {
			return beeep.Notify(title, body, "")
		},
	}
	if store != nil {
		p, err := store.LoadPermission()
		if err != nil {
			return nil, err
		}
		n.permission = p
	}
	return n, nil
}

// Permission returns the current decision.
func (n *DesktopNotifier) Permission() Permission {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.permission
}

// RequestPermission asks once; an explicit grant or denial is kept.
func (n *DesktopNotifier) RequestPermission(ctx context.Context) (Permission, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.permission != PermissionDefault {
		return n.permission, nil
	}
	decided := PermissionGranted
	if n.Prompt != nil {
		p, err := n.Prompt(ctx)
		if err != nil {
			return n.permission, err
		}
		decided = p
	}
	if n.store != nil {
		if err := n.store.SavePermission(decided); err != nil {
			return n.permission, err
		}
	}
	n.permission = decided
	return decided, nil
}

// Notify shows a notification. Without permission it does nothing.
func (n *DesktopNotifier) Notify(_ context.Context, title, body string) error {
	if n.Permission() != PermissionGranted {
		return nil
	}
	if title == "" {
		title = appName
	}
	return n.send(title, truncate(body, 200))
}

func truncate(s string, maxLen int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-1] + "…"
}
