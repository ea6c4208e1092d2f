// Package host adapts the capabilities the sync core expects from its
// environment: background trigger registration and user notifications.
package host

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/johnayeni/mws-restaurant-reviews-app/internal/db"
)

// ErrNoScheduler is returned when no background trigger source is configured.
var ErrNoScheduler = errors.New("background sync not available")

// Scheduler registers a tag to be fired later by a background trigger source.
type Scheduler interface {
	Register(ctx context.Context, tag string) error
}

// Permission is the user's decision about notifications.
type Permission string

const (
	PermissionDefault Permission = "default"
	PermissionGranted Permission = "granted"
	PermissionDenied  Permission = "denied"
)

// ParsePermission accepts the values written to the config file.
func ParsePermission(raw string) (Permission, error) {
	switch p := Permission(strings.ToLower(strings.TrimSpace(raw))); p {
	case "":
		return PermissionDefault, nil
	case PermissionDefault, PermissionGranted, PermissionDenied:
		return p, nil
	default:
		return PermissionDefault, fmt.Errorf("invalid notification permission %q", raw)
	}
}

// Notifier shows user-visible messages once permission has been granted.
type Notifier interface {
	Permission() Permission
	RequestPermission(ctx context.Context) (Permission, error)
	Notify(ctx context.Context, title, body string) error
}

// StoreScheduler persists registrations in the local store so a separate
// daemon process can fire them.
type StoreScheduler struct {
	Store *db.Store
}

// Register records tag as pending.
func (s StoreScheduler) Register(ctx context.Context, tag string) error {
	if s.Store == nil {
		return ErrNoScheduler
	}
	if err := s.Store.RegisterTrigger(ctx, tag); err != nil {
		return fmt.Errorf("register %s: %w", tag, err)
	}
	return nil
}
