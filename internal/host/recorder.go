package host

import (
	"context"
	"sync"
)

// Notification is one message captured by Recorder.
type Notification struct {
	Title string
	Body  string
}

// Recorder is an in-memory Scheduler and Notifier that remembers what it
// was asked to do.
type Recorder struct {
	mu            sync.Mutex
	tags          []string
	notifications []Notification
	permission    Permission
	requests      int
	registerErr   error
}

// NewRecorder returns a recorder starting with permission p.
func NewRecorder(p Permission) *Recorder {
	return &Recorder{permission: p}
}

// FailRegistrations makes Register return err until cleared with nil.
func (r *Recorder) FailRegistrations(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.registerErr = err
}

func (r *Recorder) Register(_ context.Context, tag string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.registerErr != nil {
		return r.registerErr
	}
	r.tags = append(r.tags, tag)
	return nil
}

func (r *Recorder) Permission() Permission {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.permission
}

// RequestPermission grants unless permission was already denied.
func (r *Recorder) RequestPermission(context.Context) (Permission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests++
	if r.permission == PermissionDefault {
		r.permission = PermissionGranted
	}
	return r.permission, nil
}

func (r *Recorder) Notify(_ context.Context, title, body string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notifications = append(r.notifications, Notification{Title: title, Body: body})
	return nil
}

// Tags returns registered trigger tags in order.
func (r *Recorder) Tags() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.tags...)
}

// Notifications returns delivered notifications in order.
func (r *Recorder) Notifications() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notification(nil), r.notifications...)
}

// PermissionRequests counts RequestPermission calls.
func (r *Recorder) PermissionRequests() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.requests
}
