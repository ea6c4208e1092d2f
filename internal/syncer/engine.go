// Package syncer replays queued writes against the review service and folds
// the confirmed results back into the local cache.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/johnayeni/mws-restaurant-reviews-app/internal/host"
	"github.com/johnayeni/mws-restaurant-reviews-app/internal/queue"
	"github.com/johnayeni/mws-restaurant-reviews-app/internal/types"
)

// ErrQueueExhausted is returned when a last-chance cycle still had failures
// and the queue for that kind was dropped.
var ErrQueueExhausted = errors.New("sync retries exhausted")

// DefaultConcurrency bounds how many entries replay at once.
const DefaultConcurrency = 4

// Notification text.
const (
	ReviewsPostedTitle    = "Review Posted!"
	ReviewsPostedBody     = "Your reviews are now online"
	ReviewsPendingTitle   = "Reviews saved offline"
	ReviewsPendingBody    = "Some reviews could not be posted online, but they will be saved offline for now"
	ReviewsDroppedTitle   = "Reviews not posted"
	ReviewsDroppedBody    = "Some of your reviews have failed to be posted online"
	FavoritesSyncedTitle  = "Favorites synced"
	FavoritesSyncedBody   = "Your favorite restaurants are up to date"
	FavoritesPendingTitle = "Favorites saved offline"
	FavoritesPendingBody  = "Some favorites could not be updated online, but they will be saved offline for now"
	FavoritesDroppedTitle = "Favorites not synced"
	FavoritesDroppedBody  = "Some of your favorite changes have failed to be saved online"
)

// Remote is the subset of the review service the engine writes to.
type Remote interface {
	CreateReview(ctx context.Context, req types.NewReviewRequest, idempotencyKey string) (types.Review, error)
	SetFavorite(ctx context.Context, id int64, favorite bool) (types.Restaurant, error)
}

// Queue is the pending mutation queue the engine drains.
type Queue interface {
	DrainReviews(ctx context.Context) ([]types.PendingMutation, error)
	DrainFavorites(ctx context.Context) ([]types.PendingMutation, error)
	Remove(ctx context.Context, kind types.MutationKind, localID string) error
	RemoveFavoriteIfUnchanged(ctx context.Context, restaurantID int64, desired bool) (bool, error)
	Clear(ctx context.Context, kind types.MutationKind) error
}

// Cache receives confirmed records.
type Cache interface {
	StoreReviews(ctx context.Context, reviews ...types.Review) error
	StoreRestaurants(ctx context.Context, restaurants ...types.Restaurant) error
}

// Engine runs sync cycles. Reviews and favorites cycle independently.
type Engine struct {
	Queue       Queue
	Remote      Remote
	Cache       Cache
	Notifier    host.Notifier
	Logger      *log.Logger
	Concurrency int

	// One cycle per kind at a time; a second cycle drains only what the
	// first left queued.
	reviewsMu   sync.Mutex
	favoritesMu sync.Mutex
}

// Result summarizes one sync cycle.
type Result struct {
	Kind      types.MutationKind `json:"kind"`
	Attempted int                `json:"attempted"`
	Confirmed int                `json:"confirmed"`
	Failed    []string           `json:"failed,omitempty"`
	Cleared   bool               `json:"cleared,omitempty"`
}

// Failure is one entry that could not be replayed.
type Failure struct {
	LocalID string
	Err     error
}

// ReplayError lists the entries left queued after a cycle.
type ReplayError struct {
	Kind     types.MutationKind
	Failures []Failure
}

func (e *ReplayError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("%s: %v", f.LocalID, f.Err))
	}
	return fmt.Sprintf("%d %s entries left queued: %s", len(e.Failures), e.Kind, strings.Join(parts, "; "))
}

func (e *ReplayError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		errs = append(errs, f.Err)
	}
	return errs
}

// OnTrigger handles a background trigger fired by the host.
func (e *Engine) OnTrigger(ctx context.Context, tag string, lastChance bool) error {
	var err error
	switch tag {
	case queue.TagSyncReviews:
		_, err = e.SyncReviews(ctx, lastChance)
	case queue.TagSyncFavorites:
		_, err = e.SyncFavorites(ctx, lastChance)
	default:
		return fmt.Errorf("unknown sync tag %q", tag)
	}
	return err
}

// SyncReviews posts every pending review. Confirmed reviews are written to the
// cache before their pending entry is removed.
func (e *Engine) SyncReviews(ctx context.Context, lastChance bool) (Result, error) {
	e.reviewsMu.Lock()
	defer e.reviewsMu.Unlock()

	entries, err := e.Queue.DrainReviews(ctx)
	if err != nil {
		return Result{Kind: types.MutationNewReview}, fmt.Errorf("drain reviews: %w", err)
	}
	return e.cycle(ctx, types.MutationNewReview, entries, lastChance, e.replayReview, messages{
		okTitle: ReviewsPostedTitle, okBody: ReviewsPostedBody,
		pendingTitle: ReviewsPendingTitle, pendingBody: ReviewsPendingBody,
		droppedTitle: ReviewsDroppedTitle, droppedBody: ReviewsDroppedBody,
	})
}

// SyncFavorites sends every pending favorite toggle.
func (e *Engine) SyncFavorites(ctx context.Context, lastChance bool) (Result, error) {
	e.favoritesMu.Lock()
	defer e.favoritesMu.Unlock()

	entries, err := e.Queue.DrainFavorites(ctx)
	if err != nil {
		return Result{Kind: types.MutationFavoriteToggle}, fmt.Errorf("drain favorites: %w", err)
	}
	return e.cycle(ctx, types.MutationFavoriteToggle, entries, lastChance, e.replayFavorite, messages{
		okTitle: FavoritesSyncedTitle, okBody: FavoritesSyncedBody,
		pendingTitle: FavoritesPendingTitle, pendingBody: FavoritesPendingBody,
		droppedTitle: FavoritesDroppedTitle, droppedBody: FavoritesDroppedBody,
	})
}

type messages struct {
	okTitle, okBody           string
	pendingTitle, pendingBody string
	droppedTitle, droppedBody string
}

func (e *Engine) cycle(ctx context.Context, kind types.MutationKind, entries []types.PendingMutation, lastChance bool, replay func(context.Context, types.PendingMutation) error, msg messages) (Result, error) {
	result := Result{Kind: kind, Attempted: len(entries)}
	if len(entries) == 0 {
		return result, nil
	}

	failures := e.replayAll(ctx, entries, replay)
	result.Confirmed = len(entries) - len(failures)
	for _, f := range failures {
		result.Failed = append(result.Failed, f.LocalID)
	}
	e.logf("%s cycle: %d confirmed, %d failed (last chance: %t)", kind, result.Confirmed, len(failures), lastChance)

	if len(failures) == 0 {
		e.notify(ctx, msg.okTitle, msg.okBody)
		return result, nil
	}

	if lastChance {
		if err := e.Queue.Clear(ctx, kind); err != nil {
			return result, fmt.Errorf("clear %s queue: %w", kind, err)
		}
		result.Cleared = true
		e.notify(ctx, msg.droppedTitle, msg.droppedBody)
		return result, fmt.Errorf("%w: dropped %d %s entries", ErrQueueExhausted, len(failures), kind)
	}

	e.notify(ctx, msg.pendingTitle, msg.pendingBody)
	return result, &ReplayError{Kind: kind, Failures: failures}
}

func (e *Engine) replayAll(ctx context.Context, entries []types.PendingMutation, replay func(context.Context, types.PendingMutation) error) []Failure {
	limit := e.Concurrency
	if limit <= 0 {
		limit = DefaultConcurrency
	}
	errs := make([]error, len(entries))
	sem := make(chan struct{}, limit)
	var wg sync.WaitGroup
	for i, entry := range entries {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, entry types.PendingMutation) {
			defer wg.Done()
			defer func() { <-sem }()
			errs[i] = replay(ctx, entry)
		}(i, entry)
	}
	wg.Wait()

	var failures []Failure
	for i, err := range errs {
		if err != nil {
			e.logf("replay %s %s: %v", entries[i].Kind, entries[i].LocalID, err)
			failures = append(failures, Failure{LocalID: entries[i].LocalID, Err: err})
		}
	}
	return failures
}

func (e *Engine) replayReview(ctx context.Context, entry types.PendingMutation) error {
	if entry.Review == nil {
		return fmt.Errorf("pending review %s has no payload", entry.LocalID)
	}
	created, err := e.Remote.CreateReview(ctx, types.RequestFor(*entry.Review), entry.Review.ClientToken)
	if err != nil {
		return err
	}
	if e.Cache != nil {
		if err := e.Cache.StoreReviews(ctx, created); err != nil {
			return fmt.Errorf("cache review %d: %w", created.ID, err)
		}
	}
	if err := e.Queue.Remove(ctx, types.MutationNewReview, entry.LocalID); err != nil {
		return fmt.Errorf("remove %s: %w", entry.LocalID, err)
	}
	return nil
}

func (e *Engine) replayFavorite(ctx context.Context, entry types.PendingMutation) error {
	toggle := entry.Favorite
	if toggle == nil {
		return fmt.Errorf("pending favorite %s has no payload", entry.LocalID)
	}
	updated, err := e.Remote.SetFavorite(ctx, toggle.RestaurantID, toggle.IsFavorite)
	if err != nil {
		return err
	}
	if e.Cache != nil {
		if err := e.Cache.StoreRestaurants(ctx, updated); err != nil {
			return fmt.Errorf("cache restaurant %d: %w", updated.ID, err)
		}
	}
	removed, err := e.Queue.RemoveFavoriteIfUnchanged(ctx, toggle.RestaurantID, toggle.IsFavorite)
	if err != nil {
		return fmt.Errorf("remove favorite %d: %w", toggle.RestaurantID, err)
	}
	if !removed {
		e.logf("favorite %d changed during replay; keeping newer toggle", toggle.RestaurantID)
	}
	return nil
}

func (e *Engine) notify(ctx context.Context, title, body string) {
	if e.Notifier == nil || e.Notifier.Permission() != host.PermissionGranted {
		return
	}
	if err := e.Notifier.Notify(ctx, title, body); err != nil {
		e.logf("notify: %v", err)
	}
}

func (e *Engine) logf(format string, args ...any) {
	if e.Logger == nil {
		return
	}
	e.Logger.Printf(format, args...)
}
