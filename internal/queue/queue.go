// Package queue holds writes made locally until the review service confirms them.
package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/johnayeni/mws-restaurant-reviews-app/internal/db"
	"github.com/johnayeni/mws-restaurant-reviews-app/internal/host"
	"github.com/johnayeni/mws-restaurant-reviews-app/internal/types"
)

// ErrSyncUnavailable means nothing was queued; the caller should write directly.
var ErrSyncUnavailable = errors.New("background sync unavailable")

// Background trigger tags.
const (
	TagSyncReviews   = "syncReviews"
	TagSyncFavorites = "syncFavorites"
)

const reviewSequence = "local_review_id"

// Queue is the durable write-behind queue for reviews and favorite toggles.
type Queue struct {
	store     *db.Store
	scheduler host.Scheduler
	now       func() time.Time
}

// New returns a queue persisting into store and registering triggers with scheduler.
func New(store *db.Store, scheduler host.Scheduler) *Queue {
	return &Queue{store: store, scheduler: scheduler, now: time.Now}
}

// Available reports whether writes can be queued at all.
func (q *Queue) Available() bool {
	return q != nil && q.store != nil && q.scheduler != nil
}

// EnqueueReview stores review as pending and registers a syncReviews trigger.
// It returns the local id assigned to the review.
func (q *Queue) EnqueueReview(ctx context.Context, review types.Review) (string, error) {
	if !q.Available() {
		return "", ErrSyncUnavailable
	}
	if err := review.Validate(); err != nil {
		return "", err
	}
	n, err := q.store.NextSequence(ctx, reviewSequence)
	if err != nil {
		return "", err
	}
	review.ID = 0
	review.LocalID = types.LocalIDPrefix + strconv.FormatInt(n, 10)
	if review.CreatedAt == 0 {
		review.CreatedAt = q.now().UnixMilli()
	}
	review.UpdatedAt = review.CreatedAt
	review.ClientToken = uuid.NewString()

	if err := q.store.Put(ctx, db.PendingReviews, review); err != nil {
		return "", fmt.Errorf("queue review: %w", err)
	}
	if err := q.scheduler.Register(ctx, TagSyncReviews); err != nil {
		_ = q.store.Delete(ctx, db.PendingReviews, review.LocalID)
		return "", fmt.Errorf("%w: %v", ErrSyncUnavailable, err)
	}
	return review.LocalID, nil
}

// EnqueueFavoriteToggle stores the desired favorite value for a restaurant,
// replacing any toggle still pending for it, and registers syncFavorites.
func (q *Queue) EnqueueFavoriteToggle(ctx context.Context, restaurantID int64, desired bool) error {
	if !q.Available() {
		return ErrSyncUnavailable
	}
	if restaurantID <= 0 {
		return fmt.Errorf("restaurant id must be positive")
	}
	key := types.FavoriteLocalID(restaurantID)
	var (
		previous db.Record
		hadPrev  bool
	)
	err := q.store.Update(ctx, db.PendingFavorites, func(tx *db.Tx) error {
		var err error
		previous, hadPrev, err = tx.Get(key)
		if err != nil {
			return err
		}
		return tx.Put(types.FavoriteToggle{
			RestaurantID: restaurantID,
			IsFavorite:   desired,
			QueuedAt:     q.now().UnixMilli(),
		})
	})
	if err != nil {
		return fmt.Errorf("queue favorite: %w", err)
	}
	if err := q.scheduler.Register(ctx, TagSyncFavorites); err != nil {
		if hadPrev {
			_ = q.store.Put(ctx, db.PendingFavorites, previous.Data)
		} else {
			_ = q.store.Delete(ctx, db.PendingFavorites, key)
		}
		return fmt.Errorf("%w: %v", ErrSyncUnavailable, err)
	}
	return nil
}

// DrainReviews snapshots pending reviews, oldest first. Entries stay queued.
func (q *Queue) DrainReviews(ctx context.Context) ([]types.PendingMutation, error) {
	reviews, err := q.pendingReviews(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]types.PendingMutation, 0, len(reviews))
	for i := range reviews {
		r := reviews[i]
		out = append(out, types.PendingMutation{
			Kind:     types.MutationNewReview,
			LocalID:  r.LocalID,
			Review:   &r,
			QueuedAt: r.CreatedAt,
		})
	}
	return out, nil
}

// DrainFavorites snapshots pending favorite toggles. Entries stay queued.
func (q *Queue) DrainFavorites(ctx context.Context) ([]types.PendingMutation, error) {
	toggles, err := q.pendingToggles(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]types.PendingMutation, 0, len(toggles))
	for i := range toggles {
		toggle := toggles[i]
		out = append(out, types.PendingMutation{
			Kind:     types.MutationFavoriteToggle,
			LocalID:  types.FavoriteLocalID(toggle.RestaurantID),
			Favorite: &toggle,
			QueuedAt: toggle.QueuedAt,
		})
	}
	return out, nil
}

// Remove deletes a confirmed entry. Removing a missing entry is not an error.
func (q *Queue) Remove(ctx context.Context, kind types.MutationKind, localID string) error {
	collection, err := collectionFor(kind)
	if err != nil {
		return err
	}
	return q.store.Delete(ctx, collection, localID)
}

// RemoveFavoriteIfUnchanged removes the pending toggle for restaurantID only
// if it still asks for desired, so a newer toggle queued meanwhile survives.
func (q *Queue) RemoveFavoriteIfUnchanged(ctx context.Context, restaurantID int64, desired bool) (bool, error) {
	removed := false
	err := q.store.Update(ctx, db.PendingFavorites, func(tx *db.Tx) error {
		key := types.FavoriteLocalID(restaurantID)
		rec, ok, err := tx.Get(key)
		if err != nil || !ok {
			return err
		}
		var toggle types.FavoriteToggle
		if err := rec.Decode(&toggle); err != nil {
			return err
		}
		if toggle.IsFavorite != desired {
			return nil
		}
		removed = true
		return tx.Delete(key)
	})
	return removed, err
}

// Clear drops every pending entry of kind.
func (q *Queue) Clear(ctx context.Context, kind types.MutationKind) error {
	collection, err := collectionFor(kind)
	if err != nil {
		return err
	}
	return q.store.Clear(ctx, collection)
}

// Count returns how many entries of kind are pending.
func (q *Queue) Count(ctx context.Context, kind types.MutationKind) (int, error) {
	collection, err := collectionFor(kind)
	if err != nil {
		return 0, err
	}
	return q.store.Count(ctx, collection)
}

// PendingFavorites maps restaurant ids to their pending favorite value.
func (q *Queue) PendingFavorites(ctx context.Context) (map[int64]bool, error) {
	if q == nil || q.store == nil {
		return nil, nil
	}
	toggles, err := q.pendingToggles(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[int64]bool, len(toggles))
	for _, toggle := range toggles {
		out[toggle.RestaurantID] = toggle.IsFavorite
	}
	return out, nil
}

// PendingFavorite returns the pending favorite value for one restaurant.
func (q *Queue) PendingFavorite(ctx context.Context, restaurantID int64) (bool, bool, error) {
	if q == nil || q.store == nil {
		return false, false, nil
	}
	toggle, ok, err := db.GetAs[types.FavoriteToggle](ctx, q.store, db.PendingFavorites, types.FavoriteLocalID(restaurantID))
	return toggle.IsFavorite, ok, err
}

// PendingReviewsFor lists unconfirmed reviews of a restaurant, oldest first.
func (q *Queue) PendingReviewsFor(ctx context.Context, restaurantID int64) ([]types.Review, error) {
	if q == nil || q.store == nil {
		return nil, nil
	}
	records, err := q.store.GetAllByIndex(ctx, db.PendingReviews, "restaurant_id", restaurantID)
	if err != nil {
		return nil, err
	}
	return db.DecodeAll[types.Review](records)
}

func (q *Queue) pendingReviews(ctx context.Context) ([]types.Review, error) {
	records, err := q.store.GetAll(ctx, db.PendingReviews)
	if err != nil {
		return nil, err
	}
	return db.DecodeAll[types.Review](records)
}

func (q *Queue) pendingToggles(ctx context.Context) ([]types.FavoriteToggle, error) {
	records, err := q.store.GetAll(ctx, db.PendingFavorites)
	if err != nil {
		return nil, err
	}
	return db.DecodeAll[types.FavoriteToggle](records)
}

func collectionFor(kind types.MutationKind) (string, error) {
	switch kind {
	case types.MutationNewReview:
		return db.PendingReviews, nil
	case types.MutationFavoriteToggle:
		return db.PendingFavorites, nil
	default:
		return "", fmt.Errorf("unknown mutation kind %q", kind)
	}
}
