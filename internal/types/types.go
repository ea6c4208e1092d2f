package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidReview is returned when a review fails validation.
var ErrInvalidReview = errors.New("invalid review")

// LocalIDPrefix marks identifiers assigned on this device before the server confirms a write.
const LocalIDPrefix = "tmp-"

// FlexBool decodes booleans that the server may send either as JSON booleans
// or as the strings "true"/"false".
type FlexBool bool

func (b *FlexBool) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "null" || raw == "" {
		*b = false
		return nil
	}
	raw = strings.Trim(raw, `"`)
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return fmt.Errorf("invalid boolean %s", string(data))
	}
	*b = FlexBool(value)
	return nil
}

func (b FlexBool) MarshalJSON() ([]byte, error) {
	return json.Marshal(bool(b))
}

// LatLng is a restaurant's map position.
type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Restaurant is the server's canonical restaurant record.
type Restaurant struct {
	ID             int64             `json:"id"`
	Name           string            `json:"name"`
	Neighborhood   string            `json:"neighborhood"`
	Photograph     string            `json:"photograph,omitempty"`
	Address        string            `json:"address"`
	LatLng         LatLng            `json:"latlng"`
	CuisineType    string            `json:"cuisine_type"`
	OperatingHours map[string]string `json:"operating_hours,omitempty"`
	IsFavorite     FlexBool          `json:"is_favorite"`
	CreatedAt      json.RawMessage   `json:"createdAt,omitempty"`
	UpdatedAt      json.RawMessage   `json:"updatedAt,omitempty"`
}

// Review is either confirmed (ID set by the server) or pending (LocalID only).
type Review struct {
	ID           int64  `json:"id,omitempty"`
	LocalID      string `json:"local_id,omitempty"`
	RestaurantID int64  `json:"restaurant_id"`
	Name         string `json:"name"`
	Rating       int    `json:"rating"`
	Comments     string `json:"comments"`
	CreatedAt    int64  `json:"createdAt"`
	UpdatedAt    int64  `json:"updatedAt,omitempty"`
	ClientToken  string `json:"client_token,omitempty"`
}

// Pending reports whether the review is still awaiting server confirmation.
func (r Review) Pending() bool {
	return r.ID == 0 && r.LocalID != ""
}

// Validate checks the fields a user supplies when writing a review.
func (r Review) Validate() error {
	if r.RestaurantID <= 0 {
		return fmt.Errorf("%w: restaurant id must be positive", ErrInvalidReview)
	}
	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidReview)
	}
	if r.Rating < 1 || r.Rating > 5 {
		return fmt.Errorf("%w: rating must be between 1 and 5, got %d", ErrInvalidReview, r.Rating)
	}
	return nil
}

// NewReviewRequest is the POST /reviews body.
type NewReviewRequest struct {
	RestaurantID int64  `json:"restaurant_id"`
	Name         string `json:"name"`
	Rating       int    `json:"rating"`
	Comments     string `json:"comments"`
	CreatedAt    int64  `json:"createdAt"`
}

// RequestFor strips local bookkeeping from a review before it is sent.
func RequestFor(r Review) NewReviewRequest {
	return NewReviewRequest{
		RestaurantID: r.RestaurantID,
		Name:         r.Name,
		Rating:       r.Rating,
		Comments:     r.Comments,
		CreatedAt:    r.CreatedAt,
	}
}

// MutationKind tags a PendingMutation.
type MutationKind string

const (
	MutationNewReview      MutationKind = "new_review"
	MutationFavoriteToggle MutationKind = "favorite_toggle"
)

// FavoriteToggle is the payload of a queued favorite change.
type FavoriteToggle struct {
	RestaurantID int64 `json:"restaurant_id"`
	IsFavorite   bool  `json:"is_favorite"`
	QueuedAt     int64 `json:"queued_at"`
}

// PendingMutation is a locally queued write awaiting remote confirmation.
// Exactly one of Review or Favorite is set, matching Kind.
type PendingMutation struct {
	Kind     MutationKind    `json:"kind"`
	LocalID  string          `json:"local_id"`
	Review   *Review         `json:"review,omitempty"`
	Favorite *FavoriteToggle `json:"favorite,omitempty"`
	QueuedAt int64           `json:"queued_at"`
}

// FavoriteLocalID renders the queue key for a restaurant's pending toggle.
func FavoriteLocalID(restaurantID int64) string {
	return strconv.FormatInt(restaurantID, 10)
}

// IsLocalID reports whether id was assigned locally.
func IsLocalID(id string) bool {
	return strings.HasPrefix(id, LocalIDPrefix)
}
