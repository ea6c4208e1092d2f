// Package remotetest provides an in-memory review service for tests.
package remotetest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/johnayeni/mws-restaurant-reviews-app/internal/types"
)

// Server serves the restaurant review API from memory.
type Server struct {
	*httptest.Server

	mu          sync.Mutex
	restaurants map[int64]types.Restaurant
	reviews     []types.Review
	nextReview  int64
	offline     bool
	rejectAll   int
	seenKeys    map[string]int64
	ignoreKeys  bool
	postDelay   time.Duration
	calls       map[string]int
}

// NewServer starts a server seeded with restaurants.
func NewServer(restaurants ...types.Restaurant) *Server {
	s := &Server{
		restaurants: map[int64]types.Restaurant{},
		nextReview:  100,
		seenKeys:    map[string]int64{},
		calls:       map[string]int{},
	}
	for _, r := range restaurants {
		s.restaurants[r.ID] = r
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

// SetNextReviewID sets the id the next created review receives.
func (s *Server) SetNextReviewID(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextReview = id - 1
}

// SetOffline makes every request fail at the transport level.
func (s *Server) SetOffline(offline bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offline = offline
}

// RejectWith answers every request with status until set back to 0.
func (s *Server) RejectWith(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejectAll = status
}

// IgnoreIdempotencyKeys makes review POSTs store a new review every time,
// like the reference service.
func (s *Server) IgnoreIdempotencyKeys() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ignoreKeys = true
}

// SetPostDelay holds every POST for d before it is handled.
func (s *Server) SetPostDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.postDelay = d
}

// PutRestaurant replaces the server's copy of a restaurant.
func (s *Server) PutRestaurant(r types.Restaurant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.restaurants[r.ID] = r
}

// AddReview stores a confirmed review directly.
func (s *Server) AddReview(r types.Review) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reviews = append(s.reviews, r)
}

// Reviews returns the reviews stored for a restaurant.
func (s *Server) Reviews(restaurantID int64) []types.Review {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reviewsFor(restaurantID)
}

// Restaurant returns the server's copy of a restaurant.
func (s *Server) Restaurant(id int64) (types.Restaurant, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.restaurants[id]
	return r, ok
}

// Calls returns how many requests matched "METHOD /path" (path without query).
func (s *Server) Calls(route string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[route]
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodPost {
		s.mu.Lock()
		delay := s.postDelay
		s.mu.Unlock()
		time.Sleep(delay)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.offline {
		if hj, ok := w.(http.Hijacker); ok {
			if conn, _, err := hj.Hijack(); err == nil {
				_ = conn.Close()
				return
			}
		}
		http.Error(w, "offline", http.StatusServiceUnavailable)
		return
	}

	s.calls[r.Method+" "+r.URL.Path]++
	if s.rejectAll != 0 {
		writeJSON(w, s.rejectAll, map[string]string{"error": "rejected", "message": "rejected by test server"})
		return
	}

	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	switch {
	case parts[0] == "restaurants" && len(parts) == 1 && r.Method == http.MethodGet:
		list := make([]types.Restaurant, 0, len(s.restaurants))
		for _, rest := range s.restaurants {
			list = append(list, rest)
		}
		sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
		writeJSON(w, http.StatusOK, list)
	case parts[0] == "restaurants" && len(parts) == 2:
		id, err := strconv.ParseInt(parts[1], 10, 64)
		rest, ok := s.restaurants[id]
		if err != nil || !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "not_found"})
			return
		}
		switch r.Method {
		case http.MethodGet:
			writeJSON(w, http.StatusOK, rest)
		case http.MethodPut:
			// The reference server echoes the flag back as a string.
			value := r.URL.Query().Get("is_favorite")
			fav, err := strconv.ParseBool(value)
			if err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad_request"})
				return
			}
			rest.IsFavorite = types.FlexBool(fav)
			s.restaurants[id] = rest
			out := map[string]any{}
			data, _ := json.Marshal(rest)
			_ = json.Unmarshal(data, &out)
			out["is_favorite"] = value
			writeJSON(w, http.StatusOK, out)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	case parts[0] == "reviews" && len(parts) == 1 && r.Method == http.MethodGet:
		id, err := strconv.ParseInt(r.URL.Query().Get("restaurant_id"), 10, 64)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad_request"})
			return
		}
		writeJSON(w, http.StatusOK, s.reviewsFor(id))
	case parts[0] == "reviews" && len(parts) == 1 && r.Method == http.MethodPost:
		var req types.NewReviewRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad_request", "message": err.Error()})
			return
		}
		key := r.Header.Get("Idempotency-Key")
		if s.ignoreKeys {
			key = ""
		}
		if id, ok := s.seenKeys[key]; ok && key != "" {
			for _, existing := range s.reviews {
				if existing.ID == id {
					writeJSON(w, http.StatusCreated, existing)
					return
				}
			}
		}
		s.nextReview++
		review := types.Review{
			ID:           s.nextReview,
			RestaurantID: req.RestaurantID,
			Name:         req.Name,
			Rating:       req.Rating,
			Comments:     req.Comments,
			CreatedAt:    req.CreatedAt,
			UpdatedAt:    req.CreatedAt,
		}
		s.reviews = append(s.reviews, review)
		if key != "" {
			s.seenKeys[key] = review.ID
		}
		writeJSON(w, http.StatusCreated, review)
	default:
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not_found"})
	}
}

func (s *Server) reviewsFor(restaurantID int64) []types.Review {
	out := []types.Review{}
	for _, r := range s.reviews {
		if r.RestaurantID == restaurantID {
			out = append(out, r)
		}
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
