package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/johnayeni/mws-restaurant-reviews-app/internal/types"
)

// ErrRemoteRejected matches any non-success response from the review service.
var ErrRemoteRejected = errors.New("remote rejected request")

// ErrNetwork matches transport failures where no response was received.
var ErrNetwork = errors.New("network unavailable")

// APIError represents a response the review service should not have sent:
// any error status, or a success status other than the one the call expects.
type APIError struct {
	Status  int
	Method  string
	Path    string
	Message string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s %s: %d %s: %s", e.Method, e.Path, e.Status, http.StatusText(e.Status), e.Message)
	}
	return fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.Status, http.StatusText(e.Status))
}

// Is lets errors.Is(err, ErrRemoteRejected) match any APIError.
func (e *APIError) Is(target error) bool {
	return target == ErrRemoteRejected
}

// NotFound reports whether the service said the resource does not exist.
func (e *APIError) NotFound() bool {
	return e.Status == http.StatusNotFound
}

// NetworkError wraps a transport failure.
type NetworkError struct {
	Method string
	Path   string
	Err    error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Method, e.Path, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

func (e *NetworkError) Is(target error) bool {
	return target == ErrNetwork
}

type apiErrorPayload struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Client talks to the restaurant review service.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithTimeout sets the per-request timeout of the default http.Client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// NewClient constructs a client for the service rooted at baseURL.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	normalized, err := NormalizeBaseURL(baseURL)
	if err != nil {
		return nil, err
	}
	c := &Client{
		baseURL: normalized,
		httpClient: &http.Client{
			Timeout: 20 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// NormalizeBaseURL trims the server url and ensures it has a scheme.
func NormalizeBaseURL(raw string) (string, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return "", fmt.Errorf("server url cannot be empty")
	}
	parsed, err := url.Parse(value)
	if err != nil {
		return "", fmt.Errorf("invalid server url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return "", fmt.Errorf("server url must include scheme and host (http://localhost:1337)")
	}
	return strings.TrimRight(value, "/"), nil
}

// BaseURL returns the normalized server url.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// ListRestaurants fetches every restaurant.
func (c *Client) ListRestaurants(ctx context.Context) ([]types.Restaurant, error) {
	var resp []types.Restaurant
	if err := c.doJSON(ctx, http.MethodGet, "/restaurants", nil, nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// GetRestaurant fetches one restaurant by id.
func (c *Client) GetRestaurant(ctx context.Context, id int64) (types.Restaurant, error) {
	var resp types.Restaurant
	if err := c.doJSON(ctx, http.MethodGet, restaurantPath(id), nil, nil, nil, &resp); err != nil {
		return types.Restaurant{}, err
	}
	return resp, nil
}

// SetFavorite marks a restaurant as favorite or not and returns the updated record.
func (c *Client) SetFavorite(ctx context.Context, id int64, favorite bool) (types.Restaurant, error) {
	var resp types.Restaurant
	query := url.Values{}
	query.Set("is_favorite", strconv.FormatBool(favorite))
	if err := c.doJSON(ctx, http.MethodPut, restaurantPath(id), query, nil, nil, &resp); err != nil {
		return types.Restaurant{}, err
	}
	if resp.ID != id {
		return types.Restaurant{}, fmt.Errorf("set favorite %d: server returned restaurant %d", id, resp.ID)
	}
	return resp, nil
}

// ListReviews fetches the confirmed reviews of a restaurant.
func (c *Client) ListReviews(ctx context.Context, restaurantID int64) ([]types.Review, error) {
	var resp []types.Review
	query := url.Values{}
	query.Set("restaurant_id", strconv.FormatInt(restaurantID, 10))
	if err := c.doJSON(ctx, http.MethodGet, "/reviews", query, nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// CreateReview posts a review. The service must answer 201 with the stored
// review; idempotencyKey, when set, lets it drop replays of the same write.
func (c *Client) CreateReview(ctx context.Context, req types.NewReviewRequest, idempotencyKey string) (types.Review, error) {
	var resp types.Review
	var header http.Header
	if idempotencyKey != "" {
		header = http.Header{"Idempotency-Key": []string{idempotencyKey}}
	}
	err := c.do(ctx, http.MethodPost, "/reviews", nil, header, req, func(status int, data []byte) error {
		if status != http.StatusCreated {
			return &APIError{Status: status, Method: http.MethodPost, Path: "/reviews", Message: "expected 201 Created"}
		}
		return json.Unmarshal(data, &resp)
	})
	if err != nil {
		return types.Review{}, err
	}
	if resp.ID <= 0 {
		return types.Review{}, fmt.Errorf("create review: server returned no id")
	}
	return resp, nil
}

// Ping checks that the service is reachable. Any HTTP response counts.
func (c *Client) Ping(ctx context.Context) error {
	err := c.do(ctx, http.MethodGet, "/restaurants", nil, nil, nil, func(int, []byte) error { return nil })
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return nil
	}
	return err
}

func restaurantPath(id int64) string {
	return "/restaurants/" + strconv.FormatInt(id, 10)
}

// doJSON accepts only 200 OK; other 2xx answers carry no record to decode.
func (c *Client) doJSON(ctx context.Context, method, path string, query url.Values, header http.Header, reqBody any, respBody any) error {
	return c.do(ctx, method, path, query, header, reqBody, func(status int, data []byte) error {
		if status != http.StatusOK {
			return &APIError{Status: status, Method: method, Path: path, Message: "expected 200 OK"}
		}
		if respBody == nil {
			return nil
		}
		if err := json.Unmarshal(data, respBody); err != nil {
			return fmt.Errorf("%s %s: decode response: %w", method, path, err)
		}
		return nil
	})
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, header http.Header, reqBody any, handle func(status int, data []byte) error) error {
	endpoint, err := c.buildURL(path, query)
	if err != nil {
		return err
	}

	var body io.Reader
	if reqBody != nil {
		data, err := json.Marshal(reqBody)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	for key, values := range header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &NetworkError{Method: method, Path: path, Err: err}
	}
	defer resp.Body.Close()

	respData, err := io.ReadAll(resp.Body)
	if err != nil {
		return &NetworkError{Method: method, Path: path, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode, Method: method, Path: path}
		var payload apiErrorPayload
		if err := json.Unmarshal(respData, &payload); err == nil {
			apiErr.Message = payload.Message
			if apiErr.Message == "" {
				apiErr.Message = payload.Error
			}
		} else {
			apiErr.Message = strings.TrimSpace(string(respData))
		}
		return apiErr
	}
	return handle(resp.StatusCode, respData)
}

func (c *Client) buildURL(path string, query url.Values) (string, error) {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	base, err := url.Parse(c.baseURL)
	if err != nil {
		return "", err
	}
	ref, err := url.Parse(path)
	if err != nil {
		return "", err
	}
	endpoint := base.ResolveReference(ref)
	if len(query) > 0 {
		endpoint.RawQuery = query.Encode()
	}
	return endpoint.String(), nil
}
