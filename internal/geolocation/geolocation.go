// Package geolocation provides the location capability used by the dashboard
// client and a tracker that remembers the last outcome.
package geolocation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/kjstillabower/waterlogging-dashboard/internal/models"
)

var (
	ErrPermissionDenied    = errors.New("location permission denied")
	ErrPositionUnavailable = errors.New("location unavailable")
	ErrTimeout             = errors.New("location request timed out")
)

// Locator resolves the current position.
type Locator interface {
	Locate(ctx context.Context) (models.Coordinates, error)
}

// Message returns the user-facing text for a locate failure.
func Message(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrPermissionDenied):
		return "User denied the request for Geolocation."
	case errors.Is(err, ErrPositionUnavailable):
		return "Location information is unavailable."
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return "The request to get user location timed out."
	default:
		return "An unknown error occurred."
	}
}

// StaticLocator always reports the same coordinates.
type StaticLocator struct {
	Coordinates models.Coordinates
}

func (s StaticLocator) Locate(ctx context.Context) (models.Coordinates, error) {
	if err := ctx.Err(); err != nil {
		return models.Coordinates{}, err
	}
	return s.Coordinates, nil
}

// DisabledLocator models a capability the user has turned off.
type DisabledLocator struct{}

func (DisabledLocator) Locate(ctx context.Context) (models.Coordinates, error) {
	return models.Coordinates{}, ErrPermissionDenied
}

// IPLocator resolves the position from the caller's public IP using an
// ip-api.com compatible endpoint.
type IPLocator struct {
	endpoint   string
	httpClient *http.Client
}

// NewIPLocator returns an IPLocator. An empty endpoint uses ip-api.com.
func NewIPLocator(endpoint string, timeout time.Duration) *IPLocator {
	if endpoint == "" {
		endpoint = "http://ip-api.com/json"
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &IPLocator{
		endpoint:   strings.TrimRight(endpoint, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

type ipAPIResponse struct {
	Status  string   `json:"status"`
	Message string   `json:"message"`
	Lat     *float64 `json:"lat"`
	Lon     *float64 `json:"lon"`
}

func (l *IPLocator) Locate(ctx context.Context) (models.Coordinates, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.endpoint, nil)
	if err != nil {
		return models.Coordinates{}, fmt.Errorf("create request: %w", err)
	}
	resp, err := l.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return models.Coordinates{}, err
		}
		var netErr interface{ Timeout() bool }
		if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
			return models.Coordinates{}, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return models.Coordinates{}, fmt.Errorf("%w: %v", ErrPositionUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusForbidden {
		return models.Coordinates{}, ErrPermissionDenied
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return models.Coordinates{}, fmt.Errorf("%w: status %d", ErrPositionUnavailable, resp.StatusCode)
	}

	var body ipAPIResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return models.Coordinates{}, fmt.Errorf("%w: decode: %v", ErrPositionUnavailable, err)
	}
	if body.Status != "" && body.Status != "success" {
		return models.Coordinates{}, fmt.Errorf("%w: %s", ErrPositionUnavailable, body.Message)
	}
	if body.Lat == nil || body.Lon == nil {
		return models.Coordinates{}, fmt.Errorf("%w: missing coordinates", ErrPositionUnavailable)
	}
	return models.Coordinates{Latitude: *body.Lat, Longitude: *body.Lon}, nil
}

// Snapshot is the tracker state at a point in time.
type Snapshot struct {
	Coordinates *models.Coordinates
	Error       string
	Loading     bool
}

// Tracker remembers the outcome of the most recent locate attempt.
type Tracker struct {
	locator Locator

	mu      sync.Mutex
	coords  *models.Coordinates
	errMsg  string
	loading bool
}

// NewTracker returns a Tracker backed by locator.
func NewTracker(locator Locator) *Tracker {
	return &Tracker{locator: locator}
}

// GetLocation calls the locator once. Success stores the coordinates and clears
// the error; failure stores the message and clears the coordinates.
func (t *Tracker) GetLocation(ctx context.Context) Snapshot {
	t.mu.Lock()
	t.loading = true
	t.mu.Unlock()

	c, err := t.locator.Locate(ctx)

	t.mu.Lock()
	defer t.mu.Unlock()
	t.loading = false
	if err != nil {
		t.coords = nil
		t.errMsg = Message(err)
	} else {
		t.coords = &c
		t.errMsg = ""
	}
	return t.snapshotLocked()
}

// Snapshot returns the current state.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

func (t *Tracker) snapshotLocked() Snapshot {
	s := Snapshot{Error: t.errMsg, Loading: t.loading}
	if t.coords != nil {
		c := *t.coords
		s.Coordinates = &c
	}
	return s
}
