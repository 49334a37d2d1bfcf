package http

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kjstillabower/waterlogging-dashboard/internal/lifecycle"
	"github.com/kjstillabower/waterlogging-dashboard/internal/models"
	"github.com/kjstillabower/waterlogging-dashboard/internal/prediction"
	"github.com/kjstillabower/waterlogging-dashboard/internal/traffic"
)

type failingRunner struct{ err error }

func (f failingRunner) Predict(ctx context.Context, c models.Coordinates) (models.PredictionSeries, error) {
	return nil, f.err
}

func TestHandler_GetPredictions_TerrainMissKeepsServiceHealthy(t *testing.T) {
	lifecycle.SetPhase(lifecycle.Serving)
	defer lifecycle.SetPhase(lifecycle.Starting)

	s := newTestStack(t, stackOptions{health: &HealthConfig{
		APIKeyConfigured: true,
		Thresholds:       traffic.Thresholds{Window: time.Minute, ErrorPct: 50, MinRequests: 2},
	}})

	for i := 0; i < 10; i++ {
		if w := s.get("/api/predictions?lat=10&lon=10"); w.Code != http.StatusNotFound {
			t.Fatalf("request %d status = %d, want 404", i, w.Code)
		}
	}

	counts := s.tracker.Counts(time.Minute)
	if counts.Error != 0 || counts.Success != 10 {
		t.Errorf("tracker counts = %+v, want 10 successes and no errors", counts)
	}
	code, body := healthStatus(t, s)
	if code != http.StatusOK || body["status"] != "healthy" {
		t.Errorf("health = %d %v, want 200 healthy", code, body["status"])
	}
	if checks := body["checks"].(map[string]any); checks["weatherApi"] != "healthy" {
		t.Errorf("weatherApi check = %v, want healthy", checks["weatherApi"])
	}
}

func TestHandler_GetPredictions_TrafficOutcomeByKind(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		wantSuccess int
		wantError   int
	}{
		{"no terrain match", fmt.Errorf("%w: no row", prediction.ErrNoTerrainMatch), 1, 0},
		{"terrain unavailable", fmt.Errorf("%w: fetch failed", prediction.ErrTerrainUnavailable), 0, 1},
		{"weather unavailable", fmt.Errorf("%w: 503", prediction.ErrWeatherUnavailable), 0, 1},
		{"canceled", context.Canceled, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tracker := traffic.NewTracker(nil)
			h := NewHandler(nil, nil, failingRunner{err: tt.err}, tracker, nil, nil)

			w := httptest.NewRecorder()
			h.GetPredictions(w, httptest.NewRequest(http.MethodGet, "/api/predictions?lat=19.07&lon=72.87", nil))

			if w.Code == http.StatusOK {
				t.Fatalf("status = 200 for a failed chain")
			}
			c := tracker.Counts(time.Minute)
			if c.Success != tt.wantSuccess || c.Error != tt.wantError {
				t.Errorf("counts = %+v, want success %d error %d", c, tt.wantSuccess, tt.wantError)
			}
		})
	}
}
