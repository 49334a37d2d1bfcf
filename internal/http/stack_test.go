package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/waterlogging-dashboard/internal/cache"
	"github.com/kjstillabower/waterlogging-dashboard/internal/client"
	"github.com/kjstillabower/waterlogging-dashboard/internal/dashboard"
	"github.com/kjstillabower/waterlogging-dashboard/internal/models"
	"github.com/kjstillabower/waterlogging-dashboard/internal/prediction"
	"github.com/kjstillabower/waterlogging-dashboard/internal/service"
	"github.com/kjstillabower/waterlogging-dashboard/internal/terrain"
	"github.com/kjstillabower/waterlogging-dashboard/internal/testhelpers"
	"github.com/kjstillabower/waterlogging-dashboard/internal/traffic"
)

type stubGeocoder struct{}

func (stubGeocoder) Reverse(ctx context.Context, c models.Coordinates) (models.Place, error) {
	return models.Place{Name: "Kurla", Country: "IN", Coordinates: c}, nil
}

func (stubGeocoder) Search(ctx context.Context, q string) ([]models.Place, error) {
	if strings.EqualFold(q, "mumbai") {
		return []models.Place{{Name: "Mumbai", Country: "IN", Coordinates: models.Coordinates{Latitude: 19.07, Longitude: 72.87}}}, nil
	}
	return nil, client.ErrNotFound
}

type stackOptions struct {
	noAPIKey       bool
	limiter        *rate.Limiter
	health         *HealthConfig
	requestTimeout time.Duration
	logger         *zap.Logger
}

// testStack is the whole service wired against fake upstreams.
type testStack struct {
	handler   *Handler
	router    *mux.Router
	weather   *testhelpers.FakeWeatherbit
	predictor *testhelpers.FakePredictor
	tracker   *traffic.Tracker
}

// newTestStack serves current precipitation 5 and forecast [0, 2, 5] for Mumbai,
// with the fixture terrain row at 19.07,72.87.
func newTestStack(t testing.TB, opts stackOptions) *testStack {
	t.Helper()
	logger := opts.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	fw := testhelpers.NewFakeWeatherbit(t, 5, []float64{0, 2, 5})
	fp := testhelpers.NewFakePredictor(t)

	key := "test-key"
	if opts.noAPIKey {
		key = ""
	}
	weatherClient := client.NewWeatherbitClient(client.WeatherbitConfig{
		APIKey:  key,
		BaseURL: fw.URL,
		Timeout: time.Second,
		Retry:   client.RetryPolicy{Attempts: 1},
	})
	svc := service.NewWeatherService(weatherClient, stubGeocoder{}, cache.NewInMemoryCache(), service.Options{
		TTL:             5 * time.Minute,
		StaleTTL:        10 * time.Minute,
		CoalesceTimeout: 5 * time.Second,
		ForecastDays:    5,
	})

	path := testhelpers.WriteTerrainFile(t, t.TempDir(),
		testhelpers.TerrainRow{19.07, 72.87, 25, 5, "High", "Good", 0.6})
	lookup := terrain.NewLookup(terrain.FileSource{Path: path}, logger)
	orch := prediction.NewOrchestrator(svc, lookup, client.NewPredictionClient(fp.URL, "", time.Second), 5, logger)
	pages := dashboard.NewAssembler(svc, orch, logger)

	tracker := traffic.NewTracker(nil)
	h := NewHandler(svc, pages, orch, tracker, opts.health, logger)
	return &testStack{
		handler:   h,
		router:    NewRouter(h, RouterConfig{Limiter: opts.limiter, RequestTimeout: opts.requestTimeout}, logger),
		weather:   fw,
		predictor: fp,
		tracker:   tracker,
	}
}

func (s *testStack) get(path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}
