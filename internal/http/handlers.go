package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/kjstillabower/waterlogging-dashboard/internal/client"
	"github.com/kjstillabower/waterlogging-dashboard/internal/dashboard"
	"github.com/kjstillabower/waterlogging-dashboard/internal/lifecycle"
	"github.com/kjstillabower/waterlogging-dashboard/internal/models"
	"github.com/kjstillabower/waterlogging-dashboard/internal/prediction"
	"github.com/kjstillabower/waterlogging-dashboard/internal/traffic"
	"github.com/kjstillabower/waterlogging-dashboard/internal/validation"
)

const (
	cityNameMinLength = 1
	cityNameMaxLength = 100
)

// WeatherQueries are the cached weather and geocoding queries.
type WeatherQueries interface {
	Current(ctx context.Context, c *models.Coordinates) (models.WeatherSnapshot, error)
	Forecast(ctx context.Context, c *models.Coordinates) (models.ForecastSeries, error)
	Reverse(ctx context.Context, c *models.Coordinates) (models.Place, error)
	Search(ctx context.Context, query string) ([]models.Place, error)
}

// Pages builds the dashboard and city page views.
type Pages interface {
	Dashboard(ctx context.Context, c models.Coordinates) dashboard.View
	City(ctx context.Context, name string, c models.Coordinates) dashboard.View
}

// HealthConfig holds inputs for the health handler.
type HealthConfig struct {
	Thresholds       traffic.Thresholds
	APIKeyConfigured bool
	Version          string
	// CachePing, when set, is called to check cache reachability. Used when backend is memcached.
	CachePing func() error
	// BreakerState, when set, reports the weather API circuit breaker state.
	BreakerState func() string
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	weather          WeatherQueries
	pages            Pages
	predictions      dashboard.PredictionRunner
	tracker          *traffic.Tracker
	healthConfig     *HealthConfig
	logger           *zap.Logger
	healthStatusMu   sync.Mutex
	healthStatusPrev traffic.Status
}

// NewHandler returns a new Handler. A nil tracker gets a private one.
func NewHandler(
	weather WeatherQueries,
	pages Pages,
	predictions dashboard.PredictionRunner,
	tracker *traffic.Tracker,
	healthConfig *HealthConfig,
	logger *zap.Logger,
) *Handler {
	if tracker == nil {
		tracker = traffic.NewTracker(nil)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		weather:      weather,
		pages:        pages,
		predictions:  predictions,
		tracker:      tracker,
		healthConfig: healthConfig,
		logger:       logger,
	}
}

type pageResponse struct {
	Page        string             `json:"page"`
	Coordinates models.Coordinates `json:"coordinates"`
	View        dashboard.View     `json:"view"`
}

// GetDashboard handles GET /api/dashboard?lat=&lon=.
func (h *Handler) GetDashboard(w http.ResponseWriter, r *http.Request) {
	c, ok := requireCoordinates(w, r)
	if !ok {
		return
	}
	view := h.pages.Dashboard(r.Context(), c)
	h.recordView(view)
	writeJSON(w, http.StatusOK, pageResponse{Page: "dashboard", Coordinates: c, View: view})
}

// GetCity handles GET /api/city/{cityName}. Missing lat/lon default to 0.
func (h *Handler) GetCity(w http.ResponseWriter, r *http.Request) {
	name, err := validation.ValidateCityName(mux.Vars(r)["cityName"], cityNameMinLength, cityNameMaxLength)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_CITY", err.Error())
		return
	}
	q := r.URL.Query()
	lat, lon := q.Get("lat"), q.Get("lon")
	if strings.TrimSpace(lat) == "" {
		lat = "0"
	}
	if strings.TrimSpace(lon) == "" {
		lon = "0"
	}
	c, err := validation.ValidateCoordinates(lat, lon)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_COORDINATES", err.Error())
		return
	}
	view := h.pages.City(r.Context(), name, c)
	h.recordView(view)
	writeJSON(w, http.StatusOK, pageResponse{Page: "city", Coordinates: c, View: view})
}

// GetCurrent handles GET /api/weather/current?lat=&lon=.
func (h *Handler) GetCurrent(w http.ResponseWriter, r *http.Request) {
	c, ok := requireCoordinates(w, r)
	if !ok {
		return
	}
	result, err := h.weather.Current(r.Context(), &c)
	h.respond(w, r, result, err)
}

// GetForecast handles GET /api/weather/forecast?lat=&lon=.
func (h *Handler) GetForecast(w http.ResponseWriter, r *http.Request) {
	c, ok := requireCoordinates(w, r)
	if !ok {
		return
	}
	result, err := h.weather.Forecast(r.Context(), &c)
	h.respond(w, r, result, err)
}

// GetReverse handles GET /api/geocode/reverse?lat=&lon=.
func (h *Handler) GetReverse(w http.ResponseWriter, r *http.Request) {
	c, ok := requireCoordinates(w, r)
	if !ok {
		return
	}
	result, err := h.weather.Reverse(r.Context(), &c)
	h.respond(w, r, result, err)
}

// GetSearch handles GET /api/geocode/search?q=.
func (h *Handler) GetSearch(w http.ResponseWriter, r *http.Request) {
	query, err := validation.ValidateCityName(r.URL.Query().Get("q"), cityNameMinLength, cityNameMaxLength)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_QUERY", err.Error())
		return
	}
	places, err := h.weather.Search(r.Context(), query)
	h.respond(w, r, map[string]any{"query": query, "results": places}, err)
}

type predictionsResponse struct {
	Coordinates models.Coordinates      `json:"coordinates"`
	Current     *float64                `json:"current"`
	Days        []*float64              `json:"days"`
	Series      models.PredictionSeries `json:"series"`
}

// GetPredictions handles GET /api/predictions?lat=&lon=.
func (h *Handler) GetPredictions(w http.ResponseWriter, r *http.Request) {
	c, ok := requireCoordinates(w, r)
	if !ok {
		return
	}
	series, err := h.predictions.Predict(r.Context(), c)
	h.recordChain(err)
	if err != nil {
		writePredictionError(w, r, err)
		return
	}
	days := series.Upcoming(-1)
	if days == nil {
		days = []*float64{}
	}
	writeJSON(w, http.StatusOK, predictionsResponse{
		Coordinates: c,
		Current:     series.Current(),
		Days:        days,
		Series:      series,
	})
}

func (h *Handler) respond(w http.ResponseWriter, r *http.Request, v any, err error) {
	if err != nil {
		if client.IsUpstreamFailure(err) {
			h.tracker.Record(traffic.Error)
		}
		writeServiceError(w, r, err)
		return
	}
	h.tracker.Record(traffic.Success)
	writeJSON(w, http.StatusOK, v)
}

// recordView counts a page as failed when its current weather could not be produced.
// recordChain counts a prediction chain outcome. A location outside the
// terrain dataset is a served answer; only upstream failures count as errors.
func (h *Handler) recordChain(err error) {
	switch prediction.FailureKind(err) {
	case "", prediction.KindNoTerrainMatch:
		h.tracker.Record(traffic.Success)
	case prediction.KindWeatherUnavailable, prediction.KindTerrainUnavailable:
		h.tracker.Record(traffic.Error)
	}
}

func (h *Handler) recordView(v dashboard.View) {
	if v.Sections.Current.Status == dashboard.StatusReady {
		h.tracker.Record(traffic.Success)
		return
	}
	if v.Sections.Current.Kind == prediction.KindWeatherUnavailable {
		h.tracker.Record(traffic.Error)
	}
}

// requireCoordinates reads lat/lon. Without them the page has no location to render.
func requireCoordinates(w http.ResponseWriter, r *http.Request) (models.Coordinates, bool) {
	q := r.URL.Query()
	c, err := validation.ValidateCoordinates(q.Get("lat"), q.Get("lon"))
	switch {
	case errors.Is(err, validation.ErrCoordinatesMissing):
		writeError(w, r, http.StatusBadRequest, "LOCATION_REQUIRED", "Please enable location access to see your local weather.")
		return c, false
	case err != nil:
		writeError(w, r, http.StatusBadRequest, "INVALID_COORDINATES", err.Error())
		return c, false
	}
	return c, true
}

// healthResult holds the computed health status and metadata for logging.
type healthResult struct {
	status     traffic.Status
	statusCode int
	reason     string
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	result := h.computeHealthStatus()

	h.healthStatusMu.Lock()
	prev := h.healthStatusPrev
	if prev != "" && prev != result.status {
		h.logger.Info("health status transition",
			zap.String("previous_status", string(prev)),
			zap.String("current_status", string(result.status)),
			zap.String("reason", result.reason))
	}
	h.healthStatusPrev = result.status
	h.healthStatusMu.Unlock()

	checks := map[string]string{"weatherApi": "healthy"}
	version := "dev"
	if h.healthConfig != nil {
		if !h.healthConfig.APIKeyConfigured {
			checks["weatherApi"] = "missing_api_key"
		} else if result.reason == "error_rate_breach" {
			checks["weatherApi"] = "unhealthy"
		}
		if h.healthConfig.CachePing != nil {
			if h.healthConfig.CachePing() == nil {
				checks["cache"] = "healthy"
			} else {
				checks["cache"] = "unhealthy"
			}
		}
		if h.healthConfig.BreakerState != nil {
			checks["circuitBreaker"] = h.healthConfig.BreakerState()
		}
		if h.healthConfig.Version != "" {
			version = h.healthConfig.Version
		}
	}
	writeJSON(w, result.statusCode, map[string]any{
		"status":    result.status,
		"service":   "waterlogging-dashboard",
		"version":   version,
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// computeHealthStatus evaluates conditions in priority order:
// shutting-down > starting > missing API key > overloaded > degraded > healthy.
func (h *Handler) computeHealthStatus() healthResult {
	switch lifecycle.Current() {
	case lifecycle.ShuttingDown:
		return healthResult{traffic.StatusShuttingDown, http.StatusServiceUnavailable, "signal"}
	case lifecycle.Starting:
		return healthResult{traffic.StatusStarting, http.StatusServiceUnavailable, "starting"}
	}
	if h.healthConfig == nil {
		return healthResult{traffic.StatusHealthy, http.StatusOK, ""}
	}
	if !h.healthConfig.APIKeyConfigured {
		return healthResult{traffic.StatusDegraded, http.StatusServiceUnavailable, "missing_api_key"}
	}
	v := h.tracker.Evaluate(h.healthConfig.Thresholds)
	if v.Status != traffic.StatusHealthy {
		return healthResult{v.Status, http.StatusServiceUnavailable, v.Reason}
	}
	return healthResult{traffic.StatusHealthy, http.StatusOK, ""}
}

// writeJSON writes a JSON response with the specified HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes an error response in the standard error format with code, message,
// and requestId (correlation ID) if available in request context.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	corrID, _ := r.Context().Value("correlation_id").(string)
	writeJSON(w, status, map[string]any{
		"error": map[string]string{
			"code":      code,
			"message":   message,
			"requestId": corrID,
		},
	})
}

// writeServiceError maps a query error to a status and code. The underlying
// error is logged at DEBUG when a request logger is present.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, client.ErrMissingAPIKey):
		writeError(w, r, http.StatusServiceUnavailable, "MISSING_API_KEY", "Weather API key is not configured")
	case errors.Is(err, client.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "NOT_FOUND", "No results for this location")
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, r, http.StatusGatewayTimeout, "TIMEOUT", "Upstream request timed out")
	default:
		writeError(w, r, http.StatusServiceUnavailable, "UPSTREAM_UNAVAILABLE", "Unable to fetch weather data")
	}
	logDebug(r, "upstream error", err)
}

func writePredictionError(w http.ResponseWriter, r *http.Request, err error) {
	kind := prediction.FailureKind(err)
	switch kind {
	case prediction.KindMissingAPIKey:
		writeError(w, r, http.StatusServiceUnavailable, "MISSING_API_KEY", "Weather API key is not configured")
	case prediction.KindNoTerrainMatch:
		writeError(w, r, http.StatusNotFound, "NO_TERRAIN_MATCH", "No terrain data for this location")
	case prediction.KindTerrainUnavailable:
		writeError(w, r, http.StatusServiceUnavailable, "TERRAIN_UNAVAILABLE", "Terrain data is unavailable")
	case prediction.KindWeatherUnavailable:
		writeError(w, r, http.StatusServiceUnavailable, "UPSTREAM_UNAVAILABLE", "Unable to fetch weather data")
	default:
		writeError(w, r, http.StatusServiceUnavailable, "PREDICTION_UNAVAILABLE", "Unable to compute prediction")
	}
	logDebug(r, "prediction chain error", err, zap.String("kind", string(kind)))
}

func logDebug(r *http.Request, msg string, err error, fields ...zap.Field) {
	if logger, ok := r.Context().Value("logger").(*zap.Logger); ok && logger != nil {
		logger.Debug(msg, append(fields, zap.Error(err))...)
	}
}
