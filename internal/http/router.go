package http

import (
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/waterlogging-dashboard/internal/observability"
)

// RouterConfig holds the /api protections.
type RouterConfig struct {
	Limiter        *rate.Limiter
	RequestTimeout time.Duration
}

// NewRouter wires the handler behind the correlation-id and metrics middleware.
// /api routes are additionally rate limited and time bounded.
func NewRouter(h *Handler, cfg RouterConfig, logger *zap.Logger) *mux.Router {
	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(logger))
	router.Use(MetricsMiddleware)
	router.HandleFunc("/health", h.GetHealth).Methods("GET")
	router.Handle("/metrics", observability.MetricsHandler()).Methods("GET")

	api := router.PathPrefix("/api").Subrouter()
	api.Use(RateLimitMiddleware(cfg.Limiter, h.tracker))
	if cfg.RequestTimeout > 0 {
		api.Use(TimeoutMiddleware(cfg.RequestTimeout))
	}
	api.HandleFunc("/dashboard", h.GetDashboard).Methods("GET")
	api.HandleFunc("/city/{cityName}", h.GetCity).Methods("GET")
	api.HandleFunc("/weather/current", h.GetCurrent).Methods("GET")
	api.HandleFunc("/weather/forecast", h.GetForecast).Methods("GET")
	api.HandleFunc("/geocode/reverse", h.GetReverse).Methods("GET")
	api.HandleFunc("/geocode/search", h.GetSearch).Methods("GET")
	api.HandleFunc("/predictions", h.GetPredictions).Methods("GET")
	return router
}
