package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/waterlogging-dashboard/internal/cache"
	"github.com/kjstillabower/waterlogging-dashboard/internal/circuitbreaker"
	"github.com/kjstillabower/waterlogging-dashboard/internal/client"
	"github.com/kjstillabower/waterlogging-dashboard/internal/config"
	"github.com/kjstillabower/waterlogging-dashboard/internal/dashboard"
	httphandler "github.com/kjstillabower/waterlogging-dashboard/internal/http"
	"github.com/kjstillabower/waterlogging-dashboard/internal/lifecycle"
	"github.com/kjstillabower/waterlogging-dashboard/internal/observability"
	"github.com/kjstillabower/waterlogging-dashboard/internal/prediction"
	"github.com/kjstillabower/waterlogging-dashboard/internal/service"
	"github.com/kjstillabower/waterlogging-dashboard/internal/terrain"
	"github.com/kjstillabower/waterlogging-dashboard/internal/traffic"
)

const (
	version           = "1.0.0"
	minHealthRequests = 10
	breakerComponent  = "weatherbit"
)

func main() {
	logger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}
	lifecycle.SetPhase(lifecycle.Starting)
	if cfg.WeatherAPIKey == "" {
		logger.Warn("WEATHERBIT_API_KEY is not set; weather queries will fail until it is configured")
	}

	var breaker *circuitbreaker.CircuitBreaker
	if cfg.CircuitBreakerEnabled {
		breaker = circuitbreaker.New(circuitbreaker.Config{
			FailureThreshold: cfg.CircuitBreakerFailureThreshold,
			SuccessThreshold: cfg.CircuitBreakerSuccessThreshold,
			Timeout:          cfg.CircuitBreakerTimeout,
			IsFailure:        client.IsUpstreamFailure,
			OnStateChange: func(from, to circuitbreaker.State) {
				observability.RecordCircuitBreakerTransition(breakerComponent, from.String(), to.String(), int(to))
				logger.Warn("circuit breaker transition", zap.String("from", from.String()), zap.String("to", to.String()))
			},
		})
		observability.CircuitBreakerState.WithLabelValues(breakerComponent).Set(0)
		logger.Info("circuit breaker enabled", zap.Int("failure_threshold", cfg.CircuitBreakerFailureThreshold), zap.Duration("timeout", cfg.CircuitBreakerTimeout))
	}

	weatherClient := client.NewWeatherbitClient(client.WeatherbitConfig{
		APIKey:  cfg.WeatherAPIKey,
		BaseURL: cfg.WeatherAPIURL,
		Timeout: cfg.WeatherAPITimeout,
		Retry: client.RetryPolicy{
			Attempts:  cfg.RetryAttempts,
			BaseDelay: cfg.RetryBaseDelay,
			MaxDelay:  cfg.RetryMaxDelay,
		},
		Breaker: breaker,
	})
	geocoder := client.NewNominatimGeocoder(cfg.GeocoderURL, cfg.GeocoderUserAgent, cfg.GeocoderRPS, cfg.WeatherAPITimeout)
	predictor := client.NewPredictionClient(cfg.PredictionURL, cfg.PredictionResponseField, cfg.PredictionTimeout)

	var cacheSvc cache.Cache
	var memcacheCloser *cache.MemcachedCache
	switch cfg.CacheBackend {
	case "memcached":
		mc, err := cache.NewMemcachedCache(cfg.MemcachedAddrs, cfg.MemcachedTimeout, cfg.MemcachedMaxIdleConns)
		if err != nil {
			logger.Fatal("memcached cache", zap.Error(err))
		}
		memcacheCloser = mc
		cacheSvc = mc
		logger.Info("cache backend: memcached", zap.String("addrs", cfg.MemcachedAddrs))
	default:
		cacheSvc = cache.NewInMemoryCache()
		logger.Info("cache backend: in_memory")
	}

	weatherService := service.NewWeatherService(weatherClient, geocoder, cacheSvc, service.Options{
		TTL:             cfg.CacheTTL,
		StaleTTL:        cfg.StaleCacheTTL,
		CoalesceTimeout: cfg.CoalesceTimeout,
		ForecastDays:    cfg.ForecastDays,
	})
	lookup := terrain.NewLookup(terrain.NewSource(cfg.TerrainSource, cfg.TerrainTimeout), logger)
	orchestrator := prediction.NewOrchestrator(weatherService, lookup, predictor, cfg.ForecastDays, logger)
	scale, err := dashboard.ParseScale(cfg.PredictionScale)
	if err != nil {
		logger.Fatal("prediction scale", zap.Error(err))
	}
	assembler := dashboard.NewAssembler(weatherService, orchestrator, logger).WithScale(scale)

	tracker := traffic.NewTracker(nil)
	healthConfig := &httphandler.HealthConfig{
		Thresholds: traffic.Thresholds{
			Window:          cfg.DegradedWindow,
			ErrorPct:        cfg.DegradedErrorPct,
			MinRequests:     minHealthRequests,
			OverloadDenials: cfg.RateLimitBurst,
		},
		APIKeyConfigured: cfg.WeatherAPIKey != "",
		Version:          version,
	}
	if memcacheCloser != nil {
		healthConfig.CachePing = memcacheCloser.Ping
	}
	if breaker != nil {
		healthConfig.BreakerState = func() string { return breaker.State().String() }
	}

	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	}
	handler := httphandler.NewHandler(weatherService, assembler, orchestrator, tracker, healthConfig, logger)
	router := httphandler.NewRouter(handler, httphandler.RouterConfig{
		Limiter:        limiter,
		RequestTimeout: cfg.RequestTimeout,
	}, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.WarmCache && len(cfg.TrackedCoordinates) > 0 {
		warmer := cache.NewCacheWarmer(weatherService, logger)
		warmCtx, warmCancel := context.WithTimeout(ctx, 30*time.Second)
		if err := warmer.Warm(warmCtx, cfg.TrackedCoordinates); err != nil {
			logger.Warn("cache warming failed", zap.Error(err))
		}
		warmCancel()
		if cfg.WarmInterval > 0 {
			go func() {
				if err := warmer.WarmPeriodic(ctx, cfg.TrackedCoordinates, cfg.WarmInterval); err != nil && !errors.Is(err, context.Canceled) {
					logger.Error("periodic cache warming stopped", zap.Error(err))
				}
			}()
		}
	}

	srv := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
	}
	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		logger.Fatal("listen", zap.Error(err), zap.String("addr", srv.Addr))
	}

	go func() {
		logger.Info("server starting", zap.String("addr", srv.Addr))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server", zap.Error(err))
		}
	}()
	lifecycle.SetPhase(lifecycle.Serving)

	<-ctx.Done()
	stop()

	logger.Info("graceful shutdown triggered")
	lifecycle.SetPhase(lifecycle.ShuttingDown)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}

	logger.Info("waiting for in-flight requests", zap.Int64("count", httphandler.InFlightCount()))
	waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.ShutdownInFlightTimeout)
	defer waitCancel()
	if err := httphandler.WaitForInFlight(waitCtx, cfg.ShutdownInFlightCheckInterval); err != nil {
		logger.Warn("in-flight requests not completed", zap.Error(err),
			zap.Int64("remaining", httphandler.InFlightCount()),
			zap.Any("routes", httphandler.InFlightByRoute()))
	}

	if err := observability.FlushTelemetry(context.Background(), logger); err != nil {
		logger.Error("telemetry flush", zap.Error(err))
	}

	if memcacheCloser != nil {
		if err := memcacheCloser.Close(); err != nil {
			logger.Error("memcached close", zap.Error(err))
		}
	}
	logger.Info("shutdown complete")
}
