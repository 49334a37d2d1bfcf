//go:build integration
// +build integration

package testhelpers

import (
	"os"
	"testing"
	"time"

	"github.com/kjstillabower/waterlogging-dashboard/internal/cache"
	"github.com/kjstillabower/waterlogging-dashboard/internal/client"
	"github.com/kjstillabower/waterlogging-dashboard/internal/service"
)

// IntegrationTestConfig holds configuration for integration tests.
type IntegrationTestConfig struct {
	APIKey        string
	APIURL        string
	CacheBackend  string // "in_memory" or "memcached"
	MemcachedAddr string
}

// GetIntegrationConfig loads integration test configuration from environment.
// Skips test if WEATHERBIT_API_KEY is not set.
func GetIntegrationConfig(t *testing.T) IntegrationTestConfig {
	apiKey := os.Getenv("WEATHERBIT_API_KEY")
	if apiKey == "" {
		t.Skip("WEATHERBIT_API_KEY not set, skipping integration test")
	}

	apiURL := os.Getenv("WEATHERBIT_API_URL")
	if apiURL == "" {
		apiURL = "https://api.weatherbit.io/v2.0"
	}

	memcachedAddr := os.Getenv("MEMCACHED_ADDRS")
	if memcachedAddr == "" {
		memcachedAddr = "localhost:11211"
	}

	return IntegrationTestConfig{
		APIKey:        apiKey,
		APIURL:        apiURL,
		CacheBackend:  os.Getenv("INTEGRATION_CACHE_BACKEND"),
		MemcachedAddr: memcachedAddr,
	}
}

// SetupIntegrationService creates a query service against the real Weatherbit API.
// Returns the service and a cleanup function.
func SetupIntegrationService(t *testing.T, cfg IntegrationTestConfig) (*service.WeatherService, func()) {
	weatherClient := client.NewWeatherbitClient(client.WeatherbitConfig{
		APIKey:  cfg.APIKey,
		BaseURL: cfg.APIURL,
		Timeout: 5 * time.Second,
		Retry:   client.RetryPolicy{Attempts: 2, BaseDelay: 200 * time.Millisecond, MaxDelay: time.Second},
	})

	var cacheSvc cache.Cache = cache.NewInMemoryCache()
	cleanup := func() {}
	if cfg.CacheBackend == "memcached" {
		mc, err := cache.NewMemcachedCache(cfg.MemcachedAddr, 500*time.Millisecond, 2)
		if err == nil && mc.Ping() == nil {
			cacheSvc = mc
			cleanup = func() { mc.Close() }
			t.Logf("Using Memcached cache at %s", cfg.MemcachedAddr)
		} else {
			t.Logf("Memcached not available, using in-memory cache")
		}
	}

	svc := service.NewWeatherService(weatherClient, nil, cacheSvc, service.Options{
		TTL:          5 * time.Minute,
		StaleTTL:     10 * time.Minute,
		ForecastDays: 5,
	})
	return svc, cleanup
}
