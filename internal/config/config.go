package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/kjstillabower/waterlogging-dashboard/internal/models"
)

// Config holds service configuration loaded from YAML, .env and env.
type Config struct {
	ServerPort string

	WeatherAPIKey     string
	WeatherAPIURL     string
	WeatherAPITimeout time.Duration
	ForecastDays      int

	GeocoderURL       string
	GeocoderUserAgent string
	GeocoderRPS       float64

	PredictionURL           string
	PredictionTimeout       time.Duration
	PredictionResponseField string
	PredictionScale         string // auto, fraction or percent

	TerrainSource  string // local path or http(s) URL of the terrain spreadsheet
	TerrainTimeout time.Duration

	RequestTimeout  time.Duration
	CacheBackend    string // "in_memory" or "memcached"
	CacheTTL        time.Duration
	StaleCacheTTL   time.Duration
	CoalesceTimeout time.Duration

	MemcachedAddrs        string
	MemcachedTimeout      time.Duration
	MemcachedMaxIdleConns int

	RetryAttempts  int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	RateLimitRPS   int
	RateLimitBurst int

	CircuitBreakerEnabled          bool
	CircuitBreakerFailureThreshold int
	CircuitBreakerSuccessThreshold int
	CircuitBreakerTimeout          time.Duration

	ShutdownTimeout               time.Duration
	ShutdownInFlightTimeout       time.Duration
	ShutdownInFlightCheckInterval time.Duration

	DegradedWindow   time.Duration
	DegradedErrorPct int

	WarmCache          bool
	WarmInterval       time.Duration
	TrackedCoordinates []models.Coordinates
}

type fileConfig struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`

	WeatherAPI struct {
		URL          string `yaml:"url"`
		Timeout      string `yaml:"timeout"`
		ForecastDays int    `yaml:"forecast_days"`
	} `yaml:"weather_api"`

	Geocoder struct {
		URL       string  `yaml:"url"`
		UserAgent string  `yaml:"user_agent"`
		RPS       float64 `yaml:"rps"`
	} `yaml:"geocoder"`

	Prediction struct {
		URL           string `yaml:"url"`
		Timeout       string `yaml:"timeout"`
		ResponseField string `yaml:"response_field"`
		Scale         string `yaml:"scale"`
	} `yaml:"prediction"`

	Terrain struct {
		Source  string `yaml:"source"`
		Timeout string `yaml:"timeout"`
	} `yaml:"terrain"`

	Request struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"request"`

	Cache struct {
		Backend         string `yaml:"backend"`
		TTL             string `yaml:"ttl"`
		StaleTTL        string `yaml:"stale_ttl"`
		CoalesceTimeout string `yaml:"coalesce_timeout"`
		Memcached       struct {
			Addrs        string `yaml:"addrs"`
			Timeout      string `yaml:"timeout"`
			MaxIdleConns int    `yaml:"max_idle_conns"`
		} `yaml:"memcached"`
		Warm struct {
			Enabled  bool   `yaml:"enabled"`
			Interval string `yaml:"interval"`
		} `yaml:"warm"`
	} `yaml:"cache"`

	Reliability struct {
		RetryMaxAttempts int    `yaml:"retry_max_attempts"`
		RetryBaseDelay   string `yaml:"retry_base_delay"`
		RetryMaxDelay    string `yaml:"retry_max_delay"`
		RateLimitRPS     int    `yaml:"rate_limit_rps"`
		RateLimitBurst   int    `yaml:"rate_limit_burst"`
		CircuitBreaker   struct {
			Enabled          bool   `yaml:"enabled"`
			FailureThreshold int    `yaml:"failure_threshold"`
			SuccessThreshold int    `yaml:"success_threshold"`
			Timeout          string `yaml:"timeout"`
		} `yaml:"circuit_breaker"`
	} `yaml:"reliability"`

	Shutdown struct {
		Timeout                 string `yaml:"timeout"`
		InFlightTimeout         string `yaml:"in_flight_timeout"`
		InFlightCheckInterval   string `yaml:"in_flight_check_interval"`
	} `yaml:"shutdown"`

	Health struct {
		DegradedWindow   string `yaml:"degraded_window"`
		DegradedErrorPct int    `yaml:"degraded_error_pct"`
	} `yaml:"health"`

	TrackedCoordinates []struct {
		Lat float64 `yaml:"lat"`
		Lon float64 `yaml:"lon"`
	} `yaml:"tracked_coordinates"`
}

type secretsFile struct {
	WeatherbitAPIKey string `yaml:"weatherbit_api_key"`
}

// Load reads configuration from config/{ENV_NAME}.yaml (default dev), an optional .env
// file and config/secrets.yaml. The API key comes from WEATHERBIT_API_KEY or the secrets
// file; a missing key is not an error here. Call from project root.
func Load() (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: get working directory: %w", err)
	}
	if err := godotenv.Load(filepath.Join(cwd, ".env")); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	env := os.Getenv("ENV_NAME")
	if env == "" {
		env = "dev"
	}
	configPath := filepath.Join(cwd, "config", env+".yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", configPath)
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	cfg := &Config{}
	cfg.ServerPort = fc.Server.Port
	if cfg.ServerPort == "" {
		cfg.ServerPort = "8080"
	}

	cfg.WeatherAPIKey = strings.TrimSpace(os.Getenv("WEATHERBIT_API_KEY"))
	if cfg.WeatherAPIKey == "" {
		key, err := readSecrets(filepath.Join(cwd, "config", "secrets.yaml"))
		if err != nil {
			return nil, err
		}
		cfg.WeatherAPIKey = key
	}

	cfg.WeatherAPIURL = strings.TrimRight(fc.WeatherAPI.URL, "/")
	if cfg.WeatherAPIURL == "" {
		cfg.WeatherAPIURL = "https://api.weatherbit.io/v2.0"
	}
	cfg.WeatherAPITimeout = parseDurationOrZero(fc.WeatherAPI.Timeout, 3*time.Second)
	cfg.ForecastDays = fc.WeatherAPI.ForecastDays
	if cfg.ForecastDays == 0 {
		cfg.ForecastDays = 5
	}

	cfg.GeocoderURL = strings.TrimRight(fc.Geocoder.URL, "/")
	if cfg.GeocoderURL == "" {
		cfg.GeocoderURL = "https://nominatim.openstreetmap.org"
	}
	cfg.GeocoderUserAgent = fc.Geocoder.UserAgent
	if cfg.GeocoderUserAgent == "" {
		cfg.GeocoderUserAgent = "waterlogging-dashboard/1.0"
	}
	cfg.GeocoderRPS = fc.Geocoder.RPS
	if cfg.GeocoderRPS <= 0 {
		cfg.GeocoderRPS = 1
	}

	cfg.PredictionURL = envOr("PREDICTION_URL", fc.Prediction.URL)
	if cfg.PredictionURL == "" {
		cfg.PredictionURL = "http://localhost:8083/predict"
	}
	cfg.PredictionTimeout = parseDuration(fc.Prediction.Timeout, 5*time.Second)
	cfg.PredictionResponseField = strings.TrimSpace(fc.Prediction.ResponseField)
	if cfg.PredictionResponseField == "" {
		cfg.PredictionResponseField = "waterlogging_probability"
	}
	cfg.PredictionScale = strings.ToLower(strings.TrimSpace(fc.Prediction.Scale))
	if cfg.PredictionScale == "" {
		cfg.PredictionScale = "auto"
	}

	cfg.TerrainSource = envOr("TERRAIN_SOURCE", fc.Terrain.Source)
	if cfg.TerrainSource == "" {
		cfg.TerrainSource = "data/terrain.xlsx"
	}
	cfg.TerrainTimeout = parseDuration(fc.Terrain.Timeout, 5*time.Second)

	cfg.RequestTimeout = parseDuration(fc.Request.Timeout, 30*time.Second)
	cfg.CacheTTL = parseDuration(fc.Cache.TTL, 5*time.Minute)
	cfg.StaleCacheTTL = parseDurationOrZero(fc.Cache.StaleTTL, 10*time.Minute)
	cfg.CoalesceTimeout = parseDurationOrZero(fc.Cache.CoalesceTimeout, 10*time.Second)
	cfg.CacheBackend = strings.TrimSpace(strings.ToLower(os.Getenv("CACHE_BACKEND")))
	if cfg.CacheBackend == "" {
		cfg.CacheBackend = strings.TrimSpace(strings.ToLower(fc.Cache.Backend))
	}
	if cfg.CacheBackend == "" {
		cfg.CacheBackend = "in_memory"
	}
	cfg.MemcachedAddrs = envOr("MEMCACHED_ADDRS", fc.Cache.Memcached.Addrs)
	if cfg.MemcachedAddrs == "" {
		cfg.MemcachedAddrs = "localhost:11211"
	}
	cfg.MemcachedTimeout = parseDuration(fc.Cache.Memcached.Timeout, 500*time.Millisecond)
	cfg.MemcachedMaxIdleConns = fc.Cache.Memcached.MaxIdleConns
	if cfg.MemcachedMaxIdleConns <= 0 {
		cfg.MemcachedMaxIdleConns = 2
	}
	cfg.WarmCache = fc.Cache.Warm.Enabled
	cfg.WarmInterval = parseDurationOrZero(fc.Cache.Warm.Interval, 0)

	cfg.RetryAttempts = fc.Reliability.RetryMaxAttempts
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 3
	}
	cfg.RetryBaseDelay = parseDuration(fc.Reliability.RetryBaseDelay, 100*time.Millisecond)
	cfg.RetryMaxDelay = parseDuration(fc.Reliability.RetryMaxDelay, 2*time.Second)
	cfg.RateLimitRPS = fc.Reliability.RateLimitRPS
	if cfg.RateLimitRPS <= 0 {
		cfg.RateLimitRPS = 20
	}
	cfg.RateLimitBurst = fc.Reliability.RateLimitBurst
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 40
	}
	cb := fc.Reliability.CircuitBreaker
	cfg.CircuitBreakerEnabled = cb.Enabled
	cfg.CircuitBreakerFailureThreshold = cb.FailureThreshold
	if cfg.CircuitBreakerFailureThreshold <= 0 {
		cfg.CircuitBreakerFailureThreshold = 5
	}
	cfg.CircuitBreakerSuccessThreshold = cb.SuccessThreshold
	if cfg.CircuitBreakerSuccessThreshold <= 0 {
		cfg.CircuitBreakerSuccessThreshold = 2
	}
	cfg.CircuitBreakerTimeout = parseDuration(cb.Timeout, 30*time.Second)

	cfg.ShutdownTimeout = parseDuration(fc.Shutdown.Timeout, 30*time.Second)
	cfg.ShutdownInFlightTimeout = parseDuration(fc.Shutdown.InFlightTimeout, 10*time.Second)
	cfg.ShutdownInFlightCheckInterval = parseDuration(fc.Shutdown.InFlightCheckInterval, 100*time.Millisecond)

	cfg.DegradedWindow = parseDuration(fc.Health.DegradedWindow, 60*time.Second)
	cfg.DegradedErrorPct = fc.Health.DegradedErrorPct
	if cfg.DegradedErrorPct <= 0 {
		cfg.DegradedErrorPct = 50
	}

	for _, tc := range fc.TrackedCoordinates {
		cfg.TrackedCoordinates = append(cfg.TrackedCoordinates, models.Coordinates{Latitude: tc.Lat, Longitude: tc.Lon})
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// readSecrets returns the API key from the secrets file, or "" if the file is absent.
func readSecrets(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("read secrets file: %w", err)
	}
	var sec secretsFile
	if err := yaml.Unmarshal(data, &sec); err != nil {
		return "", fmt.Errorf("parse secrets file: %w", err)
	}
	return strings.TrimSpace(sec.WeatherbitAPIKey), nil
}

func envOr(name, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(name)); v != "" {
		return v
	}
	return strings.TrimSpace(fallback)
}

// parseDuration parses a duration string and returns defaultVal if parsing fails or result is <= 0.
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	d := parseDurationOrZero(s, defaultVal)
	if d <= 0 {
		return defaultVal
	}
	return d
}

// parseDurationOrZero parses a duration string, returning defaultVal on empty string or parse error.
// Zero is returned as-is so "0s" can disable a feature.
func parseDurationOrZero(s string, defaultVal time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}

// validate performs post-load validation. RequestTimeout is raised so a full
// prediction chain (two weather calls plus one prediction call per day) fits.
func validate(cfg *Config) error {
	if cfg.WeatherAPITimeout <= 0 {
		return fmt.Errorf("weather_api.timeout must be positive")
	}
	if cfg.ForecastDays < 1 || cfg.ForecastDays > 16 {
		return fmt.Errorf("weather_api.forecast_days must be between 1 and 16, got %d", cfg.ForecastDays)
	}
	if cfg.StaleCacheTTL < 0 {
		return fmt.Errorf("cache.stale_ttl must not be negative")
	}
	if cfg.StaleCacheTTL > 0 && cfg.StaleCacheTTL < cfg.CacheTTL {
		return fmt.Errorf("cache.stale_ttl (%s) must be >= cache.ttl (%s)", cfg.StaleCacheTTL, cfg.CacheTTL)
	}
	minRequest := 2*cfg.WeatherAPITimeout + cfg.TerrainTimeout + time.Duration(cfg.ForecastDays+1)*cfg.PredictionTimeout
	if cfg.RequestTimeout < minRequest {
		cfg.RequestTimeout = minRequest
	}
	switch cfg.CacheBackend {
	case "in_memory", "memcached":
	default:
		return fmt.Errorf("cache.backend must be in_memory or memcached, got %q", cfg.CacheBackend)
	}
	switch cfg.PredictionScale {
	case "auto", "fraction", "percent":
	default:
		return fmt.Errorf("prediction.scale must be auto, fraction or percent, got %q", cfg.PredictionScale)
	}
	return nil
}
