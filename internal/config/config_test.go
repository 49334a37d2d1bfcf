package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const minimalEnvYAML = `
server:
  port: "8080"
weather_api:
  url: "https://api.example.com/v2.0/"
  timeout: "2s"
prediction:
  url: "http://localhost:9000/predict"
  timeout: "1s"
terrain:
  source: "testdata/terrain.xlsx"
  timeout: "1s"
request:
  timeout: "5s"
cache:
  ttl: "5m"
reliability:
  retry_max_attempts: 3
  retry_base_delay: "100ms"
  retry_max_delay: "2s"
`

// chdirWithConfig writes config/dev.yaml into a temp dir and switches the test into it.
// Env vars read by Load are cleared for the duration of the test.
func chdirWithConfig(t *testing.T, content string) string {
	t.Helper()
	for _, k := range []string{"WEATHERBIT_API_KEY", "ENV_NAME", "CACHE_BACKEND", "MEMCACHED_ADDRS", "PREDICTION_URL", "TERRAIN_SOURCE"} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
	dir := t.TempDir()
	writeEnvFile(t, dir, content)
	oldWD, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("Chdir: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(oldWD) })
	return dir
}

func TestLoad_MissingAPIKeyIsNotFatal(t *testing.T) {
	chdirWithConfig(t, minimalEnvYAML)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.WeatherAPIKey != "" {
		t.Errorf("WeatherAPIKey = %q, want empty", cfg.WeatherAPIKey)
	}
}

func TestLoad_SucceedsWithSecretsFile(t *testing.T) {
	dir := chdirWithConfig(t, minimalEnvYAML)
	writeSecretsFile(t, dir, "weatherbit_api_key: key-from-secrets-file\n")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.WeatherAPIKey != "key-from-secrets-file" {
		t.Errorf("WeatherAPIKey = %q, want key from secrets file", cfg.WeatherAPIKey)
	}
}

func TestLoad_EnvVarWinsOverSecrets(t *testing.T) {
	dir := chdirWithConfig(t, minimalEnvYAML)
	writeSecretsFile(t, dir, "weatherbit_api_key: from-file\n")
	t.Setenv("WEATHERBIT_API_KEY", "from-env")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.WeatherAPIKey != "from-env" {
		t.Errorf("WeatherAPIKey = %q, want from-env", cfg.WeatherAPIKey)
	}
}

func TestLoad_DotEnvFile(t *testing.T) {
	dir := chdirWithConfig(t, minimalEnvYAML)
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("WEATHERBIT_API_KEY=from-dotenv\n"), 0644); err != nil {
		t.Fatalf("write .env: %v", err)
	}
	t.Cleanup(func() { os.Unsetenv("WEATHERBIT_API_KEY") })

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.WeatherAPIKey != "from-dotenv" {
		t.Errorf("WeatherAPIKey = %q, want from-dotenv", cfg.WeatherAPIKey)
	}
}

func TestLoad_Defaults(t *testing.T) {
	chdirWithConfig(t, "server:\n  port: \"9090\"\n")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ServerPort != "9090" {
		t.Errorf("ServerPort = %q, want 9090", cfg.ServerPort)
	}
	if cfg.WeatherAPIURL != "https://api.weatherbit.io/v2.0" {
		t.Errorf("WeatherAPIURL = %q", cfg.WeatherAPIURL)
	}
	if cfg.ForecastDays != 5 {
		t.Errorf("ForecastDays = %d, want 5", cfg.ForecastDays)
	}
	if cfg.PredictionResponseField != "waterlogging_probability" {
		t.Errorf("PredictionResponseField = %q", cfg.PredictionResponseField)
	}
	if cfg.CacheTTL != 5*time.Minute {
		t.Errorf("CacheTTL = %v, want 5m", cfg.CacheTTL)
	}
	if cfg.StaleCacheTTL != 10*time.Minute {
		t.Errorf("StaleCacheTTL = %v, want 10m", cfg.StaleCacheTTL)
	}
	if cfg.CacheBackend != "in_memory" {
		t.Errorf("CacheBackend = %q, want in_memory", cfg.CacheBackend)
	}
	if cfg.GeocoderRPS != 1 {
		t.Errorf("GeocoderRPS = %v, want 1", cfg.GeocoderRPS)
	}
	if cfg.PredictionScale != "auto" {
		t.Errorf("PredictionScale = %q, want auto", cfg.PredictionScale)
	}
}

func TestLoad_PredictionScale(t *testing.T) {
	chdirWithConfig(t, "prediction:\n  scale: \" Percent \"\n")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.PredictionScale != "percent" {
		t.Errorf("PredictionScale = %q, want percent", cfg.PredictionScale)
	}
}

func TestLoad_TrimsTrailingSlashFromWeatherURL(t *testing.T) {
	chdirWithConfig(t, minimalEnvYAML)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.WeatherAPIURL != "https://api.example.com/v2.0" {
		t.Errorf("WeatherAPIURL = %q", cfg.WeatherAPIURL)
	}
}

func TestLoad_RequestTimeoutRaisedToFitChain(t *testing.T) {
	chdirWithConfig(t, minimalEnvYAML)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	// 2*2s weather + 1s terrain + 6*1s predictions
	want := 11 * time.Second
	if cfg.RequestTimeout != want {
		t.Errorf("RequestTimeout = %v, want %v", cfg.RequestTimeout, want)
	}
}

func TestLoad_InvalidDurationFallsBackToDefault(t *testing.T) {
	chdirWithConfig(t, `
weather_api:
  timeout: "not-a-duration"
cache:
  ttl: "bogus"
`)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.WeatherAPITimeout != 3*time.Second {
		t.Errorf("WeatherAPITimeout = %v, want 3s", cfg.WeatherAPITimeout)
	}
	if cfg.CacheTTL != 5*time.Minute {
		t.Errorf("CacheTTL = %v, want 5m", cfg.CacheTTL)
	}
}

func TestLoad_TrackedCoordinates(t *testing.T) {
	chdirWithConfig(t, minimalEnvYAML+`
tracked_coordinates:
  - lat: 19.07
    lon: 72.87
  - lat: 28.61
    lon: 77.21
`)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(cfg.TrackedCoordinates) != 2 {
		t.Fatalf("len(TrackedCoordinates) = %d, want 2", len(cfg.TrackedCoordinates))
	}
	if cfg.TrackedCoordinates[0].Latitude != 19.07 || cfg.TrackedCoordinates[0].Longitude != 72.87 {
		t.Errorf("TrackedCoordinates[0] = %+v", cfg.TrackedCoordinates[0])
	}
}

func TestLoad_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantSub string
	}{
		{"zero weather timeout", "weather_api:\n  timeout: \"0s\"\n", "weather_api.timeout"},
		{"forecast days too large", "weather_api:\n  forecast_days: 30\n", "forecast_days"},
		{"bad cache backend", "cache:\n  backend: redis\n", "cache.backend"},
		{"stale ttl below ttl", "cache:\n  ttl: 10m\n  stale_ttl: 1m\n", "stale_ttl"},
		{"bad prediction scale", "prediction:\n  scale: logit\n", "prediction.scale"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chdirWithConfig(t, tt.yaml)
			cfg, err := Load()
			if err == nil {
				t.Fatalf("Load() error = nil, cfg = %+v", cfg)
			}
			if !strings.Contains(err.Error(), tt.wantSub) {
				t.Errorf("Load() error = %v, want substring %q", err, tt.wantSub)
			}
		})
	}
}

func TestLoad_CacheBackendFromEnv(t *testing.T) {
	chdirWithConfig(t, minimalEnvYAML)
	t.Setenv("CACHE_BACKEND", " Memcached ")
	t.Setenv("MEMCACHED_ADDRS", "mc1:11211,mc2:11211")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.CacheBackend != "memcached" {
		t.Errorf("CacheBackend = %q, want memcached", cfg.CacheBackend)
	}
	if cfg.MemcachedAddrs != "mc1:11211,mc2:11211" {
		t.Errorf("MemcachedAddrs = %q", cfg.MemcachedAddrs)
	}
}

func TestLoad_EnvFileNotFound(t *testing.T) {
	chdirWithConfig(t, minimalEnvYAML)
	t.Setenv("ENV_NAME", "nonexistent")

	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "config file not found") {
		t.Errorf("Load() error = %v, want config file not found", err)
	}
}

func TestLoad_InvalidConfigYAML(t *testing.T) {
	chdirWithConfig(t, "server: [unclosed")

	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "parse config file") {
		t.Errorf("Load() error = %v, want parse config file error", err)
	}
}

func TestLoad_InvalidSecretsYAML(t *testing.T) {
	dir := chdirWithConfig(t, minimalEnvYAML)
	writeSecretsFile(t, dir, "weatherbit_api_key: [unclosed")

	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "parse secrets file") {
		t.Errorf("Load() error = %v, want parse secrets file error", err)
	}
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		in   string
		def  time.Duration
		want time.Duration
	}{
		{"", time.Second, time.Second},
		{"250ms", time.Second, 250 * time.Millisecond},
		{"-1s", time.Second, time.Second},
		{"0s", time.Second, time.Second},
		{"junk", time.Second, time.Second},
	}
	for _, tt := range tests {
		if got := parseDuration(tt.in, tt.def); got != tt.want {
			t.Errorf("parseDuration(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
	if got := parseDurationOrZero("0s", time.Minute); got != 0 {
		t.Errorf("parseDurationOrZero(0s) = %v, want 0", got)
	}
}

func writeEnvFile(t *testing.T, dir, content string) {
	t.Helper()
	configDir := filepath.Join(dir, "config")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		t.Fatalf("mkdir config: %v", err)
	}
	if err := os.WriteFile(filepath.Join(configDir, "dev.yaml"), []byte(content), 0644); err != nil {
		t.Fatalf("write config file: %v", err)
	}
}

func writeSecretsFile(t *testing.T, dir, content string) {
	t.Helper()
	secretsDir := filepath.Join(dir, "config")
	if err := os.MkdirAll(secretsDir, 0755); err != nil {
		t.Fatalf("mkdir config: %v", err)
	}
	if err := os.WriteFile(filepath.Join(secretsDir, "secrets.yaml"), []byte(content), 0644); err != nil {
		t.Fatalf("write secrets file: %v", err)
	}
}
