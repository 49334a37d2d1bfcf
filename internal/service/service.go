package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/kjstillabower/waterlogging-dashboard/internal/cache"
	"github.com/kjstillabower/waterlogging-dashboard/internal/client"
	"github.com/kjstillabower/waterlogging-dashboard/internal/models"
	"github.com/kjstillabower/waterlogging-dashboard/internal/observability"
)

// ErrQueryDisabled is returned when a query's input is absent. No upstream call is made.
var ErrQueryDisabled = errors.New("query disabled: input not available")

// Query kinds, used in cache keys and metric labels.
const (
	QueryCurrent  = "current"
	QueryForecast = "forecast"
	QueryReverse  = "reverse"
	QuerySearch   = "search"
)

// Options configures WeatherService caching.
type Options struct {
	TTL             time.Duration // fresh window; cached results younger than this are served without an upstream call
	StaleTTL        time.Duration // results up to this age are served when the upstream fails (0 = disabled)
	CoalesceTimeout time.Duration // 0 disables request coalescing
	ForecastDays    int
	Clock           clockwork.Clock
}

// WeatherService is the query layer: cache-aside reads of weather and geocoding
// results keyed by query kind and input. Retry policy belongs to the clients.
type WeatherService struct {
	weather      client.WeatherClient
	geocoder     client.Geocoder
	cache        cache.Cache
	ttl          time.Duration
	staleTTL     time.Duration
	forecastDays int
	clock        clockwork.Clock
	stampede     *stampedeTracker
	coalescer    *requestCoalescer
}

// NewWeatherService creates a WeatherService. geocoder may be nil, in which case
// Reverse and Search fail with ErrQueryDisabled.
func NewWeatherService(weather client.WeatherClient, geocoder client.Geocoder, c cache.Cache, opts Options) *WeatherService {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.ForecastDays <= 0 {
		opts.ForecastDays = 5
	}
	var coalescer *requestCoalescer
	if opts.CoalesceTimeout > 0 {
		coalescer = newRequestCoalescer(opts.CoalesceTimeout)
	}
	return &WeatherService{
		weather:      weather,
		geocoder:     geocoder,
		cache:        c,
		ttl:          opts.TTL,
		staleTTL:     opts.StaleTTL,
		forecastDays: opts.ForecastDays,
		clock:        opts.Clock,
		stampede:     newStampedeTracker(),
		coalescer:    coalescer,
	}
}

// ForecastDays returns the configured forecast length.
func (s *WeatherService) ForecastDays() int { return s.forecastDays }

// Current returns current conditions for c. A nil c disables the query.
func (s *WeatherService) Current(ctx context.Context, c *models.Coordinates) (models.WeatherSnapshot, error) {
	if c == nil {
		return models.WeatherSnapshot{}, ErrQueryDisabled
	}
	coords := *c
	snap, stale, err := fetch(ctx, s, QueryCurrent, QueryCurrent+":"+coords.Key(), func(ctx context.Context) (models.WeatherSnapshot, error) {
		return s.weather.GetCurrent(ctx, coords)
	})
	snap.Stale = stale
	return snap, err
}

// Forecast returns the daily forecast for c. A nil c disables the query.
func (s *WeatherService) Forecast(ctx context.Context, c *models.Coordinates) (models.ForecastSeries, error) {
	if c == nil {
		return models.ForecastSeries{}, ErrQueryDisabled
	}
	coords := *c
	key := QueryForecast + ":" + coords.Key() + ":" + strconv.Itoa(s.forecastDays)
	series, stale, err := fetch(ctx, s, QueryForecast, key, func(ctx context.Context) (models.ForecastSeries, error) {
		return s.weather.GetDailyForecast(ctx, coords, s.forecastDays)
	})
	series.Stale = stale
	return series, err
}

// Reverse returns the place name for c. A nil c disables the query.
func (s *WeatherService) Reverse(ctx context.Context, c *models.Coordinates) (models.Place, error) {
	if c == nil || s.geocoder == nil {
		return models.Place{}, ErrQueryDisabled
	}
	coords := *c
	place, _, err := fetch(ctx, s, QueryReverse, QueryReverse+":"+coords.Key(), func(ctx context.Context) (models.Place, error) {
		return s.geocoder.Reverse(ctx, coords)
	})
	return place, err
}

// Search returns places matching query. An empty query disables the search.
func (s *WeatherService) Search(ctx context.Context, query string) ([]models.Place, error) {
	q := strings.ToLower(strings.Join(strings.Fields(query), " "))
	if q == "" || s.geocoder == nil {
		return nil, ErrQueryDisabled
	}
	places, _, err := fetch(ctx, s, QuerySearch, QuerySearch+":"+q, func(ctx context.Context) ([]models.Place, error) {
		return s.geocoder.Search(ctx, q)
	})
	return places, err
}

// entry is the cached envelope. StoredAt drives freshness; the backend TTL only evicts.
type entry[T any] struct {
	Value    T         `json:"value"`
	StoredAt time.Time `json:"storedAt"`
}

// fetch implements cache-aside for one query. It returns the value, whether it was
// served from stale cache after an upstream failure, and the upstream error otherwise.
func fetch[T any](ctx context.Context, s *WeatherService, kind, key string, upstream func(context.Context) (T, error)) (T, bool, error) {
	var zero T
	logger := loggerFromContext(ctx)

	cached, haveCached := readCache[T](ctx, s, key)
	if haveCached && s.clock.Since(cached.StoredAt) <= s.ttl {
		observability.CacheRequestsTotal.WithLabelValues(kind, "hit").Inc()
		logger.Debug("cache hit", zap.String("query", kind), zap.String("key", key))
		return cached.Value, false, nil
	}
	observability.CacheRequestsTotal.WithLabelValues(kind, "miss").Inc()

	concurrent, resolved := s.stampede.enter(key)
	defer resolved()
	if concurrent > 1 {
		observability.CacheStampedeDetectedTotal.WithLabelValues(kind).Inc()
		logger.Debug("concurrent cache misses", zap.String("query", kind), zap.Int("waiting", concurrent))
	}

	logger.Debug("cache miss, fetching upstream", zap.String("query", kind), zap.String("key", key))
	value, err := callUpstream(ctx, s, kind, key, upstream)
	if err != nil {
		if s.staleTTL > 0 && haveCached && !errors.Is(err, context.Canceled) {
			age := s.clock.Since(cached.StoredAt)
			if age <= s.staleTTL {
				observability.CacheRequestsTotal.WithLabelValues(kind, "stale").Inc()
				logger.Info("serving stale cache", zap.String("query", kind), zap.String("key", key),
					zap.Duration("age", age), zap.Error(err))
				return cached.Value, true, nil
			}
		}
		return zero, false, fmt.Errorf("%s query: %w", kind, err)
	}

	writeCache(ctx, s, key, value)
	return value, false, nil
}

// callUpstream runs upstream directly or through the coalescer.
func callUpstream[T any](ctx context.Context, s *WeatherService, kind, key string, upstream func(context.Context) (T, error)) (T, error) {
	if s.coalescer == nil {
		return upstream(ctx)
	}
	result, shared, err := s.coalescer.GetOrDo(ctx, key, func(ctx context.Context) (any, error) {
		return upstream(ctx)
	})
	if shared {
		observability.CoalescedRequestsTotal.WithLabelValues(kind).Inc()
	}
	if err != nil {
		var zero T
		return zero, err
	}
	return result.(T), nil
}

// readCache decodes the cached envelope for key. Backend and decode errors are
// counted and treated as a miss.
func readCache[T any](ctx context.Context, s *WeatherService, key string) (entry[T], bool) {
	var e entry[T]
	raw, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		observability.CacheErrorsTotal.WithLabelValues("get").Inc()
		loggerFromContext(ctx).Warn("cache get failed", zap.String("key", key), zap.Error(err))
		return e, false
	}
	if !ok {
		return e, false
	}
	if err := json.Unmarshal(raw, &e); err != nil {
		observability.CacheErrorsTotal.WithLabelValues("decode").Inc()
		return e, false
	}
	return e, true
}

// writeCache stores value for as long as it may still be served, fresh or stale.
func writeCache[T any](ctx context.Context, s *WeatherService, key string, value T) {
	raw, err := json.Marshal(entry[T]{Value: value, StoredAt: s.clock.Now()})
	if err != nil {
		observability.CacheErrorsTotal.WithLabelValues("encode").Inc()
		return
	}
	ttl := s.ttl
	if s.staleTTL > ttl {
		ttl = s.staleTTL
	}
	if err := s.cache.Set(ctx, key, raw, ttl); err != nil {
		observability.CacheErrorsTotal.WithLabelValues("set").Inc()
		loggerFromContext(ctx).Warn("cache set failed", zap.String("key", key), zap.Error(err))
	}
}

// loggerFromContext extracts the request logger, or a no-op logger when absent.
func loggerFromContext(ctx context.Context) *zap.Logger {
	if v := ctx.Value("logger"); v != nil {
		if l, ok := v.(*zap.Logger); ok && l != nil {
			return l
		}
	}
	return zap.NewNop()
}
