package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/kjstillabower/waterlogging-dashboard/internal/cache"
	"github.com/kjstillabower/waterlogging-dashboard/internal/client"
	"github.com/kjstillabower/waterlogging-dashboard/internal/models"
)

type mockWeatherClient struct {
	mu            sync.Mutex
	current       models.WeatherSnapshot
	forecast      models.ForecastSeries
	err           error
	currentCalls  int
	forecastCalls int
	lastDays      int
	delay         time.Duration
}

func (m *mockWeatherClient) GetCurrent(ctx context.Context, c models.Coordinates) (models.WeatherSnapshot, error) {
	if m.delay > 0 {
		time.Sleep(m.delay)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.currentCalls++
	return m.current, m.err
}

func (m *mockWeatherClient) GetDailyForecast(ctx context.Context, c models.Coordinates, days int) (models.ForecastSeries, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.forecastCalls++
	m.lastDays = days
	return m.forecast, m.err
}

func (m *mockWeatherClient) setErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

func (m *mockWeatherClient) calls() (int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentCalls, m.forecastCalls
}

type mockGeocoder struct {
	calls atomic.Int32
	place models.Place
	err   error
}

func (m *mockGeocoder) Reverse(ctx context.Context, c models.Coordinates) (models.Place, error) {
	m.calls.Add(1)
	return m.place, m.err
}

func (m *mockGeocoder) Search(ctx context.Context, q string) ([]models.Place, error) {
	m.calls.Add(1)
	if m.err != nil {
		return nil, m.err
	}
	return []models.Place{m.place}, nil
}

type failingCache struct{}

func (failingCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	return nil, false, errors.New("connection refused")
}

func (failingCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return errors.New("connection refused")
}

var testCoords = &models.Coordinates{Latitude: 19.07, Longitude: 72.87}

func newTestService(wc client.WeatherClient, geo client.Geocoder) (*WeatherService, *clockwork.FakeClock) {
	clock := clockwork.NewFakeClock()
	svc := NewWeatherService(wc, geo, cache.NewInMemoryCacheWithClock(clock), Options{
		TTL:          5 * time.Minute,
		StaleTTL:     10 * time.Minute,
		ForecastDays: 5,
		Clock:        clock,
	})
	return svc, clock
}

func TestWeatherService_Current_CacheMissThenHit(t *testing.T) {
	wc := &mockWeatherClient{current: models.WeatherSnapshot{CityName: "Mumbai", Precipitation: 2.5}}
	svc, _ := newTestService(wc, nil)
	ctx := context.Background()

	got, err := svc.Current(ctx, testCoords)
	if err != nil {
		t.Fatalf("Current() error = %v", err)
	}
	if got.CityName != "Mumbai" || got.Stale {
		t.Errorf("Current() = %+v", got)
	}

	if _, err := svc.Current(ctx, testCoords); err != nil {
		t.Fatalf("Current() second call error = %v", err)
	}
	if current, _ := wc.calls(); current != 1 {
		t.Errorf("upstream calls = %d, want 1 (second call should hit cache)", current)
	}
}

func TestWeatherService_NilCoordinatesDisableQueries(t *testing.T) {
	wc := &mockWeatherClient{}
	geo := &mockGeocoder{}
	svc, _ := newTestService(wc, geo)
	ctx := context.Background()

	if _, err := svc.Current(ctx, nil); !errors.Is(err, ErrQueryDisabled) {
		t.Errorf("Current(nil) error = %v, want ErrQueryDisabled", err)
	}
	if _, err := svc.Forecast(ctx, nil); !errors.Is(err, ErrQueryDisabled) {
		t.Errorf("Forecast(nil) error = %v, want ErrQueryDisabled", err)
	}
	if _, err := svc.Reverse(ctx, nil); !errors.Is(err, ErrQueryDisabled) {
		t.Errorf("Reverse(nil) error = %v, want ErrQueryDisabled", err)
	}
	if _, err := svc.Search(ctx, "  "); !errors.Is(err, ErrQueryDisabled) {
		t.Errorf("Search(blank) error = %v, want ErrQueryDisabled", err)
	}
	current, forecast := wc.calls()
	if current+forecast != 0 || geo.calls.Load() != 0 {
		t.Error("disabled queries must not reach the upstream")
	}
}

func TestWeatherService_RefetchAfterTTL(t *testing.T) {
	wc := &mockWeatherClient{current: models.WeatherSnapshot{CityName: "Mumbai"}}
	svc, clock := newTestService(wc, nil)
	ctx := context.Background()

	_, _ = svc.Current(ctx, testCoords)
	clock.Advance(5*time.Minute + time.Second)
	_, _ = svc.Current(ctx, testCoords)

	if current, _ := wc.calls(); current != 2 {
		t.Errorf("upstream calls = %d, want 2 after TTL", current)
	}
}

func TestWeatherService_StaleFallback(t *testing.T) {
	wc := &mockWeatherClient{current: models.WeatherSnapshot{CityName: "Mumbai"}}
	svc, clock := newTestService(wc, nil)
	ctx := context.Background()

	if _, err := svc.Current(ctx, testCoords); err != nil {
		t.Fatalf("Current() error = %v", err)
	}

	clock.Advance(7 * time.Minute)
	wc.setErr(client.ErrUpstreamFailure)

	got, err := svc.Current(ctx, testCoords)
	if err != nil {
		t.Fatalf("Current() with stale cache error = %v, want nil", err)
	}
	if !got.Stale || got.CityName != "Mumbai" {
		t.Errorf("Current() = %+v, want stale Mumbai snapshot", got)
	}

	clock.Advance(4 * time.Minute)
	if _, err := svc.Current(ctx, testCoords); !errors.Is(err, client.ErrUpstreamFailure) {
		t.Errorf("Current() past stale window error = %v, want ErrUpstreamFailure", err)
	}
}

func TestWeatherService_UpstreamErrorWithoutCache(t *testing.T) {
	wc := &mockWeatherClient{err: client.ErrMissingAPIKey}
	svc, _ := newTestService(wc, nil)

	_, err := svc.Forecast(context.Background(), testCoords)
	if !errors.Is(err, client.ErrMissingAPIKey) {
		t.Errorf("Forecast() error = %v, want ErrMissingAPIKey", err)
	}
}

func TestWeatherService_ForecastPassesDays(t *testing.T) {
	wc := &mockWeatherClient{forecast: models.ForecastSeries{Days: []models.ForecastDay{{Precipitation: 1}}}}
	svc, _ := newTestService(wc, nil)

	got, err := svc.Forecast(context.Background(), testCoords)
	if err != nil {
		t.Fatalf("Forecast() error = %v", err)
	}
	if wc.lastDays != 5 {
		t.Errorf("days passed upstream = %d, want 5", wc.lastDays)
	}
	if len(got.Days) != 1 {
		t.Errorf("len(Days) = %d, want 1", len(got.Days))
	}
}

func TestWeatherService_CacheErrorsFallThroughToUpstream(t *testing.T) {
	wc := &mockWeatherClient{current: models.WeatherSnapshot{CityName: "Mumbai"}}
	svc := NewWeatherService(wc, nil, failingCache{}, Options{TTL: time.Minute})

	got, err := svc.Current(context.Background(), testCoords)
	if err != nil {
		t.Fatalf("Current() error = %v", err)
	}
	if got.CityName != "Mumbai" {
		t.Errorf("CityName = %q", got.CityName)
	}
}

func TestWeatherService_ReverseAndSearchCached(t *testing.T) {
	geo := &mockGeocoder{place: models.Place{Name: "Mumbai"}}
	svc, _ := newTestService(&mockWeatherClient{}, geo)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		p, err := svc.Reverse(ctx, testCoords)
		if err != nil || p.Name != "Mumbai" {
			t.Fatalf("Reverse() = %+v, %v", p, err)
		}
	}
	for _, q := range []string{"Mumbai", "  mumbai "} {
		places, err := svc.Search(ctx, q)
		if err != nil || len(places) != 1 {
			t.Fatalf("Search(%q) = %v, %v", q, places, err)
		}
	}
	if geo.calls.Load() != 2 {
		t.Errorf("geocoder calls = %d, want 2 (one reverse, one normalized search)", geo.calls.Load())
	}
}

func TestWeatherService_CoalescesConcurrentMisses(t *testing.T) {
	wc := &mockWeatherClient{current: models.WeatherSnapshot{CityName: "Mumbai"}, delay: 50 * time.Millisecond}
	svc := NewWeatherService(wc, nil, cache.NewInMemoryCache(), Options{TTL: time.Minute, CoalesceTimeout: time.Second})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.Current(context.Background(), testCoords); err != nil {
				t.Errorf("Current() error = %v", err)
			}
		}()
	}
	wg.Wait()

	if current, _ := wc.calls(); current != 1 {
		t.Errorf("upstream calls = %d, want 1", current)
	}
}
