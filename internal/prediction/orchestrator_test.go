package prediction

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/kjstillabower/waterlogging-dashboard/internal/client"
	"github.com/kjstillabower/waterlogging-dashboard/internal/models"
	"github.com/kjstillabower/waterlogging-dashboard/internal/terrain"
	"github.com/kjstillabower/waterlogging-dashboard/internal/testhelpers"
)

type fakeWeather struct {
	current     float64
	forecast    []float64
	currentErr  error
	forecastErr error
}

func (f *fakeWeather) Current(ctx context.Context, c *models.Coordinates) (models.WeatherSnapshot, error) {
	return models.WeatherSnapshot{Precipitation: f.current}, f.currentErr
}

func (f *fakeWeather) Forecast(ctx context.Context, c *models.Coordinates) (models.ForecastSeries, error) {
	days := make([]models.ForecastDay, len(f.forecast))
	for i, p := range f.forecast {
		days[i].Precipitation = p
	}
	return models.ForecastSeries{Days: days}, f.forecastErr
}

type fakeTerrain struct {
	rec models.TerrainRecord
	err error
}

func (f fakeTerrain) Find(ctx context.Context, c models.Coordinates) (models.TerrainRecord, error) {
	return f.rec, f.err
}

type recordingPredictor struct {
	mu     sync.Mutex
	inputs []client.PredictionInput
	failAt map[int]bool
}

func (p *recordingPredictor) Predict(ctx context.Context, in client.PredictionInput) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	idx := len(p.inputs)
	p.inputs = append(p.inputs, in)
	if p.failAt[idx] {
		return 0, client.ErrPredictionFailed
	}
	return in.Precipitation / 10, nil
}

func (p *recordingPredictor) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.inputs)
}

var (
	mumbai      = models.Coordinates{Latitude: 19.07, Longitude: 72.87}
	fixtureRec  = models.TerrainRecord{Drainage: 25, Elevation: 5, WaterTable: "High", Urbanization: "Good", RunoffCoefficient: 0.6}
	fixtureLand = fakeTerrain{rec: fixtureRec}
)

func TestOrchestrator_SeriesOrderAndLength(t *testing.T) {
	pred := &recordingPredictor{}
	o := NewOrchestrator(&fakeWeather{current: 3, forecast: []float64{0, 2, 5, 7, 1, 9, 4}}, fixtureLand, pred, 5, nil)

	series, err := o.Predict(context.Background(), mumbai)
	require.NoError(t, err)
	require.Len(t, series, 6, "1 current + 5 forecast days")
	assert.InDelta(t, 0.3, *series.Current(), 1e-9, "index 0 scores current precipitation")
	for i, want := range []float64{0, 0.2, 0.5, 0.7, 0.1} {
		require.NotNil(t, series[i+1])
		assert.InDelta(t, want, *series[i+1], 1e-9)
	}

	got := make([]float64, 0, pred.calls())
	for _, in := range pred.inputs {
		got = append(got, in.Precipitation)
	}
	assert.Equal(t, []float64{3, 0, 2, 5, 7, 1}, got, "calls are made in order, current first")
}

func TestOrchestrator_ShortForecast(t *testing.T) {
	o := NewOrchestrator(&fakeWeather{current: 1, forecast: []float64{2}}, fixtureLand, &recordingPredictor{}, 5, nil)

	series, err := o.Predict(context.Background(), mumbai)
	require.NoError(t, err)
	assert.Len(t, series, 2)
}

func TestOrchestrator_TerrainMissMakesNoPredictionCalls(t *testing.T) {
	pred := &recordingPredictor{}
	o := NewOrchestrator(&fakeWeather{current: 1, forecast: []float64{1, 2}},
		fakeTerrain{err: terrain.ErrNoMatch}, pred, 5, nil)

	series, err := o.Predict(context.Background(), mumbai)
	assert.Nil(t, series)
	assert.ErrorIs(t, err, ErrNoTerrainMatch)
	assert.Equal(t, KindNoTerrainMatch, FailureKind(err))
	assert.Zero(t, pred.calls())
}

func TestOrchestrator_EarlyFailuresAbort(t *testing.T) {
	tests := []struct {
		name    string
		weather *fakeWeather
		terrain fakeTerrain
		kind    Kind
	}{
		{"missing key", &fakeWeather{currentErr: fmt.Errorf("current query: %w", client.ErrMissingAPIKey)}, fixtureLand, KindMissingAPIKey},
		{"current fails", &fakeWeather{currentErr: client.ErrUpstreamFailure}, fixtureLand, KindWeatherUnavailable},
		{"forecast fails", &fakeWeather{forecastErr: client.ErrMalformedResponse}, fixtureLand, KindWeatherUnavailable},
		{"terrain unavailable", &fakeWeather{}, fakeTerrain{err: terrain.ErrSourceUnavailable}, KindTerrainUnavailable},
		{"terrain malformed", &fakeWeather{}, fakeTerrain{err: terrain.ErrMalformedRecord}, KindTerrainUnavailable},
		{"canceled", &fakeWeather{currentErr: context.Canceled}, fixtureLand, KindCanceled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pred := &recordingPredictor{}
			series, err := NewOrchestrator(tt.weather, tt.terrain, pred, 5, nil).Predict(context.Background(), mumbai)
			assert.Nil(t, series)
			assert.Equal(t, tt.kind, FailureKind(err))
			assert.Zero(t, pred.calls())
		})
	}
}

func TestOrchestrator_SingleDayFailureLeavesNilAtIndex(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	pred := &recordingPredictor{failAt: map[int]bool{2: true}}
	o := NewOrchestrator(&fakeWeather{current: 1, forecast: []float64{2, 3, 4}}, fixtureLand, pred, 5, zap.New(core))

	series, err := o.Predict(context.Background(), mumbai)
	require.NoError(t, err)
	require.Len(t, series, 4)
	for i, v := range series {
		if i == 2 {
			assert.Nil(t, v)
			continue
		}
		assert.NotNil(t, v, "index %d", i)
	}
	assert.Equal(t, 4, pred.calls(), "later days still run after a failure")
	assert.Equal(t, 1, logs.FilterMessage("prediction failed for day").Len())
}

func TestOrchestrator_FixtureChainAgainstEndpoint(t *testing.T) {
	raw := testhelpers.BuildTerrainWorkbook(t, testhelpers.TerrainHeader,
		testhelpers.TerrainRow{19.07, 72.87, 25, 5, "High", "Good", 0.6},
	)
	lookup := terrain.NewLookup(rawSource(raw), nil)
	endpoint := testhelpers.NewFakePredictor(t)
	predictor := client.NewPredictionClient(endpoint.URL, "", time.Second)

	o := NewOrchestrator(&fakeWeather{current: 1, forecast: []float64{0, 2, 5}}, lookup, predictor, 5, nil)
	series, err := o.Predict(context.Background(), mumbai)
	require.NoError(t, err)
	assert.Len(t, series, 4)

	reqs := endpoint.Requests()
	require.Len(t, reqs, 4)
	for i, body := range reqs {
		assert.Equal(t, 0.6, body["runoff_coefficient"], "call %d", i)
		assert.Equal(t, 25.0, body["drainage"], "call %d", i)
		assert.Equal(t, "High", body["Water_Table"], "call %d", i)
	}
	assert.Equal(t, []any{1.0, 0.0, 2.0, 5.0}, []any{
		reqs[0]["precipitation"], reqs[1]["precipitation"], reqs[2]["precipitation"], reqs[3]["precipitation"],
	})
}

type rawSource []byte

func (r rawSource) Load(ctx context.Context) ([]byte, error) { return r, nil }

func TestFailureKind(t *testing.T) {
	assert.Equal(t, Kind(""), FailureKind(nil))
	assert.Equal(t, KindUnknown, FailureKind(errors.New("other")))
	assert.Equal(t, KindWeatherUnavailable, FailureKind(weatherErr("current weather", context.DeadlineExceeded)),
		"an upstream timeout keeps the weather kind")
	assert.Equal(t, KindCanceled, FailureKind(weatherErr("current weather", context.Canceled)))
}

func TestWeatherKind(t *testing.T) {
	assert.Equal(t, KindMissingAPIKey, WeatherKind(client.ErrMissingAPIKey))
	assert.Equal(t, KindWeatherUnavailable, WeatherKind(client.ErrNotFound))
	assert.Equal(t, KindCanceled, WeatherKind(context.Canceled))
	assert.Equal(t, Kind(""), WeatherKind(nil))
}
