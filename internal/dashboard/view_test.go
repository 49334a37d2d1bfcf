package dashboard

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kjstillabower/waterlogging-dashboard/internal/client"
	"github.com/kjstillabower/waterlogging-dashboard/internal/geolocation"
	"github.com/kjstillabower/waterlogging-dashboard/internal/models"
	"github.com/kjstillabower/waterlogging-dashboard/internal/prediction"
	"github.com/kjstillabower/waterlogging-dashboard/internal/splash"
)

func p(v float64) *float64 { return &v }

func snapshot() *models.WeatherSnapshot {
	return &models.WeatherSnapshot{
		CityName:            "Mumbai",
		CountryCode:         "IN",
		Timezone:            "Asia/Kolkata",
		Temperature:         29.4,
		ApparentTemperature: 34,
		Description:         "Light rain",
		Sunrise:             time.Date(2024, 6, 20, 0, 55, 0, 0, time.UTC),
		Sunset:              time.Date(2024, 6, 20, 13, 21, 0, 0, time.UTC),
		Pressure:            1004.4,
		Humidity:            84,
		WindSpeed:           4.2,
	}
}

func forecastOf(n int) *models.ForecastSeries {
	f := &models.ForecastSeries{}
	for i := 0; i < n; i++ {
		f.Days = append(f.Days, models.ForecastDay{
			Date:           time.Date(2024, 6, 20+i, 0, 0, 0, 0, time.UTC),
			MaxTemperature: 31,
			MinTemperature: 26,
			Precipitation:  2.5,
			Description:    "Moderate rain",
		})
	}
	return f
}

func TestBuild_Empty(t *testing.T) {
	v := Build(Input{})

	assert.Equal(t, TextLoadingCurrent, v.Current.Placeholder)
	for _, d := range v.Details {
		assert.Equal(t, TextNotAvailable, d.Value, d.Title)
	}
	assert.Empty(t, v.Chart.Bars)
	assert.Equal(t, TextNoPrediction, v.Chart.Placeholder)
	assert.Equal(t, TextNoForecast, v.ForecastPlaceholder)
	assert.NotNil(t, v.Forecast)
	assert.Equal(t, StatusUnavailable, v.Sections.Current.Status)
	assert.Empty(t, v.Sections.Current.Kind)
}

func TestBuild_Details(t *testing.T) {
	v := Build(Input{Current: snapshot(), Predictions: models.PredictionSeries{p(0.42)}})

	want := map[string]string{
		"Sunrise":      "6:25 AM",
		"Sunset":       "6:51 PM",
		"Waterlogging": "42%",
		"Pressure":     "1004 hPa",
	}
	require.Len(t, v.Details, 4)
	for _, d := range v.Details {
		assert.Equal(t, want[d.Title], d.Value, d.Title)
	}
	assert.Equal(t, "Mumbai", v.Current.Location)
	assert.Equal(t, "29.4°C", v.Current.Temperature)
}

func TestBuild_UnknownTimezoneFallsBackToUTC(t *testing.T) {
	s := snapshot()
	s.Timezone = "Nowhere/Special"
	v := Build(Input{Current: s})
	assert.Equal(t, "12:55 AM", v.Details[0].Value)
}

func TestBuild_ChartUsesDaysOneToFive(t *testing.T) {
	series := models.PredictionSeries{p(0.9), p(0.1), nil, p(0.3), p(0.4), p(0.5), p(0.6)}
	v := Build(Input{Predictions: series})

	require.Len(t, v.Chart.Bars, 5)
	for i, b := range v.Chart.Bars {
		assert.Equal(t, fmt.Sprintf("Day %d", i+1), b.Label)
	}
	assert.Nil(t, v.Chart.Bars[1].Value)
	assert.Equal(t, TextNotAvailable, v.Chart.Bars[1].Text)
	assert.Equal(t, "50%", v.Chart.Bars[4].Text)
	assert.Equal(t, "90%", v.Details[2].Value, "today is not charted")
}

func TestBuild_ForecastErrorAlert(t *testing.T) {
	v := Build(Input{Current: snapshot(), ForecastErr: fmt.Errorf("forecast query: %w", client.ErrUpstreamFailure)})

	require.NotNil(t, v.Alert)
	assert.Equal(t, TextForecastError, v.Alert.Message)
	assert.Equal(t, StatusUnavailable, v.Sections.Forecast.Status)
	assert.Equal(t, prediction.KindWeatherUnavailable, v.Sections.Forecast.Kind)
	assert.Equal(t, StatusReady, v.Sections.Current.Status)
}

func TestBuild_ForecastList(t *testing.T) {
	v := Build(Input{Forecast: forecastOf(3)})

	require.Len(t, v.Forecast, 3)
	require.Len(t, v.Trend, 3)
	assert.Equal(t, "Thu, Jun 20", v.Forecast[0].Date)
	assert.Equal(t, "31°C", v.Forecast[0].High)
	assert.Equal(t, "2.5 mm", v.Forecast[0].Precipitation)
	assert.Equal(t, "Jun 22", v.Trend[2].Label)
	assert.Nil(t, v.Alert)
}

func TestBuild_PredictionKind(t *testing.T) {
	v := Build(Input{PredictionErr: fmt.Errorf("%w: terrain", prediction.ErrNoTerrainMatch)})
	assert.Equal(t, prediction.KindNoTerrainMatch, v.Sections.Predictions.Kind)

	v = Build(Input{CurrentErr: client.ErrMissingAPIKey})
	assert.Equal(t, prediction.KindMissingAPIKey, v.Sections.Current.Kind)
	assert.Equal(t, TextCurrentFailed, v.Current.Placeholder)
}

func TestPercent(t *testing.T) {
	assert.Equal(t, "0%", Percent(0))
	assert.Equal(t, "35%", Percent(0.351))
	assert.Equal(t, "100%", Percent(1))
	assert.Equal(t, "73%", Percent(73))
}

func TestResolvePage(t *testing.T) {
	coords := &models.Coordinates{Latitude: 1, Longitude: 2}
	tests := []struct {
		name  string
		phase splash.Phase
		loc   geolocation.Snapshot
		want  PageState
	}{
		{"splash", splash.PhaseSplash, geolocation.Snapshot{Coordinates: coords}, PageSplash},
		{"fading", splash.PhaseFading, geolocation.Snapshot{}, PageSplash},
		{"loading", splash.PhaseHidden, geolocation.Snapshot{Loading: true}, PageLocationCheck},
		{"error", splash.PhaseHidden, geolocation.Snapshot{Error: "denied"}, PageError},
		{"no coordinates", splash.PhaseHidden, geolocation.Snapshot{}, PageNoPermission},
		{"ready", splash.PhaseHidden, geolocation.Snapshot{Coordinates: coords}, PageRendering},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ResolvePage(tt.phase, tt.loc))
		})
	}
}

func TestPrompt(t *testing.T) {
	a := Prompt(PageError, geolocation.Snapshot{Error: "denied"})
	require.NotNil(t, a)
	assert.Equal(t, "Location Error", a.Title)
	assert.Equal(t, "denied", a.Message)

	assert.Equal(t, "Location Required", Prompt(PageNoPermission, geolocation.Snapshot{}).Title)
	assert.Nil(t, Prompt(PageRendering, geolocation.Snapshot{}))
}

var errBoom = errors.New("boom")

func TestScale_Format(t *testing.T) {
	tests := []struct {
		scale Scale
		v     float64
		want  string
	}{
		{ScaleAuto, 1, "100%"},
		{ScaleAuto, 73, "73%"},
		{ScaleFraction, 1, "100%"},
		{ScaleFraction, 0.046, "5%"},
		{ScalePercent, 1, "1%"},
		{ScalePercent, 0.4, "0%"},
		{ScalePercent, 73.5, "74%"},
		{"", 0.5, "50%"},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s/%v", tt.scale, tt.v), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.scale.Format(tt.v))
		})
	}
}

func TestParseScale(t *testing.T) {
	s, err := ParseScale(" Percent ")
	require.NoError(t, err)
	assert.Equal(t, ScalePercent, s)

	s, err = ParseScale("")
	require.NoError(t, err)
	assert.Equal(t, ScaleAuto, s)

	_, err = ParseScale("logit")
	assert.Error(t, err)
}

func TestBuild_PercentScaleKeepsLowScores(t *testing.T) {
	series := models.PredictionSeries{p(1), p(1), p(64)}
	v := Build(Input{Predictions: series, Scale: ScalePercent})

	assert.Equal(t, "1%", v.Details[2].Value)
	require.Len(t, v.Chart.Bars, 2)
	assert.Equal(t, "1%", v.Chart.Bars[0].Text)
	assert.Equal(t, 1.0, v.Chart.Bars[0].Percent)
	assert.Equal(t, 64.0, v.Chart.Bars[1].Percent)
}
