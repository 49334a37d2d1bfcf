// Package prediction chains weather, terrain and the inference endpoint into a
// per-day waterlogging risk series.
package prediction

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/kjstillabower/waterlogging-dashboard/internal/client"
	"github.com/kjstillabower/waterlogging-dashboard/internal/models"
	"github.com/kjstillabower/waterlogging-dashboard/internal/observability"
)

var (
	ErrWeatherUnavailable = errors.New("weather data unavailable")
	ErrNoTerrainMatch     = errors.New("no terrain data for location")
	ErrTerrainUnavailable = errors.New("terrain data unavailable")
)

// WeatherSource supplies current and daily forecast weather.
type WeatherSource interface {
	Current(ctx context.Context, c *models.Coordinates) (models.WeatherSnapshot, error)
	Forecast(ctx context.Context, c *models.Coordinates) (models.ForecastSeries, error)
}

// TerrainFinder returns the terrain record for coordinates.
type TerrainFinder interface {
	Find(ctx context.Context, c models.Coordinates) (models.TerrainRecord, error)
}

// Predictor scores one feature vector.
type Predictor interface {
	Predict(ctx context.Context, in client.PredictionInput) (float64, error)
}

// Orchestrator runs the prediction chain for a coordinate pair.
type Orchestrator struct {
	weather      WeatherSource
	terrain      TerrainFinder
	predictor    Predictor
	forecastDays int
	logger       *zap.Logger
}

// NewOrchestrator builds an Orchestrator. forecastDays caps how many forecast
// days are scored after today.
func NewOrchestrator(weather WeatherSource, terrain TerrainFinder, predictor Predictor, forecastDays int, logger *zap.Logger) *Orchestrator {
	if forecastDays <= 0 {
		forecastDays = 5
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		weather:      weather,
		terrain:      terrain,
		predictor:    predictor,
		forecastDays: forecastDays,
		logger:       logger,
	}
}

// Predict returns a series whose index 0 scores today's current precipitation and
// whose following entries score each forecast day in order. A failed day is a nil
// entry. Failures before scoring starts abort the chain with no prediction calls.
func (o *Orchestrator) Predict(ctx context.Context, c models.Coordinates) (models.PredictionSeries, error) {
	series, err := o.predict(ctx, c)
	result := "success"
	if err != nil {
		result = string(FailureKind(err))
		o.logger.Warn("prediction chain aborted",
			zap.String("coordinates", c.String()),
			zap.String("kind", result),
			zap.Error(err),
		)
	}
	observability.PredictionChainsTotal.WithLabelValues(result).Inc()
	return series, err
}

func (o *Orchestrator) predict(ctx context.Context, c models.Coordinates) (models.PredictionSeries, error) {
	current, err := o.weather.Current(ctx, &c)
	if err != nil {
		return nil, weatherErr("current weather", err)
	}

	forecast, err := o.weather.Forecast(ctx, &c)
	if err != nil {
		return nil, weatherErr("forecast", err)
	}
	precip := forecast.Precipitation()
	if len(precip) > o.forecastDays {
		precip = precip[:o.forecastDays]
	}

	rec, err := o.terrain.Find(ctx, c)
	if err != nil {
		return nil, terrainErr(err)
	}

	values := append([]float64{current.Precipitation}, precip...)
	series := make(models.PredictionSeries, len(values))
	for i, p := range values {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		score, err := o.predictor.Predict(ctx, client.PredictionInput{
			WaterTable:        rec.WaterTable,
			Urbanization:      rec.Urbanization,
			Elevation:         rec.Elevation,
			Precipitation:     p,
			RunoffCoefficient: rec.RunoffCoefficient,
			Drainage:          rec.Drainage,
		})
		if err != nil {
			observability.PredictionCallsTotal.WithLabelValues("error").Inc()
			o.logger.Warn("prediction failed for day",
				zap.Int("index", i),
				zap.Float64("precipitation", p),
				zap.Error(err),
			)
			continue
		}
		observability.PredictionCallsTotal.WithLabelValues("success").Inc()
		series[i] = &score
	}
	return series, nil
}

func weatherErr(what string, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, client.ErrMissingAPIKey) {
		return fmt.Errorf("%s: %w", what, err)
	}
	return fmt.Errorf("%w: %s: %w", ErrWeatherUnavailable, what, err)
}
