package dashboard

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/kjstillabower/waterlogging-dashboard/internal/models"
)

// WeatherQueries are the cached weather and geocoding queries.
type WeatherQueries interface {
	Current(ctx context.Context, c *models.Coordinates) (models.WeatherSnapshot, error)
	Forecast(ctx context.Context, c *models.Coordinates) (models.ForecastSeries, error)
	Reverse(ctx context.Context, c *models.Coordinates) (models.Place, error)
}

// PredictionRunner produces the waterlogging series for a location.
type PredictionRunner interface {
	Predict(ctx context.Context, c models.Coordinates) (models.PredictionSeries, error)
}

// Assembler gathers the data for a page and builds its view.
type Assembler struct {
	weather     WeatherQueries
	predictions PredictionRunner
	scale       Scale
	logger      *zap.Logger
}

// NewAssembler returns an Assembler. A nil logger discards output.
func NewAssembler(weather WeatherQueries, predictions PredictionRunner, logger *zap.Logger) *Assembler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Assembler{weather: weather, predictions: predictions, scale: ScaleAuto, logger: logger}
}

// WithScale sets how prediction scores are rendered as percentages.
func (a *Assembler) WithScale(s Scale) *Assembler {
	a.scale = s
	return a
}

// Dashboard builds the "My Location" page for c.
func (a *Assembler) Dashboard(ctx context.Context, c models.Coordinates) View {
	var (
		wg       sync.WaitGroup
		place    models.Place
		placeErr error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		place, placeErr = a.weather.Reverse(ctx, &c)
	}()
	in := a.gather(ctx, c)
	wg.Wait()

	in.Title = "My Location"
	if placeErr == nil {
		in.PlaceName = place.Name
	} else {
		a.logger.Debug("reverse geocoding failed", zap.String("coordinates", c.String()), zap.Error(placeErr))
	}
	return a.build(in, c)
}

// City builds the page for a named city. The title carries the country code
// when the current weather is known, and a failed weather query raises the
// page alert.
func (a *Assembler) City(ctx context.Context, name string, c models.Coordinates) View {
	in := a.gather(ctx, c)
	in.PlaceName = name
	in.Title = name
	if in.Current != nil && in.Current.CountryCode != "" {
		in.Title = fmt.Sprintf("%s, %s", name, in.Current.CountryCode)
	}
	v := a.build(in, c)
	v.Alert = cityAlert(in)
	return v
}

// gather runs the weather queries and the prediction chain concurrently.
// The chain issues its own weather queries, which the query cache coalesces.
func (a *Assembler) gather(ctx context.Context, c models.Coordinates) Input {
	var (
		wg       sync.WaitGroup
		in       Input
		current  models.WeatherSnapshot
		forecast models.ForecastSeries
	)
	wg.Add(3)
	go func() {
		defer wg.Done()
		current, in.CurrentErr = a.weather.Current(ctx, &c)
	}()
	go func() {
		defer wg.Done()
		forecast, in.ForecastErr = a.weather.Forecast(ctx, &c)
	}()
	go func() {
		defer wg.Done()
		in.Predictions, in.PredictionErr = a.predictions.Predict(ctx, c)
	}()
	wg.Wait()

	in.Scale = a.scale
	if in.CurrentErr == nil {
		in.Current = &current
	}
	if in.ForecastErr == nil {
		in.Forecast = &forecast
	}
	return in
}

func (a *Assembler) build(in Input, c models.Coordinates) View {
	v := Build(in)
	for name, s := range map[string]Section{
		"current":     v.Sections.Current,
		"forecast":    v.Sections.Forecast,
		"predictions": v.Sections.Predictions,
	} {
		if s.Status != StatusReady {
			a.logger.Warn("page section unavailable",
				zap.String("section", name),
				zap.String("kind", string(s.Kind)),
				zap.String("coordinates", c.String()),
			)
		}
	}
	return v
}
