package prediction

import (
	"context"
	"errors"
	"fmt"

	"github.com/kjstillabower/waterlogging-dashboard/internal/client"
	"github.com/kjstillabower/waterlogging-dashboard/internal/terrain"
)

// Kind classifies why a chain (or a weather section) produced no data.
type Kind string

const (
	KindMissingAPIKey      Kind = "missing_api_key"
	KindWeatherUnavailable Kind = "weather_unavailable"
	KindNoTerrainMatch     Kind = "no_terrain_match"
	KindTerrainUnavailable Kind = "terrain_unavailable"
	KindCanceled           Kind = "canceled"
	KindUnknown            Kind = "unknown"
)

// FailureKind maps an error to its Kind. nil maps to "". Sentinels win over context
// errors so an upstream timeout inside a step keeps the step's kind.
func FailureKind(err error) Kind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, client.ErrMissingAPIKey):
		return KindMissingAPIKey
	case errors.Is(err, ErrNoTerrainMatch):
		return KindNoTerrainMatch
	case errors.Is(err, ErrTerrainUnavailable):
		return KindTerrainUnavailable
	case errors.Is(err, ErrWeatherUnavailable):
		return KindWeatherUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCanceled
	default:
		return KindUnknown
	}
}

func terrainErr(err error) error {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, terrain.ErrNoMatch):
		return fmt.Errorf("%w: %w", ErrNoTerrainMatch, err)
	default:
		return fmt.Errorf("%w: %w", ErrTerrainUnavailable, err)
	}
}

// WeatherKind classifies a weather query error for a page section.
func WeatherKind(err error) Kind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, client.ErrMissingAPIKey):
		return KindMissingAPIKey
	case errors.Is(err, context.Canceled):
		return KindCanceled
	default:
		return KindWeatherUnavailable
	}
}
