package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/waterlogging-dashboard/internal/models"
	"github.com/kjstillabower/waterlogging-dashboard/internal/observability"
)

// WeatherFetcher is implemented by the service layer. Calls go through the query cache,
// so a successful fetch leaves the result cached.
type WeatherFetcher interface {
	Current(ctx context.Context, c *models.Coordinates) (models.WeatherSnapshot, error)
	Forecast(ctx context.Context, c *models.Coordinates) (models.ForecastSeries, error)
}

// CacheWarmer prefetches current and forecast weather for tracked coordinates.
type CacheWarmer struct {
	fetcher WeatherFetcher
	logger  *zap.Logger
}

// NewCacheWarmer creates a CacheWarmer that uses the given fetcher and logger.
func NewCacheWarmer(fetcher WeatherFetcher, logger *zap.Logger) *CacheWarmer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CacheWarmer{fetcher: fetcher, logger: logger}
}

// Warm fetches both queries for each coordinate pair concurrently.
// Returns the joined errors of every failed fetch.
func (w *CacheWarmer) Warm(ctx context.Context, coords []models.Coordinates) error {
	start := time.Now()
	observability.CacheWarmingTotal.Inc()
	w.logger.Info("warming cache", zap.Int("coordinates", len(coords)))

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	record := func(err error) {
		mu.Lock()
		errs = append(errs, err)
		mu.Unlock()
	}
	for _, c := range coords {
		c := c
		wg.Add(2)
		go func() {
			defer wg.Done()
			if _, err := w.fetcher.Current(ctx, &c); err != nil {
				record(fmt.Errorf("warm current %s: %w", c, err))
			}
		}()
		go func() {
			defer wg.Done()
			if _, err := w.fetcher.Forecast(ctx, &c); err != nil {
				record(fmt.Errorf("warm forecast %s: %w", c, err))
			}
		}()
	}
	wg.Wait()

	w.logger.Info("cache warming complete",
		zap.Int("coordinates", len(coords)),
		zap.Int("errors", len(errs)),
		zap.Float64("duration_seconds", time.Since(start).Seconds()),
	)
	if len(errs) > 0 {
		observability.CacheWarmingErrorsTotal.Inc()
		return errors.Join(errs...)
	}
	return nil
}

// WarmPeriodic runs an initial Warm, then refreshes at the given interval until ctx is done.
func (w *CacheWarmer) WarmPeriodic(ctx context.Context, coords []models.Coordinates, interval time.Duration) error {
	if err := w.Warm(ctx, coords); err != nil {
		w.logger.Warn("initial cache warm failed", zap.Error(err))
	}
	if interval <= 0 {
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := w.Warm(ctx, coords); err != nil {
				w.logger.Warn("periodic cache warm failed", zap.Error(err))
			}
		}
	}
}
