package client

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/kjstillabower/waterlogging-dashboard/internal/observability"
)

// Upstream labels used on upstream metrics.
const (
	upstreamWeatherbit = "weatherbit"
	upstreamNominatim  = "nominatim"
	upstreamPrediction = "prediction"
)

var (
	ErrMissingAPIKey     = errors.New("weather API key not configured")
	ErrInvalidAPIKey     = errors.New("invalid API key")
	ErrNotFound          = errors.New("not found")
	ErrUpstreamFailure   = errors.New("upstream failure")
	ErrRateLimited       = errors.New("rate limited")
	ErrMalformedResponse = errors.New("malformed upstream response")
	ErrPredictionFailed  = errors.New("prediction request failed")
)

// RetryPolicy controls retry attempts and exponential backoff with jitter.
type RetryPolicy struct {
	Attempts  int
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.Attempts <= 0 {
		p.Attempts = 1
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = 100 * time.Millisecond
	}
	if p.MaxDelay < p.BaseDelay {
		p.MaxDelay = p.BaseDelay
	}
	return p
}

// do runs call until it succeeds, returns a non-retryable error, or attempts run out.
func (p RetryPolicy) do(ctx context.Context, upstream string, call func() error) error {
	var lastErr error
	for attempt := 0; attempt < p.Attempts; attempt++ {
		if attempt > 0 {
			observability.UpstreamRetriesTotal.WithLabelValues(upstream).Inc()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.backoff(attempt)):
			}
		}

		err := call()
		if err == nil {
			return nil
		}
		lastErr = err
		if ctx.Err() != nil || !IsRetryable(err) {
			return err
		}
	}
	if p.Attempts == 1 {
		return lastErr
	}
	return fmt.Errorf("exhausted retries: %w", lastErr)
}

func (p RetryPolicy) backoff(attempt int) time.Duration {
	delay := float64(p.BaseDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}

	jitter := delay * 0.1 * rand.Float64()
	return time.Duration(delay + jitter)
}

// IsRetryable reports whether err is a transient upstream failure.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, ErrRateLimited) || errors.Is(err, ErrUpstreamFailure) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "timeout") || strings.Contains(errStr, "connection refused")
}

// IsUpstreamFailure reports whether err should count against a circuit breaker.
// Caller cancellation and client-side errors (bad key, unknown location) do not.
func IsUpstreamFailure(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	switch {
	case errors.Is(err, ErrMissingAPIKey), errors.Is(err, ErrInvalidAPIKey), errors.Is(err, ErrNotFound):
		return false
	}
	return true
}

// statusError maps a non-2xx status to a sentinel. Returns nil for 2xx.
func statusError(statusCode int) error {
	switch statusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: HTTP %d", ErrInvalidAPIKey, statusCode)
	case http.StatusNotFound, http.StatusNoContent:
		return fmt.Errorf("%w: HTTP %d", ErrNotFound, statusCode)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w", ErrRateLimited)
	}
	if statusCode < 200 || statusCode >= 300 {
		return fmt.Errorf("%w: HTTP %d", ErrUpstreamFailure, statusCode)
	}
	return nil
}

func observe(upstream string, statusCode int, start time.Time) {
	status := "error"
	if statusCode != 0 {
		status = observability.StatusLabel(statusCode)
	}
	observability.UpstreamCallsTotal.WithLabelValues(upstream, status).Inc()
	observability.UpstreamDuration.WithLabelValues(upstream, status).Observe(time.Since(start).Seconds())
}

func transportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("request timeout: %w", err)
	}
	return fmt.Errorf("http request failed: %w", err)
}

func extractCorrelationID(ctx context.Context) string {
	if corrIDVal := ctx.Value("correlation_id"); corrIDVal != nil {
		if corrID, ok := corrIDVal.(string); ok {
			return corrID
		}
	}
	return ""
}

func setCorrelationID(ctx context.Context, req *http.Request) {
	if corrID := extractCorrelationID(ctx); corrID != "" {
		req.Header.Set("X-Correlation-ID", corrID)
	}
}
