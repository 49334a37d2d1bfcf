package client

import (
	"context"
	"errors"
	"strings"

	"github.com/kjstillabower/waterlogging-dashboard/internal/circuitbreaker"
)

// ErrorCategory is a stable label for error classification in metrics and logs.
type ErrorCategory string

const (
	ErrorCategoryTimeout          ErrorCategory = "timeout"
	ErrorCategoryCanceled         ErrorCategory = "canceled"
	ErrorCategoryNetwork          ErrorCategory = "network"
	ErrorCategoryMissingAPIKey    ErrorCategory = "missing_api_key"
	ErrorCategoryInvalidAPIKey    ErrorCategory = "invalid_api_key"
	ErrorCategoryNotFound         ErrorCategory = "not_found"
	ErrorCategoryRateLimited      ErrorCategory = "rate_limited"
	ErrorCategoryUpstream5xx      ErrorCategory = "upstream_5xx"
	ErrorCategoryCircuitOpen      ErrorCategory = "circuit_open"
	ErrorCategoryParsing          ErrorCategory = "parsing"
	ErrorCategoryPredictionFailed ErrorCategory = "prediction_failed"
	ErrorCategoryUnknown          ErrorCategory = "unknown"
)

// CategorizeError maps an error to a stable ErrorCategory.
func CategorizeError(err error) ErrorCategory {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, context.Canceled):
		return ErrorCategoryCanceled
	case errors.Is(err, context.DeadlineExceeded):
		return ErrorCategoryTimeout
	case errors.Is(err, ErrMissingAPIKey):
		return ErrorCategoryMissingAPIKey
	case errors.Is(err, ErrInvalidAPIKey):
		return ErrorCategoryInvalidAPIKey
	case errors.Is(err, ErrNotFound):
		return ErrorCategoryNotFound
	case errors.Is(err, ErrRateLimited):
		return ErrorCategoryRateLimited
	case errors.Is(err, circuitbreaker.ErrOpen):
		return ErrorCategoryCircuitOpen
	case errors.Is(err, ErrMalformedResponse):
		return ErrorCategoryParsing
	case errors.Is(err, ErrPredictionFailed):
		return ErrorCategoryPredictionFailed
	case errors.Is(err, ErrUpstreamFailure):
		return ErrorCategoryUpstream5xx
	}

	errStr := err.Error()
	if strings.Contains(errStr, "timeout") {
		return ErrorCategoryTimeout
	}
	if strings.Contains(errStr, "connection") || strings.Contains(errStr, "network") {
		return ErrorCategoryNetwork
	}
	return ErrorCategoryUnknown
}
