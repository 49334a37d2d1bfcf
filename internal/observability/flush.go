package observability

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// shutdownTotals are the counters summarised in the last log line.
var shutdownTotals = []string{
	"httpRequestsTotal",
	"upstreamCallsTotal",
	"predictionChainsTotal",
	"rateLimitDeniedTotal",
}

// FlushTelemetry logs final counter totals and syncs the logger. Metrics are
// pull-based, so nothing else needs pushing.
func FlushTelemetry(ctx context.Context, logger *zap.Logger) error {
	if logger == nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("flush telemetry: %w", err)
	}

	totals, err := counterTotals(shutdownTotals...)
	if err != nil {
		logger.Warn("gather metrics for shutdown summary", zap.Error(err))
	} else {
		fields := make([]zap.Field, 0, len(shutdownTotals))
		for _, name := range shutdownTotals {
			fields = append(fields, zap.Float64(name, totals[name]))
		}
		logger.Info("telemetry totals", fields...)
	}

	if err := logger.Sync(); err != nil {
		return fmt.Errorf("flush logs: %w", err)
	}
	return nil
}

// counterTotals sums every series of the named counters in the registry.
// Names that are not registered report 0.
func counterTotals(names ...string) (map[string]float64, error) {
	families, err := registry.Gather()
	if err != nil {
		return nil, err
	}
	out := make(map[string]float64, len(names))
	for _, name := range names {
		out[name] = 0
	}
	for _, mf := range families {
		if _, ok := out[mf.GetName()]; !ok {
			continue
		}
		for _, m := range mf.GetMetric() {
			out[mf.GetName()] += m.GetCounter().GetValue()
		}
	}
	return out, nil
}
