package traffic

import "time"

// Status is the service health reported on /health.
type Status string

const (
	StatusHealthy      Status = "healthy"
	StatusDegraded     Status = "degraded"
	StatusOverloaded   Status = "overloaded"
	StatusStarting     Status = "starting"
	StatusShuttingDown Status = "shutting-down"
)

// Thresholds decide when traffic makes the service unhealthy. Zero values
// disable the corresponding check.
type Thresholds struct {
	Window time.Duration
	// ErrorPct marks the service degraded when errors reach this share of
	// served requests.
	ErrorPct int
	// MinRequests is the served-request count below which the error rate is ignored.
	MinRequests int
	// OverloadDenials marks the service overloaded once this many requests
	// were rate limited in the window.
	OverloadDenials int
}

// Verdict is an evaluated status and what caused it.
type Verdict struct {
	Status Status
	Reason string
	Counts Counts
}

// Evaluate checks overload before error rate.
func (t *Tracker) Evaluate(th Thresholds) Verdict {
	if th.Window <= 0 {
		return Verdict{Status: StatusHealthy}
	}
	c := t.Counts(th.Window)
	v := Verdict{Status: StatusHealthy, Counts: c}
	switch {
	case th.OverloadDenials > 0 && c.Denied >= th.OverloadDenials:
		v.Status, v.Reason = StatusOverloaded, "rate_limit_denials"
	case th.ErrorPct > 0 && c.Success+c.Error >= max(th.MinRequests, 1) && c.ErrorPct() >= float64(th.ErrorPct):
		v.Status, v.Reason = StatusDegraded, "error_rate_breach"
	}
	return v
}
