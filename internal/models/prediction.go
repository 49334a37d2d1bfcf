package models

// PredictionSeries holds waterlogging risk scores. Index 0 is today (current
// precipitation), 1..N are forecast days. A nil entry is a failed day.
type PredictionSeries []*float64

// Current returns today's score, or nil when absent.
func (s PredictionSeries) Current() *float64 {
	if len(s) == 0 {
		return nil
	}
	return s[0]
}

// Upcoming returns at most max forecast-day scores, preserving position.
func (s PredictionSeries) Upcoming(max int) []*float64 {
	if len(s) <= 1 {
		return nil
	}
	days := s[1:]
	if max >= 0 && len(days) > max {
		days = days[:max]
	}
	return days
}
