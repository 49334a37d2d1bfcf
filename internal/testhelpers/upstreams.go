package testhelpers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
)

// FakeWeatherbit serves /current and /forecast/daily with fixed precipitation values.
type FakeWeatherbit struct {
	*httptest.Server
	CurrentCalls  atomic.Int32
	ForecastCalls atomic.Int32
	status        atomic.Int32
}

// NewFakeWeatherbit starts a Weatherbit stand-in. It is closed on test cleanup.
func NewFakeWeatherbit(t testing.TB, currentPrecip float64, forecastPrecip []float64) *FakeWeatherbit {
	t.Helper()
	fw := &FakeWeatherbit{}
	mux := http.NewServeMux()
	mux.HandleFunc("/current", func(w http.ResponseWriter, r *http.Request) {
		fw.CurrentCalls.Add(1)
		if fw.fail(w) {
			return
		}
		writeJSON(w, map[string]any{
			"count": 1,
			"data": []map[string]any{{
				"city_name": "Mumbai", "country_code": "IN", "timezone": "Asia/Kolkata",
				"temp": 29.4, "app_temp": 34.1,
				"weather": map[string]any{"description": "Light rain", "icon": "r01d"},
				"sunrise": "00:55", "sunset": "13:21",
				"pres": 1004.5, "rh": 84, "wind_spd": 4.2,
				"precip": currentPrecip, "ts": 1718870400,
			}},
		})
	})
	mux.HandleFunc("/forecast/daily", func(w http.ResponseWriter, r *http.Request) {
		fw.ForecastCalls.Add(1)
		if fw.fail(w) {
			return
		}
		days := make([]map[string]any, 0, len(forecastPrecip))
		for i, p := range forecastPrecip {
			days = append(days, map[string]any{
				"valid_date": fmt.Sprintf("2024-06-%02d", 20+i),
				"temp":       28, "max_temp": 31, "min_temp": 26,
				"precip": p, "pop": 40,
				"weather": map[string]any{"description": "Moderate rain", "icon": "r02d"},
			})
		}
		writeJSON(w, map[string]any{
			"city_name": "Mumbai", "country_code": "IN", "timezone": "Asia/Kolkata",
			"data": days,
		})
	})
	fw.Server = httptest.NewServer(mux)
	t.Cleanup(fw.Close)
	return fw
}

// FailWith makes every subsequent request return status. Zero restores normal responses.
func (fw *FakeWeatherbit) FailWith(status int) {
	fw.status.Store(int32(status))
}

func (fw *FakeWeatherbit) fail(w http.ResponseWriter) bool {
	if s := fw.status.Load(); s != 0 {
		w.WriteHeader(int(s))
		return true
	}
	return false
}

// FakePredictor records prediction requests and answers with a probability derived
// from the posted precipitation.
type FakePredictor struct {
	*httptest.Server
	mu       sync.Mutex
	requests []map[string]any
	failOn   map[int]bool
}

// NewFakePredictor starts a prediction endpoint stand-in. Calls whose zero-based index
// is in failOn get a 500. The probability returned is precipitation/100.
func NewFakePredictor(t testing.TB, failOn ...int) *FakePredictor {
	t.Helper()
	fp := &FakePredictor{failOn: map[int]bool{}}
	for _, i := range failOn {
		fp.failOn[i] = true
	}
	fp.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		fp.mu.Lock()
		idx := len(fp.requests)
		fp.requests = append(fp.requests, body)
		fp.mu.Unlock()

		if fp.failOn[idx] {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		precip, _ := body["precipitation"].(float64)
		writeJSON(w, map[string]any{"waterlogging_probability": precip / 100})
	}))
	t.Cleanup(fp.Close)
	return fp
}

// Requests returns a copy of the decoded request bodies in arrival order.
func (fp *FakePredictor) Requests() []map[string]any {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	out := make([]map[string]any, len(fp.requests))
	copy(out, fp.requests)
	return out
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
