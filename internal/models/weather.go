package models

import "time"

// WeatherSnapshot is the current observation for a coordinate pair.
type WeatherSnapshot struct {
	CityName            string    `json:"cityName"`
	CountryCode         string    `json:"countryCode"`
	Timezone            string    `json:"timezone"`
	Temperature         float64   `json:"temperature"`
	ApparentTemperature float64   `json:"apparentTemperature"`
	Description         string    `json:"description"`
	Icon                string    `json:"icon,omitempty"`
	Sunrise             time.Time `json:"sunrise"`
	Sunset              time.Time `json:"sunset"`
	Pressure            float64   `json:"pressure"`
	Humidity            float64   `json:"humidity"`
	WindSpeed           float64   `json:"windSpeed"`
	Precipitation       float64   `json:"precipitation"`
	ObservedAt          time.Time `json:"observedAt"`
	Stale               bool      `json:"stale,omitempty"` // served from stale cache
}

// ForecastDay is one entry of a daily forecast. Order is the provider's.
type ForecastDay struct {
	Date              time.Time `json:"date"`
	Temperature       float64   `json:"temperature"`
	MaxTemperature    float64   `json:"maxTemperature"`
	MinTemperature    float64   `json:"minTemperature"`
	Precipitation     float64   `json:"precipitation"`
	PrecipProbability float64   `json:"precipProbability"`
	Description       string    `json:"description"`
	Icon              string    `json:"icon,omitempty"`
}

// ForecastSeries is a multi-day forecast.
type ForecastSeries struct {
	CityName    string        `json:"cityName"`
	CountryCode string        `json:"countryCode"`
	Timezone    string        `json:"timezone"`
	Days        []ForecastDay `json:"days"`
	FetchedAt   time.Time     `json:"fetchedAt"`
	Stale       bool          `json:"stale,omitempty"`
}

// Precipitation returns the per-day precipitation values in forecast order.
func (f ForecastSeries) Precipitation() []float64 {
	out := make([]float64, len(f.Days))
	for i, d := range f.Days {
		out[i] = d.Precipitation
	}
	return out
}
