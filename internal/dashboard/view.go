// Package dashboard turns weather, forecast and prediction results into the
// page view models served to clients.
package dashboard

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/kjstillabower/waterlogging-dashboard/internal/models"
	"github.com/kjstillabower/waterlogging-dashboard/internal/prediction"
)

const (
	chartDays = 5

	TextLoadingCurrent   = "Loading current weather..."
	TextCurrentFailed    = "Current weather is unavailable."
	TextNotAvailable     = "Not available"
	TextNoDescription    = "No description available"
	TextNoForecast       = "No forecast data available."
	TextNoPrediction     = "Waterlogging prediction is unavailable."
	TextForecastError    = "Unable to fetch forecast data. Please try again later."
	TextForecastErrTitle = "Forecast Error"
	TextCityLoadFailed   = "Failed to load weather data. Please try again."
	TextCityErrTitle     = "Error"
)

// Status is the state of one page section.
type Status string

const (
	StatusReady       Status = "ready"
	StatusUnavailable Status = "unavailable"
)

// Section reports whether one part of the page could be produced.
type Section struct {
	Status Status          `json:"status"`
	Kind   prediction.Kind `json:"kind,omitempty"`
}

// Input is everything Build needs. Nil pointers are sections that have no data.
type Input struct {
	Title       string
	PlaceName   string
	Current     *models.WeatherSnapshot
	Forecast    *models.ForecastSeries
	Predictions models.PredictionSeries
	// Scale maps model scores to percentages. The zero value is ScaleAuto.
	Scale Scale

	CurrentErr    error
	ForecastErr   error
	PredictionErr error
}

// View is one rendered page.
type View struct {
	Title    string         `json:"title"`
	Alert    *Alert         `json:"alert,omitempty"`
	Current  CurrentCard    `json:"current"`
	Trend    []TrendPoint   `json:"trend"`
	Details  []Detail       `json:"details"`
	Chart    Chart          `json:"chart"`
	Forecast []ForecastItem `json:"forecast"`
	// Placeholder is shown in place of the forecast list when it is empty.
	ForecastPlaceholder string   `json:"forecastPlaceholder,omitempty"`
	Sections            Sections `json:"sections"`
}

type Sections struct {
	Current     Section `json:"current"`
	Forecast    Section `json:"forecast"`
	Predictions Section `json:"predictions"`
}

type Alert struct {
	Title   string `json:"title"`
	Message string `json:"message"`
}

// CurrentCard is the current conditions card. When Placeholder is set the
// other fields are empty.
type CurrentCard struct {
	Location    string `json:"location"`
	Description string `json:"description,omitempty"`
	Temperature string `json:"temperature,omitempty"`
	FeelsLike   string `json:"feelsLike,omitempty"`
	Humidity    string `json:"humidity,omitempty"`
	Wind        string `json:"wind,omitempty"`
	Icon        string `json:"icon,omitempty"`
	Placeholder string `json:"placeholder,omitempty"`
}

type TrendPoint struct {
	Label       string  `json:"label"`
	Temperature float64 `json:"temperature"`
	Max         float64 `json:"max"`
	Min         float64 `json:"min"`
}

type Detail struct {
	Title string `json:"title"`
	Value string `json:"value"`
}

// Chart is the waterlogging risk bar chart. Bars with a nil Value failed.
type Chart struct {
	Bars        []Bar  `json:"bars"`
	Placeholder string `json:"placeholder,omitempty"`
}

// Bar is one chart day. Percent is Value on a 0-100 scale.
type Bar struct {
	Label   string   `json:"label"`
	Value   *float64 `json:"value"`
	Percent float64  `json:"percent"`
	Text    string   `json:"text"`
}

type ForecastItem struct {
	Date          string `json:"date"`
	Description   string `json:"description"`
	High          string `json:"high"`
	Low           string `json:"low"`
	Precipitation string `json:"precipitation"`
	Chance        string `json:"chance"`
	Icon          string `json:"icon,omitempty"`
}

// Build produces a View from in. It does no I/O.
func Build(in Input) View {
	v := View{
		Title: in.Title,
		Sections: Sections{
			Current:     section(in.Current != nil, in.CurrentErr, prediction.WeatherKind),
			Forecast:    section(in.Forecast != nil, in.ForecastErr, prediction.WeatherKind),
			Predictions: section(in.Predictions != nil, in.PredictionErr, prediction.FailureKind),
		},
	}

	v.Current = currentCard(in)
	v.Details = details(in.Current, in.Predictions, in.Scale)
	v.Chart = chart(in.Predictions, in.Scale)

	switch {
	case in.ForecastErr != nil:
		v.Alert = &Alert{Title: TextForecastErrTitle, Message: TextForecastError}
	case in.Forecast == nil || len(in.Forecast.Days) == 0:
		v.ForecastPlaceholder = TextNoForecast
	default:
		v.Trend, v.Forecast = forecast(*in.Forecast)
	}
	if v.Trend == nil {
		v.Trend = []TrendPoint{}
	}
	if v.Forecast == nil {
		v.Forecast = []ForecastItem{}
	}
	return v
}

func section(present bool, err error, kind func(error) prediction.Kind) Section {
	if present && err == nil {
		return Section{Status: StatusReady}
	}
	s := Section{Status: StatusUnavailable}
	if err != nil {
		s.Kind = kind(err)
	}
	return s
}

func currentCard(in Input) CurrentCard {
	card := CurrentCard{Location: in.PlaceName}
	s := in.Current
	if s == nil {
		card.Placeholder = TextLoadingCurrent
		if in.CurrentErr != nil {
			card.Placeholder = TextCurrentFailed
		}
		return card
	}
	if card.Location == "" {
		card.Location = s.CityName
	}
	card.Description = s.Description
	if card.Description == "" {
		card.Description = TextNoDescription
	}
	card.Temperature = celsius(s.Temperature)
	card.FeelsLike = celsius(s.ApparentTemperature)
	card.Humidity = fmt.Sprintf("%.0f%%", s.Humidity)
	card.Wind = strconv.FormatFloat(s.WindSpeed, 'f', 1, 64) + " m/s"
	card.Icon = s.Icon
	return card
}

func details(s *models.WeatherSnapshot, series models.PredictionSeries, scale Scale) []Detail {
	sunrise, sunset, pressure := TextNotAvailable, TextNotAvailable, TextNotAvailable
	if s != nil {
		sunrise = clockTime(s.Sunrise, s.Timezone)
		sunset = clockTime(s.Sunset, s.Timezone)
		pressure = fmt.Sprintf("%.0f hPa", s.Pressure)
	}
	return []Detail{
		{Title: "Sunrise", Value: sunrise},
		{Title: "Sunset", Value: sunset},
		{Title: "Waterlogging", Value: scale.text(series.Current())},
		{Title: "Pressure", Value: pressure},
	}
}

func chart(series models.PredictionSeries, scale Scale) Chart {
	days := series.Upcoming(chartDays)
	if len(days) == 0 {
		return Chart{Bars: []Bar{}, Placeholder: TextNoPrediction}
	}
	bars := make([]Bar, len(days))
	for i, v := range days {
		bars[i] = Bar{Label: fmt.Sprintf("Day %d", i+1), Value: v, Text: scale.text(v)}
		if v != nil {
			bars[i].Percent = scale.Of(*v)
		}
	}
	return Chart{Bars: bars}
}

func forecast(f models.ForecastSeries) ([]TrendPoint, []ForecastItem) {
	trend := make([]TrendPoint, 0, len(f.Days))
	items := make([]ForecastItem, 0, len(f.Days))
	for _, d := range f.Days {
		trend = append(trend, TrendPoint{
			Label:       d.Date.Format("Jan 2"),
			Temperature: d.Temperature,
			Max:         d.MaxTemperature,
			Min:         d.MinTemperature,
		})
		desc := d.Description
		if desc == "" {
			desc = TextNoDescription
		}
		items = append(items, ForecastItem{
			Date:          d.Date.Format("Mon, Jan 2"),
			Description:   desc,
			High:          celsius(d.MaxTemperature),
			Low:           celsius(d.MinTemperature),
			Precipitation: strconv.FormatFloat(d.Precipitation, 'f', 1, 64) + " mm",
			Chance:        fmt.Sprintf("%.0f%%", d.PrecipProbability),
			Icon:          d.Icon,
		})
	}
	return trend, items
}

func celsius(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64) + "°C"
}

// clockTime formats t as "3:04 PM" in the named zone, falling back to UTC.
func clockTime(t time.Time, zone string) string {
	if t.IsZero() {
		return TextNotAvailable
	}
	loc, err := time.LoadLocation(zone)
	if err != nil || zone == "" {
		loc = time.UTC
	}
	return t.In(loc).Format("3:04 PM")
}

// Scale is how the prediction model reports its score.
type Scale string

const (
	// ScaleAuto treats scores up to 1 as fractions and larger ones as percentages.
	ScaleAuto Scale = "auto"
	// ScaleFraction is a score in [0, 1].
	ScaleFraction Scale = "fraction"
	// ScalePercent is a score in [0, 100].
	ScalePercent Scale = "percent"
)

// ParseScale accepts auto, fraction or percent. Empty is auto.
func ParseScale(s string) (Scale, error) {
	switch sc := Scale(strings.ToLower(strings.TrimSpace(s))); sc {
	case "", ScaleAuto:
		return ScaleAuto, nil
	case ScaleFraction, ScalePercent:
		return sc, nil
	default:
		return "", fmt.Errorf("unknown prediction scale %q", s)
	}
}

// Of returns v on a 0-100 scale.
func (s Scale) Of(v float64) float64 {
	switch s {
	case ScaleFraction:
		return v * 100
	case ScalePercent:
		return v
	default:
		if v <= 1 {
			return v * 100
		}
		return v
	}
}

// Format renders v as a whole percentage.
func (s Scale) Format(v float64) string {
	return fmt.Sprintf("%.0f%%", math.Round(s.Of(v)))
}

func (s Scale) text(v *float64) string {
	if v == nil {
		return TextNotAvailable
	}
	return s.Format(*v)
}

// Percent renders a probability as a whole percentage. Values above 1 are
// taken to be percentages already.
func Percent(v float64) string {
	return ScaleAuto.Format(v)
}

// cityAlert is the city page alert. Unlike the dashboard, a failure of either
// weather query raises it.
func cityAlert(in Input) *Alert {
	if in.CurrentErr == nil && in.ForecastErr == nil {
		return nil
	}
	return &Alert{Title: TextCityErrTitle, Message: TextCityLoadFailed}
}
