package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/kjstillabower/waterlogging-dashboard/internal/circuitbreaker"
	"github.com/kjstillabower/waterlogging-dashboard/internal/models"
)

// WeatherClient fetches current conditions and daily forecasts for a coordinate pair.
type WeatherClient interface {
	GetCurrent(ctx context.Context, c models.Coordinates) (models.WeatherSnapshot, error)
	GetDailyForecast(ctx context.Context, c models.Coordinates, days int) (models.ForecastSeries, error)
}

// WeatherbitConfig configures a WeatherbitClient.
type WeatherbitConfig struct {
	APIKey  string
	BaseURL string // e.g. https://api.weatherbit.io/v2.0
	Timeout time.Duration
	Retry   RetryPolicy
	Breaker *circuitbreaker.CircuitBreaker // optional
}

// WeatherbitClient talks to the Weatherbit v2.0 API.
type WeatherbitClient struct {
	apiKey  string
	baseURL string
	timeout time.Duration
	retry   RetryPolicy
	breaker *circuitbreaker.CircuitBreaker
	client  *http.Client
	now     func() time.Time
}

// NewWeatherbitClient builds a client. An empty API key is accepted; every call then
// fails with ErrMissingAPIKey without touching the network.
func NewWeatherbitClient(cfg WeatherbitConfig) *WeatherbitClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Second
	}
	return &WeatherbitClient{
		apiKey:  cfg.APIKey,
		baseURL: cfg.BaseURL,
		timeout: cfg.Timeout,
		retry:   cfg.Retry.withDefaults(),
		breaker: cfg.Breaker,
		client:  &http.Client{Timeout: cfg.Timeout},
		now:     time.Now,
	}
}

type weatherbitWeather struct {
	Description string `json:"description"`
	Icon        string `json:"icon"`
}

type weatherbitObservation struct {
	CityName    string            `json:"city_name"`
	CountryCode string            `json:"country_code"`
	Timezone    string            `json:"timezone"`
	Temp        float64           `json:"temp"`
	AppTemp     float64           `json:"app_temp"`
	Weather     weatherbitWeather `json:"weather"`
	Sunrise     string            `json:"sunrise"`
	Sunset      string            `json:"sunset"`
	Pres        float64           `json:"pres"`
	RH          float64           `json:"rh"`
	WindSpd     float64           `json:"wind_spd"`
	Precip      float64           `json:"precip"`
	TS          int64             `json:"ts"`
}

type weatherbitCurrentResponse struct {
	Count int                     `json:"count"`
	Data  []weatherbitObservation `json:"data"`
}

type weatherbitForecastDay struct {
	ValidDate string            `json:"valid_date"`
	Temp      float64           `json:"temp"`
	MaxTemp   float64           `json:"max_temp"`
	MinTemp   float64           `json:"min_temp"`
	Precip    float64           `json:"precip"`
	Pop       float64           `json:"pop"`
	Weather   weatherbitWeather `json:"weather"`
}

type weatherbitForecastResponse struct {
	CityName    string                  `json:"city_name"`
	CountryCode string                  `json:"country_code"`
	Timezone    string                  `json:"timezone"`
	Data        []weatherbitForecastDay `json:"data"`
}

// GetCurrent calls /current for the coordinates.
func (c *WeatherbitClient) GetCurrent(ctx context.Context, coords models.Coordinates) (models.WeatherSnapshot, error) {
	var resp weatherbitCurrentResponse
	if err := c.get(ctx, "/current", coordParams(coords), &resp); err != nil {
		return models.WeatherSnapshot{}, err
	}
	if len(resp.Data) == 0 {
		return models.WeatherSnapshot{}, fmt.Errorf("parse response: %w: empty data array", ErrMalformedResponse)
	}
	return c.mapCurrent(resp.Data[0]), nil
}

// GetDailyForecast calls /forecast/daily and keeps at most days entries in provider order.
func (c *WeatherbitClient) GetDailyForecast(ctx context.Context, coords models.Coordinates, days int) (models.ForecastSeries, error) {
	params := coordParams(coords)
	if days > 0 {
		params.Set("days", strconv.Itoa(days))
	}
	var resp weatherbitForecastResponse
	if err := c.get(ctx, "/forecast/daily", params, &resp); err != nil {
		return models.ForecastSeries{}, err
	}
	if len(resp.Data) == 0 {
		return models.ForecastSeries{}, fmt.Errorf("parse response: %w: empty data array", ErrMalformedResponse)
	}
	if days > 0 && len(resp.Data) > days {
		resp.Data = resp.Data[:days]
	}
	return c.mapForecast(resp), nil
}

func coordParams(coords models.Coordinates) url.Values {
	params := url.Values{}
	params.Set("lat", strconv.FormatFloat(coords.Latitude, 'f', -1, 64))
	params.Set("lon", strconv.FormatFloat(coords.Longitude, 'f', -1, 64))
	return params
}

func (c *WeatherbitClient) get(ctx context.Context, path string, params url.Values, out any) error {
	if c.apiKey == "" {
		return ErrMissingAPIKey
	}
	return c.retry.do(ctx, upstreamWeatherbit, func() error {
		if c.breaker == nil {
			return c.callAPI(ctx, path, params, out)
		}
		return c.breaker.Call(ctx, func() error { return c.callAPI(ctx, path, params, out) })
	})
}

func (c *WeatherbitClient) callAPI(ctx context.Context, path string, params url.Values, out any) error {
	start := time.Now()

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := c.buildRequest(reqCtx, path, params)
	if err != nil {
		observe(upstreamWeatherbit, 0, start)
		return fmt.Errorf("build request: %w", err)
	}
	setCorrelationID(ctx, req)

	resp, err := c.client.Do(req)
	if err != nil {
		observe(upstreamWeatherbit, 0, start)
		return transportError(err)
	}
	defer resp.Body.Close()
	observe(upstreamWeatherbit, resp.StatusCode, start)

	if err := statusError(resp.StatusCode); err != nil {
		return err
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("parse response: %w: %v", ErrMalformedResponse, err)
	}
	return nil
}

func (c *WeatherbitClient) buildRequest(ctx context.Context, path string, params url.Values) (*http.Request, error) {
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		return nil, fmt.Errorf("invalid API URL: %w", err)
	}
	q := url.Values{}
	for k, v := range params {
		q[k] = v
	}
	q.Set("key", c.apiKey)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (c *WeatherbitClient) mapCurrent(o weatherbitObservation) models.WeatherSnapshot {
	observed := c.now().UTC()
	if o.TS > 0 {
		observed = time.Unix(o.TS, 0).UTC()
	}
	return models.WeatherSnapshot{
		CityName:            o.CityName,
		CountryCode:         o.CountryCode,
		Timezone:            o.Timezone,
		Temperature:         o.Temp,
		ApparentTemperature: o.AppTemp,
		Description:         o.Weather.Description,
		Icon:                o.Weather.Icon,
		Sunrise:             clockOnDate(o.Sunrise, observed),
		Sunset:              clockOnDate(o.Sunset, observed),
		Pressure:            o.Pres,
		Humidity:            o.RH,
		WindSpeed:           o.WindSpd,
		Precipitation:       o.Precip,
		ObservedAt:          observed,
	}
}

func (c *WeatherbitClient) mapForecast(r weatherbitForecastResponse) models.ForecastSeries {
	days := make([]models.ForecastDay, 0, len(r.Data))
	for _, d := range r.Data {
		date, _ := time.Parse("2006-01-02", d.ValidDate)
		days = append(days, models.ForecastDay{
			Date:              date,
			Temperature:       d.Temp,
			MaxTemperature:    d.MaxTemp,
			MinTemperature:    d.MinTemp,
			Precipitation:     d.Precip,
			PrecipProbability: d.Pop,
			Description:       d.Weather.Description,
			Icon:              d.Weather.Icon,
		})
	}
	return models.ForecastSeries{
		CityName:    r.CityName,
		CountryCode: r.CountryCode,
		Timezone:    r.Timezone,
		Days:        days,
		FetchedAt:   c.now().UTC(),
	}
}

// clockOnDate combines an "HH:MM" UTC clock reading with the date of day.
// Returns the zero time when hm is empty or unparsable.
func clockOnDate(hm string, day time.Time) time.Time {
	t, err := time.Parse("15:04", hm)
	if err != nil {
		return time.Time{}
	}
	y, m, d := day.UTC().Date()
	return time.Date(y, m, d, t.Hour(), t.Minute(), 0, 0, time.UTC)
}
