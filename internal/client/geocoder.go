package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/kjstillabower/waterlogging-dashboard/internal/models"
)

// Geocoder resolves coordinates to place names and place names to coordinates.
type Geocoder interface {
	Reverse(ctx context.Context, c models.Coordinates) (models.Place, error)
	Search(ctx context.Context, query string) ([]models.Place, error)
}

// NominatimGeocoder queries an OpenStreetMap Nominatim instance.
// Nominatim's usage policy requires a User-Agent and at most one request per second.
type NominatimGeocoder struct {
	baseURL   string
	userAgent string
	limiter   *rate.Limiter
	client    *http.Client
}

// NewNominatimGeocoder creates a geocoder limited to rps requests per second.
func NewNominatimGeocoder(baseURL, userAgent string, rps float64, timeout time.Duration) *NominatimGeocoder {
	if rps <= 0 {
		rps = 1
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &NominatimGeocoder{
		baseURL:   strings.TrimRight(baseURL, "/"),
		userAgent: userAgent,
		limiter:   rate.NewLimiter(rate.Limit(rps), 1),
		client:    &http.Client{Timeout: timeout},
	}
}

type nominatimAddress struct {
	City        string `json:"city"`
	Town        string `json:"town"`
	Village     string `json:"village"`
	County      string `json:"county"`
	State       string `json:"state"`
	Country     string `json:"country"`
	CountryCode string `json:"country_code"`
}

type nominatimPlace struct {
	Lat         string           `json:"lat"`
	Lon         string           `json:"lon"`
	Name        string           `json:"name"`
	DisplayName string           `json:"display_name"`
	Address     nominatimAddress `json:"address"`
	Error       string           `json:"error"`
}

// Reverse returns the place nearest to c.
func (g *NominatimGeocoder) Reverse(ctx context.Context, c models.Coordinates) (models.Place, error) {
	params := url.Values{}
	params.Set("format", "jsonv2")
	params.Set("lat", strconv.FormatFloat(c.Latitude, 'f', -1, 64))
	params.Set("lon", strconv.FormatFloat(c.Longitude, 'f', -1, 64))
	params.Set("zoom", "10")
	params.Set("addressdetails", "1")

	var p nominatimPlace
	if err := g.get(ctx, "/reverse", params, &p); err != nil {
		return models.Place{}, err
	}
	if p.Error != "" {
		return models.Place{}, fmt.Errorf("%w: %s", ErrNotFound, p.Error)
	}
	place := p.toPlace()
	// Nominatim echoes a snapped point; keep the caller's coordinates.
	place.Coordinates = c
	return place, nil
}

// Search returns up to five places matching query, best match first.
func (g *NominatimGeocoder) Search(ctx context.Context, query string) ([]models.Place, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("query cannot be empty")
	}
	params := url.Values{}
	params.Set("format", "jsonv2")
	params.Set("q", query)
	params.Set("limit", "5")
	params.Set("addressdetails", "1")

	var results []nominatimPlace
	if err := g.get(ctx, "/search", params, &results); err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("%w: no results for %q", ErrNotFound, query)
	}

	places := make([]models.Place, 0, len(results))
	for _, r := range results {
		place := r.toPlace()
		lat, errLat := strconv.ParseFloat(r.Lat, 64)
		lon, errLon := strconv.ParseFloat(r.Lon, 64)
		if errLat != nil || errLon != nil {
			continue
		}
		place.Coordinates = models.Coordinates{Latitude: lat, Longitude: lon}
		places = append(places, place)
	}
	if len(places) == 0 {
		return nil, fmt.Errorf("parse response: %w: no usable coordinates", ErrMalformedResponse)
	}
	return places, nil
}

func (p nominatimPlace) toPlace() models.Place {
	name := p.Address.City
	for _, alt := range []string{p.Address.Town, p.Address.Village, p.Name, p.Address.County, p.Address.State} {
		if name != "" {
			break
		}
		name = alt
	}
	return models.Place{
		Name:        name,
		DisplayName: p.DisplayName,
		Country:     strings.ToUpper(p.Address.CountryCode),
	}
}

func (g *NominatimGeocoder) get(ctx context.Context, path string, params url.Values, out any) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("geocoder rate limit wait: %w", err)
	}

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		observe(upstreamNominatim, 0, start)
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", g.userAgent)
	req.Header.Set("Accept", "application/json")
	setCorrelationID(ctx, req)

	resp, err := g.client.Do(req)
	if err != nil {
		observe(upstreamNominatim, 0, start)
		return transportError(err)
	}
	defer resp.Body.Close()
	observe(upstreamNominatim, resp.StatusCode, start)

	if err := statusError(resp.StatusCode); err != nil {
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("parse response: %w: %v", ErrMalformedResponse, err)
	}
	return nil
}
