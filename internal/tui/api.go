package tui

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/kjstillabower/waterlogging-dashboard/internal/dashboard"
	"github.com/kjstillabower/waterlogging-dashboard/internal/models"
)

// PageFetcher loads a rendered dashboard view for a position.
type PageFetcher interface {
	Dashboard(ctx context.Context, c models.Coordinates) (dashboard.View, error)
}

// ServiceClient talks to the dashboard service over HTTP.
type ServiceClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewServiceClient returns a client for the service at baseURL.
func NewServiceClient(baseURL string, timeout time.Duration) *ServiceClient {
	return &ServiceClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

type pageBody struct {
	View dashboard.View `json:"view"`
}

type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Dashboard fetches GET /api/dashboard for c.
func (s *ServiceClient) Dashboard(ctx context.Context, c models.Coordinates) (dashboard.View, error) {
	q := url.Values{}
	q.Set("lat", strconv.FormatFloat(c.Latitude, 'f', -1, 64))
	q.Set("lon", strconv.FormatFloat(c.Longitude, 'f', -1, 64))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/api/dashboard?"+q.Encode(), nil)
	if err != nil {
		return dashboard.View{}, fmt.Errorf("create request: %w", err)
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return dashboard.View{}, fmt.Errorf("fetch dashboard: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var eb errorBody
		if json.NewDecoder(resp.Body).Decode(&eb) == nil && eb.Error.Message != "" {
			return dashboard.View{}, fmt.Errorf("dashboard service: %s: %s", eb.Error.Code, eb.Error.Message)
		}
		return dashboard.View{}, fmt.Errorf("dashboard service: status %d", resp.StatusCode)
	}

	var body pageBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return dashboard.View{}, fmt.Errorf("decode dashboard: %w", err)
	}
	return body.View, nil
}
