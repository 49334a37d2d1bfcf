package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// PredictionInput is the feature vector accepted by the waterlogging model.
// Field names match the model's request schema.
type PredictionInput struct {
	WaterTable        string  `json:"Water_Table"`
	Urbanization      string  `json:"urbanization"`
	Elevation         float64 `json:"Elevation"`
	Precipitation     float64 `json:"precipitation"`
	RunoffCoefficient float64 `json:"runoff_coefficient"`
	Drainage          float64 `json:"drainage"`
}

// PredictionClient posts feature vectors to the inference endpoint.
// Predictions are not retried; a failed day is reported to the caller as-is.
type PredictionClient struct {
	url           string
	responseField string
	client        *http.Client
}

// fallbackPredictionField is accepted when the configured field is absent.
const fallbackPredictionField = "prediction"

// NewPredictionClient creates a client for endpoint. responseField names the JSON
// field carrying the probability.
func NewPredictionClient(endpoint, responseField string, timeout time.Duration) *PredictionClient {
	if responseField == "" {
		responseField = "waterlogging_probability"
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &PredictionClient{
		url:           endpoint,
		responseField: responseField,
		client:        &http.Client{Timeout: timeout},
	}
}

// Predict returns the waterlogging probability for in.
func (c *PredictionClient) Predict(ctx context.Context, in PredictionInput) (float64, error) {
	start := time.Now()

	body, err := json.Marshal(in)
	if err != nil {
		return 0, fmt.Errorf("encode prediction input: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		observe(upstreamPrediction, 0, start)
		return 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	setCorrelationID(ctx, req)

	resp, err := c.client.Do(req)
	if err != nil {
		observe(upstreamPrediction, 0, start)
		return 0, fmt.Errorf("%w: %w", ErrPredictionFailed, transportError(err))
	}
	defer resp.Body.Close()
	observe(upstreamPrediction, resp.StatusCode, start)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, fmt.Errorf("%w: HTTP %d", ErrPredictionFailed, resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, fmt.Errorf("read response body: %w", err)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return 0, fmt.Errorf("parse response: %w: %v", ErrMalformedResponse, err)
	}
	value, ok := fields[c.responseField]
	if !ok {
		value, ok = fields[fallbackPredictionField]
	}
	if !ok {
		return 0, fmt.Errorf("parse response: %w: missing %q", ErrMalformedResponse, c.responseField)
	}
	var p float64
	if err := json.Unmarshal(value, &p); err != nil {
		return 0, fmt.Errorf("parse response: %w: %q is not a number", ErrMalformedResponse, c.responseField)
	}
	return p, nil
}
