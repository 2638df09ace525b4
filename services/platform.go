package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"golang.org/x/time/rate"

	"conversionupload/models"
)

// APIError is a non-2xx reply from a platform API.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("platform returned status %d: %s", e.StatusCode, e.Body)
}

// PlatformClient posts batch-insert requests to a platform API. The request
// body is built as one structured value and serialized once.
type PlatformClient struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
}

// NewPlatformClient creates a client for baseURL. httpClient carries the
// credentials; qps <= 0 disables request pacing.
func NewPlatformClient(baseURL string, httpClient *http.Client, qps float64) *PlatformClient {
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: 0, // Use context timeout instead
		}
	}
	limit := rate.Inf
	if qps > 0 {
		limit = rate.Limit(qps)
	}
	return &PlatformClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  httpClient,
		limiter: rate.NewLimiter(limit, 1),
	}
}

// Post sends body as JSON to path and decodes the reply into a BatchResponse.
func (c *PlatformClient) Post(ctx context.Context, path string, body interface{}) (*models.BatchResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	url := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("platform request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var out models.BatchResponse
	if len(bytes.TrimSpace(respBody)) == 0 {
		return &out, nil
	}
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &out, nil
}
