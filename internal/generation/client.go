// Package generation triggers the external resume and cover-letter pipeline.
// The pipeline reports progress back asynchronously through the generation
// callback endpoint.
package generation

import (
	"context"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/teranos/jobpulse/errors"
	"github.com/teranos/jobpulse/logger"
)

// DefaultTimeout bounds a trigger call
const DefaultTimeout = 30 * time.Second

// Request identifies what the pipeline should generate documents for
type Request struct {
	UserID        string `json:"user_id"`
	JobID         string `json:"job_id"`
	ApplicationID string `json:"application_id"`
	RunID         string `json:"workflow_run_id,omitempty"`
}

// Accepted is the pipeline's acknowledgement
type Accepted struct {
	ExecutionID string `json:"execution_id,omitempty"`
}

// Client calls the generation pipeline over HTTP
type Client struct {
	http *resty.Client
}

// NewClient creates a client for baseURL. apiKey is sent as a bearer token when set.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	c := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")
	if apiKey != "" {
		c.SetAuthToken(apiKey)
	}
	return &Client{http: c}
}

// Trigger asks the pipeline to start generating documents.
// Any transport failure or non-2xx response is an external-service error.
func (c *Client) Trigger(ctx context.Context, req Request) (*Accepted, error) {
	var out Accepted
	r := c.http.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&out)
	if id := logger.RequestIDFromContext(ctx); id != "" {
		r.SetHeader("X-Request-ID", id)
	}

	resp, err := r.Post("/generate")
	if err != nil {
		return nil, errors.WrapExternalService(err, "generation")
	}
	if resp.StatusCode() < http.StatusOK || resp.StatusCode() >= http.StatusMultipleChoices {
		return nil, errors.WithDetailf(
			errors.NewExternalServiceError("generation", "POST /generate returned "+resp.Status()),
			"body: %s", truncate(resp.String(), 512))
	}
	return &out, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
