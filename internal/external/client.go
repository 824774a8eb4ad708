// Package external talks to the school data platform: class rosters,
// grades, assignments, attendance, notifications. All requests carry the
// teacher scope; the platform enforces it again server-side.
package external

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// DataAPI is the platform surface tools consume. Implementations scope
// every request to the given teacher.
type DataAPI interface {
	Get(ctx context.Context, teacherID, path string, query url.Values, out any) error
	Post(ctx context.Context, teacherID, path string, body, out any) error
}

// HTTPClient is the production DataAPI over HTTP with connection pooling
// and a circuit breaker.
type HTTPClient struct {
	baseURL string
	http    *http.Client
	breaker *breaker
	logger  *slog.Logger
}

// NewHTTPClient builds a client for the platform at baseURL.
func NewHTTPClient(baseURL string, timeout time.Duration, logger *slog.Logger) *HTTPClient {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	transport := &http.Transport{
		MaxIdleConns:        30,
		MaxIdleConnsPerHost: 15,
		IdleConnTimeout:     30 * time.Second,
	}
	return &HTTPClient{
		baseURL: baseURL,
		http:    &http.Client{Transport: transport, Timeout: timeout},
		breaker: newBreaker(5, 60*time.Second),
		logger:  logger,
	}
}

// Get issues a GET and decodes the JSON response into out.
func (c *HTTPClient) Get(ctx context.Context, teacherID, path string, query url.Values, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("build request %s: %w", path, err)
	}
	return c.do(req, teacherID, out)
}

// Post issues a POST with a JSON body and decodes the response into out.
func (c *HTTPClient) Post(ctx context.Context, teacherID, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request %s: %w", path, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request %s: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, teacherID, out)
}

func (c *HTTPClient) do(req *http.Request, teacherID string, out any) error {
	if !c.breaker.allow() {
		return ErrCircuitOpen
	}
	req.Header.Set("X-Teacher-ID", teacherID)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		c.breaker.recordFailure()
		return fmt.Errorf("platform request %s: %w", req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		c.breaker.recordFailure()
		return fmt.Errorf("platform request %s: status %d", req.URL.Path, resp.StatusCode)
	}
	c.breaker.recordSuccess()

	if resp.StatusCode >= 400 {
		// Client errors are the caller's problem, not upstream health.
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("platform request %s: status %d: %s", req.URL.Path, resp.StatusCode, data)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode platform response %s: %w", req.URL.Path, err)
	}
	return nil
}
