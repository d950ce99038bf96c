// Package client is a small HTTP client for the somnia API, used by the
// interactive CLI and scriptable tooling.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/xtxerr/somnia/config"
)

// Client talks to one somnia server.
type Client struct {
	baseURL string
	secret  string
	http    *http.Client
}

// New creates a Client for the server at baseURL. secret may be empty for
// read-only use; the write endpoints will then fail with 401.
func New(baseURL, secret string) *Client {
	return &Client{
		baseURL: baseURL,
		secret:  secret,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// APIError is a non-2xx response from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return nil, err
	}
	if c.secret != "" {
		req.Header.Set(config.DefaultSecretHeader, c.secret)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var msg struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &msg) == nil && msg.Error != "" {
			return nil, &APIError{Status: resp.StatusCode, Message: msg.Error}
		}
		return nil, &APIError{Status: resp.StatusCode, Message: string(data)}
	}
	return data, nil
}

// get fetches path and returns the raw JSON document.
func (c *Client) get(ctx context.Context, path string) (json.RawMessage, error) {
	return c.do(ctx, http.MethodGet, path, nil)
}

// Health checks the health endpoint.
func (c *Client) Health(ctx context.Context) error {
	_, err := c.get(ctx, "/v1/healthz")
	return err
}

// Stats fetches the operational counters document.
func (c *Client) Stats(ctx context.Context) (json.RawMessage, error) {
	return c.get(ctx, "/v1/stats")
}

// DeadLetters fetches the dead-letter journal.
func (c *Client) DeadLetters(ctx context.Context) (json.RawMessage, error) {
	return c.get(ctx, "/v1/deadletters")
}

// WindowParams selects a query window: either Day, or From/To epoch minutes.
type WindowParams struct {
	Day  string
	From int64
	To   int64
}

func (p WindowParams) encode(v url.Values) {
	if p.Day != "" {
		v.Set("day", p.Day)
		return
	}
	v.Set("from", strconv.FormatInt(p.From, 10))
	v.Set("to", strconv.FormatInt(p.To, 10))
}

// Buckets fetches bucketed statistics for a device.
func (c *Client) Buckets(ctx context.Context, device string, win WindowParams, bucketMin int, metrics, percentiles string) (json.RawMessage, error) {
	v := url.Values{}
	win.encode(v)
	v.Set("bucket", strconv.Itoa(bucketMin))
	if metrics != "" {
		v.Set("metrics", metrics)
	}
	if percentiles != "" {
		v.Set("percentiles", percentiles)
	}
	return c.get(ctx, "/v1/devices/"+url.PathEscape(device)+"/buckets?"+v.Encode())
}

// Summary fetches whole-window statistics for a device.
func (c *Client) Summary(ctx context.Context, device string, win WindowParams, metrics string) (json.RawMessage, error) {
	v := url.Values{}
	win.encode(v)
	if metrics != "" {
		v.Set("metrics", metrics)
	}
	return c.get(ctx, "/v1/devices/"+url.PathEscape(device)+"/summary?"+v.Encode())
}

// Correlations fetches per-session environment aggregates for a device.
func (c *Client) Correlations(ctx context.Context, device string, win WindowParams, metrics string) (json.RawMessage, error) {
	v := url.Values{}
	win.encode(v)
	if metrics != "" {
		v.Set("metrics", metrics)
	}
	return c.get(ctx, "/v1/devices/"+url.PathEscape(device)+"/correlations?"+v.Encode())
}

// Weekly fetches the weekly sleep summary with week-over-week trends.
func (c *Client) Weekly(ctx context.Context, device, weekStart string) (json.RawMessage, error) {
	v := url.Values{}
	v.Set("week_start", weekStart)
	return c.get(ctx, "/v1/devices/"+url.PathEscape(device)+"/weekly?"+v.Encode())
}

// IngestReading submits one reading payload and returns the assigned id.
func (c *Client) IngestReading(ctx context.Context, payload []byte) (string, error) {
	data, err := c.do(ctx, http.MethodPost, "/v1/readings", payload)
	if err != nil {
		return "", err
	}
	var resp struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", err
	}
	return resp.ID, nil
}

// PutSession submits one sleep-session payload.
func (c *Client) PutSession(ctx context.Context, payload []byte) error {
	_, err := c.do(ctx, http.MethodPut, "/v1/sessions", payload)
	return err
}
