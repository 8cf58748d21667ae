// Package telemetry talks to the telemetry ingestion service: it publishes
// table rows as device telemetry and pulls stored series back into tables.
package telemetry

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"hotelpipe/internal/etl"
)

// API is the query side of the ingestion service.
type API interface {
	Login(ctx context.Context, username, password string) (string, error)
	TimeseriesKeys(ctx context.Context, token, deviceID string) ([]string, error)
	Timeseries(ctx context.Context, token, deviceID string, q Query) (*SeriesSet, error)
}

// Query selects keys and an inclusive millisecond window.
type Query struct {
	Keys    []string
	StartTs int64
	EndTs   int64
	Limit   int
}

// Client is a plain HTTP client for the ingestion service's REST API.
type Client struct {
	baseURL string
	http    *http.Client
}

var _ API = (*Client)(nil)

// NewClient creates a client rooted at baseURL with a bounded timeout.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// Login exchanges credentials for a bearer token. Any failure is an
// authentication failure.
func (c *Client) Login(ctx context.Context, username, password string) (string, error) {
	body, _ := json.Marshal(map[string]string{"username": username, "password": password})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/auth/login", bytes.NewReader(body))
	if err != nil {
		return "", etl.KindError(etl.ErrAuthentication, err)
	}
	req.Header.Set("Content-Type", "application/json")

	var out struct {
		Token string `json:"token"`
	}
	if err := c.do(req, &out); err != nil {
		return "", etl.KindError(etl.ErrAuthentication, fmt.Errorf("login: %w", err))
	}
	if out.Token == "" {
		return "", etl.KindError(etl.ErrAuthentication, fmt.Errorf("login: empty token in response"))
	}
	return out.Token, nil
}

// TimeseriesKeys lists the telemetry keys stored for a device.
func (c *Client) TimeseriesKeys(ctx context.Context, token, deviceID string) ([]string, error) {
	u := fmt.Sprintf("%s/api/plugins/telemetry/DEVICE/%s/keys/timeseries", c.baseURL, url.PathEscape(deviceID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	authorize(req, token)

	var keys []string
	if err := c.do(req, &keys); err != nil {
		return nil, fmt.Errorf("timeseries keys: %w", err)
	}
	return keys, nil
}

// Timeseries fetches the stored points for q, oldest first.
func (c *Client) Timeseries(ctx context.Context, token, deviceID string, q Query) (*SeriesSet, error) {
	params := url.Values{}
	params.Set("keys", strings.Join(q.Keys, ","))
	params.Set("startTs", strconv.FormatInt(q.StartTs, 10))
	params.Set("endTs", strconv.FormatInt(q.EndTs, 10))
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}
	params.Set("orderBy", "ASC")

	u := fmt.Sprintf("%s/api/plugins/telemetry/DEVICE/%s/values/timeseries?%s",
		c.baseURL, url.PathEscape(deviceID), params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	authorize(req, token)

	set := &SeriesSet{}
	if err := c.do(req, set); err != nil {
		return nil, fmt.Errorf("timeseries values: %w", err)
	}
	return set, nil
}

// StatusError is a non-2xx response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Body)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 256<<20))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{Code: resp.StatusCode, Body: truncate(string(data), 200)}
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func authorize(req *http.Request, token string) {
	req.Header.Set("X-Authorization", "Bearer "+token)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
