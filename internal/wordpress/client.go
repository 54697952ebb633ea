// Package wordpress talks to the WordPress and WooCommerce REST APIs.
package wordpress

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultTimeout   = 30 * time.Second
	defaultRetryMax  = 4
	defaultRetryBase = 500 * time.Millisecond
	defaultRetryCap  = 10 * time.Second
)

// Config describes how to reach a WordPress site.
type Config struct {
	BaseURL  string
	User     string
	Password string
	Timeout  time.Duration
	// RequestsPerSecond throttles outgoing calls; zero disables throttling.
	RequestsPerSecond float64
	Burst             int
}

// Client performs authenticated JSON calls against /wp-json routes.
type Client struct {
	baseURL    *url.URL
	user       string
	password   string
	httpClient *http.Client
	limiter    *rate.Limiter

	retryMax  int
	retryBase time.Duration
	retryCap  time.Duration
}

// NewClient validates cfg and builds a Client. httpClient may be nil.
func NewClient(cfg Config, httpClient *http.Client) (*Client, error) {
	base := strings.TrimSpace(cfg.BaseURL)
	if base == "" {
		return nil, errors.New("wordpress: base url required")
	}
	parsed, err := url.Parse(strings.TrimSuffix(base, "/"))
	if err != nil {
		return nil, fmt.Errorf("wordpress: parse base url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("wordpress: unsupported scheme %q", parsed.Scheme)
	}
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	return &Client{
		baseURL:    parsed,
		user:       cfg.User,
		password:   cfg.Password,
		httpClient: httpClient,
		limiter:    limiter,
		retryMax:   defaultRetryMax,
		retryBase:  defaultRetryBase,
		retryCap:   defaultRetryCap,
	}, nil
}

// do sends a request to /wp-json/<route>, retrying throttled and 5xx responses, and decodes
// a 2xx body into out when out is non-nil.
func (c *Client) do(ctx context.Context, method, route string, query url.Values, body, out any) (http.Header, error) {
	var payload []byte
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		payload = data
	}

	endpoint := c.endpoint(route, query)
	var lastErr error
	for attempt := 0; attempt <= c.retryMax; attempt++ {
		if attempt > 0 {
			if err := sleepWithContext(ctx, c.retryDelay(attempt-1)); err != nil {
				return nil, err
			}
		}
		header, err := c.once(ctx, method, endpoint, payload, out)
		if err == nil {
			return header, nil
		}
		lastErr = err
		if !isRetryable(err) {
			return nil, err
		}
	}
	return nil, lastErr
}

func (c *Client) once(ctx context.Context, method, endpoint string, payload []byte, out any) (http.Header, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.user != "" || c.password != "" {
		req.SetBasicAuth(c.user, c.password)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, newStatusError(resp.StatusCode, resp.Status, respBody)
	}
	if out != nil && len(bytes.TrimSpace(respBody)) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return nil, fmt.Errorf("wordpress: decode %s: %w", req.URL.Path, err)
		}
	}
	return resp.Header, nil
}

func (c *Client) endpoint(route string, query url.Values) string {
	u := *c.baseURL
	u.Path = strings.TrimSuffix(u.Path, "/") + "/wp-json/" + strings.TrimPrefix(route, "/")
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

func (c *Client) retryDelay(attempt int) time.Duration {
	if attempt < 0 {
		return 0
	}
	delay := c.retryBase << attempt
	if delay > c.retryCap || delay <= 0 {
		delay = c.retryCap
	}
	return delay
}

func sleepWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
