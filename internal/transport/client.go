// ABOUTME: Outbound JSON-over-HTTPS client for the telemetry collector
// ABOUTME: Failures are logged once and reported as (nil, false); nothing propagates past Post

package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/2389/agentlens/internal/metrics"
)

// Collector paths.
const (
	PathRegister = "/agents/register"
	PathEvents   = "/events"
)

// ConfigPath returns the config sync path for an agent identity. The id is
// escaped as a single path segment.
func ConfigPath(agentID string) string {
	return "/agents/" + url.PathEscape(agentID) + "/config"
}

// Poster is the single outbound call primitive. Implementations never fail
// loudly: a false ok means the request was lost and has been logged.
type Poster interface {
	Post(ctx context.Context, path string, body any) (map[string]any, bool)
}

// Client posts JSON bodies to {endpoint}{path} with a bearer credential.
type Client struct {
	http   *resty.Client
	logger *slog.Logger
}

// NewClient creates a Client. Requests are not retried; telemetry is best effort.
func NewClient(endpoint, apiKey string, timeout time.Duration, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	rc := resty.New().
		SetBaseURL(strings.TrimSuffix(endpoint, "/")).
		SetTimeout(timeout).
		SetAuthToken(apiKey).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &Client{
		http:   rc,
		logger: logger.With("component", "transport"),
	}
}

// Post sends body as JSON. It returns the decoded JSON object on a 2xx
// response; an empty 2xx body decodes to an empty map.
func (c *Client) Post(ctx context.Context, path string, body any) (map[string]any, bool) {
	route := routeLabel(path)
	start := time.Now()

	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(body).
		Post(path)
	metrics.RequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.RequestsTotal.WithLabelValues(route, "network_error").Inc()
		c.logger.Warn("collector request failed", "path", path, "error", err)
		return nil, false
	}

	if !resp.IsSuccess() {
		metrics.RequestsTotal.WithLabelValues(route, "http_error").Inc()
		c.logger.Warn("collector rejected request",
			"path", path,
			"status", resp.StatusCode(),
			"body", truncate(resp.String(), 256),
		)
		return nil, false
	}

	raw := bytes.TrimSpace(resp.Body())
	out := map[string]any{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil {
			metrics.RequestsTotal.WithLabelValues(route, "decode_error").Inc()
			c.logger.Warn("collector returned malformed JSON", "path", path, "error", err)
			return nil, false
		}
	}

	metrics.RequestsTotal.WithLabelValues(route, "ok").Inc()
	return out, true
}

// routeLabel collapses agent identities out of paths to keep label cardinality bounded.
func routeLabel(path string) string {
	if strings.HasPrefix(path, "/agents/") && strings.HasSuffix(path, "/config") {
		return "/agents/:id/config"
	}
	return path
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
