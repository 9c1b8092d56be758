package gemini

import (
	"log/slog"
	"net/http"
	"time"
)

// Option configures a Gemini decider.
type Option func(*Client)

// WithTemperature sets the sampling temperature (default 0.1).
func WithTemperature(t float64) Option {
	return func(c *Client) { c.temperature = t }
}

// WithTopP sets nucleus sampling top-p (default 0.9).
func WithTopP(p float64) Option {
	return func(c *Client) { c.topP = p }
}

// WithTimeout bounds each generation request (default 60s). Requests that
// exceed it fail as timeouts, which the retry layer treats as transient.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger sets a structured logger for the decider.
// When set, every prompt and raw model response is logged, which doubles
// as the AI interaction audit trail. If not set, no logs are emitted.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}
