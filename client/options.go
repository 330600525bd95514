package client

import (
	"log/slog"
	"net/http"
)

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the HTTP client used for queries.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithFormat sets the push stream format: "json" (default) or "msgpack".
func WithFormat(format string) Option {
	return func(c *Client) { c.format = format }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}
