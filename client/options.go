package client

import (
	"log/slog"
	"net/http"
)

// Option configures a Client.
type Option func(*Client)

// WithUser sets the user subject sent on every request.
func WithUser(subject string) Option {
	return func(c *Client) { c.user = subject }
}

// WithOperatorToken sets the operator secret sent on every request.
// Operator credentials unlock the admin surface and bypass ownership
// checks.
func WithOperatorToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpc = h }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}
