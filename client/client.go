// Package client provides a Go client for a remote tierq server over
// its HTTP API.
//
// Usage:
//
//	c := client.New("https://queue.internal.example.com",
//	    client.WithUser("user-42"),
//	)
//
//	// Submit a transcription job.
//	j, err := c.Submit(ctx, "pro", "s3://bucket/episode.mp3",
//	    client.WithTitle("Episode 12"),
//	)
//
//	// Poll the job's place in line.
//	p, err := c.Position(ctx, j.ID.String())
//	fmt.Printf("position %d, wait %s\n", p.Position, p.EstimatedWait)
//
// Server errors decode into [*APIError], which maps the wire code back
// to the tierq sentinel errors. errors.Is(err, tierq.ErrJobNotFound)
// works on client-side failures exactly as it does in process.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/scribely/tierq"
	"github.com/scribely/tierq/auth"
)

// Client talks to a tierq server. A zero user and token make an
// anonymous client, which can only reach the health endpoint.
type Client struct {
	baseURL string
	user    string
	token   string
	httpc   *http.Client
	logger  *slog.Logger
}

// New creates a Client for the server at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpc:   &http.Client{Timeout: 30 * time.Second},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// do sends one API request. in is JSON-encoded as the request body when
// non-nil, out is filled from a 2xx response body when non-nil. Non-2xx
// responses return a *APIError.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("tierq/client: marshal request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("tierq/client: build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.user != "" {
		req.Header.Set(auth.UserHeader, c.user)
	}
	if c.token != "" {
		req.Header.Set(auth.OperatorHeader, c.token)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("tierq/client: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close() //nolint:errcheck // read-only body

	c.logger.Debug("api request",
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status", resp.StatusCode),
	)

	if resp.StatusCode >= 400 {
		return decodeAPIError(resp)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("tierq/client: decode response: %w", err)
		}
	}
	return nil
}

// APIError is a non-2xx response from the server.
type APIError struct {
	Status  int    // HTTP status code
	Code    string // machine-readable code from the error envelope
	Message string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("tierq/client: server returned %d (%s): %s", e.Status, e.Code, e.Message)
}

// Is reports whether the wire code corresponds to target, so callers
// can match server failures against the tierq sentinel errors.
func (e *APIError) Is(target error) bool {
	s, ok := wireSentinels[e.Code]
	return ok && target == s
}

// wireSentinels maps error envelope codes back to the sentinels the
// server derived them from.
var wireSentinels = map[string]error{
	"not_found":          tierq.ErrJobNotFound,
	"unauthorized":       tierq.ErrUnauthorized,
	"forbidden":          tierq.ErrForbidden,
	"not_cancellable":    tierq.ErrNotCancellable,
	"not_queued":         tierq.ErrNotQueued,
	"invalid_transition": tierq.ErrInvalidTransition,
	"job_done":           tierq.ErrJobDone,
	"store_unavailable":  tierq.ErrStoreUnavailable,
}

func decodeAPIError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode}
	var envelope struct {
		Error string `json:"error"`
		Code  string `json:"code"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		apiErr.Message = resp.Status
		return apiErr
	}
	apiErr.Code = envelope.Code
	apiErr.Message = envelope.Error
	return apiErr
}
