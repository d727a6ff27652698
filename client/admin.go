package client

import (
	"context"
	"net/http"
	"net/url"

	"github.com/scribely/tierq/job"
	"github.com/scribely/tierq/position"
	"github.com/scribely/tierq/stats"
)

// StatsResult is the GET /v1/stats response: a queue snapshot, plus
// the placement of one waiting job when the query named it.
type StatsResult struct {
	stats.Snapshot
	Placement *position.Placement `json:"placement,omitempty"`
}

// Stats fetches queue-wide statistics. A non-empty jobID attaches that
// job's placement to the result. Requires an operator token.
func (c *Client) Stats(ctx context.Context, jobID string) (*StatsResult, error) {
	path := "/v1/stats"
	if jobID != "" {
		path += "?job_id=" + url.QueryEscape(jobID)
	}

	var res StatsResult
	if err := c.do(ctx, http.MethodGet, path, nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Admit triggers one admission round and returns the jobs moved to
// processing, best-ranked first. Requires an operator token.
func (c *Client) Admit(ctx context.Context) ([]*job.Job, error) {
	var res struct {
		Admitted []*job.Job `json:"admitted"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/admit", nil, &res); err != nil {
		return nil, err
	}
	return res.Admitted, nil
}

// MarkStatus advances a running job to the given progress status.
// Requires an operator token.
func (c *Client) MarkStatus(ctx context.Context, jobID string, status job.Status) (*job.Job, error) {
	req := struct {
		Status string `json:"status"`
	}{Status: string(status)}

	var j job.Job
	if err := c.do(ctx, http.MethodPost, "/v1/jobs/"+url.PathEscape(jobID)+"/status", req, &j); err != nil {
		return nil, err
	}
	return &j, nil
}

// Finish marks a running job completed or failed. The reason is kept
// on failed jobs only. Requires an operator token.
func (c *Client) Finish(ctx context.Context, jobID string, status job.Status, reason string) (*job.Job, error) {
	req := struct {
		Status string `json:"status"`
		Reason string `json:"reason,omitempty"`
	}{Status: string(status), Reason: reason}

	var j job.Job
	if err := c.do(ctx, http.MethodPost, "/v1/jobs/"+url.PathEscape(jobID)+"/finish", req, &j); err != nil {
		return nil, err
	}
	return &j, nil
}

// Health checks that the server is up and its store reachable.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/healthz", nil, nil)
}
