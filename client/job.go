package client

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/scribely/tierq/job"
	"github.com/scribely/tierq/position"
)

// SubmitRequest is the POST /v1/jobs body.
type SubmitRequest struct {
	Tier     string `json:"tier"`
	Source   string `json:"source"`
	Title    string `json:"title,omitempty"`
	Language string `json:"language,omitempty"`
}

// SubmitOption customizes a job submission.
type SubmitOption func(*SubmitRequest)

// WithTitle sets a human-readable job title.
func WithTitle(title string) SubmitOption {
	return func(r *SubmitRequest) { r.Title = title }
}

// WithLanguage sets the expected audio language.
func WithLanguage(lang string) SubmitOption {
	return func(r *SubmitRequest) { r.Language = lang }
}

// Submit queues a transcription job for the configured user. An
// unrecognized tier is accepted and ranked at the lowest weight.
func (c *Client) Submit(ctx context.Context, tier, source string, opts ...SubmitOption) (*job.Job, error) {
	req := SubmitRequest{Tier: tier, Source: source}
	for _, opt := range opts {
		opt(&req)
	}

	var j job.Job
	if err := c.do(ctx, http.MethodPost, "/v1/jobs", req, &j); err != nil {
		return nil, err
	}
	return &j, nil
}

// Job fetches a job by ID. Users see only their own jobs; operators
// see all.
func (c *Client) Job(ctx context.Context, jobID string) (*job.Job, error) {
	var j job.Job
	if err := c.do(ctx, http.MethodGet, "/v1/jobs/"+url.PathEscape(jobID), nil, &j); err != nil {
		return nil, err
	}
	return &j, nil
}

// Cancel cancels a job. Cancelling an already cancelled job succeeds
// and returns the job unchanged; completed and failed jobs report
// tierq.ErrNotCancellable.
func (c *Client) Cancel(ctx context.Context, jobID string) (*job.Job, error) {
	var j job.Job
	if err := c.do(ctx, http.MethodPost, "/v1/jobs/"+url.PathEscape(jobID)+"/cancel", nil, &j); err != nil {
		return nil, err
	}
	return &j, nil
}

// Position reports a waiting job's place in line and its estimated
// wait. Jobs that are no longer waiting report tierq.ErrNotQueued.
func (c *Client) Position(ctx context.Context, jobID string) (*position.Placement, error) {
	var p position.Placement
	if err := c.do(ctx, http.MethodGet, "/v1/jobs/"+url.PathEscape(jobID)+"/position", nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// ListOptions filter the operator job listing. Zero values leave the
// corresponding filter off.
type ListOptions struct {
	Owner  string
	Status job.Status
	Phase  job.Phase
	Limit  int
	Offset int
}

// Jobs lists jobs ordered by submission time. Requires an operator
// token.
func (c *Client) Jobs(ctx context.Context, opts ListOptions) ([]*job.Job, error) {
	q := url.Values{}
	if opts.Owner != "" {
		q.Set("owner", opts.Owner)
	}
	if opts.Status != "" {
		q.Set("status", string(opts.Status))
	}
	if opts.Phase != "" {
		q.Set("phase", string(opts.Phase))
	}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset > 0 {
		q.Set("offset", strconv.Itoa(opts.Offset))
	}

	path := "/v1/jobs"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var jobs []*job.Job
	if err := c.do(ctx, http.MethodGet, path, nil, &jobs); err != nil {
		return nil, err
	}
	return jobs, nil
}
