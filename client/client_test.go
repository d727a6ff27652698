package client_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/scribely/tierq"
	"github.com/scribely/tierq/api"
	"github.com/scribely/tierq/auth"
	"github.com/scribely/tierq/client"
	"github.com/scribely/tierq/engine"
	"github.com/scribely/tierq/id"
	"github.com/scribely/tierq/job"
	"github.com/scribely/tierq/store/memory"
)

// ── Test Helpers ──────────────────────────────────────

const operatorSecret = "client-test-secret"

var base = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type testEnv struct {
	url      string
	clock    *manualClock
	user     *client.Client
	operator *client.Client
}

// setupClientTest serves the full HTTP API from an httptest server and
// returns a user client and an operator client dialed against it.
func setupClientTest(t *testing.T, capacity int) *testEnv {
	t.Helper()

	clk := &manualClock{now: base}
	q, err := tierq.New(
		tierq.WithStore(memory.New()),
		tierq.WithCapacity(capacity),
		tierq.WithSlotDuration(3*time.Minute),
		tierq.WithClock(clk),
		tierq.WithLogger(testLogger()),
	)
	if err != nil {
		t.Fatalf("tierq.New: %v", err)
	}
	eng, err := engine.Build(q)
	if err != nil {
		t.Fatalf("engine.Build: %v", err)
	}

	a := api.New(eng,
		api.WithOperatorSecret(auth.OperatorSecret(operatorSecret)),
		api.WithLogger(testLogger()),
	)
	ts := httptest.NewServer(a.Handler())
	t.Cleanup(ts.Close)

	return &testEnv{
		url:      ts.URL,
		clock:    clk,
		user:     client.New(ts.URL, client.WithUser("user-1"), client.WithLogger(testLogger())),
		operator: client.New(ts.URL, client.WithOperatorToken(operatorSecret), client.WithLogger(testLogger())),
	}
}

// submit queues a job through the user client, advancing the clock so
// every job gets a distinct submission time.
func (e *testEnv) submit(t *testing.T, tier, source string, opts ...client.SubmitOption) *job.Job {
	t.Helper()
	j, err := e.user.Submit(context.Background(), tier, source, opts...)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	e.clock.advance(time.Second)
	return j
}

// ── Submit Tests ──────────────────────────────────────

func TestClient_Submit(t *testing.T) {
	env := setupClientTest(t, 2)

	j, err := env.user.Submit(context.Background(), "pro", "s3://bucket/episode.mp3",
		client.WithTitle("Episode 12"),
		client.WithLanguage("en"),
	)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	if j.ID.IsNil() {
		t.Error("expected a non-nil job ID")
	}
	if j.OwnerID != "user-1" {
		t.Errorf("owner = %q, want %q", j.OwnerID, "user-1")
	}
	if j.Status != job.StatusQueued {
		t.Errorf("status = %q, want %q", j.Status, job.StatusQueued)
	}
	if j.Title != "Episode 12" || j.Language != "en" {
		t.Errorf("title/language = %q/%q, want Episode 12/en", j.Title, j.Language)
	}
	if !j.CreatedAt.Equal(base) {
		t.Errorf("created_at = %v, want %v", j.CreatedAt, base)
	}
}

func TestClient_Submit_Anonymous(t *testing.T) {
	env := setupClientTest(t, 2)
	anon := client.New(env.url, client.WithLogger(testLogger()))

	_, err := anon.Submit(context.Background(), "free", "s3://bucket/a.mp3")
	if !errors.Is(err, tierq.ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}

	var apiErr *client.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %T, want *client.APIError", err)
	}
	if apiErr.Status != 401 {
		t.Errorf("status = %d, want 401", apiErr.Status)
	}
}

func TestClient_Submit_MissingSource(t *testing.T) {
	env := setupClientTest(t, 2)

	_, err := env.user.Submit(context.Background(), "free", "")
	var apiErr *client.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *client.APIError", err)
	}
	if apiErr.Status != 400 || apiErr.Code != "bad_request" {
		t.Errorf("status/code = %d/%q, want 400/bad_request", apiErr.Status, apiErr.Code)
	}
}

// ── Job Tests ─────────────────────────────────────────

func TestClient_Job(t *testing.T) {
	env := setupClientTest(t, 2)
	submitted := env.submit(t, "basic", "s3://bucket/a.mp3")

	j, err := env.user.Job(context.Background(), submitted.ID.String())
	if err != nil {
		t.Fatalf("Job: %v", err)
	}
	if j.ID != submitted.ID {
		t.Errorf("id = %s, want %s", j.ID, submitted.ID)
	}
}

func TestClient_Job_NotFound(t *testing.T) {
	env := setupClientTest(t, 2)

	_, err := env.user.Job(context.Background(), id.NewJobID().String())
	if !errors.Is(err, tierq.ErrJobNotFound) {
		t.Fatalf("err = %v, want ErrJobNotFound", err)
	}
}

func TestClient_Job_StrangerForbidden(t *testing.T) {
	env := setupClientTest(t, 2)
	submitted := env.submit(t, "basic", "s3://bucket/a.mp3")

	stranger := client.New(env.url, client.WithUser("user-2"), client.WithLogger(testLogger()))
	_, err := stranger.Job(context.Background(), submitted.ID.String())
	if !errors.Is(err, tierq.ErrForbidden) {
		t.Fatalf("err = %v, want ErrForbidden", err)
	}
}

// ── Cancel Tests ──────────────────────────────────────

func TestClient_Cancel(t *testing.T) {
	env := setupClientTest(t, 2)
	submitted := env.submit(t, "free", "s3://bucket/a.mp3")

	j, err := env.user.Cancel(context.Background(), submitted.ID.String())
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if j.Status != job.StatusCancelled || !j.Done {
		t.Errorf("status/done = %q/%v, want cancelled/true", j.Status, j.Done)
	}

	// Cancelling a cancelled job succeeds.
	again, err := env.user.Cancel(context.Background(), submitted.ID.String())
	if err != nil {
		t.Fatalf("Cancel again: %v", err)
	}
	if again.Status != job.StatusCancelled {
		t.Errorf("status = %q, want cancelled", again.Status)
	}
}

func TestClient_Cancel_CompletedConflict(t *testing.T) {
	env := setupClientTest(t, 2)
	submitted := env.submit(t, "free", "s3://bucket/a.mp3")
	ctx := context.Background()

	if _, err := env.operator.Admit(ctx); err != nil {
		t.Fatalf("Admit: %v", err)
	}
	if _, err := env.operator.Finish(ctx, submitted.ID.String(), job.StatusCompleted, ""); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	_, err := env.user.Cancel(ctx, submitted.ID.String())
	if !errors.Is(err, tierq.ErrNotCancellable) {
		t.Fatalf("err = %v, want ErrNotCancellable", err)
	}
}

// ── Admission and Position Tests ──────────────────────

func TestClient_AdmitAndPosition(t *testing.T) {
	env := setupClientTest(t, 2)
	ctx := context.Background()

	a := env.submit(t, "free", "s3://bucket/a.mp3")
	env.submit(t, "basic", "s3://bucket/b.mp3")
	c := env.submit(t, "pro", "s3://bucket/c.mp3")
	d := env.submit(t, "free", "s3://bucket/d.mp3")

	admitted, err := env.operator.Admit(ctx)
	if err != nil {
		t.Fatalf("Admit: %v", err)
	}
	if len(admitted) != 2 {
		t.Fatalf("admitted %d jobs, want 2", len(admitted))
	}
	if admitted[0].ID != c.ID {
		t.Errorf("first admitted = %s, want the pro job %s", admitted[0].ID, c.ID)
	}

	pa, err := env.user.Position(ctx, a.ID.String())
	if err != nil {
		t.Fatalf("Position(a): %v", err)
	}
	if pa.Position != 0 || pa.EstimatedWait != 0 {
		t.Errorf("a position/wait = %d/%s, want 0/0s", pa.Position, pa.EstimatedWait)
	}

	pd, err := env.user.Position(ctx, d.ID.String())
	if err != nil {
		t.Fatalf("Position(d): %v", err)
	}
	if pd.Position != 1 {
		t.Errorf("d position = %d, want 1", pd.Position)
	}
	if pd.EstimatedWait != 3*time.Minute {
		t.Errorf("d wait = %s, want 3m", pd.EstimatedWait)
	}
	if pd.Running != 2 || pd.Capacity != 2 {
		t.Errorf("d running/capacity = %d/%d, want 2/2", pd.Running, pd.Capacity)
	}
}

func TestClient_Position_RunningConflict(t *testing.T) {
	env := setupClientTest(t, 2)
	submitted := env.submit(t, "pro", "s3://bucket/a.mp3")
	ctx := context.Background()

	if _, err := env.operator.Admit(ctx); err != nil {
		t.Fatalf("Admit: %v", err)
	}

	_, err := env.user.Position(ctx, submitted.ID.String())
	if !errors.Is(err, tierq.ErrNotQueued) {
		t.Fatalf("err = %v, want ErrNotQueued", err)
	}
}

func TestClient_Admit_RequiresOperator(t *testing.T) {
	env := setupClientTest(t, 2)

	_, err := env.user.Admit(context.Background())
	if !errors.Is(err, tierq.ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
}

// ── Worker Flow Tests ─────────────────────────────────

func TestClient_MarkStatusAndFinish(t *testing.T) {
	env := setupClientTest(t, 2)
	submitted := env.submit(t, "premium", "s3://bucket/a.mp3")
	ctx := context.Background()

	if _, err := env.operator.Admit(ctx); err != nil {
		t.Fatalf("Admit: %v", err)
	}

	j, err := env.operator.MarkStatus(ctx, submitted.ID.String(), job.StatusTranscribing)
	if err != nil {
		t.Fatalf("MarkStatus: %v", err)
	}
	if j.Status != job.StatusTranscribing {
		t.Errorf("status = %q, want transcribing", j.Status)
	}

	done, err := env.operator.Finish(ctx, submitted.ID.String(), job.StatusCompleted, "")
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if done.Status != job.StatusCompleted || !done.Done {
		t.Errorf("status/done = %q/%v, want completed/true", done.Status, done.Done)
	}
	if done.CompletedAt == nil {
		t.Error("expected completed_at to be set")
	}
}

func TestClient_Finish_FailedKeepsReason(t *testing.T) {
	env := setupClientTest(t, 2)
	submitted := env.submit(t, "free", "s3://bucket/a.mp3")
	ctx := context.Background()

	if _, err := env.operator.Admit(ctx); err != nil {
		t.Fatalf("Admit: %v", err)
	}

	j, err := env.operator.Finish(ctx, submitted.ID.String(), job.StatusFailed, "audio stream truncated")
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if j.Status != job.StatusFailed {
		t.Errorf("status = %q, want failed", j.Status)
	}
	if j.FailureReason != "audio stream truncated" {
		t.Errorf("reason = %q, want the submitted reason", j.FailureReason)
	}
}

// ── Stats Tests ───────────────────────────────────────

func TestClient_Stats(t *testing.T) {
	env := setupClientTest(t, 2)
	ctx := context.Background()

	env.submit(t, "pro", "s3://bucket/a.mp3")
	env.submit(t, "free", "s3://bucket/b.mp3")
	env.submit(t, "free", "s3://bucket/c.mp3")
	if _, err := env.operator.Admit(ctx); err != nil {
		t.Fatalf("Admit: %v", err)
	}

	res, err := env.operator.Stats(ctx, "")
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if res.Capacity != 2 || res.Running != 2 || res.Waiting != 1 {
		t.Errorf("capacity/running/waiting = %d/%d/%d, want 2/2/1",
			res.Capacity, res.Running, res.Waiting)
	}
	if res.Placement != nil {
		t.Error("expected no placement without job_id")
	}
}

func TestClient_Stats_WithPlacement(t *testing.T) {
	env := setupClientTest(t, 2)
	waiting := env.submit(t, "free", "s3://bucket/a.mp3")

	res, err := env.operator.Stats(context.Background(), waiting.ID.String())
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if res.Placement == nil {
		t.Fatal("expected a placement for the waiting job")
	}
	if res.Placement.Position != 0 {
		t.Errorf("position = %d, want 0", res.Placement.Position)
	}
}

func TestClient_Stats_RequiresOperator(t *testing.T) {
	env := setupClientTest(t, 2)

	_, err := env.user.Stats(context.Background(), "")
	if !errors.Is(err, tierq.ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
}

// ── Listing Tests ─────────────────────────────────────

func TestClient_Jobs_FilterByOwner(t *testing.T) {
	env := setupClientTest(t, 2)
	env.submit(t, "free", "s3://bucket/a.mp3")
	env.submit(t, "pro", "s3://bucket/b.mp3")

	other := client.New(env.url, client.WithUser("user-2"), client.WithLogger(testLogger()))
	if _, err := other.Submit(context.Background(), "basic", "s3://bucket/x.mp3"); err != nil {
		t.Fatalf("Submit as user-2: %v", err)
	}

	jobs, err := env.operator.Jobs(context.Background(), client.ListOptions{Owner: "user-1"})
	if err != nil {
		t.Fatalf("Jobs: %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("listed %d jobs, want 2", len(jobs))
	}
	for _, j := range jobs {
		if j.OwnerID != "user-1" {
			t.Errorf("owner = %q, want user-1", j.OwnerID)
		}
	}
}

// ── Health and Context Tests ──────────────────────────

func TestClient_Health(t *testing.T) {
	env := setupClientTest(t, 2)
	anon := client.New(env.url, client.WithLogger(testLogger()))

	if err := anon.Health(context.Background()); err != nil {
		t.Fatalf("Health: %v", err)
	}
}

func TestClient_ContextCancelled(t *testing.T) {
	env := setupClientTest(t, 2)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := env.user.Submit(ctx, "free", "s3://bucket/a.mp3")
	if err == nil {
		t.Fatal("expected error from cancelled context")
	}
}
