package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/scribely/tierq"
	"github.com/scribely/tierq/id"
	"github.com/scribely/tierq/job"
	"github.com/scribely/tierq/tier"
)

// CreateJob stores the job as a Hash and, when waiting, adds it to the
// waiting Sorted Set under its rank score.
func (s *Store) CreateJob(ctx context.Context, j *job.Job) error {
	jID := j.ID.String()
	key := jobKey(jID)

	// Check for duplicate.
	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("tierq/redis: create check exists: %w", err)
	}
	if exists > 0 {
		return tierq.ErrJobExists
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, jobToMap(j))
	pipe.SAdd(ctx, jobIDsKey, jID)
	switch j.Phase() {
	case job.PhaseWaiting:
		pipe.ZAdd(ctx, waitingKey, goredis.Z{Score: rankScore(j.Tier, j.CreatedAt), Member: jID})
	case job.PhaseRunning:
		pipe.SAdd(ctx, runningKey, jID)
	}
	if _, err = pipe.Exec(ctx); err != nil {
		return fmt.Errorf("tierq/redis: create job: %w", err)
	}
	return nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	return s.getJobByKey(ctx, jobKey(jobID.String()))
}

// AdmitJobs atomically claims the best waiting jobs up to capacity and
// marks them running at now. The whole claim is one Lua script, so the
// running count cannot drift between the capacity check and the moves.
func (s *Store) AdmitJobs(ctx context.Context, capacity, limit int, now time.Time) ([]*job.Job, error) {
	if capacity <= 0 {
		return nil, nil
	}

	ids, err := admitScript.Run(ctx, s.client,
		[]string{waitingKey, runningKey},
		capacity, limit, now.UTC().Format(time.RFC3339Nano),
		string(job.StatusProcessing), jobKeyPrefix,
	).StringSlice()
	if err != nil {
		return nil, fmt.Errorf("tierq/redis: admit jobs: %w", err)
	}

	jobs := make([]*job.Job, 0, len(ids))
	for _, jID := range ids {
		j, getErr := s.getJobByKey(ctx, jobKey(jID))
		if getErr != nil {
			return nil, getErr
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

// CancelJob marks a not-yet-done job cancelled at now. The done guard
// runs inside the script, so a terminal record is never rewritten.
func (s *Store) CancelJob(ctx context.Context, jobID id.JobID, now time.Time) (*job.Job, error) {
	jID := jobID.String()
	err := s.runConditional(ctx, "cancel job", cancelScript,
		[]string{jobKey(jID), waitingKey, runningKey},
		jID, now.UTC().Format(time.RFC3339Nano), string(job.StatusCancelled),
	)
	if err != nil {
		return nil, err
	}
	return s.GetJob(ctx, jobID)
}

// FinishJob records a terminal outcome for a running job at now.
func (s *Store) FinishJob(ctx context.Context, jobID id.JobID, status job.Status, reason string, now time.Time) (*job.Job, error) {
	jID := jobID.String()
	err := s.runConditional(ctx, "finish job", finishScript,
		[]string{jobKey(jID), runningKey},
		jID, string(status), reason, now.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, err
	}
	return s.GetJob(ctx, jobID)
}

// SetJobStatus updates the progress label of a running job.
func (s *Store) SetJobStatus(ctx context.Context, jobID id.JobID, status job.Status, now time.Time) (*job.Job, error) {
	jID := jobID.String()
	err := s.runConditional(ctx, "set job status", statusScript,
		[]string{jobKey(jID)},
		string(status), now.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, err
	}
	return s.GetJob(ctx, jobID)
}

// runConditional executes a guarded lifecycle script and maps its
// result marker onto the error taxonomy.
func (s *Store) runConditional(ctx context.Context, op string, script *goredis.Script, keys []string, args ...interface{}) error {
	res, err := script.Run(ctx, s.client, keys, args...).Text()
	if err != nil {
		return fmt.Errorf("tierq/redis: %s: %w", op, err)
	}
	switch res {
	case resultOK:
		return nil
	case resultMissing:
		return tierq.ErrJobNotFound
	case resultDone:
		return tierq.ErrJobDone
	case resultWrongPhase:
		return tierq.ErrInvalidTransition
	default:
		return fmt.Errorf("tierq/redis: %s: unexpected script result %q", op, res)
	}
}

// CountRunning returns the number of running jobs.
func (s *Store) CountRunning(ctx context.Context) (int, error) {
	n, err := s.client.SCard(ctx, runningKey).Result()
	if err != nil {
		return 0, fmt.Errorf("tierq/redis: count running: %w", err)
	}
	return int(n), nil
}

// CountWaiting returns the number of waiting jobs.
func (s *Store) CountWaiting(ctx context.Context) (int, error) {
	n, err := s.client.ZCard(ctx, waitingKey).Result()
	if err != nil {
		return 0, fmt.Errorf("tierq/redis: count waiting: %w", err)
	}
	return int(n), nil
}

// CountWaitingByTier returns waiting counts keyed by stored tier.
func (s *Store) CountWaitingByTier(ctx context.Context) (map[tier.Tier]int, error) {
	ids, err := s.client.ZRange(ctx, waitingKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("tierq/redis: count waiting by tier: %w", err)
	}

	counts := make(map[tier.Tier]int)
	if len(ids) == 0 {
		return counts, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*goredis.StringCmd, len(ids))
	for i, jID := range ids {
		cmds[i] = pipe.HGet(ctx, jobKey(jID), "tier")
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, goredis.Nil) {
		return nil, fmt.Errorf("tierq/redis: count waiting by tier: %w", err)
	}
	for _, cmd := range cmds {
		t, hErr := cmd.Result()
		if hErr != nil {
			continue // deleted between the range and the reads
		}
		counts[tier.Tier(t)]++
	}
	return counts, nil
}

// WaitingPosition counts the waiting jobs that strictly outrank rank.
func (s *Store) WaitingPosition(ctx context.Context, rank tier.Rank) (int, error) {
	member := rank.JobID.String()

	// The waiting set sorts exactly by rank, so for a queued job ZRANK
	// already is the number of members ahead of it.
	pos, err := s.client.ZRank(ctx, waitingKey, member).Result()
	if err == nil {
		return int(pos), nil
	}
	if !errors.Is(err, goredis.Nil) {
		return 0, fmt.Errorf("tierq/redis: waiting position: %w", err)
	}

	// Not queued here; count the members that would sort ahead of rank.
	scoreStr := strconv.FormatFloat(rankScore(rank.Tier, rank.CreatedAt), 'f', -1, 64)
	ahead, err := s.client.ZCount(ctx, waitingKey, "-inf", "("+scoreStr).Result()
	if err != nil {
		return 0, fmt.Errorf("tierq/redis: waiting position zcount: %w", err)
	}
	peers, err := s.client.ZRangeByScore(ctx, waitingKey, &goredis.ZRangeBy{Min: scoreStr, Max: scoreStr}).Result()
	if err != nil {
		return 0, fmt.Errorf("tierq/redis: waiting position peers: %w", err)
	}
	for _, m := range peers {
		if m < member {
			ahead++
		}
	}
	return int(ahead), nil
}

// ListJobs returns jobs matching opts, ordered by CreatedAt then ID.
func (s *Store) ListJobs(ctx context.Context, opts job.ListOpts) ([]*job.Job, error) {
	ids, err := s.client.SMembers(ctx, jobIDsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("tierq/redis: list jobs smembers: %w", err)
	}

	jobs := make([]*job.Job, 0, len(ids))
	for _, jID := range ids {
		j, getErr := s.getJobByKey(ctx, jobKey(jID))
		if getErr != nil {
			continue // deleted between enumeration and read
		}
		if opts.Owner != "" && j.OwnerID != opts.Owner {
			continue
		}
		if opts.Status != "" && j.Status != opts.Status {
			continue
		}
		if opts.Phase != "" && j.Phase() != opts.Phase {
			continue
		}
		jobs = append(jobs, j)
	}

	sort.Slice(jobs, func(i, k int) bool {
		if !jobs[i].CreatedAt.Equal(jobs[k].CreatedAt) {
			return jobs[i].CreatedAt.Before(jobs[k].CreatedAt)
		}
		return jobs[i].ID.String() < jobs[k].ID.String()
	})

	// Apply offset/limit.
	if opts.Offset >= len(jobs) && opts.Offset > 0 {
		return nil, nil
	}
	if opts.Offset > 0 {
		jobs = jobs[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(jobs) {
		jobs = jobs[:opts.Limit]
	}
	return jobs, nil
}

// DeleteJob removes a job by ID.
func (s *Store) DeleteJob(ctx context.Context, jobID id.JobID) error {
	jID := jobID.String()
	key := jobKey(jID)

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("tierq/redis: delete check exists: %w", err)
	}
	if exists == 0 {
		return tierq.ErrJobNotFound
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.SRem(ctx, jobIDsKey, jID)
	pipe.ZRem(ctx, waitingKey, jID)
	pipe.SRem(ctx, runningKey, jID)
	if _, err = pipe.Exec(ctx); err != nil {
		return fmt.Errorf("tierq/redis: delete job: %w", err)
	}
	return nil
}

// ── helpers ──

// weightBand separates tier weights in the waiting-set score. Scores
// stay exact in float64: two bands plus a unix-millisecond stamp is
// far below 2^53.
const weightBand = int64(1) << 50

// rankScore maps a rank onto its waiting-set score. Lower scores are
// admitted first, so the weight is inverted. Members at equal scores
// order lexicographically, and job IDs are K-sortable, so arrival
// order still decides within one millisecond.
func rankScore(t tier.Tier, createdAt time.Time) float64 {
	return float64(int64(tier.MaxWeight-t.Weight())*weightBand + createdAt.UTC().UnixMilli())
}

func jobToMap(j *job.Job) map[string]interface{} {
	m := map[string]interface{}{
		"id":             j.ID.String(),
		"owner_id":       j.OwnerID,
		"tier":           string(j.Tier),
		"source":         j.Source,
		"title":          j.Title,
		"language":       j.Language,
		"status":         string(j.Status),
		"done":           strconv.FormatBool(j.Done),
		"failure_reason": j.FailureReason,
		"created_at":     j.CreatedAt.Format(time.RFC3339Nano),
		"updated_at":     j.UpdatedAt.Format(time.RFC3339Nano),
	}
	if j.PickedAt != nil {
		m["picked_at"] = j.PickedAt.Format(time.RFC3339Nano)
	}
	if j.CompletedAt != nil {
		m["completed_at"] = j.CompletedAt.Format(time.RFC3339Nano)
	}
	return m
}

func (s *Store) getJobByKey(ctx context.Context, key string) (*job.Job, error) {
	vals, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("tierq/redis: get job: %w", err)
	}
	if len(vals) == 0 {
		return nil, tierq.ErrJobNotFound
	}
	return mapToJob(vals)
}

func mapToJob(m map[string]string) (*job.Job, error) {
	jID, err := id.ParseJobID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("tierq/redis: parse job id: %w", err)
	}

	done, _ := strconv.ParseBool(m["done"])                       //nolint:errcheck // best-effort parse from trusted Redis data
	createdAt, _ := time.Parse(time.RFC3339Nano, m["created_at"]) //nolint:errcheck // best-effort parse from trusted Redis data
	updatedAt, _ := time.Parse(time.RFC3339Nano, m["updated_at"]) //nolint:errcheck // best-effort parse from trusted Redis data

	j := &job.Job{
		Entity: tierq.Entity{
			CreatedAt: createdAt,
			UpdatedAt: updatedAt,
		},
		ID:            jID,
		OwnerID:       m["owner_id"],
		Tier:          tier.Tier(m["tier"]),
		Source:        m["source"],
		Title:         m["title"],
		Language:      m["language"],
		Status:        job.Status(m["status"]),
		Done:          done,
		FailureReason: m["failure_reason"],
	}

	if v := m["picked_at"]; v != "" {
		t, _ := time.Parse(time.RFC3339Nano, v) //nolint:errcheck // best-effort parse from trusted Redis data
		j.PickedAt = &t
	}
	if v := m["completed_at"]; v != "" {
		t, _ := time.Parse(time.RFC3339Nano, v) //nolint:errcheck // best-effort parse from trusted Redis data
		j.CompletedAt = &t
	}

	return j, nil
}
