package bunstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/driver/pgdriver"

	"github.com/scribely/tierq"
	"github.com/scribely/tierq/id"
	"github.com/scribely/tierq/job"
	"github.com/scribely/tierq/tier"
)

// CreateJob persists a new waiting job. The tier weight is materialized
// by toJobModel so admission ordering never re-derives it in SQL.
func (s *Store) CreateJob(ctx context.Context, j *job.Job) error {
	m := toJobModel(j)
	_, err := s.db.NewInsert().Model(m).Exec(ctx)
	if err != nil {
		if isDuplicateKey(err) {
			return tierq.ErrJobExists
		}
		return fmt.Errorf("tierq/bun: create job: %w", err)
	}
	return nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	m := new(jobModel)
	err := s.db.NewSelect().Model(m).
		Where("id = ?", jobID.String()).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, tierq.ErrJobNotFound
		}
		return nil, fmt.Errorf("tierq/bun: get job: %w", err)
	}
	return fromJobModel(m)
}

// AdmitJobs atomically claims the best waiting jobs up to capacity and
// marks them running at now. The capacity check and the claim run in
// one transaction under the shared advisory lock, so concurrent calls
// serialize and the running count never exceeds capacity. SKIP LOCKED
// keeps a crashed admitter from blocking the next one.
func (s *Store) AdmitJobs(ctx context.Context, capacity, limit int, now time.Time) ([]*job.Job, error) {
	if capacity <= 0 {
		return nil, nil
	}
	lim := limit
	if lim <= 0 || lim > capacity {
		lim = capacity
	}

	var models []jobModel
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, lockErr := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(?)`, admitLockKey); lockErr != nil {
			return fmt.Errorf("admission lock: %w", lockErr)
		}

		_, rawErr := tx.NewRaw(`
			WITH free AS (
				SELECT GREATEST(?0 - COUNT(*), 0) AS slots
				FROM tierq_jobs
				WHERE picked_at IS NOT NULL AND done = FALSE
			),
			claimed AS (
				SELECT id FROM tierq_jobs
				WHERE picked_at IS NULL AND done = FALSE
				ORDER BY tier_weight DESC, created_at ASC, id ASC
				FOR UPDATE SKIP LOCKED
				LIMIT (SELECT LEAST(slots, ?1) FROM free)
			),
			admitted AS (
				UPDATE tierq_jobs j
				SET picked_at = ?2, status = 'processing', updated_at = ?2
				FROM claimed
				WHERE j.id = claimed.id
				RETURNING j.*
			)
			SELECT * FROM admitted
			ORDER BY tier_weight DESC, created_at ASC, id ASC`,
			capacity, lim, now,
		).Exec(ctx, &models)
		return rawErr
	})
	if err != nil {
		return nil, fmt.Errorf("tierq/bun: admit jobs: %w", err)
	}

	jobs := make([]*job.Job, 0, len(models))
	for i := range models {
		j, convErr := fromJobModel(&models[i])
		if convErr != nil {
			return nil, fmt.Errorf("tierq/bun: admit convert: %w", convErr)
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

// CancelJob marks a not-yet-done job cancelled at now. The done guard
// lives in the WHERE clause, so a terminal record is never rewritten.
func (s *Store) CancelJob(ctx context.Context, jobID id.JobID, now time.Time) (*job.Job, error) {
	m := new(jobModel)
	res, err := s.db.NewUpdate().Model(m).
		Set("status = ?", string(job.StatusCancelled)).
		Set("done = TRUE").
		Set("completed_at = ?", now).
		Set("updated_at = ?", now).
		Where("id = ?", jobID.String()).
		Where("done = FALSE").
		Returning("*").
		Exec(ctx)
	if err != nil {
		return nil, fmt.Errorf("tierq/bun: cancel job: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		return nil, s.explainNoRows(ctx, jobID)
	}
	return fromJobModel(m)
}

// FinishJob records a terminal outcome for a running job at now.
func (s *Store) FinishJob(ctx context.Context, jobID id.JobID, status job.Status, reason string, now time.Time) (*job.Job, error) {
	m := new(jobModel)
	res, err := s.db.NewUpdate().Model(m).
		Set("status = ?", string(status)).
		Set("done = TRUE").
		Set("completed_at = ?", now).
		Set("failure_reason = ?", reason).
		Set("updated_at = ?", now).
		Where("id = ?", jobID.String()).
		Where("done = FALSE").
		Where("picked_at IS NOT NULL").
		Returning("*").
		Exec(ctx)
	if err != nil {
		return nil, fmt.Errorf("tierq/bun: finish job: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		return nil, s.explainNoRows(ctx, jobID)
	}
	return fromJobModel(m)
}

// SetJobStatus updates the progress label of a running job.
func (s *Store) SetJobStatus(ctx context.Context, jobID id.JobID, status job.Status, now time.Time) (*job.Job, error) {
	m := new(jobModel)
	res, err := s.db.NewUpdate().Model(m).
		Set("status = ?", string(status)).
		Set("updated_at = ?", now).
		Where("id = ?", jobID.String()).
		Where("done = FALSE").
		Where("picked_at IS NOT NULL").
		Returning("*").
		Exec(ctx)
	if err != nil {
		return nil, fmt.Errorf("tierq/bun: set job status: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		return nil, s.explainNoRows(ctx, jobID)
	}
	return fromJobModel(m)
}

// explainNoRows re-fetches a job after a conditional update matched
// nothing, to report which guard refused it.
func (s *Store) explainNoRows(ctx context.Context, jobID id.JobID) error {
	j, err := s.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if j.Done {
		return tierq.ErrJobDone
	}
	return tierq.ErrInvalidTransition
}

// CountRunning returns the number of running jobs.
func (s *Store) CountRunning(ctx context.Context) (int, error) {
	count, err := s.db.NewSelect().Model((*jobModel)(nil)).
		Where("picked_at IS NOT NULL AND done = FALSE").
		Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("tierq/bun: count running: %w", err)
	}
	return count, nil
}

// CountWaiting returns the number of waiting jobs.
func (s *Store) CountWaiting(ctx context.Context) (int, error) {
	count, err := s.db.NewSelect().Model((*jobModel)(nil)).
		Where("picked_at IS NULL AND done = FALSE").
		Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("tierq/bun: count waiting: %w", err)
	}
	return count, nil
}

// CountWaitingByTier returns waiting counts keyed by stored tier.
func (s *Store) CountWaitingByTier(ctx context.Context) (map[tier.Tier]int, error) {
	var rows []struct {
		Tier  string `bun:"tier"`
		Count int    `bun:"count"`
	}
	err := s.db.NewSelect().Model((*jobModel)(nil)).
		ColumnExpr("tier").
		ColumnExpr("COUNT(*) AS count").
		Where("picked_at IS NULL AND done = FALSE").
		GroupExpr("tier").
		Scan(ctx, &rows)
	if err != nil {
		return nil, fmt.Errorf("tierq/bun: count waiting by tier: %w", err)
	}

	counts := make(map[tier.Tier]int, len(rows))
	for _, r := range rows {
		counts[tier.Tier(r.Tier)] = r.Count
	}
	return counts, nil
}

// WaitingPosition counts the waiting jobs that strictly outrank rank.
func (s *Store) WaitingPosition(ctx context.Context, rank tier.Rank) (int, error) {
	count, err := s.db.NewSelect().Model((*jobModel)(nil)).
		Where("picked_at IS NULL AND done = FALSE").
		Where(`(tier_weight > ?0
			OR (tier_weight = ?0 AND created_at < ?1)
			OR (tier_weight = ?0 AND created_at = ?1 AND id < ?2))`,
			rank.Tier.Weight(), rank.CreatedAt, rank.JobID.String()).
		Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("tierq/bun: waiting position: %w", err)
	}
	return count, nil
}

// ListJobs returns jobs matching opts, ordered by CreatedAt then ID.
func (s *Store) ListJobs(ctx context.Context, opts job.ListOpts) ([]*job.Job, error) {
	var models []jobModel
	q := s.db.NewSelect().Model(&models)

	if opts.Owner != "" {
		q = q.Where("owner_id = ?", opts.Owner)
	}
	if opts.Status != "" {
		q = q.Where("status = ?", string(opts.Status))
	}
	switch opts.Phase {
	case job.PhaseWaiting:
		q = q.Where("picked_at IS NULL AND done = FALSE")
	case job.PhaseRunning:
		q = q.Where("picked_at IS NOT NULL AND done = FALSE")
	case job.PhaseTerminal:
		q = q.Where("done = TRUE")
	}

	q = q.Order("created_at ASC", "id ASC")

	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("tierq/bun: list jobs: %w", err)
	}

	jobs := make([]*job.Job, 0, len(models))
	for i := range models {
		j, convErr := fromJobModel(&models[i])
		if convErr != nil {
			return nil, fmt.Errorf("tierq/bun: list jobs convert: %w", convErr)
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

// DeleteJob removes a job by ID.
func (s *Store) DeleteJob(ctx context.Context, jobID id.JobID) error {
	res, err := s.db.NewDelete().
		TableExpr("tierq_jobs").
		Where("id = ?", jobID.String()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("tierq/bun: delete job: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		return tierq.ErrJobNotFound
	}
	return nil
}

// isNoRows reports whether err is the database/sql no-rows sentinel.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// isDuplicateKey reports whether err is a unique constraint violation
// (SQLSTATE 23505).
func isDuplicateKey(err error) bool {
	var pgErr pgdriver.Error
	return errors.As(err, &pgErr) && pgErr.Field('C') == "23505"
}
