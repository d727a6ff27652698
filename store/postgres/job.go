package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/scribely/tierq"
	"github.com/scribely/tierq/id"
	"github.com/scribely/tierq/job"
	"github.com/scribely/tierq/tier"
)

// jobColumns is the scan column list shared by every job query.
// tier_weight is a materialized ordering key, not a scanned field.
const jobColumns = `
	id, owner_id, tier, source, title, language, status,
	picked_at, done, completed_at, failure_reason, created_at, updated_at`

// CreateJob persists a new waiting job. The tier weight is materialized
// at insert so admission ordering never re-derives it in SQL.
func (s *Store) CreateJob(ctx context.Context, j *job.Job) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO tierq_jobs (
			id, owner_id, tier, tier_weight, source, title, language, status,
			picked_at, done, completed_at, failure_reason, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8,
			$9, $10, $11, $12, $13, $14
		)`,
		j.ID.String(), j.OwnerID, string(j.Tier), j.Tier.Weight(),
		j.Source, j.Title, j.Language, string(j.Status),
		j.PickedAt, j.Done, j.CompletedAt, j.FailureReason,
		j.CreatedAt, j.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return tierq.ErrJobExists
		}
		return fmt.Errorf("tierq/postgres: create job: %w", err)
	}
	return nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM tierq_jobs WHERE id = $1`,
		jobID.String(),
	)

	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, tierq.ErrJobNotFound
		}
		return nil, fmt.Errorf("tierq/postgres: get job: %w", err)
	}
	return j, nil
}

// AdmitJobs atomically claims the best waiting jobs up to capacity and
// marks them running at now. The capacity check and the claim run in
// one transaction under a shared advisory lock, so concurrent calls
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

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("tierq/postgres: begin admit: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, admitLockKey); err != nil {
		return nil, fmt.Errorf("tierq/postgres: admission lock: %w", err)
	}

	rows, err := tx.Query(ctx, `
		WITH free AS (
			SELECT GREATEST($1 - COUNT(*), 0) AS slots
			FROM tierq_jobs
			WHERE picked_at IS NOT NULL AND done = FALSE
		),
		claimed AS (
			SELECT id FROM tierq_jobs
			WHERE picked_at IS NULL AND done = FALSE
			ORDER BY tier_weight DESC, created_at ASC, id ASC
			FOR UPDATE SKIP LOCKED
			LIMIT (SELECT LEAST(slots, $2::bigint) FROM free)
		),
		admitted AS (
			UPDATE tierq_jobs j
			SET picked_at = $3, status = 'processing', updated_at = $3
			FROM claimed
			WHERE j.id = claimed.id
			RETURNING j.*
		)
		SELECT `+jobColumns+`
		FROM admitted
		ORDER BY tier_weight DESC, created_at ASC, id ASC`,
		capacity, lim, now,
	)
	if err != nil {
		return nil, fmt.Errorf("tierq/postgres: admit jobs: %w", err)
	}

	jobs, err := collectJobs(rows)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("tierq/postgres: commit admit: %w", err)
	}
	return jobs, nil
}

// CancelJob marks a not-yet-done job cancelled at now. The done guard
// lives in the WHERE clause, so a terminal record is never rewritten.
func (s *Store) CancelJob(ctx context.Context, jobID id.JobID, now time.Time) (*job.Job, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE tierq_jobs
		SET status = 'cancelled', done = TRUE, completed_at = $2, updated_at = $2
		WHERE id = $1 AND done = FALSE
		RETURNING `+jobColumns,
		jobID.String(), now,
	)

	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, s.explainNoRows(ctx, jobID)
		}
		return nil, fmt.Errorf("tierq/postgres: cancel job: %w", err)
	}
	return j, nil
}

// FinishJob records a terminal outcome for a running job at now.
func (s *Store) FinishJob(ctx context.Context, jobID id.JobID, status job.Status, reason string, now time.Time) (*job.Job, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE tierq_jobs
		SET status = $2, done = TRUE, completed_at = $3, failure_reason = $4, updated_at = $3
		WHERE id = $1 AND done = FALSE AND picked_at IS NOT NULL
		RETURNING `+jobColumns,
		jobID.String(), string(status), now, reason,
	)

	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, s.explainNoRows(ctx, jobID)
		}
		return nil, fmt.Errorf("tierq/postgres: finish job: %w", err)
	}
	return j, nil
}

// SetJobStatus updates the progress label of a running job.
func (s *Store) SetJobStatus(ctx context.Context, jobID id.JobID, status job.Status, now time.Time) (*job.Job, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE tierq_jobs
		SET status = $2, updated_at = $3
		WHERE id = $1 AND done = FALSE AND picked_at IS NOT NULL
		RETURNING `+jobColumns,
		jobID.String(), string(status), now,
	)

	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, s.explainNoRows(ctx, jobID)
		}
		return nil, fmt.Errorf("tierq/postgres: set job status: %w", err)
	}
	return j, nil
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
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM tierq_jobs WHERE picked_at IS NOT NULL AND done = FALSE`,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("tierq/postgres: count running: %w", err)
	}
	return count, nil
}

// CountWaiting returns the number of waiting jobs.
func (s *Store) CountWaiting(ctx context.Context) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM tierq_jobs WHERE picked_at IS NULL AND done = FALSE`,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("tierq/postgres: count waiting: %w", err)
	}
	return count, nil
}

// CountWaitingByTier returns waiting counts keyed by stored tier.
func (s *Store) CountWaitingByTier(ctx context.Context) (map[tier.Tier]int, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT tier, COUNT(*)
		FROM tierq_jobs
		WHERE picked_at IS NULL AND done = FALSE
		GROUP BY tier`,
	)
	if err != nil {
		return nil, fmt.Errorf("tierq/postgres: count waiting by tier: %w", err)
	}
	defer rows.Close()

	counts := make(map[tier.Tier]int)
	for rows.Next() {
		var (
			t string
			n int
		)
		if err := rows.Scan(&t, &n); err != nil {
			return nil, fmt.Errorf("tierq/postgres: scan tier count: %w", err)
		}
		counts[tier.Tier(t)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("tierq/postgres: iterate tier counts: %w", err)
	}
	return counts, nil
}

// WaitingPosition counts the waiting jobs that strictly outrank rank.
func (s *Store) WaitingPosition(ctx context.Context, rank tier.Rank) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM tierq_jobs
		WHERE picked_at IS NULL AND done = FALSE
		  AND (tier_weight > $1
		       OR (tier_weight = $1 AND created_at < $2)
		       OR (tier_weight = $1 AND created_at = $2 AND id < $3))`,
		rank.Tier.Weight(), rank.CreatedAt, rank.JobID.String(),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("tierq/postgres: waiting position: %w", err)
	}
	return count, nil
}

// ListJobs returns jobs matching opts, ordered by CreatedAt then ID.
func (s *Store) ListJobs(ctx context.Context, opts job.ListOpts) ([]*job.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM tierq_jobs WHERE 1=1`
	args := []interface{}{}
	argIdx := 1

	if opts.Owner != "" {
		query += fmt.Sprintf(" AND owner_id = $%d", argIdx)
		args = append(args, opts.Owner)
		argIdx++
	}
	if opts.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, string(opts.Status))
		argIdx++
	}
	if pred := phasePredicate(opts.Phase); pred != "" {
		query += " AND " + pred
	}

	query += " ORDER BY created_at ASC, id ASC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("tierq/postgres: list jobs: %w", err)
	}
	return collectJobs(rows)
}

// DeleteJob removes a job by ID.
func (s *Store) DeleteJob(ctx context.Context, jobID id.JobID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM tierq_jobs WHERE id = $1`, jobID.String())
	if err != nil {
		return fmt.Errorf("tierq/postgres: delete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return tierq.ErrJobNotFound
	}
	return nil
}

// phasePredicate translates a derived phase into its (picked_at, done)
// SQL guard. Empty phase means no filter.
func phasePredicate(p job.Phase) string {
	switch p {
	case job.PhaseWaiting:
		return "picked_at IS NULL AND done = FALSE"
	case job.PhaseRunning:
		return "picked_at IS NOT NULL AND done = FALSE"
	case job.PhaseTerminal:
		return "done = TRUE"
	default:
		return ""
	}
}

// scanJob scans a single job row.
func scanJob(row pgx.Row) (*job.Job, error) {
	var (
		j         job.Job
		idStr     string
		tierStr   string
		statusStr string
	)
	err := row.Scan(
		&idStr, &j.OwnerID, &tierStr, &j.Source, &j.Title, &j.Language, &statusStr,
		&j.PickedAt, &j.Done, &j.CompletedAt, &j.FailureReason,
		&j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	j.Tier = tier.Tier(tierStr)
	j.Status = job.Status(statusStr)

	parsedID, parseErr := id.ParseJobID(idStr)
	if parseErr != nil {
		return nil, fmt.Errorf("tierq/postgres: parse job id %q: %w", idStr, parseErr)
	}
	j.ID = parsedID

	return &j, nil
}

// collectJobs collects all jobs from query rows.
func collectJobs(rows pgx.Rows) ([]*job.Job, error) {
	defer rows.Close()

	var jobs []*job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("tierq/postgres: scan job row: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("tierq/postgres: iterate job rows: %w", err)
	}
	return jobs, nil
}

// isNoRows reports whether err is either driver's no-rows sentinel.
func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows) || errors.Is(err, sql.ErrNoRows)
}

// isDuplicateKey reports whether err is a unique constraint violation
// (SQLSTATE 23505).
func isDuplicateKey(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
