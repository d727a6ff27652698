package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

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
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tierq_jobs (
			id, owner_id, tier, tier_weight, source, title, language, status,
			picked_at, done, completed_at, failure_reason, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.ID.String(), j.OwnerID, string(j.Tier), j.Tier.Weight(),
		j.Source, j.Title, j.Language, string(j.Status),
		nullNanos(j.PickedAt), j.Done, nullNanos(j.CompletedAt), j.FailureReason,
		nanos(j.CreatedAt), nanos(j.UpdatedAt),
	)
	if err != nil {
		if isDuplicateKey(err) {
			return tierq.ErrJobExists
		}
		return fmt.Errorf("tierq/sqlite: create job: %w", err)
	}
	return nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM tierq_jobs WHERE id = ?`,
		jobID.String(),
	)

	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, tierq.ErrJobNotFound
		}
		return nil, fmt.Errorf("tierq/sqlite: get job: %w", err)
	}
	return j, nil
}

// AdmitJobs atomically claims the best waiting jobs up to capacity and
// marks them running at now. The transaction begins immediate, so it
// holds SQLite's write lock for its whole span: concurrent admitters
// queue behind it and the running count cannot shift between the
// capacity check and the claim.
func (s *Store) AdmitJobs(ctx context.Context, capacity, limit int, now time.Time) ([]*job.Job, error) {
	if capacity <= 0 {
		return nil, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("tierq/sqlite: begin admit: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	var running int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM tierq_jobs WHERE picked_at IS NOT NULL AND done = 0`,
	).Scan(&running)
	if err != nil {
		return nil, fmt.Errorf("tierq/sqlite: count running: %w", err)
	}

	free := capacity - running
	if limit > 0 && limit < free {
		free = limit
	}
	if free <= 0 {
		return nil, nil
	}

	idRows, err := tx.QueryContext(ctx, `
		SELECT id FROM tierq_jobs
		WHERE picked_at IS NULL AND done = 0
		ORDER BY tier_weight DESC, created_at ASC, id ASC
		LIMIT ?`,
		free,
	)
	if err != nil {
		return nil, fmt.Errorf("tierq/sqlite: select waiting: %w", err)
	}
	ids, err := collectIDs(idRows)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	idArgs := make([]interface{}, len(ids))
	for i, jid := range ids {
		idArgs[i] = jid
	}

	args := append([]interface{}{nanos(now), nanos(now)}, idArgs...)
	_, err = tx.ExecContext(ctx, `
		UPDATE tierq_jobs
		SET picked_at = ?, status = 'processing', updated_at = ?
		WHERE id IN (`+placeholders(len(ids))+`)`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("tierq/sqlite: mark running: %w", err)
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT `+jobColumns+`
		FROM tierq_jobs
		WHERE id IN (`+placeholders(len(ids))+`)
		ORDER BY tier_weight DESC, created_at ASC, id ASC`,
		idArgs...,
	)
	if err != nil {
		return nil, fmt.Errorf("tierq/sqlite: load admitted: %w", err)
	}
	jobs, err := collectJobs(rows)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("tierq/sqlite: commit admit: %w", err)
	}
	return jobs, nil
}

// CancelJob marks a not-yet-done job cancelled at now. The done guard
// lives in the WHERE clause, so a terminal record is never rewritten.
func (s *Store) CancelJob(ctx context.Context, jobID id.JobID, now time.Time) (*job.Job, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tierq_jobs
		SET status = 'cancelled', done = 1, completed_at = ?, updated_at = ?
		WHERE id = ? AND done = 0`,
		nanos(now), nanos(now), jobID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("tierq/sqlite: cancel job: %w", err)
	}
	return s.updatedOrExplain(ctx, res, jobID, "cancel job")
}

// FinishJob records a terminal outcome for a running job at now.
func (s *Store) FinishJob(ctx context.Context, jobID id.JobID, status job.Status, reason string, now time.Time) (*job.Job, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tierq_jobs
		SET status = ?, done = 1, completed_at = ?, failure_reason = ?, updated_at = ?
		WHERE id = ? AND done = 0 AND picked_at IS NOT NULL`,
		string(status), nanos(now), reason, nanos(now), jobID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("tierq/sqlite: finish job: %w", err)
	}
	return s.updatedOrExplain(ctx, res, jobID, "finish job")
}

// SetJobStatus updates the progress label of a running job.
func (s *Store) SetJobStatus(ctx context.Context, jobID id.JobID, status job.Status, now time.Time) (*job.Job, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tierq_jobs
		SET status = ?, updated_at = ?
		WHERE id = ? AND done = 0 AND picked_at IS NOT NULL`,
		string(status), nanos(now), jobID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("tierq/sqlite: set job status: %w", err)
	}
	return s.updatedOrExplain(ctx, res, jobID, "set job status")
}

// updatedOrExplain returns the refreshed job after a conditional update,
// or classifies why the update matched nothing.
func (s *Store) updatedOrExplain(ctx context.Context, res sql.Result, jobID id.JobID, op string) (*job.Job, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("tierq/sqlite: %s: %w", op, err)
	}
	if n == 0 {
		return nil, s.explainNoRows(ctx, jobID)
	}
	return s.GetJob(ctx, jobID)
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
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM tierq_jobs WHERE picked_at IS NOT NULL AND done = 0`,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("tierq/sqlite: count running: %w", err)
	}
	return count, nil
}

// CountWaiting returns the number of waiting jobs.
func (s *Store) CountWaiting(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM tierq_jobs WHERE picked_at IS NULL AND done = 0`,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("tierq/sqlite: count waiting: %w", err)
	}
	return count, nil
}

// CountWaitingByTier returns waiting counts keyed by stored tier.
func (s *Store) CountWaitingByTier(ctx context.Context) (map[tier.Tier]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT tier, COUNT(*)
		FROM tierq_jobs
		WHERE picked_at IS NULL AND done = 0
		GROUP BY tier`,
	)
	if err != nil {
		return nil, fmt.Errorf("tierq/sqlite: count waiting by tier: %w", err)
	}
	defer rows.Close()

	counts := make(map[tier.Tier]int)
	for rows.Next() {
		var (
			t string
			n int
		)
		if err := rows.Scan(&t, &n); err != nil {
			return nil, fmt.Errorf("tierq/sqlite: scan tier count: %w", err)
		}
		counts[tier.Tier(t)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("tierq/sqlite: iterate tier counts: %w", err)
	}
	return counts, nil
}

// WaitingPosition counts the waiting jobs that strictly outrank rank.
func (s *Store) WaitingPosition(ctx context.Context, rank tier.Rank) (int, error) {
	var (
		count   int
		w       = rank.Tier.Weight()
		created = nanos(rank.CreatedAt)
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM tierq_jobs
		WHERE picked_at IS NULL AND done = 0
		  AND (tier_weight > ?
		       OR (tier_weight = ? AND created_at < ?)
		       OR (tier_weight = ? AND created_at = ? AND id < ?))`,
		w, w, created, w, created, rank.JobID.String(),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("tierq/sqlite: waiting position: %w", err)
	}
	return count, nil
}

// ListJobs returns jobs matching opts, ordered by CreatedAt then ID.
func (s *Store) ListJobs(ctx context.Context, opts job.ListOpts) ([]*job.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM tierq_jobs WHERE 1=1`
	args := []interface{}{}

	if opts.Owner != "" {
		query += " AND owner_id = ?"
		args = append(args, opts.Owner)
	}
	if opts.Status != "" {
		query += " AND status = ?"
		args = append(args, string(opts.Status))
	}
	if pred := phasePredicate(opts.Phase); pred != "" {
		query += " AND " + pred
	}

	query += " ORDER BY created_at ASC, id ASC"

	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	} else if opts.Offset > 0 {
		// SQLite requires a LIMIT clause before OFFSET; -1 means unbounded.
		query += " LIMIT -1"
	}
	if opts.Offset > 0 {
		query += " OFFSET ?"
		args = append(args, opts.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("tierq/sqlite: list jobs: %w", err)
	}
	return collectJobs(rows)
}

// DeleteJob removes a job by ID.
func (s *Store) DeleteJob(ctx context.Context, jobID id.JobID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tierq_jobs WHERE id = ?`, jobID.String())
	if err != nil {
		return fmt.Errorf("tierq/sqlite: delete job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("tierq/sqlite: delete job: %w", err)
	}
	if n == 0 {
		return tierq.ErrJobNotFound
	}
	return nil
}

// phasePredicate translates a derived phase into its (picked_at, done)
// SQL guard. Empty phase means no filter.
func phasePredicate(p job.Phase) string {
	switch p {
	case job.PhaseWaiting:
		return "picked_at IS NULL AND done = 0"
	case job.PhaseRunning:
		return "picked_at IS NOT NULL AND done = 0"
	case job.PhaseTerminal:
		return "done = 1"
	default:
		return ""
	}
}
