package badgerstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/scribely/tierq"
	"github.com/scribely/tierq/id"
	"github.com/scribely/tierq/job"
	"github.com/scribely/tierq/tier"
)

// CreateJob persists a new job and indexes it by phase.
func (s *Store) CreateJob(ctx context.Context, j *job.Job) error {
	return s.retryUpdate(ctx, func(txn *badger.Txn) error {
		jid := j.ID.String()

		if _, err := txn.Get(jobKey(jid)); err == nil {
			return tierq.ErrJobExists
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("tierq/badger: check existing job: %w", err)
		}

		if err := putJobTxn(txn, j); err != nil {
			return err
		}
		switch j.Phase() {
		case job.PhaseWaiting:
			if err := txn.Set(waitingKey(j.Rank()), []byte(jid)); err != nil {
				return fmt.Errorf("tierq/badger: index waiting job: %w", err)
			}
		case job.PhaseRunning:
			if err := txn.Set(runningKey(jid), []byte(jid)); err != nil {
				return fmt.Errorf("tierq/badger: index running job: %w", err)
			}
		}
		return nil
	})
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(_ context.Context, jobID id.JobID) (*job.Job, error) {
	var j *job.Job
	err := s.db.View(func(txn *badger.Txn) error {
		var getErr error
		j, getErr = getJobTxn(txn, jobID.String())
		return getErr
	})
	if err != nil {
		return nil, err
	}
	return j, nil
}

// AdmitJobs atomically claims the best waiting jobs up to capacity and
// marks them running at now. The whole count-and-claim runs in one
// Badger transaction; concurrent admitters conflict on the waiting
// index and retry, so the running count never exceeds capacity.
func (s *Store) AdmitJobs(ctx context.Context, capacity, limit int, now time.Time) ([]*job.Job, error) {
	if capacity <= 0 {
		return nil, nil
	}
	lim := limit
	if lim <= 0 || lim > capacity {
		lim = capacity
	}

	var admitted []*job.Job
	err := s.retryUpdate(ctx, func(txn *badger.Txn) error {
		// Reset on each retry attempt so a conflicted claim is discarded.
		admitted = admitted[:0]

		free := capacity - countPrefix(txn, []byte(keyPrefixRunning))
		if lim < free {
			free = lim
		}
		if free <= 0 {
			return nil
		}

		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(keyPrefixWaiting)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid() && len(admitted) < free; it.Next() {
			idBytes, err := it.Item().ValueCopy(nil)
			if err != nil {
				return fmt.Errorf("tierq/badger: read waiting index: %w", err)
			}

			j, err := getJobTxn(txn, string(idBytes))
			if err != nil {
				if errors.Is(err, tierq.ErrJobNotFound) {
					continue // index entry raced a delete
				}
				return err
			}

			picked := now
			j.PickedAt = &picked
			j.Status = job.StatusProcessing
			j.UpdatedAt = now

			if err := putJobTxn(txn, j); err != nil {
				return err
			}
			if err := txn.Delete(waitingKey(j.Rank())); err != nil {
				return fmt.Errorf("tierq/badger: unindex admitted job: %w", err)
			}
			jid := j.ID.String()
			if err := txn.Set(runningKey(jid), []byte(jid)); err != nil {
				return fmt.Errorf("tierq/badger: index running job: %w", err)
			}
			admitted = append(admitted, j)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return admitted, nil
}

// CancelJob marks a not-yet-done job cancelled at now. The done guard
// runs inside the transaction, so a terminal record is never rewritten.
func (s *Store) CancelJob(ctx context.Context, jobID id.JobID, now time.Time) (*job.Job, error) {
	var out *job.Job
	err := s.retryUpdate(ctx, func(txn *badger.Txn) error {
		out = nil

		j, err := getJobTxn(txn, jobID.String())
		if err != nil {
			return err
		}
		if j.Done {
			return tierq.ErrJobDone
		}

		switch j.Phase() {
		case job.PhaseWaiting:
			if err := txn.Delete(waitingKey(j.Rank())); err != nil {
				return fmt.Errorf("tierq/badger: unindex waiting job: %w", err)
			}
		case job.PhaseRunning:
			if err := txn.Delete(runningKey(jobID.String())); err != nil {
				return fmt.Errorf("tierq/badger: unindex running job: %w", err)
			}
		}

		done := now
		j.Status = job.StatusCancelled
		j.Done = true
		j.CompletedAt = &done
		j.UpdatedAt = now

		if err := putJobTxn(txn, j); err != nil {
			return err
		}
		out = j
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// FinishJob records a terminal outcome for a running job at now.
func (s *Store) FinishJob(ctx context.Context, jobID id.JobID, status job.Status, reason string, now time.Time) (*job.Job, error) {
	var out *job.Job
	err := s.retryUpdate(ctx, func(txn *badger.Txn) error {
		out = nil

		j, err := getJobTxn(txn, jobID.String())
		if err != nil {
			return err
		}
		if j.Done {
			return tierq.ErrJobDone
		}
		if j.PickedAt == nil {
			return tierq.ErrInvalidTransition
		}

		if err := txn.Delete(runningKey(jobID.String())); err != nil {
			return fmt.Errorf("tierq/badger: unindex running job: %w", err)
		}

		done := now
		j.Status = status
		j.Done = true
		j.CompletedAt = &done
		j.FailureReason = reason
		j.UpdatedAt = now

		if err := putJobTxn(txn, j); err != nil {
			return err
		}
		out = j
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// SetJobStatus updates the progress label of a running job.
func (s *Store) SetJobStatus(ctx context.Context, jobID id.JobID, status job.Status, now time.Time) (*job.Job, error) {
	var out *job.Job
	err := s.retryUpdate(ctx, func(txn *badger.Txn) error {
		out = nil

		j, err := getJobTxn(txn, jobID.String())
		if err != nil {
			return err
		}
		if j.Done {
			return tierq.ErrJobDone
		}
		if j.PickedAt == nil {
			return tierq.ErrInvalidTransition
		}

		j.Status = status
		j.UpdatedAt = now

		if err := putJobTxn(txn, j); err != nil {
			return err
		}
		out = j
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// CountRunning returns the number of running jobs.
func (s *Store) CountRunning(_ context.Context) (int, error) {
	var n int
	err := s.db.View(func(txn *badger.Txn) error {
		n = countPrefix(txn, []byte(keyPrefixRunning))
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("tierq/badger: count running: %w", err)
	}
	return n, nil
}

// CountWaiting returns the number of waiting jobs.
func (s *Store) CountWaiting(_ context.Context) (int, error) {
	var n int
	err := s.db.View(func(txn *badger.Txn) error {
		n = countPrefix(txn, []byte(keyPrefixWaiting))
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("tierq/badger: count waiting: %w", err)
	}
	return n, nil
}

// CountWaitingByTier returns waiting counts keyed by stored tier.
func (s *Store) CountWaitingByTier(_ context.Context) (map[tier.Tier]int, error) {
	counts := make(map[tier.Tier]int)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(keyPrefixWaiting)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			idBytes, err := it.Item().ValueCopy(nil)
			if err != nil {
				return fmt.Errorf("tierq/badger: read waiting index: %w", err)
			}
			j, err := getJobTxn(txn, string(idBytes))
			if err != nil {
				if errors.Is(err, tierq.ErrJobNotFound) {
					continue // index entry raced a delete
				}
				return err
			}
			counts[j.Tier]++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return counts, nil
}

// WaitingPosition counts the waiting jobs that strictly outrank rank.
// The waiting index key is the comparator, so the position is the
// number of index entries before the rank's own key.
func (s *Store) WaitingPosition(_ context.Context, rank tier.Rank) (int, error) {
	bound := waitingKey(rank)
	pos := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(keyPrefixWaiting)
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if bytes.Compare(it.Item().Key(), bound) >= 0 {
				return nil
			}
			pos++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("tierq/badger: waiting position: %w", err)
	}
	return pos, nil
}

// ListJobs returns jobs matching opts, ordered by CreatedAt then ID.
func (s *Store) ListJobs(_ context.Context, opts job.ListOpts) ([]*job.Job, error) {
	var jobs []*job.Job
	err := s.db.View(func(txn *badger.Txn) error {
		iopts := badger.DefaultIteratorOptions
		iopts.Prefix = []byte(keyPrefixJob)
		it := txn.NewIterator(iopts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			data, err := it.Item().ValueCopy(nil)
			if err != nil {
				return fmt.Errorf("tierq/badger: read job: %w", err)
			}
			j, err := unmarshalJob(data)
			if err != nil {
				return err
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
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(jobs, func(i, k int) bool {
		if !jobs[i].CreatedAt.Equal(jobs[k].CreatedAt) {
			return jobs[i].CreatedAt.Before(jobs[k].CreatedAt)
		}
		return jobs[i].ID.String() < jobs[k].ID.String()
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(jobs) {
			return nil, nil
		}
		jobs = jobs[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(jobs) {
		jobs = jobs[:opts.Limit]
	}
	return jobs, nil
}

// DeleteJob removes a job and its index entries.
func (s *Store) DeleteJob(ctx context.Context, jobID id.JobID) error {
	return s.retryUpdate(ctx, func(txn *badger.Txn) error {
		j, err := getJobTxn(txn, jobID.String())
		if err != nil {
			return err
		}

		if err := txn.Delete(jobKey(jobID.String())); err != nil {
			return fmt.Errorf("tierq/badger: delete job: %w", err)
		}
		switch j.Phase() {
		case job.PhaseWaiting:
			if err := txn.Delete(waitingKey(j.Rank())); err != nil {
				return fmt.Errorf("tierq/badger: unindex waiting job: %w", err)
			}
		case job.PhaseRunning:
			if err := txn.Delete(runningKey(jobID.String())); err != nil {
				return fmt.Errorf("tierq/badger: unindex running job: %w", err)
			}
		}
		return nil
	})
}

// ── helpers ──

// getJobTxn loads and decodes a job inside txn.
func getJobTxn(txn *badger.Txn, jobID string) (*job.Job, error) {
	item, err := txn.Get(jobKey(jobID))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, tierq.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("tierq/badger: get job: %w", err)
	}

	data, err := item.ValueCopy(nil)
	if err != nil {
		return nil, fmt.Errorf("tierq/badger: read job: %w", err)
	}
	return unmarshalJob(data)
}

// putJobTxn encodes and stores a job inside txn.
func putJobTxn(txn *badger.Txn, j *job.Job) error {
	data, err := marshalJob(j)
	if err != nil {
		return err
	}
	if err := txn.Set(jobKey(j.ID.String()), data); err != nil {
		return fmt.Errorf("tierq/badger: put job: %w", err)
	}
	return nil
}

// countPrefix counts the keys under prefix without loading values.
func countPrefix(txn *badger.Txn, prefix []byte) int {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)
	defer it.Close()

	n := 0
	for it.Rewind(); it.Valid(); it.Next() {
		n++
	}
	return n
}
