package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/scribely/tierq"
	"github.com/scribely/tierq/id"
	"github.com/scribely/tierq/job"
	"github.com/scribely/tierq/tier"
)

// Admission lease tuning. The lease only spans one count plus a few
// single-document claims, so contention windows are short.
const (
	admitLeaseID    = "admission"
	admitLeaseTTL   = 5 * time.Second
	admitLeaseWait  = 20 * time.Millisecond
	admitLeaseTries = 50
)

// CreateJob persists a new waiting job.
func (s *Store) CreateJob(ctx context.Context, j *job.Job) error {
	_, err := s.db.Collection(colJobs).InsertOne(ctx, toJobModel(j))
	if err != nil {
		if isDuplicateKey(err) {
			return tierq.ErrJobExists
		}
		return fmt.Errorf("tierq/mongo: create job: %w", err)
	}
	return nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	var m jobModel
	err := s.db.Collection(colJobs).FindOne(ctx, bson.M{"_id": jobID.String()}).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, tierq.ErrJobNotFound
		}
		return nil, fmt.Errorf("tierq/mongo: get job: %w", err)
	}
	return fromJobModel(&m)
}

// AdmitJobs atomically claims the best waiting jobs up to capacity and
// marks them running at now. Every claim is a single FindOneAndUpdate,
// so a job can only ever move to running once; the admission lease
// keeps a concurrent admitter from reading a stale running count and
// overshooting the cap.
func (s *Store) AdmitJobs(ctx context.Context, capacity, limit int, now time.Time) ([]*job.Job, error) {
	if capacity <= 0 {
		return nil, nil
	}

	token, err := s.acquireAdmitLease(ctx)
	if err != nil {
		return nil, err
	}
	// Release is best-effort; lease expiry covers a failed release.
	defer s.releaseAdmitLease(ctx, token)

	col := s.db.Collection(colJobs)

	running, err := col.CountDocuments(ctx, bson.M{"done": false, "picked_at": bson.M{"$ne": nil}})
	if err != nil {
		return nil, fmt.Errorf("tierq/mongo: count running: %w", err)
	}

	free := capacity - int(running)
	if limit > 0 && limit < free {
		free = limit
	}
	if free <= 0 {
		return nil, nil
	}

	ts := now.UTC()
	jobs := make([]*job.Job, 0, free)
	for i := 0; i < free; i++ {
		update := bson.M{"$set": bson.M{
			"status":     string(job.StatusProcessing),
			"picked_at":  ts,
			"updated_at": ts,
		}}
		claimOpts := options.FindOneAndUpdate().
			SetReturnDocument(options.After).
			SetSort(bson.D{
				{Key: "tier_weight", Value: -1},
				{Key: "created_at", Value: 1},
				{Key: "_id", Value: 1},
			})

		var m jobModel
		claimErr := col.FindOneAndUpdate(ctx,
			bson.M{"done": false, "picked_at": nil}, update, claimOpts,
		).Decode(&m)
		if claimErr != nil {
			if isNoDocuments(claimErr) {
				break
			}
			return nil, fmt.Errorf("tierq/mongo: admit claim: %w", claimErr)
		}

		j, convErr := fromJobModel(&m)
		if convErr != nil {
			return nil, convErr
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

// acquireAdmitLease serializes admission across processes. One lease
// document is claimed with FindOneAndUpdate; a crashed holder is taken
// over once the lease expires.
func (s *Store) acquireAdmitLease(ctx context.Context) (string, error) {
	col := s.db.Collection(colLocks)
	token := bson.NewObjectID().Hex()

	for attempt := 0; attempt < admitLeaseTries; attempt++ {
		t := time.Now().UTC()
		filter := bson.M{
			"_id": admitLeaseID,
			"$or": []bson.M{
				{"holder": ""},
				{"expires_at": bson.M{"$lt": t}},
			},
		}
		update := bson.M{"$set": bson.M{
			"holder":     token,
			"expires_at": t.Add(admitLeaseTTL),
		}}
		leaseOpts := options.FindOneAndUpdate().
			SetUpsert(true).
			SetReturnDocument(options.After)

		err := col.FindOneAndUpdate(ctx, filter, update, leaseOpts).Err()
		if err == nil {
			return token, nil
		}
		// A held lease surfaces as a duplicate _id on the upsert.
		if !isDuplicateKey(err) {
			return "", fmt.Errorf("tierq/mongo: acquire admission lease: %w", err)
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(admitLeaseWait):
		}
	}
	return "", fmt.Errorf("tierq/mongo: admission lease busy after %d attempts", admitLeaseTries)
}

// releaseAdmitLease frees the lease if this call still holds it.
func (s *Store) releaseAdmitLease(ctx context.Context, token string) {
	_, err := s.db.Collection(colLocks).UpdateOne(ctx,
		bson.M{"_id": admitLeaseID, "holder": token},
		bson.M{"$set": bson.M{"holder": ""}},
	)
	if err != nil {
		s.logger.Warn("admission lease release failed", "error", err)
	}
}

// CancelJob marks a not-yet-done job cancelled at now. The done guard
// lives in the filter, so a terminal record is never rewritten.
func (s *Store) CancelJob(ctx context.Context, jobID id.JobID, now time.Time) (*job.Job, error) {
	ts := now.UTC()
	update := bson.M{"$set": bson.M{
		"status":       string(job.StatusCancelled),
		"done":         true,
		"completed_at": ts,
		"updated_at":   ts,
	}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var m jobModel
	err := s.db.Collection(colJobs).FindOneAndUpdate(ctx,
		bson.M{"_id": jobID.String(), "done": false}, update, opts,
	).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, s.explainNoDocument(ctx, jobID)
		}
		return nil, fmt.Errorf("tierq/mongo: cancel job: %w", err)
	}
	return fromJobModel(&m)
}

// FinishJob records a terminal outcome for a running job at now.
func (s *Store) FinishJob(ctx context.Context, jobID id.JobID, status job.Status, reason string, now time.Time) (*job.Job, error) {
	ts := now.UTC()
	update := bson.M{"$set": bson.M{
		"status":         string(status),
		"done":           true,
		"completed_at":   ts,
		"failure_reason": reason,
		"updated_at":     ts,
	}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var m jobModel
	err := s.db.Collection(colJobs).FindOneAndUpdate(ctx,
		bson.M{"_id": jobID.String(), "done": false, "picked_at": bson.M{"$ne": nil}},
		update, opts,
	).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, s.explainNoDocument(ctx, jobID)
		}
		return nil, fmt.Errorf("tierq/mongo: finish job: %w", err)
	}
	return fromJobModel(&m)
}

// SetJobStatus updates the progress label of a running job.
func (s *Store) SetJobStatus(ctx context.Context, jobID id.JobID, status job.Status, now time.Time) (*job.Job, error) {
	ts := now.UTC()
	update := bson.M{"$set": bson.M{
		"status":     string(status),
		"updated_at": ts,
	}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var m jobModel
	err := s.db.Collection(colJobs).FindOneAndUpdate(ctx,
		bson.M{"_id": jobID.String(), "done": false, "picked_at": bson.M{"$ne": nil}},
		update, opts,
	).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, s.explainNoDocument(ctx, jobID)
		}
		return nil, fmt.Errorf("tierq/mongo: set job status: %w", err)
	}
	return fromJobModel(&m)
}

// explainNoDocument re-fetches a job after a conditional update matched
// nothing, to report which guard refused it.
func (s *Store) explainNoDocument(ctx context.Context, jobID id.JobID) error {
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
	n, err := s.db.Collection(colJobs).CountDocuments(ctx,
		bson.M{"done": false, "picked_at": bson.M{"$ne": nil}},
	)
	if err != nil {
		return 0, fmt.Errorf("tierq/mongo: count running: %w", err)
	}
	return int(n), nil
}

// CountWaiting returns the number of waiting jobs.
func (s *Store) CountWaiting(ctx context.Context) (int, error) {
	n, err := s.db.Collection(colJobs).CountDocuments(ctx,
		bson.M{"done": false, "picked_at": nil},
	)
	if err != nil {
		return 0, fmt.Errorf("tierq/mongo: count waiting: %w", err)
	}
	return int(n), nil
}

// CountWaitingByTier returns waiting counts keyed by stored tier.
func (s *Store) CountWaitingByTier(ctx context.Context) (map[tier.Tier]int, error) {
	cursor, err := s.db.Collection(colJobs).Aggregate(ctx, mongod.Pipeline{
		bson.D{{Key: "$match", Value: bson.M{"done": false, "picked_at": nil}}},
		bson.D{{Key: "$group", Value: bson.M{"_id": "$tier", "count": bson.M{"$sum": 1}}}},
	})
	if err != nil {
		return nil, fmt.Errorf("tierq/mongo: count waiting by tier: %w", err)
	}
	defer cursor.Close(ctx)

	var rows []struct {
		Tier  string `bson:"_id"`
		Count int    `bson:"count"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("tierq/mongo: count waiting by tier decode: %w", err)
	}

	counts := make(map[tier.Tier]int, len(rows))
	for _, r := range rows {
		counts[tier.Tier(r.Tier)] = r.Count
	}
	return counts, nil
}

// WaitingPosition counts the waiting jobs that strictly outrank rank.
func (s *Store) WaitingPosition(ctx context.Context, rank tier.Rank) (int, error) {
	w := rank.Tier.Weight()
	// BSON datetimes carry millisecond precision; compare on the stored
	// granularity.
	ts := rank.CreatedAt.UTC().Truncate(time.Millisecond)

	filter := bson.M{
		"done":      false,
		"picked_at": nil,
		"$or": []bson.M{
			{"tier_weight": bson.M{"$gt": w}},
			{"tier_weight": w, "created_at": bson.M{"$lt": ts}},
			{"tier_weight": w, "created_at": ts, "_id": bson.M{"$lt": rank.JobID.String()}},
		},
	}
	n, err := s.db.Collection(colJobs).CountDocuments(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("tierq/mongo: waiting position: %w", err)
	}
	return int(n), nil
}

// ListJobs returns jobs matching opts, ordered by CreatedAt then ID.
func (s *Store) ListJobs(ctx context.Context, opts job.ListOpts) ([]*job.Job, error) {
	filter := bson.M{}
	if opts.Owner != "" {
		filter["owner_id"] = opts.Owner
	}
	if opts.Status != "" {
		filter["status"] = string(opts.Status)
	}
	for k, v := range phaseFilter(opts.Phase) {
		filter[k] = v
	}

	findOpts := options.Find().SetSort(bson.D{
		{Key: "created_at", Value: 1},
		{Key: "_id", Value: 1},
	})
	if opts.Limit > 0 {
		findOpts.SetLimit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		findOpts.SetSkip(int64(opts.Offset))
	}

	cursor, err := s.db.Collection(colJobs).Find(ctx, filter, findOpts)
	if err != nil {
		return nil, fmt.Errorf("tierq/mongo: list jobs: %w", err)
	}
	defer cursor.Close(ctx)

	var models []jobModel
	if err := cursor.All(ctx, &models); err != nil {
		return nil, fmt.Errorf("tierq/mongo: list jobs decode: %w", err)
	}

	jobs := make([]*job.Job, 0, len(models))
	for i := range models {
		j, convErr := fromJobModel(&models[i])
		if convErr != nil {
			return nil, fmt.Errorf("tierq/mongo: list jobs convert: %w", convErr)
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

// DeleteJob removes a job by ID.
func (s *Store) DeleteJob(ctx context.Context, jobID id.JobID) error {
	res, err := s.db.Collection(colJobs).DeleteOne(ctx, bson.M{"_id": jobID.String()})
	if err != nil {
		return fmt.Errorf("tierq/mongo: delete job: %w", err)
	}
	if res.DeletedCount == 0 {
		return tierq.ErrJobNotFound
	}
	return nil
}

// phaseFilter translates a derived phase into its (picked_at, done)
// document guard. Empty phase means no filter.
func phaseFilter(p job.Phase) bson.M {
	switch p {
	case job.PhaseWaiting:
		return bson.M{"done": false, "picked_at": nil}
	case job.PhaseRunning:
		return bson.M{"done": false, "picked_at": bson.M{"$ne": nil}}
	case job.PhaseTerminal:
		return bson.M{"done": true}
	default:
		return nil
	}
}
