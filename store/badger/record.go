package badgerstore

import (
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/scribely/tierq"
	"github.com/scribely/tierq/id"
	"github.com/scribely/tierq/job"
	"github.com/scribely/tierq/tier"
)

// jobRecord is the msgpack value stored under job:<id>. Times keep
// nanosecond precision through msgpack's time extension.
type jobRecord struct {
	ID            string     `msgpack:"id"`
	OwnerID       string     `msgpack:"owner_id"`
	Tier          string     `msgpack:"tier"`
	Source        string     `msgpack:"source"`
	Title         string     `msgpack:"title"`
	Language      string     `msgpack:"language"`
	Status        string     `msgpack:"status"`
	PickedAt      *time.Time `msgpack:"picked_at"`
	Done          bool       `msgpack:"done"`
	CompletedAt   *time.Time `msgpack:"completed_at"`
	FailureReason string     `msgpack:"failure_reason"`
	CreatedAt     time.Time  `msgpack:"created_at"`
	UpdatedAt     time.Time  `msgpack:"updated_at"`
}

func toJobRecord(j *job.Job) *jobRecord {
	return &jobRecord{
		ID:            j.ID.String(),
		OwnerID:       j.OwnerID,
		Tier:          string(j.Tier),
		Source:        j.Source,
		Title:         j.Title,
		Language:      j.Language,
		Status:        string(j.Status),
		PickedAt:      j.PickedAt,
		Done:          j.Done,
		CompletedAt:   j.CompletedAt,
		FailureReason: j.FailureReason,
		CreatedAt:     j.CreatedAt,
		UpdatedAt:     j.UpdatedAt,
	}
}

func fromJobRecord(r *jobRecord) (*job.Job, error) {
	parsedID, err := id.ParseJobID(r.ID)
	if err != nil {
		return nil, fmt.Errorf("tierq/badger: parse job id %q: %w", r.ID, err)
	}

	return &job.Job{
		Entity: tierq.Entity{
			CreatedAt: r.CreatedAt,
			UpdatedAt: r.UpdatedAt,
		},
		ID:            parsedID,
		OwnerID:       r.OwnerID,
		Tier:          tier.Tier(r.Tier),
		Source:        r.Source,
		Title:         r.Title,
		Language:      r.Language,
		Status:        job.Status(r.Status),
		PickedAt:      r.PickedAt,
		Done:          r.Done,
		CompletedAt:   r.CompletedAt,
		FailureReason: r.FailureReason,
	}, nil
}

func marshalJob(j *job.Job) ([]byte, error) {
	data, err := msgpack.Marshal(toJobRecord(j))
	if err != nil {
		return nil, fmt.Errorf("tierq/badger: marshal job: %w", err)
	}
	return data, nil
}

func unmarshalJob(data []byte) (*job.Job, error) {
	var r jobRecord
	if err := msgpack.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("tierq/badger: unmarshal job: %w", err)
	}
	return fromJobRecord(&r)
}
