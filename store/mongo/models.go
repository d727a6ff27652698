package mongo

import (
	"fmt"
	"time"

	"github.com/scribely/tierq"
	"github.com/scribely/tierq/id"
	"github.com/scribely/tierq/job"
	"github.com/scribely/tierq/tier"
)

// jobModel is the BSON shape of one job document. The tier weight is
// materialized so the admission sort and the position count run on a
// persisted key instead of re-deriving it per query.
type jobModel struct {
	ID            string     `bson:"_id"`
	OwnerID       string     `bson:"owner_id"`
	Tier          string     `bson:"tier"`
	TierWeight    int        `bson:"tier_weight"`
	Source        string     `bson:"source"`
	Title         string     `bson:"title"`
	Language      string     `bson:"language"`
	Status        string     `bson:"status"`
	PickedAt      *time.Time `bson:"picked_at,omitempty"`
	Done          bool       `bson:"done"`
	CompletedAt   *time.Time `bson:"completed_at,omitempty"`
	FailureReason string     `bson:"failure_reason"`
	CreatedAt     time.Time  `bson:"created_at"`
	UpdatedAt     time.Time  `bson:"updated_at"`
}

func toJobModel(j *job.Job) *jobModel {
	return &jobModel{
		ID:            j.ID.String(),
		OwnerID:       j.OwnerID,
		Tier:          string(j.Tier),
		TierWeight:    j.Tier.Weight(),
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

func fromJobModel(m *jobModel) (*job.Job, error) {
	parsedID, err := id.ParseJobID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("tierq/mongo: parse job id %q: %w", m.ID, err)
	}

	return &job.Job{
		Entity: tierq.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:            parsedID,
		OwnerID:       m.OwnerID,
		Tier:          tier.Tier(m.Tier),
		Source:        m.Source,
		Title:         m.Title,
		Language:      m.Language,
		Status:        job.Status(m.Status),
		PickedAt:      m.PickedAt,
		Done:          m.Done,
		CompletedAt:   m.CompletedAt,
		FailureReason: m.FailureReason,
	}, nil
}
