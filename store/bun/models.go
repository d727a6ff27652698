package bunstore

import (
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/scribely/tierq"
	"github.com/scribely/tierq/id"
	"github.com/scribely/tierq/job"
	"github.com/scribely/tierq/tier"
)

// jobModel is the row shape of tierq_jobs. TierWeight is a materialized
// ordering key derived from Tier at insert; reads ignore it.
type jobModel struct {
	bun.BaseModel `bun:"table:tierq_jobs"`

	ID            string     `bun:"id,pk"`
	OwnerID       string     `bun:"owner_id,notnull"`
	Tier          string     `bun:"tier,notnull"`
	TierWeight    int        `bun:"tier_weight,notnull"`
	Source        string     `bun:"source,notnull"`
	Title         string     `bun:"title,notnull,default:''"`
	Language      string     `bun:"language,notnull,default:''"`
	Status        string     `bun:"status,notnull,default:'queued'"`
	PickedAt      *time.Time `bun:"picked_at"`
	Done          bool       `bun:"done,notnull,default:false"`
	CompletedAt   *time.Time `bun:"completed_at"`
	FailureReason string     `bun:"failure_reason,notnull,default:''"`
	CreatedAt     time.Time  `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt     time.Time  `bun:"updated_at,notnull,default:current_timestamp"`
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
		return nil, fmt.Errorf("tierq/bun: parse job id %q: %w", m.ID, err)
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
