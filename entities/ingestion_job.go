package entities

import (
	"github.com/google/uuid"
	"recording-ingest/constant"
	"time"
)

// IngestionJob is the ledger row for one finalize of one recording.
type IngestionJob struct {
	ID        uuid.UUID          `json:"id" gorm:"type:uuid;primary_key"`
	Filename  string             `json:"filename" gorm:"type:varchar(255);not null;index:idx_ingestion_jobs_filename"`
	UserId    string             `json:"user_id" gorm:"type:varchar(255);not null;index:idx_ingestion_jobs_user_id"`
	Plan      *constant.Plan     `json:"plan" gorm:"type:varchar(20)"`
	Status    constant.JobStatus `json:"status" gorm:"type:varchar(20);not null"`
	SizeBytes *int64             `json:"size_bytes" gorm:"type:bigint"`
	LastError *string            `json:"last_error" gorm:"type:text"`
	CreatedAt time.Time          `json:"created_at" gorm:"type:timestamptz;not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time          `json:"updated_at" gorm:"type:timestamptz;not null;default:CURRENT_TIMESTAMP"`
}

func (IngestionJob) TableName() string {
	return "ingestion_jobs"
}
