package entities

import (
	"github.com/google/uuid"
	"recording-ingest/constant"
	"time"
)

type StageResult struct {
	ID         uuid.UUID      `json:"id" gorm:"type:uuid;primary_key"`
	JobId      uuid.UUID      `json:"job_id" gorm:"type:uuid;not null;index:idx_stage_results_job"`
	Stage      constant.Stage `json:"stage" gorm:"type:varchar(32);not null"`
	Succeeded  bool           `json:"succeeded" gorm:"not null"`
	Error      *string        `json:"error" gorm:"type:text"`
	DurationMs int64          `json:"duration_ms" gorm:"type:bigint"`
	CreatedAt  time.Time      `json:"created_at" gorm:"type:timestamptz;not null;default:CURRENT_TIMESTAMP"`
}

func (StageResult) TableName() string {
	return "stage_results"
}
