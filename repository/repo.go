package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"recording-ingest/constant"
	"recording-ingest/entities"
)

var ErrJobNotFound = errors.New("ingestion job not found")

// JobRepository is the ledger of finalize attempts and the per-stage outcome
// of their enrichment tail.
type JobRepository interface {
	Migrate(ctx context.Context) error
	CreateJob(ctx context.Context, job *entities.IngestionJob) error
	FindJobById(ctx context.Context, id uuid.UUID) (*entities.IngestionJob, error)
	UpdateStatusJob(ctx context.Context, status constant.JobStatus, id uuid.UUID, cause error) error
	UpdateJobUpload(ctx context.Context, id uuid.UUID, plan constant.Plan, sizeBytes int64) error
	RecordStage(ctx context.Context, result *entities.StageResult) error
	GetStagesByJobId(ctx context.Context, id uuid.UUID) ([]*entities.StageResult, error)
}

type repo struct {
	db *gorm.DB
}

func NewRepo(db *sql.DB) (JobRepository, error) {
	gormDB, err := gorm.Open(postgres.New(postgres.Config{
		Conn: db}),
		&gorm.Config{
			Logger: logger.Default.LogMode(logger.Warn),
		},
	)
	if err != nil {
		return nil, fmt.Errorf("open gorm: %w", err)
	}
	return &repo{
		db: gormDB,
	}, nil
}

func (r *repo) GetDB(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx)
}

func (r *repo) Migrate(ctx context.Context) error {
	return r.GetDB(ctx).AutoMigrate(&entities.IngestionJob{}, &entities.StageResult{})
}

func (r *repo) CreateJob(ctx context.Context, job *entities.IngestionJob) error {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	return r.GetDB(ctx).Create(job).Error
}

func (r *repo) FindJobById(ctx context.Context, id uuid.UUID) (*entities.IngestionJob, error) {
	job := &entities.IngestionJob{}
	err := r.GetDB(ctx).First(job, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%s: %w", id, ErrJobNotFound)
	}
	if err != nil {
		return nil, err
	}
	return job, nil
}

func (r *repo) UpdateStatusJob(ctx context.Context, status constant.JobStatus, id uuid.UUID, cause error) error {
	updates := map[string]interface{}{
		"status": status,
	}
	if cause != nil {
		updates["last_error"] = cause.Error()
	}
	res := r.GetDB(ctx).Model(&entities.IngestionJob{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%s: %w", id, ErrJobNotFound)
	}
	return nil
}

func (r *repo) UpdateJobUpload(ctx context.Context, id uuid.UUID, plan constant.Plan, sizeBytes int64) error {
	updates := map[string]interface{}{
		"plan":       plan,
		"size_bytes": sizeBytes,
	}
	return r.GetDB(ctx).Model(&entities.IngestionJob{}).Where("id = ?", id).Updates(updates).Error
}

func (r *repo) RecordStage(ctx context.Context, result *entities.StageResult) error {
	if result.ID == uuid.Nil {
		result.ID = uuid.New()
	}
	return r.GetDB(ctx).Create(result).Error
}

func (r *repo) GetStagesByJobId(ctx context.Context, id uuid.UUID) ([]*entities.StageResult, error) {
	var stages []*entities.StageResult
	err := r.GetDB(ctx).Where("job_id = ?", id).Order("created_at ASC").Find(&stages).Error
	if err != nil {
		return nil, err
	}
	return stages, nil
}
