package repository

import (
	"context"
	"fmt"
	"github.com/google/uuid"
	"recording-ingest/constant"
	"recording-ingest/entities"
	"sync"
	"time"
)

// memoryRepo keeps the ledger in process. It backs deployments without a
// database and the tests.
type memoryRepo struct {
	mu     sync.Mutex
	jobs   map[uuid.UUID]entities.IngestionJob
	stages map[uuid.UUID][]entities.StageResult
}

func NewMemoryRepo() JobRepository {
	return &memoryRepo{
		jobs:   make(map[uuid.UUID]entities.IngestionJob),
		stages: make(map[uuid.UUID][]entities.StageResult),
	}
}

func (r *memoryRepo) Migrate(ctx context.Context) error {
	return nil
}

func (r *memoryRepo) CreateJob(ctx context.Context, job *entities.IngestionJob) error {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	now := time.Now().UTC()
	job.CreatedAt, job.UpdatedAt = now, now

	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[job.ID] = *job
	return nil
}

func (r *memoryRepo) FindJobById(ctx context.Context, id uuid.UUID) (*entities.IngestionJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, ErrJobNotFound)
	}
	return &job, nil
}

func (r *memoryRepo) UpdateStatusJob(ctx context.Context, status constant.JobStatus, id uuid.UUID, cause error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return fmt.Errorf("%s: %w", id, ErrJobNotFound)
	}
	job.Status = status
	if cause != nil {
		msg := cause.Error()
		job.LastError = &msg
	}
	job.UpdatedAt = time.Now().UTC()
	r.jobs[id] = job
	return nil
}

func (r *memoryRepo) UpdateJobUpload(ctx context.Context, id uuid.UUID, plan constant.Plan, sizeBytes int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return fmt.Errorf("%s: %w", id, ErrJobNotFound)
	}
	job.Plan = &plan
	job.SizeBytes = &sizeBytes
	job.UpdatedAt = time.Now().UTC()
	r.jobs[id] = job
	return nil
}

func (r *memoryRepo) RecordStage(ctx context.Context, result *entities.StageResult) error {
	if result.ID == uuid.Nil {
		result.ID = uuid.New()
	}
	result.CreatedAt = time.Now().UTC()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.stages[result.JobId] = append(r.stages[result.JobId], *result)
	return nil
}

func (r *memoryRepo) GetStagesByJobId(ctx context.Context, id uuid.UUID) ([]*entities.StageResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored := r.stages[id]
	stages := make([]*entities.StageResult, 0, len(stored))
	for i := range stored {
		s := stored[i]
		stages = append(stages, &s)
	}
	return stages, nil
}
