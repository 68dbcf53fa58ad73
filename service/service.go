package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"recording-ingest/constant"
	"recording-ingest/dto"
	"recording-ingest/pkg/ai"
	"recording-ingest/pkg/controlplane"
	"recording-ingest/pkg/storage"
)

var (
	ErrNonRetryable      = errors.New("non-retryable error")
	ErrSizeLimit         = errors.New("recording exceeds transcription size limit")
	ErrEmptyFragment     = errors.New("empty fragment")
	ErrDuplicateFragment = errors.New("duplicate fragment")
	ErrConflict          = errors.New("object already exists")
	ErrMissingFile       = errors.New("no file uploaded")
	ErrProcessingRefused = errors.New("control plane did not start processing")
)

type ControlPlane interface {
	MarkProcessing(ctx context.Context, userID, filename string) (controlplane.ProcessingResponse, error)
	MarkComplete(ctx context.Context, userID, filename string) error
	SendTranscript(ctx context.Context, userID string, n controlplane.TranscriptNotification) error
}

type BlobUploader interface {
	Exists(ctx context.Context, key string) (bool, error)
	Upload(ctx context.Context, key, contentType string, body io.Reader, size int64) (storage.UploadOutcome, error)
}

type Transcriber interface {
	Transcribe(ctx context.Context, path string) (string, error)
}

type Generator interface {
	GenerateTitleSummary(ctx context.Context, transcript string) (ai.TitleSummary, error)
}

// Dispatcher hands a recording that passed the size gate to the enrichment tail.
type Dispatcher interface {
	Dispatch(ctx context.Context, msg dto.EnrichmentMessage) error
}

// StageError attributes an enrichment failure to the stage that produced it.
type StageError struct {
	Stage constant.Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

func result(status int, message string) dto.PipelineResult {
	return dto.PipelineResult{Status: status, Message: message}
}
