package service

import (
	"context"
	"errors"
	"fmt"
	"github.com/rs/zerolog"
	"io"
	"recording-ingest/pkg/staging"
)

type UploadService interface {
	Upload(ctx context.Context, req UploadRequest) error
}

// UploadRequest is a whole recording delivered in one HTTP request.
type UploadRequest struct {
	UserId      string
	Filename    string
	ContentType string
	Body        io.Reader
	Size        int64
}

type uploadService struct {
	uploader     BlobUploader
	controlPlane ControlPlane
}

func NewUploadService(uploader BlobUploader, controlPlane ControlPlane) UploadService {
	return &uploadService{
		uploader:     uploader,
		controlPlane: controlPlane,
	}
}

// Upload refuses to overwrite an existing object, stores the body and tells
// the control plane processing started. There is no enrichment on this path.
func (s *uploadService) Upload(ctx context.Context, req UploadRequest) error {
	logger := zerolog.Ctx(ctx).With().Str("filename", req.Filename).Str("user_id", req.UserId).Logger()

	if req.Body == nil {
		return ErrMissingFile
	}
	if err := staging.ValidateName(req.Filename); err != nil {
		return errors.Join(ErrNonRetryable, err)
	}

	exists, err := s.uploader.Exists(ctx, req.Filename)
	if err != nil {
		logger.Error().Err(err).Msg("failed to check for existing object")
		return err
	}
	if exists {
		logger.Warn().Msg("object with the same name already exists")
		return fmt.Errorf("%s: %w", req.Filename, ErrConflict)
	}

	outcome, err := s.uploader.Upload(ctx, req.Filename, req.ContentType, req.Body, req.Size)
	if err == nil && !outcome.Success {
		err = fmt.Errorf("upload of %s not accepted (status %d)", req.Filename, outcome.RawStatus)
	}
	if err != nil {
		logger.Error().Err(err).Msg("failed to upload video")
		return err
	}
	logger.Info().Int64("size", req.Size).Msg("video uploaded")

	if _, err := s.controlPlane.MarkProcessing(ctx, req.UserId, req.Filename); err != nil {
		logger.Error().Err(err).Msg("failed to start video processing")
		return fmt.Errorf("%w: %w", ErrProcessingRefused, err)
	}
	logger.Info().Msg("video processing started")
	return nil
}
