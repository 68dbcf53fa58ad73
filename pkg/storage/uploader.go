package storage

import (
	"context"
	"errors"
	"fmt"
	"github.com/minio/minio-go/v7"
	"github.com/rs/zerolog"
	"io"
	"net/http"
)

var ErrNotConfigured = errors.New("blob storage is not configured")

// ObjectAPI is the subset of *minio.Client the uploader needs.
type ObjectAPI interface {
	StatObject(ctx context.Context, bucketName, objectName string, opts minio.StatObjectOptions) (minio.ObjectInfo, error)
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// UploadOutcome classifies a put. Success is only ever set when the backend
// accepted the object; RawStatus is the HTTP status the backend answered with
// when one is known.
type UploadOutcome struct {
	Success   bool
	RawStatus int
}

type Uploader struct {
	client ObjectAPI
	bucket string
}

func NewUploader(client ObjectAPI, bucket string) *Uploader {
	return &Uploader{
		client: client,
		bucket: bucket,
	}
}

func (u *Uploader) Bucket() string {
	return u.bucket
}

// Exists reports whether key is already present in the bucket.
func (u *Uploader) Exists(ctx context.Context, key string) (bool, error) {
	if u.client == nil {
		return false, ErrNotConfigured
	}
	_, err := u.client.StatObject(ctx, u.bucket, key, minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}
	resp := minio.ToErrorResponse(err)
	if resp.StatusCode == http.StatusNotFound || resp.Code == "NoSuchKey" {
		return false, nil
	}
	return false, fmt.Errorf("stat %s/%s: %w", u.bucket, key, err)
}

// Upload puts body under key. size may be -1 when unknown, which makes the
// client fall back to a multipart upload.
func (u *Uploader) Upload(ctx context.Context, key, contentType string, body io.Reader, size int64) (UploadOutcome, error) {
	if u.client == nil {
		return UploadOutcome{}, ErrNotConfigured
	}
	info, err := u.client.PutObject(ctx, u.bucket, key, body, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		outcome := UploadOutcome{RawStatus: minio.ToErrorResponse(err).StatusCode}
		zerolog.Ctx(ctx).Error().Err(err).
			Str("bucket", u.bucket).
			Str("key", key).
			Int("status", outcome.RawStatus).
			Msg("upload rejected")
		return outcome, fmt.Errorf("put %s/%s: %w", u.bucket, key, err)
	}

	zerolog.Ctx(ctx).Info().
		Str("bucket", u.bucket).
		Str("key", key).
		Int64("size", info.Size).
		Str("etag", info.ETag).
		Msg("upload accepted")
	return UploadOutcome{Success: true, RawStatus: http.StatusOK}, nil
}
