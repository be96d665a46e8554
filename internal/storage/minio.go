// Package storage uploads finished run folders to S3-compatible object storage.
package storage

import (
	"context"
	"fmt"
	"io/fs"
	"path"
	"path/filepath"

	"github.com/gabriel-vasile/mimetype"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"github.com/jonathan/lesson-video-pipeline/internal/ledger"
	"github.com/jonathan/lesson-video-pipeline/internal/logging"
)

// ObjectStore is the part of the MinIO client the uploader uses.
type ObjectStore interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
	MakeBucket(ctx context.Context, bucket string, opts minio.MakeBucketOptions) error
	FPutObject(ctx context.Context, bucket, object, filePath string, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// Config selects the MinIO endpoint and bucket.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Secure    bool
}

// Uploader copies a run folder into the bucket under <runID>/.
type Uploader struct {
	client ObjectStore
	bucket string
	logger *zap.Logger
}

// UploadResult lists the object keys written by UploadFolder.
type UploadResult struct {
	Bucket  string   `json:"bucket"`
	Objects []string `json:"objects"`
	Bytes   int64    `json:"bytes"`
}

// NewMinIOUploader connects to MinIO with static credentials.
func NewMinIOUploader(cfg Config, logger *zap.Logger) (*Uploader, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("minio endpoint is required")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.Secure,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize MinIO client: %w", err)
	}
	return NewUploader(client, cfg.Bucket, logger), nil
}

// NewUploader wraps an existing ObjectStore.
func NewUploader(client ObjectStore, bucket string, logger *zap.Logger) *Uploader {
	return &Uploader{client: client, bucket: bucket, logger: logging.OrNop(logger)}
}

func (u *Uploader) ensureBucket(ctx context.Context) error {
	exists, err := u.client.BucketExists(ctx, u.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}
	if exists {
		return nil
	}
	u.logger.Info("creating bucket", zap.String("bucket", u.bucket))
	if err := u.client.MakeBucket(ctx, u.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("failed to create bucket: %w", err)
	}
	return nil
}

// UploadFolder uploads every regular file under dir, keyed <runID>/<relative path>.
// The first failed object aborts the upload.
func (u *Uploader) UploadFolder(ctx context.Context, runID, dir string) (*UploadResult, error) {
	if err := ledger.ValidateRunID(runID); err != nil {
		return nil, err
	}
	if err := u.ensureBucket(ctx); err != nil {
		return nil, err
	}

	result := &UploadResult{Bucket: u.bucket}
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		key := ObjectKey(runID, rel)

		contentType := "application/octet-stream"
		if mt, err := mimetype.DetectFile(p); err == nil {
			contentType = mt.String()
		}

		info, err := u.client.FPutObject(ctx, u.bucket, key, p, minio.PutObjectOptions{ContentType: contentType})
		if err != nil {
			return fmt.Errorf("failed to upload %s: %w", key, err)
		}
		result.Objects = append(result.Objects, key)
		result.Bytes += info.Size
		u.logger.Debug("uploaded object", zap.String("key", key), zap.String("content_type", contentType))
		return nil
	})
	if err != nil {
		return result, fmt.Errorf("failed to upload run folder: %w", err)
	}

	u.logger.Info("uploaded run folder",
		zap.String("run_id", runID),
		zap.String("bucket", u.bucket),
		zap.Int("objects", len(result.Objects)),
		zap.Int64("bytes", result.Bytes))
	return result, nil
}

// ObjectKey joins runID and a relative OS path into a slash-separated key.
func ObjectKey(runID, rel string) string {
	return path.Join(runID, filepath.ToSlash(rel))
}
