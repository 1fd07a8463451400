package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/minio/minio-go/v7/pkg/lifecycle"

	"github.com/your-org/durianscan/internal/config"
)

// ScanKeyPrefix is the key prefix under which scan originals and thumbnails live.
const ScanKeyPrefix = "scans/"

// Scan images never change after upload.
const imageCacheControl = "private, max-age=31536000, immutable"

// MinIOStore holds the original upload and the thumbnail of every saved or
// queued scan, keyed under ScanKeyPrefix.
type MinIOStore struct {
	client *minio.Client
	bucket string
}

func NewMinIOStore(cfg config.MinIOConfig) (*MinIOStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return &MinIOStore{client: client, bucket: cfg.Bucket}, nil
}

// EnsureBucket creates the scan bucket when missing and installs a lifecycle
// rule that aborts multipart uploads left behind under ScanKeyPrefix.
func (s *MinIOStore) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("create bucket %s: %w", s.bucket, err)
		}
	}
	if err := s.client.SetBucketLifecycle(ctx, s.bucket, scanLifecycle()); err != nil {
		return fmt.Errorf("set lifecycle on %s: %w", s.bucket, err)
	}
	return nil
}

func scanLifecycle() *lifecycle.Configuration {
	cfg := lifecycle.NewConfiguration()
	cfg.Rules = []lifecycle.Rule{{
		ID:         "scans-abort-incomplete-uploads",
		Status:     "Enabled",
		RuleFilter: lifecycle.Filter{Prefix: ScanKeyPrefix},
		AbortIncompleteMultipartUpload: lifecycle.AbortIncompleteMultipartUpload{
			DaysAfterInitiation: lifecycle.ExpirationDays(1),
		},
	}}
	return cfg
}

// PutObject stores a scan image. Keys outside ScanKeyPrefix are refused.
func (s *MinIOStore) PutObject(ctx context.Context, key string, data []byte, contentType string) error {
	if err := checkScanKey(key); err != nil {
		return err
	}
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType:  contentType,
		CacheControl: imageCacheControl,
	})
	if err != nil {
		return fmt.Errorf("put scan image %s: %w", key, err)
	}
	return nil
}

// GetObject reads a scan image. A missing key wraps ErrNotFound.
func (s *MinIOStore) GetObject(ctx context.Context, key string) ([]byte, error) {
	if err := checkScanKey(key); err != nil {
		return nil, err
	}
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, objectError("get scan image", key, err)
	}
	defer obj.Close()

	info, err := obj.Stat()
	if err != nil {
		return nil, objectError("stat scan image", key, err)
	}
	data := make([]byte, info.Size)
	if _, err := io.ReadFull(obj, data); err != nil {
		return nil, objectError("read scan image", key, err)
	}
	return data, nil
}

// DeleteObjects removes a scan's images in one batch. Empty keys are skipped
// and a key that is already gone is not an error.
func (s *MinIOStore) DeleteObjects(ctx context.Context, keys []string) error {
	objectsCh := make(chan minio.ObjectInfo, len(keys))
	for _, key := range keys {
		if key != "" {
			objectsCh <- minio.ObjectInfo{Key: key}
		}
	}
	close(objectsCh)

	var errs []error
	for result := range s.client.RemoveObjects(ctx, s.bucket, objectsCh, minio.RemoveObjectsOptions{}) {
		if result.Err != nil && !isNoSuchKey(result.Err) {
			errs = append(errs, fmt.Errorf("delete scan image %s: %w", result.ObjectName, result.Err))
		}
	}
	return errors.Join(errs...)
}

// Ping fails when MinIO is unreachable or the scan bucket is gone.
func (s *MinIOStore) Ping(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("bucket %s does not exist", s.bucket)
	}
	return nil
}

func checkScanKey(key string) error {
	if !strings.HasPrefix(key, ScanKeyPrefix) || len(key) == len(ScanKeyPrefix) {
		return fmt.Errorf("scan image key %q: %w", key, ErrNotFound)
	}
	return nil
}

func isNoSuchKey(err error) bool {
	return minio.ToErrorResponse(err).Code == "NoSuchKey"
}

func objectError(op, key string, err error) error {
	if isNoSuchKey(err) {
		return fmt.Errorf("%s %s: %w", op, key, ErrNotFound)
	}
	return fmt.Errorf("%s %s: %w", op, key, err)
}
