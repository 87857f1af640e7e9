// Package archive uploads finished artifacts to S3-compatible object storage.
package archive

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"strings"

	miniogo "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Config configures the MinIO client.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Bucket    string
	Prefix    string // key prefix, e.g. "movid/"
}

// Archiver uploads local files.
type Archiver interface {
	Upload(ctx context.Context, runID string, files []string) ([]string, error)
}

// Storage uploads artifacts to a MinIO bucket.
type Storage struct {
	client *miniogo.Client
	bucket string
	prefix string
}

// NewStorage creates a MinIO-backed Storage.
func NewStorage(cfg Config) (*Storage, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("archive endpoint and bucket are required")
	}

	client, err := miniogo.New(cfg.Endpoint, &miniogo.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	return &Storage{
		client: client,
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
	}, nil
}

// EnsureBucket creates the bucket if it does not exist.
func (s *Storage) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucket, miniogo.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("create bucket %s: %w", s.bucket, err)
		}
	}
	return nil
}

// Upload stores each file under <prefix><runID>/<basename> and returns the object keys.
func (s *Storage) Upload(ctx context.Context, runID string, files []string) ([]string, error) {
	keys := make([]string, 0, len(files))
	for _, file := range files {
		if file == "" {
			continue
		}
		key := ObjectKey(s.prefix, runID, file)
		_, err := s.client.FPutObject(ctx, s.bucket, key, file, miniogo.PutObjectOptions{
			ContentType: ContentType(file),
		})
		if err != nil {
			return keys, fmt.Errorf("upload %s: %w", file, err)
		}
		keys = append(keys, key)
	}
	return keys, nil
}

// ObjectKey builds the object key of a local file.
func ObjectKey(prefix, runID, file string) string {
	return strings.TrimPrefix(path.Join(prefix, runID, filepath.Base(file)), "/")
}

// ContentType guesses the content type of an artifact from its name.
func ContentType(file string) string {
	switch {
	case strings.HasSuffix(file, ".csv.gz"):
		return "application/gzip"
	case strings.HasSuffix(file, ".mp4"):
		return "video/mp4"
	case strings.HasSuffix(file, ".avi"):
		return "video/x-msvideo"
	case strings.HasSuffix(file, ".jpg"):
		return "image/jpeg"
	default:
		return "application/octet-stream"
	}
}
