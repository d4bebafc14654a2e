package blob

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/dx-insights/attp-pipeline/internal/config"
)

// MinioStore implements Store against a MinIO / S3-compatible endpoint.
type MinioStore struct {
	client *minio.Client
}

// NewMinio connects to the configured object storage endpoint.
func NewMinio(cfg config.BlobConfig) (*MinioStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("connect object storage %s: %w", cfg.Endpoint, err)
	}
	return &MinioStore{client: client}, nil
}

// EnsureBucket creates the bucket if it does not exist yet.
func (s *MinioStore) EnsureBucket(ctx context.Context, bucket string) error {
	exists, err := s.client.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket %s: %w", bucket, err)
	}
	return nil
}

// Get fetches an object in full.
func (s *MinioStore) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", URI(bucket, key), err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", URI(bucket, key), err)
	}
	return data, nil
}

// Put stores an object and returns its s3:// URI.
func (s *MinioStore) Put(ctx context.Context, bucket, key string, data []byte, contentType string) (string, error) {
	if err := s.EnsureBucket(ctx, bucket); err != nil {
		return "", err
	}
	_, err := s.client.PutObject(ctx, bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return "", fmt.Errorf("put %s: %w", URI(bucket, key), err)
	}
	return URI(bucket, key), nil
}

// List returns the URIs of all objects under prefix.
func (s *MinioStore) List(ctx context.Context, bucket, prefix string) ([]string, error) {
	var uris []string
	for obj := range s.client.ListObjects(ctx, bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("list %s: %w", URI(bucket, prefix), obj.Err)
		}
		uris = append(uris, URI(bucket, obj.Key))
	}
	return uris, nil
}
