package archive

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/storage"

	"todoapp/pkg/logger"
)

// GCSStore archives into a Google Cloud Storage bucket. STORAGE_EMULATOR_HOST is honoured by the client.
type GCSStore struct {
	client    *storage.Client
	bucket    string
	projectID string
}

// NewGCSStore creates a client with application default credentials.
func NewGCSStore(ctx context.Context, bucket, projectID string) (*GCSStore, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("gcs client: %w", err)
	}
	return &GCSStore{client: client, bucket: bucket, projectID: projectID}, nil
}

func (s *GCSStore) EnsureContainer(ctx context.Context) error {
	bkt := s.client.Bucket(s.bucket)
	_, err := bkt.Attrs(ctx)
	if err == nil {
		return nil
	}
	if !errors.Is(err, storage.ErrBucketNotExist) {
		return fmt.Errorf("bucket %s attrs: %w", s.bucket, err)
	}
	if s.projectID == "" {
		return fmt.Errorf("bucket %s does not exist and GCS_PROJECT_ID is not set", s.bucket)
	}
	if err := bkt.Create(ctx, s.projectID, nil); err != nil {
		return fmt.Errorf("create bucket %s: %w", s.bucket, err)
	}
	logger.Info(ctx, "Archive bucket created", "bucket", s.bucket)
	return nil
}

func (s *GCSStore) PutBlob(ctx context.Context, name string, data []byte) error {
	w := s.client.Bucket(s.bucket).Object(name).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("write %s/%s: %w", s.bucket, name, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close %s/%s: %w", s.bucket, name, err)
	}
	return nil
}

func (s *GCSStore) Close() error {
	return s.client.Close()
}
