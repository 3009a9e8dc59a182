package snapshot

import (
	"context"
	"fmt"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"
)

// GCSStore implements monitor.SnapshotStore on a Google Cloud Storage
// bucket. Authentication uses Application Default Credentials.
type GCSStore struct {
	client *storage.Client
	bucket string
	logger *zap.Logger
}

// NewGCSStore creates the client and verifies the bucket is reachable,
// failing fast on misconfiguration.
func NewGCSStore(ctx context.Context, bucket string, logger *zap.Logger) (*GCSStore, error) {
	if bucket == "" {
		return nil, fmt.Errorf("snapshot bucket name is required")
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	if _, err := client.Bucket(bucket).Attrs(ctx); err != nil {
		if closeErr := client.Close(); closeErr != nil {
			logger.Warn("close storage client after bucket check failure", zap.Error(closeErr))
		}
		return nil, fmt.Errorf("check snapshot bucket %q: %w", bucket, err)
	}
	return &GCSStore{client: client, bucket: bucket, logger: logger}, nil
}

// Save uploads one page snapshot.
func (s *GCSStore) Save(ctx context.Context, objectName string, data []byte) error {
	wc := s.client.Bucket(s.bucket).Object(objectName).NewWriter(ctx)
	wc.ContentType = "text/html; charset=utf-8"
	if _, err := wc.Write(data); err != nil {
		if closeErr := wc.Close(); closeErr != nil {
			s.logger.Warn("close snapshot writer after write failure", zap.Error(closeErr))
		}
		return fmt.Errorf("write snapshot object %s: %w", objectName, err)
	}
	if err := wc.Close(); err != nil {
		return fmt.Errorf("finalize snapshot object %s: %w", objectName, err)
	}
	return nil
}

// Close releases the storage client.
func (s *GCSStore) Close() error {
	return s.client.Close()
}
