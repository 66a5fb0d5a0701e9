package store

import (
	"context"
	"fmt"

	"cloud.google.com/go/storage"
)

// GCS writes objects to a Google Cloud Storage bucket.
type GCS struct {
	bucket *storage.BucketHandle
	prefix string
}

// NewGCS uses the application default credentials.
func NewGCS(ctx context.Context, bucket, prefix string) (*GCS, error) {
	if bucket == "" {
		return nil, fmt.Errorf("gcs bucket required")
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("storage.newclient: %w", err)
	}
	return NewGCSFromClient(client, bucket, prefix), nil
}

func NewGCSFromClient(client *storage.Client, bucket, prefix string) *GCS {
	return &GCS{bucket: client.Bucket(bucket), prefix: prefix}
}

// Put uploads data in one object write. The upload is aborted, and no object created,
// when writing fails or ctx is cancelled.
func (g *GCS) Put(ctx context.Context, key string, data []byte) error {
	if err := validKey(key); err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	w := g.bucket.Object(join(g.prefix, key)).NewWriter(ctx)
	if _, err := w.Write(data); err != nil {
		cancel()
		_ = w.Close()
		return fmt.Errorf("write gs object %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close gs object %s: %w", key, err)
	}
	return nil
}
