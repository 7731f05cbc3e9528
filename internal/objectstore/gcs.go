package objectstore

import (
	"context"
	"fmt"
	"io"
	"path"

	"cloud.google.com/go/storage"

	"github.com/assetforge/assetforge/internal/config"
)

type GCPCloudStorage struct {
	client *storage.Client
	bucket string
	prefix string
}

func newGCPCloudStorage(ctx context.Context, cfg *config.GCPCloudStorage) (*GCPCloudStorage, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}
	return &GCPCloudStorage{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

func (g *GCPCloudStorage) Upload(ctx context.Context, key string, body io.ReadSeeker, meta Metadata) error {
	sum, err := checksum(body)
	if err != nil {
		return err
	}

	w := g.client.Bucket(g.bucket).Object(path.Join(g.prefix, key)).NewWriter(ctx)
	w.ContentType = meta.ContentType
	w.CacheControl = meta.CacheControl
	w.Metadata = map[string]string{"sha256": sum}

	if _, err := io.Copy(w, body); err != nil {
		w.Close()
		return fmt.Errorf("failed to upload %s to gs://%s: %w", key, g.bucket, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to upload %s to gs://%s: %w", key, g.bucket, err)
	}
	return nil
}

func (g *GCPCloudStorage) Download(ctx context.Context, key string) (io.Reader, error) {
	r, err := g.client.Bucket(g.bucket).Object(path.Join(g.prefix, key)).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to download %s from gs://%s: %w", key, g.bucket, err)
	}
	return download(r)
}
