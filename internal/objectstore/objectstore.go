// Package objectstore publishes a finished build to object storage.
package objectstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"

	"github.com/assetforge/assetforge/internal/config"
)

const (
	CacheImmutable = "public, max-age=31536000, immutable"
	CacheNone      = "no-cache"
)

// Metadata travels with every uploaded object.
type Metadata struct {
	ContentType  string
	CacheControl string
}

type ObjectStorage interface {
	Upload(ctx context.Context, key string, body io.ReadSeeker, meta Metadata) error
	Download(ctx context.Context, key string) (io.Reader, error)
}

// New returns the storage backend configured in cfg.
func New(ctx context.Context, cfg config.ObjectStorage) (ObjectStorage, error) {
	switch {
	case cfg.AmazonS3 != nil:
		return newAmazonS3(ctx, cfg.AmazonS3)
	case cfg.GCPCloudStorage != nil:
		return newGCPCloudStorage(ctx, cfg.GCPCloudStorage)
	case cfg.AzureBlobStorage != nil:
		return newAzureBlobStorage(cfg.AzureBlobStorage)
	case cfg.FileSystemStorage != nil:
		return &FileSystemStorage{path: cfg.FileSystemStorage.Path}, nil
	}
	return nil, errors.New("no object storage configured")
}

// checksum returns the hex sha256 of body and rewinds it.
func checksum(body io.ReadSeeker) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, body); err != nil {
		return "", err
	}
	if _, err := body.Seek(0, io.SeekStart); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func download(r io.ReadCloser) (io.Reader, error) {
	defer r.Close()
	bs, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return bytes.NewReader(bs), nil
}
