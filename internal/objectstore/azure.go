package objectstore

import (
	"context"
	"fmt"
	"io"
	"path"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"

	"github.com/assetforge/assetforge/internal/config"
)

type AzureBlobStorage struct {
	client    *azblob.Client
	container string
	prefix    string
}

func newAzureBlobStorage(cfg *config.AzureBlobStorage) (*AzureBlobStorage, error) {
	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to obtain Azure credentials: %w", err)
	}

	client, err := azblob.NewClient(cfg.AccountURL, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure blob client: %w", err)
	}

	return &AzureBlobStorage{client: client, container: cfg.Container, prefix: cfg.Prefix}, nil
}

func (a *AzureBlobStorage) Upload(ctx context.Context, key string, body io.ReadSeeker, meta Metadata) error {
	sum, err := checksum(body)
	if err != nil {
		return err
	}

	headers := &blob.HTTPHeaders{}
	if meta.ContentType != "" {
		headers.BlobContentType = &meta.ContentType
	}
	if meta.CacheControl != "" {
		headers.BlobCacheControl = &meta.CacheControl
	}

	if _, err := a.client.UploadStream(ctx, a.container, path.Join(a.prefix, key), body, &azblob.UploadStreamOptions{
		HTTPHeaders: headers,
		Metadata:    map[string]*string{"sha256": &sum},
	}); err != nil {
		return fmt.Errorf("failed to upload %s to container %s: %w", key, a.container, err)
	}
	return nil
}

func (a *AzureBlobStorage) Download(ctx context.Context, key string) (io.Reader, error) {
	resp, err := a.client.DownloadStream(ctx, a.container, path.Join(a.prefix, key), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to download %s from container %s: %w", key, a.container, err)
	}
	return download(resp.Body)
}
