package objectstore

import (
	"context"
	"fmt"
	"io"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/assetforge/assetforge/internal/config"
)

type AmazonS3 struct {
	client *s3.Client
	bucket string
	prefix string
}

func newAmazonS3(ctx context.Context, cfg *config.AmazonS3) (*AmazonS3, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.URL != "" {
			o.BaseEndpoint = aws.String(cfg.URL)
			o.UsePathStyle = true
			o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
			o.ResponseChecksumValidation = aws.ResponseChecksumValidationWhenRequired
		}
	})

	return &AmazonS3{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

func (s *AmazonS3) Upload(ctx context.Context, key string, body io.ReadSeeker, meta Metadata) error {
	sum, err := checksum(body)
	if err != nil {
		return err
	}

	input := &s3.PutObjectInput{
		Bucket:   aws.String(s.bucket),
		Key:      aws.String(path.Join(s.prefix, key)),
		Body:     body,
		Metadata: map[string]string{"sha256": sum},
	}
	if meta.ContentType != "" {
		input.ContentType = aws.String(meta.ContentType)
	}
	if meta.CacheControl != "" {
		input.CacheControl = aws.String(meta.CacheControl)
	}

	if _, err := manager.NewUploader(s.client).Upload(ctx, input); err != nil {
		return fmt.Errorf("failed to upload %s to s3://%s: %w", key, s.bucket, err)
	}
	return nil
}

func (s *AmazonS3) Download(ctx context.Context, key string) (io.Reader, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(path.Join(s.prefix, key)),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to download %s from s3://%s: %w", key, s.bucket, err)
	}
	return download(out.Body)
}
