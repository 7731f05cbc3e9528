package objectstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"mime"
	"os"
	"path"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/assetforge/assetforge/internal/logging"
	"github.com/assetforge/assetforge/internal/metrics"
	"github.com/assetforge/assetforge/internal/report"
)

// Publisher uploads a build output directory. Fingerprinted artifacts go
// first and in parallel, then the unfingerprinted files, then the report, and
// the entry document last, so that a client never loads an entry document
// referencing artifacts that do not exist yet.
type Publisher struct {
	storage     ObjectStorage
	log         *logging.Logger
	parallelism int
}

func NewPublisher(storage ObjectStorage) *Publisher {
	return &Publisher{storage: storage, log: logging.NewLoggerOrDefault(nil), parallelism: 4}
}

func (p *Publisher) WithLogger(log *logging.Logger) *Publisher {
	p.log = logging.NewLoggerOrDefault(log)
	return p
}

// WithParallelism bounds the concurrent uploads. Zero keeps the default.
func (p *Publisher) WithParallelism(n int) *Publisher {
	if n > 0 {
		p.parallelism = n
	}
	return p
}

// Upload is a single object in publish order.
type Upload struct {
	Key          string
	CacheControl string
}

// Plan returns the uploads for the output directory dir in publish order.
// reportName is the report file inside dir.
func Plan(dir, reportName string) ([]Upload, error) {
	bs, err := os.ReadFile(filepath.Join(dir, reportName))
	if err != nil {
		return nil, fmt.Errorf("failed to read build report: %w", err)
	}
	var r report.Report
	if err := json.Unmarshal(bs, &r); err != nil {
		return nil, fmt.Errorf("failed to decode build report: %w", err)
	}

	fingerprinted := make(map[string]bool, len(r.Artifacts))
	for _, a := range r.Artifacts {
		fingerprinted[a.Name] = a.Fingerprint != ""
	}

	var immutable, mutable []Upload
	err = fs.WalkDir(os.DirFS(dir), ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		switch {
		case p == reportName || p == r.Entry:
		case fingerprinted[p]:
			immutable = append(immutable, Upload{Key: p, CacheControl: CacheImmutable})
		default:
			mutable = append(mutable, Upload{Key: p, CacheControl: CacheNone})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	plan := append(immutable, mutable...)
	plan = append(plan, Upload{Key: reportName, CacheControl: CacheNone})
	if r.Entry != "" {
		plan = append(plan, Upload{Key: r.Entry, CacheControl: CacheNone})
	}
	return plan, nil
}

// Publish uploads every file of dir and returns the uploaded keys in order.
func (p *Publisher) Publish(ctx context.Context, dir, reportName string) ([]string, error) {
	plan, err := Plan(dir, reportName)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	defer func() {
		metrics.PublishDuration.WithLabelValues(Backend(p.storage)).Observe(time.Since(start).Seconds())
	}()

	upload := func(ctx context.Context, u Upload) error {
		bs, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(u.Key)))
		if err != nil {
			return err
		}
		p.log.Debugf("Uploading %s (%s)", u.Key, u.CacheControl)
		return p.storage.Upload(ctx, u.Key, bytes.NewReader(bs), Metadata{
			ContentType:  contentType(u.Key),
			CacheControl: u.CacheControl,
		})
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.parallelism)

	var i int
	for ; i < len(plan) && plan[i].CacheControl == CacheImmutable; i++ {
		u := plan[i]
		g.Go(func() error { return upload(gctx, u) })
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, u := range plan[i:] {
		if err := upload(ctx, u); err != nil {
			return nil, err
		}
	}

	keys := make([]string, len(plan))
	for i, u := range plan {
		keys[i] = u.Key
	}
	p.log.Infof("Published %d objects to %s", len(keys), Backend(p.storage))
	return keys, nil
}

func Backend(s ObjectStorage) string {
	switch s.(type) {
	case *AmazonS3:
		return "s3"
	case *GCPCloudStorage:
		return "gcs"
	case *AzureBlobStorage:
		return "azure"
	case *FileSystemStorage:
		return "filesystem"
	}
	return "custom"
}

func contentType(key string) string {
	if ct := mime.TypeByExtension(path.Ext(key)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
