package objectstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/go-cmp/cmp"
	"github.com/johannesboyne/gofakes3"
	"github.com/johannesboyne/gofakes3/backend/s3mem"

	"github.com/assetforge/assetforge/internal/config"
	"github.com/assetforge/assetforge/internal/report"
)

func fakeS3(t *testing.T) (*s3mem.Backend, string) {
	t.Helper()

	// Set mock AWS credentials to avoid IMDS errors.
	t.Setenv("AWS_ACCESS_KEY_ID", "mock-access-key")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "mock-secret-key")
	t.Setenv("AWS_REGION", "us-east-1")

	mock := s3mem.New()
	if err := mock.CreateBucket("test"); err != nil {
		t.Fatal(err)
	}
	ts := httptest.NewServer(gofakes3.New(mock).Server())
	t.Cleanup(ts.Close)
	return mock, ts.URL
}

func TestS3(t *testing.T) {
	mock, url := fakeS3(t)
	ctx := context.Background()

	storage, err := New(ctx, config.ObjectStorage{
		AmazonS3: &config.AmazonS3{Bucket: "test", Prefix: "site", URL: url},
	})
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}

	content := []byte("console.log(1)")
	if err := storage.Upload(ctx, "main.abc.js", bytes.NewReader(content), Metadata{
		ContentType:  "text/javascript",
		CacheControl: CacheImmutable,
	}); err != nil {
		t.Fatalf("expected no error while uploading: %v", err)
	}

	object, err := mock.GetObject("test", "site/main.abc.js", nil)
	if err != nil {
		t.Fatalf("expected no error while getting object: %v", err)
	}
	bs, err := io.ReadAll(object.Contents)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(bs, content) {
		t.Fatalf("unexpected object contents %q", bs)
	}

	s3Storage := storage.(*AmazonS3)
	key := "site/main.abc.js"
	output, err := s3Storage.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: &s3Storage.bucket, Key: &key})
	if err != nil {
		t.Fatalf("expected no error while getting object metadata: %v", err)
	}
	sum := sha256.Sum256(content)
	if output.Metadata["sha256"] != hex.EncodeToString(sum[:]) {
		t.Errorf("unexpected sha256 metadata %q", output.Metadata["sha256"])
	}

	r, err := storage.Download(ctx, "main.abc.js")
	if err != nil {
		t.Fatal(err)
	}
	if bs, _ := io.ReadAll(r); !bytes.Equal(bs, content) {
		t.Fatalf("unexpected download %q", bs)
	}
}

func writeOutput(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	files := map[string]string{
		"index.html":            "<html></html>",
		"main.abc.js":           "js",
		"main.def.css":          "css",
		"icons/favicon.123.ico": "ico",
		"robots.txt":            "User-agent: *",
	}
	for name, content := range files {
		p := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	r := report.Report{
		Entry: "index.html",
		Artifacts: []report.Artifact{
			{Name: "icons/favicon.123.ico", Fingerprint: "123"},
			{Name: "index.html", Kind: "entry"},
			{Name: "main.abc.js", Fingerprint: "abc"},
			{Name: "main.def.css", Fingerprint: "def"},
		},
	}
	bs, err := json.Marshal(r)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "report.json"), bs, 0o644); err != nil {
		t.Fatal(err)
	}
	return dir
}

func TestPlan(t *testing.T) {
	plan, err := Plan(writeOutput(t), "report.json")
	if err != nil {
		t.Fatal(err)
	}

	exp := []Upload{
		{Key: "icons/favicon.123.ico", CacheControl: CacheImmutable},
		{Key: "main.abc.js", CacheControl: CacheImmutable},
		{Key: "main.def.css", CacheControl: CacheImmutable},
		{Key: "robots.txt", CacheControl: CacheNone},
		{Key: "report.json", CacheControl: CacheNone},
		{Key: "index.html", CacheControl: CacheNone},
	}
	if diff := cmp.Diff(exp, plan); diff != "" {
		t.Fatalf("plan: (-want,+got)\n%s", diff)
	}
}

func TestPublishFileSystem(t *testing.T) {
	ctx := context.Background()
	dst := t.TempDir()

	storage, err := New(ctx, config.ObjectStorage{FileSystemStorage: &config.FileSystemStorage{Path: dst}})
	if err != nil {
		t.Fatal(err)
	}

	keys, err := NewPublisher(storage).WithParallelism(2).Publish(ctx, writeOutput(t), "report.json")
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 6 || keys[len(keys)-1] != "index.html" {
		t.Fatalf("expected entry document last, got %v", keys)
	}

	bs, err := os.ReadFile(filepath.Join(dst, "icons", "favicon.123.ico"))
	if err != nil {
		t.Fatal(err)
	}
	if string(bs) != "ico" {
		t.Fatalf("unexpected content %q", bs)
	}
}

func TestPublishS3(t *testing.T) {
	mock, url := fakeS3(t)
	ctx := context.Background()

	storage, err := New(ctx, config.ObjectStorage{AmazonS3: &config.AmazonS3{Bucket: "test", URL: url}})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := NewPublisher(storage).Publish(ctx, writeOutput(t), "report.json"); err != nil {
		t.Fatal(err)
	}

	for _, key := range []string{"index.html", "main.abc.js", "report.json", "icons/favicon.123.ico"} {
		if _, err := mock.HeadObject("test", key); err != nil {
			t.Errorf("expected %s to be uploaded: %v", key, err)
		}
	}
}
