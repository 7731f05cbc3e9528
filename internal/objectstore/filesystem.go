package objectstore

import (
	"context"
	"io"
	"os"
	"path/filepath"
)

// FileSystemStorage copies objects below a local directory. Metadata is not
// kept.
type FileSystemStorage struct {
	path string
}

func (f *FileSystemStorage) Upload(_ context.Context, key string, body io.ReadSeeker, _ Metadata) error {
	dst := filepath.Join(f.path, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, body); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func (f *FileSystemStorage) Download(_ context.Context, key string) (io.Reader, error) {
	r, err := os.Open(filepath.Join(f.path, filepath.FromSlash(key)))
	if err != nil {
		return nil, err
	}
	return download(r)
}
