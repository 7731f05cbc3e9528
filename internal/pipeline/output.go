package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

// lock takes the exclusive lock guarding dir. The lock file lives next to
// dir, so it survives the directory swap.
func lock(ctx context.Context, dir string) (*flock.Flock, error) {
	parent, base := splitDir(dir)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return nil, err
	}

	fl := flock.New(filepath.Join(parent, "."+base+".lock"))
	ok, err := fl.TryLockContext(ctx, 100*time.Millisecond)
	if err != nil {
		return nil, fmt.Errorf("failed to lock output directory %s: %w", dir, err)
	}
	if !ok {
		return nil, fmt.Errorf("output directory %s is locked by another build", dir)
	}
	return fl, nil
}

// staging is a directory next to the output directory that receives every
// file of a build before it replaces the output directory.
type staging struct {
	dir    string
	target string
}

func newStaging(target string) (*staging, error) {
	parent, base := splitDir(target)
	dir, err := os.MkdirTemp(parent, "."+base+".staging-")
	if err != nil {
		return nil, err
	}
	return &staging{dir: dir, target: target}, nil
}

func (s *staging) write(name string, data []byte) error {
	p := filepath.Join(s.dir, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	return os.WriteFile(p, data, 0o644)
}

// commit replaces the output directory by the staging directory. The
// previous output is moved aside first and removed once the swap succeeded.
func (s *staging) commit() error {
	parent, base := splitDir(s.target)

	var old string
	if _, err := os.Stat(s.target); err == nil {
		tmp, err := os.MkdirTemp(parent, "."+base+".old-")
		if err != nil {
			return err
		}
		old = filepath.Join(tmp, base)
		if err := os.Rename(s.target, old); err != nil {
			os.Remove(tmp)
			return err
		}
		defer os.RemoveAll(tmp)
	} else if !os.IsNotExist(err) {
		return err
	}

	if err := os.Rename(s.dir, s.target); err != nil {
		if old != "" {
			_ = os.Rename(old, s.target)
		}
		return err
	}

	// MkdirTemp creates directories with mode 0700.
	return os.Chmod(s.target, 0o755)
}

func (s *staging) discard() {
	os.RemoveAll(s.dir)
}

func splitDir(dir string) (string, string) {
	dir = filepath.Clean(dir)
	return filepath.Dir(dir), filepath.Base(dir)
}
