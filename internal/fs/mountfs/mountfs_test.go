package mountfs_test

import (
	"io/fs"
	"testing"
	"testing/fstest"

	"github.com/google/go-cmp/cmp"

	"github.com/assetforge/assetforge/internal/fs/mountfs"
)

func TestMountFS(t *testing.T) {
	fsys := mountfs.New(map[string]fs.FS{
		"":               fstest.MapFS{"index.js": {Data: []byte("a")}, "lib/util.js": {Data: []byte("b")}},
		"vendor/fonts":   fstest.MapFS{"a.woff": {Data: []byte("c")}},
		"vendor/fonts/x": fstest.MapFS{"b.woff": {Data: []byte("d")}},
		"static/":        fstest.MapFS{"robots.txt": {Data: []byte("e")}},
	})

	var files []string
	if err := fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			files = append(files, p)
		}
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	exp := []string{"index.js", "lib/util.js", "static/robots.txt", "vendor/fonts/a.woff", "vendor/fonts/x/b.woff"}
	if diff := cmp.Diff(exp, files); diff != "" {
		t.Fatalf("unexpected files (-want,+got):\n%s", diff)
	}

	bs, err := fs.ReadFile(fsys, "vendor/fonts/x/b.woff")
	if err != nil {
		t.Fatal(err)
	}
	if string(bs) != "d" {
		t.Fatalf("expected nested mount to win, got %q", bs)
	}

	fi, err := fs.Stat(fsys, "vendor/fonts")
	if err != nil {
		t.Fatal(err)
	}
	if !fi.IsDir() || fi.Name() != "fonts" {
		t.Fatalf("unexpected mount point info: %v %v", fi.Name(), fi.IsDir())
	}

	if _, err := fsys.Open("vendor/missing.txt"); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestMountFSWithoutRoot(t *testing.T) {
	fsys := mountfs.New(map[string]fs.FS{
		"a/b": fstest.MapFS{"c.css": {Data: []byte("x")}},
	})

	xs, err := fs.ReadDir(fsys, ".")
	if err != nil {
		t.Fatal(err)
	}
	if len(xs) != 1 || xs[0].Name() != "a" || !xs[0].IsDir() {
		t.Fatalf("unexpected root entries: %v", xs)
	}

	if _, err := fs.ReadDir(fsys, "z"); err == nil {
		t.Fatal("expected error for unknown directory")
	}

	if bs, err := fs.ReadFile(fsys, "a/b/c.css"); err != nil || string(bs) != "x" {
		t.Fatalf("unexpected read: %q, %v", bs, err)
	}
}
