package source_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/google/go-cmp/cmp"

	"github.com/assetforge/assetforge/internal/config"
	"github.com/assetforge/assetforge/internal/source"
)

func writeFiles(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		p := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestDiscover(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{
		"src/index.js":                  "a",
		"src/styles/main.css":           "b",
		"src/node_modules/x/index.js":   "c",
		"src/favicon.png":               "d",
		"public/robots.txt":             "e",
		"public/index.js":               "shadowed",
		"vendor/fonts/roboto/font.woff": "f",
	})

	root := &config.Root{
		Dir: dir,
		Sources: []*config.Source{
			{Directory: "src", ExcludedFiles: config.StringSet{"**/node_modules/**", "node_modules/**"}},
			{Directory: "public", Passthrough: true},
			{Directory: "vendor/fonts", Prefix: "fonts"},
		},
	}

	tree, err := source.New(root)
	if err != nil {
		t.Fatal(err)
	}

	assets, err := tree.Discover(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	type result struct {
		Path        string
		Data        string
		Passthrough bool
	}
	var got []result
	for _, a := range assets {
		got = append(got, result{a.Path, string(a.Data), a.Passthrough})
	}

	exp := []result{
		{"favicon.png", "d", false},
		{"fonts/roboto/font.woff", "f", false},
		{"index.js", "a", false},
		{"robots.txt", "e", true},
		{"styles/main.css", "b", false},
	}
	if diff := cmp.Diff(exp, got); diff != "" {
		t.Fatalf("unexpected assets (-want,+got):\n%s", diff)
	}

	if len(tree.Dirs()) != 3 {
		t.Fatalf("expected 3 watched dirs, got %v", tree.Dirs())
	}
}

func TestMissingSourceDirectory(t *testing.T) {
	root := &config.Root{Dir: t.TempDir(), Sources: []*config.Source{{Directory: "missing"}}}
	if _, err := source.New(root); err == nil {
		t.Fatal("expected error for missing source directory")
	}
}

func TestAddFS(t *testing.T) {
	var tree source.Tree
	tree.AddFS(&source.Source{Prefix: "static"}, fstest.MapFS{"a.txt": {Data: []byte("x")}})

	assets, err := tree.Discover(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(assets) != 1 || assets[0].Path != "static/a.txt" {
		t.Fatalf("unexpected assets %+v", assets)
	}
}

func TestDiscoverCancelled(t *testing.T) {
	var tree source.Tree
	tree.AddFS(&source.Source{}, fstest.MapFS{"a.txt": {Data: []byte("x")}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := tree.Discover(ctx); err == nil {
		t.Fatal("expected cancellation error")
	}
}
