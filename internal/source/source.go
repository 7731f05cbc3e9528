// Package source discovers the input files of a build across all configured
// source directories.
package source

import (
	"context"
	"fmt"
	"io/fs"
	"os"

	"github.com/yalue/merged_fs"

	"github.com/assetforge/assetforge/internal/config"
	ocp_fs "github.com/assetforge/assetforge/internal/fs"
	"github.com/assetforge/assetforge/internal/fs/mountfs"
	"github.com/assetforge/assetforge/pkg/stage"
)

// Asset is one discovered input file. It is immutable once read.
type Asset struct {
	// Path is slash-separated and relative to the merged source root.
	Path string

	// Kind is assigned by the rule table, or KindIconSource for the
	// configured icon source.
	Kind stage.Kind

	Data []byte

	// Passthrough assets bypass every transformation chain.
	Passthrough bool
}

// Source is one configured input directory with its filters applied, mounted
// at its prefix.
type Source struct {
	Dir         string
	Prefix      string
	Passthrough bool

	fsys fs.FS
}

// Tree is the merged view over all sources. Earlier sources shadow later ones
// when two of them provide the same path.
type Tree struct {
	sources []*Source
	fsys    fs.FS
}

// New opens every source of the configuration. Relative directories are
// resolved against the configuration directory.
func New(root *config.Root) (*Tree, error) {
	t := &Tree{}
	for _, src := range root.Sources {
		dir := root.Path(src.Directory)
		if err := t.AddDir(dir, src); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// AddDir adds a source directory. Filters are applied before mounting, so
// include and exclude patterns are relative to dir, not to the prefix.
func (t *Tree) AddDir(dir string, src *config.Source) error {
	fi, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("source %s: %w", src.Directory, err)
	}
	if !fi.IsDir() {
		return fmt.Errorf("source %s: not a directory", src.Directory)
	}

	f, err := ocp_fs.NewFilterFS(os.DirFS(dir), src.IncludedFiles, src.ExcludedFiles)
	if err != nil {
		return fmt.Errorf("source %s: %w", src.Directory, err)
	}

	t.AddFS(&Source{Dir: dir, Prefix: src.Prefix, Passthrough: src.Passthrough}, f)
	return nil
}

// AddFS adds an already filtered file system as a source.
func (t *Tree) AddFS(src *Source, fsys fs.FS) {
	src.fsys = mountfs.New(map[string]fs.FS{src.Prefix: fsys})
	t.sources = append(t.sources, src)

	fses := make([]fs.FS, len(t.sources))
	for i := range t.sources {
		fses[i] = t.sources[i].fsys
	}
	t.fsys = merged_fs.MergeMultiple(fses...)
}

// FS returns the merged file system.
func (t *Tree) FS() fs.FS {
	return t.fsys
}

// Dirs returns the underlying OS directories, for watching.
func (t *Tree) Dirs() []string {
	dirs := make([]string, 0, len(t.sources))
	for _, src := range t.sources {
		if src.Dir != "" {
			dirs = append(dirs, src.Dir)
		}
	}
	return dirs
}

// Discover reads every file of the tree, in lexical path order.
func (t *Tree) Discover(ctx context.Context) ([]*Asset, error) {
	if t.fsys == nil {
		return nil, nil
	}

	paths, err := ocp_fs.Files(t.fsys)
	if err != nil {
		return nil, err
	}

	assets := make([]*Asset, 0, len(paths))
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		bs, err := fs.ReadFile(t.fsys, p)
		if err != nil {
			return nil, err
		}

		assets = append(assets, &Asset{Path: p, Data: bs, Passthrough: t.passthrough(p)})
	}

	return assets, nil
}

// passthrough reports whether the source that provides p is a pass-through
// source.
func (t *Tree) passthrough(p string) bool {
	for _, src := range t.sources {
		if _, err := fs.Stat(src.fsys, p); err == nil {
			return src.Passthrough
		}
	}
	return false
}
