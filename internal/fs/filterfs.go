package fs

import (
	"fmt"
	"io/fs"
	"slices"

	"github.com/gobwas/glob"
)

// FilterFS hides files that do not match the inclusion patterns, or that match
// any of the exclusion patterns. Directories are always visible; patterns are
// matched against slash-separated paths relative to the filesystem root, with
// '*' not crossing directory boundaries and '**' crossing them.
type FilterFS struct {
	fsys     fs.FS
	included []glob.Glob
	excluded []glob.Glob
}

var (
	_ fs.FS        = (*FilterFS)(nil)
	_ fs.ReadDirFS = (*FilterFS)(nil)
)

// NewFilterFS wraps fsys. Empty included means "everything".
func NewFilterFS(fsys fs.FS, included, excluded []string) (*FilterFS, error) {
	inc, err := CompilePatterns(included)
	if err != nil {
		return nil, err
	}
	exc, err := CompilePatterns(excluded)
	if err != nil {
		return nil, err
	}
	return &FilterFS{fsys: fsys, included: inc, excluded: exc}, nil
}

// CompilePatterns compiles glob patterns with '/' as the separator.
func CompilePatterns(patterns []string) ([]glob.Glob, error) {
	gs := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		g, err := glob.Compile(p, '/')
		if err != nil {
			return nil, fmt.Errorf("failed to compile pattern %q: %w", p, err)
		}
		gs = append(gs, g)
	}
	return gs, nil
}

// MatchAny reports whether any of the compiled patterns matches name.
func MatchAny(gs []glob.Glob, name string) bool {
	return slices.ContainsFunc(gs, func(g glob.Glob) bool { return g.Match(name) })
}

func (f *FilterFS) visible(name string) bool {
	if len(f.included) > 0 && !MatchAny(f.included, name) {
		return false
	}
	return !MatchAny(f.excluded, name)
}

func (f *FilterFS) Open(name string) (fs.File, error) {
	file, err := f.fsys.Open(name)
	if err != nil {
		return nil, err
	}

	fi, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, err
	}

	if fi.IsDir() {
		if rd, ok := file.(fs.ReadDirFile); ok {
			return &filterDir{ReadDirFile: rd, fs: f, name: name}, nil
		}
		return file, nil
	}
	if !f.visible(name) {
		file.Close()
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
	}
	return file, nil
}

func (f *FilterFS) hidden(dir string, e fs.DirEntry) bool {
	if e.IsDir() {
		return false
	}
	p := e.Name()
	if dir != "." {
		p = dir + "/" + p
	}
	return !f.visible(p)
}

func (f *FilterFS) ReadDir(name string) ([]fs.DirEntry, error) {
	entries, err := fs.ReadDir(f.fsys, name)
	if err != nil {
		return nil, err
	}

	return slices.DeleteFunc(entries, func(e fs.DirEntry) bool { return f.hidden(name, e) }), nil
}

// filterDir applies the filter to directory listings read through an open
// directory, as fs.WalkDir and merged filesystems do.
type filterDir struct {
	fs.ReadDirFile
	fs   *FilterFS
	name string
}

func (d *filterDir) ReadDir(n int) ([]fs.DirEntry, error) {
	if n <= 0 {
		entries, err := d.ReadDirFile.ReadDir(n)
		return slices.DeleteFunc(entries, func(e fs.DirEntry) bool { return d.fs.hidden(d.name, e) }), err
	}

	var out []fs.DirEntry
	for len(out) < n {
		entries, err := d.ReadDirFile.ReadDir(n - len(out))
		for _, e := range entries {
			if !d.fs.hidden(d.name, e) {
				out = append(out, e)
			}
		}
		if err != nil {
			return out, err
		}
	}
	return out, nil
}
