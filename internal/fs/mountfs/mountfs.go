// Package mountfs presents existing file systems under fixed path prefixes,
// synthesizing the parent directories of every mount point.
package mountfs

import (
	"io"
	"io/fs"
	"maps"
	"path"
	"slices"
	"strings"
	"time"
)

// MountFS maps slash-separated prefixes to file systems. The empty prefix
// (or ".") mounts a file system at the root. Mounts must not change while the
// MountFS is in use.
type MountFS map[string]fs.FS

var (
	_ fs.FS        = MountFS(nil)
	_ fs.ReadDirFS = MountFS(nil)
)

func New(m map[string]fs.FS) MountFS {
	out := make(MountFS, len(m))
	for prefix, fsys := range m {
		prefix = strings.Trim(prefix, "/")
		if prefix == "" {
			prefix = "."
		}
		out[prefix] = fsys
	}
	return out
}

// resolve finds the mount serving name, preferring the longest prefix.
func (m MountFS) resolve(name string) (fs.FS, string, bool) {
	prefixes := slices.SortedFunc(maps.Keys(m), func(a, b string) int { return len(b) - len(a) })
	for _, prefix := range prefixes {
		switch {
		case prefix == ".":
			return m[prefix], name, true
		case name == prefix:
			return m[prefix], ".", true
		case strings.HasPrefix(name, prefix+"/"):
			return m[prefix], name[len(prefix)+1:], true
		}
	}
	return nil, "", false
}

// children returns the synthesized directory entries below dir, made up of
// the next path element of every mount point under it.
func (m MountFS) children(dir string) []string {
	set := map[string]struct{}{}
	for prefix := range m {
		if prefix == "." {
			continue
		}
		rest := prefix
		if dir != "." {
			if !strings.HasPrefix(prefix, dir+"/") {
				continue
			}
			rest = prefix[len(dir)+1:]
		}
		if i := strings.IndexByte(rest, '/'); i >= 0 {
			rest = rest[:i]
		}
		set[rest] = struct{}{}
	}
	return slices.Sorted(maps.Keys(set))
}

func (m MountFS) Open(name string) (fs.File, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrInvalid}
	}

	// Synthesized directories take precedence so that mount points below a
	// root mount stay reachable.
	if kids := m.children(name); len(kids) > 0 {
		entries, _ := m.ReadDir(name)
		return &dir{name: name, entries: entries}, nil
	}

	if fsys, rel, ok := m.resolve(name); ok {
		f, err := fsys.Open(rel)
		if err != nil {
			return nil, &fs.PathError{Op: "open", Path: name, Err: unwrap(err)}
		}
		if rel == "." {
			return &renamed{File: f, name: path.Base(name)}, nil
		}
		return f, nil
	}

	return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
}

func (m MountFS) ReadDir(name string) ([]fs.DirEntry, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: fs.ErrInvalid}
	}

	var entries []fs.DirEntry
	if fsys, rel, ok := m.resolve(name); ok {
		es, err := fs.ReadDir(fsys, rel)
		if err != nil && len(m.children(name)) == 0 {
			return nil, &fs.PathError{Op: "readdir", Path: name, Err: unwrap(err)}
		}
		entries = es
	}

	for _, kid := range m.children(name) {
		if slices.ContainsFunc(entries, func(e fs.DirEntry) bool { return e.Name() == kid }) {
			continue
		}
		entries = append(entries, fs.FileInfoToDirEntry(dirInfo(kid)))
	}

	if entries == nil {
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: fs.ErrNotExist}
	}

	slices.SortFunc(entries, func(a, b fs.DirEntry) int { return strings.Compare(a.Name(), b.Name()) })
	return entries, nil
}

func unwrap(err error) error {
	if pe, ok := err.(*fs.PathError); ok {
		return pe.Err
	}
	return err
}

type dirInfo string

func (d dirInfo) Name() string     { return path.Base(string(d)) }
func (dirInfo) Size() int64        { return 0 }
func (dirInfo) Mode() fs.FileMode  { return fs.ModeDir | 0o555 }
func (dirInfo) ModTime() time.Time { return time.Time{} }
func (dirInfo) IsDir() bool        { return true }
func (dirInfo) Sys() any           { return nil }

// dir is a synthesized directory.
type dir struct {
	name    string
	entries []fs.DirEntry
	offset  int
}

func (d *dir) Stat() (fs.FileInfo, error) { return dirInfo(d.name), nil }
func (*dir) Close() error                 { return nil }
func (d *dir) Read([]byte) (int, error) {
	return 0, &fs.PathError{Op: "read", Path: d.name, Err: fs.ErrInvalid}
}

func (d *dir) ReadDir(count int) ([]fs.DirEntry, error) {
	n := len(d.entries) - d.offset
	if n == 0 && count > 0 {
		return nil, io.EOF
	}
	if count > 0 && n > count {
		n = count
	}
	list := d.entries[d.offset : d.offset+n]
	d.offset += n
	return list, nil
}

// renamed reports the mount point name instead of "." for a mounted root.
type renamed struct {
	fs.File
	name string
}

func (r *renamed) Stat() (fs.FileInfo, error) {
	fi, err := r.File.Stat()
	if err != nil {
		return nil, err
	}
	return renamedInfo{FileInfo: fi, name: r.name}, nil
}

func (r *renamed) ReadDir(count int) ([]fs.DirEntry, error) {
	if rd, ok := r.File.(fs.ReadDirFile); ok {
		return rd.ReadDir(count)
	}
	return nil, &fs.PathError{Op: "readdir", Path: r.name, Err: fs.ErrInvalid}
}

type renamedInfo struct {
	fs.FileInfo
	name string
}

func (r renamedInfo) Name() string { return r.name }
