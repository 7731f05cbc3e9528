// Package fingerprint derives content-addressed artifact names.
//
// A name is a pure function of the artifact bytes and its name template:
// identical bytes always yield the identical name, on any machine, and any
// change to the bytes changes the fingerprint.
package fingerprint

import (
	"bytes"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io/fs"
	"maps"
	"path"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/assetforge/assetforge/internal/config"
	"github.com/assetforge/assetforge/pkg/stage"
)

var ErrNamingCollision = errors.New("naming collision")

// CollisionError is returned when two artifacts with different content are
// assigned the same final name.
type CollisionError struct {
	Name     string
	Existing []string
	Sources  []string
}

func (e *CollisionError) Error() string {
	return fmt.Sprintf("%s: produced by %s and %s with different content",
		e.Name, strings.Join(e.Existing, ", "), strings.Join(e.Sources, ", "))
}

func (e *CollisionError) Unwrap() error {
	return ErrNamingCollision
}

// Artifact is one output file.
type Artifact struct {
	// Template is the name template, e.g. "[name].[hash].js".
	Template string

	// Name, Ext and Dir fill the [name], [ext] and [path] placeholders.
	Name string
	Ext  string
	Dir  string

	Data    []byte
	Kind    stage.Kind
	Sources []string

	// MediaType is recorded for publishing.
	MediaType string

	// Fingerprint and Final are set by the Namer.
	Fingerprint string
	Final       string
}

// New returns an artifact named after the source path p.
func New(p, template string, data []byte, kind stage.Kind) *Artifact {
	base := path.Base(p)
	ext := path.Ext(base)
	dir := path.Dir(p)
	if dir == "." {
		dir = ""
	} else {
		dir += "/"
	}
	return &Artifact{
		Template: template,
		Name:     strings.TrimSuffix(base, ext),
		Ext:      strings.TrimPrefix(ext, "."),
		Dir:      dir,
		Data:     data,
		Kind:     kind,
		Sources:  []string{p},
	}
}

func (a *Artifact) Size() int {
	return len(a.Data)
}

var placeholder = regexp.MustCompile(`\[(name|ext|hash|path)(?::(\d+))?\]`)

// Namer assigns final names and detects collisions. It is safe for
// concurrent use.
type Namer struct {
	algorithm string
	length    int

	mu    sync.Mutex
	names map[string]*Artifact
}

func NewNamer(cfg config.Fingerprint) *Namer {
	algorithm := cfg.Algorithm
	if algorithm == "" {
		algorithm = config.AlgorithmSHA256
	}
	length := cfg.Length
	if length == 0 {
		length = config.DefaultHashLength
	}
	return &Namer{algorithm: algorithm, length: length, names: make(map[string]*Artifact)}
}

// Digest returns the full hex digest of data.
func (n *Namer) Digest(data []byte) string {
	var h hash.Hash
	if n.algorithm == config.AlgorithmMD5 {
		h = md5.New()
	} else {
		h = sha256.New()
	}
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// Expand renders the template for a, without registering the result.
func (n *Namer) Expand(a *Artifact) (string, string) {
	digest := n.Digest(a.Data)
	fp := truncate(digest, n.length)

	final := placeholder.ReplaceAllStringFunc(a.Template, func(m string) string {
		sub := placeholder.FindStringSubmatch(m)
		switch sub[1] {
		case "name":
			return a.Name
		case "ext":
			return a.Ext
		case "path":
			return a.Dir
		case "hash":
			if sub[2] == "" {
				return fp
			}
			l, _ := strconv.Atoi(sub[2])
			return truncate(digest, l)
		}
		return m
	})

	return final, fp
}

// Name computes the final name of a and registers it. A second artifact
// with the same name and the same bytes is folded into the first one; with
// different bytes it is a collision. Artifacts whose template carries no
// hash placeholder get an empty Fingerprint: their name does not change
// with their content.
func (n *Namer) Name(a *Artifact) (string, error) {
	final, fp := n.Expand(a)
	if !strings.Contains(a.Template, "[hash") {
		fp = ""
	}
	if !fs.ValidPath(final) || final == "." {
		return "", fmt.Errorf("template %q yields invalid name %q for %s", a.Template, final, strings.Join(a.Sources, ", "))
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if existing, ok := n.names[final]; ok && existing != a {
		if !bytes.Equal(existing.Data, a.Data) {
			return "", &CollisionError{Name: final, Existing: existing.Sources, Sources: a.Sources}
		}
		for _, s := range a.Sources {
			if !slices.Contains(existing.Sources, s) {
				existing.Sources = append(existing.Sources, s)
			}
		}
		a.Fingerprint, a.Final = fp, final
		return final, nil
	}

	a.Fingerprint, a.Final = fp, final
	n.names[final] = a
	return final, nil
}

// Artifacts returns the registered, deduplicated artifacts ordered by final
// name.
func (n *Namer) Artifacts() []*Artifact {
	n.mu.Lock()
	defer n.mu.Unlock()

	out := make([]*Artifact, 0, len(n.names))
	for _, name := range slices.Sorted(maps.Keys(n.names)) {
		out = append(out, n.names[name])
	}
	return out
}

func truncate(s string, n int) string {
	if n <= 0 || n >= len(s) {
		return s
	}
	return s[:n]
}
