// Package report describes the composition of a finished build: which
// artifacts were produced, from which sources, and how large they are.
package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
	"github.com/olekukonko/tablewriter"

	"github.com/assetforge/assetforge/internal/buildctx"
	"github.com/assetforge/assetforge/internal/fingerprint"
)

// Artifact is one row of the report.
type Artifact struct {
	Name        string   `json:"name"`
	Kind        string   `json:"kind"`
	Fingerprint string   `json:"fingerprint,omitempty"`
	Size        int      `json:"size"`
	GzipSize    int      `json:"gzip_size"`
	Sources     []string `json:"sources,omitempty"`
}

type Report struct {
	// BuildID is derived from the artifact names, so two builds of the same
	// content share it.
	BuildID   string                 `json:"build_id"`
	Context   *buildctx.BuildContext `json:"context"`
	Defines   map[string]string      `json:"defines,omitempty"`
	Undefined []string               `json:"undefined,omitempty"`
	Entry     string                 `json:"entry"`
	Artifacts []Artifact             `json:"artifacts"`
	Size      int                    `json:"size"`
	GzipSize  int                    `json:"gzip_size"`
	Inlined   []string               `json:"inlined,omitempty"`
}

// Options carries the optional parts of the report.
type Options struct {
	Defines   map[string]string
	Undefined []string
	Inlined   []string
}

// New builds the report for the given artifacts. The entry document is
// listed as an artifact of kind "entry".
func New(bc *buildctx.BuildContext, artifacts []*fingerprint.Artifact, entryName string, entryData []byte, opts Options) (*Report, error) {
	r := &Report{
		Context:   bc,
		Defines:   opts.Defines,
		Undefined: opts.Undefined,
		Entry:     entryName,
		Inlined:   opts.Inlined,
	}

	add := func(a Artifact, data []byte) error {
		gz, err := gzipSize(data)
		if err != nil {
			return err
		}
		a.Size, a.GzipSize = len(data), gz
		r.Artifacts = append(r.Artifacts, a)
		r.Size += a.Size
		r.GzipSize += a.GzipSize
		return nil
	}

	for _, a := range artifacts {
		if err := add(Artifact{
			Name:        a.Final,
			Kind:        string(a.Kind),
			Fingerprint: a.Fingerprint,
			Sources:     a.Sources,
		}, a.Data); err != nil {
			return nil, err
		}
	}
	if entryName != "" {
		if err := add(Artifact{Name: entryName, Kind: "entry"}, entryData); err != nil {
			return nil, err
		}
	}

	slices.SortFunc(r.Artifacts, func(a, b Artifact) int { return strings.Compare(a.Name, b.Name) })

	names := make([]string, len(r.Artifacts))
	for i, a := range r.Artifacts {
		names[i] = a.Name
	}
	r.BuildID = uuid.NewSHA1(uuid.NameSpaceURL, []byte(strings.Join(names, "\n"))).String()

	return r, nil
}

func (r *Report) JSON() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}

// WriteTable renders a human readable summary.
func (r *Report) WriteTable(w io.Writer) error {
	table := tablewriter.NewWriter(w)
	table.Header("Artifact", "Kind", "Size", "Gzip")
	for _, a := range r.Artifacts {
		if err := table.Append([]string{a.Name, a.Kind, humanize.Bytes(uint64(a.Size)), humanize.Bytes(uint64(a.GzipSize))}); err != nil {
			return err
		}
	}
	if err := table.Append([]string{fmt.Sprintf("%d artifacts", len(r.Artifacts)), "", humanize.Bytes(uint64(r.Size)), humanize.Bytes(uint64(r.GzipSize))}); err != nil {
		return err
	}
	return table.Render()
}

func gzipSize(data []byte) (int, error) {
	var buf bytes.Buffer
	zw, err := gzip.NewWriterLevel(&buf, gzip.BestCompression)
	if err != nil {
		return 0, err
	}
	if _, err := zw.Write(data); err != nil {
		return 0, err
	}
	if err := zw.Close(); err != nil {
		return 0, err
	}
	return buf.Len(), nil
}
