// Package stage provides the common contract for asset transformation stages.
//
// A stage is an opaque unit: script compilers, stylesheet preprocessors,
// vendor prefixers and image optimizers all plug into the pipeline through the
// same one-method interface. The pipeline decides which stages run for an asset
// (see the rule table); the stage only decides what happens to the bytes.
//
// External projects can register their own stages:
//
//	type upper struct{}
//
//	func (upper) Transform(_ context.Context, in *stage.Asset, _ stage.Options) (*stage.Asset, error) {
//	    out := in.Clone()
//	    out.Data = bytes.ToUpper(in.Data)
//	    return out, nil
//	}
//
//	registry.Register("upper", upper{})
package stage

import (
	"context"
	"maps"
	"slices"
)

// Kind is the detected type of a source asset.
type Kind string

const (
	KindScript         Kind = "script"
	KindMarkupTemplate Kind = "markup-template"
	KindStylesheet     Kind = "stylesheet"
	KindFont           Kind = "font"
	KindImage          Kind = "image"
	KindIconSource     Kind = "icon-source"
	KindStatic         Kind = "static"
)

// Disposition records what the pipeline must do with a stage result once the
// chain has finished.
type Disposition int

const (
	// Continue means no terminal decision has been made yet. An asset that
	// leaves its chain with this disposition is emitted as an artifact.
	Continue Disposition = iota
	// Inline embeds the asset into its referencing artifact as a data URI.
	Inline
	// Emit writes the asset as its own fingerprinted artifact.
	Emit
	// Bundle includes the asset into the script bundle named by Asset.Target.
	Bundle
	// Extract moves the asset into the stylesheet artifact named by Asset.Target.
	Extract
	// Template hands the asset to the entry document generator.
	Template
)

func (d Disposition) String() string {
	switch d {
	case Continue:
		return "continue"
	case Inline:
		return "inline"
	case Emit:
		return "emit"
	case Bundle:
		return "bundle"
	case Extract:
		return "extract"
	case Template:
		return "template"
	}
	return "unknown"
}

// Asset is the unit flowing through a chain of stages. Stages must not
// modify their input; they return a new Asset (see Clone).
type Asset struct {
	// Path is the slash-separated source path, relative to the source root.
	Path string

	// Kind is the asset kind assigned by the rule table.
	Kind Kind

	// Data holds the current bytes.
	Data []byte

	// MediaType is the MIME type used when the asset is inlined.
	MediaType string

	// Disposition is the terminal decision, if any.
	Disposition Disposition

	// Target names the bundle or stylesheet the asset is merged into.
	Target string

	// NameTemplate overrides the artifact name template for emitted assets.
	NameTemplate string

	// Meta carries stage-specific annotations into the build report.
	Meta map[string]string
}

// Clone returns a deep copy of the asset.
func (a *Asset) Clone() *Asset {
	out := *a
	out.Data = slices.Clone(a.Data)
	out.Meta = maps.Clone(a.Meta)
	return &out
}

// Options is the stage-specific configuration payload, as decoded from the
// rule table.
type Options map[string]any

// String returns the string option key, or def if absent or not a string.
func (o Options) String(key, def string) string {
	if v, ok := o[key].(string); ok && v != "" {
		return v
	}
	return def
}

// Int returns the integer option key, or def if absent. YAML and JSON decoders
// produce different numeric types, all of them are accepted.
func (o Options) Int(key string, def int) int {
	switch v := o[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case uint64:
		return int(v)
	case float64:
		return int(v)
	}
	return def
}

// Strings returns the string list option key.
func (o Options) Strings(key string) []string {
	switch v := o[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, x := range v {
			if s, ok := x.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		return []string{v}
	}
	return nil
}

// Stage transforms one asset. Implementations must be safe for concurrent use:
// the pipeline runs chains for independent assets in parallel.
type Stage interface {
	Transform(ctx context.Context, in *Asset, opts Options) (*Asset, error)
}

// Func adapts a function to the Stage interface.
type Func func(ctx context.Context, in *Asset, opts Options) (*Asset, error)

func (f Func) Transform(ctx context.Context, in *Asset, opts Options) (*Asset, error) {
	return f(ctx, in, opts)
}
