package transform

import (
	"cmp"
	"context"
	"fmt"
	"html/template"
	"math"
	"mime"
	"path"
	"strconv"
	"strings"

	"github.com/assetforge/assetforge/pkg/stage"
)

const (
	// MetaLeftDelim and MetaRightDelim carry the template action delimiters
	// from the template stage to the entry generator.
	MetaLeftDelim  = "template.left_delim"
	MetaRightDelim = "template.right_delim"
)

func identity(_ context.Context, in *stage.Asset, _ stage.Options) (*stage.Asset, error) {
	return in.Clone(), nil
}

// bundle marks a script for inclusion into the bundle named by the "name"
// option.
func bundle(_ context.Context, in *stage.Asset, opts stage.Options) (*stage.Asset, error) {
	out := in.Clone()
	out.Disposition = stage.Bundle
	out.Target = opts.String("name", "main")
	return out, nil
}

// extract marks a stylesheet for extraction into the stylesheet artifact
// named by the "name" option.
func extract(_ context.Context, in *stage.Asset, opts stage.Options) (*stage.Asset, error) {
	out := in.Clone()
	out.Disposition = stage.Extract
	out.Target = opts.String("name", "main")
	return out, nil
}

// url inlines assets smaller than the "limit" option as data URIs and emits
// everything else. Without a limit every asset is inlined.
func url(_ context.Context, in *stage.Asset, opts stage.Options) (*stage.Asset, error) {
	limit, set, err := inlineLimit(opts)
	if err != nil {
		return nil, err
	}

	out := in.Clone()
	out.MediaType = opts.String("mimetype", mediaType(in.Path))
	if !set || ShouldInline(len(in.Data), limit) {
		out.Disposition = stage.Inline
		return out, nil
	}
	out.Disposition = stage.Emit
	out.NameTemplate = opts.String("name", "")
	return out, nil
}

// file always emits the asset.
func file(_ context.Context, in *stage.Asset, opts stage.Options) (*stage.Asset, error) {
	out := in.Clone()
	out.Disposition = stage.Emit
	out.MediaType = cmp.Or(out.MediaType, mediaType(in.Path))
	out.NameTemplate = opts.String("name", "")
	return out, nil
}

// compileTemplate checks that the asset parses as a markup template and
// hands it to the entry generator. The "left_delim" and "right_delim"
// options select alternative action delimiters.
func compileTemplate(_ context.Context, in *stage.Asset, opts stage.Options) (*stage.Asset, error) {
	left, right := opts.String("left_delim", ""), opts.String("right_delim", "")
	if _, err := template.New(in.Path).Delims(left, right).Parse(string(in.Data)); err != nil {
		return nil, fmt.Errorf("parse template: %w", err)
	}

	out := in.Clone()
	out.Disposition = stage.Template
	out.MediaType = "text/html"
	if left != "" || right != "" {
		if out.Meta == nil {
			out.Meta = map[string]string{}
		}
		out.Meta[MetaLeftDelim], out.Meta[MetaRightDelim] = left, right
	}
	return out, nil
}

func mediaType(p string) string {
	if t := mime.TypeByExtension(path.Ext(p)); t != "" {
		return t
	}
	return "application/octet-stream"
}

// inlineLimit reads the "limit" option of the url stage. Numeric strings are
// accepted since environment overrides arrive as text.
func inlineLimit(opts stage.Options) (limit int, set bool, err error) {
	v, ok := opts["limit"]
	if !ok || v == nil {
		return 0, false, nil
	}

	switch v := v.(type) {
	case int:
		limit = v
	case int64:
		limit = int(v)
	case uint64:
		limit = int(v)
	case float64:
		if v != math.Trunc(v) {
			return 0, false, fmt.Errorf("limit %v is not a whole number", v)
		}
		limit = int(v)
	case string:
		if limit, err = strconv.Atoi(strings.TrimSpace(v)); err != nil {
			return 0, false, fmt.Errorf("limit %q is not a number", v)
		}
	default:
		return 0, false, fmt.Errorf("limit has unsupported type %T", v)
	}

	if limit < 0 {
		return 0, false, fmt.Errorf("limit %d is negative", limit)
	}
	return limit, true, nil
}
