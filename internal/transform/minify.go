package transform

import (
	"context"
	"fmt"
	"strconv"

	"github.com/tdewolff/minify/v2"
	"github.com/tdewolff/minify/v2/css"
	"github.com/tdewolff/minify/v2/js"
	"github.com/tdewolff/minify/v2/json"
	"github.com/tdewolff/minify/v2/svg"

	ocp_fs "github.com/assetforge/assetforge/internal/fs"
	"github.com/assetforge/assetforge/pkg/stage"
)

// Minifier removes insignificant bytes from scripts, stylesheets, SVG and
// JSON. Sources that still need compiling (JSX, Sass) are passed through
// unchanged; put an exec stage in front of minify for those.
type Minifier struct {
	m *minify.M
}

var minifiable = map[string]string{
	"js":   "application/javascript",
	"mjs":  "application/javascript",
	"css":  "text/css",
	"svg":  "image/svg+xml",
	"json": "application/json",
}

func NewMinifier() *Minifier {
	m := minify.New()
	m.AddFunc("application/javascript", js.Minify)
	m.AddFunc("text/css", css.Minify)
	m.AddFunc("image/svg+xml", svg.Minify)
	m.AddFunc("application/json", json.Minify)
	return &Minifier{m: m}
}

// Transform minifies in according to its media type, taken from the
// "media_type" option or the file extension. The "skip" option disables the
// stage for the rule.
func (mn *Minifier) Transform(_ context.Context, in *stage.Asset, opts stage.Options) (*stage.Asset, error) {
	out := in.Clone()
	if skip, _ := opts["skip"].(bool); skip {
		return out, nil
	}

	mt := opts.String("media_type", minifiable[ocp_fs.Ext(in.Path)])
	if mt == "" {
		return out, nil
	}

	// The minifiers rewrite their input buffer, only the clone is handed over.
	bs, err := mn.m.Bytes(mt, out.Data)
	if err != nil {
		return nil, fmt.Errorf("minify %s: %w", mt, err)
	}

	out.Data = bs
	if out.Meta == nil {
		out.Meta = map[string]string{}
	}
	out.Meta["minify.saved"] = strconv.Itoa(len(in.Data) - len(bs))
	return out, nil
}
