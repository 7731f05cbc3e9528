// Package entry renders the entry document: the single HTML page that loads
// every eagerly loaded artifact by its final, fingerprinted name.
package entry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html"
	"html/template"
	"strconv"
	"strings"

	"github.com/assetforge/assetforge/internal/buildctx"
	"github.com/assetforge/assetforge/internal/fingerprint"
	"github.com/assetforge/assetforge/pkg/stage"
)

// LastUpdatedFormat is the layout of the .LastUpdated template value.
const LastUpdatedFormat = "2006-01-02 15:04:05Z"

const defaultTemplate = `<!DOCTYPE html>
<html>
  <head>
    <meta charset="utf-8">
    <meta name="viewport" content="width=device-width, initial-scale=1">
    <title>{{ with .Data.title }}{{ . }}{{ end }}</title>
  </head>
  <body>
    <div id="root"></div>
  </body>
</html>
`

// Template is the markup template of the entry document.
type Template struct {
	Name       string
	Source     []byte
	LeftDelim  string
	RightDelim string
}

// DefaultTemplate is used when no markup template is part of the build.
func DefaultTemplate() *Template {
	return &Template{Name: "default", Source: []byte(defaultTemplate)}
}

// Link is an icon or manifest link for the document head.
type Link struct {
	Rel   string
	Href  string
	Sizes string
	Type  string
}

type Options struct {
	PublicPath string
	Filename   string
	Inject     bool
	Minify     bool

	// Links are placed into the head after the stylesheets, in order.
	Links []Link

	// Data is exposed to the template as .Data.
	Data map[string]any
}

// Document is the rendered entry document.
type Document struct {
	Filename string
	Data     []byte
	Scripts  []string
	Styles   []string
}

// TemplateData is the value the template executes against.
type TemplateData struct {
	Context     string
	Revision    string
	Flags       map[string]bool
	Overrides   map[string]string
	LastUpdated string
	Scripts     []string
	Styles      []string
	Icons       []Link
	PublicPath  string
	Data        map[string]any
}

// Generate renders t. Script and stylesheet artifacts are referenced in the
// order given; other artifacts are ignored.
func Generate(t *Template, bc *buildctx.BuildContext, artifacts []*fingerprint.Artifact, opts Options) (*Document, error) {
	doc := &Document{Filename: opts.Filename}
	if doc.Filename == "" {
		doc.Filename = "index.html"
	}

	for _, a := range artifacts {
		switch a.Kind {
		case stage.KindScript:
			doc.Scripts = append(doc.Scripts, opts.PublicPath+a.Final)
		case stage.KindStylesheet:
			doc.Styles = append(doc.Styles, opts.PublicPath+a.Final)
		}
	}

	tmpl, err := template.New(t.Name).
		Delims(t.LeftDelim, t.RightDelim).
		Funcs(template.FuncMap{"json": toJSON}).
		Option("missingkey=zero").
		Parse(string(t.Source))
	if err != nil {
		return nil, fmt.Errorf("parse entry template %s: %w", t.Name, err)
	}

	data := TemplateData{
		Context:     bc.Name,
		Revision:    bc.Revision,
		Flags:       bc.Flags,
		Overrides:   bc.Overrides,
		LastUpdated: bc.Timestamp.UTC().Format(LastUpdatedFormat),
		Scripts:     doc.Scripts,
		Styles:      doc.Styles,
		Icons:       opts.Links,
		PublicPath:  opts.PublicPath,
		Data:        opts.Data,
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("render entry template %s: %w", t.Name, err)
	}

	out := buf.Bytes()
	if opts.Inject {
		out = inject(out, doc.Styles, opts.Links, doc.Scripts)
	}

	if opts.Minify {
		if out, err = Minify(out); err != nil {
			return nil, fmt.Errorf("minify entry document: %w", err)
		}
	}

	doc.Data = out
	return doc, nil
}

// inject places the stylesheet and link tags before </head> and the script
// tags before </body>.
func inject(doc []byte, styles []string, links []Link, scripts []string) []byte {
	var head, body bytes.Buffer
	for _, s := range styles {
		fmt.Fprintf(&head, `<link href="%s" rel="stylesheet">`, html.EscapeString(s))
	}
	for _, l := range links {
		head.WriteString(`<link rel="` + html.EscapeString(l.Rel) + `"`)
		if l.Sizes != "" {
			head.WriteString(` sizes="` + html.EscapeString(l.Sizes) + `"`)
		}
		if l.Type != "" {
			head.WriteString(` type="` + html.EscapeString(l.Type) + `"`)
		}
		head.WriteString(` href="` + html.EscapeString(l.Href) + `">`)
	}
	for _, s := range scripts {
		fmt.Fprintf(&body, `<script type="text/javascript" src="%s"></script>`, html.EscapeString(s))
	}

	doc = insertBefore(doc, "</head>", head.Bytes(), false)
	return insertBefore(doc, "</body>", body.Bytes(), true)
}

// insertBefore inserts ins before the last occurrence of tag, matched
// case-insensitively. Without the tag, ins is appended (or prepended when
// atEnd is false).
func insertBefore(doc []byte, tag string, ins []byte, atEnd bool) []byte {
	if len(ins) == 0 {
		return doc
	}

	i := bytes.LastIndex(bytes.ToLower(doc), []byte(tag))
	if i < 0 {
		if atEnd {
			return append(doc, ins...)
		}
		return append(ins, doc...)
	}

	out := make([]byte, 0, len(doc)+len(ins))
	out = append(out, doc[:i]...)
	out = append(out, ins...)
	return append(out, doc[i:]...)
}

func toJSON(v any) (template.JS, error) {
	bs, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return template.JS(bs), nil
}

// Sizes renders icon sizes for a link's sizes attribute.
func Sizes(sizes []int) string {
	parts := make([]string, len(sizes))
	for i, s := range sizes {
		parts[i] = strconv.Itoa(s) + "x" + strconv.Itoa(s)
	}
	return strings.Join(parts, " ")
}
