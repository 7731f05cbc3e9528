package transform

import (
	"bytes"
	"context"
	"regexp"
	"slices"
	"strings"

	"github.com/assetforge/assetforge/pkg/stage"
)

// vendorPrefixes lists the properties still needing prefixes in the
// browsers the default browser list covers.
var vendorPrefixes = map[string][]string{
	"appearance":           {"-webkit-", "-moz-"},
	"backdrop-filter":      {"-webkit-"},
	"backface-visibility":  {"-webkit-"},
	"box-decoration-break": {"-webkit-"},
	"clip-path":            {"-webkit-"},
	"hyphens":              {"-webkit-", "-ms-"},
	"mask-image":           {"-webkit-"},
	"tab-size":             {"-moz-"},
	"text-size-adjust":     {"-webkit-", "-moz-", "-ms-"},
	"user-select":          {"-webkit-", "-moz-", "-ms-"},
}

// Prefixer adds vendor-prefixed copies in front of declarations of the
// properties in its table. Declarations that already carry a prefix are left
// alone, as are declarations whose block already holds a prefixed sibling.
type Prefixer struct {
	table map[string][]string
	re    *regexp.Regexp
}

func NewPrefixer() *Prefixer {
	return newPrefixer(vendorPrefixes)
}

func newPrefixer(table map[string][]string) *Prefixer {
	props := make([]string, 0, len(table))
	for p := range table {
		props = append(props, regexp.QuoteMeta(p))
	}
	slices.Sort(props)

	// The property must start a declaration: preceded by '{', ';' or
	// whitespace, never by '-', so prefixed declarations do not match.
	re := regexp.MustCompile(`(^|[{;\s])(` + strings.Join(props, "|") + `)(\s*:[^;}]*)`)
	return &Prefixer{table: table, re: re}
}

// Transform prefixes stylesheets. The "properties" option restricts the
// pass to the listed properties.
func (p *Prefixer) Transform(_ context.Context, in *stage.Asset, opts stage.Options) (*stage.Asset, error) {
	out := in.Clone()
	if in.Kind != "" && in.Kind != stage.KindStylesheet {
		return out, nil
	}

	only := opts.Strings("properties")
	data := in.Data

	var buf bytes.Buffer
	last := 0
	for _, m := range p.re.FindAllSubmatchIndex(data, -1) {
		buf.Write(data[last:m[0]])
		last = m[1]

		lead, prop, rest := data[m[2]:m[3]], string(data[m[4]:m[5]]), data[m[6]:m[7]]
		if (len(only) > 0 && !slices.Contains(only, prop)) || p.prefixed(block(data, m[4]), prop) {
			buf.Write(data[m[0]:m[1]])
			continue
		}

		buf.Write(lead)
		for _, prefix := range p.table[prop] {
			buf.WriteString(prefix)
			buf.WriteString(prop)
			buf.Write(rest)
			buf.WriteByte(';')
		}
		buf.WriteString(prop)
		buf.Write(rest)
	}
	buf.Write(data[last:])

	out.Data = buf.Bytes()
	return out, nil
}

// prefixed reports whether the declaration block already holds a prefixed
// form of prop.
func (p *Prefixer) prefixed(decls []byte, prop string) bool {
	for _, prefix := range p.table[prop] {
		if bytes.Contains(decls, []byte(prefix+prop)) {
			return true
		}
	}
	return false
}

// block returns the declaration block around offset i.
func block(data []byte, i int) []byte {
	start := bytes.LastIndexByte(data[:i], '{') + 1
	end := len(data)
	if n := bytes.IndexByte(data[i:], '}'); n >= 0 {
		end = i + n
	}
	return data[start:end]
}
