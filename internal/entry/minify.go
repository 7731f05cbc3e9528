package entry

import (
	"bytes"
	"errors"
	"io"

	"golang.org/x/net/html"
)

// verbatim elements keep their content byte for byte.
var verbatim = map[string]bool{
	"pre":      true,
	"textarea": true,
	"script":   true,
	"style":    true,
}

// block elements do not render the whitespace around them, so whitespace
// between two of them can be dropped.
var block = map[string]bool{
	"html": true, "head": true, "body": true, "title": true, "meta": true, "link": true,
	"base": true, "script": true, "style": true, "noscript": true, "template": true,
	"div": true, "p": true, "pre": true, "main": true, "section": true, "article": true,
	"aside": true, "header": true, "footer": true, "nav": true, "address": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true, "hr": true,
	"ul": true, "ol": true, "li": true, "dl": true, "dt": true, "dd": true,
	"table": true, "caption": true, "colgroup": true, "col": true, "thead": true, "tbody": true,
	"tfoot": true, "tr": true, "td": true, "th": true,
	"form": true, "fieldset": true, "legend": true, "figure": true, "figcaption": true,
	"blockquote": true, "details": true, "summary": true,
}

// Minify removes comments and collapses whitespace runs to a single space.
// Whitespace-only runs between block elements are dropped. It never drops,
// adds or reorders elements or attributes, so every reference in the
// document survives unchanged.
func Minify(src []byte) ([]byte, error) {
	z := html.NewTokenizer(bytes.NewReader(src))

	var buf bytes.Buffer
	buf.Grow(len(src))
	depth := 0

	// A whitespace-only run is held back until the next token tells whether
	// it sits between two block elements.
	pending := false
	prevBlock := true

	flush := func(nextBlock bool) {
		if pending && !(prevBlock && nextBlock) {
			buf.WriteByte(' ')
		}
		pending = false
	}

	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			if errors.Is(z.Err(), io.EOF) {
				flush(true)
				return bytes.TrimSpace(buf.Bytes()), nil
			}
			return nil, z.Err()

		case html.CommentToken:
			continue

		case html.TextToken:
			raw := z.Raw()
			if depth > 0 {
				buf.Write(raw)
				continue
			}
			if len(bytes.TrimSpace(raw)) == 0 {
				pending = true
				continue
			}
			flush(false)
			buf.Write(collapse(raw))
			prevBlock = false

		case html.StartTagToken, html.EndTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			isBlock := block[string(name)]
			flush(isBlock)
			if verbatim[string(name)] {
				switch {
				case tt == html.StartTagToken:
					depth++
				case tt == html.EndTagToken && depth > 0:
					depth--
				}
			}
			buf.Write(z.Raw())
			prevBlock = isBlock

		default:
			flush(true)
			buf.Write(z.Raw())
			prevBlock = true
		}
	}
}

// collapse replaces every whitespace run with one space.
func collapse(text []byte) []byte {
	out := make([]byte, 0, len(text))
	space := false
	for _, c := range text {
		if isSpace(c) {
			if !space {
				out = append(out, ' ')
			}
			space = true
			continue
		}
		space = false
		out = append(out, c)
	}
	return out
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f'
}
