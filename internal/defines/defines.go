// Package defines substitutes compile-time constants into script sources.
package defines

import (
	"bytes"
	"encoding/json"
	"maps"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/tdewolff/parse/v2"
	"github.com/tdewolff/parse/v2/js"

	"github.com/assetforge/assetforge/internal/config"
)

// Undefined is substituted for an environment define whose variable is
// unset. It is never the empty string, so scripts can tell "absent" from
// "empty".
const Undefined = "undefined"

// Set is a resolved define set: every token mapped to its literal source
// text. It is immutable once resolved.
type Set struct {
	values    map[string]string
	tokens    []string // longest first
	undefined []string
}

// Resolve turns the configured define specs into literal replacement text.
// lookup is used for env defines; nil means os.LookupEnv.
func Resolve(defs config.Defines, lookup func(string) (string, bool)) (*Set, error) {
	if lookup == nil {
		lookup = os.LookupEnv
	}

	s := &Set{values: make(map[string]string, len(defs))}

	for _, token := range slices.Sorted(maps.Keys(defs)) {
		if token == "" {
			continue
		}
		d := defs[token]
		switch {
		case d.String != nil:
			bs, err := json.Marshal(*d.String)
			if err != nil {
				return nil, err
			}
			s.values[token] = string(bs)
		case d.Bool != nil:
			s.values[token] = strconv.FormatBool(*d.Bool)
		case d.Raw != nil:
			s.values[token] = *d.Raw
		case d.Env != nil:
			if v, ok := lookup(*d.Env); ok {
				bs, err := json.Marshal(v)
				if err != nil {
					return nil, err
				}
				s.values[token] = string(bs)
			} else {
				s.values[token] = Undefined
				s.undefined = append(s.undefined, token)
			}
		}
		s.tokens = append(s.tokens, token)
	}

	slices.SortStableFunc(s.tokens, func(a, b string) int {
		return len(b) - len(a)
	})

	return s, nil
}

// Undefined returns the tokens whose environment variable was unset.
func (s *Set) Undefined() []string {
	return slices.Clone(s.undefined)
}

// Value returns the literal replacement text of token.
func (s *Set) Value(token string) (string, bool) {
	v, ok := s.values[token]
	return v, ok
}

// Values returns a copy of all token replacements, for the build report.
func (s *Set) Values() map[string]string {
	return maps.Clone(s.values)
}

// Apply replaces every occurrence of a define token in src. A token only
// matches as a whole expression: it must not be preceded by an identifier
// character or a dot, nor followed by an identifier character. When tokens
// share a prefix the longest one wins. String, template and regular
// expression literals and comments are left alone.
func (s *Set) Apply(src []byte) []byte {
	if len(s.tokens) == 0 {
		return src
	}

	literals := literalSpans(src)

	var buf bytes.Buffer
	buf.Grow(len(src))

	last := 0
	for i := 0; i < len(src); {
		if len(literals) > 0 && i >= literals[0].start {
			i = max(i, literals[0].end)
			literals = literals[1:]
			continue
		}

		if i > 0 && (isIdent(src[i-1]) || src[i-1] == '.') {
			i++
			continue
		}

		token := s.match(src[i:])
		if token == "" || len(literals) > 0 && i+len(token) > literals[0].start {
			i++
			continue
		}

		buf.Write(src[last:i])
		buf.WriteString(s.values[token])
		i += len(token)
		last = i
	}

	if last == 0 {
		return src
	}

	buf.Write(src[last:])
	return buf.Bytes()
}

type span struct {
	start, end int
}

// literalSpans returns the byte ranges of src that hold literals or
// comments, in order. Lexing stops at the first unrecoverable error; the
// rest of src is then treated as code.
func literalSpans(src []byte) []span {
	var spans []span
	l := js.NewLexer(parse.NewInputBytes(src))

	offset := 0
	var prev []byte // previous significant token
	for {
		tt, data := l.Next()
		if tt == js.ErrorToken && len(data) == 0 {
			return spans
		}

		if (tt == js.DivToken || tt == js.DivEqToken) && regexpAllowed(prev) {
			if rt, rdata := l.RegExp(); rt == js.RegExpToken {
				tt, data = rt, rdata
			} else {
				return spans
			}
		}

		switch tt {
		case js.StringToken, js.TemplateToken, js.TemplateStartToken, js.TemplateMiddleToken, js.TemplateEndToken,
			js.RegExpToken, js.CommentToken, js.CommentLineTerminatorToken:
			spans = append(spans, span{offset, offset + len(data)})
		}

		switch tt {
		case js.WhitespaceToken, js.LineTerminatorToken, js.CommentToken, js.CommentLineTerminatorToken:
		default:
			prev = data
		}
		offset += len(data)
	}
}

// expressionKeywords may be followed by an expression, and thus by a
// regular expression literal.
var expressionKeywords = map[string]bool{
	"return": true, "typeof": true, "instanceof": true, "in": true, "of": true, "new": true,
	"delete": true, "void": true, "throw": true, "case": true, "do": true, "else": true,
	"yield": true, "await": true,
}

// regexpAllowed reports whether a slash after prev starts a regular
// expression rather than a division.
func regexpAllowed(prev []byte) bool {
	if len(prev) == 0 {
		return true
	}
	switch c := prev[len(prev)-1]; {
	case isIdent(c):
		return expressionKeywords[string(prev)]
	case c == ')' || c == ']' || c == '}' || c == '"' || c == '\'' || c == '`':
		return false
	}
	return true
}

func (s *Set) match(b []byte) string {
	for _, token := range s.tokens {
		if !bytes.HasPrefix(b, []byte(token)) {
			continue
		}
		if len(b) > len(token) && isIdent(b[len(token)]) {
			continue
		}
		return token
	}
	return ""
}

func isIdent(c byte) bool {
	return c == '_' || c == '$' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c >= 0x80
}

// String renders the set as a sorted, human readable list.
func (s *Set) String() string {
	var sb strings.Builder
	for i, token := range slices.Sorted(maps.Keys(s.values)) {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(token)
		sb.WriteByte('=')
		sb.WriteString(s.values[token])
	}
	return sb.String()
}
