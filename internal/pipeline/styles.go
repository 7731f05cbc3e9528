package pipeline

import (
	"net/url"
	"path"
	"regexp"
	"strings"
)

var cssURL = regexp.MustCompile(`url\(\s*(['"]?)([^'")]*)(['"]?)\s*\)`)

// rewriteURLs replaces url() references of a stylesheet by the data URI of an
// inlined asset or the public path of an emitted artifact. References are
// resolved relative to the stylesheet's own path; absolute, external and
// unknown references are left as they are.
func rewriteURLs(css []byte, from string, resolve func(string) (string, bool)) []byte {
	dir := path.Dir(from)
	return cssURL.ReplaceAllFunc(css, func(m []byte) []byte {
		sub := cssURL.FindSubmatch(m)
		if string(sub[1]) != string(sub[3]) {
			return m
		}

		ref := strings.TrimSpace(string(sub[2]))
		if ref == "" || strings.HasPrefix(ref, "/") || strings.HasPrefix(ref, "#") || strings.HasPrefix(ref, "data:") {
			return m
		}
		if u, err := url.Parse(ref); err != nil || u.Scheme != "" || u.Host != "" {
			return m
		}

		// Query and fragment identify parts of the target (font variants,
		// svg sprites), they are kept on the rewritten reference.
		target, suffix := ref, ""
		if i := strings.IndexAny(ref, "?#"); i >= 0 {
			target, suffix = ref[:i], ref[i:]
		}

		repl, ok := resolve(path.Join(dir, target))
		if !ok {
			return m
		}
		if strings.HasPrefix(repl, "data:") {
			suffix = ""
		}
		return []byte(`url("` + repl + suffix + `")`)
	})
}
