package pipeline

import (
	"errors"
	"fmt"
	"testing"

	"github.com/assetforge/assetforge/internal/buildctx"
	"github.com/assetforge/assetforge/internal/rules"
)

func TestTransitions(t *testing.T) {
	var m machine
	for s := StateContextResolved; s <= StateDone; s++ {
		m.advance(s)
	}

	mustPanic := func(note string, f func()) {
		t.Helper()
		defer func() {
			if recover() == nil {
				t.Errorf("%s: expected panic", note)
			}
		}()
		f()
	}

	mustPanic("after done", func() { m.advance(StateFailed + 1) })
	mustPanic("backwards", func() {
		m := machine{state: StateArtifactsNamed}
		m.advance(StateAssetsDispatched)
	})
	mustPanic("skipping", func() {
		var m machine
		m.advance(StateDefinesApplied)
	})
	mustPanic("after failure", func() {
		m := machine{state: StateContextResolved}
		m.fail("", errors.New("x"))
		m.advance(StateDefinesApplied)
	})
}

func TestFail(t *testing.T) {
	m := machine{state: StateContextResolved}
	err := m.fail("a.xyz", fmt.Errorf("%w for a.xyz", rules.ErrNoMatchingRule))

	if m.state != StateFailed || err.State != StateContextResolved {
		t.Fatalf("unexpected states %s, %s", m.state, err.State)
	}
	if exp := "no matching rule: a.xyz: no matching rule for a.xyz"; err.Error() != exp {
		t.Fatalf("expected %q, got %q", exp, err.Error())
	}

	if kind := kindOf(fmt.Errorf("wrapped: %w", buildctx.ErrContextUnavailable)); kind != KindContextUnavailable {
		t.Fatalf("unexpected kind %q", kind)
	}
	if kind := kindOf(errors.New("disk full")); kind != KindInternal {
		t.Fatalf("unexpected kind %q", kind)
	}
}

func TestRewriteURLs(t *testing.T) {
	known := map[string]string{
		"img/bg.png":     "/bg.1234.png",
		"fonts/a.woff":   "data:font/woff;base64,AA==",
		"css/sprite.svg": "/sprite.5678.svg",
	}
	resolve := func(p string) (string, bool) {
		v, ok := known[p]
		return v, ok
	}

	cases := []struct {
		from, in, exp string
	}{
		{"main.css", `a{background:url(img/bg.png)}`, `a{background:url("/bg.1234.png")}`},
		{"main.css", `a{src:url('fonts/a.woff?v=1')}`, `a{src:url("data:font/woff;base64,AA==")}`},
		{"css/main.css", `a{b:url( "sprite.svg#icon" )}`, `a{b:url("/sprite.5678.svg#icon")}`},
		{"css/main.css", `a{b:url(../img/bg.png)}`, `a{b:url("/bg.1234.png")}`},
		{"main.css", `a{b:url(https://example.com/x.png)}`, `a{b:url(https://example.com/x.png)}`},
		{"main.css", `a{b:url(/abs.png)}`, `a{b:url(/abs.png)}`},
		{"main.css", `a{b:url(missing.png)}`, `a{b:url(missing.png)}`},
		{"main.css", `a{b:url("data:image/png;base64,AA==")}`, `a{b:url("data:image/png;base64,AA==")}`},
	}

	for _, tc := range cases {
		if got := string(rewriteURLs([]byte(tc.in), tc.from, resolve)); got != tc.exp {
			t.Errorf("%s: expected %s, got %s", tc.in, tc.exp, got)
		}
	}
}
