package fingerprint_test

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/assetforge/assetforge/internal/config"
	"github.com/assetforge/assetforge/internal/fingerprint"
	"github.com/assetforge/assetforge/pkg/stage"
)

func TestDeterminismAndDistinctness(t *testing.T) {
	seen := map[string]string{}
	for i := range 2000 {
		data := fmt.Appendf(nil, "console.log(%d);", i)

		n1 := fingerprint.NewNamer(config.Fingerprint{})
		n2 := fingerprint.NewNamer(config.Fingerprint{})
		a := fingerprint.New("main.js", "[name].[hash].js", data, stage.KindScript)
		b := fingerprint.New("main.js", "[name].[hash].js", append([]byte(nil), data...), stage.KindScript)

		na, err := n1.Name(a)
		if err != nil {
			t.Fatal(err)
		}
		nb, err := n2.Name(b)
		if err != nil {
			t.Fatal(err)
		}
		if na != nb {
			t.Fatalf("identical bytes yield different names: %s, %s", na, nb)
		}
		if prev, ok := seen[na]; ok {
			t.Fatalf("different bytes %q and %q yield the same name %s", prev, data, na)
		}
		seen[na] = string(data)
	}
}

func TestPlaceholders(t *testing.T) {
	data := []byte("body{margin:0}")
	n := fingerprint.NewNamer(config.Fingerprint{})
	digest := n.Digest(data)

	cases := []struct {
		template string
		exp      string
	}{
		{"[name].[hash].css", "main." + digest[:20] + ".css"},
		{"[name].[hash:8].[ext]", "main." + digest[:8] + ".css"},
		{"[path][name].[ext]", "styles/main.css"},
		{"static/[hash:100]", "static/" + digest},
		{"[name].[unknown].css", "main.[unknown].css"},
	}

	for _, tc := range cases {
		t.Run(tc.template, func(t *testing.T) {
			got, _ := n.Expand(fingerprint.New("styles/main.css", tc.template, data, stage.KindStylesheet))
			if got != tc.exp {
				t.Fatalf("expected %q, got %q", tc.exp, got)
			}
		})
	}
}

func TestAlgorithms(t *testing.T) {
	data := []byte("x")

	sha := fingerprint.NewNamer(config.Fingerprint{Algorithm: "sha256", Length: 64}).Digest(data)
	md := fingerprint.NewNamer(config.Fingerprint{Algorithm: "md5", Length: 32}).Digest(data)

	if sha != "2d711642b726b04401627ca9fbac32f5c8530fb1903cc4db02258717921a4881" {
		t.Fatalf("unexpected sha256 digest %s", sha)
	}
	if md != "9dd4e461268c8034f5c8564e155c67a6" {
		t.Fatalf("unexpected md5 digest %s", md)
	}

	a := fingerprint.New("a.js", "[hash].js", data, stage.KindScript)
	name, err := fingerprint.NewNamer(config.Fingerprint{Algorithm: "md5", Length: 12}).Name(a)
	if err != nil {
		t.Fatal(err)
	}
	if name != md[:12]+".js" || a.Fingerprint != md[:12] {
		t.Fatalf("unexpected name %s (fingerprint %s)", name, a.Fingerprint)
	}
}

func TestCollision(t *testing.T) {
	n := fingerprint.NewNamer(config.Fingerprint{})

	a := fingerprint.New("a/logo.png", "[name].[ext]", []byte("one"), stage.KindImage)
	b := fingerprint.New("b/logo.png", "[name].[ext]", []byte("two"), stage.KindImage)

	if _, err := n.Name(a); err != nil {
		t.Fatal(err)
	}

	_, err := n.Name(b)
	if !errors.Is(err, fingerprint.ErrNamingCollision) {
		t.Fatalf("expected naming collision, got %v", err)
	}
	if !strings.Contains(err.Error(), "a/logo.png") || !strings.Contains(err.Error(), "b/logo.png") {
		t.Fatalf("expected both sources in error, got %v", err)
	}
}

func TestSameContentCollapses(t *testing.T) {
	n := fingerprint.NewNamer(config.Fingerprint{})

	a := fingerprint.New("a/logo.png", "[name].[hash:8].[ext]", []byte("same"), stage.KindImage)
	b := fingerprint.New("b/logo.png", "[name].[hash:8].[ext]", []byte("same"), stage.KindImage)

	na, err := n.Name(a)
	if err != nil {
		t.Fatal(err)
	}
	nb, err := n.Name(b)
	if err != nil {
		t.Fatal(err)
	}
	if na != nb || b.Final != na {
		t.Fatalf("expected identical names, got %s and %s", na, nb)
	}

	arts := n.Artifacts()
	if len(arts) != 1 {
		t.Fatalf("expected one artifact, got %d", len(arts))
	}
	if diff := cmp.Diff([]string{"a/logo.png", "b/logo.png"}, arts[0].Sources); diff != "" {
		t.Fatalf("sources (-want,+got):\n%s", diff)
	}
}

func TestInvalidName(t *testing.T) {
	n := fingerprint.NewNamer(config.Fingerprint{})
	if _, err := n.Name(fingerprint.New("a.js", "../[name].js", []byte("x"), stage.KindScript)); err == nil {
		t.Fatal("expected error for name escaping the output directory")
	}
}

func TestVerbatimTemplateHasNoFingerprint(t *testing.T) {
	a := fingerprint.New("robots.txt", "robots.txt", []byte("User-agent: *"), stage.KindStatic)
	name, err := fingerprint.NewNamer(config.Fingerprint{}).Name(a)
	if err != nil {
		t.Fatal(err)
	}
	if name != "robots.txt" || a.Fingerprint != "" {
		t.Fatalf("unexpected name %s (fingerprint %q)", name, a.Fingerprint)
	}
}
