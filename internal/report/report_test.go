package report_test

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/assetforge/assetforge/internal/buildctx"
	"github.com/assetforge/assetforge/internal/fingerprint"
	"github.com/assetforge/assetforge/internal/report"
	"github.com/assetforge/assetforge/pkg/stage"
)

func artifacts() []*fingerprint.Artifact {
	return []*fingerprint.Artifact{
		{Final: "main.abc.js", Kind: stage.KindScript, Fingerprint: "abc", Data: bytes.Repeat([]byte("a"), 1000), Sources: []string{"index.js", "lib.js"}},
		{Final: "main.def.css", Kind: stage.KindStylesheet, Fingerprint: "def", Data: []byte("body{}"), Sources: []string{"main.css"}},
	}
}

func TestReport(t *testing.T) {
	bc := &buildctx.BuildContext{Name: "master", Flags: map[string]bool{"release": true}, Timestamp: time.Unix(0, 0).UTC()}

	r, err := report.New(bc, artifacts(), "index.html", []byte("<html></html>"), report.Options{Undefined: []string{"process.env.GA"}})
	if err != nil {
		t.Fatal(err)
	}

	if len(r.Artifacts) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(r.Artifacts))
	}
	if r.Artifacts[0].Name != "index.html" || r.Artifacts[0].Kind != "entry" {
		t.Fatalf("expected rows sorted by name, got %+v", r.Artifacts[0])
	}
	if r.Size != 1000+6+13 {
		t.Fatalf("unexpected total size %d", r.Size)
	}
	if js := r.Artifacts[1]; js.Name != "main.abc.js" || js.GzipSize >= js.Size {
		t.Fatalf("expected repetitive script to compress, got %+v", js)
	}

	again, err := report.New(bc, artifacts(), "index.html", []byte("<html></html>"), report.Options{})
	if err != nil {
		t.Fatal(err)
	}
	if r.BuildID != again.BuildID {
		t.Fatal("build id must be stable for identical artifact sets")
	}

	bs, err := r.JSON()
	if err != nil {
		t.Fatal(err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(bs, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded["build_id"] != r.BuildID {
		t.Fatalf("unexpected JSON %s", bs)
	}

	var table bytes.Buffer
	if err := r.WriteTable(&table); err != nil {
		t.Fatal(err)
	}
	for _, exp := range []string{"main.abc.js", "1.0 kB", "3 artifacts"} {
		if !strings.Contains(table.String(), exp) {
			t.Errorf("expected %q in table:\n%s", exp, table.String())
		}
	}
}
