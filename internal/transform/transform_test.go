package transform_test

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/assetforge/assetforge/internal/config"
	"github.com/assetforge/assetforge/internal/rules"
	"github.com/assetforge/assetforge/internal/transform"
	"github.com/assetforge/assetforge/pkg/stage"
)

func rule(t *testing.T, kind string, chain ...config.StageRef) *rules.Rule {
	t.Helper()
	table, err := rules.New(config.Rules{{Name: "test", Match: config.StringSet{"**"}, Kind: kind, Chain: chain}}, nil)
	if err != nil {
		t.Fatal(err)
	}
	return table.Rules()[0]
}

func TestShouldInline(t *testing.T) {
	cases := []struct {
		size, limit int
		exp         bool
	}{
		{9999, 10000, true},
		{10000, 10000, false},
		{10001, 10000, false},
		{0, 0, false},
		{0, 1, true},
	}
	for _, tc := range cases {
		if got := transform.ShouldInline(tc.size, tc.limit); got != tc.exp {
			t.Errorf("ShouldInline(%d, %d): expected %t", tc.size, tc.limit, tc.exp)
		}
	}
}

func TestURLStageBoundary(t *testing.T) {
	reg := transform.Default()
	r := rule(t, "font", config.StageRef{Stage: "url", Options: map[string]any{"limit": uint64(10000), "mimetype": "application/font-woff"}})

	for _, tc := range []struct {
		size int
		exp  stage.Disposition
	}{
		{9999, stage.Inline},
		{10000, stage.Emit},
		{10001, stage.Emit},
	} {
		in := &stage.Asset{Path: "fonts/a.woff", Data: make([]byte, tc.size)}
		out, err := reg.Run(context.Background(), r, in)
		if err != nil {
			t.Fatal(err)
		}
		if out.Disposition != tc.exp {
			t.Errorf("size %d: expected %v, got %v", tc.size, tc.exp, out.Disposition)
		}
		if out.MediaType != "application/font-woff" {
			t.Errorf("size %d: unexpected media type %q", tc.size, out.MediaType)
		}
	}
}

func TestURLStageWithoutLimit(t *testing.T) {
	reg := transform.Default()
	r := rule(t, "font", config.StageRef{Stage: "url", Options: map[string]any{"mimetype": "application/vnd.ms-fontobject"}})

	out, err := reg.Run(context.Background(), r, &stage.Asset{Path: "fonts/a.eot", Data: make([]byte, 1<<20)})
	if err != nil {
		t.Fatal(err)
	}
	if out.Disposition != stage.Inline {
		t.Fatalf("expected inline without limit, got %v", out.Disposition)
	}
}

func TestURLStageLimitOption(t *testing.T) {
	reg := transform.Default()
	in := &stage.Asset{Path: "a.svg", Data: make([]byte, 100)}

	for _, tc := range []struct {
		limit any
		exp   stage.Disposition
		fails bool
	}{
		{limit: "200", exp: stage.Inline},
		{limit: float64(50), exp: stage.Emit},
		{limit: "10k", fails: true},
		{limit: 1.5, fails: true},
		{limit: -1, fails: true},
		{limit: []any{1}, fails: true},
	} {
		out, err := reg.Run(context.Background(), rule(t, "image", config.StageRef{Stage: "url", Options: map[string]any{"limit": tc.limit}}), in)
		if tc.fails {
			if !errors.Is(err, transform.ErrTransformationFailure) {
				t.Errorf("limit %v: expected transformation failure, got %v", tc.limit, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("limit %v: %v", tc.limit, err)
		}
		if out.Disposition != tc.exp {
			t.Errorf("limit %v: expected %v, got %v", tc.limit, tc.exp, out.Disposition)
		}
	}
}

func TestStageDurationMetric(t *testing.T) {
	reg := transform.NewRegistry()
	reg.Register("timed", stage.Func(func(_ context.Context, in *stage.Asset, _ stage.Options) (*stage.Asset, error) {
		return in.Clone(), nil
	}))

	r := rule(t, "static", config.StageRef{Stage: "timed"}, config.StageRef{Stage: "timed"})
	if _, err := reg.Run(context.Background(), r, &stage.Asset{Path: "a", Data: []byte("x")}); err != nil {
		t.Fatal(err)
	}

	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatal(err)
	}

	var count uint64
	for _, f := range families {
		if f.GetName() != "assetforge_stage_duration_seconds" {
			continue
		}
		for _, m := range f.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "stage" && l.GetValue() == "timed" {
					count = m.GetHistogram().GetSampleCount()
				}
			}
		}
	}
	if count != 2 {
		t.Fatalf("expected 2 observations for stage timed, got %d", count)
	}
}

func TestScriptChain(t *testing.T) {
	reg := transform.Default()
	r := rule(t, "script", config.StageRef{Stage: "minify"}, config.StageRef{Stage: "bundle", Options: map[string]any{"name": "vendor"}})

	src := "function add ( first , second ) {\n  // sum\n  return first + second ;\n}\n"
	in := &stage.Asset{Path: "lib/add.js", Kind: stage.KindScript, Data: []byte(src)}

	out, err := reg.Run(context.Background(), r, in)
	if err != nil {
		t.Fatal(err)
	}

	if out.Disposition != stage.Bundle || out.Target != "vendor" {
		t.Fatalf("expected bundle into vendor, got %v %q", out.Disposition, out.Target)
	}
	if len(out.Data) >= len(src) || strings.Contains(string(out.Data), "// sum") {
		t.Fatalf("expected minified output, got %q", out.Data)
	}
	if string(in.Data) != src {
		t.Fatal("input asset was modified")
	}
}

func TestStyleChain(t *testing.T) {
	reg := transform.Default()
	r := rule(t, "stylesheet", config.StageRef{Stage: "minify"}, config.StageRef{Stage: "prefix"}, config.StageRef{Stage: "extract"})

	in := &stage.Asset{Path: "main.css", Kind: stage.KindStylesheet, Data: []byte(".a {\n  user-select: none;\n  color: red;\n}\n.b { -webkit-appearance: none; }\n")}
	out, err := reg.Run(context.Background(), r, in)
	if err != nil {
		t.Fatal(err)
	}

	css := string(out.Data)
	for _, exp := range []string{"-webkit-user-select:none;", "-moz-user-select:none;", "-ms-user-select:none;", "user-select:none"} {
		if !strings.Contains(css, exp) {
			t.Errorf("expected %q in %q", exp, css)
		}
	}
	if strings.Contains(css, "-webkit--webkit-") || strings.Count(css, "appearance") != 1 {
		t.Errorf("prefixed declaration was prefixed again: %q", css)
	}
	if out.Disposition != stage.Extract || out.Target != "main" {
		t.Fatalf("expected extract into main, got %v %q", out.Disposition, out.Target)
	}
}

func TestPrefixerPropertiesOption(t *testing.T) {
	p := transform.NewPrefixer()
	in := &stage.Asset{Path: "a.css", Kind: stage.KindStylesheet, Data: []byte("a{user-select:none;hyphens:auto}")}

	out, err := p.Transform(context.Background(), in, stage.Options{"properties": []any{"hyphens"}})
	if err != nil {
		t.Fatal(err)
	}
	exp := "a{user-select:none;-webkit-hyphens:auto;-ms-hyphens:auto;hyphens:auto}"
	if string(out.Data) != exp {
		t.Fatalf("expected %q, got %q", exp, out.Data)
	}
}

func TestPrefixerKeepsExistingPrefixes(t *testing.T) {
	p := transform.NewPrefixer()
	src := "a{-webkit-user-select:none;user-select:none}b{user-select:text}"
	out, err := p.Transform(context.Background(), &stage.Asset{Path: "a.css", Kind: stage.KindStylesheet, Data: []byte(src)}, nil)
	if err != nil {
		t.Fatal(err)
	}
	exp := "a{-webkit-user-select:none;user-select:none}b{-webkit-user-select:text;-moz-user-select:text;-ms-user-select:text;user-select:text}"
	if string(out.Data) != exp {
		t.Fatalf("expected %q, got %q", exp, out.Data)
	}
}

func TestMinifySkipsUncompiledSources(t *testing.T) {
	m := transform.NewMinifier()
	src := "const App = () => <div className=\"x\" />;\n"
	out, err := m.Transform(context.Background(), &stage.Asset{Path: "App.jsx", Data: []byte(src)}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if string(out.Data) != src {
		t.Fatalf("expected jsx to pass through, got %q", out.Data)
	}
}

func TestTemplateStage(t *testing.T) {
	reg := transform.Default()
	r := rule(t, "markup-template", config.StageRef{Stage: "template", Options: map[string]any{"left_delim": "<%=", "right_delim": "%>"}})

	out, err := reg.Run(context.Background(), r, &stage.Asset{Path: "index.ejs", Data: []byte("<title><%= .Context %></title>")})
	if err != nil {
		t.Fatal(err)
	}
	if out.Disposition != stage.Template || out.Meta[transform.MetaLeftDelim] != "<%=" {
		t.Fatalf("unexpected template result %+v", out)
	}

	_, err = reg.Run(context.Background(), r, &stage.Asset{Path: "broken.ejs", Data: []byte("<%= if %>")})
	if !errors.Is(err, transform.ErrTransformationFailure) {
		t.Fatalf("expected transformation failure, got %v", err)
	}
}

func TestExecStage(t *testing.T) {
	if _, err := exec.LookPath("tr"); err != nil {
		t.Skip("tr not available")
	}

	reg := transform.Default()
	r := rule(t, "static", config.StageRef{Stage: "exec", Options: map[string]any{"command": []any{"tr", "a-z", "A-Z"}}})

	out, err := reg.Run(context.Background(), r, &stage.Asset{Path: "a.txt", Data: []byte("hello")})
	if err != nil {
		t.Fatal(err)
	}
	if string(out.Data) != "HELLO" {
		t.Fatalf("expected HELLO, got %q", out.Data)
	}
}

func TestExecStageFailure(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}

	reg := transform.Default()
	r := rule(t, "script", config.StageRef{Stage: "exec", Options: map[string]any{"command": []any{"sh", "-c", "echo syntax error >&2; exit 3"}}})

	_, err := reg.Run(context.Background(), r, &stage.Asset{Path: "a.js", Data: []byte("x")})
	if !errors.Is(err, transform.ErrTransformationFailure) {
		t.Fatalf("expected transformation failure, got %v", err)
	}

	var se *transform.StageError
	if !errors.As(err, &se) || se.Stage != "exec" || se.Path != "a.js" {
		t.Fatalf("expected stage error, got %v", err)
	}
	if !strings.Contains(err.Error(), "syntax error") {
		t.Fatalf("expected stderr in error, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	reg := transform.Default()
	table, err := rules.New(config.Rules{
		{Name: "ok", Match: config.StringSet{"*.js"}, Kind: "script", Chain: []config.StageRef{{Stage: "minify"}}},
		{Name: "bad", Match: config.StringSet{"*.ts"}, Kind: "script", Chain: []config.StageRef{{Stage: "typescript"}}},
	}, nil)
	if err != nil {
		t.Fatal(err)
	}

	err = reg.Validate(table.Rules())
	var use *transform.UnknownStageError
	if !errors.As(err, &use) || use.Stage != "typescript" || use.Rule != "bad" {
		t.Fatalf("expected unknown stage error, got %v", err)
	}

	defaults, err := rules.New(config.DefaultRules(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := reg.Validate(defaults.Rules()); err != nil {
		t.Fatalf("default rules must validate: %v", err)
	}

	badLimit, err := rules.New(config.Rules{
		{Name: "fonts", Match: config.StringSet{"*.woff"}, Kind: "font", Chain: []config.StageRef{{Stage: "url", Options: map[string]any{"limit": "10k"}}}},
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := reg.Validate(badLimit.Rules()); err == nil || !strings.Contains(err.Error(), `"10k"`) {
		t.Fatalf("expected invalid limit error, got %v", err)
	}
}

func TestCustomStage(t *testing.T) {
	reg := transform.NewRegistry()
	reg.Register("upper", stage.Func(func(_ context.Context, in *stage.Asset, _ stage.Options) (*stage.Asset, error) {
		out := in.Clone()
		out.Data = []byte(strings.ToUpper(string(in.Data)))
		return out, nil
	}))

	out, err := reg.Run(context.Background(), rule(t, "static", config.StageRef{Stage: "upper"}), &stage.Asset{Path: "a", Data: []byte("x")})
	if err != nil {
		t.Fatal(err)
	}
	if string(out.Data) != "X" || out.Disposition != stage.Continue {
		t.Fatalf("unexpected result %+v", out)
	}
}
