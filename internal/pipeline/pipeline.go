// Package pipeline sequences a build: it resolves the context, runs every
// source asset through its rule's chain, names the artifacts, renders the
// entry document and the icon set, and atomically replaces the output
// directory.
package pipeline

import (
	"bytes"
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"path"
	"runtime"
	"slices"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"github.com/assetforge/assetforge/internal/buildctx"
	"github.com/assetforge/assetforge/internal/cache"
	"github.com/assetforge/assetforge/internal/config"
	"github.com/assetforge/assetforge/internal/defines"
	"github.com/assetforge/assetforge/internal/entry"
	"github.com/assetforge/assetforge/internal/fingerprint"
	"github.com/assetforge/assetforge/internal/icons"
	"github.com/assetforge/assetforge/internal/logging"
	"github.com/assetforge/assetforge/internal/metrics"
	"github.com/assetforge/assetforge/internal/progress"
	"github.com/assetforge/assetforge/internal/report"
	"github.com/assetforge/assetforge/internal/rules"
	"github.com/assetforge/assetforge/internal/source"
	"github.com/assetforge/assetforge/internal/transform"
	"github.com/assetforge/assetforge/pkg/stage"
)

// Result describes a successful build.
type Result struct {
	Context   *buildctx.BuildContext
	Artifacts []*fingerprint.Artifact
	Document  *entry.Document
	Icons     *icons.Set
	Report    *report.Report
	OutputDir string
}

type Pipeline struct {
	cfg       *config.Root
	registry  *transform.Registry
	resolver  *buildctx.Resolver
	cache     *cache.Cache
	lookupEnv func(string) (string, bool)
	progress  io.Writer
	outputDir string
	log       *logging.Logger

	last State
}

func New(cfg *config.Root) *Pipeline {
	return &Pipeline{
		cfg:       cfg,
		registry:  transform.Default(),
		lookupEnv: os.LookupEnv,
		log:       logging.NewLoggerOrDefault(nil),
	}
}

func (p *Pipeline) WithRegistry(r *transform.Registry) *Pipeline {
	p.registry = r
	return p
}

// WithResolver replaces the context resolver derived from the
// configuration.
func (p *Pipeline) WithResolver(r *buildctx.Resolver) *Pipeline {
	p.resolver = r
	return p
}

func (p *Pipeline) WithCache(c *cache.Cache) *Pipeline {
	p.cache = c
	return p
}

// WithEnv replaces the environment lookup used for defines and, unless a
// resolver is set, for the context.
func (p *Pipeline) WithEnv(lookup func(string) (string, bool)) *Pipeline {
	p.lookupEnv = lookup
	return p
}

// WithProgress renders a progress bar over the transformed assets to w.
func (p *Pipeline) WithProgress(w io.Writer) *Pipeline {
	p.progress = w
	return p
}

// WithOutputDir overrides output.directory.
func (p *Pipeline) WithOutputDir(dir string) *Pipeline {
	p.outputDir = dir
	return p
}

func (p *Pipeline) WithLogger(log *logging.Logger) *Pipeline {
	p.log = logging.NewLoggerOrDefault(log)
	return p
}

// State returns the state the last build ended in.
func (p *Pipeline) State() State {
	return p.last
}

// OutputDir returns the resolved output directory.
func (p *Pipeline) OutputDir() string {
	return p.cfg.Path(cmp.Or(p.outputDir, p.cfg.Output.Directory))
}

// Validate checks the rule table against the stage registry. Shadowed rules
// are logged, not rejected.
func (p *Pipeline) Validate() (*rules.Table, error) {
	table, err := rules.New(p.cfg.Rules, p.cfg.Passthrough)
	if err != nil {
		return nil, err
	}
	if err := p.registry.Validate(table.Rules()); err != nil {
		return nil, err
	}
	for _, s := range p.cfg.Shadowed() {
		p.log.Warnf("Rule %q is shadowed by earlier rule %q and never matches", s[0], s[1])
	}
	return table, nil
}

// build holds the state of a single run.
type build struct {
	*Pipeline
	machine

	table   *rules.Table
	bc      *buildctx.BuildContext
	defs    *defines.Set
	assets  []*dispatched
	results []*stage.Asset
	namer   *fingerprint.Namer

	iconSource []byte
	inlined    map[string]string
	emitted    map[string]*fingerprint.Artifact
	scripts    []*fingerprint.Artifact
	styles     []*fingerprint.Artifact
	tmpl       *entry.Template
	iconSet    *icons.Set
	doc        *entry.Document
}

type dispatched struct {
	src  *source.Asset
	rule *rules.Rule // nil for pass-through assets
	in   *stage.Asset
}

// Build runs a complete build. On failure the returned error is a
// *BuildError and the output directory is left untouched.
func (p *Pipeline) Build(ctx context.Context) (*Result, error) {
	start := time.Now()
	metrics.BuildCount.Inc()
	metrics.LastBuildStart.Set(float64(start.Unix()))
	defer func() {
		metrics.LastBuildEnd.Set(float64(time.Now().Unix()))
		metrics.BuildDuration.Observe(time.Since(start).Seconds())
	}()

	b := &build{Pipeline: p}
	res, err := b.run(ctx)
	p.last = b.machine.state

	var berr *BuildError
	if errors.As(err, &berr) {
		metrics.BuildFailed.WithLabelValues(berr.State.String(), berr.Kind).Inc()
		p.log.Errorf("Build failed in state %s: %v", berr.State, berr)
	}
	return res, err
}

func (b *build) run(ctx context.Context) (*Result, error) {
	table, err := b.Validate()
	if err != nil {
		return nil, b.fail("", err)
	}
	b.table = table

	outDir := b.OutputDir()
	fl, err := lock(ctx, outDir)
	if err != nil {
		return nil, b.fail("", err)
	}
	defer fl.Unlock()

	if err := b.resolveContext(ctx); err != nil {
		return nil, err
	}
	if err := b.applyDefines(ctx); err != nil {
		return nil, err
	}
	if err := b.dispatch(ctx); err != nil {
		return nil, err
	}
	if err := b.name(ctx); err != nil {
		return nil, err
	}
	if err := b.document(); err != nil {
		return nil, err
	}
	return b.write(outDir)
}

func (b *build) resolveContext(ctx context.Context) error {
	r := b.resolver
	if r == nil {
		r = buildctx.New().WithConfig(&b.cfg.Context, b.cfg.Dir).WithEnv(b.lookupEnv).WithLogger(b.log)
	}

	bc, err := r.Resolve(ctx)
	if err != nil {
		return b.fail("", err)
	}
	b.bc = bc
	b.log.Infof("Building context %q (%s)", bc.Name, bc.Source)

	b.advance(StateContextResolved)
	return nil
}

// applyDefines resolves the define set, discovers the sources, assigns each
// asset its rule and substitutes the defines into every script.
func (b *build) applyDefines(ctx context.Context) error {
	defs, err := defines.Resolve(b.cfg.Defines, b.lookupEnv)
	if err != nil {
		return b.fail("", err)
	}
	for _, token := range defs.Undefined() {
		b.log.Warnf("Define %s is undefined", token)
	}
	b.defs = defs

	tree, err := source.New(b.cfg)
	if err != nil {
		return b.fail("", err)
	}
	srcs, err := tree.Discover(ctx)
	if err != nil {
		return b.fail("", err)
	}

	var iconPath string
	if b.cfg.Icons != nil {
		iconPath = path.Clean(b.cfg.Icons.Source)
	}

	for _, src := range srcs {
		if src.Path == iconPath {
			src.Kind = stage.KindIconSource
			b.iconSource = src.Data
		}

		if b.table.Passthrough(src) {
			b.assets = append(b.assets, &dispatched{src: src})
			continue
		}

		rule, err := b.table.Dispatch(src)
		if err != nil {
			return b.fail(src.Path, err)
		}

		in := &stage.Asset{Path: src.Path, Kind: cmp.Or(src.Kind, rule.Kind), Data: src.Data}
		if rule.Kind == stage.KindScript {
			in.Data = defs.Apply(in.Data)
		}
		b.assets = append(b.assets, &dispatched{src: src, rule: rule, in: in})
	}

	if b.cfg.Icons != nil && b.iconSource == nil {
		// Not part of any source tree, read it relative to the configuration.
		bs, err := os.ReadFile(b.cfg.Path(b.cfg.Icons.Source))
		if err != nil {
			return b.fail(b.cfg.Icons.Source, fmt.Errorf("icon source: %w", err))
		}
		b.iconSource = bs
	}

	b.advance(StateDefinesApplied)
	return nil
}

// dispatch runs every chain on a bounded number of goroutines. The first
// failure cancels the remaining chains.
func (b *build) dispatch(ctx context.Context) error {
	b.results = make([]*stage.Asset, len(b.assets))

	var bar *progress.Bar
	if b.progress != nil {
		bar = progress.New(b.progress, len(b.assets), "Transforming")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cmp.Or(b.cfg.Parallelism, runtime.NumCPU()))

	for i, d := range b.assets {
		if d.rule == nil {
			bar.Add(1)
			continue
		}
		g.Go(func() error {
			defer bar.Add(1)
			out, err := b.transform(gctx, d)
			if err != nil {
				return err
			}
			b.results[i] = out
			metrics.AssetsProcessed.WithLabelValues(d.rule.Name).Inc()
			return nil
		})
	}

	err := g.Wait()
	bar.Finish()
	if err != nil {
		var serr *transform.StageError
		if errors.As(err, &serr) {
			return b.fail(serr.Path, err)
		}
		return b.fail("", err)
	}

	b.advance(StateAssetsDispatched)
	return nil
}

func (b *build) transform(ctx context.Context, d *dispatched) (*stage.Asset, error) {
	if b.cache == nil {
		return b.registry.Run(ctx, d.rule, d.in)
	}

	key, err := cache.Key(d.rule, d.in.Path, d.in.Data)
	if err != nil {
		return nil, err
	}
	if out, ok, err := b.cache.Get(ctx, key); err != nil {
		b.log.Warnf("Transform cache lookup for %s failed: %v", d.in.Path, err)
	} else if ok {
		out.Kind = d.in.Kind
		return out, nil
	}

	out, err := b.registry.Run(ctx, d.rule, d.in)
	if err != nil {
		return nil, err
	}
	if err := b.cache.Put(ctx, key, out); err != nil {
		b.log.Warnf("Transform cache update for %s failed: %v", d.in.Path, err)
	}
	return out, nil
}

// name turns the transformed assets into named artifacts: emitted assets
// first, so that stylesheets can reference them, then stylesheets, bundles,
// pass-through files and the icon set.
func (b *build) name(ctx context.Context) error {
	out := b.cfg.Output
	b.namer = fingerprint.NewNamer(b.cfg.Fingerprint)
	b.inlined = make(map[string]string)
	b.emitted = make(map[string]*fingerprint.Artifact)

	bundles := map[string]*group{}
	extracts := map[string]*group{}

	for i, d := range b.assets {
		if d.rule == nil {
			continue
		}
		res := b.results[i]

		switch res.Disposition {
		case stage.Inline:
			b.inlined[res.Path] = transform.DataURI(cmp.Or(res.MediaType, "application/octet-stream"), res.Data)
		case stage.Bundle:
			addTo(bundles, res)
		case stage.Extract:
			addTo(extracts, res)
		case stage.Template:
			if b.tmpl == nil || res.Path == b.cfg.Entry.Template {
				b.tmpl = &entry.Template{
					Name:       res.Path,
					Source:     res.Data,
					LeftDelim:  res.Meta[transform.MetaLeftDelim],
					RightDelim: res.Meta[transform.MetaRightDelim],
				}
			}
		default:
			a := fingerprint.New(res.Path, cmp.Or(res.NameTemplate, out.AssetName), res.Data, d.rule.Kind)
			a.MediaType = res.MediaType
			if _, err := b.namer.Name(a); err != nil {
				return b.fail(res.Path, err)
			}
			b.emitted[res.Path] = a
		}
	}

	if b.cfg.Entry.Template != "" && (b.tmpl == nil || b.tmpl.Name != b.cfg.Entry.Template) {
		return b.fail(b.cfg.Entry.Template, errors.New("entry template is not part of the build"))
	}

	resolve := func(p string) (string, bool) {
		if uri, ok := b.inlined[p]; ok {
			return uri, true
		}
		if a, ok := b.emitted[p]; ok {
			return out.PublicPath + a.Final, true
		}
		return "", false
	}

	for _, target := range slices.Sorted(maps.Keys(extracts)) {
		g := extracts[target]
		var css bytes.Buffer
		for _, a := range g.assets {
			css.Write(rewriteURLs(a.Data, a.Path, resolve))
			css.WriteByte('\n')
		}
		a, err := b.nameGroup(target, "css", out.StyleName, css.Bytes(), stage.KindStylesheet, "text/css", g)
		if err != nil {
			return err
		}
		b.styles = append(b.styles, a)
	}

	for _, target := range slices.Sorted(maps.Keys(bundles)) {
		g := bundles[target]
		var js bytes.Buffer
		for _, a := range g.assets {
			js.Write(a.Data)
			js.WriteString(";\n")
		}
		a, err := b.nameGroup(target, "js", out.ScriptName, js.Bytes(), stage.KindScript, "text/javascript", g)
		if err != nil {
			return err
		}
		b.scripts = append(b.scripts, a)
	}

	for _, d := range b.assets {
		if d.rule != nil {
			continue
		}
		a := fingerprint.New(d.src.Path, d.src.Path, d.src.Data, stage.KindStatic)
		if _, err := b.namer.Name(a); err != nil {
			return b.fail(d.src.Path, err)
		}
	}

	if b.cfg.Icons != nil {
		set, err := icons.NewGenerator(b.namer).
			WithLogger(b.log).
			Generate(ctx, b.iconSource, icons.SpecFromConfig(b.cfg.Icons, out.PublicPath))
		if err != nil {
			return b.fail(b.cfg.Icons.Source, err)
		}
		b.iconSet = set
	}

	b.advance(StateArtifactsNamed)
	return nil
}

// group collects the assets merged into one bundle or stylesheet, in path
// order.
type group struct {
	assets []*stage.Asset
}

func addTo(groups map[string]*group, a *stage.Asset) {
	g, ok := groups[a.Target]
	if !ok {
		g = &group{}
		groups[a.Target] = g
	}
	g.assets = append(g.assets, a)
}

func (b *build) nameGroup(target, ext, template string, data []byte, kind stage.Kind, mediaType string, g *group) (*fingerprint.Artifact, error) {
	a := fingerprint.New(target+"."+ext, template, data, kind)
	a.MediaType = mediaType
	a.Sources = make([]string, len(g.assets))
	for i, s := range g.assets {
		a.Sources[i] = s.Path
	}
	if _, err := b.namer.Name(a); err != nil {
		return nil, b.fail(target, err)
	}
	return a, nil
}

func (b *build) document() error {
	tmpl := b.tmpl
	if tmpl == nil {
		tmpl = entry.DefaultTemplate()
	}

	opts := entry.Options{
		PublicPath: b.cfg.Output.PublicPath,
		Filename:   b.cfg.Entry.Filename,
		Inject:     *b.cfg.Entry.Inject,
		Minify:     *b.cfg.Entry.Minify,
		Data:       b.cfg.Entry.Data,
	}
	if b.iconSet != nil {
		opts.Links = b.iconSet.Links(opts.PublicPath)
	}

	// Stylesheets come first so that they are loaded before the scripts.
	doc, err := entry.Generate(tmpl, b.bc, slices.Concat(b.styles, b.scripts), opts)
	if err != nil {
		return b.fail(tmpl.Name, err)
	}

	for _, a := range b.namer.Artifacts() {
		if a.Final == doc.Filename || a.Final == b.cfg.Output.Report {
			return b.fail(a.Final, &fingerprint.CollisionError{Name: a.Final, Existing: a.Sources, Sources: []string{tmpl.Name}})
		}
	}
	b.doc = doc

	b.advance(StateDocumentGenerated)
	return nil
}

// write stages every file next to the output directory and swaps it in.
func (b *build) write(outDir string) (*Result, error) {
	artifacts := b.namer.Artifacts()

	r, err := report.New(b.bc, artifacts, b.doc.Filename, b.doc.Data, report.Options{
		Defines:   b.defs.Values(),
		Undefined: b.defs.Undefined(),
		Inlined:   slices.Sorted(maps.Keys(b.inlined)),
	})
	if err != nil {
		return nil, b.fail("", err)
	}
	rbs, err := r.JSON()
	if err != nil {
		return nil, b.fail("", err)
	}

	st, err := newStaging(outDir)
	if err != nil {
		return nil, b.fail(outDir, err)
	}

	for _, a := range artifacts {
		if err := st.write(a.Final, a.Data); err != nil {
			st.discard()
			return nil, b.fail(a.Final, err)
		}
	}
	if err := st.write(b.doc.Filename, b.doc.Data); err != nil {
		st.discard()
		return nil, b.fail(b.doc.Filename, err)
	}
	if err := st.write(b.cfg.Output.Report, rbs); err != nil {
		st.discard()
		return nil, b.fail(b.cfg.Output.Report, err)
	}

	if err := st.commit(); err != nil {
		st.discard()
		return nil, b.fail(outDir, err)
	}

	for _, a := range artifacts {
		metrics.ArtifactBytes.WithLabelValues(string(a.Kind)).Add(float64(a.Size()))
	}
	metrics.ArtifactBytes.WithLabelValues("entry").Add(float64(len(b.doc.Data)))

	b.advance(StateDone)
	b.log.Infof("Wrote %d artifacts (%s, %s gzipped) to %s", len(r.Artifacts), humanize.Bytes(uint64(r.Size)), humanize.Bytes(uint64(r.GzipSize)), outDir)

	return &Result{
		Context:   b.bc,
		Artifacts: artifacts,
		Document:  b.doc,
		Icons:     b.iconSet,
		Report:    r,
		OutputDir: outDir,
	}, nil
}
