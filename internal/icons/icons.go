// Package icons renders the favicon and home-screen icon set, plus the web
// app manifest that lists it, from a single source image.
package icons

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"  // decoder
	_ "image/jpeg" // decoder
	"image/png"
	"maps"
	"slices"
	"strconv"
	"strings"

	xdraw "golang.org/x/image/draw"
	_ "golang.org/x/image/webp" // decoder

	"github.com/assetforge/assetforge/internal/config"
	"github.com/assetforge/assetforge/internal/entry"
	"github.com/assetforge/assetforge/internal/fingerprint"
	"github.com/assetforge/assetforge/internal/logging"
	"github.com/assetforge/assetforge/pkg/stage"
)

var ErrUnsupportedSourceFormat = errors.New("unsupported source format")

const (
	KindIcon     stage.Kind = "icon"
	KindManifest stage.Kind = "manifest"

	FormatPNG = "png"
	FormatICO = "ico"
)

// Spec describes the icon set to generate.
type Spec struct {
	AppName      string
	Background   string
	ThemeColor   string
	NameTemplate string
	Manifest     string
	PublicPath   string
	Platforms    map[string]*config.Platform
}

// SpecFromConfig builds the spec for the icons section of the configuration.
func SpecFromConfig(c *config.Icons, publicPath string) Spec {
	return Spec{
		AppName:      c.AppName,
		Background:   c.Background,
		ThemeColor:   c.ThemeColor,
		NameTemplate: c.NameTemplate,
		Manifest:     c.Manifest,
		PublicPath:   publicPath,
		Platforms:    c.Platforms,
	}
}

// Icon is one generated icon.
type Icon struct {
	Platform string
	Name     string
	Sizes    []int
	Format   string
	Rel      string
	Artifact *fingerprint.Artifact
}

// Set is the result of a generation: one artifact per declared icon plus the
// manifest.
type Set struct {
	Icons    []*Icon
	Manifest *fingerprint.Artifact
}

// Artifacts returns the icon artifacts followed by the manifest.
func (s *Set) Artifacts() []*fingerprint.Artifact {
	out := make([]*fingerprint.Artifact, 0, len(s.Icons)+1)
	for _, i := range s.Icons {
		out = append(out, i.Artifact)
	}
	return append(out, s.Manifest)
}

// Links returns the head links of every icon with a link relation, followed
// by the manifest link.
func (s *Set) Links(publicPath string) []entry.Link {
	var links []entry.Link
	for _, i := range s.Icons {
		if i.Rel == "" {
			continue
		}
		l := entry.Link{Rel: i.Rel, Href: publicPath + i.Artifact.Final, Type: i.Artifact.MediaType}
		if i.Format == FormatPNG {
			l.Sizes = entry.Sizes(i.Sizes)
		}
		links = append(links, l)
	}
	return append(links, entry.Link{Rel: "manifest", Href: publicPath + s.Manifest.Final})
}

type Generator struct {
	namer *fingerprint.Namer
	log   *logging.Logger
}

func NewGenerator(namer *fingerprint.Namer) *Generator {
	return &Generator{namer: namer}
}

func (g *Generator) WithLogger(log *logging.Logger) *Generator {
	g.log = log
	return g
}

// Generate renders every icon of every enabled platform, in platform name
// order, and the manifest referencing them.
func (g *Generator) Generate(ctx context.Context, src []byte, spec Spec) (*Set, error) {
	log := logging.NewLoggerOrDefault(g.log)

	img, format, err := image.Decode(bytes.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedSourceFormat, err)
	}
	log.Debugf("Icon source: %s %dx%d", format, img.Bounds().Dx(), img.Bounds().Dy())

	bg, err := parseColor(spec.Background)
	if err != nil {
		return nil, fmt.Errorf("icons background: %w", err)
	}

	set := &Set{}
	for _, platform := range slices.Sorted(maps.Keys(spec.Platforms)) {
		p := spec.Platforms[platform]
		if p == nil || p.Disabled {
			continue
		}

		for _, decl := range p.Icons {
			if err := ctx.Err(); err != nil {
				return nil, err
			}

			icon, err := g.render(img, bg, platform, decl, spec.NameTemplate)
			if err != nil {
				return nil, err
			}
			set.Icons = append(set.Icons, icon)
		}
	}

	if set.Manifest, err = g.manifest(set, spec); err != nil {
		return nil, err
	}

	return set, nil
}

func (g *Generator) render(img image.Image, bg color.Color, platform string, decl config.Icon, tmpl string) (*Icon, error) {
	if len(decl.Sizes) == 0 {
		return nil, fmt.Errorf("icon %s: no sizes", decl.Name)
	}

	format := decl.Format
	if format == "" {
		format = FormatPNG
	}

	var data []byte
	var mediaType string
	var err error

	switch format {
	case FormatPNG:
		if len(decl.Sizes) != 1 {
			return nil, fmt.Errorf("icon %s: png icons have exactly one size", decl.Name)
		}
		data, err = encodePNG(scale(img, decl.Sizes[0], bg))
		mediaType = "image/png"
	case FormatICO:
		imgs := make([]image.Image, len(decl.Sizes))
		for i, s := range decl.Sizes {
			imgs[i] = scale(img, s, bg)
		}
		data, err = encodeICO(imgs)
		mediaType = "image/x-icon"
	default:
		return nil, fmt.Errorf("icon %s: unknown format %q", decl.Name, format)
	}
	if err != nil {
		return nil, fmt.Errorf("icon %s: %w", decl.Name, err)
	}

	a := &fingerprint.Artifact{
		Template:  tmpl,
		Name:      decl.Name,
		Ext:       format,
		Data:      data,
		Kind:      KindIcon,
		MediaType: mediaType,
		Sources:   []string{platform + "/" + decl.Name},
	}
	if _, err := g.namer.Name(a); err != nil {
		return nil, err
	}

	return &Icon{Platform: platform, Name: decl.Name, Sizes: decl.Sizes, Format: format, Rel: decl.Rel, Artifact: a}, nil
}

type manifestIcon struct {
	Src   string `json:"src"`
	Sizes string `json:"sizes"`
	Type  string `json:"type"`
}

type manifest struct {
	Name            string         `json:"name,omitempty"`
	ShortName       string         `json:"short_name,omitempty"`
	Icons           []manifestIcon `json:"icons"`
	ThemeColor      string         `json:"theme_color,omitempty"`
	BackgroundColor string         `json:"background_color,omitempty"`
	Display         string         `json:"display"`
	StartURL        string         `json:"start_url"`
}

func (g *Generator) manifest(set *Set, spec Spec) (*fingerprint.Artifact, error) {
	m := manifest{
		Name:            spec.AppName,
		ShortName:       spec.AppName,
		Icons:           make([]manifestIcon, 0, len(set.Icons)),
		ThemeColor:      spec.ThemeColor,
		BackgroundColor: spec.Background,
		Display:         "standalone",
		StartURL:        spec.PublicPath,
	}
	for _, i := range set.Icons {
		sizes := make([]string, len(i.Sizes))
		for j, s := range i.Sizes {
			sizes[j] = strconv.Itoa(s) + "x" + strconv.Itoa(s)
		}
		m.Icons = append(m.Icons, manifestIcon{
			Src:   spec.PublicPath + i.Artifact.Final,
			Sizes: strings.Join(sizes, " "),
			Type:  i.Artifact.MediaType,
		})
	}

	bs, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, err
	}

	a := &fingerprint.Artifact{
		Template:  spec.Manifest,
		Name:      "manifest",
		Ext:       "json",
		Data:      bs,
		Kind:      KindManifest,
		MediaType: "application/manifest+json",
		Sources:   []string{"manifest"},
	}
	if _, err := g.namer.Name(a); err != nil {
		return nil, err
	}
	return a, nil
}

// scale fits img into a size×size square, centred, over bg.
func scale(img image.Image, size int, bg color.Color) image.Image {
	dst := image.NewNRGBA(image.Rect(0, 0, size, size))
	if bg != nil {
		xdraw.Draw(dst, dst.Bounds(), image.NewUniform(bg), image.Point{}, xdraw.Src)
	}

	b := img.Bounds()
	w, h := size, size
	if b.Dx() > b.Dy() {
		h = max(1, size*b.Dy()/b.Dx())
	} else if b.Dy() > b.Dx() {
		w = max(1, size*b.Dx()/b.Dy())
	}
	x, y := (size-w)/2, (size-h)/2

	xdraw.CatmullRom.Scale(dst, image.Rect(x, y, x+w, y+h), img, b, xdraw.Over, nil)
	return dst
}

func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.BestCompression}
	if err := enc.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// parseColor accepts "#rgb" and "#rrggbb". The empty string means
// transparent.
func parseColor(s string) (color.Color, error) {
	if s == "" {
		return nil, nil
	}
	hex := strings.TrimPrefix(s, "#")
	if len(hex) == 3 {
		hex = string([]byte{hex[0], hex[0], hex[1], hex[1], hex[2], hex[2]})
	}
	if len(hex) != 6 {
		return nil, fmt.Errorf("invalid color %q", s)
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return nil, fmt.Errorf("invalid color %q", s)
	}
	return color.NRGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 0xff}, nil
}
