package config

import (
	"cmp"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/gobwas/glob"
	"github.com/goccy/go-yaml"
	"github.com/pelletier/go-toml/v2"
)

// Configuration data structures for the asset pipeline.

const (
	DefaultOverrideEnv   = "BRANCH"
	DefaultOutputDir     = "dist"
	DefaultPublicPath    = "/"
	DefaultScriptName    = "[name].[hash].js"
	DefaultStyleName     = "[name].[hash:20].css"
	DefaultAssetName     = "[name].[hash:8].[ext]"
	DefaultReportName    = "report.json"
	DefaultEntryFilename = "index.html"
	DefaultIconName      = "icons/[name].[hash:8].[ext]"
	DefaultManifestName  = "manifest.[hash:8].json"
	DefaultInlineLimit   = 10000
	DefaultHashLength    = 20
	DefaultReleaseFlag   = `input.context in {"master", "production", "staging"}`
	AlgorithmSHA256      = "sha256"
	AlgorithmMD5         = "md5"
)

// Root is the top-level configuration structure.
type Root struct {
	Context     Context     `json:"context,omitzero"`
	Defines     Defines     `json:"defines,omitempty"`
	Sources     []*Source   `json:"sources,omitempty"`
	Passthrough StringSet   `json:"passthrough,omitempty"`
	Rules       Rules       `json:"rules,omitempty"`
	Fingerprint Fingerprint `json:"fingerprint,omitzero"`
	Output      Output      `json:"output,omitzero"`
	Entry       Entry       `json:"entry,omitzero"`
	Icons       *Icons      `json:"icons,omitempty"`
	Cache       *Cache      `json:"cache,omitempty"`
	Watch       Watch       `json:"watch,omitzero"`
	Parallelism int         `json:"parallelism,omitempty" minimum:"0"`

	// Dir is the directory relative paths are resolved against. It is the
	// directory of the configuration file, or the working directory.
	Dir string `json:"-"`

	_ struct{} `additionalProperties:"false"`
}

// UnmarshalYAML applies defaults and validates patterns after decoding, so
// that every consumer sees a complete configuration.
func (r *Root) UnmarshalYAML(bs []byte) error {
	type rawRoot Root // avoid recursive calls to UnmarshalYAML by type aliasing
	var raw rawRoot

	if err := yaml.Unmarshal(bs, &raw); err != nil {
		return fmt.Errorf("failed to decode Root: %w", err)
	}

	*r = Root(raw)
	return r.unmarshal()
}

func (r *Root) UnmarshalJSON(bs []byte) error {
	type rawRoot Root
	var raw rawRoot

	if err := json.Unmarshal(bs, &raw); err != nil {
		return fmt.Errorf("failed to decode Root: %w", err)
	}

	*r = Root(raw)
	return r.unmarshal()
}

func (r *Root) unmarshal() error {
	r.SetDefaults()
	return r.validate()
}

// SetDefaults fills in every unset option. It is idempotent.
func (r *Root) SetDefaults() {
	r.Context.OverrideEnv = cmp.Or(r.Context.OverrideEnv, DefaultOverrideEnv)
	if r.Context.Flags == nil {
		r.Context.Flags = map[string]string{"release": DefaultReleaseFlag}
	}
	if r.Context.Overrides == nil {
		r.Context.Overrides = StringSet{"GA"}
	}

	if r.Defines == nil {
		r.Defines = DefaultDefines()
	}

	if len(r.Sources) == 0 {
		r.Sources = []*Source{{Directory: "src", ExcludedFiles: StringSet{"node_modules/**", "**/node_modules/**"}}}
	}

	if len(r.Rules) == 0 {
		r.Rules = DefaultRules()
	}

	r.Fingerprint.Algorithm = cmp.Or(r.Fingerprint.Algorithm, AlgorithmSHA256)
	r.Fingerprint.Length = cmp.Or(r.Fingerprint.Length, DefaultHashLength)

	r.Output.Directory = cmp.Or(r.Output.Directory, DefaultOutputDir)
	r.Output.PublicPath = cmp.Or(r.Output.PublicPath, DefaultPublicPath)
	r.Output.ScriptName = cmp.Or(r.Output.ScriptName, DefaultScriptName)
	r.Output.StyleName = cmp.Or(r.Output.StyleName, DefaultStyleName)
	r.Output.AssetName = cmp.Or(r.Output.AssetName, DefaultAssetName)
	r.Output.Report = cmp.Or(r.Output.Report, DefaultReportName)

	r.Entry.Filename = cmp.Or(r.Entry.Filename, DefaultEntryFilename)
	if r.Entry.Inject == nil {
		r.Entry.Inject = ptr(true)
	}
	if r.Entry.Minify == nil {
		r.Entry.Minify = ptr(true)
	}

	if r.Icons != nil {
		r.Icons.NameTemplate = cmp.Or(r.Icons.NameTemplate, DefaultIconName)
		r.Icons.Manifest = cmp.Or(r.Icons.Manifest, DefaultManifestName)
		if r.Icons.Platforms == nil {
			r.Icons.Platforms = DefaultPlatforms()
		}
	}

	if r.Cache != nil {
		r.Cache.Size = cmp.Or(r.Cache.Size, 1024)
	}

	r.Watch.Debounce = cmp.Or(r.Watch.Debounce, Duration(200*time.Millisecond))
	r.Watch.Interval = cmp.Or(r.Watch.Interval, Duration(24*time.Hour))
}

func (r *Root) validate() error {
	for _, src := range r.Sources {
		if src == nil || src.Directory == "" {
			return errors.New("source directory is required")
		}
		if err := compileAll(src.IncludedFiles, src.ExcludedFiles); err != nil {
			return fmt.Errorf("source %q: %w", src.Directory, err)
		}
	}

	if err := compileAll(r.Passthrough); err != nil {
		return fmt.Errorf("passthrough: %w", err)
	}

	names := make(map[string]struct{}, len(r.Rules))
	for i, rule := range r.Rules {
		if rule.Name == "" {
			return fmt.Errorf("rule #%d: name is required", i)
		}
		if _, ok := names[rule.Name]; ok {
			return fmt.Errorf("rule %q: duplicate name", rule.Name)
		}
		names[rule.Name] = struct{}{}

		if len(rule.Match) == 0 {
			return fmt.Errorf("rule %q: at least one match pattern is required", rule.Name)
		}
		if err := compileAll(rule.Match, rule.Exclude); err != nil {
			return fmt.Errorf("rule %q: %w", rule.Name, err)
		}
		if !slices.Contains(Kinds, rule.Kind) {
			return fmt.Errorf("rule %q: unknown kind %q", rule.Name, rule.Kind)
		}
		for _, s := range rule.Chain {
			if s.Stage == "" {
				return fmt.Errorf("rule %q: stage name is required", rule.Name)
			}
		}
	}

	switch r.Fingerprint.Algorithm {
	case AlgorithmSHA256:
		if r.Fingerprint.Length < 1 || r.Fingerprint.Length > 64 {
			return fmt.Errorf("fingerprint length must be between 1 and 64, got %d", r.Fingerprint.Length)
		}
	case AlgorithmMD5:
		if r.Fingerprint.Length < 1 || r.Fingerprint.Length > 32 {
			return fmt.Errorf("fingerprint length must be between 1 and 32, got %d", r.Fingerprint.Length)
		}
	default:
		return fmt.Errorf("unsupported fingerprint algorithm %q", r.Fingerprint.Algorithm)
	}

	for name, d := range r.Defines {
		if err := d.validate(); err != nil {
			return fmt.Errorf("define %q: %w", name, err)
		}
	}

	if r.Output.Storage != nil {
		if err := r.Output.Storage.validate(); err != nil {
			return err
		}
	}

	if r.Icons != nil && r.Icons.Source == "" {
		return errors.New("icons source is required")
	}

	return nil
}

// Path resolves p against the configuration directory.
func (r *Root) Path(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(r.Dir, p)
}

// Shadowed returns, for every rule that can never match because an earlier
// rule carries an identical pattern set, the names of both rules. Rules are
// never reordered; this is surfaced as a warning only.
func (r *Root) Shadowed() [][2]string {
	var out [][2]string
	for i, later := range r.Rules {
		for _, earlier := range r.Rules[:i] {
			if len(earlier.Exclude) == 0 && later.Match.Equal(earlier.Match) {
				out = append(out, [2]string{later.Name, earlier.Name})
				break
			}
		}
	}
	return out
}

// Kinds lists the asset kinds a rule may assign.
var Kinds = []string{"script", "markup-template", "stylesheet", "font", "image", "icon-source", "static"}

// Context configures the context resolver.
type Context struct {
	// OverrideEnv names the environment variable holding the context override.
	OverrideEnv string `json:"override_env,omitempty"`

	// Repository is the directory searched for a git repository when no
	// override is given. Defaults to the configuration directory.
	Repository string `json:"repository,omitempty"`

	// Flags maps flag names to Rego expressions evaluated against
	// {context, revision, overrides}.
	Flags map[string]string `json:"flags,omitempty"`

	// Overrides lists environment variables exposed to the build as
	// key-value overrides.
	Overrides StringSet `json:"overrides,omitempty"`

	_ struct{} `additionalProperties:"false"`
}

// Define is a compile-time constant substituted into scripts. Exactly one of
// the fields is set.
type Define struct {
	String *string `json:"string,omitempty"`
	Bool   *bool   `json:"bool,omitempty"`
	Raw    *string `json:"raw,omitempty"`
	Env    *string `json:"env,omitempty"`

	_ struct{} `additionalProperties:"false"`
}

func (d Define) validate() error {
	n := 0
	for _, set := range []bool{d.String != nil, d.Bool != nil, d.Raw != nil, d.Env != nil} {
		if set {
			n++
		}
	}
	if n != 1 {
		return errors.New("exactly one of string, bool, raw or env must be set")
	}
	return nil
}

type Defines map[string]Define

func DefaultDefines() Defines {
	return Defines{
		"process.env.NODE_ENV": {String: ptr("production")},
		"process.env.GA":       {Env: ptr("GA")},
		"__DEV__":              {Bool: ptr(false)},
	}
}

// Source is a directory of input files.
type Source struct {
	Directory     string    `json:"directory"`
	Prefix        string    `json:"prefix,omitempty"` // Path prefix for files of this source, relative to the merged root.
	IncludedFiles StringSet `json:"included_files,omitempty"`
	ExcludedFiles StringSet `json:"excluded_files,omitempty"`
	Passthrough   bool      `json:"passthrough,omitempty"` // Copy every file verbatim.

	_ struct{} `additionalProperties:"false"`
}

// Rule maps a set of path patterns to a kind and a chain of stages.
type Rule struct {
	Name    string     `json:"name"`
	Match   StringSet  `json:"match"`
	Exclude StringSet  `json:"exclude,omitempty"`
	Kind    string     `json:"kind" enum:"script,markup-template,stylesheet,font,image,icon-source,static"`
	Chain   []StageRef `json:"chain,omitempty"`

	_ struct{} `additionalProperties:"false"`
}

// StageRef names a transformation stage and its options.
type StageRef struct {
	Stage   string         `json:"stage"`
	Options map[string]any `json:"options,omitempty"`

	_ struct{} `additionalProperties:"false"`
}

type Rules []*Rule

// DefaultRules returns the default rule table. Order matters: the first rule
// whose patterns match an asset wins.
func DefaultRules() Rules {
	url := func(mimetype string) StageRef {
		return StageRef{Stage: "url", Options: map[string]any{"limit": DefaultInlineLimit, "mimetype": mimetype}}
	}

	return Rules{
		{Name: "scripts", Match: StringSet{"**.{js,jsx}"}, Exclude: StringSet{"node_modules/**", "**/node_modules/**"}, Kind: "script",
			Chain: []StageRef{{Stage: "minify"}, {Stage: "bundle"}}},
		{Name: "templates", Match: StringSet{"**.{ejs,tmpl,html}"}, Kind: "markup-template",
			Chain: []StageRef{{Stage: "template"}}},
		{Name: "eot", Match: StringSet{"**.eot"}, Kind: "font",
			// No limit: embedded OpenType fonts are always inlined.
			Chain: []StageRef{{Stage: "url", Options: map[string]any{"mimetype": "application/vnd.ms-fontobject"}}}},
		{Name: "woff", Match: StringSet{"**.{woff,woff2}"}, Kind: "font",
			Chain: []StageRef{url("application/font-woff")}},
		{Name: "ttf-otf", Match: StringSet{"**.{ttf,otf}"}, Kind: "font",
			Chain: []StageRef{url("application/octet-stream")}},
		{Name: "svg", Match: StringSet{"**.svg"}, Kind: "image",
			Chain: []StageRef{url("image/svg+xml")}},
		{Name: "images", Match: StringSet{"**.{jpg,jpeg,png,gif,ico,JPG,JPEG,PNG,GIF,ICO}"}, Kind: "image",
			Chain: []StageRef{{Stage: "file"}}},
		{Name: "styles", Match: StringSet{"**.{css,scss,sass}"}, Kind: "stylesheet",
			Chain: []StageRef{{Stage: "minify"}, {Stage: "prefix"}, {Stage: "extract"}}},
	}
}

// Fingerprint configures content hashing of artifact names.
type Fingerprint struct {
	Algorithm string `json:"algorithm,omitempty" enum:"sha256,md5"`
	Length    int    `json:"length,omitempty" minimum:"1" maximum:"64"`

	_ struct{} `additionalProperties:"false"`
}

// Output configures where and how artifacts are written.
type Output struct {
	Directory  string         `json:"directory,omitempty"`
	PublicPath string         `json:"public_path,omitempty"`
	ScriptName string         `json:"script_name,omitempty"`
	StyleName  string         `json:"style_name,omitempty"`
	AssetName  string         `json:"asset_name,omitempty"`
	Report     string         `json:"report,omitempty"`
	Storage    *ObjectStorage `json:"storage,omitempty"`

	_ struct{} `additionalProperties:"false"`
}

// Entry configures the generated entry document.
type Entry struct {
	Template string         `json:"template,omitempty"`
	Filename string         `json:"filename,omitempty"`
	Inject   *bool          `json:"inject,omitempty"`
	Minify   *bool          `json:"minify,omitempty"`
	Data     map[string]any `json:"data,omitempty"` // Extra values exposed to the template as .Data.

	_ struct{} `additionalProperties:"false"`
}

// Icons configures the icon set generator.
type Icons struct {
	Source       string               `json:"source"`
	AppName      string               `json:"app_name,omitempty"`
	Background   string               `json:"background,omitempty"`
	ThemeColor   string               `json:"theme_color,omitempty"`
	NameTemplate string               `json:"name_template,omitempty"`
	Manifest     string               `json:"manifest,omitempty"`
	Platforms    map[string]*Platform `json:"platforms,omitempty"`

	_ struct{} `additionalProperties:"false"`
}

type Platform struct {
	Disabled bool   `json:"disabled,omitempty"`
	Icons    []Icon `json:"icons,omitempty"`

	_ struct{} `additionalProperties:"false"`
}

// Icon is one required output icon. PNG icons carry exactly one size; ICO
// icons may bundle several.
type Icon struct {
	Name   string `json:"name"`
	Sizes  []int  `json:"sizes"`
	Format string `json:"format,omitempty" enum:"png,ico"`
	Rel    string `json:"rel,omitempty"` // Link relation in the entry document; empty means manifest only.

	_ struct{} `additionalProperties:"false"`
}

func DefaultPlatforms() map[string]*Platform {
	return map[string]*Platform{
		"favicons": {Icons: []Icon{
			{Name: "favicon", Sizes: []int{16, 32, 48}, Format: "ico", Rel: "shortcut icon"},
			{Name: "favicon-16x16", Sizes: []int{16}, Format: "png", Rel: "icon"},
			{Name: "favicon-32x32", Sizes: []int{32}, Format: "png", Rel: "icon"},
		}},
		"android": {Icons: []Icon{
			{Name: "android-chrome-192x192", Sizes: []int{192}, Format: "png"},
			{Name: "android-chrome-512x512", Sizes: []int{512}, Format: "png"},
		}},
		"apple": {Icons: []Icon{
			{Name: "apple-touch-icon", Sizes: []int{180}, Format: "png", Rel: "apple-touch-icon"},
		}},
		"yandex": {Disabled: true, Icons: []Icon{
			{Name: "yandex-browser-50x50", Sizes: []int{50}, Format: "png"},
		}},
	}
}

// Cache configures the persistent transform cache.
type Cache struct {
	Path string `json:"path"`
	Size int    `json:"size,omitempty"` // In-memory entries kept in front of the database.

	_ struct{} `additionalProperties:"false"`
}

// Watch configures watch mode.
type Watch struct {
	Debounce Duration `json:"debounce,omitzero"`
	Interval Duration `json:"interval,omitzero"` // Full rebuild period even without changes.

	_ struct{} `additionalProperties:"false"`
}

// Instead of marshaling and unmarshaling as int64 it uses strings, like "5m" or "0.5s".
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	val, err := time.ParseDuration(str)
	*d = Duration(val)
	return err
}

func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

func (d *Duration) UnmarshalYAML(bs []byte) error {
	var s string
	if err := yaml.Unmarshal(bs, &s); err != nil {
		return err
	}
	val, err := time.ParseDuration(s)
	*d = Duration(val)
	return err
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

type StringSet []string

func (a StringSet) Equal(b StringSet) bool {
	if len(a) != len(b) {
		return false
	}
	return maps.Equal(toSet(a), toSet(b))
}

func toSet(a []string) map[string]struct{} {
	m := make(map[string]struct{}, len(a))
	for _, s := range a {
		m[s] = struct{}{}
	}
	return m
}

// ObjectStorage configures where a finished build is published.
type ObjectStorage struct {
	AmazonS3          *AmazonS3          `json:"aws,omitempty"`
	GCPCloudStorage   *GCPCloudStorage   `json:"gcp,omitempty"`
	AzureBlobStorage  *AzureBlobStorage  `json:"azure,omitempty"`
	FileSystemStorage *FileSystemStorage `json:"filesystem,omitempty"`
}

func (o *ObjectStorage) validate() error {
	n := 0
	if o.AmazonS3 != nil {
		n++
		if err := o.AmazonS3.validate(); err != nil {
			return err
		}
	}
	if o.GCPCloudStorage != nil {
		n++
		if err := o.GCPCloudStorage.validate(); err != nil {
			return err
		}
	}
	if o.AzureBlobStorage != nil {
		n++
		if err := o.AzureBlobStorage.validate(); err != nil {
			return err
		}
	}
	if o.FileSystemStorage != nil {
		n++
		if o.FileSystemStorage.Path == "" {
			return errors.New("filesystem storage path is required")
		}
	}
	if n != 1 {
		return errors.New("exactly one object storage must be configured")
	}
	return nil
}

// AmazonS3 defines the configuration for an Amazon S3-compatible object storage.
type AmazonS3 struct {
	Bucket string `json:"bucket"`
	Prefix string `json:"prefix,omitempty"`
	Region string `json:"region,omitempty"`
	URL    string `json:"url,omitempty"` // for S3-compatible endpoints and tests
}

func (a *AmazonS3) validate() error {
	if a.Bucket == "" {
		return errors.New("amazon s3 bucket is required")
	}
	return nil
}

// GCPCloudStorage defines the configuration for a Google Cloud Storage bucket.
type GCPCloudStorage struct {
	Project string `json:"project"`
	Bucket  string `json:"bucket"`
	Prefix  string `json:"prefix,omitempty"`
}

func (g *GCPCloudStorage) validate() error {
	if g.Project == "" {
		return errors.New("gcp cloud storage project is required")
	}
	if g.Bucket == "" {
		return errors.New("gcp cloud storage bucket is required")
	}
	return nil
}

// AzureBlobStorage defines the configuration for an Azure Blob Storage container.
type AzureBlobStorage struct {
	AccountURL string `json:"account_url"`
	Container  string `json:"container"`
	Prefix     string `json:"prefix,omitempty"`
}

func (a *AzureBlobStorage) validate() error {
	if a.AccountURL == "" {
		return errors.New("azure blob storage account URL is required")
	}
	if a.Container == "" {
		return errors.New("azure blob storage container is required")
	}
	return nil
}

// FileSystemStorage defines the configuration for a local filesystem storage.
type FileSystemStorage struct {
	Path string `json:"path"`
}

func Validate(data []byte) error {
	var config any
	if err := yaml.Unmarshal(data, &config); err != nil {
		return err
	}

	return rootSchema.Validate(config)
}

// ParseFile reads a YAML, JSON or TOML configuration file. Relative paths in
// the configuration are resolved against the file's directory.
func ParseFile(filename string) (*Root, error) {
	bs, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", filename, err)
	}

	if strings.EqualFold(filepath.Ext(filename), ".toml") {
		if bs, err = tomlToJSON(bs); err != nil {
			return nil, fmt.Errorf("failed to decode config file %s: %w", filename, err)
		}
	}

	root, err := Parse(bs)
	if err != nil {
		return nil, err
	}

	dir, err := filepath.Abs(filepath.Dir(filename))
	if err != nil {
		return nil, err
	}
	root.Dir = dir
	return root, nil
}

func Parse(bs []byte) (*Root, error) {
	if err := Validate(bs); err != nil {
		return nil, err
	}

	var root Root
	if err := yaml.Unmarshal(bs, &root); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if root.Dir == "" {
		root.Dir, _ = os.Getwd()
	}
	return &root, nil
}

// tomlToJSON converts a TOML document into JSON, which the YAML decoder
// accepts as-is.
func tomlToJSON(bs []byte) ([]byte, error) {
	var doc map[string]any
	if err := toml.Unmarshal(bs, &doc); err != nil {
		return nil, err
	}
	return json.Marshal(doc)
}

func compileAll(sets ...StringSet) error {
	for _, set := range sets {
		for _, pattern := range set {
			if _, err := glob.Compile(pattern, '/'); err != nil {
				return fmt.Errorf("failed to compile pattern %q: %w", pattern, err)
			}
		}
	}
	return nil
}

func ptr[T any](v T) *T {
	return &v
}
