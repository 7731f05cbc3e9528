// Package buildctx resolves the deployment context a build runs in: its name
// (usually the git branch), the commit, the derived flags and the external
// overrides exposed to templates and scripts.
package buildctx

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"

	"github.com/assetforge/assetforge/internal/config"
	"github.com/assetforge/assetforge/internal/logging"
)

// ErrContextUnavailable is returned when no override is given and the
// project is not on a named git branch.
var ErrContextUnavailable = errors.New("context unavailable")

const (
	SourceOverride = "override"
	SourceGit      = "git"
)

// BuildContext is resolved once per build and read-only afterwards.
type BuildContext struct {
	Name      string            `json:"name"`
	Source    string            `json:"source"`
	Revision  string            `json:"revision,omitempty"`
	Flags     map[string]bool   `json:"flags"`
	Overrides map[string]string `json:"overrides"`
	Timestamp time.Time         `json:"timestamp"`
}

// Flag reports the value of the named flag. Unknown flags are false.
func (c *BuildContext) Flag(name string) bool {
	return c.Flags[name]
}

type Resolver struct {
	override    string
	overrideEnv string
	repository  string
	flags       map[string]string
	overrides   []string
	lookupEnv   func(string) (string, bool)
	now         func() time.Time
	log         *logging.Logger
}

func New() *Resolver {
	return &Resolver{
		lookupEnv: os.LookupEnv,
		now:       time.Now,
	}
}

// WithConfig applies the context section of the configuration. Relative
// repository paths are resolved against dir.
func (r *Resolver) WithConfig(c *config.Context, dir string) *Resolver {
	r.overrideEnv = c.OverrideEnv
	r.flags = c.Flags
	r.overrides = c.Overrides
	r.repository = dir
	if c.Repository != "" {
		r.repository = c.Repository
		if dir != "" && !filepath.IsAbs(c.Repository) {
			r.repository = filepath.Join(dir, c.Repository)
		}
	}
	return r
}

// WithOverride sets an explicit context name, taking precedence over both
// the environment and git.
func (r *Resolver) WithOverride(name string) *Resolver {
	r.override = name
	return r
}

func (r *Resolver) WithOverrideEnv(name string) *Resolver {
	r.overrideEnv = name
	return r
}

func (r *Resolver) WithRepository(dir string) *Resolver {
	r.repository = dir
	return r
}

func (r *Resolver) WithFlags(flags map[string]string) *Resolver {
	r.flags = flags
	return r
}

func (r *Resolver) WithOverrideVars(names []string) *Resolver {
	r.overrides = names
	return r
}

// WithEnv replaces the environment lookup, for tests.
func (r *Resolver) WithEnv(lookup func(string) (string, bool)) *Resolver {
	r.lookupEnv = lookup
	return r
}

func (r *Resolver) WithClock(now func() time.Time) *Resolver {
	r.now = now
	return r
}

func (r *Resolver) WithLogger(log *logging.Logger) *Resolver {
	r.log = log
	return r
}

func (r *Resolver) Resolve(ctx context.Context) (*BuildContext, error) {
	log := logging.NewLoggerOrDefault(r.log)

	bc := &BuildContext{
		Flags:     make(map[string]bool, len(r.flags)),
		Overrides: make(map[string]string, len(r.overrides)),
	}

	name, source := r.override, SourceOverride
	if name == "" && r.overrideEnv != "" {
		name, _ = r.lookupEnv(r.overrideEnv)
	}

	branch, revision, gitErr := r.head()
	bc.Revision = revision

	if name == "" {
		if gitErr != nil {
			return nil, gitErr
		}
		name, source = branch, SourceGit
	}

	bc.Name, bc.Source = name, source
	log.Infof("Build context %q (from %s)", bc.Name, bc.Source)

	for _, v := range r.overrides {
		if value, ok := r.lookupEnv(v); ok {
			bc.Overrides[v] = value
		}
	}

	ts, err := r.timestamp()
	if err != nil {
		return nil, err
	}
	bc.Timestamp = ts

	input := map[string]any{
		"context":   bc.Name,
		"revision":  bc.Revision,
		"overrides": toAny(bc.Overrides),
	}

	for _, flag := range slices.Sorted(maps.Keys(r.flags)) {
		v, err := evalFlag(ctx, r.flags[flag], input)
		if err != nil {
			return nil, fmt.Errorf("flag %q: %w", flag, err)
		}
		bc.Flags[flag] = v
		log.Debugf("Flag %s = %t", flag, v)
	}

	return bc, nil
}

// head returns the current branch and commit of the repository containing
// the configured directory. The revision is returned even for a detached
// HEAD, where the branch is empty and the error is ErrContextUnavailable.
func (r *Resolver) head() (string, string, error) {
	dir := r.repository
	if dir == "" {
		dir = "."
	}

	repo, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return "", "", fmt.Errorf("%w: no override given and %s is not in a git repository: %v", ErrContextUnavailable, dir, err)
	}

	head, err := repo.Head()
	if err != nil {
		return "", "", fmt.Errorf("%w: failed to read HEAD: %v", ErrContextUnavailable, err)
	}

	if !head.Name().IsBranch() {
		return "", head.Hash().String(), fmt.Errorf("%w: HEAD is detached at %s", ErrContextUnavailable, head.Hash().String()[:7])
	}

	return head.Name().Short(), head.Hash().String(), nil
}

func (r *Resolver) timestamp() (time.Time, error) {
	if s, ok := r.lookupEnv("SOURCE_DATE_EPOCH"); ok && s != "" {
		secs, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid SOURCE_DATE_EPOCH %q: %w", s, err)
		}
		return time.Unix(secs, 0).UTC(), nil
	}
	return r.now().UTC(), nil
}

func evalFlag(ctx context.Context, expr string, input map[string]any) (bool, error) {
	body, err := ast.ParseBody(expr)
	if err != nil {
		return false, err
	}

	rs, err := rego.New(rego.ParsedQuery(body), rego.Input(input)).Eval(ctx)
	if err != nil {
		return false, err
	}

	// A query whose expression evaluates to false has no results.
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return false, nil
	}

	b, ok := rs[0].Expressions[0].Value.(bool)
	if !ok {
		return false, fmt.Errorf("expression %q is not boolean", expr)
	}
	return b, nil
}

func toAny(m map[string]string) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
