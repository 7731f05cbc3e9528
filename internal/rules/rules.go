// Package rules maps source assets to transformation chains.
//
// Rules are evaluated strictly in declaration order and the first rule whose
// patterns match wins. There is no most-specific-match: a broad rule declared
// before a narrow one hides it.
package rules

import (
	"errors"
	"fmt"

	"github.com/gobwas/glob"

	"github.com/assetforge/assetforge/internal/config"
	ocp_fs "github.com/assetforge/assetforge/internal/fs"
	"github.com/assetforge/assetforge/internal/source"
	"github.com/assetforge/assetforge/pkg/stage"
)

var ErrNoMatchingRule = errors.New("no matching rule")

// Step is one stage of a rule's chain.
type Step struct {
	Stage   string
	Options stage.Options
}

type Rule struct {
	Name  string
	Kind  stage.Kind
	Chain []Step

	match   []glob.Glob
	exclude []glob.Glob
}

// Matches reports whether p matches one of the rule's patterns and none of
// its exclusions.
func (r *Rule) Matches(p string) bool {
	return ocp_fs.MatchAny(r.match, p) && !ocp_fs.MatchAny(r.exclude, p)
}

// Stages returns the stage names of the chain, in order.
func (r *Rule) Stages() []string {
	names := make([]string, len(r.Chain))
	for i, s := range r.Chain {
		names[i] = s.Stage
	}
	return names
}

type Table struct {
	rules       []*Rule
	passthrough []glob.Glob
}

// New compiles the rule table. The order of rules is preserved.
func New(rules config.Rules, passthrough []string) (*Table, error) {
	t := &Table{rules: make([]*Rule, 0, len(rules))}

	for _, r := range rules {
		match, err := ocp_fs.CompilePatterns(r.Match)
		if err != nil {
			return nil, fmt.Errorf("rule %q: %w", r.Name, err)
		}
		exclude, err := ocp_fs.CompilePatterns(r.Exclude)
		if err != nil {
			return nil, fmt.Errorf("rule %q: %w", r.Name, err)
		}

		chain := make([]Step, len(r.Chain))
		for i, s := range r.Chain {
			chain[i] = Step{Stage: s.Stage, Options: stage.Options(s.Options)}
		}

		t.rules = append(t.rules, &Rule{
			Name:    r.Name,
			Kind:    stage.Kind(r.Kind),
			Chain:   chain,
			match:   match,
			exclude: exclude,
		})
	}

	var err error
	if t.passthrough, err = ocp_fs.CompilePatterns(passthrough); err != nil {
		return nil, fmt.Errorf("passthrough: %w", err)
	}

	return t, nil
}

// Rules returns the compiled rules in evaluation order.
func (t *Table) Rules() []*Rule {
	return t.rules
}

// Passthrough reports whether the asset bypasses every chain, either because
// its source is a pass-through source or because its path matches one of
// the pass-through patterns.
func (t *Table) Passthrough(a *source.Asset) bool {
	return a.Passthrough || ocp_fs.MatchAny(t.passthrough, a.Path)
}

// Dispatch returns the first rule matching the asset's path. Pass-through
// assets must be filtered out by the caller; Dispatch does not consider
// them.
func (t *Table) Dispatch(a *source.Asset) (*Rule, error) {
	for _, r := range t.rules {
		if r.Matches(a.Path) {
			return r, nil
		}
	}
	return nil, fmt.Errorf("%w for %s", ErrNoMatchingRule, a.Path)
}
