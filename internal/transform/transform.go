// Package transform runs assets through their chains of stages.
package transform

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/assetforge/assetforge/internal/metrics"
	"github.com/assetforge/assetforge/internal/rules"
	"github.com/assetforge/assetforge/pkg/stage"
)

// ErrTransformationFailure is matched by every error a stage returns.
var ErrTransformationFailure = errors.New("transformation failure")

// StageError wraps the error of a failing stage. It matches both
// ErrTransformationFailure and the stage's own error.
type StageError struct {
	Stage string
	Path  string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() []error {
	return []error{ErrTransformationFailure, e.Err}
}

// UnknownStageError is returned by Validate for chains naming stages that are
// not registered.
type UnknownStageError struct {
	Rule  string
	Stage string
}

func (e *UnknownStageError) Error() string {
	return fmt.Sprintf("rule %q: unknown stage %q", e.Rule, e.Stage)
}

// Registry maps stage names to implementations. It is safe for concurrent
// use.
type Registry struct {
	mu     sync.RWMutex
	stages map[string]stage.Stage
}

func NewRegistry() *Registry {
	return &Registry{stages: make(map[string]stage.Stage)}
}

// Default returns a registry holding every built-in stage.
func Default() *Registry {
	r := NewRegistry()
	r.Register("identity", stage.Func(identity))
	r.Register("bundle", stage.Func(bundle))
	r.Register("extract", stage.Func(extract))
	r.Register("url", stage.Func(url))
	r.Register("file", stage.Func(file))
	r.Register("template", stage.Func(compileTemplate))
	r.Register("minify", NewMinifier())
	r.Register("prefix", NewPrefixer())
	r.Register("exec", stage.Func(execStage))
	return r
}

// Register adds or replaces the stage called name.
func (r *Registry) Register(name string, s stage.Stage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stages[name] = s
}

func (r *Registry) Lookup(name string) (stage.Stage, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.stages[name]
	return s, ok
}

// Names returns the registered stage names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.stages))
}

// Validate checks that every stage referenced by the rules is registered and
// that the options of the built-in url stage are well formed.
func (r *Registry) Validate(rs []*rules.Rule) error {
	var errs []error
	for _, rule := range rs {
		for _, step := range rule.Chain {
			if _, ok := r.Lookup(step.Stage); !ok {
				errs = append(errs, &UnknownStageError{Rule: rule.Name, Stage: step.Stage})
				continue
			}
			if step.Stage == "url" {
				if _, _, err := inlineLimit(step.Options); err != nil {
					errs = append(errs, fmt.Errorf("rule %q: %w", rule.Name, err))
				}
			}
		}
	}
	return errors.Join(errs...)
}

// Run passes the asset through the rule's chain, in order. The input is
// never modified.
func (r *Registry) Run(ctx context.Context, rule *rules.Rule, in *stage.Asset) (*stage.Asset, error) {
	cur := in
	for _, step := range rule.Chain {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		s, ok := r.Lookup(step.Stage)
		if !ok {
			return nil, &UnknownStageError{Rule: rule.Name, Stage: step.Stage}
		}

		start := time.Now()
		out, err := s.Transform(ctx, cur, step.Options)
		metrics.StageDuration.WithLabelValues(step.Stage).Observe(time.Since(start).Seconds())
		if err != nil {
			return nil, &StageError{Stage: step.Stage, Path: in.Path, Err: err}
		}
		if out == nil {
			return nil, &StageError{Stage: step.Stage, Path: in.Path, Err: errors.New("stage returned no asset")}
		}
		cur = out
	}

	if cur == in {
		cur = in.Clone()
	}
	return cur, nil
}

// ShouldInline is the single inlining predicate: assets strictly smaller
// than limit are inlined, everything else is emitted as an artifact.
func ShouldInline(size, limit int) bool {
	return size < limit
}

// DataURI encodes data as a base64 data URI.
func DataURI(mediaType string, data []byte) string {
	return "data:" + mediaType + ";base64," + base64.StdEncoding.EncodeToString(data)
}
