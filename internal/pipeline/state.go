package pipeline

import (
	"errors"
	"fmt"

	"github.com/assetforge/assetforge/internal/buildctx"
	"github.com/assetforge/assetforge/internal/fingerprint"
	"github.com/assetforge/assetforge/internal/icons"
	"github.com/assetforge/assetforge/internal/rules"
	"github.com/assetforge/assetforge/internal/transform"
)

type State int

const (
	StateInit State = iota
	StateContextResolved
	StateDefinesApplied
	StateAssetsDispatched
	StateArtifactsNamed
	StateDocumentGenerated
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateContextResolved:
		return "context_resolved"
	case StateDefinesApplied:
		return "defines_applied"
	case StateAssetsDispatched:
		return "assets_dispatched"
	case StateArtifactsNamed:
		return "artifacts_named"
	case StateDocumentGenerated:
		return "document_generated"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// machine tracks the state of one build. Transitions only ever move one step
// forward, or to StateFailed.
type machine struct {
	state State
}

func (m *machine) advance(to State) {
	if m.state == StateFailed || m.state == StateDone || to != m.state+1 {
		panic(fmt.Sprintf("invalid build state transition %s -> %s", m.state, to))
	}
	m.state = to
}

// fail moves the machine to StateFailed and returns the error describing the
// failure, which records the state the build failed in.
func (m *machine) fail(path string, err error) *BuildError {
	from := m.state
	m.state = StateFailed
	return &BuildError{State: from, Kind: kindOf(err), Path: path, Err: err}
}

// Error kinds.
const (
	KindContextUnavailable      = "context unavailable"
	KindNoMatchingRule          = "no matching rule"
	KindTransformationFailure   = "transformation failure"
	KindUnsupportedSourceFormat = "unsupported source format"
	KindNamingCollision         = "naming collision"
	KindConfiguration           = "configuration"
	KindInternal                = "internal"
)

// BuildError is returned by every failed build.
type BuildError struct {
	// State is the last state the build reached.
	State State
	Kind  string
	Path  string
	Err   error
}

func (e *BuildError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Path, e.Err)
}

func (e *BuildError) Unwrap() error {
	return e.Err
}

func kindOf(err error) string {
	var unknown *transform.UnknownStageError
	switch {
	case errors.Is(err, buildctx.ErrContextUnavailable):
		return KindContextUnavailable
	case errors.Is(err, rules.ErrNoMatchingRule):
		return KindNoMatchingRule
	case errors.Is(err, transform.ErrTransformationFailure):
		return KindTransformationFailure
	case errors.Is(err, icons.ErrUnsupportedSourceFormat):
		return KindUnsupportedSourceFormat
	case errors.Is(err, fingerprint.ErrNamingCollision):
		return KindNamingCollision
	case errors.As(err, &unknown):
		return KindConfiguration
	}
	return KindInternal
}
