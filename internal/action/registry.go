// Package action maps `uses:` references to Go handlers. The engine treats
// every action as an opaque call: a named handler receiving `with` inputs
// and a context, returning an error. The registry is populated with the
// built-in actions at startup; unknown references are rejected when a
// workflow is loaded, not in the middle of a run.
package action

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/stagehand-ci/stagehand/internal/artifact"
)

// ErrUnknownAction is returned when a `uses:` reference names no registered
// action.
var ErrUnknownAction = errors.New("unknown action")

// Input carries everything a handler may need for one invocation.
type Input struct {
	// With holds the step's named inputs.
	With map[string]string
	// Job is the name of the job instance invoking the action.
	Job string
	// WorkDir is the job's working directory.
	WorkDir string
	// OutputFile, when non-empty, is where the handler may append
	// key=value output lines.
	OutputFile string
	// Artifacts is the run's artifact store.
	Artifacts *artifact.Store

	produced []string
}

// RecordArtifact notes that the invocation produced the named artifact, so
// the executor can attach it to the job's run record.
func (in *Input) RecordArtifact(name string) {
	in.produced = append(in.produced, name)
}

// ProducedArtifacts returns the artifact names recorded during the
// invocation, in the order they were recorded.
func (in *Input) ProducedArtifacts() []string {
	return in.produced
}

// Handler executes one action invocation.
type Handler func(ctx context.Context, in *Input) error

// Registry is a thread-safe mapping from action name to handler.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register adds a handler under the given action name. Registering a name
// twice panics; that is a programmer error, not a runtime condition.
func (r *Registry) Register(name string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[name]; exists {
		panic(fmt.Sprintf("action %q registered twice", name))
	}
	r.handlers[name] = h
}

// Resolve looks up the handler for a `uses:` reference. The version suffix
// (`name@v1`) is accepted and ignored; the engine only dispatches on name.
func (r *Registry) Resolve(ref string) (Handler, error) {
	name := ref
	if at := strings.LastIndex(ref, "@"); at > 0 {
		name = ref[:at]
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.handlers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, ref)
	}
	return h, nil
}

// Names returns all registered action names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
