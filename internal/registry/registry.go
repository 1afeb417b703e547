// Package registry holds the named analyzers a pipeline can run. The
// registry is read-mostly: analyzers are registered at startup (or by a
// controlled reload) and resolved on every event.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrUnknownAnalyzer is returned when resolving a name that was never registered.
var ErrUnknownAnalyzer = errors.New("unknown analyzer")

// DefaultTimeout bounds an analyzer call when the registration does not set one.
const DefaultTimeout = 10 * time.Second

// Func transforms an event payload into a decision payload. Implementations
// must respect ctx cancellation; the engine enforces the timeout around the
// call regardless.
type Func func(ctx context.Context, payload map[string]any) (map[string]any, error)

// Analyzer is a registered callable plus its contract metadata. Deterministic
// analyzers must produce fingerprint-stable decisions for identical payloads;
// only deterministic analyzers participate in fingerprint dedupe.
type Analyzer struct {
	Name          string
	Version       string
	Deterministic bool
	Timeout       time.Duration
	Func          Func
}

// Registry maps analyzer names to callables.
type Registry struct {
	mu        sync.RWMutex
	analyzers map[string]Analyzer
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{analyzers: make(map[string]Analyzer)}
}

// Register adds or replaces an analyzer. A zero timeout is replaced with
// DefaultTimeout.
func (r *Registry) Register(a Analyzer) error {
	if a.Name == "" {
		return fmt.Errorf("registry: analyzer name is required")
	}
	if a.Func == nil {
		return fmt.Errorf("registry: analyzer %q has no func", a.Name)
	}
	if a.Timeout == 0 {
		a.Timeout = DefaultTimeout
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.analyzers[a.Name] = a
	return nil
}

// Resolve returns the analyzer registered under name.
func (r *Registry) Resolve(name string) (Analyzer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.analyzers[name]
	if !ok {
		return Analyzer{}, fmt.Errorf("%w: %q", ErrUnknownAnalyzer, name)
	}
	return a, nil
}

// Names returns the registered analyzer names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.analyzers))
	for n := range r.analyzers {
		names = append(names, n)
	}
	return names
}
