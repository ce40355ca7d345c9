// Package source defines the uniform contract concrete device and
// stream drivers implement, plus the built-in synthetic and file-backed
// adapters. Vendor drivers live outside this module and register
// through the factory registry.
package source

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/neurostream-systems/neurostream/internal/model"
)

// ErrUnavailable signals the source cannot accept a connection right
// now. The worker backs off and retries connecting.
var ErrUnavailable = errors.New("source unavailable")

// ErrDisconnected signals an established connection was lost mid
// stream. Distinct from a poll timeout, which returns a nil frame with
// no error.
var ErrDisconnected = errors.New("source disconnected")

// Adapter is the pull contract. Implementations must be safe to call
// repeatedly and own their reconnect logic internally.
type Adapter interface {
	// Connect establishes the underlying stream. Returning an error
	// wrapping ErrUnavailable tells the worker to back off and retry.
	Connect(ctx context.Context) error

	// Poll waits up to timeout for the next frame. A nil frame with a
	// nil error means no data arrived in time (connection healthy).
	// An error wrapping ErrDisconnected means the connection was lost.
	Poll(ctx context.Context, timeout time.Duration) (*model.RawFrame, error)

	// Close releases the adapter's resources.
	Close() error
}

// Factory builds an adapter for a configured source.
type Factory func(cfg model.SourceConfig) (Adapter, error)

// Registry maps adapter names to factories so sources can be started
// from configuration or the control API without compile-time wiring.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register installs a factory under the given name, replacing any
// previous registration.
func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

// New builds an adapter by registered name.
func (r *Registry) New(name string, cfg model.SourceConfig) (Adapter, error) {
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no adapter registered under %q", name)
	}
	return f(cfg)
}

// Names lists registered adapter names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
