// Package registry holds the single active backend of the process.
//
// Factories are registered per kind at build time. Init selects one by its
// configuration token, constructs it and publishes it; from then on request
// handlers read it lock-free with Active. There is no hot-swap: a second
// Init is refused.
package registry

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/fortiblox/chainbridge/pkg/backend"
	"github.com/fortiblox/chainbridge/pkg/config"
)

// Factory constructs a backend from the resolved configuration.
type Factory func(ctx context.Context, cfg *config.Config, log logrus.FieldLogger) (backend.Backend, error)

type active struct {
	b backend.Backend
}

// Registry selects and holds the active backend.
type Registry struct {
	log logrus.FieldLogger

	mu        sync.Mutex
	factories map[backend.Kind]Factory

	current atomic.Pointer[active]
}

// New returns an empty registry.
func New(log logrus.FieldLogger) *Registry {
	return &Registry{
		log:       log,
		factories: make(map[backend.Kind]Factory),
	}
}

// Register installs the factory for kind, replacing any previous one.
func (r *Registry) Register(kind backend.Kind, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[kind] = f
}

// Kinds returns the kinds that have a factory.
func (r *Registry) Kinds() []backend.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()

	var kinds []backend.Kind
	for _, k := range backend.Kinds() {
		if _, ok := r.factories[k]; ok {
			kinds = append(kinds, k)
		}
	}
	return kinds
}

// Init constructs the backend named by token and makes it active. On any
// failure the registry stays empty.
func (r *Registry) Init(ctx context.Context, token string, cfg *config.Config) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.current.Load() != nil {
		return backend.ErrAlreadyInitialized
	}

	kind, err := backend.ParseKind(token)
	if err != nil {
		return err
	}
	factory, ok := r.factories[kind]
	if !ok {
		return &backend.UnsupportedBackendError{Token: token}
	}

	b, err := factory(ctx, cfg, r.log.WithField("backend", kind.String()))
	if err != nil {
		return fmt.Errorf("init %s backend: %w", kind, err)
	}

	r.current.Store(&active{b: b})
	r.log.WithField("backend", kind.String()).Info("backend initialized")
	return nil
}

// Active returns the active backend, or ErrNotInitialized.
func (r *Registry) Active() (backend.Backend, error) {
	a := r.current.Load()
	if a == nil {
		return nil, backend.ErrNotInitialized
	}
	return a.b, nil
}

// Close closes and clears the active backend.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a := r.current.Swap(nil)
	if a == nil {
		return nil
	}
	return a.b.Close()
}
