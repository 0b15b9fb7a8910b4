package runtime

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/GriffinCanCode/addonhost/backend/internal/shared/types"
)

// ErrModuleNotFound is returned by a loader that cannot provide a module
var ErrModuleNotFound = errors.New("module not found")

// TeardownFunc releases whatever an add-on set up in Initialize
type TeardownFunc func() error

// Module is a loaded add-on entry point
type Module interface {
	Initialize(ctx *AddonContext) (TeardownFunc, error)
}

// ModuleFunc adapts a function to Module
type ModuleFunc func(ctx *AddonContext) (TeardownFunc, error)

// Initialize calls f
func (f ModuleFunc) Initialize(ctx *AddonContext) (TeardownFunc, error) {
	return f(ctx)
}

// ModuleLoader resolves the entry point of an installed add-on
type ModuleLoader interface {
	LoadModule(ctx context.Context, addon *types.InstalledAddon) (Module, error)
}

// StaticLoader serves modules compiled into the host, keyed by add-on id
type StaticLoader struct {
	mu      sync.RWMutex
	modules map[string]Module
}

// NewStaticLoader creates an empty static loader
func NewStaticLoader() *StaticLoader {
	return &StaticLoader{modules: make(map[string]Module)}
}

// Register binds a module to an add-on id, replacing any previous binding
func (l *StaticLoader) Register(addonID string, m Module) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.modules[addonID] = m
}

// LoadModule returns the registered module
func (l *StaticLoader) LoadModule(_ context.Context, addon *types.InstalledAddon) (Module, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	m, ok := l.modules[addon.ID()]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrModuleNotFound, addon.ID())
	}
	return m, nil
}

// ChainLoader tries each loader in order until one provides a module
type ChainLoader []ModuleLoader

// LoadModule returns the first module found. Errors other than
// ErrModuleNotFound stop the chain.
func (c ChainLoader) LoadModule(ctx context.Context, addon *types.InstalledAddon) (Module, error) {
	for _, loader := range c {
		m, err := loader.LoadModule(ctx, addon)
		if err == nil {
			return m, nil
		}
		if !errors.Is(err, ErrModuleNotFound) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrModuleNotFound, addon.ID())
}
