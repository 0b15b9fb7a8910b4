package runtime

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/addonhost/backend/internal/shared/types"
)

var (
	// ErrCapabilityDenied is returned when an add-on uses a capability it was not granted
	ErrCapabilityDenied = errors.New("capability not granted")
	// ErrAddonUnloaded is returned when a contribution is made after unload
	ErrAddonUnloaded = errors.New("add-on is no longer loaded")
)

// ContributionKind distinguishes navigation contributions
type ContributionKind string

const (
	ContributionSidebar ContributionKind = "sidebar"
	ContributionRoute   ContributionKind = "route"
)

// Contribution is one navigation extension registered by an add-on
type Contribution struct {
	Kind    ContributionKind   `json:"kind"`
	Sidebar *types.SidebarItem `json:"sidebar,omitempty"`
	Route   *types.Route       `json:"route,omitempty"`
}

type recorded struct {
	Contribution
	disposable types.Disposable
}

// recorder tracks contributions and disable hooks of one loaded add-on
type recorder struct {
	addonID string
	nav     NavigationHost
	logger  *zap.Logger

	mu        sync.Mutex
	sealed    bool
	entries   []*recorded
	onDisable []func() error
}

func newRecorder(addonID string, nav NavigationHost, logger *zap.Logger) *recorder {
	return &recorder{addonID: addonID, nav: nav, logger: logger}
}

func (r *recorder) addSidebar(item types.SidebarItem) (types.Disposable, error) {
	item.AddonID = r.addonID
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return nil, ErrAddonUnloaded
	}
	d, err := r.nav.RegisterSidebarItem(item)
	if err != nil {
		return nil, fmt.Errorf("register sidebar item %q: %w", item.Label, err)
	}
	entry := &recorded{
		Contribution: Contribution{Kind: ContributionSidebar, Sidebar: &item},
		disposable:   d,
	}
	r.entries = append(r.entries, entry)
	return r.forget(entry), nil
}

func (r *recorder) addRoute(route types.Route) (types.Disposable, error) {
	route.AddonID = r.addonID
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return nil, ErrAddonUnloaded
	}
	d, err := r.nav.RegisterRoute(route)
	if err != nil {
		return nil, fmt.Errorf("register route %q: %w", route.Path, err)
	}
	entry := &recorded{
		Contribution: Contribution{Kind: ContributionRoute, Route: &route},
		disposable:   d,
	}
	r.entries = append(r.entries, entry)
	return r.forget(entry), nil
}

// forget wraps entry so an add-on removing its own contribution also drops the record
func (r *recorder) forget(entry *recorded) types.Disposable {
	return types.DisposeFunc(func() error {
		r.mu.Lock()
		for i, e := range r.entries {
			if e == entry {
				r.entries = append(r.entries[:i], r.entries[i+1:]...)
				break
			}
		}
		r.mu.Unlock()
		return entry.disposable.Dispose()
	})
}

func (r *recorder) addOnDisable(fn func() error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onDisable = append(r.onDisable, fn)
}

func (r *recorder) contributions() []Contribution {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Contribution, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.Contribution
	}
	return out
}

// disableHooks seals the recorder and returns the registered hooks in reverse order
func (r *recorder) disableHooks() []func() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sealed = true
	hooks := make([]func() error, 0, len(r.onDisable))
	for i := len(r.onDisable) - 1; i >= 0; i-- {
		hooks = append(hooks, r.onDisable[i])
	}
	r.onDisable = nil
	return hooks
}

// disposeAll seals the recorder and removes every contribution, newest first
func (r *recorder) disposeAll() error {
	r.mu.Lock()
	r.sealed = true
	entries := r.entries
	r.entries = nil
	r.mu.Unlock()

	var errs error
	for i := len(entries) - 1; i >= 0; i-- {
		if err := entries[i].disposable.Dispose(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("dispose %s: %w", entries[i].Kind, err))
		}
	}
	return errs
}

// SidebarRegistrar lets an add-on contribute sidebar items
type SidebarRegistrar struct{ rec *recorder }

// AddItem registers a sidebar item owned by the add-on
func (s *SidebarRegistrar) AddItem(item types.SidebarItem) (types.Disposable, error) {
	return s.rec.addSidebar(item)
}

// RouteRegistrar lets an add-on contribute routes
type RouteRegistrar struct{ rec *recorder }

// Add registers a route owned by the add-on
func (r *RouteRegistrar) Add(route types.Route) (types.Disposable, error) {
	return r.rec.addRoute(route)
}

// AddonContext is the capability-scoped view of the host handed to a module
type AddonContext struct {
	AddonID  string
	Manifest *types.AddonManifest
	Dir      string
	Logger   *zap.Logger
	Sidebar  *SidebarRegistrar
	Router   *RouteRegistrar

	ctx     context.Context
	granted map[types.Capability]struct{}
	caps    []types.Capability
	rec     *recorder
}

func newAddonContext(ctx context.Context, addon *types.InstalledAddon, rec *recorder, logger *zap.Logger) *AddonContext {
	granted := make(map[types.Capability]struct{}, len(addon.ApprovedCapabilities))
	for _, c := range addon.ApprovedCapabilities {
		granted[c] = struct{}{}
	}
	return &AddonContext{
		AddonID:  addon.ID(),
		Manifest: addon.Manifest,
		Dir:      addon.Dir,
		Logger:   logger.With(zap.String("addon_id", addon.ID())),
		Sidebar:  &SidebarRegistrar{rec: rec},
		Router:   &RouteRegistrar{rec: rec},
		ctx:      ctx,
		granted:  granted,
		caps:     append([]types.Capability(nil), addon.ApprovedCapabilities...),
		rec:      rec,
	}
}

// Context returns the context of the load operation
func (c *AddonContext) Context() context.Context {
	return c.ctx
}

// Capabilities returns the capabilities approved at install time
func (c *AddonContext) Capabilities() []types.Capability {
	return append([]types.Capability(nil), c.caps...)
}

// HasCapability reports whether the capability was approved
func (c *AddonContext) HasCapability(capability types.Capability) bool {
	_, ok := c.granted[capability]
	return ok
}

// Require returns ErrCapabilityDenied unless the capability was approved
func (c *AddonContext) Require(capability types.Capability) error {
	if !c.HasCapability(capability) {
		return fmt.Errorf("%w: %s", ErrCapabilityDenied, capability)
	}
	return nil
}

// OnDisable registers a hook run before contributions are removed on unload
func (c *AddonContext) OnDisable(fn func() error) {
	if fn != nil {
		c.rec.addOnDisable(fn)
	}
}
