package runtime

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/addonhost/backend/internal/shared/types"
)

// Store is the persistent record of installed add-ons, keyed by add-on id
type Store interface {
	GetInstalledAddons(ctx context.Context) ([]*types.InstalledAddon, error)
	GetInstalledAddon(ctx context.Context, addonID string) (*types.InstalledAddon, error)
	SaveInstalledAddon(ctx context.Context, addon *types.InstalledAddon) error
	DeleteInstalledAddon(ctx context.Context, addonID string) error
	SetEnabled(ctx context.Context, addonID string, enabled bool) error
}

// NavigationHost accepts navigation contributions
type NavigationHost interface {
	RegisterSidebarItem(item types.SidebarItem) (types.Disposable, error)
	RegisterRoute(route types.Route) (types.Disposable, error)
}

// Observer receives runtime lifecycle notifications
type Observer interface {
	AddonLoaded(addonID string, took time.Duration)
	AddonLoadFailed(addonID string)
	AddonUnloaded(addonID string)
}

// Handle is the runtime-only state of a loaded add-on
type Handle struct {
	AddonID  string
	Version  string
	LoadedAt time.Time

	seq      uint64
	module   Module
	teardown TeardownFunc
	rec      *recorder
}

// Contributions returns the navigation contributions currently registered
func (h *Handle) Contributions() []Contribution {
	return h.rec.contributions()
}

// Module returns the live module
func (h *Handle) Module() Module {
	return h.module
}

// Registry tracks loaded add-ons and owns their navigation contributions.
// It is the only writer of the persisted enabled flag.
type Registry struct {
	store    Store
	nav      NavigationHost
	loader   ModuleLoader
	observer Observer
	logger   *zap.Logger

	// reload holds all per-id operations off while ReloadAll runs
	reload sync.RWMutex
	locks  *keyedMutex

	mu      sync.RWMutex
	handles map[string]*Handle
	seq     uint64
}

// New creates a runtime registry
func New(store Store, nav NavigationHost, loader ModuleLoader, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		store:    store,
		nav:      nav,
		loader:   loader,
		observer: nopObserver{},
		logger:   logger,
		locks:    newKeyedMutex(),
		handles:  make(map[string]*Handle),
	}
}

// SetObserver installs a lifecycle observer
func (r *Registry) SetObserver(o Observer) {
	if o == nil {
		o = nopObserver{}
	}
	r.observer = o
}

// Load instantiates addon and records its contributions. Loading an
// already-loaded add-on returns the existing handle.
func (r *Registry) Load(ctx context.Context, addon *types.InstalledAddon) (*Handle, error) {
	r.reload.RLock()
	defer r.reload.RUnlock()
	unlock := r.locks.Lock(addon.ID())
	defer unlock()

	return r.load(ctx, addon)
}

// Unload tears down addonID and removes its contributions. It reports
// whether a handle existed; unloading an unloaded add-on is a no-op.
func (r *Registry) Unload(ctx context.Context, addonID string) bool {
	r.reload.RLock()
	defer r.reload.RUnlock()
	unlock := r.locks.Lock(addonID)
	defer unlock()

	return r.unload(ctx, addonID)
}

// Toggle loads or unloads addonID and then persists the enabled flag. The
// flag is written only after the runtime action succeeds; if the write
// fails the runtime action is reverted.
func (r *Registry) Toggle(ctx context.Context, addonID string, enabled bool) error {
	r.reload.RLock()
	defer r.reload.RUnlock()
	unlock := r.locks.Lock(addonID)
	defer unlock()

	addon, err := r.store.GetInstalledAddon(ctx, addonID)
	if err != nil {
		return err
	}

	if enabled {
		_, wasLoaded := r.handle(addonID)
		if _, err := r.load(ctx, addon); err != nil {
			return err
		}
		if err := r.store.SetEnabled(ctx, addonID, true); err != nil {
			if !wasLoaded {
				r.unload(context.WithoutCancel(ctx), addonID)
			}
			return err
		}
	} else {
		wasLoaded := r.unload(ctx, addonID)
		if err := r.store.SetEnabled(ctx, addonID, false); err != nil {
			if wasLoaded {
				if _, loadErr := r.load(context.WithoutCancel(ctx), addon); loadErr != nil {
					r.logger.Error("Failed to restore add-on after persistence failure",
						zap.String("addon_id", addonID), zap.Error(loadErr))
				}
			}
			return err
		}
	}

	r.logger.Info("Toggled add-on", zap.String("addon_id", addonID), zap.Bool("enabled", enabled))
	return nil
}

// ReloadReport collects the outcome of ReloadAll
type ReloadReport struct {
	Unloaded []string
	Loaded   []string
	Failures map[string]error
	// StoreErr is set when the installed list could not be read
	StoreErr error
	// Aborted is set when the caller's context was done before the reload
	// started; nothing was unloaded or persisted
	Aborted error
}

// Err combines every failure, or returns nil
func (rr *ReloadReport) Err() error {
	errs := multierr.Append(rr.Aborted, rr.StoreErr)
	ids := make([]string, 0, len(rr.Failures))
	for id := range rr.Failures {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		errs = multierr.Append(errs, rr.Failures[id])
	}
	return errs
}

// ReloadAll unloads every add-on, then loads each enabled installed add-on
// in install order. A failing add-on never stops the others; it is recorded
// in the report and persisted as disabled. A ctx that is already done skips
// the reload; once started it runs to completion regardless of ctx.
func (r *Registry) ReloadAll(ctx context.Context) *ReloadReport {
	r.reload.Lock()
	defer r.reload.Unlock()

	report := &ReloadReport{Failures: make(map[string]error)}
	if err := ctx.Err(); err != nil {
		report.Aborted = err
		r.logger.Warn("Reload skipped", zap.Error(err))
		return report
	}
	ctx = context.WithoutCancel(ctx)

	for _, h := range r.loadedByOrder(true) {
		if r.unload(ctx, h.AddonID) {
			report.Unloaded = append(report.Unloaded, h.AddonID)
		}
	}

	addons, err := r.store.GetInstalledAddons(ctx)
	if err != nil {
		report.StoreErr = err
		r.logger.Error("Reload could not read installed add-ons", zap.Error(err))
		return report
	}
	sort.SliceStable(addons, func(i, j int) bool {
		return addons[i].InstalledAt.Before(addons[j].InstalledAt)
	})

	for _, addon := range addons {
		if !addon.Enabled {
			continue
		}
		if _, err := r.load(ctx, addon); err != nil {
			report.Failures[addon.ID()] = err
			if setErr := r.store.SetEnabled(ctx, addon.ID(), false); setErr != nil {
				r.logger.Error("Failed to persist disabled flag after load failure",
					zap.String("addon_id", addon.ID()), zap.Error(setErr))
			}
			continue
		}
		report.Loaded = append(report.Loaded, addon.ID())
	}

	r.logger.Info("Reloaded add-ons",
		zap.Int("unloaded", len(report.Unloaded)),
		zap.Int("loaded", len(report.Loaded)),
		zap.Int("failed", len(report.Failures)))
	return report
}

// Close unloads every add-on
func (r *Registry) Close(ctx context.Context) {
	r.reload.Lock()
	defer r.reload.Unlock()
	for _, h := range r.loadedByOrder(true) {
		r.unload(ctx, h.AddonID)
	}
}

// Handle returns the handle of a loaded add-on
func (r *Registry) Handle(addonID string) (*Handle, bool) {
	return r.handle(addonID)
}

// IsLoaded reports whether addonID has a live handle
func (r *Registry) IsLoaded(addonID string) bool {
	_, ok := r.handle(addonID)
	return ok
}

// Loaded returns the loaded handles in load order
func (r *Registry) Loaded() []*Handle {
	return r.loadedByOrder(false)
}

func (r *Registry) handle(addonID string) (*Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handles[addonID]
	return h, ok
}

func (r *Registry) loadedByOrder(reverse bool) []*Handle {
	r.mu.RLock()
	out := make([]*Handle, 0, len(r.handles))
	for _, h := range r.handles {
		out = append(out, h)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if reverse {
			return out[i].seq > out[j].seq
		}
		return out[i].seq < out[j].seq
	})
	return out
}

// load runs with the per-id lock held
func (r *Registry) load(ctx context.Context, addon *types.InstalledAddon) (*Handle, error) {
	addonID := addon.ID()
	if h, ok := r.handle(addonID); ok {
		return h, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, &types.LoadError{AddonID: addonID, Err: err}
	}

	start := time.Now()
	module, err := r.loader.LoadModule(ctx, addon)
	if err != nil {
		r.observer.AddonLoadFailed(addonID)
		r.logger.Warn("Add-on module could not be resolved", zap.String("addon_id", addonID), zap.Error(err))
		return nil, &types.LoadError{AddonID: addonID, Err: err}
	}

	rec := newRecorder(addonID, r.nav, r.logger)
	actx := newAddonContext(ctx, addon, rec, r.logger)

	teardown, err := initialize(module, actx)
	if err != nil {
		r.runDisableHooks(addonID, rec)
		if disposeErr := rec.disposeAll(); disposeErr != nil {
			r.logger.Warn("Rollback of partial contributions failed",
				zap.String("addon_id", addonID), zap.Error(disposeErr))
		}
		r.observer.AddonLoadFailed(addonID)
		r.logger.Warn("Add-on failed to initialize", zap.String("addon_id", addonID), zap.Error(err))
		return nil, &types.LoadError{AddonID: addonID, Err: err}
	}

	r.mu.Lock()
	r.seq++
	h := &Handle{
		AddonID:  addonID,
		Version:  addon.Manifest.Version,
		LoadedAt: time.Now(),
		seq:      r.seq,
		module:   module,
		teardown: teardown,
		rec:      rec,
	}
	r.handles[addonID] = h
	r.mu.Unlock()

	took := time.Since(start)
	r.observer.AddonLoaded(addonID, took)
	r.logger.Info("Loaded add-on",
		zap.String("addon_id", addonID),
		zap.String("version", h.Version),
		zap.Int("contributions", len(rec.contributions())),
		zap.Duration("took", took))
	return h, nil
}

// unload runs with the per-id lock held
func (r *Registry) unload(_ context.Context, addonID string) bool {
	r.mu.Lock()
	h, ok := r.handles[addonID]
	delete(r.handles, addonID)
	r.mu.Unlock()
	if !ok {
		return false
	}

	if h.teardown != nil {
		if err := safeCall(h.teardown); err != nil {
			r.logger.Warn("Add-on teardown failed", zap.String("addon_id", addonID), zap.Error(err))
		}
	}
	r.runDisableHooks(addonID, h.rec)
	if err := h.rec.disposeAll(); err != nil {
		r.logger.Warn("Failed to remove add-on contributions", zap.String("addon_id", addonID), zap.Error(err))
	}

	r.observer.AddonUnloaded(addonID)
	r.logger.Info("Unloaded add-on", zap.String("addon_id", addonID))
	return true
}

func (r *Registry) runDisableHooks(addonID string, rec *recorder) {
	for _, hook := range rec.disableHooks() {
		if err := safeCall(hook); err != nil {
			r.logger.Warn("Add-on disable hook failed", zap.String("addon_id", addonID), zap.Error(err))
		}
	}
}

// initialize calls module.Initialize, converting panics to errors
func initialize(module Module, actx *AddonContext) (teardown TeardownFunc, err error) {
	defer func() {
		if p := recover(); p != nil {
			teardown = nil
			err = fmt.Errorf("initialize panicked: %v", p)
		}
	}()
	return module.Initialize(actx)
}

// safeCall calls fn, converting panics to errors
func safeCall(fn func() error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return fn()
}

// IsLoadError reports whether err is a LoadError
func IsLoadError(err error) bool {
	var le *types.LoadError
	return errors.As(err, &le)
}

type nopObserver struct{}

func (nopObserver) AddonLoaded(string, time.Duration) {}
func (nopObserver) AddonLoadFailed(string)            {}
func (nopObserver) AddonUnloaded(string)              {}
