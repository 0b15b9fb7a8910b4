package navigation

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/addonhost/backend/internal/shared/id"
	"github.com/GriffinCanCode/addonhost/backend/internal/shared/types"
	"github.com/GriffinCanCode/addonhost/backend/internal/shared/utils"
)

// ErrRouteConflict is returned when a route path is already registered
var ErrRouteConflict = errors.New("route path already registered")

type sidebarEntry struct {
	item types.SidebarItem
	seq  uint64
}

// Host is the in-memory navigation and routing registry of the host app
type Host struct {
	mu      sync.RWMutex
	sidebar map[string]sidebarEntry
	routes  map[string]types.Route
	seq     uint64

	subMu       sync.RWMutex
	subscribers map[int]chan types.NavigationEvent
	nextSub     int

	logger *zap.Logger
}

// NewHost creates an empty navigation host
func NewHost(logger *zap.Logger) *Host {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Host{
		sidebar:     make(map[string]sidebarEntry),
		routes:      make(map[string]types.Route),
		subscribers: make(map[int]chan types.NavigationEvent),
		logger:      logger,
	}
}

// RegisterSidebarItem adds an item and returns its removal handle
func (h *Host) RegisterSidebarItem(item types.SidebarItem) (types.Disposable, error) {
	if err := utils.ValidateString(item.Label, "sidebar label", 1, utils.MaxLabelLength, true); err != nil {
		return nil, err
	}
	if item.Route != "" {
		if err := utils.ValidateRoutePath(item.Route); err != nil {
			return nil, err
		}
	}
	item.ID = string(id.NewContributionID())

	h.mu.Lock()
	h.seq++
	h.sidebar[item.ID] = sidebarEntry{item: item, seq: h.seq}
	h.mu.Unlock()

	h.publish(types.NavigationEvent{Type: types.NavSidebarAdded, AddonID: item.AddonID, Sidebar: &item})

	return disposeOnce(func() error {
		h.mu.Lock()
		_, ok := h.sidebar[item.ID]
		delete(h.sidebar, item.ID)
		h.mu.Unlock()
		if ok {
			h.publish(types.NavigationEvent{Type: types.NavSidebarRemoved, AddonID: item.AddonID, Sidebar: &item})
		}
		return nil
	}), nil
}

// RegisterRoute adds a route and returns its removal handle. Paths are unique.
func (h *Host) RegisterRoute(route types.Route) (types.Disposable, error) {
	if err := utils.ValidateRoutePath(route.Path); err != nil {
		return nil, err
	}
	route.ID = string(id.NewContributionID())

	h.mu.Lock()
	if existing, ok := h.routes[route.Path]; ok {
		h.mu.Unlock()
		return nil, fmt.Errorf("%w: %s (owned by %s)", ErrRouteConflict, route.Path, existing.AddonID)
	}
	h.routes[route.Path] = route
	h.mu.Unlock()

	h.publish(types.NavigationEvent{Type: types.NavRouteAdded, AddonID: route.AddonID, Route: &route})

	return disposeOnce(func() error {
		h.mu.Lock()
		current, ok := h.routes[route.Path]
		ok = ok && current.ID == route.ID
		if ok {
			delete(h.routes, route.Path)
		}
		h.mu.Unlock()
		if ok {
			h.publish(types.NavigationEvent{Type: types.NavRouteRemoved, AddonID: route.AddonID, Route: &route})
		}
		return nil
	}), nil
}

// Sidebar returns the sidebar ordered by Order, then registration order
func (h *Host) Sidebar() []types.SidebarItem {
	h.mu.RLock()
	entries := make([]sidebarEntry, 0, len(h.sidebar))
	for _, e := range h.sidebar {
		entries = append(entries, e)
	}
	h.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].item.Order != entries[j].item.Order {
			return entries[i].item.Order < entries[j].item.Order
		}
		return entries[i].seq < entries[j].seq
	})
	items := make([]types.SidebarItem, len(entries))
	for i, e := range entries {
		items[i] = e.item
	}
	return items
}

// Routes returns registered routes ordered by path
func (h *Host) Routes() []types.Route {
	h.mu.RLock()
	routes := make([]types.Route, 0, len(h.routes))
	for _, r := range h.routes {
		routes = append(routes, r)
	}
	h.mu.RUnlock()

	sort.Slice(routes, func(i, j int) bool { return routes[i].Path < routes[j].Path })
	return routes
}

// Subscribe returns a channel of navigation events and a cancel func.
// Slow subscribers drop events rather than block registration.
func (h *Host) Subscribe(buffer int) (<-chan types.NavigationEvent, func()) {
	ch := make(chan types.NavigationEvent, buffer)

	h.subMu.Lock()
	key := h.nextSub
	h.nextSub++
	h.subscribers[key] = ch
	h.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.subMu.Lock()
			delete(h.subscribers, key)
			h.subMu.Unlock()
			close(ch)
		})
	}
}

func (h *Host) publish(event types.NavigationEvent) {
	h.subMu.RLock()
	defer h.subMu.RUnlock()
	for _, ch := range h.subscribers {
		select {
		case ch <- event:
		default:
			h.logger.Warn("Dropped navigation event for slow subscriber",
				zap.String("type", string(event.Type)),
				zap.String("addon_id", event.AddonID))
		}
	}
}

func disposeOnce(fn func() error) types.Disposable {
	var once sync.Once
	return types.DisposeFunc(func() error {
		var err error
		once.Do(func() { err = fn() })
		return err
	})
}
