package types

// SidebarItem is a navigation entry contributed to the host sidebar
type SidebarItem struct {
	ID      string `json:"id"`
	AddonID string `json:"addon_id"`
	Label   string `json:"label"`
	Icon    string `json:"icon,omitempty"`
	Route   string `json:"route,omitempty"`
	Order   int    `json:"order,omitempty"`
}

// Route is a page route contributed to the host router
type Route struct {
	ID        string `json:"id"`
	AddonID   string `json:"addon_id"`
	Path      string `json:"path"`
	Title     string `json:"title,omitempty"`
	Component string `json:"component,omitempty"`
}

// Disposable removes a registered contribution
type Disposable interface {
	Dispose() error
}

// DisposeFunc adapts a function to Disposable
type DisposeFunc func() error

// Dispose calls f
func (f DisposeFunc) Dispose() error {
	if f == nil {
		return nil
	}
	return f()
}

// NavigationEventType identifies a navigation change
type NavigationEventType string

const (
	NavSidebarAdded   NavigationEventType = "sidebar_added"
	NavSidebarRemoved NavigationEventType = "sidebar_removed"
	NavRouteAdded     NavigationEventType = "route_added"
	NavRouteRemoved   NavigationEventType = "route_removed"
)

// NavigationEvent is published whenever the navigation surface changes
type NavigationEvent struct {
	Type    NavigationEventType `json:"type"`
	AddonID string              `json:"addon_id"`
	Sidebar *SidebarItem        `json:"sidebar,omitempty"`
	Route   *Route              `json:"route,omitempty"`
}
