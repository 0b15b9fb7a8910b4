package navigation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/addonhost/backend/internal/shared/types"
)

func TestSidebarRegisterDispose(t *testing.T) {
	h := NewHost(nil)

	d1, err := h.RegisterSidebarItem(types.SidebarItem{AddonID: "a1", Label: "Second", Order: 2})
	require.NoError(t, err)
	_, err = h.RegisterSidebarItem(types.SidebarItem{AddonID: "a2", Label: "First", Order: 1, Route: "/addons/a2"})
	require.NoError(t, err)

	items := h.Sidebar()
	require.Len(t, items, 2)
	assert.Equal(t, "First", items[0].Label)
	assert.NotEmpty(t, items[0].ID)

	require.NoError(t, d1.Dispose())
	require.NoError(t, d1.Dispose())
	assert.Len(t, h.Sidebar(), 1)
}

func TestSidebarValidation(t *testing.T) {
	h := NewHost(nil)

	_, err := h.RegisterSidebarItem(types.SidebarItem{AddonID: "a1"})
	assert.Error(t, err)
	_, err = h.RegisterSidebarItem(types.SidebarItem{AddonID: "a1", Label: "x", Route: "no-slash"})
	assert.Error(t, err)
}

func TestRouteConflict(t *testing.T) {
	h := NewHost(nil)

	d, err := h.RegisterRoute(types.Route{AddonID: "a1", Path: "/addons/shared"})
	require.NoError(t, err)

	_, err = h.RegisterRoute(types.Route{AddonID: "a2", Path: "/addons/shared"})
	assert.ErrorIs(t, err, ErrRouteConflict)

	require.NoError(t, d.Dispose())
	d2, err := h.RegisterRoute(types.Route{AddonID: "a2", Path: "/addons/shared"})
	require.NoError(t, err)

	// disposing the stale handle must not remove the new owner's route
	require.NoError(t, d.Dispose())
	routes := h.Routes()
	require.Len(t, routes, 1)
	assert.Equal(t, "a2", routes[0].AddonID)

	require.NoError(t, d2.Dispose())
	assert.Empty(t, h.Routes())
}

func TestSubscribe(t *testing.T) {
	h := NewHost(nil)
	events, cancel := h.Subscribe(8)

	d, err := h.RegisterRoute(types.Route{AddonID: "a1", Path: "/addons/a1"})
	require.NoError(t, err)
	require.NoError(t, d.Dispose())

	added := <-events
	removed := <-events
	assert.Equal(t, types.NavRouteAdded, added.Type)
	assert.Equal(t, types.NavRouteRemoved, removed.Type)
	assert.Equal(t, "/addons/a1", removed.Route.Path)

	cancel()
	cancel()
	_, open := <-events
	assert.False(t, open)
}

func TestSlowSubscriberDoesNotBlock(t *testing.T) {
	h := NewHost(nil)
	_, cancel := h.Subscribe(0)
	defer cancel()

	for i := 0; i < 3; i++ {
		_, err := h.RegisterSidebarItem(types.SidebarItem{AddonID: "a1", Label: "x"})
		require.NoError(t, err)
	}
	assert.Len(t, h.Sidebar(), 3)
}
