package ws

import (
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/addonhost/backend/internal/domain/navigation"
	"github.com/GriffinCanCode/addonhost/backend/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/addonhost/backend/internal/shared/types"
)

func dial(t *testing.T, nav *navigation.Host, metrics *monitoring.Metrics) *websocket.Conn {
	t.Helper()
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/stream", NewHandler(nav, metrics, nil).HandleConnection)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg message
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestStreamSnapshotThenEvents(t *testing.T) {
	nav := navigation.NewHost(nil)
	_, err := nav.RegisterRoute(types.Route{Path: "/addons/existing", AddonID: "existing"})
	require.NoError(t, err)

	conn := dial(t, nav, monitoring.NewMetrics(nil))

	snap := readMessage(t, conn)
	assert.Equal(t, "snapshot", snap.Type)
	require.Len(t, snap.Routes, 1)
	assert.Equal(t, "/addons/existing", snap.Routes[0].Path)

	d, err := nav.RegisterSidebarItem(types.SidebarItem{ID: "main", AddonID: "fx-rates", Label: "FX", Route: "/addons/fx-rates"})
	require.NoError(t, err)

	msg := readMessage(t, conn)
	assert.Equal(t, "navigation", msg.Type)
	require.NotNil(t, msg.Event)
	assert.Equal(t, types.NavSidebarAdded, msg.Event.Type)
	assert.Equal(t, "fx-rates", msg.Event.AddonID)

	require.NoError(t, d.Dispose())
	msg = readMessage(t, conn)
	assert.Equal(t, types.NavSidebarRemoved, msg.Event.Type)
}

func TestStreamAnswersPing(t *testing.T) {
	conn := dial(t, navigation.NewHost(nil), nil)
	assert.Equal(t, "snapshot", readMessage(t, conn).Type)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "ping"}))
	assert.Equal(t, "pong", readMessage(t, conn).Type)
}

func TestInboundTypesUseFixedLabels(t *testing.T) {
	metrics := monitoring.NewMetrics(nil)
	conn := dial(t, navigation.NewHost(nil), metrics)
	assert.Equal(t, "snapshot", readMessage(t, conn).Type)

	for i := 0; i < 20; i++ {
		require.NoError(t, conn.WriteJSON(map[string]string{"type": fmt.Sprintf("junk-%d", i)}))
	}
	require.NoError(t, conn.WriteJSON(map[string]string{"type": "ping"}))
	assert.Equal(t, "pong", readMessage(t, conn).Type)

	assert.Equal(t, 20.0, testutil.ToFloat64(metrics.WSMessages.WithLabelValues("inbound", "other")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.WSMessages.WithLabelValues("inbound", "ping")))
	// inbound other, inbound ping, outbound snapshot, outbound pong
	assert.Equal(t, 4, testutil.CollectAndCount(metrics.WSMessages))
}
