package wshub

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dialTestClient(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestPushReachesEveryClient(t *testing.T) {
	hub := New()
	defer hub.Close()
	server := httptest.NewServer(http.HandlerFunc(hub.Handler))
	defer server.Close()

	first := dialTestClient(t, server)
	second := dialTestClient(t, server)

	require.Eventually(t, func() bool {
		return hub.ClientCount() == 2
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, hub.Push(t.Context(), []byte(`{"status":"ok"}`)))

	for _, conn := range []*websocket.Conn{first, second} {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
		_, payload, err := conn.ReadMessage()
		require.NoError(t, err)
		assert.JSONEq(t, `{"status":"ok"}`, string(payload))
	}
}

func TestPushWithoutClientsSucceeds(t *testing.T) {
	hub := New()
	assert.NoError(t, hub.Push(t.Context(), []byte(`{}`)))
}

func TestDisconnectedClientIsDropped(t *testing.T) {
	hub := New()
	defer hub.Close()
	server := httptest.NewServer(http.HandlerFunc(hub.Handler))
	defer server.Close()

	conn := dialTestClient(t, server)
	require.Eventually(t, func() bool {
		return hub.ClientCount() == 1
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool {
		return hub.ClientCount() == 0
	}, time.Second, 10*time.Millisecond)

	assert.NoError(t, hub.Push(t.Context(), []byte(`{}`)))
}
