package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/echoes/internal/metrics"
	"github.com/Tyrowin/echoes/internal/presence"
)

const testOrigin = "http://localhost:8080"

type testEnv struct {
	server  *httptest.Server
	hub     *Hub
	manager *presence.Manager
	wsURL   string
}

type envOptions struct {
	verifier presence.TokenVerifier
	// untrusted disables the bare userId handshake parameter.
	untrusted bool
	// strictOrigin rejects handshakes that carry no Origin header.
	strictOrigin bool
	settings     Settings
	metrics      *metrics.Collector
}

func newTestEnv(t *testing.T, opts envOptions) *testEnv {
	t.Helper()

	manager := presence.NewManager(presence.Options{Metrics: opts.metrics})
	hub := NewHub(manager, opts.settings)
	StartHub(hub)

	handler := NewWebSocketHandler(hub,
		presence.NewResolver(opts.verifier, !opts.untrusted),
		NewOriginPolicy([]string{testOrigin}, !opts.strictOrigin),
	)
	srv := httptest.NewServer(SetupRoutes(Routes{WebSocket: handler}))

	t.Cleanup(func() {
		srv.Close()
	})
	t.Cleanup(func() {
		_ = hub.Shutdown(2 * time.Second)
	})

	return &testEnv{
		server:  srv,
		hub:     hub,
		manager: manager,
		wsURL:   "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws",
	}
}

func (e *testEnv) dial(t *testing.T, query string) *websocket.Conn {
	t.Helper()

	url := e.wsURL
	if query != "" {
		url += "?" + query
	}

	header := http.Header{}
	header.Set("Origin", testOrigin)
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}

	conn, resp, err := dialer.Dial(url, header)
	if resp != nil {
		_ = resp.Body.Close()
	}
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

type wireEvent struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func readEvent(t *testing.T, conn *websocket.Conn) wireEvent {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)

	var ev wireEvent
	require.NoError(t, json.Unmarshal(raw, &ev))
	return ev
}

func readOnline(t *testing.T, conn *websocket.Conn) []string {
	t.Helper()

	ev := readEvent(t, conn)
	require.Equal(t, presence.EventOnlineUsers, ev.Event)

	var online []string
	require.NoError(t, json.Unmarshal(ev.Data, &online))
	return online
}

func sendFrame(t *testing.T, conn *websocket.Conn, event, receiverID string) {
	t.Helper()

	frame := map[string]any{
		"event": event,
		"data":  map[string]string{"receiverId": receiverID},
	}
	require.NoError(t, conn.WriteJSON(frame))
}
