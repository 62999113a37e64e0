package server

import (
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Tyrowin/echoes/internal/presence"
)

// WebSocketHandler upgrades handshakes on /ws and registers the resulting
// clients with the hub.
type WebSocketHandler struct {
	hub      *Hub
	resolver *presence.Resolver
	upgrader websocket.Upgrader
}

// NewWebSocketHandler returns a handler that resolves identities with
// resolver and only accepts origins allowed by origins.
func NewWebSocketHandler(hub *Hub, resolver *presence.Resolver, origins *OriginPolicy) *WebSocketHandler {
	return &WebSocketHandler{
		hub:      hub,
		resolver: resolver,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     origins.Check,
		},
	}
}

func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	// resolve before the upgrade; the request is no longer readable after
	userID, _ := h.resolver.Resolve(r)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		zap.S().Debugw("websocket upgrade failed", "addr", r.RemoteAddr, "error", err)
		return
	}

	client := NewClient(conn, h.hub, r.RemoteAddr, userID)
	if !h.hub.Register(client) {
		zap.S().Warnw("hub is shut down, rejecting connection", "addr", r.RemoteAddr)
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
		_ = conn.Close()
	}
}

// HealthHandler reports that the server is up.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprint(w, "echoes server is running!")
}

// TestPageHandler serves a small page for poking at the websocket by hand.
func TestPageHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	if _, err := fmt.Fprint(w, testPage); err != nil {
		zap.S().Warnw("writing test page", "error", err)
	}
}

const testPage = `<!DOCTYPE html>
<html>
<head>
    <title>echoes WebSocket Test</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        #events {
            border: 1px solid #ccc;
            height: 300px;
            padding: 10px;
            overflow-y: scroll;
            margin: 10px 0;
            background-color: #f9f9f9;
            font-family: monospace;
        }
        input[type="text"] { width: 220px; padding: 5px; margin-right: 10px; }
        button {
            padding: 5px 15px;
            background-color: #007cba;
            color: white;
            border: none;
            cursor: pointer;
        }
        button:hover { background-color: #005a87; }
        .status { margin: 10px 0; padding: 5px; border-radius: 3px; }
        .connected { background-color: #d4edda; color: #155724; }
        .disconnected { background-color: #f8d7da; color: #721c24; }
    </style>
</head>
<body>
    <h1>echoes WebSocket Test</h1>

    <div id="status" class="status disconnected">Disconnected</div>

    <div>
        <input type="text" id="userId" placeholder="userId (empty for anonymous)">
        <button id="connectButton" onclick="toggleConnection()">Connect</button>
    </div>
    <div style="margin-top: 10px">
        <input type="text" id="receiverId" placeholder="receiverId" disabled>
        <button id="typingButton" onclick="sendTyping('typing')" disabled>Typing</button>
        <button id="stopButton" onclick="sendTyping('stopTyping')" disabled>Stop typing</button>
    </div>

    <h3>Online: <span id="online">-</span></h3>
    <div id="events"></div>

    <script>
        let ws = null;
        const eventsDiv = document.getElementById('events');
        const statusDiv = document.getElementById('status');
        const onlineSpan = document.getElementById('online');
        const controls = ['receiverId', 'typingButton', 'stopButton'].map(id => document.getElementById(id));

        function log(text) {
            const el = document.createElement('div');
            el.textContent = text;
            eventsDiv.appendChild(el);
            eventsDiv.scrollTop = eventsDiv.scrollHeight;
        }

        function updateStatus(connected) {
            statusDiv.textContent = connected ? 'Connected' : 'Disconnected';
            statusDiv.className = 'status ' + (connected ? 'connected' : 'disconnected');
            controls.forEach(el => el.disabled = !connected);
            document.getElementById('connectButton').textContent = connected ? 'Disconnect' : 'Connect';
        }

        function connect() {
            const userId = document.getElementById('userId').value.trim();
            const scheme = location.protocol === 'https:' ? 'wss://' : 'ws://';
            let url = scheme + location.host + '/ws';
            if (userId) {
                url += '?userId=' + encodeURIComponent(userId);
            }
            ws = new WebSocket(url);

            ws.onopen = () => { log('connected'); updateStatus(true); };
            ws.onmessage = (event) => {
                const msg = JSON.parse(event.data);
                if (msg.event === 'getOnlineUsers') {
                    onlineSpan.textContent = msg.data.length ? msg.data.join(', ') : '-';
                }
                log(msg.event + ' ' + JSON.stringify(msg.data));
            };
            ws.onclose = () => { log('connection closed'); updateStatus(false); onlineSpan.textContent = '-'; ws = null; };
            ws.onerror = () => { log('connection error'); };
        }

        function toggleConnection() {
            if (ws && ws.readyState === WebSocket.OPEN) {
                ws.close();
            } else {
                connect();
            }
        }

        function sendTyping(event) {
            const receiverId = document.getElementById('receiverId').value.trim();
            if (receiverId && ws && ws.readyState === WebSocket.OPEN) {
                ws.send(JSON.stringify({ event: event, data: { receiverId: receiverId } }));
            }
        }
    </script>
</body>
</html>`
