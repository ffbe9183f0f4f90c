package transport

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"pulseviz/internal/analysis"
	applog "pulseviz/internal/log"
)

// WebSocketTransport broadcasts feature frames as JSON to connected clients.
//
// Thread Safety:
// - One mutex guards both the client map and the rate limiter, so Send is
//   safe from any goroutine.
// - Sends are rate limited; frames above the limit are dropped, never queued,
//   so a slow client cannot back-pressure the pipeline.
type WebSocketTransport struct {
	clients         map[*websocket.Conn]bool
	clientsMutex    sync.Mutex
	upgrader        websocket.Upgrader
	server          *http.Server
	lastSend        time.Time
	minSendInterval time.Duration
}

// NewWebSocketTransport starts an HTTP server on addr serving websocket
// upgrades at /frames. minSendInterval throttles broadcasts; zero disables
// throttling.
func NewWebSocketTransport(addr string, minSendInterval time.Duration) *WebSocketTransport {
	t := &WebSocketTransport{
		clients: make(map[*websocket.Conn]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // local visualization clients
			},
		},
		minSendInterval: minSendInterval,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/frames", t.handleWebSocket)
	t.server = &http.Server{Addr: addr, Handler: mux}

	go func() {
		applog.Infof("transport: websocket server listening on %s", addr)
		if err := t.server.ListenAndServe(); err != http.ErrServerClosed {
			applog.Errorf("transport: websocket server error: %v", err)
		}
	}()

	return t
}

func (t *WebSocketTransport) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		applog.Warnf("transport: websocket upgrade error: %v", err)
		return
	}

	t.clientsMutex.Lock()
	t.clients[conn] = true
	n := len(t.clients)
	t.clientsMutex.Unlock()
	applog.Infof("transport: websocket client connected (%d total)", n)

	// Reads only serve to detect disconnects.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				t.clientsMutex.Lock()
				delete(t.clients, conn)
				t.clientsMutex.Unlock()
				conn.Close()
				return
			}
		}
	}()
}

// Send broadcasts a frame to all connected clients, dropping it if a send
// happened within the rate limit. Clients that fail to receive are removed.
func (t *WebSocketTransport) Send(frame *analysis.FeatureFrame) error {
	t.clientsMutex.Lock()
	defer t.clientsMutex.Unlock()

	now := time.Now()
	if now.Sub(t.lastSend) < t.minSendInterval {
		return nil
	}
	t.lastSend = now

	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}

	for client := range t.clients {
		if err := client.WriteMessage(websocket.TextMessage, data); err != nil {
			client.Close()
			delete(t.clients, client)
		}
	}

	return nil
}

// Close disconnects all clients and shuts down the server.
func (t *WebSocketTransport) Close() error {
	t.clientsMutex.Lock()
	for client := range t.clients {
		client.Close()
		delete(t.clients, client)
	}
	t.clientsMutex.Unlock()

	return t.server.Close()
}

var _ Transport = (*WebSocketTransport)(nil)
