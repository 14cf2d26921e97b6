// Package websocket pushes every state change to connected admin clients.
package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/sirosfoundation/go-interpreter-relay/internal/api"
	"github.com/sirosfoundation/go-interpreter-relay/internal/state"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// clientBuffer is the number of pending updates before a client is
	// considered too slow and dropped
	clientBuffer = 16
)

// StateSource provides the snapshot sent to new clients
type StateSource interface {
	State() state.State
}

// client is one connected admin. send is closed by the hub on removal.
type client struct {
	id        string
	conn      *websocket.Conn
	send      chan []byte
	closeCode int
}

// Hub fans state updates out to admin clients. Each update carries the
// store version; clients discard updates not newer than the last applied.
type Hub struct {
	source   StateSource
	logger   *zap.Logger
	upgrader websocket.Upgrader

	clientsMu   sync.Mutex
	clients     map[string]*client
	lastVersion uint64
}

// NewHub creates a new push hub
func NewHub(source StateSource, logger *zap.Logger) *Hub {
	return &Hub{
		source: source,
		logger: logger.Named("push"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// admin port only, behind the bearer token
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		clients: make(map[string]*client),
	}
}

// Name returns the component name for logging
func (h *Hub) Name() string { return "push" }

// RegisterRoutes mounts the push endpoint
func (h *Hub) RegisterRoutes(router gin.IRouter) {
	router.GET("/admin/events", h.HandleConnection)
}

// OnChange is the store subscriber
func (h *Hub) OnChange(_ context.Context, st state.State) {
	h.clientsMu.Lock()
	defer h.clientsMu.Unlock()

	if st.Version <= h.lastVersion {
		return
	}
	h.lastVersion = st.Version
	if len(h.clients) == 0 {
		return
	}

	msg, err := encode(st)
	if err != nil {
		h.logger.Error("Failed to encode state", zap.Error(err))
		return
	}
	for _, c := range h.clients {
		h.enqueue(c, msg)
	}
}

// enqueue never blocks the store. Must hold clientsMu.
func (h *Hub) enqueue(c *client, msg []byte) {
	select {
	case c.send <- msg:
	default:
		h.logger.Warn("Dropping slow admin client", zap.String("client_id", c.id))
		h.removeLocked(c, websocket.CloseTryAgainLater)
	}
}

// HandleConnection upgrades an admin request and streams updates to it,
// starting with the current snapshot
func (h *Hub) HandleConnection(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade connection", zap.Error(err))
		return
	}

	cl := &client{
		id:   uuid.New().String(),
		conn: conn,
		send: make(chan []byte, clientBuffer),
	}

	h.clientsMu.Lock()
	snapshot := h.source.State()
	msg, err := encode(snapshot)
	if err != nil {
		h.clientsMu.Unlock()
		h.logger.Error("Failed to encode state", zap.Error(err))
		_ = conn.Close()
		return
	}
	h.clients[cl.id] = cl
	cl.send <- msg
	h.clientsMu.Unlock()

	h.logger.Info("Admin client connected",
		zap.String("client_id", cl.id),
		zap.Uint64("version", snapshot.Version),
	)

	go h.writePump(cl)
	h.readPump(cl)
}

// readPump discards inbound messages and detects the close
func (h *Hub) readPump(cl *client) {
	defer func() {
		h.remove(cl)
		h.logger.Info("Admin client disconnected", zap.String("client_id", cl.id))
	}()

	cl.conn.SetReadLimit(512)
	_ = cl.conn.SetReadDeadline(time.Now().Add(pongWait))
	cl.conn.SetPongHandler(func(string) error {
		return cl.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := cl.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("Admin client read error", zap.Error(err))
			}
			return
		}
	}
}

func (h *Hub) writePump(cl *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = cl.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-cl.send:
			_ = cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = cl.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(cl.closeCode, ""))
				return
			}
			if err := cl.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := cl.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) remove(cl *client) {
	h.clientsMu.Lock()
	defer h.clientsMu.Unlock()
	h.removeLocked(cl, websocket.CloseNormalClosure)
}

// removeLocked closes the send queue, which makes writePump close the
// connection. Must hold clientsMu.
func (h *Hub) removeLocked(cl *client, code int) {
	if existing, ok := h.clients[cl.id]; ok && existing == cl {
		delete(h.clients, cl.id)
		cl.closeCode = code
		close(cl.send)
	}
}

// Len returns the number of connected clients
func (h *Hub) Len() int {
	h.clientsMu.Lock()
	defer h.clientsMu.Unlock()
	return len(h.clients)
}

// Close disconnects all clients
func (h *Hub) Close() {
	h.clientsMu.Lock()
	defer h.clientsMu.Unlock()
	for _, cl := range h.clients {
		h.removeLocked(cl, websocket.CloseGoingAway)
	}
}

func encode(st state.State) ([]byte, error) {
	return json.Marshal(api.NewVersionedState(st))
}
