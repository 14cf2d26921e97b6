// Package relay implements the listen and interpret WebSocket endpoints. It
// admits connections against the live state and forwards signaling
// envelopes between the interpreter of a language and its listeners.
package relay

import (
	"context"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/sirosfoundation/go-interpreter-relay/internal/registry"
	"github.com/sirosfoundation/go-interpreter-relay/internal/session"
	"github.com/sirosfoundation/go-interpreter-relay/internal/state"
)

// Close codes sent when a connection is refused
const (
	CloseForbidden = 4403
	CloseNotFound  = 4404
	CloseConflict  = 4409
)

// Relay serves the signaling endpoints
type Relay struct {
	store    *state.Store
	registry *registry.Registry
	logger   *zap.Logger
	upgrader websocket.Upgrader

	// admitMu serializes check, dispatch, register and notify of an
	// admission so two interpreters can never both pass the conflict check.
	admitMu sync.Mutex
}

// New creates a relay admitting connections into store and reg
func New(store *state.Store, reg *registry.Registry, logger *zap.Logger) *Relay {
	return &Relay{
		store:    store,
		registry: reg,
		logger:   logger.Named("relay"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				// Listener pages are opened from QR codes on arbitrary hosts
				return true
			},
		},
	}
}

// Name returns the component name for logging
func (r *Relay) Name() string { return "relay" }

// RegisterRoutes mounts the endpoints. The session middleware must run
// before them.
func (r *Relay) RegisterRoutes(router gin.IRouter) {
	router.GET("/listen/:languageId", r.Listen)
	router.GET("/interpret/:languageId", r.Interpret)
}

// Listen handles GET /listen/:languageId
func (r *Relay) Listen(c *gin.Context) {
	languageID := c.Param("languageId")
	sess := session.FromContext(c)

	conn, err := r.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		r.logger.Debug("Upgrade failed", zap.Error(err))
		return
	}
	ctx := context.WithoutCancel(c.Request.Context())
	sock := newSocket(uuid.NewString(), conn, r.logger)
	logger := r.logger.With(zap.String("socket_id", sock.ID()), zap.String("language_id", languageID))

	r.admitMu.Lock()
	lang, ok := r.store.State().Settings.Language(languageID)
	if !ok || !lang.Enable || (!lang.Public && !sess.IsInterpreter) {
		r.admitMu.Unlock()
		logger.Info("Refusing listener for unavailable language")
		reject(conn, CloseNotFound, "language not found")
		return
	}
	st := r.store.Dispatch(ctx, state.AddListener{LanguageID: languageID, SocketID: sock.ID()})
	if err := r.registry.Register(sock); err != nil {
		r.admitMu.Unlock()
		logger.Info("Listener lost its language during admission", zap.Error(err))
		r.store.Dispatch(ctx, state.RemoveListener{SocketID: sock.ID()})
		reject(conn, CloseNotFound, "language not found")
		return
	}
	if interpreterID := st.Live.Languages[languageID].InterpreterSocketID; interpreterID != "" {
		r.sendTo(sock, NewInterpreter{InterpreterID: interpreterID})
	}
	r.admitMu.Unlock()

	logger.Info("Listener connected")
	go sock.writePump()
	sock.readPump(func(data []byte) {
		r.fromListener(sock, languageID, data)
	})

	r.registry.Remove(sock.ID())
	sock.Close(websocket.CloseNormalClosure, "")
	st = r.store.Dispatch(ctx, state.RemoveListener{SocketID: sock.ID()})
	if interpreterID := st.Live.Languages[languageID].InterpreterSocketID; interpreterID != "" {
		r.forward(interpreterID, RemoveListener{ListenerID: sock.ID()})
	}
	logger.Info("Listener disconnected")
}

// Interpret handles GET /interpret/:languageId
func (r *Relay) Interpret(c *gin.Context) {
	languageID := c.Param("languageId")
	sess := session.FromContext(c)

	conn, err := r.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		r.logger.Debug("Upgrade failed", zap.Error(err))
		return
	}
	ctx := context.WithoutCancel(c.Request.Context())
	sock := newSocket(uuid.NewString(), conn, r.logger)
	logger := r.logger.With(zap.String("socket_id", sock.ID()), zap.String("language_id", languageID))

	if !sess.IsInterpreter {
		logger.Info("Refusing interpreter without interpreter session")
		reject(conn, CloseForbidden, "forbidden")
		return
	}

	r.admitMu.Lock()
	current := r.store.State()
	lang, ok := current.Settings.Language(languageID)
	if !ok || !lang.Enable {
		r.admitMu.Unlock()
		logger.Info("Refusing interpreter for unavailable language")
		reject(conn, CloseNotFound, "language not found")
		return
	}
	if existing := current.Live.Languages[languageID].InterpreterSocketID; existing != "" {
		r.admitMu.Unlock()
		logger.Info("Refusing second interpreter", zap.String("current", existing))
		reject(conn, CloseConflict, "language already has an interpreter")
		return
	}
	st := r.store.Dispatch(ctx, state.AddInterpreter{LanguageID: languageID, SocketID: sock.ID()})
	if err := r.registry.Register(sock); err != nil {
		r.admitMu.Unlock()
		logger.Info("Interpreter lost its language during admission", zap.Error(err))
		r.store.Dispatch(ctx, state.RemoveInterpreter{SocketID: sock.ID()})
		reject(conn, CloseNotFound, "language not found")
		return
	}
	for _, listenerID := range st.Live.Languages[languageID].Listeners {
		r.forward(listenerID, NewInterpreter{InterpreterID: sock.ID()})
	}
	r.admitMu.Unlock()

	logger.Info("Interpreter connected")
	go sock.writePump()
	sock.readPump(func(data []byte) {
		r.fromInterpreter(sock, languageID, data)
	})

	r.registry.Remove(sock.ID())
	sock.Close(websocket.CloseNormalClosure, "")
	r.store.Dispatch(ctx, state.RemoveInterpreter{SocketID: sock.ID()})
	logger.Info("Interpreter disconnected")
}

func (r *Relay) fromListener(sock *Socket, languageID string, data []byte) {
	msg, err := Decode(data)
	if err != nil {
		r.logger.Debug("Ignoring listener message", zap.String("socket_id", sock.ID()), zap.Error(err))
		return
	}
	sig, ok := msg.(Signal)
	if !ok {
		r.logger.Debug("Ignoring unexpected listener message", zap.String("type", string(msg.MessageType())))
		return
	}
	if r.store.State().Live.Languages[languageID].InterpreterSocketID != sig.InterpreterID || sig.InterpreterID == "" {
		r.logger.Debug("Dropping signal for absent interpreter",
			zap.String("socket_id", sock.ID()),
			zap.String("interpreter_id", sig.InterpreterID),
		)
		return
	}
	r.forward(sig.InterpreterID, Signal{ListenerID: sock.ID(), Signal: sig.Signal})
}

func (r *Relay) fromInterpreter(sock *Socket, languageID string, data []byte) {
	msg, err := Decode(data)
	if err != nil {
		r.logger.Debug("Ignoring interpreter message", zap.String("socket_id", sock.ID()), zap.Error(err))
		return
	}
	sig, ok := msg.(Signal)
	if !ok {
		r.logger.Debug("Ignoring unexpected interpreter message", zap.String("type", string(msg.MessageType())))
		return
	}
	if !r.store.State().Live.Languages[languageID].HasListener(sig.ListenerID) {
		r.logger.Debug("Dropping signal for absent listener",
			zap.String("socket_id", sock.ID()),
			zap.String("listener_id", sig.ListenerID),
		)
		return
	}
	r.forward(sig.ListenerID, Signal{InterpreterID: sock.ID(), Signal: sig.Signal})
}

// forward sends m to the registered socket id. A miss is dropped silently.
func (r *Relay) forward(id string, m Message) {
	h, ok := r.registry.Lookup(id)
	if !ok {
		r.logger.Debug("Dropping message for unregistered socket",
			zap.String("socket_id", id),
			zap.String("type", string(m.MessageType())),
		)
		return
	}
	r.sendTo(h, m)
}

func (r *Relay) sendTo(h registry.Handle, m Message) {
	data, err := Encode(m)
	if err != nil {
		r.logger.Error("Failed to encode message", zap.Error(err))
		return
	}
	if err := h.Send(data); err != nil {
		r.logger.Debug("Send failed", zap.String("socket_id", h.ID()), zap.Error(err))
	}
}
