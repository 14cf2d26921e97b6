package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/sirosfoundation/go-interpreter-relay/internal/session"
	"github.com/sirosfoundation/go-interpreter-relay/internal/state"
	"github.com/sirosfoundation/go-interpreter-relay/pkg/middleware"
)

// Handlers serves the public endpoints used by the web clients
type Handlers struct {
	store    *state.Store
	sessions *session.Manager
	limiter  *middleware.AuthRateLimiter
	logger   *zap.Logger
}

// NewHandlers creates a new Handlers instance. A nil limiter disables login
// rate limiting.
func NewHandlers(store *state.Store, sessions *session.Manager, limiter *middleware.AuthRateLimiter, logger *zap.Logger) *Handlers {
	return &Handlers{
		store:    store,
		sessions: sessions,
		limiter:  limiter,
		logger:   logger.Named("handlers"),
	}
}

// Name returns the component name for logging
func (h *Handlers) Name() string { return "api" }

// RegisterRoutes mounts the public endpoints. The session middleware must
// run before them.
func (h *Handlers) RegisterRoutes(router gin.IRouter) {
	router.GET("/state", h.GetState)
	if h.limiter != nil {
		router.POST("/login", middleware.AuthRateLimitMiddleware(h.limiter), h.Login)
	} else {
		router.POST("/login", h.Login)
	}
	router.POST("/logout", h.Logout)
}

// LanguageInfo is one language as shown to clients
type LanguageInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Live bool   `json:"live"`
}

// StateResponse is the client view of the state
type StateResponse struct {
	IsLoggedIn bool           `json:"isLoggedIn"`
	Languages  []LanguageInfo `json:"languages"`
}

// LoginRequest is the body of POST /login
type LoginRequest struct {
	Password string `json:"password"`
}

// ClientState builds the view of st for a session: enabled languages in
// settings order, private ones only for interpreters.
func ClientState(st state.State, s session.Session) StateResponse {
	resp := StateResponse{
		IsLoggedIn: s.IsInterpreter,
		Languages:  []LanguageInfo{},
	}
	if st.Settings == nil {
		return resp
	}
	for _, l := range st.Settings.Languages {
		if !l.Enable || (!l.Public && !s.IsInterpreter) {
			continue
		}
		resp.Languages = append(resp.Languages, LanguageInfo{
			ID:   l.ID,
			Name: l.Name,
			Live: st.Live.Languages[l.ID].InterpreterSocketID != "",
		})
	}
	return resp
}

// GetState returns the client view of the current state
// GET /state
func (h *Handlers) GetState(c *gin.Context) {
	c.JSON(http.StatusOK, ClientState(h.store.State(), session.FromContext(c)))
}

// Login upgrades the session to interpreter on a matching password
// POST /login
func (h *Handlers) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	st := h.store.State()
	configured := ""
	if st.Settings != nil {
		configured = st.Settings.InterpreterPassword
	}

	ok, err := h.sessions.Login(c, req.Password, configured)
	if err != nil {
		h.logger.Error("Failed to issue session", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to issue session"})
		return
	}
	if !ok {
		h.logger.Info("Interpreter login rejected", zap.String("client_ip", c.ClientIP()))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid password"})
		return
	}

	h.logger.Info("Interpreter logged in", zap.String("client_ip", c.ClientIP()))
	c.JSON(http.StatusOK, ClientState(st, session.FromContext(c)))
}

// Logout drops the interpreter role
// POST /logout
func (h *Handlers) Logout(c *gin.Context) {
	h.sessions.Logout(c)
	c.JSON(http.StatusOK, ClientState(h.store.State(), session.FromContext(c)))
}
