package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/sirosfoundation/go-interpreter-relay/internal/domain"
	"github.com/sirosfoundation/go-interpreter-relay/internal/state"
)

// AdminHandlers contains handlers for the admin API endpoints
type AdminHandlers struct {
	store  *state.Store
	logger *zap.Logger
}

// NewAdminHandlers creates a new AdminHandlers instance
func NewAdminHandlers(store *state.Store, logger *zap.Logger) *AdminHandlers {
	return &AdminHandlers{
		store:  store,
		logger: logger.Named("admin"),
	}
}

// Name returns the component name for logging
func (h *AdminHandlers) Name() string { return "admin-api" }

// RegisterRoutes mounts the admin endpoints
func (h *AdminHandlers) RegisterRoutes(router gin.IRouter) {
	admin := router.Group("/admin")
	admin.GET("/state", h.GetState)
	admin.PUT("/settings", h.UpdateSettings)
	admin.POST("/settings/reset", h.ResetSettings)
	admin.POST("/settings/rotate-secret", h.RotateSecret)
}

// VersionedState is a full state snapshot with its store version
type VersionedState struct {
	Version uint64      `json:"version"`
	State   state.State `json:"state"`
}

// NewVersionedState wraps a snapshot
func NewVersionedState(st state.State) VersionedState {
	return VersionedState{Version: st.Version, State: st}
}

// GetState returns the full state including secrets
// GET /admin/state
func (h *AdminHandlers) GetState(c *gin.Context) {
	c.JSON(http.StatusOK, NewVersionedState(h.store.State()))
}

// UpdateSettings replaces the settings
// PUT /admin/settings
func (h *AdminHandlers) UpdateSettings(c *gin.Context) {
	var settings domain.Settings
	if err := c.ShouldBindJSON(&settings); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := settings.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	st := h.store.Dispatch(c.Request.Context(), state.ChangeSettings{Settings: &settings})
	h.logger.Info("Settings changed", zap.Uint64("version", st.Version))
	c.JSON(http.StatusOK, NewVersionedState(st))
}

// ResetSettings restores default settings
// POST /admin/settings/reset
func (h *AdminHandlers) ResetSettings(c *gin.Context) {
	st := h.store.Dispatch(c.Request.Context(), state.ResetSettings{})
	h.logger.Warn("Settings reset to defaults", zap.Uint64("version", st.Version))
	c.JSON(http.StatusOK, NewVersionedState(st))
}

// RotateSecret replaces the session secret, which logs out every
// interpreter
// POST /admin/settings/rotate-secret
func (h *AdminHandlers) RotateSecret(c *gin.Context) {
	settings := h.store.State().Settings.Clone()
	if settings == nil {
		settings = domain.DefaultSettings()
	}
	settings.SecretKey = domain.GenerateSecretKey()

	st := h.store.Dispatch(c.Request.Context(), state.ChangeSettings{Settings: settings})
	h.logger.Info("Session secret rotated", zap.Uint64("version", st.Version))
	c.JSON(http.StatusOK, NewVersionedState(st))
}
