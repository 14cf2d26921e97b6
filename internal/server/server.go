// Package server runs the HTTP side of the relay.
//
// Architecture:
//   - RouteProvider: components (public API, relay, admin API) contribute routes
//   - Manager: combines RouteProviders into the public router and the admin server
//   - Lifecycle: binds the public router to the http and https listeners
//     named in the settings, following every settings change
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/sirosfoundation/go-interpreter-relay/internal/api"
	"github.com/sirosfoundation/go-interpreter-relay/pkg/config"
	"github.com/sirosfoundation/go-interpreter-relay/pkg/logging"
	"github.com/sirosfoundation/go-interpreter-relay/pkg/middleware"
)

// RouteProvider allows components to register their routes on a shared router.
// This separates route definition from server lifecycle management.
type RouteProvider interface {
	// RegisterRoutes adds the component's routes to the router.
	RegisterRoutes(router gin.IRouter)

	// Name returns the component name for logging
	Name() string
}

// ServerConfig holds the router and admin server configuration
type ServerConfig struct {
	// Admin server settings
	AdminAddress string
	AdminPort    int
	AdminToken   string

	// Common settings
	CORS         config.CORSConfig
	LoggingLevel string
	StaticDir    string
}

// Manager builds the public router and runs the admin server
type Manager struct {
	cfg    *ServerConfig
	logger *zap.Logger

	providers      []RouteProvider
	adminProviders []RouteProvider
	middleware     []gin.HandlerFunc

	publicRouter *gin.Engine
	adminServer  *http.Server
	adminToken   string
}

// NewManager creates a new server manager
func NewManager(cfg *ServerConfig, logger *zap.Logger) *Manager {
	return &Manager{
		cfg:    cfg,
		logger: logger,
	}
}

// Use adds middleware to the public router ahead of every provider's routes
func (m *Manager) Use(mw ...gin.HandlerFunc) {
	m.middleware = append(m.middleware, mw...)
}

// AddProvider adds a RouteProvider to the public router.
// Call this before Build.
func (m *Manager) AddProvider(p RouteProvider) {
	m.providers = append(m.providers, p)
	m.logger.Debug("Added route provider", zap.String("name", p.Name()))
}

// AddAdminProvider adds a RouteProvider to the admin router
func (m *Manager) AddAdminProvider(p RouteProvider) {
	m.adminProviders = append(m.adminProviders, p)
	m.logger.Debug("Added admin route provider", zap.String("name", p.Name()))
}

// Build creates the public router. It is served by the managed listeners.
func (m *Manager) Build() http.Handler {
	gin.SetMode(logging.GinMode(m.cfg.LoggingLevel))

	m.publicRouter = m.buildRouter()
	m.publicRouter.Use(m.middleware...)
	for _, p := range m.providers {
		m.logger.Info("Registering routes", zap.String("component", p.Name()))
		p.RegisterRoutes(m.publicRouter)
	}
	m.addStatusEndpoints(m.publicRouter)

	if m.cfg.StaticDir != "" {
		m.logger.Info("Serving static client", zap.String("dir", m.cfg.StaticDir))
		m.publicRouter.NoRoute(gin.WrapH(http.FileServer(http.Dir(m.cfg.StaticDir))))
	}
	return m.publicRouter
}

// StartAdmin starts the admin API server if an admin port is configured
func (m *Manager) StartAdmin() error {
	if m.cfg.AdminPort <= 0 {
		return nil
	}

	token := m.cfg.AdminToken
	if token == "" {
		var err error
		token, err = middleware.GenerateAdminToken()
		if err != nil {
			return fmt.Errorf("failed to generate admin token: %w", err)
		}
		m.logger.Info("Generated admin API token (set INTERP_SERVER_ADMIN_TOKEN to use a fixed token)",
			zap.String("token", token))
	}
	m.adminToken = token

	m.adminServer = &http.Server{
		Addr:              m.cfg.AdminAddress,
		Handler:           m.AdminHandler(token),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		m.logger.Info("Admin server listening", zap.String("address", m.cfg.AdminAddress))
		if err := m.adminServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			m.logger.Error("Admin server error", zap.Error(err))
		}
	}()

	return nil
}

// AdminHandler builds the admin router. /admin/status is open; everything
// else requires the bearer token.
func (m *Manager) AdminHandler(token string) http.Handler {
	adminRouter := gin.New()
	adminRouter.Use(gin.Recovery())
	adminRouter.Use(middleware.Logger(m.logger.Named("admin")))

	adminRouter.GET("/admin/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, m.status("interpreter-relay-admin"))
	})

	protected := adminRouter.Group("/")
	protected.Use(middleware.AdminAuthMiddleware(token, m.logger))
	for _, p := range m.adminProviders {
		m.logger.Info("Registering admin routes", zap.String("component", p.Name()))
		p.RegisterRoutes(protected)
	}
	return adminRouter
}

// Shutdown gracefully shuts down the admin server
func (m *Manager) Shutdown(ctx context.Context) error {
	if m.adminServer != nil {
		if err := m.adminServer.Shutdown(ctx); err != nil {
			return fmt.Errorf("admin server shutdown: %w", err)
		}
	}
	return nil
}

// buildRouter creates a new router with common middleware
func (m *Manager) buildRouter() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.Logger(m.logger))
	router.Use(cors.New(cors.Config{
		AllowOrigins:     m.cfg.CORS.AllowedOrigins,
		AllowMethods:     m.cfg.CORS.AllowedMethods,
		AllowHeaders:     m.cfg.CORS.AllowedHeaders,
		ExposeHeaders:    m.cfg.CORS.ExposedHeaders,
		AllowCredentials: m.cfg.CORS.AllowCredentials,
		MaxAge:           time.Duration(m.cfg.CORS.MaxAge) * time.Second,
	}))
	return router
}

func (m *Manager) status(service string) api.StatusResponse {
	return api.StatusResponse{
		Status:       "ok",
		Service:      service,
		APIVersion:   api.CurrentAPIVersion,
		Capabilities: api.APICapabilities[api.CurrentAPIVersion],
	}
}

// addStatusEndpoints adds /health and /status routes
func (m *Manager) addStatusEndpoints(router *gin.Engine) {
	handler := func(c *gin.Context) {
		c.JSON(http.StatusOK, m.status("interpreter-relay"))
	}
	router.GET("/health", handler)
	router.GET("/status", handler)
}
