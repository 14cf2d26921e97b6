package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/sirosfoundation/go-interpreter-relay/internal/api"
	"github.com/sirosfoundation/go-interpreter-relay/internal/backend"
	"github.com/sirosfoundation/go-interpreter-relay/internal/netinfo"
	"github.com/sirosfoundation/go-interpreter-relay/internal/registry"
	"github.com/sirosfoundation/go-interpreter-relay/internal/relay"
	"github.com/sirosfoundation/go-interpreter-relay/internal/server"
	"github.com/sirosfoundation/go-interpreter-relay/internal/session"
	"github.com/sirosfoundation/go-interpreter-relay/internal/state"
	"github.com/sirosfoundation/go-interpreter-relay/internal/storage"
	"github.com/sirosfoundation/go-interpreter-relay/internal/websocket"
	"github.com/sirosfoundation/go-interpreter-relay/pkg/config"
	"github.com/sirosfoundation/go-interpreter-relay/pkg/logging"
	"github.com/sirosfoundation/go-interpreter-relay/pkg/middleware"
)

var (
	configFile = flag.String("config", "configs/config.yaml", "Path to configuration file")
	version    = "dev"
	buildTime  = "unknown"
)

func main() {
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize logger
	logger, err := logging.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting Interpreter Relay",
		zap.String("version", version),
		zap.String("build_time", buildTime),
	)

	// Initialize settings storage
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	settingsStore, err := backend.New(ctx, cfg)
	if err != nil {
		cancel()
		logger.Fatal("Failed to initialize storage backend", zap.Error(err))
	}
	if err := settingsStore.Ping(ctx); err != nil {
		cancel()
		logger.Fatal("Failed to ping storage", zap.Error(err))
	}
	settings, err := storage.LoadOrDefault(ctx, settingsStore, logger)
	cancel()
	if err != nil {
		logger.Fatal("Failed to load settings", zap.Error(err))
	}
	logger.Info("Settings loaded", zap.String("storage", cfg.Storage.Type))

	store := state.NewStore(settings, nil, logger)
	reg := registry.New(store, logger)

	keys := &session.KeyRing{}
	if _, err := keys.SetSecret(settings.SecretKey); err != nil {
		logger.Fatal("Failed to derive session key", zap.Error(err))
	}
	sessions := session.NewManager(keys, cfg.Server.SessionMaxAge(), logger)

	handlers := api.NewHandlers(store, sessions, middleware.NewAuthRateLimiter(cfg.AuthRateLimit, logger), logger)
	adminHandlers := api.NewAdminHandlers(store, logger)
	signaling := relay.New(store, reg, logger)
	hub := websocket.NewHub(store, logger)
	persister := storage.NewPersister(settingsStore, store.State().Settings, logger)

	manager := server.NewManager(&server.ServerConfig{
		AdminAddress: cfg.Server.AdminAddress(),
		AdminPort:    cfg.Server.AdminPort,
		AdminToken:   cfg.Server.AdminToken,
		CORS:         cfg.CORS,
		LoggingLevel: cfg.Logging.Level,
		StaticDir:    cfg.Server.StaticDir,
	}, logger)
	manager.Use(sessions.Middleware())
	manager.AddProvider(handlers)
	manager.AddProvider(signaling)
	manager.AddAdminProvider(adminHandlers)
	manager.AddAdminProvider(hub)

	lifecycle := server.NewLifecycle(server.LifecycleConfig{
		Host:              cfg.Server.Host,
		WatchCertificates: true,
	}, store, keys, manager.Build(), logger)

	// Subscriber order: stale sockets are closed before listeners are
	// reconciled, and the snapshot is pushed before it is saved.
	store.Subscribe(reg.Sweep)
	store.Subscribe(lifecycle.OnChange)
	store.Subscribe(hub.OnChange)
	store.Subscribe(persister.OnChange)

	runCtx, stopRun := context.WithCancel(context.Background())
	defer stopRun()

	lifecycle.Reconcile(runCtx)

	if err := manager.StartAdmin(); err != nil {
		logger.Fatal("Failed to start admin server", zap.Error(err))
	}

	if interval := cfg.Server.NetInfoInterval(); interval > 0 {
		go netinfo.New(store, netinfo.DetectIPv4, interval, logger).Run(runCtx)
	}

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	stopRun()

	// Graceful shutdown
	ctx, cancel = context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := lifecycle.Shutdown(ctx); err != nil {
		logger.Error("Listeners forced to shutdown", zap.Error(err))
	}
	if err := manager.Shutdown(ctx); err != nil {
		logger.Error("Admin server forced to shutdown", zap.Error(err))
	}
	hub.Close()
	store.Close()
	persister.Close()
	if err := settingsStore.Close(); err != nil {
		logger.Error("Failed to close storage", zap.Error(err))
	}

	logger.Info("Server exited")
}
