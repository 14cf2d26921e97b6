// Package storage persists the settings. The live state is never stored.
package storage

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/sirosfoundation/go-interpreter-relay/internal/domain"
)

// Common errors
var (
	ErrNotFound = errors.New("not found")
	ErrDatabase = errors.New("database error")
)

// SettingsStore defines the interface for settings persistence
type SettingsStore interface {
	// Load returns the persisted settings, or ErrNotFound if nothing has
	// been saved yet
	Load(ctx context.Context) (*domain.Settings, error)

	// Save replaces the persisted settings
	Save(ctx context.Context, settings *domain.Settings) error

	// Ping checks if the storage is alive
	Ping(ctx context.Context) error

	// Close releases resources
	Close() error
}

// LoadOrDefault loads the persisted settings. When nothing is stored yet,
// default settings are generated and saved. A missing secret key is
// generated too, since sessions cannot be signed without one.
func LoadOrDefault(ctx context.Context, store SettingsStore, logger *zap.Logger) (*domain.Settings, error) {
	settings, err := store.Load(ctx)
	switch {
	case errors.Is(err, ErrNotFound):
		settings = domain.DefaultSettings()
		logger.Info("No stored settings, generated defaults",
			zap.String("interpreter_password", settings.InterpreterPassword))
	case err != nil:
		return nil, fmt.Errorf("failed to load settings: %w", err)
	case settings.SecretKey == "":
		logger.Warn("Stored settings have no secret key, generating one")
		settings.SecretKey = domain.GenerateSecretKey()
	default:
		if err := settings.Validate(); err != nil {
			logger.Warn("Stored settings are invalid", zap.Error(err))
		}
		return settings, nil
	}

	if err := store.Save(ctx, settings); err != nil {
		return nil, fmt.Errorf("failed to save settings: %w", err)
	}
	return settings, nil
}
