// Package backend selects the settings storage from the configuration.
package backend

import (
	"context"
	"fmt"

	"github.com/sirosfoundation/go-interpreter-relay/internal/storage"
	"github.com/sirosfoundation/go-interpreter-relay/internal/storage/file"
	"github.com/sirosfoundation/go-interpreter-relay/internal/storage/memory"
	"github.com/sirosfoundation/go-interpreter-relay/internal/storage/mongodb"
	"github.com/sirosfoundation/go-interpreter-relay/internal/storage/redis"
	"github.com/sirosfoundation/go-interpreter-relay/pkg/config"
)

// Type defines the type of storage backend
type Type string

const (
	// TypeMemory keeps settings in memory (for testing/development)
	TypeMemory Type = "memory"
	// TypeFile stores settings in a JSON file
	TypeFile Type = "file"
	// TypeMongoDB stores settings in MongoDB
	TypeMongoDB Type = "mongodb"
	// TypeRedis stores settings in Redis
	TypeRedis Type = "redis"
)

// New creates a settings store based on the configuration
func New(ctx context.Context, cfg *config.Config) (storage.SettingsStore, error) {
	storageType := Type(cfg.Storage.Type)

	switch storageType {
	case TypeMemory, "":
		// Default to memory if not specified
		return memory.NewStore(), nil

	case TypeFile:
		store, err := file.NewStore(cfg.Storage.File.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to create file backend: %w", err)
		}
		return store, nil

	case TypeMongoDB:
		store, err := mongodb.NewStore(ctx, &cfg.Storage.MongoDB)
		if err != nil {
			return nil, fmt.Errorf("failed to create MongoDB backend: %w", err)
		}
		return store, nil

	case TypeRedis:
		store, err := redis.NewStore(ctx, &cfg.Storage.Redis)
		if err != nil {
			return nil, fmt.Errorf("failed to create Redis backend: %w", err)
		}
		return store, nil

	default:
		return nil, fmt.Errorf("unsupported storage type: %s", storageType)
	}
}
