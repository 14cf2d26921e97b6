package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sirosfoundation/go-interpreter-relay/internal/domain"
	"github.com/sirosfoundation/go-interpreter-relay/internal/storage"
	"github.com/sirosfoundation/go-interpreter-relay/pkg/config"
)

func skipIfNoRedis(t *testing.T) *Store {
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	store, err := NewStore(ctx, &config.RedisConfig{
		Address:   addr,
		KeyPrefix: "interp-test:" + t.Name() + ":",
	})
	if err != nil {
		t.Skipf("Redis not available: %v", err)
		return nil
	}

	t.Cleanup(func() {
		_ = store.client.Del(context.Background(), store.key).Err()
		_ = store.Close()
	})
	return store
}

func TestStore_LoadEmpty(t *testing.T) {
	store := skipIfNoRedis(t)

	_, err := store.Load(context.Background())
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestStore_SaveAndLoad(t *testing.T) {
	store := skipIfNoRedis(t)
	ctx := context.Background()

	settings := domain.DefaultSettings()
	require.NoError(t, store.Save(ctx, settings))

	got, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, settings, got)
	assert.NoError(t, store.Ping(ctx))
}

func TestStore_KeyUsesPrefix(t *testing.T) {
	store := skipIfNoRedis(t)
	assert.Equal(t, "interp-test:"+t.Name()+":settings", store.Key())
}
