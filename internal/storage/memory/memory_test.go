package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sirosfoundation/go-interpreter-relay/internal/domain"
	"github.com/sirosfoundation/go-interpreter-relay/internal/storage"
)

func TestStore_LoadEmpty(t *testing.T) {
	_, err := NewStore().Load(context.Background())
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestStore_SaveCopies(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	settings := domain.DefaultSettings()
	require.NoError(t, store.Save(ctx, settings))
	settings.Languages[0].Name = "changed"

	got, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "English", got.Languages[0].Name)

	got.Languages[0].Name = "changed again"
	again, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "English", again.Languages[0].Name)
	assert.Equal(t, 1, store.Saves())
}
