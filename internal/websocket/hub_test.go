package websocket

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sirosfoundation/go-interpreter-relay/internal/api"
	"github.com/sirosfoundation/go-interpreter-relay/internal/domain"
	"github.com/sirosfoundation/go-interpreter-relay/internal/state"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testSettings() *domain.Settings {
	return &domain.Settings{
		InterpreterPassword: "pw",
		SecretKey:           "secret",
		Languages: []domain.LanguageSettings{
			{ID: "en", Name: "English", Enable: true, Public: true},
		},
	}
}

func newTestHub(t *testing.T) (*Hub, *state.Store, string) {
	t.Helper()
	logger := zap.NewNop()
	store := state.NewStore(testSettings(), nil, logger)
	hub := NewHub(store, logger)
	store.Subscribe(hub.OnChange)

	router := gin.New()
	hub.RegisterRoutes(router)
	server := httptest.NewServer(router)
	t.Cleanup(func() {
		hub.Close()
		server.Close()
		store.Close()
	})
	return hub, store, "ws" + strings.TrimPrefix(server.URL, "http") + "/admin/events"
}

func readUpdate(t *testing.T, conn *websocket.Conn) api.VersionedState {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var out api.VersionedState
	require.NoError(t, conn.ReadJSON(&out))
	return out
}

func TestHub_SnapshotThenUpdates(t *testing.T) {
	hub, store, url := newTestHub(t)
	ctx := context.Background()
	store.Dispatch(ctx, state.AddListener{LanguageID: "en", SocketID: "l1"})

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	first := readUpdate(t, conn)
	assert.Equal(t, uint64(1), first.Version)
	assert.Equal(t, []string{"l1"}, first.State.Live.Languages["en"].Listeners)
	require.Eventually(t, func() bool { return hub.Len() == 1 }, time.Second, 10*time.Millisecond)

	store.Dispatch(ctx, state.AddInterpreter{LanguageID: "en", SocketID: "i1"})
	second := readUpdate(t, conn)
	assert.Equal(t, uint64(2), second.Version)
	assert.Equal(t, "i1", second.State.Live.Languages["en"].InterpreterSocketID)
}

func TestHub_VersionsIncreasePerClient(t *testing.T) {
	_, store, url := newTestHub(t)
	ctx := context.Background()

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	last := readUpdate(t, conn).Version
	for i := 0; i < 5; i++ {
		store.Dispatch(ctx, state.AddListener{LanguageID: "en", SocketID: "l" + string(rune('a'+i))})
	}
	for last < 5 {
		next := readUpdate(t, conn).Version
		assert.Greater(t, next, last)
		last = next
	}
}

func TestHub_IgnoresOlderVersions(t *testing.T) {
	hub, store, url := newTestHub(t)
	ctx := context.Background()

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	readUpdate(t, conn)

	current := store.Dispatch(ctx, state.AddListener{LanguageID: "en", SocketID: "l1"})
	assert.Equal(t, current.Version, readUpdate(t, conn).Version)

	stale := current
	stale.Version = current.Version - 1
	hub.OnChange(ctx, stale)

	store.Dispatch(ctx, state.RemoveListener{SocketID: "l1"})
	assert.Equal(t, current.Version+1, readUpdate(t, conn).Version)
}

func TestHub_DropsSlowClient(t *testing.T) {
	store := state.NewStore(testSettings(), nil, zap.NewNop())
	defer store.Close()
	hub := NewHub(store, zap.NewNop())
	slow := &client{id: "slow", send: make(chan []byte, 1)}
	slow.send <- []byte("pending")
	hub.clients[slow.id] = slow

	hub.OnChange(context.Background(), state.State{Version: 1})

	assert.Equal(t, 0, hub.Len())
	assert.Equal(t, websocket.CloseTryAgainLater, slow.closeCode)
	<-slow.send
	_, open := <-slow.send
	assert.False(t, open)
}

func TestHub_CloseDisconnectsClients(t *testing.T) {
	hub, _, url := newTestHub(t)

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	readUpdate(t, conn)

	hub.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = conn.ReadMessage()
	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, websocket.CloseGoingAway, closeErr.Code)
	assert.Equal(t, 0, hub.Len())
}
