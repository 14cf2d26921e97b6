package server

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sirosfoundation/go-interpreter-relay/internal/domain"
	"github.com/sirosfoundation/go-interpreter-relay/internal/session"
	"github.com/sirosfoundation/go-interpreter-relay/internal/state"
)

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

func baseSettings() *domain.Settings {
	return &domain.Settings{
		InterpreterPassword: "pw",
		SecretKey:           "secret-1",
		Languages: []domain.LanguageSettings{
			{ID: "en", Name: "English", Enable: true, Public: true},
		},
		Server: domain.ServerSettings{
			Enable: true,
			HTTP:   domain.HTTPSettings{Port: 1},
			HTTPS:  domain.HTTPSSettings{Port: 2},
		},
	}
}

type lifecycleHarness struct {
	store     *state.Store
	keys      *session.KeyRing
	lifecycle *Lifecycle
}

func newLifecycleHarness(t *testing.T, settings *domain.Settings) *lifecycleHarness {
	t.Helper()
	return newLifecycleHarnessWithConfig(t, settings, LifecycleConfig{Host: "127.0.0.1"})
}

func newLifecycleHarnessWithConfig(t *testing.T, settings *domain.Settings, cfg LifecycleConfig) *lifecycleHarness {
	t.Helper()
	logger := zap.NewNop()
	store := state.NewStore(settings, nil, logger)
	keys := &session.KeyRing{}
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	l := NewLifecycle(cfg, store, keys, handler, logger)
	store.Subscribe(l.OnChange)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = l.Shutdown(ctx)
		store.Close()
	})

	l.Reconcile(context.Background())
	return &lifecycleHarness{store: store, keys: keys, lifecycle: l}
}

func (h *lifecycleHarness) change(mutate func(s *domain.Settings)) {
	next := h.store.State().Settings.Clone()
	mutate(next)
	h.store.Dispatch(context.Background(), state.ChangeSettings{Settings: next})
}

func (h *lifecycleHarness) server(p domain.Protocol) domain.ServerState {
	return h.store.State().Live.Server[p]
}

func (h *lifecycleHarness) waitFor(t *testing.T, p domain.Protocol, status domain.Status, port int) {
	t.Helper()
	require.Eventually(t, func() bool {
		s := h.server(p)
		return s.Status == status && (port == 0 || s.Port == port)
	}, 5*time.Second, 10*time.Millisecond, "waiting for %s %s on %d, have %+v", p, status, port, h.server(p))
}

func get(t *testing.T, url string) (int, error) {
	t.Helper()
	client := &http.Client{
		Timeout: 2 * time.Second,
		Transport: &http.Transport{
			TLSClientConfig:   &tls.Config{InsecureSkipVerify: true},
			DisableKeepAlives: true,
		},
	}
	resp, err := client.Get(url)
	if err != nil {
		return 0, err
	}
	resp.Body.Close()
	return resp.StatusCode, nil
}

func TestLifecycle_StartsHTTP(t *testing.T) {
	port := freePort(t)
	settings := baseSettings()
	settings.Server.HTTP = domain.HTTPSettings{Enable: true, Port: port}

	h := newLifecycleHarness(t, settings)
	h.waitFor(t, domain.ProtocolHTTP, domain.StatusStarted, port)
	assert.Equal(t, domain.StatusStopped, h.server(domain.ProtocolHTTPS).Status)

	code, err := get(t, fmt.Sprintf("http://127.0.0.1:%d/", port))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, code)

	got, ok := h.lifecycle.Port(domain.ProtocolHTTP)
	assert.True(t, ok)
	assert.Equal(t, port, got)
}

func TestLifecycle_PortChangeRestarts(t *testing.T) {
	first, second := freePort(t), freePort(t)
	settings := baseSettings()
	settings.Server.HTTP = domain.HTTPSettings{Enable: true, Port: first}

	h := newLifecycleHarness(t, settings)
	h.waitFor(t, domain.ProtocolHTTP, domain.StatusStarted, first)

	h.change(func(s *domain.Settings) { s.Server.HTTP.Port = second })
	h.waitFor(t, domain.ProtocolHTTP, domain.StatusStarted, second)

	code, err := get(t, fmt.Sprintf("http://127.0.0.1:%d/", second))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, code)

	_, err = get(t, fmt.Sprintf("http://127.0.0.1:%d/", first))
	assert.Error(t, err)
}

func TestLifecycle_DisableStops(t *testing.T) {
	port := freePort(t)
	settings := baseSettings()
	settings.Server.HTTP = domain.HTTPSettings{Enable: true, Port: port}

	h := newLifecycleHarness(t, settings)
	h.waitFor(t, domain.ProtocolHTTP, domain.StatusStarted, port)

	// master switch
	h.change(func(s *domain.Settings) { s.Server.Enable = false })
	h.waitFor(t, domain.ProtocolHTTP, domain.StatusStopped, 0)
	_, ok := h.lifecycle.Port(domain.ProtocolHTTP)
	assert.False(t, ok)

	_, err := get(t, fmt.Sprintf("http://127.0.0.1:%d/", port))
	assert.Error(t, err)

	h.change(func(s *domain.Settings) { s.Server.Enable = true })
	h.waitFor(t, domain.ProtocolHTTP, domain.StatusStarted, port)
}

func TestLifecycle_BindFailureRetriedOnSettingsChange(t *testing.T) {
	blocker, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := blocker.Addr().(*net.TCPAddr).Port

	settings := baseSettings()
	settings.Server.HTTP = domain.HTTPSettings{Enable: true, Port: port}
	h := newLifecycleHarness(t, settings)

	h.waitFor(t, domain.ProtocolHTTP, domain.StatusError, 0)
	assert.NotEmpty(t, h.server(domain.ProtocolHTTP).Message)

	// unrelated dispatches under the same settings do not retry
	h.store.Dispatch(context.Background(), state.AddListener{LanguageID: "en", SocketID: "l1"})
	assert.Equal(t, domain.StatusError, h.server(domain.ProtocolHTTP).Status)

	require.NoError(t, blocker.Close())
	h.change(func(s *domain.Settings) {})
	h.waitFor(t, domain.ProtocolHTTP, domain.StatusStarted, port)
	assert.Empty(t, h.server(domain.ProtocolHTTP).Message)
}

func TestLifecycle_ErrorClearedWhenDisabled(t *testing.T) {
	blocker, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer blocker.Close()
	port := blocker.Addr().(*net.TCPAddr).Port

	settings := baseSettings()
	settings.Server.HTTP = domain.HTTPSettings{Enable: true, Port: port}
	h := newLifecycleHarness(t, settings)
	h.waitFor(t, domain.ProtocolHTTP, domain.StatusError, 0)

	h.change(func(s *domain.Settings) { s.Server.HTTP.Enable = false })
	assert.Equal(t, domain.ServerState{Status: domain.StatusStopped}, h.server(domain.ProtocolHTTP))
}

func TestLifecycle_HTTPSMissingCertificateThenFixed(t *testing.T) {
	dir := t.TempDir()
	port := freePort(t)
	settings := baseSettings()
	settings.Server.HTTPS = domain.HTTPSSettings{
		Enable:   true,
		Port:     port,
		CertPath: filepath.Join(dir, "missing.pem"),
		KeyPath:  filepath.Join(dir, "missing.key"),
	}

	h := newLifecycleHarness(t, settings)
	h.waitFor(t, domain.ProtocolHTTPS, domain.StatusError, 0)
	assert.NotEmpty(t, h.server(domain.ProtocolHTTPS).Message)
	_, ok := h.lifecycle.Port(domain.ProtocolHTTPS)
	assert.False(t, ok)

	pair := writeTestCertificate(t, dir, "relay.example.org")
	h.change(func(s *domain.Settings) {
		s.Server.HTTPS.CertPath = pair.CertPath
		s.Server.HTTPS.KeyPath = pair.KeyPath
	})
	h.waitFor(t, domain.ProtocolHTTPS, domain.StatusStarted, port)
	assert.Equal(t, "relay.example.org", h.store.State().Live.Domain)

	code, err := get(t, fmt.Sprintf("https://127.0.0.1:%d/", port))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, code)
}

func TestLifecycle_BadCertificateKeepsWorkingListener(t *testing.T) {
	dir := t.TempDir()
	port := freePort(t)
	pair := writeTestCertificate(t, dir, "good.example.org")
	settings := baseSettings()
	settings.Server.HTTPS = domain.HTTPSSettings{Enable: true, Port: port, CertPath: pair.CertPath, KeyPath: pair.KeyPath}

	h := newLifecycleHarness(t, settings)
	h.waitFor(t, domain.ProtocolHTTPS, domain.StatusStarted, port)

	h.change(func(s *domain.Settings) { s.Server.HTTPS.CertPath = filepath.Join(dir, "missing.pem") })
	h.waitFor(t, domain.ProtocolHTTPS, domain.StatusError, 0)

	// the previous certificate keeps serving
	code, err := get(t, fmt.Sprintf("https://127.0.0.1:%d/", port))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, code)

	h.change(func(s *domain.Settings) { s.Server.HTTPS.CertPath = pair.CertPath })
	h.waitFor(t, domain.ProtocolHTTPS, domain.StatusStarted, port)
}

func TestLifecycle_RefreshesSessionKey(t *testing.T) {
	h := newLifecycleHarness(t, baseSettings())
	first := h.keys.Key()
	require.NotNil(t, first)

	h.change(func(s *domain.Settings) { s.SecretKey = "secret-2" })
	second := h.keys.Key()
	assert.NotEqual(t, first, second)

	want, err := session.DeriveKey("secret-2")
	require.NoError(t, err)
	assert.Equal(t, want, second)
}

func TestLifecycle_ShutdownStopsListeners(t *testing.T) {
	port := freePort(t)
	settings := baseSettings()
	settings.Server.HTTP = domain.HTTPSettings{Enable: true, Port: port}
	h := newLifecycleHarness(t, settings)
	h.waitFor(t, domain.ProtocolHTTP, domain.StatusStarted, port)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.lifecycle.Shutdown(ctx))
	h.waitFor(t, domain.ProtocolHTTP, domain.StatusStopped, 0)

	// no restart after shutdown
	h.change(func(s *domain.Settings) { s.Server.HTTP.Port = freePort(t) })
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, domain.StatusStopped, h.server(domain.ProtocolHTTP).Status)
}

// watchedHarness runs the lifecycle with the certificate watcher on
func watchedHarness(t *testing.T, settings *domain.Settings) *lifecycleHarness {
	t.Helper()
	h := newLifecycleHarnessWithConfig(t, settings, LifecycleConfig{
		Host:              "127.0.0.1",
		WatchCertificates: true,
		CertDebounce:      50 * time.Millisecond,
	})
	require.NotNil(t, h.lifecycle.watcher)
	return h
}

// installCertificate generates a certificate for cn elsewhere and renames
// both files over pair, the way certificate renewal tools replace them
func installCertificate(t *testing.T, pair certPair, cn string) {
	t.Helper()
	staged := writeTestCertificate(t, t.TempDir(), cn)
	require.NoError(t, os.Rename(staged.KeyPath, pair.KeyPath))
	require.NoError(t, os.Rename(staged.CertPath, pair.CertPath))
}

// servedCommonName returns the CN of the certificate presented on port
func servedCommonName(t *testing.T, port int) string {
	t.Helper()
	conn, err := tls.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", port), &tls.Config{InsecureSkipVerify: true})
	require.NoError(t, err)
	defer conn.Close()
	certs := conn.ConnectionState().PeerCertificates
	require.NotEmpty(t, certs)
	return certs[0].Subject.CommonName
}

func TestLifecycle_WatcherStartsHTTPSOnceCertificateAppears(t *testing.T) {
	dir := t.TempDir()
	port := freePort(t)
	pair := certPair{
		CertPath: filepath.Join(dir, "cert.pem"),
		KeyPath:  filepath.Join(dir, "key.pem"),
	}
	settings := baseSettings()
	settings.Server.HTTPS = domain.HTTPSSettings{Enable: true, Port: port, CertPath: pair.CertPath, KeyPath: pair.KeyPath}

	h := watchedHarness(t, settings)
	h.waitFor(t, domain.ProtocolHTTPS, domain.StatusError, 0)
	before := h.store.State().Settings

	installCertificate(t, pair, "fixed.example.org")

	h.waitFor(t, domain.ProtocolHTTPS, domain.StatusStarted, port)
	st := h.store.State()
	assert.Same(t, before, st.Settings, "settings must not change")
	assert.Equal(t, "fixed.example.org", st.Live.Domain)
	assert.Empty(t, st.Live.Server[domain.ProtocolHTTPS].Message)

	code, err := get(t, fmt.Sprintf("https://127.0.0.1:%d/", port))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, code)
}

func TestLifecycle_WatcherRenewsCertificateWhileStarted(t *testing.T) {
	dir := t.TempDir()
	port := freePort(t)
	pair := writeTestCertificate(t, dir, "old.example.org")
	settings := baseSettings()
	settings.Server.HTTPS = domain.HTTPSSettings{Enable: true, Port: port, CertPath: pair.CertPath, KeyPath: pair.KeyPath}

	h := watchedHarness(t, settings)
	h.waitFor(t, domain.ProtocolHTTPS, domain.StatusStarted, port)
	assert.Equal(t, "old.example.org", servedCommonName(t, port))

	installCertificate(t, pair, "renewed.example.org")

	require.Eventually(t, func() bool {
		return h.store.State().Live.Domain == "renewed.example.org"
	}, 5*time.Second, 10*time.Millisecond)
	h.waitFor(t, domain.ProtocolHTTPS, domain.StatusStarted, port)
	assert.Equal(t, "renewed.example.org", servedCommonName(t, port))

	// same listener, no restart
	got, ok := h.lifecycle.Port(domain.ProtocolHTTPS)
	require.True(t, ok)
	assert.Equal(t, port, got)
}

func TestLifecycle_WatcherRecoversFromBrokenRenewal(t *testing.T) {
	dir := t.TempDir()
	port := freePort(t)
	pair := writeTestCertificate(t, dir, "good.example.org")
	settings := baseSettings()
	settings.Server.HTTPS = domain.HTTPSSettings{Enable: true, Port: port, CertPath: pair.CertPath, KeyPath: pair.KeyPath}

	h := watchedHarness(t, settings)
	h.waitFor(t, domain.ProtocolHTTPS, domain.StatusStarted, port)

	require.NoError(t, os.WriteFile(pair.CertPath, []byte("not a certificate"), 0o600))
	h.waitFor(t, domain.ProtocolHTTPS, domain.StatusError, 0)
	assert.Equal(t, "good.example.org", servedCommonName(t, port))

	installCertificate(t, pair, "next.example.org")
	h.waitFor(t, domain.ProtocolHTTPS, domain.StatusStarted, port)
	assert.Equal(t, "next.example.org", servedCommonName(t, port))
}

func TestLifecycle_ChangeDuringPassIsNotLost(t *testing.T) {
	port := freePort(t)
	h := newLifecycleHarness(t, baseSettings())

	// hold the pass slot as a running pass would
	require.True(t, h.lifecycle.running.CompareAndSwap(false, true))
	h.change(func(s *domain.Settings) { s.Server.HTTP = domain.HTTPSettings{Enable: true, Port: port} })
	assert.Equal(t, domain.StatusStopped, h.server(domain.ProtocolHTTP).Status)

	// the running pass ends and serves what arrived meanwhile
	h.lifecycle.drain(context.Background())
	h.waitFor(t, domain.ProtocolHTTP, domain.StatusStarted, port)
	assert.False(t, h.lifecycle.running.Load())
	assert.False(t, h.lifecycle.pending.Load())
}
