package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/sirosfoundation/go-interpreter-relay/internal/domain"
	"github.com/sirosfoundation/go-interpreter-relay/internal/session"
	"github.com/sirosfoundation/go-interpreter-relay/internal/state"
)

// LifecycleConfig configures the managed listeners
type LifecycleConfig struct {
	// Host is the address the http and https listeners bind to
	Host string
	// CertDebounce delays certificate reloads after file events
	CertDebounce time.Duration
	// WatchCertificates enables reloading on certificate file changes
	WatchCertificates bool
}

// managedListener is one running http.Server. gen distinguishes it from
// listeners started later for the same protocol.
type managedListener struct {
	srv  *http.Server
	port int
	gen  uint64
	done chan struct{}
}

// Lifecycle starts, stops and repairs the http and https listeners so that
// they follow the settings, and reports their status into the live state.
type Lifecycle struct {
	cfg     LifecycleConfig
	store   *state.Store
	keys    *session.KeyRing
	handler http.Handler
	logger  *zap.Logger

	running atomic.Bool
	pending atomic.Bool
	closed  atomic.Bool

	mu        sync.Mutex
	listeners map[domain.Protocol]*managedListener
	gen       map[domain.Protocol]uint64
	// failedUnder holds the settings snapshot under which a protocol last
	// failed. It becomes startable again once the settings change.
	failedUnder map[domain.Protocol]*domain.Settings

	certs       certHolder
	appliedPair certPair
	failedPair  *certFailure
	invalidated atomic.Bool
	watcher     *certWatcher
}

type certFailure struct {
	pair     certPair
	settings *domain.Settings
}

// NewLifecycle creates a lifecycle manager serving handler on both
// protocols. It does nothing until Reconcile is called; usually it is
// subscribed to the store with OnChange.
func NewLifecycle(cfg LifecycleConfig, store *state.Store, keys *session.KeyRing, handler http.Handler, logger *zap.Logger) *Lifecycle {
	if cfg.CertDebounce <= 0 {
		cfg.CertDebounce = 500 * time.Millisecond
	}
	l := &Lifecycle{
		cfg:         cfg,
		store:       store,
		keys:        keys,
		handler:     handler,
		logger:      logger.Named("lifecycle"),
		listeners:   make(map[domain.Protocol]*managedListener),
		gen:         make(map[domain.Protocol]uint64),
		failedUnder: make(map[domain.Protocol]*domain.Settings),
	}
	if cfg.WatchCertificates {
		w, err := newCertWatcher(l.logger, cfg.CertDebounce, l.certificatesChanged)
		if err != nil {
			l.logger.Warn("Certificate watcher unavailable", zap.Error(err))
		} else {
			l.watcher = w
		}
	}
	return l
}

// OnChange is the store subscriber
func (l *Lifecycle) OnChange(ctx context.Context, _ state.State) {
	l.Reconcile(ctx)
}

// Reconcile runs a pass over the listeners. Only one pass runs at a time;
// an invocation overlapping a running pass is recorded and served by one
// more pass once the current one ends.
func (l *Lifecycle) Reconcile(ctx context.Context) {
	if l.closed.Load() {
		return
	}
	l.pending.Store(true)
	if !l.running.CompareAndSwap(false, true) {
		return
	}
	l.drain(ctx)
}

// drain runs passes while invocations are pending and then releases
// running. Must hold running.
func (l *Lifecycle) drain(ctx context.Context) {
	for {
		for !l.closed.Load() && l.pending.Swap(false) {
			l.pass(ctx)
		}
		l.running.Store(false)
		// an invocation may have been recorded after the last check but
		// before running was released
		if l.closed.Load() || !l.pending.Load() || !l.running.CompareAndSwap(false, true) {
			return
		}
	}
}

func (l *Lifecycle) pass(ctx context.Context) {
	l.refreshSessionKey()
	l.syncCertificate(ctx)
	for _, p := range domain.Protocols {
		l.reconcileProtocol(ctx, p)
	}
}

func (l *Lifecycle) refreshSessionKey() {
	settings := l.store.State().Settings
	if settings == nil {
		return
	}
	changed, err := l.keys.SetSecret(settings.SecretKey)
	if err != nil {
		l.logger.Error("Failed to derive session key", zap.Error(err))
		return
	}
	if changed {
		l.logger.Info("Session key refreshed")
	}
}

func (l *Lifecycle) syncCertificate(ctx context.Context) {
	st := l.store.State()
	if st.Settings == nil || !st.Settings.Server.ProtocolEnabled(domain.ProtocolHTTPS) {
		if l.watcher != nil {
			l.watcher.Watch()
		}
		return
	}
	pair := certPair{
		CertPath: st.Settings.Server.HTTPS.CertPath,
		KeyPath:  st.Settings.Server.HTTPS.KeyPath,
	}
	if l.watcher != nil {
		l.watcher.Watch(pair.CertPath, pair.KeyPath)
	}

	invalidated := l.invalidated.Swap(false)
	if invalidated || !l.certs.loaded() || pair != l.appliedPair {
		if f := l.failedPair; !invalidated && f != nil && f.pair == pair && f.settings == st.Settings {
			return
		}
		if !l.applyCertificate(ctx, pair, st) {
			return
		}
	}

	// A listener that kept serving through a failed reload is healthy again.
	if ml := l.listener(domain.ProtocolHTTPS); ml != nil &&
		l.store.State().Live.Server[domain.ProtocolHTTPS].Status == domain.StatusError {
		l.store.Dispatch(ctx, state.ServerStateChanged{Protocol: domain.ProtocolHTTPS, Patch: state.Started(ml.port)})
	}
}

// applyCertificate loads pair and swaps it in. On failure the current
// certificate stays in place and https is reported in error.
func (l *Lifecycle) applyCertificate(ctx context.Context, pair certPair, st state.State) bool {
	cert, err := loadCertificate(pair)
	if err != nil {
		l.logger.Warn("Certificate not applied",
			zap.String("cert_path", pair.CertPath),
			zap.String("key_path", pair.KeyPath),
			zap.Error(err),
		)
		l.failedPair = &certFailure{pair: pair, settings: st.Settings}
		l.markFailed(domain.ProtocolHTTPS, st.Settings)
		l.store.Dispatch(ctx, state.ServerStateChanged{Protocol: domain.ProtocolHTTPS, Patch: state.Failed(err.Error())})
		return false
	}

	l.failedPair = nil
	l.appliedPair = pair
	l.certs.set(cert)
	// a failure recorded under these settings may have been the
	// certificate itself; with a usable one https is startable again
	l.mu.Lock()
	delete(l.failedUnder, domain.ProtocolHTTPS)
	l.mu.Unlock()
	l.logger.Info("Certificate applied", zap.String("common_name", commonName(cert)))

	if cn := commonName(cert); cn != st.Live.Domain {
		l.store.Dispatch(ctx, state.LiveInfoChanged{Domain: &cn})
	}
	return true
}

func (l *Lifecycle) reconcileProtocol(ctx context.Context, p domain.Protocol) {
	st := l.store.State()
	if st.Settings == nil {
		return
	}
	enabled := st.Settings.Server.ProtocolEnabled(p)
	port := st.Settings.Server.Port(p)

	ml := l.listener(p)
	if ml != nil && (!enabled || ml.port != port) {
		l.logger.Info("Stopping listener",
			zap.String("protocol", string(p)),
			zap.Int("port", ml.port),
			zap.Bool("enabled", enabled),
		)
		l.stop(p, ml)
		ml = nil
	}
	if !enabled || ml != nil {
		return
	}
	if p == domain.ProtocolHTTPS && !l.certs.loaded() {
		return
	}

	live := st.Live.Server[p]
	switch live.Status {
	case domain.StatusStopped:
	case domain.StatusError:
		if l.failedSettings(p) == st.Settings {
			return
		}
	default:
		// starting or started while a previous listener winds down; its
		// exit reports stopped and triggers the next pass
		return
	}
	l.start(ctx, p, port)
}

func (l *Lifecycle) start(ctx context.Context, p domain.Protocol, port int) {
	logger := l.logger.With(zap.String("protocol", string(p)), zap.Int("port", port))
	l.store.Dispatch(ctx, state.ServerStateChanged{Protocol: p, Patch: state.Starting(port)})

	addr := net.JoinHostPort(l.cfg.Host, strconv.Itoa(port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		logger.Warn("Failed to bind listener", zap.Error(err))
		l.markFailed(p, l.store.State().Settings)
		l.store.Dispatch(ctx, state.ServerStateChanged{Protocol: p, Patch: state.Failed(err.Error())})
		return
	}

	srv := &http.Server{
		Handler:           l.handler,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	if p == domain.ProtocolHTTPS {
		srv.TLSConfig = l.certs.tlsConfig()
	}

	l.mu.Lock()
	if l.closed.Load() {
		l.mu.Unlock()
		_ = ln.Close()
		return
	}
	l.gen[p]++
	ml := &managedListener{srv: srv, port: port, gen: l.gen[p], done: make(chan struct{})}
	l.listeners[p] = ml
	delete(l.failedUnder, p)
	l.mu.Unlock()

	l.store.Dispatch(ctx, state.ServerStateChanged{Protocol: p, Patch: state.Started(port)})
	logger.Info("Listener started", zap.String("address", addr))

	go l.serve(p, ml, ln)
}

func (l *Lifecycle) serve(p domain.Protocol, ml *managedListener, ln net.Listener) {
	defer close(ml.done)

	var err error
	if p == domain.ProtocolHTTPS {
		err = ml.srv.ServeTLS(ln, "", "")
	} else {
		err = ml.srv.Serve(ln)
	}

	l.mu.Lock()
	superseded := l.gen[p] != ml.gen
	l.mu.Unlock()
	if superseded {
		return
	}

	ctx := context.Background()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		l.logger.Error("Listener failed", zap.String("protocol", string(p)), zap.Error(err))
		l.mu.Lock()
		if l.listeners[p] == ml {
			delete(l.listeners, p)
		}
		l.mu.Unlock()
		l.markFailed(p, l.store.State().Settings)
		l.store.Dispatch(ctx, state.ServerStateChanged{Protocol: p, Patch: state.Failed(err.Error())})
		return
	}
	if l.store.State().Live.Server[p].Status == domain.StatusError {
		return
	}
	l.store.Dispatch(ctx, state.ServerStateChanged{Protocol: p, Patch: state.Stopped()})
}

// stop closes the listener without waiting for its serve goroutine
func (l *Lifecycle) stop(p domain.Protocol, ml *managedListener) {
	l.mu.Lock()
	if l.listeners[p] == ml {
		delete(l.listeners, p)
	}
	l.mu.Unlock()
	if err := ml.srv.Close(); err != nil {
		l.logger.Warn("Error closing listener", zap.String("protocol", string(p)), zap.Error(err))
	}
}

func (l *Lifecycle) listener(p domain.Protocol) *managedListener {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.listeners[p]
}

func (l *Lifecycle) markFailed(p domain.Protocol, settings *domain.Settings) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failedUnder[p] = settings
}

func (l *Lifecycle) failedSettings(p domain.Protocol) *domain.Settings {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.failedUnder[p]
}

func (l *Lifecycle) certificatesChanged() {
	l.invalidated.Store(true)
	l.Reconcile(context.Background())
}

// Port returns the port the protocol is being served on, if any
func (l *Lifecycle) Port(p domain.Protocol) (int, bool) {
	ml := l.listener(p)
	if ml == nil {
		return 0, false
	}
	return ml.port, true
}

// Shutdown stops the certificate watcher and gracefully shuts down the
// managed listeners.
func (l *Lifecycle) Shutdown(ctx context.Context) error {
	if l.watcher != nil {
		if err := l.watcher.Close(); err != nil {
			l.logger.Warn("Error closing certificate watcher", zap.Error(err))
		}
	}

	l.mu.Lock()
	l.closed.Store(true)
	listeners := make(map[domain.Protocol]*managedListener, len(l.listeners))
	for p, ml := range l.listeners {
		listeners[p] = ml
		delete(l.listeners, p)
	}
	l.mu.Unlock()

	var errs []error
	for p, ml := range listeners {
		if err := ml.srv.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s listener shutdown: %w", p, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}
