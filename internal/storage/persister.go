package storage

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sirosfoundation/go-interpreter-relay/internal/domain"
	"github.com/sirosfoundation/go-interpreter-relay/internal/state"
)

const defaultSaveTimeout = 10 * time.Second

// Persister saves settings changes in the background. Only the latest
// pending settings are written; failures are logged and never reach the
// store.
type Persister struct {
	store       SettingsStore
	logger      *zap.Logger
	saveTimeout time.Duration

	mu          sync.Mutex
	saved       *domain.Settings
	pending     *domain.Settings
	lastVersion uint64

	wake chan struct{}
	stop chan struct{}
	done chan struct{}
	once sync.Once
}

// NewPersister creates a persister. current is the settings already
// stored, which are not written again.
func NewPersister(store SettingsStore, current *domain.Settings, logger *zap.Logger) *Persister {
	p := &Persister{
		store:       store,
		logger:      logger.Named("persister"),
		saveTimeout: defaultSaveTimeout,
		saved:       current,
		wake:        make(chan struct{}, 1),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
	go p.run()
	return p
}

// OnChange is the store subscriber
func (p *Persister) OnChange(_ context.Context, st state.State) {
	p.mu.Lock()
	if st.Version <= p.lastVersion {
		p.mu.Unlock()
		return
	}
	p.lastVersion = st.Version
	if st.Settings == nil || st.Settings == p.saved || st.Settings == p.pending {
		p.mu.Unlock()
		return
	}
	p.pending = st.Settings
	p.mu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *Persister) run() {
	defer close(p.done)
	for {
		select {
		case <-p.wake:
			p.flush()
		case <-p.stop:
			p.flush()
			return
		}
	}
}

func (p *Persister) flush() {
	p.mu.Lock()
	settings := p.pending
	p.pending = nil
	p.mu.Unlock()
	if settings == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.saveTimeout)
	defer cancel()
	if err := p.store.Save(ctx, settings); err != nil {
		p.logger.Error("Failed to save settings", zap.Error(err))
		return
	}

	p.mu.Lock()
	p.saved = settings
	p.mu.Unlock()
	p.logger.Debug("Settings saved")
}

// Close writes any pending settings and stops the background saver
func (p *Persister) Close() {
	p.once.Do(func() {
		close(p.stop)
	})
	<-p.done
}
