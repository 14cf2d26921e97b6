// Package registry owns the live connection handles. Other components refer
// to connections only by socket id; the registry is the one place that maps
// an id to something that can be written to or closed.
package registry

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/sirosfoundation/go-interpreter-relay/internal/state"
)

// CloseNormal is the close code used when the janitor drops a connection
const CloseNormal = 1000

var (
	// ErrNotReferenced is returned when a handle is offered for an id the
	// live state does not (or no longer) reference.
	ErrNotReferenced = errors.New("socket not referenced by live state")
	// ErrDuplicate is returned when the id is already registered
	ErrDuplicate = errors.New("socket already registered")
)

// Handle is a live connection. Close must not block.
type Handle interface {
	ID() string
	Send(msg []byte) error
	Close(code int, reason string)
}

// StateSource provides the latest store snapshot
type StateSource interface {
	State() state.State
}

// Registry maps socket ids to handles
type Registry struct {
	mu          sync.Mutex
	handles     map[string]Handle
	source      StateSource
	lastVersion uint64
	logger      *zap.Logger
}

// New creates an empty registry that admits handles against source
func New(source StateSource, logger *zap.Logger) *Registry {
	return &Registry{
		handles: make(map[string]Handle),
		source:  source,
		logger:  logger.Named("registry"),
	}
}

// Register admits h if its id is referenced by the current live state.
// Relay code dispatches the ADD action first and registers afterwards, so a
// concurrent sweep can never miss a handle that should be closed.
func (r *Registry) Register(h Handle) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.handles[h.ID()]; ok {
		return ErrDuplicate
	}
	if _, ok := Referenced(r.source.State())[h.ID()]; !ok {
		return ErrNotReferenced
	}
	r.handles[h.ID()] = h
	return nil
}

// Lookup returns the handle registered under id
func (r *Registry) Lookup(id string) (Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handles[id]
	return h, ok
}

// Remove drops id from the registry without closing it. It reports whether
// the id was present.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.handles[id]
	delete(r.handles, id)
	return ok
}

// Len returns the number of registered handles
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handles)
}

// Sweep closes and removes every handle not referenced by s. It is meant to
// be subscribed to the store. Snapshots older than one already swept are
// ignored.
func (r *Registry) Sweep(_ context.Context, s state.State) {
	referenced := Referenced(s)

	r.mu.Lock()
	if s.Version < r.lastVersion {
		r.mu.Unlock()
		return
	}
	r.lastVersion = s.Version

	var orphans []Handle
	for id, h := range r.handles {
		if _, ok := referenced[id]; !ok {
			orphans = append(orphans, h)
			delete(r.handles, id)
		}
	}
	r.mu.Unlock()

	for _, h := range orphans {
		r.logger.Info("Closing unreferenced socket", zap.String("socket_id", h.ID()))
		h.Close(CloseNormal, "")
	}
}

// Referenced returns every socket id the live state of s refers to
func Referenced(s state.State) map[string]struct{} {
	return s.Live.SocketIDs()
}
