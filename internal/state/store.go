// Package state holds the authoritative settings and live state. All
// transitions go through a single actor goroutine which runs the reducer,
// reconciles the result and notifies subscribers synchronously before the
// next action is taken.
package state

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/sirosfoundation/go-interpreter-relay/internal/domain"
)

// Subscriber is called after every dispatch with the reconciled snapshot.
// The context identifies the store actor: passing it back to Dispatch
// applies the action inline instead of queueing it (which would deadlock).
type Subscriber func(ctx context.Context, s State)

type actorKey struct{}

type request struct {
	ctx    context.Context
	action Action
	reply  chan State
}

type subscription struct {
	id int
	fn Subscriber
}

// Store is the single owner of State
type Store struct {
	logger  *zap.Logger
	reducer *Reducer
	current atomic.Pointer[State]

	subMu       sync.Mutex
	subscribers []subscription
	nextSubID   int

	requests  chan request
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewStore creates a store seeded with settings and starts its actor.
// A nil reducer uses NewReducer with default settings generation.
func NewStore(settings *domain.Settings, reducer *Reducer, logger *zap.Logger) *Store {
	if reducer == nil {
		reducer = NewReducer(logger, nil)
	}
	if settings == nil {
		settings = reducer.defaults()
	}
	s := &Store{
		logger:   logger.Named("store"),
		reducer:  reducer,
		requests: make(chan request),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	initial := Reconcile(State{
		Settings: settings.Clone(),
		Live:     domain.NewLiveState(),
	})
	s.current.Store(&initial)

	go s.run()
	return s
}

// State returns the latest snapshot
func (s *Store) State() State {
	return *s.current.Load()
}

// Dispatch applies an action and returns the reconciled snapshot it
// produced. Subscribers have been notified by the time it returns. After
// Close, Dispatch is a no-op returning the latest snapshot.
func (s *Store) Dispatch(ctx context.Context, action Action) State {
	if ctx == nil {
		ctx = context.Background()
	}
	if ctx.Value(actorKey{}) == s {
		return s.apply(ctx, action)
	}

	req := request{ctx: ctx, action: action, reply: make(chan State, 1)}
	select {
	case s.requests <- req:
	case <-s.quit:
		return s.State()
	}
	select {
	case st := <-req.reply:
		return st
	case <-s.done:
		return s.State()
	}
}

// Subscribe registers fn. Subscribers run in registration order. The
// returned function removes the subscription.
func (s *Store) Subscribe(fn Subscriber) func() {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	id := s.nextSubID
	s.nextSubID++
	s.subscribers = append(s.subscribers, subscription{id: id, fn: fn})

	return func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		for i, sub := range s.subscribers {
			if sub.id == id {
				s.subscribers = append(s.subscribers[:i:i], s.subscribers[i+1:]...)
				return
			}
		}
	}
}

// Close stops the actor. Pending dispatches return the latest snapshot.
func (s *Store) Close() {
	s.closeOnce.Do(func() {
		close(s.quit)
	})
	<-s.done
}

func (s *Store) run() {
	defer close(s.done)
	for {
		select {
		case req := <-s.requests:
			ctx := context.WithValue(context.WithoutCancel(req.ctx), actorKey{}, s)
			req.reply <- s.apply(ctx, req.action)
		case <-s.quit:
			return
		}
	}
}

// apply must only run on the actor goroutine
func (s *Store) apply(ctx context.Context, action Action) State {
	prev := s.current.Load()
	next := s.reducer.Apply(*prev, action)
	next.Version = prev.Version + 1
	s.current.Store(&next)

	s.logger.Debug("Action applied",
		zap.String("type", string(action.Type())),
		zap.Uint64("version", next.Version),
	)

	s.notify(ctx, next)
	return next
}

func (s *Store) notify(ctx context.Context, st State) {
	s.subMu.Lock()
	subs := make([]subscription, len(s.subscribers))
	copy(subs, s.subscribers)
	s.subMu.Unlock()

	for _, sub := range subs {
		s.call(ctx, sub, st)
	}
}

func (s *Store) call(ctx context.Context, sub subscription, st State) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Subscriber panicked",
				zap.Int("subscriber", sub.id),
				zap.Any("panic", r),
			)
		}
	}()
	sub.fn(ctx, st)
}
