// Package state holds the single source of truth for "who is signed in"
// within one browsing context.
//
// The Store is a small finite state machine (anonymous, authenticating,
// authenticated, error). Every mutation funnels through one internal entry
// point, so no subscriber can ever observe IsAuthenticated disagreeing
// with the user/session pair, and LastUpdated is strictly monotonic within
// one store.
package state

import (
	"log/slog"
	"sync"
	"time"

	"github.com/authrelay/authrelay/pkg/identity"
)

// Status is the store's FSM state.
type Status int

const (
	StatusAnonymous Status = iota
	StatusAuthenticating
	StatusAuthenticated
	StatusError
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusAnonymous:
		return "anonymous"
	case StatusAuthenticating:
		return "authenticating"
	case StatusAuthenticated:
		return "authenticated"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// State is one observable snapshot of the store.
//
// Invariant: IsAuthenticated == (User != nil && Session != nil), always
// computed by the store, never accepted from a caller.
type State struct {
	Status          Status            `json:"status"`
	User            *identity.User    `json:"user"`
	Session         *identity.Session `json:"session"`
	IsAuthenticated bool              `json:"is_authenticated"`
	IsLoading       bool              `json:"is_loading"`
	Err             string            `json:"error,omitempty"`

	// LastUpdated is a unix-millisecond timestamp, strictly increasing
	// within one store. Cross-context conflicts resolve by comparing it
	// (last write wins).
	LastUpdated int64 `json:"last_updated"`
}

// Persister mirrors the current state to a durable per-origin store so a
// reload can start from the last known state. Failures must be tolerable:
// the store logs and continues.
type Persister interface {
	Save(state State) error
	Load() (State, bool, error)
}

type subscriber struct {
	id int
	fn func(State)
}

// Store is the single-writer auth state container.
type Store struct {
	mu    sync.Mutex // serializes all mutations and notification
	state State

	subMu   sync.Mutex // guards the subscriber list only
	subs    []subscriber
	nextSub int

	clock     func() int64
	persister Persister
	logger    *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithSnapshot seeds the store from a server-provided hydration snapshot,
// avoiding an initial unauthenticated flash.
func WithSnapshot(snap *Snapshot) Option {
	return func(s *Store) {
		if snap == nil || snap.User == nil || snap.Session == nil {
			return
		}
		s.state = State{
			Status:          StatusAuthenticated,
			User:            snap.User,
			Session:         snap.Session,
			IsAuthenticated: true,
			LastUpdated:     s.clock(),
		}
	}
}

// WithPersister mirrors state transitions to a durable store. Load
// failures at construction are logged and ignored.
func WithPersister(p Persister) Option {
	return func(s *Store) {
		s.persister = p
	}
}

// WithClock overrides the timestamp source. For tests.
func WithClock(clock func() int64) Option {
	return func(s *Store) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithLogger sets the logger for persistence diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New creates a store in the anonymous state, unless a snapshot or a
// persisted state supplies an initial one.
func New(opts ...Option) *Store {
	s := &Store{
		clock:  func() int64 { return time.Now().UnixMilli() },
		logger: slog.Default(),
	}
	s.state = State{Status: StatusAnonymous}
	for _, opt := range opts {
		opt(s)
	}

	// A persisted state only fills in when no snapshot did.
	if s.persister != nil && s.state.LastUpdated == 0 {
		persisted, ok, err := s.persister.Load()
		switch {
		case err != nil:
			s.logger.Warn("auth state persistence load failed, starting anonymous", "error", err.Error())
		case ok:
			persisted.IsAuthenticated = persisted.User != nil && persisted.Session != nil
			s.state = persisted
		}
	}
	return s
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Status returns the current FSM state.
func (s *Store) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Status
}

// Subscribe registers a callback receiving the full new state on every
// transition. Notification is synchronous and ordered by subscription
// order within one context. Subscribe and the returned unsubscribe are
// safe to call from inside a notification.
func (s *Store) Subscribe(fn func(State)) (unsubscribe func()) {
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs = append(s.subs, subscriber{id: id, fn: fn})
	s.subMu.Unlock()

	return func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		for i, sub := range s.subs {
			if sub.id == id {
				s.subs = append(s.subs[:i], s.subs[i+1:]...)
				return
			}
		}
	}
}

// BeginAuth marks a sign-in/sign-up operation as in flight
// (anonymous|error|authenticated -> authenticating). User and session are
// left untouched until the operation settles.
func (s *Store) BeginAuth() State {
	return s.mutate(func(st *State) {
		st.Status = StatusAuthenticating
		st.IsLoading = true
		st.Err = ""
	})
}

// SetAuthData records a successful authentication: atomically sets user
// and session, clears loading and error, and stamps LastUpdated.
//
// A partial pair (either side nil) is treated as unauthenticated: both are
// nulled together rather than publishing a half result.
func (s *Store) SetAuthData(user *identity.User, session *identity.Session) State {
	return s.mutate(func(st *State) {
		if user == nil || session == nil {
			st.Status = StatusAnonymous
			st.User = nil
			st.Session = nil
		} else {
			st.Status = StatusAuthenticated
			st.User = user
			st.Session = session
		}
		st.IsLoading = false
		st.Err = ""
	})
}

// SetError records a failed operation. It does not clear user or session:
// a transient refresh failure must not sign the user out locally. Only an
// explicit sign-out or an authoritative unauthenticated response does.
func (s *Store) SetError(err error) State {
	return s.mutate(func(st *State) {
		st.Status = StatusError
		st.IsLoading = false
		if err != nil {
			st.Err = err.Error()
		} else {
			st.Err = "unknown error"
		}
	})
}

// Clear records an explicit sign-out (authenticated -> anonymous).
func (s *Store) Clear() State {
	return s.mutate(func(st *State) {
		st.Status = StatusAnonymous
		st.User = nil
		st.Session = nil
		st.IsLoading = false
		st.Err = ""
	})
}

// ApplyIfNewer adopts a foreign state if and only if its LastUpdated is
// strictly newer than the local one. This is the last-write-wins rule that
// makes cross-context delivery order irrelevant. Returns the applied state
// and whether it was applied.
func (s *Store) ApplyIfNewer(foreign State) (State, bool) {
	s.mu.Lock()
	if foreign.LastUpdated <= s.state.LastUpdated {
		st := s.state
		s.mu.Unlock()
		return st, false
	}

	// Recompute rather than trust the wire.
	foreign.IsAuthenticated = foreign.User != nil && foreign.Session != nil
	if !foreign.IsAuthenticated {
		foreign.User = nil
		foreign.Session = nil
	}
	s.state = foreign
	s.persist(foreign)
	s.notifyLocked(foreign)
	s.mu.Unlock()
	return foreign, true
}

// mutate is the single mutation entry point. It recomputes the derived
// fields, advances the monotonic timestamp, persists, and notifies, all
// while holding the writer lock, so observers see transitions in order.
func (s *Store) mutate(apply func(*State)) State {
	s.mu.Lock()
	st := s.state
	apply(&st)

	st.IsAuthenticated = st.User != nil && st.Session != nil

	now := s.clock()
	if now <= st.LastUpdated {
		now = st.LastUpdated + 1
	}
	st.LastUpdated = now

	s.state = st
	s.persist(st)
	s.notifyLocked(st)
	s.mu.Unlock()
	return st
}

// notifyLocked calls subscribers synchronously, in subscription order,
// over a copy of the list so Subscribe/unsubscribe during notification
// cannot invalidate the iteration.
func (s *Store) notifyLocked(st State) {
	s.subMu.Lock()
	subs := make([]subscriber, len(s.subs))
	copy(subs, s.subs)
	s.subMu.Unlock()

	for _, sub := range subs {
		sub.fn(st)
	}
}

// persist mirrors the state if a persister is configured. Failures are
// logged and never propagated: persistence is an optimization, not a
// dependency.
func (s *Store) persist(st State) {
	if s.persister == nil {
		return
	}
	if err := s.persister.Save(st); err != nil {
		s.logger.Warn("auth state persistence save failed", "error", err.Error())
	}
}
