package syncbus

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/authrelay/authrelay/pkg/state"
)

// Message types carried on the bus.
const (
	TypeSignIn  = "signin"
	TypeSignOut = "signout"
	TypeState   = "state"
)

// Results reported to the bus observer, one per handled message.
const (
	ResultApplied  = "applied"
	ResultStale    = "stale"
	ResultLoopback = "loopback"
	ResultInvalid  = "invalid"
)

// Message is the wire envelope for one auth state transition.
type Message struct {
	// Type names the transition kind. Receivers treat it as advisory:
	// the payload timestamp decides whether anything is applied.
	Type string `json:"type"`

	// Origin identifies the publishing bus. A receiver drops messages
	// carrying its own origin, so a transport that echoes publishes back
	// cannot loop.
	Origin string `json:"origin"`

	Payload state.State `json:"payload"`
}

// Observer is called with the disposition of each received message.
type Observer func(result string)

// Bus connects one context's auth store to its same-origin peers.
//
// On construction it walks its transport factories in order and uses the
// first one that succeeds; when all fail it runs local-only, where the
// store keeps working and nothing is published. Local transitions are
// published to peers; foreign transitions are applied through the
// store's last-write-wins rule, so delivery order never matters.
type Bus struct {
	store     *state.Store
	origin    string
	factories []TransportFactory
	logger    *slog.Logger
	observe   Observer

	transport Transport

	// lastRemote is the timestamp of the most recently applied foreign
	// state. The store notification it triggers is recognized by this
	// timestamp and not published again.
	lastRemote atomic.Int64

	unsubscribe func()
	done        chan struct{}

	mu     sync.Mutex
	closed bool
}

// BusOption configures a Bus.
type BusOption func(*Bus)

// WithTransports sets the transport preference order.
func WithTransports(factories ...TransportFactory) BusOption {
	return func(b *Bus) {
		b.factories = factories
	}
}

// WithBusLogger sets the logger.
func WithBusLogger(logger *slog.Logger) BusOption {
	return func(b *Bus) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithBusObserver registers a hook receiving each message's disposition.
func WithBusObserver(observe Observer) BusOption {
	return func(b *Bus) {
		b.observe = observe
	}
}

// WithOrigin overrides the generated origin tag. For tests.
func WithOrigin(origin string) BusOption {
	return func(b *Bus) {
		if origin != "" {
			b.origin = origin
		}
	}
}

// NewBus attaches a bus to store. It never fails: exhausted transport
// factories degrade to local-only operation.
func NewBus(store *state.Store, opts ...BusOption) *Bus {
	b := &Bus{
		store:  store,
		origin: uuid.NewString(),
		logger: slog.Default(),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}

	for _, factory := range b.factories {
		t, err := factory()
		if err != nil {
			b.logger.Warn("sync transport unavailable, trying next", "error", err.Error())
			continue
		}
		b.transport = t
		break
	}

	if b.transport == nil {
		if len(b.factories) > 0 {
			b.logger.Warn("all sync transports unavailable, running local-only")
		}
		close(b.done)
	} else {
		go b.receiveLoop()
	}

	b.unsubscribe = store.Subscribe(b.publishLocal)
	return b
}

// Origin returns this bus's origin tag.
func (b *Bus) Origin() string {
	return b.origin
}

// Connected reports whether a transport is carrying messages. False
// means local-only operation.
func (b *Bus) Connected() bool {
	return b.transport != nil
}

// Close detaches from the store and releases the transport.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	b.unsubscribe()
	if b.transport != nil {
		b.transport.Close()
	}
	<-b.done
	return nil
}

// publishLocal runs on every store transition. Transitions caused by a
// foreign message are recognized by timestamp and not re-published.
func (b *Bus) publishLocal(st state.State) {
	if b.transport == nil {
		return
	}
	if st.LastUpdated == b.lastRemote.Load() {
		return
	}

	msg := Message{
		Type:    messageType(st),
		Origin:  b.origin,
		Payload: st,
	}
	data, err := json.Marshal(msg)
	if err != nil {
		b.logger.Warn("sync message encode failed", "error", err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := b.transport.Publish(ctx, data); err != nil {
		// Peers miss this transition; the next one carries the full
		// state, so they converge then.
		b.logger.Debug("sync publish failed", "error", err.Error())
	}
}

func (b *Bus) receiveLoop() {
	defer close(b.done)

	for data := range b.transport.Messages() {
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			b.report(ResultInvalid)
			b.logger.Debug("sync message decode failed", "error", err.Error())
			continue
		}
		if msg.Origin == b.origin {
			b.report(ResultLoopback)
			continue
		}

		b.lastRemote.Store(msg.Payload.LastUpdated)
		if _, applied := b.store.ApplyIfNewer(msg.Payload); applied {
			b.report(ResultApplied)
		} else {
			b.report(ResultStale)
		}
	}
}

func (b *Bus) report(result string) {
	if b.observe != nil {
		b.observe(result)
	}
}

func messageType(st state.State) string {
	switch {
	case st.IsAuthenticated:
		return TypeSignIn
	case st.Status == state.StatusAnonymous:
		return TypeSignOut
	default:
		return TypeState
	}
}
