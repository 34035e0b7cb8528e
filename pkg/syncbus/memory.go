package syncbus

import (
	"context"
	"errors"
	"sync"
)

// ErrTransportClosed is returned when publishing on a closed transport.
var ErrTransportClosed = errors.New("syncbus: transport closed")

// memberBuffer bounds each member's inbox. Delivery is best-effort: a
// slow member drops messages rather than blocking the publisher.
const memberBuffer = 16

// MemoryHub is the in-process broadcast primitive. Every transport
// attached to the hub receives what any other member publishes, but not
// its own publishes. It models a same-origin broadcast channel for
// contexts living in one process.
type MemoryHub struct {
	mu      sync.Mutex
	members map[int]*memoryTransport
	nextID  int
	closed  bool
	dropped int
}

// NewMemoryHub creates an empty hub.
func NewMemoryHub() *MemoryHub {
	return &MemoryHub{members: make(map[int]*memoryTransport)}
}

// Transport attaches a new member to the hub.
func (h *MemoryHub) Transport() (Transport, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, ErrTransportClosed
	}

	t := &memoryTransport{
		hub: h,
		id:  h.nextID,
		ch:  make(chan []byte, memberBuffer),
	}
	h.nextID++
	h.members[t.id] = t
	return t, nil
}

// Factory returns a TransportFactory attaching to this hub.
func (h *MemoryHub) Factory() TransportFactory {
	return func() (Transport, error) { return h.Transport() }
}

// Dropped returns how many messages were discarded because a member's
// buffer was full. This is for monitoring/testing purposes.
func (h *MemoryHub) Dropped() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dropped
}

// Close detaches every member.
func (h *MemoryHub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil
	}
	h.closed = true
	for _, m := range h.members {
		m.markClosed()
	}
	h.members = nil
	return nil
}

func (h *MemoryHub) broadcast(from int, payload []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return ErrTransportClosed
	}

	for id, m := range h.members {
		if id == from {
			continue
		}
		m.mu.Lock()
		if !m.closed {
			select {
			case m.ch <- payload:
			default:
				h.dropped++
			}
		}
		m.mu.Unlock()
	}
	return nil
}

func (h *MemoryHub) detach(id int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.members, id)
}

type memoryTransport struct {
	hub    *MemoryHub
	id     int
	ch     chan []byte
	closed bool
	mu     sync.Mutex
}

func (t *memoryTransport) Publish(ctx context.Context, payload []byte) error {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return ErrTransportClosed
	}

	// Copy so a caller reusing its buffer cannot corrupt in-flight messages.
	dup := make([]byte, len(payload))
	copy(dup, payload)
	return t.hub.broadcast(t.id, dup)
}

func (t *memoryTransport) Messages() <-chan []byte {
	return t.ch
}

func (t *memoryTransport) Close() error {
	t.markClosed()
	t.hub.detach(t.id)
	return nil
}

func (t *memoryTransport) markClosed() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.closed = true
	close(t.ch)
}
