// Package syncbus propagates auth state transitions between browsing
// contexts: islands within one context, and same-origin contexts in
// other tabs or processes.
//
// Delivery is best-effort and unordered; convergence comes from the
// receiving store's last-write-wins timestamp comparison, never from
// arrival order. A context whose transports all fail to construct keeps
// working in local-only mode.
package syncbus

import "context"

// Transport moves opaque payloads between same-origin contexts.
// Implementations must be safe for concurrent use.
type Transport interface {
	// Publish sends a payload to every other context on this transport.
	// The sender does not receive its own payloads back on Messages
	// (loopback suppression also happens at the bus via origin tags).
	Publish(ctx context.Context, payload []byte) error

	// Messages delivers foreign payloads. The channel closes when the
	// transport closes.
	Messages() <-chan []byte

	// Close releases the transport.
	Close() error
}

// TransportFactory constructs a transport. A factory returning an error
// makes the bus fall through to the next one; this is how the preferred
// broadcast primitive degrades to the storage fallback, and the fallback
// to local-only.
type TransportFactory func() (Transport, error)
