package syncbus

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"
)

// WebSocketTransport carries sync payloads over a websocket relay,
// letting contexts in different processes converge. The first dial
// happens in the constructor so a down relay surfaces immediately and
// the bus can fall through to its next transport; later disconnects
// reconnect in the background with exponential backoff.
type WebSocketTransport struct {
	url    string
	header http.Header
	dialer *websocket.Dialer
	logger *slog.Logger

	maxElapsed time.Duration

	writeMu sync.Mutex
	conn    *websocket.Conn

	msgs   chan []byte
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.Mutex
	closed bool
}

// WebSocketOption configures a WebSocketTransport.
type WebSocketOption func(*WebSocketTransport)

// WithDialer replaces the default websocket dialer.
func WithDialer(d *websocket.Dialer) WebSocketOption {
	return func(t *WebSocketTransport) {
		if d != nil {
			t.dialer = d
		}
	}
}

// WithHeader adds headers to the dial request, e.g. cookies so the relay
// can authenticate the connection.
func WithHeader(h http.Header) WebSocketOption {
	return func(t *WebSocketTransport) {
		t.header = h
	}
}

// WithWebSocketLogger sets the logger for connection diagnostics.
func WithWebSocketLogger(logger *slog.Logger) WebSocketOption {
	return func(t *WebSocketTransport) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// WithReconnectWindow bounds how long a reconnect attempt keeps backing
// off before the transport gives up and closes. Zero means retry forever.
func WithReconnectWindow(d time.Duration) WebSocketOption {
	return func(t *WebSocketTransport) {
		t.maxElapsed = d
	}
}

// NewWebSocketTransport dials the relay at url. A failed initial dial
// returns the error instead of retrying, so callers can degrade to a
// fallback transport.
func NewWebSocketTransport(url string, opts ...WebSocketOption) (*WebSocketTransport, error) {
	ctx, cancel := context.WithCancel(context.Background())
	t := &WebSocketTransport{
		url:    url,
		dialer: websocket.DefaultDialer,
		logger: slog.Default(),
		msgs:   make(chan []byte, memberBuffer),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}

	conn, _, err := t.dialer.DialContext(ctx, url, t.header)
	if err != nil {
		cancel()
		return nil, err
	}
	t.conn = conn

	go t.readLoop()
	return t, nil
}

// Publish sends the payload to the relay, which rebroadcasts it to every
// other connected context.
func (t *WebSocketTransport) Publish(ctx context.Context, payload []byte) error {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return ErrTransportClosed
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if t.conn == nil {
		return ErrTransportClosed
	}
	return t.conn.WriteMessage(websocket.TextMessage, payload)
}

// Messages delivers payloads relayed from other contexts. The channel
// closes when the transport shuts down for good.
func (t *WebSocketTransport) Messages() <-chan []byte {
	return t.msgs
}

// Close tears down the connection and stops reconnecting.
func (t *WebSocketTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	t.cancel()
	t.writeMu.Lock()
	if t.conn != nil {
		t.conn.Close()
	}
	t.writeMu.Unlock()
	<-t.done
	return nil
}

func (t *WebSocketTransport) readLoop() {
	defer close(t.done)
	defer close(t.msgs)

	for {
		_, data, err := t.conn.ReadMessage()
		if err != nil {
			if t.ctx.Err() != nil {
				return
			}
			t.logger.Warn("sync websocket read failed, reconnecting", "error", err.Error())
			if !t.reconnect() {
				return
			}
			continue
		}
		select {
		case t.msgs <- data:
		default:
			// A stalled consumer misses updates; last-write-wins
			// convergence absorbs the gap.
		}
	}
}

// reconnect redials with exponential backoff. Returns false when the
// transport was closed or the reconnect window elapsed.
func (t *WebSocketTransport) reconnect() bool {
	dial := func() (*websocket.Conn, error) {
		conn, _, err := t.dialer.DialContext(t.ctx, t.url, t.header)
		return conn, err
	}

	opts := []backoff.RetryOption{
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
	}
	if t.maxElapsed > 0 {
		opts = append(opts, backoff.WithMaxElapsedTime(t.maxElapsed))
	}

	conn, err := backoff.Retry(t.ctx, dial, opts...)
	if err != nil {
		if t.ctx.Err() == nil {
			t.logger.Warn("sync websocket reconnect gave up", "error", err.Error())
		}
		return false
	}

	t.writeMu.Lock()
	t.conn = conn
	t.writeMu.Unlock()
	t.logger.Debug("sync websocket reconnected", "url", t.url)
	return true
}
