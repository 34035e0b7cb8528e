package syncbus

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// Relay is the server endpoint websocket transports dial. It accepts
// upgrades and rebroadcasts every frame it receives to all other
// connected clients, without inspecting payloads. Loopback and staleness
// filtering happen at the receiving bus.
type Relay struct {
	upgrader websocket.Upgrader
	logger   *slog.Logger

	mu      sync.Mutex
	clients map[int]*relayClient
	nextID  int
	closed  bool
}

type relayClient struct {
	conn *websocket.Conn

	mu     sync.Mutex
	closed bool
}

// RelayOption configures a Relay.
type RelayOption func(*Relay)

// WithCheckOrigin sets the upgrade origin policy. The default accepts
// only same-host origins, per the upgrader's standard behavior.
func WithCheckOrigin(check func(r *http.Request) bool) RelayOption {
	return func(rl *Relay) {
		rl.upgrader.CheckOrigin = check
	}
}

// WithRelayLogger sets the logger for connection diagnostics.
func WithRelayLogger(logger *slog.Logger) RelayOption {
	return func(rl *Relay) {
		if logger != nil {
			rl.logger = logger
		}
	}
}

// NewRelay creates a relay with no clients.
func NewRelay(opts ...RelayOption) *Relay {
	rl := &Relay{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		logger:  slog.Default(),
		clients: make(map[int]*relayClient),
	}
	for _, opt := range opts {
		opt(rl)
	}
	return rl
}

// ServeHTTP upgrades the request and pumps frames until the client
// disconnects.
func (rl *Relay) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := rl.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response.
		rl.logger.Debug("sync relay upgrade rejected", "error", err.Error(), "remote", r.RemoteAddr)
		return
	}

	client := &relayClient{conn: conn}
	rl.mu.Lock()
	if rl.closed {
		rl.mu.Unlock()
		conn.Close()
		return
	}
	id := rl.nextID
	rl.nextID++
	rl.clients[id] = client
	count := len(rl.clients)
	rl.mu.Unlock()

	rl.logger.Debug("sync relay client connected", "remote", r.RemoteAddr, "clients", count)

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		rl.rebroadcast(id, msgType, data)
	}

	rl.mu.Lock()
	delete(rl.clients, id)
	rl.mu.Unlock()
	client.close()
	rl.logger.Debug("sync relay client disconnected", "remote", r.RemoteAddr)
}

// ClientCount returns how many clients are currently connected.
func (rl *Relay) ClientCount() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}

// Close disconnects every client. Subsequent upgrades are refused.
func (rl *Relay) Close() error {
	rl.mu.Lock()
	if rl.closed {
		rl.mu.Unlock()
		return nil
	}
	rl.closed = true
	clients := make([]*relayClient, 0, len(rl.clients))
	for _, c := range rl.clients {
		clients = append(clients, c)
	}
	rl.clients = make(map[int]*relayClient)
	rl.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
	return nil
}

func (rl *Relay) rebroadcast(from int, msgType int, data []byte) {
	rl.mu.Lock()
	targets := make([]*relayClient, 0, len(rl.clients))
	for id, c := range rl.clients {
		if id == from {
			continue
		}
		targets = append(targets, c)
	}
	rl.mu.Unlock()

	for _, c := range targets {
		if err := c.write(msgType, data); err != nil {
			rl.logger.Debug("sync relay write failed", "error", err.Error())
		}
	}
}

func (c *relayClient) write(msgType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrTransportClosed
	}
	return c.conn.WriteMessage(msgType, data)
}

func (c *relayClient) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.conn.Close()
}
