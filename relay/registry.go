// Package relay implements the WebSocket relay server: it accepts client
// connections, tracks them in a registry, answers the subscribe/ping control
// protocol and fans validation events out to every open connection.
package relay

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nairamint/nexus-core/envelope"
	"github.com/nairamint/nexus-core/errors"
)

// Connection lifecycle states
const (
	StateConnecting int32 = iota
	StateOpen
	StateClosed
)

// Connection is one WebSocket peer tracked by the registry. The relay is the
// single writer of lifecycle state; readers may see a connection a moment
// after it closed, which send paths tolerate.
type Connection struct {
	ID          string
	ConnectedAt time.Time

	conn  *websocket.Conn
	state atomic.Int32

	userID atomic.Value // string

	subsMu        sync.RWMutex
	subscriptions map[string]struct{}

	writeMu   sync.Mutex
	closeOnce sync.Once

	lastPong atomic.Value // time.Time

	writeTimeout time.Duration
}

// newConnection wraps an upgraded WebSocket connection
func newConnection(conn *websocket.Conn, writeTimeout time.Duration) *Connection {
	c := &Connection{
		ID:            NewConnectionID(),
		ConnectedAt:   time.Now(),
		conn:          conn,
		subscriptions: make(map[string]struct{}),
		writeTimeout:  writeTimeout,
	}
	c.userID.Store("")
	c.lastPong.Store(time.Now())
	return c
}

// NewConnectionID generates a relay connection id
func NewConnectionID() string {
	return fmt.Sprintf("conn_%d_%s", time.Now().UnixMilli(), uuid.NewString()[:8])
}

// State returns the current lifecycle state
func (c *Connection) State() int32 {
	return c.state.Load()
}

// IsOpen reports whether the connection accepts sends
func (c *Connection) IsOpen() bool {
	return c.state.Load() == StateOpen
}

// UserID returns the user associated via subscribe, or empty
func (c *Connection) UserID() string {
	return c.userID.Load().(string)
}

// SetUserID associates the connection with a user for targeted delivery
func (c *Connection) SetUserID(userID string) {
	c.userID.Store(userID)
}

// Subscribe adds event types to the connection's subscription set
func (c *Connection) Subscribe(types []string) {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	for _, t := range types {
		c.subscriptions[t] = struct{}{}
	}
}

// Unsubscribe removes event types from the subscription set. Unknown types
// are ignored.
func (c *Connection) Unsubscribe(types []string) {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	for _, t := range types {
		delete(c.subscriptions, t)
	}
}

// Subscriptions returns the current subscription set as a sorted-free copy
func (c *Connection) Subscriptions() []string {
	c.subsMu.RLock()
	defer c.subsMu.RUnlock()
	types := make([]string, 0, len(c.subscriptions))
	for t := range c.subscriptions {
		types = append(types, t)
	}
	return types
}

// Send encodes the envelope and writes it to the peer. Writes are serialized
// per connection; gorilla connections do not allow concurrent writers.
func (c *Connection) Send(env envelope.Envelope) error {
	data, err := env.Encode()
	if err != nil {
		return err
	}
	return c.SendRaw(data)
}

// SendRaw writes pre-encoded bytes to the peer
func (c *Connection) SendRaw(data []byte) error {
	if !c.IsOpen() {
		return errors.WrapTransient(errors.ErrConnectionClosed, "Connection", "SendRaw", "send to "+c.ID)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return errors.WrapTransient(err, "Connection", "SendRaw", "send to "+c.ID)
	}
	return nil
}

// Ping sends a protocol-level ping frame
func (c *Connection) Ping() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return c.conn.WriteMessage(websocket.PingMessage, nil)
}

// Close transitions the connection to closed and releases the socket. Safe
// to call more than once.
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		c.state.Store(StateClosed)
		_ = c.conn.Close()
	})
}

// markOpen transitions from connecting to open
func (c *Connection) markOpen() {
	c.state.CompareAndSwap(StateConnecting, StateOpen)
}

// Registry tracks open connections. The relay server is its only writer;
// broadcast paths read snapshots so iteration is stable under concurrent
// removal.
type Registry struct {
	mu          sync.RWMutex
	connections map[string]*Connection
}

// NewRegistry creates an empty connection registry
func NewRegistry() *Registry {
	return &Registry{connections: make(map[string]*Connection)}
}

// Register adds a connection under its id
func (r *Registry) Register(conn *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connections[conn.ID] = conn
}

// Unregister removes a connection by id. Removing an unknown id is a no-op.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.connections, id)
}

// Get returns the connection with the given id
func (r *Registry) Get(id string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.connections[id]
	return conn, ok
}

// Snapshot returns a copy of the current connection set. Callers iterate the
// snapshot freely while the registry keeps mutating.
func (r *Registry) Snapshot() []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conns := make([]*Connection, 0, len(r.connections))
	for _, conn := range r.connections {
		conns = append(conns, conn)
	}
	return conns
}

// ByUser returns all connections associated with a user id
func (r *Registry) ByUser(userID string) []*Connection {
	if userID == "" {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	var conns []*Connection
	for _, conn := range r.connections {
		if conn.UserID() == userID {
			conns = append(conns, conn)
		}
	}
	return conns
}

// Count returns the number of tracked connections
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.connections)
}
