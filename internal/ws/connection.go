package ws

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// Connection represents a single WebSocket client connection bound to one
// user and one group, with a write mutex for serializing outbound frames.
type Connection struct {
	ID       string // connection ID (UUID)
	UserID   int64
	Username string
	GroupID  int64

	Conn         net.Conn
	CreatedAt    time.Time
	WriteTimeout time.Duration // zero disables write deadlines

	// lastActive is unix nanos of the most recent read, written by the read
	// loop and polled by the heartbeat goroutine.
	lastActive atomic.Int64

	writeMu sync.Mutex
}

// Touch records read activity. The heartbeat uses it to tell live
// connections from stale ones.
func (c *Connection) Touch() {
	c.lastActive.Store(time.Now().UnixNano())
}

// LastActive returns the time of the most recent read on this connection.
func (c *Connection) LastActive() time.Time {
	return time.Unix(0, c.lastActive.Load())
}

// WriteMessage sends a WebSocket text frame to this connection. The write
// mutex ensures that concurrent goroutines do not interleave frame bytes.
func (c *Connection) WriteMessage(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.setWriteDeadline()
	return wsutil.WriteServerMessage(c.Conn, ws.OpText, data)
}

// WritePing sends a WebSocket protocol-level ping frame (opcode 0x9).
func (c *Connection) WritePing() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.setWriteDeadline()
	return ws.WriteFrame(c.Conn, ws.NewPingFrame(nil))
}

// WritePong answers a client ping, echoing its payload per RFC 6455.
func (c *Connection) WritePong(payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.setWriteDeadline()
	return ws.WriteFrame(c.Conn, ws.NewPongFrame(payload))
}

func (c *Connection) setWriteDeadline() {
	if c.WriteTimeout > 0 {
		_ = c.Conn.SetWriteDeadline(time.Now().Add(c.WriteTimeout))
	}
}

// Close closes the underlying network connection.
func (c *Connection) Close() error {
	return c.Conn.Close()
}

// ConnectionManager is a thread-safe registry of active connections, with a
// secondary index by group for fan-out.
type ConnectionManager struct {
	mu      sync.RWMutex
	byID    map[string]*Connection
	byGroup map[int64]map[string]*Connection
}

// NewConnectionManager creates an empty ConnectionManager ready for use.
func NewConnectionManager() *ConnectionManager {
	return &ConnectionManager{
		byID:    make(map[string]*Connection),
		byGroup: make(map[int64]map[string]*Connection),
	}
}

// Add registers a connection. It returns the number of connections now in
// the connection's group.
func (cm *ConnectionManager) Add(conn *Connection) int {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	cm.byID[conn.ID] = conn
	groupConns, ok := cm.byGroup[conn.GroupID]
	if !ok {
		groupConns = make(map[string]*Connection)
		cm.byGroup[conn.GroupID] = groupConns
	}
	groupConns[conn.ID] = conn
	return len(groupConns)
}

// Remove removes a connection by ID and closes it. It returns the removed
// connection (nil if already gone) and the number of connections remaining
// in its group.
func (cm *ConnectionManager) Remove(id string) (*Connection, int) {
	cm.mu.Lock()
	conn, ok := cm.byID[id]
	remaining := 0
	if ok {
		delete(cm.byID, id)
		if groupConns, gok := cm.byGroup[conn.GroupID]; gok {
			delete(groupConns, id)
			remaining = len(groupConns)
			if remaining == 0 {
				delete(cm.byGroup, conn.GroupID)
			}
		}
	}
	cm.mu.Unlock()

	if !ok {
		return nil, 0
	}
	conn.Close()
	return conn, remaining
}

// Get returns the connection for the given ID, or nil if not found.
func (cm *ConnectionManager) Get(id string) *Connection {
	cm.mu.RLock()
	conn := cm.byID[id]
	cm.mu.RUnlock()
	return conn
}

// Count returns the current number of active connections.
func (cm *ConnectionManager) Count() int {
	cm.mu.RLock()
	n := len(cm.byID)
	cm.mu.RUnlock()
	return n
}

// Group returns a snapshot of the connections in a group.
func (cm *ConnectionManager) Group(groupID int64) []*Connection {
	cm.mu.RLock()
	groupConns := cm.byGroup[groupID]
	conns := make([]*Connection, 0, len(groupConns))
	for _, conn := range groupConns {
		conns = append(conns, conn)
	}
	cm.mu.RUnlock()
	return conns
}

// BroadcastGroup sends a message to every connection in a group. Errors on
// individual connections are ignored; failed connections are cleaned up when
// their read loop exits.
func (cm *ConnectionManager) BroadcastGroup(groupID int64, data []byte) {
	for _, conn := range cm.Group(groupID) {
		_ = conn.WriteMessage(data)
	}
}

// All returns a snapshot of all current connections.
func (cm *ConnectionManager) All() []*Connection {
	cm.mu.RLock()
	conns := make([]*Connection, 0, len(cm.byID))
	for _, conn := range cm.byID {
		conns = append(conns, conn)
	}
	cm.mu.RUnlock()
	return conns
}
