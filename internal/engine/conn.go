package engine

import (
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
)

// Conn is a connection owned by a Manager: a listener, an accepted HTTP
// connection, or an upgraded WebSocket. Identifiers are assigned at creation
// and never reused within a process.
type Conn struct {
	id  uint64
	mgr *Manager
	fn  Handler

	listening bool
	accepted  bool
	tls       bool
	local     net.Addr
	remote    net.Addr

	closing   atomic.Bool
	released  atomic.Bool
	websocket atomic.Bool
	hexdump   atomic.Bool

	mu       sync.Mutex
	closer   func() error
	closed   bool
	tlsCfg   *tls.Config
	tlsState *tls.ConnectionState
	pending  *pendingReply
	ws       *wsConn
}

// ID returns the connection identifier.
func (c *Conn) ID() uint64 { return c.id }

func (c *Conn) IsListening() bool { return c.listening }
func (c *Conn) IsAccepted() bool  { return c.accepted }
func (c *Conn) IsTLS() bool       { return c.tls }
func (c *Conn) IsWebSocket() bool { return c.websocket.Load() }
func (c *Conn) IsClosing() bool   { return c.closing.Load() }

// LocalAddr returns the local address, or "" if unknown.
func (c *Conn) LocalAddr() string {
	if c.local == nil {
		return ""
	}
	return c.local.String()
}

// RemoteAddr returns the peer address. Listeners have none.
func (c *Conn) RemoteAddr() string {
	if c.remote == nil {
		return ""
	}
	return c.remote.String()
}

// SetHexdump enables debug hex dumps of the payloads on this connection.
func (c *Conn) SetHexdump(on bool) { c.hexdump.Store(on) }

// SetClosing marks the connection for closing and shuts its transport down
// immediately. Buffered outbound data is discarded. EvClose follows on a
// later Poll.
func (c *Conn) SetClosing() {
	if !c.closing.CompareAndSwap(false, true) {
		return
	}
	c.closeTransport()
}

func (c *Conn) String() string {
	role := "http"
	switch {
	case c.listening:
		role = "listener"
	case c.IsWebSocket():
		role = "websocket"
	}
	return fmt.Sprintf("conn#%d(%s)", c.id, role)
}

func (c *Conn) setCloser(fn func() error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closer = fn
	if c.closed && fn != nil {
		_ = fn()
	}
}

func (c *Conn) closeTransport() {
	c.mu.Lock()
	closer := c.closer
	already := c.closed
	c.closed = true
	c.mu.Unlock()

	if !already && closer != nil {
		_ = closer()
	}
}

func (c *Conn) tlsConfig() *tls.Config {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tlsCfg
}
