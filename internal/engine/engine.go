package engine

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Event identifies what happened on a connection.
type Event int

const (
	EvError        Event = iota // data: error
	EvOpen                      // data: nil
	EvAccept                    // data: nil; dispatched before the TLS handshake
	EvTLSHandshake              // data: error, nil on success
	EvHTTPMsg                   // data: *HTTPMessage
	EvWSOpen                    // data: *HTTPMessage (the upgrade request)
	EvWSMsg                     // data: *WSMessage
	EvClose                     // data: error, nil on a normal close
)

var eventNames = [...]string{"error", "open", "accept", "tls_handshake", "http_msg", "ws_open", "ws_msg", "close"}

func (e Event) String() string {
	if e < 0 || int(e) >= len(eventNames) {
		return fmt.Sprintf("event(%d)", int(e))
	}
	return eventNames[e]
}

// Handler receives every event for connections created by a listener. It is
// only ever called from the goroutine running Poll (or Free).
type Handler func(c *Conn, ev Event, data any)

var (
	ErrClosed            = errors.New("engine: connection closed")
	ErrManagerClosed     = errors.New("engine: manager closed")
	ErrNotWebSocket      = errors.New("engine: not a websocket connection")
	ErrNotHTTP           = errors.New("engine: not an http connection")
	ErrNoPendingRequest  = errors.New("engine: no request awaiting a reply")
	ErrSendQueueFull     = errors.New("engine: send queue full")
	ErrUnsupportedScheme = errors.New("engine: unsupported scheme")
	ErrNoTLSConfig       = errors.New("engine: no TLS configuration for connection")
)

const (
	eventQueueSize   = 256
	handshakeTimeout = 10 * time.Second
	freeTimeout      = 5 * time.Second
)

// lastID is shared by all managers so identifiers are unique per process.
var lastID atomic.Uint64

type event struct {
	c    *Conn
	ev   Event
	data any
	done chan struct{}
}

type connCtxKey struct{}

// Manager owns a set of connections and the queue of events they produce.
// Network I/O runs on internal goroutines; handlers run only inside Poll.
type Manager struct {
	log *zap.Logger

	events    chan event
	closed    chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	conns   map[uint64]*Conn
	byNet   map[net.Conn]*Conn
	servers []*http.Server

	wg sync.WaitGroup
}

// NewManager creates an idle manager. A nil logger disables engine logging.
func NewManager(log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		log:    log,
		events: make(chan event, eventQueueSize),
		closed: make(chan struct{}),
		conns:  make(map[uint64]*Conn),
		byNet:  make(map[net.Conn]*Conn),
	}
}

// parseAddr splits scheme://host:port into its TLS flag and host:port.
func parseAddr(addr string) (bool, string, error) {
	u, err := url.Parse(addr)
	if err != nil {
		return false, "", fmt.Errorf("invalid address %q: %w", addr, err)
	}
	if u.Host == "" || u.Port() == "" {
		return false, "", fmt.Errorf("invalid address %q: missing host or port", addr)
	}

	switch u.Scheme {
	case "http", "ws":
		return false, u.Host, nil
	case "https", "wss":
		return true, u.Host, nil
	}
	return false, "", fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
}

// Listen binds addr (http://, https://, ws:// or wss://) and returns the
// listening connection. Connections it accepts deliver their events to fn.
func (m *Manager) Listen(addr string, fn Handler) (*Conn, error) {
	if m.isClosed() {
		return nil, ErrManagerClosed
	}

	useTLS, hostport, err := parseAddr(addr)
	if err != nil {
		return nil, err
	}

	ln, err := net.Listen("tcp", hostport)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	c := m.newConn(fn)
	c.listening = true
	c.tls = useTLS
	c.local = ln.Addr()

	cl := &chanListener{
		Listener: ln,
		ready:    make(chan net.Conn),
		done:     make(chan struct{}),
	}
	c.setCloser(cl.Close)

	srv := &http.Server{
		Handler:           http.HandlerFunc(m.serveHTTP),
		ReadHeaderTimeout: 30 * time.Second,
		ErrorLog:          zap.NewStdLog(m.log),
		ConnContext: func(ctx context.Context, nc net.Conn) context.Context {
			return context.WithValue(ctx, connCtxKey{}, m.lookupNet(nc))
		},
		ConnState: func(nc net.Conn, state http.ConnState) {
			if state == http.StateClosed {
				if c := m.lookupNet(nc); c != nil {
					m.release(c, nil)
				}
			}
		},
	}

	m.mu.Lock()
	m.conns[c.id] = c
	m.servers = append(m.servers, srv)
	m.mu.Unlock()

	m.log.Debug("Listener created",
		zap.Uint64("conn_id", c.id),
		zap.String("addr", addr),
		zap.Stringer("local", c.local),
	)
	m.post(c, EvOpen, nil, false)

	m.wg.Add(2)
	go func() {
		defer m.wg.Done()
		m.acceptConnections(c, cl)
	}()
	go func() {
		defer m.wg.Done()
		if err := srv.Serve(cl); err != nil && !errors.Is(err, http.ErrServerClosed) && !errors.Is(err, net.ErrClosed) {
			m.log.Debug("HTTP server stopped", zap.Uint64("conn_id", c.id), zap.Error(err))
		}
	}()

	return c, nil
}

// acceptConnections accepts raw TCP connections and prepares each one on its
// own goroutine so a slow TLS handshake never delays the next accept.
func (m *Manager) acceptConnections(lc *Conn, cl *chanListener) {
	defer m.release(lc, nil)

	for {
		raw, err := cl.Listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || m.isClosed() || lc.IsClosing() {
				return
			}
			m.log.Debug("Failed to accept connection", zap.Error(err))
			time.Sleep(10 * time.Millisecond)
			continue
		}

		c := m.newConn(lc.fn)
		c.accepted = true
		c.tls = lc.tls
		c.local = raw.LocalAddr()
		c.remote = raw.RemoteAddr()
		c.setCloser(raw.Close)

		m.mu.Lock()
		m.conns[c.id] = c
		m.mu.Unlock()

		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			m.prepare(c, raw, cl)
		}()
	}
}

// prepare runs the accept event and, for TLS listeners, the handshake, then
// hands the connection to the HTTP server.
func (m *Manager) prepare(c *Conn, raw net.Conn, cl *chanListener) {
	m.post(c, EvOpen, nil, false)
	if !m.post(c, EvAccept, nil, true) {
		m.release(c, ErrManagerClosed)
		return
	}
	if c.IsClosing() {
		m.release(c, ErrClosed)
		return
	}

	var nc net.Conn = raw
	if c.tls {
		cfg := c.tlsConfig()
		if cfg == nil {
			m.post(c, EvTLSHandshake, ErrNoTLSConfig, false)
			m.release(c, ErrNoTLSConfig)
			return
		}

		tc := tls.Server(raw, cfg)
		c.setCloser(tc.Close)

		_ = tc.SetDeadline(time.Now().Add(handshakeTimeout))
		err := tc.Handshake()
		_ = tc.SetDeadline(time.Time{})
		if err == nil {
			st := tc.ConnectionState()
			c.mu.Lock()
			c.tlsState = &st
			c.mu.Unlock()
		}

		m.post(c, EvTLSHandshake, err, false)
		if err != nil {
			m.log.Debug("TLS handshake failed",
				zap.Uint64("conn_id", c.id),
				zap.Stringer("remote", c.remote),
				zap.Error(err),
			)
			m.release(c, err)
			return
		}
		nc = tc
	}

	m.mu.Lock()
	m.byNet[nc] = c
	m.mu.Unlock()
	if c.released.Load() {
		m.unregister(c)
		_ = nc.Close()
		return
	}

	select {
	case cl.ready <- nc:
	case <-cl.done:
		m.release(c, ErrClosed)
	}
}

func (m *Manager) newConn(fn Handler) *Conn {
	return &Conn{id: lastID.Add(1), mgr: m, fn: fn}
}

func (m *Manager) lookupNet(nc net.Conn) *Conn {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.byNet[nc]
}

// release removes c from the registry, closes its transport and queues the
// close event. Only the first call for a connection has any effect.
func (m *Manager) release(c *Conn, reason error) {
	if !c.released.CompareAndSwap(false, true) {
		return
	}
	c.closing.Store(true)
	m.unregister(c)
	c.closeTransport()

	m.log.Debug("Connection released",
		zap.Uint64("conn_id", c.id),
		zap.Stringer("remote", c.remote),
		zap.NamedError("reason", reason),
	)
	m.post(c, EvClose, reason, false)
}

func (m *Manager) unregister(c *Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.conns, c.id)
	for nc, owner := range m.byNet {
		if owner == c {
			delete(m.byNet, nc)
		}
	}
}

// post queues an event. With wait set it blocks until the event has been
// dispatched. It returns false once the manager has been freed.
func (m *Manager) post(c *Conn, ev Event, data any, wait bool) bool {
	e := event{c: c, ev: ev, data: data}
	if wait {
		e.done = make(chan struct{})
	}

	select {
	case m.events <- e:
	case <-m.closed:
		return false
	}
	if !wait {
		return true
	}

	select {
	case <-e.done:
		return true
	case <-m.closed:
		return false
	}
}

// Poll dispatches every event pending when it is called. If none is pending
// it waits up to timeout for the first one. A timeout of zero never blocks.
func (m *Manager) Poll(timeout time.Duration) {
	if m.isClosed() {
		return
	}

	var first event
	if timeout <= 0 {
		select {
		case first = <-m.events:
		default:
			return
		}
	} else {
		t := time.NewTimer(timeout)
		defer t.Stop()
		select {
		case first = <-m.events:
		case <-t.C:
			return
		case <-m.closed:
			return
		}
	}

	pending := len(m.events)
	m.dispatch(first)
	for i := 0; i < pending && !m.isClosed(); i++ {
		select {
		case e := <-m.events:
			m.dispatch(e)
		default:
			return
		}
	}
}

func (m *Manager) dispatch(e event) {
	if e.done != nil {
		defer close(e.done)
	}
	if ce := m.log.Check(zap.DebugLevel-1, "Dispatching event"); ce != nil {
		ce.Write(zap.Uint64("conn_id", e.c.id), zap.Stringer("event", e.ev))
	}
	if e.c.fn != nil {
		e.c.fn(e.c, e.ev, e.data)
	}
}

// Lookup returns the live connection with the given identifier.
func (m *Manager) Lookup(id uint64) (*Conn, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conns[id]
	return c, ok
}

// Conns returns a snapshot of the live connections ordered by identifier.
func (m *Manager) Conns() []*Conn {
	m.mu.Lock()
	conns := make([]*Conn, 0, len(m.conns))
	for _, c := range m.conns {
		conns = append(conns, c)
	}
	m.mu.Unlock()

	sort.Slice(conns, func(i, j int) bool { return conns[i].id < conns[j].id })
	return conns
}

func (m *Manager) isClosed() bool {
	select {
	case <-m.closed:
		return true
	default:
		return false
	}
}

// Free closes every connection, delivering EvClose for each one on the
// calling goroutine, and stops all engine goroutines. The manager cannot be
// used afterwards. Free is safe to call more than once and from a handler.
func (m *Manager) Free() {
	m.closeOnce.Do(func() {
		// Claim every live connection first so no I/O goroutine can release
		// one after the queue stops accepting events.
		var owned []*Conn
		for _, c := range m.Conns() {
			if c.released.CompareAndSwap(false, true) {
				owned = append(owned, c)
			}
		}
		close(m.closed)

		m.mu.Lock()
		servers := m.servers
		m.servers = nil
		m.mu.Unlock()

		for _, srv := range servers {
			_ = srv.Close()
		}

		// Close events already queued by the I/O goroutines are still owed
		// to the handlers.
		for drained := false; !drained; {
			select {
			case e := <-m.events:
				if e.ev == EvClose {
					m.dispatch(e)
				} else if e.done != nil {
					close(e.done)
				}
			default:
				drained = true
			}
		}

		for _, c := range owned {
			c.closing.Store(true)
			m.unregister(c)
			c.closeTransport()
			if c.fn != nil {
				c.fn(c, EvClose, ErrManagerClosed)
			}
		}

		done := make(chan struct{})
		go func() {
			m.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(freeTimeout):
			m.log.Warn("Timed out waiting for engine goroutines to exit")
		}
	})
}

// chanListener feeds prepared connections to an http.Server.
type chanListener struct {
	net.Listener
	ready chan net.Conn
	done  chan struct{}
	once  sync.Once
}

func (l *chanListener) Accept() (net.Conn, error) {
	select {
	case nc := <-l.ready:
		return nc, nil
	case <-l.done:
		return nil, net.ErrClosed
	}
}

func (l *chanListener) Close() error {
	var err error
	l.once.Do(func() {
		close(l.done)
		err = l.Listener.Close()
	})
	return err
}
