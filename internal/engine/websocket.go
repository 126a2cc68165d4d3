package engine

import (
	"bytes"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// WebSocket message opcodes accepted by WSSend.
const (
	OpText   = websocket.TextMessage
	OpBinary = websocket.BinaryMessage
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed for the close frame on shutdown
	closeGracePeriod = time.Second

	// Maximum message size accepted from a peer
	maxMessageSize = 1 << 20

	// Outbound frames buffered per connection
	sendQueueSize = 64
)

// WSMessage is an inbound WebSocket message. Data is only valid while the
// EvWSMsg handler runs.
type WSMessage struct {
	Data   []byte
	Opcode int
}

// Binary reports whether the message arrived in a binary frame.
func (m *WSMessage) Binary() bool { return m.Opcode == OpBinary }

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

type outFrame struct {
	op   int
	data []byte
}

type wsConn struct {
	out  chan outFrame
	quit chan struct{}
	once sync.Once
}

func (w *wsConn) stop() {
	w.once.Do(func() { close(w.quit) })
}

// WSUpgrade switches the connection to WebSocket mode in response to msg.
// The connection reports IsWebSocket immediately and frames sent with WSSend
// are queued until the handshake completes. If the handshake fails the
// connection is closed.
func (c *Conn) WSUpgrade(msg *HTTPMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, err := c.claimPending()
	if err != nil {
		return err
	}
	p.kind = replyUpgrade
	c.ws = &wsConn{
		out:  make(chan outFrame, sendQueueSize),
		quit: make(chan struct{}),
	}
	c.websocket.Store(true)
	return nil
}

// WSSend queues one message. The data is copied, so the caller may reuse it.
func (c *Conn) WSSend(data []byte, op int) error {
	if !c.IsWebSocket() {
		return ErrNotWebSocket
	}
	if c.IsClosing() {
		return ErrClosed
	}

	c.mu.Lock()
	wc := c.ws
	c.mu.Unlock()

	select {
	case <-wc.quit:
		return ErrClosed
	default:
	}

	select {
	case wc.out <- outFrame{op: op, data: bytes.Clone(data)}:
		return nil
	default:
		return ErrSendQueueFull
	}
}

// upgrade completes the handshake on the HTTP goroutine and starts the frame
// pumps.
func (m *Manager) upgrade(c *Conn, w http.ResponseWriter, r *http.Request, msg *HTTPMessage) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.log.Debug("WebSocket handshake failed", zap.Uint64("conn_id", c.id), zap.Error(err))
		m.post(c, EvError, err, false)
		m.release(c, err)
		return
	}
	ws.SetReadLimit(maxMessageSize)

	c.mu.Lock()
	wc := c.ws
	c.mu.Unlock()

	c.setCloser(func() error {
		wc.stop()
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(closeGracePeriod))
		return ws.Close()
	})

	m.log.Debug("WebSocket upgraded", zap.Uint64("conn_id", c.id), zap.String("uri", msg.URI))
	m.post(c, EvWSOpen, msg, false)

	m.wg.Add(2)
	go func() {
		defer m.wg.Done()
		m.writePump(c, ws, wc)
	}()
	go func() {
		defer m.wg.Done()
		m.readPump(c, ws)
	}()
}

func (m *Manager) readPump(c *Conn, ws *websocket.Conn) {
	for {
		op, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				err = nil
			}
			m.release(c, err)
			return
		}

		if c.hexdump.Load() {
			m.log.Debug("WebSocket frame received",
				zap.Uint64("conn_id", c.id),
				zap.Int("opcode", op),
				zap.Binary("payload", data),
			)
		}
		if !m.post(c, EvWSMsg, &WSMessage{Data: data, Opcode: op}, false) {
			return
		}
	}
}

func (m *Manager) writePump(c *Conn, ws *websocket.Conn, wc *wsConn) {
	for {
		select {
		case f := <-wc.out:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(f.op, f.data); err != nil {
				if !errors.Is(err, websocket.ErrCloseSent) {
					m.log.Debug("WebSocket write failed", zap.Uint64("conn_id", c.id), zap.Error(err))
				}
				m.release(c, err)
				return
			}
			if c.hexdump.Load() {
				m.log.Debug("WebSocket frame sent",
					zap.Uint64("conn_id", c.id),
					zap.Int("opcode", f.op),
					zap.Binary("payload", f.data),
				)
			}
		case <-wc.quit:
			return
		}
	}
}
