package embedsrv

import (
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/muurk/embedsrv/internal/engine"
	"github.com/muurk/embedsrv/internal/logging"
	"github.com/muurk/embedsrv/internal/metrics"
)

// handleEvent is the engine handler for every connection of the listener.
func (s *Server) handleEvent(c *engine.Conn, ev engine.Event, data any) {
	v := s.view()

	switch ev {
	case engine.EvOpen:
		if c.IsAccepted() {
			s.track(c.ID(), false)
			v.metrics.ConnectionOpened(c.IsTLS())
			logging.LogConnection(c.ID(), c.RemoteAddr(), "opened")
		}

	case engine.EvAccept:
		c.SetHexdump(logging.DebugEnabled())
		if c.IsTLS() {
			s.initTLS(c, v)
		}

	case engine.EvTLSHandshake:
		if err, _ := data.(error); err != nil {
			v.metrics.TLSFailure()
			logging.Warn("TLS handshake failed",
				zap.Uint64("conn_id", c.ID()),
				zap.String("remote_addr", c.RemoteAddr()),
				zap.Error(err),
			)
			return
		}
		if st, ok := c.TLSState(); ok {
			logging.LogTLSHandshake(c.RemoteAddr(), st.Version, st.CipherSuite, st.ServerName)
		}

	case engine.EvHTTPMsg:
		msg := data.(*engine.HTTPMessage)
		if s.promote(c, msg, v) {
			return
		}
		s.dispatchHTTP(c, msg, v)

	case engine.EvWSOpen:
		s.track(c.ID(), true)
		v.metrics.WebSocketOpened()
		logging.LogConnection(c.ID(), c.RemoteAddr(), "websocket opened")

	case engine.EvWSMsg:
		s.dispatchMessage(c, data.(*engine.WSMessage), v)

	case engine.EvError:
		err, _ := data.(error)
		logging.Error("Connection error", zap.Uint64("conn_id", c.ID()), zap.Error(err))

	case engine.EvClose:
		s.closed(c, v)
		err, _ := data.(error)
		logging.Debug("Connection closed",
			zap.Uint64("conn_id", c.ID()),
			zap.String("remote_addr", c.RemoteAddr()),
			zap.Bool("websocket", c.IsWebSocket()),
			zap.NamedError("reason", err),
		)
	}
}

// initTLS loads the credentials for an accepted TLS connection. The files
// are read on every accept. A connection whose credentials cannot be loaded
// is closed; the listener is unaffected.
func (s *Server) initTLS(c *engine.Conn, v view) {
	opts, err := readTLSFiles(v.cfg.CertFile, v.cfg.KeyFile)
	if err == nil {
		err = c.InitTLS(opts)
	}
	if err != nil {
		v.metrics.TLSFailure()
		logging.Error("Failed to load TLS credentials",
			zap.Uint64("conn_id", c.ID()),
			zap.String("cert_file", v.cfg.CertFile),
			zap.String("key_file", v.cfg.KeyFile),
			zap.Error(err),
		)
		c.SetClosing()
	}
}

func readTLSFiles(certFile, keyFile string) (engine.TLSOpts, error) {
	cert, err := os.ReadFile(certFile)
	if err != nil {
		return engine.TLSOpts{}, fmt.Errorf("reading certificate: %w", err)
	}
	key, err := os.ReadFile(keyFile)
	if err != nil {
		return engine.TLSOpts{}, fmt.Errorf("reading private key: %w", err)
	}
	return engine.TLSOpts{Cert: cert, Key: key}, nil
}

// promote upgrades c to a WebSocket when msg asks for one on the configured
// path and WebSocket support is on. It reports whether the request was
// consumed.
func (s *Server) promote(c *engine.Conn, msg *engine.HTTPMessage, v view) bool {
	if !v.cfg.EnableWS || msg.URI != v.cfg.WSPath || msg.Header.Get("Upgrade") == "" {
		return false
	}

	if err := c.WSUpgrade(msg); err != nil {
		v.metrics.RequestServed(metrics.OutcomeFailed)
		logging.Warn("WebSocket upgrade failed", zap.Uint64("conn_id", c.ID()), zap.Error(err))
		return true
	}
	v.metrics.RequestServed(metrics.OutcomeUpgrade)
	logging.Debug("WebSocket upgrade requested",
		zap.Uint64("conn_id", c.ID()),
		zap.String("uri", msg.URI),
	)
	return true
}

func (s *Server) track(id uint64, websocket bool) {
	s.mu.Lock()
	s.live[id] = websocket
	s.mu.Unlock()
}

// closed settles the bookkeeping for a connection. The listener itself is
// forgotten so a later Start can bind again.
func (s *Server) closed(c *engine.Conn, v view) {
	s.mu.Lock()
	ws, tracked := s.live[c.ID()]
	delete(s.live, c.ID())
	if s.listener == c {
		s.listener = nil
	}
	s.mu.Unlock()

	if tracked {
		v.metrics.ConnectionClosed(ws)
	}
}
