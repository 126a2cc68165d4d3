package embedsrv

import (
	"errors"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/muurk/embedsrv/internal/engine"
	"github.com/muurk/embedsrv/internal/logging"
)

// SendToOne queues msg on the WebSocket connection connID.
func (s *Server) SendToOne(connID uint64, msg *WSMessage) error {
	if msg == nil || len(msg.Data) == 0 {
		return fmt.Errorf("%w: empty message", ErrInvalidInput)
	}
	mgr, err := s.manager()
	if err != nil {
		return err
	}

	c, ok := mgr.Lookup(connID)
	if !ok || !c.IsWebSocket() {
		return fmt.Errorf("%w: websocket connection %d", ErrNotFound, connID)
	}
	if err := c.WSSend(msg.Data, opcode(msg)); err != nil {
		return replyError(connID, err)
	}

	s.view().metrics.MessagesSent(1)
	logging.LogWebSocketMessage(connID, "send", msg.Binary, msg.Data)
	return nil
}

// Broadcast queues msg on every WebSocket connection. Having no WebSocket
// connections is not an error; connections that cannot take the message are
// skipped.
func (s *Server) Broadcast(msg *WSMessage) error {
	if msg == nil || len(msg.Data) == 0 {
		return fmt.Errorf("%w: empty message", ErrInvalidInput)
	}
	mgr, err := s.manager()
	if err != nil {
		return err
	}

	sent := 0
	for _, c := range mgr.Conns() {
		if !c.IsWebSocket() {
			continue
		}
		if err := c.WSSend(msg.Data, opcode(msg)); err != nil {
			logging.Warn("Broadcast skipped connection", zap.Uint64("conn_id", c.ID()), zap.Error(err))
			continue
		}
		sent++
	}

	s.view().metrics.MessagesSent(sent)
	logging.Debug("Broadcast queued",
		zap.Int("recipients", sent),
		zap.Int("length", len(msg.Data)),
		zap.Bool("binary", msg.Binary),
	)
	return nil
}

// HTTPReply answers the request pending on connection connID. It is meant to
// be called from the HTTPHandler while that request is being dispatched.
func (s *Server) HTTPReply(connID uint64, res *HTTPResponse) error {
	if res == nil {
		return fmt.Errorf("%w: nil response", ErrInvalidInput)
	}
	if _, err := engine.ParseHeaders(res.Headers); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	mgr, err := s.manager()
	if err != nil {
		return err
	}

	c, ok := mgr.Lookup(connID)
	if !ok || c.IsWebSocket() {
		return fmt.Errorf("%w: http connection %d", ErrNotFound, connID)
	}
	if err := c.HTTPReply(res.StatusCode, res.Headers, res.Body); err != nil {
		return replyError(connID, err)
	}
	return nil
}

// HTTPServeFile answers the request pending on connection connID with the
// contents of path. A relative path is joined onto Config.RootDir ("." when
// unset), not the working directory; an absolute path is used as given.
// extraHeaders holds "Name: value\r\n" lines added to the response.
func (s *Server) HTTPServeFile(connID uint64, path, extraHeaders string) error {
	if path == "" {
		return fmt.Errorf("%w: empty path", ErrInvalidInput)
	}
	if _, err := engine.ParseHeaders(extraHeaders); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	mgr, err := s.manager()
	if err != nil {
		return err
	}

	root := s.view().cfg.RootDir
	if root == "" {
		root = "."
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(root, path)
	}
	logging.Debug("Serving file",
		zap.Uint64("conn_id", connID),
		zap.String("path", path),
		zap.String("root_dir", root),
		zap.String("extra_headers", extraHeaders),
	)

	c, ok := mgr.Lookup(connID)
	if !ok || c.IsWebSocket() {
		return fmt.Errorf("%w: http connection %d", ErrNotFound, connID)
	}
	if err := c.ServeFile(path, engine.ServeOpts{RootDir: root, ExtraHeaders: extraHeaders}); err != nil {
		return replyError(connID, err)
	}
	return nil
}

func opcode(msg *WSMessage) int {
	if msg.Binary {
		return engine.OpBinary
	}
	return engine.OpText
}

// replyError maps engine failures onto the package sentinels. Role and
// state mismatches count as not found.
func replyError(connID uint64, err error) error {
	switch {
	case errors.Is(err, engine.ErrNotHTTP),
		errors.Is(err, engine.ErrNotWebSocket),
		errors.Is(err, engine.ErrNoPendingRequest),
		errors.Is(err, engine.ErrClosed):
		return fmt.Errorf("%w: connection %d: %w", ErrNotFound, connID, err)
	}
	return fmt.Errorf("%w: connection %d: %w", ErrIO, connID, err)
}
