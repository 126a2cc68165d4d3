// Package engine is the network reactor behind embedsrv.
//
// A Manager owns listeners and the connections they accept. All socket I/O,
// TLS handshakes, HTTP parsing and WebSocket framing happen on goroutines
// inside the package; those goroutines never call user code. Instead they
// queue events, and Poll dispatches the queued events to the listener's
// Handler on the calling goroutine:
//
//	mgr := engine.NewManager(logger)
//	defer mgr.Free()
//
//	_, err := mgr.Listen("http://0.0.0.0:8000", func(c *engine.Conn, ev engine.Event, data any) {
//	    if ev == engine.EvHTTPMsg {
//	        _ = c.HTTPReply(200, "Content-Type: text/plain\r\n", []byte("hello"))
//	    }
//	})
//	for {
//	    mgr.Poll(100 * time.Millisecond)
//	}
//
// # Events
//
//   - EvOpen: a listener or accepted connection was created
//   - EvAccept: a connection was accepted; TLS listeners expect InitTLS here
//   - EvTLSHandshake: the handshake finished (data is the error, if any)
//   - EvHTTPMsg: a request arrived; answer it with HTTPReply, ServeFile,
//     ServeDir or WSUpgrade before the handler returns
//   - EvWSOpen: the WebSocket handshake completed
//   - EvWSMsg: a WebSocket message arrived
//   - EvClose: the connection is gone and no longer in the registry
//
// EvAccept and EvHTTPMsg are synchronous: the connection's goroutine waits
// until the handler has returned, so the handler's decision is applied before
// any further bytes are read.
//
// # Connection Registry
//
// Connections are kept in a map keyed by identifier; Lookup and Conns read
// it. Identifiers come from a process-wide counter and are never reused.
package engine
