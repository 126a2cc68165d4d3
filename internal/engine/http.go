package engine

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/textproto"
	"strings"

	"go.uber.org/zap"
)

// MaxBodySize caps request bodies buffered for EvHTTPMsg.
const MaxBodySize = 4 << 20

// HTTPMessage is a parsed request. It is only valid while the EvHTTPMsg
// handler runs.
type HTTPMessage struct {
	Method string
	URI    string // path component, as sent
	Query  string
	Proto  string
	Header http.Header
	Body   []byte
}

// ServeOpts controls static file serving.
type ServeOpts struct {
	RootDir      string // directory for ServeDir; "." when empty
	ExtraHeaders string // "Name: value\r\n" lines added to the response
}

type replyKind int

const (
	replyNone replyKind = iota
	replyBytes
	replyFile
	replyDir
	replyUpgrade
)

// pendingReply records how the request currently being dispatched is to be
// answered. The poll goroutine fills it in; the HTTP goroutine executes it
// once dispatch returns.
type pendingReply struct {
	kind   replyKind
	status int
	header http.Header
	body   []byte
	path   string
	opts   ServeOpts
}

// ParseHeaders parses "Name: value" lines separated by CRLF or LF.
func ParseHeaders(s string) (http.Header, error) {
	s = strings.TrimRight(s, "\r\n\t ")
	if s == "" {
		return http.Header{}, nil
	}

	r := textproto.NewReader(bufio.NewReader(strings.NewReader(s + "\r\n\r\n")))
	h, err := r.ReadMIMEHeader()
	if err != nil {
		return nil, fmt.Errorf("malformed headers: %w", err)
	}
	return http.Header(h), nil
}

func (c *Conn) claimPending() (*pendingReply, error) {
	if c.listening || c.IsWebSocket() {
		return nil, ErrNotHTTP
	}
	if c.IsClosing() {
		return nil, ErrClosed
	}
	if c.pending == nil || c.pending.kind != replyNone {
		return nil, ErrNoPendingRequest
	}
	return c.pending, nil
}

// HTTPReply answers the request being dispatched with the given status,
// extra headers ("Name: value\r\n" lines) and body. A zero status is sent as
// 200. The body is copied.
func (c *Conn) HTTPReply(status int, headers string, body []byte) error {
	h, err := ParseHeaders(headers)
	if err != nil {
		return err
	}
	if status == 0 {
		status = http.StatusOK
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	p, err := c.claimPending()
	if err != nil {
		return err
	}
	p.kind = replyBytes
	p.status = status
	p.header = h
	p.body = bytes.Clone(body)
	return nil
}

// ServeFile answers the request being dispatched with the contents of path.
func (c *Conn) ServeFile(path string, opts ServeOpts) error {
	if _, err := ParseHeaders(opts.ExtraHeaders); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	p, err := c.claimPending()
	if err != nil {
		return err
	}
	p.kind = replyFile
	p.path = path
	p.opts = opts
	return nil
}

// ServeDir answers the request from the directory opts.RootDir, using
// msg.URI as the file name. A handler may rewrite the URI before calling.
// A nil msg serves the path as received.
func (c *Conn) ServeDir(msg *HTTPMessage, opts ServeOpts) error {
	if _, err := ParseHeaders(opts.ExtraHeaders); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	p, err := c.claimPending()
	if err != nil {
		return err
	}
	p.kind = replyDir
	p.opts = opts
	if msg != nil {
		p.path = msg.URI
	}
	return nil
}

// Answered reports whether the request being dispatched already has a reply.
func (c *Conn) Answered() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending != nil && c.pending.kind != replyNone
}

func (c *Conn) setPending(p *pendingReply) {
	c.mu.Lock()
	c.pending = p
	c.mu.Unlock()
}

// serveHTTP runs on the net/http goroutine for each request. It queues
// EvHTTPMsg, waits for the poll goroutine to dispatch it and then writes
// whatever reply the handler chose.
func (m *Manager) serveHTTP(w http.ResponseWriter, r *http.Request) {
	c, _ := r.Context().Value(connCtxKey{}).(*Conn)
	if c == nil {
		http.Error(w, "connection not registered", http.StatusInternalServerError)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, MaxBodySize+1))
	if err != nil {
		m.log.Debug("Failed to read request body", zap.Uint64("conn_id", c.id), zap.Error(err))
		return
	}
	if len(body) > MaxBodySize {
		http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
		return
	}

	msg := &HTTPMessage{
		Method: r.Method,
		URI:    r.URL.Path,
		Query:  r.URL.RawQuery,
		Proto:  r.Proto,
		Header: r.Header,
		Body:   body,
	}
	if c.hexdump.Load() && len(body) > 0 {
		m.log.Debug("HTTP request body", zap.Uint64("conn_id", c.id), zap.Binary("body", body))
	}

	p := &pendingReply{}
	c.setPending(p)
	ok := m.post(c, EvHTTPMsg, msg, true)
	c.setPending(nil)
	if !ok || c.IsClosing() {
		return
	}

	switch p.kind {
	case replyBytes:
		copyHeader(w.Header(), p.header)
		w.WriteHeader(p.status)
		_, _ = w.Write(p.body)
	case replyFile:
		m.addExtraHeaders(w, p.opts)
		http.ServeFile(w, r, p.path)
	case replyDir:
		m.addExtraHeaders(w, p.opts)
		root := p.opts.RootDir
		if root == "" {
			root = "."
		}
		req := r
		if p.path != "" && p.path != r.URL.Path {
			req = r.Clone(r.Context())
			req.URL.Path = p.path
			req.URL.RawPath = ""
		}
		http.FileServer(http.Dir(root)).ServeHTTP(w, req)
	case replyUpgrade:
		m.upgrade(c, w, r, msg)
	default:
		m.log.Debug("Request left unanswered", zap.Uint64("conn_id", c.id), zap.String("uri", msg.URI))
		http.Error(w, "no reply", http.StatusInternalServerError)
	}
}

func (m *Manager) addExtraHeaders(w http.ResponseWriter, opts ServeOpts) {
	h, _ := ParseHeaders(opts.ExtraHeaders)
	copyHeader(w.Header(), h)
}

func copyHeader(dst, src http.Header) {
	for k, vv := range src {
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}
