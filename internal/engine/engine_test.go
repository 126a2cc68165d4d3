package engine

import (
	"crypto/tls"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/muurk/embedsrv/internal/certs"
)

// poller runs Poll on its own goroutine, standing in for the host loop.
type poller struct {
	mgr  *Manager
	stop chan struct{}
	done chan struct{}
	once sync.Once
}

func startPolling(t *testing.T, mgr *Manager) *poller {
	t.Helper()
	p := &poller{mgr: mgr, stop: make(chan struct{}), done: make(chan struct{})}
	go func() {
		defer close(p.done)
		for {
			select {
			case <-p.stop:
				return
			default:
				mgr.Poll(5 * time.Millisecond)
			}
		}
	}()
	t.Cleanup(func() {
		p.halt()
		mgr.Free()
	})
	return p
}

func (p *poller) halt() {
	p.once.Do(func() {
		close(p.stop)
		<-p.done
	})
}

func listen(t *testing.T, mgr *Manager, scheme string, fn Handler) *Conn {
	t.Helper()
	lc, err := mgr.Listen(scheme+"://127.0.0.1:0", fn)
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	if !lc.IsListening() {
		t.Fatal("listener connection should report IsListening")
	}
	return lc
}

func get(t *testing.T, client *http.Client, url string) (*http.Response, string) {
	t.Helper()
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	resp, err := client.Get(url)
	if err != nil {
		t.Fatalf("GET %s error = %v", url, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading body: %v", err)
	}
	return resp, string(body)
}

func TestParseAddr(t *testing.T) {
	tests := []struct {
		addr     string
		wantTLS  bool
		wantHost string
		wantErr  bool
	}{
		{"http://0.0.0.0:8000", false, "0.0.0.0:8000", false},
		{"https://0.0.0.0:8443", true, "0.0.0.0:8443", false},
		{"ws://127.0.0.1:9000", false, "127.0.0.1:9000", false},
		{"wss://[::1]:9443", true, "[::1]:9443", false},
		{"ftp://0.0.0.0:21", false, "", true},
		{"http://0.0.0.0", false, "", true},
		{"::nonsense", false, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.addr, func(t *testing.T) {
			gotTLS, gotHost, err := parseAddr(tt.addr)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseAddr(%q) error = %v, wantErr %v", tt.addr, err, tt.wantErr)
			}
			if gotTLS != tt.wantTLS || gotHost != tt.wantHost {
				t.Errorf("parseAddr(%q) = (%v, %q), want (%v, %q)", tt.addr, gotTLS, gotHost, tt.wantTLS, tt.wantHost)
			}
		})
	}
}

func TestParseHeaders(t *testing.T) {
	h, err := ParseHeaders("Content-Type: text/plain\r\nX-Trace: abc\r\n")
	if err != nil {
		t.Fatalf("ParseHeaders() error = %v", err)
	}
	if h.Get("Content-Type") != "text/plain" || h.Get("X-Trace") != "abc" {
		t.Errorf("ParseHeaders() = %v", h)
	}

	h, err = ParseHeaders("X-Unix: lf\n")
	if err != nil || h.Get("X-Unix") != "lf" {
		t.Errorf("ParseHeaders(LF) = %v, %v", h, err)
	}

	if h, err := ParseHeaders(""); err != nil || len(h) != 0 {
		t.Errorf("ParseHeaders(\"\") = %v, %v", h, err)
	}

	if _, err := ParseHeaders("no colon here"); err == nil {
		t.Error("ParseHeaders should reject a line without a colon")
	}
}

func TestHTTPReply(t *testing.T) {
	type seen struct{ method, uri, query, body string }
	requests := make(chan seen, 1)

	mgr := NewManager(nil)
	lc := listen(t, mgr, "http", func(c *Conn, ev Event, data any) {
		if ev != EvHTTPMsg {
			return
		}
		msg := data.(*HTTPMessage)
		requests <- seen{msg.Method, msg.URI, msg.Query, string(msg.Body)}
		if err := c.HTTPReply(201, "X-Test: yes\r\nContent-Type: text/plain\r\n", []byte("created")); err != nil {
			t.Errorf("HTTPReply() error = %v", err)
		}
		if !c.Answered() {
			t.Error("Answered() should be true after HTTPReply")
		}
		if err := c.HTTPReply(200, "", []byte("again")); !errors.Is(err, ErrNoPendingRequest) {
			t.Errorf("second HTTPReply() error = %v, want ErrNoPendingRequest", err)
		}
	})
	startPolling(t, mgr)

	resp, err := http.Post("http://"+lc.LocalAddr()+"/items?x=1", "text/plain", strings.NewReader("payload"))
	if err != nil {
		t.Fatalf("POST error = %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != 201 {
		t.Errorf("status = %d, want 201", resp.StatusCode)
	}
	if resp.Header.Get("X-Test") != "yes" {
		t.Errorf("X-Test header = %q, want yes", resp.Header.Get("X-Test"))
	}
	if string(body) != "created" {
		t.Errorf("body = %q, want created", body)
	}

	got := <-requests
	want := seen{"POST", "/items", "x=1", "payload"}
	if got != want {
		t.Errorf("handler saw %+v, want %+v", got, want)
	}

	if err := lc.HTTPReply(200, "", nil); !errors.Is(err, ErrNotHTTP) {
		t.Errorf("HTTPReply on listener error = %v, want ErrNotHTTP", err)
	}
}

func TestServeDirAndFile(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "hello.txt"), []byte("static hello"), 0644); err != nil {
		t.Fatal(err)
	}
	download := filepath.Join(t.TempDir(), "blob.bin")
	if err := os.WriteFile(download, []byte{0x00, 0x01, 0x02}, 0644); err != nil {
		t.Fatal(err)
	}

	mgr := NewManager(nil)
	lc := listen(t, mgr, "http", func(c *Conn, ev Event, data any) {
		if ev != EvHTTPMsg {
			return
		}
		msg := data.(*HTTPMessage)
		var err error
		switch msg.URI {
		case "/download":
			err = c.ServeFile(download, ServeOpts{ExtraHeaders: "Content-Disposition: attachment\r\n"})
		case "/alias":
			rewritten := *msg
			rewritten.URI = "/hello.txt"
			err = c.ServeDir(&rewritten, ServeOpts{RootDir: root})
		default:
			err = c.ServeDir(msg, ServeOpts{RootDir: root})
		}
		if err != nil {
			t.Errorf("serve error = %v", err)
		}
	})
	startPolling(t, mgr)
	base := "http://" + lc.LocalAddr()

	resp, body := get(t, nil, base+"/hello.txt")
	if resp.StatusCode != 200 || body != "static hello" {
		t.Errorf("GET /hello.txt = %d %q", resp.StatusCode, body)
	}

	resp, body = get(t, nil, base+"/alias")
	if resp.StatusCode != 200 || body != "static hello" {
		t.Errorf("GET /alias = %d %q, want the rewritten file", resp.StatusCode, body)
	}

	resp, _ = get(t, nil, base+"/missing.txt")
	if resp.StatusCode != 404 {
		t.Errorf("GET /missing.txt status = %d, want 404", resp.StatusCode)
	}

	resp, body = get(t, nil, base+"/download")
	if resp.StatusCode != 200 || body != "\x00\x01\x02" {
		t.Errorf("GET /download = %d %q", resp.StatusCode, body)
	}
	if resp.Header.Get("Content-Disposition") != "attachment" {
		t.Errorf("Content-Disposition = %q", resp.Header.Get("Content-Disposition"))
	}
}

func TestUnansweredRequest(t *testing.T) {
	mgr := NewManager(nil)
	lc := listen(t, mgr, "http", func(c *Conn, ev Event, data any) {})
	startPolling(t, mgr)

	resp, _ := get(t, nil, "http://"+lc.LocalAddr()+"/")
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", resp.StatusCode)
	}
}

func TestWebSocketEcho(t *testing.T) {
	mgr := NewManager(nil)
	opened := make(chan uint64, 1)
	closed := make(chan uint64, 4)

	lc := listen(t, mgr, "ws", func(c *Conn, ev Event, data any) {
		switch ev {
		case EvHTTPMsg:
			if err := c.WSUpgrade(data.(*HTTPMessage)); err != nil {
				t.Errorf("WSUpgrade() error = %v", err)
			}
			if !c.IsWebSocket() {
				t.Error("connection should be a websocket right after WSUpgrade")
			}
		case EvWSOpen:
			opened <- c.ID()
		case EvWSMsg:
			msg := data.(*WSMessage)
			if err := c.WSSend(msg.Data, msg.Opcode); err != nil {
				t.Errorf("WSSend() error = %v", err)
			}
		case EvClose:
			closed <- c.ID()
		}
	})
	startPolling(t, mgr)

	ws, _, err := websocket.DefaultDialer.Dial("ws://"+lc.LocalAddr()+"/ws", nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}

	var id uint64
	select {
	case id = <-opened:
	case <-time.After(5 * time.Second):
		t.Fatal("EvWSOpen not delivered")
	}

	c, ok := mgr.Lookup(id)
	if !ok || !c.IsWebSocket() || !c.IsAccepted() {
		t.Fatalf("Lookup(%d) = %v, %v", id, c, ok)
	}
	if err := c.HTTPReply(200, "", nil); !errors.Is(err, ErrNotHTTP) {
		t.Errorf("HTTPReply on websocket error = %v, want ErrNotHTTP", err)
	}

	for _, tc := range []struct {
		op   int
		data string
	}{
		{websocket.TextMessage, "ping"},
		{websocket.BinaryMessage, "\x01\x02\x03"},
	} {
		if err := ws.WriteMessage(tc.op, []byte(tc.data)); err != nil {
			t.Fatalf("WriteMessage() error = %v", err)
		}
		_ = ws.SetReadDeadline(time.Now().Add(5 * time.Second))
		op, got, err := ws.ReadMessage()
		if err != nil {
			t.Fatalf("ReadMessage() error = %v", err)
		}
		if op != tc.op || string(got) != tc.data {
			t.Errorf("echo = (%d, %q), want (%d, %q)", op, got, tc.op, tc.data)
		}
	}

	var sawListener bool
	for _, conn := range mgr.Conns() {
		if conn.IsListening() && conn.ID() == lc.ID() {
			sawListener = true
		}
	}
	if !sawListener {
		t.Error("Conns() should include the listener")
	}

	_ = ws.Close()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case got := <-closed:
			if got != id {
				continue
			}
			if _, ok := mgr.Lookup(id); ok {
				t.Error("closed connection still registered")
			}
			return
		case <-deadline:
			t.Fatal("EvClose not delivered for websocket connection")
		}
	}
}

func TestSendErrors(t *testing.T) {
	mgr := NewManager(nil)
	errs := make(chan error, 2)
	lc := listen(t, mgr, "http", func(c *Conn, ev Event, data any) {
		if ev == EvHTTPMsg {
			errs <- c.WSSend([]byte("x"), OpText)
			_ = c.HTTPReply(204, "", nil)
		}
	})
	startPolling(t, mgr)

	get(t, nil, "http://"+lc.LocalAddr()+"/")
	if err := <-errs; !errors.Is(err, ErrNotWebSocket) {
		t.Errorf("WSSend on http connection error = %v, want ErrNotWebSocket", err)
	}

	if err := lc.HTTPReply(200, "", nil); !errors.Is(err, ErrNotHTTP) {
		t.Errorf("HTTPReply on listener error = %v, want ErrNotHTTP", err)
	}
}

func TestTLSAccept(t *testing.T) {
	sc, err := certs.GenerateSelfSigned(certs.DefaultParams())
	if err != nil {
		t.Fatalf("GenerateSelfSigned() error = %v", err)
	}

	var mu sync.Mutex
	provide := false
	handshakes := make(chan error, 4)

	mgr := NewManager(nil)
	lc := listen(t, mgr, "https", func(c *Conn, ev Event, data any) {
		switch ev {
		case EvAccept:
			mu.Lock()
			ok := provide
			mu.Unlock()
			if ok {
				if err := c.InitTLS(TLSOpts{Cert: sc.CertPEM, Key: sc.KeyPEM}); err != nil {
					t.Errorf("InitTLS() error = %v", err)
				}
			}
		case EvTLSHandshake:
			err, _ := data.(error)
			handshakes <- err
		case EvHTTPMsg:
			_ = c.HTTPReply(200, "", []byte("secure"))
		}
	})
	startPolling(t, mgr)

	client := &http.Client{
		Timeout: 5 * time.Second,
		Transport: &http.Transport{
			TLSClientConfig:   &tls.Config{RootCAs: sc.CertPool()},
			DisableKeepAlives: true,
		},
	}
	url := "https://" + lc.LocalAddr() + "/"

	// Without credentials the handshake fails but the listener survives.
	if _, err := client.Get(url); err == nil {
		t.Fatal("GET without server credentials should fail")
	}
	select {
	case err := <-handshakes:
		if err == nil {
			t.Error("EvTLSHandshake should carry an error when no credentials were set")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("EvTLSHandshake not delivered")
	}

	mu.Lock()
	provide = true
	mu.Unlock()

	resp, body := get(t, client, url)
	if resp.StatusCode != 200 || body != "secure" {
		t.Errorf("GET over TLS = %d %q", resp.StatusCode, body)
	}
	if resp.TLS == nil {
		t.Error("response should have been received over TLS")
	}
}

func TestInitTLSRejectsBadMaterial(t *testing.T) {
	c := &Conn{accepted: true}
	if err := c.InitTLS(TLSOpts{Cert: []byte("junk"), Key: []byte("junk")}); err == nil {
		t.Error("InitTLS should reject unparsable PEM")
	}
	if err := c.InitTLS(TLSOpts{}); err == nil {
		t.Error("InitTLS should reject empty material")
	}
	lc := &Conn{listening: true}
	if err := lc.InitTLS(TLSOpts{Cert: []byte("x"), Key: []byte("y")}); err == nil {
		t.Error("InitTLS should reject listeners")
	}
}

func TestSetClosingOnAccept(t *testing.T) {
	mgr := NewManager(nil)
	closed := make(chan error, 1)
	lc := listen(t, mgr, "http", func(c *Conn, ev Event, data any) {
		switch ev {
		case EvAccept:
			c.SetClosing()
		case EvClose:
			if c.IsAccepted() {
				err, _ := data.(error)
				closed <- err
			}
		case EvHTTPMsg:
			t.Error("closed connection should never deliver a request")
		}
	})
	startPolling(t, mgr)

	client := &http.Client{Timeout: 5 * time.Second}
	if _, err := client.Get("http://" + lc.LocalAddr() + "/"); err == nil {
		t.Error("GET should fail on a connection closed at accept")
	}
	select {
	case <-closed:
	case <-time.After(5 * time.Second):
		t.Fatal("EvClose not delivered")
	}
}

func TestFreeClosesEverything(t *testing.T) {
	mgr := NewManager(nil)
	var mu sync.Mutex
	closedIDs := map[uint64]bool{}
	opened := make(chan uint64, 1)

	lc := listen(t, mgr, "http", func(c *Conn, ev Event, data any) {
		switch ev {
		case EvHTTPMsg:
			_ = c.WSUpgrade(data.(*HTTPMessage))
		case EvWSOpen:
			opened <- c.ID()
		case EvClose:
			mu.Lock()
			closedIDs[c.ID()] = true
			mu.Unlock()
		}
	})
	p := startPolling(t, mgr)

	ws, _, err := websocket.DefaultDialer.Dial("ws://"+lc.LocalAddr()+"/ws", nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer ws.Close()
	id := <-opened

	p.halt()
	mgr.Free()

	mu.Lock()
	if !closedIDs[id] || !closedIDs[lc.ID()] {
		t.Errorf("Free() should deliver EvClose for every connection, got %v", closedIDs)
	}
	mu.Unlock()

	if len(mgr.Conns()) != 0 {
		t.Errorf("Conns() after Free = %d, want 0", len(mgr.Conns()))
	}

	_ = ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, _, err := ws.ReadMessage(); err == nil {
		t.Error("client should observe the connection closing")
	}

	if _, err := mgr.Listen("http://127.0.0.1:0", nil); !errors.Is(err, ErrManagerClosed) {
		t.Errorf("Listen after Free error = %v, want ErrManagerClosed", err)
	}

	// Free is idempotent and Poll on a freed manager returns at once.
	mgr.Free()
	start := time.Now()
	mgr.Poll(time.Second)
	if time.Since(start) > 500*time.Millisecond {
		t.Error("Poll on a freed manager should not block")
	}
}

func TestPollTimeout(t *testing.T) {
	mgr := NewManager(nil)
	defer mgr.Free()

	start := time.Now()
	mgr.Poll(30 * time.Millisecond)
	if elapsed := time.Since(start); elapsed < 25*time.Millisecond {
		t.Errorf("Poll returned after %v, want about 30ms", elapsed)
	}

	start = time.Now()
	mgr.Poll(0)
	if elapsed := time.Since(start); elapsed > 20*time.Millisecond {
		t.Errorf("Poll(0) blocked for %v", elapsed)
	}
}

func TestIdentifiersIncrease(t *testing.T) {
	a := NewManager(nil)
	b := NewManager(nil)
	defer a.Free()
	defer b.Free()

	c1 := a.newConn(nil)
	c2 := b.newConn(nil)
	c3 := a.newConn(nil)
	if !(c1.ID() < c2.ID() && c2.ID() < c3.ID()) {
		t.Errorf("identifiers not increasing across managers: %d %d %d", c1.ID(), c2.ID(), c3.ID())
	}
}
