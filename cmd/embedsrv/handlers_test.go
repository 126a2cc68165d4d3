package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/gorilla/websocket"

	"github.com/muurk/embedsrv"
)

func startDemo(t *testing.T, root string) *embedsrv.Server {
	t.Helper()
	s := embedsrv.Create()
	cfg := embedsrv.Config{Host: "127.0.0.1", Port: 0, EnableWS: true, RootDir: root}
	if err := s.SetConfig(&cfg); err != nil {
		t.Fatalf("SetConfig() error = %v", err)
	}
	d := newDemo()
	if err := s.SetCallbacks(d, d, nil); err != nil {
		t.Fatalf("SetCallbacks() error = %v", err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.Serve(ctx, 5*time.Millisecond)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		s.Destroy()
	})
	return s
}

func get(t *testing.T, url string) (*http.Response, []byte) {
	t.Helper()
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		t.Fatalf("GET %s error = %v", url, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return resp, body
}

func TestDemoEcho(t *testing.T) {
	s := startDemo(t, t.TempDir())

	resp, body := get(t, "http://"+s.Addr()+"/api/echo/hello?x=1")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}

	var got echoResult
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("decoding %q: %v", body, err)
	}
	want := echoResult{Result: "/api/echo/hello", Method: "GET", Query: "x=1"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("echo mismatch (-want +got):\n%s", diff)
	}
}

func TestDemoStats(t *testing.T) {
	s := startDemo(t, t.TempDir())

	resp, body := get(t, "http://"+s.Addr()+statsPath)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var got stats
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("decoding %q: %v", body, err)
	}

	var listening, accepted int
	for _, c := range got.Connections {
		switch c.Role {
		case embedsrv.RoleListening:
			listening++
		case embedsrv.RoleAccepted:
			accepted++
		}
	}
	if listening != 1 || accepted < 1 {
		t.Errorf("connections = %+v, want the listener and this request", got.Connections)
	}
}

func TestDemoStaticFallback(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "index.html"), []byte("<h1>hi</h1>"), 0644); err != nil {
		t.Fatal(err)
	}
	s := startDemo(t, root)

	resp, body := get(t, "http://"+s.Addr()+"/index.html")
	if resp.StatusCode != http.StatusOK || string(body) != "<h1>hi</h1>" {
		t.Errorf("GET /index.html = %d %q", resp.StatusCode, body)
	}

	resp, _ = get(t, "http://"+s.Addr()+"/missing.txt")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("GET /missing.txt status = %d, want 404", resp.StatusCode)
	}
}

func TestDemoWebSocketEcho(t *testing.T) {
	s := startDemo(t, t.TempDir())

	ws, _, err := websocket.DefaultDialer.Dial("ws://"+s.Addr()+embedsrv.DefaultWSPath, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer ws.Close()

	for _, op := range []int{websocket.TextMessage, websocket.BinaryMessage} {
		if err := ws.WriteMessage(op, []byte("ping")); err != nil {
			t.Fatal(err)
		}
		_ = ws.SetReadDeadline(time.Now().Add(5 * time.Second))
		gotOp, data, err := ws.ReadMessage()
		if err != nil {
			t.Fatalf("ReadMessage() error = %v", err)
		}
		if gotOp != op || string(data) != "ping" {
			t.Errorf("echo = (%d, %q), want (%d, %q)", gotOp, data, op, "ping")
		}
	}
}
