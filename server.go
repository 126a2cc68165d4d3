package embedsrv

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/muurk/embedsrv/internal/engine"
	"github.com/muurk/embedsrv/internal/logging"
	"github.com/muurk/embedsrv/internal/metrics"
)

const tracerName = "github.com/muurk/embedsrv"

// Server embeds one HTTP(S)/WebSocket listener. Events are delivered to the
// registered handlers only from inside Poll.
type Server struct {
	mu        sync.Mutex
	cfg       Config
	httpH     HTTPHandler
	msgH      MessageHandler
	userData  any
	mgr       *engine.Manager
	listener  *engine.Conn
	metrics   *metrics.Metrics
	tracer    trace.Tracer
	destroyed bool

	// live maps accepted connection IDs to whether they finished a
	// WebSocket upgrade. Only touched from event handlers.
	live map[uint64]bool
}

// view is the part of a Server read by event handlers.
type view struct {
	cfg     Config
	httpH   HTTPHandler
	msgH    MessageHandler
	metrics *metrics.Metrics
	tracer  trace.Tracer
}

// Create returns an idle server. Engine debug output follows the log level
// in effect at the time of the call.
func Create() *Server {
	s := &Server{
		mgr:    engine.NewManager(logging.EngineLogger()),
		tracer: otel.Tracer(tracerName),
		live:   make(map[uint64]bool),
	}
	logging.Debug("Server created")
	return s
}

// Destroy closes every connection and releases the server. Every later call
// returns ErrInvalidHandle.
func (s *Server) Destroy() {
	if s == nil {
		return
	}
	s.mu.Lock()
	mgr := s.mgr
	s.mgr = nil
	s.listener = nil
	s.destroyed = true
	s.mu.Unlock()

	if mgr != nil {
		mgr.Free()
	}
	logging.Debug("Server destroyed")
}

// SetConfig replaces the configuration used by the next Start.
func (s *Server) SetConfig(cfg *Config) error {
	if s == nil {
		return ErrInvalidHandle
	}
	if cfg == nil {
		return fmt.Errorf("%w: nil config", ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return ErrInvalidHandle
	}
	s.cfg = *cfg
	logging.Debug("Server configured",
		zap.Int("port", cfg.Port),
		zap.Bool("tls", cfg.UseTLS),
		zap.Bool("websocket", cfg.EnableWS),
		zap.String("root_dir", cfg.RootDir),
	)
	return nil
}

// SetCallbacks replaces the handlers and user data. Either handler may be
// nil: HTTP requests then go straight to the static root and WebSocket
// messages are dropped.
func (s *Server) SetCallbacks(h HTTPHandler, m MessageHandler, userData any) error {
	if s == nil {
		return ErrInvalidHandle
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return ErrInvalidHandle
	}
	s.httpH = h
	s.msgH = m
	s.userData = userData
	return nil
}

// UserData returns the value passed to SetCallbacks.
func (s *Server) UserData() any {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userData
}

// EnableMetrics registers Prometheus collectors for this server with reg.
func (s *Server) EnableMetrics(reg prometheus.Registerer) error {
	if s == nil {
		return ErrInvalidHandle
	}
	if reg == nil {
		return fmt.Errorf("%w: nil registerer", ErrInvalidInput)
	}

	m, err := metrics.New(metrics.WithRegistry(reg))
	if err != nil {
		return fmt.Errorf("registering metrics: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return ErrInvalidHandle
	}
	s.metrics = m
	return nil
}

// SetTracerProvider replaces the provider used for callback spans. The
// global provider is used by default.
func (s *Server) SetTracerProvider(tp trace.TracerProvider) error {
	if s == nil {
		return ErrInvalidHandle
	}
	if tp == nil {
		return fmt.Errorf("%w: nil tracer provider", ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return ErrInvalidHandle
	}
	s.tracer = tp.Tracer(tracerName)
	return nil
}

// Start binds the configured address.
func (s *Server) Start() error {
	if s == nil {
		return ErrInvalidHandle
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mgr == nil {
		return ErrInvalidHandle
	}
	if s.listener != nil {
		return ErrAlreadyListening
	}

	cfg := s.cfg.withDefaults()
	scheme := "http"
	if cfg.UseTLS {
		scheme = "https"
	}
	addr := fmt.Sprintf("%s://%s", scheme, net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)))

	lc, err := s.mgr.Listen(addr, s.handleEvent)
	if err != nil {
		logging.Error("Failed to start listener", zap.String("addr", addr), zap.Error(err))
		return fmt.Errorf("%w: %w", ErrIO, err)
	}
	s.listener = lc

	logging.Info("Server listening",
		zap.String("addr", addr),
		zap.String("local", lc.LocalAddr()),
		zap.Bool("websocket", cfg.EnableWS),
		zap.String("ws_path", cfg.WSPath),
	)
	return nil
}

// Stop closes the listener and every connection. The server can be started
// again afterwards.
func (s *Server) Stop() {
	if s == nil {
		return
	}

	s.mu.Lock()
	old := s.mgr
	if old == nil {
		s.mu.Unlock()
		return
	}
	s.mgr = engine.NewManager(logging.EngineLogger())
	s.listener = nil
	s.mu.Unlock()

	// Free delivers EvClose on this goroutine, so it must run unlocked.
	old.Free()
	logging.Info("Server stopped")
}

// Poll dispatches pending events, waiting up to timeoutMs milliseconds for
// the first one when none is ready.
func (s *Server) Poll(timeoutMs int) {
	mgr, err := s.manager()
	if err != nil {
		return
	}
	if timeoutMs < 0 {
		timeoutMs = 0
	}
	mgr.Poll(time.Duration(timeoutMs) * time.Millisecond)
}

// Serve calls Poll until ctx is done or the server is destroyed.
func (s *Server) Serve(ctx context.Context, pollInterval time.Duration) error {
	if pollInterval < time.Millisecond {
		pollInterval = 100 * time.Millisecond
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if _, err := s.manager(); err != nil {
			return err
		}
		s.Poll(int(pollInterval / time.Millisecond))
	}
}

// Addr returns the bound listener address, or "" when not listening.
func (s *Server) Addr() string {
	if s == nil {
		return ""
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.LocalAddr()
}

// Conns returns the live connections ordered by identifier.
func (s *Server) Conns() []ConnInfo {
	mgr, err := s.manager()
	if err != nil {
		return nil
	}

	conns := mgr.Conns()
	infos := make([]ConnInfo, 0, len(conns))
	for _, c := range conns {
		role := RoleAccepted
		switch {
		case c.IsListening():
			role = RoleListening
		case c.IsWebSocket():
			role = RoleWebSocket
		}
		infos = append(infos, ConnInfo{
			ID:     c.ID(),
			Role:   role,
			TLS:    c.IsTLS(),
			Local:  c.LocalAddr(),
			Remote: c.RemoteAddr(),
		})
	}
	return infos
}

func (s *Server) manager() (*engine.Manager, error) {
	if s == nil {
		return nil, ErrInvalidHandle
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mgr == nil {
		return nil, ErrInvalidHandle
	}
	return s.mgr, nil
}

func (s *Server) view() view {
	s.mu.Lock()
	defer s.mu.Unlock()
	return view{
		cfg:     s.cfg.withDefaults(),
		httpH:   s.httpH,
		msgH:    s.msgH,
		metrics: s.metrics,
		tracer:  s.tracer,
	}
}
