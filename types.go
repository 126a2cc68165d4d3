package embedsrv

import (
	"net/http"

	"github.com/muurk/embedsrv/internal/logging"
)

// Defaults applied by Start to empty Config fields.
const (
	DefaultHost   = "0.0.0.0"
	DefaultWSPath = "/ws"
)

// Config describes the listener a Server binds on Start.
type Config struct {
	Port     int
	UseTLS   bool
	EnableWS bool

	// CertFile and KeyFile are PEM files read on every accepted TLS
	// connection, so replacing them on disk takes effect without a restart.
	CertFile string
	KeyFile  string

	// RootDir is the static root. Empty means the working directory.
	RootDir string

	Host   string // bind address, DefaultHost when empty
	WSPath string // upgrade path, DefaultWSPath when empty
}

func (c Config) withDefaults() Config {
	if c.Host == "" {
		c.Host = DefaultHost
	}
	if c.WSPath == "" {
		c.WSPath = DefaultWSPath
	}
	return c
}

// HTTPRequest is the request handed to an HTTPHandler. It must not be
// retained after the handler returns.
type HTTPRequest struct {
	Method  string
	URI     string
	Query   string
	Headers http.Header
	Body    []byte
}

// HTTPResponse is filled in by an HTTPHandler. A non-nil Body is sent as is
// with StatusCode (0 means 200) and Headers, which holds extra
// "Name: value\r\n" lines. A nil Body leaves the request to the static root.
type HTTPResponse struct {
	StatusCode int
	Headers    string
	Body       []byte
}

// WSMessage is a WebSocket message. Inbound messages are only valid during
// the MessageHandler call; outbound ones are copied before queuing.
type WSMessage struct {
	Data   []byte
	Binary bool
}

// HTTPHandler answers HTTP requests. It runs on the goroutine calling Poll.
type HTTPHandler interface {
	HandleHTTP(s *Server, connID uint64, req *HTTPRequest, res *HTTPResponse)
}

// MessageHandler receives WebSocket messages. It runs on the goroutine
// calling Poll.
type MessageHandler interface {
	HandleMessage(s *Server, connID uint64, msg *WSMessage)
}

// HTTPHandlerFunc adapts a function to HTTPHandler.
type HTTPHandlerFunc func(s *Server, connID uint64, req *HTTPRequest, res *HTTPResponse)

func (f HTTPHandlerFunc) HandleHTTP(s *Server, connID uint64, req *HTTPRequest, res *HTTPResponse) {
	f(s, connID, req, res)
}

// MessageHandlerFunc adapts a function to MessageHandler.
type MessageHandlerFunc func(s *Server, connID uint64, msg *WSMessage)

func (f MessageHandlerFunc) HandleMessage(s *Server, connID uint64, msg *WSMessage) {
	f(s, connID, msg)
}

// LogLevel is the minimum severity written by the logging subsystem.
type LogLevel = logging.Level

const (
	LogLevelNone  = logging.LevelNone
	LogLevelError = logging.LevelError
	LogLevelWarn  = logging.LevelWarn
	LogLevelInfo  = logging.LevelInfo
	LogLevelDebug = logging.LevelDebug
	LogLevelTrace = logging.LevelTrace
)

// LogTarget selects where log records go.
type LogTarget = logging.Target

const (
	LogTargetConsole = logging.TargetConsole
	LogTargetFile    = logging.TargetFile
)

// Connection roles reported in ConnInfo.
const (
	RoleListening = "listening"
	RoleAccepted  = "accepted"
	RoleWebSocket = "websocket"
)

// ConnInfo describes a live connection.
type ConnInfo struct {
	ID     uint64 `json:"id"`
	Role   string `json:"role"`
	TLS    bool   `json:"tls"`
	Local  string `json:"local"`
	Remote string `json:"remote,omitempty"`
}
