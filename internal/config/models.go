package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/muurk/embedsrv"
	"github.com/muurk/embedsrv/internal/logging"
)

// currentVersion is the only file version this package reads.
const currentVersion = 1

// File represents the entire configuration file.
type File struct {
	Version      int                     `yaml:"version"`
	Server       *ServerSection          `yaml:"server,omitempty"`
	Logging      *LoggingSection         `yaml:"logging,omitempty"`
	Metrics      *MetricsSection         `yaml:"metrics,omitempty"`
	Discovery    *DiscoverySection       `yaml:"discovery,omitempty"`
	KnownServers map[string]*KnownServer `yaml:"known_servers,omitempty"` // Keyed by mDNS instance name
}

// ServerSection describes the listener started by `embedsrv serve`.
type ServerSection struct {
	Host         string        `yaml:"host,omitempty"`
	Port         int           `yaml:"port"`
	TLS          bool          `yaml:"tls"`
	CertFile     string        `yaml:"cert_file,omitempty"`
	KeyFile      string        `yaml:"key_file,omitempty"`
	WebSocket    bool          `yaml:"websocket"`
	WSPath       string        `yaml:"ws_path,omitempty"`
	RootDir      string        `yaml:"root_dir,omitempty"`
	PollInterval time.Duration `yaml:"poll_interval,omitempty"` // e.g. "100ms"
}

// LoggingSection selects level and target. An empty File logs to the console.
type LoggingSection struct {
	Level string `yaml:"level,omitempty"` // none, error, warn, info, debug, trace
	File  string `yaml:"file,omitempty"`
}

// MetricsSection configures the Prometheus admin listener.
type MetricsSection struct {
	Addr string `yaml:"addr,omitempty"` // e.g. "127.0.0.1:9100"; empty disables it
}

// DiscoverySection configures mDNS advertisement and browsing.
type DiscoverySection struct {
	Advertise     bool   `yaml:"advertise"`
	Instance      string `yaml:"instance,omitempty"`
	BrowseTimeout int    `yaml:"browse_timeout"` // seconds
}

// KnownServer is an embedsrv instance seen by `embedsrv discover`.
type KnownServer struct {
	Host     string    `yaml:"host"`
	Port     int       `yaml:"port"`
	TLS      bool      `yaml:"tls"`
	LastSeen time.Time `yaml:"last_seen,omitempty"`
}

// NewFile creates a File with default values.
func NewFile() *File {
	return &File{
		Version: currentVersion,
		Server: &ServerSection{
			Host:         embedsrv.DefaultHost,
			Port:         8000,
			WebSocket:    true,
			WSPath:       embedsrv.DefaultWSPath,
			RootDir:      ".",
			PollInterval: 100 * time.Millisecond,
		},
		Logging: &LoggingSection{
			Level: "info",
		},
		Metrics: &MetricsSection{},
		Discovery: &DiscoverySection{
			BrowseTimeout: 5,
		},
		KnownServers: make(map[string]*KnownServer),
	}
}

// fillDefaults replaces missing sections with their defaults.
func (f *File) fillDefaults() {
	defaults := NewFile()
	if f.Server == nil {
		f.Server = defaults.Server
	}
	if f.Logging == nil {
		f.Logging = defaults.Logging
	}
	if f.Metrics == nil {
		f.Metrics = defaults.Metrics
	}
	if f.Discovery == nil {
		f.Discovery = defaults.Discovery
	}
	if f.KnownServers == nil {
		f.KnownServers = make(map[string]*KnownServer)
	}
}

// Validate reports every problem found in the file.
func (f *File) Validate() error {
	var errs []error
	if f.Version != currentVersion {
		errs = append(errs, fmt.Errorf("unsupported config version: %d (expected %d)", f.Version, currentVersion))
	}
	if s := f.Server; s != nil {
		if s.Port < 0 || s.Port > 65535 {
			errs = append(errs, fmt.Errorf("server.port %d out of range", s.Port))
		}
		if s.TLS && (s.CertFile == "" || s.KeyFile == "") {
			errs = append(errs, errors.New("server.tls requires cert_file and key_file"))
		}
		if s.PollInterval < 0 {
			errs = append(errs, errors.New("server.poll_interval must not be negative"))
		}
	}
	if l := f.Logging; l != nil && l.Level != "" {
		if _, err := logging.ParseLevel(l.Level); err != nil {
			errs = append(errs, fmt.Errorf("logging.level: %w", err))
		}
	}
	return errors.Join(errs...)
}

// ServerConfig converts the server section into an embedsrv.Config.
func (f *File) ServerConfig() embedsrv.Config {
	s := f.Server
	if s == nil {
		s = NewFile().Server
	}
	return embedsrv.Config{
		Port:     s.Port,
		UseTLS:   s.TLS,
		EnableWS: s.WebSocket,
		CertFile: s.CertFile,
		KeyFile:  s.KeyFile,
		RootDir:  s.RootDir,
		Host:     s.Host,
		WSPath:   s.WSPath,
	}
}

// RememberServer records a discovered instance and when it was seen.
func (f *File) RememberServer(instance, host string, port int, tls bool) {
	if f.KnownServers == nil {
		f.KnownServers = make(map[string]*KnownServer)
	}
	f.KnownServers[instance] = &KnownServer{
		Host:     host,
		Port:     port,
		TLS:      tls,
		LastSeen: time.Now(),
	}
}
