package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/muurk/embedsrv"
	"github.com/muurk/embedsrv/internal/config"
	"github.com/muurk/embedsrv/internal/discovery"
	"github.com/muurk/embedsrv/internal/logging"
	"github.com/muurk/embedsrv/internal/ui"
	"github.com/muurk/embedsrv/internal/version"
)

// Serve command flags. Only flags set on the command line override the
// config file.
var (
	serveHost         string
	servePort         int
	serveTLS          bool
	serveCert         string
	serveKey          string
	serveWS           bool
	serveWSPath       string
	serveRoot         string
	servePollInterval time.Duration
	serveLogLevel     string
	serveLogFile      string
	serveMetricsAddr  string
	serveMDNS         bool
	serveInstance     string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the demo server",
	Long: `Run the demo host on top of the embedsrv library.

  /api/stats     JSON list of live connections
  /api/echo/*    JSON echo of the request URI
  <ws-path>      WebSocket endpoint that echoes every message
  anything else  static files under the root directory

Settings come from the config file; flags given on the command line win.`,
	Example: `  # Plain HTTP on port 8000 serving the current directory
  embedsrv serve

  # HTTPS with a development certificate
  embedsrv gencert --dir ./tls
  embedsrv serve --tls --cert ./tls/server.crt --key ./tls/server.key --port 8443

  # Expose Prometheus metrics and advertise over mDNS
  embedsrv serve --metrics-addr 127.0.0.1:9100 --mdns`,
	RunE: runServe,
}

func init() {
	f := serveCmd.Flags()
	f.StringVar(&serveHost, "host", embedsrv.DefaultHost, "Interface to bind")
	f.IntVar(&servePort, "port", 8000, "Port to listen on (0 picks a free port)")
	f.BoolVar(&serveTLS, "tls", false, "Serve HTTPS")
	f.StringVar(&serveCert, "cert", "", "PEM certificate file, read on every accepted connection")
	f.StringVar(&serveKey, "key", "", "PEM private key file, read on every accepted connection")
	f.BoolVar(&serveWS, "ws", true, "Accept WebSocket upgrades")
	f.StringVar(&serveWSPath, "ws-path", embedsrv.DefaultWSPath, "URI that is upgraded to a WebSocket")
	f.StringVar(&serveRoot, "root", ".", "Static file root directory")
	f.DurationVar(&servePollInterval, "poll-interval", 100*time.Millisecond, "Event poll interval")
	f.StringVar(&serveLogLevel, "log-level", "info", "Log level (none, error, warn, info, debug, trace)")
	f.StringVar(&serveLogFile, "log-file", "", "Append logs to this file instead of the console")
	f.StringVar(&serveMetricsAddr, "metrics-addr", "", "Serve /metrics and /healthz on this address")
	f.BoolVar(&serveMDNS, "mdns", false, "Advertise the server over mDNS")
	f.StringVar(&serveInstance, "instance", "", "mDNS instance name (default: host name)")
}

// applyServeFlags copies explicitly set flags over the loaded file.
func applyServeFlags(cmd *cobra.Command, f *config.File) {
	flags := cmd.Flags()
	s := f.Server
	if flags.Changed("host") {
		s.Host = serveHost
	}
	if flags.Changed("port") {
		s.Port = servePort
	}
	if flags.Changed("tls") {
		s.TLS = serveTLS
	}
	if flags.Changed("cert") {
		s.CertFile = serveCert
	}
	if flags.Changed("key") {
		s.KeyFile = serveKey
	}
	if flags.Changed("ws") {
		s.WebSocket = serveWS
	}
	if flags.Changed("ws-path") {
		s.WSPath = serveWSPath
	}
	if flags.Changed("root") {
		s.RootDir = serveRoot
	}
	if flags.Changed("poll-interval") {
		s.PollInterval = servePollInterval
	}
	if flags.Changed("log-level") {
		f.Logging.Level = serveLogLevel
	}
	if flags.Changed("log-file") {
		f.Logging.File = serveLogFile
	}
	if flags.Changed("metrics-addr") {
		f.Metrics.Addr = serveMetricsAddr
	}
	if flags.Changed("mdns") {
		f.Discovery.Advertise = serveMDNS
	}
	if flags.Changed("instance") {
		f.Discovery.Instance = serveInstance
	}
}

// configureLogging applies the logging section through the public API.
func configureLogging(l *config.LoggingSection) error {
	level, err := logging.ParseLevel(l.Level)
	if err != nil {
		return err
	}
	embedsrv.SetLogLevel(level != embedsrv.LogLevelNone, level)
	if l.File != "" {
		embedsrv.SetLogTarget(embedsrv.LogTargetFile, l.File)
	} else {
		embedsrv.SetLogTarget(embedsrv.LogTargetConsole, "")
	}
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	f, err := config.Load(configPath)
	if err != nil {
		return err
	}
	applyServeFlags(cmd, f)
	if err := f.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := configureLogging(f.Logging); err != nil {
		return err
	}
	defer logging.Sync()

	s := embedsrv.Create()
	defer s.Destroy()

	cfg := f.ServerConfig()
	if err := s.SetConfig(&cfg); err != nil {
		return err
	}
	d := newDemo()
	if err := s.SetCallbacks(d, d, nil); err != nil {
		return err
	}

	var admin *adminServer
	if addr := f.Metrics.Addr; addr != "" {
		reg := newRegistry()
		if err := s.EnableMetrics(reg); err != nil {
			return err
		}
		if admin, err = startAdmin(addr, reg); err != nil {
			return fmt.Errorf("failed to start metrics listener: %w", err)
		}
		defer admin.Shutdown()
	}

	if err := s.Start(); err != nil {
		return err
	}

	var adv *discovery.Advertiser
	if f.Discovery.Advertise {
		adv, err = advertise(s.Addr(), f)
		if err != nil {
			logging.Warn("mDNS advertisement failed", zap.Error(err))
		} else {
			defer adv.Shutdown()
		}
	}

	printServeHeader(cmd, s.Addr(), f, admin, adv)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logging.Info("Server running", zap.String("addr", s.Addr()))
	err = s.Serve(ctx, f.Server.PollInterval)
	s.Stop()
	if errors.Is(err, context.Canceled) {
		logging.Info("Server stopped")
		return nil
	}
	return err
}

func advertise(addr string, f *config.File) (*discovery.Advertiser, error) {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, err
	}

	a := discovery.Announcement{
		Instance: f.Discovery.Instance,
		Port:     port,
		TLS:      f.Server.TLS,
		Version:  version.Short(),
	}
	if f.Server.WebSocket {
		a.WSPath = f.Server.WSPath
	}
	return discovery.Advertise(a)
}

func printServeHeader(cmd *cobra.Command, addr string, f *config.File, admin *adminServer, adv *discovery.Advertiser) {
	scheme := "http"
	if f.Server.TLS {
		scheme = "https"
	}
	params := map[string]string{
		"Listen": scheme + "://" + addr,
		"Root":   f.Server.RootDir,
		"Log":    f.Logging.Level,
	}
	if f.Server.WebSocket {
		params["WebSocket"] = f.Server.WSPath
	}
	if admin != nil {
		params["Metrics"] = "http://" + admin.Addr() + "/metrics"
	}
	if adv != nil {
		params["mDNS"] = adv.Instance()
	}
	ui.NewPrinter(cmd.OutOrStdout()).PrintHeader("Embedded Server", "embedsrv serve", params)
}
