package main

import (
	"bytes"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/muurk/embedsrv/internal/config"
)

func TestCertParams(t *testing.T) {
	p := certParams([]string{"kiosk.local", "192.168.1.20", ""}, 30)

	if p.CommonName != "kiosk.local" {
		t.Errorf("CommonName = %q, want kiosk.local", p.CommonName)
	}
	if p.ValidDays != 30 {
		t.Errorf("ValidDays = %d, want 30", p.ValidDays)
	}
	if diff := cmp.Diff([]string{"localhost", "kiosk.local"}, p.DNSNames); diff != "" {
		t.Errorf("DNSNames mismatch (-want +got):\n%s", diff)
	}
	found := false
	for _, ip := range p.IPAddresses {
		if ip.Equal(net.ParseIP("192.168.1.20")) {
			found = true
		}
	}
	if !found {
		t.Errorf("IPAddresses = %v, missing 192.168.1.20", p.IPAddresses)
	}

	if def := certParams(nil, 365); def.CommonName != "localhost" {
		t.Errorf("default CommonName = %q", def.CommonName)
	}
}

func TestApplyServeFlags(t *testing.T) {
	cmd := &cobra.Command{}
	cmd.Flags().AddFlagSet(serveCmd.Flags())
	if err := cmd.Flags().Parse([]string{"--port", "9001", "--ws=false", "--poll-interval", "20ms", "--metrics-addr", "127.0.0.1:0"}); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		serveCmd.Flags().VisitAll(func(f *pflag.Flag) {
			f.Changed = false
			_ = f.Value.Set(f.DefValue)
		})
	})

	f := config.NewFile()
	f.Server.RootDir = "/srv/www"
	applyServeFlags(cmd, f)

	if f.Server.Port != 9001 {
		t.Errorf("Port = %d, want 9001", f.Server.Port)
	}
	if f.Server.WebSocket {
		t.Error("WebSocket should be disabled by --ws=false")
	}
	if f.Server.PollInterval != 20*time.Millisecond {
		t.Errorf("PollInterval = %v", f.Server.PollInterval)
	}
	if f.Metrics.Addr != "127.0.0.1:0" {
		t.Errorf("Metrics.Addr = %q", f.Metrics.Addr)
	}
	if f.Server.RootDir != "/srv/www" {
		t.Errorf("RootDir = %q, unset flags must not override the file", f.Server.RootDir)
	}
}

func TestGencertCommand(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "tls")
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"gencert", "--dir", dir, "--host", "kiosk.local"})
	t.Cleanup(func() { rootCmd.SetArgs(nil); rootCmd.SetOut(nil) })

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("gencert error = %v", err)
	}
	for _, name := range []string{"server.crt", "server.key"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("%s not written: %v", name, err)
		}
	}
	if !strings.Contains(out.String(), "Certificate written") {
		t.Errorf("output:\n%s", out.String())
	}
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"version"})
	t.Cleanup(func() { rootCmd.SetArgs(nil); rootCmd.SetOut(nil) })

	if err := rootCmd.Execute(); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out.String(), "embedsrv ") {
		t.Errorf("version output = %q", out.String())
	}
}
