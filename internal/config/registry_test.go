package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/muurk/embedsrv"
)

func TestGetConfigDir(t *testing.T) {
	if runtime.GOOS != "windows" && runtime.GOOS != "darwin" {
		t.Setenv("XDG_CONFIG_HOME", "/tmp/xdg")
	}

	configDir, err := GetConfigDir()
	if err != nil {
		t.Fatalf("GetConfigDir() error = %v", err)
	}
	if !strings.Contains(configDir, "embedsrv") {
		t.Errorf("GetConfigDir() = %v, should contain 'embedsrv'", configDir)
	}

	switch runtime.GOOS {
	case "windows":
		if !strings.Contains(configDir, "AppData") && !strings.Contains(configDir, "Local") {
			t.Errorf("Windows config dir should contain 'AppData' or 'Local', got: %v", configDir)
		}
	case "darwin":
		if !strings.Contains(configDir, ".config") {
			t.Errorf("macOS config dir should contain '.config', got: %v", configDir)
		}
	default:
		if configDir != filepath.Join("/tmp/xdg", "embedsrv") {
			t.Errorf("GetConfigDir() = %v, want XDG_CONFIG_HOME/embedsrv", configDir)
		}
	}
}

func TestGetConfigPath(t *testing.T) {
	configPath, err := GetConfigPath()
	if err != nil {
		t.Fatalf("GetConfigPath() error = %v", err)
	}
	if filepath.Base(configPath) != "config.yaml" {
		t.Errorf("GetConfigPath() should end with 'config.yaml', got: %v", configPath)
	}
}

func TestLoadMissingFileGivesDefaults(t *testing.T) {
	f, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if diff := cmp.Diff(NewFile(), f); diff != "" {
		t.Errorf("defaults mismatch (-want +got):\n%s", diff)
	}
}

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	want := NewFile()
	want.Server.Port = 8443
	want.Server.TLS = true
	want.Server.CertFile = "/etc/embedsrv/server.crt"
	want.Server.KeyFile = "/etc/embedsrv/server.key"
	want.Server.PollInterval = 250 * time.Millisecond
	want.Logging.Level = "debug"
	want.Logging.File = "/var/log/embedsrv.log"
	want.Metrics.Addr = "127.0.0.1:9100"
	want.Discovery.Advertise = true
	want.Discovery.Instance = "kiosk"
	want.RememberServer("lab", "192.168.1.20", 8000, false)

	if err := want.Save(path); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("config file not written: %v", err)
	}
	if runtime.GOOS != "windows" && info.Mode().Perm() != 0600 {
		t.Errorf("config file mode = %v, want 0600", info.Mode().Perm())
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("temporary file left behind")
	}

	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	opts := cmpopts.EquateApproxTime(time.Second)
	if diff := cmp.Diff(want, got, opts); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadPartialFileFillsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "version: 1\nserver:\n  port: 9000\n  websocket: true\n"
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	f, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if f.Server.Port != 9000 {
		t.Errorf("Server.Port = %d, want 9000", f.Server.Port)
	}
	if f.Logging == nil || f.Logging.Level != "info" {
		t.Errorf("Logging = %+v, want defaults", f.Logging)
	}
	if f.KnownServers == nil {
		t.Error("KnownServers should be initialized")
	}
}

func TestLoadRejectsBadFiles(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"wrong version", "version: 2\n"},
		{"not yaml", "server: [unterminated\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			if err := os.WriteFile(path, []byte(tt.content), 0600); err != nil {
				t.Fatal(err)
			}
			if _, err := Load(path); err == nil {
				t.Error("Load() should fail")
			}
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(f *File)
		wantErr string
	}{
		{"defaults", func(f *File) {}, ""},
		{"port out of range", func(f *File) { f.Server.Port = 70000 }, "out of range"},
		{"tls without files", func(f *File) { f.Server.TLS = true }, "requires cert_file"},
		{"bad log level", func(f *File) { f.Logging.Level = "loud" }, "logging.level"},
		{"negative poll", func(f *File) { f.Server.PollInterval = -time.Second }, "poll_interval"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewFile()
			tt.mutate(f)
			err := f.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestServerConfig(t *testing.T) {
	f := NewFile()
	f.Server.TLS = true
	f.Server.CertFile = "a.crt"
	f.Server.KeyFile = "a.key"
	f.Server.RootDir = "/srv/www"

	want := embedsrv.Config{
		Port:     8000,
		UseTLS:   true,
		EnableWS: true,
		CertFile: "a.crt",
		KeyFile:  "a.key",
		RootDir:  "/srv/www",
		Host:     embedsrv.DefaultHost,
		WSPath:   embedsrv.DefaultWSPath,
	}
	if diff := cmp.Diff(want, f.ServerConfig()); diff != "" {
		t.Errorf("ServerConfig() mismatch (-want +got):\n%s", diff)
	}
}

func TestRememberServer(t *testing.T) {
	f := &File{Version: 1}

	before := time.Now()
	f.RememberServer("kiosk", "10.0.0.5", 8443, true)

	got := f.KnownServers["kiosk"]
	if got == nil {
		t.Fatal("server not recorded")
	}
	if got.Host != "10.0.0.5" || got.Port != 8443 || !got.TLS {
		t.Errorf("recorded %+v", got)
	}
	if got.LastSeen.Before(before) {
		t.Errorf("LastSeen = %v, should not be before %v", got.LastSeen, before)
	}
}

func TestCreateDefaultConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if _, err := CreateDefaultConfig(path); err != nil {
		t.Fatalf("CreateDefaultConfig() error = %v", err)
	}
	if _, err := CreateDefaultConfig(path); err == nil {
		t.Error("CreateDefaultConfig() should refuse to overwrite")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(data), "# embedsrv configuration file") {
		t.Errorf("missing header comment:\n%s", data)
	}
}

func BenchmarkGetConfigDir(b *testing.B) {
	for i := 0; i < b.N; i++ {
		_, _ = GetConfigDir()
	}
}
