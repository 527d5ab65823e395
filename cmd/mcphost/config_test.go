package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// isolate points HOME and the working directory at empty temp dirs so no
// real config file or store leaks into the test, and resets the global
// flag variables.
func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Chdir(t.TempDir())

	saveConfig, saveLevel, saveFormat := flagConfig, flagLogLevel, flagLogFormat
	flagConfig, flagLogLevel, flagLogFormat = "", "", ""
	t.Cleanup(func() {
		flagConfig, flagLogLevel, flagLogFormat = saveConfig, saveLevel, saveFormat
	})
	return home
}

func TestLoadDaemonConfigDefaults(t *testing.T) {
	home := isolate(t)

	cfg, err := loadDaemonConfig("")
	if err != nil {
		t.Fatalf("loadDaemonConfig() error = %v", err)
	}
	if cfg.Addr != ":8800" {
		t.Errorf("Addr = %q, want %q", cfg.Addr, ":8800")
	}
	if want := filepath.Join(home, ".mcphost", "servers.json"); cfg.StorePath != want {
		t.Errorf("StorePath = %q, want %q", cfg.StorePath, want)
	}
	if cfg.MaxServers != 5 {
		t.Errorf("MaxServers = %d, want 5", cfg.MaxServers)
	}
	if cfg.HistorySize != 100 {
		t.Errorf("HistorySize = %d, want 100", cfg.HistorySize)
	}
	if len(cfg.AllowedOrigins) != 1 || cfg.AllowedOrigins[0] != "*" {
		t.Errorf("AllowedOrigins = %v, want [*]", cfg.AllowedOrigins)
	}
	if cfg.HandshakeTimeout != 0 {
		t.Errorf("HandshakeTimeout = %v, want 0", cfg.HandshakeTimeout)
	}
	if cfg.LogLevel != "info" || cfg.LogFormat != "auto" {
		t.Errorf("logging = %q/%q, want info/auto", cfg.LogLevel, cfg.LogFormat)
	}
}

func TestLoadDaemonConfigFromFile(t *testing.T) {
	isolate(t)

	path := filepath.Join(t.TempDir(), "mcphost.yaml")
	doc := `addr: ":9000"
store_path: /var/lib/mcphost/servers.json
max_servers: 12
handshake_timeout: 30s
allowed_origins:
  - http://localhost:5173
log_level: debug
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := loadDaemonConfig(path)
	if err != nil {
		t.Fatalf("loadDaemonConfig(%q) error = %v", path, err)
	}
	if cfg.Addr != ":9000" {
		t.Errorf("Addr = %q, want %q", cfg.Addr, ":9000")
	}
	if cfg.StorePath != "/var/lib/mcphost/servers.json" {
		t.Errorf("StorePath = %q", cfg.StorePath)
	}
	if cfg.MaxServers != 12 {
		t.Errorf("MaxServers = %d, want 12", cfg.MaxServers)
	}
	if cfg.HandshakeTimeout != 30*time.Second {
		t.Errorf("HandshakeTimeout = %v, want 30s", cfg.HandshakeTimeout)
	}
	if len(cfg.AllowedOrigins) != 1 || cfg.AllowedOrigins[0] != "http://localhost:5173" {
		t.Errorf("AllowedOrigins = %v", cfg.AllowedOrigins)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
	// Unset keys keep their defaults.
	if cfg.HistorySize != 100 {
		t.Errorf("HistorySize = %d, want default 100", cfg.HistorySize)
	}
}

func TestLoadDaemonConfigEnvBeatsFile(t *testing.T) {
	isolate(t)

	path := filepath.Join(t.TempDir(), "mcphost.yaml")
	if err := os.WriteFile(path, []byte("addr: \":9000\"\nlog_level: debug\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("MCPHOST_ADDR", ":7700")
	t.Setenv("MCPHOST_MAX_SERVERS", "3")

	cfg, err := loadDaemonConfig(path)
	if err != nil {
		t.Fatalf("loadDaemonConfig() error = %v", err)
	}
	if cfg.Addr != ":7700" {
		t.Errorf("Addr = %q, want env value :7700", cfg.Addr)
	}
	if cfg.MaxServers != 3 {
		t.Errorf("MaxServers = %d, want env value 3", cfg.MaxServers)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want file value debug", cfg.LogLevel)
	}
}

func TestLoadDaemonConfigFlagBeatsEverything(t *testing.T) {
	isolate(t)
	t.Setenv("MCPHOST_LOG_LEVEL", "error")
	flagLogLevel = "warn"
	flagLogFormat = "json"

	cfg, err := loadDaemonConfig("")
	if err != nil {
		t.Fatalf("loadDaemonConfig() error = %v", err)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("LogLevel = %q, want flag value warn", cfg.LogLevel)
	}
	if cfg.LogFormat != "json" {
		t.Errorf("LogFormat = %q, want flag value json", cfg.LogFormat)
	}
}

func TestLoadDaemonConfigMissingExplicitFile(t *testing.T) {
	isolate(t)

	_, err := loadDaemonConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("expected error for missing explicit config file")
	}
	if !strings.Contains(err.Error(), "read config") {
		t.Errorf("error = %v, want read config wrapper", err)
	}
}

func TestLoadDaemonConfigRejectsMalformedFile(t *testing.T) {
	isolate(t)

	path := filepath.Join(t.TempDir(), "mcphost.yaml")
	if err := os.WriteFile(path, []byte("addr: [broken\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := loadDaemonConfig(path); err == nil {
		t.Fatal("expected error for malformed yaml")
	}
}
