package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"relay/pkg/cryptoutil"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

func TestLoad_AppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "base.yaml", "server:\n  port: 9000\n")

	cfg, err := Load(path, false)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("Server.Port = %d, want 9000", cfg.Server.Port)
	}
	if cfg.Database.Path != "relay.db" {
		t.Errorf("Database.Path = %q, want default relay.db", cfg.Database.Path)
	}
	if cfg.Sweep.Interval != 10*time.Second {
		t.Errorf("Sweep.Interval = %v, want 10s default", cfg.Sweep.Interval)
	}
}

func TestLoad_DevOverlayMergesOnTopOfBase(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "base.yaml", "server:\n  port: 9000\n  host: prod.internal\n")
	writeFile(t, dir, "base.yaml.dev.yaml", "server:\n  port: 9001\n")

	cfg, err := Load(path, true)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9001 {
		t.Errorf("Server.Port = %d, want overlay value 9001", cfg.Server.Port)
	}
	if cfg.Server.Host != "prod.internal" {
		t.Errorf("Server.Host = %q, want base value surviving the overlay", cfg.Server.Host)
	}
}

func TestLoad_EnvAllowlistOverridesDBPath(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "base.yaml", "database:\n  path: base.db\n")

	t.Setenv("RELAY_DB_PATH", "/tmp/override.db")
	cfg, err := Load(path, false)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Database.Path != "/tmp/override.db" {
		t.Errorf("Database.Path = %q, want env override", cfg.Database.Path)
	}
}

func TestLoad_UnknownEnvVarIgnored(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "base.yaml", "server:\n  port: 9000\n")

	t.Setenv("RELAY_SOME_UNKNOWN_VAR", "whatever")
	cfg, err := Load(path, false)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("Server.Port = %d, want unaffected by unknown env var", cfg.Server.Port)
	}
}

func TestLoad_RejectsOutOfRangePort(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "base.yaml", "transport:\n  ingress_port: 99999\n")

	if _, err := Load(path, false); err == nil {
		t.Error("expected validation error for out-of-range ingress_port")
	}
}

func TestLoad_HashesDebugPasswordAndClearsPlaintext(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "base.yaml", "security:\n  debug_password: hunter2\n")

	cfg, err := Load(path, false)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Security.DebugPassword != "" {
		t.Error("expected plaintext DebugPassword to be cleared after Load")
	}
	if !strings.HasPrefix(cfg.Security.DebugPasswordHash, "$2") {
		t.Fatalf("DebugPasswordHash = %q, want a bcrypt hash", cfg.Security.DebugPasswordHash)
	}
	if err := cryptoutil.VerifyPassword("hunter2", cfg.Security.DebugPasswordHash); err != nil {
		t.Errorf("VerifyPassword: %v", err)
	}
}

func TestLoad_MissingFileReturnsError(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), false); err == nil {
		t.Error("expected error for missing config file")
	}
}
