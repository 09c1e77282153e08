// Package config loads the relay's configuration: a base YAML file, an
// optional environment overlay merged on top field-by-field, then a small
// allowlist of environment-variable overrides.
package config

import (
	"fmt"
	"os"
	"reflect"
	"time"

	"gopkg.in/yaml.v3"

	"relay/internal/relaylog"
	"relay/pkg/cryptoutil"
)

// Config is the full, merged configuration for one relay process.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Transport TransportConfig `yaml:"transport"`
	Database  DatabaseConfig  `yaml:"database"`
	Security  SecurityConfig  `yaml:"security"`
	Sweep     SweepConfig     `yaml:"sweep"`
	Logging   LoggingConfig   `yaml:"logging"`

	RuntimePortsFile string `yaml:"runtime_ports_file"`
}

// ServerConfig controls the REST+WebSocket HTTP listener.
type ServerConfig struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// TransportConfig controls the two EA-facing sockets. A port of 0 means
// "let the OS assign one," per spec §6/§9.
type TransportConfig struct {
	IngressPort int `yaml:"ingress_port"`
	EgressPort  int `yaml:"egress_port"`
}

// DatabaseConfig points at the embedded SQLite file.
type DatabaseConfig struct {
	Path        string        `yaml:"path"`
	BusyTimeout time.Duration `yaml:"busy_timeout"`
}

// SecurityConfig holds CORS, TLS, and debug-endpoint credentials.
//
// DebugPassword is the plaintext value read from the config file; Load
// hashes it into DebugPasswordHash with bcrypt and clears the plaintext, so
// nothing downstream of Load ever sees or logs it.
type SecurityConfig struct {
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`
	TLSCertFile        string   `yaml:"tls_cert_file"`
	TLSKeyFile         string   `yaml:"tls_key_file"`
	DebugUsername      string   `yaml:"debug_username"`
	DebugPassword      string   `yaml:"debug_password"`
	DebugPasswordHash  string   `yaml:"-"`
}

// SweepConfig controls the connection manager's liveness sweeper.
type SweepConfig struct {
	Interval        time.Duration `yaml:"interval"`
	TimeoutSeconds  int           `yaml:"timeout_seconds"`
	UnregisterGrace time.Duration `yaml:"unregister_grace"`
}

// LoggingConfig controls relaylog's sink.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	OutputPath string `yaml:"output_path"`
}

// Load reads path as the base config, merges an overlay on top of it (either
// "<path>.dev.yaml" when devOverlay is true, or "<path>.<RELAY_ENV>.yaml"
// when RELAY_ENV is set), applies the environment allowlist, fills in
// defaults, and validates the result.
func Load(path string, devOverlay bool) (*Config, error) {
	cfg := &Config{}
	if err := loadYAMLInto(cfg, path); err != nil {
		return nil, fmt.Errorf("config.Load: base file: %w", err)
	}

	overlayPath := overlayPathFor(path, devOverlay)
	if overlayPath != "" {
		if _, err := os.Stat(overlayPath); err == nil {
			overlay := &Config{}
			if err := loadYAMLInto(overlay, overlayPath); err != nil {
				return nil, fmt.Errorf("config.Load: overlay file: %w", err)
			}
			mergeNonZero(cfg, overlay)
		}
	}

	warnLegacyTradePubPort(path)
	if overlayPath != "" {
		warnLegacyTradePubPort(overlayPath)
	}

	applyEnvOverrides(cfg)
	setDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	if err := hashDebugPassword(cfg); err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	return cfg, nil
}

// hashDebugPassword replaces a configured plaintext debug password with its
// bcrypt hash, so DebugAuth never holds or compares the plaintext directly.
func hashDebugPassword(cfg *Config) error {
	if cfg.Security.DebugPassword == "" {
		return nil
	}
	hash, err := cryptoutil.HashPassword(cfg.Security.DebugPassword)
	if err != nil {
		return fmt.Errorf("hash debug password: %w", err)
	}
	cfg.Security.DebugPasswordHash = hash
	cfg.Security.DebugPassword = ""
	return nil
}

func loadYAMLInto(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse YAML %q: %w", path, err)
	}
	return nil
}

// warnLegacyTradePubPort logs a warning if path still defines a third
// transport port, a leftover from the 2-port/3-port topology drift spec §9
// calls out. The relay only ever binds ingress+egress; a configured
// trade_pub_port is read and ignored.
func warnLegacyTradePubPort(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	var raw struct {
		Transport struct {
			TradePubPort *int `yaml:"trade_pub_port"`
		} `yaml:"transport"`
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return
	}
	if raw.Transport.TradePubPort != nil {
		relaylog.Warn("config defines legacy transport.trade_pub_port; the relay uses a 2-port ingress/egress topology and ignores it",
			relaylog.String("config_path", path))
	}
}

func overlayPathFor(basePath string, devOverlay bool) string {
	if devOverlay {
		return basePath + ".dev.yaml"
	}
	if env := os.Getenv("RELAY_ENV"); env != "" {
		return basePath + "." + env + ".yaml"
	}
	return ""
}

// mergeNonZero copies every non-zero-valued field of overlay onto dst,
// recursing into nested structs; a slice is copied when the overlay's is
// non-empty. Empty slices and the zero value of any scalar are left alone so
// the base file's value survives an overlay that doesn't mention that field.
func mergeNonZero(dst, overlay *Config) {
	mergeStruct(reflect.ValueOf(dst).Elem(), reflect.ValueOf(overlay).Elem())
}

func mergeStruct(dst, src reflect.Value) {
	for i := 0; i < dst.NumField(); i++ {
		df, sf := dst.Field(i), src.Field(i)
		switch sf.Kind() {
		case reflect.Struct:
			mergeStruct(df, sf)
		case reflect.Slice:
			if sf.Len() > 0 {
				df.Set(sf)
			}
		default:
			if !sf.IsZero() {
				df.Set(sf)
			}
		}
	}
}

// applyEnvOverrides applies the small allowlist spec §6 names: environment
// selector, database path override, log directory override. Everything
// else is ignored, even if set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("RELAY_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("RELAY_LOG_DIR"); v != "" {
		cfg.Logging.OutputPath = v
	}
}

func setDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 10 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 10 * time.Second
	}
	if cfg.Server.RequestTimeout == 0 {
		cfg.Server.RequestTimeout = 30 * time.Second
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "relay.db"
	}
	if cfg.Database.BusyTimeout == 0 {
		cfg.Database.BusyTimeout = 5 * time.Second
	}
	if len(cfg.Security.CORSAllowedOrigins) == 0 {
		cfg.Security.CORSAllowedOrigins = []string{
			"http://localhost:3000",
			"http://127.0.0.1:3000",
		}
	}
	if cfg.Sweep.Interval == 0 {
		cfg.Sweep.Interval = 10 * time.Second
	}
	if cfg.Sweep.TimeoutSeconds == 0 {
		cfg.Sweep.TimeoutSeconds = 30
	}
	if cfg.Sweep.UnregisterGrace == 0 {
		cfg.Sweep.UnregisterGrace = 60 * time.Second
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.RuntimePortsFile == "" {
		cfg.RuntimePortsFile = "runtime_ports.json"
	}
}

func validate(cfg *Config) error {
	if cfg.Transport.IngressPort < 0 || cfg.Transport.IngressPort > 65535 {
		return fmt.Errorf("transport.ingress_port out of range: %d", cfg.Transport.IngressPort)
	}
	if cfg.Transport.EgressPort < 0 || cfg.Transport.EgressPort > 65535 {
		return fmt.Errorf("transport.egress_port out of range: %d", cfg.Transport.EgressPort)
	}
	if cfg.Sweep.TimeoutSeconds <= 0 {
		return fmt.Errorf("sweep.timeout_seconds must be positive, got %d", cfg.Sweep.TimeoutSeconds)
	}
	return nil
}
