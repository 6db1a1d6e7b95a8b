// Package config reads process configuration from the environment.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
)

// Config is the host configuration shared by the server, MCP and CLI.
// Command-line flags override these values.
type Config struct {
	Addr         string `env:"TRUSTGATE_ADDR"       envDefault:"127.0.0.1:9443"`
	DBPath       string `env:"TRUSTGATE_DB"`
	PolicyPath   string `env:"TRUSTGATE_POLICY"`
	AuditLogPath string `env:"TRUSTGATE_AUDIT_LOG"`
	LogLevel     string `env:"TRUSTGATE_LOG_LEVEL"  envDefault:"info"`
}

// Load parses the environment and fills path defaults under ~/.trustgate.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if cfg.DBPath == "" {
		cfg.DBPath = filepath.Join(Dir(), "trustgate.db")
	}
	if _, err := ParseLevel(cfg.LogLevel); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Dir returns ~/.trustgate, or a directory under the system temp dir when
// there is no home.
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "trustgate")
	}
	return filepath.Join(home, ".trustgate")
}

// ParseLevel maps debug, info, warn and error to slog levels.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", s, err)
	}
	return l, nil
}

// NewLogger returns a text logger at the configured level.
func (c Config) NewLogger(w io.Writer) *slog.Logger {
	level, err := ParseLevel(c.LogLevel)
	if err != nil {
		level = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}
