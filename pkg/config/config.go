// Package config provides TOML configuration loading for wsmon,
// with environment variable overrides applied on top.
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// WSPath is the fixed path of the metrics subscription endpoint.
const WSPath = "/ws/metrics"

// Config is the top-level configuration structure.
type Config struct {
	Server ServerConfig `toml:"server"`
}

// ServerConfig holds settings for the metrics broadcast server.
type ServerConfig struct {
	Host           string   `toml:"host"`
	Port           int      `toml:"port"`
	PublicHost     string   `toml:"public_host"`
	PublicPort     int      `toml:"public_port"`
	AllowedOrigins []string `toml:"allowed_origins"`
	UpdateInterval float64  `toml:"update_interval"`
	UseWSS         bool     `toml:"use_wss"`
	StaticDir      string   `toml:"static_dir"`
	LogLevel       string   `toml:"log_level"`
}

// ParseUpdateInterval converts the update interval (seconds) to a time.Duration.
func (s *ServerConfig) ParseUpdateInterval() (time.Duration, error) {
	if s.UpdateInterval <= 0 {
		return 0, fmt.Errorf("update_interval must be positive, got %v", s.UpdateInterval)
	}
	return time.Duration(s.UpdateInterval * float64(time.Second)), nil
}

// Addr returns the bind address for the HTTP listener.
func (s *ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// WSURL returns the public WebSocket URL advertised to clients.
func (s *ServerConfig) WSURL() string {
	scheme := "ws"
	if s.UseWSS {
		scheme = "wss"
	}
	return fmt.Sprintf("%s://%s:%d%s", scheme, s.PublicHost, s.PublicPort, WSPath)
}

// Load reads and parses a TOML config file, applying environment
// overrides and defaults for unset values. A missing file is not an
// error: the server can run on defaults plus environment alone.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err == nil {
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	applyEnv(cfg)
	applyDefaults(cfg)
	return cfg, nil
}

// applyEnv overlays environment variables onto the config. Unset or
// malformed values leave the file value in place.
func applyEnv(cfg *Config) {
	s := &cfg.Server

	if v := os.Getenv("WS_HOST"); v != "" {
		s.Host = v
	}
	if v := os.Getenv("WS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			s.Port = port
		}
	}
	if v := os.Getenv("PUBLIC_HOST"); v != "" {
		s.PublicHost = v
	}
	if v := os.Getenv("PUBLIC_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			s.PublicPort = port
		}
	}
	if v := os.Getenv("ALLOWED_ORIGINS"); v != "" {
		s.AllowedOrigins = splitOrigins(v)
	}
	if v := os.Getenv("UPDATE_INTERVAL"); v != "" {
		if interval, err := strconv.ParseFloat(v, 64); err == nil {
			s.UpdateInterval = interval
		}
	}
	if v := os.Getenv("USE_WSS"); v != "" {
		s.UseWSS = isTruthy(v)
	}
	if v := os.Getenv("STATIC_DIR"); v != "" {
		s.StaticDir = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		s.LogLevel = v
	}
}

func applyDefaults(cfg *Config) {
	s := &cfg.Server

	if s.Host == "" {
		s.Host = "0.0.0.0"
	}
	if s.Port == 0 {
		s.Port = 8080
	}
	if s.PublicHost == "" {
		s.PublicHost = "localhost"
	}
	if s.PublicPort == 0 {
		s.PublicPort = s.Port
	}
	if len(s.AllowedOrigins) == 0 {
		s.AllowedOrigins = []string{"http://localhost:3000"}
	}
	if s.UpdateInterval == 0 {
		s.UpdateInterval = 2
	}
	if s.StaticDir == "" {
		s.StaticDir = "static"
	}
	if s.LogLevel == "" {
		s.LogLevel = "info"
	}
}

// splitOrigins parses a comma-separated origin list, trimming whitespace
// and dropping empty entries.
func splitOrigins(v string) []string {
	var origins []string
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			origins = append(origins, part)
		}
	}
	return origins
}

// isTruthy reports whether an environment flag value means "enabled".
func isTruthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes":
		return true
	}
	return false
}
