// Package config loads and validates the server configuration.
//
// Precedence: config file (YAML) > environment variables > defaults.
//
// Example configuration:
//
//	host: 0.0.0.0
//	port: 8000
//	storage_dir: ./storage
//	static_dir: ./static
//	token: ${SCANHUB_TOKEN}
//	websocket:
//	  ping_interval: 30s
//	  read_timeout: 60s
//	  write_timeout: 10s
//	  send_buffer: 100
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for the scanhub server.
type Config struct {
	// Host is the listen address. Defaults to 0.0.0.0.
	Host string `yaml:"host"`

	// Port is the HTTP/WebSocket listen port. Defaults to 8000.
	Port int `yaml:"port"`

	// StorageDir holds the roster snapshot, latest-state table and event
	// log. Defaults to ./storage.
	StorageDir string `yaml:"storage_dir"`

	// StaticDir holds the station UI pages. Empty disables static serving.
	StaticDir string `yaml:"static_dir"`

	// Token is the shared registration secret. Empty means registration
	// requires no token.
	Token string `yaml:"token"`

	HTTP      HTTPConfig      `yaml:"http"`
	WebSocket WebSocketConfig `yaml:"websocket"`
}

// HTTPConfig bounds the HTTP server.
type HTTPConfig struct {
	ReadTimeout  Duration `yaml:"read_timeout"`
	WriteTimeout Duration `yaml:"write_timeout"`
}

// WebSocketConfig tunes the per-connection transport.
type WebSocketConfig struct {
	PingInterval Duration `yaml:"ping_interval"`
	ReadTimeout  Duration `yaml:"read_timeout"`
	WriteTimeout Duration `yaml:"write_timeout"`
	SendBuffer   int      `yaml:"send_buffer"`
}

// Duration wraps time.Duration for YAML unmarshalling of strings like
// "30s" or "1m".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration value.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Default returns the configuration used when nothing else is supplied.
func Default() *Config {
	return &Config{
		Host:       "0.0.0.0",
		Port:       8000,
		StorageDir: "./storage",
		StaticDir:  "./static",
		HTTP: HTTPConfig{
			ReadTimeout:  Duration(30 * time.Second),
			WriteTimeout: Duration(30 * time.Second),
		},
		WebSocket: WebSocketConfig{
			PingInterval: Duration(30 * time.Second),
			ReadTimeout:  Duration(60 * time.Second),
			WriteTimeout: Duration(10 * time.Second),
			SendBuffer:   100,
		},
	}
}

// FromEnv overlays environment variables onto cfg.
func FromEnv(cfg *Config) *Config {
	if host := os.Getenv("SCANHUB_HOST"); host != "" {
		cfg.Host = host
	}
	if port := os.Getenv("SCANHUB_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Port = p
		}
	}
	if dir := os.Getenv("SCANHUB_STORAGE_DIR"); dir != "" {
		cfg.StorageDir = dir
	}
	if dir := os.Getenv("SCANHUB_STATIC_DIR"); dir != "" {
		cfg.StaticDir = dir
	}
	if token := os.Getenv("SCANHUB_TOKEN"); token != "" {
		cfg.Token = token
	}
	return cfg
}

// LoadFile parses a YAML config file over cfg.
func LoadFile(path string, cfg *Config) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return cfg, nil
}

// Load resolves the final configuration: defaults, then environment, then
// the optional config file, then validation.
func Load(path string) (*Config, error) {
	cfg := FromEnv(Default())
	if path != "" {
		var err error
		cfg, err = LoadFile(path, cfg)
		if err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations that cannot serve.
func (c *Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("host cannot be empty")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", c.Port)
	}
	if c.StorageDir == "" {
		return fmt.Errorf("storage_dir cannot be empty")
	}
	if c.HTTP.ReadTimeout <= 0 {
		return fmt.Errorf("http read_timeout must be positive")
	}
	if c.HTTP.WriteTimeout <= 0 {
		return fmt.Errorf("http write_timeout must be positive")
	}
	if c.WebSocket.PingInterval <= 0 {
		return fmt.Errorf("websocket ping_interval must be positive")
	}
	if c.WebSocket.ReadTimeout <= 0 {
		return fmt.Errorf("websocket read_timeout must be positive")
	}
	if c.WebSocket.ReadTimeout.Duration() <= c.WebSocket.PingInterval.Duration() {
		return fmt.Errorf("websocket read_timeout must exceed ping_interval")
	}
	if c.WebSocket.WriteTimeout <= 0 {
		return fmt.Errorf("websocket write_timeout must be positive")
	}
	if c.WebSocket.SendBuffer <= 0 {
		return fmt.Errorf("websocket send_buffer must be positive")
	}
	return nil
}

// Addr returns the host:port listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
