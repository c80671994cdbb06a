package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/skypro1111/nanoflight-decoder/internal/protocol"
)

// Config represents the complete decoder configuration
type Config struct {
	Decoder DecoderConfig `yaml:"decoder"`
	HTTP    HTTPConfig    `yaml:"http"`
	Logging LoggingConfig `yaml:"logging"`
}

// DecoderConfig contains log decoding parameters
type DecoderConfig struct {
	ProtocolVersion int    `yaml:"protocol_version"`
	OutputSuffix    string `yaml:"output_suffix"`
	MaxParallel     int    `yaml:"max_parallel"`
	BufferSize      int    `yaml:"buffer_size"` // bytes
}

// HTTPConfig contains HTTP API server configuration, used by the serve command
type HTTPConfig struct {
	Port         int    `yaml:"port"`
	Address      string `yaml:"address"`
	MaxBodyBytes int64  `yaml:"max_body_bytes"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Default returns the configuration used when no file is given
func Default() *Config {
	return &Config{
		Decoder: DecoderConfig{
			ProtocolVersion: int(protocol.DefaultVersion),
			OutputSuffix:    ".csv",
			MaxParallel:     4,
			BufferSize:      64 * 1024,
		},
		HTTP: HTTPConfig{
			Port:         8080,
			Address:      "127.0.0.1",
			MaxBodyBytes: 64 << 20,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
	}
}

// Load reads and parses the configuration file. Fields missing from the
// file keep their Default values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// Validate performs validation of every section
func (c *Config) Validate() error {
	if err := c.Decoder.Validate(); err != nil {
		return fmt.Errorf("decoder config: %w", err)
	}

	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates decoder configuration
func (d *DecoderConfig) Validate() error {
	if d.ProtocolVersion < 0 || d.ProtocolVersion > 255 ||
		!protocol.DefaultTable().HasVersion(protocol.Version(d.ProtocolVersion)) {
		return fmt.Errorf("protocol_version %d is not supported", d.ProtocolVersion)
	}

	if d.OutputSuffix == "" {
		return fmt.Errorf("output_suffix cannot be empty")
	}

	if d.MaxParallel < 1 {
		return fmt.Errorf("max_parallel must be at least 1, got %d", d.MaxParallel)
	}

	if d.BufferSize < 4096 {
		return fmt.Errorf("buffer_size must be at least 4096 bytes, got %d", d.BufferSize)
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Port < 1 || h.Port > 65535 {
		return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
	}

	if h.Address == "" {
		return fmt.Errorf("http address cannot be empty")
	}

	if h.MaxBodyBytes < protocol.HeaderSize {
		return fmt.Errorf("max_body_bytes must be at least %d, got %d", protocol.HeaderSize, h.MaxBodyBytes)
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	// Output is stdout, stderr, empty, or a file path.
	return nil
}

// Version returns the configured protocol version
func (d *DecoderConfig) Version() protocol.Version {
	return protocol.Version(d.ProtocolVersion)
}

// ListenAddress returns the HTTP listen address
func (h *HTTPConfig) ListenAddress() string {
	return fmt.Sprintf("%s:%d", h.Address, h.Port)
}
