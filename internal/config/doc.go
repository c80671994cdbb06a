// Package config provides configuration loading and validation for the log decoder.
// It handles YAML-based configuration for decoding, the optional HTTP API and logging.
package config
