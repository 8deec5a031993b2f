// Package config provides the configuration schema and loader for the Candor
// analysis server.
package config

import (
	"log/slog"
	"time"
)

// LogLevel controls log verbosity for the Candor server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Slog maps l onto the corresponding [slog.Level]. Unset or unknown levels
// map to info.
func (l LogLevel) Slog() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Config is the root configuration structure for Candor.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Models    ModelsConfig    `yaml:"models"`
	Inference InferenceConfig `yaml:"inference"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// DatabaseConfig selects the persistence backend.
type DatabaseConfig struct {
	// DSN is the PostgreSQL connection string. Required unless a store is
	// injected programmatically.
	DSN string `yaml:"dsn"`
}

// ModelsConfig holds the ONNX model paths per modality. An empty path leaves
// that modality on its heuristic-only chain.
type ModelsConfig struct {
	// Library is the path to the ONNX Runtime shared library
	// (onnxruntime.so / .dylib / .dll). Required when any model path is set.
	Library string `yaml:"library"`

	Face  string `yaml:"face"`
	Eye   string `yaml:"eye"`
	Hand  string `yaml:"hand"`
	Voice string `yaml:"voice"`
}

// Any reports whether at least one model path is configured.
func (m ModelsConfig) Any() bool {
	return m.Face != "" || m.Eye != "" || m.Hand != "" || m.Voice != ""
}

// InferenceConfig bounds detector execution.
type InferenceConfig struct {
	// MaxConcurrent caps concurrent model inferences process-wide.
	// Zero selects the default of 2.
	MaxConcurrent int `yaml:"max_concurrent"`

	// BreakerMaxFailures is the consecutive-failure count that opens a
	// detector strategy's circuit breaker. Zero selects the default.
	BreakerMaxFailures int `yaml:"breaker_max_failures"`

	// BreakerResetTimeout is how long an open breaker waits before probing
	// again. Zero selects the default.
	BreakerResetTimeout time.Duration `yaml:"breaker_reset_timeout"`
}
