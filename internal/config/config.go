// Package config provides configuration loading for crewd.
//
// Configuration is loaded from a YAML file and overridden by environment
// variables. See Load for precedence rules.
package config

import (
	"fmt"
	"time"
)

// Config holds the complete crewd configuration.
type Config struct {
	Server        ServerConfig        `koanf:"server"`
	Logging       LoggingConfig       `koanf:"logging"`
	Observability ObservabilityConfig `koanf:"observability"`
	Embeddings    EmbeddingsConfig    `koanf:"embeddings"`
	Memory        MemoryConfig        `koanf:"memory"`
	Source        SourceConfig        `koanf:"source"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"http_port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// LoggingConfig holds logger configuration.
type LoggingConfig struct {
	Level  string `koanf:"level"`  // debug, info, warn, error
	Format string `koanf:"format"` // json or console
}

// ObservabilityConfig holds OpenTelemetry export configuration.
type ObservabilityConfig struct {
	Enabled        bool     `koanf:"enabled"`
	Endpoint       string   `koanf:"endpoint"`
	ServiceName    string   `koanf:"service_name"`
	Insecure       bool     `koanf:"insecure"`
	SamplingRate   float64  `koanf:"sampling_rate"`
	MetricInterval Duration `koanf:"metric_interval"`
}

// EmbeddingsConfig holds embedding provider configuration.
type EmbeddingsConfig struct {
	BaseURL   string   `koanf:"base_url"`
	Model     string   `koanf:"model"`
	APIKey    Secret   `koanf:"api_key"`
	Dimension int      `koanf:"dimension"`
	MaxChars  int      `koanf:"max_chars"`
	Timeout   Duration `koanf:"timeout"`
	// RatePerSecond caps outbound embedding calls. Zero disables limiting.
	RatePerSecond float64 `koanf:"rate_per_second"`
}

// MemoryConfig holds scope store configuration.
type MemoryConfig struct {
	// Backend selects the vector store implementation: "chromem" or "qdrant".
	Backend string        `koanf:"backend"`
	Chromem ChromemConfig `koanf:"chromem"`
	Qdrant  QdrantConfig  `koanf:"qdrant"`
	// ScopeTimeout bounds each per-scope lookup during search fan-out.
	ScopeTimeout Duration `koanf:"scope_timeout"`
}

// ChromemConfig holds configuration for the embedded chromem-go backend.
type ChromemConfig struct {
	Path     string `koanf:"path"`
	Compress bool   `koanf:"compress"`
}

// QdrantConfig holds configuration for the external Qdrant backend.
type QdrantConfig struct {
	Host   string `koanf:"host"`
	Port   int    `koanf:"grpc_port"`
	UseTLS bool   `koanf:"use_tls"`
}

// SourceConfig holds document source configuration.
type SourceConfig struct {
	// Root is the fleet directory scanned for memory files.
	Root string `koanf:"root"`
	// Watch enables filesystem watching for incremental reindexing.
	Watch bool `koanf:"watch"`
	// Debounce batches rapid filesystem events before reindexing.
	Debounce Duration `koanf:"debounce"`
	// MaxFileSize caps a single memory file in bytes.
	MaxFileSize int64 `koanf:"max_file_size"`
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 9280
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = Duration(10 * time.Second)
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Observability.ServiceName == "" {
		cfg.Observability.ServiceName = "crewd"
	}
	if cfg.Observability.Endpoint == "" {
		cfg.Observability.Endpoint = "localhost:4317"
	}
	if cfg.Observability.SamplingRate == 0 {
		cfg.Observability.SamplingRate = 1.0
	}
	if cfg.Observability.MetricInterval == 0 {
		cfg.Observability.MetricInterval = Duration(15 * time.Second)
	}

	if cfg.Embeddings.BaseURL == "" {
		cfg.Embeddings.BaseURL = "http://localhost:8080"
	}
	if cfg.Embeddings.Model == "" {
		cfg.Embeddings.Model = "text-embedding-3-small"
	}
	if cfg.Embeddings.Dimension == 0 {
		cfg.Embeddings.Dimension = 1536
	}
	if cfg.Embeddings.MaxChars == 0 {
		cfg.Embeddings.MaxChars = 8000
	}
	if cfg.Embeddings.Timeout == 0 {
		cfg.Embeddings.Timeout = Duration(30 * time.Second)
	}

	if cfg.Memory.Backend == "" {
		cfg.Memory.Backend = "chromem"
	}
	if cfg.Memory.Chromem.Path == "" {
		cfg.Memory.Chromem.Path = "~/.config/crewd/memory"
	}
	if cfg.Memory.Qdrant.Host == "" {
		cfg.Memory.Qdrant.Host = "localhost"
	}
	if cfg.Memory.Qdrant.Port == 0 {
		cfg.Memory.Qdrant.Port = 6334
	}
	if cfg.Memory.ScopeTimeout == 0 {
		cfg.Memory.ScopeTimeout = Duration(5 * time.Second)
	}

	if cfg.Source.Debounce == 0 {
		cfg.Source.Debounce = Duration(500 * time.Millisecond)
	}
	if cfg.Source.MaxFileSize == 0 {
		cfg.Source.MaxFileSize = 1024 * 1024 // 1MB
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout.Duration() <= 0 {
		return fmt.Errorf("shutdown timeout must be positive")
	}

	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logging format must be 'json' or 'console', got %q", c.Logging.Format)
	}

	if c.Observability.Enabled && c.Observability.ServiceName == "" {
		return fmt.Errorf("service name required when observability is enabled")
	}
	if c.Observability.SamplingRate < 0 || c.Observability.SamplingRate > 1 {
		return fmt.Errorf("sampling rate must be in [0,1], got %f", c.Observability.SamplingRate)
	}

	if c.Embeddings.Dimension <= 0 {
		return fmt.Errorf("embedding dimension must be positive, got %d", c.Embeddings.Dimension)
	}
	if c.Embeddings.MaxChars <= 0 {
		return fmt.Errorf("embedding max_chars must be positive, got %d", c.Embeddings.MaxChars)
	}

	switch c.Memory.Backend {
	case "chromem", "qdrant":
	default:
		return fmt.Errorf("memory backend must be 'chromem' or 'qdrant', got %q", c.Memory.Backend)
	}
	if c.Memory.Backend == "qdrant" {
		if c.Memory.Qdrant.Port < 1 || c.Memory.Qdrant.Port > 65535 {
			return fmt.Errorf("invalid qdrant grpc port: %d", c.Memory.Qdrant.Port)
		}
	}

	if c.Source.MaxFileSize <= 0 {
		return fmt.Errorf("source max_file_size must be positive")
	}

	return nil
}
