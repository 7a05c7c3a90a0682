// Package config provides configuration loading and management for Phraseforge.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete Phraseforge configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	NATS      NATSConfig      `yaml:"nats"`
	Chunking  ChunkingConfig  `yaml:"chunking"`
	Worker    WorkerConfig    `yaml:"worker"`
	Normalize NormalizeConfig `yaml:"normalize"`
	Extract   ExtractConfig   `yaml:"extract"`
	Model     ModelConfig     `yaml:"model"`
	Export    ExportConfig    `yaml:"export"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	// Addr is the listen address for the HTTP API (default ":8080").
	Addr string `yaml:"addr"`
	// AuthSecret is the shared secret used by the default token verifier.
	// Production deployments plug in an external verifier instead.
	AuthSecret string `yaml:"auth_secret"`
}

// NATSConfig configures the NATS connection.
type NATSConfig struct {
	// URL is the NATS server URL (empty = use embedded server).
	URL string `yaml:"url"`
	// Embedded indicates whether to run an embedded NATS server.
	Embedded bool `yaml:"embedded"`
}

// ChunkingConfig configures PDF chunking.
type ChunkingConfig struct {
	// ThresholdPages: PDFs at or below this page count are processed
	// as a single chunk.
	ThresholdPages int `yaml:"chunk_threshold_pages"`
	// DefaultChunkSizePages is the chunk size for multi-chunk jobs.
	// The page-count strategy may override it.
	DefaultChunkSizePages int `yaml:"default_chunk_size_pages"`
	// OverlapWindow is the sentence window consulted when deduplicating
	// overlap between adjacent chunks.
	OverlapWindow int `yaml:"overlap_window"`
}

// WorkerConfig configures the worker runtime.
type WorkerConfig struct {
	// MaxWorkers caps concurrent task execution per worker process.
	MaxWorkers int `yaml:"max_workers"`
	// TaskTimeout is the hard per-task timeout.
	TaskTimeout time.Duration `yaml:"task_timeout"`
	// SoftTimeout warns before the hard timeout fires.
	SoftTimeout time.Duration `yaml:"soft_timeout"`
	// MemoryLimitMB is the advisory per-worker memory limit.
	MemoryLimitMB int `yaml:"worker_memory_limit_mb"`
	// StuckThreshold is how long a chunk may sit in processing before
	// the watchdog marks it failed.
	StuckThreshold time.Duration `yaml:"stuck_threshold"`
}

// NormalizeConfig configures the linguistic normalizer.
type NormalizeConfig struct {
	// FoldDiacritics controls diacritic folding during word-list ingestion.
	FoldDiacritics bool `yaml:"fold_diacritics"`
}

// ExtractConfig configures the LLM sentence extraction engine.
type ExtractConfig struct {
	// AllowLocalFallback enables the final regex-based tier when all
	// LLM tiers fail. When false the chunk fails instead.
	AllowLocalFallback bool `yaml:"allow_local_fallback"`
	// MaxRetries is the default per-chunk and per-job retry bound.
	MaxRetries int `yaml:"max_retries"`
}

// ModelConfig configures the LLM model settings.
type ModelConfig struct {
	// RegistryFile points to a JSON model registry with full per-tier
	// endpoint chains. When set it overrides the flat settings below.
	RegistryFile string `yaml:"registry_file"`
	// Endpoint is the OpenAI-compatible API endpoint.
	Endpoint string `yaml:"endpoint"`
	// Provider selects the provider implementation ("openai", "ollama").
	Provider string `yaml:"provider"`
	// Speed, Balanced and Quality name the models for each tier.
	Speed    string `yaml:"speed"`
	Balanced string `yaml:"balanced"`
	Quality  string `yaml:"quality"`
	// Temperature controls randomness (0.0-1.0).
	Temperature float64 `yaml:"temperature"`
	// Timeout is the maximum time to wait for model responses.
	Timeout time.Duration `yaml:"timeout"`
}

// ExportConfig configures spreadsheet/CSV export.
type ExportConfig struct {
	// Dir is the directory export artifacts are written to.
	Dir string `yaml:"dir"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr: ":8080",
		},
		NATS: NATSConfig{
			URL:      "",
			Embedded: true,
		},
		Chunking: ChunkingConfig{
			ThresholdPages:        50,
			DefaultChunkSizePages: 25,
			OverlapWindow:         8,
		},
		Worker: WorkerConfig{
			MaxWorkers:     4,
			TaskTimeout:    time.Hour,
			SoftTimeout:    25 * time.Minute,
			MemoryLimitMB:  2048,
			StuckThreshold: time.Hour,
		},
		Normalize: NormalizeConfig{
			FoldDiacritics: true,
		},
		Extract: ExtractConfig{
			AllowLocalFallback: true,
			MaxRetries:         3,
		},
		Model: ModelConfig{
			Endpoint:    "http://localhost:11434/v1",
			Provider:    "ollama",
			Speed:       "mistral-small",
			Balanced:    "mistral-medium",
			Quality:     "mistral-large",
			Temperature: 0.2,
			Timeout:     5 * time.Minute,
		},
		Export: ExportConfig{
			Dir: "exports",
		},
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	if c.Chunking.ThresholdPages <= 0 {
		return fmt.Errorf("chunking.chunk_threshold_pages must be positive")
	}
	if c.Chunking.DefaultChunkSizePages <= 0 {
		return fmt.Errorf("chunking.default_chunk_size_pages must be positive")
	}
	if c.Chunking.OverlapWindow < 0 {
		return fmt.Errorf("chunking.overlap_window must not be negative")
	}
	if c.Worker.MaxWorkers <= 0 {
		return fmt.Errorf("worker.max_workers must be positive")
	}
	if c.Worker.TaskTimeout <= 0 {
		return fmt.Errorf("worker.task_timeout must be positive")
	}
	if c.Extract.MaxRetries < 0 {
		return fmt.Errorf("extract.max_retries must not be negative")
	}
	if c.Model.Temperature < 0 || c.Model.Temperature > 1 {
		return fmt.Errorf("model.temperature must be between 0 and 1")
	}
	return nil
}

// Merge overlays non-zero fields from other onto c.
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}
	if other.Server.Addr != "" {
		c.Server.Addr = other.Server.Addr
	}
	if other.Server.AuthSecret != "" {
		c.Server.AuthSecret = other.Server.AuthSecret
	}
	if other.NATS.URL != "" {
		c.NATS.URL = other.NATS.URL
		c.NATS.Embedded = other.NATS.Embedded
	}
	if other.Chunking.ThresholdPages != 0 {
		c.Chunking.ThresholdPages = other.Chunking.ThresholdPages
	}
	if other.Chunking.DefaultChunkSizePages != 0 {
		c.Chunking.DefaultChunkSizePages = other.Chunking.DefaultChunkSizePages
	}
	if other.Chunking.OverlapWindow != 0 {
		c.Chunking.OverlapWindow = other.Chunking.OverlapWindow
	}
	if other.Worker.MaxWorkers != 0 {
		c.Worker.MaxWorkers = other.Worker.MaxWorkers
	}
	if other.Worker.TaskTimeout != 0 {
		c.Worker.TaskTimeout = other.Worker.TaskTimeout
	}
	if other.Worker.SoftTimeout != 0 {
		c.Worker.SoftTimeout = other.Worker.SoftTimeout
	}
	if other.Worker.MemoryLimitMB != 0 {
		c.Worker.MemoryLimitMB = other.Worker.MemoryLimitMB
	}
	if other.Worker.StuckThreshold != 0 {
		c.Worker.StuckThreshold = other.Worker.StuckThreshold
	}
	if other.Extract.MaxRetries != 0 {
		c.Extract.MaxRetries = other.Extract.MaxRetries
	}
	if other.Model.RegistryFile != "" {
		c.Model.RegistryFile = other.Model.RegistryFile
	}
	if other.Model.Endpoint != "" {
		c.Model.Endpoint = other.Model.Endpoint
	}
	if other.Model.Provider != "" {
		c.Model.Provider = other.Model.Provider
	}
	if other.Model.Speed != "" {
		c.Model.Speed = other.Model.Speed
	}
	if other.Model.Balanced != "" {
		c.Model.Balanced = other.Model.Balanced
	}
	if other.Model.Quality != "" {
		c.Model.Quality = other.Model.Quality
	}
	if other.Model.Temperature != 0 {
		c.Model.Temperature = other.Model.Temperature
	}
	if other.Model.Timeout != 0 {
		c.Model.Timeout = other.Model.Timeout
	}
	if other.Export.Dir != "" {
		c.Export.Dir = other.Export.Dir
	}
}

// LoadFromFile loads configuration from a YAML file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration to a YAML file.
func (c *Config) SaveToFile(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}

	return nil
}
