package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty addr", func(c *Config) { c.Server.Addr = "" }},
		{"zero chunk threshold", func(c *Config) { c.Chunking.ThresholdPages = 0 }},
		{"zero chunk size", func(c *Config) { c.Chunking.DefaultChunkSizePages = 0 }},
		{"negative overlap window", func(c *Config) { c.Chunking.OverlapWindow = -1 }},
		{"zero workers", func(c *Config) { c.Worker.MaxWorkers = 0 }},
		{"zero task timeout", func(c *Config) { c.Worker.TaskTimeout = 0 }},
		{"negative retries", func(c *Config) { c.Extract.MaxRetries = -1 }},
		{"temperature out of range", func(c *Config) { c.Model.Temperature = 1.5 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestMergeOverlaysNonZeroFields(t *testing.T) {
	base := DefaultConfig()
	base.Merge(&Config{
		Server: ServerConfig{Addr: ":9999", AuthSecret: "s3cret"},
		NATS:   NATSConfig{URL: "nats://example:4222"},
		Worker: WorkerConfig{MaxWorkers: 16},
		Model:  ModelConfig{Quality: "mistral-huge"},
	})

	assert.Equal(t, ":9999", base.Server.Addr)
	assert.Equal(t, "s3cret", base.Server.AuthSecret)
	assert.Equal(t, "nats://example:4222", base.NATS.URL)
	assert.Equal(t, 16, base.Worker.MaxWorkers)
	assert.Equal(t, "mistral-huge", base.Model.Quality)
	// Untouched fields keep their defaults.
	assert.Equal(t, 50, base.Chunking.ThresholdPages)
	assert.Equal(t, "mistral-small", base.Model.Speed)
}

func TestMergeNilIsNoop(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Merge(nil)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "phraseforge.yaml")

	cfg := DefaultConfig()
	cfg.Server.Addr = ":7070"
	cfg.Chunking.OverlapWindow = 12
	cfg.Model.Timeout = 2 * time.Minute
	require.NoError(t, cfg.SaveToFile(path))

	loaded, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, ":7070", loaded.Server.Addr)
	assert.Equal(t, 12, loaded.Chunking.OverlapWindow)
	assert.Equal(t, 2*time.Minute, loaded.Model.Timeout)
}

func TestLoadFromFilePartialKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "partial.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  addr: \":7071\"\n"), 0o644))

	loaded, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, ":7071", loaded.Server.Addr)
	assert.Equal(t, 4, loaded.Worker.MaxWorkers)
}

func TestLoadFromFileMissing(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
