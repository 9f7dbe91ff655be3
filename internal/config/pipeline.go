package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// PipelineConfig represents the root configuration for the navigation
// pipeline. All fields are optional pointers so a partial JSON file only
// overrides what it names; the Get* methods supply defaults for the rest.
type PipelineConfig struct {
	// Poller / debounce params
	PollInterval  *string `json:"poll_interval,omitempty"`  // duration string like "10ms"
	DebounceDelay *string `json:"debounce_delay,omitempty"` // duration string like "2ms"

	// Executor params
	ExecutorWorkers *int `json:"executor_workers,omitempty"`

	// Chunk cache params
	ChunkCacheSize *int    `json:"chunk_cache_size,omitempty"`
	ChunkStorePath *string `json:"chunk_store_path,omitempty"` // empty disables the persistent store

	// Status server params
	HTTPListen *string `json:"http_listen,omitempty"`
}

// EmptyPipelineConfig returns a PipelineConfig with all fields set to nil.
func EmptyPipelineConfig() *PipelineConfig {
	return &PipelineConfig{}
}

// LoadPipelineConfig loads a PipelineConfig from a JSON file. The file must
// have a .json extension and stay under the max file size. Fields omitted
// from the JSON keep their defaults, so partial configs are safe.
func LoadPipelineConfig(path string) (*PipelineConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyPipelineConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configuration values are valid.
func (c *PipelineConfig) Validate() error {
	if c.PollInterval != nil && *c.PollInterval != "" {
		if _, err := time.ParseDuration(*c.PollInterval); err != nil {
			return fmt.Errorf("invalid poll_interval '%s': %w", *c.PollInterval, err)
		}
	}

	if c.DebounceDelay != nil && *c.DebounceDelay != "" {
		if _, err := time.ParseDuration(*c.DebounceDelay); err != nil {
			return fmt.Errorf("invalid debounce_delay '%s': %w", *c.DebounceDelay, err)
		}
	}

	if c.ExecutorWorkers != nil {
		if *c.ExecutorWorkers < 1 {
			return fmt.Errorf("executor_workers must be positive, got %d", *c.ExecutorWorkers)
		}
	}

	if c.ChunkCacheSize != nil {
		if *c.ChunkCacheSize < 1 {
			return fmt.Errorf("chunk_cache_size must be positive, got %d", *c.ChunkCacheSize)
		}
	}

	return nil
}

// GetPollInterval parses and returns the PollInterval as a time.Duration.
func (c *PipelineConfig) GetPollInterval() time.Duration {
	if c.PollInterval == nil || *c.PollInterval == "" {
		return 10 * time.Millisecond // default
	}
	d, err := time.ParseDuration(*c.PollInterval)
	if err != nil {
		return 10 * time.Millisecond // default on parse error
	}
	return d
}

// GetDebounceDelay parses and returns the DebounceDelay as a time.Duration.
func (c *PipelineConfig) GetDebounceDelay() time.Duration {
	if c.DebounceDelay == nil || *c.DebounceDelay == "" {
		return 2 * time.Millisecond // default
	}
	d, err := time.ParseDuration(*c.DebounceDelay)
	if err != nil {
		return 2 * time.Millisecond // default on parse error
	}
	return d
}

// GetExecutorWorkers returns the executor_workers value or the default.
func (c *PipelineConfig) GetExecutorWorkers() int {
	if c.ExecutorWorkers == nil {
		return 4
	}
	return *c.ExecutorWorkers
}

// GetChunkCacheSize returns the chunk_cache_size value or the default.
func (c *PipelineConfig) GetChunkCacheSize() int {
	if c.ChunkCacheSize == nil {
		return 128
	}
	return *c.ChunkCacheSize
}

// GetChunkStorePath returns the chunk_store_path value or the default.
func (c *PipelineConfig) GetChunkStorePath() string {
	if c.ChunkStorePath == nil {
		return "" // default: no persistent store
	}
	return *c.ChunkStorePath
}

// GetHTTPListen returns the http_listen value or the default.
func (c *PipelineConfig) GetHTTPListen() string {
	if c.HTTPListen == nil || *c.HTTPListen == "" {
		return ":8090"
	}
	return *c.HTTPListen
}
