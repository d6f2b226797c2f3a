package engine

import (
	"encoding/json"
	"fmt"
	"os"
)

// Config holds the simulation parameters.
type Config struct {
	// NumWarps is the number of warps the engine drives.
	NumWarps uint32 `json:"num_warps"`

	// ThreadsPerWarp is the number of lockstep threads per warp. The
	// thread mask is 32 bits wide, so at most 32.
	ThreadsPerWarp uint32 `json:"threads_per_warp"`

	// CacheSize is the total cache capacity in bytes.
	CacheSize uint32 `json:"cache_size"`

	// CacheLineSize is the cache line size in bytes. Must be a power of
	// two.
	CacheLineSize uint32 `json:"cache_line_size"`

	// MemoryLatency is the main memory access latency in cycles.
	MemoryLatency uint32 `json:"memory_latency"`

	// TraceFile, when set, is where DumpTrace writes by default.
	TraceFile string `json:"trace_file,omitempty"`
}

// DefaultConfig returns a small configuration suitable for tests and
// experiments: 4 warps of 32 threads, a 1KB cache with 64-byte lines, and
// a 100-cycle memory.
func DefaultConfig() Config {
	return Config{
		NumWarps:       4,
		ThreadsPerWarp: 32,
		CacheSize:      1024,
		CacheLineSize:  64,
		MemoryLatency:  100,
	}
}

// LoadConfig loads a Config from a JSON file. Missing fields keep their
// default values.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := json.Unmarshal(data, &config); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	return config, nil
}

// SaveConfig writes the Config to a JSON file.
func (c Config) SaveConfig(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks the parameter ranges. The cache geometry itself is
// validated when the memory model is built.
func (c Config) Validate() error {
	if c.NumWarps == 0 {
		return fmt.Errorf("num_warps must be > 0")
	}

	if c.ThreadsPerWarp == 0 || c.ThreadsPerWarp > 32 {
		return fmt.Errorf("threads_per_warp must be in 1..32")
	}

	if c.CacheSize == 0 {
		return fmt.Errorf("cache_size must be > 0")
	}

	if c.CacheLineSize == 0 {
		return fmt.Errorf("cache_line_size must be > 0")
	}

	if c.MemoryLatency == 0 {
		return fmt.Errorf("memory_latency must be > 0")
	}

	return nil
}
