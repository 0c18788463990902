package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
)

// Configuration errors.
var (
	ErrInvalidCPUCount  = errors.New("config: num_cpu must be at least 1")
	ErrInvalidTimeSlice = errors.New("config: time_slice_jiffies must be at least 1")
)

// Defaults.
const (
	DefaultNumCPU           = 4
	DefaultTimeSliceJiffies = 10
	DefaultLogLevel         = "INFO"
	DefaultTicks            = 200
)

// ProcessSpec describes a process started by the demo.
type ProcessSpec struct {
	Name     string `json:"name"`
	Pgid     int64  `json:"pgid"`
	Priority int    `json:"priority"`
	CPU      int    `json:"cpu"`
	Cwd      string `json:"cwd"`
}

// SchedConfig is the configuration of the scheduling core.
type SchedConfig struct {
	NumCPU           int           `json:"num_cpu"`
	TimeSliceJiffies int64         `json:"time_slice_jiffies"`
	LogLevel         string        `json:"log_level"`
	LogPath          string        `json:"log_path"`
	Ticks            int           `json:"ticks"`
	Processes        []ProcessSpec `json:"processes"`
}

// Default returns the built-in configuration.
func Default() *SchedConfig {
	return &SchedConfig{
		NumCPU:           DefaultNumCPU,
		TimeSliceJiffies: DefaultTimeSliceJiffies,
		LogLevel:         DefaultLogLevel,
		Ticks:            DefaultTicks,
	}
}

// Load decodes the JSON file at path into v.
func Load(path string, v any) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := json.NewDecoder(f).Decode(v); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// LoadSchedConfig resolves the scheduler configuration. An empty path skips
// the file layer.
func LoadSchedConfig(path string) (*SchedConfig, error) {
	cfg := Default()
	if path != "" {
		if err := Load(path, cfg); err != nil {
			return nil, err
		}
	}

	if v := os.Getenv("KCORE_NUM_CPU"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("KCORE_NUM_CPU: %w", err)
		}
		cfg.NumCPU = n
	}
	if v := os.Getenv("KCORE_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for values the core cannot run with.
func (c *SchedConfig) Validate() error {
	if c.NumCPU < 1 {
		return ErrInvalidCPUCount
	}
	if c.TimeSliceJiffies < 1 {
		return ErrInvalidTimeSlice
	}
	return nil
}
