package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/reproject/internal/frametrack"
	"github.com/banshee-data/reproject/internal/headtrack"
	"github.com/banshee-data/reproject/internal/pose"
	"github.com/banshee-data/reproject/internal/render"
	"github.com/banshee-data/reproject/internal/transport"
)

// TuningConfig holds the runtime tuning knobs. All fields are pointers so
// a partial JSON file overrides only what it names; the Get* methods
// supply defaults for everything else.
type TuningConfig struct {
	// Sampler params
	LatencyBudget        *string  `json:"latency_budget,omitempty"` // duration string like "50ms"
	ProviderWait         *string  `json:"provider_wait,omitempty"`  // duration string like "5ms"
	OrthonormalTolerance *float64 `json:"orthonormal_tolerance,omitempty"`

	// Loop params
	EvictionHorizon *int64  `json:"eviction_horizon,omitempty"`
	PauseInterval   *string `json:"pause_interval,omitempty"` // duration string like "10ms"

	// Renderer coordinate convention
	EyeHeightMeters *float64 `json:"eye_height_meters,omitempty"`

	// Serial bridge params
	SerialBaud *int `json:"serial_baud,omitempty"`
}

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// LoadTuningConfig loads a TuningConfig from a JSON file. Fields omitted
// from the JSON file retain their default values, so partial configs are
// safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that the configuration values are valid.
func (c *TuningConfig) Validate() error {
	if c.LatencyBudget != nil && *c.LatencyBudget != "" {
		if _, err := time.ParseDuration(*c.LatencyBudget); err != nil {
			return fmt.Errorf("invalid latency_budget '%s': %w", *c.LatencyBudget, err)
		}
	}
	if c.ProviderWait != nil && *c.ProviderWait != "" {
		if _, err := time.ParseDuration(*c.ProviderWait); err != nil {
			return fmt.Errorf("invalid provider_wait '%s': %w", *c.ProviderWait, err)
		}
	}
	if c.PauseInterval != nil && *c.PauseInterval != "" {
		if _, err := time.ParseDuration(*c.PauseInterval); err != nil {
			return fmt.Errorf("invalid pause_interval '%s': %w", *c.PauseInterval, err)
		}
	}
	if c.OrthonormalTolerance != nil && *c.OrthonormalTolerance <= 0 {
		return fmt.Errorf("orthonormal_tolerance must be positive, got %f", *c.OrthonormalTolerance)
	}
	if c.EvictionHorizon != nil && *c.EvictionHorizon <= 0 {
		return fmt.Errorf("eviction_horizon must be positive, got %d", *c.EvictionHorizon)
	}
	if c.EyeHeightMeters != nil && (*c.EyeHeightMeters < 0 || *c.EyeHeightMeters > 3) {
		return fmt.Errorf("eye_height_meters must be between 0 and 3, got %f", *c.EyeHeightMeters)
	}
	if c.SerialBaud != nil && *c.SerialBaud <= 0 {
		return fmt.Errorf("serial_baud must be positive, got %d", *c.SerialBaud)
	}
	return nil
}

// GetLatencyBudget parses and returns the LatencyBudget as a time.Duration.
func (c *TuningConfig) GetLatencyBudget() time.Duration {
	if c.LatencyBudget == nil || *c.LatencyBudget == "" {
		return 50 * time.Millisecond // default
	}
	d, err := time.ParseDuration(*c.LatencyBudget)
	if err != nil {
		return 50 * time.Millisecond // default on parse error
	}
	return d
}

// GetProviderWait parses and returns the ProviderWait as a time.Duration.
func (c *TuningConfig) GetProviderWait() time.Duration {
	if c.ProviderWait == nil || *c.ProviderWait == "" {
		return 5 * time.Millisecond // default
	}
	d, err := time.ParseDuration(*c.ProviderWait)
	if err != nil {
		return 5 * time.Millisecond // default on parse error
	}
	return d
}

// GetPauseInterval parses and returns the PauseInterval as a time.Duration.
func (c *TuningConfig) GetPauseInterval() time.Duration {
	if c.PauseInterval == nil || *c.PauseInterval == "" {
		return 10 * time.Millisecond // default
	}
	d, err := time.ParseDuration(*c.PauseInterval)
	if err != nil {
		return 10 * time.Millisecond // default on parse error
	}
	return d
}

// GetOrthonormalTolerance returns the orthonormal_tolerance value or the default.
func (c *TuningConfig) GetOrthonormalTolerance() float64 {
	if c.OrthonormalTolerance == nil {
		return pose.DefaultOrthonormalTolerance
	}
	return *c.OrthonormalTolerance
}

// GetEvictionHorizon returns the eviction_horizon value or the default.
func (c *TuningConfig) GetEvictionHorizon() int64 {
	if c.EvictionHorizon == nil {
		return frametrack.DefaultEvictionHorizon
	}
	return *c.EvictionHorizon
}

// GetEyeHeightMeters returns the eye_height_meters value or the default.
func (c *TuningConfig) GetEyeHeightMeters() float32 {
	if c.EyeHeightMeters == nil {
		return transport.DefaultEyeHeightMeters
	}
	return float32(*c.EyeHeightMeters)
}

// GetSerialBaud returns the serial_baud value or the default.
func (c *TuningConfig) GetSerialBaud() int {
	if c.SerialBaud == nil {
		return headtrack.DefaultSerialBaud
	}
	return *c.SerialBaud
}

// SamplerConfig materializes the sampler tuning.
func (c *TuningConfig) SamplerConfig() headtrack.SamplerConfig {
	cfg := headtrack.DefaultSamplerConfig()
	cfg.LatencyBudget = c.GetLatencyBudget()
	cfg.ProviderWait = c.GetProviderWait()
	cfg.OrthonormalTolerance = c.GetOrthonormalTolerance()
	return cfg
}

// RenderConfig materializes the loop tuning.
func (c *TuningConfig) RenderConfig() render.Config {
	cfg := render.DefaultConfig()
	cfg.EvictionHorizon = c.GetEvictionHorizon()
	cfg.PauseInterval = c.GetPauseInterval()
	cfg.Convention = transport.Convention{EyeHeightMeters: c.GetEyeHeightMeters()}
	return cfg
}
