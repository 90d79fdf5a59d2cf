package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigPath is where the binaries look for a config file when none
// is given on the command line. A missing default file is not an error.
const DefaultConfigPath = "config/swingbot.json"

// Config holds the runtime settings shared by the collect, dataset and train
// binaries. Every field is optional; the Get* methods supply defaults for
// anything left unset, so partial files are safe.
type Config struct {
	// Capture loop
	FPSLimit       *float64 `json:"fps_limit,omitempty" yaml:"fps_limit,omitempty"`
	NoFrameBackoff *string  `json:"no_frame_backoff,omitempty" yaml:"no_frame_backoff,omitempty"` // duration string like "100ms"
	TouchX         *int     `json:"touch_x,omitempty" yaml:"touch_x,omitempty"`
	TouchY         *int     `json:"touch_y,omitempty" yaml:"touch_y,omitempty"`

	// Observation windows
	StackSize      *int    `json:"stack_size,omitempty" yaml:"stack_size,omitempty"`
	FrameWidth     *int    `json:"frame_width,omitempty" yaml:"frame_width,omitempty"`
	FrameHeight    *int    `json:"frame_height,omitempty" yaml:"frame_height,omitempty"`
	DataRoot       *string `json:"data_root,omitempty" yaml:"data_root,omitempty"`
	PreloadWorkers *int    `json:"preload_workers,omitempty" yaml:"preload_workers,omitempty"`

	// Training
	RolloutSteps *int    `json:"rollout_steps,omitempty" yaml:"rollout_steps,omitempty"`
	PauseTimeout *string `json:"pause_timeout,omitempty" yaml:"pause_timeout,omitempty"`

	// Endpoints
	SerialPort   *string `json:"serial_port,omitempty" yaml:"serial_port,omitempty"`
	SnapshotURL  *string `json:"snapshot_url,omitempty" yaml:"snapshot_url,omitempty"`
	PolicyURL    *string `json:"policy_url,omitempty" yaml:"policy_url,omitempty"`
	RegistryPath *string `json:"registry_path,omitempty" yaml:"registry_path,omitempty"`
}

// Empty returns a Config with every field unset.
func Empty() *Config {
	return &Config{}
}

// Load reads a Config from a .json, .yaml or .yml file and validates it.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(cleanPath))
	if ext != ".json" && ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("config file must have .json, .yaml or .yml extension, got %q", ext)
	}

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

	cfg := Empty()
	if ext == ".json" {
		err = json.Unmarshal(data, cfg)
	} else {
		err = yaml.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", filepath.Base(cleanPath), err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// LoadOrDefault loads path if it is set. An empty path falls back to
// DefaultConfigPath when that file exists, otherwise to Empty().
func LoadOrDefault(path string) (*Config, error) {
	if path != "" {
		return Load(path)
	}
	if _, err := os.Stat(DefaultConfigPath); err == nil {
		return Load(DefaultConfigPath)
	}
	return Empty(), nil
}

// Validate checks that the configuration values are valid.
func (c *Config) Validate() error {
	if c.FPSLimit != nil && (*c.FPSLimit <= 0 || *c.FPSLimit > 240) {
		return fmt.Errorf("fps_limit must be in (0, 240], got %f", *c.FPSLimit)
	}
	if c.StackSize != nil && *c.StackSize < 1 {
		return fmt.Errorf("stack_size must be at least 1, got %d", *c.StackSize)
	}
	if c.FrameWidth != nil && *c.FrameWidth < 1 {
		return fmt.Errorf("frame_width must be positive, got %d", *c.FrameWidth)
	}
	if c.FrameHeight != nil && *c.FrameHeight < 1 {
		return fmt.Errorf("frame_height must be positive, got %d", *c.FrameHeight)
	}
	if c.TouchX != nil && *c.TouchX < 0 {
		return fmt.Errorf("touch_x must be non-negative, got %d", *c.TouchX)
	}
	if c.TouchY != nil && *c.TouchY < 0 {
		return fmt.Errorf("touch_y must be non-negative, got %d", *c.TouchY)
	}
	if c.RolloutSteps != nil && *c.RolloutSteps < 1 {
		return fmt.Errorf("rollout_steps must be at least 1, got %d", *c.RolloutSteps)
	}
	if c.PreloadWorkers != nil && *c.PreloadWorkers < 0 {
		return fmt.Errorf("preload_workers must be non-negative, got %d", *c.PreloadWorkers)
	}
	for name, v := range map[string]*string{
		"no_frame_backoff": c.NoFrameBackoff,
		"pause_timeout":    c.PauseTimeout,
	} {
		if v != nil && *v != "" {
			if _, err := time.ParseDuration(*v); err != nil {
				return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
			}
		}
	}
	return nil
}

// GetFPSLimit returns the capture rate in frames per second.
func (c *Config) GetFPSLimit() float64 {
	if c.FPSLimit == nil {
		return 30
	}
	return *c.FPSLimit
}

// GetNoFrameBackoff returns how long the capture loop sleeps after a miss.
func (c *Config) GetNoFrameBackoff() time.Duration {
	return parseDuration(c.NoFrameBackoff, 100*time.Millisecond)
}

// GetTouchX returns the x coordinate of the hold gesture.
func (c *Config) GetTouchX() int {
	if c.TouchX == nil {
		return 750
	}
	return *c.TouchX
}

// GetTouchY returns the y coordinate of the hold gesture.
func (c *Config) GetTouchY() int {
	if c.TouchY == nil {
		return 400
	}
	return *c.TouchY
}

// GetStackSize returns K, the number of frames per observation window.
func (c *Config) GetStackSize() int {
	if c.StackSize == nil {
		return 4
	}
	return *c.StackSize
}

func (c *Config) GetFrameWidth() int {
	if c.FrameWidth == nil {
		return 128
	}
	return *c.FrameWidth
}

func (c *Config) GetFrameHeight() int {
	if c.FrameHeight == nil {
		return 128
	}
	return *c.FrameHeight
}

// GetDataRoot returns the directory holding session_* recordings.
func (c *Config) GetDataRoot() string {
	return stringOr(c.DataRoot, filepath.Join("data", "raw"))
}

// GetPreloadWorkers returns the decode concurrency for dataset preload.
// Zero means one worker per CPU.
func (c *Config) GetPreloadWorkers() int {
	if c.PreloadWorkers == nil {
		return 0
	}
	return *c.PreloadWorkers
}

// GetRolloutSteps returns the number of environment steps per rollout.
func (c *Config) GetRolloutSteps() int {
	if c.RolloutSteps == nil {
		return 2048
	}
	return *c.RolloutSteps
}

// GetPauseTimeout bounds each pause/unpause call to the live environment.
func (c *Config) GetPauseTimeout() time.Duration {
	return parseDuration(c.PauseTimeout, 2*time.Second)
}

func (c *Config) GetSerialPort() string   { return stringOr(c.SerialPort, "/dev/ttyUSB0") }
func (c *Config) GetSnapshotURL() string  { return stringOr(c.SnapshotURL, "http://localhost:8081/frame.jpg") }
func (c *Config) GetPolicyURL() string    { return stringOr(c.PolicyURL, "http://localhost:9002") }
func (c *Config) GetRegistryPath() string { return stringOr(c.RegistryPath, "swingbot.db") }

func parseDuration(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return def
	}
	return d
}

func stringOr(v *string, def string) string {
	if v == nil || *v == "" {
		return def
	}
	return *v
}
