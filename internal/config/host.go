package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultConfigPath is the canonical host defaults file.
const DefaultConfigPath = "config/host.defaults.json"

const (
	DefaultSensorConfigPath = "config/mid360_config.json"
	DefaultPointsPerPoll    = 4096
	MinPointsPerPoll        = 64
	MaxPointsPerPoll        = 65536
	DefaultBufferLimit      = 200000
	MinBufferLimit          = 1024
	DefaultCoordMode        = "cartesian"
	DefaultDataType         = "high"
	DefaultPollInterval     = 16 * time.Millisecond

	maxFileSize = 1 * 1024 * 1024
)

// HostConfig holds the parameters of the polling host. Every field is
// optional; the Get* methods supply defaults and clamp to the legal range.
type HostConfig struct {
	SensorConfigPath *string `json:"sensor_config_path,omitempty"`
	Active           *bool   `json:"active,omitempty"`
	PointsPerPoll    *int    `json:"points_per_poll,omitempty"`
	BufferLimit      *int    `json:"buffer_limit,omitempty"`
	CoordMode        *string `json:"coord_mode,omitempty"`
	DataType         *string `json:"data_type,omitempty"`
	PollInterval     *string `json:"poll_interval,omitempty"` // duration string like "16ms"
}

func ptrBool(v bool) *bool       { return &v }
func ptrInt(v int) *int          { return &v }
func ptrString(v string) *string { return &v }

// EmptyHostConfig returns a HostConfig with every field unset.
func EmptyHostConfig() *HostConfig {
	return &HostConfig{}
}

// DefaultHostConfig returns a HostConfig with every field set to its default.
func DefaultHostConfig() *HostConfig {
	return &HostConfig{
		SensorConfigPath: ptrString(DefaultSensorConfigPath),
		Active:           ptrBool(false),
		PointsPerPoll:    ptrInt(DefaultPointsPerPoll),
		BufferLimit:      ptrInt(DefaultBufferLimit),
		CoordMode:        ptrString(DefaultCoordMode),
		DataType:         ptrString(DefaultDataType),
		PollInterval:     ptrString(DefaultPollInterval.String()),
	}
}

// LoadHostConfig loads a HostConfig from a JSON file. The file must have a
// .json extension and be at most 1 MiB. Omitted fields keep their defaults.
func LoadHostConfig(path string) (*HostConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	info, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if info.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return ParseHostConfig(data)
}

// ParseHostConfig decodes and validates config JSON.
func ParseHostConfig(data []byte) (*HostConfig, error) {
	cfg := EmptyHostConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath from the working directory or
// one of its parents. It panics if the file cannot be found; intended for
// tests.
func MustLoadDefaultConfig() *HostConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath,
		"../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadHostConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate rejects values that cannot be interpreted. Out-of-range numbers
// are accepted and clamped by the getters.
func (c *HostConfig) Validate() error {
	if c.CoordMode != nil {
		switch *c.CoordMode {
		case "cartesian", "spherical":
		default:
			return fmt.Errorf("coord_mode must be cartesian or spherical, got %q", *c.CoordMode)
		}
	}
	if c.DataType != nil {
		switch *c.DataType {
		case "high", "low":
		default:
			return fmt.Errorf("data_type must be high or low, got %q", *c.DataType)
		}
	}
	if c.PollInterval != nil && *c.PollInterval != "" {
		d, err := time.ParseDuration(*c.PollInterval)
		if err != nil {
			return fmt.Errorf("invalid poll_interval '%s': %w", *c.PollInterval, err)
		}
		if d <= 0 {
			return fmt.Errorf("poll_interval must be positive, got %s", d)
		}
	}
	if c.SensorConfigPath != nil && *c.SensorConfigPath == "" {
		return fmt.Errorf("sensor_config_path must not be empty")
	}
	return nil
}

// Merge returns a copy of c with every field set in other taking precedence.
func (c *HostConfig) Merge(other *HostConfig) *HostConfig {
	out := *c
	if other == nil {
		return &out
	}
	if other.SensorConfigPath != nil {
		out.SensorConfigPath = other.SensorConfigPath
	}
	if other.Active != nil {
		out.Active = other.Active
	}
	if other.PointsPerPoll != nil {
		out.PointsPerPoll = other.PointsPerPoll
	}
	if other.BufferLimit != nil {
		out.BufferLimit = other.BufferLimit
	}
	if other.CoordMode != nil {
		out.CoordMode = other.CoordMode
	}
	if other.DataType != nil {
		out.DataType = other.DataType
	}
	if other.PollInterval != nil {
		out.PollInterval = other.PollInterval
	}
	return &out
}

func (c *HostConfig) GetSensorConfigPath() string {
	if c.SensorConfigPath == nil || *c.SensorConfigPath == "" {
		return DefaultSensorConfigPath
	}
	return *c.SensorConfigPath
}

func (c *HostConfig) GetActive() bool {
	if c.Active == nil {
		return false
	}
	return *c.Active
}

// GetPointsPerPoll returns points_per_poll clamped to [64, 65536].
func (c *HostConfig) GetPointsPerPoll() int {
	if c.PointsPerPoll == nil {
		return DefaultPointsPerPoll
	}
	return ClampPointsPerPoll(*c.PointsPerPoll)
}

// GetBufferLimit returns buffer_limit with the 1024 floor applied.
func (c *HostConfig) GetBufferLimit() int {
	if c.BufferLimit == nil {
		return DefaultBufferLimit
	}
	if *c.BufferLimit < MinBufferLimit {
		return MinBufferLimit
	}
	return *c.BufferLimit
}

func (c *HostConfig) GetCoordMode() string {
	if c.CoordMode == nil {
		return DefaultCoordMode
	}
	return *c.CoordMode
}

func (c *HostConfig) GetDataType() string {
	if c.DataType == nil {
		return DefaultDataType
	}
	return *c.DataType
}

// GetPollInterval parses poll_interval, falling back to 16ms.
func (c *HostConfig) GetPollInterval() time.Duration {
	if c.PollInterval == nil || *c.PollInterval == "" {
		return DefaultPollInterval
	}
	d, err := time.ParseDuration(*c.PollInterval)
	if err != nil || d <= 0 {
		return DefaultPollInterval
	}
	return d
}

// ClampPointsPerPoll limits n to [MinPointsPerPoll, MaxPointsPerPoll].
func ClampPointsPerPoll(n int) int {
	if n < MinPointsPerPoll {
		return MinPointsPerPoll
	}
	if n > MaxPointsPerPoll {
		return MaxPointsPerPoll
	}
	return n
}
