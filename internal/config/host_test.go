package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultHostConfig(t *testing.T) {
	cfg := DefaultHostConfig()

	if cfg.PointsPerPoll == nil || *cfg.PointsPerPoll != 4096 {
		t.Errorf("Expected PointsPerPoll 4096, got %v", cfg.PointsPerPoll)
	}
	if cfg.PollInterval == nil || *cfg.PollInterval != "16ms" {
		t.Errorf("Expected PollInterval '16ms', got %v", cfg.PollInterval)
	}
	assert.False(t, cfg.GetActive())
	assert.Equal(t, 200000, cfg.GetBufferLimit())
	assert.Equal(t, "cartesian", cfg.GetCoordMode())
	assert.Equal(t, "high", cfg.GetDataType())
	assert.Equal(t, DefaultSensorConfigPath, cfg.GetSensorConfigPath())
}

func TestEmptyHostConfigGetters(t *testing.T) {
	cfg := EmptyHostConfig()
	assert.Equal(t, DefaultPointsPerPoll, cfg.GetPointsPerPoll())
	assert.Equal(t, DefaultBufferLimit, cfg.GetBufferLimit())
	assert.Equal(t, DefaultPollInterval, cfg.GetPollInterval())
	assert.False(t, cfg.GetActive())
}

func TestGetPointsPerPollClamps(t *testing.T) {
	tests := []struct {
		in, want int
	}{
		{10, 64},
		{64, 64},
		{5000, 5000},
		{65536, 65536},
		{100000, 65536},
		{-3, 64},
	}
	for _, tt := range tests {
		cfg := &HostConfig{PointsPerPoll: ptrInt(tt.in)}
		if got := cfg.GetPointsPerPoll(); got != tt.want {
			t.Errorf("GetPointsPerPoll(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestGetBufferLimitFloor(t *testing.T) {
	cfg := &HostConfig{BufferLimit: ptrInt(10)}
	assert.Equal(t, MinBufferLimit, cfg.GetBufferLimit())

	cfg.BufferLimit = ptrInt(5000)
	assert.Equal(t, 5000, cfg.GetBufferLimit())
}

func TestLoadHostConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "host.json")

	testJSON := `{
  "active": true,
  "points_per_poll": 2048,
  "coord_mode": "spherical",
  "data_type": "low",
  "poll_interval": "50ms"
}`
	require.NoError(t, os.WriteFile(configPath, []byte(testJSON), 0644))

	cfg, err := LoadHostConfig(configPath)
	require.NoError(t, err)

	assert.True(t, cfg.GetActive())
	assert.Equal(t, 2048, cfg.GetPointsPerPoll())
	assert.Equal(t, "spherical", cfg.GetCoordMode())
	assert.Equal(t, "low", cfg.GetDataType())
	assert.Equal(t, 50*time.Millisecond, cfg.GetPollInterval())
	// Omitted fields fall back to defaults.
	assert.Nil(t, cfg.BufferLimit)
	assert.Equal(t, DefaultBufferLimit, cfg.GetBufferLimit())
}

func TestLoadHostConfigErrors(t *testing.T) {
	tmpDir := t.TempDir()

	t.Run("wrong extension", func(t *testing.T) {
		path := filepath.Join(tmpDir, "host.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`{}`), 0644))
		_, err := LoadHostConfig(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), ".json")
	})

	t.Run("missing", func(t *testing.T) {
		_, err := LoadHostConfig(filepath.Join(tmpDir, "nope.json"))
		require.Error(t, err)
	})

	t.Run("too large", func(t *testing.T) {
		path := filepath.Join(tmpDir, "big.json")
		big := `{"sensor_config_path": "` + strings.Repeat("a", maxFileSize) + `"}`
		require.NoError(t, os.WriteFile(path, []byte(big), 0644))
		_, err := LoadHostConfig(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "too large")
	})

	t.Run("invalid json", func(t *testing.T) {
		path := filepath.Join(tmpDir, "bad.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"active": `), 0644))
		_, err := LoadHostConfig(path)
		require.Error(t, err)
	})
}

func TestValidate(t *testing.T) {
	tests := map[string]*HostConfig{
		"coord mode":    {CoordMode: ptrString("polar-ish")},
		"data type":     {DataType: ptrString("medium")},
		"bad interval":  {PollInterval: ptrString("fast")},
		"zero interval": {PollInterval: ptrString("0s")},
		"empty path":    {SensorConfigPath: ptrString("")},
	}
	for name, cfg := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Error(t, cfg.Validate())
		})
	}
	assert.NoError(t, DefaultHostConfig().Validate())
	assert.NoError(t, EmptyHostConfig().Validate())
}

func TestMerge(t *testing.T) {
	base := DefaultHostConfig()
	merged := base.Merge(&HostConfig{Active: ptrBool(true), PointsPerPoll: ptrInt(128)})

	assert.True(t, merged.GetActive())
	assert.Equal(t, 128, merged.GetPointsPerPoll())
	assert.Equal(t, "cartesian", merged.GetCoordMode())
	// The receiver is not modified.
	assert.False(t, base.GetActive())
	assert.Equal(t, 4096, base.GetPointsPerPoll())

	same := base.Merge(nil)
	assert.Equal(t, base.GetPointsPerPoll(), same.GetPointsPerPoll())
}

func TestMustLoadDefaultConfig(t *testing.T) {
	cfg := MustLoadDefaultConfig()
	assert.Equal(t, 4096, cfg.GetPointsPerPoll())
	assert.Equal(t, 16*time.Millisecond, cfg.GetPollInterval())
	assert.False(t, cfg.GetActive())
}
