package livox

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleSDKConfig = `{
  "MID360": {
    "lidar_net_info": {
      "cmd_data_port": 56100,
      "push_msg_port": 56200,
      "point_data_port": 56300,
      "imu_data_port": 56400,
      "log_data_port": 56500
    },
    "host_net_info": [
      {
        "lidar_ip": ["192.168.1.12"],
        "host_ip": "192.168.1.5",
        "multicast_ip": "224.1.1.5",
        "cmd_data_port": 56101,
        "push_msg_port": 56201,
        "point_data_port": 56301,
        "imu_data_port": 56401,
        "log_data_port": 56501
      }
    ]
  }
}`

func TestParseSDKConfig_Array(t *testing.T) {
	cfg, err := ParseSDKConfig([]byte(sampleSDKConfig))
	require.NoError(t, err)

	host := cfg.PrimaryHost()
	assert.Equal(t, "192.168.1.5", host.HostIP)
	assert.Equal(t, 56301, host.PointDataPort)
	assert.Equal(t, []string{"192.168.1.12"}, cfg.ExpectedLidarIPs())
	assert.Equal(t, 56300, cfg.Mid360.LidarNetInfo.PointDataPort)
}

func TestParseSDKConfig_ObjectAndDefaults(t *testing.T) {
	cfg, err := ParseSDKConfig([]byte(`{"MID360": {"host_net_info": {"lidar_ip": "10.0.0.2", "host_ip": "10.0.0.1"}}}`))
	require.NoError(t, err)

	host := cfg.PrimaryHost()
	assert.Equal(t, []string{"10.0.0.2"}, host.LidarIPs)
	assert.Equal(t, DefaultHostCmdPort, host.CmdDataPort)
	assert.Equal(t, DefaultHostPushPort, host.PushMsgPort)
	assert.Equal(t, DefaultHostPointPort, host.PointDataPort)
	assert.Equal(t, DefaultLidarPointPort, cfg.Mid360.LidarNetInfo.PointDataPort)
}

func TestParseSDKConfig_Errors(t *testing.T) {
	tests := map[string]string{
		"invalid json": `{`,
		"no host":      `{"MID360": {}}`,
		"bad host":     `{"MID360": {"host_net_info": [1]}}`,
		"bad lidar ip": `{"MID360": {"host_net_info": {"lidar_ip": 5}}}`,
	}
	for name, in := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseSDKConfig([]byte(in))
			assert.Error(t, err)
		})
	}
}

func TestLoadSDKConfig(t *testing.T) {
	dir := t.TempDir()

	path := filepath.Join(dir, "mid360_config.json")
	require.NoError(t, os.WriteFile(path, []byte(sampleSDKConfig), 0o644))
	cfg, err := LoadSDKConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "192.168.1.5", cfg.PrimaryHost().HostIP)

	_, err = LoadSDKConfig(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)

	txt := filepath.Join(dir, "config.txt")
	require.NoError(t, os.WriteFile(txt, []byte(sampleSDKConfig), 0o644))
	_, err = LoadSDKConfig(txt)
	assert.ErrorContains(t, err, ".json")
}
