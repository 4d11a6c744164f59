package livox

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Default ports of a Mid-360 and of the host side of its data streams.
const (
	DefaultLidarCmdPort   = 56100
	DefaultLidarPushPort  = 56200
	DefaultLidarPointPort = 56300
	DefaultHostCmdPort    = 56101
	DefaultHostPushPort   = 56201
	DefaultHostPointPort  = 56301

	maxSDKConfigSize = 1 * 1024 * 1024
)

// SDKConfig is the vendor JSON config passed to Start. Only the Mid-360
// section is understood.
type SDKConfig struct {
	Mid360 Mid360Config `json:"MID360"`
}

// Mid360Config describes the sensor-side and host-side network layout.
type Mid360Config struct {
	LidarNetInfo LidarNetInfo  `json:"lidar_net_info"`
	HostNetInfo  []HostNetInfo `json:"-"`
	// RawHostNetInfo accepts both the array form and the single-object form
	// written by older SDK sample configs.
	RawHostNetInfo json.RawMessage `json:"host_net_info"`
}

// LidarNetInfo lists the ports the sensor sends from.
type LidarNetInfo struct {
	CmdDataPort   int `json:"cmd_data_port"`
	PushMsgPort   int `json:"push_msg_port"`
	PointDataPort int `json:"point_data_port"`
	IMUDataPort   int `json:"imu_data_port"`
	LogDataPort   int `json:"log_data_port"`
}

// HostNetInfo lists the ports the host listens on and the sensors it expects.
type HostNetInfo struct {
	LidarIPs      []string `json:"lidar_ip"`
	HostIP        string   `json:"host_ip"`
	MulticastIP   string   `json:"multicast_ip,omitempty"`
	CmdDataPort   int      `json:"cmd_data_port"`
	PushMsgPort   int      `json:"push_msg_port"`
	PointDataPort int      `json:"point_data_port"`
	IMUDataPort   int      `json:"imu_data_port"`
	LogDataPort   int      `json:"log_data_port"`
}

// hostNetInfoCompat tolerates lidar_ip given as a single string.
type hostNetInfoCompat struct {
	HostNetInfo
	LidarIPs json.RawMessage `json:"lidar_ip"`
}

// LoadSDKConfig reads and validates a sensor config file.
func LoadSDKConfig(path string) (*SDKConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("sensor config must have .json extension, got %q", ext)
	}

	info, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat sensor config: %w", err)
	}
	if info.Size() > maxSDKConfigSize {
		return nil, fmt.Errorf("sensor config too large: %d bytes (max %d)", info.Size(), maxSDKConfigSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read sensor config: %w", err)
	}
	return ParseSDKConfig(data)
}

// ParseSDKConfig decodes config JSON and fills port defaults.
func ParseSDKConfig(data []byte) (*SDKConfig, error) {
	var cfg SDKConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse sensor config JSON: %w", err)
	}

	hosts, err := decodeHostNetInfo(cfg.Mid360.RawHostNetInfo)
	if err != nil {
		return nil, err
	}
	if len(hosts) == 0 {
		return nil, fmt.Errorf("sensor config has no MID360.host_net_info entry")
	}
	cfg.Mid360.HostNetInfo = hosts
	cfg.applyDefaults()
	return &cfg, nil
}

func decodeHostNetInfo(raw json.RawMessage) ([]HostNetInfo, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}

	var entries []json.RawMessage
	if raw[0] == '[' {
		if err := json.Unmarshal(raw, &entries); err != nil {
			return nil, fmt.Errorf("invalid host_net_info: %w", err)
		}
	} else {
		entries = []json.RawMessage{raw}
	}

	hosts := make([]HostNetInfo, 0, len(entries))
	for i, e := range entries {
		var c hostNetInfoCompat
		if err := json.Unmarshal(e, &c); err != nil {
			return nil, fmt.Errorf("invalid host_net_info[%d]: %w", i, err)
		}
		h := c.HostNetInfo
		h.LidarIPs = nil
		if ips := bytes.TrimSpace(c.LidarIPs); len(ips) > 0 {
			if ips[0] == '[' {
				if err := json.Unmarshal(ips, &h.LidarIPs); err != nil {
					return nil, fmt.Errorf("invalid host_net_info[%d].lidar_ip: %w", i, err)
				}
			} else {
				var one string
				if err := json.Unmarshal(ips, &one); err != nil {
					return nil, fmt.Errorf("invalid host_net_info[%d].lidar_ip: %w", i, err)
				}
				h.LidarIPs = []string{one}
			}
		}
		hosts = append(hosts, h)
	}
	return hosts, nil
}

func (c *SDKConfig) applyDefaults() {
	l := &c.Mid360.LidarNetInfo
	if l.CmdDataPort == 0 {
		l.CmdDataPort = DefaultLidarCmdPort
	}
	if l.PushMsgPort == 0 {
		l.PushMsgPort = DefaultLidarPushPort
	}
	if l.PointDataPort == 0 {
		l.PointDataPort = DefaultLidarPointPort
	}
	for i := range c.Mid360.HostNetInfo {
		h := &c.Mid360.HostNetInfo[i]
		if h.CmdDataPort == 0 {
			h.CmdDataPort = DefaultHostCmdPort
		}
		if h.PushMsgPort == 0 {
			h.PushMsgPort = DefaultHostPushPort
		}
		if h.PointDataPort == 0 {
			h.PointDataPort = DefaultHostPointPort
		}
	}
}

// PrimaryHost returns the first host entry.
func (c *SDKConfig) PrimaryHost() HostNetInfo {
	return c.Mid360.HostNetInfo[0]
}

// ExpectedLidarIPs lists every sensor address named by any host entry.
func (c *SDKConfig) ExpectedLidarIPs() []string {
	var ips []string
	for _, h := range c.Mid360.HostNetInfo {
		ips = append(ips, h.LidarIPs...)
	}
	return ips
}
