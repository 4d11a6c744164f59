package livox

import (
	"encoding/binary"
	"errors"
	"net"
)

// ErrAlreadyInitialized is returned by Init on a driver that has not been
// Uninit since its last successful Init.
var ErrAlreadyInitialized = errors.New("livox: sdk already initialized")

// PointCloudHandler receives every point packet. It runs on the driver's
// receive goroutine and must not retain pkt.Data after returning.
type PointCloudHandler func(handle uint32, devType uint8, pkt *EthernetPacket)

// InfoHandler receives raw informational text pushed by the sensor.
type InfoHandler func(handle uint32, devType uint8, info string)

// InfoChangeHandler receives identity/connection changes.
type InfoChangeHandler func(handle uint32, info DeviceInfo)

// ControlCallback acknowledges an asynchronous control request. resp is nil
// when the device never answered.
type ControlCallback func(status Status, handle uint32, resp *ControlResponse)

// Handlers bundles the three hooks registered at session start.
type Handlers struct {
	PointCloud PointCloudHandler
	Info       InfoHandler
	InfoChange InfoChangeHandler
}

// SDK is the vendor SDK boundary. Implementations deliver callbacks on their
// own goroutines; control requests return a synchronous status for the
// submission and report the device's answer through cb.
type SDK interface {
	// Init prepares the driver from the sensor config file.
	Init(configPath string) error
	// Uninit releases everything Init acquired. It must be safe to call
	// once after a successful Init.
	Uninit()
	// Register installs the callback hooks, replacing any previous set.
	// Drivers hold point delivery until a point cloud hook is registered.
	Register(h Handlers)
	// SetWorkMode requests an operating mode for the device.
	SetWorkMode(handle uint32, mode WorkMode, cb ControlCallback) Status
	// SetPointDataType requests a point encoding for the device.
	SetPointDataType(handle uint32, t DataType, cb ControlCallback) Status
}

// HandleFromIP derives the device handle the SDK uses for a sensor: its IPv4
// address bytes read as a little-endian uint32. Non-IPv4 input yields 0.
func HandleFromIP(ip net.IP) uint32 {
	v4 := ip.To4()
	if v4 == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(v4)
}

// IPFromHandle is the inverse of HandleFromIP.
func IPFromHandle(handle uint32) net.IP {
	ip := make(net.IP, 4)
	binary.LittleEndian.PutUint32(ip, handle)
	return ip
}
