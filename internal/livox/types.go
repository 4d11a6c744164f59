package livox

import (
	"fmt"
	"strings"
)

// DataType is the on-wire point encoding reported in every point packet.
type DataType uint8

const (
	DataTypeIMU           DataType = 0x00 // IMU samples (not decoded)
	DataTypeCartesianHigh DataType = 0x01 // int32 x/y/z in millimetres
	DataTypeCartesianLow  DataType = 0x02 // int16 x/y/z in centimetres
	DataTypeSpherical     DataType = 0x03 // depth/theta/phi (not decoded)
)

// String returns a short human readable name.
func (d DataType) String() string {
	switch d {
	case DataTypeIMU:
		return "imu"
	case DataTypeCartesianHigh:
		return "high"
	case DataTypeCartesianLow:
		return "low"
	case DataTypeSpherical:
		return "spherical"
	default:
		return fmt.Sprintf("unknown(0x%02x)", uint8(d))
	}
}

// Cartesian reports whether points of this type are decoded into samples.
func (d DataType) Cartesian() bool {
	return d == DataTypeCartesianHigh || d == DataTypeCartesianLow
}

// ParseDataType accepts the menu names used by the host configuration
// ("high"/"low") as well as the long forms ("cartesian_high", "mm", ...).
func ParseDataType(s string) (DataType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "high", "cartesian_high", "mm":
		return DataTypeCartesianHigh, nil
	case "low", "cartesian_low", "cm":
		return DataTypeCartesianLow, nil
	default:
		return DataTypeCartesianHigh, fmt.Errorf("unknown point data type %q (want high or low)", s)
	}
}

// WorkMode is the sensor operating mode requested over the control channel.
type WorkMode uint8

const (
	WorkModeNormal          WorkMode = 0x01
	WorkModeWakeUp          WorkMode = 0x02
	WorkModeSleep           WorkMode = 0x03
	WorkModeError           WorkMode = 0x04
	WorkModePowerOnSelfTest WorkMode = 0x05
	WorkModeMotorStarting   WorkMode = 0x06
	WorkModeMotorStopping   WorkMode = 0x07
	WorkModeUpgrade         WorkMode = 0x08
)

func (m WorkMode) String() string {
	switch m {
	case WorkModeNormal:
		return "normal"
	case WorkModeWakeUp:
		return "wake_up"
	case WorkModeSleep:
		return "sleep"
	case WorkModeError:
		return "error"
	case WorkModePowerOnSelfTest:
		return "self_test"
	case WorkModeMotorStarting:
		return "motor_starting"
	case WorkModeMotorStopping:
		return "motor_stopping"
	case WorkModeUpgrade:
		return "upgrade"
	default:
		return fmt.Sprintf("unknown(0x%02x)", uint8(m))
	}
}

// Status is the result code of an SDK control call or acknowledgement.
// Values match the vendor SDK so that status strings stay comparable with
// its own tooling.
type Status int32

const (
	StatusSuccess             Status = 0
	StatusFailure             Status = -1
	StatusNotConnected        Status = -2
	StatusNotSupported        Status = -3
	StatusTimeout             Status = -4
	StatusNotEnoughMemory     Status = -5
	StatusChannelNotExist     Status = -6
	StatusInvalidHandle       Status = -7
	StatusHandlerImplNotExist Status = -8
	StatusSendFailed          Status = -9
)

var statusNames = map[Status]string{
	StatusSuccess:             "success",
	StatusFailure:             "failure",
	StatusNotConnected:        "not connected",
	StatusNotSupported:        "not supported",
	StatusTimeout:             "timeout",
	StatusNotEnoughMemory:     "not enough memory",
	StatusChannelNotExist:     "channel does not exist",
	StatusInvalidHandle:       "invalid handle",
	StatusHandlerImplNotExist: "handler not implemented",
	StatusSendFailed:          "send failed",
}

// String renders the numeric code followed by its name, e.g. "-4 timeout".
func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return fmt.Sprintf("%d %s", int32(s), name)
	}
	return fmt.Sprintf("%d", int32(s))
}

// DeviceInfo is delivered with a connection/identity change.
type DeviceInfo struct {
	DevType uint8
	Serial  string
	IP      string
}

// ControlResponse is the device's reply to an asynchronous control request.
type ControlResponse struct {
	RetCode  uint8
	ErrorKey uint16
}

// PointSample is one decoded detection in the sensor frame.
type PointSample struct {
	X         float32 // metres
	Y         float32 // metres
	Z         float32 // metres
	Intensity float32 // raw reflectivity
	Tag       float32 // raw tag byte
	Timestamp uint64  // device clock ticks, shared by every point of a packet
}
