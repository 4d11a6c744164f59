package livox

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/banshee-data/livox.bridge/internal/monitoring"
)

// ErrConfigNotFound is returned by Start when the sensor config file is missing.
var ErrConfigNotFound = errors.New("livox: sensor config file not found")

// samplePool recycles decode scratch slices sized for a full packet.
var samplePool = sync.Pool{
	New: func() interface{} {
		s := make([]PointSample, 0, MaxDotNum)
		return &s
	},
}

// Device is one sensor session: it bridges the SDK's push callbacks to a
// pull consumer through a bounded sample buffer.
//
// Two locks are used and never nested: the buffer's own lock guards samples
// and capacity, mu guards everything else. The total-point counter is atomic.
type Device struct {
	sdk    SDK
	buffer *SampleBuffer

	mu             sync.Mutex
	running        bool
	connected      bool
	sdkInitialized bool
	generation     uint64
	sessionID      string
	configPath     string
	statusText     string
	infoText       string
	serial         string
	lidarIP        string
	handle         uint32
	requested      DataType
	active         DataType

	totalPoints atomic.Uint64
}

// NewDevice creates an idle session over sdk.
func NewDevice(sdk SDK) *Device {
	return &Device{
		sdk:        sdk,
		buffer:     NewSampleBuffer(DefaultBufferLimit),
		statusText: "Idle",
		requested:  DataTypeCartesianHigh,
		active:     DataTypeCartesianHigh,
	}
}

// Start initialises the SDK from configPath and registers the callbacks.
// On failure the status text describes the problem and no state changes.
// Starting a running session tears the old one down first and begins a fresh
// one (new session ID, counters reset).
func (d *Device) Start(configPath string) error {
	if _, err := os.Stat(configPath); err != nil {
		d.publishStatus("Config file not found: " + configPath)
		return fmt.Errorf("%w: %s", ErrConfigNotFound, configPath)
	}

	if d.IsRunning() {
		monitoring.Logf("livox: start requested while running, restarting session")
		d.Stop()
	}

	if err := d.sdk.Init(configPath); err != nil {
		d.publishStatus(fmt.Sprintf("SDK init failed: %v", err))
		return fmt.Errorf("sdk init: %w", err)
	}

	d.buffer.Clear()
	d.buffer.ResetEvicted()
	d.totalPoints.Store(0)

	d.mu.Lock()
	d.generation++
	gen := d.generation
	d.sessionID = uuid.NewString()
	d.configPath = configPath
	d.running = true
	d.sdkInitialized = true
	d.connected = false
	d.handle = 0
	d.serial = ""
	d.lidarIP = ""
	d.statusText = "SDK initialized, waiting for Mid-360"
	sessionID := d.sessionID
	d.mu.Unlock()

	d.sdk.Register(Handlers{
		PointCloud: func(_ uint32, _ uint8, pkt *EthernetPacket) {
			d.handlePointCloud(gen, pkt)
		},
		Info: func(_ uint32, _ uint8, info string) {
			d.handleInfoMessage(gen, info)
		},
		InfoChange: func(handle uint32, info DeviceInfo) {
			d.handleInfoChange(gen, handle, info)
		},
	})

	monitoring.Logf("livox: session %s started with %s", sessionID, configPath)
	return nil
}

// Stop ends the session and releases the SDK. It is a no-op when not running.
// The SDK teardown runs outside the state lock; callbacks that arrive after
// Stop returns are discarded.
func (d *Device) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.running = false
	d.connected = false
	d.handle = 0
	d.serial = ""
	d.lidarIP = ""
	d.statusText = "Stopped"
	shouldUninit := d.sdkInitialized
	d.sdkInitialized = false
	sessionID := d.sessionID
	d.mu.Unlock()

	if shouldUninit {
		d.sdk.Register(Handlers{})
		d.sdk.Uninit()
	}
	monitoring.Logf("livox: session %s stopped (%d points received)", sessionID, d.totalPoints.Load())
}

// Clear empties the sample buffer without touching session state or counters.
func (d *Device) Clear() {
	d.buffer.Clear()
}

// SetBufferLimit sets the sample capacity (at least 1), evicting the oldest
// samples immediately when the buffer is over the new limit.
func (d *Device) SetBufferLimit(limit int) {
	d.buffer.SetLimit(limit)
}

// BufferLimit returns the sample capacity.
func (d *Device) BufferLimit() int {
	return d.buffer.Limit()
}

// SetPointDataType records the requested point encoding. When connected the
// request is sent to the device immediately; otherwise it is applied on the
// next connection. Non-Cartesian types are ignored.
func (d *Device) SetPointDataType(t DataType) {
	if !t.Cartesian() {
		return
	}

	d.mu.Lock()
	if d.requested == t {
		d.mu.Unlock()
		return
	}
	d.requested = t
	var handle uint32
	if d.connected && d.handle != 0 {
		handle = d.handle
	}
	gen := d.generation
	d.mu.Unlock()

	if handle != 0 {
		d.applyPendingDataType(gen, handle)
	}
}

// Consume moves up to len(dst) of the oldest samples into dst in arrival
// order and returns how many were written. Consumed samples leave the buffer.
func (d *Device) Consume(dst []PointSample) int {
	return d.buffer.Drain(dst)
}

// BufferedSamples returns the number of samples waiting to be consumed.
func (d *Device) BufferedSamples() int {
	return d.buffer.Len()
}

// EvictedSamples returns how many samples the limit has dropped this session.
func (d *Device) EvictedSamples() uint64 {
	return d.buffer.Evicted()
}

// TotalPoints returns the number of points received this session, including
// any later evicted.
func (d *Device) TotalPoints() uint64 {
	return d.totalPoints.Load()
}

// IsRunning reports whether a session is started.
func (d *Device) IsRunning() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

// IsConnected reports whether the sensor has been seen this session.
func (d *Device) IsConnected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connected
}

// RequestedDataType returns the point encoding last asked for.
func (d *Device) RequestedDataType() DataType {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.requested
}

// ActiveDataType returns the encoding of the most recent packet.
func (d *Device) ActiveDataType() DataType {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.active
}

// StatusText returns the human readable session status.
func (d *Device) StatusText() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.statusText
}

// InfoMessage returns the last informational text pushed by the sensor.
func (d *Device) InfoMessage() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.infoText
}

// LidarSerial returns the connected sensor's serial number.
func (d *Device) LidarSerial() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.serial
}

// LidarIP returns the connected sensor's address.
func (d *Device) LidarIP() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lidarIP
}

// Handle returns the SDK handle of the connected sensor, or 0.
func (d *Device) Handle() uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.handle
}

// ConfigPath returns the sensor config file of the current session.
func (d *Device) ConfigPath() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.configPath
}

// SessionID identifies the current (or last) started session.
func (d *Device) SessionID() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sessionID
}

// Snapshot is a point-in-time copy of the session's observable state.
type Snapshot struct {
	SessionID       string
	ConfigPath      string
	Running         bool
	Connected       bool
	StatusText      string
	InfoText        string
	Serial          string
	LidarIP         string
	Handle          uint32
	RequestedType   DataType
	ActiveType      DataType
	BufferedSamples int
	BufferLimit     int
	EvictedSamples  uint64
	TotalPoints     uint64
}

// Snapshot reads the state fields under the state lock, then the buffer
// figures under the buffer lock. The two halves are not mutually atomic.
func (d *Device) Snapshot() Snapshot {
	d.mu.Lock()
	s := Snapshot{
		SessionID:     d.sessionID,
		ConfigPath:    d.configPath,
		Running:       d.running,
		Connected:     d.connected,
		StatusText:    d.statusText,
		InfoText:      d.infoText,
		Serial:        d.serial,
		LidarIP:       d.lidarIP,
		Handle:        d.handle,
		RequestedType: d.requested,
		ActiveType:    d.active,
	}
	d.mu.Unlock()

	s.BufferedSamples = d.buffer.Len()
	s.BufferLimit = d.buffer.Limit()
	s.EvictedSamples = d.buffer.Evicted()
	s.TotalPoints = d.totalPoints.Load()
	return s
}

// current reports whether gen is the live session. Callers hold mu.
func (d *Device) current(gen uint64) bool {
	return d.running && d.generation == gen
}

func (d *Device) handlePointCloud(gen uint64, pkt *EthernetPacket) {
	if pkt == nil || !pkt.DataType.Cartesian() {
		return
	}

	scratch := samplePool.Get().(*[]PointSample)
	defer samplePool.Put(scratch)

	samples, err := pkt.AppendSamples((*scratch)[:0])
	if err != nil {
		return
	}
	*scratch = samples[:0]

	d.mu.Lock()
	// The push below runs after mu is released. A Stop and Start landing in
	// between would let this one packet into the new session; drivers close
	// that window by joining their receive goroutines in Uninit.
	if !d.current(gen) {
		d.mu.Unlock()
		return
	}
	d.connected = true
	d.active = pkt.DataType
	d.mu.Unlock()

	d.buffer.Push(samples...)
	d.totalPoints.Add(uint64(pkt.DotNum))
}

func (d *Device) handleInfoMessage(gen uint64, info string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.current(gen) {
		return
	}
	d.infoText = info
}

func (d *Device) handleInfoChange(gen uint64, handle uint32, info DeviceInfo) {
	d.mu.Lock()
	if !d.current(gen) {
		d.mu.Unlock()
		return
	}
	d.connected = true
	d.handle = handle
	d.serial = info.Serial
	d.lidarIP = info.IP
	d.statusText = "Connected to " + info.Serial + " (" + info.IP + ")"
	d.mu.Unlock()

	monitoring.Logf("livox: connected to %s (%s), handle %d", info.Serial, info.IP, handle)

	if st := d.sdk.SetWorkMode(handle, WorkModeNormal, d.workModeAck(gen)); st != StatusSuccess {
		d.publishStatusFor(gen, fmt.Sprintf("Work mode failed (%s)", st))
	}
	d.applyPendingDataType(gen, handle)
}

func (d *Device) applyPendingDataType(gen uint64, handle uint32) {
	t := d.RequestedDataType()
	if st := d.sdk.SetPointDataType(handle, t, d.dataTypeAck(gen)); st != StatusSuccess {
		d.publishStatusFor(gen, fmt.Sprintf("Set data type failed (%s)", st))
	}
}

func (d *Device) workModeAck(gen uint64) ControlCallback {
	return func(status Status, handle uint32, resp *ControlResponse) {
		d.publishStatusFor(gen, formatAck("Work mode set OK", "Work mode failed", status, handle, resp))
	}
}

func (d *Device) dataTypeAck(gen uint64) ControlCallback {
	return func(status Status, handle uint32, resp *ControlResponse) {
		d.publishStatusFor(gen, formatAck("Data type updated", "Data type update failed", status, handle, resp))
	}
}

func formatAck(ok, failed string, status Status, handle uint32, resp *ControlResponse) string {
	if status == StatusSuccess && resp != nil && resp.RetCode == 0 {
		return fmt.Sprintf("%s for handle %d", ok, handle)
	}
	msg := fmt.Sprintf("%s (%s)", failed, status)
	if resp != nil {
		msg += fmt.Sprintf(" ret=%d", resp.RetCode)
	}
	return msg
}

// publishStatus sets the status text unconditionally.
func (d *Device) publishStatus(text string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.statusText = text
}

// publishStatusFor sets the status text only while gen is the live session,
// so a late acknowledgement cannot overwrite "Stopped" or a newer session.
func (d *Device) publishStatusFor(gen uint64, text string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.current(gen) {
		return
	}
	d.statusText = text
}
