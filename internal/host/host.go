// Package host drives a livox.Device from a fixed-cadence tick. Each tick
// (a "cook") reconciles the device with the current configuration, drains up
// to points_per_poll samples and projects them into four output channels.
package host

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/livox.bridge/internal/config"
	"github.com/banshee-data/livox.bridge/internal/livox"
	"github.com/banshee-data/livox.bridge/internal/monitoring"
	"github.com/banshee-data/livox.bridge/internal/projection"
	"github.com/banshee-data/livox.bridge/internal/timeutil"
)

var logf = monitoring.Component("host")

// Event kinds written to the journal.
const (
	EventStart       = "start"
	EventStartFailed = "start_failed"
	EventStop        = "stop"
	EventStatus      = "status"
)

// Journal records session lifecycle. Implementations must be safe for
// concurrent use.
type Journal interface {
	BeginSession(sessionID, configPath, driver string, at time.Time) error
	EndSession(sessionID string, at time.Time, snap livox.Snapshot) error
	RecordEvent(sessionID string, at time.Time, kind, message string) error
}

// Frame is the output of one cook.
type Frame struct {
	Seq       uint64
	At        time.Time
	Mode      projection.CoordMode
	Requested int
	Populated int
	FillRatio float32
	Channels  [4][]float32
}

// ChannelNames returns the output channel names for the frame's mode.
func (f *Frame) ChannelNames() [4]string {
	return projection.ChannelNames(f.Mode)
}

// InfoRow is one name/value line of the info table.
type InfoRow struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Info is the host's diagnostic surface.
type Info struct {
	Rows           []InfoRow `json:"rows"`
	Executions     uint64    `json:"executions"`
	BufferedPoints int       `json:"buffered_points"`
	FillRatio      float32   `json:"fill_ratio"`
}

// Options configures a Host. Zero values select defaults.
type Options struct {
	Config  *config.HostConfig
	Clock   timeutil.Clock
	Journal Journal
	// Driver names the SDK implementation in journal entries.
	Driver string
}

// Host owns one Device and performs cooks against it.
type Host struct {
	device  *livox.Device
	clock   timeutil.Clock
	journal Journal
	driver  string

	mu           sync.Mutex
	cfg          *config.HostConfig
	executions   uint64
	appliedLimit int
	activePath   string
	appliedType  livox.DataType
	typeApplied  bool
	lastStatus   string
	fillRatio    float32
	latest       *Frame
	scratch      []livox.PointSample
	closed       bool

	subMu sync.Mutex
	subs  map[string]chan *Frame
}

// New creates a Host around device. The device should not be started yet.
func New(device *livox.Device, opts Options) *Host {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.DefaultHostConfig()
	}
	clock := opts.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	driver := opts.Driver
	if driver == "" {
		driver = "unknown"
	}
	return &Host{
		device:  device,
		clock:   clock,
		journal: opts.Journal,
		driver:  driver,
		cfg:     cfg,
		subs:    make(map[string]chan *Frame),
	}
}

// Device returns the underlying session.
func (h *Host) Device() *livox.Device {
	return h.device
}

// Snapshot returns the device's observable state.
func (h *Host) Snapshot() livox.Snapshot {
	return h.device.Snapshot()
}

// Config returns the configuration used by the next cook.
func (h *Host) Config() *config.HostConfig {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cfg
}

// SetConfig replaces the configuration; it takes effect on the next cook.
func (h *Host) SetConfig(cfg *config.HostConfig) {
	if cfg == nil {
		return
	}
	h.mu.Lock()
	h.cfg = cfg
	h.mu.Unlock()
}

// Cook performs one tick and returns the produced frame.
func (h *Host) Cook() *Frame {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return h.latest
	}

	h.executions++
	requested := h.cfg.GetPointsPerPoll()

	desired := h.cfg.GetBufferLimit()
	if requested > desired {
		desired = requested
	}
	if desired != h.appliedLimit {
		h.device.SetBufferLimit(desired)
		h.appliedLimit = desired
	}

	h.ensureState()

	if t, err := livox.ParseDataType(h.cfg.GetDataType()); err == nil {
		if !h.typeApplied || t != h.appliedType {
			h.device.SetPointDataType(t)
			h.appliedType = t
			h.typeApplied = true
		}
	}

	mode, err := projection.ParseCoordMode(h.cfg.GetCoordMode())
	if err != nil {
		mode = projection.Cartesian
	}

	if cap(h.scratch) < requested {
		h.scratch = make([]livox.PointSample, requested)
	}
	samples := h.scratch[:requested]
	populated := h.device.Consume(samples)

	channels := projection.NewChannels(requested)
	projection.Fill(channels, samples, populated, mode)

	h.fillRatio = float32(populated) / float32(requested)
	frame := &Frame{
		Seq:       h.executions,
		At:        h.clock.Now(),
		Mode:      mode,
		Requested: requested,
		Populated: populated,
		FillRatio: h.fillRatio,
		Channels:  channels,
	}
	h.latest = frame

	if status := h.device.StatusText(); status != h.lastStatus {
		h.lastStatus = status
		h.recordEvent(h.device.SessionID(), EventStatus, status)
	}

	h.publish(frame)
	return frame
}

// ensureState starts, restarts or stops the device to match the config.
// Callers hold mu.
func (h *Host) ensureState() {
	running := h.device.IsRunning()
	if !h.cfg.GetActive() {
		if running {
			h.stopDevice()
		}
		h.activePath = ""
		return
	}

	path := h.cfg.GetSensorConfigPath()
	if running && path == h.activePath {
		return
	}
	if running {
		logf("sensor config changed from %s to %s, restarting", h.activePath, path)
		h.stopDevice()
	}
	if err := h.device.Start(path); err != nil {
		// Retry on the next cook while active stays set.
		h.activePath = ""
		h.recordEvent("", EventStartFailed, err.Error())
		return
	}
	h.activePath = path
	// A fresh session has no data type applied yet.
	h.typeApplied = false

	id := h.device.SessionID()
	if h.journal != nil {
		if err := h.journal.BeginSession(id, path, h.driver, h.clock.Now()); err != nil {
			logf("journal begin session %s: %v", id, err)
		}
	}
	h.recordEvent(id, EventStart, path)
}

// stopDevice stops the device and closes its journal entry. Callers hold mu.
func (h *Host) stopDevice() {
	snap := h.device.Snapshot()
	h.device.Stop()
	if h.journal != nil && snap.SessionID != "" {
		if err := h.journal.EndSession(snap.SessionID, h.clock.Now(), snap); err != nil {
			logf("journal end session %s: %v", snap.SessionID, err)
		}
	}
	h.recordEvent(snap.SessionID, EventStop, "Stopped")
}

func (h *Host) recordEvent(sessionID, kind, message string) {
	if h.journal == nil {
		return
	}
	if err := h.journal.RecordEvent(sessionID, h.clock.Now(), kind, message); err != nil {
		logf("journal %s event: %v", kind, err)
	}
}

// Reset clears buffered samples without touching the session.
func (h *Host) Reset() {
	h.device.Clear()
}

// SetBufferLimit overrides the configured buffer limit until the next config
// change. The value is applied immediately.
func (h *Host) SetBufferLimit(n int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cfg = h.cfg.Merge(&config.HostConfig{BufferLimit: &n})
	desired := h.cfg.GetBufferLimit()
	if requested := h.cfg.GetPointsPerPoll(); requested > desired {
		desired = requested
	}
	h.device.SetBufferLimit(desired)
	h.appliedLimit = desired
}

// Info returns the info table and channels.
func (h *Host) Info() Info {
	snap := h.device.Snapshot()

	h.mu.Lock()
	executions := h.executions
	fill := h.fillRatio
	h.mu.Unlock()

	return Info{
		Rows: []InfoRow{
			{Name: "Status", Value: snap.StatusText},
			{Name: "Config Path", Value: snap.ConfigPath},
			{Name: "Serial", Value: snap.Serial},
			{Name: "Lidar IP", Value: snap.LidarIP},
			{Name: "Buffered samples", Value: fmt.Sprintf("%d", snap.BufferedSamples)},
			{Name: "Total samples", Value: fmt.Sprintf("%d", snap.TotalPoints)},
			{Name: "Info message", Value: snap.InfoText},
		},
		Executions:     executions,
		BufferedPoints: snap.BufferedSamples,
		FillRatio:      fill,
	}
}

// Latest returns the most recent frame, or nil before the first cook.
func (h *Host) Latest() *Frame {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.latest
}

// Subscribe returns a channel that always holds the newest frame. Slow
// readers skip frames; they never block the cook.
func (h *Host) Subscribe() (string, <-chan *Frame) {
	id := uuid.NewString()
	ch := make(chan *Frame, 1)
	h.subMu.Lock()
	defer h.subMu.Unlock()
	h.subs[id] = ch
	return id, ch
}

// Unsubscribe closes and removes a subscription.
func (h *Host) Unsubscribe(id string) {
	h.subMu.Lock()
	defer h.subMu.Unlock()
	if ch, ok := h.subs[id]; ok {
		close(ch)
		delete(h.subs, id)
	}
}

func (h *Host) publish(f *Frame) {
	h.subMu.Lock()
	defer h.subMu.Unlock()
	for _, ch := range h.subs {
		// Replace any unread frame with the newer one.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- f:
		default:
		}
	}
}

// Run cooks on every tick of poll_interval until ctx is cancelled. A change
// of poll_interval takes effect after the next tick.
func (h *Host) Run(ctx context.Context) error {
	interval := h.Config().GetPollInterval()
	ticker := h.clock.NewTicker(interval)
	defer ticker.Stop()

	logf("cook loop started: interval=%v", interval)
	for {
		select {
		case <-ctx.Done():
			logf("cook loop stopping: %v", ctx.Err())
			return nil
		case <-ticker.C():
			h.Cook()
			if d := h.Config().GetPollInterval(); d != interval {
				interval = d
				ticker.Reset(d)
				logf("cook interval changed to %v", d)
			}
		}
	}
}

// Close stops the device and ends every subscription. Later cooks are no-ops.
func (h *Host) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	if h.device.IsRunning() {
		h.stopDevice()
	}
	h.activePath = ""
	h.mu.Unlock()

	h.subMu.Lock()
	for id, ch := range h.subs {
		close(ch)
		delete(h.subs, id)
	}
	h.subMu.Unlock()
	return nil
}
