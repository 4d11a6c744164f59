// Package synthetic provides an SDK driver that fabricates a Mid-360 scan of
// a cylindrical room, for demos and tests without hardware.
package synthetic

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/banshee-data/livox.bridge/internal/livox"
	"github.com/banshee-data/livox.bridge/internal/livox/network"
	"github.com/banshee-data/livox.bridge/internal/monitoring"
	"github.com/banshee-data/livox.bridge/internal/timeutil"
)

// Mid-360 field of view.
const (
	minElevationDeg = -7.0
	maxElevationDeg = 52.0
)

const (
	DefaultSerial = "SYN0000000001"
	DefaultIP     = "192.168.1.100"
)

// Config describes the fabricated sensor and scene.
type Config struct {
	PacketsPerSecond float64 // default 200
	PointsPerPacket  int     // default 96, at most livox.MaxDotNum
	RoomRadius       float64 // metres, default 8
	CeilingHeight    float64 // metres above the sensor, default 2.5
	SensorHeight     float64 // metres above the floor, default 1.2
	NoiseStdDev      float64 // metres, default 0.01, negative disables
	Seed             int64
	Serial           string
	Clock            timeutil.Clock
}

func (c *Config) applyDefaults() {
	if c.PacketsPerSecond <= 0 {
		c.PacketsPerSecond = 200
	}
	if c.PointsPerPacket <= 0 {
		c.PointsPerPacket = 96
	}
	if c.PointsPerPacket > livox.MaxDotNum {
		c.PointsPerPacket = livox.MaxDotNum
	}
	if c.RoomRadius <= 0 {
		c.RoomRadius = 8
	}
	if c.CeilingHeight <= 0 {
		c.CeilingHeight = 2.5
	}
	if c.SensorHeight <= 0 {
		c.SensorHeight = 1.2
	}
	if c.NoiseStdDev < 0 {
		c.NoiseStdDev = 0
	} else if c.NoiseStdDev == 0 {
		c.NoiseStdDev = 0.01
	}
	if c.Serial == "" {
		c.Serial = DefaultSerial
	}
	if c.Clock == nil {
		c.Clock = timeutil.RealClock{}
	}
}

// Driver implements livox.SDK. After Init it emits one packet per tick
// through the same decode path as the network drivers. Work mode and data
// type requests are honoured and acknowledged asynchronously.
type Driver struct {
	cfg  Config
	disp *network.Dispatcher

	mu        sync.Mutex
	running   bool
	streaming bool
	dataType  livox.DataType
	ip        net.IP
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	acks      chan func()
	rng       *rand.Rand
	azimuth   float64
	frame     uint8
	udpCount  uint16
	ticks     uint64
}

// NewDriver creates an uninitialised synthetic driver.
func NewDriver(cfg Config) *Driver {
	cfg.applyDefaults()
	return &Driver{
		cfg:      cfg,
		disp:     network.NewDispatcher(nil, cfg.Serial),
		dataType: livox.DataTypeCartesianHigh,
		acks:     make(chan func(), 16),
	}
}

// Init reads the sensor config for the sensor address and starts the
// generator. The first expected lidar IP is used, or DefaultIP.
func (d *Driver) Init(configPath string) error {
	sdkCfg, err := livox.LoadSDKConfig(configPath)
	if err != nil {
		return err
	}
	ip := net.ParseIP(DefaultIP)
	if ips := sdkCfg.ExpectedLidarIPs(); len(ips) > 0 {
		if parsed := net.ParseIP(ips[0]); parsed != nil {
			ip = parsed
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return fmt.Errorf("synthetic driver: %w", livox.ErrAlreadyInitialized)
	}
	d.disp.Reset(nil)
	d.running = true
	d.streaming = true
	d.dataType = livox.DataTypeCartesianHigh
	d.ip = ip
	d.rng = rand.New(rand.NewSource(d.cfg.Seed))
	d.azimuth = 0
	d.ticks = 0

	ctx, cancel := context.WithCancel(context.Background())
	d.ctx = ctx
	d.cancel = cancel
	d.wg.Add(2)
	go d.run(ctx)
	go d.ackLoop(ctx)

	monitoring.Logf("synthetic driver emitting %.0f packets/s of %d points as %s", d.cfg.PacketsPerSecond, d.cfg.PointsPerPacket, ip)
	return nil
}

func (d *Driver) Uninit() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.running = false
	d.cancel()
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *Driver) Register(h livox.Handlers) {
	d.disp.Register(h)
}

// SetWorkMode pauses the stream for any mode other than normal.
func (d *Driver) SetWorkMode(handle uint32, mode livox.WorkMode, cb livox.ControlCallback) livox.Status {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return livox.StatusNotConnected
	}
	d.streaming = mode == livox.WorkModeNormal
	ctx := d.ctx
	d.mu.Unlock()

	d.disp.Info(handle, `{"work_tgt_mode":"`+mode.String()+`"}`)
	d.ack(ctx, handle, cb, 0)
	return livox.StatusSuccess
}

// SetPointDataType switches the encoding of subsequent packets. Non-Cartesian
// types are refused by the fabricated device with a non-zero return code.
func (d *Driver) SetPointDataType(handle uint32, t livox.DataType, cb livox.ControlCallback) livox.Status {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return livox.StatusNotConnected
	}
	var ret uint8
	if t.Cartesian() {
		d.dataType = t
	} else {
		ret = 1
	}
	ctx := d.ctx
	d.mu.Unlock()

	d.ack(ctx, handle, cb, ret)
	return livox.StatusSuccess
}

// Ticks returns how many packets have been generated this session.
func (d *Driver) Ticks() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ticks
}

// ack queues an acknowledgement. Acks run in request order on one goroutine.
func (d *Driver) ack(ctx context.Context, handle uint32, cb livox.ControlCallback, ret uint8) {
	if cb == nil {
		return
	}
	select {
	case d.acks <- func() { cb(livox.StatusSuccess, handle, &livox.ControlResponse{RetCode: ret}) }:
	case <-ctx.Done():
	}
}

func (d *Driver) ackLoop(ctx context.Context) {
	defer d.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case f := <-d.acks:
			f()
		}
	}
}

func (d *Driver) run(ctx context.Context) {
	defer d.wg.Done()

	select {
	case <-ctx.Done():
		return
	case <-d.disp.Ready():
	}

	interval := time.Duration(float64(time.Second) / d.cfg.PacketsPerSecond)
	ticker := d.cfg.Clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C():
			payload, ip, ok := d.nextPacket(now)
			if !ok {
				continue
			}
			d.disp.Deliver(ip, payload)
		}
	}
}

// nextPacket fabricates one datagram, or reports false while paused.
func (d *Driver) nextPacket(now time.Time) ([]byte, net.IP, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.streaming {
		return nil, nil, false
	}

	points := make([]livox.RawPoint, d.cfg.PointsPerPacket)
	unit := 1000.0
	if d.dataType == livox.DataTypeCartesianLow {
		unit = 100.0
	}
	for i := range points {
		x, y, z, refl := d.samplePoint()
		points[i] = livox.RawPoint{
			X:            int32(math.Round(x * unit)),
			Y:            int32(math.Round(y * unit)),
			Z:            int32(math.Round(z * unit)),
			Reflectivity: refl,
		}
	}

	pkt, err := livox.NewCartesianPacket(d.dataType, uint64(now.UnixNano()), points)
	if err != nil {
		monitoring.Logf("synthetic driver: %v", err)
		return nil, nil, false
	}
	d.udpCount++
	d.ticks++
	pkt.UDPCount = d.udpCount
	pkt.FrameCount = d.frame
	payload, err := pkt.MarshalBinary()
	if err != nil {
		monitoring.Logf("synthetic driver: %v", err)
		return nil, nil, false
	}
	return payload, d.ip, true
}

// samplePoint casts one ray from the sensor and returns where it meets the
// room: wall, floor or ceiling. Callers hold mu.
func (d *Driver) samplePoint() (x, y, z float64, refl uint8) {
	// Golden-angle azimuth steps give a non-repeating rosette like the real
	// scan head.
	d.azimuth += 137.50776405
	if d.azimuth >= 360 {
		d.azimuth -= 360
		d.frame++
	}
	el := minElevationDeg + d.rng.Float64()*(maxElevationDeg-minElevationDeg)

	az := d.azimuth * math.Pi / 180
	elr := el * math.Pi / 180
	dx := math.Cos(elr) * math.Cos(az)
	dy := math.Cos(elr) * math.Sin(az)
	dz := math.Sin(elr)

	t := d.cfg.RoomRadius / math.Cos(elr)
	refl = 60
	if dz > 0 {
		if tc := d.cfg.CeilingHeight / dz; tc < t {
			t, refl = tc, 30
		}
	} else if dz < 0 {
		if tf := d.cfg.SensorHeight / -dz; tf < t {
			t, refl = tf, 120
		}
	}
	t += d.rng.NormFloat64() * d.cfg.NoiseStdDev
	if t < 0.1 {
		t = 0.1
	}
	refl += uint8(d.rng.Intn(20))
	return t * dx, t * dy, t * dz, refl
}
