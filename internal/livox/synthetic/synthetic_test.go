package synthetic

import (
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/livox.bridge/internal/livox"
	"github.com/banshee-data/livox.bridge/internal/timeutil"
)

const sensorConfig = `{"MID360": {"host_net_info": [{"lidar_ip": ["192.168.1.50"], "host_ip": "192.168.1.5"}]}}`

func writeConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mid360_config.json")
	require.NoError(t, os.WriteFile(path, []byte(sensorConfig), 0o644))
	return path
}

func newTestDevice(t *testing.T) (*livox.Device, *Driver, *timeutil.MockClock) {
	t.Helper()
	clock := timeutil.NewMockClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	drv := NewDriver(Config{PacketsPerSecond: 100, PointsPerPacket: 10, Seed: 1, Clock: clock})
	dev := livox.NewDevice(drv)
	require.NoError(t, dev.Start(writeConfig(t)))
	t.Cleanup(dev.Stop)
	clock.WaitForTickers(1)
	return dev, drv, clock
}

// tick advances one packet interval and waits for the driver to emit it.
func tick(t *testing.T, drv *Driver, clock *timeutil.MockClock) {
	t.Helper()
	before := drv.Ticks()
	clock.Advance(10 * time.Millisecond)
	require.Eventually(t, func() bool { return drv.Ticks() > before }, time.Second, time.Millisecond)
}

func TestDriver_StreamsIntoDevice(t *testing.T) {
	dev, drv, clock := newTestDevice(t)

	tick(t, drv, clock)
	require.Eventually(t, func() bool { return dev.TotalPoints() == 10 }, time.Second, time.Millisecond)

	assert.True(t, dev.IsConnected())
	assert.Equal(t, DefaultSerial, dev.LidarSerial())
	assert.Equal(t, "192.168.1.50", dev.LidarIP())

	handle := livox.HandleFromIP([]byte{192, 168, 1, 50})
	require.Eventually(t, func() bool {
		return dev.StatusText() == "Data type updated for handle "+strconv.FormatUint(uint64(handle), 10)
	}, time.Second, time.Millisecond, "status %q", dev.StatusText())
	assert.Contains(t, dev.InfoMessage(), "normal")

	tick(t, drv, clock)
	require.Eventually(t, func() bool { return dev.TotalPoints() == 20 }, time.Second, time.Millisecond)

	dst := make([]livox.PointSample, 20)
	require.Equal(t, 20, dev.Consume(dst))
	assert.NotEqual(t, dst[0].Timestamp, dst[19].Timestamp, "packets carry their own timestamps")
}

func TestDriver_HonoursDataType(t *testing.T) {
	dev, drv, clock := newTestDevice(t)
	tick(t, drv, clock)
	require.Eventually(t, dev.IsConnected, time.Second, time.Millisecond)

	dev.SetPointDataType(livox.DataTypeCartesianLow)
	require.Eventually(t, func() bool {
		drv.mu.Lock()
		defer drv.mu.Unlock()
		return drv.dataType == livox.DataTypeCartesianLow
	}, time.Second, time.Millisecond)

	tick(t, drv, clock)
	require.Eventually(t, func() bool { return dev.ActiveDataType() == livox.DataTypeCartesianLow }, time.Second, time.Millisecond)
}

func TestDriver_SleepPausesStream(t *testing.T) {
	_, drv, clock := newTestDevice(t)
	tick(t, drv, clock)

	handle := livox.HandleFromIP([]byte{192, 168, 1, 50})
	assert.Equal(t, livox.StatusSuccess, drv.SetWorkMode(handle, livox.WorkModeSleep, nil))

	before := drv.Ticks()
	clock.Advance(10 * time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, before, drv.Ticks())

	assert.Equal(t, livox.StatusSuccess, drv.SetWorkMode(handle, livox.WorkModeNormal, nil))
	tick(t, drv, clock)
}

func TestDriver_RefusesSpherical(t *testing.T) {
	_, drv, _ := newTestDevice(t)

	got := make(chan uint8, 1)
	st := drv.SetPointDataType(1, livox.DataTypeSpherical, func(_ livox.Status, _ uint32, resp *livox.ControlResponse) {
		got <- resp.RetCode
	})
	assert.Equal(t, livox.StatusSuccess, st)
	assert.Equal(t, uint8(1), <-got)
}

func TestDriver_NotInitialised(t *testing.T) {
	drv := NewDriver(Config{})
	assert.Equal(t, livox.StatusNotConnected, drv.SetWorkMode(1, livox.WorkModeNormal, nil))
	assert.Equal(t, livox.StatusNotConnected, drv.SetPointDataType(1, livox.DataTypeCartesianLow, nil))
	drv.Uninit()

	assert.Error(t, drv.Init(filepath.Join(t.TempDir(), "missing.json")))
}

func TestSamplePoint_InsideRoom(t *testing.T) {
	drv := NewDriver(Config{NoiseStdDev: -1})
	drv.rng = rand.New(rand.NewSource(7))

	for i := 0; i < 5000; i++ {
		x, y, z, _ := drv.samplePoint()
		horizontal := math.Hypot(x, y)
		assert.LessOrEqual(t, horizontal, drv.cfg.RoomRadius+1e-9)
		assert.GreaterOrEqual(t, z, -drv.cfg.SensorHeight-1e-9)
		assert.LessOrEqual(t, z, drv.cfg.CeilingHeight+1e-9)

		el := math.Atan2(z, horizontal) * 180 / math.Pi
		assert.GreaterOrEqual(t, el, minElevationDeg-1e-6)
		assert.LessOrEqual(t, el, maxElevationDeg+1e-6)
	}
}
