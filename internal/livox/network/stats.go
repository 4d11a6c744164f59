package network

import (
	"fmt"
	"sync"
	"time"

	"github.com/banshee-data/livox.bridge/internal/monitoring"
)

// PacketStatsInterface receives per-datagram counters from the drivers.
type PacketStatsInterface interface {
	AddPacket(bytes int)
	AddDropped()
	AddPoints(count int)
	LogStats()
}

// noopStats is the default when no collector is supplied.
type noopStats struct{}

func (noopStats) AddPacket(int) {}
func (noopStats) AddDropped()   {}
func (noopStats) AddPoints(int) {}
func (noopStats) LogStats()     {}

// StatsSnapshot is the rate summary of the last logging interval.
type StatsSnapshot struct {
	PacketsPerSec float64   `json:"packets_per_sec"`
	MBPerSec      float64   `json:"mb_per_sec"`
	PointsPerSec  float64   `json:"points_per_sec"`
	DroppedCount  int64     `json:"dropped"`
	Timestamp     time.Time `json:"timestamp"`
}

// PacketStats counts datagrams, bytes, points and drops (filtered source or
// malformed header) between LogStats calls.
type PacketStats struct {
	mu           sync.Mutex
	packetCount  int64
	byteCount    int64
	droppedCount int64
	pointCount   int64
	lastReset    time.Time
	startTime    time.Time
	latest       *StatsSnapshot
	now          func() time.Time
}

func NewPacketStats() *PacketStats {
	now := time.Now()
	return &PacketStats{lastReset: now, startTime: now, now: time.Now}
}

func (ps *PacketStats) AddPacket(bytes int) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.packetCount++
	ps.byteCount += int64(bytes)
}

func (ps *PacketStats) AddDropped() {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.droppedCount++
}

func (ps *PacketStats) AddPoints(count int) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.pointCount += int64(count)
}

// GetAndReset returns the counters accumulated since the last reset.
func (ps *PacketStats) GetAndReset() (packets, bytes, dropped, points int64, duration time.Duration) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	now := ps.now()
	duration = now.Sub(ps.lastReset)
	packets, bytes, dropped, points = ps.packetCount, ps.byteCount, ps.droppedCount, ps.pointCount
	ps.packetCount, ps.byteCount, ps.droppedCount, ps.pointCount = 0, 0, 0, 0
	ps.lastReset = now
	return
}

// LogStats logs per-second rates for the interval and keeps them as the
// latest snapshot. Idle intervals are not logged.
func (ps *PacketStats) LogStats() {
	packets, bytes, dropped, points, duration := ps.GetAndReset()
	if packets == 0 && dropped == 0 {
		return
	}
	secs := duration.Seconds()
	if secs <= 0 {
		secs = 1
	}
	snap := StatsSnapshot{
		PacketsPerSec: float64(packets) / secs,
		MBPerSec:      float64(bytes) / secs / (1024 * 1024),
		PointsPerSec:  float64(points) / secs,
		DroppedCount:  dropped,
		Timestamp:     ps.now(),
	}

	ps.mu.Lock()
	ps.latest = &snap
	ps.mu.Unlock()

	msg := fmt.Sprintf("Livox stats (/sec): %.2f MB, %.1f packets, %s points",
		snap.MBPerSec, snap.PacketsPerSec, FormatWithCommas(int64(snap.PointsPerSec)))
	if dropped > 0 {
		msg += fmt.Sprintf(", %d dropped", dropped)
	}
	monitoring.Logf("%s", msg)
}

// LatestSnapshot returns a copy of the last logged interval, or nil.
func (ps *PacketStats) LatestSnapshot() *StatsSnapshot {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if ps.latest == nil {
		return nil
	}
	snap := *ps.latest
	return &snap
}

// Uptime returns the time since the stats were created.
func (ps *PacketStats) Uptime() time.Duration {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return ps.now().Sub(ps.startTime)
}

// FormatWithCommas formats a number with thousands separators.
func FormatWithCommas(n int64) string {
	str := fmt.Sprintf("%d", n)
	sign := ""
	if n < 0 {
		sign, str = "-", str[1:]
	}
	if len(str) <= 3 {
		return sign + str
	}

	result := ""
	for i, char := range str {
		if i > 0 && (len(str)-i)%3 == 0 {
			result += ","
		}
		result += string(char)
	}
	return sign + result
}
