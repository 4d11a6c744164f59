package network

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/livox.bridge/internal/monitoring"
)

func TestPacketStats_LogStats(t *testing.T) {
	original := monitoring.Logf
	defer func() { monitoring.Logf = original }()
	var rec monitoring.Recorder
	monitoring.SetLogger(rec.Logf)

	ps := NewPacketStats()
	now := ps.lastReset
	ps.now = func() time.Time { return now }

	ps.AddPacket(1024 * 1024)
	ps.AddPacket(1024 * 1024)
	ps.AddPoints(1500)
	ps.AddDropped()

	now = now.Add(2 * time.Second)
	ps.LogStats()

	snap := ps.LatestSnapshot()
	require.NotNil(t, snap)
	assert.InDelta(t, 1.0, snap.PacketsPerSec, 1e-9)
	assert.InDelta(t, 1.0, snap.MBPerSec, 1e-9)
	assert.InDelta(t, 750, snap.PointsPerSec, 1e-9)
	assert.Equal(t, int64(1), snap.DroppedCount)
	assert.True(t, rec.Contains("1 dropped"))

	packets, _, _, _, _ := ps.GetAndReset()
	assert.Equal(t, int64(0), packets)
}

func TestPacketStats_IdleNotLogged(t *testing.T) {
	original := monitoring.Logf
	defer func() { monitoring.Logf = original }()
	var rec monitoring.Recorder
	monitoring.SetLogger(rec.Logf)

	ps := NewPacketStats()
	ps.LogStats()
	assert.Empty(t, rec.Lines())
	assert.Nil(t, ps.LatestSnapshot())
}

func TestFormatWithCommas(t *testing.T) {
	tests := map[int64]string{
		0:        "0",
		999:      "999",
		1000:     "1,000",
		1234567:  "1,234,567",
		-1234567: "-1,234,567",
	}
	for in, want := range tests {
		assert.Equal(t, want, FormatWithCommas(in))
	}
}
