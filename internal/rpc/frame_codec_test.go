package rpc

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/livox.bridge/internal/host"
	"github.com/banshee-data/livox.bridge/internal/projection"
)

func TestEncodeFrameLayout(t *testing.T) {
	ch := projection.NewChannels(2)
	ch[0][0] = 1.5
	ch[3][1] = -2
	b := EncodeFrame(&host.Frame{Mode: projection.Cartesian, Populated: 2, Channels: ch})

	require.Len(t, b, frameHeaderSize+4*4*2)
	assert.Equal(t, "LVXF", string(b[:4]))
	assert.Equal(t, byte(frameVersion), b[4])
	assert.Equal(t, byte(0), b[5])
	assert.Equal(t, []byte{2, 0, 0, 0}, b[8:12])
	assert.Equal(t, []byte{2, 0, 0, 0}, b[12:16])
	// 1.5f = 0x3fc00000
	assert.Equal(t, []byte{0x00, 0x00, 0xc0, 0x3f}, b[16:20])
}

func TestDecodeFrameRoundTrip(t *testing.T) {
	ch := projection.NewChannels(4)
	for c := range ch {
		for i := range ch[c] {
			ch[c][i] = float32(c*10 + i)
		}
	}
	in := &host.Frame{Mode: projection.Spherical, Requested: 4, Populated: 3, Channels: ch}

	out, err := DecodeFrame(EncodeFrame(in))
	require.NoError(t, err)
	if diff := cmp.Diff(in.Channels, out.Channels); diff != "" {
		t.Errorf("channels mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, in.Mode, out.Mode)
	assert.Equal(t, 3, out.Populated)
	assert.InDelta(t, 0.75, out.FillRatio, 1e-6)
}

func TestDecodeFrameErrors(t *testing.T) {
	good := EncodeFrame(&host.Frame{Populated: 1, Channels: projection.NewChannels(1)})

	badVersion := append([]byte(nil), good...)
	badVersion[4] = 9
	badMode := append([]byte(nil), good...)
	badMode[5] = 7
	overPopulated := append([]byte(nil), good...)
	overPopulated[8] = 5

	tests := map[string][]byte{
		"short":         good[:8],
		"magic":         append([]byte("NOPE"), good[4:]...),
		"version":       badVersion,
		"mode":          badMode,
		"populated":     overPopulated,
		"truncated":     good[:len(good)-1],
		"trailing data": append(append([]byte(nil), good...), 0),
	}
	for name, b := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeFrame(b)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrBadFrame))
		})
	}
}
