package projection

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/livox.bridge/internal/livox"
)

func TestProject_Cartesian(t *testing.T) {
	s := livox.PointSample{X: 1.5, Y: -2, Z: 0.25, Intensity: 80, Tag: 3}
	got := Project(s, Cartesian)
	assert.Equal(t, [4]float32{1.5, -2, 0.25, 80}, got)
}

func TestProject_Spherical(t *testing.T) {
	tests := []struct {
		name string
		in   livox.PointSample
		want [4]float64
	}{
		{"3-4-0", livox.PointSample{X: 3, Y: 4, Intensity: 9}, [4]float64{5, math.Atan2(4, 3) * 180 / math.Pi, 0, 9}},
		{"origin", livox.PointSample{Intensity: 7}, [4]float64{0, 0, 0, 7}},
		{"straight up", livox.PointSample{Z: 2}, [4]float64{2, 0, 90, 0}},
		{"behind", livox.PointSample{X: -1}, [4]float64{1, 180, 0, 0}},
		{"below left", livox.PointSample{Y: 1, Z: -1}, [4]float64{math.Sqrt2, 90, -45, 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Project(tt.in, Spherical)
			for c := range got {
				assert.InDelta(t, tt.want[c], float64(got[c]), 1e-4, "channel %d", c)
			}
		})
	}
	assert.InDelta(t, 53.13, float64(Project(livox.PointSample{X: 3, Y: 4}, Spherical)[1]), 0.01)
}

func TestFill_ZeroesTail(t *testing.T) {
	ch := NewChannels(4)
	for c := range ch {
		for i := range ch[c] {
			ch[c][i] = 99
		}
	}
	samples := []livox.PointSample{
		{X: 1, Y: 2, Z: 3, Intensity: 4},
		{X: 5, Y: 6, Z: 7, Intensity: 8},
	}

	n := Fill(ch, samples, 2, Cartesian)
	require.Equal(t, 2, n)

	want := [4][]float32{
		{1, 5, 0, 0},
		{2, 6, 0, 0},
		{3, 7, 0, 0},
		{4, 8, 0, 0},
	}
	if diff := cmp.Diff(want, ch); diff != "" {
		t.Errorf("channels mismatch (-want +got):\n%s", diff)
	}
}

func TestFill_ClampsPopulated(t *testing.T) {
	ch := NewChannels(2)
	samples := []livox.PointSample{{X: 1}, {X: 2}, {X: 3}}

	assert.Equal(t, 2, Fill(ch, samples, 3, Cartesian))
	assert.Equal(t, 1, Fill(ch, samples[:1], 5, Cartesian))
	assert.Equal(t, []float32{1, 0}, ch[0])
	assert.Equal(t, 0, Fill(ch, samples, -1, Cartesian))
	assert.Equal(t, []float32{0, 0}, ch[0])
}

func TestFill_Spherical(t *testing.T) {
	ch := NewChannels(1)
	Fill(ch, []livox.PointSample{{X: 3, Y: 4}}, 1, Spherical)
	assert.InDelta(t, 5, ch[0][0], 1e-6)
}

func TestParseCoordMode(t *testing.T) {
	m, err := ParseCoordMode("Spherical")
	require.NoError(t, err)
	assert.Equal(t, Spherical, m)

	m, err = ParseCoordMode("xyz")
	require.NoError(t, err)
	assert.Equal(t, Cartesian, m)

	_, err = ParseCoordMode("cylindrical")
	assert.Error(t, err)

	assert.Equal(t, "spherical", Spherical.String())
}

func TestChannelNames(t *testing.T) {
	assert.Equal(t, [4]string{"x", "y", "z", "intensity"}, ChannelNames(Cartesian))
	assert.Equal(t, [4]string{"distance", "theta", "phi", "intensity"}, ChannelNames(Spherical))
}
