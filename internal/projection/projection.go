// Package projection maps decoded samples onto the four output channels.
package projection

import (
	"fmt"
	"math"
	"strings"

	"github.com/banshee-data/livox.bridge/internal/livox"
)

const radToDeg = 180.0 / math.Pi

// CoordMode selects the output coordinate system.
type CoordMode uint8

const (
	Cartesian CoordMode = iota
	Spherical
)

func (m CoordMode) String() string {
	switch m {
	case Cartesian:
		return "cartesian"
	case Spherical:
		return "spherical"
	default:
		return fmt.Sprintf("coordmode(%d)", uint8(m))
	}
}

// ParseCoordMode accepts "cartesian"/"xyz" and "spherical"/"polar".
func ParseCoordMode(s string) (CoordMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "cartesian", "xyz":
		return Cartesian, nil
	case "spherical", "polar":
		return Spherical, nil
	default:
		return Cartesian, fmt.Errorf("unknown coordinate mode %q (want cartesian or spherical)", s)
	}
}

// ChannelNames returns the four output channel names for mode.
func ChannelNames(mode CoordMode) [4]string {
	if mode == Spherical {
		return [4]string{"distance", "theta", "phi", "intensity"}
	}
	return [4]string{"x", "y", "z", "intensity"}
}

// Project returns the four channel values for s.
//
// Spherical output is (distance, azimuth, elevation, intensity) with angles in
// degrees. Azimuth is atan2(y, x) and elevation is atan2(z, horizontal range),
// so a sample at the origin projects to zero on all three.
func Project(s livox.PointSample, mode CoordMode) [4]float32 {
	if mode != Spherical {
		return [4]float32{s.X, s.Y, s.Z, s.Intensity}
	}
	x, y, z := float64(s.X), float64(s.Y), float64(s.Z)
	horizontal := math.Hypot(x, y)
	distance := math.Hypot(horizontal, z)
	return [4]float32{
		float32(distance),
		float32(math.Atan2(y, x) * radToDeg),
		float32(math.Atan2(z, horizontal) * radToDeg),
		s.Intensity,
	}
}

// Fill writes the projection of samples[:populated] into the channel slices
// and zeroes every remaining slot. populated is clamped to the shortest of
// len(samples) and each channel length. It returns the number written.
func Fill(channels [4][]float32, samples []livox.PointSample, populated int, mode CoordMode) int {
	n := populated
	if n > len(samples) {
		n = len(samples)
	}
	for _, ch := range channels {
		if n > len(ch) {
			n = len(ch)
		}
	}
	if n < 0 {
		n = 0
	}

	for i := 0; i < n; i++ {
		v := Project(samples[i], mode)
		for c := range channels {
			channels[c][i] = v[c]
		}
	}
	for c := range channels {
		clear(channels[c][n:])
	}
	return n
}

// NewChannels allocates four channels of length n.
func NewChannels(n int) [4][]float32 {
	var ch [4][]float32
	for c := range ch {
		ch[c] = make([]float32, n)
	}
	return ch
}
