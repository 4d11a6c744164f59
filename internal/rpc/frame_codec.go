package rpc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/banshee-data/livox.bridge/internal/host"
	"github.com/banshee-data/livox.bridge/internal/projection"
)

// Frame wire layout, little-endian:
//
//	magic "LVXF" | version u8 | mode u8 | reserved u16 | populated u32 | samples u32
//	followed by four channels of samples float32 each, channel-major.
const (
	frameMagic      = "LVXF"
	frameVersion    = 1
	frameHeaderSize = 16
)

var ErrBadFrame = errors.New("rpc: malformed frame")

// EncodeFrame serialises the channel data of f.
func EncodeFrame(f *host.Frame) []byte {
	samples := len(f.Channels[0])
	buf := make([]byte, frameHeaderSize+4*4*samples)
	copy(buf[0:4], frameMagic)
	buf[4] = frameVersion
	buf[5] = uint8(f.Mode)
	binary.LittleEndian.PutUint32(buf[8:12], uint32(f.Populated))
	binary.LittleEndian.PutUint32(buf[12:16], uint32(samples))

	off := frameHeaderSize
	for c := 0; c < 4; c++ {
		for i := 0; i < samples; i++ {
			var v float32
			if i < len(f.Channels[c]) {
				v = f.Channels[c][i]
			}
			binary.LittleEndian.PutUint32(buf[off:], math.Float32bits(v))
			off += 4
		}
	}
	return buf
}

// DecodeFrame parses an encoded frame. Seq and At are not carried.
func DecodeFrame(b []byte) (*host.Frame, error) {
	if len(b) < frameHeaderSize || string(b[0:4]) != frameMagic {
		return nil, fmt.Errorf("%w: bad header", ErrBadFrame)
	}
	if b[4] != frameVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrBadFrame, b[4])
	}
	mode := projection.CoordMode(b[5])
	if mode != projection.Cartesian && mode != projection.Spherical {
		return nil, fmt.Errorf("%w: unknown coordinate mode %d", ErrBadFrame, b[5])
	}
	populated := int(binary.LittleEndian.Uint32(b[8:12]))
	samples := int(binary.LittleEndian.Uint32(b[12:16]))
	if populated > samples {
		return nil, fmt.Errorf("%w: populated %d exceeds samples %d", ErrBadFrame, populated, samples)
	}
	if want := frameHeaderSize + 16*samples; len(b) != want {
		return nil, fmt.Errorf("%w: length %d, want %d", ErrBadFrame, len(b), want)
	}

	channels := projection.NewChannels(samples)
	off := frameHeaderSize
	for c := 0; c < 4; c++ {
		for i := 0; i < samples; i++ {
			channels[c][i] = math.Float32frombits(binary.LittleEndian.Uint32(b[off:]))
			off += 4
		}
	}
	f := &host.Frame{
		Mode:      mode,
		Requested: samples,
		Populated: populated,
		Channels:  channels,
	}
	if samples > 0 {
		f.FillRatio = float32(populated) / float32(samples)
	}
	return f, nil
}
