package livox

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
)

/*
Mid-360 Point Packet Layout

Every point-cloud datagram the sensor sends to the host's point data port
carries one Ethernet packet with a fixed 36-byte little-endian header followed
by dot_num raw point records. All points in a packet share its timestamp.

HEADER (36 bytes):
├── version        u8   (offset 0)
├── length         u16  (offset 1)  whole packet length in bytes
├── time_interval  u16  (offset 3)  0.1 µs units between first and last point
├── dot_num        u16  (offset 5)  number of point records
├── udp_cnt        u16  (offset 7)  rolling datagram counter
├── frame_cnt      u8   (offset 9)
├── data_type      u8   (offset 10) see DataType
├── time_type      u8   (offset 11)
├── reserved       [12] (offset 12)
├── crc32          u32  (offset 24) IEEE CRC over the point records
└── timestamp      [8]  (offset 28) u64 device clock

POINT RECORDS:
- CartesianHigh: x,y,z int32 (mm), reflectivity u8, tag u8   = 14 bytes
- CartesianLow:  x,y,z int16 (cm), reflectivity u8, tag u8   =  8 bytes
- Spherical:     depth u32, theta u16, phi u16, refl u8, tag u8 = 10 bytes
- IMU:           6 × float32                                  = 24 bytes

Only the two Cartesian layouts are turned into samples. The CRC is written by
MarshalBinary and not checked on decode.
*/

const (
	PacketHeaderSize = 36

	HighPointSize      = 14
	LowPointSize       = 8
	SphericalPointSize = 10
	IMUPointSize       = 24

	// MaxDotNum bounds the point count accepted from a single datagram.
	MaxDotNum = 1024

	MillimetresToMetres = 0.001
	CentimetresToMetres = 0.01
)

var (
	// ErrShortPacket reports a buffer shorter than the packet header.
	ErrShortPacket = errors.New("livox: packet shorter than header")
	// ErrTruncatedPoints reports a data section shorter than dot_num records.
	ErrTruncatedPoints = errors.New("livox: point data shorter than dot_num records")
)

// EthernetPacket is one decoded point packet. Data aliases the decode buffer
// unless the packet was built by hand.
type EthernetPacket struct {
	Version      uint8
	Length       uint16
	TimeInterval uint16
	DotNum       uint16
	UDPCount     uint16
	FrameCount   uint8
	DataType     DataType
	TimeType     uint8
	CRC32        uint32
	Timestamp    [8]byte
	Data         []byte
}

// DecodeEthernetPacket parses the header of b. The returned packet's Data
// references b; copy it if b will be reused before the packet is consumed.
func DecodeEthernetPacket(b []byte) (*EthernetPacket, error) {
	if len(b) < PacketHeaderSize {
		return nil, fmt.Errorf("%w: got %d bytes, need %d", ErrShortPacket, len(b), PacketHeaderSize)
	}
	p := &EthernetPacket{
		Version:      b[0],
		Length:       binary.LittleEndian.Uint16(b[1:3]),
		TimeInterval: binary.LittleEndian.Uint16(b[3:5]),
		DotNum:       binary.LittleEndian.Uint16(b[5:7]),
		UDPCount:     binary.LittleEndian.Uint16(b[7:9]),
		FrameCount:   b[9],
		DataType:     DataType(b[10]),
		TimeType:     b[11],
		CRC32:        binary.LittleEndian.Uint32(b[24:28]),
		Data:         b[PacketHeaderSize:],
	}
	copy(p.Timestamp[:], b[28:36])
	return p, nil
}

// TimestampTicks returns the 8-byte little-endian device timestamp.
func (p *EthernetPacket) TimestampTicks() uint64 {
	return binary.LittleEndian.Uint64(p.Timestamp[:])
}

// SetTimestampTicks stores ts as the packet timestamp.
func (p *EthernetPacket) SetTimestampTicks(ts uint64) {
	binary.LittleEndian.PutUint64(p.Timestamp[:], ts)
}

// MarshalBinary encodes the packet, recomputing Length and CRC32.
func (p *EthernetPacket) MarshalBinary() ([]byte, error) {
	total := PacketHeaderSize + len(p.Data)
	if total > 0xFFFF {
		return nil, fmt.Errorf("livox: packet too large: %d bytes", total)
	}
	b := make([]byte, total)
	b[0] = p.Version
	binary.LittleEndian.PutUint16(b[1:3], uint16(total))
	binary.LittleEndian.PutUint16(b[3:5], p.TimeInterval)
	binary.LittleEndian.PutUint16(b[5:7], p.DotNum)
	binary.LittleEndian.PutUint16(b[7:9], p.UDPCount)
	b[9] = p.FrameCount
	b[10] = uint8(p.DataType)
	b[11] = p.TimeType
	binary.LittleEndian.PutUint32(b[24:28], crc32.ChecksumIEEE(p.Data))
	copy(b[28:36], p.Timestamp[:])
	copy(b[PacketHeaderSize:], p.Data)
	return b, nil
}

// PointSize returns the raw record size for t, or 0 when unknown.
func PointSize(t DataType) int {
	switch t {
	case DataTypeCartesianHigh:
		return HighPointSize
	case DataTypeCartesianLow:
		return LowPointSize
	case DataTypeSpherical:
		return SphericalPointSize
	case DataTypeIMU:
		return IMUPointSize
	default:
		return 0
	}
}

// RawPoint is a Cartesian record in the packet's native unit.
type RawPoint struct {
	X, Y, Z      int32
	Reflectivity uint8
	Tag          uint8
}

// AppendSamples decodes the packet's Cartesian records into dst, converting
// to metres and stamping every sample with the packet timestamp. Packets of
// any other data type append nothing and return dst unchanged with a nil
// error. A data section shorter than DotNum records is ErrTruncatedPoints and
// nothing is appended.
func (p *EthernetPacket) AppendSamples(dst []PointSample) ([]PointSample, error) {
	var scale float32
	switch p.DataType {
	case DataTypeCartesianHigh:
		scale = MillimetresToMetres
	case DataTypeCartesianLow:
		scale = CentimetresToMetres
	default:
		return dst, nil
	}

	size := PointSize(p.DataType)
	n := int(p.DotNum)
	if len(p.Data) < n*size {
		return dst, fmt.Errorf("%w: %d records of %d bytes need %d, have %d",
			ErrTruncatedPoints, n, size, n*size, len(p.Data))
	}

	ts := p.TimestampTicks()
	for i := 0; i < n; i++ {
		raw := decodeRawPoint(p.DataType, p.Data[i*size:(i+1)*size])
		dst = append(dst, PointSample{
			X:         float32(raw.X) * scale,
			Y:         float32(raw.Y) * scale,
			Z:         float32(raw.Z) * scale,
			Intensity: float32(raw.Reflectivity),
			Tag:       float32(raw.Tag),
			Timestamp: ts,
		})
	}
	return dst, nil
}

func decodeRawPoint(t DataType, rec []byte) RawPoint {
	if t == DataTypeCartesianHigh {
		return RawPoint{
			X:            int32(binary.LittleEndian.Uint32(rec[0:4])),
			Y:            int32(binary.LittleEndian.Uint32(rec[4:8])),
			Z:            int32(binary.LittleEndian.Uint32(rec[8:12])),
			Reflectivity: rec[12],
			Tag:          rec[13],
		}
	}
	return RawPoint{
		X:            int32(int16(binary.LittleEndian.Uint16(rec[0:2]))),
		Y:            int32(int16(binary.LittleEndian.Uint16(rec[2:4]))),
		Z:            int32(int16(binary.LittleEndian.Uint16(rec[4:6]))),
		Reflectivity: rec[6],
		Tag:          rec[7],
	}
}

// EncodePoints builds the data section for a Cartesian packet of type t.
// Coordinates outside int16 range are clamped for the low-precision layout.
func EncodePoints(t DataType, points []RawPoint) ([]byte, error) {
	size := PointSize(t)
	if !t.Cartesian() {
		return nil, fmt.Errorf("livox: cannot encode points for data type %s", t)
	}
	b := make([]byte, len(points)*size)
	for i, pt := range points {
		rec := b[i*size : (i+1)*size]
		if t == DataTypeCartesianHigh {
			binary.LittleEndian.PutUint32(rec[0:4], uint32(pt.X))
			binary.LittleEndian.PutUint32(rec[4:8], uint32(pt.Y))
			binary.LittleEndian.PutUint32(rec[8:12], uint32(pt.Z))
			rec[12] = pt.Reflectivity
			rec[13] = pt.Tag
			continue
		}
		binary.LittleEndian.PutUint16(rec[0:2], uint16(clampInt16(pt.X)))
		binary.LittleEndian.PutUint16(rec[2:4], uint16(clampInt16(pt.Y)))
		binary.LittleEndian.PutUint16(rec[4:6], uint16(clampInt16(pt.Z)))
		rec[6] = pt.Reflectivity
		rec[7] = pt.Tag
	}
	return b, nil
}

func clampInt16(v int32) int16 {
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}

// NewCartesianPacket is a convenience constructor used by drivers and tests.
func NewCartesianPacket(t DataType, timestamp uint64, points []RawPoint) (*EthernetPacket, error) {
	if len(points) > MaxDotNum {
		return nil, fmt.Errorf("livox: %d points exceeds packet limit %d", len(points), MaxDotNum)
	}
	data, err := EncodePoints(t, points)
	if err != nil {
		return nil, err
	}
	p := &EthernetPacket{
		Version:  0,
		DotNum:   uint16(len(points)),
		DataType: t,
		Data:     data,
	}
	p.SetTimestampTicks(timestamp)
	return p, nil
}
