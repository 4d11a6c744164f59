package network

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"

	"github.com/banshee-data/livox.bridge/internal/livox"
)

/*
Control Frame Layout

Commands and acknowledgements travel between the host and sensor command
ports as little-endian frames with a 24-byte header:

├── sof          u8   (offset 0)  always 0xAA
├── version      u8   (offset 1)
├── length       u16  (offset 2)  whole frame length
├── seq_num      u32  (offset 4)  echoed by the acknowledgement
├── cmd_id       u16  (offset 8)
├── cmd_type     u8   (offset 10) 0 request, 1 acknowledgement
├── sender_type  u8   (offset 11) 0 host, 1 sensor
├── reserved     [6]  (offset 12)
├── crc16        u16  (offset 18) CRC-16/CCITT-FALSE over bytes 0..17
└── crc32        u32  (offset 20) IEEE CRC over the data section

Parameter writes (cmd 0x0100) carry key_num u16, reserved u16 and then
key u16, length u16, value per key. Their acknowledgement data is
ret_code u8 followed by error_key u16.
*/

const (
	controlSOF        = 0xAA
	controlHeaderSize = 24

	CmdTypeRequest uint8 = 0
	CmdTypeAck     uint8 = 1

	SenderHost  uint8 = 0
	SenderLidar uint8 = 1

	CmdParameterConfig uint16 = 0x0100

	KeyPointDataType uint16 = 0x0000
	KeyWorkMode      uint16 = 0x001A
)

var (
	ErrBadControlFrame = errors.New("livox: malformed control frame")
	ErrControlCRC      = errors.New("livox: control frame checksum mismatch")
)

// ControlFrame is one command or acknowledgement on the command port.
type ControlFrame struct {
	Version    uint8
	Seq        uint32
	CmdID      uint16
	CmdType    uint8
	SenderType uint8
	Data       []byte
}

// MarshalBinary encodes f with both checksums.
func (f ControlFrame) MarshalBinary() ([]byte, error) {
	total := controlHeaderSize + len(f.Data)
	if total > 0xFFFF {
		return nil, fmt.Errorf("livox: control frame too large: %d bytes", total)
	}
	b := make([]byte, total)
	b[0] = controlSOF
	b[1] = f.Version
	binary.LittleEndian.PutUint16(b[2:4], uint16(total))
	binary.LittleEndian.PutUint32(b[4:8], f.Seq)
	binary.LittleEndian.PutUint16(b[8:10], f.CmdID)
	b[10] = f.CmdType
	b[11] = f.SenderType
	binary.LittleEndian.PutUint16(b[18:20], crc16CCITT(b[:18]))
	binary.LittleEndian.PutUint32(b[20:24], crc32.ChecksumIEEE(f.Data))
	copy(b[controlHeaderSize:], f.Data)
	return b, nil
}

// DecodeControlFrame validates and decodes a control frame. Data aliases b.
func DecodeControlFrame(b []byte) (ControlFrame, error) {
	if len(b) < controlHeaderSize || b[0] != controlSOF {
		return ControlFrame{}, ErrBadControlFrame
	}
	length := int(binary.LittleEndian.Uint16(b[2:4]))
	if length < controlHeaderSize || length > len(b) {
		return ControlFrame{}, fmt.Errorf("%w: length %d, have %d", ErrBadControlFrame, length, len(b))
	}
	if crc16CCITT(b[:18]) != binary.LittleEndian.Uint16(b[18:20]) {
		return ControlFrame{}, fmt.Errorf("%w: header", ErrControlCRC)
	}
	data := b[controlHeaderSize:length]
	if crc32.ChecksumIEEE(data) != binary.LittleEndian.Uint32(b[20:24]) {
		return ControlFrame{}, fmt.Errorf("%w: data", ErrControlCRC)
	}
	return ControlFrame{
		Version:    b[1],
		Seq:        binary.LittleEndian.Uint32(b[4:8]),
		CmdID:      binary.LittleEndian.Uint16(b[8:10]),
		CmdType:    b[10],
		SenderType: b[11],
		Data:       data,
	}, nil
}

// ParameterWrite builds the data section setting a single key.
func ParameterWrite(key uint16, value []byte) []byte {
	b := make([]byte, 8+len(value))
	binary.LittleEndian.PutUint16(b[0:2], 1)
	binary.LittleEndian.PutUint16(b[4:6], key)
	binary.LittleEndian.PutUint16(b[6:8], uint16(len(value)))
	copy(b[8:], value)
	return b
}

// ParseParameterWrite returns the first key and value of a parameter write.
func ParseParameterWrite(data []byte) (key uint16, value []byte, err error) {
	if len(data) < 8 || binary.LittleEndian.Uint16(data[0:2]) == 0 {
		return 0, nil, ErrBadControlFrame
	}
	key = binary.LittleEndian.Uint16(data[4:6])
	n := int(binary.LittleEndian.Uint16(data[6:8]))
	if len(data) < 8+n {
		return 0, nil, ErrBadControlFrame
	}
	return key, data[8 : 8+n], nil
}

// EncodeAck builds the data section of a parameter write acknowledgement.
func EncodeAck(resp livox.ControlResponse) []byte {
	b := make([]byte, 3)
	b[0] = resp.RetCode
	binary.LittleEndian.PutUint16(b[1:3], resp.ErrorKey)
	return b
}

// DecodeAck parses a parameter write acknowledgement.
func DecodeAck(data []byte) (*livox.ControlResponse, error) {
	if len(data) < 1 {
		return nil, ErrBadControlFrame
	}
	resp := &livox.ControlResponse{RetCode: data[0]}
	if len(data) >= 3 {
		resp.ErrorKey = binary.LittleEndian.Uint16(data[1:3])
	}
	return resp, nil
}

// crc16CCITT is CRC-16/CCITT-FALSE (poly 0x1021, init 0xFFFF).
func crc16CCITT(b []byte) uint16 {
	crc := uint16(0xFFFF)
	for _, v := range b {
		crc ^= uint16(v) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}
