// Package protocol parses the fixed 8-byte Growatt v6 frame header and
// classifies a frame's message type from it.
package protocol

import (
	"encoding/binary"
	"fmt"

	"github.com/solarwatch/growattproxy/internal/codec"
)

// MessageType discriminates the handful of message shapes the datalogger
// sends, taken from the type byte at FrameHeader offset 7.
type MessageType int

const (
	Data3 MessageType = iota
	Data4
	Ping
	Configure
	Identify
	Unknown

	// MeterData is never produced from the type byte alone — no
	// deployment observed in the source uses a distinct discriminator
	// for it. internal/decodemsg promotes an Unknown-classified frame
	// to MeterData after a structural check of the body.
	MeterData
)

func (t MessageType) String() string {
	switch t {
	case Data3:
		return "Data3"
	case Data4:
		return "Data4"
	case Ping:
		return "Ping"
	case Configure:
		return "Configure"
	case Identify:
		return "Identify"
	case MeterData:
		return "MeterData"
	default:
		return "Unknown"
	}
}

// messageTypeByte maps FrameHeader.TypeByte to a MessageType.
func messageTypeByte(b byte) MessageType {
	switch b {
	case 0x03:
		return Data3
	case 0x04:
		return Data4
	case 0x16:
		return Ping
	case 0x18:
		return Configure
	case 0x19:
		return Identify
	default:
		return Unknown
	}
}

// FrameHeader is the clear, unscrambled 8-byte prefix of every frame.
type FrameHeader struct {
	Raw         [codec.HeaderLen]byte
	PayloadLen  uint16
	TypeByte    byte
	MessageType MessageType
}

// ParseHeader reads the length field (bytes 4-6, big-endian) and the type
// discriminator (byte 7) out of an already-unscrambled frame. It requires
// at least HeaderLen bytes, same as codec.Unscramble.
func ParseHeader(unscrambled []byte) (FrameHeader, error) {
	if len(unscrambled) < codec.HeaderLen {
		return FrameHeader{}, fmt.Errorf("protocol: %w", codec.ErrShortFrame)
	}

	var h FrameHeader
	copy(h.Raw[:], unscrambled[:codec.HeaderLen])
	h.PayloadLen = binary.BigEndian.Uint16(unscrambled[4:6])
	h.TypeByte = unscrambled[7]
	h.MessageType = messageTypeByte(h.TypeByte)
	return h, nil
}
