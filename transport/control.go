package transport

import (
	"fmt"
	"github.com/aldas/go-j1939"
)

// TP.CM control bytes
const (
	controlRTS    = uint8(0x10)
	controlCTS    = uint8(0x11)
	controlEOMAck = uint8(0x13)
	controlBAM    = uint8(0x20)
	controlAbort  = uint8(0xff)
)

const (
	// MinMessageSize is smallest payload that is sent with transport protocol. Smaller payloads fit into single frame.
	MinMessageSize = 9
	// MaxMessageSize is largest payload transport protocol can carry (255 packets * 7 bytes).
	MaxMessageSize = 1785

	// bytesPerPacket is amount of payload in single TP.DT frame. First byte is sequence number.
	bytesPerPacket = 7

	reserved = uint8(0xff)
)

// packetCount returns number of TP.DT frames needed to send payload of given size.
func packetCount(size int) int {
	return (size + bytesPerPacket - 1) / bytesPerPacket
}

// connectionManagement is decoded TP.CM frame. Fields that control byte does not use are ignored.
type connectionManagement struct {
	control uint8

	// size is total message size (RTS, BAM, EOM Ack)
	size uint16
	// packets is total packet count for RTS, BAM and EOM Ack and number of packets to send for CTS
	packets uint8
	// nextPacket is number of next packet to send (CTS)
	nextPacket uint8
	// reason is abort reason (Abort)
	reason j1939.AbortReason

	// pgn is parameter group number of transported message
	pgn uint32
}

// marshal encodes control frame into its 8 byte wire form.
//
// Layout: byte0 control, bytes 1-2 size (LE), byte 3 packets, byte 4 next packet (CTS) or reserved,
// bytes 5-7 PGN (LE). CTS has size bytes reserved, Abort carries reason in byte 1.
func (c connectionManagement) marshal() [8]byte {
	b := [8]byte{c.control, reserved, reserved, reserved, reserved}
	switch c.control {
	case controlRTS, controlBAM, controlEOMAck:
		b[1] = uint8(c.size)
		b[2] = uint8(c.size >> 8)
		b[3] = c.packets
	case controlCTS:
		b[3] = c.packets
		b[4] = c.nextPacket
	case controlAbort:
		b[1] = uint8(c.reason)
	}
	b[5] = uint8(c.pgn)
	b[6] = uint8(c.pgn >> 8)
	b[7] = uint8(c.pgn>>16) & 0x3
	return b
}

func parseConnectionManagement(data []byte) (connectionManagement, error) {
	if len(data) != 8 {
		return connectionManagement{}, fmt.Errorf("TP.CM frame must be 8 bytes, got: %v: %w", len(data), j1939.ErrInvalidPayload)
	}
	c := connectionManagement{
		control: data[0],
		pgn:     (uint32(data[5]) | uint32(data[6])<<8 | uint32(data[7])<<16) & 0x3ffff,
	}
	switch c.control {
	case controlRTS, controlBAM, controlEOMAck:
		c.size = uint16(data[1]) | uint16(data[2])<<8
		c.packets = data[3]
	case controlCTS:
		c.packets = data[3]
		c.nextPacket = data[4]
	case controlAbort:
		c.reason = j1939.AbortReason(data[1])
	default:
		return connectionManagement{}, fmt.Errorf("unknown TP.CM control byte 0x%02x: %w", c.control, j1939.ErrInvalidPayload)
	}
	return c, nil
}

// dataPacket creates TP.DT payload for given 1-based sequence number. Last packet is padded with 0xFF.
func dataPacket(data []byte, sequence int) [8]byte {
	b := [8]byte{uint8(sequence), 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff}
	start := (sequence - 1) * bytesPerPacket
	end := start + bytesPerPacket
	if end > len(data) {
		end = len(data)
	}
	copy(b[1:], data[start:end])
	return b
}
