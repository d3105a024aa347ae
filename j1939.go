package j1939

import (
	"fmt"
	"strings"
	"time"
)

// MaxFrameDataLength is maximum data length of single (classical) CAN frame.
const MaxFrameDataLength = 8

// Frame is single CAN frame with 29-bit identifier as it is sent to and read from Link.
type Frame struct {
	// Time is when frame was read from bus. Filled by Link implementation.
	Time time.Time

	// ID is 29-bit CAN identifier (see PGN.ID and ParseID)
	ID     uint32
	Length uint8 // 0-8
	Data   [8]byte
}

// NewFrame creates frame for given PGN with up to 8 bytes of data.
func NewFrame(pgn PGN, data []byte) (Frame, error) {
	if len(data) > MaxFrameDataLength {
		return Frame{}, fmt.Errorf("frame data can be up to 8 bytes, got: %v: %w", len(data), ErrInvalidPayload)
	}
	f := Frame{
		ID:     pgn.ID(),
		Length: uint8(len(data)),
	}
	copy(f.Data[:], data)
	return f, nil
}

// PGN decodes frame identifier into PGN.
func (f Frame) PGN() PGN {
	return ParseID(f.ID)
}

// Payload returns frame data up to frame length.
func (f Frame) Payload() []byte {
	l := f.Length
	if l > MaxFrameDataLength {
		l = MaxFrameDataLength
	}
	return f.Data[:l]
}

// String returns frame in candump-like format `18EEFF80 [8] 01 02 03 04 05 06 07 08`
func (f Frame) String() string {
	sb := strings.Builder{}
	sb.WriteString(fmt.Sprintf("%08X [%d]", f.ID, f.Length))
	for _, b := range f.Payload() {
		sb.WriteString(fmt.Sprintf(" %02X", b))
	}
	return sb.String()
}
