package socketcan

import (
	"encoding/binary"
	"github.com/aldas/go-j1939"
	"github.com/pkg/errors"
	"time"
)

const (
	// canFrameSize is size of `struct can_frame` https://github.com/linux-can/can-utils/blob/affdc1b79973c7497bb8607603c24734e11a91aa/include/linux/can.h#L107
	canFrameSize = 16

	// canIDMask is bitmask to get 0-28bits belonging to CAN ID from socketCAN struct
	canIDMask = uint32(0x1fffffff)
	// canIDERRFlag is bit 29 in CAN ID and means ERR error message flag (0 = data frame, 1 = error message)
	canIDERRFlag = uint32(1 << 29)
	// canIDRTRFlag is bit 30 in CAN ID and means RTR remote transmission request (1 = rtr frame)
	canIDRTRFlag = uint32(1 << 30)
	// canIDEFFFlag is bit 31 in CAN ID and means EFF extended frame format / IDE identifier extension flag (0 = standard 11 bit, 1 = extended 29 bit)
	canIDEFFFlag = uint32(1 << 31)
)

var (
	errRemoteFrame   = errors.New("read CAN remote transmission request frame")
	errErrorFrame    = errors.New("read CAN error message frame")
	errStandardFrame = errors.New("read CAN frame with 11 bit identifier")
)

// marshalFrame encodes frame into `struct can_frame` layout. can_id is in host byte order.
func marshalFrame(frame j1939.Frame) [canFrameSize]byte {
	canFrame := [canFrameSize]byte{}

	// bits 0-28 is CAN ID
	// bit 29 is ERR error message flag (0 = data frame, 1 = error message)
	// bit 30 is RTR remote transmission request (1 = rtr frame)
	// bit 31 is EFF extended frame format / IDE identifier extension flag (0 = standard 11 bit, 1 = extended 29 bit)
	canID := frame.ID&canIDMask | canIDEFFFlag
	binary.NativeEndian.PutUint32(canFrame[0:4], canID)

	// byte 4 is data length, bytes 5-7 are padding and reserved
	canFrame[4] = frame.Length
	copy(canFrame[8:], frame.Payload())
	return canFrame
}

// unmarshalFrame decodes `struct can_frame`. Remote, error and standard (11 bit) frames are not J1939 frames and
// are returned as errors.
func unmarshalFrame(canFrame []byte, now time.Time) (j1939.Frame, error) {
	if len(canFrame) < canFrameSize {
		return j1939.Frame{}, errors.Errorf("short CAN frame read: %v bytes", len(canFrame))
	}
	canID := binary.NativeEndian.Uint32(canFrame[0:4])
	switch {
	case canID&canIDRTRFlag != 0:
		return j1939.Frame{}, errRemoteFrame
	case canID&canIDERRFlag != 0:
		return j1939.Frame{}, errErrorFrame
	case canID&canIDEFFFlag == 0:
		return j1939.Frame{}, errStandardFrame
	}

	f := j1939.Frame{
		Time:   now,
		ID:     canID & canIDMask,
		Length: canFrame[4],
	}
	if f.Length > j1939.MaxFrameDataLength {
		f.Length = j1939.MaxFrameDataLength
	}
	copy(f.Data[:], canFrame[8:8+f.Length])
	return f, nil
}

// isSkippable returns true for frames that are valid on CAN bus but are not for J1939 layer.
func isSkippable(err error) bool {
	return err == errRemoteFrame || err == errErrorFrame || err == errStandardFrame
}
