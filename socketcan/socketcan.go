//go:build linux

// Package socketcan implements j1939.Link on Linux SocketCAN raw socket.
package socketcan

import (
	"github.com/aldas/go-j1939"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
	"net"
	"time"
)

// Connection is non-blocking raw CAN socket bound to single interface. Each Connection owns its socket.
type Connection struct {
	socketFD int
	ifName   string
	timeNow  func() time.Time
}

// NewConnection opens raw CAN socket on given interface (for example: can0).
func NewConnection(ifName string) (*Connection, error) {
	ifi, err := net.InterfaceByName(ifName)
	if err != nil {
		return nil, &j1939.LinkError{Err: errors.Wrapf(err, "bad interface name %v", ifName)}
	}

	fd, err := unix.Socket(unix.AF_CAN, unix.SOCK_RAW, unix.CAN_RAW)
	if err != nil {
		return nil, &j1939.LinkError{Err: errors.Wrap(err, "could not create CAN socket")}
	}

	addr := &unix.SockaddrCAN{Ifindex: ifi.Index}
	if err = unix.Bind(fd, addr); err != nil {
		_ = unix.Close(fd)
		return nil, &j1939.LinkError{Err: errors.Wrap(err, "could not bind CAN socket")}
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		_ = unix.Close(fd)
		return nil, &j1939.LinkError{Err: errors.Wrap(err, "could not set CAN socket non-blocking")}
	}

	return &Connection{
		socketFD: fd,
		ifName:   ifName,
		timeNow:  time.Now,
	}, nil
}

func isContinuableSocketErr(err error) bool {
	// EAGAIN/EWOULDBLOCK - non-blocking socket has no data to read or send buffer is full
	// EINTR - If a signal occurs during a blocking operation, then the operation will either (a) return partial
	// completion, or (b) return failure, do nothing, and set errno to EINTR.
	return err == unix.EAGAIN || err == unix.EWOULDBLOCK || err == unix.EINTR
}

// SetSendTimeout limits how long write waits for space in socket send buffer.
func (c *Connection) SetSendTimeout(timeout time.Duration) error {
	tv := unix.NsecToTimeval(timeout.Nanoseconds())
	return unix.SetsockoptTimeval(c.socketFD, unix.SOL_SOCKET, unix.SO_SNDTIMEO, &tv)
}

// Close closes the socket.
func (c *Connection) Close() error {
	return unix.Close(c.socketFD)
}

// SendFrame writes frame to the bus. Full send buffer is reported as error, frame is not queued.
func (c *Connection) SendFrame(frame j1939.Frame) error {
	canFrame := marshalFrame(frame)
	_, err := unix.Write(c.socketFD, canFrame[:])
	if err != nil {
		if isContinuableSocketErr(err) {
			err = errors.New("send buffer full")
		}
		return &j1939.LinkError{Err: errors.Wrapf(err, "socketcan %v write", c.ifName)}
	}
	return nil
}

// ReceiveFrame reads next frame from socket without blocking. Remote, error and 11 bit frames are skipped.
func (c *Connection) ReceiveFrame() (j1939.Frame, bool, error) {
	canFrame := [canFrameSize]byte{}
	for {
		n, err := unix.Read(c.socketFD, canFrame[:])
		if err != nil {
			if isContinuableSocketErr(err) {
				return j1939.Frame{}, false, nil
			}
			return j1939.Frame{}, false, &j1939.LinkError{Err: errors.Wrapf(err, "socketcan %v read", c.ifName)}
		}
		frame, err := unmarshalFrame(canFrame[:n], c.timeNow())
		if err != nil {
			if isSkippable(err) {
				continue
			}
			return j1939.Frame{}, false, &j1939.LinkError{Err: err}
		}
		return frame, true, nil
	}
}

// InstallFilters installs kernel side CAN_RAW_FILTER so only matching frames are read from socket.
func (c *Connection) InstallFilters(filters []j1939.Filter) error {
	if err := j1939.ValidateFilters(filters); err != nil {
		return err
	}
	err := unix.SetsockoptCanRawFilter(c.socketFD, unix.SOL_CAN_RAW, unix.CAN_RAW_FILTER, canFilters(filters))
	if err != nil {
		return &j1939.LinkError{Err: errors.Wrapf(err, "socketcan %v filter install", c.ifName)}
	}
	return nil
}

// canFilters converts filters to kernel filters. EFF flag is part of both identifier and mask so filters never
// match 11 bit frames.
func canFilters(filters []j1939.Filter) []unix.CanFilter {
	result := make([]unix.CanFilter, 0, len(filters))
	for _, f := range filters {
		result = append(result, unix.CanFilter{
			Id:   f.ID&canIDMask | canIDEFFFlag,
			Mask: f.Mask&canIDMask | canIDEFFFlag | canIDRTRFlag,
		})
	}
	return result
}
