package j1939

// FrameSender sends single frame to the bus.
type FrameSender interface {
	// SendFrame sends frame to the bus. Returned error must be treated as link failure.
	SendFrame(frame Frame) error
}

// Link is CAN data link that J1939 layer runs on. Implementations live in their own packages (socketcan, slcan,
// canbus, loopback, rawlog) and J1939 layer never assumes any particular implementation.
type Link interface {
	FrameSender

	// ReceiveFrame polls for next received frame and does not block. When no frame is pending ok is false and
	// error is nil.
	ReceiveFrame() (frame Frame, ok bool, err error)

	// InstallFilters narrows which frames are delivered by ReceiveFrame. Frame is delivered when it matches
	// any of the filters.
	InstallFilters(filters []Filter) error
}
