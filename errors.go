package j1939

import (
	"errors"
	"fmt"
)

var (
	// ErrProtocolAbort is matched by every *AbortError (local or peer abort of transport session).
	ErrProtocolAbort = errors.New("transport session aborted")
	// ErrTimeout is matched by every *TimeoutError (nobody answered in time).
	ErrTimeout = errors.New("transport session timed out")
	// ErrClaimLost means that arbitrary address capable node lost contention and has no candidate addresses left.
	ErrClaimLost = errors.New("address claim lost, no addresses left to claim")
	// ErrClaimDenied means that node, not capable to pick arbitrary address, lost contention for its address.
	ErrClaimDenied = errors.New("cannot claim address")
	// ErrAddressNotClaimed means that node does not (yet) own source address it could send with.
	ErrAddressNotClaimed = errors.New("source address is not claimed")
	// ErrLinkFailure marks errors coming from Link (send/receive).
	ErrLinkFailure = errors.New("link failure")
	// ErrInvalidPayload means payload size is out of allowed range or received control frame is malformed.
	ErrInvalidPayload = errors.New("invalid payload")
	// ErrSessionBusy means that transport session to same destination is already in progress.
	ErrSessionBusy = errors.New("transport session already in progress")
)

// AbortReason is connection abort reason code sent in TP.CM Abort frame.
type AbortReason uint8

const (
	// AbortBusy - already in one or more connection managed sessions and cannot support another. Also used when
	// second session is announced for source/PGN pair that already has session in progress.
	AbortBusy = AbortReason(1)
	// AbortResources - system resources were needed for another task so this connection managed session was terminated
	AbortResources = AbortReason(2)
	// AbortTimeout - a timeout occurred and this is the connection abort to close the session
	AbortTimeout = AbortReason(3)
	// AbortUnexpectedCTS - CTS messages received when data transfer is in progress
	AbortUnexpectedCTS = AbortReason(4)
	// AbortMaxRetransmit - maximum retransmit request limit reached
	AbortMaxRetransmit = AbortReason(5)
	// AbortUnexpectedData - unexpected data transfer packet
	AbortUnexpectedData = AbortReason(6)
	// AbortBadSequence - bad sequence number (software cannot recover)
	AbortBadSequence = AbortReason(7)
	// AbortDuplicateSequence - duplicate sequence number (software cannot recover)
	AbortDuplicateSequence = AbortReason(8)
	// AbortMessageTooLarge - message size greater than 1785 bytes
	AbortMessageTooLarge = AbortReason(9)
	// AbortUnsupported - any other reason
	AbortUnsupported = AbortReason(250)
)

func (r AbortReason) String() string {
	switch r {
	case AbortBusy:
		return "busy"
	case AbortResources:
		return "resources"
	case AbortTimeout:
		return "timeout"
	case AbortUnexpectedCTS:
		return "unexpected CTS"
	case AbortMaxRetransmit:
		return "max retransmit"
	case AbortUnexpectedData:
		return "unexpected data"
	case AbortBadSequence:
		return "bad sequence"
	case AbortDuplicateSequence:
		return "duplicate sequence"
	case AbortMessageTooLarge:
		return "message too large"
	case AbortUnsupported:
		return "unsupported"
	}
	return fmt.Sprintf("reason(%d)", uint8(r))
}

// AbortError is returned when transport session was aborted by peer (Remote) or by this node.
type AbortError struct {
	// PGN is parameter group number of transferred message
	PGN uint32
	// Peer is address of other side of the session
	Peer   uint8
	Reason AbortReason
	// Remote is true when abort was received from peer, false when this node aborted the session
	Remote bool
}

func (e *AbortError) Error() string {
	by := "local"
	if e.Remote {
		by = "peer"
	}
	return fmt.Sprintf("transport session aborted by %v, pgn: %v, peer: %v, reason: %v", by, e.PGN, e.Peer, e.Reason)
}

// Is makes errors.Is(err, ErrProtocolAbort) work.
func (e *AbortError) Is(target error) bool {
	return target == ErrProtocolAbort
}

// TimeoutError is returned when transport session deadline expired.
type TimeoutError struct {
	PGN  uint32
	Peer uint8
	// Timer is name of expired timer (T1, T2, T3, T4, Th)
	Timer string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("transport session timed out, pgn: %v, peer: %v, timer: %v", e.PGN, e.Peer, e.Timer)
}

// Is makes errors.Is(err, ErrTimeout) work.
func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

// LinkError is returned by Link implementations for send, receive and filter errors. It matches ErrLinkFailure
// with errors.Is and keeps original error available for errors.As and errors.Is.
type LinkError struct {
	Err error
}

func (e *LinkError) Error() string {
	return e.Err.Error()
}

func (e *LinkError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrLinkFailure) work.
func (e *LinkError) Is(target error) bool {
	return target == ErrLinkFailure
}
