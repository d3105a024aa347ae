package transport

import (
	"errors"
	"github.com/aldas/go-j1939"
	"time"
)

// ErrSessionCanceled is returned by Session.Drive after session was canceled by caller.
var ErrSessionCanceled = errors.New("transport session canceled")

// Status is result of single Session.Drive call.
type Status uint8

const (
	// StatusContinue means that transfer is still in progress. Caller must call Drive again after Progress.Wait.
	StatusContinue Status = iota + 1
	// StatusComplete means that transfer finished successfully.
	StatusComplete
)

func (s Status) String() string {
	switch s {
	case StatusContinue:
		return "continue"
	case StatusComplete:
		return "complete"
	}
	return "unknown"
}

// Progress is returned by Session.Drive. Wait is how long caller should wait before next Drive call. For BAM it is
// minimum inter-packet gap, for RTS/CTS sessions it is time left until current wait state expires.
type Progress struct {
	Status Status
	Wait   time.Duration
}

type sessionState uint8

const (
	stateAwaitingCTS sessionState = iota
	stateHold
	stateAwaitingEOMAck
	stateBroadcasting
	stateComplete
	stateFailed
)

// Session is outbound transfer started with Engine.StartUnicast or Engine.StartBroadcast. Session does nothing on
// its own - BAM packets are sent by Drive calls and RTS/CTS progress is made by frames given to Engine.HandleFrame.
type Session struct {
	engine *Engine

	pgn         uint32
	priority    uint8
	source      uint8
	destination uint8
	data        []byte
	packets     int

	state sessionState
	// nextPacket is next packet number to send (BAM) or last requested packet (RTS/CTS)
	nextPacket  int
	sentPackets int
	deadline    time.Time
	// nextSend is earliest time next BAM data packet may be sent
	nextSend time.Time
	timer    string
	err      error
}

// PGN returns parameter group number of transferred message.
func (s *Session) PGN() uint32 {
	return s.pgn
}

// Destination returns peer address or j1939.AddressGlobal for broadcast session.
func (s *Session) Destination() uint8 {
	return s.destination
}

// Size returns payload size in bytes.
func (s *Session) Size() int {
	return len(s.data)
}

// Packets returns total number of data packets.
func (s *Session) Packets() int {
	return s.packets
}

// SentPackets returns number of data packets sent so far (retransmitted packets included).
func (s *Session) SentPackets() int {
	s.engine.mutex.Lock()
	defer s.engine.mutex.Unlock()
	return s.sentPackets
}

// IsBroadcast returns true for BAM session.
func (s *Session) IsBroadcast() bool {
	return s.destination == j1939.AddressGlobal
}

// Drive advances session. For BAM session each call sends exactly one data packet and returns StatusContinue with
// Wait set to BAM interval until last packet has been sent. Drive called before BAM interval since previous frame
// has passed sends nothing and returns StatusContinue with Wait set to remaining time. For RTS/CTS session Drive checks session timers and
// reports current status. Errors are *j1939.AbortError (aborted by peer), *j1939.TimeoutError (timer expired),
// wrapped j1939.ErrLinkFailure or ErrSessionCanceled. Once session has failed Drive keeps returning same error.
func (s *Session) Drive() (Progress, error) {
	e := s.engine
	e.mutex.Lock()
	defer e.mutex.Unlock()

	switch s.state {
	case stateFailed:
		return Progress{}, s.err
	case stateComplete:
		return Progress{Status: StatusComplete}, nil
	}

	now := e.now()
	if !now.Before(s.deadline) {
		e.expireOutbound(s)
		return Progress{}, s.err
	}

	if s.state != stateBroadcasting {
		return Progress{Status: StatusContinue, Wait: s.deadline.Sub(now)}, nil
	}

	if now.Before(s.nextSend) {
		return Progress{Status: StatusContinue, Wait: s.nextSend.Sub(now)}, nil
	}
	if err := e.sendData(s, s.nextPacket); err != nil {
		e.failOutbound(s, err)
		return Progress{}, s.err
	}
	s.nextPacket++
	if s.nextPacket > s.packets {
		e.completeOutbound(s)
		return Progress{Status: StatusComplete}, nil
	}
	s.deadline = now.Add(e.config.T1)
	s.nextSend = now.Add(e.config.BAMInterval)
	return Progress{Status: StatusContinue, Wait: e.config.BAMInterval}, nil
}

// Cancel stops the session. RTS/CTS peer is notified with Abort frame. Canceling finished session does nothing.
func (s *Session) Cancel() {
	e := s.engine
	e.mutex.Lock()
	defer e.mutex.Unlock()

	if s.state == stateComplete || s.state == stateFailed {
		return
	}
	if !s.IsBroadcast() {
		// link error is irrelevant here as session is gone anyway
		_ = e.sendAbort(s.priority, s.source, s.destination, s.pgn, j1939.AbortResources)
	}
	e.failOutbound(s, ErrSessionCanceled)
}
