// Package transport implements J1939-21 transport protocol: RTS/CTS connection mode for peer-to-peer transfers and
// BAM for broadcast transfers of 9-1785 byte payloads.
package transport

import (
	"errors"
	"fmt"
	"github.com/aldas/go-j1939"
	"github.com/aldas/go-j1939/internal/syncutil"
	"github.com/sirupsen/logrus"
	"sort"
	"sync"
	"time"
)

// Addresser provides source address this node sends with. addressclaim.Claimer implements it.
type Addresser interface {
	Source() (uint8, error)
}

// StaticAddress is Addresser for nodes that use fixed address without claiming it.
type StaticAddress uint8

// Source returns the address.
func (a StaticAddress) Source() (uint8, error) {
	return uint8(a), nil
}

// Message is payload received from the bus. Either reassembled transport protocol transfer or single frame.
type Message struct {
	// Time is when last frame of the message was received
	Time time.Time
	PGN  j1939.PGN
	Data []byte
}

type receiveKey struct {
	source      uint8
	destination uint8
}

// receiveSession is inbound transfer. Because TP.DT frames do not carry PGN, inbound sessions are identified by
// source and destination address.
type receiveSession struct {
	pgn         uint32
	priority    uint8
	source      uint8
	destination uint8
	size        int
	packets     int

	// next is next expected sequence number (1-based)
	next int
	// burstEnd is last packet number granted by CTS
	burstEnd int

	buffer   *[MaxMessageSize]byte
	deadline time.Time
	timer    string
	lastSeen time.Time
}

func (r *receiveSession) isBroadcast() bool {
	return r.destination == j1939.AddressGlobal
}

// Engine segments outbound payloads and reassembles inbound ones. Engine never blocks or sleeps - timers are
// checked by Poll and Session.Drive calls and frames are given to HandleFrame by caller.
type Engine struct {
	mutex syncutil.Mutex

	link      j1939.FrameSender
	addresser Addresser
	config    Config
	log       *logrus.Logger

	// outbound sessions by destination address (AddressGlobal for BAM)
	outbound map[uint8]*Session
	inbound  map[receiveKey]*receiveSession

	now  func() time.Time
	pool *sync.Pool
}

// NewEngine creates transport engine.
func NewEngine(link j1939.FrameSender, addresser Addresser, config Config) (*Engine, error) {
	if link == nil {
		return nil, errors.New("transport engine needs frame sender")
	}
	if addresser == nil {
		return nil, errors.New("transport engine needs source addresser")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	config = config.withDefaults()

	pool := new(sync.Pool)
	pool.New = func() any {
		return new([MaxMessageSize]byte)
	}

	return &Engine{
		link:      link,
		addresser: addresser,
		config:    config,
		log:       config.Logger,
		outbound:  make(map[uint8]*Session),
		inbound:   make(map[receiveKey]*receiveSession),
		now:       time.Now,
		pool:      pool,
	}, nil
}

// SetTimeFunc replaces clock used for timers. Meant for tests and simulations.
func (e *Engine) SetTimeFunc(now func() time.Time) {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	e.now = now
}

// Send sends payload of up to 8 bytes as single frame. No session is created. Source address of PGN is replaced
// with address given by Addresser.
func (e *Engine) Send(pgn j1939.PGN, data []byte) error {
	if len(data) > j1939.MaxFrameDataLength {
		return fmt.Errorf("single frame payload can be up to 8 bytes, got: %v: %w", len(data), j1939.ErrInvalidPayload)
	}
	source, err := e.addresser.Source()
	if err != nil {
		return err
	}
	pgn.Source = source
	frame, err := j1939.NewFrame(pgn, data)
	if err != nil {
		return err
	}
	if err := e.link.SendFrame(frame); err != nil {
		return fmt.Errorf("send failed: %w: %w", err, j1939.ErrLinkFailure)
	}
	return nil
}

// Transmit sends payload using single frame, BAM or RTS/CTS depending on payload size and PGN destination.
// Returned session is nil when payload was sent as single frame.
func (e *Engine) Transmit(pgn j1939.PGN, data []byte) (*Session, error) {
	if len(data) <= j1939.MaxFrameDataLength {
		return nil, e.Send(pgn, data)
	}
	destination := pgn.Destination()
	if destination == j1939.AddressGlobal {
		return e.StartBroadcast(pgn, data)
	}
	return e.StartUnicast(pgn, destination, data)
}

func checkSize(size int) error {
	if size < MinMessageSize || size > MaxMessageSize {
		return fmt.Errorf("transport protocol payload must be %v-%v bytes, got: %v: %w", MinMessageSize, MaxMessageSize, size, j1939.ErrInvalidPayload)
	}
	return nil
}

// StartUnicast starts RTS/CTS transfer of payload to destination. Message PGN may be PDU2 PGN as destination is
// carried by transport protocol frames. For PDU1 PGN destination must match PDU specific byte. RTS is sent before
// StartUnicast returns.
func (e *Engine) StartUnicast(pgn j1939.PGN, destination uint8, data []byte) (*Session, error) {
	if err := checkSize(len(data)); err != nil {
		return nil, err
	}
	if destination == j1939.AddressGlobal || destination == j1939.AddressNull {
		return nil, fmt.Errorf("unicast destination can not be %v: %w", destination, j1939.ErrInvalidPayload)
	}
	if pgn.IsPDU1() && pgn.PDUSpecific != destination {
		return nil, fmt.Errorf("unicast destination %v does not match PGN destination %v: %w", destination, pgn.PDUSpecific, j1939.ErrInvalidPayload)
	}
	return e.start(pgn, destination, data)
}

// StartBroadcast starts BAM transfer. BAM announcement is sent before StartBroadcast returns and each following
// Session.Drive call sends one data packet once BAM interval has passed since previous frame.
func (e *Engine) StartBroadcast(pgn j1939.PGN, data []byte) (*Session, error) {
	if err := checkSize(len(data)); err != nil {
		return nil, err
	}
	return e.start(pgn, j1939.AddressGlobal, data)
}

func (e *Engine) start(pgn j1939.PGN, destination uint8, data []byte) (*Session, error) {
	source, err := e.addresser.Source()
	if err != nil {
		return nil, err
	}

	e.mutex.Lock()
	defer e.mutex.Unlock()

	if _, ok := e.outbound[destination]; ok {
		return nil, fmt.Errorf("session to %v is in progress: %w", destination, j1939.ErrSessionBusy)
	}

	s := &Session{
		engine:      e,
		pgn:         pgn.Number(),
		priority:    pgn.Priority,
		source:      source,
		destination: destination,
		data:        append([]byte{}, data...),
		packets:     packetCount(len(data)),
		nextPacket:  1,
	}
	control := controlRTS
	s.state = stateAwaitingCTS
	s.timer = "T3"
	timeout := e.config.T3
	if destination == j1939.AddressGlobal {
		control = controlBAM
		s.state = stateBroadcasting
		s.timer = "T1"
		timeout = e.config.T1
	}

	cm := connectionManagement{
		control: control,
		size:    uint16(len(data)),
		packets: uint8(s.packets),
		pgn:     s.pgn,
	}
	if err := e.sendControl(s.priority, source, destination, cm); err != nil {
		return nil, err
	}
	now := e.now()
	s.deadline = now.Add(timeout)
	if s.IsBroadcast() {
		s.nextSend = now.Add(e.config.BAMInterval)
	}
	e.outbound[destination] = s

	e.log.WithFields(logrus.Fields{
		"pgn":     s.pgn,
		"peer":    destination,
		"size":    len(data),
		"packets": s.packets,
	}).Debug("transport session started")
	return s, nil
}

// HandleFrame processes TP.CM and TP.DT frames. Other frames and frames addressed to other nodes are ignored.
// Returned message is not nil when frame completed inbound transfer. Errors report inbound sessions that were
// aborted (*j1939.AbortError) and rejected announcements. Errors of outbound sessions are reported by Session.Drive.
func (e *Engine) HandleFrame(frame j1939.Frame) (*Message, error) {
	pgn := frame.PGN()
	number := pgn.Number()
	if number != j1939.PGNTPConnectionManagement && number != j1939.PGNTPDataTransfer {
		return nil, nil
	}

	destination := pgn.Destination()
	if destination != j1939.AddressGlobal {
		local, err := e.addresser.Source()
		if err != nil || local != destination {
			return nil, nil
		}
	}

	e.mutex.Lock()
	defer e.mutex.Unlock()

	if number == j1939.PGNTPDataTransfer {
		return e.handleData(frame, pgn)
	}

	cm, err := parseConnectionManagement(frame.Payload())
	if err != nil {
		e.log.WithError(err).WithField("source", pgn.Source).Debug("ignoring malformed TP.CM frame")
		return nil, nil
	}
	switch cm.control {
	case controlRTS:
		if destination == j1939.AddressGlobal {
			return nil, nil
		}
		return nil, e.handleRTS(frame, pgn, cm)
	case controlBAM:
		if destination != j1939.AddressGlobal {
			return nil, nil
		}
		return nil, e.handleBAM(frame, pgn, cm)
	case controlCTS:
		e.handleCTS(pgn, cm)
	case controlEOMAck:
		e.handleEOMAck(pgn, cm)
	case controlAbort:
		return nil, e.handleAbort(pgn, cm)
	}
	return nil, nil
}

func (e *Engine) handleRTS(frame j1939.Frame, pgn j1939.PGN, cm connectionManagement) error {
	key := receiveKey{source: pgn.Source, destination: pgn.PDUSpecific}
	if existing, ok := e.inbound[key]; ok {
		// existing session keeps going, only new announcement is rejected
		e.log.WithFields(logrus.Fields{"pgn": cm.pgn, "peer": pgn.Source, "active_pgn": existing.pgn}).
			Debug("rejecting RTS, session from peer already in progress")
		return e.rejectRTS(pgn, cm, j1939.AbortBusy)
	}
	size := int(cm.size)
	if size > MaxMessageSize {
		return e.rejectRTS(pgn, cm, j1939.AbortMessageTooLarge)
	}
	if size < MinMessageSize || int(cm.packets) != packetCount(size) {
		return e.rejectRTS(pgn, cm, j1939.AbortUnsupported)
	}
	if len(e.inbound) >= e.config.MaxSessions {
		return e.rejectRTS(pgn, cm, j1939.AbortResources)
	}

	r := e.newReceiveSession(frame, pgn, cm)
	e.inbound[key] = r
	if err := e.sendCTS(r); err != nil {
		e.removeInbound(key, r)
		return err
	}
	e.log.WithFields(logrus.Fields{"pgn": r.pgn, "peer": r.source, "size": r.size}).Debug("inbound RTS accepted")
	return nil
}

func (e *Engine) rejectRTS(pgn j1939.PGN, cm connectionManagement, reason j1939.AbortReason) error {
	if err := e.sendAbort(pgn.Priority, pgn.PDUSpecific, pgn.Source, cm.pgn, reason); err != nil {
		return err
	}
	return &j1939.AbortError{PGN: cm.pgn, Peer: pgn.Source, Reason: reason}
}

func (e *Engine) handleBAM(frame j1939.Frame, pgn j1939.PGN, cm connectionManagement) error {
	key := receiveKey{source: pgn.Source, destination: j1939.AddressGlobal}
	if _, ok := e.inbound[key]; ok {
		return fmt.Errorf("BAM from %v for pgn %v while previous BAM is in progress: %w", pgn.Source, cm.pgn, j1939.ErrSessionBusy)
	}
	size := int(cm.size)
	if size < MinMessageSize || size > MaxMessageSize || int(cm.packets) != packetCount(size) {
		return fmt.Errorf("invalid BAM from %v, size: %v, packets: %v: %w", pgn.Source, size, cm.packets, j1939.ErrInvalidPayload)
	}
	if len(e.inbound) >= e.config.MaxSessions {
		return fmt.Errorf("BAM from %v ignored, too many sessions: %w", pgn.Source, j1939.ErrSessionBusy)
	}
	r := e.newReceiveSession(frame, pgn, cm)
	r.burstEnd = r.packets
	r.timer = "T1"
	r.deadline = e.now().Add(e.config.T1)
	e.inbound[key] = r
	return nil
}

func (e *Engine) newReceiveSession(frame j1939.Frame, pgn j1939.PGN, cm connectionManagement) *receiveSession {
	return &receiveSession{
		pgn:         cm.pgn,
		priority:    pgn.Priority,
		source:      pgn.Source,
		destination: pgn.Destination(),
		size:        int(cm.size),
		packets:     int(cm.packets),
		next:        1,
		buffer:      e.pool.Get().(*[MaxMessageSize]byte),
		lastSeen:    frame.Time,
	}
}

func (e *Engine) sendCTS(r *receiveSession) error {
	count := r.packets - r.next + 1
	if count > int(e.config.PacketsPerCTS) {
		count = int(e.config.PacketsPerCTS)
	}
	r.burstEnd = r.next + count - 1
	r.timer = "T2"
	r.deadline = e.now().Add(e.config.T2)
	return e.sendControl(r.priority, r.destination, r.source, connectionManagement{
		control:    controlCTS,
		packets:    uint8(count),
		nextPacket: uint8(r.next),
		pgn:        r.pgn,
	})
}

func (e *Engine) handleData(frame j1939.Frame, pgn j1939.PGN) (*Message, error) {
	key := receiveKey{source: pgn.Source, destination: pgn.Destination()}
	r, ok := e.inbound[key]
	if !ok {
		return nil, nil
	}
	payload := frame.Payload()
	if len(payload) < 2 {
		e.log.WithField("source", pgn.Source).Debug("ignoring too short TP.DT frame")
		return nil, nil
	}

	sequence := int(payload[0])
	switch {
	case sequence < r.next:
		return nil, e.abortInbound(key, r, j1939.AbortDuplicateSequence)
	case sequence > r.next:
		return nil, e.abortInbound(key, r, j1939.AbortBadSequence)
	}

	start := (sequence - 1) * bytesPerPacket
	end := start + bytesPerPacket
	if end > r.size {
		end = r.size
	}
	copy(r.buffer[start:end], payload[1:])
	r.next++
	r.lastSeen = frame.Time

	if r.next > r.packets {
		return e.completeInbound(key, r)
	}
	if r.next > r.burstEnd {
		if err := e.sendCTS(r); err != nil {
			e.removeInbound(key, r)
			return nil, err
		}
		return nil, nil
	}
	r.timer = "T1"
	r.deadline = e.now().Add(e.config.T1)
	return nil, nil
}

func (e *Engine) completeInbound(key receiveKey, r *receiveSession) (*Message, error) {
	msg := &Message{
		Time: r.lastSeen,
		PGN:  j1939.PGNFromNumber(r.pgn, r.priority, r.source, r.destination),
		Data: append([]byte{}, r.buffer[:r.size]...),
	}
	e.removeInbound(key, r)

	if !r.isBroadcast() {
		err := e.sendControl(r.priority, r.destination, r.source, connectionManagement{
			control: controlEOMAck,
			size:    uint16(r.size),
			packets: uint8(r.packets),
			pgn:     r.pgn,
		})
		if err != nil {
			return msg, err
		}
	}
	e.log.WithFields(logrus.Fields{"pgn": r.pgn, "peer": r.source, "size": r.size}).Debug("transport message received")
	return msg, nil
}

// abortInbound drops inbound session. Peer of RTS/CTS session is notified with Abort frame, BAM session is
// discarded silently.
func (e *Engine) abortInbound(key receiveKey, r *receiveSession, reason j1939.AbortReason) error {
	e.removeInbound(key, r)
	if !r.isBroadcast() {
		if err := e.sendAbort(r.priority, r.destination, r.source, r.pgn, reason); err != nil {
			return err
		}
	}
	e.log.WithFields(logrus.Fields{"pgn": r.pgn, "peer": r.source, "reason": reason}).Debug("inbound session aborted")
	return &j1939.AbortError{PGN: r.pgn, Peer: r.source, Reason: reason}
}

func (e *Engine) removeInbound(key receiveKey, r *receiveSession) {
	if e.inbound[key] == r {
		delete(e.inbound, key)
	}
	if r.buffer != nil {
		e.pool.Put(r.buffer)
		r.buffer = nil
	}
}

func (e *Engine) handleCTS(pgn j1939.PGN, cm connectionManagement) {
	s, ok := e.outbound[pgn.Source]
	if !ok || s.IsBroadcast() || s.pgn != cm.pgn {
		e.log.WithFields(logrus.Fields{"pgn": cm.pgn, "peer": pgn.Source}).Debug("ignoring CTS without session")
		return
	}
	if cm.packets == 0 {
		s.state = stateHold
		s.timer = "Th"
		s.deadline = e.now().Add(e.config.Th)
		return
	}
	next := int(cm.nextPacket)
	if next < 1 || next > s.packets {
		_ = e.sendAbort(s.priority, s.source, s.destination, s.pgn, j1939.AbortBadSequence)
		e.failOutbound(s, &j1939.AbortError{PGN: s.pgn, Peer: s.destination, Reason: j1939.AbortBadSequence})
		return
	}

	last := next + int(cm.packets) - 1
	if last > s.packets {
		last = s.packets
	}
	for seq := next; seq <= last; seq++ {
		if err := e.sendData(s, seq); err != nil {
			e.failOutbound(s, err)
			return
		}
	}
	s.nextPacket = last + 1

	if last == s.packets {
		s.state = stateAwaitingEOMAck
		s.timer = "T4"
		s.deadline = e.now().Add(e.config.T4)
		return
	}
	s.state = stateAwaitingCTS
	s.timer = "T3"
	s.deadline = e.now().Add(e.config.T3)
}

func (e *Engine) handleEOMAck(pgn j1939.PGN, cm connectionManagement) {
	s, ok := e.outbound[pgn.Source]
	if !ok || s.IsBroadcast() || s.state != stateAwaitingEOMAck {
		return
	}
	if s.pgn != cm.pgn || int(cm.size) != len(s.data) || int(cm.packets) != s.packets {
		e.log.WithFields(logrus.Fields{"pgn": cm.pgn, "peer": pgn.Source, "size": cm.size}).
			Debug("ignoring EOM Ack not matching session")
		return
	}
	e.completeOutbound(s)
}

func (e *Engine) handleAbort(pgn j1939.PGN, cm connectionManagement) error {
	if s, ok := e.outbound[pgn.Source]; ok && !s.IsBroadcast() && s.pgn == cm.pgn {
		e.failOutbound(s, &j1939.AbortError{PGN: s.pgn, Peer: s.destination, Reason: cm.reason, Remote: true})
	}
	key := receiveKey{source: pgn.Source, destination: pgn.PDUSpecific}
	if r, ok := e.inbound[key]; ok && r.pgn == cm.pgn {
		e.removeInbound(key, r)
		return &j1939.AbortError{PGN: r.pgn, Peer: r.source, Reason: cm.reason, Remote: true}
	}
	return nil
}

func (e *Engine) completeOutbound(s *Session) {
	s.state = stateComplete
	s.deadline = time.Time{}
	if e.outbound[s.destination] == s {
		delete(e.outbound, s.destination)
	}
	e.log.WithFields(logrus.Fields{"pgn": s.pgn, "peer": s.destination}).Debug("transport session complete")
}

func (e *Engine) failOutbound(s *Session, err error) {
	s.state = stateFailed
	s.err = err
	s.deadline = time.Time{}
	if e.outbound[s.destination] == s {
		delete(e.outbound, s.destination)
	}
	e.log.WithError(err).WithFields(logrus.Fields{"pgn": s.pgn, "peer": s.destination}).Debug("transport session failed")
}

// expireOutbound fails session whose timer has expired. RTS/CTS peer is notified with Abort frame.
func (e *Engine) expireOutbound(s *Session) {
	if !s.IsBroadcast() {
		_ = e.sendAbort(s.priority, s.source, s.destination, s.pgn, j1939.AbortTimeout)
	}
	e.failOutbound(s, &j1939.TimeoutError{PGN: s.pgn, Peer: s.destination, Timer: s.timer})
}

// Poll checks timers of all sessions. Expired outbound sessions fail (their error is returned by Session.Drive).
// Expired inbound sessions are dropped and reported as *j1939.TimeoutError in returned slice.
func (e *Engine) Poll() []error {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	now := e.now()
	for _, s := range e.outbound {
		if !now.Before(s.deadline) {
			e.expireOutbound(s)
		}
	}

	var errs []error
	for key, r := range e.inbound {
		if now.Before(r.deadline) {
			continue
		}
		e.removeInbound(key, r)
		if !r.isBroadcast() {
			if err := e.sendAbort(r.priority, r.destination, r.source, r.pgn, j1939.AbortTimeout); err != nil {
				errs = append(errs, err)
			}
		}
		e.log.WithFields(logrus.Fields{"pgn": r.pgn, "peer": r.source, "timer": r.timer}).Debug("inbound session timed out")
		errs = append(errs, &j1939.TimeoutError{PGN: r.pgn, Peer: r.source, Timer: r.timer})
	}
	sort.Slice(errs, func(i, j int) bool {
		return errs[i].Error() < errs[j].Error()
	})
	return errs
}

// NextDeadline returns earliest timer of all sessions. Zero time when there are no sessions.
func (e *Engine) NextDeadline() time.Time {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	var next time.Time
	for _, s := range e.outbound {
		if next.IsZero() || s.deadline.Before(next) {
			next = s.deadline
		}
	}
	for _, r := range e.inbound {
		if next.IsZero() || r.deadline.Before(next) {
			next = r.deadline
		}
	}
	return next
}

// ActiveSessions returns number of outbound and inbound sessions in progress.
func (e *Engine) ActiveSessions() (outbound int, inbound int) {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	return len(e.outbound), len(e.inbound)
}

func (e *Engine) sendData(s *Session, sequence int) error {
	pgn := j1939.PGNFromNumber(j1939.PGNTPDataTransfer, s.priority, s.source, s.destination)
	payload := dataPacket(s.data, sequence)
	frame, err := j1939.NewFrame(pgn, payload[:])
	if err != nil {
		return err
	}
	if err := e.link.SendFrame(frame); err != nil {
		return fmt.Errorf("TP.DT send failed: %w: %w", err, j1939.ErrLinkFailure)
	}
	s.sentPackets++
	return nil
}

func (e *Engine) sendAbort(priority uint8, source uint8, destination uint8, pgn uint32, reason j1939.AbortReason) error {
	return e.sendControl(priority, source, destination, connectionManagement{
		control: controlAbort,
		reason:  reason,
		pgn:     pgn,
	})
}

func (e *Engine) sendControl(priority uint8, source uint8, destination uint8, cm connectionManagement) error {
	pgn := j1939.PGNFromNumber(j1939.PGNTPConnectionManagement, priority, source, destination)
	payload := cm.marshal()
	frame, err := j1939.NewFrame(pgn, payload[:])
	if err != nil {
		return err
	}
	if err := e.link.SendFrame(frame); err != nil {
		return fmt.Errorf("TP.CM send failed: %w: %w", err, j1939.ErrLinkFailure)
	}
	return nil
}
