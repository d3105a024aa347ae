// Package addressclaim implements J1939-81 address claim procedure for single local NAME.
package addressclaim

import (
	"errors"
	"fmt"
	"github.com/aldas/go-j1939"
	"github.com/aldas/go-j1939/internal/syncutil"
	"github.com/sirupsen/logrus"
	"time"
)

// State is address claim state of local node.
type State uint8

const (
	// StateUnclaimed is initial state. Node has not tried to claim any address.
	StateUnclaimed State = iota
	// StateClaiming means claim has been sent and contention window is running.
	StateClaiming
	// StateClaimed means contention window passed without stronger claim and address can be used as source.
	StateClaimed
	// StateCannotClaim is terminal state. Node lost contention and can not pick another address.
	StateCannotClaim
)

func (s State) String() string {
	switch s {
	case StateUnclaimed:
		return "unclaimed"
	case StateClaiming:
		return "claiming"
	case StateClaimed:
		return "claimed"
	case StateCannotClaim:
		return "cannot_claim"
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}

// EventKind is kind of state change caused by HandleFrame or Poll.
type EventKind uint8

const (
	// EventNone means nothing changed
	EventNone EventKind = iota
	// EventClaimed means contention window expired and address is now claimed
	EventClaimed
	// EventAddressChanged means that claim was restarted with new address (contention lost or commanded address)
	EventAddressChanged
	// EventDefended means that weaker claim for our address was seen and our claim was sent again
	EventDefended
	// EventCannotClaim means that node entered CannotClaim state
	EventCannotClaim
)

func (k EventKind) String() string {
	switch k {
	case EventNone:
		return "none"
	case EventClaimed:
		return "claimed"
	case EventAddressChanged:
		return "address_changed"
	case EventDefended:
		return "defended"
	case EventCannotClaim:
		return "cannot_claim"
	}
	return fmt.Sprintf("event(%d)", uint8(k))
}

// Event describes state change of the claimer.
type Event struct {
	Kind    EventKind
	Address uint8
}

const (
	// DefaultContentionTimeout is time that claiming node waits for competing claims before address is considered claimed.
	DefaultContentionTimeout = 250 * time.Millisecond

	// DefaultAddressRangeStart is first address arbitrary address capable node picks from.
	DefaultAddressRangeStart = uint8(128)
	// DefaultAddressRangeEnd is last address arbitrary address capable node picks from.
	DefaultAddressRangeEnd = uint8(247)

	// maxCannotClaimDelay is upper bound of pseudo-random delay before Cannot Claim Address message is sent
	maxCannotClaimDelay = 153 * time.Millisecond

	claimPriority = uint8(6)
)

// Config configures Claimer.
type Config struct {
	// Name is local NAME. Must not change once claim has started.
	Name j1939.Name

	// ContentionTimeout defaults to DefaultContentionTimeout (250ms)
	ContentionTimeout time.Duration

	// AddressRangeStart and AddressRangeEnd limit addresses that arbitrary address capable node picks from when
	// it loses contention. Defaults to 128-247.
	AddressRangeStart uint8
	AddressRangeEnd   uint8

	Logger *logrus.Logger
}

// Claimer drives claim/contend/resolve state machine for one local NAME. It does not block and does not run
// goroutines - inbound frames are given to HandleFrame and timers are checked by Poll.
type Claimer struct {
	mutex syncutil.Mutex

	sender j1939.FrameSender
	log    *logrus.Logger

	name      j1939.Name
	nameValue uint64

	contentionTimeout time.Duration
	rangeStart        uint8
	rangeEnd          uint8

	state    State
	address  uint8
	deadline time.Time
	tried    [256]bool

	cannotClaimPending bool
	cannotClaimAt      time.Time

	nodes *nodeTable

	now func() time.Time
}

// New creates Claimer that sends its frames with given sender.
func New(sender j1939.FrameSender, config Config) (*Claimer, error) {
	if sender == nil {
		return nil, errors.New("address claimer needs frame sender")
	}
	if err := config.Name.Validate(); err != nil {
		return nil, err
	}
	if config.ContentionTimeout <= 0 {
		config.ContentionTimeout = DefaultContentionTimeout
	}
	if config.AddressRangeStart == 0 && config.AddressRangeEnd == 0 {
		config.AddressRangeStart = DefaultAddressRangeStart
		config.AddressRangeEnd = DefaultAddressRangeEnd
	}
	if config.AddressRangeStart > config.AddressRangeEnd || config.AddressRangeEnd >= j1939.AddressNull {
		return nil, fmt.Errorf("invalid address range %v-%v: %w", config.AddressRangeStart, config.AddressRangeEnd, j1939.ErrInvalidPayload)
	}
	log := config.Logger
	if log == nil {
		log = j1939.NewDiscardLogger()
	}
	return &Claimer{
		sender:            sender,
		log:               log,
		name:              config.Name,
		nameValue:         config.Name.Uint64(),
		contentionTimeout: config.ContentionTimeout,
		rangeStart:        config.AddressRangeStart,
		rangeEnd:          config.AddressRangeEnd,
		state:             StateUnclaimed,
		address:           j1939.AddressNull,
		nodes:             newNodeTable(),
		now:               time.Now,
	}, nil
}

// SetTimeFunc replaces clock used for contention timer. Meant for tests and simulations.
func (c *Claimer) SetTimeFunc(now func() time.Time) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.now = now
}

// Name returns local NAME.
func (c *Claimer) Name() j1939.Name {
	return c.name
}

// State returns current claim state.
func (c *Claimer) State() State {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.state
}

// Address returns address that is being claimed or is claimed. AddressNull when there is none.
func (c *Claimer) Address() uint8 {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.address
}

// Source returns claimed address that can be used as source address for sending. Address that is still in
// contention window is not usable.
func (c *Claimer) Source() (uint8, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	switch c.state {
	case StateClaimed:
		return c.address, nil
	case StateCannotClaim:
		return j1939.AddressNull, cannotClaimError(c.name)
	}
	return j1939.AddressNull, j1939.ErrAddressNotClaimed
}

// cannotClaimError wraps j1939.ErrClaimDenied with NAME that could not claim an address.
func cannotClaimError(name j1939.Name) error {
	return fmt.Errorf("NAME %v: %w", name.Uint64(), j1939.ErrClaimDenied)
}

// Nodes returns snapshot of other nodes seen claiming addresses.
func (c *Claimer) Nodes() Nodes {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.nodes.snapshot()
}

// Claim starts claiming given address. Claim can be restarted with another address while Claiming or Claimed but
// not after node has ended in CannotClaim state.
func (c *Claimer) Claim(address uint8) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if address >= j1939.AddressNull {
		return fmt.Errorf("address %v can not be claimed: %w", address, j1939.ErrInvalidPayload)
	}
	if c.state == StateCannotClaim {
		return cannotClaimError(c.name)
	}
	c.tried = [256]bool{}
	return c.startClaim(address)
}

func (c *Claimer) startClaim(address uint8) error {
	c.state = StateClaiming
	c.address = address
	c.deadline = c.now().Add(c.contentionTimeout)
	c.tried[address] = true

	c.log.WithFields(logrus.Fields{"address": address, "name": c.nameValue}).Debug("claiming address")
	if err := c.sendClaim(address); err != nil {
		c.state = StateUnclaimed
		c.address = j1939.AddressNull
		return err
	}
	return nil
}

// RequestAddressClaims broadcasts Request for Address Claimed so other nodes announce their addresses. Answers
// fill node table that is used to pick free address after lost contention.
func (c *Claimer) RequestAddressClaims() error {
	c.mutex.Lock()
	source := j1939.AddressNull
	if c.state == StateClaimed {
		source = c.address
	}
	c.mutex.Unlock()

	pgn := j1939.PGNFromNumber(j1939.PGNRequest, claimPriority, source, j1939.AddressGlobal)
	frame, err := j1939.NewFrame(pgn, requestPayload(j1939.PGNAddressClaimed))
	if err != nil {
		return err
	}
	return c.send(frame)
}

// Poll checks timers. Contention window expiry moves Claiming to Claimed. Delayed Cannot Claim Address message is
// sent when due.
func (c *Claimer) Poll() (Event, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	now := c.now()
	if c.cannotClaimPending && !now.Before(c.cannotClaimAt) {
		c.cannotClaimPending = false
		if err := c.sendClaim(j1939.AddressNull); err != nil {
			return Event{}, err
		}
	}
	if c.state == StateClaiming && !now.Before(c.deadline) {
		c.state = StateClaimed
		c.log.WithField("address", c.address).Info("address claimed")
		return Event{Kind: EventClaimed, Address: c.address}, nil
	}
	return Event{}, nil
}

// NextDeadline returns time when Poll should be called next. Zero time when there is no pending timer.
func (c *Claimer) NextDeadline() time.Time {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	var next time.Time
	if c.state == StateClaiming {
		next = c.deadline
	}
	if c.cannotClaimPending && (next.IsZero() || c.cannotClaimAt.Before(next)) {
		next = c.cannotClaimAt
	}
	return next
}

// HandleFrame processes Address Claimed and Request frames. Other frames are ignored.
//
// Contention loss for arbitrary address capable NAME is not an error - claim restarts with next free address and
// EventAddressChanged is returned. Error is returned only when node ends in CannotClaim state (j1939.ErrClaimDenied
// or j1939.ErrClaimLost) or when link fails.
func (c *Claimer) HandleFrame(frame j1939.Frame) (Event, error) {
	pgn := frame.PGN()
	switch pgn.Number() &^ 0xff {
	case j1939.PGNAddressClaimed:
		return c.handleAddressClaimed(pgn, frame.Payload())
	case j1939.PGNRequest:
		return c.handleRequest(pgn, frame.Payload())
	}
	return Event{}, nil
}

func (c *Claimer) handleAddressClaimed(pgn j1939.PGN, payload []byte) (Event, error) {
	name, err := j1939.ParseName(payload)
	if err != nil {
		c.log.WithError(err).WithField("source", pgn.Source).Debug("ignoring malformed address claim")
		return Event{}, nil
	}
	other := name.Uint64()

	c.mutex.Lock()
	defer c.mutex.Unlock()

	if other == c.nameValue {
		return Event{}, nil // our own claim echoed back
	}
	if c.nodes.update(pgn.Source, other, c.now()) {
		c.log.WithFields(logrus.Fields{"address": pgn.Source, "name": other}).Debug("node claimed address")
	}

	if pgn.Source != c.address || (c.state != StateClaiming && c.state != StateClaimed) {
		return Event{}, nil
	}
	if other > c.nameValue {
		// we have higher priority (lower NAME) and keep the address
		if err := c.sendClaim(c.address); err != nil {
			return Event{}, err
		}
		c.log.WithFields(logrus.Fields{"address": c.address, "competitor": other}).Debug("defended address")
		return Event{Kind: EventDefended, Address: c.address}, nil
	}
	return c.lose(other)
}

func (c *Claimer) lose(winner uint64) (Event, error) {
	lost := c.address
	c.log.WithFields(logrus.Fields{"address": lost, "winner": winner}).Info("address claim lost")

	if !c.name.ArbitraryAddressCapable {
		c.enterCannotClaim()
		return Event{Kind: EventCannotClaim, Address: j1939.AddressNull}, cannotClaimError(c.name)
	}
	candidate, ok := c.nextCandidate()
	if !ok {
		c.enterCannotClaim()
		return Event{Kind: EventCannotClaim, Address: j1939.AddressNull}, fmt.Errorf("NAME %v: %w", c.nameValue, j1939.ErrClaimLost)
	}
	if err := c.startClaim(candidate); err != nil {
		return Event{}, err
	}
	return Event{Kind: EventAddressChanged, Address: candidate}, nil
}

func (c *Claimer) nextCandidate() (uint8, bool) {
	for a := int(c.rangeStart); a <= int(c.rangeEnd); a++ {
		addr := uint8(a)
		if c.tried[addr] || c.nodes.isOccupied(addr) {
			continue
		}
		return addr, true
	}
	return 0, false
}

func (c *Claimer) enterCannotClaim() {
	c.state = StateCannotClaim
	c.address = j1939.AddressNull
	c.scheduleCannotClaim()
}

// scheduleCannotClaim delays Cannot Claim Address message by pseudo-random 0-153ms (derived from NAME) so nodes
// that failed at the same time do not collide.
func (c *Claimer) scheduleCannotClaim() {
	delay := time.Duration(c.nameValue%uint64(maxCannotClaimDelay/time.Millisecond+1)) * time.Millisecond
	c.cannotClaimPending = true
	c.cannotClaimAt = c.now().Add(delay)
}

func (c *Claimer) handleRequest(pgn j1939.PGN, payload []byte) (Event, error) {
	if len(payload) < 3 {
		return Event{}, nil
	}
	requested := uint32(payload[0]) | uint32(payload[1])<<8 | uint32(payload[2])<<16
	if requested != j1939.PGNAddressClaimed {
		return Event{}, nil
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	dst := pgn.Destination()
	switch c.state {
	case StateClaiming, StateClaimed:
		if dst != j1939.AddressGlobal && dst != c.address {
			return Event{}, nil
		}
		return Event{}, c.sendClaim(c.address)
	case StateCannotClaim:
		if dst == j1939.AddressGlobal {
			c.scheduleCannotClaim()
		}
	}
	return Event{}, nil
}

// HandleCommandedAddress processes Commanded Address message payload (9 bytes: NAME + new address). When NAME
// matches local NAME the claim is restarted with the commanded address.
func (c *Claimer) HandleCommandedAddress(payload []byte) (Event, error) {
	if len(payload) != 9 {
		return Event{}, fmt.Errorf("commanded address must be 9 bytes, got: %v: %w", len(payload), j1939.ErrInvalidPayload)
	}
	name, err := j1939.ParseName(payload[0:8])
	if err != nil {
		return Event{}, err
	}
	if name.Uint64() != c.nameValue {
		return Event{}, nil
	}
	address := payload[8]
	if address >= j1939.AddressNull {
		return Event{}, fmt.Errorf("commanded address %v is not valid: %w", address, j1939.ErrInvalidPayload)
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.log.WithFields(logrus.Fields{"from": c.address, "to": address}).Info("commanded to new address")
	c.tried = [256]bool{}
	c.cannotClaimPending = false
	if err := c.startClaim(address); err != nil {
		return Event{}, err
	}
	return Event{Kind: EventAddressChanged, Address: address}, nil
}

func (c *Claimer) sendClaim(source uint8) error {
	pgn := j1939.PGNFromNumber(j1939.PGNAddressClaimed, claimPriority, source, j1939.AddressGlobal)
	name := c.name.Bytes()
	frame, err := j1939.NewFrame(pgn, name[:])
	if err != nil {
		return err
	}
	return c.send(frame)
}

func (c *Claimer) send(frame j1939.Frame) error {
	if err := c.sender.SendFrame(frame); err != nil {
		return fmt.Errorf("address claim send failed: %w: %w", err, j1939.ErrLinkFailure)
	}
	return nil
}

func requestPayload(pgn uint32) []byte {
	return []byte{ // order as little endian
		uint8(pgn & 0xff),
		uint8((pgn >> 8) & 0xff),
		uint8((pgn >> 16) & 0xff),
	}
}
