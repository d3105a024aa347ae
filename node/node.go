// Package node wires link, address claimer and transport engine together and drives them with cooperative
// poll loop.
package node

import (
	"context"
	"errors"
	"fmt"
	"github.com/aldas/go-j1939"
	"github.com/aldas/go-j1939/addressclaim"
	"github.com/aldas/go-j1939/internal/syncutil"
	"github.com/aldas/go-j1939/transport"
	"github.com/sirupsen/logrus"
	"time"
)

const (
	// DefaultPollInterval is how often Run checks link and timers.
	DefaultPollInterval = 10 * time.Millisecond

	// maxFramesPerStep limits how many frames single Step reads so timers get checked on busy bus.
	maxFramesPerStep = 256
)

// Handler receives messages completed by node: single frame messages and reassembled transport protocol transfers.
type Handler interface {
	HandleMessage(msg transport.Message)
}

// HandlerFunc adapts function to Handler.
type HandlerFunc func(msg transport.Message)

// HandleMessage calls f(msg).
func (f HandlerFunc) HandleMessage(msg transport.Message) {
	f(msg)
}

// Config configures Node.
type Config struct {
	// PreferredAddress is address node claims on Start.
	PreferredAddress uint8
	// Claim configures address claimer. Claim.Name is local NAME.
	Claim addressclaim.Config
	// Transport configures transport protocol engine.
	Transport transport.Config
	// ExtraPGNs are added to link filters in addition to network management and transport protocol PGNs.
	ExtraPGNs []uint32
	// PollInterval defaults to DefaultPollInterval.
	PollInterval time.Duration

	Logger *logrus.Logger
	// Now replaces clock of claimer and engine. Meant for simulations.
	Now func() time.Time
}

// Node is single J1939 controller application on one link.
type Node struct {
	// stepMutex serializes Step so Run and Send can be used from different goroutines
	stepMutex syncutil.Mutex

	link    j1939.Link
	claimer *addressclaim.Claimer
	engine  *transport.Engine
	handler Handler
	log     *logrus.Logger

	preferredAddress uint8
	extraPGNs        []uint32
	pollInterval     time.Duration
}

// New creates node. Handler may be nil when received messages are not needed.
func New(link j1939.Link, config Config, handler Handler) (*Node, error) {
	if link == nil {
		return nil, errors.New("node needs link")
	}
	log := config.Logger
	if log == nil {
		log = j1939.NewDiscardLogger()
	}
	if config.Claim.Logger == nil {
		config.Claim.Logger = log
	}
	if config.Transport.Logger == nil {
		config.Transport.Logger = log
	}
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultPollInterval
	}
	if len(config.ExtraPGNs) > MaxExtraPGNs {
		return nil, fmt.Errorf("too many extra PGNs: %v: %w", len(config.ExtraPGNs), j1939.ErrInvalidPayload)
	}

	claimer, err := addressclaim.New(link, config.Claim)
	if err != nil {
		return nil, err
	}
	engine, err := transport.NewEngine(link, claimer, config.Transport)
	if err != nil {
		return nil, err
	}
	if config.Now != nil {
		claimer.SetTimeFunc(config.Now)
		engine.SetTimeFunc(config.Now)
	}
	if handler == nil {
		handler = HandlerFunc(func(msg transport.Message) {})
	}

	return &Node{
		link:             link,
		claimer:          claimer,
		engine:           engine,
		handler:          handler,
		log:              log,
		preferredAddress: config.PreferredAddress,
		extraPGNs:        append([]uint32{}, config.ExtraPGNs...),
		pollInterval:     config.PollInterval,
	}, nil
}

// Claimer returns node address claimer.
func (n *Node) Claimer() *addressclaim.Claimer {
	return n.claimer
}

// Engine returns node transport engine.
func (n *Node) Engine() *transport.Engine {
	return n.engine
}

// MaxExtraPGNs is how many extra PGNs fit into link filter list next to node own filters.
const MaxExtraPGNs = j1939.MaxFilters - 5

var baseFilterPGNs = []uint32{
	j1939.PGNAddressClaimed,
	j1939.PGNRequest,
	j1939.PGNTPConnectionManagement,
	j1939.PGNTPDataTransfer,
	j1939.PGNCommandedAddress,
}

// Filters returns filters node installs to link.
func (n *Node) Filters() []j1939.Filter {
	filters := make([]j1939.Filter, 0, len(baseFilterPGNs)+len(n.extraPGNs))
	for _, pgn := range baseFilterPGNs {
		filters = append(filters, j1939.FilterPGN(pgn))
	}
	for _, pgn := range n.extraPGNs {
		filters = append(filters, j1939.FilterPGN(pgn))
	}
	return filters
}

// Start installs link filters and starts claiming preferred address.
func (n *Node) Start() error {
	if err := n.link.InstallFilters(n.Filters()); err != nil {
		return fmt.Errorf("failed to install filters: %w", err)
	}
	return n.claimer.Claim(n.preferredAddress)
}

// Step reads pending frames, dispatches them and checks timers. Step does not block. Returned error is link
// failure or address claim failure (node ended in CannotClaim state). Transport protocol errors of inbound sessions
// are only logged.
func (n *Node) Step() error {
	n.stepMutex.Lock()
	defer n.stepMutex.Unlock()

	for i := 0; i < maxFramesPerStep; i++ {
		frame, ok, err := n.link.ReceiveFrame()
		if err != nil {
			return fmt.Errorf("receive failed: %w: %w", err, j1939.ErrLinkFailure)
		}
		if !ok {
			break
		}
		if err := n.dispatch(frame); err != nil {
			return err
		}
	}

	if err := n.logClaimEvent(n.claimer.Poll()); err != nil {
		return err
	}
	for _, err := range n.engine.Poll() {
		n.log.WithError(err).Warn("transport session failed")
	}
	return nil
}

func (n *Node) dispatch(frame j1939.Frame) error {
	pgn := frame.PGN()
	switch pgn.Number() {
	case j1939.PGNAddressClaimed, j1939.PGNRequest:
		if err := n.logClaimEvent(n.claimer.HandleFrame(frame)); err != nil {
			return err
		}
		if pgn.Number() == j1939.PGNRequest {
			n.handler.HandleMessage(singleFrameMessage(frame))
		}
		return nil
	case j1939.PGNTPConnectionManagement, j1939.PGNTPDataTransfer:
		msg, err := n.engine.HandleFrame(frame)
		if err != nil {
			if errors.Is(err, j1939.ErrLinkFailure) {
				return err
			}
			n.log.WithError(err).WithField("source", pgn.Source).Debug("transport frame rejected")
		}
		if msg != nil {
			return n.deliver(*msg)
		}
		return nil
	}
	return n.deliver(singleFrameMessage(frame))
}

func singleFrameMessage(frame j1939.Frame) transport.Message {
	return transport.Message{
		Time: frame.Time,
		PGN:  frame.PGN(),
		Data: append([]byte{}, frame.Payload()...),
	}
}

func (n *Node) deliver(msg transport.Message) error {
	if msg.PGN.Number() == j1939.PGNCommandedAddress {
		event, err := n.claimer.HandleCommandedAddress(msg.Data)
		if err != nil && !errors.Is(err, j1939.ErrInvalidPayload) {
			return err
		}
		if err != nil {
			n.log.WithError(err).Debug("ignoring commanded address")
		}
		return n.logClaimEvent(event, nil)
	}
	n.handler.HandleMessage(msg)
	return nil
}

func (n *Node) logClaimEvent(event addressclaim.Event, err error) error {
	if err != nil {
		n.log.WithError(err).Error("address claim failed")
		return err
	}
	if event.Kind != addressclaim.EventNone {
		n.log.WithFields(logrus.Fields{"event": event.Kind, "address": event.Address}).Info("address claim event")
	}
	return nil
}

// Run calls Step with poll interval until context is done or Step fails.
func (n *Node) Run(ctx context.Context) error {
	ticker := time.NewTicker(n.pollInterval)
	defer ticker.Stop()
	for {
		if err := n.Step(); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// WaitClaimed steps node until address is claimed. Returns claimed address.
func (n *Node) WaitClaimed(ctx context.Context) (uint8, error) {
	for {
		if err := n.Step(); err != nil {
			return j1939.AddressNull, err
		}
		switch n.claimer.State() {
		case addressclaim.StateClaimed:
			return n.claimer.Address(), nil
		case addressclaim.StateCannotClaim:
			return j1939.AddressNull, fmt.Errorf("waiting for address: %w", j1939.ErrClaimDenied)
		}
		if err := sleep(ctx, n.pollInterval); err != nil {
			return j1939.AddressNull, err
		}
	}
}

// Send sends payload and blocks until transfer is complete. BAM packets are paced with BAM interval. Node is
// stepped while waiting so CTS and EOM Ack frames are processed. Failed transfer is not retried.
func (n *Node) Send(ctx context.Context, pgn j1939.PGN, data []byte) error {
	session, err := n.engine.Transmit(pgn, data)
	if err != nil || session == nil {
		return err
	}
	return n.Drive(ctx, session, nil)
}

// Drive drives session to completion. Optional progress callback is called after every Drive with number of sent
// packets.
func (n *Node) Drive(ctx context.Context, session *transport.Session, progress func(sent int, total int)) error {
	for {
		if err := n.Step(); err != nil {
			session.Cancel()
			return err
		}
		p, err := session.Drive()
		if progress != nil {
			progress(session.SentPackets(), session.Packets())
		}
		if err != nil {
			return err
		}
		if p.Status == transport.StatusComplete {
			return nil
		}

		wait := p.Wait
		if !session.IsBroadcast() && wait > n.pollInterval {
			wait = n.pollInterval
		}
		if err := sleep(ctx, wait); err != nil {
			session.Cancel()
			return err
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
