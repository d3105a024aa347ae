// Package canbus implements j1939.Link on top of github.com/brutella/can bus. Bus delivers received frames to
// subscribed handlers from its own read loop, adapter queues them so ReceiveFrame never blocks.
package canbus

import (
	"github.com/aldas/go-j1939"
	"github.com/brutella/can"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"sync"
	"time"
)

const (
	// effFlag marks extended frame format (29 bit identifier) in CAN identifier (linux/can.h CAN_EFF_FLAG)
	effFlag = 0x80000000
	// rtrFlag marks remote transmission request frame
	rtrFlag = 0x40000000
	// errFlag marks error message frame
	errFlag = 0x20000000
	idMask  = 0x1fffffff
)

// DefaultQueueSize is default amount of received frames adapter buffers.
const DefaultQueueSize = 4096

// Config configures Adapter.
type Config struct {
	QueueSize int
	Logger    *logrus.Logger
}

// Adapter adapts brutella/can bus to j1939.Link.
type Adapter struct {
	bus *can.Bus
	log *logrus.Logger

	received chan j1939.Frame

	mu      sync.Mutex
	filters []j1939.Filter
	dropped uint64
	err     error
	done    bool

	timeNow func() time.Time
}

// NewAdapter creates adapter on given frame reader/writer. Run must be called to start receiving frames.
func NewAdapter(rwc can.ReadWriteCloser, config Config) *Adapter {
	if config.QueueSize <= 0 {
		config.QueueSize = DefaultQueueSize
	}
	log := config.Logger
	if log == nil {
		log = j1939.NewDiscardLogger()
	}
	a := &Adapter{
		bus:      can.NewBus(rwc),
		log:      log,
		received: make(chan j1939.Frame, config.QueueSize),
		timeNow:  time.Now,
	}
	a.bus.SubscribeFunc(a.handle)
	return a
}

// Run reads frames from bus until bus is disconnected or read fails. Blocks.
func (a *Adapter) Run() error {
	err := a.bus.ConnectAndPublish()

	a.mu.Lock()
	defer a.mu.Unlock()
	if err == nil {
		err = errors.New("can bus disconnected")
	}
	a.err = &j1939.LinkError{Err: errors.Wrap(err, "can bus read")}
	a.done = true
	return err
}

// Close disconnects bus.
func (a *Adapter) Close() error {
	return a.bus.Disconnect()
}

func (a *Adapter) handle(f can.Frame) {
	if f.ID&(rtrFlag|errFlag) != 0 || f.ID&effFlag == 0 {
		return // J1939 uses only extended data frames
	}
	frame := j1939.Frame{
		Time:   a.timeNow(),
		ID:     f.ID & idMask,
		Length: f.Length,
	}
	if frame.Length > j1939.MaxFrameDataLength {
		frame.Length = j1939.MaxFrameDataLength
	}
	copy(frame.Data[:], f.Data[:frame.Length])

	a.mu.Lock()
	defer a.mu.Unlock()
	if !j1939.MatchAny(a.filters, frame.ID) {
		return
	}
	select {
	case a.received <- frame:
	default:
		a.dropped++
		a.log.WithField("frame", frame.String()).Warn("can bus receive queue is full, dropping frame")
	}
}

// SendFrame publishes frame to bus.
func (a *Adapter) SendFrame(frame j1939.Frame) error {
	f := can.Frame{
		ID:     frame.ID&idMask | effFlag,
		Length: uint8(len(frame.Payload())),
	}
	copy(f.Data[:], frame.Payload())
	if err := a.bus.Publish(f); err != nil {
		return &j1939.LinkError{Err: errors.Wrap(err, "can bus publish")}
	}
	return nil
}

// ReceiveFrame returns next queued frame without blocking. Error is returned after bus read loop has ended and all
// queued frames have been consumed.
func (a *Adapter) ReceiveFrame() (j1939.Frame, bool, error) {
	select {
	case f := <-a.received:
		return f, true, nil
	default:
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.done && len(a.received) == 0 {
		return j1939.Frame{}, false, a.err
	}
	return j1939.Frame{}, false, nil
}

// InstallFilters installs software filters applied to frames received from bus.
func (a *Adapter) InstallFilters(filters []j1939.Filter) error {
	if err := j1939.ValidateFilters(filters); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.filters = append([]j1939.Filter{}, filters...)
	return nil
}

// Dropped returns amount of frames dropped because receive queue was full.
func (a *Adapter) Dropped() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.dropped
}
