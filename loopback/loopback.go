// Package loopback implements in-memory CAN bus for tests and simulations. Every endpoint opened from the same bus
// receives frames sent by all other endpoints.
package loopback

import (
	"errors"
	"github.com/aldas/go-j1939"
	"sync"
	"time"
)

// ErrClosed is returned when using closed endpoint or bus.
var ErrClosed = errors.New("loopback: closed")

// DefaultQueueSize is how many frames endpoint buffers before it starts to drop them.
const DefaultQueueSize = 4096

// Bus is in-memory CAN bus.
type Bus struct {
	mu        sync.RWMutex
	closed    bool
	endpoints map[*Endpoint]struct{}
	queueSize int

	now func() time.Time
}

// NewBus creates new loopback bus.
func NewBus() *Bus {
	return &Bus{
		endpoints: make(map[*Endpoint]struct{}),
		queueSize: DefaultQueueSize,
		now:       time.Now,
	}
}

// SetTimeFunc replaces clock used to timestamp delivered frames.
func (b *Bus) SetTimeFunc(now func() time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.now = now
}

// Open creates new endpoint attached to the bus.
func (b *Bus) Open() *Endpoint {
	ep := &Endpoint{bus: b}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		ep.dead = true
		return ep
	}
	b.endpoints[ep] = struct{}{}
	return ep
}

// Close closes the bus and detaches all endpoints.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for ep := range b.endpoints {
		ep.kill()
	}
	b.endpoints = nil
	return nil
}

// Endpoint is single node attached to loopback bus. Endpoint implements j1939.Link.
type Endpoint struct {
	bus *Bus

	mu      sync.Mutex
	dead    bool
	queue   []j1939.Frame
	filters []j1939.Filter
	dropped uint64
}

// SendFrame delivers frame to all other endpoints on the bus whose filters accept it.
func (e *Endpoint) SendFrame(frame j1939.Frame) error {
	if frame.Length > j1939.MaxFrameDataLength {
		return j1939.ErrInvalidPayload
	}
	e.mu.Lock()
	dead := e.dead
	e.mu.Unlock()
	if dead {
		return ErrClosed
	}

	// snapshot endpoints so bus lock is not held while delivering
	e.bus.mu.RLock()
	if e.bus.closed {
		e.bus.mu.RUnlock()
		return ErrClosed
	}
	targets := make([]*Endpoint, 0, len(e.bus.endpoints))
	for ep := range e.bus.endpoints {
		if ep != e {
			targets = append(targets, ep)
		}
	}
	frame.Time = e.bus.now()
	queueSize := e.bus.queueSize
	e.bus.mu.RUnlock()

	for _, t := range targets {
		t.deliver(frame, queueSize)
	}
	return nil
}

func (e *Endpoint) deliver(frame j1939.Frame, queueSize int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.dead || !j1939.MatchAny(e.filters, frame.ID) {
		return
	}
	if len(e.queue) >= queueSize {
		e.dropped++ // receive buffer overflow, like real controller
		return
	}
	e.queue = append(e.queue, frame)
}

// ReceiveFrame returns next queued frame. Does not block.
func (e *Endpoint) ReceiveFrame() (j1939.Frame, bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.queue) == 0 {
		if e.dead {
			return j1939.Frame{}, false, ErrClosed
		}
		return j1939.Frame{}, false, nil
	}
	f := e.queue[0]
	e.queue[0] = j1939.Frame{}
	e.queue = e.queue[1:]
	return f, true, nil
}

// InstallFilters replaces endpoint filters. Frames already in queue are not filtered again.
func (e *Endpoint) InstallFilters(filters []j1939.Filter) error {
	if err := j1939.ValidateFilters(filters); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.filters = append([]j1939.Filter{}, filters...)
	return nil
}

// Dropped returns number of frames dropped because queue was full.
func (e *Endpoint) Dropped() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dropped
}

// Close detaches endpoint from the bus. Already queued frames can still be read.
func (e *Endpoint) Close() error {
	e.bus.mu.Lock()
	defer e.bus.mu.Unlock()
	e.kill()
	if e.bus.endpoints != nil {
		delete(e.bus.endpoints, e)
	}
	return nil
}

func (e *Endpoint) kill() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.dead = true
}
