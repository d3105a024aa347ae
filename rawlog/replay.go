package rawlog

import (
	"bufio"
	"github.com/aldas/go-j1939"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"io"
	"strings"
	"sync"
	"time"
)

// ReplayConfig configures Replay.
type ReplayConfig struct {
	// Realtime instructs replay to hand out frames with the same spacing as they were recorded. When false frames
	// are returned as fast as they are read.
	Realtime bool

	Logger *logrus.Logger
}

// Replay is j1939.Link that returns frames read from RAW log. Sent frames are logged and discarded.
type Replay struct {
	reader  io.Reader
	scanner *bufio.Scanner
	config  ReplayConfig
	log     *logrus.Logger

	mu      sync.Mutex
	filters []j1939.Filter
	pending *j1939.Frame
	// offset maps recorded frame time to wall clock when replaying in realtime
	offset time.Duration
	err    error

	timeNow func() time.Time
}

// NewReplay creates replay link reading RAW lines from reader. Empty lines and lines starting with `#` are skipped.
func NewReplay(reader io.Reader, config ReplayConfig) *Replay {
	log := config.Logger
	if log == nil {
		log = j1939.NewDiscardLogger()
	}
	return &Replay{
		reader:  reader,
		scanner: bufio.NewScanner(reader),
		config:  config,
		log:     log,
		timeNow: time.Now,
	}
}

// SendFrame discards frame. Replayed log is not affected by what node sends.
func (r *Replay) SendFrame(frame j1939.Frame) error {
	r.log.WithField("frame", frame.String()).Debug("replay link discarding sent frame")
	return nil
}

// ReceiveFrame returns next frame from log. When log is exhausted io.EOF is returned wrapped in j1939.LinkError.
func (r *Replay) ReceiveFrame() (j1939.Frame, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for {
		if r.pending == nil {
			f, err := r.next()
			if err != nil {
				return j1939.Frame{}, false, err
			}
			r.pending = &f
		}
		f := *r.pending
		if r.config.Realtime {
			now := r.timeNow()
			if r.offset == 0 {
				r.offset = now.Sub(f.Time)
			}
			if f.Time.Add(r.offset).After(now) {
				return j1939.Frame{}, false, nil
			}
			f.Time = f.Time.Add(r.offset)
		}
		r.pending = nil
		if !j1939.MatchAny(r.filters, f.ID) {
			continue
		}
		return f, true, nil
	}
}

func (r *Replay) next() (j1939.Frame, error) {
	if r.err != nil {
		return j1939.Frame{}, r.err
	}
	for r.scanner.Scan() {
		line := strings.TrimSpace(r.scanner.Text())
		if line == "" || line[0] == '#' {
			continue
		}
		f, err := UnmarshalString(line)
		if err != nil {
			r.log.WithError(err).WithField("line", line).Warn("skipping invalid raw log line")
			continue
		}
		return f, nil
	}
	err := r.scanner.Err()
	if err == nil {
		err = io.EOF
	}
	r.err = &j1939.LinkError{Err: errors.Wrap(err, "raw log read")}
	return j1939.Frame{}, r.err
}

// InstallFilters installs software filters applied to replayed frames.
func (r *Replay) InstallFilters(filters []j1939.Filter) error {
	if err := j1939.ValidateFilters(filters); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.filters = append([]j1939.Filter{}, filters...)
	return nil
}

func (r *Replay) Close() error {
	closer, ok := r.reader.(io.Closer)
	if ok {
		return closer.Close()
	}
	return nil
}
