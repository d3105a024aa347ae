package rawlog

import (
	"github.com/aldas/go-j1939"
	"github.com/pkg/errors"
	"io"
	"sync"
	"time"
)

// Recorder is j1939.Link decorator that writes every sent and received frame as RAW line to writer.
type Recorder struct {
	inner j1939.Link

	mu      sync.Mutex
	writer  io.Writer
	timeNow func() time.Time
}

// NewRecorder creates recorder around link.
func NewRecorder(inner j1939.Link, writer io.Writer) *Recorder {
	return &Recorder{
		inner:   inner,
		writer:  writer,
		timeNow: time.Now,
	}
}

func (r *Recorder) SendFrame(frame j1939.Frame) error {
	if err := r.inner.SendFrame(frame); err != nil {
		return err
	}
	if frame.Time.IsZero() {
		frame.Time = r.timeNow()
	}
	return r.write(frame)
}

func (r *Recorder) ReceiveFrame() (j1939.Frame, bool, error) {
	frame, ok, err := r.inner.ReceiveFrame()
	if err != nil || !ok {
		return frame, ok, err
	}
	if err := r.write(frame); err != nil {
		return frame, true, err
	}
	return frame, true, nil
}

func (r *Recorder) InstallFilters(filters []j1939.Filter) error {
	return r.inner.InstallFilters(filters)
}

func (r *Recorder) write(frame j1939.Frame) error {
	line := append(MarshalFrame(frame), '\n')

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, err := r.writer.Write(line); err != nil {
		return &j1939.LinkError{Err: errors.Wrap(err, "raw log write")}
	}
	return nil
}
