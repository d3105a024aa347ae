package test_test

import (
	"errors"
	"github.com/aldas/go-j1939"
	"github.com/stretchr/testify/assert"
	"sync"
	"testing"
)

// Link is fake j1939.Link that records sent frames and returns queued frames on receive.
type Link struct {
	mu sync.Mutex

	Sent     []j1939.Frame
	Received []j1939.Frame
	Filters  []j1939.Filter

	// SendErr, when set, is returned by SendFrame and frame is not recorded
	SendErr error
	// FailAfter, when greater than 0, makes SendFrame fail after that many successful sends
	FailAfter int
}

// ErrSendFailed is returned by Link.SendFrame when FailAfter limit is reached.
var ErrSendFailed = errors.New("fake link send failed")

func (l *Link) SendFrame(frame j1939.Frame) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.SendErr != nil {
		return l.SendErr
	}
	if l.FailAfter > 0 && len(l.Sent) >= l.FailAfter {
		return ErrSendFailed
	}
	l.Sent = append(l.Sent, frame)
	return nil
}

func (l *Link) ReceiveFrame() (j1939.Frame, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.Received) == 0 {
		return j1939.Frame{}, false, nil
	}
	f := l.Received[0]
	l.Received = l.Received[1:]
	return f, true, nil
}

func (l *Link) InstallFilters(filters []j1939.Filter) error {
	if err := j1939.ValidateFilters(filters); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Filters = append([]j1939.Filter{}, filters...)
	return nil
}

// Queue adds frames to be returned by ReceiveFrame.
func (l *Link) Queue(frames ...j1939.Frame) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Received = append(l.Received, frames...)
}

// TakeSent returns frames sent so far and clears the list.
func (l *Link) TakeSent() []j1939.Frame {
	l.mu.Lock()
	defer l.mu.Unlock()
	sent := l.Sent
	l.Sent = nil
	return sent
}

// Frame creates frame with given identifier and data. Fails test when data is longer than 8 bytes.
func Frame(t *testing.T, id uint32, data ...byte) j1939.Frame {
	f, err := j1939.NewFrame(j1939.ParseID(id), data)
	if err != nil {
		t.Fatal(err)
	}
	return f
}

// AssertFrames compares frame identifiers and payloads ignoring receive time.
func AssertFrames(t *testing.T, expect []j1939.Frame, actual []j1939.Frame) {
	t.Helper()
	if !assert.Len(t, actual, len(expect)) {
		for _, f := range actual {
			t.Logf("actual: %v", f)
		}
		return
	}
	for i := range expect {
		assert.Equal(t, expect[i].String(), actual[i].String(), "frame %v", i)
	}
}
