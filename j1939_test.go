package j1939_test

import (
	"bytes"
	"errors"
	"fmt"
	"github.com/aldas/go-j1939"
	test_test "github.com/aldas/go-j1939/test"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"testing"
)

func TestNewFrame(t *testing.T) {
	f, err := j1939.NewFrame(j1939.PGNFromNumber(j1939.PGNRequest, 6, j1939.AddressNull, j1939.AddressGlobal), []byte{0x00, 0xEE, 0x00})

	require.NoError(t, err)
	assert.Equal(t, uint32(0x18EAFFFE), f.ID)
	assert.Equal(t, []byte{0x00, 0xEE, 0x00}, f.Payload())
	assert.Equal(t, "18EAFFFE [3] 00 EE 00", f.String())
	assert.Equal(t, uint32(j1939.PGNRequest), f.PGN().Number())

	_, err = j1939.NewFrame(j1939.PGN{}, make([]byte, 9))
	assert.EqualError(t, err, "frame data can be up to 8 bytes, got: 9: invalid payload")
}

func TestFrame_PayloadClipsLength(t *testing.T) {
	f := j1939.Frame{ID: 0x18EEFF80, Length: 15, Data: [8]byte{1, 2, 3, 4, 5, 6, 7, 8}}

	assert.Len(t, f.Payload(), 8)
}

func TestAbortError(t *testing.T) {
	var err error = &j1939.AbortError{PGN: 0xfef6, Peer: 0x20, Reason: j1939.AbortTimeout, Remote: true}
	wrapped := fmt.Errorf("send failed: %w", err)

	assert.EqualError(t, err, "transport session aborted by peer, pgn: 65270, peer: 32, reason: timeout")
	assert.ErrorIs(t, wrapped, j1939.ErrProtocolAbort)
	assert.False(t, errors.Is(wrapped, j1939.ErrTimeout))

	var abortErr *j1939.AbortError
	require.ErrorAs(t, wrapped, &abortErr)
	assert.Equal(t, j1939.AbortTimeout, abortErr.Reason)
}

func TestTimeoutError(t *testing.T) {
	var err error = &j1939.TimeoutError{PGN: 0xfef6, Peer: 0x20, Timer: "T3"}

	assert.EqualError(t, err, "transport session timed out, pgn: 65270, peer: 32, timer: T3")
	assert.ErrorIs(t, err, j1939.ErrTimeout)
	assert.False(t, errors.Is(err, j1939.ErrProtocolAbort))
}

func TestLinkError(t *testing.T) {
	cause := errors.New("no buffer space available")
	var err error = &j1939.LinkError{Err: cause}

	assert.EqualError(t, err, "no buffer space available")
	assert.ErrorIs(t, err, j1939.ErrLinkFailure)
	assert.ErrorIs(t, err, cause)
}

func TestAbortReason_String(t *testing.T) {
	assert.Equal(t, "busy", j1939.AbortBusy.String())
	assert.Equal(t, "message too large", j1939.AbortMessageTooLarge.String())
	assert.Equal(t, "unsupported", j1939.AbortUnsupported.String())
	assert.Equal(t, "reason(42)", j1939.AbortReason(42).String())
}

func TestLoggedLink(t *testing.T) {
	buf := new(bytes.Buffer)
	log := logrus.New()
	log.SetOutput(buf)
	log.SetLevel(logrus.TraceLevel)
	log.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})

	inner := &test_test.Link{}
	inner.Queue(test_test.Frame(t, 0x18EEFF80, 0x10, 0, 0, 0, 0, 0, 0, 0x80))
	link := j1939.NewLoggedLink(inner, log)

	require.NoError(t, link.InstallFilters([]j1939.Filter{j1939.FilterPGN(j1939.PGNAddressClaimed)}))
	require.NoError(t, link.SendFrame(test_test.Frame(t, 0x18EAFFFE, 0x00, 0xEE, 0x00)))
	f, ok, err := link.ReceiveFrame()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint32(0x18EEFF80), f.ID)

	inner.SendErr = test_test.ErrSendFailed
	assert.ErrorIs(t, link.SendFrame(test_test.Frame(t, 0x18EAFFFE, 0x00, 0xEE, 0x00)), test_test.ErrSendFailed)

	out := buf.String()
	assert.Contains(t, out, `msg="installing link filters" filters=1`)
	assert.Contains(t, out, `msg="link send"`)
	assert.Contains(t, out, `frame="18EAFFFE [3] 00 EE 00"`)
	assert.Contains(t, out, `msg="link receive"`)
	assert.Contains(t, out, `level=error msg="link send failed" error="fake link send failed"`)
}
