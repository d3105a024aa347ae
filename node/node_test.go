package node

import (
	"bytes"
	"context"
	"errors"
	"github.com/aldas/go-j1939"
	"github.com/aldas/go-j1939/addressclaim"
	"github.com/aldas/go-j1939/loopback"
	"github.com/aldas/go-j1939/rawlog"
	test_test "github.com/aldas/go-j1939/test"
	"github.com/aldas/go-j1939/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"io"
	"sync"
	"testing"
	"time"
)

var (
	nameLow  = j1939.Name{ArbitraryAddressCapable: true, IndustryGroup: j1939.IndustryGroupIndustrial, IdentityNumber: 1}
	nameHigh = j1939.Name{ArbitraryAddressCapable: true, IndustryGroup: j1939.IndustryGroupIndustrial, IdentityNumber: 2}
)

type collector struct {
	mu       sync.Mutex
	messages []transport.Message
}

func (c *collector) HandleMessage(msg transport.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, msg)
}

func (c *collector) find(pgn uint32) (transport.Message, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, m := range c.messages {
		if m.PGN.Number() == pgn {
			return m, true
		}
	}
	return transport.Message{}, false
}

func (c *collector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.messages)
}

func newTestNode(t *testing.T, bus *loopback.Bus, name j1939.Name, address uint8, handler Handler) *Node {
	n, err := New(bus.Open(), Config{
		PreferredAddress: address,
		Claim:            addressclaim.Config{Name: name, ContentionTimeout: 20 * time.Millisecond},
		ExtraPGNs:        []uint32{0xfef6},
		PollInterval:     time.Millisecond,
	}, handler)
	require.NoError(t, err)
	return n
}

// stepUntil steps all nodes until condition is true or test times out.
func stepUntil(t *testing.T, condition func() bool, nodes ...*Node) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !condition() {
		if time.Now().After(deadline) {
			t.Fatal("condition was not met in time")
		}
		for _, n := range nodes {
			require.NoError(t, n.Step())
		}
		time.Sleep(time.Millisecond)
	}
}

func claimed(nodes ...*Node) func() bool {
	return func() bool {
		for _, n := range nodes {
			if n.Claimer().State() != addressclaim.StateClaimed {
				return false
			}
		}
		return true
	}
}

func TestNew(t *testing.T) {
	_, err := New(nil, Config{}, nil)
	assert.EqualError(t, err, "node needs link")

	_, err = New(&test_test.Link{}, Config{ExtraPGNs: make([]uint32, 60)}, nil)
	assert.ErrorIs(t, err, j1939.ErrInvalidPayload)

	_, err = New(&test_test.Link{}, Config{Claim: addressclaim.Config{Name: j1939.Name{ECUInstance: 9}}}, nil)
	assert.ErrorIs(t, err, j1939.ErrInvalidPayload)
}

func TestNode_StartInstallsFilters(t *testing.T) {
	link := &test_test.Link{}
	n, err := New(link, Config{
		PreferredAddress: 0x80,
		Claim:            addressclaim.Config{Name: nameLow},
		ExtraPGNs:        []uint32{0xfef6},
	}, nil)
	require.NoError(t, err)

	require.NoError(t, n.Start())

	assert.Equal(t, []j1939.Filter{
		j1939.FilterPGN(j1939.PGNAddressClaimed),
		j1939.FilterPGN(j1939.PGNRequest),
		j1939.FilterPGN(j1939.PGNTPConnectionManagement),
		j1939.FilterPGN(j1939.PGNTPDataTransfer),
		j1939.FilterPGN(j1939.PGNCommandedAddress),
		j1939.FilterPGN(0xfef6),
	}, link.Filters)
	require.Len(t, link.Sent, 1)
	assert.Equal(t, uint32(0x18EEFF80), link.Sent[0].ID)
	assert.Equal(t, addressclaim.StateClaiming, n.Claimer().State())
}

func TestNode_StepLinkFailure(t *testing.T) {
	n, err := New(&failingLink{}, Config{Claim: addressclaim.Config{Name: nameLow}}, nil)
	require.NoError(t, err)

	err = n.Step()
	assert.ErrorIs(t, err, j1939.ErrLinkFailure)
	assert.EqualError(t, err, "receive failed: socket closed: link failure")
}

type failingLink struct {
	test_test.Link
}

func (l *failingLink) ReceiveFrame() (j1939.Frame, bool, error) {
	return j1939.Frame{}, false, errors.New("socket closed")
}

func TestNode_ClaimContention(t *testing.T) {
	bus := loopback.NewBus()
	a := newTestNode(t, bus, nameLow, 0x20, nil)
	b := newTestNode(t, bus, nameHigh, 0x20, nil)

	require.NoError(t, a.Start())
	require.NoError(t, b.Start())

	stepUntil(t, claimed(a, b), a, b)

	assert.Equal(t, uint8(0x20), a.Claimer().Address())
	assert.Equal(t, uint8(128), b.Claimer().Address())

	nodes := b.Claimer().Nodes()
	require.Len(t, nodes, 1)
	assert.Equal(t, uint8(0x20), nodes[0].Address)
	assert.Equal(t, nameLow, nodes[0].Name)
}

func TestNode_SendUnicastAndBroadcast(t *testing.T) {
	bus := loopback.NewBus()
	received := &collector{}
	a := newTestNode(t, bus, nameLow, 0x80, nil)
	b := newTestNode(t, bus, nameHigh, 0x20, received)

	require.NoError(t, a.Start())
	require.NoError(t, b.Start())
	stepUntil(t, claimed(a, b), a, b)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() {
		done <- b.Run(ctx)
	}()

	unicast := make([]byte, 100)
	for i := range unicast {
		unicast[i] = byte(i)
	}
	pgn := j1939.PGNFromNumber(0xef00, 6, 0, 0x20) // proprietary A, PDU1
	err := a.Send(ctx, pgn, unicast)
	require.NoError(t, err)

	broadcast := []byte{0xaa, 0xaa, 0xaa, 0xaa, 0xaa, 0xaa, 0xaa, 0xaa, 0xaa, 0xaa, 0xaa}
	err = a.Send(ctx, j1939.PGNFromNumber(0xfef6, 6, 0, j1939.AddressGlobal), broadcast)
	require.NoError(t, err)

	err = a.Send(ctx, j1939.PGNFromNumber(0xfef6, 6, 0, j1939.AddressGlobal), []byte{1, 2, 3})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return received.count() >= 3
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	msg, ok := received.find(0xef00)
	require.True(t, ok)
	assert.Equal(t, unicast, msg.Data)
	assert.Equal(t, uint8(0x80), msg.PGN.Source)
	assert.Equal(t, uint8(0x20), msg.PGN.Destination())

	received.mu.Lock()
	defer received.mu.Unlock()
	require.Len(t, received.messages, 3)
	assert.Equal(t, broadcast, received.messages[1].Data)
	assert.Equal(t, []byte{1, 2, 3}, received.messages[2].Data)
}

func TestNode_CommandedAddress(t *testing.T) {
	bus := loopback.NewBus()
	a := newTestNode(t, bus, nameLow, 0x80, nil)
	b := newTestNode(t, bus, nameHigh, 0x20, nil)

	require.NoError(t, a.Start())
	require.NoError(t, b.Start())
	stepUntil(t, claimed(a, b), a, b)

	name := nameHigh.Bytes()
	command := append(name[:], 0x30)
	session, err := a.Engine().StartBroadcast(j1939.PGNFromNumber(j1939.PGNCommandedAddress, 6, 0, j1939.AddressGlobal), command)
	require.NoError(t, err)

	completed := false
	stepUntil(t, func() bool {
		if !completed {
			p, err := session.Drive()
			require.NoError(t, err)
			completed = p.Status == transport.StatusComplete
		}
		return completed && b.Claimer().Address() == 0x30 && b.Claimer().State() == addressclaim.StateClaimed
	}, a, b)
}

func TestNode_ReplayRecordedBAM(t *testing.T) {
	replay := rawlog.NewReplay(bytes.NewReader(test_test.LoadBytes(t, "claim_and_bam.raw")), rawlog.ReplayConfig{})
	received := &collector{}
	n, err := New(replay, Config{
		PreferredAddress: 0x20,
		Claim:            addressclaim.Config{Name: nameLow},
		ExtraPGNs:        []uint32{0xfef6},
	}, received)
	require.NoError(t, err)
	require.NoError(t, n.Start())

	err = n.Run(context.Background())

	assert.ErrorIs(t, err, io.EOF)
	assert.ErrorIs(t, err, j1939.ErrLinkFailure)
	msg, ok := received.find(0xfef6)
	require.True(t, ok)
	assert.Equal(t, bytes.Repeat([]byte{0xaa}, 18), msg.Data)
	assert.Equal(t, uint8(0x80), msg.PGN.Source)

	nodes := n.Claimer().Nodes()
	require.Len(t, nodes, 1)
	assert.Equal(t, uint8(0x80), nodes[0].Address)
	assert.Equal(t, uint64(0x510201095352d687), nodes[0].NAME)
	assert.Equal(t, uint16(666), nodes[0].Name.ManufacturerCode)
}
