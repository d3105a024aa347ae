//go:build linux

package socketcan

import (
	"github.com/aldas/go-j1939"
	"github.com/stretchr/testify/assert"
	"golang.org/x/sys/unix"
	"testing"
)

func TestCanFilters(t *testing.T) {
	filters := []j1939.Filter{
		j1939.FilterPGN(j1939.PGNAddressClaimed),
		j1939.FilterPGN(0xfef6),
	}

	result := canFilters(filters)

	assert.Equal(t, []unix.CanFilter{
		{Id: 0x80EE0000, Mask: 0xC1FF0000},
		{Id: 0x80FEF600, Mask: 0xC1FFFF00},
	}, result)
}

// sudo ip link set can0 down && sudo /sbin/ip link set can0 up type can bitrate 250000

func xTestConnection(t *testing.T) {
	con, err := NewConnection("can0")
	if err != nil {
		assert.NoError(t, err)
		return
	}
	defer con.Close()

	f, ok, err := con.ReceiveFrame()
	assert.NoError(t, err)
	t.Logf("frame: %v, ok: %v", f, ok)
}
