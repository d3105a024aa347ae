package transport

import (
	"github.com/aldas/go-j1939"
	"github.com/stretchr/testify/assert"
	"testing"
)

func TestConnectionManagement_Marshal(t *testing.T) {
	var testCases = []struct {
		name   string
		given  connectionManagement
		expect [8]byte
	}{
		{
			name:   "RTS",
			given:  connectionManagement{control: controlRTS, size: 20, packets: 3, pgn: 0xfef6},
			expect: [8]byte{0x10, 0x14, 0x00, 0x03, 0xff, 0xf6, 0xfe, 0x00},
		},
		{
			name:   "BAM, max size",
			given:  connectionManagement{control: controlBAM, size: 1785, packets: 255, pgn: 0x1fef6},
			expect: [8]byte{0x20, 0xf9, 0x06, 0xff, 0xff, 0xf6, 0xfe, 0x01},
		},
		{
			name:   "CTS",
			given:  connectionManagement{control: controlCTS, packets: 2, nextPacket: 5, pgn: 0xfef6},
			expect: [8]byte{0x11, 0xff, 0xff, 0x02, 0x05, 0xf6, 0xfe, 0x00},
		},
		{
			name:   "EOM Ack",
			given:  connectionManagement{control: controlEOMAck, size: 20, packets: 3, pgn: 0xfef6},
			expect: [8]byte{0x13, 0x14, 0x00, 0x03, 0xff, 0xf6, 0xfe, 0x00},
		},
		{
			name:   "Abort",
			given:  connectionManagement{control: controlAbort, reason: j1939.AbortTimeout, pgn: 0xfef6},
			expect: [8]byte{0xff, 0x03, 0xff, 0xff, 0xff, 0xf6, 0xfe, 0x00},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			result := tc.given.marshal()
			assert.Equal(t, tc.expect, result)

			parsed, err := parseConnectionManagement(result[:])
			assert.NoError(t, err)
			assert.Equal(t, tc.given, parsed)
		})
	}
}

func TestParseConnectionManagement(t *testing.T) {
	var testCases = []struct {
		name        string
		when        []byte
		expect      connectionManagement
		expectError string
	}{
		{
			name:   "ok, RTS",
			when:   []byte{0x10, 0x09, 0x00, 0x02, 0x10, 0x00, 0xef, 0x00},
			expect: connectionManagement{control: controlRTS, size: 9, packets: 2, pgn: 0xef00},
		},
		{
			name:        "nok, too short",
			when:        []byte{0x10, 0x09, 0x00, 0x02},
			expectError: "TP.CM frame must be 8 bytes, got: 4: invalid payload",
		},
		{
			name:        "nok, unknown control byte",
			when:        []byte{0x12, 0x09, 0x00, 0x02, 0x10, 0x00, 0xef, 0x00},
			expectError: "unknown TP.CM control byte 0x12: invalid payload",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			result, err := parseConnectionManagement(tc.when)
			if tc.expectError != "" {
				assert.EqualError(t, err, tc.expectError)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tc.expect, result)
		})
	}
}

func TestDataPacket(t *testing.T) {
	data := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}

	assert.Equal(t, [8]byte{0x01, 1, 2, 3, 4, 5, 6, 7}, dataPacket(data, 1))
	assert.Equal(t, [8]byte{0x02, 8, 9, 10, 0xff, 0xff, 0xff, 0xff}, dataPacket(data, 2))
}

func TestPacketCount(t *testing.T) {
	assert.Equal(t, 2, packetCount(9))
	assert.Equal(t, 2, packetCount(14))
	assert.Equal(t, 3, packetCount(15))
	assert.Equal(t, 255, packetCount(MaxMessageSize))
}
