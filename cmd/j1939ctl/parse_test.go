package main

import (
	"github.com/stretchr/testify/assert"
	"testing"
)

func TestParsePGNs(t *testing.T) {
	var testCases = []struct {
		name        string
		when        []string
		expect      []uint32
		expectError string
	}{
		{
			name:   "ok, hex and decimal",
			when:   []string{"0xfef6,65262", " 0xEA00 "},
			expect: []uint32{0xfef6, 0xfeee, 0xea00},
		},
		{
			name:   "ok, empty",
			when:   []string{""},
			expect: []uint32{},
		},
		{
			name:        "nok, too large",
			when:        []string{"0x40000"},
			expectError: `invalid PGN "0x40000": strconv.ParseUint: parsing "0x40000": value out of range`,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			result, err := parsePGNs(tc.when)
			if tc.expectError != "" {
				assert.EqualError(t, err, tc.expectError)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tc.expect, result)
		})
	}
}

func TestParseHexData(t *testing.T) {
	result, err := parseHexData("ff ff:46,FF 0xff")
	assert.NoError(t, err)
	assert.Equal(t, []byte{0xff, 0xff, 0x46, 0xff, 0xff}, result)

	_, err = parseHexData("abc")
	assert.EqualError(t, err, "invalid hex data: encoding/hex: odd length hex string")
}
