package j1939_test

import (
	"github.com/aldas/go-j1939"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"testing"
)

var exampleName = j1939.Name{
	IndustryGroup:         j1939.IndustryGroupIndustrial,
	VehicleSystemInstance: 1,
	VehicleSystem:         1,
	Function:              1,
	FunctionInstance:      1,
	ECUInstance:           1,
	ManufacturerCode:      666,
	IdentityNumber:        1234567,
}

func TestName_Uint64(t *testing.T) {
	assert.Equal(t, uint64(0x510201095352D687), exampleName.Uint64())
	assert.Equal(t, [8]byte{0x87, 0xD6, 0x52, 0x53, 0x09, 0x01, 0x02, 0x51}, exampleName.Bytes())

	aac := exampleName
	aac.ArbitraryAddressCapable = true
	assert.Equal(t, uint64(0xD10201095352D687), aac.Uint64())
}

func TestParseName(t *testing.T) {
	var testCases = []struct {
		name        string
		when        []byte
		expect      j1939.Name
		expectError string
	}{
		{
			name:   "ok",
			when:   []byte{0x87, 0xD6, 0x52, 0x53, 0x09, 0x01, 0x02, 0x51},
			expect: exampleName,
		},
		{
			name: "ok, all bits set",
			when: []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff},
			expect: j1939.Name{
				ArbitraryAddressCapable: true,
				IndustryGroup:           7,
				VehicleSystemInstance:   15,
				VehicleSystem:           127,
				Reserved:                1,
				Function:                255,
				FunctionInstance:        31,
				ECUInstance:             7,
				ManufacturerCode:        2047,
				IdentityNumber:          2097151,
			},
		},
		{
			name:        "nok, short",
			when:        []byte{0x87, 0xD6},
			expectError: "NAME must be 8 bytes, got: 2: invalid payload",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			result, err := j1939.ParseName(tc.when)

			if diff := cmp.Diff(tc.expect, result); diff != "" {
				t.Errorf("ParseName() mismatch (-want +got):\n%s", diff)
			}
			if tc.expectError != "" {
				assert.EqualError(t, err, tc.expectError)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestName_RoundTrip(t *testing.T) {
	for _, v := range []uint64{0, 1, 0x8000000000000010, 0x510201095352D687, 0xFFFFFFFFFFFFFFFF} {
		n := j1939.NameFromUint64(v)
		assert.Equal(t, v, n.Uint64(), "value: %016X", v)
		b := n.Bytes()
		parsed, err := j1939.ParseName(b[:])
		assert.NoError(t, err)
		assert.Equal(t, n, parsed)
	}
}

func TestName_Validate(t *testing.T) {
	var testCases = []struct {
		name        string
		when        func(n *j1939.Name)
		expectError string
	}{
		{
			name: "ok",
			when: func(n *j1939.Name) {},
		},
		{
			name:        "nok, industry group",
			when:        func(n *j1939.Name) { n.IndustryGroup = 8 },
			expectError: "NAME industry group is out of range: invalid payload",
		},
		{
			name:        "nok, manufacturer code",
			when:        func(n *j1939.Name) { n.ManufacturerCode = 2048 },
			expectError: "NAME manufacturer code is out of range: invalid payload",
		},
		{
			name:        "nok, identity number",
			when:        func(n *j1939.Name) { n.IdentityNumber = 1 << 21 },
			expectError: "NAME identity number is out of range: invalid payload",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			n := exampleName
			tc.when(&n)

			err := n.Validate()
			if tc.expectError != "" {
				assert.EqualError(t, err, tc.expectError)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
