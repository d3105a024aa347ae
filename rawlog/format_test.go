package rawlog

import (
	"github.com/aldas/go-j1939"
	test_test "github.com/aldas/go-j1939/test"
	"github.com/stretchr/testify/assert"
	"testing"
	"time"
)

func TestMarshalFrame(t *testing.T) {
	now := test_test.UTCTime(1665488842) // Tue Oct 11 2022 11:47:22 GMT+0000

	var testCases = []struct {
		name   string
		when   j1939.Frame
		expect string
	}{
		{
			name: "ok, PDU2 broadcast",
			when: j1939.Frame{
				Time:   now,
				ID:     0x18EEFF10,
				Length: 8,
				Data:   [8]byte{0x99, 0xad, 0x22, 0x22, 0x00, 0xa0, 0x64, 0xc0},
			},
			expect: "2022-10-11T11:47:22Z,6,60928,16,255,8,99,ad,22,22,00,a0,64,c0",
		},
		{
			name: "ok, PDU1 with destination",
			when: j1939.Frame{
				Time:   now,
				ID:     0x1CEC2080,
				Length: 3,
				Data:   [8]byte{0x10, 0x64, 0x00},
			},
			expect: "2022-10-11T11:47:22Z,7,60416,128,32,3,10,64,00",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expect, string(MarshalFrame(tc.when)))
		})
	}
}

func TestMarshalMessage(t *testing.T) {
	data := make([]byte, 18)
	for i := range data {
		data[i] = 0xaa
	}

	result := MarshalMessage(test_test.UTCTime(1665488842), j1939.PGNFromNumber(0xfef6, 6, 0x80, 0x20), data)

	assert.Equal(t, "2022-10-11T11:47:22Z,6,65270,128,255,18,aa,aa,aa,aa,aa,aa,aa,aa,aa,aa,aa,aa,aa,aa,aa,aa,aa,aa", string(result))
}

func TestUnmarshalString(t *testing.T) {
	var testCases = []struct {
		name        string
		when        string
		expect      j1939.Frame
		expectError string
	}{
		{
			name: "ok",
			when: "2022-10-11T11:47:22Z,6,60928,16,255,8,99,ad,22,22,00,a0,64,c0",
			expect: j1939.Frame{
				Time:   test_test.UTCTime(1665488842),
				ID:     0x18EEFF10,
				Length: 8,
				Data:   [8]byte{0x99, 0xad, 0x22, 0x22, 0x00, 0xa0, 0x64, 0xc0},
			},
		},
		{
			name: "ok, milliseconds and PDU1 destination",
			when: "2021-07-29T10:18:31.758Z,7,60416,128,32,3,10,64,00",
			expect: j1939.Frame{
				Time:   time.Unix(0, 1627553911758000000).In(time.UTC),
				ID:     0x1CEC2080,
				Length: 3,
				Data:   [8]byte{0x10, 0x64, 0x00},
			},
		},
		{
			name: "ok, no data",
			when: "2022-10-11T11:47:22Z,6,61184,1,2,0",
			expect: j1939.Frame{
				Time: test_test.UTCTime(1665488842),
				ID:   0x18EF0201,
			},
		},
		{
			name:        "nok, too few parts",
			when:        "2022-10-11T11:47:22Z,6,60928",
			expectError: "raw log line has fewer components than expected",
		},
		{
			name:        "nok, length mismatch",
			when:        "2022-10-11T11:47:22Z,6,60928,16,255,8,99",
			expectError: "raw log line data length does not match bytes count",
		},
		{
			name:        "nok, too long",
			when:        "2022-10-11T11:47:22Z,6,60928,16,255,9,01,02,03,04,05,06,07,08,09",
			expectError: "raw log line has more than 8 data bytes: invalid payload",
		},
		{
			name:        "nok, invalid priority",
			when:        "2022-10-11T11:47:22Z,8,60928,16,255,0",
			expectError: `raw log line invalid priority, err: strconv.ParseUint: parsing "8": value out of range`,
		},
		{
			name:        "nok, invalid time",
			when:        "yesterday,6,60928,16,255,0",
			expectError: `raw log line invalid time format, err: parsing time "yesterday" as "2006-01-02T15:04:05.999999999Z07:00": cannot parse "yesterday" as "2006"`,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			result, err := UnmarshalString(tc.when)

			assert.Equal(t, tc.expect, result)
			if tc.expectError != "" {
				assert.EqualError(t, err, tc.expectError)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
