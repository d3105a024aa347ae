package config

import (
	"github.com/aldas/go-j1939"
	"github.com/aldas/go-j1939/addressclaim"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"os"
	"path/filepath"
	"testing"
	"time"
)

const exampleConfig = `
interface:
  driver: slcan
  port: /dev/ttyUSB0
  bitrate: 500000
name:
  arbitrary_address_capable: false
  industry_group: 5
  vehicle_system_instance: 1
  vehicle_system: 1
  function: 1
  function_instance: 1
  ecu_instance: 1
  manufacturer_code: 666
  identity_number: 1234567
address:
  preferred: 0x80
  contention_timeout: 300ms
transport:
  packets_per_cts: 16
  t3: 2s
extra_pgns: [0xfef6, 65262]
log_level: debug
`

func TestParse(t *testing.T) {
	c, err := Parse([]byte(exampleConfig))
	require.NoError(t, err)

	assert.Equal(t, DriverSLCAN, c.Interface.Driver)
	assert.Equal(t, "/dev/ttyUSB0", c.Interface.Port)
	assert.Equal(t, 500000, c.Interface.Bitrate)
	assert.Equal(t, 115200, c.Interface.BaudRate) // default
	assert.Equal(t, uint8(0x80), c.Address.Preferred)
	assert.Equal(t, uint8(128), c.Address.RangeStart)
	assert.Equal(t, 300*time.Millisecond, c.Address.ContentionTimeout)
	assert.Equal(t, uint8(16), c.Transport.PacketsPerCTS)
	assert.Equal(t, 2*time.Second, c.Transport.T3)
	assert.Equal(t, 750*time.Millisecond, c.Transport.T1)
	assert.Equal(t, []uint32{0xfef6, 0xfeee}, c.ExtraPGNs)

	assert.Equal(t, j1939.Name{
		IndustryGroup:         j1939.IndustryGroupIndustrial,
		VehicleSystemInstance: 1,
		VehicleSystem:         1,
		Function:              1,
		FunctionInstance:      1,
		ECUInstance:           1,
		ManufacturerCode:      666,
		IdentityNumber:        1234567,
	}, c.J1939Name())
}

func TestParse_Errors(t *testing.T) {
	var testCases = []struct {
		name        string
		when        string
		expectError string
	}{
		{
			name:        "nok, invalid yaml",
			when:        "interface: [",
			expectError: "failed to parse config: yaml:",
		},
		{
			name:        "nok, unknown driver",
			when:        "interface: {driver: usb}",
			expectError: `unknown interface driver: "usb"`,
		},
		{
			name:        "nok, serial port missing",
			when:        "interface: {driver: actisense}",
			expectError: "serial port is required for actisense driver",
		},
		{
			name:        "nok, replay file missing",
			when:        "interface: {driver: replay}",
			expectError: "replay file is required for replay driver",
		},
		{
			name:        "nok, NAME out of range",
			when:        "name: {industry_group: 8}",
			expectError: "NAME industry group is out of range: invalid payload",
		},
		{
			name:        "nok, preferred address is null",
			when:        "address: {preferred: 254}",
			expectError: "preferred address 254 is not valid: invalid payload",
		},
		{
			name:        "nok, address range",
			when:        "address: {range_start: 200, range_end: 100}",
			expectError: "invalid address range 200-100: invalid payload",
		},
		{
			name:        "nok, PGN too large",
			when:        "extra_pgns: [0x40000]",
			expectError: "PGN 262144 does not fit into 18 bits: invalid payload",
		},
		{
			name:        "nok, negative timer",
			when:        "transport: {t1: -1s}",
			expectError: "transport timers can not be negative: invalid payload",
		},
		{
			name:        "nok, log level",
			when:        "log_level: loud",
			expectError: `invalid log level: not a valid logrus Level: "loud"`,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.when))
			assert.ErrorContains(t, err, tc.expectError)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "j1939.yaml")
	require.NoError(t, os.WriteFile(path, []byte(exampleConfig), 0o600))

	c, err := Load(path)

	assert.NoError(t, err)
	assert.Equal(t, DriverSLCAN, c.Interface.Driver)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))

	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestConfig_MarshalRoundTrip(t *testing.T) {
	c := Default()
	c.ExtraPGNs = []uint32{0xfef6}

	b, err := c.Marshal()
	require.NoError(t, err)

	result, err := Parse(b)
	require.NoError(t, err)
	assert.Equal(t, c, result)
}

func TestConfig_NodeConfig(t *testing.T) {
	c, err := Parse([]byte(exampleConfig))
	require.NoError(t, err)
	log := logrus.New()

	nc := c.NodeConfig(log)

	assert.Equal(t, uint8(0x80), nc.PreferredAddress)
	assert.Equal(t, []uint32{0xfef6, 0xfeee}, nc.ExtraPGNs)
	assert.Equal(t, addressclaim.Config{
		Name:              c.J1939Name(),
		ContentionTimeout: 300 * time.Millisecond,
		AddressRangeStart: 128,
		AddressRangeEnd:   247,
		Logger:            log,
	}, nc.Claim)
	assert.Equal(t, uint8(16), nc.Transport.PacketsPerCTS)
	assert.Equal(t, 2*time.Second, nc.Transport.T3)
	assert.Same(t, log, nc.Transport.Logger)
}

func TestConfig_NewLogger(t *testing.T) {
	c := Default()
	c.LogLevel = "trace"

	log, err := c.NewLogger()

	require.NoError(t, err)
	assert.Equal(t, logrus.TraceLevel, log.GetLevel())
}
