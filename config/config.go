// Package config loads node configuration from YAML file.
package config

import (
	"errors"
	"fmt"
	"github.com/aldas/go-j1939"
	"github.com/aldas/go-j1939/addressclaim"
	"github.com/aldas/go-j1939/node"
	"github.com/aldas/go-j1939/transport"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
	"os"
	"time"
)

// Interface drivers
const (
	DriverSocketCAN = "socketcan"
	DriverCANBus    = "canbus"
	DriverSLCAN     = "slcan"
	DriverActisense = "actisense"
	DriverReplay    = "replay"
	DriverLoopback  = "loopback"
)

// Config is root of configuration file.
type Config struct {
	Interface InterfaceConfig `yaml:"interface"`
	Name      NameConfig      `yaml:"name"`
	Address   AddressConfig   `yaml:"address"`
	Transport TransportConfig `yaml:"transport"`
	// ExtraPGNs are parameter group numbers node receives in addition to network management and transport protocol
	ExtraPGNs []uint32 `yaml:"extra_pgns,omitempty"`
	LogLevel  string   `yaml:"log_level"`
}

// InterfaceConfig selects link driver and its parameters.
type InterfaceConfig struct {
	Driver string `yaml:"driver"`
	// Name is network interface name for socketcan and canbus drivers (i.e. `can0`)
	Name string `yaml:"name,omitempty"`
	// Port is serial device for slcan and actisense drivers (i.e. `/dev/ttyUSB0`)
	Port     string `yaml:"port,omitempty"`
	BaudRate int    `yaml:"baud_rate,omitempty"`
	// Bitrate is CAN bus bitrate set up by slcan driver
	Bitrate int `yaml:"bitrate,omitempty"`
	// ReplayFile is canboat RAW file read by replay driver
	ReplayFile string `yaml:"replay_file,omitempty"`
	Realtime   bool   `yaml:"realtime,omitempty"`
	// RecordFile, when set, records all sent and received frames in canboat RAW format
	RecordFile string `yaml:"record_file,omitempty"`
	// DebugRawBytes logs raw bytes read and written by serial drivers
	DebugRawBytes bool `yaml:"debug_raw_bytes,omitempty"`
}

// NameConfig is NAME of node.
type NameConfig struct {
	ArbitraryAddressCapable bool   `yaml:"arbitrary_address_capable"`
	IndustryGroup           uint8  `yaml:"industry_group"`
	VehicleSystemInstance   uint8  `yaml:"vehicle_system_instance"`
	VehicleSystem           uint8  `yaml:"vehicle_system"`
	Function                uint8  `yaml:"function"`
	FunctionInstance        uint8  `yaml:"function_instance"`
	ECUInstance             uint8  `yaml:"ecu_instance"`
	ManufacturerCode        uint16 `yaml:"manufacturer_code"`
	IdentityNumber          uint32 `yaml:"identity_number"`
}

// AddressConfig configures address claim.
type AddressConfig struct {
	Preferred         uint8         `yaml:"preferred"`
	RangeStart        uint8         `yaml:"range_start"`
	RangeEnd          uint8         `yaml:"range_end"`
	ContentionTimeout time.Duration `yaml:"contention_timeout"`
}

// TransportConfig configures transport protocol sessions.
type TransportConfig struct {
	PacketsPerCTS uint8         `yaml:"packets_per_cts"`
	MaxSessions   int           `yaml:"max_sessions"`
	T1            time.Duration `yaml:"t1"`
	T2            time.Duration `yaml:"t2"`
	T3            time.Duration `yaml:"t3"`
	T4            time.Duration `yaml:"t4"`
	Th            time.Duration `yaml:"th"`
	BAMInterval   time.Duration `yaml:"bam_interval"`
}

// Default returns configuration with protocol default values.
func Default() Config {
	return Config{
		Interface: InterfaceConfig{
			Driver:   DriverSocketCAN,
			Name:     "can0",
			BaudRate: 115200,
			Bitrate:  250000,
		},
		Name: NameConfig{
			ArbitraryAddressCapable: true,
			IndustryGroup:           j1939.IndustryGroupIndustrial,
		},
		Address: AddressConfig{
			Preferred:         addressclaim.DefaultAddressRangeStart,
			RangeStart:        addressclaim.DefaultAddressRangeStart,
			RangeEnd:          addressclaim.DefaultAddressRangeEnd,
			ContentionTimeout: addressclaim.DefaultContentionTimeout,
		},
		Transport: TransportConfig{
			PacketsPerCTS: 1,
			MaxSessions:   transport.DefaultMaxSessions,
			T1:            transport.DefaultT1,
			T2:            transport.DefaultT2,
			T3:            transport.DefaultT3,
			T4:            transport.DefaultT4,
			Th:            transport.DefaultTh,
			BAMInterval:   transport.DefaultBAMInterval,
		},
		LogLevel: "info",
	}
}

// Load reads configuration from YAML file. Fields missing from file keep their default values.
func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(b)
}

// Parse parses YAML configuration over default values and validates result.
func Parse(b []byte) (Config, error) {
	c := Default()
	if err := yaml.Unmarshal(b, &c); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Marshal returns configuration as YAML.
func (c Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

// Validate checks configuration values.
func (c Config) Validate() error {
	switch c.Interface.Driver {
	case DriverSocketCAN, DriverCANBus:
		if c.Interface.Name == "" {
			return fmt.Errorf("interface name is required for %v driver", c.Interface.Driver)
		}
	case DriverSLCAN, DriverActisense:
		if c.Interface.Port == "" {
			return fmt.Errorf("serial port is required for %v driver", c.Interface.Driver)
		}
	case DriverReplay:
		if c.Interface.ReplayFile == "" {
			return errors.New("replay file is required for replay driver")
		}
	case DriverLoopback:
	default:
		return fmt.Errorf("unknown interface driver: %q", c.Interface.Driver)
	}

	if err := c.J1939Name().Validate(); err != nil {
		return err
	}
	if c.Address.Preferred >= j1939.AddressNull {
		return fmt.Errorf("preferred address %v is not valid: %w", c.Address.Preferred, j1939.ErrInvalidPayload)
	}
	if c.Address.RangeStart > c.Address.RangeEnd || c.Address.RangeEnd >= j1939.AddressNull {
		return fmt.Errorf("invalid address range %v-%v: %w", c.Address.RangeStart, c.Address.RangeEnd, j1939.ErrInvalidPayload)
	}
	if len(c.ExtraPGNs) > node.MaxExtraPGNs {
		return fmt.Errorf("too many extra PGNs %v, max %v: %w", len(c.ExtraPGNs), node.MaxExtraPGNs, j1939.ErrInvalidPayload)
	}
	for _, pgn := range c.ExtraPGNs {
		if pgn > 0x3ffff {
			return fmt.Errorf("PGN %v does not fit into 18 bits: %w", pgn, j1939.ErrInvalidPayload)
		}
	}
	if err := c.TransportConfig(nil).Validate(); err != nil {
		return err
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	return nil
}

// J1939Name converts NAME configuration.
func (c Config) J1939Name() j1939.Name {
	n := c.Name
	return j1939.Name{
		ArbitraryAddressCapable: n.ArbitraryAddressCapable,
		IndustryGroup:           n.IndustryGroup,
		VehicleSystemInstance:   n.VehicleSystemInstance,
		VehicleSystem:           n.VehicleSystem,
		Function:                n.Function,
		FunctionInstance:        n.FunctionInstance,
		ECUInstance:             n.ECUInstance,
		ManufacturerCode:        n.ManufacturerCode,
		IdentityNumber:          n.IdentityNumber,
	}
}

// ClaimConfig converts address configuration to address claimer configuration.
func (c Config) ClaimConfig(log *logrus.Logger) addressclaim.Config {
	return addressclaim.Config{
		Name:              c.J1939Name(),
		ContentionTimeout: c.Address.ContentionTimeout,
		AddressRangeStart: c.Address.RangeStart,
		AddressRangeEnd:   c.Address.RangeEnd,
		Logger:            log,
	}
}

// TransportConfig converts transport configuration to transport engine configuration.
func (c Config) TransportConfig(log *logrus.Logger) transport.Config {
	t := c.Transport
	return transport.Config{
		PacketsPerCTS: t.PacketsPerCTS,
		MaxSessions:   t.MaxSessions,
		T1:            t.T1,
		T2:            t.T2,
		T3:            t.T3,
		T4:            t.T4,
		Th:            t.Th,
		BAMInterval:   t.BAMInterval,
		Logger:        log,
	}
}

// NodeConfig converts configuration to node configuration.
func (c Config) NodeConfig(log *logrus.Logger) node.Config {
	return node.Config{
		PreferredAddress: c.Address.Preferred,
		Claim:            c.ClaimConfig(log),
		Transport:        c.TransportConfig(log),
		ExtraPGNs:        append([]uint32{}, c.ExtraPGNs...),
		Logger:           log,
	}
}

// NewLogger creates logger with configured level.
func (c Config) NewLogger() (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}
	log := logrus.New()
	log.SetLevel(level)
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return log, nil
}
