package transport

import (
	"fmt"
	"github.com/aldas/go-j1939"
	"github.com/sirupsen/logrus"
	"time"
)

// Default timer values (J1939-21)
const (
	// DefaultT1 is maximum time receiver waits between data packets (also BAM receive timeout).
	DefaultT1 = 750 * time.Millisecond
	// DefaultT2 is maximum time receiver waits for data after sending CTS.
	DefaultT2 = 1250 * time.Millisecond
	// DefaultT3 is maximum time sender waits for CTS after RTS or after last packet of burst.
	DefaultT3 = 1250 * time.Millisecond
	// DefaultT4 is maximum time sender waits for EOM Ack after last data packet.
	DefaultT4 = 1250 * time.Millisecond
	// DefaultTh is maximum time sender waits for next CTS after receiving hold (CTS with 0 packets).
	DefaultTh = 1050 * time.Millisecond
	// DefaultBAMInterval is time caller must wait between BAM data packets.
	DefaultBAMInterval = 50 * time.Millisecond

	// DefaultMaxSessions is default limit of simultaneous inbound sessions.
	DefaultMaxSessions = 32
)

// Config configures Engine. Zero values are replaced with defaults.
type Config struct {
	// PacketsPerCTS is how many packets receiver grants with single CTS. Defaults to 1.
	PacketsPerCTS uint8
	// MaxSessions limits number of simultaneous inbound sessions. RTS over limit is aborted with "resources" reason.
	MaxSessions int

	T1          time.Duration
	T2          time.Duration
	T3          time.Duration
	T4          time.Duration
	Th          time.Duration
	BAMInterval time.Duration

	Logger *logrus.Logger
}

func (c Config) withDefaults() Config {
	if c.PacketsPerCTS == 0 {
		c.PacketsPerCTS = 1
	}
	if c.MaxSessions <= 0 {
		c.MaxSessions = DefaultMaxSessions
	}
	durations := []struct {
		value    *time.Duration
		fallback time.Duration
	}{
		{value: &c.T1, fallback: DefaultT1},
		{value: &c.T2, fallback: DefaultT2},
		{value: &c.T3, fallback: DefaultT3},
		{value: &c.T4, fallback: DefaultT4},
		{value: &c.Th, fallback: DefaultTh},
		{value: &c.BAMInterval, fallback: DefaultBAMInterval},
	}
	for _, d := range durations {
		if *d.value <= 0 {
			*d.value = d.fallback
		}
	}
	if c.Logger == nil {
		c.Logger = j1939.NewDiscardLogger()
	}
	return c
}

// Validate checks that configured values are usable.
func (c Config) Validate() error {
	if c.MaxSessions < 0 {
		return fmt.Errorf("max sessions can not be negative: %w", j1939.ErrInvalidPayload)
	}
	if c.T1 < 0 || c.T2 < 0 || c.T3 < 0 || c.T4 < 0 || c.Th < 0 || c.BAMInterval < 0 {
		return fmt.Errorf("transport timers can not be negative: %w", j1939.ErrInvalidPayload)
	}
	return nil
}
