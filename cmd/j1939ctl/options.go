package main

import (
	"github.com/aldas/go-j1939/config"
	"github.com/spf13/cobra"
)

// globalOptions are flags shared by all commands. Flags override values loaded from config file.
type globalOptions struct {
	configPath string
	driver     string
	iface      string
	port       string
	baudRate   int
	address    int
	logLevel   string
	record     string
	debugRaw   bool
}

func (o *globalOptions) bind(cmd *cobra.Command) {
	f := cmd.PersistentFlags()
	f.StringVarP(&o.configPath, "config", "c", "", "path to YAML config file")
	f.StringVar(&o.driver, "driver", "", "interface driver (socketcan, canbus, slcan, actisense, replay, loopback)")
	f.StringVarP(&o.iface, "interface", "i", "", "CAN network interface for socketcan and canbus drivers (i.e. can0)")
	f.StringVarP(&o.port, "port", "p", "", "serial device for slcan and actisense drivers (i.e. /dev/ttyUSB0)")
	f.IntVar(&o.baudRate, "baud", 0, "serial device baud rate")
	f.IntVarP(&o.address, "address", "a", -1, "preferred source address")
	f.StringVar(&o.logLevel, "log-level", "", "log level (trace, debug, info, warn, error)")
	f.StringVar(&o.record, "record", "", "record all sent and received frames to file in canboat RAW format")
	f.BoolVar(&o.debugRaw, "debug-raw", false, "log raw bytes read from and written to serial devices")
}

func (o *globalOptions) load() (config.Config, error) {
	return o.loadWith(nil)
}

// loadWith loads config file, applies flag overrides and then modify before validating result.
func (o *globalOptions) loadWith(modify func(c *config.Config)) (config.Config, error) {
	c := config.Default()
	if o.configPath != "" {
		loaded, err := config.Load(o.configPath)
		if err != nil {
			return config.Config{}, err
		}
		c = loaded
	}
	if o.driver != "" {
		c.Interface.Driver = o.driver
	}
	if o.iface != "" {
		c.Interface.Name = o.iface
	}
	if o.port != "" {
		c.Interface.Port = o.port
	}
	if o.baudRate > 0 {
		c.Interface.BaudRate = o.baudRate
	}
	if o.address >= 0 {
		c.Address.Preferred = uint8(o.address)
	}
	if o.logLevel != "" {
		c.LogLevel = o.logLevel
	}
	if o.record != "" {
		c.Interface.RecordFile = o.record
	}
	if o.debugRaw {
		c.Interface.DebugRawBytes = true
	}
	if modify != nil {
		modify(&c)
	}
	if err := c.Validate(); err != nil {
		return config.Config{}, err
	}
	return c, nil
}
