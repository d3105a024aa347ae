package main

import (
	"fmt"
	"github.com/aldas/go-j1939"
	"github.com/aldas/go-j1939/actisense"
	"github.com/aldas/go-j1939/config"
	"github.com/aldas/go-j1939/loopback"
	"github.com/aldas/go-j1939/rawlog"
	"github.com/aldas/go-j1939/slcan"
	"github.com/sirupsen/logrus"
	"github.com/tarm/serial"
	"os"
	"time"
)

type closeFunc func() error

// openLink opens link configured by interface configuration. Returned link logs frames at trace level and, when
// configured, records traffic to RAW file.
func openLink(c config.Config, log *logrus.Logger) (j1939.Link, closeFunc, error) {
	var link j1939.Link
	var closers []func() error

	ic := c.Interface
	switch ic.Driver {
	case config.DriverSocketCAN, config.DriverCANBus:
		l, closer, err := openInterfaceLink(ic, log)
		if err != nil {
			return nil, nil, err
		}
		link = l
		closers = append(closers, closer)
	case config.DriverSLCAN:
		d, err := slcan.Open(ic.Port, ic.BaudRate, slcan.Config{
			Bitrate:                 ic.Bitrate,
			DebugLogRawMessageBytes: ic.DebugRawBytes,
			Logger:                  log,
		})
		if err != nil {
			return nil, nil, err
		}
		link = d
		closers = append(closers, d.Close)
	case config.DriverActisense:
		port, err := serial.OpenPort(&serial.Config{Name: ic.Port, Baud: ic.BaudRate, Size: 8})
		if err != nil {
			return nil, nil, fmt.Errorf("could not open serial port %v: %w", ic.Port, err)
		}
		d := actisense.NewRawASCIIDevice(port, actisense.Config{
			ReceiveDataTimeout:      5 * time.Second,
			DebugLogRawMessageBytes: ic.DebugRawBytes,
			Logger:                  log,
		})
		if err := d.Initialize(); err != nil {
			_ = port.Close()
			return nil, nil, err
		}
		link = d
		closers = append(closers, d.Close)
	case config.DriverReplay:
		f, err := os.Open(ic.ReplayFile)
		if err != nil {
			return nil, nil, fmt.Errorf("could not open replay file: %w", err)
		}
		r := rawlog.NewReplay(f, rawlog.ReplayConfig{Realtime: ic.Realtime, Logger: log})
		link = r
		closers = append(closers, r.Close)
	case config.DriverLoopback:
		bus := loopback.NewBus()
		link = bus.Open()
		closers = append(closers, bus.Close)
	default:
		return nil, nil, fmt.Errorf("unknown interface driver: %q", ic.Driver)
	}

	if ic.RecordFile != "" {
		f, err := os.Create(ic.RecordFile)
		if err != nil {
			closeAll(closers)
			return nil, nil, fmt.Errorf("could not create record file: %w", err)
		}
		link = rawlog.NewRecorder(link, f)
		closers = append(closers, f.Close)
	}

	return j1939.NewLoggedLink(link, log), func() error { return closeAll(closers) }, nil
}

func closeAll(closers []func() error) error {
	var firstErr error
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
