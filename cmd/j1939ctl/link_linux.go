//go:build linux

package main

import (
	"github.com/aldas/go-j1939"
	"github.com/aldas/go-j1939/canbus"
	"github.com/aldas/go-j1939/config"
	"github.com/aldas/go-j1939/socketcan"
	"github.com/sirupsen/logrus"
)

func openInterfaceLink(ic config.InterfaceConfig, log *logrus.Logger) (j1939.Link, func() error, error) {
	if ic.Driver == config.DriverSocketCAN {
		conn, err := socketcan.NewConnection(ic.Name)
		if err != nil {
			return nil, nil, err
		}
		return conn, conn.Close, nil
	}

	adapter, err := canbus.OpenInterface(ic.Name, canbus.Config{Logger: log})
	if err != nil {
		return nil, nil, err
	}
	go func() {
		if err := adapter.Run(); err != nil {
			log.WithError(err).Debug("can bus read loop ended")
		}
	}()
	return adapter, adapter.Close, nil
}
