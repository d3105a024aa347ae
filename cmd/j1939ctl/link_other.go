//go:build !linux

package main

import (
	"fmt"
	"github.com/aldas/go-j1939"
	"github.com/aldas/go-j1939/config"
	"github.com/sirupsen/logrus"
)

func openInterfaceLink(ic config.InterfaceConfig, _ *logrus.Logger) (j1939.Link, func() error, error) {
	return nil, nil, fmt.Errorf("%v driver is supported only on linux", ic.Driver)
}
