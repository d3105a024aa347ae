//go:build linux

package canbus

import (
	"github.com/aldas/go-j1939"
	"github.com/brutella/can"
	"github.com/pkg/errors"
	"net"
)

// OpenInterface opens SocketCAN network interface (for example `can0`) through brutella/can.
func OpenInterface(name string, config Config) (*Adapter, error) {
	iface, err := net.InterfaceByName(name)
	if err != nil {
		return nil, &j1939.LinkError{Err: errors.Wrapf(err, "could not find network interface %v", name)}
	}
	conn, err := can.NewReadWriteCloserForInterface(iface)
	if err != nil {
		return nil, &j1939.LinkError{Err: errors.Wrapf(err, "unable to open CAN bus %v", name)}
	}
	return NewAdapter(conn, config), nil
}
