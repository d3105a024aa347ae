package main

import (
	"context"
	"fmt"
	"github.com/aldas/go-j1939/config"
	"github.com/aldas/go-j1939/node"
	"github.com/sirupsen/logrus"
	"os"
)

// runtime is node running on configured link.
type runtime struct {
	config config.Config
	log    *logrus.Logger
	node   *node.Node
	close  closeFunc
}

func newRuntime(opts *globalOptions, extraPGNs []uint32, handler node.Handler) (*runtime, error) {
	c, err := opts.load()
	if err != nil {
		return nil, err
	}
	return newRuntimeFromConfig(c, extraPGNs, handler)
}

func newRuntimeFromConfig(c config.Config, extraPGNs []uint32, handler node.Handler) (*runtime, error) {
	c.ExtraPGNs = append(c.ExtraPGNs, extraPGNs...)
	if err := c.Validate(); err != nil {
		return nil, err
	}
	log, err := c.NewLogger()
	if err != nil {
		return nil, err
	}
	log.SetOutput(os.Stderr)

	link, closer, err := openLink(c, log)
	if err != nil {
		return nil, err
	}
	n, err := node.New(link, c.NodeConfig(log), handler)
	if err != nil {
		_ = closer()
		return nil, err
	}
	return &runtime{config: c, log: log, node: n, close: closer}, nil
}

// claim starts node and waits until preferred (or another) address is claimed.
func (r *runtime) claim(ctx context.Context) (uint8, error) {
	if err := r.node.Start(); err != nil {
		return 0, err
	}
	address, err := r.node.WaitClaimed(ctx)
	if err != nil {
		return 0, fmt.Errorf("address claim failed: %w", err)
	}
	r.log.WithField("address", address).Info("address claimed")
	return address, nil
}

func (r *runtime) Close() {
	if err := r.close(); err != nil {
		r.log.WithError(err).Warn("failed to close link")
	}
}
