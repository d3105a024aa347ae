package main

import (
	"bytes"
	"context"
	"github.com/aldas/go-j1939"
	"github.com/aldas/go-j1939/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"strings"
	"testing"
	"time"
)

func TestSimulate(t *testing.T) {
	c := config.Default()
	c.Interface.Driver = config.DriverLoopback
	c.Address.ContentionTimeout = 20 * time.Millisecond
	c.Transport.PacketsPerCTS = 16
	require.NoError(t, c.Validate())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	out := new(bytes.Buffer)

	err := simulate(ctx, c, simulateOptions{times: 2, size: 100, bamSize: 18, output: outputRaw}, j1939.NewDiscardLogger(), out)

	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], ",6,65270,128,255,100,ff,ff,46,ff")
	assert.Contains(t, lines[1], ",6,65270,128,255,100,ff,ff,47,ff")
	assert.Contains(t, lines[2], ",6,65270,128,255,18,aa,aa")
}

func TestSimulate_SingleFrames(t *testing.T) {
	c := config.Default()
	c.Address.ContentionTimeout = 20 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	out := new(bytes.Buffer)

	err := simulate(ctx, c, simulateOptions{times: 6, size: 8, output: outputText}, j1939.NewDiscardLogger(), out)

	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 6)
	assert.Contains(t, lines[5], "pgn: 65270 (0xFEF6), prio: 6, src: 128, dst: 255, len: 8, FF FF 4B FF FF FF FF FF")
}

func TestSimulate_InvalidSize(t *testing.T) {
	err := simulate(context.Background(), config.Default(), simulateOptions{size: 0}, j1939.NewDiscardLogger(), new(bytes.Buffer))

	assert.ErrorIs(t, err, j1939.ErrInvalidPayload)
}
