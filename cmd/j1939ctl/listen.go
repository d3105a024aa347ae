package main

import (
	"context"
	"errors"
	"fmt"
	"github.com/aldas/go-j1939"
	"github.com/aldas/go-j1939/config"
	"github.com/spf13/cobra"
	"io"
	"os"
	"os/signal"
	"syscall"
)

func newListenCmd(opts *globalOptions) *cobra.Command {
	var pgnFlags []string
	var output string

	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Claim address and print received messages (transport protocol transfers are reassembled)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return listen(cmd.Context(), opts, pgnFlags, output)
		},
	}
	cmd.Flags().StringSliceVar(&pgnFlags, "pgn", nil, "PGNs to receive in addition to network management and transport protocol")
	cmd.Flags().StringVarP(&output, "output", "o", outputText, "output format (text, json, raw)")
	return cmd
}

func newReplayCmd(opts *globalOptions) *cobra.Command {
	var pgnFlags []string
	var output string
	var realtime bool

	cmd := &cobra.Command{
		Use:   "replay <raw log file>",
		Short: "Replay recorded canboat RAW log through node and print received messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.loadWith(func(c *config.Config) {
				c.Interface.Driver = config.DriverReplay
				c.Interface.ReplayFile = args[0]
				c.Interface.Realtime = realtime
			})
			if err != nil {
				return err
			}
			return listenConfig(cmd.Context(), c, pgnFlags, output)
		},
	}
	cmd.Flags().StringSliceVar(&pgnFlags, "pgn", nil, "PGNs to receive in addition to network management and transport protocol")
	cmd.Flags().StringVarP(&output, "output", "o", outputText, "output format (text, json, raw)")
	cmd.Flags().BoolVar(&realtime, "realtime", false, "replay frames with recorded timing")
	return cmd
}

func listen(ctx context.Context, opts *globalOptions, pgnFlags []string, output string) error {
	c, err := opts.load()
	if err != nil {
		return err
	}
	return listenConfig(ctx, c, pgnFlags, output)
}

func listenConfig(ctx context.Context, c config.Config, pgnFlags []string, output string) error {
	extra, err := parsePGNs(pgnFlags)
	if err != nil {
		return err
	}
	printer, err := newMessagePrinter(os.Stdout, output)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rt, err := newRuntimeFromConfig(c, extra, printer)
	if err != nil {
		return err
	}
	defer rt.Close()

	if err := rt.node.Start(); err != nil {
		return err
	}
	err = rt.node.Run(ctx)
	fmt.Fprintf(os.Stderr, "# received %v messages\n", printer.Count())
	switch {
	case err == nil, errors.Is(err, context.Canceled), errors.Is(err, io.EOF):
		return nil
	case errors.Is(err, j1939.ErrClaimDenied):
		return fmt.Errorf("could not claim address: %w", err)
	}
	return err
}
