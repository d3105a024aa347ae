package main

import (
	"context"
	"fmt"
	"github.com/aldas/go-j1939"
	"github.com/aldas/go-j1939/node"
	"github.com/aldas/go-j1939/transport"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"io"
	"os"
	"os/signal"
	"syscall"
)

func newSendCmd(opts *globalOptions) *cobra.Command {
	var destination int
	var priority uint8
	var repeat int
	var showProgress bool

	cmd := &cobra.Command{
		Use:   "send <pgn> <hex data>",
		Short: "Claim address and send parameter group (single frame, RTS/CTS or BAM)",
		Example: `  j1939ctl send --driver socketcan -i can0 0xfef6 "ff ff 46 ff ff ff ff ff"
  j1939ctl send --driver slcan -p /dev/ttyUSB0 --dest 0x20 0xef00 "$(head -c 100 /dev/zero | xxd -p)"`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			pgns, err := parsePGNs(args[:1])
			if err != nil {
				return err
			}
			if len(pgns) != 1 {
				return fmt.Errorf("expected single PGN, got: %q", args[0])
			}
			data, err := parseHexData(args[1])
			if err != nil {
				return err
			}
			if destination < 0 || destination > int(j1939.AddressGlobal) {
				return fmt.Errorf("destination must be in range 0-255, got: %v", destination)
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			rt, err := newRuntime(opts, nil, nil)
			if err != nil {
				return err
			}
			defer rt.Close()

			source, err := rt.claim(ctx)
			if err != nil {
				return err
			}

			pgn := j1939.PGNFromNumber(pgns[0], priority, source, uint8(destination))
			var out io.Writer = io.Discard
			if showProgress {
				out = os.Stderr
			}
			for i := 0; i < repeat; i++ {
				if err := sendOnce(ctx, rt.node, pgn, uint8(destination), data, out); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&destination, "dest", "d", int(j1939.AddressGlobal), "destination address, 255 is global (BAM for payloads over 8 bytes)")
	cmd.Flags().Uint8Var(&priority, "priority", 6, "message priority 0-7")
	cmd.Flags().IntVar(&repeat, "repeat", 1, "how many times message is sent")
	cmd.Flags().BoolVar(&showProgress, "progress", true, "show transfer progress bar for transport protocol transfers")
	return cmd
}

// sendOnce sends single frame directly or starts transport session and drives it to completion. Session
// destination is separate from PGN as PDU2 parameter groups can be sent to specific node with RTS/CTS.
func sendOnce(ctx context.Context, n *node.Node, pgn j1939.PGN, destination uint8, data []byte, progressOut io.Writer) error {
	if len(data) <= j1939.MaxFrameDataLength {
		return n.Engine().Send(pgn, data)
	}

	var session *transport.Session
	var err error
	if destination == j1939.AddressGlobal {
		session, err = n.Engine().StartBroadcast(pgn, data)
	} else {
		session, err = n.Engine().StartUnicast(pgn, destination, data)
	}
	if err != nil {
		return err
	}

	bar := progressbar.NewOptions(session.Packets(),
		progressbar.OptionSetWriter(progressOut),
		progressbar.OptionSetDescription(fmt.Sprintf("pgn %v to %v", pgn.Number(), destination)),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)
	err = n.Drive(ctx, session, func(sent int, total int) {
		_ = bar.Set(sent)
	})
	if err != nil {
		return fmt.Errorf("transfer failed: %w", err)
	}
	return bar.Finish()
}
