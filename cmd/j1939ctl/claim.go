package main

import (
	"context"
	"errors"
	"fmt"
	"github.com/spf13/cobra"
	"os"
	"os/signal"
	"syscall"
	"time"
)

func newClaimCmd(opts *globalOptions) *cobra.Command {
	var hold bool
	var discover time.Duration

	cmd := &cobra.Command{
		Use:   "claim",
		Short: "Claim address and optionally keep defending it",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			rt, err := newRuntime(opts, nil, nil)
			if err != nil {
				return err
			}
			defer rt.Close()

			address, err := rt.claim(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "# claimed address: %v (0x%02X), NAME: 0x%016X\n", address, address, rt.config.J1939Name().Uint64())

			if discover > 0 {
				if err := rt.node.Claimer().RequestAddressClaims(); err != nil {
					return err
				}
				runCtx, runCancel := context.WithTimeout(ctx, discover)
				err := rt.node.Run(runCtx)
				runCancel()
				if err != nil && !errors.Is(err, context.DeadlineExceeded) {
					return err
				}
				printNodes(rt)
			}

			if !hold {
				return nil
			}
			fmt.Fprintln(os.Stdout, "# holding address, press Ctrl+C to exit")
			if err := rt.node.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&hold, "hold", false, "keep running and defend claimed address until interrupted")
	cmd.Flags().DurationVar(&discover, "discover", 0, "request address claims from all nodes and list nodes that answered within given duration")
	return cmd
}

func printNodes(rt *runtime) {
	for _, n := range rt.node.Claimer().Nodes() {
		fmt.Fprintf(os.Stdout, "address: %3v, NAME: 0x%016X, manufacturer: %v, function: %v, identity: %v\n",
			n.Address, n.NAME, n.Name.ManufacturerCode, n.Name.Function, n.Name.IdentityNumber)
	}
}
