package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/wippyai/jitlink/remote"
)

func (c *cli) newRemoteCmd() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "remote <addr> [expr...]",
		Short: "Compile on a remote service and run locally",
		Long: "Connects to a compilation service. Each expression is compiled remotely and\n" +
			"loaded into the local engine. Without expressions an interactive session starts.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			sys, err := c.system(ctx)
			if err != nil {
				return err
			}
			defer sys.Close(ctx)

			client, err := remote.Dial(ctx, args[0], remote.WithTimeout(timeout))
			if err != nil {
				return err
			}
			defer client.Close()
			x := remote.NewExecutor(client, sys.Engine, "")

			if len(args) == 1 {
				return c.repl(ctx, x, "remote "+args[0])
			}
			for _, src := range args[1:] {
				v, err := x.Eval(ctx, src)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), v)
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", remote.DefaultTimeout, "Per request timeout")
	return cmd
}
