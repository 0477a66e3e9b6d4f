package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/wippyai/jitlink/cache"
)

func (c *cli) newCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or clear the object cache",
	}

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show entries and size per target",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			oc, err := cache.New(c.cfg.Cache.Dir)
			if err != nil {
				return err
			}
			ts, err := oc.Stats()
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintf(w, "TARGET\tENTRIES\tSIZE\n")
			var total uint64
			for _, s := range ts {
				fmt.Fprintf(w, "%s\t%d\t%s\n", s.Target, s.Entries, humanize.Bytes(uint64(s.Bytes)))
				total += uint64(s.Bytes)
			}
			fmt.Fprintf(w, "total\t\t%s\n", humanize.Bytes(total))
			return w.Flush()
		},
	}

	var target string
	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove cached artifacts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			oc, err := cache.New(c.cfg.Cache.Dir)
			if err != nil {
				return err
			}
			if target == "" {
				return oc.ClearAll()
			}
			t, ok := c.cfg.Target(target)
			if !ok {
				return fmt.Errorf("unknown target %q", target)
			}
			return oc.Clear(t.Spec())
		},
	}
	clearCmd.Flags().StringVarP(&target, "target", "t", "", "Only clear this configured target")

	cmd.AddCommand(statsCmd, clearCmd)
	return cmd
}
