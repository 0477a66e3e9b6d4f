package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/wippyai/jitlink/ir"
	"github.com/wippyai/jitlink/session"
)

func (c *cli) newEvalCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "eval <expr>...",
		Short: "Evaluate expressions in one session and print each value",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			sys, err := c.system(ctx)
			if err != nil {
				return err
			}
			defer sys.Close(ctx)

			ev, err := sys.Evaluator(ir.Host())
			if err != nil {
				return err
			}
			for _, src := range args {
				v, err := ev.Eval(ctx, src)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), v)
			}
			return nil
		},
	}
}

func (c *cli) newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run <file>",
		Short: "Load a source file form by form",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			sys, err := c.system(ctx)
			if err != nil {
				return err
			}
			defer sys.Close(ctx)

			ev, err := sys.Evaluator(ir.Host())
			if err != nil {
				return err
			}
			_, err = ev.Require(ctx, string(src))
			return err
		},
	}
}

func (c *cli) newCompileCmd() *cobra.Command {
	var (
		target string
		output string
		module string
	)
	cmd := &cobra.Command{
		Use:   "compile <file>",
		Short: "Compile a source file into an artifact without running it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			sys, err := c.system(ctx)
			if err != nil {
				return err
			}
			defer sys.Close(ctx)

			spec, err := sys.Target(target)
			if err != nil {
				return err
			}
			sess, err := session.New(sys.Compiler, sys.Preamble, spec)
			if err != nil {
				return err
			}
			compiled, err := sess.Compile(ctx, module, string(src))
			if err != nil {
				return err
			}
			art := compiled.Artifact
			if output != "" {
				if err := os.WriteFile(output, art.Bytes, 0o644); err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s %s cached=%v\n", art.Hash, art.EntrySymbol, spec, art.FromCache)
			return nil
		},
	}
	cmd.Flags().StringVarP(&target, "target", "t", "", "Configured target name (default host)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write the artifact to this file")
	cmd.Flags().StringVarP(&module, "module", "m", "main", "Module name")
	return cmd
}
