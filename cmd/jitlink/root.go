package main

import (
	"context"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wippyai/jitlink"
	"github.com/wippyai/jitlink/compiler"
	"github.com/wippyai/jitlink/config"
	"github.com/wippyai/jitlink/engine"
)

type cli struct {
	root    *cobra.Command
	stdin   io.Reader
	stdout  io.Writer
	logger  *zap.Logger
	cfgPath string
	cfg     config.Config
}

func newCLI(stdin io.Reader, stdout, stderr io.Writer) *cli {
	c := &cli{stdin: stdin, stdout: stdout, logger: zap.NewNop()}
	c.root = &cobra.Command{
		Use:           "jitlink",
		Short:         "Compile, cache and link code units at runtime",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.setup()
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			_ = c.logger.Sync()
		},
	}
	c.root.SetOut(stdout)
	c.root.SetErr(stderr)
	c.root.PersistentFlags().StringVarP(&c.cfgPath, "config", "c", "", "Path to jitlink.toml")

	c.root.AddCommand(
		c.newEvalCmd(),
		c.newRunCmd(),
		c.newCompileCmd(),
		c.newReplCmd(),
		c.newServeCmd(),
		c.newRemoteCmd(),
		c.newCacheCmd(),
	)
	return c
}

func (c *cli) setup() error {
	cfg, err := config.Load(c.cfgPath)
	if err != nil {
		return err
	}
	c.cfg = cfg
	logger, err := cfg.Log.Logger()
	if err != nil {
		return err
	}
	c.logger = logger
	compiler.SetLogger(logger)
	engine.SetLogger(logger)
	return nil
}

func (c *cli) system(ctx context.Context) (*jitlink.System, error) {
	return jitlink.New(ctx, c.cfg,
		jitlink.WithOutput(c.stdout),
		jitlink.WithLogger(c.logger.Named("cache")),
	)
}
