package main

import (
	"context"
	stderrors "errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wippyai/jitlink/remote"
)

func (c *cli) newServeCmd() *cobra.Command {
	var target string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the remote compilation service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
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
			srv := remote.NewServer(remote.ServerConfig{
				Compiler: sys.Compiler,
				Preamble: sys.Preamble,
				Metrics:  remote.NewMetrics(),
				Logger:   c.logger.Named("remote"),
				Target:   spec,
			})
			sys.PrometheusRegistry().MustRegister(srv.Metrics().PrometheusCollectors()...)

			g, ctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				return srv.ListenAndServe(ctx, c.cfg.Server.Listen)
			})
			if addr := c.cfg.Server.Admin; addr != "" {
				admin := &http.Server{
					Addr: addr,
					Handler: remote.NewAdminHandler(remote.AdminConfig{
						Server:   srv,
						Cache:    sys.Cache,
						Gatherer: sys.PrometheusRegistry(),
						Logger:   c.logger.Named("admin"),
					}),
					ReadHeaderTimeout: 10 * time.Second,
				}
				g.Go(func() error {
					c.logger.Info("Admin listening", zap.String("addr", addr))
					if err := admin.ListenAndServe(); !stderrors.Is(err, http.ErrServerClosed) {
						return err
					}
					return nil
				})
				g.Go(func() error {
					<-ctx.Done()
					shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					return admin.Shutdown(shutdown)
				})
			}
			return g.Wait()
		},
	}
	cmd.Flags().StringVarP(&target, "target", "t", "", "Configured target sessions compile for (default host)")
	return cmd
}
