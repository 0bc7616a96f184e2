package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hupe1980/storymesh"
	"github.com/hupe1980/storymesh/config"
	"github.com/hupe1980/storymesh/logging"
	"github.com/hupe1980/storymesh/telemetry"
)

const serviceName = "storymesh"

// version is set at build time.
var version = "dev"

func newServeCmd(flags *rootFlags) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and websocket server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(flags.envFiles...)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.HTTPAddr = addr
			}

			level, err := logging.ParseLevel(cfg.Server.LogLevel)
			if err != nil {
				return err
			}
			logger := logging.NewLogger(&logging.LoggerConfig{
				Level:     level,
				Format:    cfg.Server.LogFormat,
				Output:    os.Stderr,
				Component: serviceName,
			})

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			shutdown, err := telemetry.Setup(ctx, serviceName, cfg.Server.OTelEndpoint, func(o *telemetry.Options) {
				o.ServiceVersion = version
			})
			if err != nil {
				return err
			}
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					logger.Warn("telemetry shutdown failed", "error", err)
				}
			}()

			app, err := storymesh.New(cfg, func(o *storymesh.Options) {
				o.Logger = logger
			})
			if err != nil {
				return fmt.Errorf("build app: %w", err)
			}

			logger.Info("starting storymesh",
				"version", version,
				"provider", cfg.Model.Provider,
				"model", cfg.Model.Name,
				"data_dir", cfg.Server.DataDir,
			)
			return app.Serve(ctx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Override STORYMESH_HTTP_ADDR")
	return cmd
}
