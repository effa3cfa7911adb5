package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/zeusync/serversignal/internal/config"
	"github.com/zeusync/serversignal/internal/injector"
)

func serveCmd(load func() (config.Config, error)) *cobra.Command {
	var listen, quicListen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the demo server",
		Long: `Serve a per-connection "counter" that ticks until the connection fails
and a shared "presence" list of connected clients.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			if listen != "" {
				cfg.Server.Listen = listen
			}
			if quicListen != "" {
				cfg.Server.QUICListen = quicListen
			}

			srv, cleanup, err := injector.InitializeServer(cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return srv.Run(ctx)
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "HTTP listen address (overrides server.listen)")
	cmd.Flags().StringVar(&quicListen, "quic-listen", "", "QUIC listen address (overrides server.quic_listen)")

	return cmd
}
