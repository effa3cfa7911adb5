package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/zeusync/serversignal/internal/config"
	"github.com/zeusync/serversignal/internal/core/observability/log"
	"github.com/zeusync/serversignal/internal/core/observability/metrics"
	"github.com/zeusync/serversignal/internal/core/protocol"
	"github.com/zeusync/serversignal/internal/core/protocol/quic"
	"github.com/zeusync/serversignal/internal/core/protocol/websocket"
	"github.com/zeusync/serversignal/internal/core/replica"
	"github.com/zeusync/serversignal/internal/model"
	"github.com/zeusync/serversignal/sdk/go/client"
)

func watchCmd(load func() (config.Config, error)) *cobra.Command {
	var target, transport string

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Mirror the demo channels and log every change",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			if target != "" {
				cfg.Client.Target = target
			}
			if transport != "" {
				cfg.Client.Transport = transport
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			logger, err := cfg.Logger()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			err = watch(ctx, cfg, logger)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}

	cmd.Flags().StringVar(&target, "target", "", "server address (overrides client.target)")
	cmd.Flags().StringVar(&transport, "transport", "", "websocket or quic (overrides client.transport)")

	return cmd
}

func watch(ctx context.Context, cfg config.Config, logger log.Log) error {
	envelopes, err := protocol.CodecByName(cfg.Wire.Envelope)
	if err != nil {
		return err
	}
	counterCodec, err := model.CounterCodec(cfg.Wire.Diff)
	if err != nil {
		return err
	}
	presenceCodec, err := model.PresenceCodec(cfg.Wire.Diff)
	if err != nil {
		return err
	}

	m := metrics.New()
	registry := replica.NewRegistry(envelopes, replica.WithLogger(logger), replica.WithMetrics(m))

	counter, err := replica.Register(registry, model.CounterChannel, counterCodec, model.Counter{})
	if err != nil {
		return err
	}
	presence, err := replica.Register(registry, model.PresenceChannel, presenceCodec, model.Presence{})
	if err != nil {
		return err
	}
	defer counter.Subscribe(func(c model.Counter) {
		logger.Info("Counter changed", log.Int64("value", c.Value))
	})()
	defer presence.Subscribe(func(p model.Presence) {
		logger.Info("Presence changed", log.Int64("clients", p.Clients), log.Strings("peers", p.Peers))
	})()

	c, err := client.New(dialer(cfg), registry, client.Config{
		Target:               cfg.Client.Target,
		ReconnectDelay:       cfg.Client.ReconnectDelay,
		DialTimeout:          cfg.Client.DialTimeout,
		MaxReconnectAttempts: cfg.Client.MaxReconnectAttempts,
	}, client.WithLogger(logger), client.WithMetrics(m))
	if err != nil {
		return err
	}
	defer c.Close()

	c.OnEvent(client.EventTypeDisconnected, func(e client.Event) error {
		logger.Warn("Disconnected; replicas keep their last values", log.Int64("counter", counter.Get().Value))
		return nil
	})
	return c.Run(ctx)
}

func dialer(cfg config.Config) protocol.Dialer {
	transport := protocol.DefaultConfig()
	transport.Binary = cfg.Wire.Envelope == protocol.CodecBinary

	if cfg.Client.Transport == config.TransportQUIC {
		return quic.Dialer{TLS: quic.InsecureClientTLS(), Config: transport}
	}
	var header http.Header
	if cfg.Client.Token != "" {
		header = http.Header{"Authorization": {"Bearer " + cfg.Client.Token}}
	}
	return websocket.Dialer{Config: transport, Header: header}
}
