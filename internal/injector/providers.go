// Package injector wires the server from configuration.
package injector

import (
	"github.com/google/wire"

	"github.com/zeusync/serversignal/internal/config"
	"github.com/zeusync/serversignal/internal/core/observability/log"
	"github.com/zeusync/serversignal/internal/core/observability/metrics"
	"github.com/zeusync/serversignal/internal/server"
)

var ServerSet = wire.NewSet(
	ProvideLogger,
	wire.Bind(new(log.Log), new(*log.Logger)),
	ProvideMetrics,
	server.New,
)

// ProvideLogger builds the process logger. The cleanup flushes it.
func ProvideLogger(cfg config.Config) (*log.Logger, func(), error) {
	logger, err := cfg.Logger()
	if err != nil {
		return nil, nil, err
	}
	return logger, func() { _ = logger.Sync() }, nil
}

func ProvideMetrics() *metrics.Metrics {
	return metrics.New()
}
