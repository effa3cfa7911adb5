package signal

import (
	"github.com/zeusync/serversignal/internal/core/observability/log"
	"github.com/zeusync/serversignal/internal/core/observability/metrics"
	"github.com/zeusync/serversignal/internal/core/protocol"
)

// Option configures a Signal or Broadcast.
type Option func(*config)

type config struct {
	envelopes protocol.Codec
	logger    log.Log
	metrics   *metrics.Metrics
}

func newConfig(opts []Option) config {
	c := config{
		envelopes: protocol.JSONCodec{},
		logger:    log.Nop(),
	}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// WithEnvelopeCodec sets the envelope framing. Defaults to JSON.
func WithEnvelopeCodec(codec protocol.Codec) Option {
	return func(c *config) { c.envelopes = codec }
}

func WithLogger(logger log.Log) Option {
	return func(c *config) { c.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *config) { c.metrics = m }
}
