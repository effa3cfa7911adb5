package server

import (
	"context"
	"errors"
	"time"

	"github.com/zeusync/serversignal/internal/core/diff"
	"github.com/zeusync/serversignal/internal/core/observability/log"
	"github.com/zeusync/serversignal/internal/core/observability/metrics"
	"github.com/zeusync/serversignal/internal/core/protocol"
	"github.com/zeusync/serversignal/internal/core/signal"
	"github.com/zeusync/serversignal/internal/model"
)

// Sessions serves the demo channels on every connection: a private counter
// that ticks until the connection fails and the shared presence list.
type Sessions struct {
	tick      time.Duration
	counter   diff.Codec[model.Counter]
	presence  *signal.Broadcast[model.Presence]
	envelopes protocol.Codec
	logger    log.Log
	metrics   *metrics.Metrics
}

func NewSessions(tick time.Duration, variant string, envelopes protocol.Codec, logger log.Log, m *metrics.Metrics) (*Sessions, error) {
	counter, err := model.CounterCodec(variant)
	if err != nil {
		return nil, err
	}
	presenceCodec, err := model.PresenceCodec(variant)
	if err != nil {
		return nil, err
	}
	opts := []signal.Option{signal.WithEnvelopeCodec(envelopes), signal.WithLogger(logger), signal.WithMetrics(m)}
	presence, err := signal.NewBroadcast(model.PresenceChannel, presenceCodec, model.Presence{}, opts...)
	if err != nil {
		return nil, err
	}
	return &Sessions{
		tick:      tick,
		counter:   counter,
		presence:  presence,
		envelopes: envelopes,
		logger:    logger.With(log.Component("sessions")),
		metrics:   m,
	}, nil
}

// Presence returns the shared presence broadcast.
func (s *Sessions) Presence() *signal.Broadcast[model.Presence] {
	return s.presence
}

// Serve is a protocol.Session.
func (s *Sessions) Serve(ctx context.Context, conn protocol.Connection) {
	logger := s.logger.With(log.String("connection_id", conn.ID()))

	if err := s.presence.Attach(ctx, conn); err != nil {
		logger.Warn("Failed to attach presence", log.Error(err))
		return
	}
	defer func() {
		s.presence.Detach(conn.ID())
		if err := s.presence.Mutate(context.WithoutCancel(ctx), func(p *model.Presence) { p.Leave(conn.ID()) }); err != nil {
			logger.Warn("Failed to publish leave", log.Error(err))
		}
	}()
	if err := s.presence.Mutate(ctx, func(p *model.Presence) { p.Join(conn.ID()) }); err != nil {
		logger.Warn("Failed to publish join", log.Error(err))
	}

	counter, err := signal.New(model.CounterChannel, conn, s.counter, model.Counter{},
		signal.WithEnvelopeCodec(s.envelopes), signal.WithLogger(s.logger), signal.WithMetrics(s.metrics))
	if err != nil {
		logger.Error("Failed to open counter", log.Error(err))
		return
	}
	defer counter.Close()

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-counter.Done():
			return
		case <-ticker.C:
		}
		if err := counter.Mutate(ctx, func(c *model.Counter) { c.Value++ }); err != nil {
			if !errors.Is(err, protocol.ErrConnectionClosed) && ctx.Err() == nil {
				logger.Warn("Counter update failed", log.Error(err))
			}
			return
		}
	}
}
