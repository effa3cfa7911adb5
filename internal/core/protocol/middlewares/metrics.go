package middlewares

import (
	"context"
	"time"

	"github.com/zeusync/serversignal/internal/core/observability/metrics"
	"github.com/zeusync/serversignal/internal/core/protocol"
)

// Metrics records active sessions and their duration.
func Metrics(m *metrics.Metrics) Middleware {
	return func(next protocol.Session) protocol.Session {
		return func(ctx context.Context, conn protocol.Connection) {
			start := time.Now()
			m.SessionStarted()
			defer func() { m.SessionEnded(time.Since(start)) }()
			next(ctx, conn)
		}
	}
}
