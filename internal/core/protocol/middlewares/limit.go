package middlewares

import (
	"context"
	"sync/atomic"

	"github.com/zeusync/serversignal/internal/core/observability/log"
	"github.com/zeusync/serversignal/internal/core/observability/metrics"
	"github.com/zeusync/serversignal/internal/core/protocol"
)

// MaxSessions closes connections that arrive while limit sessions are already
// running. Zero or less disables the limit.
func MaxSessions(limit int, logger log.Log, m *metrics.Metrics) Middleware {
	var active atomic.Int64
	return func(next protocol.Session) protocol.Session {
		if limit <= 0 {
			return next
		}
		return func(ctx context.Context, conn protocol.Connection) {
			if n := active.Add(1); n > int64(limit) {
				active.Add(-1)
				m.SessionRejected()
				logger.Warn("Maximum sessions reached, rejecting connection",
					log.String("remote_addr", conn.RemoteAddr()),
					log.Int("max_sessions", limit),
				)
				_ = conn.Close()
				return
			}
			defer active.Add(-1)
			next(ctx, conn)
		}
	}
}
