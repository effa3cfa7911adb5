package middlewares

import (
	"context"
	"time"

	"github.com/zeusync/serversignal/internal/core/observability/log"
	"github.com/zeusync/serversignal/internal/core/protocol"
)

// Logging logs connection start and end.
func Logging(logger log.Log) Middleware {
	logger = logger.With(log.Component("session"))
	return func(next protocol.Session) protocol.Session {
		return func(ctx context.Context, conn protocol.Connection) {
			start := time.Now()
			logger.Info("Client connected",
				log.String("connection_id", conn.ID()),
				log.String("remote_addr", conn.RemoteAddr()),
			)
			next(ctx, conn)
			logger.Info("Client disconnected",
				log.String("connection_id", conn.ID()),
				log.String("remote_addr", conn.RemoteAddr()),
				log.Duration("duration", time.Since(start)),
			)
		}
	}
}
