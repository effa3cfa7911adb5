// Package middlewares wraps protocol sessions with cross-cutting behaviour:
// logging, metrics and admission limits. BearerToken guards the HTTP upgrade
// route in front of a session.
package middlewares

import "github.com/zeusync/serversignal/internal/core/protocol"

// Middleware decorates a session.
type Middleware func(next protocol.Session) protocol.Session

// Chain wraps session so that the first middleware runs outermost.
func Chain(session protocol.Session, mws ...Middleware) protocol.Session {
	for i := len(mws) - 1; i >= 0; i-- {
		session = mws[i](session)
	}
	return session
}
