// Package websocket carries envelopes over gorilla/websocket. The server side
// is an http.Handler that upgrades and hands each connection to a session;
// the client side is a protocol.Dialer.
package websocket

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/zeusync/serversignal/internal/core/observability/log"
	"github.com/zeusync/serversignal/internal/core/protocol"
)

type Handler struct {
	upgrader websocket.Upgrader
	config   protocol.Config
	session  protocol.Session
	logger   log.Log
}

func NewHandler(config protocol.Config, session protocol.Session, logger log.Log) *Handler {
	return &Handler{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		config:  config,
		session: session,
		logger:  logger.With(log.Component("websocket")),
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", log.Error(err))
		return
	}

	conn := NewConnection(ws, h.config)
	logger := h.logger.With(log.String("connection_id", conn.ID()))
	logger.Debug("Connection upgraded", log.String("remote_addr", conn.RemoteAddr()))

	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()
	go func() {
		select {
		case <-conn.Done():
			cancel()
		case <-ctx.Done():
		}
	}()

	go conn.discard()
	go conn.keepAlive(h.config.KeepAlive)

	defer func() {
		_ = conn.Close()
		logger.Debug("Connection released")
	}()
	h.session(ctx, conn)
}

// Dialer opens client websocket connections to ws:// or wss:// targets.
type Dialer struct {
	Config protocol.Config
	Header http.Header
	// Dialer overrides websocket.DefaultDialer.
	Dialer *websocket.Dialer
}

func (d Dialer) Dial(ctx context.Context, target string) (protocol.Connection, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	ws, resp, err := dialer.DialContext(ctx, target, d.Header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, errors.Wrapf(fmt.Errorf("%w: %w", protocol.ErrDialFailed, err), "dial %s", target)
	}
	return NewConnection(ws, d.Config), nil
}
