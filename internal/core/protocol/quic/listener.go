package quic

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/quic-go/quic-go"

	"github.com/zeusync/serversignal/internal/core/observability/log"
	"github.com/zeusync/serversignal/internal/core/protocol"
)

// Listener accepts QUIC connections and runs a session on each.
type Listener struct {
	listener *quic.Listener
	config   protocol.Config
	closed   int32
	logger   log.Log
}

// Listen binds addr. tlsConfig must carry a certificate; SelfSignedTLS works
// for development.
func Listen(addr string, tlsConfig *tls.Config, config protocol.Config, logger log.Log) (*Listener, error) {
	ln, err := quic.ListenAddr(addr, tlsConfig, quicConfig(config))
	if err != nil {
		return nil, errors.Wrapf(err, "listen %s", addr)
	}
	l := &Listener{
		listener: ln,
		config:   config,
		logger:   logger.With(log.Component("quic"), log.String("listener_addr", ln.Addr().String())),
	}
	l.logger.Info("QUIC listener created")
	return l, nil
}

func (l *Listener) Addr() net.Addr {
	return l.listener.Addr()
}

// Serve accepts connections until ctx ends or the listener is closed. Each
// connection's stream is awaited in its own goroutine so a silent client
// cannot stall the accept loop.
func (l *Listener) Serve(ctx context.Context, session protocol.Session) error {
	for {
		conn, err := l.listener.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil || atomic.LoadInt32(&l.closed) == 1 {
				return nil
			}
			return errors.Wrap(err, "failed to accept QUIC connection")
		}
		go l.handle(ctx, conn, session)
	}
}

func (l *Listener) handle(ctx context.Context, qconn *quic.Conn, session protocol.Session) {
	acceptCtx, cancel := context.WithTimeout(ctx, DefaultHandshakeTimeout)
	stream, err := qconn.AcceptStream(acceptCtx)
	cancel()
	if err != nil {
		l.logger.Warn("Client opened no stream", log.String("remote_addr", qconn.RemoteAddr().String()), log.Error(err))
		_ = qconn.CloseWithError(1, "no stream")
		return
	}

	conn := newConnection(qconn, stream, l.config)
	logger := l.logger.With(log.String("connection_id", conn.ID()))
	logger.Debug("Stream accepted", log.String("remote_addr", conn.RemoteAddr()))

	sessionCtx, stop := context.WithCancel(ctx)
	defer stop()
	go func() {
		select {
		case <-conn.Done():
			stop()
		case <-sessionCtx.Done():
		}
	}()
	// The client's hello frame is consumed here; later inbound frames are dropped.
	go func() {
		for {
			if _, err := conn.Receive(sessionCtx); err != nil {
				return
			}
		}
	}()

	defer func() {
		_ = conn.Close()
		logger.Debug("Stream closed")
	}()
	session(sessionCtx, conn)
}

func (l *Listener) Close() error {
	if !atomic.CompareAndSwapInt32(&l.closed, 0, 1) {
		return nil
	}
	l.logger.Info("Closing QUIC listener")
	return l.listener.Close()
}

// Dialer opens client connections to host:port targets.
type Dialer struct {
	TLS    *tls.Config
	Config protocol.Config
}

// Dial connects, opens the stream and announces it with a hello frame, since a
// QUIC stream is invisible to the peer until data is sent on it.
func (d Dialer) Dial(ctx context.Context, target string) (protocol.Connection, error) {
	tlsConfig := d.TLS
	if tlsConfig == nil {
		tlsConfig = InsecureClientTLS()
	}
	qconn, err := quic.DialAddr(ctx, target, tlsConfig, quicConfig(d.Config))
	if err != nil {
		return nil, errors.Wrapf(fmt.Errorf("%w: %w", protocol.ErrDialFailed, err), "dial %s", target)
	}
	stream, err := qconn.OpenStreamSync(ctx)
	if err != nil {
		_ = qconn.CloseWithError(1, "no stream")
		return nil, errors.Wrapf(fmt.Errorf("%w: %w", protocol.ErrDialFailed, err), "open stream to %s", target)
	}
	conn := newConnection(qconn, stream, d.Config)
	if err := conn.writeFrame(ctx, nil); err != nil {
		_ = conn.Close()
		return nil, errors.Wrapf(fmt.Errorf("%w: %w", protocol.ErrDialFailed, err), "hello to %s", target)
	}
	return conn, nil
}
