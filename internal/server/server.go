// Package server hosts the demo channels over websocket and, optionally, QUIC.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/zeusync/serversignal/internal/config"
	"github.com/zeusync/serversignal/internal/core/observability/log"
	"github.com/zeusync/serversignal/internal/core/observability/metrics"
	"github.com/zeusync/serversignal/internal/core/protocol"
	"github.com/zeusync/serversignal/internal/core/protocol/middlewares"
	"github.com/zeusync/serversignal/internal/core/protocol/quic"
	"github.com/zeusync/serversignal/internal/core/protocol/websocket"
)

const shutdownTimeout = 5 * time.Second

// Server represents a serversignal host
type Server struct {
	config   config.Config
	logger   log.Log
	metrics  *metrics.Metrics
	sessions *Sessions
	session  protocol.Session
	router   chi.Router

	// Server state
	running int32 // atomic bool
	ready   chan struct{}
	addr    atomic.Value // net.Addr
	quic    atomic.Pointer[quic.Listener]

	// base ends every session when Run returns.
	base context.Context
	stop context.CancelFunc
}

// New builds the server and its routes. Nothing listens until Run.
func New(cfg config.Config, logger log.Log, m *metrics.Metrics) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	envelopes, err := protocol.CodecByName(cfg.Wire.Envelope)
	if err != nil {
		return nil, err
	}
	sessions, err := NewSessions(cfg.Server.Tick, cfg.Wire.Diff, envelopes, logger, m)
	if err != nil {
		return nil, err
	}

	base, stop := context.WithCancel(context.Background())
	s := &Server{
		config:   cfg,
		logger:   logger.With(log.Component("server")),
		metrics:  m,
		sessions: sessions,
		ready:    make(chan struct{}),
		base:     base,
		stop:     stop,
	}
	s.session = middlewares.Chain(s.bound(sessions.Serve),
		middlewares.Logging(logger),
		middlewares.Metrics(m),
		middlewares.MaxSessions(cfg.Server.MaxSessions, logger, m),
	)
	s.router = s.routes()
	return s, nil
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})
	if s.config.Server.MetricsPath != "" && s.metrics != nil {
		r.Method(http.MethodGet, s.config.Server.MetricsPath, s.metrics.Handler())
	}
	r.With(middlewares.BearerToken(s.config.Server.Token, s.logger)).
		Method(http.MethodGet, s.config.Server.Path, websocket.NewHandler(s.config.Transport(), s.session, s.logger))
	return r
}

// bound ties a session to the server lifetime.
func (s *Server) bound(next protocol.Session) protocol.Session {
	return func(ctx context.Context, conn protocol.Connection) {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()
		stop := context.AfterFunc(s.base, cancel)
		defer stop()
		next(ctx, conn)
	}
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Sessions() *Sessions {
	return s.sessions
}

// Ready is closed once the listeners are bound.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Addr returns the bound HTTP address after Ready.
func (s *Server) Addr() net.Addr {
	addr, _ := s.addr.Load().(net.Addr)
	return addr
}

// QUICAddr returns the bound QUIC address after Ready, or nil when QUIC is off.
func (s *Server) QUICAddr() net.Addr {
	if ln := s.quic.Load(); ln != nil {
		return ln.Addr()
	}
	return nil
}

// Run listens and serves until ctx ends, then shuts down and ends every
// session.
func (s *Server) Run(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.running, 0, 1) {
		return ErrServerAlreadyRunning
	}
	defer s.stop()

	ln, err := net.Listen("tcp", s.config.Server.Listen)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrListenerFailed, err)
	}
	s.addr.Store(ln.Addr())

	if s.config.Server.QUICListen != "" {
		tlsConfig, err := quic.SelfSignedTLS()
		if err != nil {
			_ = ln.Close()
			return err
		}
		qln, err := quic.Listen(s.config.Server.QUICListen, tlsConfig, s.config.Transport(), s.logger)
		if err != nil {
			_ = ln.Close()
			return fmt.Errorf("%w: %w", ErrListenerFailed, err)
		}
		s.quic.Store(qln)
	}

	httpServer := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return s.base },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("HTTP listener started", log.String("addr", ln.Addr().String()), log.String("path", s.config.Server.Path))
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if qln := s.quic.Load(); qln != nil {
		g.Go(func() error {
			s.logger.Info("QUIC listener started", log.String("addr", qln.Addr().String()))
			return qln.Serve(gctx, s.session)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		s.logger.Info("Stopping server")
		s.stop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := httpServer.Shutdown(shutdownCtx)
		if qln := s.quic.Load(); qln != nil {
			err = errors.Join(err, qln.Close())
		}
		return err
	})
	close(s.ready)

	err = g.Wait()
	s.logger.Info("Server stopped")
	return err
}
