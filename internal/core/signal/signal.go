// Package signal holds server-owned values mirrored on a remote replica. Every
// mutation is diffed against the last snapshot the peer received, wrapped in
// an envelope and written to the connection.
package signal

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/zeusync/serversignal/internal/core/diff"
	"github.com/zeusync/serversignal/internal/core/observability/log"
	"github.com/zeusync/serversignal/internal/core/observability/metrics"
	"github.com/zeusync/serversignal/internal/core/protocol"
)

type State int32

const (
	StateUninitialized State = iota
	StateActive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

var (
	// ErrClosed is returned by mutations once the connection has ended.
	ErrClosed        = fmt.Errorf("signal closed: %w", protocol.ErrConnectionClosed)
	ErrUninitialized = errors.New("signal not initialized")
	ErrInvalidName   = errors.New("invalid channel name")
)

// Signal is one channel on one connection. Mutations are serialized: each
// one updates the value, then diffs, encodes and writes before the next runs.
type Signal[T any] struct {
	name      string
	conn      protocol.Connection
	envelopes protocol.Codec
	logger    log.Log
	metrics   *metrics.Metrics

	state  atomic.Int32
	closed chan struct{}
	once   sync.Once

	mu    sync.RWMutex
	value T

	// writeMu orders mutations and owns tracker.
	writeMu sync.Mutex
	tracker diff.Tracker[T]
}

// New creates an active signal holding initial. Nothing is sent until the
// first mutation, which carries a snapshot so the peer's replica converges
// whatever it held before.
func New[T any](name string, conn protocol.Connection, codec diff.Codec[T], initial T, opts ...Option) (*Signal[T], error) {
	if name == "" {
		return nil, ErrInvalidName
	}
	cfg := newConfig(opts)

	tracker, err := codec.NewTracker(initial)
	if err != nil {
		return nil, &protocol.SerializationError{Channel: name, Op: "snapshot", Err: err}
	}

	s := &Signal[T]{
		name:      name,
		conn:      conn,
		envelopes: cfg.envelopes,
		logger:    cfg.logger.With(log.Component("signal"), log.String("channel", name), log.String("connection_id", conn.ID())),
		metrics:   cfg.metrics,
		closed:    make(chan struct{}),
		value:     initial,
		tracker:   tracker,
	}
	s.state.Store(int32(StateActive))
	s.metrics.SignalOpened()
	go s.watch()
	return s, nil
}

func (s *Signal[T]) watch() {
	select {
	case <-s.conn.Done():
		s.close("connection ended")
	case <-s.closed:
	}
}

func (s *Signal[T]) Name() string {
	return s.name
}

func (s *Signal[T]) State() State {
	return State(s.state.Load())
}

// Value returns the current value, including mutations whose write failed.
// The result must not be modified.
func (s *Signal[T]) Value() T {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.value
}

// Mutate applies f to the value and sends the resulting diff. On a failed
// write the mutation is kept and the error returned; the next successful
// mutation carries the accumulated changes.
func (s *Signal[T]) Mutate(ctx context.Context, f func(v *T)) error {
	_, err := MutateWith(ctx, s, func(v *T) struct{} {
		f(v)
		return struct{}{}
	})
	return err
}

// MutateWith is Mutate for callbacks that produce a result.
func MutateWith[T, O any](ctx context.Context, s *Signal[T], f func(v *T) O) (O, error) {
	var zero O
	if err := s.usable(); err != nil {
		return zero, err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.usable(); err != nil {
		return zero, err
	}

	s.mu.Lock()
	out := f(&s.value)
	payload, err := s.tracker.Diff(s.value)
	s.mu.Unlock()
	if err != nil {
		return out, &protocol.SerializationError{Channel: s.name, Op: "diff", Err: err}
	}

	frame, err := s.envelopes.Encode(protocol.Envelope{ChannelID: s.name, Payload: payload})
	if err != nil {
		return out, &protocol.SerializationError{Channel: s.name, Op: "envelope", Err: err}
	}

	if err := s.conn.Send(ctx, frame); err != nil {
		if errors.Is(err, protocol.ErrConnectionClosed) {
			s.close("write failed")
		}
		s.logger.Debug("Update not delivered", log.Error(err))
		return out, err
	}
	s.tracker.Commit()
	s.metrics.EnvelopeSent(s.name, len(frame))
	return out, nil
}

func (s *Signal[T]) usable() error {
	switch s.State() {
	case StateActive:
		return nil
	case StateClosed:
		return ErrClosed
	default:
		return ErrUninitialized
	}
}

// Done is closed when the signal reaches StateClosed.
func (s *Signal[T]) Done() <-chan struct{} {
	return s.closed
}

// Close stops the signal. The connection is left to its owner.
func (s *Signal[T]) Close() error {
	s.close("closed by owner")
	return nil
}

func (s *Signal[T]) close(reason string) {
	s.once.Do(func() {
		s.state.Store(int32(StateClosed))
		close(s.closed)
		s.metrics.SignalClosed()
		s.logger.Debug("Signal closed", log.String("reason", reason))
	})
}
