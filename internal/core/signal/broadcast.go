package signal

import (
	"context"
	"errors"
	"sync"

	"github.com/zeusync/serversignal/internal/core/diff"
	"github.com/zeusync/serversignal/internal/core/observability/log"
	"github.com/zeusync/serversignal/internal/core/observability/metrics"
	"github.com/zeusync/serversignal/internal/core/protocol"
)

type member[T any] struct {
	conn    protocol.Connection
	tracker diff.Tracker[T]
}

// Broadcast is one authoritative value mirrored on many connections. Every
// connection keeps its own diff base, so a peer that missed writes catches up
// on the next successful one.
type Broadcast[T any] struct {
	name      string
	codec     diff.Codec[T]
	initial   T
	envelopes protocol.Codec
	logger    log.Log
	metrics   *metrics.Metrics

	mu      sync.Mutex
	value   T
	members map[string]*member[T]
}

func NewBroadcast[T any](name string, codec diff.Codec[T], initial T, opts ...Option) (*Broadcast[T], error) {
	if name == "" {
		return nil, ErrInvalidName
	}
	cfg := newConfig(opts)
	return &Broadcast[T]{
		name:      name,
		codec:     codec,
		initial:   initial,
		envelopes: cfg.envelopes,
		logger:    cfg.logger.With(log.Component("broadcast"), log.String("channel", name)),
		metrics:   cfg.metrics,
		value:     initial,
		members:   make(map[string]*member[T]),
	}, nil
}

func (b *Broadcast[T]) Name() string {
	return b.name
}

// Attach adds conn and sends it a snapshot of the current value right away.
// The snapshot does not depend on what the remote replica holds, so a client
// that kept its replica across a reconnect converges too.
func (b *Broadcast[T]) Attach(ctx context.Context, conn protocol.Connection) error {
	tracker, err := b.codec.NewTracker(b.initial)
	if err != nil {
		return &protocol.SerializationError{Channel: b.name, Op: "snapshot", Err: err}
	}
	m := &member[T]{conn: conn, tracker: tracker}

	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.send(ctx, m); err != nil {
		return err
	}
	b.members[conn.ID()] = m
	b.metrics.SignalOpened()
	b.logger.Debug("Connection attached", log.String("connection_id", conn.ID()), log.Int("members", len(b.members)))
	return nil
}

// Detach removes the connection with the given id. It does not close it.
func (b *Broadcast[T]) Detach(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.detach(id)
}

func (b *Broadcast[T]) detach(id string) {
	if _, ok := b.members[id]; !ok {
		return
	}
	delete(b.members, id)
	b.metrics.SignalClosed()
	b.logger.Debug("Connection detached", log.String("connection_id", id), log.Int("members", len(b.members)))
}

func (b *Broadcast[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.members)
}

func (b *Broadcast[T]) Value() T {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.value
}

// Mutate applies f and writes the diff to every attached connection. Members
// whose write fails are detached; their errors are not returned. The returned
// error is only set when the update cannot be serialized at all.
func (b *Broadcast[T]) Mutate(ctx context.Context, f func(v *T)) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	f(&b.value)

	for id, m := range b.members {
		err := b.send(ctx, m)
		if err == nil {
			continue
		}
		var serr *protocol.SerializationError
		if errors.As(err, &serr) {
			return err
		}
		b.logger.Debug("Dropping member after failed write", log.String("connection_id", id), log.Error(err))
		b.detach(id)
	}
	return nil
}

// send diffs the current value against m's base and writes it. b.mu is held.
func (b *Broadcast[T]) send(ctx context.Context, m *member[T]) error {
	payload, err := m.tracker.Diff(b.value)
	if err != nil {
		return &protocol.SerializationError{Channel: b.name, Op: "diff", Err: err}
	}
	frame, err := b.envelopes.Encode(protocol.Envelope{ChannelID: b.name, Payload: payload})
	if err != nil {
		return &protocol.SerializationError{Channel: b.name, Op: "envelope", Err: err}
	}
	if err := m.conn.Send(ctx, frame); err != nil {
		return err
	}
	m.tracker.Commit()
	b.metrics.EnvelopeSent(b.name, len(frame))
	return nil
}
