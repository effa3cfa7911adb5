// Package replica is the receiving side of signal channels. A Registry routes
// inbound envelopes to registered replicas by channel id and holds updates for
// channels nobody has registered yet.
package replica

import (
	"errors"
	"sync"

	"github.com/zeusync/serversignal/internal/core/observability/log"
	"github.com/zeusync/serversignal/internal/core/observability/metrics"
	"github.com/zeusync/serversignal/internal/core/protocol"
)

var ErrInvalidID = errors.New("replica: empty channel id")

// Replica applies serialized diffs. A batch is applied entirely or not at all.
type Replica interface {
	Apply(payloads ...[]byte) error
}

type Option func(*Registry)

func WithLogger(logger log.Log) Option {
	return func(r *Registry) { r.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Registry) { r.metrics = m }
}

// Registry is safe for concurrent use. Delivery and registration share one
// lock and replicas are applied under it, so updates for a channel reach its
// replica in arrival order. Replicas must not call back into the registry
// from Apply.
type Registry struct {
	envelopes protocol.Codec
	logger    log.Log
	metrics   *metrics.Metrics

	mu       sync.Mutex
	replicas map[string]Replica
	pending  map[string][][]byte
	// retired holds unregistered ids. Their updates build on a replica that
	// is gone, so they are dropped rather than queued.
	retired map[string]struct{}
}

func NewRegistry(envelopes protocol.Codec, opts ...Option) *Registry {
	r := &Registry{
		envelopes: envelopes,
		logger:    log.Nop(),
		replicas:  make(map[string]Replica),
		pending:   make(map[string][][]byte),
		retired:   make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With(log.Component("registry"))
	return r
}

// Register binds rep to id. Updates queued for id are applied to it as one
// batch in arrival order. If that batch fails, rep stays registered at its
// initial value and the queued updates are dropped.
//
// Registering an id that already has a replica replaces it; nothing is
// replayed into the new replica.
func (r *Registry) Register(id string, rep Replica) error {
	if id == "" {
		return ErrInvalidID
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.replicas[id]; ok {
		r.replicas[id] = rep
		r.dropPending(id)
		r.logger.Debug("Replica replaced", log.String("channel", id))
		return nil
	}

	delete(r.retired, id)
	r.replicas[id] = rep
	queued := r.pending[id]
	delete(r.pending, id)
	if len(queued) == 0 {
		r.logger.Debug("Replica registered", log.String("channel", id))
		return nil
	}

	r.metrics.UpdatesDrained(len(queued))
	if err := rep.Apply(queued...); err != nil {
		r.metrics.ApplyError(id)
		for range queued {
			r.metrics.EnvelopeDropped(metrics.ReasonStale)
		}
		r.logger.Warn("Dropping queued updates that do not apply",
			log.String("channel", id), log.Int("count", len(queued)), log.Error(err))
		return nil
	}
	r.logger.Debug("Replica registered with queued updates", log.String("channel", id), log.Int("count", len(queued)))
	return nil
}

// Unregister removes the replica for id. Updates for id are dropped until it
// is registered again, so a later Register starts from its initial value.
func (r *Registry) Unregister(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.replicas[id]; !ok {
		return false
	}
	delete(r.replicas, id)
	r.retired[id] = struct{}{}
	return true
}

// OnEnvelope decodes one frame and delivers or queues its payload. Malformed
// frames and diffs that fail to apply are logged and dropped.
func (r *Registry) OnEnvelope(frame []byte) {
	r.metrics.EnvelopeReceived()

	env, err := r.envelopes.Decode(frame)
	if err != nil {
		r.metrics.EnvelopeDropped(metrics.ReasonMalformed)
		r.logger.Warn("Dropping malformed envelope", log.Int("bytes", len(frame)), log.Error(err))
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	rep, ok := r.replicas[env.ChannelID]
	if _, gone := r.retired[env.ChannelID]; !ok && gone {
		r.metrics.EnvelopeDropped(metrics.ReasonStale)
		r.logger.Debug("Dropping update for unregistered replica", log.String("channel", env.ChannelID))
		return
	}
	if !ok {
		r.pending[env.ChannelID] = append(r.pending[env.ChannelID], env.Payload)
		r.metrics.UpdateQueued()
		r.logger.Debug("Queued update for unregistered channel",
			log.String("channel", env.ChannelID), log.Int("pending", len(r.pending[env.ChannelID])))
		return
	}

	if err := rep.Apply(env.Payload); err != nil {
		r.metrics.ApplyError(env.ChannelID)
		r.metrics.EnvelopeDropped(metrics.ReasonApply)
		r.logger.Warn("Failed to apply update", log.String("channel", env.ChannelID), log.Error(err))
	}
}

// Handlers adapts the registry to protocol.Pump.
func (r *Registry) Handlers() protocol.Handlers {
	return protocol.Handlers{
		OnMessage: r.OnEnvelope,
		OnError: func(err error) {
			r.logger.Debug("Connection stopped delivering", log.Error(err))
		},
	}
}

// Pending returns the number of updates queued for id.
func (r *Registry) Pending(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending[id])
}

func (r *Registry) Registered(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.replicas[id]
	return ok
}

func (r *Registry) dropPending(id string) {
	n := len(r.pending[id])
	if n == 0 {
		return
	}
	delete(r.pending, id)
	r.metrics.UpdatesDrained(n)
	for i := 0; i < n; i++ {
		r.metrics.EnvelopeDropped(metrics.ReasonStale)
	}
}
