package replica

import (
	"sync"

	"github.com/zeusync/serversignal/internal/core/diff"
)

// Cell is a local replica of T that notifies subscribers after every applied
// batch.
type Cell[T any] struct {
	mu      sync.RWMutex
	applier diff.Applier[T]

	subMu sync.Mutex
	subs  map[uint64]func(T)
	next  uint64
}

var _ Replica = (*Cell[struct{}])(nil)

// NewCell returns a cell holding initial, which must match the value the
// owning side started from.
func NewCell[T any](codec diff.Codec[T], initial T) (*Cell[T], error) {
	applier, err := codec.NewApplier(initial)
	if err != nil {
		return nil, err
	}
	return &Cell[T]{applier: applier, subs: make(map[uint64]func(T))}, nil
}

// Get returns the current value. The result must not be modified.
func (c *Cell[T]) Get() T {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.applier.Value()
}

// Apply applies the batch and, on success, calls every subscriber with the
// new value.
func (c *Cell[T]) Apply(payloads ...[]byte) error {
	c.mu.Lock()
	if err := c.applier.Apply(payloads...); err != nil {
		c.mu.Unlock()
		return err
	}
	v := c.applier.Value()
	c.mu.Unlock()

	c.subMu.Lock()
	fns := make([]func(T), 0, len(c.subs))
	for _, fn := range c.subs {
		fns = append(fns, fn)
	}
	c.subMu.Unlock()

	for _, fn := range fns {
		fn(v)
	}
	return nil
}

// Subscribe registers fn for change notifications and returns a function
// that removes it.
func (c *Cell[T]) Subscribe(fn func(T)) (cancel func()) {
	c.subMu.Lock()
	id := c.next
	c.next++
	c.subs[id] = fn
	c.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.subMu.Lock()
			delete(c.subs, id)
			c.subMu.Unlock()
		})
	}
}

// Register creates a cell at initial and registers it under id.
func Register[T any](reg *Registry, id string, codec diff.Codec[T], initial T) (*Cell[T], error) {
	cell, err := NewCell(codec, initial)
	if err != nil {
		return nil, err
	}
	if err := reg.Register(id, cell); err != nil {
		return nil, err
	}
	return cell, nil
}
