package diff

import (
	"github.com/zeusync/serversignal/internal/core/diff/delta"
)

type deltaCodec[T any] struct {
	differ Differ[T]
}

// Delta builds the typed variant around differ. Payloads are protobuf-framed
// delta.Delta messages.
func Delta[T any](differ Differ[T]) Codec[T] {
	return deltaCodec[T]{differ: differ}
}

func (deltaCodec[T]) Name() string { return VariantDelta }

func (c deltaCodec[T]) Diff(old, new T) ([]byte, error) {
	d, err := c.differ.Diff(old, new)
	if err != nil {
		return nil, encodeError(err)
	}
	return delta.Marshal(d), nil
}

func (c deltaCodec[T]) Apply(v T, payload []byte) (T, error) {
	out := c.differ.Clone(v)
	if err := c.apply(&out, payload); err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}

func (c deltaCodec[T]) apply(v *T, payload []byte) error {
	d, err := delta.Unmarshal(payload)
	if err != nil {
		return decodeError(err)
	}
	if d.Reset {
		var zero T
		*v = zero
	}
	if err := c.differ.Apply(v, d); err != nil {
		return decodeError(err)
	}
	return nil
}

func (c deltaCodec[T]) NewTracker(initial T) (Tracker[T], error) {
	base := c.differ.Clone(initial)
	return &deltaTracker[T]{codec: c, base: base, next: base}, nil
}

func (c deltaCodec[T]) NewApplier(initial T) (Applier[T], error) {
	return &deltaApplier[T]{codec: c, value: c.differ.Clone(initial)}, nil
}

// deltaTracker sends a Reset delta built from the zero value until the first
// Commit, then deltas against the last committed value.
type deltaTracker[T any] struct {
	codec     deltaCodec[T]
	base      T
	next      T
	committed bool
}

func (t *deltaTracker[T]) Diff(v T) ([]byte, error) {
	t.next = t.codec.differ.Clone(v)
	if t.committed {
		return t.codec.Diff(t.base, t.next)
	}
	var zero T
	d, err := t.codec.differ.Diff(zero, t.next)
	if err != nil {
		return nil, encodeError(err)
	}
	d.Reset = true
	return delta.Marshal(d), nil
}

func (t *deltaTracker[T]) Commit() {
	t.base = t.next
	t.committed = true
}

type deltaApplier[T any] struct {
	codec deltaCodec[T]
	value T
}

func (a *deltaApplier[T]) Apply(payloads ...[]byte) error {
	next := a.codec.differ.Clone(a.value)
	for _, payload := range payloads {
		if err := a.codec.apply(&next, payload); err != nil {
			return err
		}
	}
	a.value = next
	return nil
}

func (a *deltaApplier[T]) Value() T {
	return a.value
}
