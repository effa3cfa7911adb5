// Package diff turns successive snapshots of a value into serialized diffs and
// applies them on the receiving side. Two variants exist: a generic JSON tree
// patch and a typed delta driven by a hand-written Differ. The variant is a
// deployment-wide choice; both ends must agree.
package diff

import (
	"errors"
	"fmt"

	"github.com/zeusync/serversignal/internal/core/diff/delta"
)

const (
	VariantPatch = "patch"
	VariantDelta = "delta"
)

var (
	ErrUnknownVariant = errors.New("diff: unknown variant")
	ErrEncode         = errors.New("diff: encode failed")
	ErrDecode         = errors.New("diff: decode failed")
)

// Codec computes and applies serialized diffs of T.
type Codec[T any] interface {
	Name() string
	// Diff returns the payload turning old into new. Equal values give an
	// empty diff; applying it is a no-op.
	Diff(old, new T) ([]byte, error)
	// Apply returns v with the payload applied. v is not modified.
	Apply(v T, payload []byte) (T, error)
	NewTracker(initial T) (Tracker[T], error)
	NewApplier(initial T) (Applier[T], error)
}

// Tracker is the owning side of a channel. It keeps the last transmitted
// snapshot; Diff computes against it and Commit advances it to the value
// passed to the most recent Diff. Until the first Commit, Diff returns a
// snapshot payload that sets any receiver to v whatever it held, so a replica
// that outlived an earlier connection converges. Not safe for concurrent use.
type Tracker[T any] interface {
	Diff(v T) ([]byte, error)
	Commit()
}

// Applier is the receiving side. Apply runs a batch of payloads in order and
// either applies all of them or none. Not safe for concurrent use.
type Applier[T any] interface {
	Apply(payloads ...[]byte) error
	Value() T
}

// Differ is the per-type logic of the typed delta variant.
type Differ[T any] interface {
	Clone(v T) T
	Diff(old, new T) (delta.Delta, error)
	Apply(v *T, d delta.Delta) error
}

// ByName resolves a variant by its configured name. differ is only used by the
// delta variant.
func ByName[T any](name string, differ Differ[T]) (Codec[T], error) {
	switch name {
	case VariantPatch:
		return JSONPatch[T](), nil
	case VariantDelta:
		if differ == nil {
			return nil, fmt.Errorf("%w: %q needs a differ", ErrUnknownVariant, name)
		}
		return Delta[T](differ), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownVariant, name)
	}
}

func encodeError(err error) error {
	return fmt.Errorf("%w: %w", ErrEncode, err)
}

func decodeError(err error) error {
	return fmt.Errorf("%w: %w", ErrDecode, err)
}
