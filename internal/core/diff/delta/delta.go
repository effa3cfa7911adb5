// Package delta is the typed diff model: a delta lists only the fields that
// changed, primitive fields carry their new value, composite fields recurse and
// slices carry positional edits.
package delta

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownField = errors.New("delta: unknown field")
	ErrKindMismatch = errors.New("delta: field kind mismatch")
	ErrBadPosition  = errors.New("delta: bad slice position")
	ErrMalformed    = errors.New("delta: malformed encoding")
)

// FieldKind tells how a Field carries its change.
type FieldKind uint8

const (
	KindValue FieldKind = iota + 1
	KindNested
	KindSlice
)

func (k FieldKind) String() string {
	switch k {
	case KindValue:
		return "value"
	case KindNested:
		return "nested"
	case KindSlice:
		return "slice"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// OpKind is a positional slice edit.
type OpKind uint8

const (
	OpInsert OpKind = iota + 1
	OpRemove
	OpSet
	OpMove
)

func (k OpKind) String() string {
	switch k {
	case OpInsert:
		return "insert"
	case OpRemove:
		return "remove"
	case OpSet:
		return "set"
	case OpMove:
		return "move"
	default:
		return fmt.Sprintf("op(%d)", uint8(k))
	}
}

// Delta lists changed fields. A Reset delta is applied to the zero value
// instead of the receiver's current one, so it does not depend on what the
// receiver held before.
type Delta struct {
	Reset  bool
	Fields []Field
}

// Empty reports whether the delta changes nothing.
func (d Delta) Empty() bool {
	return !d.Reset && len(d.Fields) == 0
}

// Field is the change of one struct field, addressed by a stable index.
type Field struct {
	Index  uint32
	Kind   FieldKind
	Value  []byte
	Nested *Delta
	Ops    []ElemOp
}

// ElemOp edits a slice in place. Ops of one field apply in order, each against
// the result of the previous one. Move removes the element at From and inserts
// it at Index.
type ElemOp struct {
	Kind  OpKind
	Index uint32
	From  uint32
	Value []byte
}

// UnknownField is returned by Differ implementations for indices they do not own.
func UnknownField(f Field) error {
	return fmt.Errorf("%w: %d", ErrUnknownField, f.Index)
}

func expectKind(f Field, k FieldKind) error {
	if f.Kind != k {
		return fmt.Errorf("%w: field %d is %s, want %s", ErrKindMismatch, f.Index, f.Kind, k)
	}
	return nil
}
