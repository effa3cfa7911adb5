package delta

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

func ApplyInt(f Field, dst *int64) error {
	if err := expectKind(f, KindValue); err != nil {
		return err
	}
	v, err := decodeInt(f.Value)
	if err != nil {
		return fmt.Errorf("field %d: %w", f.Index, err)
	}
	*dst = v
	return nil
}

func ApplyUint(f Field, dst *uint64) error {
	if err := expectKind(f, KindValue); err != nil {
		return err
	}
	v, err := decodeVarint(f.Value)
	if err != nil {
		return fmt.Errorf("field %d: %w", f.Index, err)
	}
	*dst = v
	return nil
}

func ApplyFloat(f Field, dst *float64) error {
	if err := expectKind(f, KindValue); err != nil {
		return err
	}
	bits, n := protowire.ConsumeFixed64(f.Value)
	if n < 0 || n != len(f.Value) {
		return fmt.Errorf("field %d: %w: float of %d bytes", f.Index, ErrMalformed, len(f.Value))
	}
	*dst = math.Float64frombits(bits)
	return nil
}

func ApplyBool(f Field, dst *bool) error {
	if err := expectKind(f, KindValue); err != nil {
		return err
	}
	v, err := decodeVarint(f.Value)
	if err != nil {
		return fmt.Errorf("field %d: %w", f.Index, err)
	}
	*dst = protowire.DecodeBool(v)
	return nil
}

func ApplyString(f Field, dst *string) error {
	if err := expectKind(f, KindValue); err != nil {
		return err
	}
	*dst = string(f.Value)
	return nil
}

func ApplyBytes(f Field, dst *[]byte) error {
	if err := expectKind(f, KindValue); err != nil {
		return err
	}
	*dst = append([]byte{}, f.Value...)
	return nil
}

// ApplyNested hands the nested delta of f to apply.
func ApplyNested(f Field, apply func(Delta) error) error {
	if err := expectKind(f, KindNested); err != nil {
		return err
	}
	if f.Nested == nil {
		return fmt.Errorf("field %d: %w: nested delta missing", f.Index, ErrMalformed)
	}
	if err := apply(*f.Nested); err != nil {
		return fmt.Errorf("field %d: %w", f.Index, err)
	}
	return nil
}

// ApplySlice runs the element ops of f against a copy of *dst and stores the
// result only when every op succeeded.
func ApplySlice[E any](f Field, dst *[]E, codec ElemCodec[E]) error {
	if err := expectKind(f, KindSlice); err != nil {
		return err
	}
	out := append([]E(nil), (*dst)...)
	for i, op := range f.Ops {
		var err error
		out, err = applyElem(out, op, codec)
		if err != nil {
			return fmt.Errorf("field %d op %d (%s): %w", f.Index, i, op.Kind, err)
		}
	}
	*dst = out
	return nil
}

func applyElem[E any](s []E, op ElemOp, codec ElemCodec[E]) ([]E, error) {
	idx := int(op.Index)
	switch op.Kind {
	case OpInsert:
		if idx > len(s) {
			return nil, fmt.Errorf("%w: insert at %d of %d", ErrBadPosition, idx, len(s))
		}
		v, err := codec.Decode(op.Value)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		var zero E
		s = append(s, zero)
		copy(s[idx+1:], s[idx:])
		s[idx] = v
		return s, nil
	case OpRemove:
		if idx >= len(s) {
			return nil, fmt.Errorf("%w: remove %d of %d", ErrBadPosition, idx, len(s))
		}
		return append(s[:idx], s[idx+1:]...), nil
	case OpSet:
		if idx >= len(s) {
			return nil, fmt.Errorf("%w: set %d of %d", ErrBadPosition, idx, len(s))
		}
		v, err := codec.Decode(op.Value)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		s[idx] = v
		return s, nil
	case OpMove:
		from := int(op.From)
		if from >= len(s) || idx >= len(s) {
			return nil, fmt.Errorf("%w: move %d to %d of %d", ErrBadPosition, from, idx, len(s))
		}
		v := s[from]
		s = append(s[:from], s[from+1:]...)
		s = append(s, v)
		copy(s[idx+1:], s[idx:])
		s[idx] = v
		return s, nil
	default:
		return nil, fmt.Errorf("%w: unknown op %d", ErrMalformed, uint8(op.Kind))
	}
}
