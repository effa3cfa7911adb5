package delta

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Wire layout, protobuf compatible:
//
//	Delta  { repeated Field fields = 1; bool reset = 2; }
//	Field  { uint32 index = 1; uint32 kind = 2; bytes value = 3; Delta nested = 4; repeated ElemOp ops = 5; }
//	ElemOp { uint32 kind = 1; uint32 index = 2; uint32 from = 3; bytes value = 4; }
const maxDepth = 64

// Marshal encodes d. The empty delta encodes to zero bytes.
func Marshal(d Delta) []byte {
	return appendDelta(nil, d)
}

func appendDelta(b []byte, d Delta) []byte {
	if d.Reset {
		b = protowire.AppendTag(b, 2, protowire.VarintType)
		b = protowire.AppendVarint(b, 1)
	}
	for _, f := range d.Fields {
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendBytes(b, appendField(nil, f))
	}
	return b
}

func appendField(b []byte, f Field) []byte {
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(f.Index))
	b = protowire.AppendTag(b, 2, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(f.Kind))
	switch f.Kind {
	case KindValue:
		b = protowire.AppendTag(b, 3, protowire.BytesType)
		b = protowire.AppendBytes(b, f.Value)
	case KindNested:
		var nested Delta
		if f.Nested != nil {
			nested = *f.Nested
		}
		b = protowire.AppendTag(b, 4, protowire.BytesType)
		b = protowire.AppendBytes(b, appendDelta(nil, nested))
	case KindSlice:
		for _, op := range f.Ops {
			b = protowire.AppendTag(b, 5, protowire.BytesType)
			b = protowire.AppendBytes(b, appendOp(nil, op))
		}
	}
	return b
}

func appendOp(b []byte, op ElemOp) []byte {
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(op.Kind))
	b = protowire.AppendTag(b, 2, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(op.Index))
	if op.Kind == OpMove {
		b = protowire.AppendTag(b, 3, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(op.From))
	}
	if op.Kind == OpInsert || op.Kind == OpSet {
		b = protowire.AppendTag(b, 4, protowire.BytesType)
		b = protowire.AppendBytes(b, op.Value)
	}
	return b
}

// Unmarshal decodes a delta produced by Marshal. Unknown fields are skipped;
// truncated or inconsistent input returns an error wrapping ErrMalformed.
func Unmarshal(b []byte) (Delta, error) {
	return consumeDelta(b, 0)
}

func malformed(n int) error {
	return fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
}

func consumeDelta(b []byte, depth int) (Delta, error) {
	if depth > maxDepth {
		return Delta{}, fmt.Errorf("%w: nesting deeper than %d", ErrMalformed, maxDepth)
	}
	var d Delta
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return Delta{}, malformed(n)
		}
		b = b[n:]
		if num == 1 && typ == protowire.BytesType {
			raw, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return Delta{}, malformed(n)
			}
			f, err := consumeField(raw, depth)
			if err != nil {
				return Delta{}, err
			}
			d.Fields = append(d.Fields, f)
			b = b[n:]
			continue
		}
		if num == 2 && typ == protowire.VarintType {
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return Delta{}, malformed(n)
			}
			d.Reset = v != 0
			b = b[n:]
			continue
		}
		n = protowire.ConsumeFieldValue(num, typ, b)
		if n < 0 {
			return Delta{}, malformed(n)
		}
		b = b[n:]
	}
	return d, nil
}

func consumeUint32(b []byte) (uint32, int, error) {
	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return 0, 0, malformed(n)
	}
	if v > 1<<32-1 {
		return 0, 0, fmt.Errorf("%w: value %d overflows uint32", ErrMalformed, v)
	}
	return uint32(v), n, nil
}

func consumeField(b []byte, depth int) (Field, error) {
	var f Field
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return Field{}, malformed(n)
		}
		b = b[n:]
		switch {
		case num == 1 && typ == protowire.VarintType:
			v, n, err := consumeUint32(b)
			if err != nil {
				return Field{}, err
			}
			f.Index = v
			b = b[n:]
		case num == 2 && typ == protowire.VarintType:
			v, n, err := consumeUint32(b)
			if err != nil {
				return Field{}, err
			}
			if v > 0xff {
				return Field{}, fmt.Errorf("%w: field kind %d", ErrMalformed, v)
			}
			f.Kind = FieldKind(v)
			b = b[n:]
		case num == 3 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return Field{}, malformed(n)
			}
			f.Value = append([]byte{}, v...)
			b = b[n:]
		case num == 4 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return Field{}, malformed(n)
			}
			nested, err := consumeDelta(v, depth+1)
			if err != nil {
				return Field{}, err
			}
			f.Nested = &nested
			b = b[n:]
		case num == 5 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return Field{}, malformed(n)
			}
			op, err := consumeOp(v)
			if err != nil {
				return Field{}, err
			}
			f.Ops = append(f.Ops, op)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return Field{}, malformed(n)
			}
			b = b[n:]
		}
	}

	switch f.Kind {
	case KindValue:
		if f.Value == nil {
			f.Value = []byte{}
		}
	case KindNested:
		if f.Nested == nil {
			f.Nested = &Delta{}
		}
	case KindSlice:
	default:
		return Field{}, fmt.Errorf("%w: field %d has kind %d", ErrMalformed, f.Index, uint8(f.Kind))
	}
	return f, nil
}

func consumeOp(b []byte) (ElemOp, error) {
	var op ElemOp
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return ElemOp{}, malformed(n)
		}
		b = b[n:]
		switch {
		case num == 1 && typ == protowire.VarintType:
			v, n, err := consumeUint32(b)
			if err != nil {
				return ElemOp{}, err
			}
			if v > 0xff {
				return ElemOp{}, fmt.Errorf("%w: op kind %d", ErrMalformed, v)
			}
			op.Kind = OpKind(v)
			b = b[n:]
		case num == 2 && typ == protowire.VarintType:
			v, n, err := consumeUint32(b)
			if err != nil {
				return ElemOp{}, err
			}
			op.Index = v
			b = b[n:]
		case num == 3 && typ == protowire.VarintType:
			v, n, err := consumeUint32(b)
			if err != nil {
				return ElemOp{}, err
			}
			op.From = v
			b = b[n:]
		case num == 4 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return ElemOp{}, malformed(n)
			}
			op.Value = append([]byte{}, v...)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return ElemOp{}, malformed(n)
			}
			b = b[n:]
		}
	}
	if op.Kind < OpInsert || op.Kind > OpMove {
		return ElemOp{}, fmt.Errorf("%w: op kind %d", ErrMalformed, uint8(op.Kind))
	}
	return op, nil
}
