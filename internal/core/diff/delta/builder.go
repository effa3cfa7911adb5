package delta

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"reflect"

	"google.golang.org/protobuf/encoding/protowire"
)

// Builder collects the changed fields of one value. Setters compare the old
// and new value and record nothing when they are equal.
type Builder struct {
	fields []Field
	err    error
}

func NewBuilder() *Builder {
	return &Builder{}
}

func (b *Builder) value(index uint32, v []byte) *Builder {
	b.fields = append(b.fields, Field{Index: index, Kind: KindValue, Value: v})
	return b
}

func (b *Builder) Int(index uint32, old, new int64) *Builder {
	if old == new {
		return b
	}
	return b.value(index, encodeInt(new))
}

func (b *Builder) Uint(index uint32, old, new uint64) *Builder {
	if old == new {
		return b
	}
	return b.value(index, protowire.AppendVarint(nil, new))
}

func (b *Builder) Float(index uint32, old, new float64) *Builder {
	if math.Float64bits(old) == math.Float64bits(new) {
		return b
	}
	return b.value(index, protowire.AppendFixed64(nil, math.Float64bits(new)))
}

func (b *Builder) Bool(index uint32, old, new bool) *Builder {
	if old == new {
		return b
	}
	return b.value(index, protowire.AppendVarint(nil, protowire.EncodeBool(new)))
}

func (b *Builder) String(index uint32, old, new string) *Builder {
	if old == new {
		return b
	}
	return b.value(index, []byte(new))
}

func (b *Builder) Bytes(index uint32, old, new []byte) *Builder {
	if bytes.Equal(old, new) {
		return b
	}
	return b.value(index, append([]byte{}, new...))
}

// Nested records d as the change of a composite field. Empty deltas are skipped.
func (b *Builder) Nested(index uint32, d Delta) *Builder {
	if d.Empty() {
		return b
	}
	b.fields = append(b.fields, Field{Index: index, Kind: KindNested, Nested: &d})
	return b
}

// Build returns the collected delta, or the first element encoding error.
func (b *Builder) Build() (Delta, error) {
	if b.err != nil {
		return Delta{}, b.err
	}
	return Delta{Fields: b.fields}, nil
}

// ElemCodec tells Slice how to compare and serialise elements of type E.
type ElemCodec[E any] struct {
	Equal  func(a, b E) bool
	Encode func(E) ([]byte, error)
	Decode func([]byte) (E, error)
}

func StringElem() ElemCodec[string] {
	return ElemCodec[string]{
		Equal:  func(a, b string) bool { return a == b },
		Encode: func(s string) ([]byte, error) { return []byte(s), nil },
		Decode: func(b []byte) (string, error) { return string(b), nil },
	}
}

func IntElem() ElemCodec[int64] {
	return ElemCodec[int64]{
		Equal:  func(a, b int64) bool { return a == b },
		Encode: func(v int64) ([]byte, error) { return encodeInt(v), nil },
		Decode: decodeInt,
	}
}

// JSONElem serialises elements with encoding/json, for element types that
// have no dedicated codec.
func JSONElem[E any]() ElemCodec[E] {
	return ElemCodec[E]{
		Equal:  func(a, b E) bool { return reflect.DeepEqual(a, b) },
		Encode: func(v E) ([]byte, error) { return json.Marshal(v) },
		Decode: func(b []byte) (E, error) {
			var v E
			err := json.Unmarshal(b, &v)
			return v, err
		},
	}
}

// Slice records the positional edits turning old into new. The common prefix
// and suffix are trimmed; a middle window that is a rotation by one element
// becomes a single move, otherwise overlapping elements become sets and the
// length difference becomes inserts or removes.
func Slice[E any](b *Builder, index uint32, old, new []E, codec ElemCodec[E]) *Builder {
	if b.err != nil {
		return b
	}
	ops, err := sliceOps(old, new, codec)
	if err != nil {
		b.err = fmt.Errorf("delta: field %d: %w", index, err)
		return b
	}
	if len(ops) > 0 {
		b.fields = append(b.fields, Field{Index: index, Kind: KindSlice, Ops: ops})
	}
	return b
}

func sliceOps[E any](old, new []E, codec ElemCodec[E]) ([]ElemOp, error) {
	pre := 0
	for pre < len(old) && pre < len(new) && codec.Equal(old[pre], new[pre]) {
		pre++
	}
	suf := 0
	for suf < len(old)-pre && suf < len(new)-pre && codec.Equal(old[len(old)-1-suf], new[len(new)-1-suf]) {
		suf++
	}
	ma := old[pre : len(old)-suf]
	mb := new[pre : len(new)-suf]

	if from, to, ok := rotation(ma, mb, codec); ok {
		return []ElemOp{{Kind: OpMove, From: uint32(pre + from), Index: uint32(pre + to)}}, nil
	}

	var ops []ElemOp
	common := min(len(ma), len(mb))
	for i := 0; i < common; i++ {
		if codec.Equal(ma[i], mb[i]) {
			continue
		}
		v, err := codec.Encode(mb[i])
		if err != nil {
			return nil, err
		}
		ops = append(ops, ElemOp{Kind: OpSet, Index: uint32(pre + i), Value: v})
	}
	for i := common; i < len(mb); i++ {
		v, err := codec.Encode(mb[i])
		if err != nil {
			return nil, err
		}
		ops = append(ops, ElemOp{Kind: OpInsert, Index: uint32(pre + i), Value: v})
	}
	for i := len(ma) - 1; i >= common; i-- {
		ops = append(ops, ElemOp{Kind: OpRemove, Index: uint32(pre + i)})
	}
	return ops, nil
}

// rotation detects b == a rotated by one position in either direction.
func rotation[E any](a, b []E, codec ElemCodec[E]) (from, to int, ok bool) {
	n := len(a)
	if n < 2 || len(b) != n {
		return 0, 0, false
	}
	left := codec.Equal(a[0], b[n-1])
	for i := 1; left && i < n; i++ {
		left = codec.Equal(a[i], b[i-1])
	}
	if left {
		return 0, n - 1, true
	}
	right := codec.Equal(a[n-1], b[0])
	for i := 1; right && i < n; i++ {
		right = codec.Equal(a[i-1], b[i])
	}
	if right {
		return n - 1, 0, true
	}
	return 0, 0, false
}

func encodeInt(v int64) []byte {
	return protowire.AppendVarint(nil, protowire.EncodeZigZag(v))
}

func decodeInt(b []byte) (int64, error) {
	u, err := decodeVarint(b)
	if err != nil {
		return 0, err
	}
	return protowire.DecodeZigZag(u), nil
}

func decodeVarint(b []byte) (uint64, error) {
	u, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return 0, fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
	}
	if n != len(b) {
		return 0, fmt.Errorf("%w: %d trailing bytes", ErrMalformed, len(b)-n)
	}
	return u, nil
}
