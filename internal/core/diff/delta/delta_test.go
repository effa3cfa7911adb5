package delta

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

type level struct {
	Rank uint64
}

type profile struct {
	Name   string
	Score  int64
	Ratio  float64
	Online bool
	Raw    []byte
	Tags   []string
	Nums   []int64
	Level  level
}

func diffLevel(a, b level) Delta {
	d, _ := NewBuilder().Uint(1, a.Rank, b.Rank).Build()
	return d
}

func diffProfile(t *testing.T, a, b profile) Delta {
	t.Helper()
	bld := NewBuilder().
		String(1, a.Name, b.Name).
		Int(2, a.Score, b.Score).
		Float(3, a.Ratio, b.Ratio).
		Bool(4, a.Online, b.Online).
		Bytes(5, a.Raw, b.Raw)
	Slice(bld, 6, a.Tags, b.Tags, StringElem())
	Slice(bld, 7, a.Nums, b.Nums, IntElem())
	bld.Nested(8, diffLevel(a.Level, b.Level))
	d, err := bld.Build()
	require.NoError(t, err)
	return d
}

func applyProfile(p *profile, d Delta) error {
	for _, f := range d.Fields {
		var err error
		switch f.Index {
		case 1:
			err = ApplyString(f, &p.Name)
		case 2:
			err = ApplyInt(f, &p.Score)
		case 3:
			err = ApplyFloat(f, &p.Ratio)
		case 4:
			err = ApplyBool(f, &p.Online)
		case 5:
			err = ApplyBytes(f, &p.Raw)
		case 6:
			err = ApplySlice(f, &p.Tags, StringElem())
		case 7:
			err = ApplySlice(f, &p.Nums, IntElem())
		case 8:
			err = ApplyNested(f, func(n Delta) error {
				for _, nf := range n.Fields {
					if nf.Index != 1 {
						return UnknownField(nf)
					}
					if err := ApplyUint(nf, &p.Level.Rank); err != nil {
						return err
					}
				}
				return nil
			})
		default:
			err = UnknownField(f)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func base() profile {
	return profile{
		Name:  "ada",
		Score: 10,
		Ratio: 0.5,
		Raw:   []byte{1, 2},
		Tags:  []string{"a", "b", "c"},
		Nums:  []int64{1, 2, 3},
		Level: level{Rank: 1},
	}
}

func clone(p profile) profile {
	p.Raw = append([]byte(nil), p.Raw...)
	p.Tags = append([]string(nil), p.Tags...)
	p.Nums = append([]int64(nil), p.Nums...)
	return p
}

func TestUnchangedIsEmpty(t *testing.T) {
	p := base()
	d := diffProfile(t, p, clone(p))
	require.True(t, d.Empty())
	require.Empty(t, Marshal(d))

	back, err := Unmarshal(nil)
	require.NoError(t, err)
	require.True(t, back.Empty())
}

func TestResetSurvivesWire(t *testing.T) {
	d := Delta{Reset: true}
	require.False(t, d.Empty())

	back, err := Unmarshal(Marshal(d))
	require.NoError(t, err)
	require.True(t, back.Reset)
	require.Empty(t, back.Fields)

	d.Fields = []Field{{Index: 1, Kind: KindValue, Value: []byte("x")}}
	back, err = Unmarshal(Marshal(d))
	require.NoError(t, err)
	require.True(t, back.Reset)
	require.Equal(t, d.Fields, back.Fields)
}

func TestDiffApplyThroughWire(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(p *profile)
		fields int
	}{
		{"string", func(p *profile) { p.Name = "grace" }, 1},
		{"empty string", func(p *profile) { p.Name = "" }, 1},
		{"negative int", func(p *profile) { p.Score = -1 << 40 }, 1},
		{"float", func(p *profile) { p.Ratio = 3.25 }, 1},
		{"bool", func(p *profile) { p.Online = true }, 1},
		{"bytes", func(p *profile) { p.Raw = []byte{9} }, 1},
		{"append tag", func(p *profile) { p.Tags = append(p.Tags, "d") }, 1},
		{"drop nums", func(p *profile) { p.Nums = []int64{} }, 1},
		{"nested", func(p *profile) { p.Level.Rank = 7 }, 1},
		{"everything", func(p *profile) {
			*p = profile{Name: "x", Score: 1, Ratio: -1, Online: true, Raw: []byte{},
				Tags: []string{"c", "a"}, Nums: []int64{3, 2, 1, 0}, Level: level{Rank: 2}}
		}, 8},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			a := base()
			b := clone(a)
			tc.mutate(&b)

			d := diffProfile(t, a, b)
			require.Len(t, d.Fields, tc.fields)

			decoded, err := Unmarshal(Marshal(d))
			require.NoError(t, err)

			got := clone(a)
			require.NoError(t, applyProfile(&got, decoded))
			require.Equal(t, b, got)
		})
	}
}

func TestSliceOps(t *testing.T) {
	cases := []struct {
		name     string
		old, new []string
		ops      []ElemOp
	}{
		{"rotate left", []string{"a", "b", "c"}, []string{"b", "c", "a"},
			[]ElemOp{{Kind: OpMove, From: 0, Index: 2}}},
		{"rotate right", []string{"a", "b", "c"}, []string{"c", "a", "b"},
			[]ElemOp{{Kind: OpMove, From: 2, Index: 0}}},
		{"swap inside", []string{"x", "a", "b", "y"}, []string{"x", "b", "a", "y"},
			[]ElemOp{{Kind: OpMove, From: 1, Index: 2}}},
		{"insert middle", []string{"a", "c"}, []string{"a", "b", "c"},
			[]ElemOp{{Kind: OpInsert, Index: 1, Value: []byte("b")}}},
		{"remove tail", []string{"a", "b", "c"}, []string{"a"},
			[]ElemOp{{Kind: OpRemove, Index: 2}, {Kind: OpRemove, Index: 1}}},
		{"set one", []string{"a", "b", "c"}, []string{"a", "z", "c"},
			[]ElemOp{{Kind: OpSet, Index: 1, Value: []byte("z")}}},
		{"equal", []string{"a"}, []string{"a"}, nil},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d, err := Slice(NewBuilder(), 1, tc.old, tc.new, StringElem()).Build()
			require.NoError(t, err)
			if tc.ops == nil {
				require.True(t, d.Empty())
				return
			}
			require.Len(t, d.Fields, 1)
			require.Equal(t, tc.ops, d.Fields[0].Ops)

			got := append([]string(nil), tc.old...)
			require.NoError(t, ApplySlice(d.Fields[0], &got, StringElem()))
			require.Equal(t, tc.new, got)
		})
	}
}

func TestRandomSlices(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	gen := func() []int64 {
		out := make([]int64, rng.Intn(7))
		for i := range out {
			out[i] = int64(rng.Intn(4))
		}
		return out
	}
	for i := 0; i < 1000; i++ {
		a, b := gen(), gen()
		d, err := Slice(NewBuilder(), 3, a, b, IntElem()).Build()
		require.NoError(t, err)

		decoded, err := Unmarshal(Marshal(d))
		require.NoError(t, err)

		got := append([]int64(nil), a...)
		for _, f := range decoded.Fields {
			require.NoError(t, ApplySlice(f, &got, IntElem()))
		}
		require.Equal(t, len(b), len(got), "%v -> %v", a, b)
		for j := range b {
			require.Equal(t, b[j], got[j], "%v -> %v", a, b)
		}
	}
}

func TestJSONElem(t *testing.T) {
	type point struct{ X, Y int }
	codec := JSONElem[point]()
	old := []point{{1, 1}, {2, 2}}
	next := []point{{1, 1}, {2, 3}, {4, 4}}

	d, err := Slice(NewBuilder(), 1, old, next, codec).Build()
	require.NoError(t, err)

	got := append([]point(nil), old...)
	require.NoError(t, ApplySlice(d.Fields[0], &got, codec))
	require.Equal(t, next, got)
}

func TestApplyErrors(t *testing.T) {
	t.Run("kind mismatch", func(t *testing.T) {
		var s string
		err := ApplyString(Field{Index: 1, Kind: KindSlice}, &s)
		require.ErrorIs(t, err, ErrKindMismatch)
	})

	t.Run("unknown field", func(t *testing.T) {
		p := base()
		err := applyProfile(&p, Delta{Fields: []Field{{Index: 42, Kind: KindValue}}})
		require.ErrorIs(t, err, ErrUnknownField)
	})

	t.Run("bad position leaves slice untouched", func(t *testing.T) {
		tags := []string{"a", "b"}
		f := Field{Index: 6, Kind: KindSlice, Ops: []ElemOp{
			{Kind: OpInsert, Index: 2, Value: []byte("c")},
			{Kind: OpRemove, Index: 9},
		}}
		err := ApplySlice(f, &tags, StringElem())
		require.ErrorIs(t, err, ErrBadPosition)
		require.Equal(t, []string{"a", "b"}, tags)
	})

	t.Run("truncated int", func(t *testing.T) {
		var v int64
		err := ApplyInt(Field{Index: 2, Kind: KindValue, Value: []byte{0x80}}, &v)
		require.ErrorIs(t, err, ErrMalformed)
	})
}

func TestUnmarshalTruncated(t *testing.T) {
	a := base()
	b := clone(a)
	b.Tags = []string{"q", "r"}
	b.Level.Rank = 99
	d := diffProfile(t, a, b)

	// Two top-level fields; keep only the first so every cut lands inside it.
	one := Marshal(Delta{Fields: d.Fields[:1]})
	for i := 1; i < len(one); i++ {
		_, err := Unmarshal(one[:i])
		require.ErrorIs(t, err, ErrMalformed, "cut at %d", i)
	}

	_, err := Unmarshal([]byte{0xff, 0xff, 0xff})
	require.ErrorIs(t, err, ErrMalformed)
}

func TestUnmarshalSkipsUnknownFields(t *testing.T) {
	d := Delta{Fields: []Field{{Index: 2, Kind: KindValue, Value: encodeInt(5)}}}
	raw := Marshal(d)
	raw = append(raw, 0x48, 0x01) // field 9, varint 1

	back, err := Unmarshal(raw)
	require.NoError(t, err)
	require.Equal(t, d, back)
}
