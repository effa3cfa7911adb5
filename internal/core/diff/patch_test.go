package diff

import (
	"encoding/json"
	"math"
	"math/rand"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
)

func decodeTree(t *testing.T, raw []byte) any {
	t.Helper()
	var v any
	require.NoError(t, decodeNumbers(raw, &v), string(raw))
	return v
}

func patchRoundTrip(t *testing.T, a, b string) []map[string]any {
	t.Helper()
	codec := JSONPatch[json.RawMessage]()
	payload, err := codec.Diff(json.RawMessage(a), json.RawMessage(b))
	require.NoError(t, err)

	out, err := codec.Apply(json.RawMessage(a), payload)
	require.NoError(t, err, "patch %s", payload)
	require.Equal(t, decodeTree(t, []byte(b)), decodeTree(t, out), "patch %s", payload)

	var ops []map[string]any
	require.NoError(t, json.Unmarshal(payload, &ops))
	return ops
}

func TestPatchDiffApply(t *testing.T) {
	cases := []struct {
		name string
		a, b string
	}{
		{"scalar replace", `{"value":0}`, `{"value":1}`},
		{"add key", `{"a":1}`, `{"a":1,"b":[1,2]}`},
		{"remove key", `{"a":1,"b":2}`, `{"a":1}`},
		{"nested", `{"a":{"b":{"c":1}}}`, `{"a":{"b":{"c":2,"d":null}}}`},
		{"type change", `{"a":[1]}`, `{"a":{"0":1}}`},
		{"root scalar", `1`, `"x"`},
		{"append", `[1,2]`, `[1,2,3,4]`},
		{"truncate", `[1,2,3,4]`, `[1]`},
		{"element edit", `[{"n":1},{"n":2}]`, `[{"n":1},{"n":5}]`},
		{"null to object", `null`, `{"k":true}`},
		{"beyond float precision", `{"n":9007199254740993}`, `{"n":9007199254740995}`},
		{"max uint64", `{"n":18446744073709551614}`, `{"n":18446744073709551615}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ops := patchRoundTrip(t, tc.a, tc.b)
			require.NotEmpty(t, ops)
		})
	}
}

func TestPatchUsesPointerPaths(t *testing.T) {
	type snapshot struct {
		Value int64    `json:"value"`
		Peers []string `json:"peers"`
	}
	raw, err := JSONPatch[snapshot]().Diff(snapshot{Value: 1, Peers: []string{"a"}}, snapshot{Value: 2, Peers: []string{"a"}})
	require.NoError(t, err)
	require.JSONEq(t, `[{"op":"replace","path":"/value","value":2}]`, string(raw))
}

func TestLargeIntegers(t *testing.T) {
	type wide struct {
		Value uint64 `json:"value"`
	}
	codec := JSONPatch[wide]()
	payload, err := codec.Diff(wide{Value: math.MaxUint64 - 1}, wide{Value: math.MaxUint64})
	require.NoError(t, err)
	require.NotEqual(t, "[]", string(payload))

	got, err := codec.Apply(wide{Value: math.MaxUint64 - 1}, payload)
	require.NoError(t, err)
	require.Equal(t, uint64(math.MaxUint64), got.Value)
}

func TestPatchRejectsMalformed(t *testing.T) {
	codec := JSONPatch[json.RawMessage]()
	doc := json.RawMessage(`{"list":[1,2]}`)
	for _, raw := range []string{
		`{`,
		`[{"op":"replace","path":"/nope","value":1}]`,
		`[{"op":"remove","path":"/list/7"}]`,
		`[{"op":"frobnicate","path":"/list"}]`,
	} {
		_, err := codec.Apply(doc, []byte(raw))
		require.ErrorIs(t, err, ErrDecode, raw)
	}
}

func TestPatchSnapshotReplacesStaleMirror(t *testing.T) {
	type snapshot struct {
		Peers []string `json:"peers"`
	}
	codec := JSONPatch[snapshot]()
	tracker, err := codec.NewTracker(snapshot{})
	require.NoError(t, err)

	payload, err := tracker.Diff(snapshot{Peers: []string{"b"}})
	require.NoError(t, err)
	require.JSONEq(t, `[{"op":"replace","path":"","value":{"peers":["b"]}}]`, string(payload))

	stale, err := codec.NewApplier(snapshot{Peers: []string{"a", "b", "c"}})
	require.NoError(t, err)
	require.NoError(t, stale.Apply(payload))
	require.Equal(t, []string{"b"}, stale.Value().Peers)

	tracker.Commit()
	payload, err = tracker.Diff(snapshot{Peers: []string{"b"}})
	require.NoError(t, err)
	require.Equal(t, "[]", string(payload))
}

func TestRandomRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 500; i++ {
		a := randomTree(rng, 3)
		rawA, err := json.Marshal(a)
		require.NoError(t, err)
		b := mutateTree(rng, decodeTree(t, rawA), 3)
		rawB, err := json.Marshal(b)
		require.NoError(t, err)
		patchRoundTrip(t, string(rawA), string(rawB))
	}
}

var wideNumbers = []string{"9007199254740993", "9007199254740995", "18446744073709551614", "18446744073709551615", "-9223372036854775808"}

func randomScalar(rng *rand.Rand) any {
	switch rng.Intn(5) {
	case 0:
		return nil
	case 1:
		return rng.Intn(2) == 0
	case 2:
		return json.Number(strconv.Itoa(rng.Intn(10)))
	case 3:
		return json.Number(wideNumbers[rng.Intn(len(wideNumbers))])
	default:
		return string(rune('a' + rng.Intn(5)))
	}
}

func randomTree(rng *rand.Rand, depth int) any {
	if depth <= 0 {
		return randomScalar(rng)
	}
	switch rng.Intn(3) {
	case 0:
		n := rng.Intn(5)
		out := make([]any, n)
		for i := range out {
			out[i] = randomTree(rng, depth-1)
		}
		return out
	case 1:
		n := rng.Intn(4)
		out := make(map[string]any, n)
		for i := 0; i < n; i++ {
			out[string(rune('k'+rng.Intn(4)))] = randomTree(rng, depth-1)
		}
		return out
	default:
		return randomScalar(rng)
	}
}

func mutateTree(rng *rand.Rand, v any, depth int) any {
	if rng.Intn(6) == 0 {
		return randomTree(rng, depth)
	}
	switch x := v.(type) {
	case []any:
		switch rng.Intn(3) {
		case 0:
			i := rng.Intn(len(x) + 1)
			x = append(x, nil)
			copy(x[i+1:], x[i:])
			x[i] = randomTree(rng, depth-1)
		case 1:
			if len(x) > 0 {
				i := rng.Intn(len(x))
				x = append(x[:i], x[i+1:]...)
			}
		default:
			for i := range x {
				if rng.Intn(2) == 0 {
					x[i] = mutateTree(rng, x[i], depth-1)
				}
			}
		}
		return x
	case map[string]any:
		for k := range x {
			switch rng.Intn(3) {
			case 0:
				delete(x, k)
			case 1:
				x[k] = mutateTree(rng, x[k], depth-1)
			}
		}
		if rng.Intn(2) == 0 {
			x[string(rune('k'+rng.Intn(6)))] = randomTree(rng, depth-1)
		}
		return x
	default:
		return randomScalar(rng)
	}
}
