package diff

import (
	"bytes"
	"encoding/json"

	jsonpatch "github.com/evanphx/json-patch/v5"
	"github.com/wI2L/jsondiff"
)

type jsonPatch[T any] struct{}

// JSONPatch diffs the JSON form of T into an RFC 6902 patch. Any
// JSON-serialisable type works.
func JSONPatch[T any]() Codec[T] {
	return jsonPatch[T]{}
}

func (jsonPatch[T]) Name() string { return VariantPatch }

func (jsonPatch[T]) Diff(old, new T) ([]byte, error) {
	a, err := json.Marshal(old)
	if err != nil {
		return nil, encodeError(err)
	}
	b, err := json.Marshal(new)
	if err != nil {
		return nil, encodeError(err)
	}
	return comparePatch(a, b)
}

func (jsonPatch[T]) Apply(v T, payload []byte) (T, error) {
	var zero T
	doc, err := json.Marshal(v)
	if err != nil {
		return zero, encodeError(err)
	}
	if doc, err = applyPatch(doc, payload); err != nil {
		return zero, err
	}
	var out T
	if err := json.Unmarshal(doc, &out); err != nil {
		return zero, decodeError(err)
	}
	return out, nil
}

func (jsonPatch[T]) NewTracker(initial T) (Tracker[T], error) {
	doc, err := json.Marshal(initial)
	if err != nil {
		return nil, encodeError(err)
	}
	return &patchTracker[T]{base: doc, next: doc}, nil
}

func (jsonPatch[T]) NewApplier(initial T) (Applier[T], error) {
	doc, err := json.Marshal(initial)
	if err != nil {
		return nil, encodeError(err)
	}
	return &patchApplier[T]{doc: doc, value: initial}, nil
}

// decodeNumbers keeps numbers as json.Number so values beyond 2^53 compare
// exactly.
func decodeNumbers(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}

func comparePatch(a, b []byte) ([]byte, error) {
	p, err := jsondiff.CompareJSON(a, b, jsondiff.UnmarshalFunc(decodeNumbers))
	if err != nil {
		return nil, encodeError(err)
	}
	if len(p) == 0 {
		return []byte("[]"), nil
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, encodeError(err)
	}
	return raw, nil
}

// rootOp is the single operation of a snapshot payload.
type rootOp struct {
	Op    string          `json:"op"`
	Path  *string         `json:"path"`
	Value json.RawMessage `json:"value"`
}

func snapshotPatch(doc []byte) ([]byte, error) {
	root := ""
	raw, err := json.Marshal([]rootOp{{Op: "replace", Path: &root, Value: doc}})
	if err != nil {
		return nil, encodeError(err)
	}
	return raw, nil
}

// snapshotValue returns the document carried by a whole-document replace.
// json-patch only replaces the root with objects and arrays, so scalars are
// handled here.
func snapshotValue(payload []byte) (json.RawMessage, bool) {
	var ops []rootOp
	if err := json.Unmarshal(payload, &ops); err != nil || len(ops) != 1 {
		return nil, false
	}
	op := ops[0]
	if op.Op != "replace" || op.Path == nil || *op.Path != "" || len(op.Value) == 0 {
		return nil, false
	}
	return op.Value, true
}

func applyPatch(doc, payload []byte) ([]byte, error) {
	if value, ok := snapshotValue(payload); ok {
		return value, nil
	}
	p, err := jsonpatch.DecodePatch(payload)
	if err != nil {
		return nil, decodeError(err)
	}
	if len(p) == 0 {
		return doc, nil
	}
	out, err := p.Apply(doc)
	if err != nil {
		return nil, decodeError(err)
	}
	return out, nil
}

// patchTracker sends the whole document until the first Commit, then patches
// against the last committed document.
type patchTracker[T any] struct {
	base      []byte
	next      []byte
	committed bool
}

func (t *patchTracker[T]) Diff(v T) ([]byte, error) {
	doc, err := json.Marshal(v)
	if err != nil {
		return nil, encodeError(err)
	}
	t.next = doc
	if !t.committed {
		return snapshotPatch(doc)
	}
	return comparePatch(t.base, doc)
}

func (t *patchTracker[T]) Commit() {
	t.base = t.next
	t.committed = true
}

// patchApplier keeps the JSON mirror and rebuilds T from it after every batch.
type patchApplier[T any] struct {
	doc   []byte
	value T
}

func (a *patchApplier[T]) Apply(payloads ...[]byte) error {
	doc := a.doc
	for _, payload := range payloads {
		var err error
		if doc, err = applyPatch(doc, payload); err != nil {
			return err
		}
	}
	var value T
	if err := json.Unmarshal(doc, &value); err != nil {
		return decodeError(err)
	}
	a.doc, a.value = doc, value
	return nil
}

func (a *patchApplier[T]) Value() T {
	return a.value
}
