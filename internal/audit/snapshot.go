package audit

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"slices"
)

// Snapshot serializes v to canonical JSON: object keys sorted, numbers kept as
// their exact decimal text, no HTML escaping. Domain types are expected to
// marshal dates as YYYY-MM-DD, decimals as strings and enums as their wire
// value, so a snapshot never passes a financial value through a float.
// A nil v yields a nil snapshot.
func Snapshot(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	if rv := reflect.ValueOf(v); rv.Kind() == reflect.Pointer && rv.IsNil() {
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}
	return Canonicalize(raw)
}

// Canonicalize rewrites a JSON document into its canonical form.
func Canonicalize(raw []byte) (json.RawMessage, error) {
	tree, err := decodeTree(raw)
	if err != nil {
		return nil, err
	}
	return encodeTree(tree)
}

func decodeTree(raw []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var tree any
	if err := dec.Decode(&tree); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return tree, nil
}

// encoding/json writes map keys in sorted order, which is what makes the
// re-encoded tree canonical.
func encodeTree(tree any) (json.RawMessage, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(tree); err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return json.RawMessage(bytes.TrimRight(buf.Bytes(), "\n")), nil
}

// ChangedFields lists the top-level keys whose values differ between two
// object snapshots. A missing side counts as an empty object.
func ChangedFields(before, after json.RawMessage) ([]string, error) {
	b, err := objectOf(before)
	if err != nil {
		return nil, err
	}
	a, err := objectOf(after)
	if err != nil {
		return nil, err
	}

	changed := []string{}
	for k, bv := range b {
		av, ok := a[k]
		if !ok || !reflect.DeepEqual(bv, av) {
			changed = append(changed, k)
		}
	}
	for k := range a {
		if _, ok := b[k]; !ok {
			changed = append(changed, k)
		}
	}
	slices.Sort(changed)
	return changed, nil
}

func objectOf(raw json.RawMessage) (map[string]any, error) {
	if len(raw) == 0 {
		return map[string]any{}, nil
	}
	tree, err := decodeTree(raw)
	if err != nil {
		return nil, err
	}
	obj, ok := tree.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("snapshot is not a JSON object")
	}
	return obj, nil
}

// Decode restores a snapshot into a domain value.
func Decode[T any](raw json.RawMessage) (T, error) {
	var out T
	if len(raw) == 0 {
		return out, fmt.Errorf("empty snapshot")
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("decode snapshot: %w", err)
	}
	return out, nil
}
