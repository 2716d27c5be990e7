package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// SharedContext is the ordered key/value store threaded through the node
// sequence of an execution. Values are never mutated in place: With and Merge
// return a new context and leave the receiver untouched, so a context handed
// to one node cannot be changed by a later one.
//
// Keys keep the position of their first write. Overwriting a key replaces
// the value only.
type SharedContext struct {
	keys   []string
	values map[string]any
}

// NewSharedContext builds a context from a plain map. Map iteration order is
// random, so keys are inserted in sorted order to keep the result stable.
func NewSharedContext(initial map[string]any) SharedContext {
	var sc SharedContext

	return sc.Merge(initial)
}

// Len returns the number of keys.
func (sc SharedContext) Len() int {
	return len(sc.keys)
}

// Get returns the value stored under key.
func (sc SharedContext) Get(key string) (any, bool) {
	v, ok := sc.values[key]

	return v, ok
}

// Has reports whether key has been written.
func (sc SharedContext) Has(key string) bool {
	_, ok := sc.values[key]

	return ok
}

// Keys returns the keys in first-write order.
func (sc SharedContext) Keys() []string {
	out := make([]string, len(sc.keys))
	copy(out, sc.keys)

	return out
}

// With returns a copy of the context with key set to value.
func (sc SharedContext) With(key string, value any) SharedContext {
	next := sc.clone(1)
	next.set(key, value)

	return next
}

// Merge returns a copy of the context with every entry of fields set at the
// root. New keys are appended in sorted order.
func (sc SharedContext) Merge(fields map[string]any) SharedContext {
	next := sc.clone(len(fields))
	for _, key := range sortedKeys(fields) {
		next.set(key, fields[key])
	}

	return next
}

// Map returns a shallow copy as a plain map, suitable as template data.
func (sc SharedContext) Map() map[string]any {
	out := make(map[string]any, len(sc.keys))
	for k, v := range sc.values {
		out[k] = v
	}

	return out
}

func (sc SharedContext) clone(extra int) SharedContext {
	next := SharedContext{
		keys:   make([]string, len(sc.keys), len(sc.keys)+extra),
		values: make(map[string]any, len(sc.keys)+extra),
	}
	copy(next.keys, sc.keys)

	for k, v := range sc.values {
		next.values[k] = v
	}

	return next
}

func (sc *SharedContext) set(key string, value any) {
	if sc.values == nil {
		sc.values = make(map[string]any)
	}

	if _, exists := sc.values[key]; !exists {
		sc.keys = append(sc.keys, key)
	}

	sc.values[key] = value
}

// MarshalJSON encodes the context as a JSON object in key order.
func (sc SharedContext) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte('{')

	for i, key := range sc.keys {
		if i > 0 {
			buf.WriteByte(',')
		}

		k, err := json.Marshal(key)
		if err != nil {
			return nil, err
		}

		v, err := json.Marshal(sc.values[key])
		if err != nil {
			return nil, fmt.Errorf("encoding context key %q: %w", key, err)
		}

		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}

	buf.WriteByte('}')

	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object, keeping the order of its top-level keys.
func (sc *SharedContext) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*sc = SharedContext{}

		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))

	tok, err := dec.Token()
	if err != nil {
		return err
	}

	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return errors.New("shared context must be a JSON object")
	}

	next := SharedContext{}

	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}

		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("unexpected token %v in shared context", tok)
		}

		var value any
		if err := dec.Decode(&value); err != nil {
			return fmt.Errorf("decoding context key %q: %w", key, err)
		}

		next.set(key, value)
	}

	if _, err := dec.Token(); err != nil {
		return err
	}

	*sc = next

	return nil
}
