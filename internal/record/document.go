package record

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Document is the backend-neutral structured payload of a record.
//
// Values are the JSON data model: string, json.Number, bool, nil,
// []any and map[string]any. Numbers are kept as json.Number so integers
// above 2^53 survive a round trip through any backend.
type Document map[string]any

// MarshalDocument returns the JSON form persisted by connectors.
// Keys are emitted in sorted order and HTML escaping is disabled, so equal
// documents always produce identical bytes.
func MarshalDocument(doc Document) ([]byte, error) {
	if doc == nil {
		doc = Document{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(map[string]any(doc)); err != nil {
		return nil, fmt.Errorf("marshal document: %w", err)
	}
	// Encoder adds a trailing newline
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// UnmarshalDocument parses the JSON form produced by MarshalDocument.
func UnmarshalDocument(data []byte) (Document, error) {
	if len(data) == 0 {
		return Document{}, nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("unmarshal document: %w", err)
	}
	if doc == nil {
		doc = map[string]any{}
	}
	return Document(doc), nil
}

// Lookup resolves a dotted field path ("address.city") inside the document.
func (d Document) Lookup(path string) (any, bool) {
	var cur any = map[string]any(d)
	for _, part := range strings.Split(path, ".") {
		m, ok := asMap(cur)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// Clone returns a deep copy of the document.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	return Document(cloneValue(map[string]any(d)).(map[string]any))
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case Document:
		return map[string]any(m), true
	default:
		return nil, false
	}
}

func cloneValue(v any) any {
	if m, ok := asMap(v); ok {
		out := make(map[string]any, len(m))
		for k, elem := range m {
			out[k] = cloneValue(elem)
		}
		return out
	}
	switch val := v.(type) {
	case []any:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = cloneValue(elem)
		}
		return out
	default:
		return val
	}
}
