package codec

import (
	"encoding/json"
	"fmt"

	"github.com/goccy/go-yaml"

	"github.com/roach88/pipeline/internal/record"
)

// JSON returns a codec for T that honours encoding/json struct tags.
// Encode accepts T or *T; Decode returns T.
func JSON[T any]() Codec {
	return jsonCodec[T]{}
}

type jsonCodec[T any] struct{}

func (jsonCodec[T]) Encode(v any) (record.Document, error) {
	val, err := typed[T](v)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(val)
	if err != nil {
		return nil, fmt.Errorf("json encode: %w", err)
	}
	return record.UnmarshalDocument(data)
}

func (jsonCodec[T]) Decode(doc record.Document) (any, error) {
	data, err := record.MarshalDocument(doc)
	if err != nil {
		return nil, err
	}
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("json decode: %w", err)
	}
	return out, nil
}

// YAML returns a codec for T that honours yaml struct tags.
// The document is still stored in its JSON form; YAML only drives the
// field mapping.
func YAML[T any]() Codec {
	return yamlCodec[T]{}
}

type yamlCodec[T any] struct{}

func (yamlCodec[T]) Encode(v any) (record.Document, error) {
	val, err := typed[T](v)
	if err != nil {
		return nil, err
	}
	data, err := yaml.Marshal(val)
	if err != nil {
		return nil, fmt.Errorf("yaml encode: %w", err)
	}
	js, err := yaml.YAMLToJSON(data)
	if err != nil {
		return nil, fmt.Errorf("yaml encode: %w", err)
	}
	return record.UnmarshalDocument(js)
}

func (yamlCodec[T]) Decode(doc record.Document) (any, error) {
	js, err := record.MarshalDocument(doc)
	if err != nil {
		return nil, err
	}
	data, err := yaml.JSONToYAML(js)
	if err != nil {
		return nil, fmt.Errorf("yaml decode: %w", err)
	}
	var out T
	if err := yaml.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("yaml decode: %w", err)
	}
	return out, nil
}

// Document returns a pass-through codec for callers that already work with
// record.Document values (CLI, HTTP API).
func Document() Codec {
	return documentCodec{}
}

type documentCodec struct{}

func (documentCodec) Encode(v any) (record.Document, error) {
	switch doc := v.(type) {
	case record.Document:
		return normalizeDocument(doc)
	case map[string]any:
		return normalizeDocument(record.Document(doc))
	default:
		return nil, fmt.Errorf("document codec: unsupported value %T", v)
	}
}

func (documentCodec) Decode(doc record.Document) (any, error) {
	return doc.Clone(), nil
}

// normalizeDocument round-trips through JSON so numbers become json.Number.
func normalizeDocument(doc record.Document) (record.Document, error) {
	data, err := record.MarshalDocument(doc)
	if err != nil {
		return nil, err
	}
	return record.UnmarshalDocument(data)
}

// Func builds a codec from an encode/decode function pair.
func Func(encode func(any) (record.Document, error), decode func(record.Document) (any, error)) Codec {
	return funcCodec{encode: encode, decode: decode}
}

type funcCodec struct {
	encode func(any) (record.Document, error)
	decode func(record.Document) (any, error)
}

func (c funcCodec) Encode(v any) (record.Document, error) { return c.encode(v) }

func (c funcCodec) Decode(doc record.Document) (any, error) { return c.decode(doc) }

// typed accepts T or a non-nil *T.
func typed[T any](v any) (T, error) {
	switch val := v.(type) {
	case T:
		return val, nil
	case *T:
		if val != nil {
			return *val, nil
		}
	}
	var zero T
	return zero, fmt.Errorf("codec for %T cannot encode %T", zero, v)
}
