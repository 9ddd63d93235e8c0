package codec

import (
	"errors"
	"fmt"
	"sort"

	"github.com/roach88/pipeline/internal/record"
)

var (
	// ErrUnsupportedType is returned by Resolve when no codec is registered for a type.
	ErrUnsupportedType = errors.New("unsupported type")

	// ErrDuplicateCodec is returned by Register when the type already has a codec.
	ErrDuplicateCodec = errors.New("duplicate codec")
)

// Codec converts between domain values and backend-neutral documents.
type Codec interface {
	Encode(v any) (record.Document, error)
	Decode(doc record.Document) (any, error)
}

// Builder collects registrations before the Registry is frozen.
// A Builder is not safe for concurrent use.
type Builder struct {
	codecs map[string]Codec
}

// NewBuilder creates an empty Builder.
func NewBuilder() *Builder {
	return &Builder{codecs: make(map[string]Codec)}
}

// Register binds a codec to a type tag.
// Registering a second codec for the same type fails with ErrDuplicateCodec.
func (b *Builder) Register(typ string, c Codec) error {
	if typ == "" {
		return fmt.Errorf("register codec: empty type")
	}
	if c == nil {
		return fmt.Errorf("register codec for %q: nil codec", typ)
	}
	key := record.NewKey(typ, "_").Type
	if _, exists := b.codecs[key]; exists {
		return fmt.Errorf("register codec for %q: %w", typ, ErrDuplicateCodec)
	}
	b.codecs[key] = c
	return nil
}

// Build returns an immutable Registry holding a copy of the registrations.
// The Builder may keep being used; later registrations do not affect the
// returned Registry.
func (b *Builder) Build() *Registry {
	codecs := make(map[string]Codec, len(b.codecs))
	for typ, c := range b.codecs {
		codecs[typ] = c
	}
	return &Registry{codecs: codecs}
}

// Registry is a read-only type → codec mapping.
// Safe for concurrent use.
type Registry struct {
	codecs map[string]Codec
}

// Resolve returns the codec registered for typ.
func (r *Registry) Resolve(typ string) (Codec, error) {
	if r != nil {
		if c, ok := r.codecs[record.NewKey(typ, "_").Type]; ok {
			return c, nil
		}
	}
	return nil, fmt.Errorf("resolve codec for %q: %w", typ, ErrUnsupportedType)
}

// Types returns the registered type tags in sorted order.
func (r *Registry) Types() []string {
	if r == nil {
		return nil
	}
	types := make([]string, 0, len(r.codecs))
	for typ := range r.codecs {
		types = append(types, typ)
	}
	sort.Strings(types)
	return types
}

// Encode resolves the codec for typ and encodes v.
func (r *Registry) Encode(typ string, v any) (record.Document, error) {
	c, err := r.Resolve(typ)
	if err != nil {
		return nil, err
	}
	doc, err := c.Encode(v)
	if err != nil {
		return nil, fmt.Errorf("encode %q: %w", typ, err)
	}
	return doc, nil
}

// Decode resolves the codec for typ and decodes doc.
func (r *Registry) Decode(typ string, doc record.Document) (any, error) {
	c, err := r.Resolve(typ)
	if err != nil {
		return nil, err
	}
	v, err := c.Decode(doc)
	if err != nil {
		return nil, fmt.Errorf("decode %q: %w", typ, err)
	}
	return v, nil
}
