package record

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"
)

// ErrInvalidKey is returned when a key has an empty type or id.
var ErrInvalidKey = errors.New("invalid record key")

// Key identifies a record across all tiers.
// (Type, ID) is globally unique.
type Key struct {
	Type string
	ID   string
}

// NewKey builds a Key with NFC-normalized components.
func NewKey(typ, id string) Key {
	return Key{
		Type: norm.NFC.String(typ),
		ID:   norm.NFC.String(id),
	}
}

// ParseKey parses the "type/id" form produced by Key.String.
// The id may itself contain slashes; the type may not.
func ParseKey(s string) (Key, error) {
	typ, id, ok := strings.Cut(s, "/")
	if !ok {
		return Key{}, fmt.Errorf("%w: %q has no type separator", ErrInvalidKey, s)
	}
	k := NewKey(typ, id)
	if err := k.Validate(); err != nil {
		return Key{}, err
	}
	return k, nil
}

// String returns "type/id".
func (k Key) String() string {
	return k.Type + "/" + k.ID
}

// Validate reports whether the key can address a record.
func (k Key) Validate() error {
	if k.Type == "" {
		return fmt.Errorf("%w: empty type", ErrInvalidKey)
	}
	if strings.Contains(k.Type, "/") {
		return fmt.Errorf("%w: type %q contains '/'", ErrInvalidKey, k.Type)
	}
	if k.ID == "" {
		return fmt.Errorf("%w: empty id for type %q", ErrInvalidKey, k.Type)
	}
	return nil
}

// NewID returns a fresh time-sortable UUIDv7 string for use as a record id.
//
// Panics if UUID generation fails (should never happen in practice).
func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}
