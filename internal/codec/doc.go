// Package codec maps record type tags to serializer/deserializer pairs.
//
// A Registry is assembled once at startup with a Builder and is read-only
// afterwards; the engine receives it as explicit configuration instead of
// consulting process-wide state:
//
//	b := codec.NewBuilder()
//	if err := b.Register("player", codec.JSON[Player]()); err != nil { ... }
//	reg := b.Build()
//	eng := engine.New(storage, reg, ...)
//
// Codecs must be pure: Encode and Decode have no side effects and are
// deterministic, so Decode(Encode(v)) is equal to v for every well-formed v.
package codec
