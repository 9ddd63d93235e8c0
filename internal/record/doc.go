// Package record defines the versioned record model shared by every tier of
// the pipeline.
//
// A record is addressed by a Key (type tag + id) and carries:
//   - Version: monotonic optimistic-concurrency token, starting at 1
//   - Payload: a backend-neutral Document produced by a codec
//   - LastModified: wall time of the write that produced this version
//
// Connectors persist the Document in its JSON form (MarshalDocument) so that
// relational, document and key-value backends all share one layout:
// (type, id, version, payload, last_modified).
//
// Keys are NFC-normalized on construction so that visually identical type
// tags and ids always address the same record on every node.
package record
