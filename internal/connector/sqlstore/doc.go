// Package sqlstore implements connector.Connector on SQLite.
//
// Records live in a single table keyed by (type, id). Payloads are stored as
// canonical JSON, so Find predicates compile to json_type/json_extract
// expressions and run inside SQLite. Predicates that wrap Go functions are
// evaluated while streaming rows instead.
//
// # Versioning
//
// Version checks are part of the write statement itself:
//   - expected 0 is INSERT ... ON CONFLICT DO NOTHING
//   - expected n is UPDATE ... WHERE version = n
//   - AnyVersion is an upsert
//
// so the connector advertises NativeCAS. It has no TTL support.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//
// An open Cursor holds one pooled connection until it is closed.
package sqlstore
