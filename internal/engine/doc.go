// Package engine implements the tiered object pipeline.
//
// The engine is the only entry point application code uses. It reads through
// three tiers and writes through all of them under a lease lock:
//
//	local cache  ->  network cache  ->  persistent storage
//
// ARCHITECTURE:
//
// Reads (Load, Exists):
// 1. The local cache answers without any network call on a hit.
// 2. On a miss the network cache, then storage, are consulted in that order.
// 3. The first hit backfills every faster tier before returning.
// 4. The serving tier is read again; if a concurrent write moved the record
//    on, the backfilled entries are withdrawn.
//
// Writes (Save, Delete):
// 1. Acquire the lease for (type, id); AlreadyLocked goes back to the caller.
// 2. Read the stored version and compute the next one.
// 3. Write storage with compare-and-swap on the prior version.
// 4. Write through the network cache, refresh the local cache.
// 5. Publish an invalidation so peers evict their local copies.
// 6. Release the lease.
//
// Queries (Find) go straight to storage; caches are keyed by id, not by
// predicate.
//
// CRITICAL PATTERNS:
//
// Storage CAS is the arbiter:
// The lease only avoids contention. A CAS conflict while holding the lease
// means the lease was lost to expiry, and Save fails with ErrLockLost rather
// than overwriting. Storage without native CAS falls back to a
// read-compare-write performed entirely under the lease.
//
// Idempotent invalidation:
// Bus delivery is at-least-once and unordered across keys. Handlers only ever
// evict, never install, so duplicates and reordering are harmless. Events a
// node published itself are ignored.
package engine
