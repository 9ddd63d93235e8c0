// Package lock grants exclusive, TTL-bounded ownership of a record key
// across nodes.
//
// A lock is an ordinary record of type "lock:<type>" in a connector with
// native CAS, usually the shared network cache:
//
//	{"owner": "node-a", "nonce": "...", "acquired_at": "...", "expires_at": "..."}
//
// Acquire is a create-if-absent. A lock whose expires_at has passed is free:
// any node may take it over with a CAS on the stored lock version. On
// backends with native TTL the lock record also carries a backend expiry,
// so a crashed holder's record disappears on its own.
//
// Acquire never blocks or retries; callers choose the backoff policy.
package lock
