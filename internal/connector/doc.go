// Package connector defines the storage contract every backend adapter
// implements, together with the error taxonomy adapters map their native
// failures onto.
//
// Connectors are interchangeable by capability, not by type: the engine only
// depends on the Connector interface and asks Capabilities() which guarantees
// the backend offers natively:
//   - NativeCAS: Put/Remove with an expected version are atomic
//   - NativeTTL: Put honours WithTTL by expiring the record itself
//
// Version expectations passed to Put and Remove:
//   - AnyVersion: unconditional write
//   - 0: the record must not exist (set-if-absent)
//   - n > 0: the stored version must be exactly n
//
// Implementations in sub-packages:
//   - memstore: in-process maps, used for tests and single-host setups
//   - sqlstore: SQLite, the durable persistent tier
//   - redisstore: Redis, the shared network cache and lock backend
//   - zkstore: ZooKeeper, an alternative shared tier with znode-version CAS
package connector
