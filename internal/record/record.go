package record

import "time"

// Record is the unit every connector reads and writes.
type Record struct {
	Key          Key
	Version      int64
	Payload      Document
	LastModified time.Time
}

// Clone returns a deep copy so that tiers never share a mutable payload.
func (r Record) Clone() Record {
	r.Payload = r.Payload.Clone()
	return r
}
