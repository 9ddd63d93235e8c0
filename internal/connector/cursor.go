package connector

import (
	"github.com/roach88/pipeline/internal/query"
	"github.com/roach88/pipeline/internal/record"
)

// Cursor is a lazy, finite sequence of records.
//
// Usage mirrors database/sql.Rows:
//
//	cur, err := c.Find(ctx, "player", opts)
//	if err != nil { ... }
//	defer cur.Close()
//	for cur.Next() {
//	    rec := cur.Record()
//	}
//	if err := cur.Err(); err != nil { ... }
//
// Close must be safe to call more than once and releases the backend handle
// even when the sequence was abandoned early.
type Cursor interface {
	Next() bool
	Record() record.Record
	Err() error
	Close() error
}

// SliceCursor iterates over an in-memory slice.
func SliceCursor(records []record.Record) Cursor {
	return &sliceCursor{records: records, idx: -1}
}

type sliceCursor struct {
	records []record.Record
	idx     int
	closed  bool
}

func (c *sliceCursor) Next() bool {
	if c.closed || c.idx+1 >= len(c.records) {
		return false
	}
	c.idx++
	return true
}

func (c *sliceCursor) Record() record.Record {
	if c.idx < 0 || c.idx >= len(c.records) {
		return record.Record{}
	}
	return c.records[c.idx]
}

func (c *sliceCursor) Err() error { return nil }

func (c *sliceCursor) Close() error {
	c.closed = true
	c.records = nil
	return nil
}

// Filter wraps src, evaluating pred and applying skip/limit while streaming.
// Used by connectors whose backend cannot evaluate the predicate itself.
// A Limit is enforced by closing src as soon as it is reached.
func Filter(src Cursor, pred query.Predicate, skip, limit int) Cursor {
	return &filterCursor{src: src, pred: pred, skip: skip, limit: limit}
}

type filterCursor struct {
	src     Cursor
	pred    query.Predicate
	skip    int
	limit   int
	emitted int
	cur     record.Record
	done    bool
}

func (c *filterCursor) Next() bool {
	if c.done {
		return false
	}
	if c.limit > 0 && c.emitted >= c.limit {
		c.finish()
		return false
	}
	for c.src.Next() {
		rec := c.src.Record()
		if !query.Eval(c.pred, rec.Payload) {
			continue
		}
		if c.skip > 0 {
			c.skip--
			continue
		}
		c.cur = rec
		c.emitted++
		return true
	}
	c.done = true
	return false
}

func (c *filterCursor) finish() {
	c.done = true
	_ = c.src.Close()
}

func (c *filterCursor) Record() record.Record { return c.cur }

func (c *filterCursor) Err() error { return c.src.Err() }

func (c *filterCursor) Close() error {
	c.done = true
	return c.src.Close()
}

// Collect drains a cursor into a slice and closes it.
func Collect(c Cursor) ([]record.Record, error) {
	defer c.Close()

	records := []record.Record{}
	for c.Next() {
		records = append(records, c.Record())
	}
	if err := c.Err(); err != nil {
		return nil, err
	}
	return records, nil
}
