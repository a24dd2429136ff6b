package audiobuffer

import "sync/atomic"

// Counters are process-lifetime monotonic telemetry counters. Written totals are
// advanced by Push, read totals by sessions after a successful delivery.
type Counters struct {
	bytesWritten  atomic.Uint64
	chunksWritten atomic.Uint64
	bytesRead     atomic.Uint64
	chunksRead    atomic.Uint64
	chunksEvicted atomic.Uint64
	cursorSkips   atomic.Uint64
}

// CounterSnapshot is a point-in-time copy of Counters
type CounterSnapshot struct {
	BytesWritten  uint64
	ChunksWritten uint64
	BytesRead     uint64
	ChunksRead    uint64
	ChunksEvicted uint64
	CursorSkips   uint64
}

func (c *Counters) addWritten(bytes int) {
	c.bytesWritten.Add(uint64(bytes))
	c.chunksWritten.Add(1)
}

// AddRead records chunks delivered to one client
func (c *Counters) AddRead(bytes, chunks int) {
	if bytes > 0 {
		c.bytesRead.Add(uint64(bytes))
	}
	if chunks > 0 {
		c.chunksRead.Add(uint64(chunks))
	}
}

// Snapshot loads every counter
func (c *Counters) Snapshot() CounterSnapshot {
	return CounterSnapshot{
		BytesWritten:  c.bytesWritten.Load(),
		ChunksWritten: c.chunksWritten.Load(),
		BytesRead:     c.bytesRead.Load(),
		ChunksRead:    c.chunksRead.Load(),
		ChunksEvicted: c.chunksEvicted.Load(),
		CursorSkips:   c.cursorSkips.Load(),
	}
}
