package audiobuffer

// Stats is a consistent view of buffer occupancy plus the telemetry counters
type Stats struct {
	BufferedBytes   int
	BufferedChunks  int
	Capacity        int
	MaxChunks       int
	FillRatio       float64
	Threshold       float64
	Gate            GateState
	GateTransitions uint64
	CounterSnapshot
}

// FillPercentage returns the fill ratio scaled to [0, 100]
func (s Stats) FillPercentage() float64 {
	return min(max(s.FillRatio*100, 0), 100)
}

// Prebuffered reports whether the gate was Ready when the snapshot was taken
func (s Stats) Prebuffered() bool {
	return s.Gate == GateReady
}

// Stats takes a snapshot. Occupancy fields are read under one lock; counters are
// loaded atomically afterwards and may be slightly newer.
func (b *Buffer) Stats() Stats {
	b.mu.RLock()
	s := Stats{
		BufferedBytes:   b.size,
		BufferedChunks:  len(b.chunks) - b.head,
		Capacity:        b.cfg.Capacity,
		MaxChunks:       b.cfg.Capacity / b.cfg.ChunkSize,
		FillRatio:       b.fillRatioLocked(),
		Threshold:       b.gate.Threshold(),
		Gate:            b.gate.State(),
		GateTransitions: b.gate.Transitions(),
	}
	b.mu.RUnlock()

	s.CounterSnapshot = b.counters.Snapshot()
	return s
}
