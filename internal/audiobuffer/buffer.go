// Package audiobuffer implements the shared PCM ring buffer between the capture loop and
// the stream sessions, together with its prebuffer gate and telemetry counters.
//
// The buffer holds immutable chunks ordered by arrival. Every chunk gets a sequence
// number; readers keep their own cursor (the next sequence they want) so the buffer
// never tracks consumers. When the byte total exceeds capacity the oldest chunks are
// evicted, and a cursor pointing at evicted data is moved forward on its next read.
// Chunks older than MaxAge are also dropped by Expire, so the fill level drains while the
// producer is silent.
package audiobuffer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tphakala/turntable-streamer/internal/errors"
	"github.com/tphakala/turntable-streamer/internal/logger"
	"github.com/tphakala/turntable-streamer/internal/wavstream"
)

const (
	// DefaultCapacity is the ring capacity in bytes (5 MiB).
	DefaultCapacity = 5 * 1024 * 1024
	// DefaultChunkSize is the nominal chunk size in bytes.
	DefaultChunkSize = 4096
)

// Chunk is one immutable block of PCM bytes. Its data must not be modified after Push.
type Chunk struct {
	Seq    uint64
	Data   []byte
	Pushed time.Time
}

// Len returns the chunk size in bytes
func (c Chunk) Len() int { return len(c.Data) }

// Observer receives buffer events, typically a metrics collector. Calls happen while the
// buffer write lock is held and must not call back into the buffer.
type Observer interface {
	ChunkPushed(bytes, bufferedBytes, bufferedChunks int, fillRatio float64)
	ChunksEvicted(chunks int)
	ChunksExpired(chunks, bufferedBytes, bufferedChunks int, fillRatio float64)
	GateChanged(ready bool)
}

// Config holds buffer construction parameters
type Config struct {
	// Capacity is the maximum number of buffered bytes
	Capacity int
	// ChunkSize is the nominal chunk size, used for the max_chunks figure
	ChunkSize int
	// Threshold is the prebuffer fill ratio in (0, 1]
	Threshold float64
	// MaxAge drops chunks older than this on Expire. Zero disables expiry.
	MaxAge time.Duration
}

// PlaybackSpan returns how long the buffer takes to play out when full, at CD quality.
// It is the natural MaxAge: a live producer never leaves chunks older than this.
func PlaybackSpan(capacity int) time.Duration {
	return wavstream.CDQuality.Duration(capacity)
}

// Validate checks the configuration
func (c Config) Validate() error {
	switch {
	case c.Capacity <= 0:
		return fmt.Errorf("capacity must be positive, got %d", c.Capacity)
	case c.ChunkSize <= 0:
		return fmt.Errorf("chunk size must be positive, got %d", c.ChunkSize)
	case c.ChunkSize > c.Capacity:
		return fmt.Errorf("chunk size %d exceeds capacity %d", c.ChunkSize, c.Capacity)
	case c.Threshold <= 0 || c.Threshold > 1:
		return fmt.Errorf("prebuffer threshold must be in (0, 1], got %g", c.Threshold)
	case c.MaxAge < 0:
		return fmt.Errorf("max age must not be negative, got %s", c.MaxAge)
	}
	return nil
}

// Buffer is the bounded chunk FIFO. One goroutine pushes; any number read concurrently.
type Buffer struct {
	mu       sync.RWMutex
	chunks   []Chunk // live chunks are chunks[head:]
	head     int
	size     int
	nextSeq  uint64
	gate     Gate
	changed  chan struct{} // closed and replaced on every push or expiry
	cfg      Config
	counters Counters
	observer Observer
	log      logger.Logger
	now      func() time.Time
}

// Option configures a Buffer
type Option func(*Buffer)

// WithObserver attaches an event observer
func WithObserver(o Observer) Option {
	return func(b *Buffer) { b.observer = o }
}

// WithLogger overrides the package logger
func WithLogger(l logger.Logger) Option {
	return func(b *Buffer) { b.log = l }
}

// WithClock overrides the time source used to stamp and expire chunks
func WithClock(now func() time.Time) Option {
	return func(b *Buffer) { b.now = now }
}

// New creates an empty buffer in the Filling state
func New(cfg Config, opts ...Option) (*Buffer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.New(err).
			Component("audiobuffer").
			Category(errors.CategoryConfiguration).
			Context("operation", "new_buffer").
			Build()
	}
	b := &Buffer{
		chunks:  make([]Chunk, 0, cfg.Capacity/cfg.ChunkSize+1),
		gate:    NewGate(cfg.Threshold),
		changed: make(chan struct{}),
		cfg:     cfg,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.log == nil {
		b.log = GetLogger()
	}
	return b, nil
}

// Push appends data as the newest chunk, evicts the oldest chunks until the byte total
// fits the capacity, re-evaluates the gate and wakes waiting readers. Push takes
// ownership of data. Empty data is ignored.
func (b *Buffer) Push(data []byte) {
	if len(data) == 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.chunks = append(b.chunks, Chunk{Seq: b.nextSeq, Data: data, Pushed: b.now()})
	b.nextSeq++
	b.size += len(data)
	b.counters.addWritten(len(data))

	evicted := 0
	for b.size > b.cfg.Capacity && b.head < len(b.chunks) {
		b.evictOldestLocked()
		evicted++
	}
	b.compactLocked()

	ratio := b.fillRatioLocked()
	if evicted > 0 {
		b.counters.chunksEvicted.Add(uint64(evicted))
	}
	if b.observer != nil {
		b.observer.ChunkPushed(len(data), b.size, len(b.chunks)-b.head, ratio)
		if evicted > 0 {
			b.observer.ChunksEvicted(evicted)
		}
	}
	b.settleLocked(ratio)
}

// Expire drops chunks pushed more than MaxAge ago and returns how many were dropped.
// While the producer is live the oldest chunk is about one playback span old, so with
// MaxAge at PlaybackSpan this only bites during an outage: the fill level then drains
// at the rate listeners play it out and the gate closes once it falls below threshold.
func (b *Buffer) Expire() int {
	if b.cfg.MaxAge <= 0 {
		return 0
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	cutoff := b.now().Add(-b.cfg.MaxAge)
	expired := 0
	for b.head < len(b.chunks) && b.chunks[b.head].Pushed.Before(cutoff) {
		b.evictOldestLocked()
		expired++
	}
	if expired == 0 {
		return 0
	}
	b.compactLocked()

	ratio := b.fillRatioLocked()
	b.counters.chunksEvicted.Add(uint64(expired))
	if b.observer != nil {
		b.observer.ChunksExpired(expired, b.size, len(b.chunks)-b.head, ratio)
	}
	b.settleLocked(ratio)
	b.log.Debug("expired stale chunks",
		logger.Int("chunks", expired),
		logger.Int("buffered_bytes", b.size))
	return expired
}

// RunExpiry calls Expire every interval until ctx is done
func (b *Buffer) RunExpiry(ctx context.Context, interval time.Duration) error {
	if b.cfg.MaxAge <= 0 {
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			b.Expire()
		}
	}
}

func (b *Buffer) evictOldestLocked() {
	b.size -= b.chunks[b.head].Len()
	b.chunks[b.head] = Chunk{}
	b.head++
}

// settleLocked re-evaluates the gate and wakes waiting readers
func (b *Buffer) settleLocked(ratio float64) {
	if b.gate.Observe(ratio) {
		if b.observer != nil {
			b.observer.GateChanged(b.gate.Ready())
		}
		b.log.Info("prebuffer gate changed",
			logger.String("state", b.gate.State().String()),
			logger.Float64("fill_percentage", ratio*100),
			logger.Float64("threshold", b.gate.Threshold()))
	}

	close(b.changed)
	b.changed = make(chan struct{})
}

// compactLocked drops the evicted prefix once it dominates the backing array
func (b *Buffer) compactLocked() {
	if b.head == 0 || b.head < len(b.chunks)/2 {
		return
	}
	n := copy(b.chunks, b.chunks[b.head:])
	clear(b.chunks[n:])
	b.chunks = b.chunks[:n]
	b.head = 0
}

// Read is the result of SnapshotForRead
type Read struct {
	// Chunks are shared and must be treated as read-only
	Chunks []Chunk
	// Next is the cursor to pass to the following call
	Next uint64
	// Skipped counts chunks the cursor jumped over because they were evicted
	Skipped uint64
}

// Bytes returns the total payload size of the read
func (r Read) Bytes() int {
	n := 0
	for _, c := range r.Chunks {
		n += c.Len()
	}
	return n
}

// SnapshotForRead returns up to maxChunks chunks at or after cursor. An empty result
// means the cursor is caught up with the write head. A cursor older than the oldest
// buffered chunk is advanced to it. maxChunks <= 0 returns every available chunk.
func (b *Buffer) SnapshotForRead(cursor uint64, maxChunks int) Read {
	b.mu.RLock()
	defer b.mu.RUnlock()

	live := b.chunks[b.head:]
	if cursor >= b.nextSeq {
		return Read{Next: min(cursor, b.nextSeq)}
	}

	var skipped uint64
	if len(live) == 0 {
		// everything up to the head was evicted
		skipped = b.nextSeq - cursor
		b.counters.cursorSkips.Add(1)
		return Read{Next: b.nextSeq, Skipped: skipped}
	}

	oldest := live[0].Seq
	if cursor < oldest {
		skipped = oldest - cursor
		cursor = oldest
		b.counters.cursorSkips.Add(1)
	}

	start := int(cursor - oldest)
	end := len(live)
	if maxChunks > 0 && start+maxChunks < end {
		end = start + maxChunks
	}
	out := make([]Chunk, end-start)
	copy(out, live[start:end])
	return Read{Chunks: out, Next: cursor + uint64(len(out)), Skipped: skipped}
}

// Head returns the sequence number the next pushed chunk will get
func (b *Buffer) Head() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.nextSeq
}

// Oldest returns the sequence number of the oldest buffered chunk, or Head when empty
func (b *Buffer) Oldest() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.head < len(b.chunks) {
		return b.chunks[b.head].Seq
	}
	return b.nextSeq
}

// FillRatio returns buffered bytes divided by capacity, in [0, 1]
func (b *Buffer) FillRatio() float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.fillRatioLocked()
}

func (b *Buffer) fillRatioLocked() float64 {
	return min(max(float64(b.size)/float64(b.cfg.Capacity), 0), 1)
}

// Prebuffered reports whether the gate is in the Ready state
func (b *Buffer) Prebuffered() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.gate.Ready()
}

// GateState returns the current gate state
func (b *Buffer) GateState() GateState {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.gate.State()
}

// Counters exposes the telemetry counters; read totals are advanced by sessions
func (b *Buffer) Counters() *Counters {
	return &b.counters
}

// WaitReady blocks until the gate is Ready or ctx is done. There is no timeout: on a
// fresh start it waits for as long as it takes the producer to fill the buffer.
func (b *Buffer) WaitReady(ctx context.Context) error {
	for {
		b.mu.RLock()
		ready := b.gate.Ready()
		ch := b.changed
		b.mu.RUnlock()

		if ready {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
		}
	}
}

// WaitData blocks until a chunk at or after cursor exists or ctx is done
func (b *Buffer) WaitData(ctx context.Context, cursor uint64) error {
	for {
		b.mu.RLock()
		available := cursor < b.nextSeq
		ch := b.changed
		b.mu.RUnlock()

		if available {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
		}
	}
}
