package broadcast

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"io"
	"sync"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/turntable-streamer/internal/audiobuffer"
	"github.com/tphakala/turntable-streamer/internal/errors"
	"github.com/tphakala/turntable-streamer/internal/logger"
	"github.com/tphakala/turntable-streamer/internal/wavstream"
)

const chunkSize = 16

var errClientGone = errors.NewStd("broken pipe")

func quietLogger() logger.Logger {
	return logger.NewSlogLogger(io.Discard, logger.LogLevelError)
}

func newBuffer(t *testing.T, capacity, chunk int, threshold float64) *audiobuffer.Buffer {
	t.Helper()
	b, err := audiobuffer.New(audiobuffer.Config{Capacity: capacity, ChunkSize: chunk, Threshold: threshold},
		audiobuffer.WithLogger(quietLogger()))
	require.NoError(t, err)
	return b
}

func chunk(id uint64, size int) []byte {
	buf := make([]byte, size)
	binary.BigEndian.PutUint64(buf, id)
	return buf
}

// recordWriter collects everything a session writes
type recordWriter struct {
	mu        sync.Mutex
	buf       bytes.Buffer
	delay     time.Duration
	failAfter int
	writes    int
	flushes   int
}

func (w *recordWriter) Write(p []byte) (int, error) {
	if w.delay > 0 {
		time.Sleep(w.delay)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.writes++
	if w.failAfter > 0 && w.writes > w.failAfter {
		return 0, errClientGone
	}
	return w.buf.Write(p)
}

func (w *recordWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.flushes++
}

func (w *recordWriter) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.Len()
}

func (w *recordWriter) Bytes() []byte {
	w.mu.Lock()
	defer w.mu.Unlock()
	return bytes.Clone(w.buf.Bytes())
}

// ids decodes the chunk ids that follow the stream header
func ids(t *testing.T, data []byte, size int) []uint64 {
	t.Helper()
	require.GreaterOrEqual(t, len(data), wavstream.HeaderSize)
	hdr := wavstream.Header(wavstream.CDQuality)
	require.Equal(t, hdr[:], data[:wavstream.HeaderSize])

	payload := data[wavstream.HeaderSize:]
	out := make([]uint64, 0, len(payload)/size)
	for i := 0; i+size <= len(payload); i += size {
		out = append(out, binary.BigEndian.Uint64(payload[i:]))
	}
	return out
}

// syncBuffer is a log sink safe for concurrent writers
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

// Lines decodes the JSON log records written so far
func (b *syncBuffer) Lines(t *testing.T) []map[string]any {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []map[string]any
	for line := range strings.SplitSeq(strings.TrimSpace(b.buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		out = append(out, m)
	}
	return out
}

type session struct {
	w    *recordWriter
	done chan error
}

func serve(ctx context.Context, b *Broadcaster, w *recordWriter) session {
	s := session{w: w, done: make(chan error, 1)}
	go func() { s.done <- b.Serve(ctx, w, Client{Remote: "test"}) }()
	return s
}

func waitDone(t *testing.T, s session) error {
	t.Helper()
	select {
	case err := <-s.done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("session did not end")
		return nil
	}
}

func TestServeWritesHeaderThenChunksInOrder(t *testing.T) {
	t.Parallel()

	buf := newBuffer(t, 100*chunkSize, chunkSize, 0.1)
	b := New(buf, WithLogger(quietLogger()))
	for i := range uint64(20) {
		buf.Push(chunk(i, chunkSize))
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := serve(ctx, b, &recordWriter{})

	require.Eventually(t, func() bool {
		return s.w.Len() == wavstream.HeaderSize+20*chunkSize
	}, 5*time.Second, time.Millisecond)
	assert.Equal(t, 1, b.Registry().Len())

	for i := range uint64(10) {
		buf.Push(chunk(20+i, chunkSize))
	}
	require.Eventually(t, func() bool {
		return s.w.Len() == wavstream.HeaderSize+30*chunkSize
	}, 5*time.Second, time.Millisecond)

	got := ids(t, s.w.Bytes(), chunkSize)
	for i, id := range got {
		assert.Equal(t, uint64(i), id)
	}

	info := b.Registry().Sessions()
	require.Len(t, info, 1)
	assert.True(t, info[0].Streaming)
	assert.Equal(t, uint64(30*chunkSize), info[0].BytesSent)

	cancel()
	require.NoError(t, waitDone(t, s))
	assert.Zero(t, b.Registry().Len())
	assert.Equal(t, uint64(1), b.Registry().Total())

	stats := buf.Stats()
	assert.Equal(t, uint64(30*chunkSize), stats.BytesRead)
	assert.Equal(t, uint64(30), stats.ChunksRead)
}

// capacity = 100 chunks, threshold 0.60: a client that connects early gets its first byte
// only after the 60th push.
func TestServeWaitsForPrebuffer(t *testing.T) {
	t.Parallel()

	const size = 4096
	buf := newBuffer(t, 100*size, size, 0.60)
	b := New(buf, WithLogger(quietLogger()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := serve(ctx, b, &recordWriter{})

	require.Eventually(t, func() bool { return b.Registry().Len() == 1 }, time.Second, time.Millisecond)
	for i := range uint64(59) {
		buf.Push(chunk(i, size))
	}
	require.Never(t, func() bool { return s.w.Len() > 0 }, 50*time.Millisecond, 5*time.Millisecond)
	assert.False(t, b.Registry().Sessions()[0].Streaming)

	buf.Push(chunk(59, size))
	require.Eventually(t, func() bool {
		return s.w.Len() == wavstream.HeaderSize+60*size
	}, 5*time.Second, time.Millisecond)

	cancel()
	require.NoError(t, waitDone(t, s))
}

func TestStreamingSessionIgnoresGateClosing(t *testing.T) {
	t.Parallel()

	buf := newBuffer(t, 10_000, 1000, 0.6)
	b := New(buf, WithLogger(quietLogger()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	early := serve(ctx, b, &recordWriter{})

	buf.Push(chunk(0, 6000))
	require.Eventually(t, func() bool {
		return early.w.Len() == wavstream.HeaderSize+6000
	}, 5*time.Second, time.Millisecond)

	// evicts the first chunk and drops the fill to 50%
	buf.Push(chunk(1, 5000))
	require.False(t, buf.Prebuffered())

	late := serve(ctx, b, &recordWriter{})
	require.Eventually(t, func() bool {
		return early.w.Len() == wavstream.HeaderSize+11000
	}, 5*time.Second, time.Millisecond)
	require.Never(t, func() bool { return late.w.Len() > 0 }, 50*time.Millisecond, 5*time.Millisecond)

	// refilling above the threshold releases the waiting session
	buf.Push(chunk(2, 1000))
	require.Eventually(t, func() bool { return late.w.Len() > 0 }, 5*time.Second, time.Millisecond)

	cancel()
	require.NoError(t, waitDone(t, early))
	require.NoError(t, waitDone(t, late))
}

// After capture stops, expiry drains a buffer of fixed 4096 byte chunks below the
// threshold; a listener already streaming keeps its place while a new one waits for
// the refill.
func TestNewSessionWaitsForRefillAfterOutage(t *testing.T) {
	t.Parallel()

	const size = 4096
	const capacity = 100 * size
	var mu sync.Mutex
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	advance := func(d time.Duration) {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(d)
	}

	buf, err := audiobuffer.New(
		audiobuffer.Config{Capacity: capacity, ChunkSize: size, Threshold: 0.60, MaxAge: audiobuffer.PlaybackSpan(capacity)},
		audiobuffer.WithLogger(quietLogger()), audiobuffer.WithClock(clock))
	require.NoError(t, err)
	b := New(buf, WithLogger(quietLogger()))

	pace := wavstream.CDQuality.Duration(size)
	for i := range uint64(150) {
		buf.Push(chunk(i, size))
		advance(pace)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	early := serve(ctx, b, &recordWriter{})
	require.Eventually(t, func() bool {
		return early.w.Len() == wavstream.HeaderSize+100*size
	}, 5*time.Second, time.Millisecond)

	// capture outage
	advance(41 * pace)
	require.Equal(t, 41, buf.Expire())
	require.False(t, buf.Prebuffered())

	late := serve(ctx, b, &recordWriter{})
	require.Eventually(t, func() bool { return b.Registry().Len() == 2 }, time.Second, time.Millisecond)
	require.Never(t, func() bool { return late.w.Len() > 0 }, 50*time.Millisecond, 5*time.Millisecond)

	buf.Push(chunk(150, size))
	require.Eventually(t, func() bool {
		return late.w.Len() == wavstream.HeaderSize+60*size
	}, 5*time.Second, time.Millisecond)
	require.Eventually(t, func() bool {
		return early.w.Len() == wavstream.HeaderSize+101*size
	}, 5*time.Second, time.Millisecond)

	got := ids(t, late.w.Bytes(), size)
	assert.Equal(t, uint64(91), got[0])
	assert.Equal(t, uint64(150), got[len(got)-1])

	cancel()
	require.NoError(t, waitDone(t, early))
	require.NoError(t, waitDone(t, late))
}

func TestSessionLogCarriesRequestID(t *testing.T) {
	t.Parallel()

	buf := newBuffer(t, 100*chunkSize, chunkSize, 0.1)
	for i := range uint64(20) {
		buf.Push(chunk(i, chunkSize))
	}
	var logs syncBuffer
	b := New(buf, WithLogger(logger.NewSlogLogger(&logs, logger.LogLevelInfo)))

	ctx, cancel := context.WithCancel(context.Background())
	w := &recordWriter{}
	done := make(chan error, 1)
	go func() {
		done <- b.Serve(ctx, w, Client{Remote: "192.168.1.20", UserAgent: "mpv", RequestID: "a1b2c3d4"})
	}()

	require.Eventually(t, func() bool { return w.Len() == wavstream.HeaderSize+20*chunkSize }, 5*time.Second, time.Millisecond)
	info := b.Registry().Sessions()
	require.Len(t, info, 1)
	assert.Equal(t, "a1b2c3d4", info[0].RequestID)

	cancel()
	require.NoError(t, waitDone(t, session{w: w, done: done}))

	lines := logs.Lines(t)
	require.Len(t, lines, 2)
	for _, line := range lines {
		assert.Equal(t, "a1b2c3d4", line["trace_id"])
		assert.Equal(t, info[0].ID, line["session"])
		assert.Equal(t, "192.168.1.20", line["remote"])
	}
	assert.Equal(t, "stream client connected", lines[0]["msg"])
	assert.Equal(t, "stream client disconnected", lines[1]["msg"])
}

func TestSessionLogWithoutRequestID(t *testing.T) {
	t.Parallel()

	buf := newBuffer(t, 100*chunkSize, chunkSize, 0.1)
	var logs syncBuffer
	b := New(buf, WithLogger(logger.NewSlogLogger(&logs, logger.LogLevelInfo)))

	ctx, cancel := context.WithCancel(context.Background())
	s := serve(ctx, b, &recordWriter{})
	require.Eventually(t, func() bool { return b.Registry().Len() == 1 }, time.Second, time.Millisecond)
	cancel()
	require.NoError(t, waitDone(t, s))

	for _, line := range logs.Lines(t) {
		assert.NotContains(t, line, "trace_id")
	}
}

func TestWriteFailureEndsOnlyThatSession(t *testing.T) {
	t.Parallel()

	buf := newBuffer(t, 100*chunkSize, chunkSize, 0.05)
	b := New(buf, WithLogger(quietLogger()), WithMaxChunksPerWrite(1))
	for i := range uint64(5) {
		buf.Push(chunk(i, chunkSize))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	healthy := serve(ctx, b, &recordWriter{})
	broken := serve(ctx, b, &recordWriter{failAfter: 3})

	err := waitDone(t, broken)
	require.Error(t, err)
	assert.ErrorIs(t, err, errClientGone)
	assert.True(t, errors.IsCategory(err, errors.CategoryBroadcast))

	for i := range uint64(5) {
		buf.Push(chunk(5+i, chunkSize))
	}
	require.Eventually(t, func() bool {
		return healthy.w.Len() == wavstream.HeaderSize+10*chunkSize
	}, 5*time.Second, time.Millisecond)
	assert.Equal(t, 1, b.Registry().Len())

	// header plus two chunks made it out before the failure
	stats := buf.Stats()
	assert.Equal(t, uint64(12*chunkSize), stats.BytesRead)

	cancel()
	require.NoError(t, waitDone(t, healthy))
}

func TestSlowClientDoesNotSlowFastClient(t *testing.T) {
	t.Parallel()

	const total = 200
	buf := newBuffer(t, 64*chunkSize, chunkSize, 0.05)
	obs := &countingObserver{}
	b := New(buf, WithLogger(quietLogger()), WithMaxChunksPerWrite(1), WithObserver(obs))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	buf.Push(chunk(0, chunkSize))
	fast := serve(ctx, b, &recordWriter{})
	slow := serve(ctx, b, &recordWriter{delay: 5 * time.Millisecond})

	start := time.Now()
	for i := range uint64(total - 1) {
		buf.Push(chunk(i+1, chunkSize))
		time.Sleep(100 * time.Microsecond)
	}
	require.Eventually(t, func() bool {
		return fast.w.Len() >= wavstream.HeaderSize+total*chunkSize
	}, 5*time.Second, time.Millisecond)
	fastElapsed := time.Since(start)

	// the slow client needs at least total*delay to drain everything it could; the fast
	// one must not be held to that pace
	assert.Less(t, fastElapsed, total*5*time.Millisecond)

	cancel()
	require.NoError(t, waitDone(t, fast))
	require.NoError(t, waitDone(t, slow))

	fastIDs := ids(t, fast.w.Bytes(), chunkSize)
	require.Len(t, fastIDs, total)
	for i, id := range fastIDs {
		require.Equal(t, uint64(i), id)
	}

	slowIDs := ids(t, slow.w.Bytes(), chunkSize)
	require.NotEmpty(t, slowIDs)
	for i := 1; i < len(slowIDs); i++ {
		require.Greater(t, slowIDs[i], slowIDs[i-1], "slow client saw reordered audio")
	}
	assert.Less(t, len(slowIDs), total)
	assert.Positive(t, obs.skipped.Load())
	assert.Equal(t, int64(2), obs.started.Load())
	assert.Equal(t, int64(2), obs.ended.Load())
	assert.Equal(t, int64(len(fastIDs)+len(slowIDs))*chunkSize, obs.bytes.Load())
}

type countingObserver struct {
	started atomic.Int64
	ended   atomic.Int64
	skipped atomic.Uint64
	bytes   atomic.Int64
}

func (o *countingObserver) SessionStarted()            { o.started.Add(1) }
func (o *countingObserver) SessionEnded(time.Duration) { o.ended.Add(1) }
func (o *countingObserver) CursorSkipped(n uint64)     { o.skipped.Add(n) }
func (o *countingObserver) Delivered(n int)            { o.bytes.Add(int64(n)) }
