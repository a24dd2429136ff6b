package capture

import (
	"bytes"
	"context"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"testing/iotest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/turntable-streamer/internal/audiobuffer"
	"github.com/tphakala/turntable-streamer/internal/errors"
	"github.com/tphakala/turntable-streamer/internal/logger"
)

func quietLogger() logger.Logger {
	return logger.NewSlogLogger(io.Discard, logger.LogLevelError)
}

// fakeSource serves data then either ends or blocks until closed
type fakeSource struct {
	name    string
	data    *bytes.Reader
	openErr error
	hold    bool

	opened atomic.Bool
	closed atomic.Bool
	done   chan struct{}
	once   sync.Once
}

func newFakeSource(name string, data []byte, hold bool) *fakeSource {
	return &fakeSource{name: name, data: bytes.NewReader(data), hold: hold, done: make(chan struct{})}
}

func (f *fakeSource) Open(context.Context) error {
	if f.openErr != nil {
		return f.openErr
	}
	f.opened.Store(true)
	return nil
}

func (f *fakeSource) Read(p []byte) (int, error) {
	if f.data.Len() > 0 {
		return f.data.Read(p)
	}
	if f.hold {
		<-f.done
	}
	return 0, io.EOF
}

func (f *fakeSource) Close() error {
	f.closed.Store(true)
	f.once.Do(func() { close(f.done) })
	return nil
}

func (f *fakeSource) String() string { return f.name }

// fakeBackend hands out sources in order; discovery results are consumed per call
type fakeBackend struct {
	mu        sync.Mutex
	discovery [][]Device
	sources   []*fakeSource
	next      int
}

func (b *fakeBackend) Name() string { return "fake" }

func (b *fakeBackend) Discover(context.Context) ([]Device, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.discovery) == 0 {
		return []Device{{ID: "fake0"}}, nil
	}
	d := b.discovery[0]
	if len(b.discovery) > 1 {
		b.discovery = b.discovery[1:]
	}
	return d, nil
}

func (b *fakeBackend) Select(devices []Device, _ string) (Device, bool) {
	if len(devices) == 0 {
		return Device{}, false
	}
	return devices[0], true
}

func (b *fakeBackend) Direct(string) (string, bool) { return "", false }

func (b *fakeBackend) NewSource(string) Source {
	b.mu.Lock()
	defer b.mu.Unlock()
	src := b.sources[min(b.next, len(b.sources)-1)]
	b.next++
	return src
}

type recordingObserver struct {
	mu       sync.Mutex
	states   []State
	restarts int
}

func (o *recordingObserver) CaptureStateChanged(_, to State) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.states = append(o.states, to)
}

func (o *recordingObserver) CaptureRestarted() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.restarts++
}

func newTestBuffer(t *testing.T) *audiobuffer.Buffer {
	t.Helper()
	b, err := audiobuffer.New(audiobuffer.Config{Capacity: 64 * 1024, ChunkSize: 1024, Threshold: 0.5},
		audiobuffer.WithLogger(quietLogger()))
	require.NoError(t, err)
	return b
}

func fastConfig() Config {
	return Config{
		ChunkSize:         1024,
		Backoff:           time.Millisecond,
		MaxBackoff:        4 * time.Millisecond,
		DiscoveryInterval: time.Millisecond,
	}
}

func TestReadChunks(t *testing.T) {
	t.Parallel()

	data := bytes.Repeat([]byte{1, 2, 3, 4}, 2500) // 10000 bytes

	tests := []struct {
		name   string
		reader io.Reader
	}{
		{"whole reads", bytes.NewReader(data)},
		{"one byte reads", iotest.OneByteReader(bytes.NewReader(data))},
		{"half reads", iotest.HalfReader(bytes.NewReader(data))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var sizes []int
			var got []byte
			n, err := ReadChunks(tt.reader, 4096, func(b []byte) {
				sizes = append(sizes, len(b))
				got = append(got, b...)
			})
			assert.ErrorIs(t, err, ErrSourceClosed)
			assert.Equal(t, 3, n)
			assert.Equal(t, []int{4096, 4096, 1808}, sizes)
			assert.Equal(t, data, got)
		})
	}
}

func TestReadChunksPassesReadErrors(t *testing.T) {
	t.Parallel()

	boom := errors.NewStd("device vanished")
	n, err := ReadChunks(iotest.ErrReader(boom), 4096, func([]byte) { t.Fatal("unexpected chunk") })
	assert.Zero(t, n)
	assert.ErrorIs(t, err, boom)
}

func TestSupervisorReconnectsAfterFailures(t *testing.T) {
	t.Parallel()

	failing := newFakeSource("failing", nil, false)
	failing.openErr = errors.NewStd("device busy")
	last := newFakeSource("steady", make([]byte, 2048), true)
	backend := &fakeBackend{sources: []*fakeSource{
		newFakeSource("short", make([]byte, 3*1024), false),
		failing,
		last,
	}}

	buf := newTestBuffer(t)
	obs := &recordingObserver{}
	sup := NewSupervisor(fastConfig(), backend, NewResolver(backend, "", time.Hour), buf,
		WithObserver(obs), WithLogger(quietLogger()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()

	require.Eventually(t, func() bool {
		return buf.Stats().ChunksWritten == 5 && sup.State() == StateRunning
	}, 5*time.Second, time.Millisecond)

	status := sup.Status()
	assert.Equal(t, "running", status.State)
	assert.Equal(t, "fake0", status.Device)
	assert.Equal(t, uint64(2), status.Restarts)
	assert.Equal(t, uint64(5), status.Chunks)
	assert.Contains(t, status.LastError, "device busy")
	assert.Equal(t, uint64(5*1024), buf.Stats().BytesWritten)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("supervisor did not stop")
	}

	assert.Equal(t, StateStopped, sup.State())
	assert.True(t, last.closed.Load())

	obs.mu.Lock()
	defer obs.mu.Unlock()
	assert.Equal(t, 2, obs.restarts)
	assert.Equal(t, StateStopped, obs.states[len(obs.states)-1])
	assert.Contains(t, obs.states, StateBackoff)
}

func TestSupervisorRescansUntilDeviceAppears(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{
		discovery: [][]Device{nil, nil, nil, {{ID: "late"}}},
		sources:   []*fakeSource{newFakeSource("late", make([]byte, 1024), true)},
	}
	buf := newTestBuffer(t)
	sup := NewSupervisor(fastConfig(), backend, NewResolver(backend, "", time.Hour), buf,
		WithLogger(quietLogger()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()

	require.Eventually(t, func() bool {
		return buf.Stats().ChunksWritten == 1
	}, 5*time.Second, time.Millisecond)
	assert.Equal(t, "late", sup.Status().Device)
	assert.Zero(t, sup.Status().Restarts)

	cancel()
	require.NoError(t, <-done)

	history := sup.History()
	require.NotEmpty(t, history)
	assert.Equal(t, StateIdle, history[0].From)
	assert.Equal(t, StateDiscovering, history[0].To)
}

func TestBackoffDelay(t *testing.T) {
	t.Parallel()

	sup := NewSupervisor(Config{Backoff: 5 * time.Second, MaxBackoff: 30 * time.Second},
		&fakeBackend{}, nil, nil, WithLogger(quietLogger()))

	tests := []struct {
		attempt int
		base    time.Duration
	}{
		{0, 5 * time.Second},
		{1, 10 * time.Second},
		{2, 20 * time.Second},
		{3, 30 * time.Second},
		{40, 30 * time.Second},
	}
	for _, tt := range tests {
		sup.jitterSrc = func(int64) int64 { return 0 }
		assert.Equal(t, tt.base, sup.backoffDelay(tt.attempt), "attempt %d", tt.attempt)

		sup.jitterSrc = func(n int64) int64 { return n - 1 }
		got := sup.backoffDelay(tt.attempt)
		assert.Greater(t, got, tt.base)
		assert.Less(t, got, tt.base+tt.base/5)
	}
}

func TestStateStrings(t *testing.T) {
	t.Parallel()

	want := []string{"idle", "discovering", "starting", "running", "backoff", "stopped"}
	for i, s := range States {
		assert.Equal(t, want[i], s.String())
	}
	assert.Equal(t, "unknown(42)", State(42).String())
	assert.True(t, isValidTransition(StateRunning, StateBackoff))
	assert.False(t, isValidTransition(StateStopped, StateRunning))
}
