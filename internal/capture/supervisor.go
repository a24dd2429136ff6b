package capture

import (
	"context"
	"fmt"
	"io"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/tphakala/turntable-streamer/internal/audiobuffer"
	"github.com/tphakala/turntable-streamer/internal/errors"
	"github.com/tphakala/turntable-streamer/internal/logger"
)

const (
	// DefaultBackoff is the first reconnect delay
	DefaultBackoff = 5 * time.Second
	// DefaultMaxBackoff caps the reconnect delay
	DefaultMaxBackoff = 30 * time.Second
	// DefaultDiscoveryInterval is the rescan period while no device is found
	DefaultDiscoveryInterval = 5 * time.Second
	// DefaultDiscoveryTTL is how long a discovered device id is reused
	DefaultDiscoveryTTL = 30 * time.Second
	// DefaultStableRun is how long a source must deliver data before the backoff resets
	DefaultStableRun = 30 * time.Second

	// backoffJitterPercentMax is the maximum random addition to a backoff
	backoffJitterPercentMax = 20

	progressEveryChunks = 100
	progressInterval    = 10 * time.Second
	noDeviceLogInterval = time.Minute
	bytesPerMB          = 1e6
)

// Config controls the supervisor
type Config struct {
	ChunkSize         int
	Backoff           time.Duration
	MaxBackoff        time.Duration
	DiscoveryInterval time.Duration
	StableRun         time.Duration
}

func (c *Config) applyDefaults() {
	if c.ChunkSize <= 0 {
		c.ChunkSize = audiobuffer.DefaultChunkSize
	}
	if c.Backoff <= 0 {
		c.Backoff = DefaultBackoff
	}
	if c.MaxBackoff < c.Backoff {
		c.MaxBackoff = max(DefaultMaxBackoff, c.Backoff)
	}
	if c.DiscoveryInterval <= 0 {
		c.DiscoveryInterval = DefaultDiscoveryInterval
	}
	if c.StableRun <= 0 {
		c.StableRun = DefaultStableRun
	}
}

// Observer receives supervisor events, typically a metrics collector
type Observer interface {
	CaptureStateChanged(from, to State)
	CaptureRestarted()
}

// Status is a point-in-time view of the supervisor
type Status struct {
	State     string `json:"state"`
	Device    string `json:"device"`
	Restarts  uint64 `json:"restarts"`
	LastError string `json:"last_error"`
	Chunks    uint64 `json:"chunks"`
}

// Supervisor keeps one capture source running, reconnecting with backoff when it fails.
// It is the single writer of the audio buffer.
type Supervisor struct {
	cfg      Config
	backend  Backend
	resolver *Resolver
	buf      *audiobuffer.Buffer
	observer Observer
	log      logger.Logger

	mu        sync.RWMutex
	state     State
	device    string
	lastErr   string
	history   []Transition
	restarts  atomic.Uint64
	chunks    atomic.Uint64
	progress  rate.Sometimes
	noDevice  rate.Sometimes
	jitterSrc func(n int64) int64
}

// SupervisorOption configures a Supervisor
type SupervisorOption func(*Supervisor)

// WithObserver attaches an event observer
func WithObserver(o Observer) SupervisorOption {
	return func(s *Supervisor) { s.observer = o }
}

// WithLogger overrides the package logger
func WithLogger(l logger.Logger) SupervisorOption {
	return func(s *Supervisor) { s.log = l }
}

// NewSupervisor creates a supervisor that writes into buf
func NewSupervisor(cfg Config, backend Backend, resolver *Resolver, buf *audiobuffer.Buffer, opts ...SupervisorOption) *Supervisor {
	cfg.applyDefaults()
	s := &Supervisor{
		cfg:       cfg,
		backend:   backend,
		resolver:  resolver,
		buf:       buf,
		state:     StateIdle,
		progress:  rate.Sometimes{First: 1, Every: progressEveryChunks, Interval: progressInterval},
		noDevice:  rate.Sometimes{First: 1, Interval: noDeviceLogInterval},
		jitterSrc: rand.Int64N,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = GetLogger()
	}
	return s
}

// Run captures until ctx is done. Source failures are never returned; they are logged and
// retried after a backoff.
func (s *Supervisor) Run(ctx context.Context) error {
	defer s.transition(StateStopped, "context done")

	s.log.Info("starting audio capture",
		logger.String("backend", s.backend.Name()),
		logger.Int("chunk_size", s.cfg.ChunkSize))

	attempt := 0
	opened := false
	for ctx.Err() == nil {
		s.transition(StateDiscovering, "resolving device")
		device, err := s.resolver.Resolve(ctx)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			s.setLastError(err)
			s.noDevice.Do(func() {
				s.log.Warn("no bluetooth audio source available, rescanning",
					logger.String("backend", s.backend.Name()),
					logger.Duration("interval", s.cfg.DiscoveryInterval),
					logger.Error(err))
			})
			if !sleepCtx(ctx, s.cfg.DiscoveryInterval) {
				break
			}
			continue
		}

		if opened {
			s.restarts.Add(1)
			if s.observer != nil {
				s.observer.CaptureRestarted()
			}
		}
		opened = true

		dataTime, err := s.runOnce(ctx, device)
		if ctx.Err() != nil {
			break
		}
		if dataTime >= s.cfg.StableRun {
			attempt = 0
		}

		wait := s.backoffDelay(attempt)
		attempt++
		s.transition(StateBackoff, fmt.Sprintf("restart #%d in %s", attempt, wait.Round(time.Millisecond)))
		s.log.Warn("audio capture ended, reconnecting",
			logger.String("device", device),
			logger.Duration("backoff", wait),
			logger.Int("attempt", attempt),
			logger.Error(err))
		if !sleepCtx(ctx, wait) {
			break
		}
	}
	return nil
}

// runOnce opens device and pumps it until it fails. It returns how long the source
// delivered data.
func (s *Supervisor) runOnce(ctx context.Context, device string) (time.Duration, error) {
	s.transition(StateStarting, device)
	src := s.backend.NewSource(device)
	if err := src.Open(ctx); err != nil {
		s.resolver.Invalidate()
		s.setLastError(err)
		return 0, err
	}

	stop := context.AfterFunc(ctx, func() { _ = src.Close() })
	defer func() {
		stop()
		_ = src.Close()
		if t, ok := src.(interface{ StderrTail() string }); ok {
			if tail := t.StderrTail(); tail != "" {
				s.log.Warn("capture process stderr",
					logger.String("source", src.String()),
					logger.String("stderr", tail))
			}
		}
	}()

	s.mu.Lock()
	s.device = device
	s.mu.Unlock()
	s.transition(StateRunning, src.String())
	s.log.Info("audio capture started, filling buffer", logger.String("source", src.String()))

	start := time.Now()
	chunks, err := ReadChunks(src, s.cfg.ChunkSize, s.push)
	if ctx.Err() != nil {
		return time.Since(start), ctx.Err()
	}
	if chunks == 0 {
		// opened but produced nothing; rediscover next time
		s.resolver.Invalidate()
	}

	err = errors.New(err).
		Component("capture").
		Category(errors.CategoryAudioSource).
		Priority(errors.PriorityLow).
		Context("operation", "read_source").
		Context("chunks", chunks).
		Build()
	s.setLastError(err)
	if chunks == 0 {
		return 0, err
	}
	return time.Since(start), err
}

// push hands one chunk to the buffer and logs progress periodically
func (s *Supervisor) push(chunk []byte) {
	s.buf.Push(chunk)
	total := s.chunks.Add(1)
	s.progress.Do(func() {
		st := s.buf.Stats()
		s.log.Info("capture progress",
			logger.Float64("fill_percentage", st.FillPercentage()),
			logger.Float64("buffered_mb", float64(st.BufferedBytes)/bytesPerMB),
			logger.Uint64("chunks_captured", total),
			logger.Int("chunks_in_buffer", st.BufferedChunks),
			logger.Int("max_chunks", st.MaxChunks),
			logger.Bool("prebuffered", st.Prebuffered()))
	})
}

// ReadChunks reads r in chunkSize pieces and passes each to push. A short final chunk at end
// of stream is still pushed. It returns ErrSourceClosed at end of stream, or the read error.
func ReadChunks(r io.Reader, chunkSize int, push func([]byte)) (int, error) {
	chunks := 0
	for {
		buf := make([]byte, chunkSize)
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			push(buf[:n])
			chunks++
		}
		switch {
		case err == nil:
		case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, ErrSourceClosed):
			return chunks, ErrSourceClosed
		default:
			return chunks, err
		}
	}
}

// backoffDelay returns the exponential delay for attempt with up to 20% jitter
func (s *Supervisor) backoffDelay(attempt int) time.Duration {
	delay := s.cfg.MaxBackoff
	if attempt < 32 {
		delay = min(s.cfg.Backoff<<attempt, s.cfg.MaxBackoff)
	}
	if jitter := int64(delay) * backoffJitterPercentMax / 100; jitter > 0 {
		delay += time.Duration(s.jitterSrc(jitter))
	}
	return delay
}

func (s *Supervisor) transition(to State, reason string) {
	s.mu.Lock()
	from := s.state
	if from == to || from == StateStopped {
		s.mu.Unlock()
		return
	}
	if !isValidTransition(from, to) {
		s.log.Debug("unexpected capture state transition",
			logger.String("from", from.String()),
			logger.String("to", to.String()))
	}
	s.state = to
	s.history = append(s.history, Transition{From: from, To: to, Timestamp: time.Now(), Reason: reason})
	if len(s.history) > maxTransitionHistory {
		s.history = s.history[len(s.history)-maxTransitionHistory:]
	}
	s.mu.Unlock()

	if s.observer != nil {
		s.observer.CaptureStateChanged(from, to)
	}
	s.log.Debug("capture state transition",
		logger.String("from", from.String()),
		logger.String("to", to.String()),
		logger.String("reason", reason))
}

func (s *Supervisor) setLastError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastErr = err.Error()
}

// State returns the current state
func (s *Supervisor) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// History returns a copy of the recent transitions
func (s *Supervisor) History() []Transition {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Transition, len(s.history))
	copy(out, s.history)
	return out
}

// Status returns a snapshot for status reporting
func (s *Supervisor) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Status{
		State:     s.state.String(),
		Device:    s.device,
		Restarts:  s.restarts.Load(),
		LastError: s.lastErr,
		Chunks:    s.chunks.Load(),
	}
}

// sleepCtx waits for d and reports false when ctx ended first
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
