// Package broadcast fans the shared audio buffer out to any number of stream clients.
//
// Every session runs its own delivery loop with a private cursor into the buffer, so a
// slow client only ever falls behind (and eventually skips evicted audio) on its own.
package broadcast

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/tphakala/turntable-streamer/internal/audiobuffer"
	"github.com/tphakala/turntable-streamer/internal/errors"
	"github.com/tphakala/turntable-streamer/internal/logger"
	"github.com/tphakala/turntable-streamer/internal/wavstream"
)

// DefaultMaxChunksPerWrite bounds how many chunks one loop iteration sends before flushing
const DefaultMaxChunksPerWrite = 16

// Observer receives session events, typically a metrics collector
type Observer interface {
	SessionStarted()
	SessionEnded(duration time.Duration)
	CursorSkipped(chunks uint64)
	Delivered(bytes int)
}

// Broadcaster serves stream sessions from one buffer
type Broadcaster struct {
	buf       *audiobuffer.Buffer
	format    wavstream.Format
	registry  *Registry
	observer  Observer
	maxChunks int
	log       logger.Logger
}

// Option configures a Broadcaster
type Option func(*Broadcaster)

// WithObserver attaches an event observer
func WithObserver(o Observer) Option {
	return func(b *Broadcaster) { b.observer = o }
}

// WithFormat overrides the PCM layout announced in the stream header
func WithFormat(f wavstream.Format) Option {
	return func(b *Broadcaster) { b.format = f }
}

// WithMaxChunksPerWrite overrides DefaultMaxChunksPerWrite
func WithMaxChunksPerWrite(n int) Option {
	return func(b *Broadcaster) {
		if n > 0 {
			b.maxChunks = n
		}
	}
}

// WithLogger overrides the package logger
func WithLogger(l logger.Logger) Option {
	return func(b *Broadcaster) { b.log = l }
}

// New creates a broadcaster reading from buf
func New(buf *audiobuffer.Buffer, opts ...Option) *Broadcaster {
	b := &Broadcaster{
		buf:       buf,
		format:    wavstream.CDQuality,
		registry:  NewRegistry(),
		maxChunks: DefaultMaxChunksPerWrite,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.log == nil {
		b.log = GetLogger()
	}
	return b
}

// Registry returns the live session registry
func (b *Broadcaster) Registry() *Registry {
	return b.registry
}

// Client describes the peer of a session
type Client struct {
	Remote    string
	UserAgent string
	// RequestID correlates session log lines with the HTTP access log
	RequestID string
}

// Serve runs one session until ctx is done or a write fails. It waits for the prebuffer gate
// only before the first byte; after that the session never waits on the gate again. The
// stream header is written once, immediately before the first PCM chunk. When w implements
// http.Flusher it is flushed after every batch.
//
// A cancelled context is a normal end and returns nil. A write failure is returned.
func (b *Broadcaster) Serve(ctx context.Context, w io.Writer, client Client) error {
	s := &Session{
		ID:        uuid.New(),
		RequestID: client.RequestID,
		Remote:    client.Remote,
		UserAgent: client.UserAgent,
		Started:   time.Now(),
	}
	b.registry.add(s)
	if b.observer != nil {
		b.observer.SessionStarted()
	}
	logCtx := ctx
	if client.RequestID != "" {
		logCtx = logger.WithTraceID(ctx, client.RequestID)
	}
	log := b.log.WithContext(logCtx).With(logger.String("session", s.ID.String()), logger.String("remote", s.Remote))
	log.Info("stream client connected", logger.Int("clients", b.registry.Len()))

	err := b.deliver(ctx, w, s, log)

	b.registry.remove(s.ID)
	duration := time.Since(s.Started)
	if b.observer != nil {
		b.observer.SessionEnded(duration)
	}
	log.Info("stream client disconnected",
		logger.Duration("duration", duration),
		logger.Uint64("bytes_sent", s.bytesSent.Load()),
		logger.Uint64("skipped_chunks", s.skipped.Load()),
		logger.Int("clients", b.registry.Len()))

	if err != nil && ctx.Err() == nil {
		return errors.New(err).
			Component("broadcast").
			Category(errors.CategoryBroadcast).
			Priority(errors.PriorityLow).
			Context("operation", "deliver").
			Context("session", s.ID.String()).
			Build()
	}
	return nil
}

func (b *Broadcaster) deliver(ctx context.Context, w io.Writer, s *Session, log logger.Logger) error {
	if !b.buf.Prebuffered() {
		log.Debug("waiting for prebuffer", logger.Float64("fill_percentage", b.buf.FillRatio()*100))
	}
	if err := b.buf.WaitReady(ctx); err != nil {
		return err
	}

	if _, err := wavstream.WriteHeader(w, b.format); err != nil {
		return err
	}
	flush(w)
	s.streaming.Store(true)

	cursor := b.buf.Oldest()
	for {
		read := b.buf.SnapshotForRead(cursor, b.maxChunks)
		if read.Skipped > 0 {
			s.skipped.Add(read.Skipped)
			if b.observer != nil {
				b.observer.CursorSkipped(read.Skipped)
			}
			log.Debug("client fell behind, skipped evicted audio", logger.Uint64("chunks", read.Skipped))
		}

		if len(read.Chunks) == 0 {
			if err := b.buf.WaitData(ctx, read.Next); err != nil {
				return err
			}
			cursor = read.Next
			continue
		}

		for _, c := range read.Chunks {
			if _, err := w.Write(c.Data); err != nil {
				return err
			}
			b.buf.Counters().AddRead(c.Len(), 1)
			if b.observer != nil {
				b.observer.Delivered(c.Len())
			}
			s.bytesSent.Add(uint64(c.Len()))
			s.chunksSent.Add(1)
		}
		flush(w)
		cursor = read.Next

		if err := ctx.Err(); err != nil {
			return err
		}
	}
}

func flush(w io.Writer) {
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}
