package logger

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// DefaultBufferSize batches log writes to the file output
const DefaultBufferSize = 32 * 1024

// DefaultFlushInterval is how often buffered log lines reach the file
const DefaultFlushInterval = 5 * time.Second

// BufferedFileWriter wraps a log file with buffered I/O and periodic flushing.
// It is safe for concurrent use.
type BufferedFileWriter struct {
	mu         sync.Mutex
	file       *os.File
	writer     *bufio.Writer
	bufferSize int
	interval   time.Duration
	stopFlush  chan struct{}
	flushDone  chan struct{}
	closed     bool
}

// BufferedWriterOption configures a BufferedFileWriter
type BufferedWriterOption func(*BufferedFileWriter)

// WithBufferSize sets the buffer size
func WithBufferSize(size int) BufferedWriterOption {
	return func(w *BufferedFileWriter) {
		if size > 0 {
			w.bufferSize = size
		}
	}
}

// WithFlushInterval sets the auto-flush interval. Zero disables auto-flush.
func WithFlushInterval(interval time.Duration) BufferedWriterOption {
	return func(w *BufferedFileWriter) { w.interval = interval }
}

// NewBufferedFileWriter opens filePath for appending and starts the flush loop
func NewBufferedFileWriter(filePath string, opts ...BufferedWriterOption) (*BufferedFileWriter, error) {
	w := &BufferedFileWriter{
		bufferSize: DefaultBufferSize,
		interval:   DefaultFlushInterval,
		stopFlush:  make(chan struct{}),
		flushDone:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	file, err := os.OpenFile(filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, logFilePermissions) //nolint:gosec // log path comes from operator config
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %s: %w", filePath, err)
	}
	w.file = file
	w.writer = bufio.NewWriterSize(file, w.bufferSize)

	if w.interval > 0 {
		go w.flushLoop(time.NewTicker(w.interval))
	} else {
		close(w.flushDone)
	}
	return w, nil
}

func (w *BufferedFileWriter) flushLoop(ticker *time.Ticker) {
	defer close(w.flushDone)
	defer ticker.Stop()
	for {
		select {
		case <-w.stopFlush:
			return
		case <-ticker.C:
			// errors surface on the next Write or Close
			_ = w.Flush()
		}
	}
}

// Write buffers p
func (w *BufferedFileWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.writer == nil {
		return 0, fmt.Errorf("log writer is closed")
	}
	return w.writer.Write(p)
}

// Flush moves buffered bytes to the OS without fsync
func (w *BufferedFileWriter) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.writer == nil {
		return nil
	}
	if err := w.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush log buffer: %w", err)
	}
	return nil
}

// Sync flushes and fsyncs the file
func (w *BufferedFileWriter) Sync() error {
	if err := w.Flush(); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	return w.file.Sync()
}

// Buffered returns the number of bytes not yet flushed
func (w *BufferedFileWriter) Buffered() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.writer == nil {
		return 0
	}
	return w.writer.Buffered()
}

// Close stops the flush loop, syncs and closes the file. It is idempotent.
func (w *BufferedFileWriter) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.mu.Unlock()

	close(w.stopFlush)
	<-w.flushDone

	syncErr := w.Sync()

	w.mu.Lock()
	defer w.mu.Unlock()
	closeErr := w.file.Close()
	w.file = nil
	w.writer = nil
	return errors.Join(syncErr, closeErr)
}

var _ io.WriteCloser = (*BufferedFileWriter)(nil)
