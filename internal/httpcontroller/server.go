// internal/httpcontroller/server.go
package httpcontroller

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/tphakala/turntable-streamer/internal/audiobuffer"
	"github.com/tphakala/turntable-streamer/internal/broadcast"
	"github.com/tphakala/turntable-streamer/internal/buildinfo"
	"github.com/tphakala/turntable-streamer/internal/capture"
	"github.com/tphakala/turntable-streamer/internal/conf"
	"github.com/tphakala/turntable-streamer/internal/errors"
	"github.com/tphakala/turntable-streamer/internal/logger"
	"github.com/tphakala/turntable-streamer/internal/observability"
)

// readHeaderTimeout bounds how long a client may take to send request headers
const readHeaderTimeout = 10 * time.Second

// CaptureStatusProvider reports the state of the capture pipeline
type CaptureStatusProvider interface {
	Status() capture.Status
	History() []capture.Transition
}

// ProcessSampler reports the server's own resource usage
type ProcessSampler interface {
	Sample() (observability.ProcessStats, error)
}

// Server encapsulates the echo server and the streaming pipeline it exposes.
type Server struct {
	Echo        *echo.Echo
	Settings    *conf.Settings
	Buffer      *audiobuffer.Buffer
	Broadcaster *broadcast.Broadcaster
	Capture     CaptureStatusProvider
	Metrics     *observability.Metrics
	Process     ProcessSampler
	BuildInfo   buildinfo.BuildInfo

	log logger.Logger
}

// Option configures a Server
type Option func(*Server)

// WithCapture exposes the capture supervisor status on /status and the index page
func WithCapture(p CaptureStatusProvider) Option {
	return func(s *Server) { s.Capture = p }
}

// WithMetrics serves /metrics from m when enabled in the settings
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Server) { s.Metrics = m }
}

// WithProcessSampler shows process RSS and CPU on the index page
func WithProcessSampler(p ProcessSampler) Option {
	return func(s *Server) { s.Process = p }
}

// WithBuildInfo shows the version on the index page
func WithBuildInfo(info buildinfo.BuildInfo) Option {
	return func(s *Server) { s.BuildInfo = info }
}

// WithLogger overrides the package logger
func WithLogger(l logger.Logger) Option {
	return func(s *Server) { s.log = l }
}

// New initializes the HTTP server with routes for the stream, status, health and
// index page.
func New(settings *conf.Settings, buf *audiobuffer.Buffer, b *broadcast.Broadcaster, opts ...Option) *Server {
	s := &Server{
		Echo:        echo.New(),
		Settings:    settings,
		Buffer:      buf,
		Broadcaster: b,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = GetLogger()
	}

	s.initializeServer()
	return s
}

// initializeServer configures and initializes the server.
func (s *Server) initializeServer() {
	s.Echo.HideBanner = true
	s.Echo.HidePort = true
	s.Echo.Logger = logger.NewEchoLoggerAdapter(s.log)
	s.Echo.Server.Handler = s.Echo
	s.Echo.Server.ReadHeaderTimeout = readHeaderTimeout
	s.setupTemplateRenderer()
	s.configureMiddleware()
	s.initRoutes()
}

// Start listens on the configured address and serves until ctx is done, then shuts the
// server down within conf.ShutdownTimeout. Request contexts derive from ctx so open
// streams end when it is cancelled. A listen failure is returned immediately.
func (s *Server) Start(ctx context.Context) error {
	addr := s.Settings.ListenAddress()
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.New(err).
			Component("httpcontroller").
			Category(errors.CategoryNetwork).
			Priority(errors.PriorityCritical).
			Context("operation", "listen").
			Context("address", addr).
			Build()
	}
	return s.Serve(ctx, ln)
}

// Serve runs the server on an existing listener. See Start.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.Echo.Listener = ln
	s.Echo.Server.BaseContext = func(net.Listener) context.Context { return ctx }

	s.log.Info("HTTP server started",
		logger.String("address", ln.Addr().String()),
		logger.String("stream_url", "http://"+ln.Addr().String()+"/stream"))

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.Echo.Server.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.New(err).
			Component("httpcontroller").
			Category(errors.CategoryNetwork).
			Context("operation", "serve").
			Build()
	case <-ctx.Done():
	}

	s.log.Info("stopping HTTP server", logger.Int("clients", s.Broadcaster.Registry().Len()))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), conf.ShutdownTimeout)
	defer cancel()
	if err := s.Echo.Shutdown(shutdownCtx); err != nil {
		s.log.Warn("HTTP server shutdown incomplete", logger.Error(err))
	}
	<-errCh
	return nil
}
