package serve

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tphakala/turntable-streamer/internal/audiobuffer"
	"github.com/tphakala/turntable-streamer/internal/broadcast"
	"github.com/tphakala/turntable-streamer/internal/buildinfo"
	"github.com/tphakala/turntable-streamer/internal/capture"
	"github.com/tphakala/turntable-streamer/internal/conf"
	"github.com/tphakala/turntable-streamer/internal/errors"
	"github.com/tphakala/turntable-streamer/internal/httpcontroller"
	"github.com/tphakala/turntable-streamer/internal/logger"
	"github.com/tphakala/turntable-streamer/internal/observability"
)

// sentryFlushTimeout bounds how long queued error reports may delay exit
const sentryFlushTimeout = 2 * time.Second

const (
	// expiryGrace lets a producer run briefly behind real time without losing chunks
	expiryGrace = 2 * time.Second
	// expiryInterval is how often stale chunks are dropped during a capture outage
	expiryInterval = 500 * time.Millisecond
)

// Command creates the serve command, which is also what the root command runs.
func Command(settings *conf.Settings, info buildinfo.BuildInfo) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Capture audio and serve the WAV stream",
		Long:  "Start the capture supervisor and the HTTP server. Runs until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return Run(cmd.Context(), settings, info)
		},
	}
}

// Run wires the buffer, capture supervisor, broadcaster and HTTP server together and runs
// them until SIGINT or SIGTERM. A listen failure ends the run with an error.
func Run(ctx context.Context, settings *conf.Settings, info buildinfo.BuildInfo) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := logger.Global().Module("main")

	if settings.Sentry.Enabled {
		reporter, err := errors.InitSentry(settings.Sentry.DSN, info.Version())
		if err != nil {
			log.Warn("error reporting disabled", logger.Error(err))
		} else {
			errors.SetTelemetryReporter(reporter)
			defer errors.FlushSentry(sentryFlushTimeout)
		}
	}

	metrics, err := observability.NewMetrics()
	if err != nil {
		return err
	}

	buf, err := audiobuffer.New(audiobuffer.Config{
		Capacity:  settings.Buffer.Capacity,
		ChunkSize: settings.Capture.ChunkSize,
		Threshold: settings.Buffer.Prebuffer,
		MaxAge:    audiobuffer.PlaybackSpan(settings.Buffer.Capacity) + expiryGrace,
	}, audiobuffer.WithObserver(metrics.Stream))
	if err != nil {
		return err
	}

	backend, err := capture.NewBackend(settings.Capture.Backend, settings.Capture.Commands, nil)
	if err != nil {
		return err
	}
	resolver := capture.NewResolver(backend, settings.Capture.Device, settings.Capture.DiscoveryTTL)
	supervisor := capture.NewSupervisor(capture.Config{
		ChunkSize:         settings.Capture.ChunkSize,
		Backoff:           settings.Capture.Backoff,
		MaxBackoff:        settings.Capture.MaxBackoff,
		DiscoveryInterval: settings.Capture.DiscoveryInterval,
	}, backend, resolver, buf, capture.WithObserver(metrics.Capture))

	broadcaster := broadcast.New(buf, broadcast.WithObserver(metrics.Stream))

	server := httpcontroller.New(settings, buf, broadcaster,
		httpcontroller.WithCapture(supervisor),
		httpcontroller.WithMetrics(metrics),
		httpcontroller.WithProcessSampler(observability.NewProcessMonitor()),
		httpcontroller.WithBuildInfo(info))

	log.Info("starting turntable streamer",
		logger.String("version", info.Version()),
		logger.String("build_date", info.BuildDate()),
		logger.String("address", settings.ListenAddress()),
		logger.String("backend", settings.Capture.Backend),
		logger.String("device", settings.Capture.Device),
		logger.Int("buffer_capacity", settings.Buffer.Capacity),
		logger.Int("max_chunks", settings.MaxChunks()),
		logger.Float64("prebuffer", settings.Buffer.Prebuffer))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return supervisor.Run(gctx) })
	g.Go(func() error { return buf.RunExpiry(gctx, expiryInterval) })
	g.Go(func() error { return server.Start(gctx) })

	if err := g.Wait(); err != nil {
		log.Error("turntable streamer failed", logger.Error(err))
		return err
	}
	log.Info("turntable streamer stopped")
	return nil
}
