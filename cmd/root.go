package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tphakala/turntable-streamer/cmd/config"
	"github.com/tphakala/turntable-streamer/cmd/discover"
	"github.com/tphakala/turntable-streamer/cmd/serve"
	"github.com/tphakala/turntable-streamer/internal/audiobuffer"
	"github.com/tphakala/turntable-streamer/internal/buildinfo"
	"github.com/tphakala/turntable-streamer/internal/capture"
	"github.com/tphakala/turntable-streamer/internal/conf"
	"github.com/tphakala/turntable-streamer/internal/logger"
)

// RootCommand creates and returns the root command. Running it without a subcommand
// starts the streamer. settings is loaded after flag parsing, before any subcommand runs.
func RootCommand(settings *conf.Settings, info *buildinfo.Context) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "turntable",
		Short: "Bluetooth turntable to HTTP WAV streamer",
		Long: `Captures PCM audio from a Bluetooth A2DP source and serves it to any number of
HTTP clients as an endless WAV stream.`,
		Version:      info.String(),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve.Run(cmd.Context(), settings, info)
		},
	}

	// Set up the global flags for the root command.
	if err := setupFlags(rootCmd); err != nil {
		cobra.CheckErr(err)
	}

	rootCmd.AddCommand(
		serve.Command(settings, info),
		discover.Command(settings),
		config.Command(settings),
	)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		// flags are bound to viper, so loading now applies them over file and env values
		loaded, err := conf.Load()
		if err != nil {
			return err
		}
		*settings = *loaded
		return initLogging(settings)
	}

	return rootCmd
}

// setupFlags defines flags that are global to the command line interface
func setupFlags(rootCmd *cobra.Command) error {
	flags := rootCmd.PersistentFlags()
	flags.BoolP("debug", "d", false, "Enable debug output")
	flags.String("log-level", "info", "Log level (trace, debug, info, warn, error)")
	flags.String("device", "", "Bluetooth MAC or PCM id of the audio source, empty to auto-discover")
	flags.String("backend", capture.BackendBlueALSA, "Capture backend (bluealsa, arecord, pipewire)")
	flags.IntP("port", "p", conf.DefaultPort, "HTTP listen port")
	flags.String("host", "", "HTTP listen host, empty for all interfaces")
	flags.Float64("prebuffer", audiobuffer.DefaultPrebufferThreshold, "Buffer fill fraction required before a new client starts")
	flags.Int("capacity", audiobuffer.DefaultCapacity, "Ring buffer capacity in bytes")

	bindings := map[string]string{
		"debug":     "debug",
		"log-level": "logging.level",
		"device":    "capture.device",
		"backend":   "capture.backend",
		"port":      "webserver.port",
		"host":      "webserver.host",
		"prebuffer": "buffer.prebuffer",
		"capacity":  "buffer.capacity",
	}
	for flag, key := range bindings {
		if err := viper.BindPFlag(key, flags.Lookup(flag)); err != nil {
			return fmt.Errorf("error binding flag %s: %w", flag, err)
		}
	}
	return nil
}

// initLogging replaces the global logger with one configured from settings
func initLogging(settings *conf.Settings) error {
	level := settings.LogLevel()
	cl, err := logger.NewCentralLogger(&logger.LoggingConfig{
		DefaultLevel: level,
		Timezone:     "Local",
		Console:      &logger.ConsoleOutput{Enabled: true, Level: level},
		FileOutput: &logger.FileOutput{
			Enabled: settings.Logging.File.Enabled,
			Path:    settings.Logging.File.Path,
			Level:   level,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	logger.SetGlobal(cl)
	return nil
}
