// Package conf loads the streamer settings from config.yaml, the environment and
// command line flags.
package conf

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/viper"

	"github.com/tphakala/turntable-streamer/internal/capture"
	"github.com/tphakala/turntable-streamer/internal/errors"
)

// Settings contains all configuration options for the streamer.
type Settings struct {
	Debug bool `mapstructure:"debug" yaml:"debug"` // true to enable debug logging

	Logging   LoggingSettings   `mapstructure:"logging" yaml:"logging"`
	Capture   CaptureSettings   `mapstructure:"capture" yaml:"capture"`
	Buffer    BufferSettings    `mapstructure:"buffer" yaml:"buffer"`
	WebServer WebServerSettings `mapstructure:"webserver" yaml:"webserver"`
	Sentry    SentrySettings    `mapstructure:"sentry" yaml:"sentry"`
}

// LoggingSettings controls verbosity and the optional JSON log file
type LoggingSettings struct {
	Level string          `mapstructure:"level" yaml:"level"` // trace, debug, info, warn, error
	File  LogFileSettings `mapstructure:"file" yaml:"file"`
}

// LogFileSettings enables JSON file output
type LogFileSettings struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Path    string `mapstructure:"path" yaml:"path"`
}

// CaptureSettings selects the PCM source and how it is supervised
type CaptureSettings struct {
	Device            string           `mapstructure:"device" yaml:"device"`   // MAC or full PCM id, empty to auto-discover
	Backend           string           `mapstructure:"backend" yaml:"backend"` // bluealsa, arecord or pipewire
	ChunkSize         int              `mapstructure:"chunksize" yaml:"chunksize"`
	Backoff           time.Duration    `mapstructure:"backoff" yaml:"backoff"`
	MaxBackoff        time.Duration    `mapstructure:"maxbackoff" yaml:"maxbackoff"`
	DiscoveryInterval time.Duration    `mapstructure:"discoveryinterval" yaml:"discoveryinterval"`
	DiscoveryTTL      time.Duration    `mapstructure:"discoveryttl" yaml:"discoveryttl"`
	Commands          capture.Commands `mapstructure:"commands" yaml:"commands"`
}

// BufferSettings sizes the ring buffer and the prebuffer gate
type BufferSettings struct {
	Capacity  int     `mapstructure:"capacity" yaml:"capacity"`   // bytes
	Prebuffer float64 `mapstructure:"prebuffer" yaml:"prebuffer"` // fill fraction that opens the gate
}

// WebServerSettings configures the HTTP listener
type WebServerSettings struct {
	Host    string `mapstructure:"host" yaml:"host"`
	Port    int    `mapstructure:"port" yaml:"port"`
	Metrics bool   `mapstructure:"metrics" yaml:"metrics"` // expose /metrics
}

// SentrySettings enables error reporting
type SentrySettings struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	DSN     string `mapstructure:"dsn" yaml:"dsn"`
}

// ListenAddress returns the host:port the HTTP server binds to
func (s *Settings) ListenAddress() string {
	return net.JoinHostPort(s.WebServer.Host, strconv.Itoa(s.WebServer.Port))
}

// MaxChunks returns how many full chunks fit in the buffer
func (s *Settings) MaxChunks() int {
	if s.Capture.ChunkSize <= 0 {
		return 0
	}
	return s.Buffer.Capacity / s.Capture.ChunkSize
}

// LogLevel returns the effective log level, forced to debug by the debug switch
func (s *Settings) LogLevel() string {
	if s.Debug {
		return "debug"
	}
	return s.Logging.Level
}

// Load reads config.yaml, environment variables and bound flags from the global viper
// instance and returns validated settings.
func Load() (*Settings, error) {
	return load(viper.GetViper())
}

func load(v *viper.Viper) (*Settings, error) {
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	for _, path := range GetDefaultConfigPaths() {
		v.AddConfigPath(path)
	}

	setDefaultConfig(v)

	if err := bindEnvVars(v); err != nil {
		return nil, errors.New(err).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Context("operation", "bind_env").
			Build()
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, errors.New(fmt.Errorf("error reading config file: %w", err)).
				Component("conf").
				Category(errors.CategoryConfiguration).
				Context("operation", "read_config").
				Build()
		}
		// no config file, defaults and environment apply
	}

	settings := &Settings{}
	if err := v.Unmarshal(settings); err != nil {
		return nil, errors.New(fmt.Errorf("error unmarshaling config into struct: %w", err)).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Context("operation", "unmarshal").
			Build()
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, errors.New(err).
			Component("conf").
			Category(errors.CategoryValidation).
			Context("operation", "validate").
			Build()
	}
	return settings, nil
}

// ConfigFileUsed returns the config file path viper read, or "" when none was found
func ConfigFileUsed() string {
	return viper.ConfigFileUsed()
}

// GetDefaultConfigPaths returns the directories searched for config.yaml, in order
func GetDefaultConfigPaths() []string {
	paths := []string{"."}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "turntable"))
	}
	return append(paths, "/etc/turntable")
}
