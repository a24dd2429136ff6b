// env.go - environment variable bindings and validation
package conf

import (
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/spf13/viper"

	"github.com/tphakala/turntable-streamer/internal/capture"
	"github.com/tphakala/turntable-streamer/internal/logger"
)

// envBinding holds metadata for an environment variable binding
type envBinding struct {
	ConfigKey string             // viper config key
	EnvVar    string             // environment variable name
	Validate  func(string) error // optional validation
}

// getEnvBindings returns all environment variable bindings
func getEnvBindings() []envBinding {
	return []envBinding{
		{"debug", "TURNTABLE_DEBUG", validateEnvBool},
		{"logging.level", "TURNTABLE_LOG_LEVEL", validateEnvLogLevel},
		{"capture.device", "BLUETOOTH_MAC", validateEnvDevice},
		{"capture.backend", "TURNTABLE_CAPTURE_BACKEND", validateEnvBackend},
		{"buffer.capacity", "TURNTABLE_BUFFER_CAPACITY", validateEnvPositiveInt},
		{"buffer.prebuffer", "TURNTABLE_PREBUFFER", validateEnvPrebuffer},
		{"webserver.port", "TURNTABLE_PORT", validateEnvPort},
		{"sentry.dsn", "SENTRY_DSN", nil},
	}
}

// bindEnvVars binds every environment variable and validates the ones that are set.
// All problems are reported together.
func bindEnvVars(v *viper.Viper) error {
	var problems []string

	for _, b := range getEnvBindings() {
		if err := v.BindEnv(b.ConfigKey, b.EnvVar); err != nil {
			problems = append(problems, fmt.Sprintf("failed to bind %s: %v", b.EnvVar, err))
			continue
		}
		if b.Validate == nil {
			continue
		}
		if value := os.Getenv(b.EnvVar); value != "" {
			if err := b.Validate(value); err != nil {
				problems = append(problems, fmt.Sprintf("invalid %s value '%s': %v", b.EnvVar, value, err))
			}
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("environment variable issues:\n  - %s", strings.Join(problems, "\n  - "))
	}
	return nil
}

func validateEnvBool(value string) error {
	if _, err := strconv.ParseBool(value); err != nil {
		return fmt.Errorf("must be true/false, 1/0, t/f")
	}
	return nil
}

func validateEnvLogLevel(value string) error {
	if !logger.IsValidLevel(strings.ToLower(value)) {
		return fmt.Errorf("must be one of %v", logger.ValidLevels)
	}
	return nil
}

// validateEnvDevice accepts a MAC address or a full PCM/node identifier; anything that
// looks like a MAC must be well formed.
func validateEnvDevice(value string) error {
	if looksLikeMAC(value) && !capture.IsMAC(value) {
		return fmt.Errorf("bluetooth address must look like XX:XX:XX:XX:XX:XX")
	}
	return nil
}

func validateEnvBackend(value string) error {
	if !slices.Contains(capture.Backends, value) {
		return fmt.Errorf("must be one of %v", capture.Backends)
	}
	return nil
}

func validateEnvPositiveInt(value string) error {
	n, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid integer: %w", err)
	}
	if n <= 0 {
		return fmt.Errorf("must be positive, got %d", n)
	}
	return nil
}

func validateEnvPrebuffer(value string) error {
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fmt.Errorf("invalid number: %w", err)
	}
	if f <= 0 || f > 1 {
		return fmt.Errorf("must be in (0, 1], got %g", f)
	}
	return nil
}

func validateEnvPort(value string) error {
	port, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid port number: %w", err)
	}
	if port < 1 || port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", port)
	}
	return nil
}
