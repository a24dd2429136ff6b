// conf/validate.go

package conf

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/tphakala/turntable-streamer/internal/capture"
	"github.com/tphakala/turntable-streamer/internal/logger"
)

// ValidationError represents a collection of validation errors
type ValidationError struct {
	Errors []string
}

// Error returns a string representation of the validation errors
func (ve ValidationError) Error() string {
	return fmt.Sprintf("validation errors: %v", ve.Errors)
}

// ValidateSettings validates the entire Settings struct
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	if err := validateLoggingSettings(&settings.Logging); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}
	if err := validateCaptureSettings(&settings.Capture); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}
	if err := validateBufferSettings(&settings.Buffer, settings.Capture.ChunkSize); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}
	if err := validateWebServerSettings(&settings.WebServer); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}
	if settings.Sentry.Enabled && settings.Sentry.DSN == "" {
		ve.Errors = append(ve.Errors, "sentry is enabled but no DSN is configured")
	}

	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

func validateLoggingSettings(settings *LoggingSettings) error {
	if !logger.IsValidLevel(settings.Level) {
		return fmt.Errorf("log level %q is not one of %v", settings.Level, logger.ValidLevels)
	}
	if settings.File.Enabled && settings.File.Path == "" {
		return errors.New("log file output is enabled but no path is set")
	}
	return nil
}

func validateCaptureSettings(settings *CaptureSettings) error {
	var errs []string

	if !slices.Contains(capture.Backends, settings.Backend) {
		errs = append(errs, fmt.Sprintf("capture backend %q is not one of %v", settings.Backend, capture.Backends))
	}
	if looksLikeMAC(settings.Device) && !capture.IsMAC(settings.Device) {
		errs = append(errs, fmt.Sprintf("capture device %q is not a valid bluetooth address (XX:XX:XX:XX:XX:XX)", settings.Device))
	}
	if settings.ChunkSize <= 0 {
		errs = append(errs, fmt.Sprintf("capture chunk size must be positive, got %d", settings.ChunkSize))
	}
	if settings.Backoff <= 0 {
		errs = append(errs, fmt.Sprintf("capture backoff must be positive, got %s", settings.Backoff))
	}
	if settings.MaxBackoff < settings.Backoff {
		errs = append(errs, fmt.Sprintf("capture max backoff %s is below backoff %s", settings.MaxBackoff, settings.Backoff))
	}
	if settings.DiscoveryInterval <= 0 {
		errs = append(errs, fmt.Sprintf("capture discovery interval must be positive, got %s", settings.DiscoveryInterval))
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

func validateBufferSettings(settings *BufferSettings, chunkSize int) error {
	var errs []string

	if settings.Capacity <= 0 {
		errs = append(errs, fmt.Sprintf("buffer capacity must be positive, got %d", settings.Capacity))
	} else if chunkSize > settings.Capacity {
		errs = append(errs, fmt.Sprintf("buffer capacity %d is smaller than the chunk size %d", settings.Capacity, chunkSize))
	}
	if settings.Prebuffer <= 0 || settings.Prebuffer > 1 {
		errs = append(errs, fmt.Sprintf("prebuffer threshold must be in (0, 1], got %g", settings.Prebuffer))
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

func validateWebServerSettings(settings *WebServerSettings) error {
	if settings.Port < 1 || settings.Port > 65535 {
		return fmt.Errorf("webserver port must be between 1 and 65535, got %d", settings.Port)
	}
	return nil
}

// looksLikeMAC reports whether s is meant as a bluetooth address rather than a PCM or
// node identifier
func looksLikeMAC(s string) bool {
	return strings.Count(s, ":") == 5 && !strings.ContainsAny(s, "=/")
}
