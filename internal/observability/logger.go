package observability

import "github.com/tphakala/turntable-streamer/internal/logger"

// GetLogger returns the telemetry module logger
func GetLogger() logger.Logger {
	return logger.Global().Module("telemetry")
}
