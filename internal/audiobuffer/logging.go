package audiobuffer

import "github.com/tphakala/turntable-streamer/internal/logger"

// GetLogger returns the buffer package logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("buffer")
}
