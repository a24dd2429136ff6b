package broadcast

import "github.com/tphakala/turntable-streamer/internal/logger"

// GetLogger returns the stream module logger
func GetLogger() logger.Logger {
	return logger.Global().Module("stream")
}
