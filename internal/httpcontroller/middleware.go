package httpcontroller

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/tphakala/turntable-streamer/internal/logger"
)

// configureMiddleware sets up middleware for the server.
func (s *Server) configureMiddleware() {
	s.Echo.Use(middleware.Recover())
	s.Echo.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: func() string { return uuid.New().String()[:8] },
	}))
	s.setupRequestLogger()
}

// setupRequestLogger logs each completed request. Stream requests complete when the client
// leaves, so their latency is the session length.
func (s *Server) setupRequestLogger() {
	httpLogger := s.log.Module("request")

	s.Echo.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:          true,
		LogStatus:       true,
		LogLatency:      true,
		LogRemoteIP:     true,
		LogMethod:       true,
		LogError:        true,
		LogResponseSize: true,
		LogUserAgent:    true,
		LogRequestID:    true,
		HandleError:     true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			level := logger.LogLevelDebug
			switch {
			case v.Status >= 500:
				level = logger.LogLevelError
			case v.Status >= 400:
				level = logger.LogLevelWarn
			case isStreamPath(v.URI):
				level = logger.LogLevelInfo
			}

			fields := []logger.Field{
				logger.String("remote_ip", v.RemoteIP),
				logger.String("method", v.Method),
				logger.String("uri", v.URI),
				logger.Int("status", v.Status),
				logger.Float64("latency_ms", float64(v.Latency)/float64(time.Millisecond)),
			}
			if v.RequestID != "" {
				fields = append(fields, logger.String("request_id", v.RequestID))
			}
			if v.ResponseSize > 0 {
				fields = append(fields, logger.Int64("resp_size", v.ResponseSize))
			}
			if v.Error != nil {
				fields = append(fields, logger.Error(v.Error))
			}
			if v.Status >= 400 && v.UserAgent != "" {
				fields = append(fields, logger.String("user_agent", v.UserAgent))
			}

			httpLogger.Log(level, fmt.Sprintf("%s %s %d", v.Method, v.URI, v.Status), fields...)
			return nil
		},
	}))
}

func isStreamPath(uri string) bool {
	return uri == "/stream" || uri == "/stream.wav"
}
