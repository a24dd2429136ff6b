// internal/httpcontroller/routes.go
package httpcontroller

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// RouteConfig describes a GET route served by the controller
type RouteConfig struct {
	Path    string
	Title   string
	Handler echo.HandlerFunc
}

// routes returns every route, in registration order
func (s *Server) routes() []RouteConfig {
	rs := []RouteConfig{
		{Path: "/", Title: "Status page", Handler: s.handleIndex},
		{Path: "/stream", Title: "WAV stream", Handler: s.handleStream},
		{Path: "/stream.wav", Title: "WAV stream", Handler: s.handleStream},
		{Path: "/status", Title: "Status JSON", Handler: s.handleStatus},
		{Path: "/health", Title: "Health check", Handler: s.handleHealth},
	}
	if s.Metrics != nil && s.Settings.WebServer.Metrics {
		rs = append(rs, RouteConfig{Path: "/metrics", Title: "Prometheus metrics", Handler: echo.WrapHandler(s.Metrics.Handler())})
	}
	return rs
}

// initRoutes registers all routes with echo
func (s *Server) initRoutes() {
	for _, r := range s.routes() {
		s.Echo.GET(r.Path, r.Handler)
	}
	// HEAD on the stream lets players probe the content type without opening a session
	s.Echo.HEAD("/stream", s.handleStreamHead)
	s.Echo.HEAD("/stream.wav", s.handleStreamHead)
}

func (s *Server) handleStreamHead(c echo.Context) error {
	setStreamHeaders(c.Response().Header())
	return c.NoContent(http.StatusOK)
}
