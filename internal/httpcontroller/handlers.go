package httpcontroller

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/tphakala/turntable-streamer/internal/audiobuffer"
	"github.com/tphakala/turntable-streamer/internal/broadcast"
	"github.com/tphakala/turntable-streamer/internal/capture"
	"github.com/tphakala/turntable-streamer/internal/logger"
	"github.com/tphakala/turntable-streamer/internal/wavstream"
)

// serverRunning is the literal reported in the status "server" field
const serverRunning = "running"

// bytesPerMB converts byte counts to the decimal megabytes shown in telemetry
const bytesPerMB = 1e6

// StatusResponse is the /status document
type StatusResponse struct {
	BufferFillPercentage float64                 `json:"buffer_fill_percentage"`
	BufferSizeMB         float64                 `json:"buffer_size_mb"`
	MaxBufferMB          float64                 `json:"max_buffer_mb"`
	ChunksInBuffer       int                     `json:"chunks_in_buffer"`
	MaxChunks            int                     `json:"max_chunks"`
	TotalBytesWritten    uint64                  `json:"total_bytes_written"`
	TotalBytesRead       uint64                  `json:"total_bytes_read"`
	TotalChunksWritten   uint64                  `json:"total_chunks_written"`
	TotalChunksRead      uint64                  `json:"total_chunks_read"`
	Prebuffered          bool                    `json:"prebuffered"`
	Server               string                  `json:"server"`
	Clients              int                     `json:"clients"`
	GateTransitions      uint64                  `json:"gate_transitions"`
	Sessions             []broadcast.SessionInfo `json:"sessions"`
	Capture              *capture.Status         `json:"capture,omitempty"`
}

// HealthResponse is the /health document
type HealthResponse struct {
	Status      string `json:"status"`
	Prebuffered bool   `json:"prebuffered"`
}

// newStatusResponse builds the status document from one buffer snapshot
func newStatusResponse(st audiobuffer.Stats, sessions []broadcast.SessionInfo, cs *capture.Status) StatusResponse {
	return StatusResponse{
		BufferFillPercentage: st.FillPercentage(),
		BufferSizeMB:         float64(st.BufferedBytes) / bytesPerMB,
		MaxBufferMB:          float64(st.Capacity) / bytesPerMB,
		ChunksInBuffer:       st.BufferedChunks,
		MaxChunks:            st.MaxChunks,
		TotalBytesWritten:    st.BytesWritten,
		TotalBytesRead:       st.BytesRead,
		TotalChunksWritten:   st.ChunksWritten,
		TotalChunksRead:      st.ChunksRead,
		Prebuffered:          st.Prebuffered(),
		Server:               serverRunning,
		Clients:              len(sessions),
		GateTransitions:      st.GateTransitions,
		Sessions:             sessions,
		Capture:              cs,
	}
}

func (s *Server) captureStatus() *capture.Status {
	if s.Capture == nil {
		return nil
	}
	cs := s.Capture.Status()
	return &cs
}

// handleStatus returns the current telemetry snapshot
func (s *Server) handleStatus(c echo.Context) error {
	resp := newStatusResponse(s.Buffer.Stats(), s.Broadcaster.Registry().Sessions(), s.captureStatus())
	c.Response().Header().Set(echo.HeaderCacheControl, "no-cache")
	return c.JSON(http.StatusOK, resp)
}

// handleHealth reports liveness and whether new listeners would start immediately
func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok", Prebuffered: s.Buffer.Prebuffered()})
}

func setStreamHeaders(h http.Header) {
	h.Set(echo.HeaderContentType, wavstream.ContentType)
	h.Set(echo.HeaderCacheControl, "no-cache")
	h.Set(echo.HeaderConnection, "close")
}

// handleStream opens a session and streams until the client leaves or the server stops.
// Response headers go out immediately; the WAV header and PCM follow once the
// prebuffer gate opens. No Content-Length is set, so HTTP/1.1 uses chunked encoding.
func (s *Server) handleStream(c echo.Context) error {
	req := c.Request()
	res := c.Response()

	setStreamHeaders(res.Header())
	res.WriteHeader(http.StatusOK)
	res.Flush()

	client := broadcast.Client{
		Remote:    c.RealIP(),
		UserAgent: req.UserAgent(),
		RequestID: res.Header().Get(echo.HeaderXRequestID),
	}
	if err := s.Broadcaster.Serve(req.Context(), res, client); err != nil {
		// the response is already committed; a failed write means the client went away
		s.log.Debug("stream session ended by write failure",
			logger.String("remote", client.Remote),
			logger.Error(err))
	}
	return nil
}

// IndexData is rendered by the index template
type IndexData struct {
	Host             string
	Status           StatusResponse
	ThresholdPercent float64
	Buffered         time.Duration
	Process          *processView
	Events           []captureEvent
	RefreshSecs      int
	Version          string
}

// captureEvent is one capture state change shown on the index page
type captureEvent struct {
	At     time.Time
	From   string
	To     string
	Reason string
}

// maxIndexEvents limits the capture history shown on the index page
const maxIndexEvents = 10

// recentEvents returns up to maxIndexEvents transitions, newest first
func recentEvents(history []capture.Transition) []captureEvent {
	n := min(len(history), maxIndexEvents)
	out := make([]captureEvent, 0, n)
	for i := len(history) - 1; i >= len(history)-n; i-- {
		tr := history[i]
		out = append(out, captureEvent{At: tr.Timestamp, From: tr.From.String(), To: tr.To.String(), Reason: tr.Reason})
	}
	return out
}

type processView struct {
	RSSMB      float64
	CPUPercent float64
}

// indexRefresh is the auto-refresh period of the status page
const indexRefresh = 5 * time.Second

// handleIndex renders the human readable status page
func (s *Server) handleIndex(c echo.Context) error {
	st := s.Buffer.Stats()
	data := IndexData{
		Host:             c.Request().Host,
		Status:           newStatusResponse(st, s.Broadcaster.Registry().Sessions(), s.captureStatus()),
		ThresholdPercent: st.Threshold * 100,
		Buffered:         wavstream.CDQuality.Duration(st.BufferedBytes),
		RefreshSecs:      int(indexRefresh / time.Second),
	}
	if s.Capture != nil {
		data.Events = recentEvents(s.Capture.History())
	}
	if s.BuildInfo != nil {
		data.Version = s.BuildInfo.Version()
	}
	if s.Process != nil {
		if ps, err := s.Process.Sample(); err == nil {
			data.Process = &processView{RSSMB: ps.RSSMegabytes(), CPUPercent: ps.CPUPercent}
		} else {
			s.log.Debug("process sample failed", logger.Error(err))
		}
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "no-cache")
	return c.Render(http.StatusOK, "index", data)
}
