package broadcast

import (
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Session is one connected stream client
type Session struct {
	ID        uuid.UUID
	RequestID string
	Remote    string
	UserAgent string
	Started   time.Time

	bytesSent  atomic.Uint64
	chunksSent atomic.Uint64
	skipped    atomic.Uint64
	streaming  atomic.Bool
}

// SessionInfo is a read-only copy of a session's state
type SessionInfo struct {
	ID         string    `json:"id"`
	RequestID  string    `json:"request_id,omitempty"`
	Remote     string    `json:"remote"`
	UserAgent  string    `json:"user_agent,omitempty"`
	Started    time.Time `json:"started"`
	Streaming  bool      `json:"streaming"`
	BytesSent  uint64    `json:"bytes_sent"`
	ChunksSent uint64    `json:"chunks_sent"`
	Skipped    uint64    `json:"skipped_chunks"`
}

// Info snapshots the session
func (s *Session) Info() SessionInfo {
	return SessionInfo{
		ID:         s.ID.String(),
		RequestID:  s.RequestID,
		Remote:     s.Remote,
		UserAgent:  s.UserAgent,
		Started:    s.Started,
		Streaming:  s.streaming.Load(),
		BytesSent:  s.bytesSent.Load(),
		ChunksSent: s.chunksSent.Load(),
		Skipped:    s.skipped.Load(),
	}
}

// Registry tracks live sessions by id. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]*Session
	total    atomic.Uint64
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[uuid.UUID]*Session)}
}

func (r *Registry) add(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID] = s
	r.total.Add(1)
}

func (r *Registry) remove(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

// Len returns the number of live sessions
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Total returns how many sessions were ever registered
func (r *Registry) Total() uint64 {
	return r.total.Load()
}

// Sessions returns the live sessions ordered by start time
func (r *Registry) Sessions() []SessionInfo {
	r.mu.RLock()
	out := make([]SessionInfo, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s.Info())
	}
	r.mu.RUnlock()

	slices.SortFunc(out, func(a, b SessionInfo) int {
		if c := a.Started.Compare(b.Started); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out
}
