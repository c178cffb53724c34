package bluetooth

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// LogEntry is one line of a session's diagnostic log.
type LogEntry struct {
	Time    time.Time `json:"time"`
	Message string    `json:"message"`
}

// Session holds the UI-visible state of one link role plus its capped
// diagnostic log. Mutation happens on the coordination queue; the lock
// exists so HTTP handlers can snapshot from their own goroutines.
type Session struct {
	mu  sync.RWMutex
	log zerolog.Logger

	powered       bool
	discovering   bool
	connectedPeer string
	subscribers   int

	entries    []LogEntry
	maxEntries int
}

func newSession(log zerolog.Logger) *Session {
	return &Session{log: log, maxEntries: MaxSessionLogEntries}
}

// logf appends a diagnostic entry, dropping the oldest once the cap is
// reached, and mirrors it to the structured logger.
func (s *Session) logf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	s.mu.Lock()
	s.entries = append(s.entries, LogEntry{Time: time.Now(), Message: msg})
	if len(s.entries) > s.maxEntries {
		s.entries = s.entries[len(s.entries)-s.maxEntries:]
	}
	s.mu.Unlock()
	s.log.Debug().Msg(msg)
}

func (s *Session) setPowered(on bool) {
	s.mu.Lock()
	s.powered = on
	s.mu.Unlock()
}

func (s *Session) setDiscovering(on bool) {
	s.mu.Lock()
	s.discovering = on
	s.mu.Unlock()
}

func (s *Session) setConnectedPeer(name string) {
	s.mu.Lock()
	s.connectedPeer = name
	s.mu.Unlock()
}

func (s *Session) setSubscribers(n int) {
	s.mu.Lock()
	s.subscribers = n
	s.mu.Unlock()
}

// SessionInfo is a point-in-time snapshot for the UI.
type SessionInfo struct {
	Powered       bool       `json:"powered"`
	Discovering   bool       `json:"discovering"`
	ConnectedPeer string     `json:"connected_peer,omitempty"`
	Subscribers   int        `json:"subscribers"`
	Log           []LogEntry `json:"log"`
}

func (s *Session) Snapshot() SessionInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := make([]LogEntry, len(s.entries))
	copy(entries, s.entries)
	return SessionInfo{
		Powered:       s.powered,
		Discovering:   s.discovering,
		ConnectedPeer: s.connectedPeer,
		Subscribers:   s.subscribers,
		Log:           entries,
	}
}
