package quictransport

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// SessionKey identifies a server-side session by
// (client_addr, client_port, nonce).
type SessionKey struct {
	ClientAddr string
	ClientPort int
	Nonce      uint64
}

// Session is the server-side peer of a Connection, tracked for idle
// eviction.
type Session struct {
	Key  SessionKey
	Conn *Connection

	lastActivity atomic.Int64 // unix nanos
}

func newSession(key SessionKey, conn *Connection) *Session {
	s := &Session{Key: key, Conn: conn}
	s.Touch()
	return s
}

// Touch refreshes the session's activity timestamp.
func (s *Session) Touch() { s.lastActivity.Store(time.Now().UnixNano()) }

// IdleFor returns how long the session has been inactive.
func (s *Session) IdleFor(now time.Time) time.Duration {
	return now.Sub(time.Unix(0, s.lastActivity.Load()))
}

// ErrMaxSessions is returned by SessionTable.Admit once MaxSessions is
// reached: the server rejects new handshakes rather than evicting an
// active session to make room.
var ErrMaxSessions = errors.New("quictransport: max sessions reached")

// DefaultSessionTimeout is the default server-side session idle timeout.
const DefaultSessionTimeout = 30 * time.Minute

// SessionTable is the server-side session registry: a single mutex guards
// structural modification, with a background sweeper closing sessions past
// their idle timeout.
type SessionTable struct {
	maxSessions int
	idleTimeout time.Duration
	onEvict     func(*Session)

	mu       sync.Mutex
	sessions map[SessionKey]*Session

	stopped chan struct{}
	cancel  func()
}

// NewSessionTable constructs a SessionTable. onEvict, if non-nil, fires
// once per session closed by the idle sweeper.
func NewSessionTable(maxSessions int, idleTimeout time.Duration, onEvict func(*Session)) *SessionTable {
	if idleTimeout <= 0 {
		idleTimeout = DefaultSessionTimeout
	}
	return &SessionTable{
		maxSessions: maxSessions,
		idleTimeout: idleTimeout,
		onEvict:     onEvict,
		sessions:    make(map[SessionKey]*Session),
	}
}

// Admit registers a new session for key, rejecting with ErrMaxSessions once
// the table is at capacity.
func (t *SessionTable) Admit(key SessionKey, conn *Connection) (*Session, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.maxSessions > 0 && len(t.sessions) >= t.maxSessions {
		return nil, ErrMaxSessions
	}
	s := newSession(key, conn)
	t.sessions[key] = s
	return s, nil
}

// Lookup returns the session for key, if any, and refreshes its activity
// timestamp.
func (t *SessionTable) Lookup(key SessionKey) (*Session, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[key]
	if ok {
		s.Touch()
	}
	return s, ok
}

// Count returns the number of active sessions.
func (t *SessionTable) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}

// Sessions returns a snapshot slice of the currently active sessions.
func (t *SessionTable) Sessions() []*Session {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*Session, 0, len(t.sessions))
	for _, s := range t.sessions {
		out = append(out, s)
	}
	return out
}

// sweepOnce closes every session idle longer than idleTimeout.
func (t *SessionTable) sweepOnce(now time.Time) {
	t.mu.Lock()
	var evicted []*Session
	for key, s := range t.sessions {
		if s.IdleFor(now) > t.idleTimeout {
			_ = s.Conn.Close()
			delete(t.sessions, key)
			evicted = append(evicted, s)
		}
	}
	t.mu.Unlock()

	for _, s := range evicted {
		if t.onEvict != nil {
			t.onEvict(s)
		}
	}
}

// StartSweeper launches the idle-session sweeper on its own goroutine,
// polling every interval until Stop is called.
func (t *SessionTable) StartSweeper(interval time.Duration) {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	stop := make(chan struct{})
	t.stopped = stop
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case now := <-ticker.C:
				t.sweepOnce(now)
			}
		}
	}()
}

// Stop halts the sweeper goroutine, if running.
func (t *SessionTable) Stop() {
	if t.stopped != nil {
		close(t.stopped)
		t.stopped = nil
	}
}
