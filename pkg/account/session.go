package account

import (
	"crypto/sha256"
	"encoding/binary"
	"strconv"
	"sync"
	"time"
)

// Session limits.
const (
	// sessionIdleTimeout expires sessions after an hour without traffic.
	sessionIdleTimeout = time.Hour

	// maxSessions caps the tracker; the oldest session is evicted.
	maxSessions = 500
)

// Session is a derived conversation handle. It pins a conversation to one
// account while it continues so upstream prompt caching stays warm.
type Session struct {
	ID string

	// AccountKey is the pinned account, empty until first selection.
	AccountKey string

	// MessageCount is the highest message count seen. A continuation must
	// be monotonically non-decreasing.
	MessageCount int

	// TokensConsumed accumulates estimated tokens across turns.
	TokensConsumed int64

	// LastSeen is the last touch time.
	LastSeen time.Time

	// FirstSeen is when the session was created.
	FirstSeen time.Time
}

// DeriveSessionID builds a deterministic session id from the first user
// message content plus a uniqueness tag (typically the caller's user_id).
// The id doubles as the upstream sessionId, which expects the signed
// decimal form.
func DeriveSessionID(firstUserText, tag string) string {
	h := sha256.Sum256([]byte(tag + "\x00" + firstUserText))
	n := int64(binary.BigEndian.Uint64(h[:8])) & 0x7FFFFFFFFFFFFFFF
	return "-" + strconv.FormatInt(n, 10)
}

// Sessions tracks active sessions. Guarded by its own lock; eviction copies
// keys before iterating.
type Sessions struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

// NewSessions creates an empty tracker.
func NewSessions() *Sessions {
	return &Sessions{sessions: make(map[string]*Session)}
}

// Track records a sighting of the session and returns its record. A session
// continues only while touched within the idle timeout with a
// non-decreasing message count; otherwise the record restarts and any pin
// is dropped.
func (s *Sessions) Track(id string, messageCount int) *Session {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if ok {
		expired := now.Sub(sess.LastSeen) > sessionIdleTimeout
		rewound := messageCount < sess.MessageCount
		if expired || rewound {
			sess = nil
		}
	}
	if sess == nil {
		if len(s.sessions) >= maxSessions {
			s.evictOldestLocked()
		}
		sess = &Session{ID: id, FirstSeen: now}
		s.sessions[id] = sess
	}
	sess.MessageCount = messageCount
	sess.LastSeen = now
	return sess
}

// Get returns the session if it exists and has not idled out.
func (s *Sessions) Get(id string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok || time.Since(sess.LastSeen) > sessionIdleTimeout {
		return nil
	}
	return sess
}

// Pin assigns the session to an account.
func (s *Sessions) Pin(id, accountKey string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[id]; ok {
		sess.AccountKey = accountKey
	}
}

// Unpin clears the session's account assignment.
func (s *Sessions) Unpin(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[id]; ok {
		sess.AccountKey = ""
	}
}

// AddTokens accumulates estimated token consumption for rotation triggers.
func (s *Sessions) AddTokens(id string, tokens int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[id]; ok {
		sess.TokensConsumed += tokens
	}
}

// Len returns the number of tracked sessions.
func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Sweep removes sessions idle past the timeout. Called periodically.
func (s *Sessions) Sweep() int {
	now := time.Now()

	s.mu.Lock()
	keys := make([]string, 0, len(s.sessions))
	for k := range s.sessions {
		keys = append(keys, k)
	}
	removed := 0
	for _, k := range keys {
		if now.Sub(s.sessions[k].LastSeen) > sessionIdleTimeout {
			delete(s.sessions, k)
			removed++
		}
	}
	s.mu.Unlock()
	return removed
}

// evictOldestLocked drops the session with the oldest LastSeen.
// Caller must hold s.mu.
func (s *Sessions) evictOldestLocked() {
	var oldestKey string
	var oldest time.Time
	for k, sess := range s.sessions {
		if oldestKey == "" || sess.LastSeen.Before(oldest) {
			oldestKey = k
			oldest = sess.LastSeen
		}
	}
	if oldestKey != "" {
		delete(s.sessions, oldestKey)
	}
}
