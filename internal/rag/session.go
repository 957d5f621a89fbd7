package rag

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/developer-mesh/docs-expert/internal/models"
)

// maxStoredTurns bounds the window kept per session
const maxStoredTurns = 10

// SessionManager holds recent turns per session in process memory. Sessions
// expire after the configured TTL and the least recently used are evicted
// once the registry is full.
type SessionManager struct {
	sessions *expirable.LRU[string, []models.Message]
	window   int

	// serializes read-modify-write of a session window
	mu sync.Mutex
}

// NewSessionManager creates a registry of at most size sessions
func NewSessionManager(size int, ttl time.Duration, window int) *SessionManager {
	if size <= 0 {
		size = 1000
	}
	if window <= 0 {
		window = 5
	}
	return &SessionManager{
		sessions: expirable.NewLRU[string, []models.Message](size, nil, ttl),
		window:   window,
	}
}

// Resolve returns the session id to use, generating one when id is empty
func (m *SessionManager) Resolve(id string) string {
	if id == "" {
		return uuid.NewString()
	}
	return id
}

// History returns the caller's history when present, else the stored window
func (m *SessionManager) History(id string, supplied []models.Message) []models.Message {
	if len(supplied) > 0 {
		return supplied
	}
	stored, ok := m.sessions.Get(id)
	if !ok {
		return nil
	}
	out := make([]models.Message, len(stored))
	copy(out, stored)
	return out
}

// Context renders the last window entries of history for the answer prompt
func (m *SessionManager) Context(history []models.Message) string {
	return renderHistory(history, m.window)
}

// Append records a completed exchange
func (m *SessionManager) Append(id string, turns ...models.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, _ := m.sessions.Get(id)
	next := make([]models.Message, 0, len(stored)+len(turns))
	next = append(next, stored...)
	next = append(next, turns...)
	if len(next) > maxStoredTurns {
		next = next[len(next)-maxStoredTurns:]
	}
	m.sessions.Add(id, next)
}

// Len returns the number of live sessions
func (m *SessionManager) Len() int {
	return m.sessions.Len()
}
