package console

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/matthewbaird/payoutrules/internal/types"
)

const maxHistory = 100

// Session holds per-connection console state.
type Session struct {
	ID           string
	OwnerID      string
	CreatedAt    time.Time
	LastActiveAt time.Time

	mu      sync.Mutex
	history []string
	record  types.RawBookingSource
}

func newSession(ownerID string) *Session {
	now := time.Now()
	return &Session{
		ID:           uuid.New().String(),
		OwnerID:      ownerID,
		CreatedAt:    now,
		LastActiveAt: now,
	}
}

// Remember appends a formula to the history and, when record is non-nil,
// makes it the session's current record. It returns the record to use.
func (s *Session) Remember(formula string, record types.RawBookingSource) types.RawBookingSource {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.LastActiveAt = time.Now()
	if formula != "" {
		s.history = append(s.history, formula)
		if len(s.history) > maxHistory {
			s.history = s.history[len(s.history)-maxHistory:]
		}
	}
	if record != nil {
		s.record = record
	}
	return s.record
}

// History returns the formulas evaluated so far, oldest first.
func (s *Session) History() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.history...)
}

func (s *Session) idle(timeout time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.LastActiveAt) > timeout
}

// Manager tracks open sessions.
type Manager struct {
	mu          sync.RWMutex
	sessions    map[string]*Session
	idleTimeout time.Duration
}

func NewManager(idleTimeout time.Duration) *Manager {
	return &Manager{
		sessions:    make(map[string]*Session),
		idleTimeout: idleTimeout,
	}
}

func (m *Manager) Create(ownerID string) *Session {
	s := newSession(ownerID)
	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()
	return s
}

// Get returns the session, or nil if it is unknown or idle.
func (m *Manager) Get(id string) *Session {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil
	}
	if s.idle(m.idleTimeout) {
		m.Remove(id)
		return nil
	}
	return s
}

func (m *Manager) Remove(id string) {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
}

func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Cleanup removes idle sessions.
func (m *Manager) Cleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, s := range m.sessions {
		if s.idle(m.idleTimeout) {
			delete(m.sessions, id)
		}
	}
}
