package party

import (
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Manager holds the live sessions, one per page connection.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	options  func() Options
	watchers []func(Event)
}

// NewManager creates a manager. options is called for every new session
// so that changed settings apply to the next party; nil uses DefaultOptions.
func NewManager(options func() Options) *Manager {
	if options == nil {
		options = DefaultOptions
	}
	return &Manager{
		sessions: make(map[string]*Session),
		options:  options,
	}
}

// Watch registers fn for the events of every session created afterwards.
func (m *Manager) Watch(fn func(Event)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.watchers = append(m.watchers, fn)
}

// Create starts a new session with a fresh ID.
func (m *Manager) Create() *Session {
	s := NewSession(uuid.New().String(), m.options())

	m.mu.Lock()
	for _, fn := range m.watchers {
		s.Subscribe(fn)
	}
	m.sessions[s.ID()] = s
	n := len(m.sessions)
	m.mu.Unlock()

	log.Debug().Str("session", s.ID()).Int("sessions", n).Msg("Session created")
	return s
}

// Get returns the session with the given ID.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Remove closes and forgets a session. Unknown IDs are ignored.
func (m *Manager) Remove(id string) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()

	if ok {
		s.Close()
		log.Debug().Str("session", id).Msg("Session closed")
	}
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// ResetAll relights the candles of every live session.
func (m *Manager) ResetAll() {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	for _, s := range sessions {
		s.Reset()
	}
}

// CloseAll closes every session.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
}
