package store

import "sync"

// Manager hands each authenticated session its own RecordStore. Stores are
// created lazily and dropped wholesale when a session clears or expires.
type Manager struct {
	mu     sync.Mutex
	stores map[string]*RecordStore
}

func NewManager() *Manager {
	return &Manager{stores: make(map[string]*RecordStore)}
}

// ForSession returns the session's store, creating it on first use.
func (m *Manager) ForSession(sessionID string) *RecordStore {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.stores[sessionID]
	if !ok {
		s = NewRecordStore()
		m.stores[sessionID] = s
	}
	return s
}

// Drop removes a session's store entirely.
func (m *Manager) Drop(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.stores, sessionID)
}
