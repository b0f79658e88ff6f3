package session

import (
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type entry struct {
	mu      sync.Mutex
	session *Session
}

// Manager tracks sessions by id and expires idle ones.
type Manager struct {
	idleTTL time.Duration
	now     func() time.Time

	mu       sync.RWMutex
	sessions map[string]*entry
}

// NewManager returns a manager whose sessions expire after idleTTL without activity.
// A zero idleTTL keeps sessions until removed.
func NewManager(idleTTL time.Duration) *Manager {
	return &Manager{
		idleTTL:  idleTTL,
		now:      time.Now,
		sessions: make(map[string]*entry),
	}
}

// Create starts a new empty session.
func (m *Manager) Create() string {
	now := m.now()
	s := &Session{id: uuid.NewString(), createdAt: now, lastActive: now}

	m.mu.Lock()
	m.sessions[s.id] = &entry{session: s}
	m.mu.Unlock()
	return s.id
}

// Exists reports whether id names a live session.
func (m *Manager) Exists(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.sessions[id]
	return ok
}

// Get returns the metadata of session id.
func (m *Manager) Get(id string) (Info, bool) {
	e, ok := m.lookup(id)
	if !ok {
		return Info{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session.Info(), true
}

// GetOrCreate returns id when it names a live session and a fresh session otherwise.
// created reports which case applied.
func (m *Manager) GetOrCreate(id string) (sid string, created bool) {
	if id != "" && m.Exists(id) {
		return id, false
	}
	return m.Create(), true
}

// List returns metadata for all sessions, most recently active first.
func (m *Manager) List() []Info {
	m.mu.RLock()
	entries := make([]*entry, 0, len(m.sessions))
	for _, e := range m.sessions {
		entries = append(entries, e)
	}
	m.mu.RUnlock()

	out := make([]Info, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, e.session.Info())
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastActive.After(out[j].LastActive) })
	return out
}

// Remove forgets session id.
func (m *Manager) Remove(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; !ok {
		return false
	}
	delete(m.sessions, id)
	return true
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// With runs fn with session id locked, so one logical thread of control at a time
// touches its navigation state. Activity is refreshed before fn runs.
func (m *Manager) With(id string, fn func(*Session) error) error {
	e, ok := m.lookup(id)
	if !ok {
		return ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.session.lastActive = m.now()
	return fn(e.session)
}

// Sweep removes sessions idle since before now minus the idle TTL and reports how
// many were removed. Sessions busy inside With are skipped.
func (m *Manager) Sweep(now time.Time) int {
	if m.idleTTL <= 0 {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, e := range m.sessions {
		if !e.mu.TryLock() {
			continue
		}
		idle := now.Sub(e.session.lastActive) > m.idleTTL
		e.mu.Unlock()
		if idle {
			delete(m.sessions, id)
			removed++
		}
	}
	if removed > 0 {
		log.Printf("session sweep: removed %d idle sessions", removed)
	}
	return removed
}

func (m *Manager) lookup(id string) (*entry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.sessions[id]
	return e, ok
}
