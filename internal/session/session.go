package session

import (
	"slices"
	"sync"
)

// Key identifies one person looking at one poll message.
type Key struct {
	UserID    int64
	ChatID    int64
	MessageID int
}

// Session holds the options ticked on a multi-select poll before submit.
type Session struct {
	Selected []int
}

type Manager struct {
	mu       sync.Mutex
	sessions map[Key]*Session
}

func NewManager() *Manager {
	return &Manager{
		sessions: make(map[Key]*Session),
	}
}

// Toggle flips one option and returns the current selection, sorted.
func (m *Manager) Toggle(k Key, index int) []int {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.sessions[k]
	if s == nil {
		s = &Session{}
		m.sessions[k] = s
	}

	if i := slices.Index(s.Selected, index); i >= 0 {
		s.Selected = slices.Delete(s.Selected, i, i+1)
	} else {
		s.Selected = append(s.Selected, index)
		slices.Sort(s.Selected)
	}
	if len(s.Selected) == 0 {
		delete(m.sessions, k)
		return nil
	}
	return slices.Clone(s.Selected)
}

// Take returns the selection and forgets it.
func (m *Manager) Take(k Key) []int {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.sessions[k]
	delete(m.sessions, k)
	if s == nil {
		return nil
	}
	return s.Selected
}

// Restore puts a selection back, e.g. after a failed send.
func (m *Manager) Restore(k Key, selected []int) {
	if len(selected) == 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[k] = &Session{Selected: slices.Clone(selected)}
}

// Forget drops every pending selection on a message once the live card has
// moved to another message.
func (m *Manager) Forget(chatID int64, messageID int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for k := range m.sessions {
		if k.ChatID == chatID && k.MessageID == messageID {
			delete(m.sessions, k)
		}
	}
}
