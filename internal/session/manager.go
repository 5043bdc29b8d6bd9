package session

import (
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mcdl70/pitch-perfect/internal/interview"
	"github.com/mcdl70/pitch-perfect/internal/playback"
)

// ErrNotFound is returned when no live session matches the id.
var ErrNotFound = errors.New("session not found")

// Session pairs one live controller with its owned playback queue.
type Session struct {
	ID         string
	Owner      string
	Controller *interview.Controller
	Queue      *playback.Queue
	CreatedAt  time.Time

	mu       sync.Mutex
	touched  time.Time
	released bool
	done     chan struct{}
}

// Done closes when the session is released, whether by explicit removal,
// the TTL sweep, or manager shutdown.
func (s *Session) Done() <-chan struct{} { return s.done }

// Touch marks the session as recently used for the TTL sweep.
func (s *Session) Touch() {
	s.mu.Lock()
	s.touched = time.Now()
	s.mu.Unlock()
}

func (s *Session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.touched
}

// release frees the playback resources exactly once and signals Done.
func (s *Session) release() {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return
	}
	s.released = true
	s.mu.Unlock()
	if s.Queue != nil {
		s.Queue.Interrupt()
		s.Queue.Close()
	}
	close(s.done)
}

// Manager is the registry of live interview sessions. Each browser session
// owns its own controller instance; the manager only tracks and reaps them.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	ttl      time.Duration
	stop     chan struct{}
	stopOnce sync.Once
}

// NewManager starts a registry whose sweep releases sessions idle longer
// than ttl. Zero ttl means the 2h default.
func NewManager(ttl time.Duration) *Manager {
	if ttl == 0 {
		ttl = 2 * time.Hour
	}
	m := &Manager{
		sessions: make(map[string]*Session),
		ttl:      ttl,
		stop:     make(chan struct{}),
	}
	go m.sweep()
	return m
}

// Add registers a controller and returns its session with a fresh id.
func (m *Manager) Add(owner string, ctrl *interview.Controller, queue *playback.Queue) *Session {
	s := &Session{
		ID:         uuid.NewString(),
		Owner:      owner,
		Controller: ctrl,
		Queue:      queue,
		CreatedAt:  time.Now(),
		touched:    time.Now(),
		done:       make(chan struct{}),
	}
	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()
	return s
}

// Get returns the live session, touching it.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	s.Touch()
	return s, nil
}

// Remove releases and forgets a session.
func (m *Manager) Remove(id string) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if ok {
		s.release()
	}
}

// Len reports the number of live sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Close stops the sweeper and releases every session.
func (m *Manager) Close() {
	m.stopOnce.Do(func() { close(m.stop) })
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for id, s := range m.sessions {
		sessions = append(sessions, s)
		delete(m.sessions, id)
	}
	m.mu.Unlock()
	for _, s := range sessions {
		s.release()
	}
}

func (m *Manager) sweep() {
	interval := m.ttl / 4
	if interval > 10*time.Minute {
		interval = 10 * time.Minute
	}
	if interval < time.Millisecond {
		interval = time.Millisecond
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-t.C:
			m.reap()
		}
	}
}

func (m *Manager) reap() {
	cutoff := time.Now().Add(-m.ttl)
	var expired []*Session
	m.mu.Lock()
	for id, s := range m.sessions {
		if s.idleSince().Before(cutoff) {
			expired = append(expired, s)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()
	for _, s := range expired {
		log.Printf("session: reaping idle session %s", s.ID)
		s.release()
	}
}
