package recorder

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"tourflow/internal/page"
	"tourflow/internal/steps"
	"tourflow/pkg/chrome"
)

// Manager owns all live recording sessions. One browser tab per session,
// capped, addressed by session id.
type Manager struct {
	mu            sync.RWMutex
	sessions      map[string]*Session
	maxConcurrent int
	testAttr      string
}

var GlobalManager *Manager

// InitManager sets up the global session manager. testAttr is the
// default test-hook attribute used when a site does not override it;
// drain overrides the event drain interval when positive.
func InitManager(maxConcurrent int, testAttr string, drain time.Duration) {
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}
	if drain > 0 {
		drainInterval = drain
	}
	GlobalManager = NewManager(maxConcurrent, testAttr)
	log.Printf("Recorder manager initialized with %d concurrent session slots", maxConcurrent)
}

func NewManager(maxConcurrent int, testAttr string) *Manager {
	return &Manager{
		sessions:      make(map[string]*Session),
		maxConcurrent: maxConcurrent,
		testAttr:      testAttr,
	}
}

// StartSession opens a browser tab on targetURL under the given viewport
// and begins recording into a fresh session. testAttr overrides the
// manager default when the recorded site uses its own test hooks.
func (m *Manager) StartSession(targetURL string, vp chrome.ViewportPreset, testAttr string) (*Session, error) {
	if targetURL == "" {
		return nil, fmt.Errorf("target url is required")
	}
	if testAttr == "" {
		testAttr = m.testAttr
	}

	m.mu.Lock()
	active := 0
	for _, s := range m.sessions {
		if s.State() != StateStopped {
			active++
		}
	}
	if active >= m.maxConcurrent {
		m.mu.Unlock()
		return nil, fmt.Errorf("recording capacity reached (%d sessions active)", active)
	}
	m.mu.Unlock()

	id := uuid.New().String()
	pg, err := page.NewSession(context.Background(), page.Options{
		TargetURL:    targetURL,
		Viewport:     vp,
		Headful:      true,
		ReuseBrowser: true,
		Key:          id,
	})
	if err != nil {
		return nil, fmt.Errorf("open recording tab: %w", err)
	}

	s := newSession(id, targetURL, vp.Name, pg, testAttr)
	if err := s.start(); err != nil {
		pg.Close()
		return nil, err
	}

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()
	return s, nil
}

func (m *Manager) Get(sessionID string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	return s, ok
}

// Status reports a session's state and current steps in one call.
func (m *Manager) Status(sessionID string) (State, []steps.Step, error) {
	s, ok := m.Get(sessionID)
	if !ok {
		return "", nil, fmt.Errorf("recording session %s not found", sessionID)
	}
	return s.State(), s.Steps(), nil
}

func (m *Manager) Stop(sessionID string) error {
	s, ok := m.Get(sessionID)
	if !ok {
		return fmt.Errorf("recording session %s not found", sessionID)
	}
	return s.Stop()
}

func (m *Manager) Pause(sessionID string) error {
	s, ok := m.Get(sessionID)
	if !ok {
		return fmt.Errorf("recording session %s not found", sessionID)
	}
	return s.Pause()
}

func (m *Manager) Resume(sessionID string) error {
	s, ok := m.Get(sessionID)
	if !ok {
		return fmt.Errorf("recording session %s not found", sessionID)
	}
	return s.Resume()
}

// Cleanup forgets a session after its steps were saved. A still-live
// session is stopped first.
func (m *Manager) Cleanup(sessionID string) error {
	s, ok := m.Get(sessionID)
	if !ok {
		return nil
	}
	if s.State() != StateStopped {
		if err := s.Stop(); err != nil {
			log.Printf("⚠️ Failed to stop session %s during cleanup: %v", sessionID, err)
		}
	}
	m.mu.Lock()
	delete(m.sessions, sessionID)
	m.mu.Unlock()
	return nil
}

func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, s := range m.sessions {
		if s.State() != StateStopped {
			n++
		}
	}
	return n
}

// PruneStale stops and forgets sessions nobody has touched for maxIdle.
// Authors abandon browser tabs; without this the tab and its Chrome
// process would stay open forever.
func (m *Manager) PruneStale(maxIdle time.Duration) int {
	m.mu.RLock()
	var stale []*Session
	for _, s := range m.sessions {
		if time.Since(s.LastSeen()) > maxIdle {
			stale = append(stale, s)
		}
	}
	m.mu.RUnlock()

	for _, s := range stale {
		if s.State() != StateStopped {
			log.Printf("🧹 Pruning idle recording session %s (last activity %s ago)",
				s.ID, time.Since(s.LastSeen()).Round(time.Second))
			if err := s.Stop(); err != nil {
				log.Printf("⚠️ Failed to stop stale session %s: %v", s.ID, err)
			}
		}
		m.mu.Lock()
		delete(m.sessions, s.ID)
		m.mu.Unlock()
	}
	return len(stale)
}
