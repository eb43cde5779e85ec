package collab

import (
	"context"
	"sync"

	"github.com/devmate/devmate/pkg/channel"
	"github.com/devmate/devmate/pkg/filetree"
	"github.com/devmate/devmate/pkg/logging"
	"github.com/devmate/devmate/pkg/sandbox"
)

// Manager hands out at most one live session per project.
type Manager struct {
	store    Store
	runtime  Runtime
	notifier Notifier
	logger   *logging.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager creates a session manager.
func NewManager(store Store, runtime Runtime, notifier Notifier, logger *logging.Logger) *Manager {
	return &Manager{
		store:    store,
		runtime:  runtime,
		notifier: notifier,
		logger:   logger,
		sessions: make(map[string]*Session),
	}
}

// Open returns the project's session, opening it on first use.
func (m *Manager) Open(ctx context.Context, projectID, userID string) (*Session, error) {
	m.mu.Lock()
	if s, ok := m.sessions[projectID]; ok {
		m.mu.Unlock()
		return s, nil
	}
	m.mu.Unlock()

	s := NewSession(projectID, m.store, m.runtime, m.notifier, m.logger)
	if err := s.Open(ctx, userID); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.sessions[projectID]; ok {
		// Lost the race; the winner's session is authoritative.
		return existing, nil
	}
	m.sessions[projectID] = s
	return s, nil
}

// Get returns the live session for a project, if any.
func (m *Manager) Get(projectID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[projectID]
	return s, ok
}

// Close shuts down and forgets the project's session.
func (m *Manager) Close(projectID string) {
	m.mu.Lock()
	s := m.sessions[projectID]
	delete(m.sessions, projectID)
	m.mu.Unlock()
	if s != nil {
		s.Close()
	}
}

// CloseAll shuts down every live session, for server shutdown.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
}

// localRuntime adapts sandbox.LocalRuntime to the Runtime interface.
type localRuntime struct {
	rt *sandbox.LocalRuntime
}

// WrapRuntime exposes a sandbox runtime through the session's Runtime
// interface.
func WrapRuntime(rt *sandbox.LocalRuntime) Runtime {
	return localRuntime{rt: rt}
}

func (l localRuntime) Mount(projectID string, tree filetree.Nested) (string, error) {
	return l.rt.Mount(projectID, tree)
}

func (l localRuntime) Spawn(ctx context.Context, dir, name string, args ...string) (Process, error) {
	p, err := l.rt.Spawn(ctx, dir, name, args...)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (l localRuntime) PreviewPort() int { return l.rt.PreviewPort() }

// hubNotifier adapts the channel hub to the Notifier interface.
type hubNotifier struct {
	hub *channel.Hub
}

// WrapHub exposes a hub through the session's Notifier interface.
func WrapHub(h *channel.Hub) Notifier {
	return hubNotifier{hub: h}
}

func (n hubNotifier) Publish(ctx context.Context, ev channel.Event) {
	n.hub.Publish(ctx, ev, nil)
}
