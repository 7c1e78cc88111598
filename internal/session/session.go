// Package session tracks the open admin view sessions. A session owns one
// live view and one detail surface and is closed when idle too long.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"irepair-admin/internal/detail"
	"irepair-admin/internal/docstore"
	"irepair-admin/internal/livesync"
	"irepair-admin/internal/resolver"
	"irepair-admin/internal/viewmodel"
	"irepair-admin/internal/views"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrNotFound     = errors.New("session not found")
	ErrItemNotFound = errors.New("record not in view")
)

// Session is one client's open view
type Session struct {
	ID        string
	View      views.Definition
	Live      *livesync.View
	Detail    *detail.Surface
	CreatedAt time.Time

	mu       sync.Mutex
	lastSeen time.Time
}

// Model is the filtered view a client renders
type Model struct {
	Seq       uint64
	State     livesync.State
	Err       error
	Retryable bool
	Items     []resolver.Item
	// Statuses counts the visible items per status, before term and status filtering
	Statuses map[string]int
}

// Model filters the committed items with term and status
func (s *Session) Model(term, status string) Model {
	snap := s.Live.Snapshot()
	return Model{
		Seq:       snap.Seq,
		State:     snap.State,
		Err:       snap.Err,
		Retryable: snap.Retryable(),
		Items:     viewmodel.Build(snap.Items, term, status, s.View.Options),
		Statuses:  viewmodel.Statuses(snap.Items, s.View.Options),
	}
}

// Select shows the committed record id on the detail surface
func (s *Session) Select(id string) error {
	item, ok := s.Live.Find(id)
	if !ok || !viewmodel.Visible(item, s.View.Options) {
		return fmt.Errorf("%w: %s", ErrItemNotFound, id)
	}
	return s.Detail.Select(item)
}

// DetailState returns the surface with the selection refreshed from the
// latest committed snapshot
func (s *Session) DetailState() detail.State {
	if id := s.Detail.SelectedID(); id != "" {
		if item, ok := s.Live.Find(id); ok {
			s.Detail.Refresh(item)
		}
	}
	return s.Detail.State()
}

// Touch marks the session as used
func (s *Session) Touch(now time.Time) {
	s.mu.Lock()
	s.lastSeen = now
	s.mu.Unlock()
}

func (s *Session) idleSince(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Sub(s.lastSeen)
}

func (s *Session) close() {
	s.Live.Close()
	s.Detail.Close()
}

// Manager owns every session
type Manager struct {
	store       docstore.Store
	concurrency int
	idleTTL     time.Duration
	logger      *zap.Logger
	now         func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewManager(store docstore.Store, concurrency int, idleTTL time.Duration, logger *zap.Logger) *Manager {
	return &Manager{
		store:       store,
		concurrency: concurrency,
		idleTTL:     idleTTL,
		logger:      logger,
		now:         time.Now,
		sessions:    map[string]*Session{},
	}
}

// Open starts a session on the named view
func (m *Manager) Open(viewName string) (*Session, error) {
	def, err := views.Lookup(viewName)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	logger := m.logger.With(zap.String("session_id", id), zap.String("view", def.Name))
	res := resolver.New(m.store, def.Resolve, m.concurrency, logger)
	now := m.now()
	s := &Session{
		ID:        id,
		View:      def,
		Live:      livesync.New(m.store, def.Query, res, logger),
		Detail:    detail.New(m.store, def.Collection, logger),
		CreatedAt: now,
		lastSeen:  now,
	}
	if err := s.Live.Start(); err != nil {
		return nil, fmt.Errorf("failed to start view: %w", err)
	}

	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()

	logger.Info("Session opened")
	return s, nil
}

// Get returns the session and marks it used
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	m.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}
	s.Touch(m.now())
	return s, nil
}

// Close ends the session and releases its subscription
func (m *Manager) Close(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	s.close()
	m.logger.Info("Session closed", zap.String("session_id", id))
	return nil
}

// CloseAll ends every session
func (m *Manager) CloseAll() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = map[string]*Session{}
	m.mu.Unlock()

	for _, s := range sessions {
		s.close()
	}
	if len(sessions) > 0 {
		m.logger.Info("All sessions closed", zap.Int("count", len(sessions)))
	}
}

// Len returns the number of open sessions
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Run closes idle sessions until ctx is done, then closes the rest
func (m *Manager) Run(ctx context.Context) {
	defer m.CloseAll()
	if m.idleTTL <= 0 {
		<-ctx.Done()
		return
	}

	interval := m.idleTTL / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.reap(m.now()); n > 0 {
				m.logger.Info("Closed idle sessions", zap.Int("count", n))
			}
		}
	}
}

func (m *Manager) reap(now time.Time) int {
	m.mu.Lock()
	var idle []*Session
	for id, s := range m.sessions {
		if s.idleSince(now) > m.idleTTL {
			idle = append(idle, s)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, s := range idle {
		s.close()
	}
	return len(idle)
}
