package pipeline

import (
	"context"
	"errors"
	"macrodash/internal/models"
	"sync"
	"time"

	"github.com/google/uuid"
)

var ErrUnknownSession = errors.New("unknown session")

// Ticket identifies one interaction cycle of a session.
type Ticket struct {
	ID  uuid.UUID
	Gen uint64
}

// Session is the state of one dashboard viewer. A newer interaction
// supersedes any cycle still in flight: only the result of the most recent
// ticket is ever committed.
type Session struct {
	ID uuid.UUID

	p  *Pipeline
	mu sync.Mutex

	gen      uint64
	current  Ticket
	view     models.ViewState
	bundle   *models.Bundle
	lastSeen time.Time
}

func (p *Pipeline) NewSession() *Session {
	return &Session{ID: uuid.New(), p: p, view: p.codec.Default(), lastSeen: time.Now()}
}

// Begin starts a cycle and makes it the current one.
func (s *Session) Begin() Ticket {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	s.current = Ticket{ID: uuid.New(), Gen: s.gen}
	s.lastSeen = time.Now()
	return s.current
}

// Commit stores b if t is still the current ticket and reports whether it
// did.
func (s *Session) Commit(t Ticket, b models.Bundle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t != s.current {
		return false
	}
	s.view = b.View
	s.bundle = &b
	return true
}

// Apply runs req as a new cycle. The bundle is returned even when a later
// cycle superseded it; committed tells the caller whether it became the
// session's current state.
func (s *Session) Apply(ctx context.Context, req Request) (b models.Bundle, committed bool, err error) {
	t := s.Begin()
	b, err = s.p.Run(ctx, req)
	if err != nil {
		return models.Bundle{}, false, err
	}
	return b, s.Commit(t, b), nil
}

// Reset applies the default selection.
func (s *Session) Reset(ctx context.Context) (models.Bundle, bool, error) {
	return s.Apply(ctx, Request{View: s.p.codec.Default()})
}

// Current returns the last committed view and bundle. The bundle is nil
// until a cycle has been committed.
func (s *Session) Current() (models.ViewState, *models.Bundle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view, s.bundle
}

func (s *Session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

// Sessions is an in-memory session table.
type Sessions struct {
	p    *Pipeline
	mu   sync.RWMutex
	byID map[uuid.UUID]*Session
}

func NewSessions(p *Pipeline) *Sessions {
	return &Sessions{p: p, byID: make(map[uuid.UUID]*Session)}
}

func (ss *Sessions) Create() *Session {
	s := ss.p.NewSession()
	ss.mu.Lock()
	ss.byID[s.ID] = s
	ss.mu.Unlock()
	return s
}

func (ss *Sessions) Get(id string) (*Session, error) {
	u, err := uuid.Parse(id)
	if err != nil {
		return nil, ErrUnknownSession
	}
	ss.mu.RLock()
	s, ok := ss.byID[u]
	ss.mu.RUnlock()
	if !ok {
		return nil, ErrUnknownSession
	}
	return s, nil
}

// Expire drops sessions idle for longer than idle and returns how many went.
func (ss *Sessions) Expire(idle time.Duration) int {
	cutoff := time.Now().Add(-idle)
	ss.mu.Lock()
	defer ss.mu.Unlock()
	n := 0
	for id, s := range ss.byID {
		if s.idleSince().Before(cutoff) {
			delete(ss.byID, id)
			n++
		}
	}
	return n
}

func (ss *Sessions) Len() int {
	ss.mu.RLock()
	defer ss.mu.RUnlock()
	return len(ss.byID)
}
