package repo

import (
	"context"
	"sync"
	"time"

	"github.com/labelspy/server/internal/agent/model"
)

type memoryEntry struct {
	session *model.Session
	touched time.Time
}

// MemorySessionRepository keeps sessions for the lifetime of the process.
// Entries idle for longer than ttl are dropped lazily; ttl <= 0 keeps them.
type MemorySessionRepository struct {
	mu       sync.RWMutex
	sessions map[int64]*memoryEntry
	ttl      time.Duration
	now      func() time.Time
}

func NewMemorySessionRepository(ttl time.Duration) *MemorySessionRepository {
	return &MemorySessionRepository{
		sessions: make(map[int64]*memoryEntry),
		ttl:      ttl,
		now:      time.Now,
	}
}

func (r *MemorySessionRepository) expired(e *memoryEntry) bool {
	return r.ttl > 0 && r.now().Sub(e.touched) > r.ttl
}

func (r *MemorySessionRepository) Get(_ context.Context, userID int64) (*model.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.sessions[userID]
	if !ok || r.expired(e) {
		return model.NewSession(userID), nil
	}
	return e.session.Clone(), nil
}

// update applies fn to the user's session under the write lock.
func (r *MemorySessionRepository) update(userID int64, fn func(s *model.Session)) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.sessions[userID]
	if !ok || r.expired(e) {
		e = &memoryEntry{session: model.NewSession(userID)}
		r.sessions[userID] = e
	}
	fn(e.session)
	e.touched = r.now()
}

func (r *MemorySessionRepository) SetRecognizedText(_ context.Context, userID int64, text string) error {
	r.update(userID, func(s *model.Session) {
		s.RecognizedText = text
		s.Analysis = nil
		s.Recipes = nil
	})
	return nil
}

func (r *MemorySessionRepository) SetAnalysis(_ context.Context, userID int64, analysis *model.StructuredAnalysis) error {
	snapshot := (&model.Session{Analysis: analysis}).Clone().Analysis
	r.update(userID, func(s *model.Session) {
		s.Analysis = snapshot
	})
	return nil
}

func (r *MemorySessionRepository) SetRecipes(_ context.Context, userID int64, recipes *model.RecipeSet) error {
	snapshot := (&model.Session{Recipes: recipes}).Clone().Recipes
	r.update(userID, func(s *model.Session) {
		s.Recipes = snapshot
	})
	return nil
}

func (r *MemorySessionRepository) SetState(_ context.Context, userID int64, state model.State) error {
	r.update(userID, func(s *model.Session) {
		s.State = state
	})
	return nil
}

func (r *MemorySessionRepository) Clear(_ context.Context, userID int64) error {
	r.mu.Lock()
	delete(r.sessions, userID)
	r.mu.Unlock()
	return nil
}

// Len reports how many sessions are held, expired ones included.
func (r *MemorySessionRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

var _ model.SessionRepository = (*MemorySessionRepository)(nil)
