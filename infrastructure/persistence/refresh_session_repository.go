package persistence

import (
	"context"
	"sort"
	"sync"

	"reel-tracker/domain/model"
	"reel-tracker/domain/repository"
)

// DefaultSessionRetention is how many sessions the in-memory repository keeps.
const DefaultSessionRetention = 200

// RefreshSessionRepository keeps the most recent refresh sessions in memory.
type RefreshSessionRepository struct {
	mu        sync.RWMutex
	sessions  map[string]model.RefreshSession
	retention int
}

func NewRefreshSessionRepository(retention int) repository.IRefreshSessionRepository {
	if retention <= 0 {
		retention = DefaultSessionRetention
	}
	return &RefreshSessionRepository{sessions: make(map[string]model.RefreshSession), retention: retention}
}

func (r *RefreshSessionRepository) Save(_ context.Context, session *model.RefreshSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[session.ID] = session.Clone()
	if len(r.sessions) > r.retention {
		r.evictOldest()
	}
	return nil
}

func (r *RefreshSessionRepository) Get(_ context.Context, id string) (*model.RefreshSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, model.ErrSessionNotFound
	}
	out := s.Clone()
	return &out, nil
}

func (r *RefreshSessionRepository) List(_ context.Context, initiatedBy string, limit int) ([]model.RefreshSession, error) {
	r.mu.RLock()
	out := make([]model.RefreshSession, 0, len(r.sessions))
	for _, s := range r.sessions {
		if initiatedBy == "" || s.InitiatedBy == initiatedBy {
			out = append(out, s.Clone())
		}
	}
	r.mu.RUnlock()

	sortNewestFirst(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *RefreshSessionRepository) evictOldest() {
	var oldestID string
	var oldest model.RefreshSession
	for id, s := range r.sessions {
		if s.Status == model.SessionRunning || s.Status == model.SessionPending {
			continue
		}
		if oldestID == "" || s.StartedAt.Before(oldest.StartedAt) {
			oldestID, oldest = id, s
		}
	}
	if oldestID != "" {
		delete(r.sessions, oldestID)
	}
}

func sortNewestFirst(sessions []model.RefreshSession) {
	sort.Slice(sessions, func(i, j int) bool {
		if sessions[i].StartedAt.Equal(sessions[j].StartedAt) {
			return sessions[i].ID > sessions[j].ID
		}
		return sessions[i].StartedAt.After(sessions[j].StartedAt)
	})
}
