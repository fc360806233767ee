package persistence

import (
	"context"
	"sort"
	"sync"
	"time"

	"reel-tracker/domain/model"
	"reel-tracker/domain/repository"
	"reel-tracker/infrastructure/logger"
)

// ReelStore is the authoritative in-memory store of tracked reels.
//
// The map lock guards membership and the shortcode index; each entry has its own
// lock so refreshes of different reels never wait on each other while writes to
// the same reel are serialized. Write-throughs run after the entry lock is released
// and are replayed per reel in mutation order.
type ReelStore struct {
	mu          sync.RWMutex
	reels       map[string]*reelEntry
	byShortcode map[string]string

	historyLimit int
	persister    repository.IReelPersister
	now          func() time.Time
}

type reelEntry struct {
	mu      sync.Mutex
	reel    model.Reel
	deleted bool
	ticket  uint64 // next write-through ticket, guarded by mu
	order   writeOrder
}

func newReelEntry(reel model.Reel) *reelEntry {
	e := &reelEntry{reel: reel}
	e.order.cond = sync.NewCond(&e.order.mu)
	return e
}

// take hands out the next write-through ticket. Callers hold e.mu.
func (e *reelEntry) take() uint64 {
	t := e.ticket
	e.ticket++
	return t
}

// writeOrder admits write-through tickets one at a time, lowest first.
type writeOrder struct {
	mu   sync.Mutex
	cond *sync.Cond
	done uint64
}

func (o *writeOrder) wait(ticket uint64) {
	o.mu.Lock()
	for o.done != ticket {
		o.cond.Wait()
	}
	o.mu.Unlock()
}

func (o *writeOrder) release() {
	o.mu.Lock()
	o.done++
	o.cond.Broadcast()
	o.mu.Unlock()
}

var _ repository.IReelStore = (*ReelStore)(nil)

// NewReelStore creates an empty store. historyLimit <= 0 uses model.DefaultHistoryLimit.
func NewReelStore(historyLimit int) *ReelStore {
	if historyLimit <= 0 {
		historyLimit = model.DefaultHistoryLimit
	}
	return &ReelStore{
		reels:        make(map[string]*reelEntry),
		byShortcode:  make(map[string]string),
		historyLimit: historyLimit,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// WithPersister forwards every mutation to p (fluent).
func (s *ReelStore) WithPersister(p repository.IReelPersister) *ReelStore {
	s.persister = p
	return s
}

// WithClock overrides the time source (fluent).
func (s *ReelStore) WithClock(now func() time.Time) *ReelStore {
	s.now = now
	return s
}

// Hydrate loads previously persisted reels. Reels whose shortcode is already present are skipped.
func (s *ReelStore) Hydrate(ctx context.Context) (int, error) {
	if s.persister == nil {
		return 0, nil
	}
	reels, err := s.persister.LoadReels(ctx)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	loaded := 0
	for _, r := range reels {
		if _, exists := s.byShortcode[r.Shortcode]; exists {
			continue
		}
		r = r.Clone()
		if len(r.History) > s.historyLimit {
			r.History = r.History[len(r.History)-s.historyLimit:]
		}
		s.reels[r.ID] = newReelEntry(r)
		s.byShortcode[r.Shortcode] = r.ID
		loaded++
	}
	return loaded, nil
}

func (s *ReelStore) Insert(ctx context.Context, reel model.Reel) (*model.Reel, error) {
	s.mu.Lock()
	if _, exists := s.byShortcode[reel.Shortcode]; exists {
		s.mu.Unlock()
		return nil, model.ErrDuplicateReel
	}
	reel = reel.Clone()
	if len(reel.History) > s.historyLimit {
		reel.History = reel.History[len(reel.History)-s.historyLimit:]
	}
	entry := newReelEntry(reel)
	// Ticket 0 is taken before the entry is visible, so the initial save precedes any refresh.
	ticket := entry.take()
	s.reels[reel.ID] = entry
	s.byShortcode[reel.Shortcode] = reel.ID
	s.mu.Unlock()

	out := reel.Clone()
	s.persist(entry, ticket, reel.ID, func(p repository.IReelPersister) error { return p.SaveReel(ctx, &reel) })
	return &out, nil
}

func (s *ReelStore) Get(_ context.Context, id string) (*model.Reel, error) {
	entry := s.entry(id)
	if entry == nil {
		return nil, model.ErrReelNotFound
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	out := entry.reel.Clone()
	return &out, nil
}

func (s *ReelStore) HasShortcode(_ context.Context, shortcode string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.byShortcode[shortcode]
	return ok
}

func (s *ReelStore) ListByOwner(_ context.Context, ownerID string) []model.Reel {
	return s.list(func(r *model.Reel) bool { return r.OwnerID == ownerID })
}

func (s *ReelStore) ListAll(_ context.Context) []model.Reel {
	return s.list(func(*model.Reel) bool { return true })
}

func (s *ReelStore) ListActive(_ context.Context, ownerID string) []model.Reel {
	return s.list(func(r *model.Reel) bool {
		return r.IsActive && (ownerID == "" || r.OwnerID == ownerID)
	})
}

// Delete removes a reel; deleting an unknown id is a no-op that returns false.
func (s *ReelStore) Delete(ctx context.Context, id string) bool {
	s.mu.Lock()
	entry, ok := s.reels[id]
	if !ok {
		s.mu.Unlock()
		return false
	}
	delete(s.reels, id)
	delete(s.byShortcode, entry.reel.Shortcode)
	s.mu.Unlock()

	// Mutations that already hold a ticket are persisted before the delete; later ones see deleted.
	entry.mu.Lock()
	entry.deleted = true
	ticket := entry.take()
	entry.mu.Unlock()

	s.persist(entry, ticket, id, func(p repository.IReelPersister) error { return p.DeleteReel(ctx, id) })
	return true
}

// ToggleActive flips the tracking flag and returns the new state.
func (s *ReelStore) ToggleActive(ctx context.Context, id string) (bool, error) {
	entry := s.entry(id)
	if entry == nil {
		return false, model.ErrReelNotFound
	}
	entry.mu.Lock()
	if entry.deleted {
		entry.mu.Unlock()
		return false, model.ErrReelNotFound
	}
	entry.reel.IsActive = !entry.reel.IsActive
	snapshot := entry.reel.Clone()
	ticket := entry.take()
	entry.mu.Unlock()

	s.persist(entry, ticket, id, func(p repository.IReelPersister) error { return p.SaveReel(ctx, &snapshot) })
	return snapshot.IsActive, nil
}

// AppendObservation records a new snapshot. It returns false without changing anything
// when the reel is inactive or the metrics equal the current ones. The observation is
// stamped with the store clock, never earlier than the previous update, and its
// Approximate flag becomes the reel's.
func (s *ReelStore) AppendObservation(ctx context.Context, id string, obs model.Observation) (bool, error) {
	entry := s.entry(id)
	if entry == nil {
		return false, model.ErrReelNotFound
	}
	entry.mu.Lock()
	if entry.deleted {
		entry.mu.Unlock()
		return false, model.ErrReelNotFound
	}

	r := &entry.reel
	obs.Views, obs.Likes, obs.Comments = clampMetric(obs.Views), clampMetric(obs.Likes), clampMetric(obs.Comments)
	if !r.IsActive || r.SameMetrics(obs) {
		entry.mu.Unlock()
		return false, nil
	}

	now := s.now()
	if now.Before(r.LastUpdated) {
		now = r.LastUpdated
	}
	obs.Timestamp = now
	r.Views, r.Likes, r.Comments = obs.Views, obs.Likes, obs.Comments
	r.LastUpdated = now
	r.Approximate = obs.Approximate
	r.History = append(r.History, obs)
	if over := len(r.History) - s.historyLimit; over > 0 {
		trimmed := make([]model.Observation, s.historyLimit)
		copy(trimmed, r.History[over:])
		r.History = trimmed
	}
	ticket := entry.take()
	entry.mu.Unlock()

	s.persist(entry, ticket, id, func(p repository.IReelPersister) error {
		return p.AppendObservation(ctx, id, obs, s.historyLimit)
	})
	return true, nil
}

// Summarize totals the reels of ownerID, or of every owner when ownerID is empty,
// without copying them.
func (s *ReelStore) Summarize(_ context.Context, ownerID string) model.ReelTotals {
	var totals model.ReelTotals
	for _, e := range s.entries() {
		e.mu.Lock()
		if ownerID == "" || e.reel.OwnerID == ownerID {
			totals.Views += e.reel.Views
			totals.Reels++
			if e.reel.IsActive {
				totals.Active++
			}
		}
		e.mu.Unlock()
	}
	return totals
}

func (s *ReelStore) entry(id string) *reelEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reels[id]
}

// list snapshots the matching reels ordered by submission time, newest first.
func (s *ReelStore) list(match func(*model.Reel) bool) []model.Reel {
	entries := s.entries()
	out := make([]model.Reel, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		if match(&e.reel) {
			out = append(out, e.reel.Clone())
		}
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SubmittedAt.Equal(out[j].SubmittedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].SubmittedAt.After(out[j].SubmittedAt)
	})
	return out
}

func (s *ReelStore) entries() []*reelEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := make([]*reelEntry, 0, len(s.reels))
	for _, e := range s.reels {
		entries = append(entries, e)
	}
	return entries
}

// persist runs op once every earlier ticket of the entry has been written.
func (s *ReelStore) persist(e *reelEntry, ticket uint64, reelID string, op func(repository.IReelPersister) error) {
	if s.persister == nil {
		return
	}
	e.order.wait(ticket)
	defer e.order.release()
	if err := op(s.persister); err != nil {
		logger.GetLogger().WithField("reel_id", reelID).WithField("error", err.Error()).Error("reel write-through failed")
	}
}

func clampMetric(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}
