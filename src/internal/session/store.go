package session

import (
	"sync"
	"time"

	"hotspot-captive-svc/src/internal/models"
)

// Store is the authoritative in-memory session table. Every session is
// reachable both by session ID and by MAC; both views mutate under one lock
// so no reader ever sees them disagree.
type Store interface {
	// Prepare inserts a draft session under both keys. It fails with
	// models.ErrDeviceBusy when the MAC slot is held by an active session
	// or by a pending one that has not expired yet.
	Prepare(session *models.Session) (*models.Session, error)
	// Get resolves a session by session ID or MAC.
	Get(key string) (*models.Session, bool)
	// Transition compare-and-swaps the session state from -> to, applying
	// mutate atomically. Fails with models.ErrSessionNotFound or
	// models.ErrStateConflict.
	Transition(sessionID, from, to string, mutate func(*models.Session)) (*models.Session, error)
	// ClearActiveSlot frees the MAC slot so a new Prepare can succeed. The
	// record stays reachable by session ID until eviction.
	ClearActiveSlot(mac string)
	// Restore inserts a persisted session without the busy check. Used by
	// the startup resync only.
	Restore(session *models.Session)
	// Snapshot returns copies of every session currently held.
	Snapshot() []*models.Session
	// EvictRevokedBefore drops revoked sessions that ended before cutoff
	// and returns their session IDs.
	EvictRevokedBefore(cutoff time.Time) []string
}

type store struct {
	mu        sync.RWMutex
	bySession map[string]*models.Session
	byMAC     map[string]*models.Session
	nowF      func() time.Time
}

// NewStore returns an empty session store.
func NewStore() Store {
	return &store{
		bySession: make(map[string]*models.Session),
		byMAC:     make(map[string]*models.Session),
		nowF:      time.Now,
	}
}

func (s *store) Prepare(session *models.Session) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.byMAC[session.MAC]; ok {
		if existing.State == models.StateActive {
			return existing.Clone(), models.ErrDeviceBusy
		}
		if existing.State == models.StatePending && existing.Expiry.After(s.nowF()) {
			return existing.Clone(), models.ErrDeviceBusy
		}
		// Stale pending or revoked leftovers give way to the new draft.
		delete(s.bySession, existing.SessionID)
	}

	record := session.Clone()
	s.bySession[record.SessionID] = record
	s.byMAC[record.MAC] = record
	return record.Clone(), nil
}

func (s *store) Get(key string) (*models.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if record, ok := s.bySession[key]; ok {
		return record.Clone(), true
	}
	if record, ok := s.byMAC[key]; ok {
		return record.Clone(), true
	}
	return nil, false
}

func (s *store) Transition(sessionID, from, to string, mutate func(*models.Session)) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.bySession[sessionID]
	if !ok {
		return nil, models.ErrSessionNotFound
	}
	if record.State != from {
		return record.Clone(), models.ErrStateConflict
	}

	record.State = to
	if mutate != nil {
		mutate(record)
	}
	return record.Clone(), nil
}

func (s *store) ClearActiveSlot(mac string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.byMAC[mac]
	if !ok {
		return
	}
	if record.State != models.StateRevoked {
		// Never free a slot still owned by a live session.
		return
	}
	delete(s.byMAC, mac)
}

func (s *store) Restore(session *models.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record := session.Clone()
	s.bySession[record.SessionID] = record
	if record.State != models.StateRevoked {
		s.byMAC[record.MAC] = record
	}
}

func (s *store) Snapshot() []*models.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sessions := make([]*models.Session, 0, len(s.bySession))
	for _, record := range s.bySession {
		sessions = append(sessions, record.Clone())
	}
	return sessions
}

func (s *store) EvictRevokedBefore(cutoff time.Time) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var evicted []string
	for id, record := range s.bySession {
		if record.State != models.StateRevoked {
			continue
		}
		if record.EndTime != nil && record.EndTime.After(cutoff) {
			continue
		}
		delete(s.bySession, id)
		if slot, ok := s.byMAC[record.MAC]; ok && slot.SessionID == id {
			delete(s.byMAC, record.MAC)
		}
		evicted = append(evicted, id)
	}
	return evicted
}
