// Package session owns per-user conversation state: keyed mutual exclusion,
// message deduplication, idle expiry and the optimistic version-checked
// commit that lets a newer message supersede an older in-flight one.
package session

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"order-workers/internal/models"
)

// ErrVersionMismatch is returned by CompareAndSwap and Delete when the stored
// version is not the expected one.
var ErrVersionMismatch = errors.New("VERSION_MISMATCH")

// SessionRef identifies a stored session at a version.
type SessionRef struct {
	UserID  string
	Version int64
}

// Store persists one SessionState per user with atomic read-modify-write.
type Store interface {
	// Load returns the stored state. found is false for unknown users.
	Load(ctx context.Context, userID string) (state models.SessionState, found bool, err error)
	// CompareAndSwap writes next only when the stored version equals expected.
	// expected 0 means the session must not exist yet.
	CompareAndSwap(ctx context.Context, expected int64, next models.SessionState) error
	// Delete removes the session if it is at expectedVersion. 0 deletes
	// unconditionally.
	Delete(ctx context.Context, userID string, expectedVersion int64) error
	// ListIdle returns sessions whose last activity is before the cutoff.
	ListIdle(ctx context.Context, before time.Time) ([]SessionRef, error)
	Count(ctx context.Context) (int, error)
}

// MemoryStore keeps sessions in process. Snapshots are deep copies.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]models.SessionState
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]models.SessionState)}
}

func (m *MemoryStore) Load(_ context.Context, userID string) (models.SessionState, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[userID]
	if !ok {
		return models.SessionState{}, false, nil
	}
	return s.Clone(), true, nil
}

func (m *MemoryStore) CompareAndSwap(_ context.Context, expected int64, next models.SessionState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.sessions[next.UserID]
	switch {
	case !ok && expected != 0:
		return ErrVersionMismatch
	case ok && current.Version != expected:
		return ErrVersionMismatch
	}
	m.sessions[next.UserID] = next.Clone()
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, userID string, expectedVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.sessions[userID]
	if !ok {
		return nil
	}
	if expectedVersion != 0 && current.Version != expectedVersion {
		return ErrVersionMismatch
	}
	delete(m.sessions, userID)
	return nil
}

func (m *MemoryStore) ListIdle(_ context.Context, before time.Time) ([]SessionRef, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []SessionRef
	for id, s := range m.sessions {
		if s.LastActivityAt.Before(before) {
			out = append(out, SessionRef{UserID: id, Version: s.Version})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (m *MemoryStore) Count(context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions), nil
}
