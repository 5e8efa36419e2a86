// Package store provides Store implementations.
package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/warp/expense-engine/claims"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu     sync.RWMutex
	claims map[int64]claims.Claim
	users  map[string]claims.User
	nextID int64

	// ownerLocks serializes WithOwnerTx per owner without blocking others.
	lockMu     sync.Mutex
	ownerLocks map[string]*sync.Mutex
}

func NewMemory() *Memory {
	return &Memory{
		claims:     make(map[int64]claims.Claim),
		users:      make(map[string]claims.User),
		nextID:     1,
		ownerLocks: make(map[string]*sync.Mutex),
	}
}

// =============================================================================
// CLAIM STORE
// =============================================================================

func (m *Memory) CreateClaim(_ context.Context, c *claims.Claim) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.users[c.OwnerID]; !ok {
		return claims.ErrUserNotFound
	}

	c.ID = m.nextID
	m.nextID++
	c.Version = 1
	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now
	m.claims[c.ID] = *c
	return nil
}

func (m *Memory) GetClaim(_ context.Context, id int64) (claims.Claim, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.claims[id]
	if !ok {
		return claims.Claim{}, claims.ErrClaimNotFound
	}
	return c, nil
}

func (m *Memory) ListClaimsByOwner(_ context.Context, ownerID string) ([]claims.Claim, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []claims.Claim{}
	for _, c := range m.claims {
		if c.OwnerID == ownerID {
			out = append(out, c)
		}
	}
	// Newest first for history views.
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (m *Memory) ClaimsByOwnerAndStatus(_ context.Context, ownerID string, status claims.Status) ([]claims.Claim, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []claims.Claim{}
	for _, c := range m.claims {
		if c.OwnerID == ownerID && c.Status == status {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) ListClaimsByStatus(_ context.Context, ownerIDs []string, status claims.Status) ([]claims.Claim, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	owners := make(map[string]bool, len(ownerIDs))
	for _, id := range ownerIDs {
		owners[id] = true
	}

	out := []claims.Claim{}
	for _, c := range m.claims {
		if owners[c.OwnerID] && c.Status == status {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) UpdateClaim(_ context.Context, c *claims.Claim) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.claims[c.ID]
	if !ok {
		return claims.ErrClaimNotFound
	}
	if stored.Version != c.Version {
		return claims.ErrConcurrentModification
	}

	c.Version++
	c.UpdatedAt = time.Now().UTC()
	m.claims[c.ID] = *c
	return nil
}

func (m *Memory) DeleteClaim(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.claims[id]; !ok {
		return claims.ErrClaimNotFound
	}
	delete(m.claims, id)
	return nil
}

// =============================================================================
// USER STORE
// =============================================================================

func (m *Memory) CreateUser(_ context.Context, u *claims.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.users {
		if strings.EqualFold(existing.Username, u.Username) {
			return claims.ErrDuplicateUsername
		}
	}
	u.CreatedAt = time.Now().UTC()
	m.users[u.ID] = *u
	return nil
}

func (m *Memory) GetUser(_ context.Context, id string) (claims.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.users[id]
	if !ok {
		return claims.User{}, claims.ErrUserNotFound
	}
	return u, nil
}

func (m *Memory) GetUserByUsername(_ context.Context, username string) (claims.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, u := range m.users {
		if strings.EqualFold(u.Username, username) {
			return u, nil
		}
	}
	return claims.User{}, claims.ErrUserNotFound
}

func (m *Memory) ListUsers(_ context.Context) ([]claims.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]claims.User, 0, len(m.users))
	for _, u := range m.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

func (m *Memory) UpdateUser(_ context.Context, u *claims.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.users[u.ID]; !ok {
		return claims.ErrUserNotFound
	}
	for id, existing := range m.users {
		if id != u.ID && strings.EqualFold(existing.Username, u.Username) {
			return claims.ErrDuplicateUsername
		}
	}
	m.users[u.ID] = *u
	return nil
}

func (m *Memory) ListSubordinates(_ context.Context, leaderID string) ([]claims.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []claims.User{}
	for _, u := range m.users {
		if u.LeaderID != nil && *u.LeaderID == leaderID {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

// WithOwnerTx serializes fn per owner and rolls back the owner's claims on
// error by restoring a snapshot taken before fn ran. Claim creation is not
// part of settlement, so snapshotting existing rows is sufficient here.
func (m *Memory) WithOwnerTx(_ context.Context, ownerID string, fn func(claims.Store) error) error {
	lock := m.ownerLock(ownerID)
	lock.Lock()
	defer lock.Unlock()

	snapshot := m.snapshotOwner(ownerID)
	if err := fn(m); err != nil {
		m.restoreOwner(ownerID, snapshot)
		return err
	}
	return nil
}

func (m *Memory) ownerLock(ownerID string) *sync.Mutex {
	m.lockMu.Lock()
	defer m.lockMu.Unlock()

	lock, ok := m.ownerLocks[ownerID]
	if !ok {
		lock = &sync.Mutex{}
		m.ownerLocks[ownerID] = lock
	}
	return lock
}

func (m *Memory) snapshotOwner(ownerID string) map[int64]claims.Claim {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := make(map[int64]claims.Claim)
	for id, c := range m.claims {
		if c.OwnerID == ownerID {
			snap[id] = c
		}
	}
	return snap
}

func (m *Memory) restoreOwner(ownerID string, snap map[int64]claims.Claim) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, c := range m.claims {
		if c.OwnerID == ownerID {
			delete(m.claims, id)
		}
	}
	for id, c := range snap {
		m.claims[id] = c
	}
}
