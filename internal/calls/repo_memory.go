package calls

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepo is an in-memory Repository for tests and local development.
// A single mutex makes InsertOrGetByExternalCallID atomic.
type MemoryRepo struct {
	mu    sync.Mutex
	byID  map[string]Call
	byExt map[string]string
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{byID: map[string]Call{}, byExt: map[string]string{}}
}

func (r *MemoryRepo) Insert(ctx context.Context, c Call) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.insertLocked(c)
}

func (r *MemoryRepo) insertLocked(c Call) error {
	if _, ok := r.byID[c.ID]; ok {
		return ErrInvalidArgument
	}
	if c.ExternalCallID != "" {
		if _, ok := r.byExt[c.ExternalCallID]; ok {
			return ErrDuplicateExternalID
		}
		r.byExt[c.ExternalCallID] = c.ID
	}
	r.byID[c.ID] = c
	return nil
}

func (r *MemoryRepo) InsertOrGetByExternalCallID(ctx context.Context, c Call) (Call, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.byExt[c.ExternalCallID]; ok {
		return r.byID[id], false, nil
	}
	if err := r.insertLocked(c); err != nil {
		return Call{}, false, err
	}
	return c, true, nil
}

func (r *MemoryRepo) Get(ctx context.Context, id string) (Call, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byID[id]
	if !ok {
		return Call{}, ErrNotFound
	}
	return c, nil
}

func (r *MemoryRepo) GetByExternalCallID(ctx context.Context, externalCallID string) (Call, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byExt[externalCallID]
	if !ok {
		return Call{}, ErrNotFound
	}
	return r.byID[id], nil
}

func (r *MemoryRepo) Update(ctx context.Context, c Call, expectedVersion int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.byID[c.ID]
	if !ok {
		return ErrNotFound
	}
	if cur.Version != expectedVersion {
		return ErrConcurrentUpdate
	}
	if c.ExternalCallID != cur.ExternalCallID {
		if c.ExternalCallID != "" {
			if owner, taken := r.byExt[c.ExternalCallID]; taken && owner != c.ID {
				return ErrDuplicateExternalID
			}
			r.byExt[c.ExternalCallID] = c.ID
		}
		if cur.ExternalCallID != "" {
			delete(r.byExt, cur.ExternalCallID)
		}
	}
	r.byID[c.ID] = c
	return nil
}

func (r *MemoryRepo) ListByUser(ctx context.Context, userID string, from, to time.Time) ([]Call, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Call, 0)
	for _, c := range r.byID {
		if c.UserID != userID || !inRange(c.CreatedAt, from, to) {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// Len reports the number of stored calls.
func (r *MemoryRepo) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID)
}

// inRange treats a zero bound as open.
func inRange(t, from, to time.Time) bool {
	if !from.IsZero() && t.Before(from) {
		return false
	}
	if !to.IsZero() && !t.Before(to) {
		return false
	}
	return true
}
