package audit

import (
	"context"
	"slices"
	"sync"
)

// MemoryRepo keeps events in insertion order, indexed by call. Stored events
// are never modified; readers get copies.
type MemoryRepo struct {
	mu     sync.RWMutex
	events []Event
	byCall map[string][]int
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{byCall: make(map[string][]int)} }

func (r *MemoryRepo) Append(ctx context.Context, e Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if e.CallID != "" {
		r.byCall[e.CallID] = append(r.byCall[e.CallID], len(r.events))
	}
	r.events = append(r.events, e)
	return nil
}

func (r *MemoryRepo) Events() []Event {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.events)
}

// ForCall returns the events recorded against callID, oldest first.
func (r *MemoryRepo) ForCall(callID string) []Event {
	r.mu.RLock()
	defer r.mu.RUnlock()
	idx := r.byCall[callID]
	out := make([]Event, 0, len(idx))
	for _, i := range idx {
		out = append(out, r.events[i])
	}
	return out
}
