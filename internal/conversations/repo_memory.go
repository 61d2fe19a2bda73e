package conversations

import (
	"context"
	"sync"

	"alara-platform/internal/transcript"
)

// MemoryRepo is an in-memory Repository for tests and local development.
type MemoryRepo struct {
	mu    sync.Mutex
	byID  map[string]Conversation
	byExt map[string]string
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{byID: map[string]Conversation{}, byExt: map[string]string{}}
}

// clone keeps callers from aliasing the stored transcript slice.
func clone(c Conversation) Conversation {
	c.Transcript = append([]transcript.Message(nil), c.Transcript...)
	return c
}

func (r *MemoryRepo) Insert(ctx context.Context, c Conversation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.insertLocked(c)
}

func (r *MemoryRepo) insertLocked(c Conversation) error {
	if _, ok := r.byID[c.ID]; ok {
		return ErrInvalidArgument
	}
	if c.ExternalConversationID != "" {
		if _, ok := r.byExt[c.ExternalConversationID]; ok {
			return ErrDuplicateExternalID
		}
		r.byExt[c.ExternalConversationID] = c.ID
	}
	r.byID[c.ID] = clone(c)
	return nil
}

func (r *MemoryRepo) InsertOrGetByExternalID(ctx context.Context, c Conversation) (Conversation, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.byExt[c.ExternalConversationID]; ok {
		return clone(r.byID[id]), false, nil
	}
	if err := r.insertLocked(c); err != nil {
		return Conversation{}, false, err
	}
	return clone(c), true, nil
}

func (r *MemoryRepo) Get(ctx context.Context, id string) (Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byID[id]
	if !ok {
		return Conversation{}, ErrNotFound
	}
	return clone(c), nil
}

func (r *MemoryRepo) GetByExternalID(ctx context.Context, externalID string) (Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byExt[externalID]
	if !ok {
		return Conversation{}, ErrNotFound
	}
	return clone(r.byID[id]), nil
}

func (r *MemoryRepo) Update(ctx context.Context, c Conversation, expectedVersion int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.byID[c.ID]
	if !ok {
		return ErrNotFound
	}
	if cur.Version != expectedVersion {
		return ErrConcurrentUpdate
	}
	r.byID[c.ID] = clone(c)
	return nil
}

// Len reports the number of stored conversations.
func (r *MemoryRepo) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID)
}
