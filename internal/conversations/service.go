package conversations

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"alara-platform/internal/transcript"

	"github.com/google/uuid"
)

// Repository is the persistence contract for conversations.
type Repository interface {
	Insert(ctx context.Context, c Conversation) error
	InsertOrGetByExternalID(ctx context.Context, c Conversation) (stored Conversation, created bool, err error)
	Get(ctx context.Context, id string) (Conversation, error)
	GetByExternalID(ctx context.Context, externalID string) (Conversation, error)
	// Update replaces the row only if its stored version is still
	// expectedVersion; otherwise it returns ErrConcurrentUpdate.
	Update(ctx context.Context, c Conversation, expectedVersion int) error
}

const maxUpdateAttempts = 5

type Service struct {
	repo  Repository
	clock func() time.Time
	newID func() string
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now, newID: uuid.NewString}
}

func (s *Service) now() time.Time { return s.clock().UTC() }

func (s *Service) Create(ctx context.Context, req CreateRequest) (Conversation, error) {
	if err := checkOrder(nil, req.Transcript); err != nil {
		return Conversation{}, err
	}
	c := s.newConversation(req.ExternalConversationID, req.CallID, req.UserID, req.AgentID)
	c.Transcript = append(c.Transcript, req.Transcript...)
	if err := s.repo.Insert(ctx, c); err != nil {
		return Conversation{}, err
	}
	return c, nil
}

// EnsureByExternalID returns the conversation for the external id, creating an
// empty one if needed. An existing conversation is never modified.
func (s *Service) EnsureByExternalID(ctx context.Context, req EnsureRequest) (Conversation, bool, error) {
	ext := strings.TrimSpace(req.ExternalConversationID)
	if ext == "" {
		return Conversation{}, false, fmt.Errorf("%w: external_conversation_id is required", ErrInvalidArgument)
	}
	c := s.newConversation(ext, req.CallID, req.UserID, req.AgentID)
	return s.repo.InsertOrGetByExternalID(ctx, c)
}

func (s *Service) Get(ctx context.Context, id string) (Conversation, error) {
	if id == "" {
		return Conversation{}, ErrNotFound
	}
	return s.repo.Get(ctx, id)
}

func (s *Service) GetByExternalID(ctx context.Context, externalID string) (Conversation, error) {
	if externalID == "" {
		return Conversation{}, ErrNotFound
	}
	return s.repo.GetByExternalID(ctx, externalID)
}

// AppendTranscript appends msgs. A batch that would move time_in_call_secs
// backwards is rejected whole with ErrOutOfOrder.
func (s *Service) AppendTranscript(ctx context.Context, id string, msgs []transcript.Message) (Conversation, error) {
	if len(msgs) == 0 {
		return s.Get(ctx, id)
	}
	return s.mutate(ctx, id, func(c *Conversation) (bool, error) {
		if err := checkOrder(c.Transcript, msgs); err != nil {
			return false, err
		}
		c.Transcript = append(c.Transcript, msgs...)
		return true, nil
	})
}

// ExtendFromSnapshot takes a full transcript as delivered by the provider and
// appends only the messages beyond what is already stored, in the order
// received, even where time_in_call_secs goes backwards (see OutOfOrder).
// A snapshot no longer than the stored transcript appends nothing.
func (s *Service) ExtendFromSnapshot(ctx context.Context, id string, full []transcript.Message) (Conversation, int, error) {
	appended := 0
	c, err := s.mutate(ctx, id, func(c *Conversation) (bool, error) {
		appended = 0
		if len(full) <= len(c.Transcript) {
			return false, nil
		}
		tail := full[len(c.Transcript):]
		c.Transcript = append(c.Transcript, tail...)
		appended = len(tail)
		return true, nil
	})
	if err != nil {
		return Conversation{}, 0, err
	}
	return c, appended, nil
}

// LinkCall sets CallID once. Relinking to the same call is a no-op.
func (s *Service) LinkCall(ctx context.Context, id, callID string) (Conversation, error) {
	if callID == "" {
		return Conversation{}, fmt.Errorf("%w: call_id is required", ErrInvalidArgument)
	}
	return s.mutate(ctx, id, func(c *Conversation) (bool, error) {
		return setOnce(&c.CallID, callID, "call")
	})
}

// LinkUser sets UserID once. Relinking to the same user is a no-op.
func (s *Service) LinkUser(ctx context.Context, id, userID string) (Conversation, error) {
	if userID == "" {
		return Conversation{}, fmt.Errorf("%w: user_id is required", ErrInvalidArgument)
	}
	return s.mutate(ctx, id, func(c *Conversation) (bool, error) {
		return setOnce(&c.UserID, userID, "user")
	})
}

func setOnce(field *string, v, what string) (bool, error) {
	switch *field {
	case v:
		return false, nil
	case "":
		*field = v
		return true, nil
	default:
		return false, fmt.Errorf("%w: %s %s", ErrAlreadyLinked, what, *field)
	}
}

// mutate re-reads and re-applies fn until the compare-and-swap on version
// succeeds. fn reports whether it changed anything.
func (s *Service) mutate(ctx context.Context, id string, fn func(c *Conversation) (bool, error)) (Conversation, error) {
	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		cur, err := s.Get(ctx, id)
		if err != nil {
			return Conversation{}, err
		}
		next := cur
		next.Transcript = append([]transcript.Message(nil), cur.Transcript...)
		changed, err := fn(&next)
		if err != nil {
			return Conversation{}, err
		}
		if !changed {
			return cur, nil
		}
		next.Version = cur.Version + 1
		next.UpdatedAt = s.now()
		err = s.repo.Update(ctx, next, cur.Version)
		if errors.Is(err, ErrConcurrentUpdate) {
			continue
		}
		if err != nil {
			return Conversation{}, err
		}
		return next, nil
	}
	return Conversation{}, fmt.Errorf("%w: conversation %s after %d attempts", ErrConcurrentUpdate, id, maxUpdateAttempts)
}

func checkOrder(existing, incoming []transcript.Message) error {
	if i := firstOutOfOrder(existing, incoming); i >= 0 {
		return fmt.Errorf("%w: message %d at %.2fs precedes the message before it",
			ErrOutOfOrder, len(existing)+i, incoming[i].TimeInCallSecs)
	}
	return nil
}

func firstOutOfOrder(existing, incoming []transcript.Message) int {
	last := -1.0
	if n := len(existing); n > 0 {
		last = existing[n-1].TimeInCallSecs
	}
	for i, m := range incoming {
		if m.TimeInCallSecs < last {
			return i
		}
		last = m.TimeInCallSecs
	}
	return -1
}

// OutOfOrder counts the messages in incoming whose time_in_call_secs precedes
// the message before them, continuing from the end of existing.
func OutOfOrder(existing, incoming []transcript.Message) int {
	n := 0
	for {
		i := firstOutOfOrder(existing, incoming)
		if i < 0 {
			return n
		}
		n++
		existing, incoming = incoming[i:i+1], incoming[i+1:]
	}
}

func (s *Service) newConversation(ext, callID, userID, agentID string) Conversation {
	now := s.now()
	return Conversation{
		ID:                     s.newID(),
		ExternalConversationID: strings.TrimSpace(ext),
		CallID:                 strings.TrimSpace(callID),
		UserID:                 strings.TrimSpace(userID),
		AgentID:                strings.TrimSpace(agentID),
		Transcript:             []transcript.Message{},
		Version:                1,
		CreatedAt:              now,
		UpdatedAt:              now,
	}
}
