package calls

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for calls.
//
// Implementations must enforce uniqueness of ExternalCallID atomically
// (a unique index, not check-then-insert).
type Repository interface {
	Insert(ctx context.Context, c Call) error
	// InsertOrGetByExternalCallID inserts c unless a call with c.ExternalCallID
	// exists, in which case the stored call is returned with created=false.
	InsertOrGetByExternalCallID(ctx context.Context, c Call) (stored Call, created bool, err error)
	Get(ctx context.Context, id string) (Call, error)
	GetByExternalCallID(ctx context.Context, externalCallID string) (Call, error)
	// Update replaces the row for c.ID only if its stored version is still
	// expectedVersion; otherwise it returns ErrConcurrentUpdate.
	Update(ctx context.Context, c Call, expectedVersion int) error
	ListByUser(ctx context.Context, userID string, from, to time.Time) ([]Call, error)
}

const maxUpdateAttempts = 5

// Service owns the call lifecycle. It is the only writer of Call.Status.
type Service struct {
	repo  Repository
	clock func() time.Time
	newID func() string
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now, newID: uuid.NewString}
}

func (s *Service) now() time.Time { return s.clock().UTC() }

func (s *Service) Create(ctx context.Context, req CreateRequest) (Call, error) {
	if strings.TrimSpace(req.UserID) == "" || strings.TrimSpace(req.ToNumber) == "" {
		return Call{}, fmt.Errorf("%w: user_id and to_number are required", ErrInvalidArgument)
	}
	c := s.newCall(req.UserID, req.ToNumber, req.Purpose, req.AgentID, req.ConversationID)
	c.ExternalCallID = strings.TrimSpace(req.ExternalCallID)
	c.CarrierCallID = strings.TrimSpace(req.CarrierCallID)

	if err := s.repo.Insert(ctx, c); err != nil {
		return Call{}, err
	}
	return c, nil
}

// UpsertByExternalCallID returns the call carrying req.ExternalCallID, creating
// it in StatusInitiated if none exists. An existing call is never modified.
func (s *Service) UpsertByExternalCallID(ctx context.Context, req UpsertRequest) (Call, bool, error) {
	ext := strings.TrimSpace(req.ExternalCallID)
	if ext == "" {
		return Call{}, false, fmt.Errorf("%w: external_call_id is required", ErrInvalidArgument)
	}
	c := s.newCall(req.UserID, req.ToNumber, req.Purpose, req.AgentID, req.ConversationID)
	c.ExternalCallID = ext
	return s.repo.InsertOrGetByExternalCallID(ctx, c)
}

func (s *Service) Get(ctx context.Context, id string) (Call, error) {
	if id == "" {
		return Call{}, ErrNotFound
	}
	return s.repo.Get(ctx, id)
}

func (s *Service) GetByExternalCallID(ctx context.Context, externalCallID string) (Call, error) {
	if externalCallID == "" {
		return Call{}, ErrNotFound
	}
	return s.repo.GetByExternalCallID(ctx, externalCallID)
}

func (s *Service) ListByUser(ctx context.Context, userID string, from, to time.Time) ([]Call, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user_id is required", ErrInvalidArgument)
	}
	return s.repo.ListByUser(ctx, userID, from, to)
}

// Transition moves the call to target. Illegal edges return
// *IllegalTransitionError and leave the call untouched.
func (s *Service) Transition(ctx context.Context, callID string, target Status, tc TransitionContext) (Call, error) {
	if !target.Valid() {
		return Call{}, fmt.Errorf("%w: unknown status %q", ErrInvalidArgument, target)
	}
	return s.mutate(ctx, callID, func(c *Call) error {
		return s.applyTransition(c, target, tc)
	})
}

// Patch applies the allow-listed fields in p. A status change is validated
// like Transition; if it is illegal nothing is written.
func (s *Service) Patch(ctx context.Context, callID string, p Patch) (Call, error) {
	if p.empty() {
		return Call{}, fmt.Errorf("%w: empty patch", ErrInvalidArgument)
	}
	if p.Status != nil && !p.Status.Valid() {
		return Call{}, fmt.Errorf("%w: unknown status %q", ErrInvalidArgument, *p.Status)
	}
	return s.mutate(ctx, callID, func(c *Call) error {
		if p.ToNumber != nil {
			if strings.TrimSpace(*p.ToNumber) == "" {
				return fmt.Errorf("%w: to_number cannot be empty", ErrInvalidArgument)
			}
			c.ToNumber = strings.TrimSpace(*p.ToNumber)
		}
		if p.Purpose != nil {
			c.Purpose = *p.Purpose
		}
		if p.AgentID != nil {
			c.AgentID = strings.TrimSpace(*p.AgentID)
		}
		if p.ExternalCallID != nil {
			c.ExternalCallID = strings.TrimSpace(*p.ExternalCallID)
		}
		if p.CarrierCallID != nil {
			c.CarrierCallID = strings.TrimSpace(*p.CarrierCallID)
		}
		if p.StartedAt != nil {
			t := p.StartedAt.UTC()
			c.StartedAt = &t
		}

		switch {
		case p.Status != nil:
			tc := TransitionContext{}
			if p.ErrorMessage != nil {
				tc.ErrorMessage = *p.ErrorMessage
			}
			return s.applyTransition(c, *p.Status, tc)
		case p.ErrorMessage != nil:
			if c.Status != StatusFailed {
				return fmt.Errorf("%w: error_message can only be set on a failed call", ErrInvalidArgument)
			}
			c.ErrorMessage = *p.ErrorMessage
		}
		c.UpdatedAt = s.now()
		return nil
	})
}

// LinkConversation attaches a conversation id. Relinking to the same id is a
// no-op; relinking to a different one returns ErrAlreadyLinked.
func (s *Service) LinkConversation(ctx context.Context, callID, conversationID string) (Call, error) {
	if conversationID == "" {
		return Call{}, fmt.Errorf("%w: conversation_id is required", ErrInvalidArgument)
	}
	cur, err := s.Get(ctx, callID)
	if err != nil {
		return Call{}, err
	}
	if cur.ConversationID == conversationID {
		return cur, nil
	}
	return s.mutate(ctx, callID, func(c *Call) error {
		if c.ConversationID != "" && c.ConversationID != conversationID {
			return ErrAlreadyLinked
		}
		c.ConversationID = conversationID
		c.UpdatedAt = s.now()
		return nil
	})
}

// FillOwner copies the non-empty fields of o onto the call where the call has
// none. A call already owned by a different user returns ErrOwnerMismatch.
func (s *Service) FillOwner(ctx context.Context, callID string, o Owner) (Call, error) {
	return s.mutate(ctx, callID, func(c *Call) error {
		userID := strings.TrimSpace(o.UserID)
		if c.UserID != "" && userID != "" && c.UserID != userID {
			return fmt.Errorf("%w: call %s", ErrOwnerMismatch, c.ID)
		}
		fill(&c.UserID, userID)
		fill(&c.ToNumber, strings.TrimSpace(o.ToNumber))
		fill(&c.Purpose, o.Purpose)
		fill(&c.AgentID, strings.TrimSpace(o.AgentID))
		c.UpdatedAt = s.now()
		return nil
	})
}

func fill(dst *string, v string) {
	if *dst == "" {
		*dst = v
	}
}

// mutate is a read-modify-write loop with compare-and-swap on Version.
// fn is re-run against fresh state after every lost race.
func (s *Service) mutate(ctx context.Context, callID string, fn func(c *Call) error) (Call, error) {
	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		cur, err := s.Get(ctx, callID)
		if err != nil {
			return Call{}, err
		}
		next := cur
		if err := fn(&next); err != nil {
			return Call{}, err
		}
		next.Version = cur.Version + 1
		err = s.repo.Update(ctx, next, cur.Version)
		if errors.Is(err, ErrConcurrentUpdate) {
			continue
		}
		if err != nil {
			return Call{}, err
		}
		return next, nil
	}
	return Call{}, fmt.Errorf("%w: call %s after %d attempts", ErrConcurrentUpdate, callID, maxUpdateAttempts)
}

func (s *Service) applyTransition(c *Call, target Status, tc TransitionContext) error {
	if !CanTransition(c.Status, target) {
		return &IllegalTransitionError{CallID: c.ID, From: c.Status, To: target}
	}
	now := s.now()

	c.Status = target
	if target == StatusFailed {
		c.ErrorMessage = tc.ErrorMessage
	} else {
		c.ErrorMessage = ""
	}

	if target.IsTerminal() {
		completed := now
		if tc.CompletedAt != nil {
			completed = tc.CompletedAt.UTC()
		}
		c.CompletedAt = &completed
	} else {
		c.CompletedAt = nil
	}

	if target == StatusInProgress && c.StartedAt == nil {
		started := now
		if tc.StartedAt != nil {
			started = tc.StartedAt.UTC()
		}
		c.StartedAt = &started
	}
	if tc.DurationSecs != nil && *tc.DurationSecs >= 0 {
		c.DurationSecs = *tc.DurationSecs
	}
	if tc.Cost != nil {
		cost := *tc.Cost
		c.Cost = &cost
	}
	c.UpdatedAt = now
	return nil
}

func (s *Service) newCall(userID, toNumber, purpose, agentID, conversationID string) Call {
	now := s.now()
	return Call{
		ID:             s.newID(),
		UserID:         strings.TrimSpace(userID),
		ToNumber:       strings.TrimSpace(toNumber),
		Purpose:        purpose,
		Status:         StatusInitiated,
		AgentID:        strings.TrimSpace(agentID),
		ConversationID: strings.TrimSpace(conversationID),
		InitiatedAt:    now,
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}
