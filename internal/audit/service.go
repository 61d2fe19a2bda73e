package audit

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for audit events.
// It is append-only: there are no Update or Delete methods.
type Repository interface {
	Append(ctx context.Context, e Event) error
}

// Service records internal audit information.
// Callers treat audit logging as best-effort.
type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var ErrInvalidEvent = errors.New("audit: invalid event")

func (s *Service) Append(ctx context.Context, e Event) error {
	if s == nil || s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.Type == "" {
		return ErrInvalidEvent
	}
	if e.CallID == "" && e.ConversationID == "" {
		return ErrInvalidEvent
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock().UTC()
	}
	return s.repo.Append(ctx, e)
}

// Actor identifies who triggered an API-originated event.
type Actor struct {
	UserID string
	Role   string
	IP     string
}

// LogStatusCorrection records an operator moving a call from one status to another.
func (s *Service) LogStatusCorrection(ctx context.Context, actor Actor, callID, from, to, reason string) error {
	return s.Append(ctx, Event{
		Type:        EventTypeStatusCorrection,
		ActorUserID: actor.UserID,
		ActorRole:   actor.Role,
		IPAddress:   actor.IP,
		CallID:      callID,
		Message:     "status corrected from " + from + " to " + to,
		Metadata:    metadata(map[string]string{"from": from, "to": to, "reason": reason}),
	})
}

// LogTransitionConflict records a webhook whose terminal status disagrees
// with the stored terminal status. The stored status is kept.
func (s *Service) LogTransitionConflict(ctx context.Context, callID, conversationID, stored, incoming, eventType string) error {
	return s.Append(ctx, Event{
		Type:           EventTypeTransitionConflict,
		CallID:         callID,
		ConversationID: conversationID,
		Message:        "webhook status " + incoming + " conflicts with stored status " + stored,
		Metadata:       metadata(map[string]string{"stored": stored, "incoming": incoming, "event_type": eventType}),
	})
}

func metadata(kv map[string]string) string {
	for k, v := range kv {
		if v == "" {
			delete(kv, k)
		}
	}
	b, err := json.Marshal(kv)
	if err != nil {
		return ""
	}
	return string(b)
}
