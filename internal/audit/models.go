package audit

import "time"

// Event is an immutable, append-only audit log record.
//
// Invariants:
// - Events are never updated or deleted.
// - actor and ip capture are best-effort; do not block critical flows on audit failures.
// - Webhook-originated events carry no actor.
type Event struct {
	ID   string    `json:"id" db:"id"`
	Type EventType `json:"type" db:"type"`

	// ActorUserID is the authenticated user causing the event, if any.
	ActorUserID string `json:"actor_user_id,omitempty" db:"actor_user_id"`
	ActorRole   string `json:"actor_role,omitempty" db:"actor_role"`
	// IPAddress is the resolved client IP for API-originated events.
	IPAddress string `json:"ip_address,omitempty" db:"ip_address"`

	CallID         string `json:"call_id,omitempty" db:"call_id"`
	ConversationID string `json:"conversation_id,omitempty" db:"conversation_id"`

	Message string `json:"message,omitempty" db:"message"`
	// Metadata is an optional JSON object with full details.
	Metadata string `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EventType string

const (
	// EventTypeStatusCorrection is a manual status change by an operator.
	EventTypeStatusCorrection EventType = "call_status_correction"
	// EventTypeTransitionConflict is a webhook asking for a different terminal
	// status than the one already stored.
	EventTypeTransitionConflict EventType = "call_transition_conflict"
)
