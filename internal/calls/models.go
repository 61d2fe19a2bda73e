package calls

import "time"

// Call is one outbound or inbound phone call attempt.
//
// Invariants:
// - Status only changes through Service.Transition (or Patch, which routes through it).
// - CompletedAt is non-nil iff Status is terminal.
// - ExternalCallID is unique across calls when set.
// - ErrorMessage is only set while Status is failed.
//
// Calls are never deleted.
type Call struct {
	ID     string `json:"id" db:"id"`
	UserID string `json:"user_id,omitempty" db:"user_id"`

	ToNumber string `json:"to_number" db:"to_number"`
	Purpose  string `json:"purpose,omitempty" db:"purpose"`
	Status   Status `json:"status" db:"status"`
	AgentID  string `json:"agent_id,omitempty" db:"agent_id"`

	// ExternalCallID is the voice provider's id; it is the webhook idempotency key.
	ExternalCallID string `json:"external_call_id,omitempty" db:"external_call_id"`
	// CarrierCallID is the telephony carrier's id (e.g. a Twilio CallSid), when known separately.
	CarrierCallID  string `json:"carrier_call_id,omitempty" db:"carrier_call_id"`
	ConversationID string `json:"conversation_id,omitempty" db:"conversation_id"`

	InitiatedAt time.Time  `json:"initiated_at" db:"initiated_at"`
	StartedAt   *time.Time `json:"started_at,omitempty" db:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" db:"completed_at"`

	ErrorMessage string   `json:"error_message,omitempty" db:"error_message"`
	DurationSecs int      `json:"duration_secs" db:"duration_secs"`
	Cost         *float64 `json:"cost,omitempty" db:"cost"`

	// Version increments on every write; repositories compare-and-swap on it.
	Version   int       `json:"-" db:"version"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// CreateRequest creates a call in StatusInitiated.
type CreateRequest struct {
	UserID         string
	ToNumber       string
	Purpose        string
	AgentID        string
	ExternalCallID string
	CarrierCallID  string
	ConversationID string
}

// UpsertRequest describes the call to create if ExternalCallID is unseen.
// It is ignored entirely when a call with ExternalCallID already exists.
type UpsertRequest struct {
	ExternalCallID string
	UserID         string
	ToNumber       string
	Purpose        string
	AgentID        string
	ConversationID string
}

// Owner names who a call was placed for. FillOwner copies it onto a call
// created from a webhook before the placement finished.
type Owner struct {
	UserID   string
	ToNumber string
	Purpose  string
	AgentID  string
}

// TransitionContext carries optional data recorded alongside a status change.
type TransitionContext struct {
	// ErrorMessage is persisted only when the target is StatusFailed.
	ErrorMessage string
	// CompletedAt overrides the terminal timestamp; defaults to now.
	CompletedAt *time.Time
	// StartedAt overrides the start timestamp on entry to StatusInProgress.
	StartedAt    *time.Time
	DurationSecs *int
	Cost         *float64
}

// Patch is the allow-list of externally mutable fields.
// Status, when set, is validated exactly like Transition.
type Patch struct {
	ToNumber       *string    `json:"to_number,omitempty"`
	Purpose        *string    `json:"purpose,omitempty"`
	AgentID        *string    `json:"agent_id,omitempty"`
	ExternalCallID *string    `json:"external_call_id,omitempty"`
	CarrierCallID  *string    `json:"carrier_call_id,omitempty"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	Status         *Status    `json:"status,omitempty"`
	ErrorMessage   *string    `json:"error_message,omitempty"`
}

func (p Patch) empty() bool {
	return p.ToNumber == nil && p.Purpose == nil && p.AgentID == nil && p.ExternalCallID == nil &&
		p.CarrierCallID == nil && p.StartedAt == nil && p.Status == nil && p.ErrorMessage == nil
}
