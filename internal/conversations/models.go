package conversations

import (
	"errors"
	"time"

	"alara-platform/internal/transcript"
)

// Conversation is the transcript container for a call.
//
// Invariants:
// - Transcript is append-only and never truncated.
// - TimeInCallSecs is non-decreasing across Transcript.
// - CallID and UserID are set at most once.
// - ExternalConversationID is unique when set.
type Conversation struct {
	ID                     string               `json:"id"`
	ExternalConversationID string               `json:"external_conversation_id,omitempty"`
	CallID                 string               `json:"call_id,omitempty"`
	UserID                 string               `json:"user_id,omitempty"`
	AgentID                string               `json:"agent_id,omitempty"`
	Transcript             []transcript.Message `json:"transcript"`
	// Version increments on every write; repositories compare-and-swap on it.
	Version   int       `json:"-"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type CreateRequest struct {
	ExternalConversationID string
	CallID                 string
	UserID                 string
	AgentID                string
	Transcript             []transcript.Message
}

// EnsureRequest describes the conversation to create if the external id is
// unseen. It is ignored when the conversation already exists.
type EnsureRequest struct {
	ExternalConversationID string
	CallID                 string
	UserID                 string
	AgentID                string
}

var (
	ErrNotFound            = errors.New("conversations: not found")
	ErrInvalidArgument     = errors.New("conversations: invalid argument")
	ErrDuplicateExternalID = errors.New("conversations: duplicate external conversation id")
	ErrAlreadyLinked       = errors.New("conversations: already linked")
	ErrOutOfOrder          = errors.New("conversations: transcript out of order")
	ErrConcurrentUpdate    = errors.New("conversations: concurrent update")
)
