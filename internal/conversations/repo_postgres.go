package conversations

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"alara-platform/internal/transcript"
	"alara-platform/pkg/utils"

	"github.com/jackc/pgx/v5"
)

// PostgresRepo stores conversations with the transcript as a JSONB array.
type PostgresRepo struct {
	db utils.DB
}

func NewPostgresRepo(db utils.DB) *PostgresRepo { return &PostgresRepo{db: db} }

const externalConversationIDConstraint = "conversations_external_conversation_id_key"

const conversationColumns = `id, external_conversation_id, call_id, user_id, agent_id, transcript, version, created_at, updated_at`

const insertConversationSQL = `
INSERT INTO conversations (` + conversationColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`

func conversationArgs(c Conversation) ([]any, error) {
	raw, err := encodeTranscript(c.Transcript)
	if err != nil {
		return nil, err
	}
	return []any{
		c.ID,
		utils.NullableString(c.ExternalConversationID),
		c.CallID,
		c.UserID,
		c.AgentID,
		raw,
		c.Version,
		c.CreatedAt,
		c.UpdatedAt,
	}, nil
}

func encodeTranscript(msgs []transcript.Message) ([]byte, error) {
	if msgs == nil {
		msgs = []transcript.Message{}
	}
	raw, err := json.Marshal(msgs)
	if err != nil {
		return nil, fmt.Errorf("encode transcript: %w", err)
	}
	return raw, nil
}

func scanConversation(row pgx.Row) (Conversation, error) {
	var (
		c   Conversation
		ext *string
		raw []byte
	)
	if err := row.Scan(&c.ID, &ext, &c.CallID, &c.UserID, &c.AgentID, &raw, &c.Version, &c.CreatedAt, &c.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Conversation{}, ErrNotFound
		}
		return Conversation{}, err
	}
	c.ExternalConversationID = utils.StringOrEmpty(ext)
	c.Transcript = []transcript.Message{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &c.Transcript); err != nil {
			return Conversation{}, fmt.Errorf("decode transcript for %s: %w", c.ID, err)
		}
	}
	return c, nil
}

func (r *PostgresRepo) Insert(ctx context.Context, c Conversation) error {
	args, err := conversationArgs(c)
	if err != nil {
		return err
	}
	if _, err := r.db.Exec(ctx, insertConversationSQL, args...); err != nil {
		if utils.IsUniqueViolation(err, externalConversationIDConstraint) {
			return ErrDuplicateExternalID
		}
		return fmt.Errorf("insert conversation: %w", err)
	}
	return nil
}

func (r *PostgresRepo) InsertOrGetByExternalID(ctx context.Context, c Conversation) (Conversation, bool, error) {
	args, err := conversationArgs(c)
	if err != nil {
		return Conversation{}, false, err
	}
	var (
		out     Conversation
		created bool
	)
	err = utils.WithTx(ctx, r.db, func(ctx context.Context, tx pgx.Tx) error {
		stored, err := scanConversation(tx.QueryRow(ctx, insertConversationSQL+`
ON CONFLICT (external_conversation_id) DO NOTHING
RETURNING `+conversationColumns, args...))
		switch {
		case err == nil:
			out, created = stored, true
			return nil
		case !errors.Is(err, ErrNotFound):
			return fmt.Errorf("insert conversation: %w", err)
		}
		stored, err = scanConversation(tx.QueryRow(ctx,
			`SELECT `+conversationColumns+` FROM conversations WHERE external_conversation_id = $1`,
			c.ExternalConversationID))
		if err != nil {
			return fmt.Errorf("load conversation by external id: %w", err)
		}
		out = stored
		return nil
	})
	if err != nil {
		return Conversation{}, false, err
	}
	return out, created, nil
}

func (r *PostgresRepo) Get(ctx context.Context, id string) (Conversation, error) {
	return scanConversation(r.db.QueryRow(ctx, `SELECT `+conversationColumns+` FROM conversations WHERE id = $1`, id))
}

func (r *PostgresRepo) GetByExternalID(ctx context.Context, externalID string) (Conversation, error) {
	return scanConversation(r.db.QueryRow(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE external_conversation_id = $1`, externalID))
}

func (r *PostgresRepo) Update(ctx context.Context, c Conversation, expectedVersion int) error {
	raw, err := encodeTranscript(c.Transcript)
	if err != nil {
		return err
	}
	tag, err := r.db.Exec(ctx, `
UPDATE conversations
SET call_id = $3, user_id = $4, agent_id = $5, transcript = $6, version = $7, updated_at = $8
WHERE id = $1 AND version = $2`,
		c.ID, expectedVersion, c.CallID, c.UserID, c.AgentID, raw, c.Version, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update conversation: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM conversations WHERE id = $1)`, c.ID).Scan(&exists); err != nil {
		return fmt.Errorf("check conversation: %w", err)
	}
	if !exists {
		return ErrNotFound
	}
	return ErrConcurrentUpdate
}
