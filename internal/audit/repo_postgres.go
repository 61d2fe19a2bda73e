package audit

import (
	"context"
	"fmt"

	"alara-platform/pkg/utils"
)

// PostgresRepo writes to audit_events. The table grants INSERT only.
type PostgresRepo struct {
	db utils.DB
}

func NewPostgresRepo(db utils.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) Append(ctx context.Context, e Event) error {
	_, err := r.db.Exec(ctx, `
INSERT INTO audit_events (id, type, actor_user_id, actor_role, ip_address, call_id, conversation_id, message, metadata, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		e.ID, string(e.Type),
		utils.NullableString(e.ActorUserID), utils.NullableString(e.ActorRole), utils.NullableString(e.IPAddress),
		utils.NullableString(e.CallID), utils.NullableString(e.ConversationID),
		e.Message, utils.NullableString(e.Metadata), e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}
