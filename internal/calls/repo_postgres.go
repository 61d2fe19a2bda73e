package calls

import (
	"context"
	"errors"
	"fmt"
	"time"

	"alara-platform/pkg/utils"

	"github.com/jackc/pgx/v5"
)

// PostgresRepo stores calls in the calls table (see migrations/0001_init.sql).
// external_call_id is NULL when unknown and carries a unique index.
type PostgresRepo struct {
	db utils.DB
}

func NewPostgresRepo(db utils.DB) *PostgresRepo { return &PostgresRepo{db: db} }

const externalCallIDConstraint = "calls_external_call_id_key"

const callColumns = `id, user_id, to_number, purpose, status, agent_id, external_call_id, carrier_call_id,
conversation_id, initiated_at, started_at, completed_at, error_message, duration_secs, cost, version, created_at, updated_at`

const insertCallSQL = `
INSERT INTO calls (` + callColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)`

func callArgs(c Call) []any {
	return []any{
		c.ID,
		c.UserID,
		c.ToNumber,
		c.Purpose,
		string(c.Status),
		c.AgentID,
		utils.NullableString(c.ExternalCallID),
		c.CarrierCallID,
		c.ConversationID,
		c.InitiatedAt,
		c.StartedAt,
		c.CompletedAt,
		c.ErrorMessage,
		c.DurationSecs,
		c.Cost,
		c.Version,
		c.CreatedAt,
		c.UpdatedAt,
	}
}

func scanCall(row pgx.Row) (Call, error) {
	var (
		c      Call
		status string
		ext    *string
	)
	if err := row.Scan(
		&c.ID,
		&c.UserID,
		&c.ToNumber,
		&c.Purpose,
		&status,
		&c.AgentID,
		&ext,
		&c.CarrierCallID,
		&c.ConversationID,
		&c.InitiatedAt,
		&c.StartedAt,
		&c.CompletedAt,
		&c.ErrorMessage,
		&c.DurationSecs,
		&c.Cost,
		&c.Version,
		&c.CreatedAt,
		&c.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Call{}, ErrNotFound
		}
		return Call{}, err
	}
	c.Status = Status(status)
	c.ExternalCallID = utils.StringOrEmpty(ext)
	return c, nil
}

func (r *PostgresRepo) Insert(ctx context.Context, c Call) error {
	if _, err := r.db.Exec(ctx, insertCallSQL, callArgs(c)...); err != nil {
		if utils.IsUniqueViolation(err, externalCallIDConstraint) {
			return ErrDuplicateExternalID
		}
		return fmt.Errorf("insert call: %w", err)
	}
	return nil
}

// InsertOrGetByExternalCallID relies on ON CONFLICT to pick a single winner;
// the loser reads the winner's row in the same transaction.
func (r *PostgresRepo) InsertOrGetByExternalCallID(ctx context.Context, c Call) (Call, bool, error) {
	var (
		out     Call
		created bool
	)
	err := utils.WithTx(ctx, r.db, func(ctx context.Context, tx pgx.Tx) error {
		stored, err := scanCall(tx.QueryRow(ctx, insertCallSQL+`
ON CONFLICT (external_call_id) DO NOTHING
RETURNING `+callColumns, callArgs(c)...))
		switch {
		case err == nil:
			out, created = stored, true
			return nil
		case !errors.Is(err, ErrNotFound):
			return fmt.Errorf("insert call: %w", err)
		}

		stored, err = scanCall(tx.QueryRow(ctx, `SELECT `+callColumns+` FROM calls WHERE external_call_id = $1`, c.ExternalCallID))
		if err != nil {
			return fmt.Errorf("load call by external id: %w", err)
		}
		out = stored
		return nil
	})
	if err != nil {
		return Call{}, false, err
	}
	return out, created, nil
}

func (r *PostgresRepo) Get(ctx context.Context, id string) (Call, error) {
	return scanCall(r.db.QueryRow(ctx, `SELECT `+callColumns+` FROM calls WHERE id = $1`, id))
}

func (r *PostgresRepo) GetByExternalCallID(ctx context.Context, externalCallID string) (Call, error) {
	return scanCall(r.db.QueryRow(ctx, `SELECT `+callColumns+` FROM calls WHERE external_call_id = $1`, externalCallID))
}

func (r *PostgresRepo) Update(ctx context.Context, c Call, expectedVersion int) error {
	tag, err := r.db.Exec(ctx, `
UPDATE calls SET
    user_id = $3, to_number = $4, purpose = $5, status = $6, agent_id = $7, external_call_id = $8,
    carrier_call_id = $9, conversation_id = $10, started_at = $11, completed_at = $12,
    error_message = $13, duration_secs = $14, cost = $15, version = $16, updated_at = $17
WHERE id = $1 AND version = $2`,
		c.ID,
		expectedVersion,
		c.UserID,
		c.ToNumber,
		c.Purpose,
		string(c.Status),
		c.AgentID,
		utils.NullableString(c.ExternalCallID),
		c.CarrierCallID,
		c.ConversationID,
		c.StartedAt,
		c.CompletedAt,
		c.ErrorMessage,
		c.DurationSecs,
		c.Cost,
		c.Version,
		c.UpdatedAt,
	)
	if err != nil {
		if utils.IsUniqueViolation(err, externalCallIDConstraint) {
			return ErrDuplicateExternalID
		}
		return fmt.Errorf("update call: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	// Distinguish a missing row from a lost compare-and-swap.
	var exists bool
	if err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM calls WHERE id = $1)`, c.ID).Scan(&exists); err != nil {
		return fmt.Errorf("check call: %w", err)
	}
	if !exists {
		return ErrNotFound
	}
	return ErrConcurrentUpdate
}

func (r *PostgresRepo) ListByUser(ctx context.Context, userID string, from, to time.Time) ([]Call, error) {
	rows, err := r.db.Query(ctx, `
SELECT `+callColumns+`
FROM calls
WHERE user_id = $1
  AND ($2::timestamptz IS NULL OR created_at >= $2)
  AND ($3::timestamptz IS NULL OR created_at < $3)
ORDER BY created_at DESC
LIMIT 500`, userID, nullableTime(from), nullableTime(to))
	if err != nil {
		return nil, fmt.Errorf("list calls: %w", err)
	}
	defer rows.Close()

	out := make([]Call, 0)
	for rows.Next() {
		c, err := scanCall(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list calls: %w", err)
	}
	return out, nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
