package conversations

import (
	"context"
	"errors"
	"testing"
	"time"

	pgxmock "github.com/pashagolub/pgxmock/v4"
)

var conversationColumnNames = []string{
	"id", "external_conversation_id", "call_id", "user_id", "agent_id", "transcript", "version", "created_at", "updated_at",
}

func conversationRow(id, ext, transcriptJSON string) *pgxmock.Rows {
	now := time.Date(2025, 1, 1, 14, 0, 0, 0, time.UTC)
	return pgxmock.NewRows(conversationColumnNames).
		AddRow(id, &ext, "call-1", "u1", "agent-1", []byte(transcriptJSON), 3, now, now)
}

func TestPostgresRepo_GetByExternalIDDecodesTranscript(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	mock.ExpectQuery(`FROM conversations WHERE external_conversation_id = \$1`).
		WithArgs("conv_ext").
		WillReturnRows(conversationRow("conv-1", "conv_ext",
			`[{"role":"agent","message":"Hi!","tool_calls":null,"tool_results":null,"time_in_call_secs":0,"interrupted":false}]`))

	c, err := NewPostgresRepo(mock).GetByExternalID(context.Background(), "conv_ext")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if c.ID != "conv-1" || c.Version != 3 || len(c.Transcript) != 1 || c.Transcript[0].Text() != "Hi!" {
		t.Fatalf("unexpected conversation: %+v", c)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresRepo_InsertOrGetByExternalIDConflict(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO conversations`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows(conversationColumnNames))
	mock.ExpectQuery(`FROM conversations WHERE external_conversation_id = \$1`).
		WithArgs("conv_ext").
		WillReturnRows(conversationRow("conv-old", "conv_ext", `[]`))
	mock.ExpectCommit()

	got, created, err := NewPostgresRepo(mock).InsertOrGetByExternalID(context.Background(),
		Conversation{ID: "conv-new", ExternalConversationID: "conv_ext", Version: 1})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if created || got.ID != "conv-old" {
		t.Fatalf("expected existing conversation, got %+v created=%v", got, created)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresRepo_UpdateLostRace(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	mock.ExpectExec(`UPDATE conversations`).
		WithArgs("conv-1", 2, pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), 3, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs("conv-1").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

	err = NewPostgresRepo(mock).Update(context.Background(), Conversation{ID: "conv-1", Version: 3}, 2)
	if !errors.Is(err, ErrConcurrentUpdate) {
		t.Fatalf("expected ErrConcurrentUpdate, got %v", err)
	}
}
