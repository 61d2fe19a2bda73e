package audit

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	pgxmock "github.com/pashagolub/pgxmock/v4"
)

func TestService_AppendRequiresTypeAndTarget(t *testing.T) {
	svc := NewService(NewMemoryRepo())

	if err := svc.Append(context.Background(), Event{CallID: "c1"}); !errors.Is(err, ErrInvalidEvent) {
		t.Fatalf("expected ErrInvalidEvent for missing type, got %v", err)
	}
	if err := svc.Append(context.Background(), Event{Type: EventTypeStatusCorrection}); !errors.Is(err, ErrInvalidEvent) {
		t.Fatalf("expected ErrInvalidEvent for missing target, got %v", err)
	}
	var nilSvc *Service
	if err := nilSvc.Append(context.Background(), Event{}); err == nil {
		t.Fatalf("expected error from nil service")
	}
}

func TestService_LogStatusCorrection(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)

	actor := Actor{UserID: "admin-1", Role: "admin", IP: "1.2.3.4"}
	if err := svc.LogStatusCorrection(context.Background(), actor, "call-1", "completed", "failed", "carrier dropped"); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	evs := repo.Events()
	if len(evs) != 1 {
		t.Fatalf("expected 1 event, got %d", len(evs))
	}
	e := evs[0]
	if e.Type != EventTypeStatusCorrection || e.CallID != "call-1" || e.IPAddress != "1.2.3.4" || e.ActorRole != "admin" {
		t.Fatalf("unexpected event: %+v", e)
	}
	if e.ID == "" || e.CreatedAt.IsZero() {
		t.Fatalf("id and created_at must be stamped")
	}
	var md map[string]string
	if err := json.Unmarshal([]byte(e.Metadata), &md); err != nil {
		t.Fatalf("metadata must be JSON: %v", err)
	}
	if md["from"] != "completed" || md["to"] != "failed" || md["reason"] != "carrier dropped" {
		t.Fatalf("unexpected metadata: %v", md)
	}
}

func TestService_LogTransitionConflict(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)

	if err := svc.LogTransitionConflict(context.Background(), "call-1", "conv-1", "completed", "failed", "call_failed"); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	e := repo.Events()[0]
	if e.Type != EventTypeTransitionConflict || e.ConversationID != "conv-1" || e.ActorUserID != "" {
		t.Fatalf("unexpected event: %+v", e)
	}
}

func TestPostgresRepo_Append(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	mock.ExpectExec(`INSERT INTO audit_events`).
		WithArgs(pgxmock.AnyArg(), "call_transition_conflict", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	svc := NewService(NewPostgresRepo(mock))
	if err := svc.LogTransitionConflict(context.Background(), "call-1", "", "completed", "failed", ""); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
