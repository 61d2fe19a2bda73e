package calls

import (
	"context"
	"errors"
	"testing"
	"time"

	pgxmock "github.com/pashagolub/pgxmock/v4"
)

var callColumnNames = []string{
	"id", "user_id", "to_number", "purpose", "status", "agent_id", "external_call_id", "carrier_call_id",
	"conversation_id", "initiated_at", "started_at", "completed_at", "error_message", "duration_secs", "cost",
	"version", "created_at", "updated_at",
}

func anyArgs(n int) []any {
	out := make([]any, n)
	for i := range out {
		out[i] = pgxmock.AnyArg()
	}
	return out
}

func callRow(id, status, ext string, completedAt *time.Time) *pgxmock.Rows {
	now := time.Date(2025, 1, 1, 14, 0, 0, 0, time.UTC)
	return pgxmock.NewRows(callColumnNames).AddRow(
		id, "u1", "+15550001111", "", status, "agent-1", &ext, "", "",
		now, (*time.Time)(nil), completedAt, "", 0, (*float64)(nil), 1, now, now,
	)
}

func TestPostgresRepo_InsertOrGetByExternalCallID(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		setupMock   func(pgxmock.PgxPoolIface)
		wantID      string
		wantCreated bool
	}{
		{
			name: "inserts new call",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectBegin()
				mock.ExpectQuery(`INSERT INTO calls`).
					WithArgs(anyArgs(18)...).
					WillReturnRows(callRow("call-new", "initiated", "CA123", nil))
				mock.ExpectCommit()
			},
			wantID:      "call-new",
			wantCreated: true,
		},
		{
			name: "conflict returns existing winner",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectBegin()
				mock.ExpectQuery(`INSERT INTO calls`).
					WithArgs(anyArgs(18)...).
					WillReturnRows(pgxmock.NewRows(callColumnNames))
				mock.ExpectQuery(`FROM calls WHERE external_call_id = \$1`).
					WithArgs("CA123").
					WillReturnRows(callRow("call-old", "in_progress", "CA123", nil))
				mock.ExpectCommit()
			},
			wantID:      "call-old",
			wantCreated: false,
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			mock, err := pgxmock.NewPool()
			if err != nil {
				t.Fatalf("failed to create pgx mock: %v", err)
			}
			defer mock.Close()
			tc.setupMock(mock)

			repo := NewPostgresRepo(mock)
			got, created, err := repo.InsertOrGetByExternalCallID(context.Background(), Call{ID: "call-new", ExternalCallID: "CA123", Status: StatusInitiated})
			if err != nil {
				t.Fatalf("unexpected err: %v", err)
			}
			if got.ID != tc.wantID || created != tc.wantCreated || got.ExternalCallID != "CA123" {
				t.Fatalf("got id=%s created=%v ext=%s", got.ID, created, got.ExternalCallID)
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Fatalf("unmet expectations: %v", err)
			}
		})
	}
}

func TestPostgresRepo_Get(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	done := time.Date(2025, 1, 1, 14, 5, 0, 0, time.UTC)
	mock.ExpectQuery(`FROM calls WHERE id = \$1`).
		WithArgs("call-1").
		WillReturnRows(callRow("call-1", "completed", "CA1", &done))
	mock.ExpectQuery(`FROM calls WHERE id = \$1`).
		WithArgs("missing").
		WillReturnRows(pgxmock.NewRows(callColumnNames))

	repo := NewPostgresRepo(mock)
	c, err := repo.Get(context.Background(), "call-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if c.Status != StatusCompleted || c.CompletedAt == nil || !c.CompletedAt.Equal(done) {
		t.Fatalf("unexpected call: %+v", c)
	}
	if _, err := repo.Get(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPostgresRepo_UpdateCompareAndSwap(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		setupMock func(pgxmock.PgxPoolIface)
		wantErr   error
	}{
		{
			name: "applied",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectExec(`UPDATE calls SET`).
					WithArgs(anyArgs(17)...).
					WillReturnResult(pgxmock.NewResult("UPDATE", 1))
			},
		},
		{
			name: "version changed underneath",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectExec(`UPDATE calls SET`).
					WithArgs(anyArgs(17)...).
					WillReturnResult(pgxmock.NewResult("UPDATE", 0))
				mock.ExpectQuery(`SELECT EXISTS`).
					WithArgs("call-1").
					WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))
			},
			wantErr: ErrConcurrentUpdate,
		},
		{
			name: "row missing",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectExec(`UPDATE calls SET`).
					WithArgs(anyArgs(17)...).
					WillReturnResult(pgxmock.NewResult("UPDATE", 0))
				mock.ExpectQuery(`SELECT EXISTS`).
					WithArgs("call-1").
					WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))
			},
			wantErr: ErrNotFound,
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			mock, err := pgxmock.NewPool()
			if err != nil {
				t.Fatalf("failed to create pgx mock: %v", err)
			}
			defer mock.Close()
			tc.setupMock(mock)

			repo := NewPostgresRepo(mock)
			err = repo.Update(context.Background(), Call{ID: "call-1", Status: StatusCompleted, Version: 3}, 2)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected error %v, got %v", tc.wantErr, err)
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Fatalf("unmet expectations: %v", err)
			}
		})
	}
}
