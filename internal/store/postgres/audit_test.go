package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"

	"compliancepulse/internal/store"
)

func TestAppendAudit(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	event := &store.AuditEvent{
		OrgID:     uuid.New(),
		Kind:      store.AuditJobEnqueued,
		SubjectID: uuid.New().String(),
		Detail:    "schedule nightly",
		CreatedAt: time.Now().UTC(),
	}

	mock.ExpectExec(`INSERT INTO audit_events`).
		WithArgs(event.OrgID, event.Kind, event.SubjectID, event.Detail, event.CreatedAt).
		WillReturnResult(sqlmock.NewResult(1, 1))

	if err := s.AppendAudit(context.Background(), event); err != nil {
		t.Fatalf("AppendAudit failed: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestAppendAudit_Error(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	mock.ExpectExec(`INSERT INTO audit_events`).
		WillReturnError(errors.New("connection refused"))

	event := &store.AuditEvent{OrgID: uuid.New(), Kind: store.AuditJobFailed}
	if err := s.AppendAudit(context.Background(), event); err == nil {
		t.Error("expected error, got nil")
	}
}
