package postgres

import (
	"context"

	"compliancepulse/internal/store"
)

// AppendAudit inserts one append-only audit event. Audit rows are never
// updated or deleted by the core.
func (s *Store) AppendAudit(ctx context.Context, event *store.AuditEvent) error {
	query := `
		INSERT INTO audit_events (org_id, kind, subject_id, detail, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := s.db.ExecContext(ctx, query,
		event.OrgID, event.Kind, event.SubjectID, event.Detail, event.CreatedAt)
	return err
}
