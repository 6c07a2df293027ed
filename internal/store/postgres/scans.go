package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"compliancepulse/internal/store"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// CreateScan inserts the initial scan row.
func (s *Store) CreateScan(ctx context.Context, tx store.DBTransaction, scan *store.Scan) error {
	executor := s.getExecutor(tx)

	_, err := executor.ExecContext(ctx, `
		INSERT INTO scans (id, org_id, hostname, ip, benchmark_id, tags, status, triggered_by, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, scan.ID, scan.OrgID, scan.Hostname, scan.IP, scan.BenchmarkID,
		pq.Array(scan.Tags), scan.Status, scan.TriggeredBy, scan.StartedAt)
	if err != nil {
		return fmt.Errorf("failed to insert scan %s: %w", scan.ID, err)
	}
	return nil
}

// InsertResults inserts all per-rule results of a scan.
func (s *Store) InsertResults(ctx context.Context, tx store.DBTransaction, results []store.ScanResult) error {
	executor := s.getExecutor(tx)

	for _, r := range results {
		_, err := executor.ExecContext(ctx, `
			INSERT INTO scan_results (id, scan_id, rule_id, severity, passed, output, error, duration_ms)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, r.ID, r.ScanID, r.RuleID, r.Severity, r.Passed, r.Output, r.Error, r.Duration.Milliseconds())
		if err != nil {
			return fmt.Errorf("failed to insert result for rule %s: %w", r.RuleID, err)
		}
	}
	return nil
}

// CreateReport inserts the report row for a completed scan.
func (s *Store) CreateReport(ctx context.Context, tx store.DBTransaction, report *store.Report) error {
	executor := s.getExecutor(tx)

	_, err := executor.ExecContext(ctx, `
		INSERT INTO reports (id, scan_id, org_id, score, artifact_path, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, report.ID, report.ScanID, report.OrgID, report.Score, report.ArtifactPath, report.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert report for scan %s: %w", report.ScanID, err)
	}
	return nil
}

// FinishScan sets the terminal status and completion time of a scan.
func (s *Store) FinishScan(ctx context.Context, tx store.DBTransaction, scanID uuid.UUID, status store.ScanStatus, completedAt time.Time) error {
	executor := s.getExecutor(tx)

	_, err := executor.ExecContext(ctx,
		"UPDATE scans SET status = $1, completed_at = $2 WHERE id = $3",
		status, completedAt, scanID)
	return err
}

// GetScan returns a scan scoped to the tenant.
func (s *Store) GetScan(ctx context.Context, tc store.TenantContext, id uuid.UUID) (*store.Scan, error) {
	query := `
		SELECT id, org_id, hostname, ip, benchmark_id, tags, status, triggered_by, started_at, completed_at
		FROM scans
		WHERE org_id = $1 AND id = $2
	`

	var scan store.Scan
	err := s.db.QueryRowContext(ctx, query, tc.OrgID, id).Scan(
		&scan.ID, &scan.OrgID, &scan.Hostname, &scan.IP, &scan.BenchmarkID,
		pq.Array(&scan.Tags), &scan.Status, &scan.TriggeredBy, &scan.StartedAt, &scan.CompletedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &scan, nil
}

// GetReportByScanID returns the report of a completed scan.
func (s *Store) GetReportByScanID(ctx context.Context, tc store.TenantContext, scanID uuid.UUID) (*store.Report, error) {
	query := `
		SELECT id, scan_id, org_id, score, artifact_path, created_at
		FROM reports
		WHERE org_id = $1 AND scan_id = $2
	`

	var report store.Report
	err := s.db.QueryRowContext(ctx, query, tc.OrgID, scanID).Scan(
		&report.ID, &report.ScanID, &report.OrgID, &report.Score, &report.ArtifactPath, &report.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &report, nil
}
