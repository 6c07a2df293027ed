package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"compliancepulse/internal/store"

	"github.com/google/uuid"
)

const jobColumns = "id, org_id, schedule_id, rule_group_id, status, claimed_by, claimed_at, deadline_at, scan_id, error, created_at, completed_at"

// EnqueueJob inserts a pending scan job. Scheduled jobs carry a
// (schedule_id, window_start) key guarded by a unique partial index, so a
// second enqueue within the same due window is a no-op that returns the
// job already in place.
func (s *Store) EnqueueJob(ctx context.Context, job *store.ScanJob, windowStart time.Time) (bool, *store.ScanJob, error) {
	var window interface{}
	if job.ScheduleID != nil {
		window = windowStart
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO scan_jobs (id, org_id, schedule_id, rule_group_id, status, window_start, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (schedule_id, window_start) WHERE schedule_id IS NOT NULL DO NOTHING
	`, job.ID, job.OrgID, job.ScheduleID, job.RuleGroupID, store.JobStatusPending, window, job.CreatedAt)
	if err != nil {
		return false, nil, fmt.Errorf("failed to enqueue job for group %s: %w", job.RuleGroupID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, nil, err
	}
	if affected > 0 {
		return true, nil, nil
	}

	// Lost to an earlier enqueue in the same window; hand back the winner.
	query := fmt.Sprintf(
		"SELECT %s FROM scan_jobs WHERE schedule_id = $1 AND window_start = $2", jobColumns)
	existing, err := s.scanJobRow(s.db.QueryRowContext(ctx, query, job.ScheduleID, windowStart))
	if err != nil {
		return false, nil, fmt.Errorf("failed to load existing job for schedule %s: %w", job.ScheduleID, err)
	}
	return false, existing, nil
}

// ClaimNextJob atomically claims the oldest pending job whose tenant is
// under its running-job cap. The inner select uses FOR UPDATE SKIP LOCKED
// and the update re-checks status = 'pending', so two racing workers can
// never both win the same row.
func (s *Store) ClaimNextJob(ctx context.Context, workerID string, deadline time.Time, maxPerOrg int) (*store.ScanJob, error) {
	query := fmt.Sprintf(`
		UPDATE scan_jobs
		SET status = $1, claimed_by = $2, claimed_at = NOW(), deadline_at = $3
		WHERE id = (
			SELECT j.id
			FROM scan_jobs j
			WHERE j.status = $4
			  AND (
				SELECT COUNT(*) FROM scan_jobs r
				WHERE r.org_id = j.org_id AND r.status = $5
			  ) < $6
			ORDER BY j.created_at ASC
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		) AND status = $4
		RETURNING %s
	`, jobColumns)

	job, err := s.scanJobRow(s.db.QueryRowContext(ctx, query,
		store.JobStatusClaimed, workerID, deadline,
		store.JobStatusPending, store.JobStatusRunning, maxPerOrg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("claim query failed: %w", err)
	}
	return job, nil
}

// MarkJobRunning transitions claimed -> running for the claiming worker.
// Losing the conditional update means the job was reclaimed from under us.
func (s *Store) MarkJobRunning(ctx context.Context, jobID uuid.UUID, workerID string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE scan_jobs
		SET status = $1
		WHERE id = $2 AND status = $3 AND claimed_by = $4
	`, store.JobStatusRunning, jobID, store.JobStatusClaimed, workerID)
	if err != nil {
		return err
	}
	return requireAffected(result, store.ErrAlreadyClaimed)
}

// CompleteJob transitions running -> completed and records the scan.
func (s *Store) CompleteJob(ctx context.Context, jobID uuid.UUID, scanID uuid.UUID) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE scan_jobs
		SET status = $1, scan_id = $2, error = NULL, completed_at = NOW()
		WHERE id = $3 AND status = $4
	`, store.JobStatusCompleted, scanID, jobID, store.JobStatusRunning)
	if err != nil {
		return err
	}
	return requireAffected(result, store.ErrAlreadyClaimed)
}

// FailJob transitions a claimed or running job to failed. Failed jobs are
// never retried in place; a new job must be scheduled.
func (s *Store) FailJob(ctx context.Context, jobID uuid.UUID, errMsg string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE scan_jobs
		SET status = $1, error = $2, completed_at = NOW()
		WHERE id = $3 AND status IN ($4, $5)
	`, store.JobStatusFailed, errMsg, jobID, store.JobStatusClaimed, store.JobStatusRunning)
	if err != nil {
		return err
	}
	return requireAffected(result, store.ErrAlreadyClaimed)
}

// TimeOutJob transitions a claimed or running job to timed_out, distinct
// from failed so operators can tell "ran too long" from "broke".
func (s *Store) TimeOutJob(ctx context.Context, jobID uuid.UUID, errMsg string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE scan_jobs
		SET status = $1, error = $2, completed_at = NOW()
		WHERE id = $3 AND status IN ($4, $5)
	`, store.JobStatusTimedOut, errMsg, jobID, store.JobStatusClaimed, store.JobStatusRunning)
	if err != nil {
		return err
	}
	return requireAffected(result, store.ErrAlreadyClaimed)
}

// ReclaimExpiredJobs returns claimed/running jobs past their deadline to
// pending so a live worker can pick them up after a crash.
func (s *Store) ReclaimExpiredJobs(ctx context.Context, now time.Time) ([]store.ScanJob, error) {
	query := fmt.Sprintf(`
		UPDATE scan_jobs
		SET status = $1, claimed_by = NULL, claimed_at = NULL, deadline_at = NULL
		WHERE status IN ($2, $3) AND deadline_at < $4
		RETURNING %s
	`, jobColumns)

	rows, err := s.db.QueryContext(ctx, query,
		store.JobStatusPending, store.JobStatusClaimed, store.JobStatusRunning, now)
	if err != nil {
		return nil, fmt.Errorf("reclaim query failed: %w", err)
	}
	defer rows.Close()

	var jobs []store.ScanJob
	for rows.Next() {
		var job store.ScanJob
		if err := rows.Scan(
			&job.ID, &job.OrgID, &job.ScheduleID, &job.RuleGroupID, &job.Status,
			&job.ClaimedBy, &job.ClaimedAt, &job.DeadlineAt, &job.ScanID,
			&job.Error, &job.CreatedAt, &job.CompletedAt,
		); err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// CountActiveJobs returns the tenant's live job count. Rows are counted
// rather than cached so the cap stays correct across process restarts.
func (s *Store) CountActiveJobs(ctx context.Context, tc store.TenantContext) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM scan_jobs
		WHERE org_id = $1 AND status IN ($2, $3, $4)
	`, tc.OrgID, store.JobStatusPending, store.JobStatusClaimed, store.JobStatusRunning).Scan(&count)
	if err != nil {
		return 0, err
	}
	return count, nil
}

// GetJob returns a job scoped to the tenant.
func (s *Store) GetJob(ctx context.Context, tc store.TenantContext, id uuid.UUID) (*store.ScanJob, error) {
	query := fmt.Sprintf(
		"SELECT %s FROM scan_jobs WHERE org_id = $1 AND id = $2", jobColumns)

	job, err := s.scanJobRow(s.db.QueryRowContext(ctx, query, tc.OrgID, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return job, nil
}

func (s *Store) scanJobRow(row *sql.Row) (*store.ScanJob, error) {
	var job store.ScanJob
	err := row.Scan(
		&job.ID, &job.OrgID, &job.ScheduleID, &job.RuleGroupID, &job.Status,
		&job.ClaimedBy, &job.ClaimedAt, &job.DeadlineAt, &job.ScanID,
		&job.Error, &job.CreatedAt, &job.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func requireAffected(result sql.Result, sentinel error) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return sentinel
	}
	return nil
}
