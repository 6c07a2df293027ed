package postgres

import (
	"context"
	"database/sql"
	"time"

	"compliancepulse/internal/store"

	"github.com/google/uuid"
)

// CreateSchedule inserts a schedule. The interval floor is enforced at
// creation so a raw row can never tick faster than the minimum.
func (s *Store) CreateSchedule(ctx context.Context, tc store.TenantContext, schedule *store.Schedule) error {
	interval := schedule.IntervalMinutes
	if interval < store.MinIntervalMinutes {
		interval = store.MinIntervalMinutes
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO schedules (id, org_id, name, rule_group_id, frequency, interval_minutes, enabled, last_run_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, schedule.ID, tc.OrgID, schedule.Name, schedule.RuleGroupID,
		schedule.Frequency, interval, schedule.Enabled, schedule.LastRunAt, schedule.CreatedAt)
	return err
}

// DeleteSchedule removes a schedule scoped to the tenant.
func (s *Store) DeleteSchedule(ctx context.Context, tc store.TenantContext, id uuid.UUID) error {
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM schedules WHERE org_id = $1 AND id = $2", tc.OrgID, id)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// ListSchedules returns all schedules of the tenant.
func (s *Store) ListSchedules(ctx context.Context, tc store.TenantContext) ([]store.Schedule, error) {
	query := `
		SELECT id, org_id, name, rule_group_id, frequency, interval_minutes, enabled, last_run_at, created_at
		FROM schedules
		WHERE org_id = $1
		ORDER BY created_at ASC
	`

	rows, err := s.db.QueryContext(ctx, query, tc.OrgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanSchedules(rows)
}

// ListDueSchedules returns enabled schedules whose effective interval has
// elapsed since last_run_at, across all tenants. The effective interval
// is derived from the frequency with the configured floor applied.
func (s *Store) ListDueSchedules(ctx context.Context, now time.Time) ([]store.Schedule, error) {
	query := `
		SELECT id, org_id, name, rule_group_id, frequency, interval_minutes, enabled, last_run_at, created_at
		FROM schedules
		WHERE enabled = TRUE
		  AND (last_run_at IS NULL OR last_run_at <= $1::timestamptz - make_interval(mins =>
			CASE frequency
				WHEN 'hourly' THEN 60
				WHEN 'daily' THEN 1440
				ELSE GREATEST(interval_minutes, $2)
			END))
		ORDER BY created_at ASC, id ASC
	`

	rows, err := s.db.QueryContext(ctx, query, now, store.MinIntervalMinutes)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanSchedules(rows)
}

// MarkScheduleRun records the start of the schedule's current due window.
func (s *Store) MarkScheduleRun(ctx context.Context, scheduleID uuid.UUID, runAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE schedules SET last_run_at = $1 WHERE id = $2", runAt, scheduleID)
	return err
}

func scanSchedules(rows *sql.Rows) ([]store.Schedule, error) {
	var schedules []store.Schedule
	for rows.Next() {
		var sc store.Schedule
		if err := rows.Scan(
			&sc.ID, &sc.OrgID, &sc.Name, &sc.RuleGroupID,
			&sc.Frequency, &sc.IntervalMinutes, &sc.Enabled, &sc.LastRunAt, &sc.CreatedAt,
		); err != nil {
			return nil, err
		}
		schedules = append(schedules, sc)
	}
	return schedules, rows.Err()
}
