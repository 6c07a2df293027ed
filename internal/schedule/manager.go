// Package schedule decides when recurring scans are due and enqueues
// their jobs.
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"compliancepulse/internal/store"

	"github.com/google/uuid"
)

// Stores groups the persistence dependencies of the manager.
type Stores interface {
	store.ScheduleStore
	store.JobQueue
	store.AuditStore
}

// Config holds the manager's settings.
type Config struct {
	// TickInterval is how often the manager polls for due schedules.
	TickInterval time.Duration

	// MaxJobsPerOrg caps a tenant's live (pending+claimed+running) jobs.
	MaxJobsPerOrg int
}

// Manager runs a single-threaded periodic tick that enqueues scan jobs
// for due schedules. It only writes job rows; it never executes rules.
type Manager struct {
	stores store.ScheduleStore
	queue  store.JobQueue
	audit  store.AuditStore
	config Config
	log    *slog.Logger
}

// EnqueueResult reports what one enqueue attempt did.
type EnqueueResult struct {
	// Job is the job in place for the current due window: the newly
	// created one, or the earlier one when the call was a no-op.
	Job *store.ScanJob

	// Created is false when an earlier enqueue in the same window won.
	Created bool

	// Deferred is true when the tenant was at capacity; the schedule is
	// retried on the next tick.
	Deferred bool
}

// New creates a schedule manager.
func New(stores Stores, config Config, log *slog.Logger) *Manager {
	if config.TickInterval <= 0 {
		config.TickInterval = time.Minute
	}
	if config.MaxJobsPerOrg <= 0 {
		config.MaxJobsPerOrg = 3
	}
	return &Manager{stores: stores, queue: stores, audit: stores, config: config, log: log}
}

// Run ticks until the context is cancelled.
func (m *Manager) Run(ctx context.Context) error {
	m.log.Info("schedule manager starting", "tick_interval", m.config.TickInterval)

	ticker := time.NewTicker(m.config.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.log.Info("schedule manager stopping")
			return ctx.Err()
		case <-ticker.C:
			if err := m.Tick(ctx, time.Now().UTC()); err != nil {
				m.log.Error("schedule tick failed", "error", err)
			}
		}
	}
}

// Tick enqueues a job for every due schedule. Capacity deferrals are not
// errors; the schedule is simply retried next tick.
func (m *Manager) Tick(ctx context.Context, now time.Time) error {
	schedules, err := m.stores.ListDueSchedules(ctx, now)
	if err != nil {
		return fmt.Errorf("listing due schedules: %w", err)
	}

	for _, s := range schedules {
		result, err := m.Enqueue(ctx, s, now)
		if err != nil {
			m.log.Error("enqueue failed", "schedule_id", s.ID, "error", err)
			continue
		}
		if result.Deferred {
			m.log.Info("schedule deferred at capacity", "schedule_id", s.ID, "org_id", s.OrgID)
		} else if result.Created {
			m.log.Info("scan job enqueued", "schedule_id", s.ID, "job_id", result.Job.ID)
		}
	}
	return nil
}

// Enqueue creates at most one pending job for the schedule's current due
// window. Calling it twice within the same window returns the existing
// job. A tenant at its job cap is deferred with an audit note.
func (m *Manager) Enqueue(ctx context.Context, s store.Schedule, now time.Time) (EnqueueResult, error) {
	tc := store.TenantContext{OrgID: s.OrgID}

	active, err := m.queue.CountActiveJobs(ctx, tc)
	if err != nil {
		return EnqueueResult{}, fmt.Errorf("counting active jobs: %w", err)
	}
	if active >= int64(m.config.MaxJobsPerOrg) {
		m.appendAudit(ctx, s.OrgID, store.AuditScheduleDeferred, s.ID.String(),
			fmt.Sprintf("organization at capacity (%d active jobs)", active))
		return EnqueueResult{Deferred: true}, nil
	}

	job := &store.ScanJob{
		ID:          uuid.New(),
		OrgID:       s.OrgID,
		ScheduleID:  &s.ID,
		RuleGroupID: s.RuleGroupID,
		Status:      store.JobStatusPending,
		CreatedAt:   now,
	}

	created, existing, err := m.queue.EnqueueJob(ctx, job, windowStart(s, now))
	if err != nil {
		return EnqueueResult{}, fmt.Errorf("enqueueing job: %w", err)
	}
	if !created {
		return EnqueueResult{Job: existing}, nil
	}

	if err := m.stores.MarkScheduleRun(ctx, s.ID, now); err != nil {
		return EnqueueResult{}, fmt.Errorf("marking schedule run: %w", err)
	}

	m.appendAudit(ctx, s.OrgID, store.AuditJobEnqueued, job.ID.String(),
		fmt.Sprintf("schedule %s (%s)", s.Name, s.ID))

	return EnqueueResult{Job: job, Created: true}, nil
}

// windowStart is the idempotency key for a schedule's due window: the
// current interval boundary, so every enqueue within one window agrees.
func windowStart(s store.Schedule, now time.Time) time.Time {
	return now.UTC().Truncate(s.Interval())
}

func (m *Manager) appendAudit(ctx context.Context, orgID uuid.UUID, kind, subjectID, detail string) {
	event := &store.AuditEvent{
		OrgID:     orgID,
		Kind:      kind,
		SubjectID: subjectID,
		Detail:    detail,
		CreatedAt: time.Now().UTC(),
	}
	if err := m.audit.AppendAudit(ctx, event); err != nil {
		m.log.Error("audit append failed", "kind", kind, "error", err)
	}
}
