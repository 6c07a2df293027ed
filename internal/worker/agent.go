// Package worker contains the job-claim loops that execute queued scans.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"compliancepulse/internal/scan"
	"compliancepulse/internal/store"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// failureStreakThreshold is how many consecutive failures a rule group
// accumulates before the worker flags it in the audit trail.
const failureStreakThreshold = 3

// GroupRunner is what the agent needs from the scan executor.
type GroupRunner interface {
	RunGroup(ctx context.Context, tc store.TenantContext, groupID uuid.UUID, hostname, triggeredBy string) (*scan.Result, error)
}

// AgentConfig holds configuration for the worker agent.
type AgentConfig struct {
	ID            string
	Concurrency   int
	PollInterval  time.Duration
	MaxBackoff    time.Duration // Maximum backoff when queue is empty (default: 30s)
	JobRuntime    time.Duration // Per-job deadline stamped at claim time
	MaxJobsPerOrg int           // Per-tenant running-job cap checked at claim
}

// Agent is a pool of claim loops pulling scan jobs from the shared job
// table. The table is the only coordination point between workers; all
// mutual exclusion is expressed as conditional updates against it.
type Agent struct {
	queue    store.JobQueue
	audit    store.AuditStore
	executor GroupRunner
	config   AgentConfig
	log      *slog.Logger
	done     chan struct{}

	mu      sync.Mutex
	streaks map[uuid.UUID]int // consecutive failures per rule group

	jobsClaimed   metric.Int64Counter
	jobsCompleted metric.Int64Counter
	jobsFailed    metric.Int64Counter
	jobsTimedOut  metric.Int64Counter
}

// New creates a worker agent.
func New(queue store.JobQueue, audit store.AuditStore, executor GroupRunner, config AgentConfig, log *slog.Logger) *Agent {
	if config.ID == "" {
		config.ID = uuid.New().String()
	}
	if config.Concurrency <= 0 {
		config.Concurrency = 1
	}
	if config.PollInterval <= 0 {
		config.PollInterval = 1 * time.Second
	}
	if config.MaxBackoff <= 0 {
		config.MaxBackoff = 30 * time.Second
	}
	if config.JobRuntime <= 0 {
		config.JobRuntime = 15 * time.Minute
	}
	if config.MaxJobsPerOrg <= 0 {
		config.MaxJobsPerOrg = 3
	}

	meter := otel.Meter("compliancepulse-worker")
	jobsClaimed, _ := meter.Int64Counter("scan_jobs_claimed_total")
	jobsCompleted, _ := meter.Int64Counter("scan_jobs_completed_total")
	jobsFailed, _ := meter.Int64Counter("scan_jobs_failed_total")
	jobsTimedOut, _ := meter.Int64Counter("scan_jobs_timed_out_total")

	return &Agent{
		queue:         queue,
		audit:         audit,
		executor:      executor,
		config:        config,
		log:           log.With("worker_id", config.ID),
		done:          make(chan struct{}),
		streaks:       make(map[uuid.UUID]int),
		jobsClaimed:   jobsClaimed,
		jobsCompleted: jobsCompleted,
		jobsFailed:    jobsFailed,
		jobsTimedOut:  jobsTimedOut,
	}
}

// Run starts the main pull-loop. It blocks until the context is
// cancelled, then drains in-flight scans before returning.
func (a *Agent) Run(ctx context.Context) error {
	a.log.Info("worker starting", "concurrency", a.config.Concurrency)

	sem := make(chan struct{}, a.config.Concurrency)
	var wg sync.WaitGroup

	pollNow := make(chan struct{}, 1)
	currentBackoff := a.config.PollInterval

	triggerPoll := func() {
		select {
		case pollNow <- struct{}{}:
		default:
			// Already a poll pending
		}
	}

	triggerPoll()

	for {
		select {
		case <-ctx.Done():
			a.log.Info("context cancelled, waiting for running scans to finish")
			wg.Wait()
			close(a.done)
			return ctx.Err()

		case <-time.After(currentBackoff):
			triggerPoll()

		case <-pollNow:
			a.reclaimExpired(ctx)

			availableSlots := a.config.Concurrency - len(sem)
			if availableSlots <= 0 {
				continue
			}

			claimed := 0
			for i := 0; i < availableSlots; i++ {
				job, err := a.claim(ctx)
				if errors.Is(err, store.ErrNotFound) {
					break
				}
				if err != nil {
					a.log.Error("claim failed", "error", err)
					break
				}

				claimed++
				sem <- struct{}{}
				wg.Add(1)
				go func(job *store.ScanJob) {
					defer wg.Done()
					defer func() {
						<-sem
						// A slot freed up; poll again immediately.
						triggerPoll()
					}()
					a.processJob(job)
				}(job)
			}

			if claimed == 0 {
				// Empty queue: back off exponentially, capped.
				currentBackoff = currentBackoff * 2
				if currentBackoff > a.config.MaxBackoff {
					currentBackoff = a.config.MaxBackoff
				}
				continue
			}

			currentBackoff = a.config.PollInterval
			a.log.Info("claimed scan jobs", "count", claimed)
		}
	}
}

// Done returns a channel that is closed when the agent has fully stopped.
func (a *Agent) Done() <-chan struct{} {
	return a.done
}

// claim atomically claims the oldest eligible pending job and stamps the
// runtime deadline on it.
func (a *Agent) claim(ctx context.Context) (*store.ScanJob, error) {
	deadline := time.Now().UTC().Add(a.config.JobRuntime)
	job, err := a.queue.ClaimNextJob(ctx, a.config.ID, deadline, a.config.MaxJobsPerOrg)
	if err != nil {
		return nil, err
	}

	a.jobsClaimed.Add(ctx, 1)
	a.appendAudit(job.OrgID, store.AuditJobClaimed, job.ID.String(),
		fmt.Sprintf("claimed by worker %s", a.config.ID))
	return job, nil
}

// processJob runs one claimed job to a terminal state. The execution
// context is detached from the poll loop so an in-flight scan survives a
// graceful shutdown, but it is hard-bounded by the job deadline.
func (a *Agent) processJob(job *store.ScanJob) {
	tracer := otel.Tracer("compliancepulse-worker")
	spanCtx, span := tracer.Start(context.Background(), "process_scan_job",
		trace.WithAttributes(
			attribute.String("job.id", job.ID.String()),
			attribute.String("org.id", job.OrgID.String()),
			attribute.String("rule_group.id", job.RuleGroupID.String()),
		),
		trace.WithSpanKind(trace.SpanKindConsumer),
	)
	defer span.End()

	log := a.log.With("job_id", job.ID, "org_id", job.OrgID)

	if err := a.queue.MarkJobRunning(spanCtx, job.ID, a.config.ID); err != nil {
		// The job was reclaimed from under us; let its new owner run it.
		log.Warn("job no longer ours", "error", err)
		return
	}

	deadline := time.Now().UTC().Add(a.config.JobRuntime)
	if job.DeadlineAt != nil {
		deadline = *job.DeadlineAt
	}
	execCtx, cancel := context.WithDeadline(spanCtx, deadline)
	defer cancel()

	triggeredBy := "manual"
	if job.ScheduleID != nil {
		triggeredBy = "schedule:" + job.ScheduleID.String()
	}

	tc := store.TenantContext{OrgID: job.OrgID}
	result, err := a.executor.RunGroup(execCtx, tc, job.RuleGroupID, "", triggeredBy)

	if err != nil {
		span.RecordError(err)

		if execCtx.Err() == context.DeadlineExceeded {
			msg := fmt.Sprintf("job exceeded deadline %s", deadline.Format(time.RFC3339))
			log.Warn("scan job timed out")
			if err := a.queue.TimeOutJob(context.Background(), job.ID, msg); err != nil {
				log.Error("failed to mark job timed out", "error", err)
			}
			a.jobsTimedOut.Add(context.Background(), 1)
			a.appendAudit(job.OrgID, store.AuditJobTimedOut, job.ID.String(), msg)
			return
		}

		log.Error("scan job failed", "error", err)
		if ferr := a.queue.FailJob(context.Background(), job.ID, err.Error()); ferr != nil {
			log.Error("failed to mark job failed", "error", ferr)
		}
		a.jobsFailed.Add(context.Background(), 1)
		a.appendAudit(job.OrgID, store.AuditJobFailed, job.ID.String(), err.Error())
		a.recordFailure(job)
		return
	}

	if err := a.queue.CompleteJob(context.Background(), job.ID, result.Scan.ID); err != nil {
		log.Error("failed to mark job completed", "error", err)
		return
	}

	span.SetAttributes(attribute.Int("report.score", result.Report.Score))
	log.Info("scan job completed", "scan_id", result.Scan.ID, "score", result.Report.Score)
	a.jobsCompleted.Add(context.Background(), 1)
	a.appendAudit(job.OrgID, store.AuditJobCompleted, job.ID.String(),
		fmt.Sprintf("scan %s score %d", result.Scan.ID, result.Report.Score))
	a.resetFailures(job.RuleGroupID)
}

// reclaimExpired returns claimed-but-stalled jobs past their deadline to
// pending so crashed workers cannot orphan them.
func (a *Agent) reclaimExpired(ctx context.Context) {
	jobs, err := a.queue.ReclaimExpiredJobs(ctx, time.Now().UTC())
	if err != nil {
		a.log.Error("reclaim pass failed", "error", err)
		return
	}
	for _, job := range jobs {
		a.log.Warn("reclaimed expired job", "job_id", job.ID)
		a.appendAudit(job.OrgID, store.AuditJobReclaimed, job.ID.String(),
			"deadline expired with no completion; returned to pending")
	}
}

func (a *Agent) recordFailure(job *store.ScanJob) {
	a.mu.Lock()
	a.streaks[job.RuleGroupID]++
	streak := a.streaks[job.RuleGroupID]
	a.mu.Unlock()

	if streak == failureStreakThreshold {
		a.log.Warn("rule group failure streak", "rule_group_id", job.RuleGroupID, "count", streak)
		a.appendAudit(job.OrgID, store.AuditGroupFailureStreak, job.RuleGroupID.String(),
			fmt.Sprintf("%d consecutive failed jobs", streak))
	}
}

func (a *Agent) resetFailures(groupID uuid.UUID) {
	a.mu.Lock()
	delete(a.streaks, groupID)
	a.mu.Unlock()
}

func (a *Agent) appendAudit(orgID uuid.UUID, kind, subjectID, detail string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	event := &store.AuditEvent{
		OrgID:     orgID,
		Kind:      kind,
		SubjectID: subjectID,
		Detail:    detail,
		CreatedAt: time.Now().UTC(),
	}
	if err := a.audit.AppendAudit(ctx, event); err != nil {
		a.log.Error("audit append failed", "kind", kind, "error", err)
	}
}
