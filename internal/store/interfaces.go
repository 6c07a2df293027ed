package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a tenant-scoped lookup matches no rows.
var ErrNotFound = errors.New("not found")

// ErrAlreadyClaimed is returned when a conditional claim loses the race:
// the job was no longer pending when the update ran.
var ErrAlreadyClaimed = errors.New("job already claimed")

// DBTransaction defines the methods shared by *sql.DB and *sql.Tx.
// This allows us to pass either a connection pool or an active transaction to the repository methods.
type DBTransaction interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Tx is a transaction handle usable as a DBTransaction.
type Tx interface {
	DBTransaction
	Commit() error
	Rollback() error
}

// BenchmarkStore handles benchmark and rule persistence. Benchmarks are
// written only by the loader; a reload replaces a benchmark and all of
// its rules in one transaction.
type BenchmarkStore interface {
	// ReplaceBenchmark upserts the benchmark by id and swaps its rule set
	// wholesale. Rule order is preserved via Position.
	ReplaceBenchmark(ctx context.Context, tc TenantContext, b *Benchmark, rules []Rule) error

	// GetBenchmarkRules returns the rules of a benchmark in declaration
	// order. Returns ErrNotFound when the benchmark has no rules for the
	// tenant.
	GetBenchmarkRules(ctx context.Context, tc TenantContext, benchmarkID string) ([]Rule, error)

	// GetRuleGroup returns a rule group by id.
	GetRuleGroup(ctx context.Context, tc TenantContext, id uuid.UUID) (*RuleGroup, error)

	// GetRulesByIDs returns the named rules of a benchmark in declaration
	// order.
	GetRulesByIDs(ctx context.Context, tc TenantContext, benchmarkID string, ruleIDs []string) ([]Rule, error)
}

// ScanStore persists scans, per-rule results, and reports.
type ScanStore interface {
	// BeginTx opens a transaction for the scan persistence unit.
	BeginTx(ctx context.Context) (Tx, error)

	// CreateScan inserts the initial running scan row.
	CreateScan(ctx context.Context, tx DBTransaction, scan *Scan) error

	// InsertResults inserts all per-rule results for a scan.
	InsertResults(ctx context.Context, tx DBTransaction, results []ScanResult) error

	// CreateReport inserts the report for a completed scan.
	CreateReport(ctx context.Context, tx DBTransaction, report *Report) error

	// FinishScan sets the terminal status and completion time of a scan.
	FinishScan(ctx context.Context, tx DBTransaction, scanID uuid.UUID, status ScanStatus, completedAt time.Time) error

	// GetScan returns a scan by id.
	GetScan(ctx context.Context, tc TenantContext, id uuid.UUID) (*Scan, error)

	// GetReportByScanID returns the report of a completed scan.
	GetReportByScanID(ctx context.Context, tc TenantContext, scanID uuid.UUID) (*Report, error)
}

// ScheduleStore persists recurring scan schedules.
type ScheduleStore interface {
	CreateSchedule(ctx context.Context, tc TenantContext, s *Schedule) error
	DeleteSchedule(ctx context.Context, tc TenantContext, id uuid.UUID) error
	ListSchedules(ctx context.Context, tc TenantContext) ([]Schedule, error)

	// ListDueSchedules returns enabled schedules, across all tenants,
	// whose interval has elapsed since last_run_at, ordered by creation
	// time then id for a deterministic tick.
	ListDueSchedules(ctx context.Context, now time.Time) ([]Schedule, error)

	// MarkScheduleRun records the start of the schedule's current window.
	MarkScheduleRun(ctx context.Context, scheduleID uuid.UUID, runAt time.Time) error
}

// JobQueue is the scan job table. It is the single coordination point
// between workers: all cross-worker mutual exclusion is expressed as
// conditional updates against it.
type JobQueue interface {
	// EnqueueJob inserts a pending job. For scheduled jobs the insert is
	// keyed by (schedule_id, window_start); a second call within the same
	// due window returns the existing job with created=false.
	EnqueueJob(ctx context.Context, job *ScanJob, windowStart time.Time) (created bool, existing *ScanJob, err error)

	// ClaimNextJob atomically claims the oldest pending job, skipping
	// tenants at their running-job cap, and stamps claimed_by and
	// deadline_at. Returns ErrNotFound when nothing is claimable.
	ClaimNextJob(ctx context.Context, workerID string, deadline time.Time, maxPerOrg int) (*ScanJob, error)

	// MarkJobRunning transitions claimed -> running for the named worker.
	MarkJobRunning(ctx context.Context, jobID uuid.UUID, workerID string) error

	// CompleteJob transitions running -> completed and records the scan.
	CompleteJob(ctx context.Context, jobID uuid.UUID, scanID uuid.UUID) error

	// FailJob transitions the job to failed with the error recorded.
	FailJob(ctx context.Context, jobID uuid.UUID, errMsg string) error

	// TimeOutJob transitions the job to timed_out.
	TimeOutJob(ctx context.Context, jobID uuid.UUID, errMsg string) error

	// ReclaimExpiredJobs returns claimed/running jobs past their deadline
	// to pending so another worker can pick them up. Returns the
	// reclaimed jobs.
	ReclaimExpiredJobs(ctx context.Context, now time.Time) ([]ScanJob, error)

	// CountActiveJobs returns pending+claimed+running jobs for a tenant.
	CountActiveJobs(ctx context.Context, tc TenantContext) (int64, error)

	// GetJob returns a job by id.
	GetJob(ctx context.Context, tc TenantContext, id uuid.UUID) (*ScanJob, error)
}

// AuditStore is the append-only audit sink.
type AuditStore interface {
	AppendAudit(ctx context.Context, event *AuditEvent) error
}
