// Package store contains the database layer for compliancepulse.
package store

import (
	"time"

	"github.com/google/uuid"
)

// TenantContext scopes every repository call to one organization.
// There is no implicit filtering; callers must pass it explicitly.
type TenantContext struct {
	OrgID uuid.UUID
}

// Severity is the ordinal importance of a rule. It drives the scoring
// weight; the weight is always derived, never stored.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Weight returns the scoring contribution for the severity.
// Unknown severities weigh like low so a bad row never zeroes a scan.
func (s Severity) Weight() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	default:
		return 1
	}
}

// Valid reports whether s is one of the closed severity values.
func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// ExpectationKind selects how a rule's captured output is judged.
type ExpectationKind string

const (
	ExpectExitCode    ExpectationKind = "exit_code"
	ExpectContains    ExpectationKind = "contains"
	ExpectNotContains ExpectationKind = "not_contains"
	ExpectEquals      ExpectationKind = "equals"
)

// Valid reports whether k is a supported expectation kind.
func (k ExpectationKind) Valid() bool {
	switch k {
	case ExpectExitCode, ExpectContains, ExpectNotContains, ExpectEquals:
		return true
	}
	return false
}

// Benchmark is a named, versioned collection of rules. It is immutable
// once loaded; a reload replaces it and its rules wholesale.
type Benchmark struct {
	ID        string
	OrgID     uuid.UUID
	Name      string
	Version   string
	UpdatedAt time.Time
}

// Rule is a single compliance check: a command plus an expectation.
type Rule struct {
	ID          string
	BenchmarkID string
	OrgID       uuid.UUID
	Title       string
	Severity    Severity
	Command     string
	Expect      ExpectationKind
	ExpectValue string
	Tags        []string
	Position    int // declaration order within the benchmark
}

// RuleGroup selects a subset of a benchmark's rules for scheduled or
// ad-hoc group scans. An empty RuleIDs list means the whole benchmark.
type RuleGroup struct {
	ID              uuid.UUID
	OrgID           uuid.UUID
	Name            string
	BenchmarkID     string
	RuleIDs         []string
	DefaultHostname string
	Tags            []string
	CreatedAt       time.Time
}

// ScanStatus is the lifecycle state of a scan.
type ScanStatus string

const (
	ScanStatusPending   ScanStatus = "pending"
	ScanStatusRunning   ScanStatus = "running"
	ScanStatusCompleted ScanStatus = "completed"
	ScanStatusFailed    ScanStatus = "failed"
)

// Scan is one execution of a benchmark against a target host.
type Scan struct {
	ID          uuid.UUID
	OrgID       uuid.UUID
	Hostname    string
	IP          *string
	BenchmarkID string
	Tags        []string
	Status      ScanStatus
	TriggeredBy string
	StartedAt   time.Time
	CompletedAt *time.Time
}

// ScanResult is the per-rule outcome within a scan. Output is truncated
// before persistence.
type ScanResult struct {
	ID       uuid.UUID
	ScanID   uuid.UUID
	RuleID   string
	Severity Severity
	Passed   bool
	Output   string
	Error    *string
	Duration time.Duration
}

// Report is the scored, immutable summary of a completed scan.
// A completed scan has exactly one report.
type Report struct {
	ID           uuid.UUID
	ScanID       uuid.UUID
	OrgID        uuid.UUID
	Score        int // 0-100
	ArtifactPath string
	CreatedAt    time.Time
}

// ScheduleFrequency is how a schedule's interval is derived.
type ScheduleFrequency string

const (
	FrequencyHourly ScheduleFrequency = "hourly"
	FrequencyDaily  ScheduleFrequency = "daily"
	FrequencyCustom ScheduleFrequency = "custom"
)

// MinIntervalMinutes is the floor for any schedule interval.
// It prevents a misconfigured custom schedule from flooding the queue.
const MinIntervalMinutes = 5

// Schedule is a recurring trigger for a rule group.
type Schedule struct {
	ID              uuid.UUID
	OrgID           uuid.UUID
	Name            string
	RuleGroupID     uuid.UUID
	Frequency       ScheduleFrequency
	IntervalMinutes int
	Enabled         bool
	LastRunAt       *time.Time
	CreatedAt       time.Time
}

// Interval returns the effective run interval with the floor applied.
func (s Schedule) Interval() time.Duration {
	minutes := s.IntervalMinutes
	switch s.Frequency {
	case FrequencyHourly:
		minutes = 60
	case FrequencyDaily:
		minutes = 1440
	}
	if minutes < MinIntervalMinutes {
		minutes = MinIntervalMinutes
	}
	return time.Duration(minutes) * time.Minute
}

// JobStatus is the state machine position of a scan job. Transitions are
// monotonic: pending -> claimed -> running -> completed|failed|timed_out.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusClaimed   JobStatus = "claimed"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusTimedOut  JobStatus = "timed_out"
)

// Terminal reports whether the status admits no further transitions.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusTimedOut:
		return true
	}
	return false
}

// ScanJob is a queued unit of work: one pending/claimed/running scan.
// ScheduleID is nil for ad-hoc triggers. Rows are terminal once
// completed/failed/timed_out and are retained for audit.
type ScanJob struct {
	ID          uuid.UUID
	OrgID       uuid.UUID
	ScheduleID  *uuid.UUID
	RuleGroupID uuid.UUID
	Status      JobStatus
	ClaimedBy   *string
	ClaimedAt   *time.Time
	DeadlineAt  *time.Time
	ScanID      *uuid.UUID
	Error       *string
	CreatedAt   time.Time
	CompletedAt *time.Time
}

// Audit event kinds emitted by the pipeline.
const (
	AuditJobEnqueued        = "job_enqueued"
	AuditJobClaimed         = "job_claimed"
	AuditJobCompleted       = "job_completed"
	AuditJobFailed          = "job_failed"
	AuditJobTimedOut        = "job_timed_out"
	AuditJobReclaimed       = "job_reclaimed"
	AuditScheduleDeferred   = "schedule_deferred"
	AuditScanTriggered      = "scan_triggered"
	AuditGroupFailureStreak = "group_failure_streak"
)

// AuditEvent is one append-only entry in the tenant's audit trail.
type AuditEvent struct {
	ID        int64
	OrgID     uuid.UUID
	Kind      string
	SubjectID string
	Detail    string
	CreatedAt time.Time
}
