// Package service is the surface exposed to collaborators such as the
// HTTP layer or admin tooling: synchronous scans, async group scans, and
// schedule passthrough.
package service

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
	"golang.org/x/time/rate"
)

// ErrTooManyJobs is returned when a direct trigger would push a tenant
// past its live-job cap.
var ErrTooManyJobs = errors.New("organization at concurrent job capacity")

// ErrRateLimited is returned when a tenant exceeds its synchronous scan
// trigger rate.
var ErrRateLimited = errors.New("scan trigger rate exceeded")

// Stores groups the persistence dependencies of the service.
type Stores interface {
	store.BenchmarkStore
	store.ScanStore
	store.ScheduleStore
	store.JobQueue
	store.AuditStore
}

// Config holds service-level guardrails.
type Config struct {
	// MaxJobsPerOrg caps a tenant's live jobs on the async path.
	MaxJobsPerOrg int

	// ScanRatePerMinute bounds synchronous scan triggers per tenant.
	// Zero means unlimited.
	ScanRatePerMinute int
}

// Service wires the executor and stores behind a tenant-scoped API.
type Service struct {
	stores   Stores
	executor *scan.Executor
	config   Config
	log      *slog.Logger
	limiters sync.Map // org id -> *rate.Limiter
}

// New creates the service.
func New(stores Stores, executor *scan.Executor, config Config, log *slog.Logger) *Service {
	if config.MaxJobsPerOrg <= 0 {
		config.MaxJobsPerOrg = 3
	}
	return &Service{stores: stores, executor: executor, config: config, log: log}
}

// StartScanRequest describes a synchronous, user-triggered scan.
type StartScanRequest struct {
	OrgID       uuid.UUID
	Hostname    string
	IP          *string
	BenchmarkID string
	Tags        []string
}

// StartScan runs a benchmark scan synchronously and returns the full
// execution result.
func (s *Service) StartScan(ctx context.Context, req StartScanRequest) (*scan.Result, error) {
	if !s.allow(req.OrgID) {
		return nil, ErrRateLimited
	}

	s.appendAudit(ctx, req.OrgID, store.AuditScanTriggered, req.BenchmarkID,
		fmt.Sprintf("manual scan of %s", req.Hostname))

	return s.executor.Run(ctx, scan.Request{
		OrgID:       req.OrgID,
		Hostname:    req.Hostname,
		IP:          req.IP,
		BenchmarkID: req.BenchmarkID,
		Tags:        req.Tags,
		TriggeredBy: "manual",
	})
}

// EnqueueGroupScan queues an ad-hoc scan job for a rule group. The job
// has no schedule and is picked up by the worker pool.
func (s *Service) EnqueueGroupScan(ctx context.Context, tc store.TenantContext, groupID uuid.UUID) (*store.ScanJob, error) {
	if _, err := s.stores.GetRuleGroup(ctx, tc, groupID); err != nil {
		return nil, fmt.Errorf("resolving rule group %s: %w", groupID, err)
	}

	active, err := s.stores.CountActiveJobs(ctx, tc)
	if err != nil {
		return nil, fmt.Errorf("counting active jobs: %w", err)
	}
	if active >= int64(s.config.MaxJobsPerOrg) {
		return nil, ErrTooManyJobs
	}

	job := &store.ScanJob{
		ID:          uuid.New(),
		OrgID:       tc.OrgID,
		RuleGroupID: groupID,
		Status:      store.JobStatusPending,
		CreatedAt:   time.Now().UTC(),
	}

	if _, _, err := s.stores.EnqueueJob(ctx, job, time.Time{}); err != nil {
		return nil, fmt.Errorf("enqueueing job: %w", err)
	}

	s.appendAudit(ctx, tc.OrgID, store.AuditJobEnqueued, job.ID.String(),
		fmt.Sprintf("ad-hoc scan of rule group %s", groupID))

	return job, nil
}

// CreateSchedule validates and persists a recurring schedule. The
// interval floor is applied before the row is written.
func (s *Service) CreateSchedule(ctx context.Context, tc store.TenantContext, schedule *store.Schedule) error {
	switch schedule.Frequency {
	case store.FrequencyHourly, store.FrequencyDaily, store.FrequencyCustom:
	default:
		return fmt.Errorf("unsupported frequency %q", schedule.Frequency)
	}

	if schedule.Frequency == store.FrequencyCustom && schedule.IntervalMinutes < store.MinIntervalMinutes {
		schedule.IntervalMinutes = store.MinIntervalMinutes
	}

	if _, err := s.stores.GetRuleGroup(ctx, tc, schedule.RuleGroupID); err != nil {
		return fmt.Errorf("resolving rule group %s: %w", schedule.RuleGroupID, err)
	}

	if schedule.ID == uuid.Nil {
		schedule.ID = uuid.New()
	}
	schedule.OrgID = tc.OrgID
	schedule.CreatedAt = time.Now().UTC()

	return s.stores.CreateSchedule(ctx, tc, schedule)
}

// DeleteSchedule removes a tenant's schedule.
func (s *Service) DeleteSchedule(ctx context.Context, tc store.TenantContext, id uuid.UUID) error {
	return s.stores.DeleteSchedule(ctx, tc, id)
}

// ListSchedules returns the tenant's schedules.
func (s *Service) ListSchedules(ctx context.Context, tc store.TenantContext) ([]store.Schedule, error) {
	return s.stores.ListSchedules(ctx, tc)
}

// GetJob returns a tenant's scan job.
func (s *Service) GetJob(ctx context.Context, tc store.TenantContext, id uuid.UUID) (*store.ScanJob, error) {
	return s.stores.GetJob(ctx, tc, id)
}

// GetScan returns a tenant's scan.
func (s *Service) GetScan(ctx context.Context, tc store.TenantContext, id uuid.UUID) (*store.Scan, error) {
	return s.stores.GetScan(ctx, tc, id)
}

// GetReport returns the report of a tenant's completed scan.
func (s *Service) GetReport(ctx context.Context, tc store.TenantContext, scanID uuid.UUID) (*store.Report, error) {
	return s.stores.GetReportByScanID(ctx, tc, scanID)
}

// allow checks the tenant's synchronous trigger rate.
func (s *Service) allow(orgID uuid.UUID) bool {
	if s.config.ScanRatePerMinute <= 0 {
		return true
	}

	limiter, ok := s.limiters.Load(orgID)
	if !ok {
		perMinute := rate.Limit(float64(s.config.ScanRatePerMinute) / 60)
		limiter, _ = s.limiters.LoadOrStore(orgID, rate.NewLimiter(perMinute, s.config.ScanRatePerMinute))
	}
	return limiter.(*rate.Limiter).Allow()
}

func (s *Service) appendAudit(ctx context.Context, orgID uuid.UUID, kind, subjectID, detail string) {
	event := &store.AuditEvent{
		OrgID:     orgID,
		Kind:      kind,
		SubjectID: subjectID,
		Detail:    detail,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.stores.AppendAudit(ctx, event); err != nil {
		s.log.Error("audit append failed", "kind", kind, "error", err)
	}
}
