package service

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"

	"compliancepulse/internal/engine"
	"compliancepulse/internal/scan"
	"compliancepulse/internal/store"
)

// serviceStores is an in-memory Stores double shared by the service and
// the executor it wraps.
type serviceStores struct {
	rules  []store.Rule
	groups map[uuid.UUID]*store.RuleGroup

	active    int64
	schedules []*store.Schedule
	enqueued  []*store.ScanJob
	audits    []store.AuditEvent
}

func newServiceStores() *serviceStores {
	return &serviceStores{groups: make(map[uuid.UUID]*store.RuleGroup)}
}

func (m *serviceStores) ReplaceBenchmark(ctx context.Context, tc store.TenantContext, b *store.Benchmark, rules []store.Rule) error {
	return nil
}

func (m *serviceStores) GetBenchmarkRules(ctx context.Context, tc store.TenantContext, benchmarkID string) ([]store.Rule, error) {
	if len(m.rules) == 0 {
		return nil, store.ErrNotFound
	}
	return m.rules, nil
}

func (m *serviceStores) GetRuleGroup(ctx context.Context, tc store.TenantContext, id uuid.UUID) (*store.RuleGroup, error) {
	g, ok := m.groups[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return g, nil
}

func (m *serviceStores) GetRulesByIDs(ctx context.Context, tc store.TenantContext, benchmarkID string, ruleIDs []string) ([]store.Rule, error) {
	return m.rules, nil
}

func (m *serviceStores) BeginTx(ctx context.Context) (store.Tx, error) { return &fakeTx{}, nil }

type fakeTx struct{}

func (t *fakeTx) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return nil, nil
}
func (t *fakeTx) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return nil, nil
}
func (t *fakeTx) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return nil
}
func (t *fakeTx) Commit() error   { return nil }
func (t *fakeTx) Rollback() error { return nil }

func (m *serviceStores) CreateScan(ctx context.Context, tx store.DBTransaction, scan *store.Scan) error {
	return nil
}
func (m *serviceStores) InsertResults(ctx context.Context, tx store.DBTransaction, results []store.ScanResult) error {
	return nil
}
func (m *serviceStores) CreateReport(ctx context.Context, tx store.DBTransaction, report *store.Report) error {
	return nil
}
func (m *serviceStores) FinishScan(ctx context.Context, tx store.DBTransaction, scanID uuid.UUID, status store.ScanStatus, completedAt time.Time) error {
	return nil
}
func (m *serviceStores) GetScan(ctx context.Context, tc store.TenantContext, id uuid.UUID) (*store.Scan, error) {
	return nil, store.ErrNotFound
}
func (m *serviceStores) GetReportByScanID(ctx context.Context, tc store.TenantContext, scanID uuid.UUID) (*store.Report, error) {
	return nil, store.ErrNotFound
}

func (m *serviceStores) CreateSchedule(ctx context.Context, tc store.TenantContext, s *store.Schedule) error {
	m.schedules = append(m.schedules, s)
	return nil
}
func (m *serviceStores) DeleteSchedule(ctx context.Context, tc store.TenantContext, id uuid.UUID) error {
	return nil
}
func (m *serviceStores) ListSchedules(ctx context.Context, tc store.TenantContext) ([]store.Schedule, error) {
	return nil, nil
}
func (m *serviceStores) ListDueSchedules(ctx context.Context, now time.Time) ([]store.Schedule, error) {
	return nil, nil
}
func (m *serviceStores) MarkScheduleRun(ctx context.Context, scheduleID uuid.UUID, runAt time.Time) error {
	return nil
}

func (m *serviceStores) EnqueueJob(ctx context.Context, job *store.ScanJob, windowStart time.Time) (bool, *store.ScanJob, error) {
	m.enqueued = append(m.enqueued, job)
	return true, nil, nil
}
func (m *serviceStores) ClaimNextJob(ctx context.Context, workerID string, deadline time.Time, maxPerOrg int) (*store.ScanJob, error) {
	return nil, store.ErrNotFound
}
func (m *serviceStores) MarkJobRunning(ctx context.Context, jobID uuid.UUID, workerID string) error {
	return nil
}
func (m *serviceStores) CompleteJob(ctx context.Context, jobID, scanID uuid.UUID) error { return nil }
func (m *serviceStores) FailJob(ctx context.Context, jobID uuid.UUID, errMsg string) error {
	return nil
}
func (m *serviceStores) TimeOutJob(ctx context.Context, jobID uuid.UUID, errMsg string) error {
	return nil
}
func (m *serviceStores) ReclaimExpiredJobs(ctx context.Context, now time.Time) ([]store.ScanJob, error) {
	return nil, nil
}
func (m *serviceStores) CountActiveJobs(ctx context.Context, tc store.TenantContext) (int64, error) {
	return m.active, nil
}
func (m *serviceStores) GetJob(ctx context.Context, tc store.TenantContext, id uuid.UUID) (*store.ScanJob, error) {
	return nil, store.ErrNotFound
}

func (m *serviceStores) AppendAudit(ctx context.Context, event *store.AuditEvent) error {
	m.audits = append(m.audits, *event)
	return nil
}

// passEvaluator passes every rule without spawning anything.
type passEvaluator struct{}

func (passEvaluator) Evaluate(ctx context.Context, rule store.Rule) engine.Outcome {
	return engine.Outcome{RuleID: rule.ID, Passed: true}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestService(t *testing.T, stores *serviceStores, config Config) *Service {
	t.Helper()
	artifacts, err := scan.NewArtifactWriter(t.TempDir())
	if err != nil {
		t.Fatalf("NewArtifactWriter: %v", err)
	}
	executor := scan.NewExecutor(stores, passEvaluator{}, artifacts, testLogger())
	return New(stores, executor, config, testLogger())
}

func TestStartScan(t *testing.T) {
	stores := newServiceStores()
	stores.rules = []store.Rule{{ID: "ssh-root", Severity: store.SeverityHigh}}
	svc := newTestService(t, stores, Config{})

	result, err := svc.StartScan(context.Background(), StartScanRequest{
		OrgID:       uuid.New(),
		Hostname:    "web-1",
		BenchmarkID: "cis-linux",
	})
	if err != nil {
		t.Fatalf("StartScan: %v", err)
	}
	if result.Report.Score != 100 {
		t.Errorf("got score %d, want 100", result.Report.Score)
	}
	if result.Scan.TriggeredBy != "manual" {
		t.Errorf("got triggered_by %q, want manual", result.Scan.TriggeredBy)
	}
	if len(stores.audits) == 0 || stores.audits[0].Kind != store.AuditScanTriggered {
		t.Error("manual scan must be audited")
	}
}

func TestStartScan_RateLimited(t *testing.T) {
	stores := newServiceStores()
	stores.rules = []store.Rule{{ID: "ssh-root"}}
	svc := newTestService(t, stores, Config{ScanRatePerMinute: 1})

	orgID := uuid.New()
	req := StartScanRequest{OrgID: orgID, Hostname: "web-1", BenchmarkID: "cis-linux"}

	if _, err := svc.StartScan(context.Background(), req); err != nil {
		t.Fatalf("first scan should pass: %v", err)
	}
	if _, err := svc.StartScan(context.Background(), req); !errors.Is(err, ErrRateLimited) {
		t.Errorf("expected ErrRateLimited, got %v", err)
	}

	// Another tenant has its own budget.
	req.OrgID = uuid.New()
	if _, err := svc.StartScan(context.Background(), req); err != nil {
		t.Errorf("other tenant should not share the limiter: %v", err)
	}
}

func TestEnqueueGroupScan(t *testing.T) {
	stores := newServiceStores()
	groupID := uuid.New()
	stores.groups[groupID] = &store.RuleGroup{ID: groupID, BenchmarkID: "cis-linux"}
	svc := newTestService(t, stores, Config{MaxJobsPerOrg: 3})

	tc := store.TenantContext{OrgID: uuid.New()}
	job, err := svc.EnqueueGroupScan(context.Background(), tc, groupID)
	if err != nil {
		t.Fatalf("EnqueueGroupScan: %v", err)
	}

	if job.Status != store.JobStatusPending {
		t.Errorf("got status %s, want pending", job.Status)
	}
	if job.ScheduleID != nil {
		t.Error("ad-hoc job must not carry a schedule id")
	}
	if len(stores.enqueued) != 1 {
		t.Errorf("got %d enqueued jobs, want 1", len(stores.enqueued))
	}
}

func TestEnqueueGroupScan_UnknownGroup(t *testing.T) {
	svc := newTestService(t, newServiceStores(), Config{})

	_, err := svc.EnqueueGroupScan(context.Background(), store.TenantContext{OrgID: uuid.New()}, uuid.New())
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestEnqueueGroupScan_AtCapacity(t *testing.T) {
	stores := newServiceStores()
	groupID := uuid.New()
	stores.groups[groupID] = &store.RuleGroup{ID: groupID}
	stores.active = 3
	svc := newTestService(t, stores, Config{MaxJobsPerOrg: 3})

	_, err := svc.EnqueueGroupScan(context.Background(), store.TenantContext{OrgID: uuid.New()}, groupID)
	if !errors.Is(err, ErrTooManyJobs) {
		t.Errorf("expected ErrTooManyJobs, got %v", err)
	}
	if len(stores.enqueued) != 0 {
		t.Error("capacity rejection must not enqueue")
	}
}

func TestCreateSchedule(t *testing.T) {
	stores := newServiceStores()
	groupID := uuid.New()
	stores.groups[groupID] = &store.RuleGroup{ID: groupID}
	svc := newTestService(t, stores, Config{})

	tc := store.TenantContext{OrgID: uuid.New()}
	schedule := &store.Schedule{
		Name:            "fast",
		RuleGroupID:     groupID,
		Frequency:       store.FrequencyCustom,
		IntervalMinutes: 1,
		Enabled:         true,
	}

	if err := svc.CreateSchedule(context.Background(), tc, schedule); err != nil {
		t.Fatalf("CreateSchedule: %v", err)
	}

	if schedule.ID == uuid.Nil {
		t.Error("schedule id must be assigned")
	}
	if schedule.OrgID != tc.OrgID {
		t.Error("schedule must be stamped with the tenant")
	}
	if schedule.IntervalMinutes != store.MinIntervalMinutes {
		t.Errorf("got interval %d, want the %d minute floor", schedule.IntervalMinutes, store.MinIntervalMinutes)
	}
	if len(stores.schedules) != 1 {
		t.Errorf("got %d persisted schedules, want 1", len(stores.schedules))
	}
}

func TestCreateSchedule_InvalidFrequency(t *testing.T) {
	svc := newTestService(t, newServiceStores(), Config{})

	err := svc.CreateSchedule(context.Background(), store.TenantContext{OrgID: uuid.New()}, &store.Schedule{
		Frequency: "weekly",
	})
	if err == nil {
		t.Fatal("expected error for unsupported frequency")
	}
}

func TestCreateSchedule_UnknownGroup(t *testing.T) {
	svc := newTestService(t, newServiceStores(), Config{})

	err := svc.CreateSchedule(context.Background(), store.TenantContext{OrgID: uuid.New()}, &store.Schedule{
		Frequency:   store.FrequencyHourly,
		RuleGroupID: uuid.New(),
	})
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
