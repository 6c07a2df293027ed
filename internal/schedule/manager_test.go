package schedule

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"compliancepulse/internal/store"
)

// mockStores is an in-memory schedule/job/audit store. Jobs are keyed by
// (schedule_id, window_start) the way the unique index keys them.
type mockStores struct {
	mu sync.Mutex

	due       []store.Schedule
	dueErr    error
	active    map[uuid.UUID]int64
	countErr  error
	jobs      map[string]*store.ScanJob
	runsAt    map[uuid.UUID]time.Time
	audits    []store.AuditEvent
	enqueries int
}

func newMockStores() *mockStores {
	return &mockStores{
		active: make(map[uuid.UUID]int64),
		jobs:   make(map[string]*store.ScanJob),
		runsAt: make(map[uuid.UUID]time.Time),
	}
}

func windowKey(scheduleID *uuid.UUID, windowStart time.Time) string {
	return scheduleID.String() + "/" + windowStart.UTC().Format(time.RFC3339)
}

func (m *mockStores) CreateSchedule(ctx context.Context, tc store.TenantContext, s *store.Schedule) error {
	return nil
}
func (m *mockStores) DeleteSchedule(ctx context.Context, tc store.TenantContext, id uuid.UUID) error {
	return nil
}
func (m *mockStores) ListSchedules(ctx context.Context, tc store.TenantContext) ([]store.Schedule, error) {
	return nil, nil
}

func (m *mockStores) ListDueSchedules(ctx context.Context, now time.Time) ([]store.Schedule, error) {
	if m.dueErr != nil {
		return nil, m.dueErr
	}
	return m.due, nil
}

func (m *mockStores) MarkScheduleRun(ctx context.Context, scheduleID uuid.UUID, runAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runsAt[scheduleID] = runAt
	return nil
}

func (m *mockStores) EnqueueJob(ctx context.Context, job *store.ScanJob, windowStart time.Time) (bool, *store.ScanJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enqueries++
	key := windowKey(job.ScheduleID, windowStart)
	if existing, ok := m.jobs[key]; ok {
		return false, existing, nil
	}
	m.jobs[key] = job
	return true, nil, nil
}

func (m *mockStores) ClaimNextJob(ctx context.Context, workerID string, deadline time.Time, maxPerOrg int) (*store.ScanJob, error) {
	return nil, store.ErrNotFound
}
func (m *mockStores) MarkJobRunning(ctx context.Context, jobID uuid.UUID, workerID string) error {
	return nil
}
func (m *mockStores) CompleteJob(ctx context.Context, jobID, scanID uuid.UUID) error { return nil }
func (m *mockStores) FailJob(ctx context.Context, jobID uuid.UUID, errMsg string) error {
	return nil
}
func (m *mockStores) TimeOutJob(ctx context.Context, jobID uuid.UUID, errMsg string) error {
	return nil
}
func (m *mockStores) ReclaimExpiredJobs(ctx context.Context, now time.Time) ([]store.ScanJob, error) {
	return nil, nil
}

func (m *mockStores) CountActiveJobs(ctx context.Context, tc store.TenantContext) (int64, error) {
	if m.countErr != nil {
		return 0, m.countErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active[tc.OrgID], nil
}

func (m *mockStores) GetJob(ctx context.Context, tc store.TenantContext, id uuid.UUID) (*store.ScanJob, error) {
	return nil, store.ErrNotFound
}

func (m *mockStores) AppendAudit(ctx context.Context, event *store.AuditEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audits = append(m.audits, *event)
	return nil
}

func (m *mockStores) auditKinds() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	kinds := make([]string, 0, len(m.audits))
	for _, e := range m.audits {
		kinds = append(kinds, e.Kind)
	}
	return kinds
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testSchedule(orgID uuid.UUID) store.Schedule {
	return store.Schedule{
		ID:          uuid.New(),
		OrgID:       orgID,
		Name:        "nightly",
		RuleGroupID: uuid.New(),
		Frequency:   store.FrequencyHourly,
		Enabled:     true,
	}
}

func TestEnqueue_CreatesPendingJob(t *testing.T) {
	stores := newMockStores()
	m := New(stores, Config{}, testLogger())

	orgID := uuid.New()
	s := testSchedule(orgID)
	now := time.Date(2026, 8, 28, 10, 17, 0, 0, time.UTC)

	result, err := m.Enqueue(context.Background(), s, now)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	if !result.Created || result.Deferred {
		t.Fatalf("got created=%v deferred=%v, want created", result.Created, result.Deferred)
	}
	if result.Job.Status != store.JobStatusPending {
		t.Errorf("got status %s, want pending", result.Job.Status)
	}
	if result.Job.ScheduleID == nil || *result.Job.ScheduleID != s.ID {
		t.Error("job must carry its schedule id")
	}
	if result.Job.RuleGroupID != s.RuleGroupID {
		t.Error("job must carry the schedule's rule group")
	}
	if got := stores.runsAt[s.ID]; !got.Equal(now) {
		t.Errorf("schedule run marked at %v, want %v", got, now)
	}
	if kinds := stores.auditKinds(); len(kinds) != 1 || kinds[0] != store.AuditJobEnqueued {
		t.Errorf("got audit kinds %v, want [%s]", kinds, store.AuditJobEnqueued)
	}
}

func TestEnqueue_IdempotentWithinWindow(t *testing.T) {
	stores := newMockStores()
	m := New(stores, Config{}, testLogger())

	s := testSchedule(uuid.New())
	base := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)

	first, err := m.Enqueue(context.Background(), s, base.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("first enqueue: %v", err)
	}

	// A second enqueue later in the same hourly window is a no-op that
	// returns the first job.
	second, err := m.Enqueue(context.Background(), s, base.Add(40*time.Minute))
	if err != nil {
		t.Fatalf("second enqueue: %v", err)
	}

	if second.Created {
		t.Error("second enqueue in the same window must not create a job")
	}
	if second.Job == nil || second.Job.ID != first.Job.ID {
		t.Error("second enqueue must return the existing job")
	}

	// The next window gets its own job.
	third, err := m.Enqueue(context.Background(), s, base.Add(65*time.Minute))
	if err != nil {
		t.Fatalf("third enqueue: %v", err)
	}
	if !third.Created {
		t.Error("a new due window must create a new job")
	}
}

func TestEnqueue_DeferredAtCapacity(t *testing.T) {
	stores := newMockStores()
	m := New(stores, Config{MaxJobsPerOrg: 3}, testLogger())

	orgID := uuid.New()
	stores.active[orgID] = 3

	result, err := m.Enqueue(context.Background(), testSchedule(orgID), time.Now().UTC())
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	if !result.Deferred {
		t.Error("expected deferral at capacity")
	}
	if result.Job != nil || result.Created {
		t.Error("deferred enqueue must not produce a job")
	}
	if stores.enqueries != 0 {
		t.Error("deferred enqueue must not touch the queue")
	}
	if kinds := stores.auditKinds(); len(kinds) != 1 || kinds[0] != store.AuditScheduleDeferred {
		t.Errorf("got audit kinds %v, want [%s]", kinds, store.AuditScheduleDeferred)
	}
}

func TestEnqueue_CountError(t *testing.T) {
	stores := newMockStores()
	stores.countErr = errors.New("db down")
	m := New(stores, Config{}, testLogger())

	_, err := m.Enqueue(context.Background(), testSchedule(uuid.New()), time.Now().UTC())
	if err == nil {
		t.Fatal("expected error when the active count fails")
	}
}

func TestTick_EnqueuesEveryDueSchedule(t *testing.T) {
	stores := newMockStores()
	orgA, orgB := uuid.New(), uuid.New()
	stores.due = []store.Schedule{testSchedule(orgA), testSchedule(orgB)}

	m := New(stores, Config{}, testLogger())
	if err := m.Tick(context.Background(), time.Now().UTC()); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	if len(stores.jobs) != 2 {
		t.Errorf("got %d jobs, want 2", len(stores.jobs))
	}
}

func TestTick_ListError(t *testing.T) {
	stores := newMockStores()
	stores.dueErr = errors.New("db down")

	m := New(stores, Config{}, testLogger())
	if err := m.Tick(context.Background(), time.Now().UTC()); err == nil {
		t.Fatal("expected error when due listing fails")
	}
}

func TestWindowStart_AlignsToIntervalBoundary(t *testing.T) {
	s := store.Schedule{Frequency: store.FrequencyHourly}
	now := time.Date(2026, 8, 28, 10, 42, 13, 0, time.UTC)

	got := windowStart(s, now)
	want := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("got window start %v, want %v", got, want)
	}
}

func TestScheduleInterval_Floor(t *testing.T) {
	s := store.Schedule{Frequency: store.FrequencyCustom, IntervalMinutes: 1}
	if got := s.Interval(); got != store.MinIntervalMinutes*time.Minute {
		t.Errorf("got interval %v, want the %d minute floor", got, store.MinIntervalMinutes)
	}

	s = store.Schedule{Frequency: store.FrequencyDaily, IntervalMinutes: 1}
	if got := s.Interval(); got != 24*time.Hour {
		t.Errorf("daily schedule interval is %v, want 24h", got)
	}
}
