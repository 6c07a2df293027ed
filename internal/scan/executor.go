// Package scan orchestrates benchmark execution and report persistence.
package scan

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"compliancepulse/internal/engine"
	"compliancepulse/internal/store"

	"github.com/google/uuid"
)

// RuleEvaluator is what the executor needs from the rule engine.
type RuleEvaluator interface {
	Evaluate(ctx context.Context, rule store.Rule) engine.Outcome
}

// Stores groups the persistence dependencies of the executor.
type Stores interface {
	store.BenchmarkStore
	store.ScanStore
}

// Request describes one scan to run.
type Request struct {
	OrgID       uuid.UUID
	Hostname    string
	IP          *string
	BenchmarkID string
	Tags        []string
	TriggeredBy string
}

// Result bundles everything a completed scan produced. It is suitable
// for direct return to a synchronous caller or for a worker to relay
// into a job completion.
type Result struct {
	Scan    *store.Scan
	Report  *store.Report
	Results []store.ScanResult
}

// Executor runs one scan at a time: every rule of the resolved benchmark
// through the engine, a weighted score, an atomically written artifact,
// and a single transactional persistence unit.
type Executor struct {
	stores    Stores
	engine    RuleEvaluator
	artifacts *ArtifactWriter
	log       *slog.Logger
}

// NewExecutor creates a scan executor.
func NewExecutor(stores Stores, evaluator RuleEvaluator, artifacts *ArtifactWriter, log *slog.Logger) *Executor {
	return &Executor{stores: stores, engine: evaluator, artifacts: artifacts, log: log}
}

// Run executes the requested benchmark scan. It returns
// store.ErrNotFound (wrapped) when the benchmark has no rules for the
// tenant.
func (x *Executor) Run(ctx context.Context, req Request) (*Result, error) {
	tc := store.TenantContext{OrgID: req.OrgID}

	rules, err := x.stores.GetBenchmarkRules(ctx, tc, req.BenchmarkID)
	if err != nil {
		return nil, fmt.Errorf("resolving benchmark %s: %w", req.BenchmarkID, err)
	}

	return x.runRules(ctx, req, rules)
}

// RunGroup executes a scan for a rule group: its explicit rule list, or
// the whole benchmark when the list is empty.
func (x *Executor) RunGroup(ctx context.Context, tc store.TenantContext, groupID uuid.UUID, hostname, triggeredBy string) (*Result, error) {
	group, err := x.stores.GetRuleGroup(ctx, tc, groupID)
	if err != nil {
		return nil, fmt.Errorf("resolving rule group %s: %w", groupID, err)
	}

	var rules []store.Rule
	if len(group.RuleIDs) > 0 {
		rules, err = x.stores.GetRulesByIDs(ctx, tc, group.BenchmarkID, group.RuleIDs)
	} else {
		rules, err = x.stores.GetBenchmarkRules(ctx, tc, group.BenchmarkID)
	}
	if err != nil {
		return nil, fmt.Errorf("resolving rules for group %s: %w", groupID, err)
	}

	if hostname == "" {
		hostname = group.DefaultHostname
	}

	return x.runRules(ctx, Request{
		OrgID:       tc.OrgID,
		Hostname:    hostname,
		BenchmarkID: group.BenchmarkID,
		Tags:        group.Tags,
		TriggeredBy: triggeredBy,
	}, rules)
}

func (x *Executor) runRules(ctx context.Context, req Request, rules []store.Rule) (*Result, error) {
	scan := &store.Scan{
		ID:          uuid.New(),
		OrgID:       req.OrgID,
		Hostname:    req.Hostname,
		IP:          req.IP,
		BenchmarkID: req.BenchmarkID,
		Tags:        mergeTags(rules, req.Tags),
		Status:      store.ScanStatusRunning,
		TriggeredBy: req.TriggeredBy,
		StartedAt:   time.Now().UTC(),
	}

	if err := x.stores.CreateScan(ctx, nil, scan); err != nil {
		return nil, fmt.Errorf("creating scan row: %w", err)
	}

	log := x.log.With("scan_id", scan.ID, "org_id", scan.OrgID, "benchmark_id", scan.BenchmarkID)
	log.Info("scan started", "rules", len(rules))

	results := make([]store.ScanResult, 0, len(rules))
	for _, rule := range rules {
		if ctx.Err() != nil {
			return nil, x.abort(scan, fmt.Errorf("scan interrupted: %w", ctx.Err()))
		}

		outcome := x.engine.Evaluate(ctx, rule)
		result := store.ScanResult{
			ID:       uuid.New(),
			ScanID:   scan.ID,
			RuleID:   rule.ID,
			Severity: rule.Severity,
			Passed:   outcome.Passed,
			Output:   outcome.Output,
			Duration: outcome.Duration,
		}
		if outcome.Err != nil {
			msg := outcome.Err.Error()
			result.Error = &msg
			log.Warn("rule evaluation fault", "rule_id", rule.ID, "error", msg)
		}
		results = append(results, result)
	}

	score := Score(rules, results)

	artifactPath, err := x.artifacts.Write(scan, results, score)
	if err != nil {
		return nil, x.abort(scan, fmt.Errorf("writing artifact: %w", err))
	}

	report := &store.Report{
		ID:           uuid.New(),
		ScanID:       scan.ID,
		OrgID:        scan.OrgID,
		Score:        score,
		ArtifactPath: artifactPath,
		CreatedAt:    time.Now().UTC(),
	}

	if err := x.persist(ctx, scan, results, report); err != nil {
		return nil, x.abort(scan, err)
	}

	log.Info("scan completed", "score", score)
	return &Result{Scan: scan, Report: report, Results: results}, nil
}

// persist writes results, report, and the completed status as one
// transaction, so a scan is either fully reported or cleanly failed.
func (x *Executor) persist(ctx context.Context, scan *store.Scan, results []store.ScanResult, report *store.Report) error {
	tx, err := x.stores.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("beginning scan transaction: %w", err)
	}
	defer tx.Rollback()

	if err := x.stores.InsertResults(ctx, tx, results); err != nil {
		return fmt.Errorf("persisting results: %w", err)
	}
	if err := x.stores.CreateReport(ctx, tx, report); err != nil {
		return fmt.Errorf("persisting report: %w", err)
	}

	completedAt := time.Now().UTC()
	if err := x.stores.FinishScan(ctx, tx, scan.ID, store.ScanStatusCompleted, completedAt); err != nil {
		return fmt.Errorf("completing scan: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing scan transaction: %w", err)
	}

	scan.Status = store.ScanStatusCompleted
	scan.CompletedAt = &completedAt
	return nil
}

// abort marks the scan failed so it stays queryable, then surfaces the
// fault. The failed update is best-effort on a fresh context because the
// original one may already be cancelled.
func (x *Executor) abort(scan *store.Scan, cause error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	now := time.Now().UTC()
	if err := x.stores.FinishScan(ctx, nil, scan.ID, store.ScanStatusFailed, now); err != nil {
		x.log.Error("failed to mark scan failed", "scan_id", scan.ID, "error", err)
	}
	scan.Status = store.ScanStatusFailed
	scan.CompletedAt = &now
	return cause
}

// Score computes the weighted compliance score, 0-100, rounded to the
// nearest integer. An empty rule set is vacuously compliant.
func Score(rules []store.Rule, results []store.ScanResult) int {
	weights := make(map[string]int, len(rules))
	var total int
	for _, rule := range rules {
		w := rule.Severity.Weight()
		weights[rule.ID] = w
		total += w
	}
	if total == 0 {
		return 100
	}

	var passed int
	for _, result := range results {
		if result.Passed {
			passed += weights[result.RuleID]
		}
	}
	return int(math.Round(100 * float64(passed) / float64(total)))
}

func mergeTags(rules []store.Rule, extra []string) []string {
	set := make(map[string]struct{})
	for _, rule := range rules {
		for _, tag := range rule.Tags {
			set[tag] = struct{}{}
		}
	}
	for _, tag := range extra {
		set[tag] = struct{}{}
	}

	tags := make([]string, 0, len(set))
	for tag := range set {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}
