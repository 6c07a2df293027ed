package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"compliancepulse/internal/store"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// ReplaceBenchmark upserts the benchmark row and swaps its rules
// wholesale inside one transaction. A reload is the only mutation path
// for benchmarks.
func (s *Store) ReplaceBenchmark(ctx context.Context, tc store.TenantContext, b *store.Benchmark, rules []store.Rule) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO benchmarks (id, org_id, name, version, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (org_id, id) DO UPDATE
		SET name = EXCLUDED.name, version = EXCLUDED.version, updated_at = NOW()
	`, b.ID, tc.OrgID, b.Name, b.Version)
	if err != nil {
		return fmt.Errorf("failed to upsert benchmark %s: %w", b.ID, err)
	}

	_, err = tx.ExecContext(ctx,
		"DELETE FROM rules WHERE org_id = $1 AND benchmark_id = $2",
		tc.OrgID, b.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to clear rules for benchmark %s: %w", b.ID, err)
	}

	for i, rule := range rules {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO rules (id, benchmark_id, org_id, title, severity, command, expect_kind, expect_value, tags, position)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		`, rule.ID, b.ID, tc.OrgID, rule.Title, rule.Severity,
			rule.Command, rule.Expect, rule.ExpectValue, pq.Array(rule.Tags), i)
		if err != nil {
			return fmt.Errorf("failed to insert rule %s: %w", rule.ID, err)
		}
	}

	return tx.Commit()
}

// GetBenchmarkRules returns the benchmark's rules in declaration order.
func (s *Store) GetBenchmarkRules(ctx context.Context, tc store.TenantContext, benchmarkID string) ([]store.Rule, error) {
	query := `
		SELECT id, benchmark_id, org_id, title, severity, command, expect_kind, expect_value, tags, position
		FROM rules
		WHERE org_id = $1 AND benchmark_id = $2
		ORDER BY position ASC
	`

	rows, err := s.db.QueryContext(ctx, query, tc.OrgID, benchmarkID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	rules, err := scanRules(rows)
	if err != nil {
		return nil, err
	}
	if len(rules) == 0 {
		return nil, store.ErrNotFound
	}
	return rules, nil
}

// GetRulesByIDs returns the named rules of a benchmark in declaration order.
func (s *Store) GetRulesByIDs(ctx context.Context, tc store.TenantContext, benchmarkID string, ruleIDs []string) ([]store.Rule, error) {
	query := `
		SELECT id, benchmark_id, org_id, title, severity, command, expect_kind, expect_value, tags, position
		FROM rules
		WHERE org_id = $1 AND benchmark_id = $2 AND id = ANY($3)
		ORDER BY position ASC
	`

	rows, err := s.db.QueryContext(ctx, query, tc.OrgID, benchmarkID, pq.Array(ruleIDs))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	rules, err := scanRules(rows)
	if err != nil {
		return nil, err
	}
	if len(rules) == 0 {
		return nil, store.ErrNotFound
	}
	return rules, nil
}

// GetRuleGroup returns a rule group scoped to the tenant.
func (s *Store) GetRuleGroup(ctx context.Context, tc store.TenantContext, id uuid.UUID) (*store.RuleGroup, error) {
	query := `
		SELECT id, org_id, name, benchmark_id, rule_ids, default_hostname, tags, created_at
		FROM rule_groups
		WHERE org_id = $1 AND id = $2
	`

	var g store.RuleGroup
	err := s.db.QueryRowContext(ctx, query, tc.OrgID, id).Scan(
		&g.ID, &g.OrgID, &g.Name, &g.BenchmarkID,
		pq.Array(&g.RuleIDs), &g.DefaultHostname, pq.Array(&g.Tags), &g.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &g, nil
}

// CreateRuleGroup inserts a rule group.
func (s *Store) CreateRuleGroup(ctx context.Context, tc store.TenantContext, g *store.RuleGroup) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rule_groups (id, org_id, name, benchmark_id, rule_ids, default_hostname, tags, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, g.ID, tc.OrgID, g.Name, g.BenchmarkID,
		pq.Array(g.RuleIDs), g.DefaultHostname, pq.Array(g.Tags), g.CreatedAt)
	return err
}

func scanRules(rows *sql.Rows) ([]store.Rule, error) {
	var rules []store.Rule
	for rows.Next() {
		var r store.Rule
		if err := rows.Scan(
			&r.ID, &r.BenchmarkID, &r.OrgID, &r.Title, &r.Severity,
			&r.Command, &r.Expect, &r.ExpectValue, pq.Array(&r.Tags), &r.Position,
		); err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	return rules, rows.Err()
}
