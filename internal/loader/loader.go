// Package loader parses and normalizes benchmark definition documents.
// It is the only writer of benchmarks and rules; the scan pipeline never
// parses raw documents itself.
package loader

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"compliancepulse/internal/store"

	"gopkg.in/yaml.v3"
)

// Document is one benchmark definition file.
type Document struct {
	Benchmark struct {
		ID      string `yaml:"id"`
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"benchmark"`
	Rules []DocumentRule `yaml:"rules"`
}

// DocumentRule is one rule entry within a benchmark document.
type DocumentRule struct {
	ID       string   `yaml:"id"`
	Title    string   `yaml:"title"`
	Severity string   `yaml:"severity"`
	Command  string   `yaml:"command"`
	Expect   struct {
		Type  string `yaml:"type"`
		Value string `yaml:"value"`
	} `yaml:"expect"`
	Tags []string `yaml:"tags"`
}

// Loader reads benchmark YAML files from a directory and reloads them
// into the store wholesale.
type Loader struct {
	dir    string
	stores store.BenchmarkStore
}

// New creates a loader rooted at dir.
func New(dir string, stores store.BenchmarkStore) *Loader {
	return &Loader{dir: dir, stores: stores}
}

// Discover lists the benchmark documents under the loader's directory.
func (l *Loader) Discover() ([]string, error) {
	paths, err := filepath.Glob(filepath.Join(l.dir, "*.yaml"))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	return paths, nil
}

// Parse reads and validates one benchmark document.
func (l *Loader) Parse(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if err := validate(&doc); err != nil {
		return nil, fmt.Errorf("invalid benchmark document %s: %w", path, err)
	}
	return &doc, nil
}

// LoadAll parses every discovered document and replaces the tenant's
// benchmarks. Each benchmark's previous rules are removed and replaced.
func (l *Loader) LoadAll(ctx context.Context, tc store.TenantContext) ([]store.Benchmark, error) {
	paths, err := l.Discover()
	if err != nil {
		return nil, err
	}

	var benchmarks []store.Benchmark
	for _, path := range paths {
		doc, err := l.Parse(path)
		if err != nil {
			return nil, err
		}
		benchmark, err := l.Load(ctx, tc, doc)
		if err != nil {
			return nil, err
		}
		benchmarks = append(benchmarks, *benchmark)
	}
	return benchmarks, nil
}

// Load replaces one benchmark and its rule set.
func (l *Loader) Load(ctx context.Context, tc store.TenantContext, doc *Document) (*store.Benchmark, error) {
	benchmark := &store.Benchmark{
		ID:        doc.Benchmark.ID,
		OrgID:     tc.OrgID,
		Name:      doc.Benchmark.Name,
		Version:   doc.Benchmark.Version,
		UpdatedAt: time.Now().UTC(),
	}

	rules := make([]store.Rule, 0, len(doc.Rules))
	for i, dr := range doc.Rules {
		rules = append(rules, store.Rule{
			ID:          dr.ID,
			BenchmarkID: benchmark.ID,
			OrgID:       tc.OrgID,
			Title:       dr.Title,
			Severity:    store.Severity(dr.Severity),
			Command:     dr.Command,
			Expect:      store.ExpectationKind(dr.Expect.Type),
			ExpectValue: dr.Expect.Value,
			Tags:        dr.Tags,
			Position:    i,
		})
	}

	if err := l.stores.ReplaceBenchmark(ctx, tc, benchmark, rules); err != nil {
		return nil, fmt.Errorf("replacing benchmark %s: %w", benchmark.ID, err)
	}
	return benchmark, nil
}

func validate(doc *Document) error {
	if doc.Benchmark.ID == "" {
		return fmt.Errorf("benchmark id is required")
	}
	if len(doc.Rules) == 0 {
		return fmt.Errorf("benchmark %s has no rules", doc.Benchmark.ID)
	}

	seen := make(map[string]struct{}, len(doc.Rules))
	for _, rule := range doc.Rules {
		if rule.ID == "" {
			return fmt.Errorf("rule id is required")
		}
		if _, dup := seen[rule.ID]; dup {
			return fmt.Errorf("duplicate rule id %q", rule.ID)
		}
		seen[rule.ID] = struct{}{}

		if rule.Command == "" {
			return fmt.Errorf("rule %s: command is required", rule.ID)
		}
		if !store.Severity(rule.Severity).Valid() {
			return fmt.Errorf("rule %s: unsupported severity %q", rule.ID, rule.Severity)
		}
		if !store.ExpectationKind(rule.Expect.Type).Valid() {
			return fmt.Errorf("rule %s: unsupported expectation type %q", rule.ID, rule.Expect.Type)
		}
	}
	return nil
}
