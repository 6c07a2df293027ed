package scan

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"compliancepulse/internal/store"
)

// ArtifactWriter persists the full per-rule result set of a scan as a
// structured file named by scan id. The path is stable for the lifetime
// of the report.
type ArtifactWriter struct {
	dir string
}

// NewArtifactWriter creates a writer rooted at dir, creating it if needed.
func NewArtifactWriter(dir string) (*ArtifactWriter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating artifact directory: %w", err)
	}
	return &ArtifactWriter{dir: dir}, nil
}

type artifactPayload struct {
	Scan    artifactScan     `json:"scan"`
	Score   int              `json:"score"`
	Results []artifactResult `json:"results"`
}

type artifactScan struct {
	ID          string    `json:"id"`
	Hostname    string    `json:"hostname"`
	BenchmarkID string    `json:"benchmark_id"`
	Tags        []string  `json:"tags"`
	StartedAt   time.Time `json:"started_at"`
}

type artifactResult struct {
	RuleID     string  `json:"rule_id"`
	Severity   string  `json:"severity"`
	Passed     bool    `json:"passed"`
	Output     string  `json:"output"`
	Error      *string `json:"error,omitempty"`
	DurationMS int64   `json:"duration_ms"`
}

// Write serializes the result set and renames it into place, so a crash
// mid-write never leaves a partially visible artifact.
func (w *ArtifactWriter) Write(scan *store.Scan, results []store.ScanResult, score int) (string, error) {
	payload := artifactPayload{
		Scan: artifactScan{
			ID:          scan.ID.String(),
			Hostname:    scan.Hostname,
			BenchmarkID: scan.BenchmarkID,
			Tags:        scan.Tags,
			StartedAt:   scan.StartedAt,
		},
		Score:   score,
		Results: make([]artifactResult, 0, len(results)),
	}
	for _, r := range results {
		payload.Results = append(payload.Results, artifactResult{
			RuleID:     r.RuleID,
			Severity:   string(r.Severity),
			Passed:     r.Passed,
			Output:     r.Output,
			Error:      r.Error,
			DurationMS: r.Duration.Milliseconds(),
		})
	}

	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding artifact: %w", err)
	}

	final := filepath.Join(w.dir, scan.ID.String()+".json")

	tmp, err := os.CreateTemp(w.dir, scan.ID.String()+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("creating artifact temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("writing artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("closing artifact temp file: %w", err)
	}

	if err := os.Rename(tmp.Name(), final); err != nil {
		return "", fmt.Errorf("publishing artifact: %w", err)
	}
	return final, nil
}
