// Package api contains shared JSON request/response structs for the
// service surface. It is consumed by the CLI and any transport layer
// built on top of the core.
package api

import (
	"time"

	"compliancepulse/internal/store"
)

// StartScanRequest triggers a synchronous benchmark scan.
type StartScanRequest struct {
	Hostname    string   `json:"hostname"`
	IP          string   `json:"ip,omitempty"`
	BenchmarkID string   `json:"benchmark_id"`
	Tags        []string `json:"tags,omitempty"`
}

// ScanResponse summarizes a scan for callers.
type ScanResponse struct {
	ScanID      string     `json:"scan_id"`
	Status      string     `json:"status"`
	Hostname    string     `json:"hostname"`
	BenchmarkID string     `json:"benchmark_id"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// ReportResponse summarizes a scan's report.
type ReportResponse struct {
	ReportID     string    `json:"report_id"`
	ScanID       string    `json:"scan_id"`
	Score        int       `json:"score"`
	ArtifactPath string    `json:"artifact_path"`
	CreatedAt    time.Time `json:"created_at"`
}

// JobResponse summarizes a scan job for callers.
type JobResponse struct {
	JobID       string     `json:"job_id"`
	Status      string     `json:"status"`
	RuleGroupID string     `json:"rule_group_id"`
	ScheduleID  string     `json:"schedule_id,omitempty"`
	ClaimedBy   string     `json:"claimed_by,omitempty"`
	DeadlineAt  *time.Time `json:"deadline_at,omitempty"`
	ScanID      string     `json:"scan_id,omitempty"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// CreateScheduleRequest creates a recurring scan trigger.
type CreateScheduleRequest struct {
	Name            string `json:"name"`
	RuleGroupID     string `json:"rule_group_id"`
	Frequency       string `json:"frequency"`
	IntervalMinutes int    `json:"interval_minutes,omitempty"`
}

// ScheduleResponse summarizes a schedule.
type ScheduleResponse struct {
	ScheduleID      string     `json:"schedule_id"`
	Name            string     `json:"name"`
	RuleGroupID     string     `json:"rule_group_id"`
	Frequency       string     `json:"frequency"`
	IntervalMinutes int        `json:"interval_minutes"`
	Enabled         bool       `json:"enabled"`
	LastRunAt       *time.Time `json:"last_run_at,omitempty"`
}

// ErrorResponse carries a typed error to callers.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// FromScan converts a store scan to its response shape.
func FromScan(s *store.Scan) ScanResponse {
	return ScanResponse{
		ScanID:      s.ID.String(),
		Status:      string(s.Status),
		Hostname:    s.Hostname,
		BenchmarkID: s.BenchmarkID,
		StartedAt:   s.StartedAt,
		CompletedAt: s.CompletedAt,
	}
}

// FromReport converts a store report to its response shape.
func FromReport(r *store.Report) ReportResponse {
	return ReportResponse{
		ReportID:     r.ID.String(),
		ScanID:       r.ScanID.String(),
		Score:        r.Score,
		ArtifactPath: r.ArtifactPath,
		CreatedAt:    r.CreatedAt,
	}
}

// FromJob converts a store scan job to its response shape.
func FromJob(j *store.ScanJob) JobResponse {
	resp := JobResponse{
		JobID:       j.ID.String(),
		Status:      string(j.Status),
		RuleGroupID: j.RuleGroupID.String(),
		DeadlineAt:  j.DeadlineAt,
		CreatedAt:   j.CreatedAt,
	}
	if j.ScheduleID != nil {
		resp.ScheduleID = j.ScheduleID.String()
	}
	if j.ClaimedBy != nil {
		resp.ClaimedBy = *j.ClaimedBy
	}
	if j.ScanID != nil {
		resp.ScanID = j.ScanID.String()
	}
	if j.Error != nil {
		resp.Error = *j.Error
	}
	return resp
}

// FromSchedule converts a store schedule to its response shape.
func FromSchedule(s store.Schedule) ScheduleResponse {
	return ScheduleResponse{
		ScheduleID:      s.ID.String(),
		Name:            s.Name,
		RuleGroupID:     s.RuleGroupID.String(),
		Frequency:       string(s.Frequency),
		IntervalMinutes: s.IntervalMinutes,
		Enabled:         s.Enabled,
		LastRunAt:       s.LastRunAt,
	}
}
