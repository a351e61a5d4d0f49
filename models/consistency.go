package models

import "time"

// Consistency issue severities
const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

// SeverityRank orders severities for the auto-fix cutoff.
func SeverityRank(s string) int {
	switch s {
	case SeverityMedium:
		return 1
	case SeverityHigh:
		return 2
	case SeverityCritical:
		return 3
	default:
		return 0
	}
}

// Consistency issue kinds
const (
	IssueCountMismatch  = "count_mismatch"
	IssueMissingVector  = "missing_vector"
	IssueOrphanVector   = "orphan_vector"
	IssueOrphanHash     = "orphan_hash"
	IssueContentIDDrift = "content_id_drift"
	IssueIdentityRisk   = "identity_risk"
)

// ConsistencyIssue is one detected drift between the relational store and
// the vector store.
type ConsistencyIssue struct {
	Kind     string `json:"kind"`
	Severity string `json:"severity"`
	DocID    string `json:"doc_id,omitempty"`
	Detail   string `json:"detail"`
	Fixable  bool   `json:"fixable"`
}

// ConsistencyReport is the outcome of a full cross-store check.
type ConsistencyReport struct {
	CheckedAt       time.Time          `json:"checked_at"`
	PaperCount      int                `json:"paper_count"`
	VectorCount     int                `json:"vector_count"`
	TotalIssues     int                `json:"total_issues"`
	IssuesBySeverity map[string]int    `json:"issues_by_severity"`
	Issues          []ConsistencyIssue `json:"issues"`
}

// FixResult reports what an auto-fix pass repaired.
type FixResult struct {
	FixedCount   int      `json:"fixed_count"`
	SkippedCount int      `json:"skipped_count"`
	Details      []string `json:"details,omitempty"`
}
