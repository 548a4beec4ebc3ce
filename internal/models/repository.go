package models

import (
	"time"
)

// AnalysisStatus represents the analysis state of a linked repository
type AnalysisStatus string

const (
	StatusPending   AnalysisStatus = "pending"
	StatusAnalyzing AnalysisStatus = "analyzing"
	StatusComplete  AnalysisStatus = "complete"
	StatusFailed    AnalysisStatus = "failed"
)

// IsTerminal returns true if no analysis is running for this status
func (s AnalysisStatus) IsTerminal() bool {
	return s == StatusComplete || s == StatusFailed
}

// IsValid returns true for the four known statuses
func (s AnalysisStatus) IsValid() bool {
	switch s {
	case StatusPending, StatusAnalyzing, StatusComplete, StatusFailed:
		return true
	}
	return false
}

// CanTransition reports whether a repository may move from s to next.
// Terminal statuses only go back to analyzing, which is an explicit re-analysis.
func (s AnalysisStatus) CanTransition(next AnalysisStatus) bool {
	switch s {
	case StatusPending:
		return next == StatusAnalyzing
	case StatusAnalyzing:
		return next == StatusComplete || next == StatusFailed
	case StatusComplete, StatusFailed:
		return next == StatusAnalyzing
	}
	return false
}

// Repository is a remote source repository linked by a candidate
type Repository struct {
	ID              string           `json:"id"`
	CandidateID     string           `json:"candidate_id"`
	Name            string           `json:"repo_name"`
	URL             string           `json:"repo_url"`
	Description     string           `json:"description"`
	Languages       []string         `json:"languages"`
	AnalysisStatus  AnalysisStatus   `json:"analysis_status"`
	AnalysisResults *AnalysisPayload `json:"analysis_results,omitempty"`
	WorkspacePath   string           `json:"-"`
	LastAnalyzed    *time.Time       `json:"last_analyzed,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
}

// HasCompleteAnalysis returns true if a full analysis payload is available
func (r *Repository) HasCompleteAnalysis() bool {
	return r.AnalysisStatus == StatusComplete && r.AnalysisResults != nil
}

// LinkRequest represents a request to link a repository to a candidate
type LinkRequest struct {
	Name        string   `json:"repo_name"`
	URL         string   `json:"repo_url"`
	Description string   `json:"description,omitempty"`
	Languages   []string `json:"languages,omitempty"`
}

// ListFilters defines filters for listing repositories
type ListFilters struct {
	CandidateID string
	Status      AnalysisStatus
	Limit       int
	Offset      int
}
