package models

import (
	"time"

	"github.com/terra-clan/skillscout/internal/faults"
)

// StatusEvent is published whenever a repository's analysis status changes
type StatusEvent struct {
	RepositoryID string                `json:"repository_id"`
	Status       AnalysisStatus        `json:"status"`
	Error        *faults.ErrorResponse `json:"error,omitempty"`
	Timestamp    time.Time             `json:"timestamp"`
}
