package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/terra-clan/skillscout/internal/models"
)

var (
	// ErrNotFound is returned when a record does not exist
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate is returned when a unique constraint would be violated
	ErrDuplicate = errors.New("record already exists")
)

// Repository defines the interface for pipeline persistence
type Repository interface {
	// Candidates
	UpsertCandidate(ctx context.Context, c *models.CandidateProfile) error
	GetCandidate(ctx context.Context, id string) (*models.CandidateProfile, error)

	// Repositories
	CreateRepository(ctx context.Context, repo *models.Repository) error
	GetRepository(ctx context.Context, id string) (*models.Repository, error)
	UpdateRepository(ctx context.Context, repo *models.Repository) error
	DeleteRepository(ctx context.Context, id string) error
	ListRepositories(ctx context.Context, filters models.ListFilters) ([]*models.Repository, error)

	// Assessments
	CreateAssessment(ctx context.Context, a *models.Assessment) error
	GetAssessment(ctx context.Context, id string) (*models.Assessment, error)
	GetAssessmentByRepository(ctx context.Context, repositoryID string) (*models.Assessment, error)

	// RecordAttempt stores the attempt and, if the assessment has no
	// attempt yet, freezes its score from this one. It returns the
	// assessment as stored after the write.
	RecordAttempt(ctx context.Context, attempt *models.AssessmentAttempt) (*models.Assessment, error)
	ListAttempts(ctx context.Context, assessmentID string) ([]*models.AssessmentAttempt, error)

	// API Clients
	CreateClient(ctx context.Context, c *models.ApiClient) error
	GetClientByApiKey(ctx context.Context, apiKey string) (*models.ApiClient, error)
	UpdateClientLastUsed(ctx context.Context, apiKey string) error

	// Health
	Ping(ctx context.Context) error
	Close() error
}

// Open connects to the store selected by driver
func Open(ctx context.Context, driver, dsn string, maxOpen, maxIdle int) (Repository, error) {
	switch driver {
	case "postgres":
		repo, err := NewPostgresRepository(ctx, PostgresConfig{
			DSN:          dsn,
			MaxOpenConns: int32(maxOpen),
			MaxIdleConns: int32(maxIdle),
		})
		if err != nil {
			return nil, err
		}
		return repo, nil
	case "sqlite":
		repo, err := NewSQLiteRepository(ctx, dsn)
		if err != nil {
			return nil, err
		}
		return repo, nil
	}
	return nil, fmt.Errorf("unsupported database driver: %s", driver)
}

// JSON column helpers shared by both backends

func marshalList[T any](values []T) ([]byte, error) {
	if values == nil {
		values = []T{}
	}
	return json.Marshal(values)
}

func unmarshalList[T any](data []byte) ([]T, error) {
	out := []T{}
	if len(data) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func marshalPayload(p *models.AnalysisPayload) ([]byte, error) {
	if p == nil {
		return nil, nil
	}
	return json.Marshal(p)
}

func unmarshalPayload(data []byte) (*models.AnalysisPayload, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var p models.AnalysisPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	return &p, nil
}
