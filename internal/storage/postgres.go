package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/terra-clan/skillscout/internal/models"
)

// PostgresRepository implements Repository using PostgreSQL
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// PostgresConfig holds PostgreSQL connection configuration
type PostgresConfig struct {
	DSN          string
	MaxOpenConns int32
	MaxIdleConns int32
	MaxLifetime  time.Duration
}

// NewPostgresRepository creates a new PostgreSQL repository
func NewPostgresRepository(ctx context.Context, cfg PostgresConfig) (*PostgresRepository, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse DSN: %w", err)
	}

	poolConfig.MaxConns = 25
	if cfg.MaxOpenConns > 0 {
		poolConfig.MaxConns = cfg.MaxOpenConns
	}
	poolConfig.MinConns = 5
	if cfg.MaxIdleConns > 0 {
		poolConfig.MinConns = cfg.MaxIdleConns
	}
	poolConfig.MaxConnLifetime = 30 * time.Minute
	if cfg.MaxLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.MaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresRepository{pool: pool}, nil
}

// Ping checks database connectivity
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// HealthCheck satisfies the readiness registry
func (r *PostgresRepository) HealthCheck(ctx context.Context) error {
	return r.Ping(ctx)
}

// Close closes the database connection pool
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// UpsertCandidate creates or replaces a candidate profile
func (r *PostgresRepository) UpsertCandidate(ctx context.Context, c *models.CandidateProfile) error {
	skills, err := marshalList(c.Skills)
	if err != nil {
		return fmt.Errorf("failed to marshal skills: %w", err)
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO candidates (id, full_name, location, education_level, bio, skills, experience_years, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			full_name = EXCLUDED.full_name,
			location = EXCLUDED.location,
			education_level = EXCLUDED.education_level,
			bio = EXCLUDED.bio,
			skills = EXCLUDED.skills,
			experience_years = EXCLUDED.experience_years,
			updated_at = EXCLUDED.updated_at
	`, c.ID, c.FullName, c.Location, c.EducationLevel, c.Bio, skills, c.ExperienceYears, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert candidate: %w", err)
	}
	return nil
}

// GetCandidate retrieves a candidate profile by ID
func (r *PostgresRepository) GetCandidate(ctx context.Context, id string) (*models.CandidateProfile, error) {
	var c models.CandidateProfile
	var skills []byte

	err := r.pool.QueryRow(ctx, `
		SELECT id, full_name, location, education_level, bio, skills, experience_years, updated_at
		FROM candidates
		WHERE id = $1
	`, id).Scan(&c.ID, &c.FullName, &c.Location, &c.EducationLevel, &c.Bio, &skills, &c.ExperienceYears, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get candidate: %w", err)
	}

	if c.Skills, err = unmarshalList[string](skills); err != nil {
		return nil, fmt.Errorf("failed to unmarshal skills: %w", err)
	}
	return &c, nil
}

// CreateRepository creates a new repository record
func (r *PostgresRepository) CreateRepository(ctx context.Context, repo *models.Repository) error {
	languages, err := marshalList(repo.Languages)
	if err != nil {
		return fmt.Errorf("failed to marshal languages: %w", err)
	}
	results, err := marshalPayload(repo.AnalysisResults)
	if err != nil {
		return fmt.Errorf("failed to marshal analysis results: %w", err)
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO repositories (id, candidate_id, name, url, description, languages, analysis_status, analysis_results, workspace_path, last_analyzed, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		repo.ID,
		repo.CandidateID,
		repo.Name,
		repo.URL,
		repo.Description,
		languages,
		string(repo.AnalysisStatus),
		results,
		repo.WorkspacePath,
		repo.LastAnalyzed,
		repo.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to create repository: %w", err)
	}
	return nil
}

const repositoryColumns = `id, candidate_id, name, url, description, languages, analysis_status, analysis_results, workspace_path, last_analyzed, created_at`

// GetRepository retrieves a repository by ID
func (r *PostgresRepository) GetRepository(ctx context.Context, id string) (*models.Repository, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+repositoryColumns+` FROM repositories WHERE id = $1`, id)

	repo, err := scanPgRepository(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get repository: %w", err)
	}
	return repo, nil
}

// UpdateRepository writes the mutable fields of a repository
func (r *PostgresRepository) UpdateRepository(ctx context.Context, repo *models.Repository) error {
	languages, err := marshalList(repo.Languages)
	if err != nil {
		return fmt.Errorf("failed to marshal languages: %w", err)
	}
	results, err := marshalPayload(repo.AnalysisResults)
	if err != nil {
		return fmt.Errorf("failed to marshal analysis results: %w", err)
	}

	tag, err := r.pool.Exec(ctx, `
		UPDATE repositories
		SET description = $2, languages = $3, analysis_status = $4, analysis_results = $5, workspace_path = $6, last_analyzed = $7
		WHERE id = $1
	`,
		repo.ID,
		repo.Description,
		languages,
		string(repo.AnalysisStatus),
		results,
		repo.WorkspacePath,
		repo.LastAnalyzed,
	)
	if err != nil {
		return fmt.Errorf("failed to update repository: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteRepository deletes a repository; assessments and attempts cascade
func (r *PostgresRepository) DeleteRepository(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM repositories WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete repository: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListRepositories returns repositories matching filters, newest first
func (r *PostgresRepository) ListRepositories(ctx context.Context, filters models.ListFilters) ([]*models.Repository, error) {
	query := `SELECT ` + repositoryColumns + ` FROM repositories WHERE 1=1`
	args := make([]any, 0)
	argNum := 1

	if filters.CandidateID != "" {
		query += fmt.Sprintf(" AND candidate_id = $%d", argNum)
		args = append(args, filters.CandidateID)
		argNum++
	}

	if filters.Status != "" {
		query += fmt.Sprintf(" AND analysis_status = $%d", argNum)
		args = append(args, string(filters.Status))
		argNum++
	}

	query += " ORDER BY created_at DESC"

	if filters.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argNum)
		args = append(args, filters.Limit)
		argNum++
	}

	if filters.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argNum)
		args = append(args, filters.Offset)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list repositories: %w", err)
	}
	defer rows.Close()

	var repos []*models.Repository
	for rows.Next() {
		repo, err := scanPgRepository(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan repository: %w", err)
		}
		repos = append(repos, repo)
	}

	return repos, rows.Err()
}

func scanPgRepository(row pgx.Row) (*models.Repository, error) {
	var repo models.Repository
	var status string
	var languages, results []byte

	err := row.Scan(
		&repo.ID,
		&repo.CandidateID,
		&repo.Name,
		&repo.URL,
		&repo.Description,
		&languages,
		&status,
		&results,
		&repo.WorkspacePath,
		&repo.LastAnalyzed,
		&repo.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	repo.AnalysisStatus = models.AnalysisStatus(status)
	if repo.Languages, err = unmarshalList[string](languages); err != nil {
		return nil, fmt.Errorf("failed to unmarshal languages: %w", err)
	}
	if repo.AnalysisResults, err = unmarshalPayload(results); err != nil {
		return nil, fmt.Errorf("failed to unmarshal analysis results: %w", err)
	}
	return &repo, nil
}

// CreateAssessment stores a new assessment. A second assessment for the
// same repository is rejected with ErrDuplicate.
func (r *PostgresRepository) CreateAssessment(ctx context.Context, a *models.Assessment) error {
	questions, err := marshalList(a.Questions)
	if err != nil {
		return fmt.Errorf("failed to marshal questions: %w", err)
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO assessments (id, repository_id, questions, score, correct_answers, created_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, a.ID, a.RepositoryID, questions, a.Score, a.CorrectAnswers, a.CreatedAt, a.CompletedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to create assessment: %w", err)
	}
	return nil
}

const assessmentColumns = `id, repository_id, questions, score, correct_answers, created_at, completed_at`

// GetAssessment retrieves an assessment by ID
func (r *PostgresRepository) GetAssessment(ctx context.Context, id string) (*models.Assessment, error) {
	return r.getAssessment(ctx, r.pool, "id", id)
}

// GetAssessmentByRepository retrieves the assessment of a repository
func (r *PostgresRepository) GetAssessmentByRepository(ctx context.Context, repositoryID string) (*models.Assessment, error) {
	return r.getAssessment(ctx, r.pool, "repository_id", repositoryID)
}

type pgQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (r *PostgresRepository) getAssessment(ctx context.Context, q pgQuerier, field, value string) (*models.Assessment, error) {
	var a models.Assessment
	var questions []byte

	err := q.QueryRow(ctx, `SELECT `+assessmentColumns+` FROM assessments WHERE `+field+` = $1`, value).Scan(
		&a.ID,
		&a.RepositoryID,
		&questions,
		&a.Score,
		&a.CorrectAnswers,
		&a.CreatedAt,
		&a.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get assessment: %w", err)
	}

	if a.Questions, err = unmarshalList[models.Question](questions); err != nil {
		return nil, fmt.Errorf("failed to unmarshal questions: %w", err)
	}
	return &a, nil
}

// RecordAttempt stores an attempt and freezes the assessment on its first one
func (r *PostgresRepository) RecordAttempt(ctx context.Context, attempt *models.AssessmentAttempt) (*models.Assessment, error) {
	answers, err := marshalList(attempt.Answers)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal answers: %w", err)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var locked string
	err = tx.QueryRow(ctx, `SELECT id FROM assessments WHERE id = $1 FOR UPDATE`, attempt.AssessmentID).Scan(&locked)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to lock assessment: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO assessment_attempts (id, assessment_id, answers, correct_answers, score, time_spent, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, attempt.ID, attempt.AssessmentID, answers, attempt.CorrectAnswers, attempt.Score, attempt.TimeSpent, attempt.CompletedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert attempt: %w", err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE assessments
		SET score = $2, correct_answers = $3, completed_at = $4
		WHERE id = $1 AND completed_at IS NULL
	`, attempt.AssessmentID, attempt.Score, attempt.CorrectAnswers, attempt.CompletedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to freeze assessment score: %w", err)
	}

	a, err := r.getAssessment(ctx, tx, "id", attempt.AssessmentID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit attempt: %w", err)
	}
	return a, nil
}

// ListAttempts returns the attempts of an assessment, oldest first
func (r *PostgresRepository) ListAttempts(ctx context.Context, assessmentID string) ([]*models.AssessmentAttempt, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, assessment_id, answers, correct_answers, score, time_spent, completed_at
		FROM assessment_attempts
		WHERE assessment_id = $1
		ORDER BY completed_at ASC
	`, assessmentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list attempts: %w", err)
	}
	defer rows.Close()

	var attempts []*models.AssessmentAttempt
	for rows.Next() {
		var at models.AssessmentAttempt
		var answers []byte
		if err := rows.Scan(&at.ID, &at.AssessmentID, &answers, &at.CorrectAnswers, &at.Score, &at.TimeSpent, &at.CompletedAt); err != nil {
			return nil, fmt.Errorf("failed to scan attempt: %w", err)
		}
		if at.Answers, err = unmarshalList[int](answers); err != nil {
			return nil, fmt.Errorf("failed to unmarshal answers: %w", err)
		}
		attempts = append(attempts, &at)
	}

	return attempts, rows.Err()
}

// GetClientByApiKey retrieves an API client by its key. Unknown keys yield
// a nil client and no error.
func (r *PostgresRepository) GetClientByApiKey(ctx context.Context, apiKey string) (*models.ApiClient, error) {
	var client models.ApiClient
	var permissions []byte

	err := r.pool.QueryRow(ctx, `
		SELECT id, name, api_key, is_active, created_at, last_used_at, permissions
		FROM api_clients
		WHERE api_key = $1
	`, apiKey).Scan(
		&client.ID,
		&client.Name,
		&client.ApiKey,
		&client.IsActive,
		&client.CreatedAt,
		&client.LastUsedAt,
		&permissions,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get api client: %w", err)
	}

	if client.Permissions, err = unmarshalList[string](permissions); err != nil {
		return nil, fmt.Errorf("failed to unmarshal permissions: %w", err)
	}
	return &client, nil
}

// CreateClient registers an API client
func (r *PostgresRepository) CreateClient(ctx context.Context, c *models.ApiClient) error {
	permissions, err := marshalList(c.Permissions)
	if err != nil {
		return fmt.Errorf("failed to marshal permissions: %w", err)
	}

	err = r.pool.QueryRow(ctx, `
		INSERT INTO api_clients (name, api_key, is_active, permissions, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, c.Name, c.ApiKey, c.IsActive, permissions, c.CreatedAt).Scan(&c.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to create api client: %w", err)
	}
	return nil
}

// UpdateClientLastUsed updates the last_used_at timestamp for a client
func (r *PostgresRepository) UpdateClientLastUsed(ctx context.Context, apiKey string) error {
	_, err := r.pool.Exec(ctx, `UPDATE api_clients SET last_used_at = NOW() WHERE api_key = $1`, apiKey)
	if err != nil {
		return fmt.Errorf("failed to update client last_used_at: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
