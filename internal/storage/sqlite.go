package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/terra-clan/skillscout/internal/models"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS candidates (
    id TEXT PRIMARY KEY,
    full_name TEXT NOT NULL DEFAULT '',
    location TEXT NOT NULL DEFAULT '',
    education_level TEXT NOT NULL DEFAULT '',
    bio TEXT NOT NULL DEFAULT '',
    skills TEXT NOT NULL DEFAULT '[]',
    experience_years INTEGER NOT NULL DEFAULT 0,
    updated_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS repositories (
    id TEXT PRIMARY KEY,
    candidate_id TEXT NOT NULL,
    name TEXT NOT NULL,
    url TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    languages TEXT NOT NULL DEFAULT '[]',
    analysis_status TEXT NOT NULL DEFAULT 'pending',
    analysis_results TEXT,
    workspace_path TEXT NOT NULL DEFAULT '',
    last_analyzed TEXT,
    created_at TEXT NOT NULL,
    UNIQUE(candidate_id, name)
);
CREATE TABLE IF NOT EXISTS assessments (
    id TEXT PRIMARY KEY,
    repository_id TEXT NOT NULL UNIQUE,
    questions TEXT NOT NULL,
    score REAL,
    correct_answers INTEGER,
    created_at TEXT NOT NULL,
    completed_at TEXT,
    FOREIGN KEY(repository_id) REFERENCES repositories(id) ON DELETE CASCADE
);
CREATE TABLE IF NOT EXISTS assessment_attempts (
    id TEXT PRIMARY KEY,
    assessment_id TEXT NOT NULL,
    answers TEXT NOT NULL,
    correct_answers INTEGER NOT NULL,
    score REAL NOT NULL,
    time_spent INTEGER NOT NULL DEFAULT 0,
    completed_at TEXT NOT NULL,
    FOREIGN KEY(assessment_id) REFERENCES assessments(id) ON DELETE CASCADE
);
CREATE TABLE IF NOT EXISTS api_clients (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL,
    api_key TEXT NOT NULL UNIQUE,
    is_active BOOLEAN NOT NULL DEFAULT 1,
    permissions TEXT NOT NULL DEFAULT '[]',
    created_at TEXT NOT NULL,
    last_used_at TEXT
);`

// SQLiteRepository implements Repository on an embedded SQLite file. It is
// meant for single-node deployments, the CLI and tests.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository opens (creating if needed) the database at path
func NewSQLiteRepository(ctx context.Context, path string) (*SQLiteRepository, error) {
	dsn := path
	if !strings.Contains(dsn, "?") {
		dsn += "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// one writer at a time
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

// Ping checks database connectivity
func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// HealthCheck satisfies the readiness registry
func (r *SQLiteRepository) HealthCheck(ctx context.Context) error {
	return r.Ping(ctx)
}

// Close closes the database
func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

// CreateClient registers an API client
func (r *SQLiteRepository) CreateClient(ctx context.Context, c *models.ApiClient) error {
	permissions, err := marshalList(c.Permissions)
	if err != nil {
		return fmt.Errorf("failed to marshal permissions: %w", err)
	}
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO api_clients (name, api_key, is_active, permissions, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, c.Name, c.ApiKey, c.IsActive, string(permissions), formatTime(c.CreatedAt))
	if err != nil {
		if isSQLiteConstraint(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to create api client: %w", err)
	}
	id, err := res.LastInsertId()
	if err == nil {
		c.ID = int(id)
	}
	return nil
}

// UpsertCandidate creates or replaces a candidate profile
func (r *SQLiteRepository) UpsertCandidate(ctx context.Context, c *models.CandidateProfile) error {
	skills, err := marshalList(c.Skills)
	if err != nil {
		return fmt.Errorf("failed to marshal skills: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO candidates (id, full_name, location, education_level, bio, skills, experience_years, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			full_name = excluded.full_name,
			location = excluded.location,
			education_level = excluded.education_level,
			bio = excluded.bio,
			skills = excluded.skills,
			experience_years = excluded.experience_years,
			updated_at = excluded.updated_at
	`, c.ID, c.FullName, c.Location, c.EducationLevel, c.Bio, string(skills), c.ExperienceYears, formatTime(c.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to upsert candidate: %w", err)
	}
	return nil
}

// GetCandidate retrieves a candidate profile by ID
func (r *SQLiteRepository) GetCandidate(ctx context.Context, id string) (*models.CandidateProfile, error) {
	var c models.CandidateProfile
	var skills, updatedAt string

	err := r.db.QueryRowContext(ctx, `
		SELECT id, full_name, location, education_level, bio, skills, experience_years, updated_at
		FROM candidates
		WHERE id = ?
	`, id).Scan(&c.ID, &c.FullName, &c.Location, &c.EducationLevel, &c.Bio, &skills, &c.ExperienceYears, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get candidate: %w", err)
	}

	if c.Skills, err = unmarshalList[string]([]byte(skills)); err != nil {
		return nil, fmt.Errorf("failed to unmarshal skills: %w", err)
	}
	if c.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

// CreateRepository creates a new repository record
func (r *SQLiteRepository) CreateRepository(ctx context.Context, repo *models.Repository) error {
	languages, err := marshalList(repo.Languages)
	if err != nil {
		return fmt.Errorf("failed to marshal languages: %w", err)
	}
	results, err := marshalPayload(repo.AnalysisResults)
	if err != nil {
		return fmt.Errorf("failed to marshal analysis results: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO repositories (id, candidate_id, name, url, description, languages, analysis_status, analysis_results, workspace_path, last_analyzed, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		repo.ID,
		repo.CandidateID,
		repo.Name,
		repo.URL,
		repo.Description,
		string(languages),
		string(repo.AnalysisStatus),
		nullText(results),
		repo.WorkspacePath,
		nullTime(repo.LastAnalyzed),
		formatTime(repo.CreatedAt),
	)
	if err != nil {
		if isSQLiteConstraint(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to create repository: %w", err)
	}
	return nil
}

// GetRepository retrieves a repository by ID
func (r *SQLiteRepository) GetRepository(ctx context.Context, id string) (*models.Repository, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+repositoryColumns+` FROM repositories WHERE id = ?`, id)

	repo, err := scanSQLiteRepository(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get repository: %w", err)
	}
	return repo, nil
}

// UpdateRepository writes the mutable fields of a repository
func (r *SQLiteRepository) UpdateRepository(ctx context.Context, repo *models.Repository) error {
	languages, err := marshalList(repo.Languages)
	if err != nil {
		return fmt.Errorf("failed to marshal languages: %w", err)
	}
	results, err := marshalPayload(repo.AnalysisResults)
	if err != nil {
		return fmt.Errorf("failed to marshal analysis results: %w", err)
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE repositories
		SET description = ?, languages = ?, analysis_status = ?, analysis_results = ?, workspace_path = ?, last_analyzed = ?
		WHERE id = ?
	`,
		repo.Description,
		string(languages),
		string(repo.AnalysisStatus),
		nullText(results),
		repo.WorkspacePath,
		nullTime(repo.LastAnalyzed),
		repo.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update repository: %w", err)
	}
	return expectRow(res)
}

// DeleteRepository deletes a repository; assessments and attempts cascade
func (r *SQLiteRepository) DeleteRepository(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM repositories WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete repository: %w", err)
	}
	return expectRow(res)
}

// ListRepositories returns repositories matching filters, newest first
func (r *SQLiteRepository) ListRepositories(ctx context.Context, filters models.ListFilters) ([]*models.Repository, error) {
	query := `SELECT ` + repositoryColumns + ` FROM repositories WHERE 1=1`
	args := make([]any, 0)

	if filters.CandidateID != "" {
		query += " AND candidate_id = ?"
		args = append(args, filters.CandidateID)
	}
	if filters.Status != "" {
		query += " AND analysis_status = ?"
		args = append(args, string(filters.Status))
	}

	query += " ORDER BY created_at DESC"

	if filters.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filters.Limit)
		if filters.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, filters.Offset)
		}
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list repositories: %w", err)
	}
	defer rows.Close()

	var repos []*models.Repository
	for rows.Next() {
		repo, err := scanSQLiteRepository(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan repository: %w", err)
		}
		repos = append(repos, repo)
	}
	return repos, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteRepository(row rowScanner) (*models.Repository, error) {
	var repo models.Repository
	var status, languages, createdAt string
	var results, lastAnalyzed sql.NullString

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
		&lastAnalyzed,
		&createdAt,
	)
	if err != nil {
		return nil, err
	}

	repo.AnalysisStatus = models.AnalysisStatus(status)
	if repo.Languages, err = unmarshalList[string]([]byte(languages)); err != nil {
		return nil, fmt.Errorf("failed to unmarshal languages: %w", err)
	}
	if results.Valid {
		if repo.AnalysisResults, err = unmarshalPayload([]byte(results.String)); err != nil {
			return nil, fmt.Errorf("failed to unmarshal analysis results: %w", err)
		}
	}
	if repo.LastAnalyzed, err = parseNullTime(lastAnalyzed); err != nil {
		return nil, err
	}
	if repo.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &repo, nil
}

// CreateAssessment stores a new assessment. A second assessment for the
// same repository is rejected with ErrDuplicate.
func (r *SQLiteRepository) CreateAssessment(ctx context.Context, a *models.Assessment) error {
	questions, err := marshalList(a.Questions)
	if err != nil {
		return fmt.Errorf("failed to marshal questions: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO assessments (id, repository_id, questions, score, correct_answers, created_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, a.ID, a.RepositoryID, string(questions), a.Score, a.CorrectAnswers, formatTime(a.CreatedAt), nullTime(a.CompletedAt))
	if err != nil {
		if isSQLiteConstraint(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to create assessment: %w", err)
	}
	return nil
}

// GetAssessment retrieves an assessment by ID
func (r *SQLiteRepository) GetAssessment(ctx context.Context, id string) (*models.Assessment, error) {
	return getSQLiteAssessment(ctx, r.db, "id", id)
}

// GetAssessmentByRepository retrieves the assessment of a repository
func (r *SQLiteRepository) GetAssessmentByRepository(ctx context.Context, repositoryID string) (*models.Assessment, error) {
	return getSQLiteAssessment(ctx, r.db, "repository_id", repositoryID)
}

type sqlQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getSQLiteAssessment(ctx context.Context, q sqlQuerier, field, value string) (*models.Assessment, error) {
	var a models.Assessment
	var questions, createdAt string
	var score sql.NullFloat64
	var correct sql.NullInt64
	var completedAt sql.NullString

	err := q.QueryRowContext(ctx, `SELECT `+assessmentColumns+` FROM assessments WHERE `+field+` = ?`, value).Scan(
		&a.ID,
		&a.RepositoryID,
		&questions,
		&score,
		&correct,
		&createdAt,
		&completedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get assessment: %w", err)
	}

	if a.Questions, err = unmarshalList[models.Question]([]byte(questions)); err != nil {
		return nil, fmt.Errorf("failed to unmarshal questions: %w", err)
	}
	if score.Valid {
		a.Score = &score.Float64
	}
	if correct.Valid {
		n := int(correct.Int64)
		a.CorrectAnswers = &n
	}
	if a.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if a.CompletedAt, err = parseNullTime(completedAt); err != nil {
		return nil, err
	}
	return &a, nil
}

// RecordAttempt stores an attempt and freezes the assessment on its first one
func (r *SQLiteRepository) RecordAttempt(ctx context.Context, attempt *models.AssessmentAttempt) (*models.Assessment, error) {
	answers, err := marshalList(attempt.Answers)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal answers: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var exists string
	if err := tx.QueryRowContext(ctx, `SELECT id FROM assessments WHERE id = ?`, attempt.AssessmentID).Scan(&exists); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read assessment: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO assessment_attempts (id, assessment_id, answers, correct_answers, score, time_spent, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, attempt.ID, attempt.AssessmentID, string(answers), attempt.CorrectAnswers, attempt.Score, attempt.TimeSpent, formatTime(attempt.CompletedAt))
	if err != nil {
		return nil, fmt.Errorf("failed to insert attempt: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE assessments
		SET score = ?, correct_answers = ?, completed_at = ?
		WHERE id = ? AND completed_at IS NULL
	`, attempt.Score, attempt.CorrectAnswers, formatTime(attempt.CompletedAt), attempt.AssessmentID)
	if err != nil {
		return nil, fmt.Errorf("failed to freeze assessment score: %w", err)
	}

	a, err := getSQLiteAssessment(ctx, tx, "id", attempt.AssessmentID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit attempt: %w", err)
	}
	return a, nil
}

// ListAttempts returns the attempts of an assessment, oldest first
func (r *SQLiteRepository) ListAttempts(ctx context.Context, assessmentID string) ([]*models.AssessmentAttempt, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, assessment_id, answers, correct_answers, score, time_spent, completed_at
		FROM assessment_attempts
		WHERE assessment_id = ?
		ORDER BY completed_at ASC, rowid ASC
	`, assessmentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list attempts: %w", err)
	}
	defer rows.Close()

	var attempts []*models.AssessmentAttempt
	for rows.Next() {
		var at models.AssessmentAttempt
		var answers, completedAt string
		if err := rows.Scan(&at.ID, &at.AssessmentID, &answers, &at.CorrectAnswers, &at.Score, &at.TimeSpent, &completedAt); err != nil {
			return nil, fmt.Errorf("failed to scan attempt: %w", err)
		}
		if at.Answers, err = unmarshalList[int]([]byte(answers)); err != nil {
			return nil, fmt.Errorf("failed to unmarshal answers: %w", err)
		}
		if at.CompletedAt, err = parseTime(completedAt); err != nil {
			return nil, err
		}
		attempts = append(attempts, &at)
	}
	return attempts, rows.Err()
}

// GetClientByApiKey retrieves an API client by its key. Unknown keys yield
// a nil client and no error.
func (r *SQLiteRepository) GetClientByApiKey(ctx context.Context, apiKey string) (*models.ApiClient, error) {
	var client models.ApiClient
	var permissions, createdAt string
	var lastUsed sql.NullString

	err := r.db.QueryRowContext(ctx, `
		SELECT id, name, api_key, is_active, created_at, last_used_at, permissions
		FROM api_clients
		WHERE api_key = ?
	`, apiKey).Scan(&client.ID, &client.Name, &client.ApiKey, &client.IsActive, &createdAt, &lastUsed, &permissions)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get api client: %w", err)
	}

	if client.Permissions, err = unmarshalList[string]([]byte(permissions)); err != nil {
		return nil, fmt.Errorf("failed to unmarshal permissions: %w", err)
	}
	if client.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if client.LastUsedAt, err = parseNullTime(lastUsed); err != nil {
		return nil, err
	}
	return &client, nil
}

// UpdateClientLastUsed updates the last_used_at timestamp for a client
func (r *SQLiteRepository) UpdateClientLastUsed(ctx context.Context, apiKey string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE api_clients SET last_used_at = ? WHERE api_key = ?`, formatTime(time.Now()), apiKey)
	if err != nil {
		return fmt.Errorf("failed to update client last_used_at: %w", err)
	}
	return nil
}

// Helper functions for nullable values

func expectRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// fixed width so that text ordering matches time ordering
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse timestamp %q: %w", s, err)
	}
	return t, nil
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullText(b []byte) sql.NullString {
	if b == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(b), Valid: true}
}

func isSQLiteConstraint(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "constraint failed: UNIQUE")
}
