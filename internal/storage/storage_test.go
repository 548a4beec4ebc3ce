package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terra-clan/skillscout/internal/models"
)

func newTestRepository(t *testing.T) *SQLiteRepository {
	t.Helper()
	repo, err := NewSQLiteRepository(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func linkedRepository(candidateID, name string) *models.Repository {
	return &models.Repository{
		ID:             uuid.NewString(),
		CandidateID:    candidateID,
		Name:           name,
		URL:            "https://github.com/example/" + name + ".git",
		Languages:      []string{"Go"},
		AnalysisStatus: models.StatusPending,
		CreatedAt:      time.Now().UTC(),
	}
}

func sampleQuestions() []models.Question {
	qs := make([]models.Question, models.QuestionCount)
	for i := range qs {
		qs[i] = models.Question{
			Text:          "question",
			Options:       []string{"a", "b", "c", "d"},
			CorrectAnswer: i % models.OptionCount,
			Explanation:   "because",
		}
	}
	return qs
}

func TestCandidateUpsert(t *testing.T) {
	ctx := context.Background()
	store := newTestRepository(t)

	_, err := store.GetCandidate(ctx, "c1")
	assert.ErrorIs(t, err, ErrNotFound)

	profile := &models.CandidateProfile{
		ID:             "c1",
		FullName:       "Ada",
		EducationLevel: "masters",
		Skills:         []string{"Go", "SQL"},
		UpdatedAt:      time.Now(),
	}
	require.NoError(t, store.UpsertCandidate(ctx, profile))

	profile.Skills = append(profile.Skills, "Redis")
	profile.ExperienceYears = 4
	require.NoError(t, store.UpsertCandidate(ctx, profile))

	got, err := store.GetCandidate(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "Ada", got.FullName)
	assert.Equal(t, []string{"Go", "SQL", "Redis"}, got.Skills)
	assert.Equal(t, 4, got.ExperienceYears)
}

func TestRepositoryLifecycle(t *testing.T) {
	ctx := context.Background()
	store := newTestRepository(t)

	repo := linkedRepository("c1", "widgets")
	require.NoError(t, store.CreateRepository(ctx, repo))

	assert.ErrorIs(t, store.CreateRepository(ctx, linkedRepository("c1", "widgets")), ErrDuplicate)
	require.NoError(t, store.CreateRepository(ctx, linkedRepository("c2", "widgets")))

	got, err := store.GetRepository(ctx, repo.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, got.AnalysisStatus)
	assert.Nil(t, got.AnalysisResults)
	assert.Nil(t, got.LastAnalyzed)

	now := time.Now().UTC()
	result := &models.AnalysisResult{
		ProjectName:  "widgets",
		Technologies: []string{"Go"},
		Metrics:      models.MetricSet{Bugs: 1, MaintainabilityRating: models.RatingA},
	}
	got.AnalysisStatus = models.StatusComplete
	got.AnalysisResults = result.Payload()
	got.WorkspacePath = "/tmp/ws/widgets"
	got.LastAnalyzed = &now
	require.NoError(t, store.UpdateRepository(ctx, got))

	got, err = store.GetRepository(ctx, repo.ID)
	require.NoError(t, err)
	assert.True(t, got.HasCompleteAnalysis())
	assert.Equal(t, "widgets", got.AnalysisResults.ProjectInfo.Name)
	assert.Equal(t, 1, got.AnalysisResults.CodeQuality.Metrics.Bugs)
	assert.Equal(t, "/tmp/ws/widgets", got.WorkspacePath)
	require.NotNil(t, got.LastAnalyzed)
	assert.WithinDuration(t, now, *got.LastAnalyzed, time.Millisecond)

	list, err := store.ListRepositories(ctx, models.ListFilters{CandidateID: "c1"})
	require.NoError(t, err)
	assert.Len(t, list, 1)

	list, err = store.ListRepositories(ctx, models.ListFilters{Status: models.StatusPending})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "c2", list[0].CandidateID)

	require.NoError(t, store.DeleteRepository(ctx, repo.ID))
	_, err = store.GetRepository(ctx, repo.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, store.DeleteRepository(ctx, repo.ID), ErrNotFound)
	assert.ErrorIs(t, store.UpdateRepository(ctx, repo), ErrNotFound)
}

func TestFirstAttemptFreezesAssessment(t *testing.T) {
	ctx := context.Background()
	store := newTestRepository(t)

	repo := linkedRepository("c1", "widgets")
	require.NoError(t, store.CreateRepository(ctx, repo))

	a := &models.Assessment{
		ID:           uuid.NewString(),
		RepositoryID: repo.ID,
		Questions:    sampleQuestions(),
		CreatedAt:    time.Now(),
	}
	require.NoError(t, store.CreateAssessment(ctx, a))

	second := *a
	second.ID = uuid.NewString()
	assert.ErrorIs(t, store.CreateAssessment(ctx, &second), ErrDuplicate)

	first := &models.AssessmentAttempt{
		ID:             uuid.NewString(),
		AssessmentID:   a.ID,
		Answers:        []int{0, 1, 2, 3, 0},
		CorrectAnswers: 5,
		Score:          100,
		TimeSpent:      60,
		CompletedAt:    time.Now(),
	}
	frozen, err := store.RecordAttempt(ctx, first)
	require.NoError(t, err)
	require.NotNil(t, frozen.Score)
	assert.Equal(t, 100.0, *frozen.Score)
	require.NotNil(t, frozen.CorrectAnswers)
	assert.Equal(t, 5, *frozen.CorrectAnswers)
	require.NotNil(t, frozen.CompletedAt)
	completedAt := *frozen.CompletedAt

	retry := &models.AssessmentAttempt{
		ID:             uuid.NewString(),
		AssessmentID:   a.ID,
		Answers:        []int{3, 3, 3, 3, 3},
		CorrectAnswers: 1,
		Score:          20,
		TimeSpent:      30,
		CompletedAt:    time.Now().Add(time.Minute),
	}
	after, err := store.RecordAttempt(ctx, retry)
	require.NoError(t, err)
	assert.Equal(t, 100.0, *after.Score)
	assert.Equal(t, completedAt, *after.CompletedAt)

	attempts, err := store.ListAttempts(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, attempts, 2)
	assert.Equal(t, 100.0, attempts[0].Score)
	assert.Equal(t, 20.0, attempts[1].Score)
	assert.Equal(t, []int{3, 3, 3, 3, 3}, attempts[1].Answers)

	byRepo, err := store.GetAssessmentByRepository(ctx, repo.ID)
	require.NoError(t, err)
	assert.Equal(t, a.ID, byRepo.ID)
	assert.Len(t, byRepo.Questions, models.QuestionCount)

	_, err = store.RecordAttempt(ctx, &models.AssessmentAttempt{ID: uuid.NewString(), AssessmentID: "missing", CompletedAt: time.Now()})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteRepositoryCascades(t *testing.T) {
	ctx := context.Background()
	store := newTestRepository(t)

	repo := linkedRepository("c1", "widgets")
	require.NoError(t, store.CreateRepository(ctx, repo))
	a := &models.Assessment{ID: uuid.NewString(), RepositoryID: repo.ID, Questions: sampleQuestions(), CreatedAt: time.Now()}
	require.NoError(t, store.CreateAssessment(ctx, a))
	_, err := store.RecordAttempt(ctx, &models.AssessmentAttempt{
		ID: uuid.NewString(), AssessmentID: a.ID, Answers: []int{0, 0, 0, 0, 0}, CompletedAt: time.Now(),
	})
	require.NoError(t, err)

	require.NoError(t, store.DeleteRepository(ctx, repo.ID))

	_, err = store.GetAssessment(ctx, a.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	attempts, err := store.ListAttempts(ctx, a.ID)
	require.NoError(t, err)
	assert.Empty(t, attempts)
}

func TestApiClients(t *testing.T) {
	ctx := context.Background()
	store := newTestRepository(t)

	client, err := store.GetClientByApiKey(ctx, "sk_unknown")
	require.NoError(t, err)
	assert.Nil(t, client)

	c := &models.ApiClient{
		Name:        "crud",
		ApiKey:      "sk_test_0123456789",
		IsActive:    true,
		Permissions: []string{"repositories:*"},
		CreatedAt:   time.Now(),
	}
	require.NoError(t, store.CreateClient(ctx, c))
	assert.NotZero(t, c.ID)
	assert.ErrorIs(t, store.CreateClient(ctx, c), ErrDuplicate)

	require.NoError(t, store.UpdateClientLastUsed(ctx, c.ApiKey))

	got, err := store.GetClientByApiKey(ctx, c.ApiKey)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.IsActive)
	assert.True(t, got.HasPermission("repositories:write"))
	assert.NotNil(t, got.LastUsedAt)
}

func TestPendingMigrations(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"002_more.sql", "001_initial.sql", "notes.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("SELECT 1;"), 0o644))
	}

	pending, err := pendingMigrations(dir, map[string]bool{"001_initial.sql": true})
	require.NoError(t, err)
	assert.Equal(t, []string{"002_more.sql"}, pending)

	_, err = pendingMigrations(filepath.Join(dir, "missing"), nil)
	assert.Error(t, err)
}

func TestShippedMigrationsAreListed(t *testing.T) {
	pending, err := pendingMigrations(filepath.Join("..", "..", "migrations"), nil)
	require.NoError(t, err)
	assert.Contains(t, pending, "001_initial.sql")
}
