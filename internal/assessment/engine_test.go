package assessment

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terra-clan/skillscout/internal/faults"
	"github.com/terra-clan/skillscout/internal/models"
	"github.com/terra-clan/skillscout/internal/storage"
)

type fakeCompleter struct {
	reply json.RawMessage
	err   error
	calls int
	data  map[string]any
}

func (f *fakeCompleter) Complete(ctx context.Context, promptName string, data any) (json.RawMessage, error) {
	f.calls++
	f.data, _ = data.(map[string]any)
	return f.reply, f.err
}

func questionJSON(n int) json.RawMessage {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf(`{"question": "Q%d?", "options": ["A) a", "B) b", "C) c", "D) d"], "correct_answer": %d, "explanation": "because"}`, i+1, i%4)
	}
	return json.RawMessage("[" + strings.Join(parts, ",") + "]")
}

func newStore(t *testing.T) *storage.SQLiteRepository {
	t.Helper()
	store, err := storage.NewSQLiteRepository(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func seedRepository(t *testing.T, store *storage.SQLiteRepository, status models.AnalysisStatus) *models.Repository {
	t.Helper()
	repo := &models.Repository{
		ID:             uuid.NewString(),
		CandidateID:    "c1",
		Name:           "widgets",
		URL:            "https://github.com/example/widgets.git",
		AnalysisStatus: status,
		CreatedAt:      time.Now(),
	}
	if status == models.StatusComplete {
		result := &models.AnalysisResult{
			ProjectName:  "widgets",
			Description:  "An inventory service",
			Technologies: []string{"Go", "PostgreSQL"},
		}
		repo.AnalysisResults = result.Payload()
	}
	require.NoError(t, store.CreateRepository(context.Background(), repo))
	return repo
}

func TestParseQuestions(t *testing.T) {
	valid := `{"question": "Q?", "options": ["a", "b", "c", "d"], "correct_answer": 1, "explanation": "e"}`

	tests := []struct {
		name    string
		raw     string
		wantErr bool
	}{
		{"exactly five", string(questionJSON(5)), false},
		{"extra entries are truncated", string(questionJSON(7)), false},
		{"too few", string(questionJSON(4)), true},
		{"object instead of list", valid, true},
		{"missing explanation", "[" + strings.Repeat(valid+",", 4) + `{"question": "Q?", "options": ["a", "b", "c", "d"], "correct_answer": 1}]`, true},
		{"three options", "[" + strings.Repeat(`{"question": "Q?", "options": ["a", "b", "c"], "correct_answer": 1, "explanation": "e"},`, 4) + valid + "]", true},
		{"answer out of range", "[" + strings.Repeat(valid+",", 4) + `{"question": "Q?", "options": ["a", "b", "c", "d"], "correct_answer": 4, "explanation": "e"}]`, true},
		{"fractional answer", "[" + strings.Repeat(valid+",", 4) + `{"question": "Q?", "options": ["a", "b", "c", "d"], "correct_answer": 1.5, "explanation": "e"}]`, true},
		{"string answer", "[" + strings.Repeat(valid+",", 4) + `{"question": "Q?", "options": ["a", "b", "c", "d"], "correct_answer": "1", "explanation": "e"}]`, true},
		{"null answer", "[" + strings.Repeat(valid+",", 4) + `{"question": "Q?", "options": ["a", "b", "c", "d"], "correct_answer": null, "explanation": "e"}]`, true},
		{"entry not an object", "[" + strings.Repeat(valid+",", 4) + `"nope"]`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			qs, err := ParseQuestions(json.RawMessage(tt.raw))
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, faults.Is(err, faults.KindQuestionValidationFailed))
				return
			}
			require.NoError(t, err)
			require.Len(t, qs, models.QuestionCount)
			for _, q := range qs {
				assert.Len(t, q.Options, models.OptionCount)
				assert.GreaterOrEqual(t, q.CorrectAnswer, 0)
				assert.Less(t, q.CorrectAnswer, models.OptionCount)
			}
		})
	}
}

func TestGrade(t *testing.T) {
	qs, err := ParseQuestions(questionJSON(5))
	require.NoError(t, err)
	a := &models.Assessment{ID: "a1", Questions: qs}

	// correct answers are 0,1,2,3,0
	attempt, err := Grade(a, []int{0, 1, 2, 0, -1}, 42)
	require.NoError(t, err)
	assert.Equal(t, 3, attempt.CorrectAnswers)
	assert.Equal(t, 60.0, attempt.Score)
	assert.Equal(t, 42, attempt.TimeSpent)
	assert.Equal(t, "a1", attempt.AssessmentID)

	again, err := Grade(a, []int{0, 1, 2, 0, -1}, 42)
	require.NoError(t, err)
	assert.Equal(t, attempt, again)

	_, err = Grade(a, []int{0, 1}, 10)
	assert.True(t, faults.Is(err, faults.KindInvalidInput))
	_, err = Grade(a, []int{0, 1, 2, 3, 0}, -1)
	assert.True(t, faults.Is(err, faults.KindInvalidInput))
}

func TestGenerateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	repo := seedRepository(t, store, models.StatusComplete)
	ai := &fakeCompleter{reply: questionJSON(6)}
	engine := NewEngine(store, ai)

	first, err := engine.Generate(ctx, repo.ID)
	require.NoError(t, err)
	assert.Len(t, first.Questions, models.QuestionCount)
	assert.Equal(t, "An inventory service", ai.data["Description"])
	assert.Equal(t, []string{"Go", "PostgreSQL"}, ai.data["Technologies"])

	second, err := engine.Generate(ctx, repo.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, ai.calls)

	got, err := engine.Get(ctx, repo.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)
}

func TestGenerateRequiresCompleteAnalysis(t *testing.T) {
	store := newStore(t)
	repo := seedRepository(t, store, models.StatusPending)
	engine := NewEngine(store, &fakeCompleter{reply: questionJSON(5)})

	_, err := engine.Generate(context.Background(), repo.ID)
	assert.ErrorIs(t, err, ErrAnalysisIncomplete)

	_, err = engine.Generate(context.Background(), "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestGenerateRejectsInvalidQuestions(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	repo := seedRepository(t, store, models.StatusComplete)
	engine := NewEngine(store, &fakeCompleter{reply: questionJSON(3)})

	_, err := engine.Generate(ctx, repo.ID)
	assert.True(t, faults.Is(err, faults.KindQuestionValidationFailed))

	_, err = engine.Get(ctx, repo.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestGeneratePropagatesAIFailures(t *testing.T) {
	store := newStore(t)
	repo := seedRepository(t, store, models.StatusComplete)
	engine := NewEngine(store, &fakeCompleter{err: faults.New(faults.KindAIRequestFailed, "503")})

	_, err := engine.Generate(context.Background(), repo.ID)
	assert.True(t, faults.Is(err, faults.KindAIRequestFailed))
}

func TestSubmitFirstAttemptWins(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	repo := seedRepository(t, store, models.StatusComplete)
	engine := NewEngine(store, &fakeCompleter{reply: questionJSON(5)})

	a, err := engine.Generate(ctx, repo.ID)
	require.NoError(t, err)

	first, updated, err := engine.Submit(ctx, a.ID, []int{0, 1, 2, 3, 0}, 120)
	require.NoError(t, err)
	assert.Equal(t, 100.0, first.Score)
	require.NotNil(t, updated.Score)
	assert.Equal(t, 100.0, *updated.Score)
	require.NotNil(t, updated.CompletedAt)
	frozenAt := *updated.CompletedAt

	second, updated, err := engine.Submit(ctx, a.ID, []int{1, 1, 1, 1, 1}, 30)
	require.NoError(t, err)
	assert.Equal(t, 20.0, second.Score)
	assert.Equal(t, 100.0, *updated.Score)
	assert.Equal(t, 5, *updated.CorrectAnswers)
	assert.Equal(t, frozenAt, *updated.CompletedAt)

	attempts, err := engine.Attempts(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, attempts, 2)
	assert.Equal(t, first.ID, attempts[0].ID)
	assert.Equal(t, second.ID, attempts[1].ID)

	_, _, err = engine.Submit(ctx, "missing", []int{0, 0, 0, 0, 0}, 1)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = engine.Attempts(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
