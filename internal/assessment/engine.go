// Package assessment generates the multiple-choice quiz for an analyzed
// repository and grades submitted answers.
package assessment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/terra-clan/skillscout/internal/faults"
	"github.com/terra-clan/skillscout/internal/models"
	"github.com/terra-clan/skillscout/internal/prompts"
	"github.com/terra-clan/skillscout/internal/storage"
)

// ErrAnalysisIncomplete is returned when a quiz is requested for a
// repository without a complete analysis
var ErrAnalysisIncomplete = errors.New("repository analysis is not complete")

var requiredFields = []string{"question", "options", "correct_answer", "explanation"}

// Completer renders a prompt and returns the JSON document of the reply
type Completer interface {
	Complete(ctx context.Context, promptName string, data any) (json.RawMessage, error)
}

// Store is the persistence the engine needs
type Store interface {
	GetRepository(ctx context.Context, id string) (*models.Repository, error)
	CreateAssessment(ctx context.Context, a *models.Assessment) error
	GetAssessment(ctx context.Context, id string) (*models.Assessment, error)
	GetAssessmentByRepository(ctx context.Context, repositoryID string) (*models.Assessment, error)
	RecordAttempt(ctx context.Context, attempt *models.AssessmentAttempt) (*models.Assessment, error)
	ListAttempts(ctx context.Context, assessmentID string) ([]*models.AssessmentAttempt, error)
}

// Engine generates and grades assessments
type Engine struct {
	store Store
	ai    Completer
	now   func() time.Time
}

// NewEngine creates an engine
func NewEngine(store Store, ai Completer) *Engine {
	return &Engine{store: store, ai: ai, now: time.Now}
}

// Generate returns the repository's assessment, creating it from the
// analysis on first use
func (e *Engine) Generate(ctx context.Context, repositoryID string) (*models.Assessment, error) {
	existing, err := e.store.GetAssessmentByRepository(ctx, repositoryID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("failed to look up assessment: %w", err)
	}

	repo, err := e.store.GetRepository(ctx, repositoryID)
	if err != nil {
		return nil, err
	}
	if !repo.HasCompleteAnalysis() {
		return nil, ErrAnalysisIncomplete
	}

	info := repo.AnalysisResults.ProjectInfo
	raw, err := e.ai.Complete(ctx, prompts.Assessment, map[string]any{
		"Name":          info.Name,
		"Description":   info.Description,
		"Technologies":  info.Technologies,
		"QuestionCount": models.QuestionCount,
		"OptionCount":   models.OptionCount,
	})
	if err != nil {
		return nil, err
	}

	questions, err := ParseQuestions(raw)
	if err != nil {
		slog.Warn("rejected generated questions", "repository_id", repositoryID, "error", err)
		return nil, err
	}

	a := &models.Assessment{
		ID:           uuid.NewString(),
		RepositoryID: repositoryID,
		Questions:    questions,
		CreatedAt:    e.now().UTC(),
	}
	if err := e.store.CreateAssessment(ctx, a); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			// a concurrent request won; hand back its assessment
			return e.store.GetAssessmentByRepository(ctx, repositoryID)
		}
		return nil, fmt.Errorf("failed to save assessment: %w", err)
	}

	slog.Info("assessment generated", "repository_id", repositoryID, "assessment_id", a.ID)
	return a, nil
}

// Get returns the repository's assessment
func (e *Engine) Get(ctx context.Context, repositoryID string) (*models.Assessment, error) {
	return e.store.GetAssessmentByRepository(ctx, repositoryID)
}

// ParseQuestions validates a generated question list. Extra entries beyond
// the fixed count are dropped; any other deviation is rejected.
func ParseQuestions(raw json.RawMessage) ([]models.Question, error) {
	var entries []map[string]json.RawMessage
	if len(raw) == 0 || raw[0] != '[' {
		return nil, faults.New(faults.KindQuestionValidationFailed, "expected a JSON array of questions")
	}
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, faults.Wrap(faults.KindQuestionValidationFailed, err, "questions must be JSON objects")
	}

	if len(entries) > models.QuestionCount {
		entries = entries[:models.QuestionCount]
	}
	if len(entries) < models.QuestionCount {
		return nil, faults.New(faults.KindQuestionValidationFailed,
			"expected %d questions, got %d", models.QuestionCount, len(entries))
	}

	questions := make([]models.Question, 0, len(entries))
	for i, entry := range entries {
		q, err := parseQuestion(entry)
		if err != nil {
			return nil, faults.Wrap(faults.KindQuestionValidationFailed, err, fmt.Sprintf("question %d", i+1))
		}
		questions = append(questions, q)
	}
	return questions, nil
}

func parseQuestion(entry map[string]json.RawMessage) (models.Question, error) {
	var q models.Question
	for _, field := range requiredFields {
		if _, ok := entry[field]; !ok {
			return q, fmt.Errorf("missing field %q", field)
		}
	}

	if err := json.Unmarshal(entry["question"], &q.Text); err != nil {
		return q, errors.New("question must be a string")
	}
	if strings.TrimSpace(q.Text) == "" {
		return q, errors.New("question is empty")
	}
	if err := json.Unmarshal(entry["options"], &q.Options); err != nil {
		return q, errors.New("options must be a list of strings")
	}
	if len(q.Options) != models.OptionCount {
		return q, fmt.Errorf("expected %d options, got %d", models.OptionCount, len(q.Options))
	}
	if err := json.Unmarshal(entry["explanation"], &q.Explanation); err != nil {
		return q, errors.New("explanation must be a string")
	}

	// json.Unmarshal into int rejects fractions and strings but not null
	var answer int
	raw := entry["correct_answer"]
	if string(raw) == "null" {
		return q, errors.New("correct_answer must be an integer")
	}
	if err := json.Unmarshal(raw, &answer); err != nil {
		return q, errors.New("correct_answer must be an integer")
	}
	if answer < 0 || answer >= models.OptionCount {
		return q, fmt.Errorf("correct_answer %d out of range", answer)
	}
	q.CorrectAnswer = answer

	return q, nil
}

// Grade scores answers against the assessment. It is deterministic and does
// not touch storage.
func Grade(a *models.Assessment, answers []int, timeSpent int) (*models.AssessmentAttempt, error) {
	if len(a.Questions) == 0 {
		return nil, faults.New(faults.KindInvalidInput, "assessment has no questions")
	}
	if len(answers) != len(a.Questions) {
		return nil, faults.New(faults.KindInvalidInput,
			"expected %d answers, got %d", len(a.Questions), len(answers))
	}
	if timeSpent < 0 {
		return nil, faults.New(faults.KindInvalidInput, "time spent must not be negative")
	}

	correct := 0
	for i, q := range a.Questions {
		if answers[i] == q.CorrectAnswer {
			correct++
		}
	}

	return &models.AssessmentAttempt{
		AssessmentID:   a.ID,
		Answers:        append([]int(nil), answers...),
		CorrectAnswers: correct,
		Score:          100 * float64(correct) / float64(len(a.Questions)),
		TimeSpent:      timeSpent,
	}, nil
}

// Submit grades answers and records the attempt. The returned assessment
// reflects the frozen first-attempt score.
func (e *Engine) Submit(ctx context.Context, assessmentID string, answers []int, timeSpent int) (*models.AssessmentAttempt, *models.Assessment, error) {
	a, err := e.store.GetAssessment(ctx, assessmentID)
	if err != nil {
		return nil, nil, err
	}

	attempt, err := Grade(a, answers, timeSpent)
	if err != nil {
		return nil, nil, err
	}
	attempt.ID = uuid.NewString()
	attempt.CompletedAt = e.now().UTC()

	updated, err := e.store.RecordAttempt(ctx, attempt)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to record attempt: %w", err)
	}

	slog.Info("assessment attempt graded",
		"assessment_id", assessmentID,
		"attempt_id", attempt.ID,
		"score", attempt.Score,
	)
	return attempt, updated, nil
}

// Attempts lists every attempt on an assessment, oldest first
func (e *Engine) Attempts(ctx context.Context, assessmentID string) ([]*models.AssessmentAttempt, error) {
	if _, err := e.store.GetAssessment(ctx, assessmentID); err != nil {
		return nil, err
	}
	return e.store.ListAttempts(ctx, assessmentID)
}
