package models

import (
	"time"
)

const (
	// QuestionCount is the fixed number of questions in every assessment
	QuestionCount = 5
	// OptionCount is the fixed number of options per question
	OptionCount = 4
)

// Question is one multiple-choice question
type Question struct {
	Text          string   `json:"text"`
	Options       []string `json:"options"`
	CorrectAnswer int      `json:"correct_answer"`
	Explanation   string   `json:"explanation"`
}

// Assessment is the quiz generated for a repository. Score, CorrectAnswers
// and CompletedAt are frozen by the first attempt.
type Assessment struct {
	ID             string     `json:"id"`
	RepositoryID   string     `json:"repository"`
	Questions      []Question `json:"questions"`
	Score          *float64   `json:"score"`
	CorrectAnswers *int       `json:"correct_answers,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	CompletedAt    *time.Time `json:"completed_at"`
}

// IsCompleted returns true once the first attempt has been graded
func (a *Assessment) IsCompleted() bool {
	return a.CompletedAt != nil
}

// AssessmentAttempt is one grading event
type AssessmentAttempt struct {
	ID             string    `json:"id"`
	AssessmentID   string    `json:"assessment"`
	Answers        []int     `json:"answers"`
	CorrectAnswers int       `json:"correct_answers"`
	Score          float64   `json:"score"`
	TimeSpent      int       `json:"time_spent"`
	CompletedAt    time.Time `json:"completed_at"`
}

// SubmitRequest represents answers submitted for grading
type SubmitRequest struct {
	Answers   []int `json:"answers"`
	TimeSpent int   `json:"time_spent"`
}
