package models

import (
	"time"
)

// CandidateProfile holds the self-declared part of a candidate's record
type CandidateProfile struct {
	ID              string    `json:"id"`
	FullName        string    `json:"full_name"`
	Location        string    `json:"location,omitempty"`
	EducationLevel  string    `json:"education_level"`
	Bio             string    `json:"bio,omitempty"`
	Skills          []string  `json:"skills"`
	ExperienceYears int       `json:"experience_years"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// CandidateScore is the read-only score projection for one candidate
type CandidateScore struct {
	CandidateID     string   `json:"candidate_id"`
	SkillScore      float64  `json:"skill_score"`
	EducationPoints int      `json:"education_points"`
	DiversityPoints int      `json:"skill_diversity_points"`
	OverallScore    int      `json:"overall_score"`
	Skills          []string `json:"skills"`
}
