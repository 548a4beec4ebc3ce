// Package scoring turns persisted analyses, assessments and profiles into
// comparable candidate scores. Every function is pure.
package scoring

import (
	"math"
	"strings"

	"github.com/terra-clan/skillscout/internal/models"
)

const (
	skillWeight     = 0.70
	educationWeight = 0.15
	diversityWeight = 0.15

	pointsPerSkill = 5
	maxPoints      = 100
)

var educationLadder = map[string]int{
	"phd":         100,
	"masters":     80,
	"bachelors":   60,
	"high-school": 40,
}

// RepositoryRecord is one linked repository with its assessment, if any
type RepositoryRecord struct {
	Repository *models.Repository
	Assessment *models.Assessment
}

// MetricScore rates a metric set: 100 for maintainability A, 80 for B and 0
// otherwise, minus 5 per bug, 2 per code smell and 10 per vulnerability,
// never below 0.
func MetricScore(m models.MetricSet) float64 {
	var score float64
	switch m.MaintainabilityRating {
	case models.RatingA:
		score = 100
	case models.RatingB:
		score = 80
	}
	score -= float64(5*m.Bugs + 2*m.CodeSmells + 10*m.Vulnerabilities)
	return math.Max(score, 0)
}

// SkillScore averages every contribution across the candidate's
// repositories: the assessment score once graded and the metric score once a
// scan has measured the repository. No contributions means 0.
func SkillScore(records []RepositoryRecord) float64 {
	var sum float64
	var n int

	for _, rec := range records {
		if rec.Assessment != nil && rec.Assessment.Score != nil {
			sum += clamp(*rec.Assessment.Score)
			n++
		}
		if rec.Repository != nil && rec.Repository.HasCompleteAnalysis() {
			quality := rec.Repository.AnalysisResults.CodeQuality
			// zeroed fallback metrics carry no signal
			if quality.Measured {
				sum += MetricScore(quality.Metrics)
				n++
			}
		}
	}

	if n == 0 {
		return 0
	}
	return clamp(sum / float64(n))
}

// EducationPoints maps an education level onto the fixed ladder
func EducationPoints(level string) int {
	key := strings.ToLower(strings.TrimSpace(level))
	key = strings.NewReplacer("_", "-", " ", "-").Replace(key)
	return educationLadder[key]
}

// SkillDiversityPoints gives 5 points per distinct skill, capped at 100
func SkillDiversityPoints(skills []string) int {
	return min(pointsPerSkill*len(models.UniqueStrings(skills)), maxPoints)
}

// SkillProfile is the union of declared skills and the technologies found by
// completed analyses
func SkillProfile(profile *models.CandidateProfile, records []RepositoryRecord) []string {
	var skills []string
	if profile != nil {
		skills = append(skills, profile.Skills...)
	}
	for _, rec := range records {
		if rec.Repository != nil && rec.Repository.HasCompleteAnalysis() {
			skills = append(skills, rec.Repository.AnalysisResults.ProjectInfo.Technologies...)
		}
	}
	return models.UniqueStrings(skills)
}

// OverallScore weighs skill score, education and diversity into one
// rounded 0..100 value
func OverallScore(skillScore float64, educationPoints, diversityPoints int) int {
	total := skillWeight*clamp(skillScore) +
		educationWeight*float64(educationPoints) +
		diversityWeight*float64(diversityPoints)
	return int(math.Round(clamp(total)))
}

// Score computes the full score projection of a candidate
func Score(profile *models.CandidateProfile, records []RepositoryRecord) models.CandidateScore {
	skills := SkillProfile(profile, records)
	skill := SkillScore(records)

	var education int
	var id string
	if profile != nil {
		id = profile.ID
		education = EducationPoints(profile.EducationLevel)
	}
	diversity := SkillDiversityPoints(skills)

	return models.CandidateScore{
		CandidateID:     id,
		SkillScore:      math.Round(skill*100) / 100,
		EducationPoints: education,
		DiversityPoints: diversity,
		OverallScore:    OverallScore(skill, education, diversity),
		Skills:          skills,
	}
}

func clamp(v float64) float64 {
	return math.Min(math.Max(v, 0), maxPoints)
}
