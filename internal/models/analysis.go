package models

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Rating is a letter grade A (best) to E (worst)
type Rating string

const (
	RatingA Rating = "A"
	RatingB Rating = "B"
	RatingC Rating = "C"
	RatingD Rating = "D"
	RatingE Rating = "E"
)

var ratingScale = map[int]Rating{
	1: RatingA,
	2: RatingB,
	3: RatingC,
	4: RatingD,
	5: RatingE,
}

// RatingFromValue maps the scanner's 1..5 numeric scale onto letter grades.
// Anything else maps to A.
func RatingFromValue(value string) Rating {
	v, err := parseFloat(value)
	if err != nil || v != math.Trunc(v) {
		return RatingA
	}
	if r, ok := ratingScale[int(v)]; ok {
		return r
	}
	return RatingA
}

// MetricSet holds the code-quality measures of one analysis
type MetricSet struct {
	Bugs                  int    `json:"bugs"`
	Vulnerabilities       int    `json:"vulnerabilities"`
	CodeSmells            int    `json:"code_smells"`
	SecurityHotspots      int    `json:"security_hotspots"`
	CognitiveComplexity   int    `json:"cognitive_complexity"`
	CyclomaticComplexity  int    `json:"cyclomatic_complexity"`
	MaintainabilityRating Rating `json:"maintainability_rating"`
	ReliabilityRating     Rating `json:"reliability_rating"`
	SecurityRating        Rating `json:"security_rating"`
}

// ZeroMetrics is substituted when static analysis produced nothing
func ZeroMetrics() MetricSet {
	return MetricSet{
		MaintainabilityRating: RatingA,
		ReliabilityRating:     RatingA,
		SecurityRating:        RatingA,
	}
}

// UnmarshalJSON reads a metric set, defaulting absent ratings to A
func (m *MetricSet) UnmarshalJSON(data []byte) error {
	type plain MetricSet
	var v plain
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*m = MetricSet(v)
	for _, r := range []*Rating{&m.MaintainabilityRating, &m.ReliabilityRating, &m.SecurityRating} {
		if *r == "" {
			*r = RatingA
		}
	}
	return nil
}

// TextRange locates a finding inside a file. Lines are 1-based.
type TextRange struct {
	StartLine   int `json:"startLine"`
	EndLine     int `json:"endLine"`
	StartOffset int `json:"startOffset"`
	EndOffset   int `json:"endOffset"`
}

// Issue is a static-analysis finding
type Issue struct {
	Key          string     `json:"key,omitempty"`
	Rule         string     `json:"rule,omitempty"`
	Message      string     `json:"message"`
	Severity     string     `json:"severity"`
	Type         string     `json:"type"`
	Component    string     `json:"component"`
	FilePath     string     `json:"file_path"`
	TextRange    *TextRange `json:"textRange,omitempty"`
	CodeSnippet  *string    `json:"code_snippet"`
	Introduction *string    `json:"introduction"`
	RootCause    *string    `json:"root_cause"`
}

// Hotspot is a security-sensitive location that needs human review
type Hotspot struct {
	Key             string     `json:"key,omitempty"`
	Message         string     `json:"message"`
	Component       string     `json:"component"`
	FilePath        string     `json:"file_path"`
	TextRange       *TextRange `json:"textRange,omitempty"`
	Line            int        `json:"line,omitempty"`
	Category        string     `json:"securityCategory"`
	Probability     string     `json:"severity"`
	CodeSnippet     *string    `json:"code_snippet"`
	RiskDescription *string    `json:"riskDescription"`
}

// AnalysisResult is the complete outcome of analyzing one repository.
// Measured is false when Metrics is the zeroed fallback.
type AnalysisResult struct {
	ProjectName      string
	Path             string
	Description      string
	Technologies     []string
	Metrics          MetricSet
	Measured         bool
	Issues           []Issue
	SecurityHotspots []Hotspot
}

// ProjectInfo is the AI-derived part of the persisted payload
type ProjectInfo struct {
	Name         string   `json:"name"`
	Path         string   `json:"path"`
	Description  string   `json:"description"`
	Technologies []string `json:"technologies"`
}

// CodeQuality is the scanner-derived part of the persisted payload
type CodeQuality struct {
	Metrics          MetricSet `json:"metrics"`
	Measured         bool      `json:"measured"`
	Issues           []Issue   `json:"issues"`
	SecurityHotspots []Hotspot `json:"security_hotspots"`
}

// AnalysisPayload is the persisted JSON document other layers read
type AnalysisPayload struct {
	Status      AnalysisStatus `json:"status"`
	ProjectInfo ProjectInfo    `json:"project_info"`
	CodeQuality CodeQuality    `json:"code_quality"`
}

// Payload converts the result into its persisted form
func (r *AnalysisResult) Payload() *AnalysisPayload {
	issues := r.Issues
	if issues == nil {
		issues = []Issue{}
	}
	hotspots := r.SecurityHotspots
	if hotspots == nil {
		hotspots = []Hotspot{}
	}
	return &AnalysisPayload{
		Status: StatusComplete,
		ProjectInfo: ProjectInfo{
			Name:         r.ProjectName,
			Path:         r.Path,
			Description:  r.Description,
			Technologies: UniqueStrings(r.Technologies),
		},
		CodeQuality: CodeQuality{
			Metrics:          r.Metrics,
			Measured:         r.Measured,
			Issues:           issues,
			SecurityHotspots: hotspots,
		},
	}
}

// Result converts a persisted payload back into an AnalysisResult
func (p *AnalysisPayload) Result() *AnalysisResult {
	return &AnalysisResult{
		ProjectName:      p.ProjectInfo.Name,
		Path:             p.ProjectInfo.Path,
		Description:      p.ProjectInfo.Description,
		Technologies:     p.ProjectInfo.Technologies,
		Metrics:          p.CodeQuality.Metrics,
		Measured:         p.CodeQuality.Measured,
		Issues:           p.CodeQuality.Issues,
		SecurityHotspots: p.CodeQuality.SecurityHotspots,
	}
}

// UniqueStrings trims values and drops blanks and case-insensitive
// duplicates, keeping the first spelling seen.
func UniqueStrings(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		key := strings.ToLower(v)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, v)
	}
	return out
}

func parseFloat(value string) (float64, error) {
	return strconv.ParseFloat(strings.TrimSpace(value), 64)
}
