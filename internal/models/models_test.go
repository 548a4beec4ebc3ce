package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRatingFromValue(t *testing.T) {
	cases := map[string]Rating{
		"1":   RatingA,
		"1.0": RatingA,
		"2.0": RatingB,
		"3":   RatingC,
		"4.0": RatingD,
		"5.0": RatingE,
		"0":   RatingA,
		"6":   RatingA,
		"2.5": RatingA,
		"":    RatingA,
		"x":   RatingA,
	}
	for in, want := range cases {
		assert.Equal(t, want, RatingFromValue(in), "value %q", in)
	}
}

func TestStatusTransitions(t *testing.T) {
	assert.True(t, StatusPending.CanTransition(StatusAnalyzing))
	assert.True(t, StatusAnalyzing.CanTransition(StatusComplete))
	assert.True(t, StatusAnalyzing.CanTransition(StatusFailed))
	assert.True(t, StatusComplete.CanTransition(StatusAnalyzing))
	assert.True(t, StatusFailed.CanTransition(StatusAnalyzing))

	assert.False(t, StatusPending.CanTransition(StatusComplete))
	assert.False(t, StatusAnalyzing.CanTransition(StatusPending))
	assert.False(t, StatusAnalyzing.CanTransition(StatusAnalyzing))
	assert.False(t, StatusComplete.CanTransition(StatusPending))
	assert.False(t, StatusComplete.CanTransition(StatusFailed))
}

func TestPayloadWireShape(t *testing.T) {
	snippet := "eval(input)"
	result := &AnalysisResult{
		ProjectName:  "demo",
		Path:         "/tmp/ws/demo",
		Description:  "A demo",
		Technologies: []string{"Go", "go", " Redis ", ""},
		Metrics:      MetricSet{Bugs: 2, MaintainabilityRating: RatingB},
		Issues:       []Issue{{Message: "m", CodeSnippet: &snippet}},
	}

	data, err := json.Marshal(result.Payload())
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, "complete", doc["status"])

	info := doc["project_info"].(map[string]any)
	quality := doc["code_quality"].(map[string]any)
	assert.Equal(t, "demo", info["name"])
	assert.Equal(t, "/tmp/ws/demo", info["path"])
	assert.Equal(t, []any{"Go", "Redis"}, info["technologies"])

	metrics := quality["metrics"].(map[string]any)
	assert.EqualValues(t, 2, metrics["bugs"])
	assert.Equal(t, "B", metrics["maintainability_rating"])
	assert.Equal(t, []any{}, quality["security_hotspots"])

	issue := quality["issues"].([]any)[0].(map[string]any)
	assert.Equal(t, "eval(input)", issue["code_snippet"])
	assert.Contains(t, issue, "introduction")
	assert.Nil(t, issue["root_cause"])
}

func TestZeroMetricsWireShape(t *testing.T) {
	result := &AnalysisResult{ProjectName: "demo", Metrics: ZeroMetrics()}

	data, err := json.Marshal(result.Payload())
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	quality := doc["code_quality"].(map[string]any)
	assert.Equal(t, false, quality["measured"])

	metrics := quality["metrics"].(map[string]any)
	assert.Len(t, metrics, 9)
	for _, key := range []string{"bugs", "vulnerabilities", "code_smells", "security_hotspots", "cognitive_complexity", "cyclomatic_complexity"} {
		assert.EqualValues(t, 0, metrics[key], key)
	}
	for _, key := range []string{"maintainability_rating", "reliability_rating", "security_rating"} {
		assert.Equal(t, "A", metrics[key], key)
	}
}

func TestMetricSetDefaultsAbsentRatings(t *testing.T) {
	var m MetricSet
	require.NoError(t, json.Unmarshal([]byte(`{"bugs":3,"reliability_rating":"C"}`), &m))
	assert.Equal(t, 3, m.Bugs)
	assert.Equal(t, RatingA, m.MaintainabilityRating)
	assert.Equal(t, RatingC, m.ReliabilityRating)
	assert.Equal(t, RatingA, m.SecurityRating)
}

func TestApiClientPermissions(t *testing.T) {
	c := &ApiClient{IsActive: true, Permissions: []string{"repositories:*", "scores:read"}}
	assert.True(t, c.HasPermission("repositories:write"))
	assert.True(t, c.HasPermission("scores:read"))
	assert.False(t, c.HasPermission("scores:write"))
	assert.False(t, c.HasPermission("assessments:read"))

	admin := &ApiClient{IsActive: true, Permissions: []string{"*"}}
	assert.True(t, admin.HasPermission("assessments:write"))

	admin.IsActive = false
	assert.False(t, admin.HasPermission("assessments:write"))
}
