package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var defaultThresholds = Thresholds{Verified: 80, Likely: 50, Partial: 30}

func TestCalculateScore(t *testing.T) {
	results := []ProbeResult{
		{PointsEarned: 80},
		{PointsEarned: 50},
		{PointsEarned: 15, Skipped: true},
	}
	// Skipped probes never contribute; the sum is capped at max score.
	assert.Equal(t, 100.0, CalculateScore(results, 100))
	assert.Equal(t, 80.0, CalculateScore(results[:1], 100))
	assert.Equal(t, 0.0, CalculateScore(nil, 100))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		score float64
		want  Classification
	}{
		{score: 100, want: ClassVerified},
		{score: 80, want: ClassVerified},
		{score: 79.9, want: ClassLikely},
		{score: 50, want: ClassLikely},
		{score: 49, want: ClassPartial},
		{score: 30, want: ClassPartial},
		{score: 29, want: ClassUnlikely},
		{score: 0.5, want: ClassUnlikely},
		{score: 0, want: ClassNoMatch},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Classify(tt.score, defaultThresholds), "score %v", tt.score)
	}
}

func TestClassifyMonotonic(t *testing.T) {
	rank := map[Classification]int{
		ClassNoMatch: 0, ClassUnlikely: 1, ClassPartial: 2, ClassLikely: 3, ClassVerified: 4,
	}
	prev := -1
	for score := 0.0; score <= 100; score += 0.5 {
		r := rank[Classify(score, defaultThresholds)]
		assert.GreaterOrEqual(t, r, prev, "score %v", score)
		prev = r
	}
}

func TestProbeResultMarshalOmitsZeroPoints(t *testing.T) {
	data, err := json.Marshal(ProbeResult{
		Order: 1, URLPath: "/", CheckType: CheckPageSignature, Success: true,
	})
	require.NoError(t, err)
	assert.NotContains(t, string(data), "points_earned")
	assert.NotContains(t, string(data), "max_points")

	data, err = json.Marshal(ProbeResult{
		Order: 1, URLPath: "/", CheckType: CheckFaviconHash,
		PointsEarned: 80, MaxPoints: 80, Success: true, Matched: true,
	})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"points_earned":80`)
	assert.Contains(t, string(data), `"max_points":80`)
}

func TestVerificationResultMarshalIncludesURL(t *testing.T) {
	result := VerificationResult{
		IP: "10.0.0.1", Port: 8443, Scheme: "https", PrefixUsed: "/dvwa",
		Score: 80, Classification: ClassVerified,
	}
	data, err := json.Marshal(result)
	require.NoError(t, err)

	var obj map[string]any
	require.NoError(t, json.Unmarshal(data, &obj))
	assert.Equal(t, "https://10.0.0.1:8443/dvwa", obj["url"])
	// Empty optional fields stay out of the output.
	assert.NotContains(t, obj, "hostname")
	assert.NotContains(t, obj, "alternate_scheme_tried")
	assert.NotContains(t, obj, "tls_certificate")
}

func TestSummarize(t *testing.T) {
	results := []VerificationResult{
		{Classification: ClassVerified},
		{Classification: ClassVerified},
		{Classification: ClassLikely},
		{Classification: ClassNoMatch, ProbeResults: []ProbeResult{{Error: "connection refused"}}},
		{Classification: ClassUnlikely},
		{Classification: ClassPartial},
	}
	summary := Summarize(results)
	assert.Equal(t, 6, summary.Total)
	assert.Equal(t, 2, summary.Verified)
	assert.Equal(t, 1, summary.Likely)
	assert.Equal(t, 1, summary.Partial)
	assert.Equal(t, 1, summary.Unlikely)
	assert.Equal(t, 1, summary.NoMatch)
	assert.Equal(t, 1, summary.Errors)
}
