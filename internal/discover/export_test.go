package discover

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sigint-sh/sigint/internal/models"
)

func TestBuildCandidatesFile(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	candidates := []models.CandidateHost{
		{IP: "1.2.3.4", Port: 80, Location: map[string]string{"country_code": "US"}},
		{IP: "5.6.7.8", Port: 443, Location: map[string]string{"country_code": "US"}},
		{IP: "9.9.9.9", Port: 80, Location: map[string]string{"country": "Germany"}},
		{IP: "10.0.0.1", Port: 8080},
	}

	doc := BuildCandidatesFile("20260301_120000_abc123", candidates, now)
	assert.Equal(t, "20260301_120000_abc123", doc.FingerprintRunID)
	assert.Equal(t, "2026-03-01T12:00:00Z", doc.DiscoveryTimestamp)
	assert.Equal(t, 4, doc.TotalCandidates)
	assert.Equal(t, map[string]int{"US": 2, "Germany": 1, "unknown": 1}, doc.GeographicDistribution)
}

func TestWriteReadCandidatesRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "candidates.json")
	candidates := []models.CandidateHost{
		{IP: "1.2.3.4", Port: 80, Sources: []string{"shodan"}, Location: map[string]string{"country_code": "NL"}},
	}

	require.NoError(t, WriteCandidates(path, "20260301_120000_abc123", candidates))

	doc, err := ReadCandidates(path)
	require.NoError(t, err)
	assert.Equal(t, "20260301_120000_abc123", doc.FingerprintRunID)
	require.Len(t, doc.Candidates, 1)
	assert.Equal(t, candidates[0], doc.Candidates[0])
	assert.Equal(t, 1, doc.GeographicDistribution["NL"])
}

func TestReadCandidatesMissingFile(t *testing.T) {
	_, err := ReadCandidates(filepath.Join(t.TempDir(), "nope.json"))
	require.Error(t, err)
}
