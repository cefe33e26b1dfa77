package discover

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/sigint-sh/sigint/internal/models"
)

// CandidatesFile is the on-disk format for a discovered candidate set.
type CandidatesFile struct {
	FingerprintRunID       string                 `json:"fingerprint_run_id"`
	DiscoveryTimestamp     string                 `json:"discovery_timestamp"`
	TotalCandidates        int                    `json:"total_candidates"`
	GeographicDistribution map[string]int         `json:"geographic_distribution"`
	Candidates             []models.CandidateHost `json:"candidates"`
}

// BuildCandidatesFile assembles the export document, counting candidates per
// country. Candidates without location data count under "unknown".
func BuildCandidatesFile(runID string, candidates []models.CandidateHost, now time.Time) CandidatesFile {
	distribution := map[string]int{}
	for _, c := range candidates {
		country := c.Location["country_code"]
		if country == "" {
			country = c.Location["country"]
		}
		if country == "" {
			country = "unknown"
		}
		distribution[country]++
	}
	return CandidatesFile{
		FingerprintRunID:       runID,
		DiscoveryTimestamp:     now.UTC().Format(time.RFC3339),
		TotalCandidates:        len(candidates),
		GeographicDistribution: distribution,
		Candidates:             candidates,
	}
}

// WriteCandidates saves the candidate set to path as indented JSON.
func WriteCandidates(path, runID string, candidates []models.CandidateHost) error {
	doc := BuildCandidatesFile(runID, candidates, time.Now())
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal candidates: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write candidates file: %w", err)
	}
	return nil
}

// ReadCandidates loads a previously exported candidate set.
func ReadCandidates(path string) (*CandidatesFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read candidates file: %w", err)
	}
	var doc CandidatesFile
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse candidates file: %w", err)
	}
	return &doc, nil
}
