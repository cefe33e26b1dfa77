package models

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// LastSeenFormat is the canonical timestamp layout for candidate records.
// Merge ordering relies on lexicographic comparison, which only works when
// every producer emits ISO-8601 UTC.
const LastSeenFormat = "2006-01-02T15:04:05Z"

// CandidateHost is a discovered host, deduplicated by (ip, port).
type CandidateHost struct {
	IP              string            `json:"ip"`
	Port            int               `json:"port"`
	Hostname        string            `json:"hostname,omitempty"`
	Sources         []string          `json:"sources"`
	LastSeen        string            `json:"last_seen,omitempty"`
	Location        map[string]string `json:"location,omitempty"`
	ASN             string            `json:"asn,omitempty"`
	Organization    string            `json:"organization,omitempty"`
	HostingProvider string            `json:"hosting_provider,omitempty"`
	IsCloudHosted   bool              `json:"is_cloud_hosted,omitempty"`
	EnrichedAt      string            `json:"enriched_at,omitempty"`
}

// Key returns the deduplication identity.
func (c CandidateHost) Key() string {
	return fmt.Sprintf("%s:%d", c.IP, c.Port)
}

// NormalizeLastSeen re-emits last_seen in the canonical ISO-8601 UTC layout.
// Unparseable values are cleared rather than allowed to poison merge ordering.
func (c *CandidateHost) NormalizeLastSeen() {
	if c.LastSeen == "" {
		return
	}
	for _, layout := range []string{time.RFC3339, LastSeenFormat, "2006-01-02T15:04:05", "2006-01-02"} {
		if ts, err := time.Parse(layout, c.LastSeen); err == nil {
			c.LastSeen = ts.UTC().Format(LastSeenFormat)
			return
		}
	}
	c.LastSeen = ""
}

// Merge folds other into c: sources are unioned, the lexicographically
// greatest last_seen wins, and every other optional field keeps its first
// non-empty value.
func (c *CandidateHost) Merge(other CandidateHost) {
	for _, src := range other.Sources {
		if !containsString(c.Sources, src) {
			c.Sources = append(c.Sources, src)
		}
	}
	if other.LastSeen > c.LastSeen {
		c.LastSeen = other.LastSeen
	}
	if c.Hostname == "" {
		c.Hostname = other.Hostname
	}
	if len(c.Location) == 0 {
		c.Location = other.Location
	}
	if c.ASN == "" {
		c.ASN = other.ASN
	}
	if c.Organization == "" {
		c.Organization = other.Organization
	}
	if c.HostingProvider == "" {
		c.HostingProvider = other.HostingProvider
	}
	if !c.IsCloudHosted {
		c.IsCloudHosted = other.IsCloudHosted
	}
	if c.EnrichedAt == "" {
		c.EnrichedAt = other.EnrichedAt
	}
}

// Deduplicate folds candidates into one entry per (ip, port), preserving
// first-appearance order.
func Deduplicate(candidates []CandidateHost) []CandidateHost {
	byKey := make(map[string]int, len(candidates))
	var result []CandidateHost
	for _, cand := range candidates {
		key := cand.Key()
		if idx, ok := byKey[key]; ok {
			result[idx].Merge(cand)
			continue
		}
		byKey[key] = len(result)
		result = append(result, cand)
	}
	return result
}

// QueryCache is the on-disk record for one executed discovery query.
type QueryCache struct {
	QueryHash      string          `json:"query_hash"`
	Platform       string          `json:"platform"`
	QueryString    string          `json:"query_string"`
	QueryTimestamp string          `json:"query_timestamp"`
	ResultCount    int             `json:"result_count"`
	Candidates     []CandidateHost `json:"candidates"`
}

// HashQuery returns the cache key for a (plugin, query type, value) triple:
// the first 16 hex characters of its SHA-256. The key deliberately excludes
// the plugin-native translated query, so translation changes do not
// invalidate cached results.
func HashQuery(plugin, queryType, value string) string {
	sum := sha256.Sum256([]byte(plugin + ":" + queryType + ":" + value))
	return hex.EncodeToString(sum[:])[:16]
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}
