package models

import (
	"encoding/json"
	"fmt"
)

// Classification buckets a verification score.
type Classification string

const (
	ClassVerified Classification = "verified"
	ClassLikely   Classification = "likely"
	ClassPartial  Classification = "partial"
	ClassUnlikely Classification = "unlikely"
	ClassNoMatch  Classification = "no_match"
)

// ProbeResult records the outcome of one probe step against one candidate.
type ProbeResult struct {
	Order          int       `json:"order"`
	URLPath        string    `json:"url_path"`
	CheckType      CheckType `json:"check_type"`
	HTTPStatus     int       `json:"http_status,omitempty"`
	ResponseTimeMs float64   `json:"response_time_ms,omitempty"`
	Expected       string    `json:"expected,omitempty"`
	Actual         string    `json:"actual,omitempty"`
	PointsEarned   int       `json:"points_earned"`
	MaxPoints      int       `json:"max_points"`
	Success        bool      `json:"success"`
	Matched        bool      `json:"matched"`
	Skipped        bool      `json:"skipped,omitempty"`
	Error          string    `json:"error,omitempty"`
}

// MarshalJSON omits zero points fields from the output.
func (p ProbeResult) MarshalJSON() ([]byte, error) {
	type alias ProbeResult
	raw, err := json.Marshal(alias(p))
	if err != nil {
		return nil, err
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, err
	}
	if p.PointsEarned == 0 {
		delete(obj, "points_earned")
	}
	if p.MaxPoints == 0 {
		delete(obj, "max_points")
	}
	return json.Marshal(obj)
}

// TLSCertificate holds the fields harvested from a candidate's certificate.
type TLSCertificate struct {
	SubjectCN         string   `json:"subject_cn,omitempty"`
	SubjectO          string   `json:"subject_o,omitempty"`
	IssuerCN          string   `json:"issuer_cn,omitempty"`
	IssuerO           string   `json:"issuer_o,omitempty"`
	NotBefore         string   `json:"not_before,omitempty"`
	NotAfter          string   `json:"not_after,omitempty"`
	SANs              []string `json:"sans,omitempty"`
	Emails            []string `json:"emails,omitempty"`
	SerialNumber      string   `json:"serial_number,omitempty"`
	SHA256Fingerprint string   `json:"sha256_fingerprint,omitempty"`
	IsValid           bool     `json:"is_valid,omitempty"`
	IsSelfSigned      bool     `json:"is_self_signed,omitempty"`
	Error             string   `json:"error,omitempty"`
}

// VerificationResult is the per-candidate verdict.
type VerificationResult struct {
	IP                    string          `json:"ip"`
	Port                  int             `json:"port"`
	Hostname              string          `json:"hostname,omitempty"`
	Scheme                string          `json:"scheme"`
	PrefixUsed            string          `json:"prefix_used,omitempty"`
	AlternateSchemeTried  bool            `json:"alternate_scheme_tried,omitempty"`
	ProbeResults          []ProbeResult   `json:"probe_results,omitempty"`
	TotalProbes           int             `json:"total_probes"`
	MatchedProbes         int             `json:"matched_probes"`
	Score                 float64         `json:"score"`
	Classification        Classification  `json:"classification"`
	TLSCertificate        *TLSCertificate `json:"tls_certificate,omitempty"`
	VerificationStarted   string          `json:"verification_started,omitempty"`
	VerificationCompleted string          `json:"verification_completed,omitempty"`
	DurationMs            float64         `json:"duration_ms,omitempty"`
}

// URL derives the probed base URL from the identity fields.
func (v VerificationResult) URL() string {
	return fmt.Sprintf("%s://%s:%d%s", v.Scheme, v.IP, v.Port, v.PrefixUsed)
}

// MarshalJSON adds the derived url field.
func (v VerificationResult) MarshalJSON() ([]byte, error) {
	type alias VerificationResult
	raw, err := json.Marshal(alias(v))
	if err != nil {
		return nil, err
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, err
	}
	urlJSON, err := json.Marshal(v.URL())
	if err != nil {
		return nil, err
	}
	obj["url"] = urlJSON
	return json.Marshal(obj)
}

// CalculateScore sums points over non-skipped probes and caps at maxScore.
func CalculateScore(results []ProbeResult, maxScore int) float64 {
	total := 0
	for _, r := range results {
		if r.Skipped {
			continue
		}
		total += r.PointsEarned
	}
	if total > maxScore {
		total = maxScore
	}
	return float64(total)
}

// Thresholds are the classification boundaries on the score scale.
type Thresholds struct {
	Verified float64
	Likely   float64
	Partial  float64
}

// Classify maps a score to its bucket. It is monotonic in score.
func Classify(score float64, t Thresholds) Classification {
	switch {
	case score >= t.Verified:
		return ClassVerified
	case score >= t.Likely:
		return ClassLikely
	case score >= t.Partial:
		return ClassPartial
	case score > 0:
		return ClassUnlikely
	default:
		return ClassNoMatch
	}
}

// ReportSummary counts results per classification.
type ReportSummary struct {
	Total    int `json:"total"`
	Verified int `json:"verified"`
	Likely   int `json:"likely"`
	Partial  int `json:"partial"`
	Unlikely int `json:"unlikely"`
	NoMatch  int `json:"no_match"`
	Errors   int `json:"errors"`
}

// VerificationReport is the on-disk report format.
type VerificationReport struct {
	FingerprintRunID      string               `json:"fingerprint_run_id"`
	AppName               string               `json:"app_name"`
	VerificationStarted   string               `json:"verification_started"`
	VerificationCompleted string               `json:"verification_completed"`
	TotalDurationMs       float64              `json:"total_duration_ms"`
	Summary               ReportSummary        `json:"summary"`
	Results               []VerificationResult `json:"results"`
}

// Summarize tallies classification counts over results. A result counts as an
// error when any of its probes recorded one.
func Summarize(results []VerificationResult) ReportSummary {
	summary := ReportSummary{Total: len(results)}
	for _, r := range results {
		switch r.Classification {
		case ClassVerified:
			summary.Verified++
		case ClassLikely:
			summary.Likely++
		case ClassPartial:
			summary.Partial++
		case ClassUnlikely:
			summary.Unlikely++
		default:
			summary.NoMatch++
		}
		for _, p := range r.ProbeResults {
			if p.Error != "" {
				summary.Errors++
				break
			}
		}
	}
	return summary
}
