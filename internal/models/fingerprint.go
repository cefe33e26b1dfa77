// Package models defines the fingerprint, candidate, and verification types
// shared by the planner, discovery engine, and verification engine.
package models

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// SourceType says where a fingerprint came from.
type SourceType string

const (
	SourceLiveSite        SourceType = "live_site"
	SourceRepository      SourceType = "repository"
	SourceFingerprintFile SourceType = "fingerprint_file"
)

// Mode selects application- or organization-wide reconnaissance behavior.
type Mode string

const (
	ModeApplication  Mode = "application"
	ModeOrganization Mode = "organization"
)

// CheckType identifies what a probe step verifies.
type CheckType string

const (
	CheckFaviconHash   CheckType = "favicon_hash"
	CheckImageHash     CheckType = "image_hash"
	CheckPageSignature CheckType = "page_signature"
)

// HashSet bundles the optional hash values computed for one byte blob.
// MMH3 follows the favicon convention of the scan services: MurmurHash3 over
// the base64-encoded bytes.
type HashSet struct {
	SHA256  string   `json:"sha256,omitempty"`
	MD5     string   `json:"md5,omitempty"`
	MMH3    string   `json:"mmh3,omitempty"`
	MMH3Alt []string `json:"mmh3_alt,omitempty"`
	PHash   string   `json:"phash,omitempty"`
}

// IsPresent reports whether at least one hash value is set.
func (h HashSet) IsPresent() bool {
	return h.SHA256 != "" || h.MD5 != "" || h.MMH3 != "" || h.PHash != "" || len(h.MMH3Alt) > 0
}

// AllMMH3 returns the primary MMH3 value followed by the alternates.
func (h HashSet) AllMMH3() []string {
	var values []string
	if h.MMH3 != "" {
		values = append(values, h.MMH3)
	}
	values = append(values, h.MMH3Alt...)
	return values
}

// FaviconFingerprint is a favicon path plus its hashes.
type FaviconFingerprint struct {
	Path   string  `json:"path"`
	Hashes HashSet `json:"hashes"`
}

// ImageFingerprint is a distinctive image path plus its hashes.
type ImageFingerprint struct {
	Path        string  `json:"path"`
	Hashes      HashSet `json:"hashes"`
	Description string  `json:"description,omitempty"`
}

// PageSignature captures title and body patterns for one page.
type PageSignature struct {
	Path         string   `json:"path"`
	TitlePattern string   `json:"title_pattern,omitempty"`
	BodyPatterns []string `json:"body_patterns,omitempty"`
}

// FingerprintSpec is the value object describing a reconnaissance target.
type FingerprintSpec struct {
	AppName             string              `json:"app_name"`
	SourceType          SourceType          `json:"source_type"`
	SourceLocation      string              `json:"source_location"`
	Favicon             *FaviconFingerprint `json:"favicon,omitempty"`
	KeyImages           []ImageFingerprint  `json:"key_images,omitempty"`
	PageSignatures      []PageSignature     `json:"page_signatures,omitempty"`
	ConfidenceLevel     string              `json:"confidence_level,omitempty"`
	DistinctiveFeatures []string            `json:"distinctive_features,omitempty"`
	Mode                Mode                `json:"mode,omitempty"`
	IncludeVersion      bool                `json:"include_version,omitempty"`
	RunID               string              `json:"run_id,omitempty"`
}

// ExpectedHash names the hash type a probe checks and its accepted values.
type ExpectedHash struct {
	HashType  string   `json:"hash_type"`
	Value     string   `json:"value"`
	AltValues []string `json:"alt_values,omitempty"`
}

// Matches reports whether computed equals the primary value or any alternate.
func (e ExpectedHash) Matches(computed string) bool {
	if computed == e.Value {
		return true
	}
	for _, alt := range e.AltValues {
		if computed == alt {
			return true
		}
	}
	return false
}

// ProbeStep is one self-contained check in a probe plan.
type ProbeStep struct {
	Order                int           `json:"order"`
	URLPath              string        `json:"url_path"`
	CheckType            CheckType     `json:"check_type"`
	ExpectedHash         *ExpectedHash `json:"expected_hash,omitempty"`
	ExpectedTitlePattern string        `json:"expected_title_pattern,omitempty"`
	ExpectedBodyPatterns []string      `json:"expected_body_patterns,omitempty"`
	ExpectedStatus       int           `json:"expected_status,omitempty"`
	Weight               int           `json:"weight,omitempty"`
}

// ProbePlan is the ordered sequence of probe steps plus scoring defaults.
type ProbePlan struct {
	ProbeSteps             []ProbeStep    `json:"probe_steps"`
	DefaultWeights         map[string]int `json:"default_weights,omitempty"`
	MinimumMatchesRequired int            `json:"minimum_matches_required,omitempty"`
}

// Validate checks that probe step orders are strictly increasing.
func (p *ProbePlan) Validate() error {
	prev := 0
	for i, step := range p.ProbeSteps {
		if step.Order <= prev {
			return fmt.Errorf("probe step %d: order %d not strictly increasing (previous %d)", i, step.Order, prev)
		}
		prev = step.Order
	}
	return nil
}

// ApplyDefaultWeights fills in a zero weight on each step from default_weights
// keyed by the step's check type.
func (p *ProbePlan) ApplyDefaultWeights() {
	for i := range p.ProbeSteps {
		if p.ProbeSteps[i].Weight == 0 {
			if w, ok := p.DefaultWeights[string(p.ProbeSteps[i].CheckType)]; ok {
				p.ProbeSteps[i].Weight = w
			}
		}
	}
}

// SetProbeWeight sets the weight on every step of the given check type.
func (p *ProbePlan) SetProbeWeight(checkType CheckType, weight int) int {
	changed := 0
	for i := range p.ProbeSteps {
		if p.ProbeSteps[i].CheckType == checkType {
			p.ProbeSteps[i].Weight = weight
			changed++
		}
	}
	return changed
}

// SetWeightByOrder sets the weight on the step with the given order value.
func (p *ProbePlan) SetWeightByOrder(order, weight int) bool {
	for i := range p.ProbeSteps {
		if p.ProbeSteps[i].Order == order {
			p.ProbeSteps[i].Weight = weight
			return true
		}
	}
	return false
}

// MaxPossibleScore sums the step weights without capping.
func (p *ProbePlan) MaxPossibleScore() int {
	total := 0
	for _, step := range p.ProbeSteps {
		total += step.Weight
	}
	return total
}

// FingerprintOutput is the on-disk fingerprint file format.
type FingerprintOutput struct {
	FingerprintSpec FingerprintSpec `json:"fingerprint_spec"`
	ProbePlan       ProbePlan       `json:"probe_plan"`
}

// NewRunID generates a run identifier of the form YYYYMMDD_HHMMSS_xxxxxx
// where the suffix is six random hex characters.
func NewRunID() string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:6]
	return time.Now().UTC().Format("20060102_150405") + "_" + suffix
}

// ParseFingerprint decodes and normalizes a fingerprint document: orders are
// validated, legacy default-weight entries are migrated, and a missing run_id
// is generated.
func ParseFingerprint(data []byte) (*FingerprintOutput, error) {
	var out FingerprintOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("parse fingerprint: %w", err)
	}
	if out.FingerprintSpec.AppName == "" {
		return nil, fmt.Errorf("fingerprint_spec.app_name is required")
	}
	if err := out.ProbePlan.Validate(); err != nil {
		return nil, err
	}
	if out.FingerprintSpec.Mode == "" {
		out.FingerprintSpec.Mode = ModeApplication
	}
	if out.FingerprintSpec.RunID == "" {
		out.FingerprintSpec.RunID = NewRunID()
		log.Debug().Str("run_id", out.FingerprintSpec.RunID).Msg("Generated run ID for fingerprint")
	}
	// Older fingerprint files carry a combined page_signature weight that the
	// scorer has since split into title and body points. Drop it.
	if _, ok := out.ProbePlan.DefaultWeights["page_signature"]; ok {
		delete(out.ProbePlan.DefaultWeights, "page_signature")
		log.Debug().Msg("Migrated legacy page_signature entry out of default weights")
	}
	out.ProbePlan.ApplyDefaultWeights()
	sortSteps(out.ProbePlan.ProbeSteps)
	return &out, nil
}

// LoadFingerprint reads and parses a fingerprint file from disk.
func LoadFingerprint(path string) (*FingerprintOutput, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fingerprint file: %w", err)
	}
	return ParseFingerprint(data)
}

func sortSteps(steps []ProbeStep) {
	sort.SliceStable(steps, func(i, j int) bool {
		return steps[i].Order < steps[j].Order
	})
}
