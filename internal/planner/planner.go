// Package planner translates a fingerprint into a ranked, deduplicated,
// length-capped set of normalized discovery queries.
package planner

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/sigint-sh/sigint/internal/models"
	"github.com/sigint-sh/sigint/pkg/plugins"
)

// DefaultMaxQueries caps the queries generated per fingerprint to limit API
// credit spend.
const DefaultMaxQueries = 10

// queryTypePriority ranks query types by signal quality.
var queryTypePriority = map[plugins.QueryType]int{
	plugins.QueryFaviconHash:   100,
	plugins.QueryImageHash:     80,
	plugins.QueryTitlePattern:  60,
	plugins.QueryBodyPattern:   40,
	plugins.QueryHeaderPattern: 20,
}

// Priority returns the static rank for a query type, zero when unranked.
func Priority(t plugins.QueryType) int {
	return queryTypePriority[t]
}

// versionPatterns match title fragments that name versions, years, or
// release stages rather than the application.
var versionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^v?\d+(\.\d+)*$`),
	regexp.MustCompile(`(?i)^v?\d+(\.\d+)*\s*[*\-].*$`),
	regexp.MustCompile(`^\d{4}$`),
	regexp.MustCompile(`(?i)^version\s*\d+`),
	regexp.MustCompile(`^\*.*\*$`),
	regexp.MustCompile(`(?i)^(alpha|beta|dev|rc|release)\s*\d*$`),
}

const minTitlePartLength = 3

var genericTitleWords = map[string]struct{}{
	"home": {}, "index": {}, "welcome": {}, "login": {}, "dashboard": {}, "admin": {},
}

// splitTitlePattern splits an alternation like
// "Damn Vulnerable Web Application|DVWA|Version 1.0" into the distinctive
// phrases, dropping versions, years, and generic words.
func splitTitlePattern(pattern string) []string {
	if pattern == "" {
		return nil
	}
	var distinctive []string
	for _, part := range strings.Split(pattern, "|") {
		part = strings.TrimSpace(part)
		if len(part) < minTitlePartLength {
			continue
		}
		if matchesVersionPattern(part) {
			continue
		}
		if _, generic := genericTitleWords[strings.ToLower(part)]; generic {
			continue
		}
		distinctive = append(distinctive, part)
	}
	return distinctive
}

func matchesVersionPattern(part string) bool {
	for _, pattern := range versionPatterns {
		if pattern.MatchString(part) {
			return true
		}
	}
	return false
}

// BuildQueries converts a fingerprint into at most maxQueries normalized
// queries, ranked by type priority. Hash queries bypass the blacklist;
// everything else is filtered and deduplicated by (type, lowercased value).
func BuildQueries(spec *models.FingerprintSpec, maxQueries int) []plugins.DiscoveryQuery {
	if maxQueries <= 0 {
		maxQueries = DefaultMaxQueries
	}

	var queries []plugins.DiscoveryQuery
	seen := map[string]struct{}{}

	add := func(q plugins.DiscoveryQuery) {
		key := string(q.QueryType) + ":" + strings.ToLower(q.Value)
		if _, dup := seen[key]; dup {
			return
		}
		if q.QueryType != plugins.QueryFaviconHash && q.QueryType != plugins.QueryImageHash {
			if IsQueryBlacklisted(q.Value) {
				log.Debug().Str("value", q.Value).Msg("Dropped blacklisted query value")
				return
			}
		}
		seen[key] = struct{}{}
		queries = append(queries, q)
	}

	// Favicon hashes, primary plus alternates.
	if spec.Favicon != nil {
		for i, mmh3 := range spec.Favicon.Hashes.AllMMH3() {
			source := "favicon"
			if i > 0 {
				source = fmt.Sprintf("favicon_alt_%d", i)
			}
			add(plugins.DiscoveryQuery{
				QueryType: plugins.QueryFaviconHash,
				Value:     mmh3,
				Metadata:  map[string]string{"source": source},
			})
		}
	}

	// Key images carry both hash flavors so each plugin can pick its own.
	for i, img := range spec.KeyImages {
		if img.Hashes.MMH3 == "" && img.Hashes.MD5 == "" {
			continue
		}
		metadata := map[string]string{
			"source": fmt.Sprintf("image_%d", i),
			"path":   img.Path,
		}
		putNonEmpty(metadata, "mmh3", img.Hashes.MMH3)
		putNonEmpty(metadata, "md5", img.Hashes.MD5)
		add(plugins.DiscoveryQuery{
			QueryType: plugins.QueryImageHash,
			Value:     img.Hashes.MMH3,
			Metadata:  metadata,
		})
	}

	// At most two title phrases, drawn from the first two page signatures.
	titleCount := 0
	for _, sig := range firstN(spec.PageSignatures, 2) {
		if sig.TitlePattern == "" || titleCount >= 2 {
			continue
		}
		parts := splitTitlePattern(sig.TitlePattern)
		for _, part := range firstN(parts, 2) {
			if titleCount >= 2 {
				break
			}
			add(plugins.DiscoveryQuery{
				QueryType: plugins.QueryTitlePattern,
				Value:     part,
				Metadata:  map[string]string{"source": "title", "path": sig.Path, "original": sig.TitlePattern},
			})
			titleCount++
		}
	}

	// At most two body patterns, preferring ones that mention the app name.
	bodyCount := 0
	appName := strings.ToLower(spec.AppName)
	for _, sig := range firstN(spec.PageSignatures, 2) {
		for _, pattern := range sig.BodyPatterns {
			if bodyCount >= 2 {
				break
			}
			if appName == "" || !strings.Contains(strings.ToLower(pattern), appName) {
				continue
			}
			add(plugins.DiscoveryQuery{
				QueryType: plugins.QueryBodyPattern,
				Value:     pattern,
				Metadata:  map[string]string{"source": "body", "path": sig.Path},
			})
			bodyCount++
		}
	}
	if bodyCount == 0 {
		for _, sig := range firstN(spec.PageSignatures, 1) {
			for _, pattern := range firstN(sig.BodyPatterns, 1) {
				add(plugins.DiscoveryQuery{
					QueryType: plugins.QueryBodyPattern,
					Value:     pattern,
					Metadata:  map[string]string{"source": "body", "path": sig.Path},
				})
			}
		}
	}

	sort.SliceStable(queries, func(i, j int) bool {
		return Priority(queries[i].QueryType) > Priority(queries[j].QueryType)
	})
	if len(queries) > maxQueries {
		queries = queries[:maxQueries]
	}
	return queries
}

func firstN[T any](items []T, n int) []T {
	if len(items) > n {
		return items[:n]
	}
	return items
}

func putNonEmpty(m map[string]string, key, value string) {
	if value != "" {
		m[key] = value
	}
}
