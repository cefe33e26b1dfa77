// Package plugins defines the discovery source contract and the reference
// implementations for the Shodan and Censys search services. Every source
// receives normalized queries and produces normalized hosts, so the discovery
// engine can aggregate and deduplicate across services.
package plugins

import (
	"context"
	"errors"
	"fmt"
)

// QueryType is the closed set of normalized query kinds.
type QueryType string

const (
	QueryFaviconHash   QueryType = "favicon_hash"
	QueryImageHash     QueryType = "image_hash"
	QueryTitlePattern  QueryType = "title_pattern"
	QueryBodyPattern   QueryType = "body_pattern"
	QueryHeaderPattern QueryType = "header_pattern"
	QueryEndpoint      QueryType = "endpoint"
	QueryCustom        QueryType = "custom"
)

// Sentinel errors the discovery engine branches on.
var (
	// ErrNotConfigured means the plugin was invoked without credentials.
	ErrNotConfigured = errors.New("plugin not configured")
	// ErrRateLimited means the upstream rejected the request for quota
	// reasons. Pagination stops; partial results are carried through.
	ErrRateLimited = errors.New("rate limit exceeded")
	// ErrUntranslatable means the query cannot be lowered to the plugin's
	// native syntax (e.g. an image query without the hash flavor it needs).
	ErrUntranslatable = errors.New("query not translatable")
)

// DiscoveryQuery is the normalized query every plugin receives.
type DiscoveryQuery struct {
	QueryType QueryType         `json:"query_type"`
	Value     string            `json:"value"`
	RawQuery  string            `json:"raw_query,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

func (q DiscoveryQuery) String() string {
	value := q.Value
	if len(value) > 50 {
		value = value[:50]
	}
	return fmt.Sprintf("%s:%s", q.QueryType, value)
}

// NormalizedHost is the standard result format all plugins produce.
type NormalizedHost struct {
	IP        string            `json:"ip"`
	Port      int               `json:"port"`
	Protocol  string            `json:"protocol"`
	Hostname  string            `json:"hostname,omitempty"`
	Source    string            `json:"source"`
	FirstSeen string            `json:"first_seen,omitempty"`
	LastSeen  string            `json:"last_seen,omitempty"`
	Location  map[string]string `json:"location,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// DiscoveryResult is the outcome of one query against one plugin.
type DiscoveryResult struct {
	Query          DiscoveryQuery   `json:"query"`
	Hosts          []NormalizedHost `json:"hosts,omitempty"`
	TotalAvailable int              `json:"total_available"`
	Error          string           `json:"error,omitempty"`
}

// Success reports whether the query completed without error.
func (r DiscoveryResult) Success() bool {
	return r.Error == ""
}

// Plugin is the contract every discovery source implements.
type Plugin interface {
	// Name is the unique identifier used for registration and cache keys.
	Name() string
	// IsConfigured reports whether credentials are present.
	IsConfigured() bool
	// SupportsQueryType is a static capability declaration.
	SupportsQueryType(t QueryType) bool
	// TranslateQuery lowers a normalized query to the source's native
	// syntax. A set RawQuery is returned verbatim.
	TranslateQuery(q DiscoveryQuery) (string, error)
	// Search executes the query, returning at most maxResults hosts.
	// maxResults <= 0 means all available.
	Search(ctx context.Context, q DiscoveryQuery, maxResults int) DiscoveryResult
}

func errorResult(q DiscoveryQuery, err error) DiscoveryResult {
	return DiscoveryResult{Query: q, Error: err.Error()}
}
