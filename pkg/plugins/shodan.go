package plugins

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
)

const shodanBaseURL = "https://api.shodan.io"

// shodanPageDelay is the minimum pause between page fetches.
const shodanPageDelay = time.Second

// Shodan queries the Shodan host search API. A single API key configures it.
type Shodan struct {
	apiKey     string
	baseURL    string
	pageDelay  time.Duration
	httpClient *http.Client
}

// NewShodan returns a Shodan plugin using apiKey. An empty key leaves the
// plugin unconfigured.
func NewShodan(apiKey string) *Shodan {
	return &Shodan{
		apiKey:     apiKey,
		baseURL:    shodanBaseURL,
		pageDelay:  shodanPageDelay,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (s *Shodan) Name() string { return "shodan" }

func (s *Shodan) IsConfigured() bool { return s.apiKey != "" }

func (s *Shodan) SupportsQueryType(t QueryType) bool {
	switch t {
	case QueryFaviconHash, QueryImageHash, QueryTitlePattern, QueryBodyPattern, QueryHeaderPattern, QueryCustom:
		return true
	}
	return false
}

// TranslateQuery lowers a normalized query to Shodan search syntax. Image
// hashes reuse the favicon filter since Shodan indexes MMH3 there.
func (s *Shodan) TranslateQuery(q DiscoveryQuery) (string, error) {
	if q.RawQuery != "" {
		return q.RawQuery, nil
	}
	switch q.QueryType {
	case QueryFaviconHash, QueryImageHash:
		return "http.favicon.hash:" + q.Value, nil
	case QueryTitlePattern:
		return fmt.Sprintf("http.title:%q", q.Value), nil
	case QueryHeaderPattern:
		return fmt.Sprintf("http.headers:%q", q.Value), nil
	case QueryCustom:
		return q.Value, nil
	default:
		return fmt.Sprintf("http.html:%q", q.Value), nil
	}
}

type shodanResponse struct {
	Total   int           `json:"total"`
	Matches []shodanMatch `json:"matches"`
	Error   string        `json:"error"`
}

type shodanMatch struct {
	IPStr     string          `json:"ip_str"`
	Port      int             `json:"port"`
	SSL       json.RawMessage `json:"ssl"`
	Timestamp string          `json:"timestamp"`
	ASN       string          `json:"asn"`
	Org       string          `json:"org"`
	Hostnames []string        `json:"hostnames"`
	Location  *shodanLocation `json:"location"`
}

type shodanLocation struct {
	CountryName string `json:"country_name"`
	CountryCode string `json:"country_code"`
	City        string `json:"city"`
	RegionCode  string `json:"region_code"`
}

// Search pages through results one page at a time, pausing at least a second
// between pages. A rate-limit response stops pagination; whatever was
// gathered so far is carried through with the error.
func (s *Shodan) Search(ctx context.Context, q DiscoveryQuery, maxResults int) DiscoveryResult {
	if !s.IsConfigured() {
		return errorResult(q, fmt.Errorf("shodan: %w (set SHODAN_API_KEY)", ErrNotConfigured))
	}

	query, err := s.TranslateQuery(q)
	if err != nil {
		return errorResult(q, err)
	}
	log.Debug().Str("plugin", "shodan").Str("query", query).Msg("Executing search")

	var hosts []NormalizedHost
	totalAvailable := 0

	for page := 1; ; page++ {
		if page > 1 {
			select {
			case <-time.After(s.pageDelay):
			case <-ctx.Done():
				return DiscoveryResult{Query: q, Hosts: hosts, TotalAvailable: totalAvailable, Error: ctx.Err().Error()}
			}
		}

		resp, err := s.fetchPage(ctx, query, page)
		if err != nil {
			return DiscoveryResult{Query: q, Hosts: hosts, TotalAvailable: totalAvailable, Error: fmt.Sprintf("shodan: %v", err)}
		}
		if page == 1 {
			totalAvailable = resp.Total
		}
		if len(resp.Matches) == 0 {
			break
		}

		for _, match := range resp.Matches {
			hosts = append(hosts, normalizeShodanMatch(match))
			if maxResults > 0 && len(hosts) >= maxResults {
				return DiscoveryResult{Query: q, Hosts: hosts, TotalAvailable: totalAvailable}
			}
		}

		target := totalAvailable
		if maxResults > 0 && maxResults < target {
			target = maxResults
		}
		if len(hosts) >= target {
			break
		}
	}

	return DiscoveryResult{Query: q, Hosts: hosts, TotalAvailable: totalAvailable}
}

func (s *Shodan) fetchPage(ctx context.Context, query string, page int) (*shodanResponse, error) {
	params := url.Values{}
	params.Set("key", s.apiKey)
	params.Set("query", query)
	params.Set("page", strconv.Itoa(page))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/shodan/host/search?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, ErrRateLimited
	}
	if resp.StatusCode == http.StatusUnauthorized {
		return nil, fmt.Errorf("authentication failed (check SHODAN_API_KEY)")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error: HTTP %d", resp.StatusCode)
	}

	var parsed shodanResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if parsed.Error != "" {
		return nil, fmt.Errorf("API error: %s", parsed.Error)
	}
	return &parsed, nil
}

func normalizeShodanMatch(match shodanMatch) NormalizedHost {
	protocol := "http"
	if len(match.SSL) > 0 || match.Port == 443 {
		protocol = "https"
	}

	location := map[string]string{}
	if match.Location != nil {
		putNonEmpty(location, "country", match.Location.CountryName)
		putNonEmpty(location, "country_code", match.Location.CountryCode)
		putNonEmpty(location, "city", match.Location.City)
		putNonEmpty(location, "region", match.Location.RegionCode)
	}

	hostname := ""
	if len(match.Hostnames) > 0 {
		hostname = match.Hostnames[0]
	}

	metadata := map[string]string{}
	putNonEmpty(metadata, "asn", match.ASN)
	putNonEmpty(metadata, "org", match.Org)

	return NormalizedHost{
		IP:       match.IPStr,
		Port:     match.Port,
		Protocol: protocol,
		Hostname: hostname,
		Source:   "shodan",
		LastSeen: match.Timestamp,
		Location: location,
		Metadata: metadata,
	}
}

func putNonEmpty(m map[string]string, key, value string) {
	if value != "" {
		m[key] = value
	}
}
