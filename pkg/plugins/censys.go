package plugins

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	censysBaseURL        = "https://api.platform.censys.io/v3/global"
	censysSearchEndpoint = "/search/query"
	censysPageSize       = 100
	censysMaxPages       = 10
)

// The upstream allows one concurrent action across the whole account, so the
// throttle state is package-level: it covers every instance in the process.
var (
	censysRateMu             sync.Mutex
	censysLastRequest        time.Time
	censysMinRequestInterval = time.Second
)

// waitCensysTurn blocks until at least the minimum interval has passed since
// the previous request anywhere in the process, then claims the slot.
func waitCensysTurn() {
	censysRateMu.Lock()
	defer censysRateMu.Unlock()
	if elapsed := time.Since(censysLastRequest); elapsed < censysMinRequestInterval {
		time.Sleep(censysMinRequestInterval - elapsed)
	}
	censysLastRequest = time.Now()
}

// Censys queries the Censys Platform API with CenQL. It needs a Personal
// Access Token; paid tiers also require an organization ID.
type Censys struct {
	pat        string
	orgID      string
	baseURL    string
	httpClient *http.Client
}

// NewCensys returns a Censys plugin. An empty PAT leaves it unconfigured.
func NewCensys(pat, orgID string) *Censys {
	return &Censys{
		pat:        pat,
		orgID:      orgID,
		baseURL:    censysBaseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Censys) Name() string { return "censys" }

func (c *Censys) IsConfigured() bool { return c.pat != "" }

func (c *Censys) SupportsQueryType(t QueryType) bool {
	switch t {
	case QueryFaviconHash, QueryImageHash, QueryTitlePattern, QueryBodyPattern, QueryHeaderPattern, QueryCustom:
		return true
	}
	return false
}

// TranslateQuery lowers a normalized query to CenQL. Favicon hashes search
// both the web and host namespaces for broader coverage; image hashes need
// an MD5 value in the query metadata because Censys indexes favicons by MD5.
func (c *Censys) TranslateQuery(q DiscoveryQuery) (string, error) {
	if q.RawQuery != "" {
		return q.RawQuery, nil
	}
	switch q.QueryType {
	case QueryFaviconHash:
		return fmt.Sprintf(
			`(web.endpoints.http.favicons.hash_shodan: %q) OR (host.services.endpoints.http.favicons.hash_shodan: %q)`,
			q.Value, q.Value,
		), nil
	case QueryImageHash:
		md5 := q.Metadata["md5"]
		if md5 == "" {
			return "", fmt.Errorf("censys image query: %w: md5 metadata missing", ErrUntranslatable)
		}
		return fmt.Sprintf(`web.endpoints.http.favicons.hash_md5: %q`, md5), nil
	case QueryTitlePattern:
		return fmt.Sprintf(`web.endpoints.http.html_title: %q`, q.Value), nil
	case QueryHeaderPattern:
		return fmt.Sprintf(`web.endpoints.http.headers: %q`, q.Value), nil
	case QueryCustom:
		return q.Value, nil
	default:
		return fmt.Sprintf(`web.endpoints.http.body: %q`, q.Value), nil
	}
}

type censysSearchRequest struct {
	Query     string `json:"query"`
	PageSize  int    `json:"page_size"`
	PageToken string `json:"page_token,omitempty"`
}

type censysSearchResponse struct {
	Result struct {
		TotalHits     int         `json:"total_hits"`
		Hits          []censysHit `json:"hits"`
		NextPageToken string      `json:"next_page_token"`
	} `json:"result"`
	Detail string `json:"detail"`
}

type censysHit struct {
	WebProperty *censysRecord `json:"webproperty_v1"`
	Host        *censysRecord `json:"host_v1"`
}

type censysRecord struct {
	Resource censysResource `json:"resource"`
}

type censysResource struct {
	IP        string           `json:"ip"`
	Endpoints []censysEndpoint `json:"endpoints"`
	DNS       *censysDNS       `json:"dns"`
	Location  *censysLocation  `json:"location"`
	AS        *censysAS        `json:"autonomous_system"`
	Services  []censysService  `json:"services"`
}

type censysEndpoint struct {
	IP       string `json:"ip"`
	Hostname string `json:"hostname"`
	Port     int    `json:"port"`
}

type censysDNS struct {
	ReverseDNS struct {
		Names []string `json:"names"`
	} `json:"reverse_dns"`
}

type censysLocation struct {
	Country     string `json:"country"`
	CountryCode string `json:"country_code"`
	City        string `json:"city"`
	Province    string `json:"province"`
}

type censysAS struct {
	ASN         int    `json:"asn"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type censysService struct {
	Port     int             `json:"port"`
	TLS      json.RawMessage `json:"tls"`
	ScanTime string          `json:"scan_time"`
}

// Search pages through results via page tokens, at most ten pages, honoring
// the single-concurrent-request contract before each request.
func (c *Censys) Search(ctx context.Context, q DiscoveryQuery, maxResults int) DiscoveryResult {
	if !c.IsConfigured() {
		return errorResult(q, fmt.Errorf("censys: %w (set CENSYS_PERSONAL_ACCESS_TOKEN)", ErrNotConfigured))
	}

	query, err := c.TranslateQuery(q)
	if err != nil {
		return errorResult(q, err)
	}
	log.Debug().Str("plugin", "censys").Str("query", query).Msg("Executing search")

	var hosts []NormalizedHost
	totalAvailable := 0
	pageToken := ""

	for page := 1; page <= censysMaxPages; page++ {
		waitCensysTurn()

		pageSize := censysPageSize
		if maxResults > 0 {
			if remaining := maxResults - len(hosts); remaining < pageSize {
				pageSize = remaining
			}
		}
		if pageSize <= 0 {
			break
		}

		resp, err := c.fetchPage(ctx, censysSearchRequest{Query: query, PageSize: pageSize, PageToken: pageToken})
		if err != nil {
			return DiscoveryResult{Query: q, Hosts: hosts, TotalAvailable: totalAvailable, Error: fmt.Sprintf("censys: %v", err)}
		}
		if page == 1 {
			totalAvailable = resp.Result.TotalHits
		}
		if len(resp.Result.Hits) == 0 {
			break
		}

		for _, hit := range resp.Result.Hits {
			record := hit.WebProperty
			if record == nil {
				record = hit.Host
			}
			if record == nil {
				continue
			}
			hosts = append(hosts, normalizeCensysResource(record.Resource)...)
			if maxResults > 0 && len(hosts) >= maxResults {
				break
			}
		}

		pageToken = resp.Result.NextPageToken
		if pageToken == "" || (maxResults > 0 && len(hosts) >= maxResults) {
			break
		}
	}

	if maxResults > 0 && len(hosts) > maxResults {
		hosts = hosts[:maxResults]
	}
	return DiscoveryResult{Query: q, Hosts: hosts, TotalAvailable: totalAvailable}
}

func (c *Censys) fetchPage(ctx context.Context, body censysSearchRequest) (*censysSearchResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+censysSearchEndpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.pat)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.orgID != "" {
		req.Header.Set("X-Organization-ID", c.orgID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized:
		return nil, fmt.Errorf("authentication failed (check CENSYS_PERSONAL_ACCESS_TOKEN)")
	case http.StatusForbidden:
		return nil, fmt.Errorf("access denied (check API role and CENSYS_ORG_ID)")
	case http.StatusUnprocessableEntity:
		var parsed censysSearchResponse
		_ = json.NewDecoder(resp.Body).Decode(&parsed)
		if parsed.Detail == "" {
			parsed.Detail = "query error"
		}
		return nil, fmt.Errorf("query error: %s", parsed.Detail)
	case http.StatusTooManyRequests:
		return nil, ErrRateLimited
	default:
		return nil, fmt.Errorf("API error: HTTP %d", resp.StatusCode)
	}

	var parsed censysSearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &parsed, nil
}

// normalizeCensysResource flattens one resource into per-service hosts. A
// resource with no service list still yields one entry when it has an IP.
func normalizeCensysResource(resource censysResource) []NormalizedHost {
	ip := resource.IP
	hostname := ""
	port := 80
	protocol := "http"

	for _, endpoint := range resource.Endpoints {
		if endpoint.IP == "" {
			continue
		}
		ip = endpoint.IP
		hostname = endpoint.Hostname
		if endpoint.Port != 0 {
			port = endpoint.Port
		}
		if port == 443 || port == 8443 {
			protocol = "https"
		}
		break
	}
	if ip == "" {
		return nil
	}

	if resource.DNS != nil && len(resource.DNS.ReverseDNS.Names) > 0 {
		hostname = resource.DNS.ReverseDNS.Names[0]
	}

	location := map[string]string{}
	if resource.Location != nil {
		putNonEmpty(location, "country", resource.Location.Country)
		putNonEmpty(location, "country_code", resource.Location.CountryCode)
		putNonEmpty(location, "city", resource.Location.City)
		putNonEmpty(location, "region", resource.Location.Province)
	}

	metadata := map[string]string{}
	if resource.AS != nil {
		if resource.AS.ASN != 0 {
			metadata["asn"] = fmt.Sprintf("AS%d", resource.AS.ASN)
		}
		org := resource.AS.Name
		if org == "" {
			org = resource.AS.Description
		}
		putNonEmpty(metadata, "org", org)
	}

	base := NormalizedHost{
		IP:       ip,
		Port:     port,
		Protocol: protocol,
		Hostname: hostname,
		Source:   "censys",
		Location: location,
		Metadata: metadata,
	}

	var hosts []NormalizedHost
	for _, svc := range resource.Services {
		host := base
		host.Port = svc.Port
		if host.Port == 0 {
			host.Port = 80
		}
		host.Protocol = "http"
		if host.Port == 443 || host.Port == 8443 || len(svc.TLS) > 0 {
			host.Protocol = "https"
		}
		host.LastSeen = svc.ScanTime
		hosts = append(hosts, host)
	}
	if len(hosts) == 0 {
		hosts = append(hosts, base)
	}
	return hosts
}
