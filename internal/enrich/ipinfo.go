// Package enrich looks up geo, ASN, and hosting-provider data for candidate
// IPs via the IPInfo API, with a per-IP disk cache.
package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const (
	ipinfoBaseURL = "https://ipinfo.io"

	// DefaultCacheTTLDays suits IPInfo data, which is stable for weeks.
	DefaultCacheTTLDays = 30
)

// providerPatterns maps provider names to ASN and org-name substrings.
var providerPatterns = map[string][]string{
	"AWS":          {"amazon", "aws", "as16509", "as14618"},
	"GCP":          {"google cloud", "google llc", "as15169", "as396982"},
	"Azure":        {"microsoft", "azure", "as8075"},
	"DigitalOcean": {"digitalocean", "as14061"},
	"Linode":       {"linode", "akamai connected cloud", "as63949"},
	"Vultr":        {"vultr", "as20473", "the constant company"},
	"OVH":          {"ovh", "as16276"},
	"Hetzner":      {"hetzner", "as24940"},
	"Cloudflare":   {"cloudflare", "as13335"},
	"Alibaba":      {"alibaba", "aliyun", "as45102", "as37963"},
	"Oracle Cloud": {"oracle", "as31898"},
	"IBM Cloud":    {"ibm", "softlayer", "as36351"},
	"Tencent":      {"tencent", "as45090", "as132203"},
	"Scaleway":     {"scaleway", "online s.a.s", "as12876"},
	"UpCloud":      {"upcloud", "as202053"},
	"Kamatera":     {"kamatera", "as36007"},
	"Contabo":      {"contabo", "as51167"},
	"Hostinger":    {"hostinger", "as47583"},
}

// hostingASNs are networks known to be hosting even when the provider name
// cannot be identified.
var hostingASNs = map[string]struct{}{
	"AS16509": {}, "AS14618": {},
	"AS15169": {}, "AS396982": {},
	"AS8075":  {},
	"AS14061": {},
	"AS63949": {},
	"AS20473": {},
	"AS16276": {},
	"AS24940": {},
	"AS13335": {},
	"AS45102": {}, "AS37963": {},
	"AS31898": {},
	"AS36351": {},
	"AS45090": {}, "AS132203": {},
	"AS12876": {},
}

// IPInfo is the enrichment record for one IP.
type IPInfo struct {
	IP              string `json:"ip"`
	Hostname        string `json:"hostname,omitempty"`
	City            string `json:"city,omitempty"`
	Region          string `json:"region,omitempty"`
	Country         string `json:"country,omitempty"`
	Org             string `json:"org,omitempty"`
	ASN             string `json:"asn,omitempty"`
	Company         string `json:"company,omitempty"`
	IsHosting       bool   `json:"is_hosting,omitempty"`
	HostingProvider string `json:"hosting_provider,omitempty"`
	Loc             string `json:"loc,omitempty"`
	Postal          string `json:"postal,omitempty"`
	Timezone        string `json:"timezone,omitempty"`
	Error           string `json:"error,omitempty"`
}

type cacheEntry struct {
	IP       string `json:"ip"`
	Result   IPInfo `json:"result"`
	CachedAt string `json:"cached_at"`
}

// Client queries IPInfo with bearer auth and caches per-IP results on disk.
type Client struct {
	token        string
	cacheDir     string
	cacheTTLDays int
	httpClient   *http.Client
	baseURL      string
}

// NewClient returns a client caching under cacheDir. An empty token falls
// back to the free tier.
func NewClient(token, cacheDir string, cacheTTLDays int) *Client {
	if cacheTTLDays < 0 {
		cacheTTLDays = DefaultCacheTTLDays
	}
	return &Client{
		token:        token,
		cacheDir:     cacheDir,
		cacheTTLDays: cacheTTLDays,
		httpClient:   &http.Client{Timeout: 10 * time.Second},
		baseURL:      ipinfoBaseURL,
	}
}

// Lookup returns enrichment data for ip, from cache when fresh. Failures are
// recorded on the result instead of returned as errors.
func (c *Client) Lookup(ctx context.Context, ip string) IPInfo {
	if cached, ok := c.loadCache(ip); ok {
		return cached
	}
	return c.fetch(ctx, ip)
}

// BulkLookup resolves unique IPs with at most workers in flight and returns
// a map keyed by IP.
func (c *Client) BulkLookup(ctx context.Context, ips []string, workers int) map[string]IPInfo {
	if workers <= 0 {
		workers = 1
	}

	unique := make([]string, 0, len(ips))
	seen := map[string]struct{}{}
	for _, ip := range ips {
		if _, dup := seen[ip]; dup {
			continue
		}
		seen[ip] = struct{}{}
		unique = append(unique, ip)
	}

	var mu sync.Mutex
	results := make(map[string]IPInfo, len(unique))

	var toFetch []string
	for _, ip := range unique {
		if cached, ok := c.loadCache(ip); ok {
			results[ip] = cached
			continue
		}
		toFetch = append(toFetch, ip)
	}
	if len(results) > 0 {
		log.Debug().Int("count", len(results)).Msg("IPInfo results from cache")
	}

	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(workers)
	for _, ip := range toFetch {
		ip := ip
		group.Go(func() error {
			info := c.fetch(ctx, ip)
			mu.Lock()
			results[ip] = info
			mu.Unlock()
			return nil
		})
	}
	_ = group.Wait()

	return results
}

func (c *Client) fetch(ctx context.Context, ip string) IPInfo {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/%s/json", c.baseURL, ip), nil)
	if err != nil {
		return IPInfo{IP: ip, Error: err.Error()}
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return IPInfo{IP: ip, Error: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return IPInfo{IP: ip, Error: "rate limited"}
	}
	if resp.StatusCode != http.StatusOK {
		return IPInfo{IP: ip, Error: fmt.Sprintf("HTTP %d", resp.StatusCode)}
	}

	var raw struct {
		Hostname string `json:"hostname"`
		City     string `json:"city"`
		Region   string `json:"region"`
		Country  string `json:"country"`
		Org      string `json:"org"`
		Loc      string `json:"loc"`
		Postal   string `json:"postal"`
		Timezone string `json:"timezone"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return IPInfo{IP: ip, Error: fmt.Sprintf("decode response: %v", err)}
	}

	asn := parseASN(raw.Org)
	isHosting, provider := detectProvider(raw.Org, asn)

	info := IPInfo{
		IP:              ip,
		Hostname:        raw.Hostname,
		City:            raw.City,
		Region:          raw.Region,
		Country:         raw.Country,
		Org:             raw.Org,
		ASN:             asn,
		Company:         companyName(raw.Org),
		IsHosting:       isHosting,
		HostingProvider: provider,
		Loc:             raw.Loc,
		Postal:          raw.Postal,
		Timezone:        raw.Timezone,
	}
	c.saveCache(ip, info)
	return info
}

// parseASN extracts the ASN from an org string like "AS16509 Amazon.com, Inc.".
func parseASN(org string) string {
	fields := strings.Fields(org)
	if len(fields) > 0 && strings.HasPrefix(strings.ToUpper(fields[0]), "AS") {
		return strings.ToUpper(fields[0])
	}
	return ""
}

// companyName strips the leading ASN from an org string.
func companyName(org string) string {
	if org == "" {
		return ""
	}
	parts := strings.SplitN(org, " ", 2)
	if len(parts) == 2 && strings.HasPrefix(strings.ToUpper(parts[0]), "AS") {
		return parts[1]
	}
	return org
}

// detectProvider matches org substrings and ASNs against the known hosting
// provider table.
func detectProvider(org, asn string) (bool, string) {
	if org == "" && asn == "" {
		return false, ""
	}
	orgLower := strings.ToLower(org)
	asnUpper := strings.ToUpper(asn)

	for provider, patterns := range providerPatterns {
		for _, pattern := range patterns {
			if strings.Contains(orgLower, strings.ToLower(pattern)) || strings.ToUpper(pattern) == asnUpper {
				return true, provider
			}
		}
	}
	if _, known := hostingASNs[asnUpper]; known {
		return true, ""
	}
	return false, ""
}

func (c *Client) cachePath(ip string) string {
	safe := strings.NewReplacer(".", "_", ":", "_").Replace(ip)
	return filepath.Join(c.cacheDir, safe+".json")
}

func (c *Client) loadCache(ip string) (IPInfo, bool) {
	data, err := os.ReadFile(c.cachePath(ip))
	if err != nil {
		return IPInfo{}, false
	}
	var entry cacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return IPInfo{}, false
	}
	if c.cacheTTLDays > 0 {
		cachedAt, err := time.Parse(time.RFC3339, entry.CachedAt)
		if err != nil {
			return IPInfo{}, false
		}
		if time.Since(cachedAt) > time.Duration(c.cacheTTLDays)*24*time.Hour {
			return IPInfo{}, false
		}
	}
	return entry.Result, true
}

func (c *Client) saveCache(ip string, info IPInfo) {
	if err := os.MkdirAll(c.cacheDir, 0o755); err != nil {
		log.Debug().Err(err).Msg("IPInfo cache directory unavailable")
		return
	}
	entry := cacheEntry{IP: ip, Result: info, CachedAt: time.Now().UTC().Format(time.RFC3339)}
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return
	}
	if err := os.WriteFile(c.cachePath(ip), data, 0o644); err != nil {
		log.Debug().Err(err).Str("ip", ip).Msg("IPInfo cache write failed")
	}
}
