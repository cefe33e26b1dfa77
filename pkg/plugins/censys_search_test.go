package plugins

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCensys(t *testing.T, handler http.Handler) *Censys {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	c := NewCensys("test-pat", "test-org")
	c.baseURL = server.URL
	return c
}

func setCensysInterval(t *testing.T, interval time.Duration) {
	t.Helper()
	censysRateMu.Lock()
	orig := censysMinRequestInterval
	censysMinRequestInterval = interval
	censysLastRequest = time.Time{}
	censysRateMu.Unlock()
	t.Cleanup(func() {
		censysRateMu.Lock()
		censysMinRequestInterval = orig
		censysRateMu.Unlock()
	})
}

func censysHostHit(ip string, ports ...int) map[string]any {
	services := make([]map[string]any, 0, len(ports))
	for _, port := range ports {
		services = append(services, map[string]any{"port": port, "scan_time": "2026-08-01T00:00:00Z"})
	}
	return map[string]any{
		"host_v1": map[string]any{
			"resource": map[string]any{
				"ip":       ip,
				"services": services,
				"location": map[string]any{"country": "Germany", "country_code": "DE"},
				"autonomous_system": map[string]any{
					"asn": 3320, "name": "Deutsche Telekom",
				},
			},
		},
	}
}

func censysPage(totalHits int, nextToken string, hits ...map[string]any) map[string]any {
	return map[string]any{
		"result": map[string]any{
			"total_hits":      totalHits,
			"hits":            hits,
			"next_page_token": nextToken,
		},
	}
}

func TestCensysSearchSinglePage(t *testing.T) {
	setCensysInterval(t, 0)
	c := newTestCensys(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-pat", r.Header.Get("Authorization"))
		assert.Equal(t, "test-org", r.Header.Get("X-Organization-ID"))

		var body censysSearchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Contains(t, body.Query, "hash_shodan")
		assert.Equal(t, 100, body.PageSize)

		json.NewEncoder(w).Encode(censysPage(2, "", censysHostHit("1.1.1.1", 443), censysHostHit("2.2.2.2", 80)))
	}))

	result := c.Search(context.Background(), DiscoveryQuery{QueryType: QueryFaviconHash, Value: "-12345"}, 0)
	require.True(t, result.Success(), result.Error)
	assert.Equal(t, 2, result.TotalAvailable)
	require.Len(t, result.Hosts, 2)
	assert.Equal(t, "https", result.Hosts[0].Protocol)
	assert.Equal(t, "censys", result.Hosts[0].Source)
	assert.Equal(t, "AS3320", result.Hosts[0].Metadata["asn"])
	assert.Equal(t, "DE", result.Hosts[0].Location["country_code"])
}

func TestCensysSearchPaginatesWithToken(t *testing.T) {
	setCensysInterval(t, 0)
	var tokens []string
	c := newTestCensys(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body censysSearchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		tokens = append(tokens, body.PageToken)
		if body.PageToken == "" {
			json.NewEncoder(w).Encode(censysPage(3, "tok-2", censysHostHit("1.1.1.1", 80), censysHostHit("2.2.2.2", 80)))
			return
		}
		json.NewEncoder(w).Encode(censysPage(3, "", censysHostHit("3.3.3.3", 80)))
	}))

	result := c.Search(context.Background(), DiscoveryQuery{QueryType: QueryTitlePattern, Value: "Grafana"}, 0)
	require.True(t, result.Success(), result.Error)
	assert.Equal(t, []string{"", "tok-2"}, tokens)
	assert.Len(t, result.Hosts, 3)
}

func TestCensysSearchPageCap(t *testing.T) {
	setCensysInterval(t, 0)
	requests := 0
	c := newTestCensys(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		// Always promise another page.
		json.NewEncoder(w).Encode(censysPage(100000, "tok", censysHostHit("1.1.1.1", 80)))
	}))

	result := c.Search(context.Background(), DiscoveryQuery{QueryType: QueryBodyPattern, Value: "x"}, 0)
	require.True(t, result.Success(), result.Error)
	assert.Equal(t, censysMaxPages, requests)
}

func TestCensysSearchErrorStatuses(t *testing.T) {
	tests := []struct {
		status  int
		body    string
		wantErr string
	}{
		{status: http.StatusUnauthorized, wantErr: "authentication failed"},
		{status: http.StatusForbidden, wantErr: "access denied"},
		{status: http.StatusUnprocessableEntity, body: `{"detail": "malformed CenQL"}`, wantErr: "malformed CenQL"},
		{status: http.StatusInternalServerError, wantErr: "HTTP 500"},
	}
	for _, tt := range tests {
		t.Run(tt.wantErr, func(t *testing.T) {
			setCensysInterval(t, 0)
			c := newTestCensys(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				if tt.body != "" {
					w.Write([]byte(tt.body))
				}
			}))
			result := c.Search(context.Background(), DiscoveryQuery{QueryType: QueryTitlePattern, Value: "x"}, 0)
			assert.False(t, result.Success())
			assert.Contains(t, result.Error, tt.wantErr)
		})
	}
}

func TestCensysSearchRateLimitCarriesPartialResults(t *testing.T) {
	setCensysInterval(t, 0)
	requests := 0
	c := newTestCensys(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		if requests > 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		json.NewEncoder(w).Encode(censysPage(500, "tok", censysHostHit("1.1.1.1", 80)))
	}))

	result := c.Search(context.Background(), DiscoveryQuery{QueryType: QueryTitlePattern, Value: "x"}, 0)
	assert.False(t, result.Success())
	assert.Contains(t, result.Error, ErrRateLimited.Error())
	assert.Len(t, result.Hosts, 1)
}

func TestCensysRequestsNeverOverlap(t *testing.T) {
	interval := 50 * time.Millisecond
	setCensysInterval(t, interval)

	var mu sync.Mutex
	var starts []time.Time
	c := newTestCensys(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		starts = append(starts, time.Now())
		mu.Unlock()
		json.NewEncoder(w).Encode(censysPage(1, "", censysHostHit("1.1.1.1", 80)))
	}))

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Search(context.Background(), DiscoveryQuery{QueryType: QueryTitlePattern, Value: "x"}, 0)
		}()
	}
	wg.Wait()

	require.Len(t, starts, 4)
	sort.Slice(starts, func(i, j int) bool { return starts[i].Before(starts[j]) })
	for i := 1; i < len(starts); i++ {
		gap := starts[i].Sub(starts[i-1])
		assert.GreaterOrEqual(t, gap, interval-5*time.Millisecond,
			"requests %d and %d started %v apart", i-1, i, gap)
	}
}

func TestNormalizeCensysResourceWebProperty(t *testing.T) {
	resource := censysResource{
		Endpoints: []censysEndpoint{{IP: "5.5.5.5", Hostname: "shop.example", Port: 8443}},
	}
	hosts := normalizeCensysResource(resource)
	require.Len(t, hosts, 1)
	assert.Equal(t, "5.5.5.5", hosts[0].IP)
	assert.Equal(t, 8443, hosts[0].Port)
	assert.Equal(t, "https", hosts[0].Protocol)
	assert.Equal(t, "shop.example", hosts[0].Hostname)
}

func TestNormalizeCensysResourceWithoutIP(t *testing.T) {
	assert.Nil(t, normalizeCensysResource(censysResource{}))
}
