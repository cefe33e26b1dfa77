package verify

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sigint-sh/sigint/internal/config"
	"github.com/sigint-sh/sigint/internal/models"
	"github.com/sigint-sh/sigint/pkg/hashutil"
)

// maxResponseBytes bounds how much of a probe response is read. Favicon and
// page checks never need more.
const maxResponseBytes = 5 << 20

// retryTransport re-issues GET requests that fail with a transient server
// error, doubling the backoff between attempts.
type retryTransport struct {
	next    http.RoundTripper
	retries int
	backoff time.Duration
}

func retryableStatus(code int) bool {
	switch code {
	case http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

func (t *retryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	backoff := t.backoff
	for attempt := 0; ; attempt++ {
		resp, err := t.next.RoundTrip(req)
		if attempt >= t.retries {
			return resp, err
		}
		if err == nil && !retryableStatus(resp.StatusCode) {
			return resp, nil
		}
		if resp != nil {
			io.Copy(io.Discard, resp.Body) //nolint:errcheck
			resp.Body.Close()
		}
		select {
		case <-req.Context().Done():
			return nil, req.Context().Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
}

// Executor runs individual probe steps against a target base URL.
// Certificate verification is off: self-signed deployments are exactly the
// hosts being hunted.
type Executor struct {
	client    *http.Client
	scoring   config.ScoringConfig
	mode      models.Mode
	userAgent string
}

// NewExecutor builds a probe executor for the given fingerprint mode.
func NewExecutor(cfg config.VerifyConfig, scoring config.ScoringConfig, mode models.Mode) *Executor {
	transport := &http.Transport{
		TLSClientConfig:     &tls.Config{InsecureSkipVerify: true},
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
	}
	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = config.DefaultUserAgent
	}
	return &Executor{
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: &retryTransport{next: transport, retries: 2, backoff: 500 * time.Millisecond},
		},
		scoring:   scoring,
		mode:      mode,
		userAgent: userAgent,
	}
}

// Execute runs one probe step and returns its result. Failures are recorded
// on the result, never returned.
func (x *Executor) Execute(ctx context.Context, baseURL string, step models.ProbeStep) models.ProbeResult {
	result := models.ProbeResult{
		Order:     step.Order,
		URLPath:   step.URLPath,
		CheckType: step.CheckType,
		MaxPoints: step.Weight,
	}
	start := time.Now()

	// Organization-mode favicons live wherever each site's HTML says they do.
	if step.CheckType == models.CheckFaviconHash && x.mode == models.ModeOrganization {
		return x.probeFaviconDiscovered(ctx, baseURL, step, start)
	}

	status, body, err := x.get(ctx, baseURL+step.URLPath)
	result.ResponseTimeMs = msSince(start)
	if err != nil {
		result.Error = truncateError(err)
		return result
	}
	result.HTTPStatus = status
	result.Success = true

	switch step.CheckType {
	case models.CheckFaviconHash:
		x.checkFaviconHash(status, body, step, &result)
		// Browsers fall back to /favicon.ico when the declared icon is
		// missing; deployments often rely on that.
		if !result.Matched && step.URLPath != "/favicon.ico" {
			if fbStatus, fbBody, fbErr := x.get(ctx, baseURL+"/favicon.ico"); fbErr == nil && fbStatus == http.StatusOK {
				fallback := models.ProbeResult{
					Order:          step.Order,
					URLPath:        "/favicon.ico",
					CheckType:      step.CheckType,
					HTTPStatus:     fbStatus,
					ResponseTimeMs: msSince(start),
					Success:        true,
				}
				x.checkFaviconHash(fbStatus, fbBody, step, &fallback)
				if fallback.Matched {
					fallback.URLPath = step.URLPath + " -> /favicon.ico (fallback)"
					result = fallback
				}
			}
		}
	case models.CheckImageHash:
		x.checkImageHash(status, body, step, &result)
	case models.CheckPageSignature:
		x.checkPageSignature(status, body, step, &result)
	default:
		result.Error = fmt.Sprintf("unknown probe type: %s", step.CheckType)
	}
	return result
}

func (x *Executor) get(ctx context.Context, rawURL string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("User-Agent", x.userAgent)

	resp, err := x.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, body, nil
}

func (x *Executor) checkFaviconHash(status int, body []byte, step models.ProbeStep, result *models.ProbeResult) {
	result.MaxPoints = x.scoring.FaviconPoints

	if status != http.StatusOK {
		result.Error = fmt.Sprintf("HTTP %d", status)
		return
	}
	if step.ExpectedHash == nil {
		result.Error = "no expected hash in probe"
		return
	}

	hashType := step.ExpectedHash.HashType
	if hashType == "" {
		hashType = "mmh3"
	}
	result.Expected = hashType + ":" + step.ExpectedHash.Value
	if n := len(step.ExpectedHash.AltValues); n > 0 {
		result.Expected += fmt.Sprintf(" (+%d alt)", n)
	}

	var actual string
	switch hashType {
	case "mmh3":
		actual = hashutil.FaviconMMH3(body)
	case "sha256":
		actual = hashutil.SHA256Hex(body)
	case "md5":
		actual = hashutil.MD5Hex(body)
	default:
		result.Error = "unknown hash type: " + hashType
		return
	}

	result.Actual = hashType + ":" + actual
	result.Matched = step.ExpectedHash.Matches(actual)
	if result.Matched {
		result.PointsEarned = x.scoring.FaviconPoints
	}
}

func (x *Executor) checkImageHash(status int, body []byte, step models.ProbeStep, result *models.ProbeResult) {
	result.MaxPoints = x.scoring.ImagePoints

	if status != http.StatusOK {
		result.Error = fmt.Sprintf("HTTP %d", status)
		return
	}
	if step.ExpectedHash == nil {
		result.Error = "no expected hash in probe"
		return
	}

	hashType := step.ExpectedHash.HashType
	if hashType == "" {
		hashType = "phash"
	}
	result.Expected = hashType + ":" + step.ExpectedHash.Value

	switch hashType {
	case "phash":
		actual, err := hashutil.PHashHex(body)
		if err != nil {
			result.Error = truncateError(err)
			return
		}
		result.Actual = "phash:" + actual
		if actual == step.ExpectedHash.Value {
			result.Matched = true
		} else if distance, err := hashutil.PHashDistance(step.ExpectedHash.Value, actual); err == nil {
			result.Matched = distance <= hashutil.PHashMaxDistance
			if result.Matched {
				result.Actual += fmt.Sprintf(" (distance: %d)", distance)
			}
		}
	case "sha256":
		result.Actual = "sha256:" + hashutil.SHA256Hex(body)
		result.Matched = step.ExpectedHash.Matches(hashutil.SHA256Hex(body))
	case "md5":
		result.Actual = "md5:" + hashutil.MD5Hex(body)
		result.Matched = step.ExpectedHash.Matches(hashutil.MD5Hex(body))
	case "mmh3":
		actual := hashutil.MMH3(body)
		result.Actual = "mmh3:" + actual
		result.Matched = step.ExpectedHash.Matches(actual)
	default:
		result.Error = "unknown hash type: " + hashType
		return
	}

	if result.Matched {
		result.PointsEarned = x.scoring.ImagePoints
	}
}

var titleTagRe = regexp.MustCompile(`(?i)<title[^>]*>([^<]*)</title>`)

func (x *Executor) checkPageSignature(status int, body []byte, step models.ProbeStep, result *models.ProbeResult) {
	maxPoints := 0
	if step.ExpectedTitlePattern != "" {
		maxPoints += x.scoring.TitlePoints
	}
	maxPoints += len(step.ExpectedBodyPatterns) * x.scoring.BodyPoints
	result.MaxPoints = maxPoints

	if step.ExpectedStatus != 0 && status != step.ExpectedStatus {
		result.Expected = fmt.Sprintf("HTTP %d", step.ExpectedStatus)
		result.Actual = fmt.Sprintf("HTTP %d", status)
		return
	}

	content := string(body)
	var expected, found []string
	points := 0

	if step.ExpectedTitlePattern != "" {
		expected = append(expected, "title:/"+step.ExpectedTitlePattern+"/")
		if m := titleTagRe.FindStringSubmatch(content); m != nil && titleMatches(step.ExpectedTitlePattern, m[1]) {
			found = append(found, "title:"+truncate(m[1], 50))
			points += x.scoring.TitlePoints
		}
	}

	// Each body pattern scores independently.
	contentLower := strings.ToLower(content)
	for _, pattern := range step.ExpectedBodyPatterns {
		expected = append(expected, "body:/"+truncate(pattern, 30)+"/")
		if strings.Contains(contentLower, strings.ToLower(pattern)) {
			found = append(found, "body:/"+truncate(pattern, 30)+"/")
			points += x.scoring.BodyPoints
		}
	}

	result.Expected = "HTTP 200"
	if len(expected) > 0 {
		result.Expected = strings.Join(expected, " AND ")
	}
	result.Actual = "no patterns matched"
	if len(found) > 0 {
		result.Actual = strings.Join(found, " AND ")
	}

	result.PointsEarned = points
	result.Matched = points > 0
}

// titleMatches treats the pattern as a case-insensitive regular expression,
// degrading to a substring check when it does not compile.
func titleMatches(pattern, title string) bool {
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return strings.Contains(strings.ToLower(title), strings.ToLower(pattern))
	}
	return re.MatchString(title)
}

var faviconLinkRes = []*regexp.Regexp{
	regexp.MustCompile(`(?i)<link[^>]*rel=["'](?:shortcut )?icon["'][^>]*href=["']([^"']+)["']`),
	regexp.MustCompile(`(?i)<link[^>]*href=["']([^"']+)["'][^>]*rel=["'](?:shortcut )?icon["']`),
	regexp.MustCompile(`(?i)<link[^>]*rel=["']apple-touch-icon["'][^>]*href=["']([^"']+)["']`),
}

// probeFaviconDiscovered handles favicon checks in organization mode, where
// each site declares its own icon location in its homepage HTML.
func (x *Executor) probeFaviconDiscovered(ctx context.Context, baseURL string, step models.ProbeStep, start time.Time) models.ProbeResult {
	result := models.ProbeResult{
		Order:     step.Order,
		URLPath:   step.URLPath,
		CheckType: step.CheckType,
		MaxPoints: step.Weight,
	}

	path := x.discoverFaviconPath(ctx, baseURL)
	status, body, err := x.get(ctx, baseURL+path)
	result.ResponseTimeMs = msSince(start)
	result.URLPath = path
	if err != nil {
		result.Error = truncateError(err)
	} else {
		result.HTTPStatus = status
		result.Success = true
		if status == http.StatusOK {
			x.checkFaviconHash(status, body, step, &result)
			if result.Matched {
				result.URLPath = path + " (discovered)"
				return result
			}
		}
	}

	if path != "/favicon.ico" {
		if fbStatus, fbBody, fbErr := x.get(ctx, baseURL+"/favicon.ico"); fbErr == nil && fbStatus == http.StatusOK {
			result.Error = ""
			result.URLPath = "/favicon.ico"
			result.HTTPStatus = fbStatus
			result.ResponseTimeMs = msSince(start)
			result.Success = true
			x.checkFaviconHash(fbStatus, fbBody, step, &result)
			if result.Matched {
				result.URLPath = path + " -> /favicon.ico (fallback)"
			}
		}
	}
	return result
}

// discoverFaviconPath fetches the homepage and extracts the icon href from
// its link tags. Anything going wrong falls back to /favicon.ico.
func (x *Executor) discoverFaviconPath(ctx context.Context, baseURL string) string {
	status, body, err := x.get(ctx, baseURL+"/")
	if err != nil || status != http.StatusOK {
		return "/favicon.ico"
	}

	html := string(body)
	for _, re := range faviconLinkRes {
		if m := re.FindStringSubmatch(html); m != nil {
			path := faviconHrefToPath(m[1])
			log.Debug().Str("path", path).Msg("Discovered favicon location")
			return path
		}
	}
	return "/favicon.ico"
}

// faviconHrefToPath normalizes the href forms link tags use: absolute URLs,
// protocol-relative URLs, absolute paths, and relative paths.
func faviconHrefToPath(href string) string {
	switch {
	case strings.HasPrefix(href, "http://"), strings.HasPrefix(href, "https://"):
		if u, err := url.Parse(href); err == nil && u.Path != "" {
			return u.Path
		}
		return "/favicon.ico"
	case strings.HasPrefix(href, "//"):
		if u, err := url.Parse("https:" + href); err == nil && u.Path != "" {
			return u.Path
		}
		return "/favicon.ico"
	case strings.HasPrefix(href, "/"):
		return href
	default:
		return "/" + href
	}
}

func msSince(start time.Time) float64 {
	return float64(time.Since(start).Milliseconds())
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

func truncateError(err error) string {
	return truncate(err.Error(), 100)
}
