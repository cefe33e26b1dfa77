package verify

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sigint-sh/sigint/internal/config"
	"github.com/sigint-sh/sigint/internal/models"
	"github.com/sigint-sh/sigint/pkg/hashutil"
)

var faviconBytes = []byte("\x00\x00\x01\x00fake-icon-content-for-hashing")

func newTestExecutor(mode models.Mode) *Executor {
	cfg := config.DefaultVerify()
	cfg.Timeout = 2 * time.Second
	return NewExecutor(cfg, config.DefaultScoring(), mode)
}

func faviconStep(path string) models.ProbeStep {
	return models.ProbeStep{
		Order:     1,
		URLPath:   path,
		CheckType: models.CheckFaviconHash,
		ExpectedHash: &models.ExpectedHash{
			HashType: "mmh3",
			Value:    hashutil.FaviconMMH3(faviconBytes),
		},
		Weight: 80,
	}
}

func TestExecuteFaviconMatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/favicon.ico" {
			w.Write(faviconBytes)
			return
		}
		http.NotFound(w, r)
	}))
	t.Cleanup(srv.Close)

	result := newTestExecutor(models.ModeApplication).Execute(context.Background(), srv.URL, faviconStep("/favicon.ico"))
	assert.True(t, result.Matched)
	assert.True(t, result.Success)
	assert.Equal(t, 80, result.PointsEarned)
	assert.Equal(t, http.StatusOK, result.HTTPStatus)
	assert.Contains(t, result.Actual, "mmh3:")
}

func TestExecuteFaviconFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/favicon.ico" {
			w.Write(faviconBytes)
			return
		}
		http.NotFound(w, r)
	}))
	t.Cleanup(srv.Close)

	result := newTestExecutor(models.ModeApplication).Execute(context.Background(), srv.URL, faviconStep("/assets/icon.ico"))
	assert.True(t, result.Matched)
	assert.Equal(t, 80, result.PointsEarned)
	assert.Equal(t, "/assets/icon.ico -> /favicon.ico (fallback)", result.URLPath)
}

func TestExecuteFaviconMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("a completely different icon"))
	}))
	t.Cleanup(srv.Close)

	result := newTestExecutor(models.ModeApplication).Execute(context.Background(), srv.URL, faviconStep("/favicon.ico"))
	assert.False(t, result.Matched)
	assert.Zero(t, result.PointsEarned)
	assert.Equal(t, 80, result.MaxPoints)
}

func TestExecuteOrganizationModeDiscoversFavicon(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/":
			w.Write([]byte(`<html><head><link rel="shortcut icon" href="/assets/brand.ico"></head></html>`))
		case "/assets/brand.ico":
			w.Write(faviconBytes)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)

	result := newTestExecutor(models.ModeOrganization).Execute(context.Background(), srv.URL, faviconStep("/favicon.ico"))
	assert.True(t, result.Matched)
	assert.Equal(t, 80, result.PointsEarned)
	assert.Equal(t, "/assets/brand.ico (discovered)", result.URLPath)
}

func TestExecuteOrganizationModeRecordsTransportError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	result := newTestExecutor(models.ModeOrganization).Execute(context.Background(), "http://"+addr, faviconStep("/favicon.ico"))
	assert.False(t, result.Success)
	assert.False(t, result.Matched)
	assert.NotEmpty(t, result.Error)
	assert.Zero(t, result.PointsEarned)
}

func TestRetryTransportRecoversFromServerErrors(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requests.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write(faviconBytes)
	}))
	t.Cleanup(srv.Close)

	result := newTestExecutor(models.ModeApplication).Execute(context.Background(), srv.URL, faviconStep("/favicon.ico"))
	assert.True(t, result.Matched)
	assert.Equal(t, int32(3), requests.Load())
}

func TestCheckPageSignaturePartialScoring(t *testing.T) {
	x := newTestExecutor(models.ModeApplication)
	step := models.ProbeStep{
		Order:                1,
		URLPath:              "/login.php",
		CheckType:            models.CheckPageSignature,
		ExpectedTitlePattern: "Login.*Damn Vulnerable",
		ExpectedBodyPatterns: []string{"dvwa_logo", "not-on-this-page"},
	}
	html := `<html><head><title>Login :: Damn Vulnerable Web Application</title></head>` +
		`<body><img src="images/dvwa_logo.png"></body></html>`

	result := models.ProbeResult{Order: step.Order, URLPath: step.URLPath, CheckType: step.CheckType}
	x.checkPageSignature(http.StatusOK, []byte(html), step, &result)

	// Title (15) plus one of two body patterns (15).
	assert.Equal(t, 30, result.PointsEarned)
	assert.Equal(t, 45, result.MaxPoints)
	assert.True(t, result.Matched)
	assert.Contains(t, result.Actual, "title:")
	assert.Contains(t, result.Actual, "body:/dvwa_logo/")
}

func TestCheckPageSignatureNoMatch(t *testing.T) {
	x := newTestExecutor(models.ModeApplication)
	step := models.ProbeStep{
		CheckType:            models.CheckPageSignature,
		ExpectedTitlePattern: "Grafana",
		ExpectedBodyPatterns: []string{"grafana-app"},
	}

	result := models.ProbeResult{CheckType: step.CheckType}
	x.checkPageSignature(http.StatusOK, []byte("<html><title>Apache2 Default</title></html>"), step, &result)
	assert.Zero(t, result.PointsEarned)
	assert.False(t, result.Matched)
	assert.Equal(t, "no patterns matched", result.Actual)
}

func TestCheckPageSignatureStatusMismatch(t *testing.T) {
	x := newTestExecutor(models.ModeApplication)
	step := models.ProbeStep{
		CheckType:            models.CheckPageSignature,
		ExpectedStatus:       http.StatusOK,
		ExpectedTitlePattern: "Grafana",
	}

	result := models.ProbeResult{CheckType: step.CheckType}
	x.checkPageSignature(http.StatusNotFound, []byte("<title>Grafana</title>"), step, &result)
	assert.False(t, result.Matched)
	assert.Equal(t, "HTTP 200", result.Expected)
	assert.Equal(t, "HTTP 404", result.Actual)
}

func testPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 16, 16))
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 16), G: uint8(y * 16), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestCheckImageHashPerceptual(t *testing.T) {
	x := newTestExecutor(models.ModeApplication)
	content := testPNG(t)
	expected, err := hashutil.PHashHex(content)
	require.NoError(t, err)

	step := models.ProbeStep{
		CheckType:    models.CheckImageHash,
		ExpectedHash: &models.ExpectedHash{HashType: "phash", Value: expected},
	}
	result := models.ProbeResult{CheckType: step.CheckType}
	x.checkImageHash(http.StatusOK, content, step, &result)

	assert.True(t, result.Matched)
	assert.Equal(t, 50, result.PointsEarned)
	assert.Equal(t, 50, result.MaxPoints)
}

func TestCheckImageHashNotAnImage(t *testing.T) {
	x := newTestExecutor(models.ModeApplication)
	step := models.ProbeStep{
		CheckType:    models.CheckImageHash,
		ExpectedHash: &models.ExpectedHash{HashType: "phash", Value: "0000000000000000"},
	}
	result := models.ProbeResult{CheckType: step.CheckType}
	x.checkImageHash(http.StatusOK, []byte("not an image"), step, &result)
	assert.False(t, result.Matched)
	assert.NotEmpty(t, result.Error)
}

func TestCheckImageHashMMH3(t *testing.T) {
	x := newTestExecutor(models.ModeApplication)
	content := []byte("logo bytes")
	step := models.ProbeStep{
		CheckType:    models.CheckImageHash,
		ExpectedHash: &models.ExpectedHash{HashType: "mmh3", Value: hashutil.MMH3(content)},
	}
	result := models.ProbeResult{CheckType: step.CheckType}
	x.checkImageHash(http.StatusOK, content, step, &result)
	assert.True(t, result.Matched)
	assert.Equal(t, 50, result.PointsEarned)
}

func TestFaviconHrefToPath(t *testing.T) {
	tests := []struct {
		href string
		want string
	}{
		{"/favicon.ico", "/favicon.ico"},
		{"assets/icon.png", "/assets/icon.png"},
		{"https://cdn.example.com/static/fav.ico", "/static/fav.ico"},
		{"http://example.com/fav.ico", "/fav.ico"},
		{"//cdn.example.com/fav.ico", "/fav.ico"},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, faviconHrefToPath(tc.href), "href %q", tc.href)
	}
}
