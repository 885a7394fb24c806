package transport

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/replicast/replicast/internal/apperr"
	"github.com/replicast/replicast/internal/checksum"
	"github.com/replicast/replicast/internal/models"
	"github.com/replicast/replicast/internal/signer"
)

func testClient() *Client {
	return New(Options{Timeout: 5 * time.Second, Algorithm: signer.SHA256}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func siteFor(url string) *models.RemoteSite {
	return &models.RemoteSite{
		ID:        2,
		Name:      "mirror",
		SiteURL:   url,
		APIURL:    url + "/replicast/v1",
		APIKey:    "k",
		APISecret: "s",
	}
}

func TestDoSignsAndTranslatesPut(t *testing.T) {
	var got *http.Request
	var body []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Clone(context.Background())
		body, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":99,"status":"publish"}`))
	}))
	defer srv.Close()

	c := testClient()
	resp, err := c.Do(context.Background(), siteFor(srv.URL), http.MethodPut, "posts/99", nil,
		&models.Payload{Title: "hello"})
	if err != nil {
		t.Fatal(err)
	}
	if resp.ID != 99 || resp.Status != "publish" {
		t.Errorf("resp = %+v", resp)
	}

	if got.Method != http.MethodPost {
		t.Errorf("method = %s, want PUT translated to POST", got.Method)
	}
	if got.URL.Path != "/replicast/v1/posts/99" {
		t.Errorf("path = %s", got.URL.Path)
	}
	if got.Header.Get("X-API-KEY") != "k" {
		t.Errorf("api key header = %q", got.Header.Get("X-API-KEY"))
	}

	// The signature must verify against the exact request URI the server saw.
	ts, err := strconv.ParseInt(got.Header.Get("X-API-TIMESTAMP"), 10, 64)
	if err != nil {
		t.Fatalf("timestamp header: %v", err)
	}
	want := signer.New(signer.SHA256).Sign(got.Method, got.URL.RequestURI(), ts, "k", "s")
	if got.Header.Get("X-API-SIGNATURE") != want {
		t.Error("signature does not verify on the receiving side")
	}

	var sent models.Payload
	if err := json.Unmarshal(body, &sent); err != nil || sent.Title != "hello" {
		t.Errorf("body = %s", body)
	}
}

func TestDoQueryParamsSigned(t *testing.T) {
	var uri string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		uri = r.URL.RequestURI()
		_, _ = w.Write([]byte(`{"id":1}`))
	}))
	defer srv.Close()

	c := testClient()
	params := []signer.Param{{Key: "force", Value: "true"}}
	if _, err := c.Do(context.Background(), siteFor(srv.URL), http.MethodDelete, "posts/9", params, nil); err != nil {
		t.Fatal(err)
	}
	if uri != "/replicast/v1/posts/9?force=true" {
		t.Errorf("uri = %q", uri)
	}
}

func TestDoBindsSourceIP(t *testing.T) {
	var got *http.Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Clone(context.Background())
		_, _ = w.Write([]byte(`{"id":1}`))
	}))
	defer srv.Close()

	c := New(Options{
		Timeout:   5 * time.Second,
		Algorithm: signer.SHA256,
		IncludeIP: true,
		SourceIP:  "203.0.113.7",
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	if _, err := c.Do(context.Background(), siteFor(srv.URL), http.MethodPost, "posts", nil,
		&models.Payload{Title: "bound"}); err != nil {
		t.Fatal(err)
	}

	ts, err := strconv.ParseInt(got.Header.Get("X-API-TIMESTAMP"), 10, 64)
	if err != nil {
		t.Fatalf("timestamp header: %v", err)
	}
	sgn := signer.New(signer.SHA256)
	want := sgn.SignWithIP(got.Method, got.URL.RequestURI(), ts, "203.0.113.7", "k", "s")
	if got.Header.Get("X-API-SIGNATURE") != want {
		t.Error("signature does not verify against the configured source address")
	}
	if got.Header.Get("X-API-SIGNATURE") == sgn.Sign(got.Method, got.URL.RequestURI(), ts, "k", "s") {
		t.Error("signature ignores the configured source address")
	}
}

func TestDoRemoteRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"code":"replicast_bad_signature","message":"signature mismatch","data":{"status":403}}`))
	}))
	defer srv.Close()

	c := testClient()
	_, err := c.Do(context.Background(), siteFor(srv.URL), http.MethodPost, "posts", nil, &models.Payload{})
	var rejected *apperr.RemoteRejected
	if !errors.As(err, &rejected) {
		t.Fatalf("got %v, want RemoteRejected", err)
	}
	if rejected.Code != "replicast_bad_signature" || rejected.Status != http.StatusForbidden {
		t.Errorf("rejected = %+v", rejected)
	}
}

func TestDoRejectionWithoutEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream broke"))
	}))
	defer srv.Close()

	c := testClient()
	_, err := c.Do(context.Background(), siteFor(srv.URL), http.MethodPost, "posts", nil, nil)
	var rejected *apperr.RemoteRejected
	if !errors.As(err, &rejected) {
		t.Fatalf("got %v, want RemoteRejected", err)
	}
	if rejected.Message != http.StatusText(http.StatusBadGateway) {
		t.Errorf("message = %q, want status text fallback", rejected.Message)
	}
}

func TestUploadHeaders(t *testing.T) {
	data := []byte("binary bytes")
	var got http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		_, _ = w.Write([]byte(`{"id":5,"status":"publish"}`))
	}))
	defer srv.Close()

	c := testClient()
	resp, err := c.Upload(context.Background(), siteFor(srv.URL), "media", "photo.png", "image/png", data)
	if err != nil {
		t.Fatal(err)
	}
	if resp.ID != 5 {
		t.Errorf("resp = %+v", resp)
	}
	if got.Get("Content-Type") != "image/png" {
		t.Errorf("content type = %q", got.Get("Content-Type"))
	}
	if got.Get("Content-Disposition") != "attachment; filename=photo.png" {
		t.Errorf("disposition = %q", got.Get("Content-Disposition"))
	}
	if got.Get("Content-MD5") != checksum.ContentMD5(data) {
		t.Errorf("md5 = %q", got.Get("Content-MD5"))
	}
}

func TestTransportErrorWrapsNetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close() // nothing listening

	c := testClient()
	_, err := c.Do(context.Background(), siteFor(srv.URL), http.MethodPost, "posts", nil, nil)
	var te *apperr.TransportError
	if !errors.As(err, &te) {
		t.Fatalf("got %v, want TransportError", err)
	}
	if te.SiteID != 2 {
		t.Errorf("site id = %d", te.SiteID)
	}
}

func TestBreakerOpensAfterRepeatedFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close()

	c := testClient()
	site := siteFor(srv.URL)
	for i := 0; i < 5; i++ {
		_, _ = c.Do(context.Background(), site, http.MethodPost, "posts", nil, nil)
	}

	_, err := c.Do(context.Background(), site, http.MethodPost, "posts", nil, nil)
	var te *apperr.TransportError
	if !errors.As(err, &te) {
		t.Fatalf("got %v, want TransportError", err)
	}
	if !errors.Is(te.Err, gobreaker.ErrOpenState) {
		t.Errorf("breaker did not open after consecutive failures: %v", te.Err)
	}
}

func TestCacheExpiryResetsBreaker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":1}`))
	}))
	defer srv.Close()

	c := New(Options{Timeout: time.Second, Algorithm: signer.SHA256, CacheTTL: time.Minute},
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	now := time.Now()
	c.Now = func() time.Time { return now }

	site := siteFor(srv.URL)
	if _, err := c.Do(context.Background(), site, http.MethodPost, "posts", nil, nil); err != nil {
		t.Fatal(err)
	}

	c.mu.Lock()
	first := c.sites[site.ID]
	c.mu.Unlock()

	// Within the TTL the cached client is reused; after it a fresh one is
	// built.
	now = now.Add(30 * time.Second)
	_, _ = c.Do(context.Background(), site, http.MethodPost, "posts", nil, nil)
	c.mu.Lock()
	second := c.sites[site.ID]
	c.mu.Unlock()
	if first != second {
		t.Error("client rebuilt before TTL expiry")
	}

	now = now.Add(2 * time.Minute)
	_, _ = c.Do(context.Background(), site, http.MethodPost, "posts", nil, nil)
	c.mu.Lock()
	third := c.sites[site.ID]
	c.mu.Unlock()
	if first == third {
		t.Error("client not rebuilt after TTL expiry")
	}
}

func TestInvalidate(t *testing.T) {
	c := testClient()
	c.clientFor(1)
	c.clientFor(2)

	c.Invalidate(1)
	c.mu.Lock()
	_, one := c.sites[1]
	_, two := c.sites[2]
	c.mu.Unlock()
	if one || !two {
		t.Errorf("after Invalidate(1): site1=%t site2=%t", one, two)
	}

	c.InvalidateAll()
	c.mu.Lock()
	n := len(c.sites)
	c.mu.Unlock()
	if n != 0 {
		t.Errorf("after InvalidateAll: %d cached clients", n)
	}
}
