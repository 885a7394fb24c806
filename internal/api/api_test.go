package api

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/replicast/replicast/internal/checksum"
	"github.com/replicast/replicast/internal/metastore"
	"github.com/replicast/replicast/internal/metrics"
	"github.com/replicast/replicast/internal/models"
	"github.com/replicast/replicast/internal/signer"
	"github.com/replicast/replicast/internal/testutil"
)

const (
	testKey    = "test-key"
	testSecret = "test-secret"
)

type testEnv struct {
	db     *metastore.DB
	server *httptest.Server
	signer signer.Signer
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db := testutil.TestDB(t)
	_, files := testutil.TestUploads(t)

	svc := NewService(db, files, "https://replica.test")
	h := NewHandler(svc, slog.New(slog.NewTextHandler(io.Discard, nil)))
	srv := httptest.NewServer(Router(h, AuthOptions{
		Enabled:   true,
		APIKey:    testKey,
		APISecret: testSecret,
		Algorithm: signer.SHA256,
		Freshness: 300 * time.Second,
	}))
	t.Cleanup(srv.Close)

	return &testEnv{db: db, server: srv, signer: signer.New(signer.SHA256)}
}

// request sends a correctly signed request and returns the response.
func (e *testEnv) request(t *testing.T, method, uri string, body []byte, header http.Header) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, e.server.URL+uri, bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	for key, values := range header {
		req.Header[key] = values
	}
	if req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	ts := time.Now().Unix()
	req.Header.Set("X-API-KEY", testKey)
	req.Header.Set("X-API-TIMESTAMP", fmt.Sprintf("%d", ts))
	req.Header.Set("X-API-SIGNATURE", e.signer.Sign(method, uri, ts, testKey, testSecret))

	resp, err := e.server.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeResponse(t *testing.T, resp *http.Response) models.RemoteResponse {
	t.Helper()
	var out models.RemoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	return out
}

func decodeErrorBody(t *testing.T, resp *http.Response) models.RemoteError {
	t.Helper()
	var out models.RemoteError
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	return out
}

func TestCreateThenUpdatePost(t *testing.T) {
	env := newTestEnv(t)

	payload := models.Payload{
		Type:    "post",
		Status:  "publish",
		Title:   "hello",
		Content: "<p>first</p>",
		Slug:    "hello",
		Date:    "2026-03-14T09:26:53",
		Replicast: models.Envelope{
			Meta: map[string][]string{"color": {"blue"}},
		},
	}
	body, _ := json.Marshal(payload)
	writesBefore := promtest.ToFloat64(metrics.InboundWrites.WithLabelValues("posts", http.MethodPost))

	resp := env.request(t, http.MethodPost, "/posts", body, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create: got status %d, want 201", resp.StatusCode)
	}
	created := decodeResponse(t, resp)
	if created.ID == 0 {
		t.Fatal("create: no id assigned")
	}
	if created.Status != "publish" {
		t.Errorf("create: status = %q, want publish", created.Status)
	}
	if created.Link == "" {
		t.Error("create: empty link")
	}

	meta, err := env.db.GetMeta(created.ID, "post")
	if err != nil {
		t.Fatal(err)
	}
	if got := meta["color"]; len(got) != 1 || got[0] != "blue" {
		t.Errorf("meta color = %v, want [blue]", got)
	}

	payload.Title = "hello again"
	payload.Replicast.Meta = map[string][]string{"color": {"red", "green"}}
	body, _ = json.Marshal(payload)

	resp = env.request(t, http.MethodPost, fmt.Sprintf("/posts/%d", created.ID), body, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("update: got status %d, want 200", resp.StatusCode)
	}
	updated := decodeResponse(t, resp)
	if updated.ID != created.ID {
		t.Errorf("update: id = %d, want %d", updated.ID, created.ID)
	}

	row, err := env.db.GetObject(created.ID)
	if err != nil {
		t.Fatal(err)
	}
	if row.Title != "hello again" {
		t.Errorf("title = %q, want %q", row.Title, "hello again")
	}
	meta, _ = env.db.GetMeta(created.ID, "post")
	if got := meta["color"]; len(got) != 2 || got[0] != "red" {
		t.Errorf("meta color = %v, want full replacement [red green]", got)
	}

	writes := promtest.ToFloat64(metrics.InboundWrites.WithLabelValues("posts", http.MethodPost))
	if writes != writesBefore+2 {
		t.Errorf("inbound write counter advanced by %v, want 2", writes-writesBefore)
	}
}

func TestUpdateUnknownObject(t *testing.T) {
	env := newTestEnv(t)
	body, _ := json.Marshal(models.Payload{Title: "ghost"})

	resp := env.request(t, http.MethodPost, "/posts/999", body, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("got status %d, want 404", resp.StatusCode)
	}
	if e := decodeErrorBody(t, resp); e.Code != "rest_post_invalid_id" {
		t.Errorf("code = %q, want rest_post_invalid_id", e.Code)
	}
}

func TestTermTreeAssignsAndEchoesIDs(t *testing.T) {
	env := newTestEnv(t)

	payload := models.Payload{
		Title: "tagged",
		Replicast: models.Envelope{
			Terms: map[int64]models.TermPayload{
				10: {
					Taxonomy: "category",
					Name:     "parent",
					Slug:     "parent",
					Children: map[int64]models.TermPayload{
						11: {Taxonomy: "category", Name: "child", Slug: "child"},
					},
				},
			},
		},
	}
	body, _ := json.Marshal(payload)

	resp := env.request(t, http.MethodPost, "/posts", body, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("got status %d, want 201", resp.StatusCode)
	}
	created := decodeResponse(t, resp)
	if created.Replicast == nil {
		t.Fatal("no replicast echo in response")
	}

	parent, ok := created.Replicast.Terms[10]
	if !ok || parent.TermID == 0 {
		t.Fatalf("parent term not echoed with an assigned id: %+v", created.Replicast.Terms)
	}
	child, ok := parent.Children[11]
	if !ok || child.TermID == 0 {
		t.Fatalf("child term not echoed with an assigned id: %+v", parent.Children)
	}
	if child.Parent != parent.TermID {
		t.Errorf("child parent = %d, want %d", child.Parent, parent.TermID)
	}

	terms, err := env.db.ObjectTerms(created.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(terms) != 2 {
		t.Errorf("object has %d terms assigned, want 2", len(terms))
	}
}

func TestDeleteSoftThenForce(t *testing.T) {
	env := newTestEnv(t)
	id := testutil.SeedPost(t, env.db, "doomed")

	resp := env.request(t, http.MethodDelete, fmt.Sprintf("/posts/%d", id), nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("soft delete: got status %d, want 200", resp.StatusCode)
	}
	row, err := env.db.GetObject(id)
	if err != nil {
		t.Fatal(err)
	}
	if row.Status != "trash" {
		t.Errorf("status after soft delete = %q, want trash", row.Status)
	}

	resp = env.request(t, http.MethodDelete, fmt.Sprintf("/posts/%d?force=true", id), nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("force delete: got status %d, want 200", resp.StatusCode)
	}
	if _, err := env.db.GetObject(id); err == nil {
		t.Error("object still present after force delete")
	}
}

func TestBinaryUpload(t *testing.T) {
	env := newTestEnv(t)
	data := []byte("fake image bytes")

	header := http.Header{}
	header.Set("Content-Type", "image/png")
	header.Set("Content-Disposition", `attachment; filename="photo.png"`)
	header.Set("Content-MD5", checksum.ContentMD5(data))

	resp := env.request(t, http.MethodPost, "/media", data, header)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("got status %d, want 201", resp.StatusCode)
	}
	created := decodeResponse(t, resp)

	row, err := env.db.GetObject(created.ID)
	if err != nil {
		t.Fatal(err)
	}
	if row.Kind != models.KindAttachment {
		t.Errorf("kind = %q, want attachment", row.Kind)
	}
	if row.MimeType != "image/png" {
		t.Errorf("mime type = %q, want image/png", row.MimeType)
	}
}

func TestBinaryUploadChecksumMismatch(t *testing.T) {
	env := newTestEnv(t)

	header := http.Header{}
	header.Set("Content-Type", "image/png")
	header.Set("Content-Disposition", `attachment; filename="photo.png"`)
	header.Set("Content-MD5", checksum.ContentMD5([]byte("other bytes")))

	resp := env.request(t, http.MethodPost, "/media", []byte("fake image bytes"), header)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("got status %d, want 400", resp.StatusCode)
	}
	if e := decodeErrorBody(t, resp); e.Code != "replicast_checksum_mismatch" {
		t.Errorf("code = %q, want replicast_checksum_mismatch", e.Code)
	}
}

func TestFieldEndpointsHideProtectedKeys(t *testing.T) {
	env := newTestEnv(t)
	id := testutil.SeedPost(t, env.db, "field-test")

	body, _ := json.Marshal(map[string]any{
		"meta": map[string][]string{
			"visible":                {"yes"},
			"_private":               {"hidden"},
			models.MetaKeySourceInfo: {`{"object_id":42}`},
		},
	})
	resp := env.request(t, http.MethodPost, fmt.Sprintf("/posts/%d/replicast", id), body, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("field update: got status %d, want 200", resp.StatusCode)
	}

	resp = env.request(t, http.MethodGet, fmt.Sprintf("/posts/%d/replicast", id), nil, nil)
	var out struct {
		Meta map[string][]string `json:"meta"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if _, ok := out.Meta["visible"]; !ok {
		t.Error("visible key missing from field view")
	}
	if _, ok := out.Meta["_private"]; ok {
		t.Error("protected key leaked into field view")
	}
	if _, ok := out.Meta[models.MetaKeySourceInfo]; !ok {
		t.Error("whitelisted source info key missing from field view")
	}
}

func TestSignatureRejection(t *testing.T) {
	env := newTestEnv(t)
	sgn := signer.New(signer.SHA256)

	send := func(t *testing.T, mutate func(*http.Request)) *http.Response {
		t.Helper()
		req, err := http.NewRequest(http.MethodPost, env.server.URL+"/posts", bytes.NewReader([]byte("{}")))
		if err != nil {
			t.Fatal(err)
		}
		ts := time.Now().Unix()
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-API-KEY", testKey)
		req.Header.Set("X-API-TIMESTAMP", fmt.Sprintf("%d", ts))
		req.Header.Set("X-API-SIGNATURE", sgn.Sign(http.MethodPost, "/posts", ts, testKey, testSecret))
		mutate(req)
		resp, err := env.server.Client().Do(req)
		if err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() { resp.Body.Close() })
		return resp
	}

	cases := []struct {
		name     string
		mutate   func(*http.Request)
		wantCode string
	}{
		{
			name:     "wrong key",
			mutate:   func(r *http.Request) { r.Header.Set("X-API-KEY", "intruder") },
			wantCode: "replicast_bad_key",
		},
		{
			name:     "missing timestamp",
			mutate:   func(r *http.Request) { r.Header.Del("X-API-TIMESTAMP") },
			wantCode: "replicast_bad_timestamp",
		},
		{
			name: "stale timestamp",
			mutate: func(r *http.Request) {
				old := time.Now().Add(-time.Hour).Unix()
				r.Header.Set("X-API-TIMESTAMP", fmt.Sprintf("%d", old))
				r.Header.Set("X-API-SIGNATURE", sgn.Sign(http.MethodPost, "/posts", old, testKey, testSecret))
			},
			wantCode: "replicast_stale_request",
		},
		{
			name:     "tampered signature",
			mutate:   func(r *http.Request) { r.Header.Set("X-API-SIGNATURE", "deadbeef") },
			wantCode: "replicast_bad_signature",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := send(t, tc.mutate)
			if resp.StatusCode != http.StatusUnauthorized {
				t.Fatalf("got status %d, want 401", resp.StatusCode)
			}
			if e := decodeErrorBody(t, resp); e.Code != tc.wantCode {
				t.Errorf("code = %q, want %q", e.Code, tc.wantCode)
			}
		})
	}
}

func TestDisabledAuthRejectsWrites(t *testing.T) {
	db := testutil.TestDB(t)
	_, files := testutil.TestUploads(t)
	svc := NewService(db, files, "https://replica.test")
	h := NewHandler(svc, slog.New(slog.NewTextHandler(io.Discard, nil)))
	srv := httptest.NewServer(Router(h, AuthOptions{Enabled: false}))
	t.Cleanup(srv.Close)

	resp, err := http.Post(srv.URL+"/posts", "application/json", bytes.NewReader([]byte("{}")))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("got status %d, want 401", resp.StatusCode)
	}
	if e := decodeErrorBody(t, resp); e.Code != "replicast_disabled" {
		t.Errorf("code = %q, want replicast_disabled", e.Code)
	}
}

func TestSignatureBindsCallerIP(t *testing.T) {
	db := testutil.TestDB(t)
	_, files := testutil.TestUploads(t)
	svc := NewService(db, files, "https://replica.test")
	h := NewHandler(svc, slog.New(slog.NewTextHandler(io.Discard, nil)))
	srv := httptest.NewServer(Router(h, AuthOptions{
		Enabled:   true,
		APIKey:    testKey,
		APISecret: testSecret,
		Algorithm: signer.SHA256,
		Freshness: 300 * time.Second,
		IncludeIP: true,
	}))
	t.Cleanup(srv.Close)

	sgn := signer.New(signer.SHA256)
	body, _ := json.Marshal(models.Payload{Type: "post", Title: "bound", Date: "2026-03-14T09:26:53"})

	send := func(t *testing.T, signature func(ts int64) string) *http.Response {
		t.Helper()
		req, err := http.NewRequest(http.MethodPost, srv.URL+"/posts", bytes.NewReader(body))
		if err != nil {
			t.Fatal(err)
		}
		ts := time.Now().Unix()
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-API-KEY", testKey)
		req.Header.Set("X-API-TIMESTAMP", fmt.Sprintf("%d", ts))
		req.Header.Set("X-API-SIGNATURE", signature(ts))
		resp, err := srv.Client().Do(req)
		if err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() { resp.Body.Close() })
		return resp
	}

	// The loopback client connects from 127.0.0.1; a signature bound to that
	// address is accepted.
	resp := send(t, func(ts int64) string {
		return sgn.SignWithIP(http.MethodPost, "/posts", ts, "127.0.0.1", testKey, testSecret)
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("ip-bound signature: got status %d, want 201", resp.StatusCode)
	}

	// An address-less signature no longer verifies.
	resp = send(t, func(ts int64) string {
		return sgn.Sign(http.MethodPost, "/posts", ts, testKey, testSecret)
	})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unbound signature: got status %d, want 401", resp.StatusCode)
	}
	if e := decodeErrorBody(t, resp); e.Code != "replicast_bad_signature" {
		t.Errorf("code = %q, want replicast_bad_signature", e.Code)
	}

	// Neither does one bound to a different address.
	resp = send(t, func(ts int64) string {
		return sgn.SignWithIP(http.MethodPost, "/posts", ts, "203.0.113.7", testKey, testSecret)
	})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("wrong-address signature: got status %d, want 401", resp.StatusCode)
	}
}
