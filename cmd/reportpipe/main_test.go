// WHAT: HTTP handler tests: status code mapping, submission validation, and
// the JSON shapes clients depend on.
// WHY: The HTTP layer is the contract with submitters; a wrong status code
// or shape breaks polling clients silently.
package main

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	_ "modernc.org/sqlite"

	"github.com/finlens/reportpipe/dbopen"
	"github.com/finlens/reportpipe/ingest"
	"github.com/finlens/reportpipe/pipeline"
	"github.com/finlens/reportpipe/store"
)

func newTestRouter(t *testing.T) (chi.Router, *store.Store) {
	t.Helper()
	st, err := store.NewWithDB(dbopen.OpenMemory(t))
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	cfg := pipeline.DefaultConfig()
	runner, err := pipeline.New(pipeline.Options{Config: cfg, Store: st})
	if err != nil {
		t.Fatalf("pipeline: %v", err)
	}
	t.Cleanup(runner.Close)

	r := chi.NewRouter()
	r.Route("/v1/analyses", func(r chi.Router) {
		r.Post("/", handleSubmit(runner, cfg))
		r.Get("/recent", handleRecent(st))
		r.Get("/{id}", handleResult(st))
		r.Get("/{id}/progress", handleProgress(st))
		r.Delete("/{id}", handleCancel(runner, st))
	})
	return r, st
}

func TestSubmitInvalidUploadReturns422(t *testing.T) {
	r, _ := newTestRouter(t)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "report.pdf")
	if err != nil {
		t.Fatal(err)
	}
	fw.Write([]byte("this is not a pdf"))
	mw.Close()

	req := httptest.NewRequest("POST", "/v1/analyses", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != 422 {
		t.Fatalf("status = %d, want 422; body %s", rec.Code, rec.Body)
	}
	var resp struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("body not JSON: %v", err)
	}
	if resp.Success || resp.Error == "" {
		t.Errorf("body = %+v, want success=false with error", resp)
	}
}

func TestSubmitMissingFileFieldReturns400(t *testing.T) {
	r, _ := newTestRouter(t)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	mw.WriteField("other", "value")
	mw.Close()

	req := httptest.NewRequest("POST", "/v1/analyses", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != 400 {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestSubmitUnsafeURLReturns400(t *testing.T) {
	r, _ := newTestRouter(t)

	for _, raw := range []string{"http://127.0.0.1/x.pdf", "ftp://host/x.pdf", ""} {
		body, _ := json.Marshal(map[string]string{"url": raw})
		req := httptest.NewRequest("POST", "/v1/analyses", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)

		if rec.Code != 400 {
			t.Errorf("url %q: status = %d, want 400", raw, rec.Code)
		}
	}
}

func TestResultUnknownDocumentReturns404(t *testing.T) {
	r, _ := newTestRouter(t)

	req := httptest.NewRequest("GET", "/v1/analyses/doc_missing", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != 404 {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestResultInFlightDocumentReturns404(t *testing.T) {
	r, st := newTestRouter(t)

	doc := &ingest.Document{
		ID: "doc_inflight", Origin: ingest.OriginUpload,
		Status: ingest.StatusSegmented, CreatedAt: time.Now().UTC().Format(time.RFC3339),
	}
	if err := st.CreateDocument(httptest.NewRequest("GET", "/", nil).Context(), doc); err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest("GET", "/v1/analyses/doc_inflight", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != 404 {
		t.Fatalf("result status = %d, want 404", rec.Code)
	}

	// Progress for the same document is visible.
	req = httptest.NewRequest("GET", "/v1/analyses/doc_inflight/progress", nil)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != 200 {
		t.Fatalf("progress status = %d, want 200", rec.Code)
	}
	var p store.Progress
	if err := json.Unmarshal(rec.Body.Bytes(), &p); err != nil {
		t.Fatal(err)
	}
	if p.DocumentID != "doc_inflight" || p.Status != ingest.StatusSegmented {
		t.Errorf("progress = %+v", p)
	}
}

func TestRecentEmptyIsEmptyArray(t *testing.T) {
	r, _ := newTestRouter(t)

	req := httptest.NewRequest("GET", "/v1/analyses/recent", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp struct {
		Recent []store.RecentEntry `json:"recent"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Recent == nil {
		t.Error("recent must serialize as [], not null")
	}
}

func TestMalformedDocumentIDReturns404(t *testing.T) {
	r, _ := newTestRouter(t)

	// Identifiers with characters outside [a-zA-Z0-9_.-] never reach the store.
	for _, path := range []string{
		"/v1/analyses/doc_$bad",
		"/v1/analyses/doc_%20x",
		"/v1/analyses/doc_%3Bdrop/progress",
	} {
		req := httptest.NewRequest("GET", path, nil)
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		if rec.Code != 404 {
			t.Errorf("%s: status = %d, want 404", path, rec.Code)
		}
	}
}

func TestCancelUnknownDocumentReturns404(t *testing.T) {
	r, _ := newTestRouter(t)

	req := httptest.NewRequest("DELETE", "/v1/analyses/doc_missing", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != 404 {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestCancelKnownDocumentReturns200(t *testing.T) {
	r, st := newTestRouter(t)

	doc := &ingest.Document{
		ID: "doc_x", Origin: ingest.OriginUpload,
		Status: ingest.StatusReceived, CreatedAt: time.Now().UTC().Format(time.RFC3339),
	}
	if err := st.CreateDocument(httptest.NewRequest("GET", "/", nil).Context(), doc); err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest("DELETE", "/v1/analyses/doc_x", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestStatusWriterCapturesCode(t *testing.T) {
	rec := httptest.NewRecorder()
	sw := &statusWriter{ResponseWriter: rec, code: 200}
	http.NotFound(sw, httptest.NewRequest("GET", "/nope", nil))
	if sw.code != 404 {
		t.Errorf("code = %d, want 404", sw.code)
	}
}
