package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/collabforge/colabhub/internal/aiintegrator"
	"github.com/collabforge/colabhub/internal/aiqueue"
	"github.com/collabforge/colabhub/internal/broadcast"
	"github.com/collabforge/colabhub/internal/document"
	"github.com/collabforge/colabhub/internal/hub"
	"github.com/collabforge/colabhub/internal/session"
	"github.com/collabforge/colabhub/pkg/cache"
)

// stubCompleter is a test-controlled AICompleter: it never calls an upstream
// provider, mirroring how the teacher's tests never dial a real LLM either.
type stubCompleter struct {
	result aiqueue.CompleterResult
	err    error
}

func (s *stubCompleter) Complete(ctx context.Context, req aiqueue.AIRequest) (aiqueue.CompleterResult, error) {
	return s.result, s.err
}

// testServer wires a Server over an in-memory cache and a queue that is
// constructed but never started, the same "server with test-friendly
// settings" shape the teacher's testServer helper uses.
func testServer(t *testing.T, completer aiqueue.AICompleter) (*Server, cache.Cache) {
	t.Helper()

	c := cache.NewTestCache(t)
	docs := document.NewStore(c, 1000, time.Hour)
	sessions := session.NewStore(c, 5*time.Minute)
	b := broadcast.New(docs, 64)
	queue := aiqueue.New(c, completer, aiqueue.Config{
		MaxConcurrentRequests:      4,
		RequestTimeout:             5 * time.Second,
		RateLimitPerUserPerMinute:  60,
		RetryDelay:                 time.Millisecond,
		MaxRetries:                 1,
		EnableRequestDeduplication: true,
		EnableResponseCaching:      true,
		CacheTTL:                   time.Minute,
	})
	integrator := aiintegrator.New(docs, queue, b, true, true, 30*time.Second)
	h := hub.New(docs, sessions, b, integrator, 5*time.Minute, 5*time.Second)

	return New(h, docs, sessions, queue, completer, c, "test"), c
}

func TestHandleAIEditSuccess(t *testing.T) {
	srv, _ := testServer(t, &stubCompleter{result: aiqueue.CompleterResult{Success: true, Result: "HELLO"}})
	ts := httptest.NewServer(srv.Engine())
	defer ts.Close()

	body, _ := json.Marshal(aiEditRequest{SelectedText: "hello", Prompt: "uppercase"})
	resp, err := http.Post(ts.URL+"/ai/edit", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST /ai/edit: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var out aiEditResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if out.Result != "HELLO" {
		t.Errorf("expected result 'HELLO', got %q", out.Result)
	}
}

func TestHandleAIEditCompleterFailure(t *testing.T) {
	srv, _ := testServer(t, &stubCompleter{result: aiqueue.CompleterResult{Success: false, Error: "upstream exploded"}})
	ts := httptest.NewServer(srv.Engine())
	defer ts.Close()

	body, _ := json.Marshal(aiEditRequest{SelectedText: "hello", Prompt: "uppercase"})
	resp, err := http.Post(ts.URL+"/ai/edit", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST /ai/edit: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", resp.StatusCode)
	}
}

func TestHandleAIEditMissingFields(t *testing.T) {
	srv, _ := testServer(t, &stubCompleter{})
	ts := httptest.NewServer(srv.Engine())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/ai/edit", "application/json", bytes.NewReader([]byte(`{}`)))
	if err != nil {
		t.Fatalf("POST /ai/edit: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing required fields, got %d", resp.StatusCode)
	}
}

func TestHandleHealth(t *testing.T) {
	srv, _ := testServer(t, &stubCompleter{})
	ts := httptest.NewServer(srv.Engine())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var out healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if out.Status != "healthy" {
		t.Errorf("expected status 'healthy', got %q", out.Status)
	}
}

func TestHandleHealthDetailedIncludesDocumentAndSessionCounts(t *testing.T) {
	srv, c := testServer(t, &stubCompleter{})
	ts := httptest.NewServer(srv.Engine())
	defer ts.Close()

	if _, err := srv.docs.Create(context.Background(), "doc-1", "", "user-1"); err != nil {
		t.Fatalf("seed document: %v", err)
	}
	_ = c // cache kept alive for the lifetime of the test server

	resp, err := http.Get(ts.URL + "/health/detailed")
	if err != nil {
		t.Fatalf("GET /health/detailed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var out healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if out.Checks["document"].Status != "healthy" {
		t.Errorf("expected healthy document check, got %+v", out.Checks["document"])
	}
	if out.Checks["cache"].Status != "healthy" {
		t.Errorf("expected healthy cache check, got %+v", out.Checks["cache"])
	}
}

func TestHandleHealthLiveNeverTouchesCache(t *testing.T) {
	srv, c := testServer(t, &stubCompleter{})
	ts := httptest.NewServer(srv.Engine())
	defer ts.Close()

	c.Close() // a closed cache would fail any dependency check /health/live performs

	resp, err := http.Get(ts.URL + "/health/live")
	if err != nil {
		t.Fatalf("GET /health/live: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 regardless of cache state, got %d", resp.StatusCode)
	}
}

func TestHandleMetricsJSON(t *testing.T) {
	srv, _ := testServer(t, &stubCompleter{})
	ts := httptest.NewServer(srv.Engine())
	defer ts.Close()

	if _, err := srv.docs.Create(context.Background(), "doc-1", "", "user-1"); err != nil {
		t.Fatalf("seed document: %v", err)
	}

	resp, err := http.Get(ts.URL + "/metrics?format=json")
	if err != nil {
		t.Fatalf("GET /metrics?format=json: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var snap metricsSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if snap.ActiveDocuments != 1 {
		t.Errorf("expected 1 active document, got %d", snap.ActiveDocuments)
	}
}

func TestHandleMetricsPrometheusFormat(t *testing.T) {
	srv, _ := testServer(t, &stubCompleter{})
	ts := httptest.NewServer(srv.Engine())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct == "application/json; charset=utf-8" {
		t.Errorf("expected prometheus exposition content type, got %q", ct)
	}
}
