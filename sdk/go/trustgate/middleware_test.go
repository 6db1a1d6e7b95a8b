package trustgate

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
)

func TestMiddlewareAllows(t *testing.T) {
	c := newTestClient(t)
	handler := c.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}))

	req := httptest.NewRequest("GET", "/safe/path", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if rec.Body.String() != "ok" {
		t.Errorf("expected body 'ok', got %q", rec.Body.String())
	}
}

const fetchPolicy = `name: fetch
version: 1.0.0
enforce: true
default_policy: allow
rules:
  - id: deny-dotenv-fetch
    priority: 1
    match:
      tools: [WebFetch]
      target_patterns: ["/.env"]
      target_patterns_are_regex: true
    decision: deny
    reason: fetching env files is not allowed
`

func TestMiddlewareBlocksDenied(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	writeFile(t, path, fetchPolicy)
	c := newTestClient(t, WithPolicy(path))
	handler := c.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("next handler should not be called")
	}))

	req := httptest.NewRequest("GET", "https://internal.example.com/app/.env", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected Content-Type application/json, got %q", ct)
	}

	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode JSON body: %v", err)
	}
	if blocked, ok := body["blocked"].(bool); !ok || !blocked {
		t.Error("expected blocked=true in response")
	}
	if body["decision"] != "deny" || body["matched_rule"] != "deny-dotenv-fetch" {
		t.Errorf("unexpected body %v", body)
	}
}

func TestActionFromRequest(t *testing.T) {
	req := httptest.NewRequest("POST", "/v1/charges?x=1", nil)
	req.Host = "api.internal:8080"
	a := actionFromRequest(req)
	if a.Tool != "WebFetch" || a.Target != "api.internal:8080/v1/charges?x=1" {
		t.Errorf("unexpected action %+v", a)
	}
}
