package alert

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ppiankov/trustgate/internal/audit"
	"github.com/ppiankov/trustgate/internal/model"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func countingServer(t *testing.T, status int) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var called atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called.Add(1)
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, &called
}

func TestDispatchMatchesEvents(t *testing.T) {
	srv, called := countingServer(t, http.StatusOK)

	d := NewDispatcher([]Config{
		{URL: srv.URL, Format: FormatGeneric, Events: []model.Decision{model.Deny}},
	}, quiet)

	d.Dispatch(Event{Decision: model.Deny, Tool: "Bash", Target: "rm -rf /"})
	d.Wait()

	if called.Load() != 1 {
		t.Errorf("expected 1 call, got %d", called.Load())
	}
}

func TestDispatchSkipsNonMatching(t *testing.T) {
	srv, called := countingServer(t, http.StatusOK)

	d := NewDispatcher([]Config{
		{URL: srv.URL, Format: FormatGeneric, Events: []model.Decision{model.Deny}},
	}, quiet)

	d.Dispatch(Event{Decision: model.Allow, Tool: "Read", Target: "/tmp/safe.txt"})
	d.Wait()

	if called.Load() != 0 {
		t.Errorf("expected 0 calls for non-matching event, got %d", called.Load())
	}
}

func TestDispatchMultipleWebhooks(t *testing.T) {
	srv1, called1 := countingServer(t, http.StatusOK)
	srv2, called2 := countingServer(t, http.StatusOK)

	d := NewDispatcher([]Config{
		{URL: srv1.URL, Events: []model.Decision{model.Deny}},
		{URL: srv2.URL, Events: []model.Decision{model.Deny, model.AskUser}},
	}, quiet)

	d.Dispatch(Event{Decision: model.Deny})
	d.Dispatch(Event{Decision: model.AskUser})
	d.Wait()

	if called1.Load() != 1 || called2.Load() != 2 {
		t.Errorf("expected 1 and 2 calls, got %d and %d", called1.Load(), called2.Load())
	}
}

func TestDispatchRecord(t *testing.T) {
	var got Event
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		if r.Header.Get("X-Token") != "abc" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	target := "/srv/.env"
	rule := "deny-secrets"
	agent := "agent-1"
	_, rec, _ := audit.Append(audit.NewChain("s1", "default", time.Now()), audit.Input{
		PolicyID:    "default",
		PolicyHash:  "0123456789abcdef",
		MatchedRule: &rule,
		Decision:    model.Deny,
		SessionID:   "s1",
		AgentID:     &agent,
		TrustScore:  0.5,
		ToolName:    "Read",
		Target:      &target,
		Enforced:    true,
		Blocked:     true,
	}, time.Now())

	d := NewDispatcher([]Config{
		{URL: srv.URL, Events: []model.Decision{model.Deny}, Headers: map[string]string{"X-Token": "abc"}},
	}, quiet)
	d.DispatchRecord(rec)
	d.Wait()

	if got.ActionID != "r6:s1:1" || got.SessionID != "s1" || got.Target != target || got.MatchedRule != rule || got.ActorID != agent {
		t.Errorf("unexpected event %+v", got)
	}
	if got.ContentHash != rec.ContentHash || got.PolicyHash != "0123456789abcdef" || got.Outcome != model.OutcomeBlocked {
		t.Errorf("unexpected event %+v", got)
	}
}

func TestNilDispatcherIgnoresEvents(t *testing.T) {
	var d *Dispatcher
	d.Dispatch(Event{Decision: model.Deny})
	d.DispatchRecord(audit.Record{})
	d.Wait()
}

func TestRetryOnServerError(t *testing.T) {
	retryDelay = time.Millisecond
	t.Cleanup(func() { retryDelay = time.Second })

	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := attempts.Add(1)
		if n < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	err := Send(context.Background(), Config{URL: srv.URL, Format: FormatGeneric}, Event{Decision: model.Deny})
	if err != nil {
		t.Errorf("expected success after retries, got: %v", err)
	}
	if attempts.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts.Load())
	}
}

func TestNoRetryOnClientError(t *testing.T) {
	srv, attempts := countingServer(t, http.StatusBadRequest)

	err := Send(context.Background(), Config{URL: srv.URL, Format: FormatGeneric}, Event{Decision: model.Deny})
	if err == nil {
		t.Error("expected error on 400, got nil")
	}
	if attempts.Load() != 1 {
		t.Errorf("expected 1 attempt (no retry on 4xx), got %d", attempts.Load())
	}
}

func TestRetryOnTooManyRequests(t *testing.T) {
	retryDelay = time.Millisecond
	t.Cleanup(func() { retryDelay = time.Second })
	srv, attempts := countingServer(t, http.StatusTooManyRequests)

	err := Send(context.Background(), Config{URL: srv.URL, Format: FormatGeneric}, Event{Decision: model.Deny})
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if attempts.Load() != maxAttempts {
		t.Errorf("expected %d attempts on 429, got %d", maxAttempts, attempts.Load())
	}
}

func TestSendStopsOnCancel(t *testing.T) {
	srv, attempts := countingServer(t, http.StatusServiceUnavailable)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Send(ctx, Config{URL: srv.URL, Format: FormatGeneric}, Event{Decision: model.Deny})
	if err != context.Canceled {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if attempts.Load() > 1 {
		t.Errorf("cancelled send kept retrying: %d attempts", attempts.Load())
	}
}

func TestSendHeaders(t *testing.T) {
	got := make(chan http.Header, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got <- r.Header.Clone()
	}))
	defer srv.Close()

	cfg := Config{URL: srv.URL, Format: FormatGeneric, Headers: map[string]string{"Authorization": "Bearer abc"}}
	if err := Send(context.Background(), cfg, Event{Decision: model.Deny}); err != nil {
		t.Fatal(err)
	}
	h := <-got
	if h.Get("Authorization") != "Bearer abc" || h.Get("Content-Type") != "application/json" || h.Get("User-Agent") != "trustgate-alert" {
		t.Errorf("unexpected headers %v", h)
	}
}

func TestFormatGenericJSON(t *testing.T) {
	event := Event{
		Timestamp: "2026-01-15T14:00:00.000Z",
		ActionID:  "r6:s1:3",
		Tool:      "Bash",
		Target:    "rm -rf /",
		Decision:  model.Deny,
		Error:     "tool call failed",
	}

	data, err := FormatPayload(FormatGeneric, event)
	if err != nil {
		t.Fatal(err)
	}

	var parsed Event
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("generic format is not valid JSON: %v", err)
	}
	if parsed != event {
		t.Errorf("round trip mismatch: %+v", parsed)
	}
}

func TestFormatSlackBlockKit(t *testing.T) {
	event := Event{
		Tool:     "Bash",
		Target:   "rm -rf /",
		Decision:    model.Deny,
		MatchedRule: "no-rm",
	}

	data, err := FormatPayload(FormatSlack, event)
	if err != nil {
		t.Fatal(err)
	}

	var parsed map[string]any
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("slack format is not valid JSON: %v", err)
	}

	blocks, ok := parsed["blocks"].([]any)
	if !ok || len(blocks) != 2 {
		t.Fatalf("expected 2 blocks, got %v", parsed["blocks"])
	}
	header, _ := blocks[0].(map[string]any)
	text, _ := header["text"].(map[string]any)
	if header["type"] != "header" || text["text"] != "trustgate: deny" {
		t.Errorf("unexpected header block %v", header)
	}
	section, _ := blocks[1].(map[string]any)
	fields, ok := section["fields"].([]any)
	if section["type"] != "section" || !ok || len(fields) != 4 {
		t.Errorf("expected section with 4 fields, got %v", section)
	}
}

func TestFormatPagerDutySeverity(t *testing.T) {
	tests := []struct {
		decision model.Decision
		outcome  model.Outcome
		want     string
	}{
		{model.Deny, model.OutcomeBlocked, "critical"},
		{model.Deny, model.OutcomeSuccess, "error"},
		{model.AskUser, model.OutcomeEnforced, "warning"},
		{model.LogOnly, model.OutcomeSuccess, "info"},
	}
	for _, tt := range tests {
		data, err := FormatPayload(FormatPagerDuty, Event{ActionID: "r6:s:1", Decision: tt.decision, Outcome: tt.outcome})
		if err != nil {
			t.Fatal(err)
		}
		var parsed map[string]any
		if err := json.Unmarshal(data, &parsed); err != nil {
			t.Fatalf("pagerduty format is not valid JSON: %v", err)
		}
		payload, _ := parsed["payload"].(map[string]any)
		if payload["severity"] != tt.want {
			t.Errorf("%s/%s: expected severity %s, got %v", tt.decision, tt.outcome, tt.want, payload["severity"])
		}
		if payload["source"] != "trustgate" || parsed["dedup_key"] != "r6:s:1" {
			t.Errorf("unexpected payload %v", parsed)
		}
	}
}

func TestConfigValidate(t *testing.T) {
	good := Config{URL: "https://hooks.example.com/x", Events: []model.Decision{model.Deny}}
	if err := good.Validate(); err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	bad := map[string]Config{
		"no url":       {Events: []model.Decision{model.Deny}},
		"bad scheme":   {URL: "ftp://x", Events: []model.Decision{model.Deny}},
		"no events":    {URL: "https://x"},
		"bad event":    {URL: "https://x", Events: []model.Decision{"maybe"}},
		"bad format":   {URL: "https://x", Format: "teams", Events: []model.Decision{model.Deny}},
		"missing host": {URL: "https://", Events: []model.Decision{model.Deny}},
	}
	for name, cfg := range bad {
		if cfg.Validate() == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestNewDispatcherNilOnEmpty(t *testing.T) {
	if NewDispatcher(nil, quiet) != nil {
		t.Error("expected nil dispatcher for empty configs")
	}
	if NewDispatcher([]Config{}, nil) != nil {
		t.Error("expected nil dispatcher for zero-length configs")
	}
}
