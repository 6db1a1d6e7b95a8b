package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"math"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/ppiankov/trustgate/internal/alert"
	"github.com/ppiankov/trustgate/internal/audit"
	"github.com/ppiankov/trustgate/internal/gate"
	"github.com/ppiankov/trustgate/internal/model"
	"github.com/ppiankov/trustgate/internal/policy"
	"github.com/ppiankov/trustgate/internal/trust"
	"github.com/ppiankov/trustgate/internal/witness"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func strPtr(s string) *string { return &s }

func writeTempFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}

func testConfig(t *testing.T, policyPath string) Config {
	t.Helper()
	if policyPath == "" {
		policyPath = writeTempFile(t, "policy.yaml", policy.DefaultConfigYAML())
	}
	dir := t.TempDir()
	return Config{
		PolicyPath:   policyPath,
		DBPath:       filepath.Join(dir, "trustgate.db"),
		AuditLogPath: filepath.Join(dir, "audit.jsonl"),
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		Now:          func() time.Time { return testNow },
	}
}

// testServer spins up an in-process gRPC server on a random port and returns a client.
func testServer(t *testing.T, cfg Config) (*Client, *Server) {
	t.Helper()

	srv, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go srv.ServeOn(lis)

	conn, err := grpc.NewClient(lis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		srv.GracefulStop()
		t.Fatalf("dial: %v", err)
	}

	t.Cleanup(func() {
		conn.Close()
		srv.GracefulStop()
		srv.Close()
	})
	return NewClient(conn), srv
}

func requireCode(t *testing.T, err error, want codes.Code) {
	t.Helper()
	if status.Code(err) != want {
		t.Fatalf("expected %s, got %v", want, err)
	}
}

func TestEvaluateByEntityID(t *testing.T) {
	client, srv := testServer(t, testConfig(t, ""))

	var resp EvaluateResponse
	err := client.Call(context.Background(), MethodEvaluate, EvaluateRequest{
		ToolName: "Read",
		Target:   strPtr("/home/me/.env"),
		EntityID: "agent-1",
	}, &resp)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if resp.Decision != model.Deny || resp.MatchedRule == nil || *resp.MatchedRule != "deny-secrets" {
		t.Errorf("expected deny-secrets, got %+v", resp.Evaluation)
	}
	if resp.TrustScore != 0.5 {
		t.Errorf("expected neutral trust, got %v", resp.TrustScore)
	}
	if resp.PolicyHash != srv.LoadedPolicyHash() || len(resp.PolicyHash) != 16 {
		t.Errorf("unexpected policy hash %q", resp.PolicyHash)
	}
}

func TestEvaluateInlineEntity(t *testing.T) {
	client, _ := testServer(t, testConfig(t, ""))

	e := trust.NewEntity("agent-2", trust.KindAgent, testNow)
	e.T3 = trust.Tensor{Talent: 0.9, Training: 0.9, Temperament: 0.9}
	raw, err := toStruct(e)
	if err != nil {
		t.Fatal(err)
	}
	var resp EvaluateResponse
	err = client.Call(context.Background(), MethodEvaluate, map[string]any{
		"tool_name": "Task",
		"entity":    raw.AsMap(),
	}, &resp)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if resp.Decision != model.Allow || *resp.MatchedRule != "trusted-agents" {
		t.Errorf("expected trusted-agents allow, got %+v", resp.Evaluation)
	}
}

func TestEvaluateValidation(t *testing.T) {
	client, _ := testServer(t, testConfig(t, ""))

	err := client.Call(context.Background(), MethodEvaluate, EvaluateRequest{ToolName: "Read"}, nil)
	requireCode(t, err, codes.InvalidArgument)

	err = client.Call(context.Background(), MethodEvaluate, map[string]any{
		"tool_name": "Read",
		"entity":    map[string]any{"entity_id": ""},
	}, nil)
	requireCode(t, err, codes.InvalidArgument)
}

func TestUpdateTrustPersists(t *testing.T) {
	client, _ := testServer(t, testConfig(t, ""))
	ctx := context.Background()

	var res gate.UpdateTrustResult
	for i := 0; i < 2; i++ {
		if err := client.Call(ctx, MethodUpdateTrust, UpdateTrustRequest{EntityID: "a", ToolName: "Read", Success: true}, &res); err != nil {
			t.Fatalf("UpdateTrust: %v", err)
		}
	}
	if res.Entity.InteractionCount != 2 {
		t.Errorf("expected 2 interactions, got %d", res.Entity.InteractionCount)
	}
	if res.Delta.PreviousComposite <= 0.5 {
		t.Errorf("second update should start from stored record, got %+v", res.Delta)
	}

	err := client.Call(ctx, MethodUpdateTrust, UpdateTrustRequest{EntityID: "a", EntityType: "robot", ToolName: "Read"}, nil)
	requireCode(t, err, codes.InvalidArgument)
}

func TestWitnessAndTransitiveTrust(t *testing.T) {
	client, _ := testServer(t, testConfig(t, ""))
	ctx := context.Background()

	for _, w := range []RecordWitnessRequest{
		{WitnessID: "b", WitnessedID: "a", TrustScore: 0.8},
		{WitnessID: "c", WitnessedID: "a", TrustScore: 0.6},
	} {
		var ev witness.Event
		if err := client.Call(ctx, MethodRecordWitness, w, &ev); err != nil {
			t.Fatalf("RecordWitness: %v", err)
		}
		if ev.Depth != 1 {
			t.Errorf("expected depth 1, got %d", ev.Depth)
		}
	}

	var resp TransitiveTrustResponse
	if err := client.Call(ctx, MethodTransitiveTrust, TransitiveTrustRequest{EntityID: "a"}, &resp); err != nil {
		t.Fatalf("TransitiveTrust: %v", err)
	}
	if math.Abs(resp.Aggregate-0.7) > 1e-9 || math.Abs(resp.Transitive-0.56) > 1e-9 {
		t.Errorf("unexpected trust %+v", resp)
	}

	err := client.Call(ctx, MethodRecordWitness, RecordWitnessRequest{WitnessID: "b", WitnessedID: "a", TrustScore: 2}, nil)
	requireCode(t, err, codes.InvalidArgument)
}

func TestAppendAuditMirrorsToLog(t *testing.T) {
	cfg := testConfig(t, "")
	client, srv := testServer(t, cfg)
	ctx := context.Background()

	agent := "agent-1"
	input := audit.Input{
		Decision:   model.Allow,
		AgentID:    &agent,
		TrustScore: 0.5,
		ToolName:   "Read",
		Success:    true,
	}
	var res gate.AppendAuditResult
	for i := 0; i < 3; i++ {
		if err := client.Call(ctx, MethodAppendAudit, map[string]any{"session_id": "s1", "input": input}, &res); err != nil {
			t.Fatalf("AppendAudit: %v", err)
		}
	}
	if res.Chain.SequenceNumber != 3 || res.Chain.PolicyID != "default" {
		t.Errorf("unexpected chain %+v", res.Chain)
	}
	rules := res.Action.Rules
	if rules.PolicyID != "default" || rules.PolicyHash != srv.LoadedPolicyHash() || res.Action.Role.SessionID != "s1" {
		t.Errorf("expected loaded policy provenance, got %+v / %+v", rules, res.Action.Role)
	}

	if v := audit.Verify(cfg.AuditLogPath); !v.Valid || v.Entries != 3 {
		t.Errorf("expected mirrored log with 3 valid entries, got %+v", v)
	}

	err := client.Call(ctx, MethodAppendAudit, map[string]any{"session_id": "s1", "input": map[string]any{"tool_name": "Read"}}, nil)
	requireCode(t, err, codes.InvalidArgument)
}

func TestCheckRateLimitRPC(t *testing.T) {
	client, _ := testServer(t, testConfig(t, ""))
	ctx := context.Background()

	req := CheckRateLimitRequest{Key: "k", MaxCount: 2, WindowMs: 1000}
	var res struct {
		Allowed      bool `json:"allowed"`
		CurrentCount int  `json:"current_count"`
	}
	for i, want := range []bool{true, true, false} {
		if err := client.Call(ctx, MethodCheckRateLimit, req, &res); err != nil {
			t.Fatal(err)
		}
		if res.Allowed != want || res.CurrentCount != i {
			t.Errorf("check %d: %+v", i+1, res)
		}
	}

	err := client.Call(ctx, MethodCheckRateLimit, CheckRateLimitRequest{Key: "k"}, nil)
	requireCode(t, err, codes.InvalidArgument)
}

func TestPolicyHashRPC(t *testing.T) {
	client, srv := testServer(t, testConfig(t, ""))
	ctx := context.Background()

	var resp PolicyHashResponse
	if err := client.Call(ctx, MethodPolicyHash, PolicyHashRequest{}, &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Hash != srv.LoadedPolicyHash() || resp.Name != "default" {
		t.Errorf("unexpected loaded policy hash %+v", resp)
	}

	var given PolicyHashResponse
	if err := client.Call(ctx, MethodPolicyHash, PolicyHashRequest{Policy: strPtr("abc")}, &given); err != nil {
		t.Fatal(err)
	}
	if given.Hash != policy.Hash([]byte("abc")) || given.Name != "" || given.Version != "" {
		t.Errorf("unexpected hash of given text %+v", given)
	}
}

func TestDecideStartsSessionAndChains(t *testing.T) {
	client, _ := testServer(t, testConfig(t, ""))
	ctx := context.Background()

	var first DecideResponse
	if err := client.Call(ctx, MethodDecide, DecideRequest{ToolName: "Bash", Target: strPtr("make"), EntityID: "agent-1"}, &first); err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if first.SessionID == "" || first.Evaluation.Decision != model.LogOnly || first.Chain.SequenceNumber != 1 {
		t.Fatalf("unexpected first decision %+v", first)
	}

	var second DecideResponse
	if err := client.Call(ctx, MethodDecide, DecideRequest{SessionID: first.SessionID, ToolName: "Read", EntityID: "agent-1"}, &second); err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if second.Chain.SequenceNumber != 2 || second.Record.Reference.PreviousHash == nil || *second.Record.Reference.PreviousHash != first.Hash {
		t.Errorf("second decision does not extend session: %+v", second.Record.Reference)
	}
	if second.Record.Rules.PolicyHash != first.PolicyHash || second.Record.Role.SessionID != first.SessionID {
		t.Errorf("decision record lacks provenance: %+v", second.Record.Rules)
	}
}

func TestDecideAlertsWebhook(t *testing.T) {
	events := make(chan alert.Event, 4)
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var e alert.Event
		json.NewDecoder(r.Body).Decode(&e)
		events <- e
	}))
	defer hook.Close()

	policyPath := writeTempFile(t, "policy.yaml", policy.DefaultConfigYAML()+
		"alerts:\n  - url: "+hook.URL+"\n    events: [deny]\n")
	client, srv := testServer(t, testConfig(t, policyPath))
	ctx := context.Background()

	for _, target := range []string{"/srv/main.go", "/srv/.env"} {
		var resp DecideResponse
		if err := client.Call(ctx, MethodDecide, DecideRequest{SessionID: "s1", ToolName: "Read", Target: strPtr(target), EntityID: "agent-1"}, &resp); err != nil {
			t.Fatalf("Decide: %v", err)
		}
	}

	select {
	case e := <-events:
		if e.Decision != model.Deny || e.Target != "/srv/.env" || e.ActionID != "r6:s1:2" {
			t.Errorf("unexpected alert %+v", e)
		}
		if e.PolicyHash != srv.LoadedPolicyHash() || e.Outcome != model.OutcomeBlocked {
			t.Errorf("unexpected alert metadata %+v", e)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no alert delivered")
	}
	select {
	case e := <-events:
		t.Errorf("allowed read must not alert, got %+v", e)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestConcurrentDecisionsKeepChainIntact(t *testing.T) {
	cfg := testConfig(t, "")
	client, srv := testServer(t, cfg)

	var wg sync.WaitGroup
	errs := make(chan error, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := client.Call(context.Background(), MethodDecide, DecideRequest{SessionID: "shared", ToolName: "Read", EntityID: "agent-1"}, nil); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent decide error: %v", err)
	}

	res, err := srv.store.VerifySession(context.Background(), "shared")
	if err != nil {
		t.Fatal(err)
	}
	if !res.Valid || res.Entries != 50 {
		t.Errorf("expected 50 linked records, got %+v", res)
	}
	if v := audit.Verify(cfg.AuditLogPath); !v.Valid || v.Entries != 50 {
		t.Errorf("expected mirrored log to verify, got %+v", v)
	}
}

func TestHotReloadPolicyChange(t *testing.T) {
	policyPath := writeTempFile(t, "policy.yaml", `
name: open
default_policy: allow
rules: []
`)
	client, srv := testServer(t, testConfig(t, policyPath))
	ctx := context.Background()

	var before EvaluateResponse
	if err := client.Call(ctx, MethodEvaluate, EvaluateRequest{ToolName: "WebFetch", EntityID: "a"}, &before); err != nil {
		t.Fatal(err)
	}
	if before.Decision != model.Allow || before.MatchedRule != nil {
		t.Fatalf("expected default allow before reload, got %+v", before.Evaluation)
	}

	newPolicy := `
name: closed
default_policy: allow
rules:
  - id: no-network
    name: No network
    priority: 1
    match:
      categories: [network]
    decision: ask_user
`
	if err := os.WriteFile(policyPath, []byte(newPolicy), 0644); err != nil {
		t.Fatalf("write new policy: %v", err)
	}

	// Manually trigger reload (no need to wait for fsnotify in tests)
	if err := srv.ReloadPolicy(); err != nil {
		t.Fatalf("ReloadPolicy: %v", err)
	}

	var after EvaluateResponse
	if err := client.Call(ctx, MethodEvaluate, EvaluateRequest{ToolName: "WebFetch", EntityID: "a"}, &after); err != nil {
		t.Fatal(err)
	}
	if after.Decision != model.AskUser {
		t.Errorf("expected ask_user after reload, got %s", after.Decision)
	}
	if after.PolicyHash == before.PolicyHash {
		t.Error("expected policy hash to change")
	}
}

func TestReloadKeepsPolicyOnInvalidFile(t *testing.T) {
	policyPath := writeTempFile(t, "policy.yaml", policy.DefaultConfigYAML())
	_, srv := testServer(t, testConfig(t, policyPath))
	hash := srv.LoadedPolicyHash()

	os.WriteFile(policyPath, []byte("default_policy: maybe\n"), 0644)
	if err := srv.ReloadPolicy(); err == nil {
		t.Fatal("expected reload error")
	}
	if srv.LoadedPolicyHash() != hash {
		t.Error("invalid policy replaced the loaded one")
	}
}

func TestReloaderPicksUpWrites(t *testing.T) {
	policyPath := writeTempFile(t, "policy.yaml", "name: v1\ndefault_policy: allow\n")

	srv, err := New(testConfig(t, policyPath))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer srv.Close()

	r, err := NewReloader(srv, []string{policyPath, "", filepath.Join(t.TempDir(), "gone", "missing.yaml")})
	if err != nil {
		t.Fatalf("NewReloader: %v", err)
	}
	if len(r.Paths()) != 1 {
		t.Fatalf("expected one watched path, got %v", r.Paths())
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	os.WriteFile(policyPath, []byte("name: v2\ndefault_policy: deny\n"), 0644)
	time.Sleep(800 * time.Millisecond) // debounce is 500ms

	if name := srv.currentPolicyName(); name != "v2" {
		t.Errorf("expected policy v2 after reload, got %q", name)
	}
}

func TestReloaderPicksUpRenames(t *testing.T) {
	policyPath := writeTempFile(t, "policy.yaml", "name: v1\ndefault_policy: allow\n")

	srv, err := New(testConfig(t, policyPath))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer srv.Close()

	r, err := NewReloader(srv, []string{policyPath})
	if err != nil {
		t.Fatalf("NewReloader: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	// Save the way editors do: write a sibling, then rename over.
	tmp := policyPath + ".swp"
	os.WriteFile(tmp, []byte("name: v3\ndefault_policy: deny\n"), 0644)
	if err := os.Rename(tmp, policyPath); err != nil {
		t.Fatal(err)
	}
	time.Sleep(800 * time.Millisecond)

	if name := srv.currentPolicyName(); name != "v3" {
		t.Errorf("expected policy v3 after rename, got %q", name)
	}
}

func TestRPCErrorCodes(t *testing.T) {
	tests := []struct {
		err  error
		want codes.Code
	}{
		{&gate.ParseError{Input: gate.InputEntity}, codes.InvalidArgument},
		{&gate.ValidationError{Msg: "x"}, codes.InvalidArgument},
		{&gate.SerializationError{Output: "x"}, codes.Internal},
		{context.Canceled, codes.Canceled},
	}
	for _, tt := range tests {
		if got := status.Code(rpcError(tt.err)); got != tt.want {
			t.Errorf("rpcError(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
	if !strings.Contains(rpcError(&gate.ValidationError{Msg: "boom"}).Error(), "boom") {
		t.Error("message lost")
	}
}
