package gate

import (
	"encoding/json"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/ppiankov/trustgate/internal/audit"
	"github.com/ppiankov/trustgate/internal/model"
	"github.com/ppiankov/trustgate/internal/policy"
	"github.com/ppiankov/trustgate/internal/trust"
	"github.com/ppiankov/trustgate/internal/witness"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

const softDenyPolicy = `{
  "name": "soft",
  "version": "1",
  "enforce": false,
  "default_policy": "allow",
  "rules": [
    {"id": "no-read", "name": "No reads", "priority": 1, "match": {"tools": ["Read"]}, "decision": "deny"}
  ]
}`

func strPtr(s string) *string { return &s }

func entityJSON(t *testing.T) []byte {
	t.Helper()
	data, err := json.Marshal(trust.NewEntity("agent-1", trust.KindAgent, testNow))
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func requireParseError(t *testing.T, err error, input string) {
	t.Helper()
	var pe *ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ParseError, got %T: %v", err, err)
	}
	if pe.Input != input {
		t.Errorf("expected ParseError for %s, got %s", input, pe.Input)
	}
}

func TestEvaluatePolicySoftDeny(t *testing.T) {
	out, err := EvaluatePolicy([]byte(softDenyPolicy), "Read", nil, entityJSON(t))
	if err != nil {
		t.Fatal(err)
	}
	var ev struct {
		Decision    string   `json:"decision"`
		MatchedRule *string  `json:"matched_rule"`
		Enforced    bool     `json:"enforced"`
		TrustScore  float64  `json:"trust_score"`
		Constraints []string `json:"constraints"`
	}
	if err := json.Unmarshal(out, &ev); err != nil {
		t.Fatal(err)
	}
	if ev.Decision != "deny" || ev.MatchedRule == nil || *ev.MatchedRule != "no-read" || ev.Enforced {
		t.Errorf("expected soft deny by no-read, got %s", out)
	}
	if ev.TrustScore != 0.5 {
		t.Errorf("expected trust 0.5, got %v", ev.TrustScore)
	}
	if strings.Join(ev.Constraints, ",") != "policy:soft,rule:no-read,decision:Deny" {
		t.Errorf("unexpected constraints %v", ev.Constraints)
	}
}

func TestEvaluatePolicyAcceptsYAML(t *testing.T) {
	out, err := EvaluatePolicy([]byte(policy.DefaultConfigYAML()), "Read", strPtr("/app/.env"), entityJSON(t))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(out), `"matched_rule":"deny-secrets"`) {
		t.Errorf("expected deny-secrets, got %s", out)
	}
}

func TestEvaluatePolicyParseErrors(t *testing.T) {
	_, err := EvaluatePolicy([]byte("{not yaml: ["), "Read", nil, entityJSON(t))
	requireParseError(t, err, InputPolicy)

	_, err = EvaluatePolicy([]byte(softDenyPolicy), "Read", nil, []byte(`{"entity_id":""}`))
	requireParseError(t, err, InputEntity)

	_, err = EvaluatePolicy([]byte(softDenyPolicy), "Read", nil, []byte(`{"entity_id":"a"}`))
	requireParseError(t, err, InputEntity)

	_, err = EvaluatePolicy([]byte(softDenyPolicy), "Read", nil, nil)
	requireParseError(t, err, InputEntity)

	_, err = EvaluatePolicy([]byte(`{"default_policy":"perhaps"}`), "Read", nil, entityJSON(t))
	requireParseError(t, err, InputPolicy)
}

func TestEvaluatePolicyAcceptsMinimalActor(t *testing.T) {
	actor := []byte(`{"entity_id":"a","t3":{"talent":0.9,"training":0.9,"temperament":0.9},"source":"hook"}`)
	out, err := EvaluatePolicy([]byte(softDenyPolicy), "Bash", nil, actor)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(out), `"trust_score":0.9`) {
		t.Errorf("expected actor trust to be used, got %s", out)
	}
}

func TestEvaluateBatch(t *testing.T) {
	out, err := EvaluateBatch([]byte(softDenyPolicy), []string{"Read", "Bash"}, []*string{nil, strPtr("ls")}, entityJSON(t))
	if err != nil {
		t.Fatal(err)
	}
	var evs []policy.Evaluation
	if err := json.Unmarshal(out, &evs); err != nil {
		t.Fatal(err)
	}
	if len(evs) != 2 || evs[0].Decision != model.Deny || evs[1].Decision != model.Allow {
		t.Errorf("unexpected batch %s", out)
	}
}

func TestEvaluateBatchLengthMismatchFailsFirst(t *testing.T) {
	// The policy is invalid too; the mismatch must be reported before parsing.
	_, err := EvaluateBatch([]byte("garbage"), []string{"Read", "Bash"}, []*string{nil}, nil)
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestUpdateTrustRoutineSuccess(t *testing.T) {
	out, err := UpdateTrust(entityJSON(t), "Read", true, testNow.Add(time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	var res UpdateTrustResult
	if err := json.Unmarshal(out, &res); err != nil {
		t.Fatal(err)
	}
	if math.Abs(res.Delta.NewComposite-0.5047) > 1e-9 || res.Delta.Changed {
		t.Errorf("unexpected delta %+v", res.Delta)
	}
	if res.Entity.InteractionCount != 1 || res.Entity.SuccessCount != 1 {
		t.Errorf("unexpected counters %+v", res.Entity)
	}
	if !res.Entity.LastUpdated.Equal(testNow.Add(time.Minute)) {
		t.Errorf("unexpected lastUpdated %v", res.Entity.LastUpdated)
	}
}

func TestUpdateTrustRejectsOutOfRangeTensor(t *testing.T) {
	e := trust.NewEntity("a", trust.KindTool, testNow)
	e.T3.Talent = 1.5
	data, _ := json.Marshal(e)
	_, err := UpdateTrust(data, "Read", true, testNow)
	requireParseError(t, err, InputEntity)
}

func TestRecordWitness(t *testing.T) {
	out, err := RecordWitness("w", "x", 0.85, testNow)
	if err != nil {
		t.Fatal(err)
	}
	var ev witness.Event
	if err := json.Unmarshal(out, &ev); err != nil {
		t.Fatal(err)
	}
	if ev.TrustLevel != trust.LevelHigh || ev.Depth != 1 {
		t.Errorf("unexpected event %+v", ev)
	}

	var ve *ValidationError
	if _, err := RecordWitness("w", "x", -0.1, testNow); !errors.As(err, &ve) {
		t.Errorf("expected ValidationError for negative score, got %v", err)
	}
}

func actionJSON(t *testing.T) []byte {
	t.Helper()
	data, err := json.Marshal(audit.Input{
		PolicyID:   "default",
		PolicyHash: PolicyHash([]byte(softDenyPolicy)),
		Decision:   model.Allow,
		SessionID:  "s1",
		AgentID:    strPtr("agent-1"),
		TrustScore: 0.5,
		ToolName:   "Read",
		Target:     strPtr("/repo/main.go"),
		Success:    true,
	})
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func TestAppendAuditTwice(t *testing.T) {
	chainJSON, _ := json.Marshal(audit.NewChain("s1", "default", testNow))

	out, err := AppendAudit(chainJSON, actionJSON(t), testNow)
	if err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{`"chain":`, `"action":`, `"new_hash":`} {
		if !strings.Contains(string(out), key) {
			t.Errorf("missing %s in %s", key, out)
		}
	}
	var first AppendAuditResult
	json.Unmarshal(out, &first)
	if first.Chain.SequenceNumber != 1 || first.Action.Reference.PreviousHash != nil {
		t.Fatalf("unexpected first append %s", out)
	}

	nextChain, _ := json.Marshal(first.Chain)
	out, err = AppendAudit(nextChain, actionJSON(t), testNow.Add(time.Second))
	if err != nil {
		t.Fatal(err)
	}
	var second AppendAuditResult
	json.Unmarshal(out, &second)
	if second.Chain.SequenceNumber != 2 || second.Action.Reference.PreviousHash == nil || *second.Action.Reference.PreviousHash != first.NewHash {
		t.Errorf("second record does not link to first: %s", out)
	}
	if second.Action.Rules.PolicyHash != PolicyHash([]byte(softDenyPolicy)) {
		t.Errorf("policy hash not carried: %+v", second.Action.Rules)
	}
	if r := audit.VerifyChain(second.Chain, []audit.Record{first.Action, second.Action}); !r.Valid {
		t.Errorf("chain does not verify: %s", r.Error)
	}
}

func TestAppendAuditParseErrors(t *testing.T) {
	_, err := AppendAudit([]byte(`{"session_id":"s1","entries":["a"],"sequence_number":0}`), actionJSON(t), testNow)
	requireParseError(t, err, InputChain)

	chainJSON, _ := json.Marshal(audit.NewChain("s1", "default", testNow))
	_, err = AppendAudit(chainJSON, []byte(`{"decision":"allow"}`), testNow)
	requireParseError(t, err, InputAction)

	_, err = AppendAudit(chainJSON, []byte(`{"tool_name":"Read","decision":"maybe"}`), testNow)
	requireParseError(t, err, InputAction)
}

func TestAppendAuditIgnoresUnknownFields(t *testing.T) {
	chainJSON, _ := json.Marshal(audit.NewChain("s1", "default", testNow))
	action := []byte(`{"tool_name":"Read","decision":"allow","session_id":"s1","source":"hook"}`)
	if _, err := AppendAudit(chainJSON, action, testNow); err != nil {
		t.Fatalf("unknown fields must be ignored: %v", err)
	}
}

func TestCheckRateLimitSequence(t *testing.T) {
	var state []byte
	for i, want := range []struct {
		allowed bool
		count   int
	}{{true, 0}, {true, 1}, {true, 2}, {false, 3}} {
		out, err := CheckRateLimit(state, "k", 3, 1000, testNow.Add(time.Duration(i*100)*time.Millisecond))
		if err != nil {
			t.Fatal(err)
		}
		var res RateLimitResult
		if err := json.Unmarshal(out, &res); err != nil {
			t.Fatal(err)
		}
		if res.Allowed != want.allowed || res.CurrentCount != want.count {
			t.Errorf("check %d: got allowed=%v count=%d", i+1, res.Allowed, res.CurrentCount)
		}
		state, _ = json.Marshal(res.State)
	}
}

func TestCheckRateLimitReadsWindowsEnvelope(t *testing.T) {
	state := []byte(`{"windows":{"k":[9500,9600,9700]}}`)
	out, err := CheckRateLimit(state, "k", 3, 1000, time.UnixMilli(10_000))
	if err != nil {
		t.Fatal(err)
	}
	var res RateLimitResult
	if err := json.Unmarshal(out, &res); err != nil {
		t.Fatal(err)
	}
	if res.Allowed || res.CurrentCount != 3 || res.MaxCount != 3 {
		t.Errorf("expected denial at 3/3, got %s", out)
	}
	if !strings.Contains(string(out), `"state":{"windows":{"k":[9500,9600,9700]}}`) {
		t.Errorf("expected windows envelope in output, got %s", out)
	}
}

func TestCheckRateLimitRecoversGarbageState(t *testing.T) {
	out, err := CheckRateLimit([]byte("%%%"), "k", 1, 1000, testNow)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(out), `"allowed":true`) {
		t.Errorf("expected fresh state to allow, got %s", out)
	}
}

func TestCheckRateLimitValidation(t *testing.T) {
	var ve *ValidationError
	if _, err := CheckRateLimit(nil, "k", 0, 1000, testNow); !errors.As(err, &ve) {
		t.Errorf("expected ValidationError for zero max_count, got %v", err)
	}
	if _, err := CheckRateLimit(nil, "", 1, 1000, testNow); !errors.As(err, &ve) {
		t.Errorf("expected ValidationError for empty key, got %v", err)
	}
}

func TestPolicyHash(t *testing.T) {
	h := PolicyHash([]byte(softDenyPolicy))
	if len(h) != 16 || h != policy.Hash([]byte(softDenyPolicy)) {
		t.Errorf("unexpected hash %q", h)
	}
}

func TestErrorsUnwrap(t *testing.T) {
	cause := errors.New("boom")
	if !errors.Is(&ParseError{Input: InputState, Err: cause}, cause) {
		t.Error("ParseError does not unwrap")
	}
	if !errors.Is(&SerializationError{Output: "x", Err: cause}, cause) {
		t.Error("SerializationError does not unwrap")
	}
}
