package ratelimit

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

var base = time.UnixMilli(1_700_000_000_000).UTC()

// --- Spec tests ---

func TestHasLimitNil(t *testing.T) {
	var s *Spec
	if s.HasLimit() {
		t.Error("expected nil spec to have no limit")
	}
}

func TestHasLimitConfigured(t *testing.T) {
	s := &Spec{MaxCount: 10, WindowMs: 60_000}
	if !s.HasLimit() {
		t.Error("expected HasLimit=true for configured limit")
	}
	if s.Window() != time.Minute {
		t.Errorf("expected 1m window, got %s", s.Window())
	}
}

func TestHasLimitZeroValues(t *testing.T) {
	if (&Spec{MaxCount: 0, WindowMs: 1000}).HasLimit() {
		t.Error("expected HasLimit=false for zero MaxCount")
	}
	if (&Spec{MaxCount: 5, WindowMs: 0}).HasLimit() {
		t.Error("expected HasLimit=false for zero WindowMs")
	}
}

// --- DecodeState tests ---

func TestDecodeStateRecoversFromGarbage(t *testing.T) {
	for _, raw := range []string{"", "null", "{{{", `["a"]`, `{"k":"nope"}`, `{"agent:Bash":[1,2]}`, `{"windows":null}`} {
		s := DecodeState([]byte(raw))
		if s == nil || len(s) != 0 {
			t.Errorf("DecodeState(%q) = %v, want empty state", raw, s)
		}
	}
}

func TestDecodeStateValid(t *testing.T) {
	s := DecodeState([]byte(`{"windows":{"agent:Bash":[1,2,3]}}`))
	if len(s["agent:Bash"]) != 3 {
		t.Errorf("expected 3 timestamps, got %v", s)
	}
}

func TestStateJSONEnvelope(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{State{}, `{"windows":{}}`},
		{nil, `{"windows":{}}`},
		{State{"k": {1, 2}}, `{"windows":{"k":[1,2]}}`},
	}
	for _, tt := range tests {
		b, err := json.Marshal(tt.state)
		if err != nil {
			t.Fatal(err)
		}
		if string(b) != tt.want {
			t.Errorf("Marshal(%v) = %s, want %s", tt.state, b, tt.want)
		}
	}
}

func TestCheckHonorsDecodedWindows(t *testing.T) {
	now := time.UnixMilli(10_000)
	state := DecodeState([]byte(`{"windows":{"k":[9500,9600,9700]}}`))
	_, r := Check(state, "k", 3, time.Second, now)
	if r.Allowed || r.CurrentCount != 3 || r.MaxCount != 3 {
		t.Fatalf("expected denial at 3/3, got %+v", r)
	}
	if r.ResetInMs != 500 {
		t.Errorf("expected reset in 500ms, got %d", r.ResetInMs)
	}

	b, _ := json.Marshal(r)
	want := `{"allowed":false,"current_count":3,"max_count":3,"reset_in_ms":500}`
	if string(b) != want {
		t.Errorf("result JSON = %s, want %s", b, want)
	}
}

// --- Check tests ---

func TestCheckSequenceWithinWindow(t *testing.T) {
	state := State{}
	for i := 0; i < 3; i++ {
		var r CheckResult
		state, r = Check(state, "k", 3, time.Second, base.Add(time.Duration(i)*100*time.Millisecond))
		if !r.Allowed {
			t.Fatalf("check %d: expected allowed", i+1)
		}
		if r.CurrentCount != i {
			t.Errorf("check %d: expected currentCount=%d, got %d", i+1, i, r.CurrentCount)
		}
	}

	state, r := Check(state, "k", 3, time.Second, base.Add(500*time.Millisecond))
	if r.Allowed {
		t.Error("expected fourth check to be denied")
	}
	if r.CurrentCount != 3 {
		t.Errorf("expected currentCount=3, got %d", r.CurrentCount)
	}
	if r.ResetInMs != 500 {
		t.Errorf("expected resetInMs=500, got %d", r.ResetInMs)
	}
	if len(state["k"]) != 3 {
		t.Errorf("denied check must not record, got %d entries", len(state["k"]))
	}
}

func TestCheckDropsExpired(t *testing.T) {
	state := State{"k": {base.UnixMilli(), base.Add(200 * time.Millisecond).UnixMilli()}}

	// Exactly on the window boundary: the first event is dropped.
	next, r := Check(state, "k", 2, time.Second, base.Add(time.Second))
	if !r.Allowed || r.CurrentCount != 1 {
		t.Fatalf("expected allowed with count 1, got %+v", r)
	}
	if r.ResetInMs != 200 {
		t.Errorf("expected resetInMs=200, got %d", r.ResetInMs)
	}
	if got := next["k"]; len(got) != 2 || got[0] != base.Add(200*time.Millisecond).UnixMilli() {
		t.Errorf("unexpected stored timestamps %v", got)
	}
}

func TestCheckEmptyResetIsZero(t *testing.T) {
	_, r := Check(State{}, "k", 1, time.Second, base)
	if !r.Allowed || r.CurrentCount != 0 || r.ResetInMs != 0 {
		t.Errorf("unexpected result %+v", r)
	}
}

func TestCheckZeroMaxCountAlwaysDenies(t *testing.T) {
	next, r := Check(State{}, "k", 0, time.Second, base)
	if r.Allowed {
		t.Error("expected deny when maxCount=0")
	}
	if _, ok := next["k"]; ok {
		t.Error("expected nothing recorded")
	}
}

func TestCheckDoesNotMutateInput(t *testing.T) {
	state := State{"k": {base.UnixMilli()}, "other": {1}}
	Check(state, "k", 5, time.Second, base.Add(10*time.Millisecond))
	if len(state["k"]) != 1 {
		t.Errorf("input state mutated: %v", state)
	}
}

func TestCheckKeysIndependent(t *testing.T) {
	state := State{}
	state, _ = Check(state, "a", 1, time.Minute, base)
	state, r := Check(state, "b", 1, time.Minute, base)
	if !r.Allowed {
		t.Error("expected key b unaffected by key a")
	}
	_, r = Check(state, "a", 1, time.Minute, base)
	if r.Allowed {
		t.Error("expected key a exhausted")
	}
}

func TestCheckRecoversAfterWindow(t *testing.T) {
	state := State{}
	state, _ = Check(state, "k", 1, time.Second, base)
	state, r := Check(state, "k", 1, time.Second, base.Add(999*time.Millisecond))
	if r.Allowed {
		t.Fatal("expected deny inside window")
	}
	_, r = Check(state, "k", 1, time.Second, base.Add(time.Second))
	if !r.Allowed || r.CurrentCount != 0 {
		t.Errorf("expected fresh window, got %+v", r)
	}
}

func TestCheckSpecWithoutLimit(t *testing.T) {
	state := State{}
	next, r := CheckSpec(state, "k", nil, base)
	if !r.Allowed {
		t.Error("expected allow without spec")
	}
	if len(next) != 0 {
		t.Error("expected nothing recorded without spec")
	}
}

func TestReason(t *testing.T) {
	r := CheckResult{Allowed: false, CurrentCount: 3, ResetInMs: 10}
	msg := r.Reason("agent:Bash", 3, time.Second)
	if !strings.Contains(msg, "3/3") || !strings.Contains(msg, "agent:Bash") {
		t.Errorf("unexpected reason %q", msg)
	}
	if (CheckResult{Allowed: true}).Reason("k", 1, time.Second) != "" {
		t.Error("expected empty reason when allowed")
	}
}
