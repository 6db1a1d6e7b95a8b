package audit

import (
	"strings"
	"testing"

	"github.com/ppiankov/trustgate/internal/model"
)

func TestVerifyRecordsValid(t *testing.T) {
	c, records := appendN(t, NewChain("s1", "p", testNow), 4)

	result := VerifyRecords(records)
	if !result.Valid || result.Entries != 4 {
		t.Fatalf("expected valid chain of 4, got %+v", result)
	}
	if r := VerifyChain(c, records); !r.Valid {
		t.Fatalf("expected chain state to agree, got %+v", r)
	}
}

func TestVerifyRecordsEmpty(t *testing.T) {
	if r := VerifyRecords(nil); !r.Valid || r.Entries != 0 {
		t.Errorf("expected empty list valid, got %+v", r)
	}
}

func TestVerifyRecordsDetectsTamperedContent(t *testing.T) {
	_, records := appendN(t, NewChain("s1", "p", testNow), 3)
	records[1].Rules.Decision = model.Deny

	r := VerifyRecords(records)
	if r.Valid {
		t.Fatal("expected tampered record to fail")
	}
	if r.ErrorEntry != 2 || !strings.Contains(r.Error, "content hash mismatch") {
		t.Errorf("unexpected result %+v", r)
	}
}

func TestVerifyRecordsDetectsDeletion(t *testing.T) {
	_, records := appendN(t, NewChain("s1", "p", testNow), 3)
	r := VerifyRecords([]Record{records[0], records[2]})
	if r.Valid || r.ErrorEntry != 2 {
		t.Errorf("expected failure at entry 2, got %+v", r)
	}
}

func TestVerifyRecordsDetectsReorder(t *testing.T) {
	_, records := appendN(t, NewChain("s1", "p", testNow), 3)
	r := VerifyRecords([]Record{records[1], records[0], records[2]})
	if r.Valid || r.ErrorEntry != 1 {
		t.Errorf("expected failure at entry 1, got %+v", r)
	}
}

func TestVerifyRecordsDetectsForgedFirstLink(t *testing.T) {
	_, records := appendN(t, NewChain("s1", "p", testNow), 1)
	records[0].Reference.PreviousHash = strPtr("deadbeefdeadbeef")
	r := VerifyRecords(records)
	if r.Valid || !strings.Contains(r.Error, "expected none") {
		t.Errorf("unexpected result %+v", r)
	}
}

func TestVerifyRecordsDetectsSequenceGap(t *testing.T) {
	_, records := appendN(t, NewChain("s1", "p", testNow), 2)
	records[1].Reference.SequenceNumber = 7
	r := VerifyRecords(records)
	if r.Valid || !strings.Contains(r.Error, "sequence gap") {
		t.Errorf("unexpected result %+v", r)
	}
}

func TestVerifyChainDetectsStateMismatch(t *testing.T) {
	c, records := appendN(t, NewChain("s1", "p", testNow), 3)

	if r := VerifyChain(c, records[:2]); r.Valid {
		t.Error("expected mismatch when records are missing")
	}

	other, _ := appendN(t, NewChain("s2", "p", testNow), 3)
	if r := VerifyChain(other, records); r.Valid {
		t.Error("expected mismatch for records of another session")
	}

	broken := c
	broken.SequenceNumber = 9
	if r := VerifyChain(broken, records); r.Valid || !strings.Contains(r.Error, "chain state") {
		t.Errorf("expected chain state error, got %+v", r)
	}
}

func TestVerifyRecordsDetectsTamperedProvenance(t *testing.T) {
	tamper := map[string]func(*Record){
		"policy_hash":     func(r *Record) { r.Rules.PolicyHash = "ffffffffffffffff" },
		"session_id":      func(r *Record) { r.Role.SessionID = "other" },
		"parameters_hash": func(r *Record) { r.Request.ParametersHash = "0000000000000000" },
		"blocked":         func(r *Record) { r.Result.Blocked = true },
	}
	for name, mutate := range tamper {
		_, records := appendN(t, NewChain("s1", "p", testNow), 2)
		mutate(&records[0])
		if r := VerifyRecords(records); r.Valid || r.ErrorEntry != 1 {
			t.Errorf("%s: expected failure at entry 1, got %+v", name, r)
		}
	}
}
