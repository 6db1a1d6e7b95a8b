package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
)

// VerifyResult holds the outcome of a hash chain verification.
type VerifyResult struct {
	Valid      bool   `json:"valid"`
	Entries    int    `json:"entries"`
	Error      string `json:"error,omitempty"`
	ErrorEntry int    `json:"error_entry,omitempty"`
}

// linkChecker walks the records of one session in order.
type linkChecker struct {
	prevHash *string
	prevSeq  uint64
}

// check re-derives the record's content hash and checks its linkage.
func (lc *linkChecker) check(rec Record) error {
	if hash := HashInput(rec.Input()); hash != rec.ContentHash {
		return fmt.Errorf("content hash mismatch: computed %s, recorded %s", hash, rec.ContentHash)
	}

	prev := rec.Reference.PreviousHash
	switch {
	case lc.prevHash == nil && prev != nil:
		return fmt.Errorf("first entry previous_hash is %q, expected none", *prev)
	case lc.prevHash != nil && prev == nil:
		return fmt.Errorf("previous_hash missing, expected %s", *lc.prevHash)
	case lc.prevHash != nil && *prev != *lc.prevHash:
		return fmt.Errorf("hash mismatch: expected previous_hash %s, got %s", *lc.prevHash, *prev)
	}

	if rec.Reference.SequenceNumber != lc.prevSeq+1 {
		return fmt.Errorf("sequence gap: expected %d, got %d", lc.prevSeq+1, rec.Reference.SequenceNumber)
	}

	h := rec.ContentHash
	lc.prevHash = &h
	lc.prevSeq = rec.Reference.SequenceNumber
	return nil
}

// VerifyRecords checks an ordered list of records from one chain: every
// content hash re-derives from its record, record i+1 references record i,
// the first references nothing, and sequence numbers run 1..N.
func VerifyRecords(records []Record) VerifyResult {
	var lc linkChecker
	for i, rec := range records {
		if err := lc.check(rec); err != nil {
			return VerifyResult{Error: err.Error(), ErrorEntry: i + 1}
		}
	}
	return VerifyResult{Valid: true, Entries: len(records)}
}

// VerifyChain verifies the records and checks that the chain state agrees
// with them.
func VerifyChain(c Chain, records []Record) VerifyResult {
	if err := c.Validate(); err != nil {
		return VerifyResult{Error: fmt.Sprintf("chain state: %v", err)}
	}
	result := VerifyRecords(records)
	if !result.Valid {
		return result
	}
	if len(records) != len(c.Entries) {
		return VerifyResult{Error: fmt.Sprintf("chain has %d entries, %d records given", len(c.Entries), len(records))}
	}
	for i, rec := range records {
		if c.Entries[i] != rec.ContentHash {
			return VerifyResult{Error: fmt.Sprintf("chain entry %s does not match record hash %s", c.Entries[i], rec.ContentHash), ErrorEntry: i + 1}
		}
		if sid := rec.SessionID(); sid != c.SessionID {
			return VerifyResult{Error: fmt.Sprintf("record belongs to session %q, chain is %q", sid, c.SessionID), ErrorEntry: i + 1}
		}
	}
	return result
}

// Verify reads a JSONL audit log and validates the hash chain of every
// session it contains. Returns Valid=true if all chains are intact, or
// details about the first broken line.
func Verify(path string) VerifyResult {
	f, err := os.Open(path)
	if err != nil {
		return VerifyResult{Error: fmt.Sprintf("open: %v", err)}
	}
	defer f.Close()

	sessions := make(map[string]*linkChecker)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	lineNum := 0

	for scanner.Scan() {
		lineNum++

		var rec Record
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			return VerifyResult{
				Error:      fmt.Sprintf("parse error: %v", err),
				ErrorEntry: lineNum,
			}
		}

		sid := rec.SessionID()
		lc := sessions[sid]
		if lc == nil {
			lc = &linkChecker{}
			sessions[sid] = lc
		}
		if err := lc.check(rec); err != nil {
			return VerifyResult{
				Error:      fmt.Sprintf("session %s: %v", sid, err),
				ErrorEntry: lineNum,
			}
		}
	}

	if err := scanner.Err(); err != nil {
		return VerifyResult{Error: fmt.Sprintf("scan: %v", err)}
	}

	return VerifyResult{Valid: true, Entries: lineNum}
}
