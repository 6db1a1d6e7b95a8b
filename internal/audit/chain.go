// Package audit maintains the hash-linked, append-only log of policy
// decisions.
//
// Chain and Append are pure: the caller owns chain state and must serialize
// appends for one session. Log is an optional JSONL file sink for records.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/gowebpki/jcs"

	"github.com/ppiankov/trustgate/internal/model"
)

const actionIDPrefix = "r6:"

// Chain is the state of one session's audit chain.
// SequenceNumber always equals len(Entries); LatestHash is nil when empty.
type Chain struct {
	SessionID      string   `json:"session_id"`
	PolicyID       string   `json:"policy_id"`
	Entries        []string `json:"entries"`
	LatestHash     *string  `json:"latest_hash"`
	SequenceNumber uint64   `json:"sequence_number"`
	CreatedAt      string   `json:"created_at"`
}

// NewChain starts an empty chain for a session.
func NewChain(sessionID, policyID string, now time.Time) Chain {
	return Chain{
		SessionID: sessionID,
		PolicyID:  policyID,
		Entries:   []string{},
		CreatedAt: FormatTimestamp(now),
	}
}

// Validate checks the chain's internal consistency.
func (c Chain) Validate() error {
	if c.SessionID == "" {
		return fmt.Errorf("session_id is required")
	}
	if uint64(len(c.Entries)) != c.SequenceNumber {
		return fmt.Errorf("sequence_number %d does not match %d entries", c.SequenceNumber, len(c.Entries))
	}
	if len(c.Entries) == 0 {
		if c.LatestHash != nil {
			return fmt.Errorf("latest_hash set on empty chain")
		}
		return nil
	}
	if c.LatestHash == nil || *c.LatestHash != c.Entries[len(c.Entries)-1] {
		return fmt.Errorf("latest_hash does not match last entry")
	}
	return nil
}

// HashInput returns the content hash of an action: SHA-256 over the
// compact JSON of in, fields in declaration order, truncated to 8 bytes
// as 16 lowercase hex characters.
func HashInput(in Input) string {
	sum := sha256.Sum256(encodeInput(in))
	return hex.EncodeToString(sum[:8])
}

// ParametersHash digests raw tool parameters: SHA-256 over their RFC 8785
// canonical form, truncated like HashInput. Empty or null parameters hash
// to "".
func ParametersHash(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("audit: canonicalize parameters: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:8]), nil
}

// ActionID returns the id of the record with the given sequence number.
func ActionID(sessionID string, seq uint64) string {
	return actionIDPrefix + sessionID + ":" + strconv.FormatUint(seq, 10)
}

// Append adds one action to the chain, stamped with now. It returns the
// new chain state, the full record and its hash. The input chain is not
// modified.
func Append(c Chain, in Input, now time.Time) (Chain, Record, string) {
	hash := HashInput(in)

	seq := c.SequenceNumber + 1
	var prev *string
	if c.LatestHash != nil {
		p := *c.LatestHash
		prev = &p
	}
	category := model.CategorizeTool(in.ToolName)

	rec := Record{
		ActionID: ActionID(c.SessionID, seq),
		Rules: Rules{
			PolicyID:    in.PolicyID,
			PolicyHash:  in.PolicyHash,
			MatchedRule: in.MatchedRule,
			Decision:    in.Decision,
		},
		Role: Role{
			SessionID:  in.SessionID,
			AgentID:    in.AgentID,
			TrustScore: in.TrustScore,
		},
		Request: Request{
			ToolName:       in.ToolName,
			Category:       category,
			ParametersHash: in.ParametersHash,
		},
		Reference: Reference{
			PreviousHash:   prev,
			SequenceNumber: seq,
		},
		Resource: Resource{
			Target:     in.Target,
			TargetType: category.TargetType(),
		},
		Result: Result{
			Success:  in.Success,
			Enforced: in.Enforced,
			Blocked:  in.Blocked,
			Error:    in.Error,
		},
		Timestamp:   FormatTimestamp(now),
		ContentHash: hash,
	}

	next := c
	next.Entries = make([]string, len(c.Entries), len(c.Entries)+1)
	copy(next.Entries, c.Entries)
	next.Entries = append(next.Entries, hash)
	latest := hash
	next.LatestHash = &latest
	next.SequenceNumber = seq

	return next, rec, hash
}
