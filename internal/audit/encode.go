package audit

import (
	"math"
	"strconv"
	"strings"
	"unicode/utf8"
)

// encodeInput writes in as compact JSON with fields in declaration order.
// Floats keep a fractional part ("1.0") and switch to exponent form
// outside [1e-5, 1e16). Strings escape only quotes, backslashes and
// control characters. Hashes computed elsewhere over the same action
// depend on this exact byte form.
func encodeInput(in Input) []byte {
	var b strings.Builder
	b.Grow(256)
	b.WriteByte('{')
	field(&b, "policy_id", true)
	writeString(&b, in.PolicyID)
	field(&b, "policy_hash", false)
	writeString(&b, in.PolicyHash)
	field(&b, "matched_rule", false)
	writeOptString(&b, in.MatchedRule)
	field(&b, "decision", false)
	writeString(&b, string(in.Decision))
	field(&b, "session_id", false)
	writeString(&b, in.SessionID)
	field(&b, "agent_id", false)
	writeOptString(&b, in.AgentID)
	field(&b, "trust_score", false)
	b.WriteString(formatFloat(in.TrustScore))
	field(&b, "tool_name", false)
	writeString(&b, in.ToolName)
	field(&b, "parameters_hash", false)
	writeString(&b, in.ParametersHash)
	field(&b, "target", false)
	writeOptString(&b, in.Target)
	field(&b, "success", false)
	b.WriteString(strconv.FormatBool(in.Success))
	field(&b, "enforced", false)
	b.WriteString(strconv.FormatBool(in.Enforced))
	field(&b, "blocked", false)
	b.WriteString(strconv.FormatBool(in.Blocked))
	field(&b, "error", false)
	writeOptString(&b, in.Error)
	b.WriteByte('}')
	return []byte(b.String())
}

func field(b *strings.Builder, name string, first bool) {
	if !first {
		b.WriteByte(',')
	}
	b.WriteByte('"')
	b.WriteString(name)
	b.WriteString(`":`)
}

func writeOptString(b *strings.Builder, s *string) {
	if s == nil {
		b.WriteString("null")
		return
	}
	writeString(b, *s)
}

const hexDigits = "0123456789abcdef"

func writeString(b *strings.Builder, s string) {
	b.WriteByte('"')
	for i := 0; i < len(s); {
		c := s[i]
		if c >= utf8.RuneSelf {
			r, size := utf8.DecodeRuneInString(s[i:])
			if r == utf8.RuneError && size == 1 {
				b.WriteString(string(utf8.RuneError))
			} else {
				b.WriteString(s[i : i+size])
			}
			i += size
			continue
		}
		switch c {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		case '\b':
			b.WriteString(`\b`)
		case '\f':
			b.WriteString(`\f`)
		default:
			if c < 0x20 {
				b.WriteString(`\u00`)
				b.WriteByte(hexDigits[c>>4])
				b.WriteByte(hexDigits[c&0xf])
			} else {
				b.WriteByte(c)
			}
		}
		i++
	}
	b.WriteByte('"')
}

// formatFloat renders v the way shortest-round-trip float printers in the
// ryu family do. Non-finite values encode as null.
func formatFloat(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return "null"
	}
	sci := strconv.FormatFloat(v, 'e', -1, 64)
	mant, expStr, _ := strings.Cut(sci, "e")
	exp, _ := strconv.Atoi(expStr)
	if point := exp + 1; v == 0 || (point > -5 && point <= 16) {
		s := strconv.FormatFloat(v, 'f', -1, 64)
		if !strings.ContainsRune(s, '.') {
			s += ".0"
		}
		return s
	}
	return mant + "e" + strconv.Itoa(exp)
}
