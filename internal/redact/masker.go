// Package redact masks sensitive values in audit output before it is shared.
package redact

import (
	"strings"

	"github.com/ppiankov/trustgate/internal/audit"
)

// Masker replaces sensitive values with tokens. One Masker is used per
// listing so repeated values keep the same token.
type Masker struct {
	tm    *TokenMap
	cfg   *Config
	extra []ExtraPattern
}

// NewMasker compiles cfg's extra patterns. cfg may be nil.
func NewMasker(cfg *Config) (*Masker, error) {
	extra, err := CompilePatterns(cfg)
	if err != nil {
		return nil, err
	}
	return &Masker{tm: NewTokenMap(), cfg: cfg, extra: extra}, nil
}

// Text returns text with every sensitive value replaced by its token.
// Where matches overlap the earlier, longer one wins.
func (m *Masker) Text(text string) string {
	matches := ScanWithConfig(text, m.cfg, m.extra)
	if len(matches) == 0 {
		return text
	}
	var b strings.Builder
	pos := 0
	for _, match := range matches {
		if match.Start < pos {
			continue
		}
		b.WriteString(text[pos:match.Start])
		b.WriteString(m.tm.Token(match.Type, match.Value))
		pos = match.End
	}
	b.WriteString(text[pos:])
	return b.String()
}

// Record masks the target and result error of rec. The hash fields are
// left as they are, so a masked record no longer verifies.
func (m *Masker) Record(rec audit.Record) audit.Record {
	if rec.Resource.Target != nil {
		t := m.Text(*rec.Resource.Target)
		rec.Resource.Target = &t
	}
	if rec.Result.Error != nil {
		e := m.Text(*rec.Result.Error)
		rec.Result.Error = &e
	}
	return rec
}

// Records masks every record in place.
func (m *Masker) Records(records []audit.Record) {
	for i := range records {
		records[i] = m.Record(records[i])
	}
}
