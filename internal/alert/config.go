// Package alert posts decision records to webhooks.
package alert

import (
	"fmt"
	"net/url"

	"github.com/ppiankov/trustgate/internal/audit"
	"github.com/ppiankov/trustgate/internal/model"
)

// Formats a webhook body can take.
const (
	FormatGeneric   = "generic"
	FormatSlack     = "slack"
	FormatPagerDuty = "pagerduty"
)

// Config defines a webhook alert destination.
type Config struct {
	URL     string            `yaml:"url"     json:"url"`
	Format  string            `yaml:"format"  json:"format,omitempty"`
	Events  []model.Decision  `yaml:"events"  json:"events"`
	Headers map[string]string `yaml:"headers" json:"headers,omitempty"`
}

// Validate checks the destination and its event filter.
func (c Config) Validate() error {
	u, err := url.Parse(c.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("alert url %q must be an http(s) URL", c.URL)
	}
	switch c.Format {
	case "", FormatGeneric, FormatSlack, FormatPagerDuty:
	default:
		return fmt.Errorf("alert %s: unknown format %q", c.URL, c.Format)
	}
	if len(c.Events) == 0 {
		return fmt.Errorf("alert %s: events must not be empty", c.URL)
	}
	for _, e := range c.Events {
		if !e.Valid() {
			return fmt.Errorf("alert %s: unknown event %q", c.URL, e)
		}
	}
	return nil
}

// Event is the payload sent to webhook endpoints.
type Event struct {
	Timestamp   string         `json:"timestamp"`
	ActionID    string         `json:"action_id"`
	SessionID   string         `json:"session_id"`
	ActorID     string         `json:"agent_id"`
	TrustScore  float64        `json:"trust_score"`
	Tool        string         `json:"tool"`
	Target      string         `json:"target"`
	Decision    model.Decision `json:"decision"`
	MatchedRule string         `json:"matched_rule,omitempty"`
	Outcome     model.Outcome  `json:"outcome"`
	Error       string         `json:"error,omitempty"`
	ContentHash string         `json:"content_hash"`
	PolicyID    string         `json:"policy_id"`
	PolicyHash  string         `json:"policy_hash"`
}

// EventFromRecord builds the alert for one committed audit record.
func EventFromRecord(rec audit.Record) Event {
	e := Event{
		Timestamp:   rec.Timestamp,
		ActionID:    rec.ActionID,
		SessionID:   rec.SessionID(),
		ActorID:     rec.Actor(),
		TrustScore:  rec.Role.TrustScore,
		Tool:        rec.Request.ToolName,
		Decision:    rec.Rules.Decision,
		Outcome:     rec.Result.Outcome(),
		ContentHash: rec.ContentHash,
		PolicyID:    rec.Rules.PolicyID,
		PolicyHash:  rec.Rules.PolicyHash,
	}
	if rec.Resource.Target != nil {
		e.Target = *rec.Resource.Target
	}
	if rec.Rules.MatchedRule != nil {
		e.MatchedRule = *rec.Rules.MatchedRule
	}
	if rec.Result.Error != nil {
		e.Error = *rec.Result.Error
	}
	return e
}
