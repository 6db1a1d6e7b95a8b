package alert

import (
	"encoding/json"
	"fmt"

	"github.com/ppiankov/trustgate/internal/model"
)

// FormatPayload builds the webhook body for the given format.
func FormatPayload(format string, event Event) ([]byte, error) {
	switch format {
	case FormatSlack:
		return formatSlack(event)
	case FormatPagerDuty:
		return formatPagerDuty(event)
	default:
		return formatGeneric(event)
	}
}

func formatGeneric(event Event) ([]byte, error) {
	return json.Marshal(event)
}

func formatSlack(event Event) ([]byte, error) {
	payload := map[string]any{
		"blocks": []any{
			map[string]any{
				"type": "header",
				"text": map[string]any{
					"type": "plain_text",
					"text": fmt.Sprintf("trustgate: %s", event.Decision),
				},
			},
			map[string]any{
				"type": "section",
				"fields": []any{
					map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Tool:* %s", event.Tool)},
					map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Target:* %s", event.Target)},
					map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Actor:* %s (trust %.2f)", event.ActorID, event.TrustScore)},
					map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Rule:* %s", ruleOrDefault(event.MatchedRule))},
				},
			},
		},
	}
	return json.Marshal(payload)
}

func formatPagerDuty(event Event) ([]byte, error) {
	payload := map[string]any{
		"event_action": "trigger",
		"dedup_key":    event.ActionID,
		"payload": map[string]any{
			"summary":  fmt.Sprintf("trustgate %s: %s %s", event.Decision, event.Tool, event.Target),
			"severity": severity(event),
			"source":   "trustgate",
			"custom_details": map[string]any{
				"actor":       event.ActorID,
				"trust_score": event.TrustScore,
				"rule":        ruleOrDefault(event.MatchedRule),
				"error":       event.Error,
				"outcome":     event.Outcome,
				"action_id":   event.ActionID,
				"policy_hash": event.PolicyHash,
			},
		},
	}
	return json.Marshal(payload)
}

// severity maps a decision to a PagerDuty severity. A deny that was only
// logged (not enforced) ranks below one that blocked the action.
func severity(event Event) string {
	switch event.Decision {
	case model.Deny:
		if event.Outcome == model.OutcomeBlocked {
			return "critical"
		}
		return "error"
	case model.AskUser:
		return "warning"
	default:
		return "info"
	}
}

func ruleOrDefault(rule string) string {
	if rule == "" {
		return "default"
	}
	return rule
}
