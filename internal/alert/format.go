package alert

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ppiankov/safetygate/internal/model"
)

// FormatPayload builds the webhook body for the given format.
func FormatPayload(format string, event AlertEvent) ([]byte, error) {
	switch format {
	case "slack":
		return formatSlack(event)
	case "pagerduty":
		return formatPagerDuty(event)
	default:
		return formatGeneric(event)
	}
}

func formatGeneric(event AlertEvent) ([]byte, error) {
	return json.Marshal(event)
}

func formatSlack(event AlertEvent) ([]byte, error) {
	labels := "none"
	if len(event.Labels) > 0 {
		labels = strings.Join(event.Labels, ", ")
	}

	payload := map[string]any{
		"blocks": []any{
			map[string]any{
				"type": "header",
				"text": map[string]any{
					"type": "plain_text",
					"text": fmt.Sprintf("safetygate: %s", event.Outcome),
				},
			},
			map[string]any{
				"type": "section",
				"fields": []any{
					map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Reason:* %s", event.Reason)},
					map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Labels:* %s", labels)},
					map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Caller:* %s", event.CallerID)},
					map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Audit:* %s", event.AuditID)},
				},
			},
		},
	}
	return json.Marshal(payload)
}

func formatPagerDuty(event AlertEvent) ([]byte, error) {
	payload := map[string]any{
		"event_action": "trigger",
		"payload": map[string]any{
			"summary":  fmt.Sprintf("safetygate %s: %s", event.Outcome, event.Reason),
			"severity": severityFor(event),
			"source":   "safetygate",
			"custom_details": map[string]any{
				"decision_id": event.DecisionID,
				"audit_id":    event.AuditID,
				"caller_id":   event.CallerID,
				"session_id":  event.SessionID,
				"labels":      event.Labels,
			},
		},
	}
	return json.Marshal(payload)
}

// severityFor ranks failures of the gate itself above ordinary blocks.
func severityFor(event AlertEvent) string {
	switch {
	case event.Reason == model.ReasonConfigurationError || event.Reason == model.ReasonAuditFailure:
		return "critical"
	case event.Outcome == string(model.Block):
		return "error"
	case event.Outcome == string(model.Warn):
		return "warning"
	default:
		return "info"
	}
}
