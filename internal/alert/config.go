package alert

import (
	"time"

	"github.com/ppiankov/safetygate/internal/model"
)

// AlertConfig defines a webhook alert destination.
type AlertConfig struct {
	URL     string            `yaml:"url"     json:"url"`
	Format  string            `yaml:"format"  json:"format"` // "generic", "slack", "pagerduty"
	Events  []string          `yaml:"events"  json:"events"` // outcomes or reasons: ["block", "configuration_error"]
	Headers map[string]string `yaml:"headers" json:"headers"`
}

// AlertEvent is the payload sent to webhook endpoints. It carries only
// caller-safe fields of a decision.
type AlertEvent struct {
	Timestamp  string   `json:"timestamp"`
	DecisionID string   `json:"decision_id"`
	AuditID    string   `json:"audit_id,omitempty"`
	CallerID   string   `json:"caller_id"`
	SessionID  string   `json:"session_id,omitempty"`
	Outcome    string   `json:"outcome"`
	Reason     string   `json:"reason,omitempty"`
	Labels     []string `json:"labels,omitempty"`
	Safeguard  bool     `json:"developmental_safeguard"`
}

// EventFor builds the alert event for a decision.
func EventFor(d model.Decision, caller model.Caller) AlertEvent {
	pub := d.Public()
	ts := d.Reference.Format()
	if d.Reference.IsZero() {
		ts = time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
	}
	return AlertEvent{
		Timestamp:  ts,
		DecisionID: d.ID,
		AuditID:    d.AuditID,
		CallerID:   caller.ID,
		SessionID:  d.SessionID,
		Outcome:    string(pub.Outcome),
		Reason:     pub.Reason,
		Labels:     pub.Labels,
		Safeguard:  pub.SafeguardActive,
	}
}
