package model

import (
	"io"
	"time"
)

// VerdictOutcome is the result of a single pipeline stage.
type VerdictOutcome string

const (
	Pass   VerdictOutcome = "pass"
	Flag   VerdictOutcome = "flag"
	Reject VerdictOutcome = "reject"
)

// verdictRank orders verdict outcomes for aggregation. Higher wins.
var verdictRank = map[VerdictOutcome]int{
	Pass:   0,
	Flag:   1,
	Reject: 2,
}

// Outcome is the final pipeline decision.
type Outcome string

const (
	Allow Outcome = "allow"
	Warn  Outcome = "warn"
	Block Outcome = "block"
)

// Reason categories. These are the only reason strings that cross
// the caller-visible boundary.
const (
	ReasonNone               = ""
	ReasonInputRejected      = "input_rejected"
	ReasonEntropyFlag        = "entropy_flag"
	ReasonPIIFlag            = "pii_flag"
	ReasonPolicyDenied       = "policy_denied"
	ReasonConfigurationError = "configuration_error"
	ReasonTransientError     = "transient_error"
	ReasonHookFlag           = "hook_flag"
	ReasonWellbeingFlag      = "wellbeing_flag"
	ReasonSafeguard          = "developmental_safeguard"
	ReasonTimeout            = "timeout"
	ReasonPipelineError      = "pipeline_error"
	ReasonAuditFailure       = "audit_failure"
	ReasonModelError         = "model_error"
)

// Verdict is the immutable output of one detector or stage.
type Verdict struct {
	Detector   string         `json:"detector"`
	Outcome    VerdictOutcome `json:"outcome"`
	Category   string         `json:"category,omitempty"`
	Reason     string         `json:"reason,omitempty"`
	Confidence float64        `json:"confidence"`
}

// NewVerdict builds a verdict with confidence clamped to [0,1].
func NewVerdict(detector string, outcome VerdictOutcome, category, reason string, confidence float64) Verdict {
	return Verdict{
		Detector:   detector,
		Outcome:    outcome,
		Category:   category,
		Reason:     reason,
		Confidence: Clamp01(confidence),
	}
}

// PassVerdict is a shorthand for a clean verdict.
func PassVerdict(detector string) Verdict {
	return Verdict{Detector: detector, Outcome: Pass, Confidence: 1}
}

// Rejected returns true if the verdict terminates the pipeline.
func (v Verdict) Rejected() bool {
	return v.Outcome == Reject
}

// Flagged returns true if the verdict carries a warning signal.
func (v Verdict) Flagged() bool {
	return v.Outcome == Flag
}

// Worse reports whether a ranks above b.
func Worse(a, b VerdictOutcome) bool {
	return verdictRank[a] > verdictRank[b]
}

// Caller is the verified identity established before the pipeline runs.
type Caller struct {
	ID       string     `json:"id"`
	Roles    []string   `json:"roles,omitempty"`
	Verified bool       `json:"verified"`
	Age      AgeBracket `json:"-"`
}

// HasRole reports whether the caller carries the given role.
func (c Caller) HasRole(role string) bool {
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Request is one inbound evaluation request.
// ContentLength < 0 means the length was not declared.
type Request struct {
	Caller        Caller
	SessionHint   string
	Body          io.Reader
	ContentLength int64
	ContentType   string
	Boundaries    []string
}

// TemporalReference is the single point in time used by every stage
// of one decision.
type TemporalReference struct {
	At time.Time `json:"at"`
}

// Since returns the elapsed time from t to the reference, never negative.
func (r TemporalReference) Since(t time.Time) time.Duration {
	if t.IsZero() {
		return 0
	}
	d := r.At.Sub(t)
	if d < 0 {
		return 0
	}
	return d
}

// IsZero reports whether the reference was never captured.
func (r TemporalReference) IsZero() bool {
	return r.At.IsZero()
}

// Format renders the reference the way audit records store timestamps.
func (r TemporalReference) Format() string {
	return r.At.UTC().Format("2006-01-02T15:04:05.000Z")
}

// Decision is the final pipeline output.
type Decision struct {
	ID        string            `json:"decision_id"`
	Outcome   Outcome           `json:"outcome"`
	Reason    string            `json:"reason,omitempty"`
	Verdicts  []Verdict         `json:"verdicts"`
	Reference TemporalReference `json:"reference"`
	AuditID   string            `json:"audit_id,omitempty"`
	SessionID string            `json:"session_id,omitempty"`
	Safeguard SafeguardLevel    `json:"-"`

	// Response is the model output. Only released on allow or warn.
	Response string `json:"-"`

	// Detail carries internal error text for the audit record only.
	Detail string `json:"-"`
}

// PublicDecision is the redacted, caller-visible form of a Decision.
type PublicDecision struct {
	Outcome         Outcome  `json:"outcome"`
	Reason          string   `json:"reason,omitempty"`
	Labels          []string `json:"labels,omitempty"`
	AuditID         string   `json:"audit_id,omitempty"`
	SafeguardActive bool     `json:"developmental_safeguard"`
	Response        string   `json:"response,omitempty"`
}

// Public strips everything that must not leave the service.
func (d Decision) Public() PublicDecision {
	pd := PublicDecision{
		Outcome:         d.Outcome,
		Reason:          d.Reason,
		AuditID:         d.AuditID,
		SafeguardActive: d.Safeguard.Active(),
	}
	seen := make(map[string]bool)
	for _, v := range d.Verdicts {
		if v.Outcome == Pass || v.Category == "" || seen[v.Category] {
			continue
		}
		seen[v.Category] = true
		pd.Labels = append(pd.Labels, v.Category)
	}
	if d.Outcome != Block {
		pd.Response = d.Response
	}
	return pd
}

// Clamp01 bounds v to [0,1]. NaN maps to 0.
func Clamp01(v float64) float64 {
	if v != v || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
