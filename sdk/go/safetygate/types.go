package safetygate

import (
	"fmt"

	"github.com/ppiankov/safetygate/internal/model"
)

// Outcome is the decision class.
type Outcome string

const (
	Allow Outcome = Outcome(model.Allow)
	Warn  Outcome = Outcome(model.Warn)
	Block Outcome = Outcome(model.Block)
)

// Caller identifies who a request is for. An empty AgeBracket is treated
// as unknown and gets the strictest safeguards.
type Caller struct {
	ID         string
	Roles      []string
	Verified   bool
	AgeBracket string
}

// Input is one request.
type Input struct {
	Caller      Caller
	Session     string
	Content     string
	ContentType string
	Boundaries  []string
}

// Result is the caller-visible decision.
type Result struct {
	Outcome   Outcome  `json:"outcome"`
	Reason    string   `json:"reason,omitempty"`
	Labels    []string `json:"labels,omitempty"`
	AuditID   string   `json:"audit_id,omitempty"`
	Safeguard bool     `json:"developmental_safeguard"`
	Response  string   `json:"response,omitempty"`
}

// Allowed returns true unless the decision blocks.
func (r Result) Allowed() bool {
	return r.Outcome != Block
}

// BlockedError is returned by guarded calls that were blocked.
type BlockedError struct {
	Result Result
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("safetygate blocked (%s)", e.Result.Reason)
}

func toInternalCaller(c Caller) model.Caller {
	return model.Caller{
		ID:       c.ID,
		Roles:    c.Roles,
		Verified: c.Verified,
		Age:      model.ParseAgeBracket(c.AgeBracket),
	}
}

func toResult(pd model.PublicDecision) Result {
	return Result{
		Outcome:   Outcome(pd.Outcome),
		Reason:    pd.Reason,
		Labels:    pd.Labels,
		AuditID:   pd.AuditID,
		Safeguard: pd.SafeguardActive,
		Response:  pd.Response,
	}
}
