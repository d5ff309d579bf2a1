package audit

import (
	"context"
	"errors"

	"github.com/ppiankov/safetygate/internal/model"
)

// TimestampFormat is the layout used in audit record timestamps.
const TimestampFormat = "2006-01-02T15:04:05.000Z"

// ErrClosed is returned by Append after Close.
var ErrClosed = errors.New("audit: sink closed")

// Record is one immutable decision record. All fields are concrete types
// so json.Marshal output is deterministic for hash chaining. The age
// bracket is never recorded; only whether a safeguard was active.
type Record struct {
	AuditID    string          `json:"audit_id"`
	Timestamp  string          `json:"ts"`
	DecisionID string          `json:"decision_id"`
	CallerID   string          `json:"caller_id"`
	SessionID  string          `json:"session_id,omitempty"`
	Outcome    string          `json:"outcome"`
	Reason     string          `json:"reason,omitempty"`
	Verdicts   []model.Verdict `json:"verdicts"`
	Safeguard  bool            `json:"developmental_safeguard"`
	Error      string          `json:"error,omitempty"`
	PrevHash   string          `json:"prev_hash,omitempty"`
}

// NewRecord builds the record for a decision. The timestamp is the
// decision's temporal reference.
func NewRecord(d model.Decision, callerID string) Record {
	verdicts := d.Verdicts
	if verdicts == nil {
		verdicts = []model.Verdict{}
	}
	return Record{
		Timestamp:  d.Reference.Format(),
		DecisionID: d.ID,
		CallerID:   callerID,
		SessionID:  d.SessionID,
		Outcome:    string(d.Outcome),
		Reason:     d.Reason,
		Verdicts:   verdicts,
		Safeguard:  d.Safeguard.Active(),
		Error:      d.Detail,
	}
}

// Sink is an append-only decision store. Append returns the audit ID of
// the durable record.
type Sink interface {
	Append(ctx context.Context, rec Record) (string, error)
	Close() error
}
