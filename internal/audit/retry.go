package audit

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ppiankov/safetygate/internal/model"
	"github.com/ppiankov/safetygate/internal/retry"
)

// RetrySink retries a backing sink with bounded backoff. The audit ID is
// fixed before the first attempt so a retried write keeps its identity.
type RetrySink struct {
	next   Sink
	policy retry.Policy
	log    *zap.Logger
}

// NewRetrySink wraps next.
func NewRetrySink(next Sink, policy retry.Policy, log *zap.Logger) *RetrySink {
	if log == nil {
		log = zap.NewNop()
	}
	return &RetrySink{next: next, policy: policy, log: log}
}

// Append implements Sink. Exhausted retries return a transient error.
func (s *RetrySink) Append(ctx context.Context, rec Record) (string, error) {
	if rec.AuditID == "" {
		rec.AuditID = uuid.NewString()
	}

	var id string
	attempt := 0
	err := retry.Do(ctx, s.policy, func(ctx context.Context) error {
		attempt++
		var err error
		id, err = s.next.Append(ctx, rec)
		if errors.Is(err, ErrClosed) {
			return retry.Permanent(err)
		}
		if err != nil {
			s.log.Warn("audit.append_retry",
				zap.String("audit_id", rec.AuditID),
				zap.Int("attempt", attempt),
				zap.Error(err))
		}
		return err
	})
	if err != nil {
		if model.KindOf(err) == model.KindTimeout {
			return "", model.NewError(model.KindTimeout, "audit.append", err)
		}
		return "", model.NewError(model.KindTransient, "audit.append", err)
	}
	return id, nil
}

// Close closes the backing sink.
func (s *RetrySink) Close() error {
	return s.next.Close()
}
