package boundary

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ppiankov/safetygate/internal/model"
)

// ResultKind is the exhaustive outcome of a boundary check.
type ResultKind string

const (
	// Permit is the only kind that allows the request.
	Permit ResultKind = "permit"
	// Deny is an ordinary policy denial.
	Deny ResultKind = "deny"
	// Unknown means the identifier is not in the table.
	Unknown ResultKind = "unknown"
	// Failed means the predicate errored or panicked.
	Failed ResultKind = "failed"
)

// Result is the outcome of one check.
type Result struct {
	Boundary string
	Kind     ResultKind
	Reason   string
	Err      error
}

// Allowed reports whether the check permits. Every non-permit kind denies.
func (r Result) Allowed() bool {
	return r.Kind == Permit
}

// Category maps the result to its caller-visible reason category.
func (r Result) Category() string {
	switch r.Kind {
	case Permit:
		return model.ReasonNone
	case Deny:
		return model.ReasonPolicyDenied
	case Unknown:
		return model.ReasonConfigurationError
	default:
		return model.ReasonFor(model.KindOf(r.Err))
	}
}

// Verdict renders the result for aggregation.
func (r Result) Verdict() model.Verdict {
	name := "boundary:" + r.Boundary
	if r.Allowed() {
		return model.PassVerdict(name)
	}
	return model.NewVerdict(name, model.Reject, r.Category(), r.Reason, 1)
}

// Enforcer checks requests against a Table.
type Enforcer struct {
	table *Table
	log   *zap.Logger
}

// NewEnforcer creates an enforcer. A nil table denies everything.
func NewEnforcer(table *Table, log *zap.Logger) *Enforcer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Enforcer{table: table, log: log}
}

// Table returns the underlying table.
func (e *Enforcer) Table() *Table {
	return e.table
}

// Check evaluates one boundary. It never permits on ambiguity: unknown
// identifiers, predicate errors and panics all resolve to a non-permit
// result, each logged under its own event name.
func (e *Enforcer) Check(ctx context.Context, id string, s Subject) (res Result) {
	b, ok := e.table.Lookup(id)
	if !ok {
		e.log.Error("boundary.configuration_error",
			zap.String("boundary", id),
			zap.String("caller_id", s.Caller.ID))
		return Result{
			Boundary: id,
			Kind:     Unknown,
			Reason:   fmt.Sprintf("boundary %q is not configured", id),
			Err:      model.NewError(model.KindConfiguration, "boundary.check", fmt.Errorf("%w: %q", ErrUnknownBoundary, id)),
		}
	}

	defer func() {
		if r := recover(); r != nil {
			err := model.NewError(model.KindInternal, "boundary.check", fmt.Errorf("predicate panic: %v", r))
			e.log.Error("boundary.evaluation_failed",
				zap.String("boundary", id),
				zap.String("caller_id", s.Caller.ID),
				zap.Error(err))
			res = Result{Boundary: id, Kind: Failed, Reason: "boundary evaluation failed", Err: err}
		}
	}()

	allowed, reason, err := b.predicate.Allow(ctx, b, s)
	if err != nil {
		e.log.Error("boundary.evaluation_failed",
			zap.String("boundary", id),
			zap.String("caller_id", s.Caller.ID),
			zap.Error(err))
		return Result{Boundary: id, Kind: Failed, Reason: "boundary evaluation failed", Err: err}
	}
	if !allowed {
		if reason == "" {
			reason = "denied by policy"
		}
		e.log.Info("boundary.denied",
			zap.String("boundary", id),
			zap.String("capability", b.Capability),
			zap.String("caller_id", s.Caller.ID),
			zap.String("reason", reason))
		return Result{Boundary: id, Kind: Deny, Reason: reason}
	}
	return Result{Boundary: id, Kind: Permit}
}

// CheckAll checks ids in order and stops at the first non-permit result.
// An empty list permits.
func (e *Enforcer) CheckAll(ctx context.Context, ids []string, s Subject) []Result {
	results := make([]Result, 0, len(ids))
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			results = append(results, Result{
				Boundary: id,
				Kind:     Failed,
				Reason:   "deadline exceeded before boundary check",
				Err:      model.NewError(model.KindTimeout, "boundary.check", err),
			})
			return results
		}
		r := e.Check(ctx, id, s)
		results = append(results, r)
		if !r.Allowed() {
			return results
		}
	}
	return results
}
