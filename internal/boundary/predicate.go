package boundary

import (
	"context"
	"fmt"
	"time"

	"github.com/ppiankov/safetygate/internal/model"
	"github.com/ppiankov/safetygate/internal/ratelimit"
)

// Subject is everything a predicate may inspect.
type Subject struct {
	Caller       model.Caller
	SessionID    string
	SessionAge   time.Duration
	ContentBytes int64
	ContentType  string
	// At is the decision's temporal reference.
	At time.Time
}

// Predicate decides a boundary. A non-nil error means the predicate
// could not decide; the enforcer treats that as a failure, not a denial.
type Predicate interface {
	Allow(ctx context.Context, b *Boundary, s Subject) (bool, string, error)
}

// PredicateFunc adapts a function to Predicate.
type PredicateFunc func(ctx context.Context, b *Boundary, s Subject) (bool, string, error)

// Allow implements Predicate.
func (f PredicateFunc) Allow(ctx context.Context, b *Boundary, s Subject) (bool, string, error) {
	return f(ctx, b, s)
}

// localPredicate evaluates the in-process conditions of a PredicateSpec.
type localPredicate struct {
	rolesAny        []string
	denyUsers       map[string]bool
	requireVerified bool
	minSessionAge   time.Duration
	maxContentBytes int64
}

func newLocalPredicate(p PredicateSpec) *localPredicate {
	lp := &localPredicate{
		rolesAny:        p.RolesAny,
		requireVerified: p.RequireVerified,
		minSessionAge:   p.MinSessionAge,
		maxContentBytes: p.MaxContentBytes,
	}
	if len(p.DenyUsers) > 0 {
		lp.denyUsers = make(map[string]bool, len(p.DenyUsers))
		for _, u := range p.DenyUsers {
			lp.denyUsers[u] = true
		}
	}
	return lp
}

func (p *localPredicate) Allow(_ context.Context, _ *Boundary, s Subject) (bool, string, error) {
	if p.requireVerified && !s.Caller.Verified {
		return false, "caller identity not verified", nil
	}
	if p.denyUsers[s.Caller.ID] {
		return false, "caller is on the deny list", nil
	}
	if len(p.rolesAny) > 0 && !hasAnyRole(s.Caller, p.rolesAny) {
		return false, "caller lacks a required role", nil
	}
	if p.minSessionAge > 0 && s.SessionAge < p.minSessionAge {
		return false, fmt.Sprintf("session younger than %s", p.minSessionAge), nil
	}
	if p.maxContentBytes > 0 && s.ContentBytes > p.maxContentBytes {
		return false, fmt.Sprintf("content exceeds %d bytes", p.maxContentBytes), nil
	}
	return true, "", nil
}

func hasAnyRole(c model.Caller, roles []string) bool {
	for _, r := range roles {
		if c.HasRole(r) {
			return true
		}
	}
	return false
}

// ratePredicate limits requests per caller. Each boundary owns its
// budget. Only requests that reach it are counted.
type ratePredicate struct {
	tracker *ratelimit.Tracker
}

func (p *ratePredicate) Allow(_ context.Context, _ *Boundary, s Subject) (bool, string, error) {
	if res := p.tracker.Take(s.Caller.ID, s.At); res.Exceeded {
		return false, res.Reason, nil
	}
	return true, "", nil
}

// allOf permits only when every predicate permits. Evaluation stops at
// the first denial or error.
type allOf []Predicate

func (a allOf) Allow(ctx context.Context, b *Boundary, s Subject) (bool, string, error) {
	for _, p := range a {
		ok, reason, err := p.Allow(ctx, b, s)
		if err != nil || !ok {
			return false, reason, err
		}
	}
	return true, "", nil
}
