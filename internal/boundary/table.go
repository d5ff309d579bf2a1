// Package boundary enforces named access-control policies. The table is
// built once at startup and never mutated. Every lookup or evaluation
// that cannot produce a clear permit resolves to deny.
package boundary

import (
	"errors"
	"fmt"
	"net/http"
	"sort"

	"github.com/ppiankov/safetygate/internal/model"
	"github.com/ppiankov/safetygate/internal/ratelimit"
)

// ErrUnknownBoundary is returned for identifiers absent from the table.
var ErrUnknownBoundary = errors.New("unknown boundary")

// Boundary is a named, immutable policy guarding one capability.
type Boundary struct {
	ID         string
	Capability string
	Spec       PredicateSpec
	predicate  Predicate
}

// Table is the immutable boundary registry. Safe for concurrent reads.
type Table struct {
	byID     map[string]*Boundary
	defaults []string
}

// Options customize table compilation.
type Options struct {
	// HTTPClient is used by remote predicates.
	HTTPClient *http.Client
}

// NewTable validates and compiles definitions. Any invalid definition
// fails the whole table.
func NewTable(defs []Definition, defaults []string, opts Options) (*Table, error) {
	if errs := Validate(defs, defaults); len(errs) > 0 {
		return nil, model.NewError(model.KindConfiguration, "boundary.compile", errors.Join(errs...))
	}

	t := &Table{
		byID:     make(map[string]*Boundary, len(defs)),
		defaults: append([]string(nil), defaults...),
	}
	for _, d := range defs {
		t.byID[d.ID] = &Boundary{
			ID:         d.ID,
			Capability: d.Capability,
			Spec:       d.Predicate,
			predicate:  compile(d.Predicate, opts),
		}
	}
	return t, nil
}

// FromFile compiles a parsed boundary document.
func FromFile(f *File, opts Options) (*Table, error) {
	if f == nil {
		return NewTable(nil, nil, opts)
	}
	return NewTable(f.Boundaries, f.DefaultBoundaries, opts)
}

func compile(p PredicateSpec, opts Options) Predicate {
	// The rate predicate runs last so only otherwise permitted requests
	// spend budget.
	preds := allOf{newLocalPredicate(p)}
	if p.Remote != nil && p.Remote.URL != "" {
		preds = append(preds, newRemotePredicate(*p.Remote, opts.HTTPClient))
	}
	if p.RateLimit != nil && p.RateLimit.Enabled() {
		preds = append(preds, &ratePredicate{tracker: ratelimit.NewTracker(*p.RateLimit)})
	}
	return preds
}

// WithPredicate returns a copy of the table where id uses pred instead of
// its compiled predicate. Intended for embedding callers and tests.
func (t *Table) WithPredicate(id string, pred Predicate) (*Table, error) {
	b, ok := t.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownBoundary, id)
	}
	out := &Table{byID: make(map[string]*Boundary, len(t.byID)), defaults: t.defaults}
	for k, v := range t.byID {
		out.byID[k] = v
	}
	nb := *b
	nb.predicate = pred
	out.byID[id] = &nb
	return out, nil
}

// Lookup returns the boundary for id. The second result is false for
// unknown identifiers; callers must treat that as deny.
func (t *Table) Lookup(id string) (*Boundary, bool) {
	if t == nil {
		return nil, false
	}
	b, ok := t.byID[id]
	return b, ok
}

// Defaults returns the boundaries applied to every request.
func (t *Table) Defaults() []string {
	if t == nil {
		return nil
	}
	return append([]string(nil), t.defaults...)
}

// IDs returns all boundary identifiers, sorted.
func (t *Table) IDs() []string {
	if t == nil {
		return nil
	}
	ids := make([]string, 0, len(t.byID))
	for id := range t.byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of boundaries.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.byID)
}

// Applicable returns request-listed boundaries followed by defaults,
// without duplicates and in first-seen order.
func (t *Table) Applicable(requested []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, list := range [][]string{requested, t.Defaults()} {
		for _, id := range list {
			if !seen[id] {
				seen[id] = true
				out = append(out, id)
			}
		}
	}
	return out
}
