package boundary

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ppiankov/safetygate/internal/model"
	"github.com/ppiankov/safetygate/internal/ratelimit"
)

// RemoteSpec delegates the decision to a policy endpoint.
type RemoteSpec struct {
	URL     string        `yaml:"url"     json:"url"`
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
	Retries int           `yaml:"retries" json:"retries"`
}

// PredicateSpec is the declarative form of a boundary predicate.
// All set conditions must hold for the boundary to permit.
type PredicateSpec struct {
	RolesAny        []string         `yaml:"roles_any"         json:"roles_any,omitempty"`
	DenyUsers       []string         `yaml:"deny_users"        json:"deny_users,omitempty"`
	RequireVerified bool             `yaml:"require_verified"  json:"require_verified,omitempty"`
	MinSessionAge   time.Duration    `yaml:"min_session_age"   json:"min_session_age,omitempty"`
	MaxContentBytes int64            `yaml:"max_content_bytes" json:"max_content_bytes,omitempty"`
	RateLimit       *ratelimit.Limit `yaml:"rate_limit"      json:"rate_limit,omitempty"`
	Remote          *RemoteSpec      `yaml:"remote"            json:"remote,omitempty"`
}

func (p PredicateSpec) empty() bool {
	return len(p.RolesAny) == 0 &&
		len(p.DenyUsers) == 0 &&
		!p.RequireVerified &&
		p.MinSessionAge == 0 &&
		p.MaxContentBytes == 0 &&
		p.RateLimit == nil &&
		(p.Remote == nil || p.Remote.URL == "")
}

// Definition is one configured boundary.
type Definition struct {
	ID         string        `yaml:"id"         json:"id"`
	Capability string        `yaml:"capability" json:"capability"`
	Predicate  PredicateSpec `yaml:"predicate"  json:"predicate"`
}

// File is the on-disk boundary definition document.
type File struct {
	Boundaries        []Definition `yaml:"boundaries"`
	DefaultBoundaries []string     `yaml:"default_boundaries"`
}

// ErrInvalidDefinition is wrapped by every load-time validation failure.
var ErrInvalidDefinition = errors.New("invalid boundary definition")

// Parse strictly decodes a boundary document. Unknown fields are errors.
func Parse(data []byte) (*File, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, model.NewError(model.KindConfiguration, "boundary.parse", err)
	}
	return &f, nil
}

// LoadFile reads and parses a boundary document, returning it with the
// SHA-256 of the raw bytes.
func LoadFile(path string) (*File, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", model.NewError(model.KindConfiguration, "boundary.load",
			fmt.Errorf("read %s: %w", path, err))
	}
	f, err := Parse(data)
	if err != nil {
		return nil, "", err
	}
	h := sha256.Sum256(data)
	return f, "sha256:" + hex.EncodeToString(h[:]), nil
}

// Validate checks definitions and default references without compiling.
// It reports every problem, not just the first.
func Validate(defs []Definition, defaults []string) []error {
	var errs []error
	seen := make(map[string]bool, len(defs))
	for i, d := range defs {
		switch {
		case d.ID == "":
			errs = append(errs, fmt.Errorf("%w: boundary #%d has no id", ErrInvalidDefinition, i))
			continue
		case seen[d.ID]:
			errs = append(errs, fmt.Errorf("%w: duplicate id %q", ErrInvalidDefinition, d.ID))
			continue
		}
		seen[d.ID] = true
		if d.Predicate.empty() {
			errs = append(errs, fmt.Errorf("%w: %q has an empty predicate", ErrInvalidDefinition, d.ID))
		}
		if d.Predicate.MinSessionAge < 0 || d.Predicate.MaxContentBytes < 0 {
			errs = append(errs, fmt.Errorf("%w: %q has a negative limit", ErrInvalidDefinition, d.ID))
		}
		if rl := d.Predicate.RateLimit; rl != nil && !rl.Enabled() {
			errs = append(errs, fmt.Errorf("%w: %q rate_limit needs positive max_requests and window", ErrInvalidDefinition, d.ID))
		}
		if r := d.Predicate.Remote; r != nil && r.URL != "" && r.Retries < 0 {
			errs = append(errs, fmt.Errorf("%w: %q has negative remote retries", ErrInvalidDefinition, d.ID))
		}
	}
	for _, id := range defaults {
		if !seen[id] {
			errs = append(errs, fmt.Errorf("%w: default boundary %q is not defined", ErrInvalidDefinition, id))
		}
	}
	return errs
}
