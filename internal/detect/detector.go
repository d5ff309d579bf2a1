// Package detect holds the pre-check detectors that run against raw
// request input before any policy or model work. Detectors never see
// session state and every scan is bounded to a prefix of the input.
package detect

import (
	"strings"

	"github.com/ppiankov/safetygate/internal/model"
)

// Input is the raw material every detector evaluates.
type Input struct {
	Body        []byte
	ContentType string
}

// IsJSON reports whether the declared content type is JSON.
func (in Input) IsJSON() bool {
	ct := strings.ToLower(strings.TrimSpace(in.ContentType))
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	return ct == "application/json" || strings.HasSuffix(ct, "+json")
}

// Detector is a stateless pre-check.
type Detector interface {
	Name() string
	Evaluate(in Input) model.Verdict
}

// Config holds detector limits.
type Config struct {
	MaxBodyBytes     int64   `yaml:"max_body_bytes"`
	EntropyThreshold float64 `yaml:"entropy_threshold"`
	EntropyPrefix    int     `yaml:"entropy_prefix"`
	EntropyMinRunes  int     `yaml:"entropy_min_runes"`
	PIIPrefix        int     `yaml:"pii_prefix"`
}

const (
	DefaultMaxBodyBytes     = 1 << 20
	DefaultEntropyThreshold = 5.0
	DefaultEntropyPrefix    = 4096
	DefaultEntropyMinRunes  = 64
	DefaultPIIPrefix        = 10 << 10
)

// DefaultConfig returns the stock detector limits.
func DefaultConfig() Config {
	return Config{
		MaxBodyBytes:     DefaultMaxBodyBytes,
		EntropyThreshold: DefaultEntropyThreshold,
		EntropyPrefix:    DefaultEntropyPrefix,
		EntropyMinRunes:  DefaultEntropyMinRunes,
		PIIPrefix:        DefaultPIIPrefix,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = d.MaxBodyBytes
	}
	if c.EntropyThreshold <= 0 {
		c.EntropyThreshold = d.EntropyThreshold
	}
	if c.EntropyPrefix <= 0 {
		c.EntropyPrefix = d.EntropyPrefix
	}
	if c.EntropyMinRunes <= 0 {
		c.EntropyMinRunes = d.EntropyMinRunes
	}
	if c.PIIPrefix <= 0 {
		c.PIIPrefix = d.PIIPrefix
	}
	return c
}

// Set is an ordered collection of detectors.
type Set []Detector

// NewSet builds the standard detector chain: length, structure, entropy, PII.
func NewSet(cfg Config) Set {
	cfg = cfg.withDefaults()
	return Set{
		LengthBound{Max: cfg.MaxBodyBytes},
		Structure{},
		Entropy{Threshold: cfg.EntropyThreshold, Prefix: cfg.EntropyPrefix, MinRunes: cfg.EntropyMinRunes},
		PII{Prefix: cfg.PIIPrefix},
	}
}

// Run evaluates detectors in order and stops at the first reject.
// Verdicts produced before the reject are returned with it.
func (s Set) Run(in Input) (verdicts []model.Verdict, rejected bool) {
	verdicts = make([]model.Verdict, 0, len(s))
	for _, d := range s {
		v := d.Evaluate(in)
		verdicts = append(verdicts, v)
		if v.Rejected() {
			return verdicts, true
		}
	}
	return verdicts, false
}

// Names lists detector names in order.
func (s Set) Names() []string {
	names := make([]string, len(s))
	for i, d := range s {
		names[i] = d.Name()
	}
	return names
}
