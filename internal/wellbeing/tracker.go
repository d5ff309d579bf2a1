// Package wellbeing keeps cumulative per-session exposure statistics and
// applies developmental safeguards by age bracket.
package wellbeing

import (
	"fmt"
	"math"
	"time"

	"github.com/ppiankov/safetygate/internal/model"
	"github.com/ppiankov/safetygate/internal/session"
)

const detectorName = "wellbeing"

// Thresholds are the exposure levels at which the tracker flags or
// rejects. A zero Block never rejects.
type Thresholds struct {
	Flag  float64 `yaml:"flag"`
	Block float64 `yaml:"block"`
}

// Config tunes the tracker.
type Config struct {
	HalfLife   time.Duration `yaml:"half_life"`
	FlagWeight float64       `yaml:"flag_weight"`
	HookWeight float64       `yaml:"hook_weight"`
	Strict     Thresholds    `yaml:"strict"`
	Elevated   Thresholds    `yaml:"elevated"`
	Standard   Thresholds    `yaml:"standard"`
}

// DefaultConfig returns stock wellbeing parameters.
func DefaultConfig() Config {
	return Config{
		HalfLife:   30 * time.Minute,
		FlagWeight: 0.15,
		HookWeight: 0.25,
		Strict:     Thresholds{Flag: 0.3, Block: 0.7},
		Elevated:   Thresholds{Flag: 0.5, Block: 0.85},
		Standard:   Thresholds{Flag: 0.7},
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.HalfLife <= 0 {
		c.HalfLife = d.HalfLife
	}
	if c.FlagWeight <= 0 {
		c.FlagWeight = d.FlagWeight
	}
	if c.HookWeight <= 0 {
		c.HookWeight = d.HookWeight
	}
	if c.Strict == (Thresholds{}) {
		c.Strict = d.Strict
	}
	if c.Elevated == (Thresholds{}) {
		c.Elevated = d.Elevated
	}
	if c.Standard == (Thresholds{}) {
		c.Standard = d.Standard
	}
	return c
}

// ThresholdsFor returns the thresholds for a safeguard level.
func (c Config) ThresholdsFor(level model.SafeguardLevel) Thresholds {
	switch level {
	case model.SafeguardStandard:
		return c.Standard
	case model.SafeguardElevated:
		return c.Elevated
	default:
		return c.Strict
	}
}

// Inputs are the per-decision signals the tracker folds in.
type Inputs struct {
	// Verdicts from pre-checks and boundaries.
	Verdicts []model.Verdict
	// Hook is the hook engine verdict.
	Hook model.Verdict
	// Age is the verified caller's bracket.
	Age model.AgeBracket
}

// Tracker updates wellbeing snapshots.
type Tracker struct {
	cfg Config
}

// NewTracker creates a tracker.
func NewTracker(cfg Config) *Tracker {
	return &Tracker{cfg: cfg.withDefaults()}
}

// Snapshot returns the session's current snapshot without modifying it.
// A session with no recorded interactions reports zeros.
func (t *Tracker) Snapshot(sess *session.Session, age model.AgeBracket) model.WellbeingSnapshot {
	if sess.Wellbeing == nil {
		return model.WellbeingSnapshot{Age: age, Safeguard: model.SafeguardFor(age)}
	}
	return *sess.Wellbeing
}

// Update folds one interaction into the session snapshot and returns the
// new snapshot with the tracker's verdict. The caller must hold the
// session lease. Decay is computed from reference times only.
func (t *Tracker) Update(sess *session.Session, in Inputs, ref model.TemporalReference) (model.WellbeingSnapshot, model.Verdict) {
	snap := sess.Wellbeing
	if snap == nil {
		snap = &model.WellbeingSnapshot{}
		sess.Wellbeing = snap
	}
	snap.Age = in.Age
	snap.Safeguard = model.SafeguardFor(in.Age)

	if !snap.UpdatedAt.IsZero() {
		snap.Exposure = t.decay(snap.Exposure, ref.Since(snap.UpdatedAt))
	}

	flagged := 0
	for _, v := range in.Verdicts {
		if v.Flagged() {
			flagged++
		}
	}
	hook := in.Hook.Flagged()

	add := t.cfg.FlagWeight * float64(flagged)
	if hook {
		add += t.cfg.HookWeight
		snap.HookFlags++
	}
	snap.Exposure = model.Clamp01(snap.Exposure + add)

	snap.Interactions++
	if flagged > 0 || hook {
		snap.Flagged++
	}
	snap.FlagRate = ratio(snap.Flagged, snap.Interactions)
	if ref.At.After(snap.UpdatedAt) {
		snap.UpdatedAt = ref.At
	}

	return *snap, t.verdict(*snap, hook)
}

// verdict reasons never name the thresholds; they would reveal the level.
func (t *Tracker) verdict(snap model.WellbeingSnapshot, hook bool) model.Verdict {
	th := t.cfg.ThresholdsFor(snap.Safeguard)
	switch {
	case th.Block > 0 && snap.Exposure >= th.Block:
		return model.NewVerdict(detectorName, model.Reject, model.ReasonWellbeingFlag,
			fmt.Sprintf("exposure %.2f at or above block threshold", snap.Exposure), snap.Exposure)
	case th.Flag > 0 && snap.Exposure >= th.Flag:
		return model.NewVerdict(detectorName, model.Flag, model.ReasonWellbeingFlag,
			fmt.Sprintf("exposure %.2f at or above flag threshold", snap.Exposure), snap.Exposure)
	case hook && snap.Safeguard == model.SafeguardStrict:
		return model.NewVerdict(detectorName, model.Flag, model.ReasonSafeguard,
			"engagement pattern with developmental safeguard active", 0.8)
	}
	return model.PassVerdict(detectorName)
}

func (t *Tracker) decay(v float64, elapsed time.Duration) float64 {
	if elapsed <= 0 || v == 0 {
		return v
	}
	return model.Clamp01(v * math.Exp2(-float64(elapsed)/float64(t.cfg.HalfLife)))
}

// ratio divides with a zero-denominator guard and clamps to [0,1].
func ratio(num, den int) float64 {
	if den <= 0 {
		return 0
	}
	return model.Clamp01(float64(num) / float64(den))
}
