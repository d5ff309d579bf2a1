// Package hook detects engagement-maximizing interaction patterns from a
// session's bounded rolling history: sustained short request cadence,
// escalating emotional intensity, and repeated return-to-content loops.
package hook

import (
	"fmt"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/ppiankov/safetygate/internal/model"
	"github.com/ppiankov/safetygate/internal/session"
)

const detectorName = "hook"

// Signal names reported in verdict reasons.
const (
	SignalCadence    = "cadence"
	SignalEscalation = "escalation"
	SignalLoop       = "loop"
)

// Config tunes the engine.
type Config struct {
	MinInterval        time.Duration `yaml:"min_interval"`
	BurstCount         int           `yaml:"burst_count"`
	Window             time.Duration `yaml:"window"`
	IntensityThreshold float64       `yaml:"intensity_threshold"`
	EscalationSteps    int           `yaml:"escalation_steps"`
	LoopThreshold      int           `yaml:"loop_threshold"`
	ScanPrefix         int           `yaml:"scan_prefix"`
}

// DefaultConfig returns stock hook thresholds.
func DefaultConfig() Config {
	return Config{
		MinInterval:        2 * time.Second,
		BurstCount:         5,
		Window:             2 * time.Minute,
		IntensityThreshold: 0.6,
		EscalationSteps:    3,
		LoopThreshold:      3,
		ScanPrefix:         4096,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MinInterval <= 0 {
		c.MinInterval = d.MinInterval
	}
	if c.BurstCount < 2 {
		c.BurstCount = d.BurstCount
	}
	if c.Window <= 0 {
		c.Window = d.Window
	}
	if c.IntensityThreshold <= 0 {
		c.IntensityThreshold = d.IntensityThreshold
	}
	if c.EscalationSteps < 2 {
		c.EscalationSteps = d.EscalationSteps
	}
	if c.LoopThreshold < 2 {
		c.LoopThreshold = d.LoopThreshold
	}
	if c.ScanPrefix <= 0 {
		c.ScanPrefix = d.ScanPrefix
	}
	return c
}

// Input is what the engine inspects for one interaction.
type Input struct {
	// Request is the user content. It drives the loop fingerprint.
	Request []byte
	// Response is the model output, if any.
	Response string
}

// Engine evaluates hook patterns. It holds no per-session state of its own.
type Engine struct {
	cfg Config
}

// NewEngine creates an engine.
func NewEngine(cfg Config) *Engine {
	return &Engine{cfg: cfg.withDefaults()}
}

// Evaluate scores the interaction against the session history and then
// appends it to that history. The caller must hold the session lease.
// All time comparisons use ref.
func (e *Engine) Evaluate(sess *session.Session, in Input, ref model.TemporalReference) model.Verdict {
	history := sess.History().Items()

	request := prefix(in.Request, e.cfg.ScanPrefix)
	intensity := Intensity(request)
	if r := Intensity(prefix([]byte(in.Response), e.cfg.ScanPrefix)); r > intensity {
		intensity = r
	}
	fp := Fingerprint(request)

	var signals []string
	if e.cadence(history, ref) {
		signals = append(signals, SignalCadence)
	}
	if e.escalation(history, intensity) {
		signals = append(signals, SignalEscalation)
	}
	if sess.SeeFingerprint(fp) >= e.cfg.LoopThreshold {
		signals = append(signals, SignalLoop)
	}

	sess.History().Push(session.Interaction{
		At:          ref.At,
		Fingerprint: fp,
		Intensity:   intensity,
		Flagged:     len(signals) > 0,
	})

	if len(signals) == 0 {
		return model.PassVerdict(detectorName)
	}
	return model.NewVerdict(detectorName, model.Flag, model.ReasonHookFlag,
		fmt.Sprintf("engagement pattern: %s", strings.Join(signals, ",")),
		0.4+0.2*float64(len(signals)))
}

// cadence reports a burst of BurstCount requests, this one included,
// each following the previous by less than MinInterval, all inside Window.
func (e *Engine) cadence(history []session.Interaction, ref model.TemporalReference) bool {
	need := e.cfg.BurstCount - 1
	if len(history) < need {
		return false
	}
	next := ref.At
	for i := len(history) - 1; i >= len(history)-need; i-- {
		at := history[i].At
		if ref.Since(at) > e.cfg.Window {
			return false
		}
		gap := next.Sub(at)
		if gap < 0 || gap >= e.cfg.MinInterval {
			return false
		}
		next = at
	}
	return true
}

// escalation reports strictly rising intensity across EscalationSteps
// interactions ending at this one, finishing at or above the threshold.
func (e *Engine) escalation(history []session.Interaction, current float64) bool {
	if current < e.cfg.IntensityThreshold {
		return false
	}
	need := e.cfg.EscalationSteps - 1
	if len(history) < need {
		return false
	}
	next := current
	for i := len(history) - 1; i >= len(history)-need; i-- {
		if history[i].Intensity >= next {
			return false
		}
		next = history[i].Intensity
	}
	return true
}

func prefix(b []byte, n int) []byte {
	if len(b) > n {
		return b[:n]
	}
	return b
}

// Fingerprint hashes the case- and whitespace-normalized content.
func Fingerprint(b []byte) uint64 {
	return xxhash.Sum64String(strings.Join(strings.Fields(strings.ToLower(string(b))), " "))
}
