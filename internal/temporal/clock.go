// Package temporal owns the single time reference of a decision.
// Stages receive a model.TemporalReference and never read the clock.
package temporal

import (
	"sync"
	"time"

	"github.com/ppiankov/safetygate/internal/model"
)

// Clock is the only source of "now" in the pipeline.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock in UTC.
type SystemClock struct{}

// Now returns the current UTC time.
func (SystemClock) Now() time.Time { return time.Now().UTC() }

// Capture samples the clock once. Called exactly once per decision.
func Capture(c Clock) model.TemporalReference {
	if c == nil {
		c = SystemClock{}
	}
	return model.TemporalReference{At: c.Now()}
}

// StepClock advances by Step on every call. Used to prove that stages
// never sample time on their own: two reads observe different values.
type StepClock struct {
	mu    sync.Mutex
	next  time.Time
	Step  time.Duration
	calls int
}

// NewStepClock starts at start and advances by step per call.
func NewStepClock(start time.Time, step time.Duration) *StepClock {
	return &StepClock{next: start, Step: step}
}

// Now returns the current value and advances.
func (c *StepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.next
	c.next = c.next.Add(c.Step)
	c.calls++
	return now
}

// Calls returns how many times Now was called.
func (c *StepClock) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// Set moves the clock to t without counting a call.
func (c *StepClock) Set(t time.Time) {
	c.mu.Lock()
	c.next = t
	c.mu.Unlock()
}
