package alert

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/ppiankov/safetygate/internal/model"
)

// Dispatcher fans out alert events to matching webhook configurations.
type Dispatcher struct {
	configs []AlertConfig
	log     *zap.Logger
	wg      sync.WaitGroup
}

// NewDispatcher creates a Dispatcher from webhook configurations.
// Returns nil if configs is empty. A nil Dispatcher is a no-op.
func NewDispatcher(configs []AlertConfig, log *zap.Logger) *Dispatcher {
	if len(configs) == 0 {
		return nil
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{configs: configs, log: log}
}

// Notify dispatches the event for an audited decision.
func (d *Dispatcher) Notify(dec model.Decision, caller model.Caller) {
	if d == nil {
		return
	}
	d.Dispatch(EventFor(dec, caller))
}

// Dispatch sends the event to all webhooks whose Events list matches
// the outcome or the reason. Fires goroutines and does not block.
func (d *Dispatcher) Dispatch(event AlertEvent) {
	if d == nil {
		return
	}
	for _, cfg := range d.configs {
		if !matches(cfg.Events, event) {
			continue
		}
		d.wg.Add(1)
		go func(cfg AlertConfig) {
			defer d.wg.Done()
			if err := Send(context.Background(), cfg, event); err != nil {
				d.log.Warn("alert.send_failed",
					zap.String("decision_id", event.DecisionID),
					zap.String("format", cfg.Format),
					zap.Error(err))
			}
		}(cfg)
	}
}

// Wait blocks until in-flight sends finish.
func (d *Dispatcher) Wait() {
	if d == nil {
		return
	}
	d.wg.Wait()
}

func matches(events []string, event AlertEvent) bool {
	for _, e := range events {
		if e == event.Outcome {
			return true
		}
		if event.Reason != "" && e == event.Reason {
			return true
		}
	}
	return false
}
