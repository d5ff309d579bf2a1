// Package pipeline runs one request through every safety stage and
// produces exactly one audited decision.
//
// Stage order: capture the temporal reference, read the body under the
// length bound and the request deadline, run the detector set, lease the
// session, enforce boundaries, invoke the model, score hook patterns,
// update wellbeing, aggregate, append to the audit sink, release the
// lease. Any reject short-circuits to aggregation; verdicts already
// produced are kept.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ppiankov/safetygate/internal/audit"
	"github.com/ppiankov/safetygate/internal/boundary"
	"github.com/ppiankov/safetygate/internal/detect"
	"github.com/ppiankov/safetygate/internal/hook"
	"github.com/ppiankov/safetygate/internal/llm"
	"github.com/ppiankov/safetygate/internal/model"
	"github.com/ppiankov/safetygate/internal/session"
	"github.com/ppiankov/safetygate/internal/temporal"
	"github.com/ppiankov/safetygate/internal/wellbeing"
)

const (
	DefaultTimeout      = 10 * time.Second
	DefaultAuditTimeout = 5 * time.Second
)

// Stage names used as verdict detectors for dispatcher-level failures.
const (
	stageCaller   = "caller"
	stageSession  = "session"
	stageModel    = "model"
	stageAudit    = "audit"
	stageDeadline = "deadline"
	stagePanic    = "pipeline"
)

// ErrMissingCaller is recorded when a request arrives without a caller ID.
var ErrMissingCaller = errors.New("pipeline: request has no caller identity")

// Config tunes the dispatcher and the stages it builds.
type Config struct {
	Timeout      time.Duration `yaml:"request_timeout"`
	AuditTimeout time.Duration `yaml:"audit_timeout"`

	Detect    detect.Config    `yaml:"detect"`
	Hook      hook.Config      `yaml:"hook"`
	Wellbeing wellbeing.Config `yaml:"wellbeing"`
}

// Notifier receives every audited decision. Implementations must not block.
type Notifier interface {
	Notify(d model.Decision, caller model.Caller)
}

// Deps are the collaborators of a dispatcher.
type Deps struct {
	Clock      temporal.Clock
	Sessions   *session.Store
	Boundaries *boundary.Enforcer
	Model      llm.Invoker
	Audit      audit.Sink
	Notifier   Notifier
	Logger     *zap.Logger
}

// Dispatcher is safe for concurrent use. Requests for the same caller are
// serialized by the session lease.
type Dispatcher struct {
	cfg       Config
	clock     temporal.Clock
	sessions  *session.Store
	enforcer  *boundary.Enforcer
	model     llm.Invoker
	sink      audit.Sink
	notifier  Notifier
	log       *zap.Logger
	length    detect.LengthBound
	detectors detect.Set
	hooks     *hook.Engine
	tracker   *wellbeing.Tracker
}

// New wires a dispatcher. Sessions, boundaries, model and audit sink are
// required.
func New(cfg Config, deps Deps) (*Dispatcher, error) {
	switch {
	case deps.Sessions == nil:
		return nil, model.NewError(model.KindConfiguration, "pipeline.new", errors.New("session store is required"))
	case deps.Boundaries == nil:
		return nil, model.NewError(model.KindConfiguration, "pipeline.new", errors.New("boundary enforcer is required"))
	case deps.Model == nil:
		return nil, model.NewError(model.KindConfiguration, "pipeline.new", errors.New("model invoker is required"))
	case deps.Audit == nil:
		return nil, model.NewError(model.KindConfiguration, "pipeline.new", errors.New("audit sink is required"))
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.AuditTimeout <= 0 {
		cfg.AuditTimeout = DefaultAuditTimeout
	}
	if deps.Clock == nil {
		deps.Clock = temporal.SystemClock{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	return &Dispatcher{
		cfg:       cfg,
		clock:     deps.Clock,
		sessions:  deps.Sessions,
		enforcer:  deps.Boundaries,
		model:     deps.Model,
		sink:      deps.Audit,
		notifier:  deps.Notifier,
		log:       deps.Logger,
		length:    detect.LengthBound{Max: cfg.Detect.MaxBodyBytes},
		detectors: detect.NewSet(cfg.Detect),
		hooks:     hook.NewEngine(cfg.Hook),
		tracker:   wellbeing.NewTracker(cfg.Wellbeing),
	}, nil
}

// Boundaries returns the boundary table in use.
func (d *Dispatcher) Boundaries() *boundary.Table {
	return d.enforcer.Table()
}

// Dispatch evaluates one request. It always returns a well-formed
// decision; failures of any kind resolve to block. The decision is
// returned only after the audit sink accepted it, or downgraded to
// block when it did not.
func (d *Dispatcher) Dispatch(ctx context.Context, req model.Request) model.Decision {
	ref := temporal.Capture(d.clock)
	dec := model.Decision{
		ID:        uuid.NewString(),
		Reference: ref,
		Safeguard: model.SafeguardFor(req.Caller.Age),
	}

	runCtx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()

	r := &run{d: d, req: req, ref: ref, dec: &dec}
	defer r.releaseLease()
	r.evaluate(runCtx)

	if dec.Outcome == model.Block {
		dec.Response = ""
	}

	d.record(ctx, &dec, req.Caller)
	d.logDecision(&dec, req.Caller)
	if d.notifier != nil {
		d.notifier.Notify(dec, req.Caller)
	}
	return dec
}

// record appends the decision to the audit sink. The audit write is not
// bound by the request deadline so that timed-out decisions are recorded.
func (d *Dispatcher) record(ctx context.Context, dec *model.Decision, caller model.Caller) {
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.cfg.AuditTimeout)
	defer cancel()

	id, err := d.sink.Append(actx, audit.NewRecord(*dec, caller.ID))
	if err != nil {
		d.log.Error("audit.append_failed",
			zap.String("decision_id", dec.ID),
			zap.String("caller_id", caller.ID),
			zap.Error(err))
		dec.Verdicts = append(dec.Verdicts,
			model.NewVerdict(stageAudit, model.Reject, model.ReasonAuditFailure, "audit append failed", 1))
		dec.Outcome = model.Block
		dec.Reason = model.ReasonAuditFailure
		dec.Response = ""
		dec.AuditID = ""
		return
	}
	dec.AuditID = id
}

func (d *Dispatcher) logDecision(dec *model.Decision, caller model.Caller) {
	fields := []zap.Field{
		zap.String("decision_id", dec.ID),
		zap.String("caller_id", caller.ID),
		zap.String("session_id", dec.SessionID),
		zap.String("outcome", string(dec.Outcome)),
		zap.String("reason", dec.Reason),
		zap.String("audit_id", dec.AuditID),
		zap.Int("verdicts", len(dec.Verdicts)),
		zap.Bool("developmental_safeguard", dec.Safeguard.Active()),
	}
	if dec.Detail != "" {
		fields = append(fields, zap.String("error", dec.Detail))
	}
	if dec.Outcome == model.Block {
		d.log.Warn("pipeline.decision", fields...)
		return
	}
	d.log.Info("pipeline.decision", fields...)
}

// run carries the state of one Dispatch call.
type run struct {
	d       *Dispatcher
	req     model.Request
	ref     model.TemporalReference
	dec     *model.Decision
	sess    *session.Session
	release session.Release
}

func (r *run) releaseLease() {
	if r.release != nil {
		r.release()
	}
}

// evaluate runs the stages. A panic in any stage becomes a block with the
// panic text kept for the audit record only.
func (r *run) evaluate(ctx context.Context) {
	defer func() {
		if p := recover(); p != nil {
			r.fail(stagePanic, model.ReasonPipelineError, fmt.Sprintf("panic: %v", p))
		}
	}()

	if r.req.Caller.ID == "" {
		r.fail(stageCaller, model.ReasonInputRejected, ErrMissingCaller.Error())
		return
	}

	// Pre-checks see no session state, so they run before the lease is
	// taken and a slow body never holds another request of the session.
	body, lv, err := r.d.length.ReadContext(ctx, r.req.Body, r.req.ContentLength)
	if err != nil {
		if model.KindOf(err) == model.KindTimeout {
			r.fail(stageDeadline, model.ReasonTimeout, err.Error())
			return
		}
		r.dec.Verdicts = append(r.dec.Verdicts, lv)
		r.dec.Detail = err.Error()
		r.aggregate()
		return
	}

	verdicts, rejected := r.d.detectors.Run(detect.Input{Body: body, ContentType: r.req.ContentType})
	r.dec.Verdicts = append(r.dec.Verdicts, verdicts...)
	if rejected {
		r.aggregate()
		return
	}
	if r.expired(ctx) {
		return
	}

	sess, release, err := r.d.sessions.Acquire(ctx, r.req.Caller.ID, r.req.SessionHint, r.ref)
	if err != nil {
		r.failErr(stageSession, err)
		return
	}
	r.sess, r.release = sess, release
	r.dec.SessionID = sess.ID
	sess.Age = r.req.Caller.Age

	if r.expired(ctx) {
		return
	}

	subject := boundary.Subject{
		Caller:       r.req.Caller,
		SessionID:    sess.ID,
		SessionAge:   sess.Duration(r.ref),
		ContentBytes: int64(len(body)),
		ContentType:  r.req.ContentType,
		At:           r.ref.At,
	}
	ids := r.d.enforcer.Table().Applicable(r.req.Boundaries)
	for _, res := range r.d.enforcer.CheckAll(ctx, ids, subject) {
		r.dec.Verdicts = append(r.dec.Verdicts, res.Verdict())
		if !res.Allowed() {
			if res.Err != nil {
				r.dec.Detail = res.Err.Error()
			}
			r.aggregate()
			return
		}
	}
	if r.expired(ctx) {
		return
	}

	response, err := r.d.model.Invoke(ctx, llm.Request{
		CallerID:  r.req.Caller.ID,
		SessionID: sess.ID,
		Prompt:    string(body),
	})
	if err != nil {
		if ctx.Err() != nil {
			r.fail(stageDeadline, model.ReasonTimeout, err.Error())
			return
		}
		r.fail(stageModel, model.ReasonModelError, err.Error())
		return
	}
	r.dec.Verdicts = append(r.dec.Verdicts, model.PassVerdict(stageModel))
	if r.expired(ctx) {
		return
	}

	hv := r.d.hooks.Evaluate(sess, hook.Input{Request: body, Response: response}, r.ref)
	_, wv := r.d.tracker.Update(sess, wellbeing.Inputs{
		Verdicts: r.dec.Verdicts,
		Hook:     hv,
		Age:      r.req.Caller.Age,
	}, r.ref)
	r.dec.Verdicts = append(r.dec.Verdicts, hv, wv)

	r.dec.Response = response
	r.aggregate()
}

func (r *run) aggregate() {
	r.dec.Outcome, r.dec.Reason = Aggregate(r.dec.Verdicts)
}

// expired resolves the decision to a timeout block if the deadline passed.
func (r *run) expired(ctx context.Context) bool {
	if err := ctx.Err(); err != nil {
		r.fail(stageDeadline, model.ReasonTimeout, err.Error())
		return true
	}
	return false
}

func (r *run) failErr(stage string, err error) {
	r.fail(stage, model.ReasonFor(model.KindOf(err)), err.Error())
}

func (r *run) fail(stage, reason, detail string) {
	r.dec.Verdicts = append(r.dec.Verdicts, model.NewVerdict(stage, model.Reject, reason, reason, 1))
	r.dec.Outcome = model.Block
	r.dec.Reason = reason
	r.dec.Detail = detail
}
