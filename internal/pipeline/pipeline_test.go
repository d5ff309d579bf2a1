package pipeline

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/safetygate/internal/audit"
	"github.com/ppiankov/safetygate/internal/boundary"
	"github.com/ppiankov/safetygate/internal/llm"
	"github.com/ppiankov/safetygate/internal/model"
	"github.com/ppiankov/safetygate/internal/session"
	"github.com/ppiankov/safetygate/internal/temporal"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type memorySink struct {
	mu      sync.Mutex
	records []audit.Record
	err     error
}

func (m *memorySink) Append(_ context.Context, rec audit.Record) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	if rec.AuditID == "" {
		rec.AuditID = uuid.NewString()
	}
	m.records = append(m.records, rec)
	return rec.AuditID, nil
}

func (m *memorySink) Close() error { return nil }

func (m *memorySink) all() []audit.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]audit.Record(nil), m.records...)
}

type countingReader struct {
	r    io.Reader
	read int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.read += int64(n)
	return n, err
}

type zeros struct{}

func (zeros) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 'a'
	}
	return len(p), nil
}

type harness struct {
	d        *Dispatcher
	sessions *session.Store
	sink     *memorySink
	clock    *temporal.StepClock
	calls    *atomic.Int32
}

type option func(*Config, *Deps)

func withModel(inv llm.Invoker) option {
	return func(_ *Config, d *Deps) { d.Model = inv }
}

func withSink(s audit.Sink) option {
	return func(_ *Config, d *Deps) { d.Audit = s }
}

func newHarness(t *testing.T, opts ...option) *harness {
	t.Helper()
	table, err := boundary.NewTable([]boundary.Definition{
		{ID: "chat", Capability: "model.chat", Predicate: boundary.PredicateSpec{RequireVerified: true}},
		{ID: "admin", Capability: "model.admin", Predicate: boundary.PredicateSpec{RolesAny: []string{"admin"}}},
	}, []string{"chat"}, boundary.Options{})
	require.NoError(t, err)

	h := &harness{
		sessions: session.NewStore(session.Config{}, nil),
		sink:     &memorySink{},
		clock:    temporal.NewStepClock(epoch, 10*time.Second),
		calls:    &atomic.Int32{},
	}
	t.Cleanup(h.sessions.Close)

	cfg := Config{}
	deps := Deps{
		Clock:      h.clock,
		Sessions:   h.sessions,
		Boundaries: boundary.NewEnforcer(table, nil),
		Model: llm.InvokerFunc(func(ctx context.Context, _ llm.Request) (string, error) {
			h.calls.Add(1)
			return "ok", nil
		}),
		Audit: h.sink,
	}
	for _, o := range opts {
		o(&cfg, &deps)
	}
	h.d, err = New(cfg, deps)
	require.NoError(t, err)
	return h
}

func adult(id string) model.Caller {
	return model.Caller{ID: id, Verified: true, Age: model.AgeAdult}
}

func textRequest(caller model.Caller, body string) model.Request {
	return model.Request{
		Caller:        caller,
		Body:          strings.NewReader(body),
		ContentLength: int64(len(body)),
		ContentType:   "text/plain",
	}
}

func TestCleanRequestIsAllowed(t *testing.T) {
	h := newHarness(t)
	dec := h.d.Dispatch(context.Background(), textRequest(adult("u1"), "what is the capital of France?"))

	require.Equal(t, model.Allow, dec.Outcome, "verdicts: %+v", dec.Verdicts)
	require.Empty(t, dec.Reason)
	require.Equal(t, "ok", dec.Response)
	require.NotEmpty(t, dec.AuditID)
	require.Len(t, h.sink.all(), 1)
	require.Equal(t, dec.AuditID, h.sink.all()[0].AuditID)
}

func TestOversizeBodyRejectedBeforeReading(t *testing.T) {
	h := newHarness(t)
	body := &countingReader{r: io.LimitReader(zeros{}, 50<<20)}
	dec := h.d.Dispatch(context.Background(), model.Request{
		Caller:        adult("u1"),
		Body:          body,
		ContentLength: 50 << 20,
		ContentType:   "text/plain",
	})

	require.Equal(t, model.Block, dec.Outcome)
	require.Equal(t, model.ReasonInputRejected, dec.Reason)
	require.Zero(t, body.read, "declared oversize body must not be read")
	require.Zero(t, h.calls.Load(), "model must not run")

	recs := h.sink.all()
	require.Len(t, recs, 1)
	require.Len(t, recs[0].Verdicts, 1)
	require.Equal(t, "length", recs[0].Verdicts[0].Detector)
	require.Equal(t, model.Reject, recs[0].Verdicts[0].Outcome)

	sess := h.sessions.GetOrCreate("u1", dec.Reference)
	require.Zero(t, sess.History().Len(), "hook stage must not run")
	require.Nil(t, sess.Wellbeing, "wellbeing stage must not run")
}

func TestUndeclaredOversizeStopsAtLimit(t *testing.T) {
	h := newHarness(t)
	body := &countingReader{r: io.LimitReader(zeros{}, 50<<20)}
	dec := h.d.Dispatch(context.Background(), model.Request{
		Caller:        adult("u1"),
		Body:          body,
		ContentLength: -1,
	})

	require.Equal(t, model.Block, dec.Outcome)
	require.Equal(t, model.ReasonInputRejected, dec.Reason)
	require.LessOrEqual(t, body.read, int64(1<<20)+1)
}

func TestUnknownBoundaryIsConfigurationError(t *testing.T) {
	h := newHarness(t)
	req := textRequest(adult("u1"), "hello")
	req.Boundaries = []string{"nonexistent"}
	dec := h.d.Dispatch(context.Background(), req)

	require.Equal(t, model.Block, dec.Outcome)
	require.Equal(t, model.ReasonConfigurationError, dec.Reason)
	require.Zero(t, h.calls.Load())
	require.Contains(t, dec.Detail, "nonexistent")
	require.Empty(t, dec.Response)
}

func TestBoundaryDenialSkipsModel(t *testing.T) {
	h := newHarness(t)
	req := textRequest(adult("u1"), "hello")
	req.Boundaries = []string{"admin"}
	dec := h.d.Dispatch(context.Background(), req)

	require.Equal(t, model.Block, dec.Outcome)
	require.Equal(t, model.ReasonPolicyDenied, dec.Reason)
	require.Zero(t, h.calls.Load())
}

func TestDefaultBoundaryAppliesWithoutRequest(t *testing.T) {
	h := newHarness(t)
	caller := adult("u1")
	caller.Verified = false
	dec := h.d.Dispatch(context.Background(), textRequest(caller, "hello"))

	require.Equal(t, model.Block, dec.Outcome)
	require.Equal(t, model.ReasonPolicyDenied, dec.Reason)
}

func TestFirstInteractionWellbeingIsNeutral(t *testing.T) {
	h := newHarness(t)
	dec := h.d.Dispatch(context.Background(), textRequest(adult("u1"), "hello there"))
	require.Equal(t, model.Allow, dec.Outcome)

	sess := h.sessions.GetOrCreate("u1", dec.Reference)
	require.NotNil(t, sess.Wellbeing)
	require.Equal(t, 1, sess.Wellbeing.Interactions)
	require.Zero(t, sess.Wellbeing.Flagged)
	require.Zero(t, sess.Wellbeing.Exposure)
	require.Zero(t, sess.Wellbeing.FlagRate)
}

func TestSameSessionUpdatesAreNotLost(t *testing.T) {
	h := newHarness(t)
	const n = 32

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h.d.Dispatch(context.Background(), textRequest(adult("shared"), fmt.Sprintf("question number %d", i)))
		}(i)
	}
	wg.Wait()

	sess := h.sessions.GetOrCreate("shared", model.TemporalReference{At: epoch})
	require.NotNil(t, sess.Wellbeing)
	require.Equal(t, n, sess.Wellbeing.Interactions)
	require.Len(t, h.sink.all(), n)
}

func TestSingleTemporalReference(t *testing.T) {
	h := newHarness(t)
	dec := h.d.Dispatch(context.Background(), textRequest(adult("u1"), "hello there"))

	require.Equal(t, 1, h.clock.Calls(), "the clock is sampled once per decision")
	require.Equal(t, epoch, dec.Reference.At)

	recs := h.sink.all()
	require.Len(t, recs, 1)
	require.Equal(t, dec.Reference.Format(), recs[0].Timestamp)

	sess := h.sessions.GetOrCreate("u1", dec.Reference)
	require.Equal(t, dec.Reference.At, sess.LastActivity)
	last, ok := sess.History().Last()
	require.True(t, ok)
	require.Equal(t, dec.Reference.At, last.At)
	require.Equal(t, dec.Reference.At, sess.Wellbeing.UpdatedAt)

	h.d.Dispatch(context.Background(), textRequest(adult("u1"), "hello again"))
	require.Equal(t, 2, h.clock.Calls())
}

func TestRepeatedRequestIsNotCached(t *testing.T) {
	h := newHarness(t)
	first := h.d.Dispatch(context.Background(), textRequest(adult("u1"), "same question"))
	second := h.d.Dispatch(context.Background(), textRequest(adult("u1"), "same question"))

	require.NotEqual(t, first.ID, second.ID)
	require.NotEqual(t, first.AuditID, second.AuditID)
	require.Len(t, h.sink.all(), 2)
	require.Equal(t, int32(2), h.calls.Load())
}

func pseudoRandom(n int) []byte {
	out := make([]byte, 0, n)
	seed := sha256.Sum256([]byte("pipeline"))
	for len(out) < n {
		seed = sha256.Sum256(seed[:])
		out = append(out, seed[:]...)
	}
	return out[:n]
}

func TestBase64PayloadWarnsForAdult(t *testing.T) {
	h := newHarness(t)
	payload := base64.StdEncoding.EncodeToString(pseudoRandom(3000))
	dec := h.d.Dispatch(context.Background(), textRequest(adult("u1"), payload))

	require.Equal(t, model.Warn, dec.Outcome, "verdicts: %+v", dec.Verdicts)
	require.Contains(t, dec.Public().Labels, model.ReasonEntropyFlag)
	require.Equal(t, "ok", dec.Response)
	require.False(t, dec.Public().SafeguardActive)
}

func TestUnknownAgeHookAppliesStrictSafeguard(t *testing.T) {
	h := newHarness(t)
	caller := model.Caller{ID: "anon", Verified: true}

	var dec model.Decision
	for i := 0; i < 3; i++ {
		dec = h.d.Dispatch(context.Background(), textRequest(caller, "tell me that story again"))
	}

	require.Equal(t, model.Warn, dec.Outcome, "verdicts: %+v", dec.Verdicts)
	require.Equal(t, model.ReasonSafeguard, dec.Reason)
	require.Equal(t, model.SafeguardStrict, dec.Safeguard)

	pub := dec.Public()
	require.True(t, pub.SafeguardActive)
	require.Contains(t, pub.Labels, model.ReasonHookFlag)

	raw, err := json.Marshal(pub)
	require.NoError(t, err)
	for _, leak := range []string{"age", "strict", "unknown", "child", "bracket"} {
		require.NotContains(t, strings.ToLower(string(raw)), leak)
	}

	rec := h.sink.all()[2]
	require.True(t, rec.Safeguard)
	line, err := json.Marshal(rec)
	require.NoError(t, err)
	require.NotContains(t, string(line), "strict")
}

func TestAuditFailureBlocks(t *testing.T) {
	sink := &memorySink{err: errors.New("disk full")}
	h := newHarness(t, withSink(sink))
	dec := h.d.Dispatch(context.Background(), textRequest(adult("u1"), "hello"))

	require.Equal(t, model.Block, dec.Outcome)
	require.Equal(t, model.ReasonAuditFailure, dec.Reason)
	require.Empty(t, dec.AuditID)
	require.Empty(t, dec.Public().Response)
}

func TestTimeoutBlocksAndIsAudited(t *testing.T) {
	slow := llm.InvokerFunc(func(ctx context.Context, _ llm.Request) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	h := newHarness(t, withModel(slow), func(c *Config, _ *Deps) { c.Timeout = 20 * time.Millisecond })
	dec := h.d.Dispatch(context.Background(), textRequest(adult("u1"), "hello"))

	require.Equal(t, model.Block, dec.Outcome)
	require.Equal(t, model.ReasonTimeout, dec.Reason)
	require.NotEmpty(t, dec.AuditID)
	recs := h.sink.all()
	require.Len(t, recs, 1)
	require.Equal(t, string(model.Block), recs[0].Outcome)
}

// dripReader yields one byte per interval until stopped.
type dripReader struct {
	interval time.Duration
	stop     chan struct{}
	reading  chan struct{}
	once     sync.Once
}

func (d *dripReader) Read(p []byte) (int, error) {
	if d.reading != nil {
		d.once.Do(func() { close(d.reading) })
	}
	select {
	case <-time.After(d.interval):
		p[0] = 'a'
		return 1, nil
	case <-d.stop:
		return 0, io.ErrClosedPipe
	}
}

func TestSlowBodyIsBoundedByDeadline(t *testing.T) {
	h := newHarness(t, func(c *Config, _ *Deps) { c.Timeout = 50 * time.Millisecond })
	body := &dripReader{interval: 200 * time.Millisecond, stop: make(chan struct{})}
	t.Cleanup(func() { close(body.stop) })

	start := time.Now()
	dec := h.d.Dispatch(context.Background(), model.Request{
		Caller:        adult("u1"),
		Body:          body,
		ContentLength: 10,
		ContentType:   "text/plain",
	})

	require.Less(t, time.Since(start), time.Second)
	require.Equal(t, model.Block, dec.Outcome)
	require.Equal(t, model.ReasonTimeout, dec.Reason)
	require.Zero(t, h.calls.Load())
	require.Len(t, h.sink.all(), 1)
}

func TestSlowBodyDoesNotHoldSession(t *testing.T) {
	h := newHarness(t, func(c *Config, _ *Deps) { c.Timeout = 5 * time.Second })
	body := &dripReader{interval: time.Hour, stop: make(chan struct{}), reading: make(chan struct{})}

	stalled := make(chan model.Decision, 1)
	go func() {
		stalled <- h.d.Dispatch(context.Background(), model.Request{
			Caller:        adult("u1"),
			Body:          body,
			ContentLength: 10,
			ContentType:   "text/plain",
		})
	}()
	<-body.reading

	// The same caller is served while the first body is still arriving.
	dec := h.d.Dispatch(context.Background(), textRequest(adult("u1"), "hello"))
	require.Equal(t, model.Allow, dec.Outcome, "verdicts: %+v", dec.Verdicts)

	close(body.stop)
	first := <-stalled
	require.Equal(t, model.Block, first.Outcome)
	require.Equal(t, model.ReasonInputRejected, first.Reason)
}

func TestCancelledCallerContextBlocks(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	dec := h.d.Dispatch(ctx, textRequest(adult("u1"), "hello"))

	require.Equal(t, model.Block, dec.Outcome)
	require.Equal(t, model.ReasonTimeout, dec.Reason)
	require.Len(t, h.sink.all(), 1, "cancelled decisions are still audited")
}

func TestPanicBecomesPipelineError(t *testing.T) {
	boom := llm.InvokerFunc(func(context.Context, llm.Request) (string, error) {
		panic("nil map write")
	})
	h := newHarness(t, withModel(boom))
	dec := h.d.Dispatch(context.Background(), textRequest(adult("u1"), "hello"))

	require.Equal(t, model.Block, dec.Outcome)
	require.Equal(t, model.ReasonPipelineError, dec.Reason)
	require.Contains(t, h.sink.all()[0].Error, "nil map write")

	raw, err := json.Marshal(dec.Public())
	require.NoError(t, err)
	require.NotContains(t, string(raw), "nil map write")

	// The lease is released after a panic.
	next := h.d.Dispatch(context.Background(), textRequest(adult("u1"), "hello"))
	require.Equal(t, model.ReasonPipelineError, next.Reason)
}

func TestModelErrorBlocks(t *testing.T) {
	failing := llm.InvokerFunc(func(context.Context, llm.Request) (string, error) {
		return "", errors.New("upstream 503")
	})
	h := newHarness(t, withModel(failing))
	dec := h.d.Dispatch(context.Background(), textRequest(adult("u1"), "hello"))

	require.Equal(t, model.Block, dec.Outcome)
	require.Equal(t, model.ReasonModelError, dec.Reason)
	require.Equal(t, "upstream 503", dec.Detail)
}

func TestMissingCallerIsRejected(t *testing.T) {
	h := newHarness(t)
	dec := h.d.Dispatch(context.Background(), textRequest(model.Caller{}, "hello"))

	require.Equal(t, model.Block, dec.Outcome)
	require.Equal(t, model.ReasonInputRejected, dec.Reason)
	require.Zero(t, h.sessions.Len())
}

func TestMalformedJSONIsRejected(t *testing.T) {
	h := newHarness(t)
	req := textRequest(adult("u1"), `{"q":`)
	req.ContentType = "application/json"
	dec := h.d.Dispatch(context.Background(), req)

	require.Equal(t, model.Block, dec.Outcome)
	require.Equal(t, model.ReasonInputRejected, dec.Reason)
}

type recordingNotifier struct {
	mu        sync.Mutex
	decisions []model.Decision
}

func (r *recordingNotifier) Notify(d model.Decision, _ model.Caller) {
	r.mu.Lock()
	r.decisions = append(r.decisions, d)
	r.mu.Unlock()
}

func TestNotifierSeesAuditedDecision(t *testing.T) {
	n := &recordingNotifier{}
	h := newHarness(t, func(_ *Config, d *Deps) { d.Notifier = n })
	dec := h.d.Dispatch(context.Background(), textRequest(adult("u1"), "hello"))

	require.Len(t, n.decisions, 1)
	require.Equal(t, dec.AuditID, n.decisions[0].AuditID)
}

func TestFileSinkChainStaysValid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	sink, err := audit.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sink.Close() })

	h := newHarness(t, withSink(sink))
	for i := 0; i < 5; i++ {
		h.d.Dispatch(context.Background(), textRequest(adult("u1"), fmt.Sprintf("message %d", i)))
	}
	res := audit.Verify(path)
	require.True(t, res.Valid, "%+v", res)
	require.Equal(t, 5, res.Lines)
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Config{}, Deps{})
	require.Error(t, err)
	require.Equal(t, model.KindConfiguration, model.KindOf(err))
}

func TestBodyIsPassedToModel(t *testing.T) {
	var got string
	capture := llm.InvokerFunc(func(_ context.Context, req llm.Request) (string, error) {
		got = req.Prompt
		return "fine", nil
	})
	h := newHarness(t, withModel(capture))
	h.d.Dispatch(context.Background(), model.Request{
		Caller:        adult("u1"),
		Body:          bytes.NewReader([]byte("ping")),
		ContentLength: -1,
	})
	require.Equal(t, "ping", got)
}
