package safetygate

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/ppiankov/safetygate/internal/audit"
	"github.com/ppiankov/safetygate/internal/config"
	"github.com/ppiankov/safetygate/internal/gate"
	"github.com/ppiankov/safetygate/internal/llm"
	"github.com/ppiankov/safetygate/internal/model"
)

// Client holds the pipeline for in-process evaluation.
// Safe for concurrent use.
type Client struct {
	cfg    clientConfig
	gate   *gate.Gate
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
	err    error
}

// New creates a Client and starts its idle-session sweeper. Call Close
// when done.
func New(opts ...Option) (*Client, error) {
	cc := clientConfig{logger: zap.NewNop()}
	for _, o := range opts {
		o(&cc)
	}

	cfg := config.DefaultConfig()
	if cc.configPath != "" {
		loaded, _, err := config.Load(cc.configPath)
		if err != nil {
			return nil, fmt.Errorf("safetygate: failed to load config: %w", err)
		}
		cfg = loaded
	}
	if cc.auditPath != "" {
		cfg.Audit.Backend = audit.BackendFile
		cfg.Audit.Path = cc.auditPath
	}

	var gopts []gate.Option
	if cc.model != nil {
		fn := cc.model
		gopts = append(gopts, gate.WithModel(llm.InvokerFunc(func(ctx context.Context, req llm.Request) (string, error) {
			return fn(ctx, req.Prompt)
		})))
	}

	g, err := gate.Build(context.Background(), cfg, cc.logger, gopts...)
	if err != nil {
		return nil, fmt.Errorf("safetygate: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{cfg: cc, gate: g, cancel: cancel}
	sweeper := g.Sweeper(cc.logger.Named("session"))
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		_ = sweeper.Run(ctx)
	}()
	return c, nil
}

// Evaluate runs one request through the pipeline.
func (c *Client) Evaluate(ctx context.Context, in Input) Result {
	contentType := in.ContentType
	if contentType == "" {
		contentType = "text/plain"
	}
	dec := c.gate.Dispatcher.Dispatch(ctx, model.Request{
		Caller:        toInternalCaller(in.Caller),
		SessionHint:   in.Session,
		Body:          strings.NewReader(in.Content),
		ContentLength: int64(len(in.Content)),
		ContentType:   contentType,
		Boundaries:    in.Boundaries,
	})
	return toResult(dec.Public())
}

// Boundaries returns the configured boundary IDs.
func (c *Client) Boundaries() []string {
	return c.gate.Dispatcher.Boundaries().IDs()
}

// Close stops the sweeper, waits for pending alerts and closes the audit log.
func (c *Client) Close() error {
	c.once.Do(func() {
		c.cancel()
		c.wg.Wait()
		c.err = c.gate.Close()
	})
	return c.err
}
