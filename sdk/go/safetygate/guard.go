package safetygate

import "context"

// GuardedFunc sends content through the pipeline and returns the model
// response.
type GuardedFunc func(ctx context.Context, content string) (string, error)

// Guard returns a GuardedFunc bound to caller. Blocked content returns a
// *BlockedError and no response. Warnings are returned as responses;
// inspect them with Evaluate when labels matter.
func (c *Client) Guard(caller Caller, opts ...GuardOption) GuardedFunc {
	var gcfg guardConfig
	for _, o := range opts {
		o(&gcfg)
	}

	return func(ctx context.Context, content string) (string, error) {
		res := c.Evaluate(ctx, Input{
			Caller:      caller,
			Session:     gcfg.session,
			Content:     content,
			ContentType: gcfg.contentType,
			Boundaries:  gcfg.boundaries,
		})
		if !res.Allowed() {
			return "", &BlockedError{Result: res}
		}
		return res.Response, nil
	}
}
