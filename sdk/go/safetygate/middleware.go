package safetygate

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/ppiankov/safetygate/internal/identity"
	"github.com/ppiankov/safetygate/internal/model"
)

type resultKey struct{}

// ResultFrom returns the decision Middleware attached to ctx.
func ResultFrom(ctx context.Context) (Result, bool) {
	r, ok := ctx.Value(resultKey{}).(Result)
	return r, ok
}

// Middleware returns an http.Handler that runs each request body through
// the pipeline before passing it to next. Requests without a caller get
// 401, blocked requests get 403 with the decision as JSON. Allowed
// requests reach next with the body intact and the decision available
// via ResultFrom.
func (c *Client) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller, ok := c.callerFor(r)
		if !ok {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"blocked": true, "reason": "unauthorized"})
			return
		}

		contentType := r.Header.Get("Content-Type")
		if contentType == "" {
			contentType = "text/plain"
		}

		var seen bytes.Buffer
		var body io.Reader = http.NoBody
		if r.Body != nil {
			body = io.TeeReader(r.Body, &seen)
		}
		dec := c.gate.Dispatcher.Dispatch(r.Context(), model.Request{
			Caller:        caller,
			SessionHint:   r.Header.Get("X-Session-ID"),
			Body:          body,
			ContentLength: r.ContentLength,
			ContentType:   contentType,
			Boundaries:    c.cfg.httpBoundaries,
		})
		res := toResult(dec.Public())

		if !res.Allowed() {
			writeJSON(w, http.StatusForbidden, res)
			return
		}

		if r.Body != nil {
			r.Body = readCloser{io.MultiReader(&seen, r.Body), r.Body}
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), resultKey{}, res)))
	})
}

// callerFor resolves the caller: the configured CallerFunc, then a caller
// already in the context, then a bearer token when a JWT secret is set.
func (c *Client) callerFor(r *http.Request) (model.Caller, bool) {
	if c.cfg.callerFunc != nil {
		caller, ok := c.cfg.callerFunc(r)
		if !ok {
			return model.Caller{}, false
		}
		return toInternalCaller(caller), true
	}
	if caller, ok := identity.CallerFrom(r.Context()); ok {
		return caller, true
	}
	if c.gate.Verifier == nil {
		return model.Caller{}, false
	}
	token, err := identity.BearerToken(r.Header.Get("Authorization"))
	if err != nil {
		return model.Caller{}, false
	}
	caller, err := c.gate.Verifier.Verify(token)
	if err != nil {
		return model.Caller{}, false
	}
	return caller, true
}

type readCloser struct {
	io.Reader
	io.Closer
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
