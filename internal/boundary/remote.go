package boundary

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ppiankov/safetygate/internal/model"
	"github.com/ppiankov/safetygate/internal/retry"
)

const (
	defaultRemoteTimeout = 2 * time.Second
	maxRemoteResponse    = 64 << 10
)

// remoteRequest is the body posted to a policy endpoint. The age bracket
// is deliberately absent.
type remoteRequest struct {
	Boundary     string   `json:"boundary"`
	Capability   string   `json:"capability"`
	CallerID     string   `json:"caller_id"`
	Roles        []string `json:"roles,omitempty"`
	Verified     bool     `json:"verified"`
	SessionID    string   `json:"session_id,omitempty"`
	SessionAgeS  float64  `json:"session_age_seconds"`
	ContentBytes int64    `json:"content_bytes"`
}

type remoteResponse struct {
	Allow  *bool  `json:"allow"`
	Reason string `json:"reason"`
}

// remotePredicate asks an HTTP policy endpoint.
type remotePredicate struct {
	url     string
	timeout time.Duration
	policy  retry.Policy
	client  *http.Client
}

func newRemotePredicate(spec RemoteSpec, client *http.Client) *remotePredicate {
	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = defaultRemoteTimeout
	}
	if client == nil {
		client = http.DefaultClient
	}
	policy := retry.DefaultPolicy
	policy.Attempts = spec.Retries + 1
	return &remotePredicate{url: spec.URL, timeout: timeout, policy: policy, client: client}
}

func (p *remotePredicate) Allow(ctx context.Context, b *Boundary, s Subject) (bool, string, error) {
	body, err := json.Marshal(remoteRequest{
		Boundary:     b.ID,
		Capability:   b.Capability,
		CallerID:     s.Caller.ID,
		Roles:        s.Caller.Roles,
		Verified:     s.Caller.Verified,
		SessionID:    s.SessionID,
		SessionAgeS:  s.SessionAge.Seconds(),
		ContentBytes: s.ContentBytes,
	})
	if err != nil {
		return false, "", fmt.Errorf("encode policy request: %w", err)
	}

	var out remoteResponse
	err = retry.Do(ctx, p.policy, func(ctx context.Context) error {
		return p.post(ctx, body, &out)
	})
	if err != nil {
		if errors.Is(err, retry.ErrExhausted) {
			return false, "", model.NewError(model.KindTransient, "boundary.remote", err)
		}
		return false, "", err
	}
	if out.Allow == nil {
		return false, "", errors.New("policy endpoint response has no allow field")
	}
	if !*out.Allow {
		reason := out.Reason
		if reason == "" {
			reason = "denied by remote policy"
		}
		return false, reason, nil
	}
	return true, "", nil
}

func (p *remotePredicate) post(ctx context.Context, body []byte, out *remoteResponse) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return retry.Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		return fmt.Errorf("policy endpoint error: HTTP %d", resp.StatusCode)
	case resp.StatusCode >= 400:
		return retry.Permanent(fmt.Errorf("policy endpoint rejected request: HTTP %d", resp.StatusCode))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxRemoteResponse))
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return retry.Permanent(fmt.Errorf("decode policy response: %w", err))
	}
	return nil
}
