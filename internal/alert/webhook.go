package alert

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/ppiankov/safetygate/internal/retry"
)

const requestTimeout = 5 * time.Second

var (
	httpClient = &http.Client{Timeout: requestTimeout}

	// sendPolicy retries 5xx and transport errors.
	sendPolicy = retry.Policy{Attempts: 3, Base: time.Second, Max: 4 * time.Second}
)

// Send posts an alert event to a webhook endpoint with retry on 5xx.
func Send(ctx context.Context, cfg AlertConfig, event AlertEvent) error {
	body, err := FormatPayload(cfg.Format, event)
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}

	return retry.Do(ctx, sendPolicy, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.URL, bytes.NewReader(body))
		if err != nil {
			return retry.Permanent(fmt.Errorf("create request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")
		for k, v := range cfg.Headers {
			req.Header.Set(k, v)
		}

		resp, err := httpClient.Do(req)
		if err != nil {
			return err
		}
		resp.Body.Close()

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return nil
		case resp.StatusCode >= 400 && resp.StatusCode < 500:
			return retry.Permanent(fmt.Errorf("webhook rejected: HTTP %d", resp.StatusCode))
		default:
			return fmt.Errorf("webhook server error: HTTP %d", resp.StatusCode)
		}
	})
}
