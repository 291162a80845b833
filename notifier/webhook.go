package notifier

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/aegistrust/proxy/breakglass"
)

// WebhookConfig configures a WebhookNotifier, field-for-field identical
// to the teacher's notification.WebhookConfig.
type WebhookConfig struct {
	// URL is the endpoint to POST break-glass events to.
	URL string

	// TimeoutSeconds is the HTTP client timeout. Default: 10.
	TimeoutSeconds int

	// MaxRetries is the maximum retry count on 5xx/network errors. Default: 3.
	MaxRetries int

	// RetryDelaySeconds is the base exponential-backoff delay. Default: 1.
	RetryDelaySeconds int
}

// WebhookNotifier posts break-glass events to an HTTP endpoint, retrying
// on 5xx and network errors with exponential backoff (teacher's
// WebhookBreakGlassNotifier, unchanged retry shape).
type WebhookNotifier struct {
	url        string
	client     *http.Client
	maxRetries int
	retryDelay time.Duration
}

// NewWebhookNotifier builds a WebhookNotifier from config.
func NewWebhookNotifier(config WebhookConfig) (*WebhookNotifier, error) {
	if config.URL == "" {
		return nil, errors.New("webhook URL is required")
	}
	if _, err := url.ParseRequestURI(config.URL); err != nil {
		return nil, fmt.Errorf("invalid webhook URL: %w", err)
	}

	timeout := config.TimeoutSeconds
	if timeout == 0 {
		timeout = 10
	}
	maxRetries := config.MaxRetries
	if maxRetries == 0 {
		maxRetries = 3
	}
	retryDelay := config.RetryDelaySeconds
	if retryDelay == 0 {
		retryDelay = 1
	}

	return &WebhookNotifier{
		url:        config.URL,
		client:     &http.Client{Timeout: time.Duration(timeout) * time.Second},
		maxRetries: maxRetries,
		retryDelay: time.Duration(retryDelay) * time.Second,
	}, nil
}

// NotifyBreakGlass POSTs the event as JSON, retrying on 5xx/network
// errors with exponential backoff up to maxRetries.
func (w *WebhookNotifier) NotifyBreakGlass(ctx context.Context, advocateID string, event *breakglass.Event) error {
	body, err := marshalPayload(advocateID, event)
	if err != nil {
		return fmt.Errorf("marshal break-glass payload: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= w.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if attempt > 0 {
			delay := w.retryDelay * (1 << (attempt - 1))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Aegis-Event", string(event.Trigger))

		resp, err := w.client.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("request failed: %w", err)
			continue
		}
		resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}
		if resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("server error: status %d", resp.StatusCode)
			continue
		}
		return fmt.Errorf("webhook request failed: status %d", resp.StatusCode)
	}

	return fmt.Errorf("webhook delivery failed after %d retries: %w", w.maxRetries, lastErr)
}
