// Package webhook provides an action that POSTs a JSON payload to an external
// URL, the bridge from workflow runs to email senders, task boards and other
// downstream CRM integrations.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const defaultTimeoutSeconds = 30

var (
	// ErrWebhookURLInvalid is returned when the webhook URL is missing or malformed.
	ErrWebhookURLInvalid = errors.New("invalid webhook url")
	// ErrWebhookServerError is returned when the receiver answers with a 5xx status.
	ErrWebhookServerError = errors.New("webhook receiver returned server error")
)

// Action delivers the run payload to a webhook receiver with retry on 5xx.
type Action struct {
	URL     string
	Method  string
	Headers map[string]string
	Body    string
	Timeout time.Duration
	Retry   RetryConfig
}

// RetryConfig defines retry behavior for webhook deliveries.
type RetryConfig struct {
	Attempts int
	Delay    time.Duration
}

// NewAction creates a webhook action from rendered configuration.
func NewAction(config map[string]any) (*Action, error) {
	url, ok := config["url"].(string)
	if !ok || !strings.HasPrefix(url, "http") {
		return nil, fmt.Errorf("missing or invalid 'url' in configuration: %w", ErrWebhookURLInvalid)
	}

	method, _ := config["method"].(string)
	if method == "" {
		method = http.MethodPost
	}

	body, _ := config["body"].(string)

	headers := make(map[string]string)

	if raw, exists := config["headers"]; exists {
		if headersMap, ok := raw.(map[string]any); ok {
			for k, v := range headersMap {
				if strVal, ok := v.(string); ok {
					headers[k] = strVal
				}
			}
		}
	}

	retry := RetryConfig{Attempts: 1}
	if raw, exists := config["retry"]; exists {
		retry = parseRetryConfig(raw)
	}

	return &Action{
		URL:     url,
		Method:  strings.ToUpper(method),
		Headers: headers,
		Body:    body,
		Timeout: defaultTimeoutSeconds * time.Second,
		Retry:   retry,
	}, nil
}

func parseRetryConfig(raw any) RetryConfig {
	retry := RetryConfig{Attempts: 1}

	retryMap, ok := raw.(map[string]any)
	if !ok {
		return retry
	}

	if attempts, ok := retryMap["attempts"].(float64); ok && attempts >= 1 {
		retry.Attempts = int(attempts)
	}

	if delay, ok := retryMap["delay"].(float64); ok {
		retry.Delay = time.Duration(delay) * time.Millisecond
	}

	return retry
}

// Execute delivers the payload, retrying transport failures and 5xx answers.
func (a *Action) Execute(ctx context.Context, runContext map[string]any, logger *slog.Logger) (any, error) {
	logger = logger.With("action_type", "webhook", "url", a.URL)
	logger.InfoContext(ctx, "Delivering webhook")

	var (
		lastErr error
		resp    *http.Response
	)

	for attempt := 1; attempt <= a.Retry.Attempts; attempt++ {
		if attempt > 1 {
			logger.InfoContext(ctx, "Webhook retry", "attempt", attempt, "of", a.Retry.Attempts)
			time.Sleep(a.Retry.Delay)
		}

		req, err := a.buildRequest(ctx, runContext)
		if err != nil {
			return nil, err
		}

		client := &http.Client{Timeout: a.Timeout}

		resp, err = client.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("webhook delivery failed: %w", err)

			continue
		}

		if resp.StatusCode >= http.StatusInternalServerError && attempt < a.Retry.Attempts {
			_ = resp.Body.Close()
			lastErr = fmt.Errorf("status %d: %w", resp.StatusCode, ErrWebhookServerError)

			continue
		}

		break
	}

	if resp == nil {
		return nil, fmt.Errorf("all delivery attempts failed, last error: %w", lastErr)
	}

	return a.processResponse(ctx, resp, logger)
}

func (a *Action) buildRequest(ctx context.Context, runContext map[string]any) (*http.Request, error) {
	body := a.Body
	if body == "" {
		// Default payload is the whole run context.
		payload, err := json.Marshal(runContext)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal run context: %w", err)
		}

		body = string(payload)
	}

	req, err := http.NewRequestWithContext(ctx, a.Method, a.URL, strings.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create webhook request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	for key, value := range a.Headers {
		req.Header.Set(key, value)
	}

	return req, nil
}

func (a *Action) processResponse(ctx context.Context, resp *http.Response, logger *slog.Logger) (any, error) {
	defer func() {
		_ = resp.Body.Close()
	}()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read webhook response: %w", err)
	}

	var body any
	if err := json.Unmarshal(bodyBytes, &body); err != nil {
		body = string(bodyBytes)
	}

	logger.InfoContext(ctx, "Webhook delivered", "status_code", resp.StatusCode)

	return map[string]any{
		"status_code": resp.StatusCode,
		"body":        body,
	}, nil
}
