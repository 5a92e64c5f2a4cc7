package sinks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// WebhookConfig configures the generic webhook sink.
type WebhookConfig struct {
	URL string
	// Method defaults to POST. Only POST and PUT are accepted.
	Method string
	// Headers are added to every request.
	Headers map[string]string
}

// WebhookSink delivers the raw AlertMessage JSON to an arbitrary HTTP
// endpoint.
type WebhookSink struct {
	cfg    WebhookConfig
	client *http.Client
}

// NewWebhookSink creates the sink. An unsupported method is an error.
func NewWebhookSink(cfg WebhookConfig) (*WebhookSink, error) {
	switch cfg.Method {
	case "":
		cfg.Method = http.MethodPost
	case http.MethodPost, http.MethodPut:
	default:
		return nil, fmt.Errorf("unsupported webhook method %q", cfg.Method)
	}
	return &WebhookSink{cfg: cfg, client: newAlertHTTPClient()}, nil
}

func (s *WebhookSink) Name() string { return "webhook" }

// Send posts the alert payload as-is.
func (s *WebhookSink) Send(ctx context.Context, msg *AlertMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, s.cfg.Method, s.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range s.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned %d", resp.StatusCode)
	}
	return nil
}
