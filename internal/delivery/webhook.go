// Crashbeacon - Crash Telemetry and Error Reporting for CMS Plugins
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crashbeacon

package delivery

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/crashbeacon/internal/models"
)

// DefaultWebhookTimeout bounds the single outbound delivery call.
const DefaultWebhookTimeout = 10 * time.Second

// WebhookSink posts the payload as JSON to a maintainer-operated
// endpoint. One attempt, no retry: retry policy, if any, belongs to the
// receiving side.
type WebhookSink struct {
	url    string
	client *http.Client
}

// NewWebhookSink creates a webhook sink. A nil client uses a default
// with DefaultWebhookTimeout.
func NewWebhookSink(url string, client *http.Client) *WebhookSink {
	if client == nil {
		client = &http.Client{Timeout: DefaultWebhookTimeout}
	}
	return &WebhookSink{url: url, client: client}
}

// Send posts the payload. Non-2xx responses are delivery failures.
func (s *WebhookSink) Send(ctx context.Context, payload *models.Payload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building delivery request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "crashbeacon")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("delivering report: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("delivery endpoint returned %s", resp.Status)
	}
	return nil
}
