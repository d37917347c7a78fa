// Package mailer talks to the transactional email provider. One HTTP POST
// per send, bearer-token auth, bounded by a client timeout so a hung
// provider surfaces as a delivery failure rather than a stuck dispatch.
package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"taskmail/internal/config"
	"taskmail/internal/types"

	"go.uber.org/zap"
)

// maxErrorBody caps how much of a provider error response is retained.
const maxErrorBody = 2048

// Sender delivers rendered notifications. Tests swap in fakes.
type Sender interface {
	Send(ctx context.Context, to, subject string, content types.RenderedContent) (string, error)
}

// Mailer implements Sender against an HTTP provider endpoint.
type Mailer struct {
	endpoint string
	apiKey   string
	from     string
	client   *http.Client
	logger   *zap.Logger
}

// sendRequest is the JSON body posted to the provider.
type sendRequest struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	HTML    string `json:"html,omitempty"`
	Text    string `json:"text,omitempty"`
}

// sendResponse maps the provider's success body.
type sendResponse struct {
	ID string `json:"id"`
}

// New creates a mailer from configuration.
func New(cfg config.MailerConfig, logger *zap.Logger) *Mailer {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	return &Mailer{
		endpoint: cfg.Endpoint,
		apiKey:   cfg.APIKey,
		from:     cfg.From,
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				IdleConnTimeout:     90 * time.Second,
				MaxIdleConnsPerHost: 10,
			},
		},
		logger: logger,
	}
}

// Send posts one email and returns the provider's message id. Any non-2xx
// response or transport error becomes a DeliveryError carrying the
// provider's message.
func (m *Mailer) Send(ctx context.Context, to, subject string, content types.RenderedContent) (string, error) {
	body, err := json.Marshal(sendRequest{
		From:    m.from,
		To:      to,
		Subject: subject,
		HTML:    content.HTML,
		Text:    content.Text,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal send request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+m.apiKey)

	resp, err := m.client.Do(req)
	if err != nil {
		return "", &types.DeliveryError{Message: "provider request failed", Err: err}
	}
	defer func(body io.ReadCloser) {
		_ = body.Close()
	}(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &types.DeliveryError{
			StatusCode: resp.StatusCode,
			Message:    readErrorBody(resp.Body),
		}
	}

	var result sendResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		// The send succeeded; a malformed success body is only a
		// diagnostics loss.
		m.logger.Warn("Failed to decode provider response", zap.Error(err))
		return "", nil
	}

	return result.ID, nil
}

// readErrorBody extracts a usable failure reason from the provider's
// error response.
func readErrorBody(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, maxErrorBody))
	if err != nil || len(data) == 0 {
		return "no error details provided"
	}

	// Providers commonly wrap the message in {"message": "..."}
	var parsed struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(data, &parsed); err == nil {
		if parsed.Message != "" {
			return parsed.Message
		}
		if parsed.Error != "" {
			return parsed.Error
		}
	}

	return strings.TrimSpace(string(data))
}
