package email

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const defaultEndpoint = "https://api.resend.com/emails"

// Sender delivers one HTML email
type Sender interface {
	Send(ctx context.Context, to, subject, html string) error
}

// APISender delivers mail through an HTTP mail API
type APISender struct {
	endpoint string
	apiKey   string
	from     string
	client   *http.Client
	logger   *zap.Logger
}

// NewAPISender creates a sender against the default mail API endpoint.
// from is the full sender address, optionally with a display name.
func NewAPISender(apiKey, from string, logger *zap.Logger) *APISender {
	return &APISender{
		endpoint: defaultEndpoint,
		apiKey:   apiKey,
		from:     from,
		client:   &http.Client{Timeout: 15 * time.Second},
		logger:   logger,
	}
}

type sendRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
}

// Send posts the message to the mail API
func (s *APISender) Send(ctx context.Context, to, subject, html string) error {
	body, err := json.Marshal(sendRequest{
		From:    s.from,
		To:      []string{to},
		Subject: subject,
		HTML:    html,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal mail request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build mail request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("mail API request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("mail API returned %d: %s", resp.StatusCode, detail)
	}

	s.logger.Info("Email sent", zap.String("to", to), zap.String("subject", subject))
	return nil
}

// NoopSender logs and drops every message. Used when no mail API key is
// configured so digest runs stay harmless in development.
type NoopSender struct {
	logger *zap.Logger
}

// NewNoopSender creates a sender that delivers nothing
func NewNoopSender(logger *zap.Logger) *NoopSender {
	return &NoopSender{logger: logger}
}

// Send logs the message instead of delivering it
func (s *NoopSender) Send(ctx context.Context, to, subject, html string) error {
	s.logger.Info("Email delivery disabled, dropping message",
		zap.String("to", to),
		zap.String("subject", subject))
	return nil
}
