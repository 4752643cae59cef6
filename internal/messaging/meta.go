package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const metaEndpointFmt = "https://graph.facebook.com/v17.0/%s/messages"

// MetaSender sends text messages through the Meta WhatsApp Cloud API.
type MetaSender struct {
	accessToken string
	endpoint    string
	httpClient  HTTPDoer
}

var _ Sender = (*MetaSender)(nil)

// NewMetaSender builds the Cloud API backend from resolved options.
func NewMetaSender(cfg Opts) (*MetaSender, error) {
	if cfg.PhoneNumberID == "" {
		return nil, fmt.Errorf("PHONE_NUMBER_ID not set")
	}
	if cfg.AccessToken == "" {
		return nil, fmt.Errorf("WHATSAPP_TOKEN not set")
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &MetaSender{
		accessToken: cfg.AccessToken,
		endpoint:    fmt.Sprintf(metaEndpointFmt, cfg.PhoneNumberID),
		httpClient:  client,
	}, nil
}

type metaMessageRequest struct {
	MessagingProduct string   `json:"messaging_product"`
	To               string   `json:"to"`
	Type             string   `json:"type"`
	Text             metaText `json:"text"`
}

type metaText struct {
	Body string `json:"body"`
}

// Send performs one Graph API messages call and returns the raw response
// body for the caller to log.
func (s *MetaSender) Send(ctx context.Context, to string, body string) (string, error) {
	canonicalTo, err := ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("MetaSender recipient validation failed", "error", err, "to", to)
		return "", err
	}
	if body == "" {
		return "", fmt.Errorf("message body cannot be empty")
	}

	payload, err := json.Marshal(metaMessageRequest{
		MessagingProduct: "whatsapp",
		To:               canonicalTo,
		Type:             "text",
		Text:             metaText{Body: body},
	})
	if err != nil {
		return "", fmt.Errorf("marshal send request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build send request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		slog.Error("MetaSender request failed", "error", err, "to", canonicalTo)
		return "", fmt.Errorf("whatsapp send failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read send response: %w", err)
	}
	rawText := strings.TrimSpace(string(raw))

	slog.Debug("WhatsApp send response", "status", resp.StatusCode, "to", canonicalTo)
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return rawText, fmt.Errorf("whatsapp send status %d: %s", resp.StatusCode, rawText)
	}
	return rawText, nil
}
