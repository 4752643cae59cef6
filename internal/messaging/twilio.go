package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

// TwilioSender sends WhatsApp messages through the Twilio API.
type TwilioSender struct {
	client *twilio.RestClient
	from   string // WhatsApp number in "whatsapp:+1234567890" format
}

var _ Sender = (*TwilioSender)(nil)

// NewTwilioSender builds the Twilio backend from resolved options.
func NewTwilioSender(cfg Opts) (*TwilioSender, error) {
	slog.Debug("Twilio sender config loaded",
		"AccountSID_set", cfg.TwilioAccountSID != "",
		"AuthToken_set", cfg.TwilioAuthToken != "",
		"From_set", cfg.TwilioFrom != "")

	if cfg.TwilioAccountSID == "" || cfg.TwilioAuthToken == "" {
		return nil, fmt.Errorf("account SID and auth token must be provided")
	}
	if cfg.TwilioFrom == "" {
		return nil, fmt.Errorf("twilio from number must be provided")
	}

	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.TwilioAccountSID,
		Password: cfg.TwilioAuthToken,
	})
	return &TwilioSender{client: client, from: cfg.TwilioFrom}, nil
}

// Send sends one WhatsApp message via the Twilio API. The created message
// resource is returned as JSON for the caller to log.
func (s *TwilioSender) Send(_ context.Context, to string, body string) (string, error) {
	canonicalTo, err := ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("TwilioSender recipient validation failed", "error", err, "to", to)
		return "", err
	}
	if body == "" {
		return "", fmt.Errorf("message body cannot be empty")
	}

	params := &twilioApi.CreateMessageParams{}
	params.SetTo("whatsapp:+" + canonicalTo)
	params.SetFrom(s.from)
	params.SetBody(body)

	msg, err := s.client.Api.CreateMessage(params)
	if err != nil {
		slog.Error("Twilio send failed", "error", err, "to", canonicalTo)
		return "", fmt.Errorf("failed to send message to %s: %w", canonicalTo, err)
	}

	raw, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("marshal twilio response: %w", err)
	}
	slog.Debug("Twilio message sent", "to", canonicalTo)
	return string(raw), nil
}
