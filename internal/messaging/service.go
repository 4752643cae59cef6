// Package messaging provides the outbound WhatsApp transport for souqbot.
//
// A Sender performs exactly one send per call with no retry; the raw provider
// response is returned so the caller can log it. Three backends exist: the
// Meta WhatsApp Cloud API (primary), Twilio, and a direct whatsmeow account.
package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"sync"
)

// Backend names accepted by NewSender.
const (
	BackendMeta      = "meta"
	BackendTwilio    = "twilio"
	BackendWhatsmeow = "whatsmeow"
)

// phoneNumberRegex matches everything that is not a digit.
var phoneNumberRegex = regexp.MustCompile(`\D`)

// Sender delivers one outbound text message. Failures are not retried here;
// the raw provider response is returned for the caller to log.
type Sender interface {
	Send(ctx context.Context, to string, body string) (string, error)
}

// HTTPDoer allows tests to fake HTTP transport.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Opts holds configuration options for building a Sender.
type Opts struct {
	Backend string

	// Meta Cloud API.
	PhoneNumberID string
	AccessToken   string

	// Twilio.
	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFrom       string

	// Whatsmeow.
	WhatsmeowDBDSN string
	QRPath         string
	NumericCode    bool

	// HTTPClient overrides the transport, used by tests.
	HTTPClient HTTPDoer
}

// Option defines a configuration option for building a Sender.
type Option func(*Opts)

// WithBackend selects the transport backend ("meta", "twilio" or "whatsmeow").
func WithBackend(backend string) Option {
	return func(o *Opts) { o.Backend = backend }
}

// WithPhoneNumberID sets the Meta Cloud API phone number id.
func WithPhoneNumberID(id string) Option {
	return func(o *Opts) { o.PhoneNumberID = id }
}

// WithAccessToken sets the Meta Cloud API access token.
func WithAccessToken(token string) Option {
	return func(o *Opts) { o.AccessToken = token }
}

// WithTwilioCredentials sets the Twilio account SID, auth token and the
// WhatsApp-enabled from number.
func WithTwilioCredentials(sid, token, from string) Option {
	return func(o *Opts) {
		o.TwilioAccountSID = sid
		o.TwilioAuthToken = token
		o.TwilioFrom = from
	}
}

// WithWhatsmeowDBDSN sets the whatsmeow session database connection string.
func WithWhatsmeowDBDSN(dsn string) Option {
	return func(o *Opts) { o.WhatsmeowDBDSN = dsn }
}

// WithQRCodeOutput instructs the whatsmeow backend to write the login QR
// code to the specified path.
func WithQRCodeOutput(path string) Option {
	return func(o *Opts) { o.QRPath = path }
}

// WithNumericCode instructs the whatsmeow backend to print a numeric login
// code instead of a QR code.
func WithNumericCode() Option {
	return func(o *Opts) { o.NumericCode = true }
}

// WithHTTPClient overrides the HTTP transport.
func WithHTTPClient(client HTTPDoer) Option {
	return func(o *Opts) { o.HTTPClient = client }
}

// NewSender builds the configured transport backend. Meta is the default.
func NewSender(opts ...Option) (Sender, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSender options set", "backend", cfg.Backend)
	switch cfg.Backend {
	case "", BackendMeta:
		return NewMetaSender(cfg)
	case BackendTwilio:
		return NewTwilioSender(cfg)
	case BackendWhatsmeow:
		return NewWhatsmeowSender(cfg)
	default:
		return nil, fmt.Errorf("unknown messaging backend %q", cfg.Backend)
	}
}

// ValidateAndCanonicalizeRecipient strips all non-digit characters and
// validates the result has at least 6 digits.
func ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	if recipient == "" {
		return "", fmt.Errorf("recipient cannot be empty")
	}

	canonical := phoneNumberRegex.ReplaceAllString(recipient, "")
	if canonical == "" {
		return "", fmt.Errorf("invalid phone number: no digits found in recipient %q", recipient)
	}
	if len(canonical) < 6 {
		return "", fmt.Errorf("invalid phone number: %q is too short (minimum 6 digits required)", canonical)
	}

	if canonical != recipient {
		slog.Debug("Canonicalized recipient", "original", recipient, "canonical", canonical)
	}
	return canonical, nil
}

// SentMessage is one recorded mock delivery.
type SentMessage struct {
	To   string
	Body string
}

// MockSender records sends for tests.
type MockSender struct {
	mu       sync.Mutex
	Sent     []SentMessage
	Err      error
	Response string
}

// NewMockSender creates a mock sender returning the given raw response.
func NewMockSender() *MockSender {
	return &MockSender{Response: `{"messages":[{"id":"mock"}]}`}
}

// Send records the message and returns the canned response.
func (m *MockSender) Send(_ context.Context, to string, body string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return "", m.Err
	}
	m.Sent = append(m.Sent, SentMessage{To: to, Body: body})
	return m.Response, nil
}

// LastSent returns the most recent recorded message, nil when none.
func (m *MockSender) LastSent() *SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Sent) == 0 {
		return nil
	}
	last := m.Sent[len(m.Sent)-1]
	return &last
}
