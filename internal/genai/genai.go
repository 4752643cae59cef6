// Package genai provides the language-model gateway for souqbot.
//
// A Generator is a single-shot text-in/text-out call to a provider; the
// Gateway layers the four conversational call shapes on top of it. Rate
// limiting surfaces as *RateLimitError so the dialogue flow can abort the
// turn with a wait hint instead of retrying.
package genai

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// Generator is a single-shot text generation call against one provider.
type Generator interface {
	// Generate returns the model's reply text for one prompt. Rate limiting
	// surfaces as *RateLimitError.
	Generate(ctx context.Context, prompt string) (string, error)
	// Model names the configured model, for audit logging.
	Model() string
}

// HTTPDoer allows tests to fake HTTP transport.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Provider names accepted by NewGenerator.
const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

// Opts holds configuration options for building a Generator.
type Opts struct {
	Provider string
	APIKey   string
	Model    string
	// HTTPClient overrides the transport, used by tests.
	HTTPClient HTTPDoer
}

// Option defines a configuration option for building a Generator.
type Option func(*Opts)

// WithProvider selects the backing provider ("gemini" or "openai").
func WithProvider(provider string) Option {
	return func(o *Opts) { o.Provider = provider }
}

// WithAPIKey sets the provider API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithModel overrides the provider's default model name.
func WithModel(model string) Option {
	return func(o *Opts) { o.Model = model }
}

// WithHTTPClient overrides the HTTP transport.
func WithHTTPClient(client HTTPDoer) Option {
	return func(o *Opts) { o.HTTPClient = client }
}

// NewGenerator builds the configured provider backend. Gemini is the
// default.
func NewGenerator(opts ...Option) (Generator, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	switch cfg.Provider {
	case "", ProviderGemini:
		return NewGeminiGenerator(cfg)
	case ProviderOpenAI:
		return NewOpenAIGenerator(cfg)
	default:
		return nil, fmt.Errorf("unknown genai provider %q", cfg.Provider)
	}
}

// RateLimitError reports that the provider refused the call due to rate
// limiting. RetryAfter is zero when the provider supplied no hint.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
	}
	return "rate limited"
}
