// Package store provides the chat persistence backends for souqbot.
//
// It persists conversations, messages, language-model call logs and audit
// events in SQLite or PostgreSQL, and offers an in-memory store for tests.
package store

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/bww-labs/souqbot/internal/models"
)

// Field truncation bounds for append-only audit rows.
const (
	// MaxAICallFieldLen bounds prompt/response text stored per model call.
	MaxAICallFieldLen = 30000
	// MaxEventFieldLen bounds string leaves inside event payloads.
	MaxEventFieldLen = 2000
	// MaxEventListLen caps list lengths inside event payloads.
	MaxEventListLen = 200
	// DefaultConversationTTL is the inactivity window after which an open
	// conversation is closed and a fresh one created.
	DefaultConversationTTL = 24 * time.Hour
)

// ChatStore is the conversation persistence interface consumed by the
// dialogue orchestrator and the debug endpoints.
type ChatStore interface {
	// OpenOrCreateConversation returns the open conversation id for a user,
	// closing a stale one (last activity older than the TTL) and creating a
	// new conversation as needed.
	OpenOrCreateConversation(userNumber string) (int64, error)

	// GetOpenConversation returns the open conversation for a user, or nil.
	GetOpenConversation(userNumber string) (*models.Conversation, error)

	// GetState loads the conversation state blob.
	GetState(conversationID int64) (models.ConversationState, error)

	// SetState stores the conversation state blob (last-write-wins) and
	// refreshes last activity.
	SetState(conversationID int64, state models.ConversationState) error

	// AppendMessage writes one immutable message row and refreshes the
	// conversation's last activity.
	AppendMessage(conversationID int64, role models.MessageRole, direction models.MessageDirection, text, providerMessageID string) (int64, error)

	// MessageIDSeen reports whether a provider message id was already
	// recorded. Empty ids are never considered seen.
	MessageIDSeen(providerMessageID string) (bool, error)

	// RecentMessages returns up to limit messages in chronological order.
	RecentMessages(conversationID int64, limit int) ([]models.StoredMessage, error)

	// LogAICall appends a language-model audit row, truncating prompt and
	// response to MaxAICallFieldLen.
	LogAICall(conversationID int64, correlationID, model, prompt, responseText string) error

	// LastAICall returns the most recent model call for a conversation, or nil.
	LastAICall(conversationID int64) (*models.AICallRecord, error)

	// LogEvent appends an audit event. conversationID may be 0 for events
	// not tied to a conversation. Payload string leaves are truncated.
	LogEvent(conversationID int64, correlationID, eventType string, payload map[string]any) error

	// EventsByCorrelation returns all events for one webhook delivery in
	// insertion order.
	EventsByCorrelation(correlationID string, limit int) ([]models.EventRecord, error)

	// CloseExpiredConversations closes every open conversation whose last
	// activity is older than the TTL and returns the number closed.
	// OpenOrCreateConversation already ignores stale conversations; this is
	// the background sweep that retires them.
	CloseExpiredConversations() (int64, error)

	// Close releases the underlying resources.
	Close() error
}

// Opts holds configuration options for store backends.
type Opts struct {
	DSN string
	TTL time.Duration
}

// Option defines a configuration option for store backends.
type Option func(*Opts)

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithConversationTTL overrides the conversation inactivity TTL.
func WithConversationTTL(ttl time.Duration) Option {
	return func(o *Opts) { o.TTL = ttl }
}

// NewStore builds the backend matching the configured DSN type.
func NewStore(opts ...Option) (ChatStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if DetectDSNType(cfg.DSN) == "postgres" {
		return NewPostgresStore(opts...)
	}
	return NewSQLiteStore(opts...)
}

// DetectDSNType determines whether a DSN refers to PostgreSQL or SQLite.
// PostgreSQL DSNs use postgres:// URLs or key=value connection strings;
// anything else is treated as a SQLite file path.
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") ||
		strings.Contains(dsn, "host=") {
		return "postgres"
	}
	return "sqlite"
}

// truncateText bounds a string to max runes, marking the cut with an ellipsis.
func truncateText(s string, max int) string {
	if max <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-1]) + "…"
}

// sanitizePayload truncates string leaves and caps list lengths so audit rows
// stay bounded regardless of what the caller logs.
func sanitizePayload(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case bool, int, int64, float64:
		return t
	case string:
		return truncateText(t, MaxEventFieldLen)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, vv := range t {
			out[k] = sanitizePayload(vv)
		}
		return out
	case []byte:
		return truncateText(string(t), MaxEventFieldLen)
	default:
		// Typed slices ([]int64 candidate ids, []string keywords) must stay
		// JSON lists, capped like any other list.
		rv := reflect.ValueOf(v)
		if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
			n := rv.Len()
			if n > MaxEventListLen {
				n = MaxEventListLen
			}
			out := make([]any, n)
			for i := 0; i < n; i++ {
				out[i] = sanitizePayload(rv.Index(i).Interface())
			}
			return out
		}
		return truncateText(fmt.Sprint(t), MaxEventFieldLen)
	}
}

func sanitizeEventPayload(payload map[string]any) map[string]any {
	if payload == nil {
		return map[string]any{}
	}
	return sanitizePayload(payload).(map[string]any)
}
