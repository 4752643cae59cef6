// Package store provides storage backends for souqbot.
//
// This file implements the PostgreSQL-backed chat store.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/bww-labs/souqbot/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants.
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database.
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool.
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused.
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// PostgresStore is a ChatStore backed by PostgreSQL.
type PostgresStore struct {
	db  *sql.DB
	ttl time.Duration
}

// Compile-time check that PostgresStore implements ChatStore.
var _ ChatStore = (*PostgresStore)(nil)

// NewPostgresStore creates a new Postgres chat store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewPostgresStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}
	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}

	slog.Debug("Running Postgres migrations")
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultConversationTTL
	}
	return &PostgresStore{db: db, ttl: ttl}, nil
}

// OpenOrCreateConversation returns the open conversation for a user, closing
// a stale one first.
func (s *PostgresStore) OpenOrCreateConversation(userNumber string) (int64, error) {
	if userNumber == "" {
		return 0, fmt.Errorf("user number is required")
	}

	var id int64
	var lastActivity time.Time
	err := s.db.QueryRow(
		`SELECT id, last_activity_at FROM chat_conversations WHERE user_number = $1 AND status = $2 LIMIT 1`,
		userNumber, models.ConversationStatusOpen,
	).Scan(&id, &lastActivity)
	switch {
	case err == sql.ErrNoRows:
		// fall through to create
	case err != nil:
		slog.Error("PostgresStore OpenOrCreateConversation query failed", "error", err, "user", userNumber)
		return 0, fmt.Errorf("open conversation lookup failed: %w", err)
	default:
		if time.Since(lastActivity) <= s.ttl {
			return id, nil
		}
		if _, err := s.db.Exec(
			`UPDATE chat_conversations SET status = $1 WHERE id = $2`,
			models.ConversationStatusClosed, id,
		); err != nil {
			slog.Error("PostgresStore failed to close stale conversation", "error", err, "conversationID", id)
			return 0, fmt.Errorf("close stale conversation failed: %w", err)
		}
		slog.Info("PostgresStore closed stale conversation", "conversationID", id, "user", userNumber)
	}

	var newID int64
	err = s.db.QueryRow(
		`INSERT INTO chat_conversations (user_number, status, state, last_activity_at)
		 VALUES ($1, $2, '{}'::jsonb, now()) RETURNING id`,
		userNumber, models.ConversationStatusOpen,
	).Scan(&newID)
	if err != nil {
		slog.Error("PostgresStore conversation insert failed", "error", err, "user", userNumber)
		return 0, fmt.Errorf("create conversation failed: %w", err)
	}
	slog.Debug("PostgresStore conversation created", "conversationID", newID, "user", userNumber)
	return newID, nil
}

// GetOpenConversation returns the open conversation for a user, or nil.
func (s *PostgresStore) GetOpenConversation(userNumber string) (*models.Conversation, error) {
	if userNumber == "" {
		return nil, nil
	}
	var c models.Conversation
	var stateJSON []byte
	err := s.db.QueryRow(
		`SELECT id, user_number, status, state, last_activity_at, created_at
		 FROM chat_conversations WHERE user_number = $1 AND status = $2 ORDER BY id DESC LIMIT 1`,
		userNumber, models.ConversationStatusOpen,
	).Scan(&c.ID, &c.UserNumber, &c.Status, &stateJSON, &c.LastActivityAt, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetOpenConversation failed", "error", err, "user", userNumber)
		return nil, fmt.Errorf("get open conversation failed: %w", err)
	}
	if err := json.Unmarshal(stateJSON, &c.State); err != nil {
		slog.Error("PostgresStore conversation state unmarshal failed", "error", err, "conversationID", c.ID)
		c.State = models.ConversationState{}
	}
	return &c, nil
}

// GetState loads the conversation state blob.
func (s *PostgresStore) GetState(conversationID int64) (models.ConversationState, error) {
	var stateJSON []byte
	err := s.db.QueryRow(
		`SELECT state FROM chat_conversations WHERE id = $1 LIMIT 1`, conversationID,
	).Scan(&stateJSON)
	if err == sql.ErrNoRows {
		return models.ConversationState{}, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetState failed", "error", err, "conversationID", conversationID)
		return models.ConversationState{}, fmt.Errorf("get state failed: %w", err)
	}
	var st models.ConversationState
	if err := json.Unmarshal(stateJSON, &st); err != nil {
		slog.Error("PostgresStore state unmarshal failed", "error", err, "conversationID", conversationID)
		return models.ConversationState{}, nil
	}
	return st, nil
}

// SetState stores the conversation state blob and refreshes last activity.
func (s *PostgresStore) SetState(conversationID int64, state models.ConversationState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal state failed: %w", err)
	}
	_, err = s.db.Exec(
		`UPDATE chat_conversations SET state = $1::jsonb, last_activity_at = now() WHERE id = $2`,
		string(data), conversationID,
	)
	if err != nil {
		slog.Error("PostgresStore SetState failed", "error", err, "conversationID", conversationID)
		return fmt.Errorf("set state failed: %w", err)
	}
	return nil
}

// AppendMessage writes one message row and refreshes last activity.
func (s *PostgresStore) AppendMessage(conversationID int64, role models.MessageRole, direction models.MessageDirection, text, providerMessageID string) (int64, error) {
	if text == "" {
		return 0, fmt.Errorf("message text is required")
	}
	var id int64
	err := s.db.QueryRow(
		`INSERT INTO chat_messages (conversation_id, role, direction, text, provider_message_id)
		 VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		conversationID, role, direction, text, nilIfEmpty(providerMessageID),
	).Scan(&id)
	if err != nil {
		slog.Error("PostgresStore AppendMessage failed", "error", err, "conversationID", conversationID)
		return 0, fmt.Errorf("append message failed: %w", err)
	}
	if _, err := s.db.Exec(
		`UPDATE chat_conversations SET last_activity_at = now() WHERE id = $1`, conversationID,
	); err != nil {
		slog.Error("PostgresStore touch conversation failed", "error", err, "conversationID", conversationID)
	}
	return id, nil
}

// MessageIDSeen reports whether a provider message id was already recorded.
func (s *PostgresStore) MessageIDSeen(providerMessageID string) (bool, error) {
	if providerMessageID == "" {
		return false, nil
	}
	var one int
	err := s.db.QueryRow(
		`SELECT 1 FROM chat_messages WHERE provider_message_id = $1 LIMIT 1`, providerMessageID,
	).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		slog.Error("PostgresStore MessageIDSeen failed", "error", err)
		return false, fmt.Errorf("dedup check failed: %w", err)
	}
	return true, nil
}

// RecentMessages returns up to limit messages in chronological order.
func (s *PostgresStore) RecentMessages(conversationID int64, limit int) ([]models.StoredMessage, error) {
	limit = clampLimit(limit, 20, 100)
	rows, err := s.db.Query(
		`SELECT id, conversation_id, role, direction, text, provider_message_id, created_at
		 FROM chat_messages WHERE conversation_id = $1 ORDER BY id DESC LIMIT $2`,
		conversationID, limit,
	)
	if err != nil {
		slog.Error("PostgresStore RecentMessages query failed", "error", err, "conversationID", conversationID)
		return nil, fmt.Errorf("recent messages query failed: %w", err)
	}
	defer rows.Close()

	msgs, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}
	reverseMessages(msgs)
	return msgs, nil
}

// LogAICall appends a language-model audit row with bounded field lengths.
func (s *PostgresStore) LogAICall(conversationID int64, correlationID, model, prompt, responseText string) error {
	_, err := s.db.Exec(
		`INSERT INTO ai_calls (conversation_id, correlation_id, model, prompt, response_text)
		 VALUES ($1, $2, $3, $4, $5)`,
		conversationID, correlationID, model,
		truncateText(prompt, MaxAICallFieldLen), truncateText(responseText, MaxAICallFieldLen),
	)
	if err != nil {
		slog.Error("PostgresStore LogAICall failed", "error", err, "conversationID", conversationID)
		return fmt.Errorf("log ai call failed: %w", err)
	}
	return nil
}

// LastAICall returns the most recent model call for a conversation, or nil.
func (s *PostgresStore) LastAICall(conversationID int64) (*models.AICallRecord, error) {
	var rec models.AICallRecord
	err := s.db.QueryRow(
		`SELECT id, conversation_id, correlation_id, model, prompt, response_text, created_at
		 FROM ai_calls WHERE conversation_id = $1 ORDER BY id DESC LIMIT 1`,
		conversationID,
	).Scan(&rec.ID, &rec.ConversationID, &rec.CorrelationID, &rec.Model, &rec.Prompt, &rec.ResponseText, &rec.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore LastAICall failed", "error", err, "conversationID", conversationID)
		return nil, fmt.Errorf("last ai call failed: %w", err)
	}
	return &rec, nil
}

// LogEvent appends an audit event with a sanitized payload.
func (s *PostgresStore) LogEvent(conversationID int64, correlationID, eventType string, payload map[string]any) error {
	data, err := json.Marshal(sanitizeEventPayload(payload))
	if err != nil {
		return fmt.Errorf("marshal event payload failed: %w", err)
	}
	var convID any
	if conversationID != 0 {
		convID = conversationID
	}
	_, err = s.db.Exec(
		`INSERT INTO chat_events (conversation_id, correlation_id, event_type, payload)
		 VALUES ($1, $2, $3, $4::jsonb)`,
		convID, correlationID, eventType, string(data),
	)
	if err != nil {
		slog.Error("PostgresStore LogEvent failed", "error", err, "eventType", eventType)
		return fmt.Errorf("log event failed: %w", err)
	}
	return nil
}

// EventsByCorrelation returns all events for one delivery in insertion order.
func (s *PostgresStore) EventsByCorrelation(correlationID string, limit int) ([]models.EventRecord, error) {
	limit = clampLimit(limit, 500, 1000)
	rows, err := s.db.Query(
		`SELECT id, conversation_id, correlation_id, event_type, payload, created_at
		 FROM chat_events WHERE correlation_id = $1 ORDER BY id ASC LIMIT $2`,
		correlationID, limit,
	)
	if err != nil {
		slog.Error("PostgresStore EventsByCorrelation query failed", "error", err)
		return nil, fmt.Errorf("events query failed: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// CloseExpiredConversations retires open conversations idle past the TTL.
func (s *PostgresStore) CloseExpiredConversations() (int64, error) {
	cutoff := time.Now().UTC().Add(-s.ttl)
	res, err := s.db.Exec(
		`UPDATE chat_conversations SET status = $1 WHERE status = $2 AND last_activity_at < $3`,
		models.ConversationStatusClosed, models.ConversationStatusOpen, cutoff,
	)
	if err != nil {
		slog.Error("PostgresStore CloseExpiredConversations failed", "error", err)
		return 0, fmt.Errorf("close expired conversations failed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("close expired conversations count failed: %w", err)
	}
	if n > 0 {
		slog.Info("PostgresStore closed expired conversations", "count", n)
	}
	return n, nil
}

// Close closes the Postgres database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing Postgres database connection")
	return s.db.Close()
}
