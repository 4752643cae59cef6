// Package store provides storage backends for souqbot.
//
// This file implements the SQLite-backed chat store.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/bww-labs/souqbot/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// DefaultDirPermissions defines the default permissions for database directories.
const DefaultDirPermissions = 0755

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// SQLiteStore is a ChatStore backed by a local SQLite file.
type SQLiteStore struct {
	db  *sql.DB
	ttl time.Duration
}

// Compile-time check that SQLiteStore implements ChatStore.
var _ ChatStore = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite chat store with the given options.
// The DSN is a file path; the containing directory is created if missing.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	slog.Debug("Running SQLite migrations")
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultConversationTTL
	}
	return &SQLiteStore{db: db, ttl: ttl}, nil
}

// OpenOrCreateConversation returns the open conversation for a user, closing
// a stale one first.
func (s *SQLiteStore) OpenOrCreateConversation(userNumber string) (int64, error) {
	if userNumber == "" {
		return 0, fmt.Errorf("user number is required")
	}

	var id int64
	var lastActivity time.Time
	err := s.db.QueryRow(
		`SELECT id, last_activity_at FROM chat_conversations WHERE user_number = ? AND status = ? LIMIT 1`,
		userNumber, models.ConversationStatusOpen,
	).Scan(&id, &lastActivity)
	switch {
	case err == sql.ErrNoRows:
		// fall through to create
	case err != nil:
		slog.Error("SQLiteStore OpenOrCreateConversation query failed", "error", err, "user", userNumber)
		return 0, fmt.Errorf("open conversation lookup failed: %w", err)
	default:
		if time.Since(lastActivity) <= s.ttl {
			return id, nil
		}
		if _, err := s.db.Exec(
			`UPDATE chat_conversations SET status = ? WHERE id = ?`,
			models.ConversationStatusClosed, id,
		); err != nil {
			slog.Error("SQLiteStore failed to close stale conversation", "error", err, "conversationID", id)
			return 0, fmt.Errorf("close stale conversation failed: %w", err)
		}
		slog.Info("SQLiteStore closed stale conversation", "conversationID", id, "user", userNumber)
	}

	now := time.Now().UTC()
	res, err := s.db.Exec(
		`INSERT INTO chat_conversations (user_number, status, state, last_activity_at, created_at) VALUES (?, ?, '{}', ?, ?)`,
		userNumber, models.ConversationStatusOpen, now, now,
	)
	if err != nil {
		slog.Error("SQLiteStore conversation insert failed", "error", err, "user", userNumber)
		return 0, fmt.Errorf("create conversation failed: %w", err)
	}
	newID, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("create conversation id failed: %w", err)
	}
	slog.Debug("SQLiteStore conversation created", "conversationID", newID, "user", userNumber)
	return newID, nil
}

// GetOpenConversation returns the open conversation for a user, or nil.
func (s *SQLiteStore) GetOpenConversation(userNumber string) (*models.Conversation, error) {
	if userNumber == "" {
		return nil, nil
	}
	var c models.Conversation
	var stateJSON string
	err := s.db.QueryRow(
		`SELECT id, user_number, status, state, last_activity_at, created_at
		 FROM chat_conversations WHERE user_number = ? AND status = ? ORDER BY id DESC LIMIT 1`,
		userNumber, models.ConversationStatusOpen,
	).Scan(&c.ID, &c.UserNumber, &c.Status, &stateJSON, &c.LastActivityAt, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetOpenConversation failed", "error", err, "user", userNumber)
		return nil, fmt.Errorf("get open conversation failed: %w", err)
	}
	if err := json.Unmarshal([]byte(stateJSON), &c.State); err != nil {
		slog.Error("SQLiteStore conversation state unmarshal failed", "error", err, "conversationID", c.ID)
		c.State = models.ConversationState{}
	}
	return &c, nil
}

// GetState loads the conversation state blob.
func (s *SQLiteStore) GetState(conversationID int64) (models.ConversationState, error) {
	var stateJSON string
	err := s.db.QueryRow(
		`SELECT state FROM chat_conversations WHERE id = ? LIMIT 1`, conversationID,
	).Scan(&stateJSON)
	if err == sql.ErrNoRows {
		return models.ConversationState{}, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetState failed", "error", err, "conversationID", conversationID)
		return models.ConversationState{}, fmt.Errorf("get state failed: %w", err)
	}
	var st models.ConversationState
	if err := json.Unmarshal([]byte(stateJSON), &st); err != nil {
		// Corrupt blobs degrade to empty state rather than failing the turn.
		slog.Error("SQLiteStore state unmarshal failed", "error", err, "conversationID", conversationID)
		return models.ConversationState{}, nil
	}
	return st, nil
}

// SetState stores the conversation state blob and refreshes last activity.
func (s *SQLiteStore) SetState(conversationID int64, state models.ConversationState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal state failed: %w", err)
	}
	_, err = s.db.Exec(
		`UPDATE chat_conversations SET state = ?, last_activity_at = ? WHERE id = ?`,
		string(data), time.Now().UTC(), conversationID,
	)
	if err != nil {
		slog.Error("SQLiteStore SetState failed", "error", err, "conversationID", conversationID)
		return fmt.Errorf("set state failed: %w", err)
	}
	return nil
}

// AppendMessage writes one message row and refreshes last activity.
func (s *SQLiteStore) AppendMessage(conversationID int64, role models.MessageRole, direction models.MessageDirection, text, providerMessageID string) (int64, error) {
	if text == "" {
		return 0, fmt.Errorf("message text is required")
	}
	now := time.Now().UTC()
	res, err := s.db.Exec(
		`INSERT INTO chat_messages (conversation_id, role, direction, text, provider_message_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		conversationID, role, direction, text, nilIfEmpty(providerMessageID), now,
	)
	if err != nil {
		slog.Error("SQLiteStore AppendMessage failed", "error", err, "conversationID", conversationID)
		return 0, fmt.Errorf("append message failed: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("append message id failed: %w", err)
	}
	if _, err := s.db.Exec(
		`UPDATE chat_conversations SET last_activity_at = ? WHERE id = ?`, now, conversationID,
	); err != nil {
		slog.Error("SQLiteStore touch conversation failed", "error", err, "conversationID", conversationID)
	}
	return id, nil
}

// MessageIDSeen reports whether a provider message id was already recorded.
func (s *SQLiteStore) MessageIDSeen(providerMessageID string) (bool, error) {
	if providerMessageID == "" {
		return false, nil
	}
	var one int
	err := s.db.QueryRow(
		`SELECT 1 FROM chat_messages WHERE provider_message_id = ? LIMIT 1`, providerMessageID,
	).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		slog.Error("SQLiteStore MessageIDSeen failed", "error", err)
		return false, fmt.Errorf("dedup check failed: %w", err)
	}
	return true, nil
}

// RecentMessages returns up to limit messages in chronological order.
func (s *SQLiteStore) RecentMessages(conversationID int64, limit int) ([]models.StoredMessage, error) {
	limit = clampLimit(limit, 20, 100)
	rows, err := s.db.Query(
		`SELECT id, conversation_id, role, direction, text, provider_message_id, created_at
		 FROM chat_messages WHERE conversation_id = ? ORDER BY id DESC LIMIT ?`,
		conversationID, limit,
	)
	if err != nil {
		slog.Error("SQLiteStore RecentMessages query failed", "error", err, "conversationID", conversationID)
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
func (s *SQLiteStore) LogAICall(conversationID int64, correlationID, model, prompt, responseText string) error {
	_, err := s.db.Exec(
		`INSERT INTO ai_calls (conversation_id, correlation_id, model, prompt, response_text, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		conversationID, correlationID, model,
		truncateText(prompt, MaxAICallFieldLen), truncateText(responseText, MaxAICallFieldLen),
		time.Now().UTC(),
	)
	if err != nil {
		slog.Error("SQLiteStore LogAICall failed", "error", err, "conversationID", conversationID)
		return fmt.Errorf("log ai call failed: %w", err)
	}
	return nil
}

// LastAICall returns the most recent model call for a conversation, or nil.
func (s *SQLiteStore) LastAICall(conversationID int64) (*models.AICallRecord, error) {
	var rec models.AICallRecord
	err := s.db.QueryRow(
		`SELECT id, conversation_id, correlation_id, model, prompt, response_text, created_at
		 FROM ai_calls WHERE conversation_id = ? ORDER BY id DESC LIMIT 1`,
		conversationID,
	).Scan(&rec.ID, &rec.ConversationID, &rec.CorrelationID, &rec.Model, &rec.Prompt, &rec.ResponseText, &rec.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore LastAICall failed", "error", err, "conversationID", conversationID)
		return nil, fmt.Errorf("last ai call failed: %w", err)
	}
	return &rec, nil
}

// LogEvent appends an audit event with a sanitized payload.
func (s *SQLiteStore) LogEvent(conversationID int64, correlationID, eventType string, payload map[string]any) error {
	data, err := json.Marshal(sanitizeEventPayload(payload))
	if err != nil {
		return fmt.Errorf("marshal event payload failed: %w", err)
	}
	var convID any
	if conversationID != 0 {
		convID = conversationID
	}
	_, err = s.db.Exec(
		`INSERT INTO chat_events (conversation_id, correlation_id, event_type, payload, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		convID, correlationID, eventType, string(data), time.Now().UTC(),
	)
	if err != nil {
		slog.Error("SQLiteStore LogEvent failed", "error", err, "eventType", eventType)
		return fmt.Errorf("log event failed: %w", err)
	}
	return nil
}

// EventsByCorrelation returns all events for one delivery in insertion order.
func (s *SQLiteStore) EventsByCorrelation(correlationID string, limit int) ([]models.EventRecord, error) {
	limit = clampLimit(limit, 500, 1000)
	rows, err := s.db.Query(
		`SELECT id, conversation_id, correlation_id, event_type, payload, created_at
		 FROM chat_events WHERE correlation_id = ? ORDER BY id ASC LIMIT ?`,
		correlationID, limit,
	)
	if err != nil {
		slog.Error("SQLiteStore EventsByCorrelation query failed", "error", err)
		return nil, fmt.Errorf("events query failed: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// CloseExpiredConversations retires open conversations idle past the TTL.
func (s *SQLiteStore) CloseExpiredConversations() (int64, error) {
	cutoff := time.Now().UTC().Add(-s.ttl)
	res, err := s.db.Exec(
		`UPDATE chat_conversations SET status = ? WHERE status = ? AND last_activity_at < ?`,
		models.ConversationStatusClosed, models.ConversationStatusOpen, cutoff,
	)
	if err != nil {
		slog.Error("SQLiteStore CloseExpiredConversations failed", "error", err)
		return 0, fmt.Errorf("close expired conversations failed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("close expired conversations count failed: %w", err)
	}
	if n > 0 {
		slog.Info("SQLiteStore closed expired conversations", "count", n)
	}
	return n, nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	return s.db.Close()
}
