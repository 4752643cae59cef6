// Package store provides storage backends for souqbot.
//
// This file implements an in-memory chat store used in tests and as a
// fallback when no database DSN is configured.
package store

import (
	"fmt"
	"sync"
	"time"

	"github.com/bww-labs/souqbot/internal/models"
)

// InMemoryStore is a ChatStore holding everything in process memory.
type InMemoryStore struct {
	mu            sync.Mutex
	ttl           time.Duration
	nextConvID    int64
	nextMsgID     int64
	nextEventID   int64
	nextAICallID  int64
	conversations map[int64]*models.Conversation
	messages      []models.StoredMessage
	aiCalls       []models.AICallRecord
	events        []models.EventRecord
}

// Compile-time check that InMemoryStore implements ChatStore.
var _ ChatStore = (*InMemoryStore)(nil)

// NewInMemoryStore creates an empty in-memory chat store.
func NewInMemoryStore(opts ...Option) *InMemoryStore {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultConversationTTL
	}
	return &InMemoryStore{
		ttl:           ttl,
		conversations: make(map[int64]*models.Conversation),
	}
}

func (s *InMemoryStore) OpenOrCreateConversation(userNumber string) (int64, error) {
	if userNumber == "" {
		return 0, fmt.Errorf("user number is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range s.conversations {
		if c.UserNumber == userNumber && c.Status == models.ConversationStatusOpen {
			if time.Since(c.LastActivityAt) <= s.ttl {
				return c.ID, nil
			}
			c.Status = models.ConversationStatusClosed
		}
	}

	s.nextConvID++
	now := time.Now().UTC()
	c := &models.Conversation{
		ID:             s.nextConvID,
		UserNumber:     userNumber,
		Status:         models.ConversationStatusOpen,
		LastActivityAt: now,
		CreatedAt:      now,
	}
	s.conversations[c.ID] = c
	return c.ID, nil
}

func (s *InMemoryStore) GetOpenConversation(userNumber string) (*models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var found *models.Conversation
	for _, c := range s.conversations {
		if c.UserNumber == userNumber && c.Status == models.ConversationStatusOpen {
			if found == nil || c.ID > found.ID {
				found = c
			}
		}
	}
	if found == nil {
		return nil, nil
	}
	cp := *found
	return &cp, nil
}

func (s *InMemoryStore) GetState(conversationID int64) (models.ConversationState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[conversationID]
	if !ok {
		return models.ConversationState{}, nil
	}
	return c.State, nil
}

func (s *InMemoryStore) SetState(conversationID int64, state models.ConversationState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[conversationID]
	if !ok {
		return fmt.Errorf("conversation %d not found", conversationID)
	}
	c.State = state
	c.LastActivityAt = time.Now().UTC()
	return nil
}

func (s *InMemoryStore) AppendMessage(conversationID int64, role models.MessageRole, direction models.MessageDirection, text, providerMessageID string) (int64, error) {
	if text == "" {
		return 0, fmt.Errorf("message text is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextMsgID++
	s.messages = append(s.messages, models.StoredMessage{
		ID:                s.nextMsgID,
		ConversationID:    conversationID,
		Role:              role,
		Direction:         direction,
		Text:              text,
		ProviderMessageID: providerMessageID,
		CreatedAt:         time.Now().UTC(),
	})
	if c, ok := s.conversations[conversationID]; ok {
		c.LastActivityAt = time.Now().UTC()
	}
	return s.nextMsgID, nil
}

func (s *InMemoryStore) MessageIDSeen(providerMessageID string) (bool, error) {
	if providerMessageID == "" {
		return false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.messages {
		if m.ProviderMessageID == providerMessageID {
			return true, nil
		}
	}
	return false, nil
}

func (s *InMemoryStore) RecentMessages(conversationID int64, limit int) ([]models.StoredMessage, error) {
	limit = clampLimit(limit, 20, 100)
	s.mu.Lock()
	defer s.mu.Unlock()
	var msgs []models.StoredMessage
	for _, m := range s.messages {
		if m.ConversationID == conversationID {
			msgs = append(msgs, m)
		}
	}
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]models.StoredMessage, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (s *InMemoryStore) LogAICall(conversationID int64, correlationID, model, prompt, responseText string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextAICallID++
	s.aiCalls = append(s.aiCalls, models.AICallRecord{
		ID:             s.nextAICallID,
		ConversationID: conversationID,
		CorrelationID:  correlationID,
		Model:          model,
		Prompt:         truncateText(prompt, MaxAICallFieldLen),
		ResponseText:   truncateText(responseText, MaxAICallFieldLen),
		CreatedAt:      time.Now().UTC(),
	})
	return nil
}

func (s *InMemoryStore) LastAICall(conversationID int64) (*models.AICallRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.aiCalls) - 1; i >= 0; i-- {
		if s.aiCalls[i].ConversationID == conversationID {
			rec := s.aiCalls[i]
			return &rec, nil
		}
	}
	return nil, nil
}

func (s *InMemoryStore) LogEvent(conversationID int64, correlationID, eventType string, payload map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextEventID++
	s.events = append(s.events, models.EventRecord{
		ID:             s.nextEventID,
		ConversationID: conversationID,
		CorrelationID:  correlationID,
		EventType:      eventType,
		Payload:        sanitizeEventPayload(payload),
		CreatedAt:      time.Now().UTC(),
	})
	return nil
}

func (s *InMemoryStore) EventsByCorrelation(correlationID string, limit int) ([]models.EventRecord, error) {
	limit = clampLimit(limit, 500, 1000)
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.EventRecord
	for _, e := range s.events {
		if e.CorrelationID == correlationID {
			out = append(out, e)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

// CloseExpiredConversations retires open conversations idle past the TTL.
func (s *InMemoryStore) CloseExpiredConversations() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, c := range s.conversations {
		if c.Status == models.ConversationStatusOpen && time.Since(c.LastActivityAt) > s.ttl {
			c.Status = models.ConversationStatusClosed
			n++
		}
	}
	return n, nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error { return nil }

// MessageCount reports the number of stored messages (test helper).
func (s *InMemoryStore) MessageCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

// TouchConversation backdates a conversation's last activity (test helper).
func (s *InMemoryStore) TouchConversation(conversationID int64, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.conversations[conversationID]; ok {
		c.LastActivityAt = at
	}
}
