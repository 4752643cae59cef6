// Package models defines the core data structures for souqbot.
//
// It includes conversation and message records, product candidate types shared
// between the catalog and the dialogue flow, and audit row types.
package models

import (
	"time"
)

// ConversationStatus represents the lifecycle status of a conversation.
type ConversationStatus string

const (
	// ConversationStatusOpen indicates the conversation is active.
	ConversationStatusOpen ConversationStatus = "open"
	// ConversationStatusClosed indicates the conversation was closed (TTL expiry).
	ConversationStatusClosed ConversationStatus = "closed"
)

// MessageRole identifies who authored a message.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

// MessageDirection identifies the transport direction of a message.
type MessageDirection string

const (
	DirectionInbound  MessageDirection = "inbound"
	DirectionOutbound MessageDirection = "outbound"
)

// Conversation represents one chat session with a user. At most one open
// conversation exists per user number at any time; the store enforces this
// with a partial unique index.
type Conversation struct {
	ID             int64              `json:"id"`
	UserNumber     string             `json:"user_number"`
	Status         ConversationStatus `json:"status"`
	State          ConversationState  `json:"state"`
	LastActivityAt time.Time          `json:"last_activity_at"`
	CreatedAt      time.Time          `json:"created_at"`
}

// StoredMessage is one persisted conversation turn. Immutable once written.
type StoredMessage struct {
	ID                int64            `json:"id"`
	ConversationID    int64            `json:"conversation_id"`
	Role              MessageRole      `json:"role"`
	Direction         MessageDirection `json:"direction"`
	Text              string           `json:"text"`
	ProviderMessageID string           `json:"provider_message_id,omitempty"`
	CreatedAt         time.Time        `json:"created_at"`
}

// CandidateSummary is the lightweight product view persisted in conversation
// state so a later fuzzy-selection model call does not need a fresh lookup.
type CandidateSummary struct {
	ID          int64   `json:"id"`
	DisplayName string  `json:"display_name"`
	Price       float64 `json:"price"`
	Stock       int     `json:"stock"`
}

// ProductCandidate is a transient search result row. Score is only populated
// by term-scored search.
type ProductCandidate struct {
	ID          int64   `json:"id"`
	Slug        string  `json:"slug,omitempty"`
	SKU         string  `json:"sku,omitempty"`
	ProductCode string  `json:"product_code,omitempty"`
	DisplayName string  `json:"display_name"`
	Price       float64 `json:"price"`
	Stock       int     `json:"stock"`
	MainImage   string  `json:"main_image,omitempty"`
	Score       int     `json:"score,omitempty"`
}

// Summary reduces a candidate to the persisted state view.
func (p ProductCandidate) Summary() CandidateSummary {
	return CandidateSummary{ID: p.ID, DisplayName: p.DisplayName, Price: p.Price, Stock: p.Stock}
}

// ProductDetail is the full product row used for grounded answers.
type ProductDetail struct {
	ID               int64   `json:"id"`
	VendorID         int64   `json:"vendor_id,omitempty"`
	DisplayName      string  `json:"display_name"`
	Slug             string  `json:"slug,omitempty"`
	ShortDescription string  `json:"short_description,omitempty"`
	Price            float64 `json:"price"`
	Stock            int     `json:"stock"`
	MainImage        string  `json:"main_image,omitempty"`
	IsPublished      bool    `json:"is_published"`
	IsApproved       bool    `json:"is_approved"`
}

// ProductImage is one gallery image of a product.
type ProductImage struct {
	ID      int64  `json:"id"`
	Image   string `json:"image"`
	ColorID int64  `json:"color_id,omitempty"`
}

// ProductVariant is one purchasable variant (color/size) of a product.
type ProductVariant struct {
	ID             int64   `json:"id"`
	ProductID      int64   `json:"product_id"`
	Price          float64 `json:"price"`
	WholesalePrice float64 `json:"wholesale_price,omitempty"`
	Stock          int     `json:"stock"`
	SKUCode        string  `json:"sku_code,omitempty"`
	ColorID        int64   `json:"color_id,omitempty"`
	SizeID         int64   `json:"size_id,omitempty"`
}

// ProductContext is the 1-hop context assembled for grounded answers.
type ProductContext struct {
	Product  ProductDetail    `json:"product"`
	Images   []ProductImage   `json:"images"`
	Variants []ProductVariant `json:"variants"`
}

// AICallRecord is an append-only audit row for one language-model round trip.
type AICallRecord struct {
	ID             int64     `json:"id"`
	ConversationID int64     `json:"conversation_id"`
	CorrelationID  string    `json:"correlation_id"`
	Model          string    `json:"model"`
	Prompt         string    `json:"prompt"`
	ResponseText   string    `json:"response_text"`
	CreatedAt      time.Time `json:"created_at"`
}

// EventRecord is an append-only audit row keyed by correlation id.
type EventRecord struct {
	ID             int64          `json:"id"`
	ConversationID int64          `json:"conversation_id,omitempty"`
	CorrelationID  string         `json:"correlation_id"`
	EventType      string         `json:"event_type"`
	Payload        map[string]any `json:"payload"`
	CreatedAt      time.Time      `json:"created_at"`
}

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
)

// APIResponse is the standard JSON envelope for HTTP responses.
type APIResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Result  any    `json:"result,omitempty"`
}

// Success creates a successful API response with optional result data.
func Success(result any) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Result: result}
}

// SuccessWithMessage creates a successful API response with a message.
func SuccessWithMessage(message string, result any) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Message: message, Result: result}
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return APIResponse{Status: string(APIStatusError), Message: message}
}
