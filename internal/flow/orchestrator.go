// Package flow implements the souqbot dialogue orchestrator.
//
// ProcessTurn is the per-delivery turn state machine: it decides whether an
// inbound message continues a prior product-selection flow, starts a fresh
// search, or asks a general question, and issues the minimum number of
// model calls to answer it. All collaborators are injected.
package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/bww-labs/souqbot/internal/catalog"
	"github.com/bww-labs/souqbot/internal/genai"
	"github.com/bww-labs/souqbot/internal/messaging"
	"github.com/bww-labs/souqbot/internal/models"
	"github.com/bww-labs/souqbot/internal/store"
)

// Search widths for the two catalog paths.
const (
	termSearchLimit = 50
	textSearchLimit = 10
	historyLimit    = 10
)

// Inbound is one delivered message, already unwrapped from the webhook
// payload.
type Inbound struct {
	From              string
	ProviderMessageID string
	Type              string
	Text              string
}

// Orchestrator composes the store, catalog, model gateway and transport
// into the turn-processing flow.
type Orchestrator struct {
	store   store.ChatStore
	catalog catalog.Lookup
	gateway *genai.Gateway
	sender  messaging.Sender
}

// NewOrchestrator wires the collaborators.
func NewOrchestrator(st store.ChatStore, cat catalog.Lookup, gw *genai.Gateway, sender messaging.Sender) *Orchestrator {
	return &Orchestrator{store: st, catalog: cat, gateway: gw, sender: sender}
}

// turn carries the per-delivery context threaded through the flow.
type turn struct {
	ctx            context.Context
	correlationID  string
	conversationID int64
	from           string
	text           string
	state          models.ConversationState
}

// ProcessTurn handles one inbound delivery end to end: dedup, conversation
// bookkeeping, the selection/search state machine, and the outbound send.
// Duplicates return nil with no side effects.
func (o *Orchestrator) ProcessTurn(ctx context.Context, in Inbound) error {
	correlationID := uuid.NewString()
	slog.Debug("Processing turn", "correlationID", correlationID, "from", in.From, "type", in.Type)

	// Dedup before any other side effect: deliveries are at-least-once.
	if in.ProviderMessageID != "" {
		seen, err := o.store.MessageIDSeen(in.ProviderMessageID)
		if err != nil {
			return fmt.Errorf("dedup check failed: %w", err)
		}
		if seen {
			slog.Debug("Duplicate delivery dropped", "providerMessageID", in.ProviderMessageID)
			return nil
		}
	}

	conversationID, err := o.store.OpenOrCreateConversation(in.From)
	if err != nil {
		return fmt.Errorf("open conversation failed: %w", err)
	}
	o.logEvent(conversationID, correlationID, "turn_started", map[string]any{
		"from": in.From, "type": in.Type, "provider_message_id": in.ProviderMessageID,
	})

	// Non-text, or text with nothing in it: placeholder record, fixed reply,
	// no catalog or model calls. The placeholder keeps the dedup row so a
	// redelivery is dropped.
	if in.Type != "text" || strings.TrimSpace(in.Text) == "" {
		placeholder := fmt.Sprintf("[unsupported message type: %s]", in.Type)
		if in.Type == "text" {
			placeholder = "[empty text message]"
		}
		if _, err := o.store.AppendMessage(conversationID, models.RoleUser, models.DirectionInbound, placeholder, in.ProviderMessageID); err != nil {
			return fmt.Errorf("append placeholder failed: %w", err)
		}
		o.logEvent(conversationID, correlationID, "non_text_message", map[string]any{"type": in.Type})
		return o.reply(&turn{ctx: ctx, correlationID: correlationID, conversationID: conversationID, from: in.From}, NonTextReply)
	}

	state, err := o.store.GetState(conversationID)
	if err != nil {
		return fmt.Errorf("load state failed: %w", err)
	}
	if _, err := o.store.AppendMessage(conversationID, models.RoleUser, models.DirectionInbound, in.Text, in.ProviderMessageID); err != nil {
		return fmt.Errorf("append inbound failed: %w", err)
	}

	t := &turn{
		ctx:            ctx,
		correlationID:  correlationID,
		conversationID: conversationID,
		from:           in.From,
		text:           in.Text,
		state:          state,
	}

	if t.state.HasPresented() {
		handled, err := o.resolveSelection(t)
		if err != nil {
			return o.handleTurnError(t, err)
		}
		if handled {
			return nil
		}
		// Unrelated new query: forget the old list before searching.
		t.state.ClearPresented()
	}

	if err := o.searchFlow(t); err != nil {
		return o.handleTurnError(t, err)
	}
	return nil
}

// resolveSelection tries to interpret the message as a reply to the prior
// presented list. It reports handled=true when the turn was fully answered
// here; handled=false falls through to the search flow.
func (o *Orchestrator) resolveSelection(t *turn) (bool, error) {
	n := len(t.state.LastPresentedCandidateIDs)

	if idx, ok := ParsePositionalReference(t.text, n); ok {
		selectedID := t.state.PresentedIndex(idx)
		o.logEvent(t.conversationID, t.correlationID, "selection_positional", map[string]any{
			"index": idx, "selected_id": selectedID,
		})
		return true, o.answerSelected(t, selectedID)
	}

	if !LooksLikeSelection(t.text) {
		o.logEvent(t.conversationID, t.correlationID, "selection_skipped", map[string]any{
			"reason": "fresh query",
		})
		return false, nil
	}

	result, exchange, err := o.gateway.SelectCandidate(t.ctx, t.text, t.state.LastPresentedCandidates)
	o.logAICall(t, exchange)
	if err != nil {
		return true, err
	}
	o.logEvent(t.conversationID, t.correlationID, "selection_model", map[string]any{
		"selected_id": result.SelectedID, "ok": result.OK,
	})
	if !result.OK {
		// The model saw no selection either; treat as a fresh query.
		return false, nil
	}
	return true, o.answerSelected(t, result.SelectedID)
}

// answerSelected fetches the chosen product and sends a grounded answer.
// Catalog failures degrade to a fixed re-prompt, never an error.
func (o *Orchestrator) answerSelected(t *turn, productID int64) error {
	pc, err := o.catalog.GetContext(productID)
	if err != nil {
		slog.Error("Catalog context lookup failed, treating as not found", "error", err, "productID", productID)
		pc = nil
	}
	if pc == nil {
		o.logEvent(t.conversationID, t.correlationID, "selection_not_found", map[string]any{"product_id": productID})
		return o.reply(t, ReselectReply)
	}

	history, err := o.store.RecentMessages(t.conversationID, historyLimit)
	if err != nil {
		return fmt.Errorf("load history failed: %w", err)
	}
	answer, exchange, err := o.gateway.Answer(t.ctx, genai.AnswerRequest{
		Text:    t.text,
		History: history,
		Context: pc,
	})
	o.logAICall(t, exchange)
	if err != nil {
		// State stays untouched on an aborted turn.
		return err
	}

	t.state.SelectedProductID = productID
	t.state.ClearPresented()
	if err := o.store.SetState(t.conversationID, t.state); err != nil {
		return fmt.Errorf("persist state failed: %w", err)
	}
	o.logEvent(t.conversationID, t.correlationID, "product_selected", map[string]any{"product_id": productID})
	return o.reply(t, answer)
}

// searchFlow handles a fresh query: intent parse, catalog search, rerank,
// and presented-state persistence.
func (o *Orchestrator) searchFlow(t *turn) error {
	history, err := o.store.RecentMessages(t.conversationID, historyLimit)
	if err != nil {
		return fmt.Errorf("load history failed: %w", err)
	}

	intent, exchange, err := o.gateway.ParseIntent(t.ctx, t.text, history)
	o.logAICall(t, exchange)
	if err != nil {
		return err
	}
	o.logEvent(t.conversationID, t.correlationID, "intent_parsed", map[string]any{
		"intent": intent.Intent, "keywords": intent.Keywords,
	})

	var candidates []models.ProductCandidate
	if len(intent.Keywords) > 0 {
		candidates, err = o.catalog.SearchByTerms(intent.Keywords, termSearchLimit)
	} else {
		candidates, err = o.catalog.SearchByText(t.text, textSearchLimit)
	}
	if err != nil {
		slog.Error("Catalog search failed, treating as no results", "error", err)
		candidates = nil
	}
	o.logEvent(t.conversationID, t.correlationID, "catalog_searched", map[string]any{
		"keywords": intent.Keywords, "hits": len(candidates),
	})

	if len(candidates) == 0 {
		// Nothing to present; let the model ask a clarifying question.
		answer, exchange, err := o.gateway.Answer(t.ctx, genai.AnswerRequest{Text: t.text, History: history})
		o.logAICall(t, exchange)
		if err != nil {
			return err
		}
		if err := o.store.SetState(t.conversationID, t.state); err != nil {
			return fmt.Errorf("persist state failed: %w", err)
		}
		return o.reply(t, answer)
	}

	rerank, exchange, err := o.gateway.Rerank(t.ctx, t.text, history, candidates)
	o.logAICall(t, exchange)
	if err != nil {
		return err
	}

	byID := make(map[int64]models.ProductCandidate, len(candidates))
	for _, c := range candidates {
		byID[c.ID] = c
	}

	replyText := rerank.Reply
	presentedIDs := rerank.PresentedIDs
	if replyText == "" || len(presentedIDs) == 0 {
		var top []models.ProductCandidate
		replyText, top = FallbackCandidateList(candidates)
		presentedIDs = presentedIDs[:0]
		for _, c := range top {
			presentedIDs = append(presentedIDs, c.ID)
		}
		o.logEvent(t.conversationID, t.correlationID, "rerank_fallback", map[string]any{
			"presented_ids": presentedIDs,
		})
	}

	t.state.LastPresentedCandidateIDs = presentedIDs
	t.state.LastPresentedCandidates = t.state.LastPresentedCandidates[:0]
	for _, id := range presentedIDs {
		t.state.LastPresentedCandidates = append(t.state.LastPresentedCandidates, byID[id].Summary())
	}
	if err := o.store.SetState(t.conversationID, t.state); err != nil {
		return fmt.Errorf("persist state failed: %w", err)
	}
	o.logEvent(t.conversationID, t.correlationID, "candidates_presented", map[string]any{
		"presented_ids": presentedIDs,
	})
	return o.reply(t, replyText)
}

// handleTurnError converts a rate-limit abort into the apology reply; other
// errors propagate after an audit event.
func (o *Orchestrator) handleTurnError(t *turn, err error) error {
	var rl *genai.RateLimitError
	if errors.As(err, &rl) {
		o.logEvent(t.conversationID, t.correlationID, "rate_limited", map[string]any{
			"retry_after_seconds": rl.RetryAfter.Seconds(),
		})
		// Presented state is intentionally not persisted on this path.
		return o.reply(t, RateLimitReply(rl.RetryAfter))
	}
	o.logEvent(t.conversationID, t.correlationID, "turn_error", map[string]any{"error": err.Error()})
	slog.Error("Turn processing failed", "error", err, "correlationID", t.correlationID)
	return err
}

// reply records and sends the outbound message.
func (o *Orchestrator) reply(t *turn, text string) error {
	if _, err := o.store.AppendMessage(t.conversationID, models.RoleAssistant, models.DirectionOutbound, text, ""); err != nil {
		return fmt.Errorf("append outbound failed: %w", err)
	}
	raw, err := o.sender.Send(t.ctx, t.from, text)
	if err != nil {
		o.logEvent(t.conversationID, t.correlationID, "send_failed", map[string]any{"error": err.Error()})
		return fmt.Errorf("send failed: %w", err)
	}
	o.logEvent(t.conversationID, t.correlationID, "reply_sent", map[string]any{"raw_response": raw})
	return nil
}

func (o *Orchestrator) logAICall(t *turn, exchange genai.Exchange) {
	if exchange.Prompt == "" {
		return
	}
	if err := o.store.LogAICall(t.conversationID, t.correlationID, exchange.Model, exchange.Prompt, exchange.Response); err != nil {
		slog.Error("Failed to log AI call", "error", err, "correlationID", t.correlationID)
	}
}

func (o *Orchestrator) logEvent(conversationID int64, correlationID, eventType string, payload map[string]any) {
	if err := o.store.LogEvent(conversationID, correlationID, eventType, payload); err != nil {
		slog.Error("Failed to log event", "error", err, "eventType", eventType)
	}
}
