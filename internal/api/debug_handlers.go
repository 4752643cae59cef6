package api

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/bww-labs/souqbot/internal/models"
	"github.com/bww-labs/souqbot/internal/store"
)

const debugMessageLimit = 20

// authorizeDebug gates the debug endpoints on the X-Debug-Token header.
// When no token is configured the endpoints are disabled entirely.
func (s *Server) authorizeDebug(w http.ResponseWriter, r *http.Request) bool {
	if s.debugToken == "" {
		writeJSONResponse(w, http.StatusNotFound, models.Error("debug endpoints disabled"))
		return false
	}
	if r.Header.Get("X-Debug-Token") != s.debugToken {
		slog.Warn("Debug endpoint access denied", "path", r.URL.Path)
		writeJSONResponse(w, http.StatusForbidden, models.Error("invalid debug token"))
		return false
	}
	return true
}

// debugConversationHandler returns a user's open conversation and its most
// recent messages.
func (s *Server) debugConversationHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !s.authorizeDebug(w, r) {
		return
	}
	user := r.URL.Query().Get("user")
	if user == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("user parameter required"))
		return
	}

	conv, err := s.chatStore.GetOpenConversation(user)
	if err != nil {
		slog.Error("Debug conversation lookup failed", "error", err, "user", user)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("lookup failed"))
		return
	}
	if conv == nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("no open conversation"))
		return
	}
	messages, err := s.chatStore.RecentMessages(conv.ID, debugMessageLimit)
	if err != nil {
		slog.Error("Debug messages lookup failed", "error", err, "conversationID", conv.ID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("lookup failed"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]any{
		"conversation": conv,
		"messages":     messages,
	}))
}

// debugAICallHandler returns the last model call for a conversation.
func (s *Server) debugAICallHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !s.authorizeDebug(w, r) {
		return
	}
	conversationID, err := strconv.ParseInt(r.URL.Query().Get("conversation_id"), 10, 64)
	if err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("conversation_id parameter required"))
		return
	}

	call, err := s.chatStore.LastAICall(conversationID)
	if err != nil {
		slog.Error("Debug AI call lookup failed", "error", err, "conversationID", conversationID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("lookup failed"))
		return
	}
	if call == nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("no model calls recorded"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(call))
}

// debugEventsHandler returns all audit events for one correlation id.
func (s *Server) debugEventsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !s.authorizeDebug(w, r) {
		return
	}
	correlationID := r.URL.Query().Get("correlation_id")
	if correlationID == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("correlation_id parameter required"))
		return
	}

	events, err := s.chatStore.EventsByCorrelation(correlationID, store.MaxEventListLen)
	if err != nil {
		slog.Error("Debug events lookup failed", "error", err, "correlationID", correlationID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("lookup failed"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(events))
}
