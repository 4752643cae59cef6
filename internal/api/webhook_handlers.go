package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/bww-labs/souqbot/internal/flow"
	"github.com/bww-labs/souqbot/internal/models"
)

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("souqbot is running", nil))
}

func (s *Server) webhookHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	switch r.Method {
	case http.MethodGet:
		s.verifyWebhook(w, r)
	case http.MethodHead:
		w.WriteHeader(http.StatusOK)
	case http.MethodPost:
		s.receiveWebhook(w, r)
	default:
		w.Header().Set("Allow", "GET, HEAD, POST")
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// verifyWebhook implements the Meta verification handshake: a subscribe
// request carrying the shared token gets the challenge echoed back in plain
// text. A bare probe with no parameters gets a friendly 200.
func (s *Server) verifyWebhook(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	mode := q.Get("hub.mode")
	token := q.Get("hub.verify_token")
	challenge := q.Get("hub.challenge")

	if mode == "" && token == "" && challenge == "" {
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprint(w, "ok")
		return
	}
	if mode == "subscribe" && s.verifyToken != "" && token == s.verifyToken {
		slog.Info("Webhook verification succeeded")
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprint(w, challenge)
		return
	}
	slog.Warn("Webhook verification failed", "mode", mode)
	w.WriteHeader(http.StatusForbidden)
}

// receiveWebhook handles one delivery. Non-message events are acknowledged;
// message events run the dialogue flow. The provider retries on non-200, so
// processing errors still answer 200 with an error envelope and rely on
// redelivery plus dedup.
func (s *Server) receiveWebhook(w http.ResponseWriter, r *http.Request) {
	var payload models.WebhookPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		slog.Warn("Failed to decode webhook payload", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}

	msg := payload.FirstMessage()
	if msg == nil {
		slog.Debug("Non-message webhook event acknowledged", "object", payload.Object)
		writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("event ignored", nil))
		return
	}

	inbound := flow.Inbound{
		From:              msg.From,
		ProviderMessageID: msg.ID,
		Type:              msg.Type,
	}
	if msg.Text != nil {
		inbound.Text = msg.Text.Body
	}

	if err := s.orchestrator.ProcessTurn(r.Context(), inbound); err != nil {
		slog.Error("Turn processing failed", "error", err, "from", msg.From)
		writeJSONResponse(w, http.StatusOK, models.Error("processing failed"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(nil))
}
