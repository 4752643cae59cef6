// Package api provides the HTTP surface of souqbot.
//
// It exposes the Meta webhook endpoints (verification handshake and message
// delivery), a health check, and token-gated debug endpoints over the
// conversation store. The webhook dispatches deliveries to the flow
// orchestrator.
package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/bww-labs/souqbot/internal/catalog"
	"github.com/bww-labs/souqbot/internal/flow"
	"github.com/bww-labs/souqbot/internal/genai"
	"github.com/bww-labs/souqbot/internal/messaging"
	"github.com/bww-labs/souqbot/internal/scheduler"
	"github.com/bww-labs/souqbot/internal/store"
)

// DefaultAddr is the default listen address.
const DefaultAddr = ":8080"

// Opts holds configuration options for the API server.
type Opts struct {
	Addr        string
	VerifyToken string
	DebugToken  string
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithVerifyToken sets the webhook verification token shared with Meta.
func WithVerifyToken(token string) Option {
	return func(o *Opts) { o.VerifyToken = token }
}

// WithDebugToken enables the debug endpoints, gated on X-Debug-Token.
func WithDebugToken(token string) Option {
	return func(o *Opts) { o.DebugToken = token }
}

// Server holds the HTTP handlers and their injected collaborators.
type Server struct {
	chatStore    store.ChatStore
	orchestrator *flow.Orchestrator
	verifyToken  string
	debugToken   string
}

// NewServer wires the handlers to their collaborators.
func NewServer(chatStore store.ChatStore, orchestrator *flow.Orchestrator, opts ...Option) *Server {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Server{
		chatStore:    chatStore,
		orchestrator: orchestrator,
		verifyToken:  cfg.VerifyToken,
		debugToken:   cfg.DebugToken,
	}
}

// Routes registers all endpoints on a fresh mux.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.healthHandler)
	mux.HandleFunc("/webhook", s.webhookHandler)
	mux.HandleFunc("/debug/conversation", s.debugConversationHandler)
	mux.HandleFunc("/debug/ai-call", s.debugAICallHandler)
	mux.HandleFunc("/debug/events", s.debugEventsHandler)
	return mux
}

// Run builds every module from its options and serves until the listener
// fails.
func Run(storeOpts []store.Option, catalogOpts []catalog.Option, genaiOpts []genai.Option, msgOpts []messaging.Option, apiOpts []Option) error {
	chatStore, err := store.NewStore(storeOpts...)
	if err != nil {
		return fmt.Errorf("failed to initialize chat store: %w", err)
	}
	defer chatStore.Close()

	cat, err := catalog.NewPostgresCatalog(catalogOpts...)
	if err != nil {
		return fmt.Errorf("failed to initialize catalog: %w", err)
	}
	defer cat.Close()

	generator, err := genai.NewGenerator(genaiOpts...)
	if err != nil {
		return fmt.Errorf("failed to initialize generator: %w", err)
	}

	sender, err := messaging.NewSender(msgOpts...)
	if err != nil {
		return fmt.Errorf("failed to initialize sender: %w", err)
	}

	orchestrator := flow.NewOrchestrator(chatStore, cat, genai.NewGateway(generator), sender)
	server := NewServer(chatStore, orchestrator, apiOpts...)

	sched := scheduler.NewScheduler()
	defer sched.Stop()
	if err := sched.AddJob(scheduler.SweepSchedule, func() {
		if _, err := chatStore.CloseExpiredConversations(); err != nil {
			slog.Error("Conversation expiry sweep failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("failed to schedule conversation sweep: %w", err)
	}

	var cfg Opts
	for _, opt := range apiOpts {
		opt(&cfg)
	}
	addr := cfg.Addr
	if addr == "" {
		addr = DefaultAddr
	}

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           server.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	slog.Info("souqbot API running", "addr", addr)
	return httpServer.ListenAndServe()
}
