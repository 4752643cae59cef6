package main

import (
	"flag"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/bww-labs/souqbot/internal/api"
	"github.com/bww-labs/souqbot/internal/catalog"
	"github.com/bww-labs/souqbot/internal/genai"
	"github.com/bww-labs/souqbot/internal/lockfile"
	"github.com/bww-labs/souqbot/internal/messaging"
	"github.com/bww-labs/souqbot/internal/store"
	"github.com/bww-labs/souqbot/internal/util"
	"github.com/joho/godotenv"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for souqbot state data
	DefaultStateDir = "/var/lib/souqbot"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "souqbot.db"
	// DefaultConversationTTL is the inactivity window after which a
	// conversation is treated as expired
	DefaultConversationTTL = 24 * time.Hour
)

func main() {
	// Initialize structured logger
	initializeLogger()

	// Load environment configuration
	config := loadEnvironmentConfig()

	// Parse command line flags
	flags := parseCommandLineFlags(config)

	// Ensure required directories exist
	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	// A file-backed chat store must not be shared between instances
	if store.DetectDSNType(*flags.chatDSN) == "sqlite" {
		lock, err := lockfile.AcquireLock(filepath.Dir(*flags.chatDSN))
		if err != nil {
			slog.Error("Failed to lock state directory", "error", err)
			os.Exit(1)
		}
		defer lock.Release()
	}

	// Build module options
	storeOpts := buildStoreOptions(flags)
	catalogOpts := buildCatalogOptions(flags)
	genaiOpts := buildGenAIOptions(flags)
	msgOpts := buildMessagingOptions(flags)
	apiOpts := buildAPIOptions(flags)

	// Start the service
	slog.Info("Bootstrapping souqbot with configured modules")
	slog.Debug("Module options counts", "store", len(storeOpts), "catalog", len(catalogOpts), "genai", len(genaiOpts), "messaging", len(msgOpts), "api", len(apiOpts))
	slog.Debug("Final configuration", "state_dir", *flags.stateDir, "chat_dsn_set", *flags.chatDSN != "", "catalog_dsn_set", *flags.catalogDSN != "", "api_addr", *flags.apiAddr)
	if err := api.Run(storeOpts, catalogOpts, genaiOpts, msgOpts, apiOpts); err != nil {
		slog.Error("souqbot failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("souqbot exited successfully")
}

// Config holds environment configuration
type Config struct {
	ChatDSN       string
	CatalogDSN    string
	DatabaseURL   string
	StateDir      string
	Provider      string
	GeminiKey     string
	OpenAIKey     string
	Model         string
	Backend       string
	PhoneNumberID string
	WhatsAppToken string
	TwilioSID     string
	TwilioToken   string
	TwilioFrom    string
	WhatsmeowDSN  string
	VerifyToken   string
	DebugToken    string
	APIAddr       string
	TTL           time.Duration
}

// Flags holds command line flag values
type Flags struct {
	stateDir      *string
	chatDSN       *string
	catalogDSN    *string
	provider      *string
	apiKey        *string
	model         *string
	backend       *string
	phoneNumberID *string
	accessToken   *string
	twilioSID     *string
	twilioToken   *string
	twilioFrom    *string
	whatsmeowDSN  *string
	qrOutput      *string
	numeric       *bool
	verifyToken   *string
	debugToken    *string
	apiAddr       *string
	ttl           *time.Duration
}

// initializeLogger sets up structured logging
func initializeLogger() {
	level := slog.LevelInfo
	if util.ParseBoolEnv("SOUQBOT_DEBUG", false) {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		ChatDSN:       os.Getenv("CHAT_DB_DSN"),
		CatalogDSN:    os.Getenv("CATALOG_DB_DSN"),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		StateDir:      os.Getenv("SOUQBOT_STATE_DIR"),
		Provider:      os.Getenv("GENAI_PROVIDER"),
		GeminiKey:     os.Getenv("GEMINI_API_KEY"),
		OpenAIKey:     os.Getenv("OPENAI_API_KEY"),
		Model:         os.Getenv("GENAI_MODEL"),
		Backend:       os.Getenv("MESSAGING_BACKEND"),
		PhoneNumberID: os.Getenv("PHONE_NUMBER_ID"),
		WhatsAppToken: os.Getenv("WHATSAPP_TOKEN"),
		TwilioSID:     os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioToken:   os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioFrom:    os.Getenv("TWILIO_FROM_NUMBER"),
		WhatsmeowDSN:  os.Getenv("WHATSMEOW_DB_DSN"),
		VerifyToken:   os.Getenv("VERIFY_TOKEN"),
		DebugToken:    os.Getenv("DEBUG_TOKEN"),
		APIAddr:       os.Getenv("API_ADDR"),
		TTL:           util.ParseDurationEnv("CONVERSATION_TTL", DefaultConversationTTL),
	}

	// Set default state directory if not specified
	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No SOUQBOT_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	}

	// Default to DATABASE_URL for the chat store if specific not set
	if config.ChatDSN == "" {
		config.ChatDSN = config.DatabaseURL
		if config.DatabaseURL != "" {
			slog.Debug("Using DATABASE_URL as CHAT_DB_DSN", "dsn_set", true)
		}
	}

	// If no chat DSN is provided, default to SQLite in the state directory
	if config.ChatDSN == "" {
		config.ChatDSN = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No chat DSN provided, defaulting to SQLite", "sqlite_path", config.ChatDSN)
	}

	// The catalog is read from the storefront's own Postgres database; fall
	// back to DATABASE_URL so single-database deployments need one variable.
	if config.CatalogDSN == "" {
		config.CatalogDSN = config.DatabaseURL
	}

	slog.Debug("environment variables loaded",
		"CHAT_DB_DSN_SET", config.ChatDSN != "",
		"CATALOG_DB_DSN_SET", config.CatalogDSN != "",
		"SOUQBOT_STATE_DIR", config.StateDir,
		"GENAI_PROVIDER", config.Provider,
		"GEMINI_API_KEY_SET", config.GeminiKey != "",
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"MESSAGING_BACKEND", config.Backend,
		"PHONE_NUMBER_ID_SET", config.PhoneNumberID != "",
		"WHATSAPP_TOKEN_SET", config.WhatsAppToken != "",
		"VERIFY_TOKEN_SET", config.VerifyToken != "",
		"API_ADDR", config.APIAddr,
		"CONVERSATION_TTL", config.TTL)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	apiKey := config.GeminiKey
	if config.Provider == genai.ProviderOpenAI {
		apiKey = config.OpenAIKey
	}

	flags := Flags{
		stateDir:      flag.String("state-dir", config.StateDir, "state directory for souqbot data (overrides $SOUQBOT_STATE_DIR)"),
		chatDSN:       flag.String("chat-dsn", config.ChatDSN, "database DSN for the conversation store (overrides $CHAT_DB_DSN or $DATABASE_URL)"),
		catalogDSN:    flag.String("catalog-dsn", config.CatalogDSN, "PostgreSQL DSN for the product catalog (overrides $CATALOG_DB_DSN)"),
		provider:      flag.String("genai-provider", config.Provider, "language model provider: gemini or openai (overrides $GENAI_PROVIDER)"),
		apiKey:        flag.String("genai-api-key", apiKey, "language model API key (overrides $GEMINI_API_KEY or $OPENAI_API_KEY)"),
		model:         flag.String("genai-model", config.Model, "language model name (overrides $GENAI_MODEL)"),
		backend:       flag.String("messaging-backend", config.Backend, "messaging backend: meta, twilio or whatsmeow (overrides $MESSAGING_BACKEND)"),
		phoneNumberID: flag.String("phone-number-id", config.PhoneNumberID, "Meta phone number id (overrides $PHONE_NUMBER_ID)"),
		accessToken:   flag.String("whatsapp-token", config.WhatsAppToken, "Meta access token (overrides $WHATSAPP_TOKEN)"),
		twilioSID:     flag.String("twilio-sid", config.TwilioSID, "Twilio account SID (overrides $TWILIO_ACCOUNT_SID)"),
		twilioToken:   flag.String("twilio-token", config.TwilioToken, "Twilio auth token (overrides $TWILIO_AUTH_TOKEN)"),
		twilioFrom:    flag.String("twilio-from", config.TwilioFrom, "Twilio WhatsApp sender number (overrides $TWILIO_FROM_NUMBER)"),
		whatsmeowDSN:  flag.String("whatsmeow-dsn", config.WhatsmeowDSN, "database DSN for whatsmeow session state (overrides $WHATSMEOW_DB_DSN)"),
		qrOutput:      flag.String("qr-output", "", "path to write whatsmeow login QR code"),
		numeric:       flag.Bool("numeric-code", false, "use numeric whatsmeow login code instead of QR code"),
		verifyToken:   flag.String("verify-token", config.VerifyToken, "webhook verification token (overrides $VERIFY_TOKEN)"),
		debugToken:    flag.String("debug-token", config.DebugToken, "token enabling the debug endpoints (overrides $DEBUG_TOKEN)"),
		apiAddr:       flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		ttl:           flag.Duration("conversation-ttl", config.TTL, "conversation inactivity TTL (overrides $CONVERSATION_TTL)"),
	}

	flag.Parse()

	slog.Debug("flags parsed",
		"stateDir", *flags.stateDir,
		"chatDSN_set", *flags.chatDSN != "",
		"catalogDSN_set", *flags.catalogDSN != "",
		"provider", *flags.provider,
		"apiKeySet", *flags.apiKey != "",
		"backend", *flags.backend,
		"apiAddr", *flags.apiAddr,
		"ttl", *flags.ttl)

	// Update chat DSN if not explicitly set but state directory is provided
	if *flags.chatDSN == config.ChatDSN && config.ChatDSN == filepath.Join(config.StateDir, DefaultDBFileName) && *flags.stateDir != config.StateDir {
		*flags.chatDSN = filepath.Join(*flags.stateDir, DefaultDBFileName)
		slog.Debug("Updated chat DSN based on state directory", "old_state_dir", config.StateDir, "new_state_dir", *flags.stateDir)
	}

	return flags
}

// ensureDirectoriesExist creates necessary directories for file-based storage
func ensureDirectoriesExist(flags Flags) error {
	if store.DetectDSNType(*flags.chatDSN) == "sqlite" {
		stateDir := filepath.Dir(*flags.chatDSN)
		slog.Debug("Creating state directory for file-based database", "state_dir", stateDir)
		if err := os.MkdirAll(stateDir, 0755); err != nil {
			slog.Error("Failed to create state directory", "error", err, "state_dir", stateDir)
			return err
		}
	}
	return nil
}

// buildStoreOptions constructs conversation store configuration options
func buildStoreOptions(flags Flags) []store.Option {
	var storeOpts []store.Option
	if *flags.chatDSN != "" {
		if store.DetectDSNType(*flags.chatDSN) == "postgres" {
			slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store", "dsn_type", "postgresql")
			storeOpts = append(storeOpts, store.WithPostgresDSN(*flags.chatDSN))
		} else {
			slog.Debug("Detected SQLite DSN, configuring SQLite store", "dsn_type", "sqlite", "db_path", *flags.chatDSN)
			storeOpts = append(storeOpts, store.WithSQLiteDSN(*flags.chatDSN))
		}
	}
	if *flags.ttl > 0 {
		storeOpts = append(storeOpts, store.WithConversationTTL(*flags.ttl))
	}
	return storeOpts
}

// buildCatalogOptions constructs catalog configuration options
func buildCatalogOptions(flags Flags) []catalog.Option {
	var catalogOpts []catalog.Option
	if *flags.catalogDSN != "" {
		catalogOpts = append(catalogOpts, catalog.WithDSN(*flags.catalogDSN))
	}
	return catalogOpts
}

// buildGenAIOptions constructs language model configuration options
func buildGenAIOptions(flags Flags) []genai.Option {
	var genaiOpts []genai.Option
	if *flags.provider != "" {
		genaiOpts = append(genaiOpts, genai.WithProvider(*flags.provider))
	}
	if *flags.apiKey != "" {
		genaiOpts = append(genaiOpts, genai.WithAPIKey(*flags.apiKey))
	}
	if *flags.model != "" {
		genaiOpts = append(genaiOpts, genai.WithModel(*flags.model))
	}
	return genaiOpts
}

// buildMessagingOptions constructs messaging configuration options
func buildMessagingOptions(flags Flags) []messaging.Option {
	var msgOpts []messaging.Option
	if *flags.backend != "" {
		msgOpts = append(msgOpts, messaging.WithBackend(*flags.backend))
	}
	if *flags.phoneNumberID != "" {
		msgOpts = append(msgOpts, messaging.WithPhoneNumberID(*flags.phoneNumberID))
	}
	if *flags.accessToken != "" {
		msgOpts = append(msgOpts, messaging.WithAccessToken(*flags.accessToken))
	}
	if *flags.twilioSID != "" || *flags.twilioToken != "" || *flags.twilioFrom != "" {
		msgOpts = append(msgOpts, messaging.WithTwilioCredentials(*flags.twilioSID, *flags.twilioToken, *flags.twilioFrom))
	}
	if *flags.whatsmeowDSN != "" {
		msgOpts = append(msgOpts, messaging.WithWhatsmeowDBDSN(*flags.whatsmeowDSN))
	}
	if *flags.qrOutput != "" {
		msgOpts = append(msgOpts, messaging.WithQRCodeOutput(*flags.qrOutput))
	}
	if *flags.numeric {
		msgOpts = append(msgOpts, messaging.WithNumericCode())
	}
	return msgOpts
}

// buildAPIOptions constructs API server configuration options
func buildAPIOptions(flags Flags) []api.Option {
	var apiOpts []api.Option
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	if *flags.verifyToken != "" {
		apiOpts = append(apiOpts, api.WithVerifyToken(*flags.verifyToken))
	}
	if *flags.debugToken != "" {
		apiOpts = append(apiOpts, api.WithDebugToken(*flags.debugToken))
	}
	return apiOpts
}
