package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/mdp/qrterminal/v3"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	waLog "go.mau.fi/whatsmeow/util/log"

	"github.com/bww-labs/souqbot/internal/store"
)

const (
	// defaultWhatsmeowDBPath is the default whatsmeow session database.
	defaultWhatsmeowDBPath = "/var/lib/souqbot/whatsmeow.db"
	// jidSuffix is the WhatsApp JID suffix for regular users.
	jidSuffix = "s.whatsapp.net"
)

// WhatsmeowSender sends messages from a directly logged-in WhatsApp account.
// Intended for development and testing channels where no Cloud API number is
// provisioned.
type WhatsmeowSender struct {
	waClient *whatsmeow.Client
}

var _ Sender = (*WhatsmeowSender)(nil)

// NewWhatsmeowSender builds the whatsmeow backend, running the QR or numeric
// login flow when no session exists yet.
func NewWhatsmeowSender(cfg Opts) (*WhatsmeowSender, error) {
	dbDSN := cfg.WhatsmeowDBDSN
	if dbDSN == "" {
		dbDSN = defaultWhatsmeowDBPath
		slog.Debug("No whatsmeow database DSN provided, using default SQLite path", "default_path", dbDSN)
	}

	var dbDriver string
	if store.DetectDSNType(dbDSN) == "postgres" {
		dbDriver = "postgres"
	} else {
		dbDriver = "sqlite3"
		if !strings.Contains(dbDSN, "foreign_keys") {
			slog.Warn("whatsmeow SQLite database does not appear to have foreign keys enabled, "+
				"consider adding '?_foreign_keys=on' to the connection string",
				"dsn_example", "file:"+dbDSN+"?_foreign_keys=on")
		}
	}

	ctx := context.Background()
	container, err := sqlstore.New(ctx, dbDriver, dbDSN, waLog.Stdout("Database", "INFO", true))
	if err != nil {
		slog.Error("Failed to initialize whatsmeow DB store", "error", err)
		return nil, fmt.Errorf("failed to initialize whatsmeow database store: %w", err)
	}

	deviceStore, err := container.GetFirstDevice(ctx)
	if err != nil {
		slog.Error("Failed to get first device from whatsmeow store", "error", err)
		return nil, fmt.Errorf("failed to get device from whatsmeow store: %w", err)
	}

	waClient := whatsmeow.NewClient(deviceStore, waLog.Stdout("Client", "INFO", true))

	if waClient.Store.ID == nil {
		slog.Info("WhatsApp login required; starting QR code flow")
		qrChan, _ := waClient.GetQRChannel(context.Background())
		if err := waClient.Connect(); err != nil {
			slog.Error("Failed to connect to WhatsApp during login", "error", err)
			return nil, fmt.Errorf("failed to connect during login: %w", err)
		}
		writer := io.Writer(os.Stdout)
		if cfg.QRPath != "" {
			f, ferr := os.Create(cfg.QRPath)
			if ferr != nil {
				slog.Error("Failed to create QR file", "error", ferr)
				return nil, fmt.Errorf("failed to create QR file: %w", ferr)
			}
			defer f.Close()
			writer = f
		}
		for evt := range qrChan {
			if evt.Event == "code" {
				if cfg.NumericCode {
					fmt.Fprintln(writer, evt.Code)
				} else {
					qrterminal.GenerateHalfBlock(evt.Code, qrterminal.L, writer)
				}
			} else {
				slog.Debug("WhatsApp login event", "event", evt.Event)
			}
		}
	} else {
		slog.Debug("WhatsApp already logged in, connecting to server")
		if err := waClient.Connect(); err != nil {
			slog.Error("Failed to connect to WhatsApp server", "error", err)
			return nil, fmt.Errorf("failed to connect to WhatsApp server: %w", err)
		}
	}
	slog.Info("Whatsmeow client connected")
	return &WhatsmeowSender{waClient: waClient}, nil
}

// Send delivers one message over the logged-in account. The send receipt is
// returned as JSON for the caller to log.
func (s *WhatsmeowSender) Send(ctx context.Context, to string, body string) (string, error) {
	if s.waClient == nil {
		return "", fmt.Errorf("whatsmeow client not initialized")
	}
	canonicalTo, err := ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("WhatsmeowSender recipient validation failed", "error", err, "to", to)
		return "", err
	}
	if body == "" {
		return "", fmt.Errorf("message body cannot be empty")
	}

	jid := types.NewJID(canonicalTo, jidSuffix)
	resp, err := s.waClient.SendMessage(ctx, jid, &waE2E.Message{Conversation: &body})
	if err != nil {
		slog.Error("Failed to send whatsmeow message", "error", err, "to", canonicalTo)
		return "", fmt.Errorf("failed to send message to %s: %w", canonicalTo, err)
	}

	raw, err := json.Marshal(map[string]any{
		"id":        resp.ID,
		"timestamp": resp.Timestamp.Unix(),
	})
	if err != nil {
		return "", fmt.Errorf("marshal whatsmeow receipt: %w", err)
	}
	slog.Debug("Whatsmeow message sent", "to", canonicalTo)
	return string(raw), nil
}

// Disconnect closes the WhatsApp connection.
func (s *WhatsmeowSender) Disconnect() {
	if s.waClient != nil {
		s.waClient.Disconnect()
	}
}
