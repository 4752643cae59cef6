package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/bww-labs/souqbot/internal/models"
)

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// clampLimit bounds a caller-supplied limit, applying def when unset.
func clampLimit(limit, def, max int) int {
	if limit <= 0 {
		return def
	}
	if limit > max {
		return max
	}
	return limit
}

// scanMessages scans chat message rows.
func scanMessages(rows *sql.Rows) ([]models.StoredMessage, error) {
	var msgs []models.StoredMessage
	for rows.Next() {
		var m models.StoredMessage
		var providerID sql.NullString
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Direction, &m.Text, &providerID, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message failed: %w", err)
		}
		m.ProviderMessageID = providerID.String
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate message rows failed: %w", err)
	}
	return msgs, nil
}

// reverseMessages flips a DESC-ordered fetch into chronological order.
func reverseMessages(msgs []models.StoredMessage) {
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
}

// scanEvents scans audit event rows, decoding the JSON payload column.
func scanEvents(rows *sql.Rows) ([]models.EventRecord, error) {
	var events []models.EventRecord
	for rows.Next() {
		var e models.EventRecord
		var convID sql.NullInt64
		var payloadJSON string
		if err := rows.Scan(&e.ID, &convID, &e.CorrelationID, &e.EventType, &payloadJSON, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event failed: %w", err)
		}
		e.ConversationID = convID.Int64
		if err := json.Unmarshal([]byte(payloadJSON), &e.Payload); err != nil {
			e.Payload = map[string]any{"_raw": payloadJSON}
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate event rows failed: %w", err)
	}
	return events, nil
}
