// Package ledger provides an append-only journal of the commands sent to
// the matrix and of broker connection changes.
package ledger

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// EventType represents the type of event in the ledger
type EventType string

const (
	EventCommandSent     EventType = "command_sent"
	EventCommandRejected EventType = "command_rejected"
	EventConnected       EventType = "connected"
	EventDisconnected    EventType = "disconnected"
	EventTransportError  EventType = "transport_error"
)

// Entry represents a single event in the ledger
type Entry struct {
	ID        int64          `json:"id"`
	EventType EventType      `json:"event_type"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload,omitempty"`
	Source    string         `json:"source,omitempty"`
	ClientID  string         `json:"client_id,omitempty"`
}

// Ledger provides append-only event logging
type Ledger struct {
	db       *sql.DB
	clientID string
	now      func() time.Time
}

// New creates a new Ledger using the provided database connection.
// clientID tags every entry with the broker identity of this process.
func New(db *sql.DB, clientID string) *Ledger {
	return &Ledger{db: db, clientID: clientID, now: time.Now}
}

// Append adds a new event to the ledger
func (l *Ledger) Append(eventType EventType, source string, payload map[string]any) error {
	var payloadJSON []byte
	var err error

	if payload != nil {
		payloadJSON, err = json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal payload: %w", err)
		}
	}

	_, err = l.db.Exec(
		`INSERT INTO event_ledger (event_type, timestamp, payload, source, client_id) VALUES (?, ?, ?, ?, ?)`,
		string(eventType), l.now().UTC().UnixMilli(), string(payloadJSON), source, l.clientID,
	)
	return err
}

// DefaultLimit caps a query that names no limit.
const DefaultLimit = 100

// Filter selects entries. Zero fields match everything.
type Filter struct {
	Type  EventType
	Since time.Time
	Until time.Time
	Limit int
}

// Find returns the entries matching f, newest first.
func (l *Ledger) Find(f Filter) ([]*Entry, error) {
	var (
		where []string
		args  []any
	)
	if f.Type != "" {
		where = append(where, "event_type = ?")
		args = append(args, string(f.Type))
	}
	if !f.Since.IsZero() {
		where = append(where, "timestamp >= ?")
		args = append(args, f.Since.UnixMilli())
	}
	if !f.Until.IsZero() {
		where = append(where, "timestamp <= ?")
		args = append(args, f.Until.UnixMilli())
	}

	query := `SELECT id, event_type, timestamp, payload, source, client_id FROM event_ledger`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id DESC LIMIT ?"

	limit := f.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	args = append(args, limit)

	rows, err := l.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return l.scanEntries(rows)
}

// ParseEventType accepts the name of a known event type.
func ParseEventType(s string) (EventType, error) {
	switch t := EventType(s); t {
	case EventCommandSent, EventCommandRejected, EventConnected, EventDisconnected, EventTransportError:
		return t, nil
	}
	return "", fmt.Errorf("unknown event type %q", s)
}

// ParseSince reads a lower time bound given either as RFC3339 or as a
// duration back from now, such as "90m".
func ParseSince(s string, now time.Time) (time.Time, error) {
	if d, err := time.ParseDuration(s); err == nil {
		if d < 0 {
			return time.Time{}, fmt.Errorf("negative duration %q", s)
		}
		return now.Add(-d), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("since must be RFC3339 or a duration: %q", s)
	}
	return t, nil
}

// DeleteOlderThan removes entries older than the specified duration (retention policy)
func (l *Ledger) DeleteOlderThan(retention time.Duration) (int64, error) {
	cutoff := l.now().Add(-retention).UnixMilli()
	result, err := l.db.Exec(`
		DELETE FROM event_ledger WHERE timestamp < ?
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (l *Ledger) scanEntries(rows *sql.Rows) ([]*Entry, error) {
	var entries []*Entry
	for rows.Next() {
		var entry Entry
		var payloadStr sql.NullString
		var source, clientID sql.NullString
		var timestamp int64

		err := rows.Scan(
			&entry.ID, &entry.EventType, &timestamp, &payloadStr, &source, &clientID,
		)
		if err != nil {
			return nil, err
		}

		entry.Timestamp = time.UnixMilli(timestamp).UTC()
		entry.Source = source.String
		entry.ClientID = clientID.String

		if payloadStr.Valid && payloadStr.String != "" {
			entry.Payload = make(map[string]any)
			if err := json.Unmarshal([]byte(payloadStr.String), &entry.Payload); err != nil {
				return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
			}
		}

		entries = append(entries, &entry)
	}

	return entries, rows.Err()
}
