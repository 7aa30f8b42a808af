// ABOUTME: Conversation audit log store methods (SQLite)
// ABOUTME: Append-only: entries are inserted and listed, never updated or deleted

package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ValidAuditActions lists the audit actions the gateway writes.
var ValidAuditActions = []AuditAction{
	AuditConversationCreated,
	AuditStatusChanged,
	AuditKeyExchanged,
	AuditKeyRotated,
	AuditMessageDeleted,
	AuditMeetingScheduled,
	AuditDocumentUploaded,
	AuditTaskCreated,
	AuditTaskUpdated,
	AuditScreenShareStarted,
	AuditScreenShareEnded,
}

// prepareAuditEntry generates ID and Timestamp if not set.
func prepareAuditEntry(e *AuditEntry) {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
}

// AppendAuditEntry appends a new entry to a conversation's audit log.
func (s *SQLiteStore) AppendAuditEntry(ctx context.Context, e *AuditEntry) error {
	prepareAuditEntry(e)

	query := `
		INSERT INTO conversation_audit (audit_id, conversation_id, action, actor_id, detail, origin, client_descriptor, ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		e.ID,
		e.ConversationID,
		string(e.Action),
		e.ActorID,
		e.Detail,
		e.Origin,
		e.ClientDescriptor,
		formatTime(e.Timestamp),
	)
	if err != nil {
		return fmt.Errorf("inserting audit entry: %w", err)
	}

	s.logger.Debug("appended audit entry",
		"id", e.ID,
		"conversation_id", e.ConversationID,
		"actor", e.ActorID,
		"action", e.Action,
	)
	return nil
}

// scanAuditEntry scans a row into an AuditEntry.
func scanAuditEntry(scanner interface{ Scan(dest ...any) error }) (*AuditEntry, error) {
	var e AuditEntry
	var action, ts string

	if err := scanner.Scan(
		&e.ID,
		&e.ConversationID,
		&action,
		&e.ActorID,
		&e.Detail,
		&e.Origin,
		&e.ClientDescriptor,
		&ts,
	); err != nil {
		return nil, fmt.Errorf("scanning audit entry: %w", err)
	}

	e.Action = AuditAction(action)
	var err error
	if e.Timestamp, err = parseTime(ts); err != nil {
		return nil, fmt.Errorf("parsing timestamp: %w", err)
	}
	return &e, nil
}

// ListAuditEntries returns the complete audit log of a conversation in append order.
func (s *SQLiteStore) ListAuditEntries(ctx context.Context, conversationID string) ([]*AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT audit_id, conversation_id, action, actor_id, detail, origin, client_descriptor, ts
		FROM conversation_audit
		WHERE conversation_id = ?
		ORDER BY seq ASC
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("querying audit log: %w", err)
	}
	defer func() { _ = rows.Close() }()

	entries := []*AuditEntry{}
	for rows.Next() {
		e, err := scanAuditEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit entries: %w", err)
	}
	return entries, nil
}
