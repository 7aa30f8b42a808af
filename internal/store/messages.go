// ABOUTME: SQLite message arena: one row per envelope keyed by conversation
// ABOUTME: Appends are single INSERTs and status transitions are conditional UPDATEs

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

const messageColumns = `
	message_id, conversation_id, sender_id, recipient_id, ciphertext, integrity_hash,
	signature, message_type, attachments_json, idempotency_key, status,
	created_at, delivered_at, read_at, deleted, deleted_at, expires_at
`

// AppendMessage inserts a message and bumps the conversation's last activity.
// Both writes happen in one transaction; neither rewrites the conversation's log.
func (s *SQLiteStore) AppendMessage(ctx context.Context, msg *Message) error {
	attachments, err := marshalAttachments(msg.Attachments)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (`+messageColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		msg.ID, msg.ConversationID, msg.SenderID, msg.RecipientID, msg.Ciphertext, msg.IntegrityHash,
		msg.Signature, msg.MessageType, attachments, msg.IdempotencyKey, string(msg.Status),
		formatTime(msg.CreatedAt), formatTimePtr(msg.DeliveredAt), formatTimePtr(msg.ReadAt),
		msg.Deleted, formatTimePtr(msg.DeletedAt), formatTimePtr(msg.ExpiresAt),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateMessage
		}
		return fmt.Errorf("inserting message: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE conversations SET last_activity_at = ? WHERE conversation_id = ? AND last_activity_at < ?`,
		formatTime(msg.CreatedAt), msg.ConversationID, formatTime(msg.CreatedAt))
	if err != nil {
		return fmt.Errorf("updating last activity: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing message: %w", err)
	}
	return nil
}

func marshalAttachments(attachments []Attachment) (*string, error) {
	if len(attachments) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(attachments)
	if err != nil {
		return nil, fmt.Errorf("marshaling attachments: %w", err)
	}
	str := string(data)
	return &str, nil
}

func unmarshalAttachments(data *string) ([]Attachment, error) {
	if data == nil || *data == "" {
		return nil, nil
	}
	var attachments []Attachment
	if err := json.Unmarshal([]byte(*data), &attachments); err != nil {
		return nil, fmt.Errorf("unmarshaling attachments: %w", err)
	}
	return attachments, nil
}

// scanMessage scans a row into a Message.
func scanMessage(scanner interface{ Scan(dest ...any) error }) (*Message, error) {
	var m Message
	var status, createdAt string
	var attachments, deliveredAt, readAt, deletedAt, expiresAt *string

	if err := scanner.Scan(
		&m.ID, &m.ConversationID, &m.SenderID, &m.RecipientID, &m.Ciphertext, &m.IntegrityHash,
		&m.Signature, &m.MessageType, &attachments, &m.IdempotencyKey, &status,
		&createdAt, &deliveredAt, &readAt, &m.Deleted, &deletedAt, &expiresAt,
	); err != nil {
		return nil, err
	}

	m.Status = MessageStatus(status)

	var err error
	if m.Attachments, err = unmarshalAttachments(attachments); err != nil {
		return nil, err
	}
	if m.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if m.DeliveredAt, err = parseTimePtr(deliveredAt); err != nil {
		return nil, fmt.Errorf("parsing delivered_at: %w", err)
	}
	if m.ReadAt, err = parseTimePtr(readAt); err != nil {
		return nil, fmt.Errorf("parsing read_at: %w", err)
	}
	if m.DeletedAt, err = parseTimePtr(deletedAt); err != nil {
		return nil, fmt.Errorf("parsing deleted_at: %w", err)
	}
	if m.ExpiresAt, err = parseTimePtr(expiresAt); err != nil {
		return nil, fmt.Errorf("parsing expires_at: %w", err)
	}
	return &m, nil
}

// GetMessage retrieves one message of a conversation.
func (s *SQLiteStore) GetMessage(ctx context.Context, conversationID, messageID string) (*Message, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE conversation_id = ? AND message_id = ?`,
		conversationID, messageID)
	m, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying message: %w", err)
	}
	return m, nil
}

// GetMessageByIdempotencyKey finds the message a sender submitted with key.
func (s *SQLiteStore) GetMessageByIdempotencyKey(ctx context.Context, conversationID, senderID, key string) (*Message, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE conversation_id = ? AND sender_id = ? AND idempotency_key = ?`,
		conversationID, senderID, key)
	m, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying message by idempotency key: %w", err)
	}
	return m, nil
}

// ListMessages returns messages newest first, optionally only those created before q.Before.
func (s *SQLiteStore) ListMessages(ctx context.Context, q MessageQuery) ([]*Message, error) {
	var before *string
	if q.Before != nil {
		before = formatTimePtr(q.Before)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE conversation_id = ?
		  AND (? IS NULL OR created_at < ?)
		  AND (? OR deleted = 0)
		ORDER BY created_at DESC, seq DESC
		LIMIT ?
	`, q.ConversationID, before, before, q.IncludeDeleted, q.Limit)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	messages := []*Message{}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating messages: %w", err)
	}
	return messages, nil
}

// MarkMessageDelivered is a compare-and-swap from sent to delivered.
func (s *SQLiteStore) MarkMessageDelivered(ctx context.Context, conversationID, messageID string, at time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE messages SET status = 'delivered', delivered_at = ?
		WHERE conversation_id = ? AND message_id = ? AND status = 'sent'
	`, formatTime(at), conversationID, messageID)
	if err != nil {
		return false, fmt.Errorf("marking delivered: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking rows affected: %w", err)
	}
	return n > 0, nil
}

// MarkMessagesRead moves the listed messages addressed to recipientID to read.
// Messages already read are left untouched so read_at is only ever set once.
func (s *SQLiteStore) MarkMessagesRead(ctx context.Context, conversationID, recipientID string, messageIDs []string, at time.Time) ([]string, error) {
	if len(messageIDs) == 0 {
		return []string{}, nil
	}

	ts := formatTime(at)
	args := []any{ts, ts, conversationID, recipientID}
	placeholders := make([]string, len(messageIDs))
	for i, id := range messageIDs {
		placeholders[i] = "?"
		args = append(args, id)
	}

	query := fmt.Sprintf(`
		UPDATE messages SET status = 'read', read_at = ?, delivered_at = COALESCE(delivered_at, ?)
		WHERE conversation_id = ? AND recipient_id = ? AND status <> 'read'
		  AND message_id IN (%s)
		RETURNING message_id
	`, strings.Join(placeholders, ", "))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("marking read: %w", err)
	}
	defer func() { _ = rows.Close() }()

	changed := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning read message id: %w", err)
		}
		changed = append(changed, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating read message ids: %w", err)
	}
	return changed, nil
}

// SoftDeleteMessage hides a message without removing the envelope.
func (s *SQLiteStore) SoftDeleteMessage(ctx context.Context, conversationID, messageID string, at time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE messages SET deleted = 1, deleted_at = COALESCE(deleted_at, ?)
		WHERE conversation_id = ? AND message_id = ?
	`, formatTime(at), conversationID, messageID)
	if err != nil {
		return fmt.Errorf("soft deleting message: %w", err)
	}
	return requireAffected(result)
}

// CountUnread counts visible messages addressed to recipientID that are not yet read.
func (s *SQLiteStore) CountUnread(ctx context.Context, conversationID, recipientID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM messages
		WHERE conversation_id = ? AND recipient_id = ? AND status <> 'read' AND deleted = 0
	`, conversationID, recipientID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting unread: %w", err)
	}
	return n, nil
}
