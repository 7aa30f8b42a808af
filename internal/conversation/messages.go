// ABOUTME: Message envelope handler: send, history, delivery and read receipts, soft delete
// ABOUTME: Status transitions are conditional store updates so they only ever move forward

package conversation

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/2389/workroom-gateway/internal/dedupe"
	"github.com/2389/workroom-gateway/internal/store"
)

// BasicModeSignature is the value older clients send instead of a signature.
const BasicModeSignature = "basic-mode"

// SendMessageInput is an envelope submitted by a party.
type SendMessageInput struct {
	Ciphertext     string             `json:"ciphertext" validate:"required"`
	IntegrityHash  string             `json:"integrity_hash" validate:"required"`
	Signature      *string            `json:"signature,omitempty"`
	MessageType    string             `json:"message_type,omitempty" validate:"omitempty,oneof=text file image system"`
	Attachments    []store.Attachment `json:"attachments,omitempty" validate:"omitempty,dive"`
	IdempotencyKey *string            `json:"idempotency_key,omitempty" validate:"omitempty,max=128"`
	ExpiresAt      *time.Time         `json:"expires_at,omitempty"`
}

// SendResult is returned to the sender.
type SendResult struct {
	MessageID string              `json:"message_id"`
	CreatedAt time.Time           `json:"created_at"`
	Status    store.MessageStatus `json:"status"`
	Duplicate bool                `json:"duplicate,omitempty"`
}

// normalizeSignature maps the empty string and the basic-mode sentinel to absent.
func normalizeSignature(sig *string) *string {
	if sig == nil || *sig == "" || *sig == BasicModeSignature {
		return nil
	}
	v := *sig
	return &v
}

// SendMessage appends an envelope from the caller to the other party. The
// message is promoted to delivered at once when the recipient is online.
func (s *Service) SendMessage(ctx context.Context, conversationID, callerID string, in SendMessageInput) (*SendResult, error) {
	if err := s.validate.Struct(in); err != nil {
		return nil, validationError(err)
	}
	c, party, err := s.loadActiveParty(ctx, conversationID, callerID)
	if err != nil {
		return nil, err
	}

	var idemKey string
	if in.IdempotencyKey != nil && *in.IdempotencyKey != "" {
		idemKey = dedupe.Key(c.ID, callerID, *in.IdempotencyKey)
		if messageID, ok := s.recent.Lookup(idemKey); ok {
			if original, err := s.store.GetMessage(ctx, c.ID, messageID); err == nil {
				return duplicateResult(original), nil
			}
		}
	} else {
		in.IdempotencyKey = nil
	}

	messageType := in.MessageType
	if messageType == "" {
		messageType = "text"
	}

	now := s.now()
	msg := &store.Message{
		ID:             uuid.New().String(),
		ConversationID: c.ID,
		SenderID:       party.Self,
		RecipientID:    party.Other,
		Ciphertext:     in.Ciphertext,
		IntegrityHash:  in.IntegrityHash,
		Signature:      normalizeSignature(in.Signature),
		MessageType:    messageType,
		Attachments:    in.Attachments,
		IdempotencyKey: in.IdempotencyKey,
		Status:         store.MessageSent,
		CreatedAt:      now,
		ExpiresAt:      in.ExpiresAt,
	}

	err = s.store.AppendMessage(ctx, msg)
	if errors.Is(err, store.ErrDuplicateMessage) && in.IdempotencyKey != nil {
		original, lookupErr := s.store.GetMessageByIdempotencyKey(ctx, c.ID, callerID, *in.IdempotencyKey)
		if lookupErr != nil {
			return nil, s.storeError(lookupErr, "message")
		}
		s.recent.Remember(idemKey, original.ID)
		return duplicateResult(original), nil
	}
	if err != nil {
		return nil, s.storeError(err, "conversation")
	}
	if idemKey != "" {
		s.recent.Remember(idemKey, msg.ID)
	}

	if s.notifier.IsOnline(ctx, party.Other) {
		changed, err := s.store.MarkMessageDelivered(ctx, c.ID, msg.ID, now)
		if err != nil {
			s.logger.Warn("failed to promote message to delivered",
				"conversation_id", c.ID,
				"message_id", msg.ID,
				"error", err)
		} else if changed {
			msg.Status = store.MessageDelivered
			msg.DeliveredAt = &now
			s.notifier.Notify(ctx, party.Self, EventMessageDelivered, deliveredPayload(msg))
		}
	}

	s.notifier.Notify(ctx, party.Other, EventEncryptedMessage, newMessageView(msg))

	s.logger.Debug("message appended",
		"conversation_id", c.ID,
		"message_id", msg.ID,
		"sender", msg.SenderID,
		"status", msg.Status)

	return &SendResult{
		MessageID: msg.ID,
		CreatedAt: msg.CreatedAt,
		Status:    msg.Status,
	}, nil
}

func duplicateResult(m *store.Message) *SendResult {
	return &SendResult{
		MessageID: m.ID,
		CreatedAt: m.CreatedAt,
		Status:    m.Status,
		Duplicate: true,
	}
}

func deliveredPayload(m *store.Message) map[string]any {
	return map[string]any{
		"conversation_id": m.ConversationID,
		"message_id":      m.ID,
		"delivered_at":    m.DeliveredAt,
	}
}

// MessagePage selects a page of history.
type MessagePage struct {
	Limit          int
	Before         *time.Time
	IncludeDeleted bool
}

// GetMessages returns history newest first. It never changes delivery state.
func (s *Service) GetMessages(ctx context.Context, conversationID, callerID string, page MessagePage) ([]*MessageView, error) {
	c, _, err := s.loadParty(ctx, conversationID, callerID)
	if err != nil {
		return nil, err
	}
	if page.Limit < 0 {
		return nil, errInvalidInput("limit must not be negative")
	}

	limit := page.Limit
	switch {
	case limit == 0:
		limit = s.opts.DefaultPageSize
	case limit > s.opts.MaxPageSize:
		limit = s.opts.MaxPageSize
	}

	msgs, err := s.store.ListMessages(ctx, store.MessageQuery{
		ConversationID: c.ID,
		Before:         page.Before,
		Limit:          limit,
		IncludeDeleted: page.IncludeDeleted,
	})
	if err != nil {
		return nil, s.storeError(err, "messages")
	}

	views := make([]*MessageView, 0, len(msgs))
	for _, m := range msgs {
		views = append(views, newMessageView(m))
	}
	return views, nil
}

// MarkDelivered moves a message addressed to the caller from sent to
// delivered. It reports whether anything changed; later states are left alone.
func (s *Service) MarkDelivered(ctx context.Context, conversationID, callerID, messageID string) (bool, error) {
	c, _, err := s.loadParty(ctx, conversationID, callerID)
	if err != nil {
		return false, err
	}
	msg, err := s.store.GetMessage(ctx, c.ID, messageID)
	if err != nil {
		return false, s.storeError(err, "message")
	}
	if msg.RecipientID != callerID {
		return false, errForbidden("only the recipient may acknowledge delivery")
	}

	now := s.now()
	changed, err := s.store.MarkMessageDelivered(ctx, c.ID, msg.ID, now)
	if err != nil {
		return false, s.storeError(err, "message")
	}
	if changed {
		msg.DeliveredAt = &now
		s.notifier.Notify(ctx, msg.SenderID, EventMessageDelivered, deliveredPayload(msg))
	}
	return changed, nil
}

// ReadReceipt is the aggregate result of MarkRead.
type ReadReceipt struct {
	ConversationID string    `json:"conversation_id"`
	MessageIDs     []string  `json:"message_ids"`
	ReadBy         string    `json:"read_by"`
	ReadAt         time.Time `json:"read_at"`
}

// MarkRead marks every listed message addressed to the caller as read. Ids
// that are unknown, addressed to the other party or already read are
// skipped. The other party gets one messages_read event when anything changed.
func (s *Service) MarkRead(ctx context.Context, conversationID, callerID string, messageIDs []string) (*ReadReceipt, error) {
	if len(messageIDs) == 0 {
		return nil, errInvalidInput("message_ids is required")
	}
	c, party, err := s.loadParty(ctx, conversationID, callerID)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(messageIDs))
	ids := make([]string, 0, len(messageIDs))
	for _, id := range messageIDs {
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}

	now := s.now()
	changed, err := s.store.MarkMessagesRead(ctx, c.ID, callerID, ids, now)
	if err != nil {
		return nil, s.storeError(err, "messages")
	}

	receipt := &ReadReceipt{
		ConversationID: c.ID,
		MessageIDs:     changed,
		ReadBy:         callerID,
		ReadAt:         now,
	}
	if len(changed) > 0 {
		s.notifier.Notify(ctx, party.Other, EventMessagesRead, receipt)
	}
	return receipt, nil
}

// DeleteMessage hides a message the caller sent. The envelope is kept.
func (s *Service) DeleteMessage(ctx context.Context, conversationID, callerID, messageID string) error {
	c, _, err := s.loadParty(ctx, conversationID, callerID)
	if err != nil {
		return err
	}
	msg, err := s.store.GetMessage(ctx, c.ID, messageID)
	if err != nil {
		return s.storeError(err, "message")
	}
	if msg.SenderID != callerID {
		return errForbidden("only the sender may delete a message")
	}
	if msg.Deleted {
		return nil
	}

	if err := s.store.SoftDeleteMessage(ctx, c.ID, msg.ID, s.now()); err != nil {
		return s.storeError(err, "message")
	}
	s.Record(ctx, c.ID, store.AuditMessageDeleted, callerID, "message="+msg.ID)
	return nil
}
