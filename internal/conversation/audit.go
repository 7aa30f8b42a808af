// ABOUTME: Audit trail recorder: best-effort append of security-relevant actions
// ABOUTME: Request origin and client descriptor travel in the context from the transport layer

package conversation

import (
	"context"

	"github.com/2389/workroom-gateway/internal/store"
)

type requestMetaKey struct{}

// RequestMeta describes where a request came from.
type RequestMeta struct {
	Origin           string // client IP
	ClientDescriptor string // user agent
}

// WithRequestMeta attaches request metadata for audit entries written while
// handling the request.
func WithRequestMeta(ctx context.Context, meta RequestMeta) context.Context {
	return context.WithValue(ctx, requestMetaKey{}, meta)
}

// RequestMetaFrom returns the metadata attached to ctx, if any.
func RequestMetaFrom(ctx context.Context) RequestMeta {
	meta, _ := ctx.Value(requestMetaKey{}).(RequestMeta)
	return meta
}

// AuditRecord is one entry to append.
type AuditRecord struct {
	Action           store.AuditAction
	ActorID          string
	Detail           string
	Origin           string
	ClientDescriptor string
}

// AppendAuditEntry appends to the audit log of an existing conversation. The
// timestamp is assigned by the server.
func (s *Service) AppendAuditEntry(ctx context.Context, conversationID string, rec AuditRecord) error {
	if rec.Action == "" {
		return errInvalidInput("action is required")
	}
	if _, err := s.store.GetConversation(ctx, conversationID); err != nil {
		return s.storeError(err, "conversation")
	}
	err := s.store.AppendAuditEntry(ctx, &store.AuditEntry{
		ConversationID:   conversationID,
		Action:           rec.Action,
		ActorID:          rec.ActorID,
		Detail:           rec.Detail,
		Origin:           rec.Origin,
		ClientDescriptor: rec.ClientDescriptor,
		Timestamp:        s.now(),
	})
	if err != nil {
		return errInternal(err)
	}
	return nil
}

// Record appends an audit entry using the request metadata in ctx. Failures
// are logged and never reach the caller.
func (s *Service) Record(ctx context.Context, conversationID string, action store.AuditAction, actorID, detail string) {
	meta := RequestMetaFrom(ctx)
	err := s.AppendAuditEntry(ctx, conversationID, AuditRecord{
		Action:           action,
		ActorID:          actorID,
		Detail:           detail,
		Origin:           meta.Origin,
		ClientDescriptor: meta.ClientDescriptor,
	})
	if err != nil {
		s.logger.Warn("failed to record audit entry",
			"conversation_id", conversationID,
			"action", action,
			"actor", actorID,
			"error", err)
	}
}

// ListAudit returns the full audit log, oldest first, to either party.
func (s *Service) ListAudit(ctx context.Context, conversationID, callerID string) ([]*AuditView, error) {
	c, _, err := s.loadParty(ctx, conversationID, callerID)
	if err != nil {
		return nil, err
	}
	entries, err := s.store.ListAuditEntries(ctx, c.ID)
	if err != nil {
		return nil, s.storeError(err, "audit log")
	}

	views := make([]*AuditView, 0, len(entries))
	for _, e := range entries {
		views = append(views, &AuditView{
			ID:               e.ID,
			Action:           e.Action,
			ActorID:          e.ActorID,
			Detail:           e.Detail,
			Origin:           e.Origin,
			ClientDescriptor: e.ClientDescriptor,
			Timestamp:        e.Timestamp,
		})
	}
	return views, nil
}
