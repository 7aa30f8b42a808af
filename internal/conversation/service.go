// ABOUTME: Service is the conversation core: lifecycle, key exchange, envelopes, audit and workspace
// ABOUTME: Durable state is written first; real-time notification is best-effort and never rolls it back

package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/2389/workroom-gateway/internal/dedupe"
	"github.com/2389/workroom-gateway/internal/store"
)

// Event names pushed to principals and rooms.
const (
	EventEncryptionReady   = "encryption_ready"
	EventEncryptedMessage  = "encrypted_message"
	EventMessageDelivered  = "message_delivered"
	EventMessagesRead      = "messages_read"
	EventStatusChanged     = "conversation_status_changed"
	EventMeetingScheduled  = "meeting_scheduled"
	EventDocumentShared    = "document_shared"
	EventTaskUpdated       = "task_updated"
	EventScreenShareChange = "screen_share_updated"
)

// Store defines what the service needs from storage.
type Store interface {
	store.ConversationStore
	store.MessageStore
	store.AuditStore
	store.WorkspaceStore
	store.PrincipalStore
}

// Notifier is the real-time fan-out the service pushes through.
// Implementations must not block and must never fail the caller.
type Notifier interface {
	IsOnline(ctx context.Context, principalID string) bool
	Notify(ctx context.Context, principalID, event string, payload any)
	Broadcast(ctx context.Context, room, event string, payload any)
}

// Options tunes message handling.
type Options struct {
	IdempotencyWindow     time.Duration
	IdempotencyMaxEntries int
	DefaultPageSize       int
	MaxPageSize           int
}

func (o *Options) applyDefaults() {
	if o.IdempotencyWindow <= 0 {
		o.IdempotencyWindow = 10 * time.Minute
	}
	if o.IdempotencyMaxEntries <= 0 {
		o.IdempotencyMaxEntries = 10000
	}
	if o.DefaultPageSize <= 0 {
		o.DefaultPageSize = 50
	}
	if o.MaxPageSize <= 0 {
		o.MaxPageSize = 200
	}
	if o.DefaultPageSize > o.MaxPageSize {
		o.DefaultPageSize = o.MaxPageSize
	}
}

// Service implements every conversation operation. It is safe for concurrent use.
type Service struct {
	store    Store
	notifier Notifier
	recent   *dedupe.Cache
	validate *validator.Validate
	opts     Options
	now      func() time.Time
	logger   *slog.Logger
}

// New creates a Service. notifier may be nil when no real-time transport is wired.
func New(st Store, notifier Notifier, opts Options, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if notifier == nil {
		notifier = nopNotifier{}
	}
	opts.applyDefaults()
	return &Service{
		store:    st,
		notifier: notifier,
		recent:   dedupe.New(opts.IdempotencyWindow, opts.IdempotencyMaxEntries),
		validate: newValidator(),
		opts:     opts,
		now:      func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
		logger:   logger.With("component", "conversation"),
	}
}

// Close releases background resources.
func (s *Service) Close() {
	s.recent.Close()
}

// Room returns the broadcast group name for a conversation.
func Room(conversationID string) string {
	return "conversation:" + conversationID
}

type nopNotifier struct{}

func (nopNotifier) IsOnline(context.Context, string) bool       { return false }
func (nopNotifier) Notify(context.Context, string, string, any)    {}
func (nopNotifier) Broadcast(context.Context, string, string, any) {}

// storeError maps a store failure to the error taxonomy. what names the
// entity for not-found messages.
func (s *Service) storeError(err error, what string) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return errNotFound(what)
	case errors.Is(err, store.ErrDuplicateConversation):
		return errConflict("a conversation already exists for this proposal")
	default:
		s.logger.Error("store operation failed", "entity", what, "error", err)
		return errInternal(err)
	}
}

// statusConflict explains why a conditional status update matched nothing.
func (s *Service) statusConflict(ctx context.Context, conversationID string) error {
	current, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return s.storeError(err, "conversation")
	}
	if current.Status == store.ConversationClosed {
		return errInvalidState("conversation is closed")
	}
	return errConflict(fmt.Sprintf("conversation status changed to %s; retry", current.Status))
}

// loadParty fetches a conversation and resolves the caller's role. Non-parties
// get the same not_found as a missing conversation.
func (s *Service) loadParty(ctx context.Context, conversationID, callerID string) (*store.Conversation, Party, error) {
	c, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, Party{}, s.storeError(err, "conversation")
	}
	party, ok := resolveParty(c, callerID)
	if !ok {
		return nil, Party{}, errNotFound("conversation")
	}
	return c, party, nil
}

// loadActiveParty is loadParty plus the requirement that the conversation is active.
func (s *Service) loadActiveParty(ctx context.Context, conversationID, callerID string) (*store.Conversation, Party, error) {
	c, party, err := s.loadParty(ctx, conversationID, callerID)
	if err != nil {
		return nil, Party{}, err
	}
	if c.Status != store.ConversationActive {
		return nil, Party{}, errInvalidState(fmt.Sprintf("conversation is %s", c.Status))
	}
	return c, party, nil
}

// requireService ensures callerID is an active service principal.
func (s *Service) requireService(ctx context.Context, callerID string) error {
	p, err := s.store.GetPrincipal(ctx, callerID)
	if errors.Is(err, store.ErrNotFound) {
		return errForbidden("caller is not a known principal")
	}
	if err != nil {
		return s.storeError(err, "principal")
	}
	if p.Kind != store.PrincipalService || p.Status != store.PrincipalActive {
		return errForbidden("only service principals may perform this action")
	}
	return nil
}

// CreateConversationInput is what the proposal-acceptance collaborator submits.
type CreateConversationInput struct {
	JobID          string                      `json:"job_id" validate:"required"`
	ProposalID     string                      `json:"proposal_id" validate:"required"`
	ClientID       string                      `json:"client_id" validate:"required"`
	CounterpartyID string                      `json:"counterparty_id" validate:"required,nefield=ClientID"`
	Settings       *store.ConversationSettings `json:"settings,omitempty"`
}

// CreateConversation opens the conversation for an accepted proposal. At most
// one conversation exists per proposal.
func (s *Service) CreateConversation(ctx context.Context, callerID string, in CreateConversationInput) (*ConversationView, error) {
	if err := s.validate.Struct(in); err != nil {
		return nil, validationError(err)
	}
	if err := s.requireService(ctx, callerID); err != nil {
		return nil, err
	}

	now := s.now()
	settings := store.DefaultConversationSettings()
	if in.Settings != nil {
		settings = *in.Settings
	}
	c := &store.Conversation{
		ID:             uuid.New().String(),
		JobID:          in.JobID,
		ProposalID:     in.ProposalID,
		ClientID:       in.ClientID,
		CounterpartyID: in.CounterpartyID,
		Status:         store.ConversationActive,
		Settings:       settings,
		CreatedAt:      now,
		UpdatedAt:      now,
		LastActivityAt: now,
	}
	if err := s.store.CreateConversation(ctx, c); err != nil {
		return nil, s.storeError(err, "conversation")
	}

	s.logger.Info("conversation created",
		"conversation_id", c.ID,
		"job_id", c.JobID,
		"proposal_id", c.ProposalID)

	s.Record(ctx, c.ID, store.AuditConversationCreated, callerID,
		fmt.Sprintf("job=%s proposal=%s", c.JobID, c.ProposalID))

	return newConversationView(c, "", 0), nil
}

// GetConversation returns the conversation projection for a party.
func (s *Service) GetConversation(ctx context.Context, conversationID, callerID string) (*ConversationView, error) {
	c, party, err := s.loadParty(ctx, conversationID, callerID)
	if err != nil {
		return nil, err
	}
	unread, err := s.store.CountUnread(ctx, c.ID, callerID)
	if err != nil {
		return nil, s.storeError(err, "conversation")
	}
	return newConversationView(c, party.Role, unread), nil
}

// ListConversations returns the caller's non-closed conversations, most recent activity first.
func (s *Service) ListConversations(ctx context.Context, callerID string) ([]*ConversationView, error) {
	list, err := s.store.ListConversationsForParty(ctx, callerID)
	if err != nil {
		return nil, s.storeError(err, "conversations")
	}

	views := make([]*ConversationView, 0, len(list))
	for _, c := range list {
		party, ok := resolveParty(c, callerID)
		if !ok {
			continue
		}
		unread, err := s.store.CountUnread(ctx, c.ID, callerID)
		if err != nil {
			return nil, s.storeError(err, "conversations")
		}
		views = append(views, newConversationView(c, party.Role, unread))
	}
	return views, nil
}

// UpdateConversationStatus moves a conversation to a new lifecycle status.
// Closed is terminal. Setting the current status again is a no-op.
func (s *Service) UpdateConversationStatus(ctx context.Context, conversationID, callerID string, status store.ConversationStatus) (*ConversationView, error) {
	if !status.Valid() {
		return nil, errInvalidInput("status must be one of: active archived suspended closed")
	}
	if err := s.requireService(ctx, callerID); err != nil {
		return nil, err
	}

	c, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, s.storeError(err, "conversation")
	}
	if c.Status == status {
		return newConversationView(c, "", 0), nil
	}
	if c.Status == store.ConversationClosed {
		return nil, errInvalidState("conversation is closed")
	}

	previous := c.Status
	err = s.store.UpdateConversationStatus(ctx, c.ID, previous, status)
	if errors.Is(err, store.ErrStatusConflict) {
		return nil, s.statusConflict(ctx, c.ID)
	}
	if err != nil {
		return nil, s.storeError(err, "conversation")
	}

	s.Record(ctx, c.ID, store.AuditStatusChanged, callerID, fmt.Sprintf("%s -> %s", previous, status))

	updated, err := s.store.GetConversation(ctx, c.ID)
	if err != nil {
		return nil, s.storeError(err, "conversation")
	}

	payload := map[string]any{
		"conversation_id": c.ID,
		"status":          status,
		"previous_status": previous,
	}
	s.notifier.Notify(ctx, c.ClientID, EventStatusChanged, payload)
	s.notifier.Notify(ctx, c.CounterpartyID, EventStatusChanged, payload)

	return newConversationView(updated, "", 0), nil
}
