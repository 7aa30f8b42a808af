// ABOUTME: Store interface and data types for workroom-gateway persistence
// ABOUTME: Defines Conversation, Message, AuditEntry, workspace records and the Store interface

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateConversation is returned when a conversation already exists for a proposal
var ErrDuplicateConversation = errors.New("conversation already exists for proposal")

// ErrDuplicateMessage is returned when a sender reuses an idempotency key in a conversation
var ErrDuplicateMessage = errors.New("message with idempotency key already exists")

// ErrDuplicatePrincipal is returned when a principal ID is already taken
var ErrDuplicatePrincipal = errors.New("principal already exists")

// ErrKeyConflict is returned when a public key slot is already filled with a
// different key and overwrite was not requested
var ErrKeyConflict = errors.New("public key slot already filled")

// ErrStatusConflict is returned when a conversation's status is no longer the
// expected one, or the conversation is closed
var ErrStatusConflict = errors.New("conversation status changed")

// ConversationStatus is the lifecycle state of a conversation.
type ConversationStatus string

const (
	ConversationActive    ConversationStatus = "active"
	ConversationArchived  ConversationStatus = "archived"
	ConversationSuspended ConversationStatus = "suspended"
	ConversationClosed    ConversationStatus = "closed"
)

// Valid reports whether s is a known conversation status.
func (s ConversationStatus) Valid() bool {
	switch s {
	case ConversationActive, ConversationArchived, ConversationSuspended, ConversationClosed:
		return true
	}
	return false
}

// Role identifies which of the two key slots a party owns.
type Role string

const (
	RoleClient       Role = "client"
	RoleCounterparty Role = "counterparty"
)

// ConversationSettings is the security and workspace sub-configuration.
type ConversationSettings struct {
	EncryptionRequired   bool `json:"encryption_required"`
	AllowFileSharing     bool `json:"allow_file_sharing"`
	AllowScreenShare     bool `json:"allow_screen_share"`
	MessageRetentionDays int  `json:"message_retention_days"`
}

// DefaultConversationSettings returns the settings applied at creation time.
func DefaultConversationSettings() ConversationSettings {
	return ConversationSettings{
		EncryptionRequired: true,
		AllowFileSharing:   true,
		AllowScreenShare:   true,
	}
}

// Conversation is the durable two-party channel created when a proposal is accepted.
type Conversation struct {
	ID             string
	JobID          string
	ProposalID     string
	ClientID       string
	CounterpartyID string

	ClientPublicKey       *string
	CounterpartyPublicKey *string

	Status         ConversationStatus
	Settings       ConversationSettings
	CreatedAt      time.Time
	UpdatedAt      time.Time
	LastActivityAt time.Time
}

// PublicKey returns the key stored in the slot for role.
func (c *Conversation) PublicKey(role Role) *string {
	if role == RoleClient {
		return c.ClientPublicKey
	}
	return c.CounterpartyPublicKey
}

// EncryptionReady reports whether both parties have exchanged public keys.
func (c *Conversation) EncryptionReady() bool {
	return c.ClientPublicKey != nil && c.CounterpartyPublicKey != nil
}

// MessageStatus is the delivery state of a message. It only moves forward.
type MessageStatus string

const (
	MessageSent      MessageStatus = "sent"
	MessageDelivered MessageStatus = "delivered"
	MessageRead      MessageStatus = "read"
)

// Rank orders statuses so callers can compare progress.
func (s MessageStatus) Rank() int {
	switch s {
	case MessageSent:
		return 1
	case MessageDelivered:
		return 2
	case MessageRead:
		return 3
	}
	return 0
}

// Attachment describes an encrypted file referenced by a message.
type Attachment struct {
	Name         string `json:"name" validate:"required"`
	URL          string `json:"url" validate:"required,url"`
	Size         int64  `json:"size,omitempty" validate:"gte=0"`
	MimeType     string `json:"mime_type,omitempty"`
	EncryptedKey string `json:"encrypted_key,omitempty"`
}

// Message is one encrypted envelope in a conversation's log.
type Message struct {
	ID             string
	ConversationID string
	SenderID       string
	RecipientID    string

	Ciphertext    string
	IntegrityHash string
	Signature     *string // nil means unsigned
	MessageType   string
	Attachments   []Attachment

	IdempotencyKey *string

	Status      MessageStatus
	CreatedAt   time.Time
	DeliveredAt *time.Time
	ReadAt      *time.Time

	Deleted   bool
	DeletedAt *time.Time
	ExpiresAt *time.Time
}

// MessageQuery selects a page of a conversation's messages.
type MessageQuery struct {
	ConversationID string
	Before         *time.Time // only messages created strictly before this instant
	Limit          int
	IncludeDeleted bool
}

// AuditAction classifies an audit entry. The set is open; these are the ones the gateway writes.
type AuditAction string

const (
	AuditConversationCreated AuditAction = "conversation_created"
	AuditStatusChanged       AuditAction = "status_changed"
	AuditKeyExchanged        AuditAction = "key_exchanged"
	AuditKeyRotated          AuditAction = "key_rotated"
	AuditMessageDeleted      AuditAction = "message_deleted"
	AuditMeetingScheduled    AuditAction = "meeting_scheduled"
	AuditDocumentUploaded    AuditAction = "document_uploaded"
	AuditTaskCreated         AuditAction = "task_created"
	AuditTaskUpdated         AuditAction = "task_updated"
	AuditScreenShareStarted  AuditAction = "screen_share_started"
	AuditScreenShareEnded    AuditAction = "screen_share_ended"
)

// AuditEntry is an immutable record of a security-relevant action in a conversation.
type AuditEntry struct {
	ID               string
	ConversationID   string
	Action           AuditAction
	ActorID          string
	Detail           string
	Origin           string // client IP
	ClientDescriptor string // user agent
	Timestamp        time.Time
}

// Meeting is a scheduled call between the parties.
type Meeting struct {
	ID              string
	ConversationID  string
	Title           string
	Description     string
	ScheduledAt     time.Time
	DurationMinutes int
	MeetingURL      string
	CreatedBy       string
	CreatedAt       time.Time
}

// SharedDocument is a file placed in the conversation workspace.
type SharedDocument struct {
	ID             string
	ConversationID string
	Name           string
	URL            string
	Size           int64
	MimeType       string
	EncryptedKey   string
	UploadedBy     string
	CreatedAt      time.Time
}

// TaskStatus is the progress of a workspace task.
type TaskStatus string

const (
	TaskTodo       TaskStatus = "todo"
	TaskInProgress TaskStatus = "in_progress"
	TaskDone       TaskStatus = "done"
)

// Valid reports whether s is a known task status.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskTodo, TaskInProgress, TaskDone:
		return true
	}
	return false
}

// Task is a shared to-do item in the conversation workspace.
type Task struct {
	ID             string
	ConversationID string
	Title          string
	Description    string
	Status         TaskStatus
	AssigneeID     *string
	DueAt          *time.Time
	CreatedBy      string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ScreenShareSession records one screen-sharing session.
type ScreenShareSession struct {
	ID             string
	ConversationID string
	StartedBy      string
	StartedAt      time.Time
	EndedAt        *time.Time
}

// PrincipalKind distinguishes end users from backend collaborators.
type PrincipalKind string

const (
	PrincipalUser    PrincipalKind = "user"
	PrincipalService PrincipalKind = "service"
)

// PrincipalStatus gates whether a principal may authenticate.
type PrincipalStatus string

const (
	PrincipalActive    PrincipalStatus = "active"
	PrincipalSuspended PrincipalStatus = "suspended"
)

// Principal is an authenticated identity known to the gateway.
type Principal struct {
	ID          string
	DisplayName string
	Kind        PrincipalKind
	Status      PrincipalStatus
	CreatedAt   time.Time
}

// ConversationStore covers conversation records and their key slots.
type ConversationStore interface {
	CreateConversation(ctx context.Context, c *Conversation) error
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	GetConversationByProposal(ctx context.Context, proposalID string) (*Conversation, error)
	// ListConversationsForParty returns non-closed conversations where principalID is
	// a party, most recent activity first.
	ListConversationsForParty(ctx context.Context, principalID string) ([]*Conversation, error)
	// UpdateConversationStatus moves the conversation from one status to another.
	// It returns ErrStatusConflict when the stored status is not from, or is closed.
	UpdateConversationStatus(ctx context.Context, id string, from, to ConversationStatus) error
	// SetPublicKey writes the slot for role and returns the key it held before
	// (nil when empty). Unless overwrite is set the write only applies when the
	// slot is empty or already holds key; otherwise ErrKeyConflict.
	SetPublicKey(ctx context.Context, conversationID string, role Role, key string, overwrite bool) (previous *string, err error)
}

// MessageStore covers the append-only message arena.
type MessageStore interface {
	// AppendMessage inserts one message row and bumps the conversation's activity time.
	AppendMessage(ctx context.Context, msg *Message) error
	GetMessage(ctx context.Context, conversationID, messageID string) (*Message, error)
	GetMessageByIdempotencyKey(ctx context.Context, conversationID, senderID, key string) (*Message, error)
	// ListMessages returns messages newest first.
	ListMessages(ctx context.Context, q MessageQuery) ([]*Message, error)
	// MarkMessageDelivered moves a message from sent to delivered. It reports false
	// when the message was not in the sent state.
	MarkMessageDelivered(ctx context.Context, conversationID, messageID string, at time.Time) (bool, error)
	// MarkMessagesRead moves every listed message addressed to recipientID to read
	// and returns the ids that actually changed.
	MarkMessagesRead(ctx context.Context, conversationID, recipientID string, messageIDs []string, at time.Time) ([]string, error)
	SoftDeleteMessage(ctx context.Context, conversationID, messageID string, at time.Time) error
	CountUnread(ctx context.Context, conversationID, recipientID string) (int, error)
}

// AuditStore is append-only: there is deliberately no update or delete.
type AuditStore interface {
	AppendAuditEntry(ctx context.Context, e *AuditEntry) error
	// ListAuditEntries returns the full log oldest first.
	ListAuditEntries(ctx context.Context, conversationID string) ([]*AuditEntry, error)
}

// WorkspaceStore covers meetings, documents, tasks and screen shares.
type WorkspaceStore interface {
	CreateMeeting(ctx context.Context, m *Meeting) error
	ListMeetings(ctx context.Context, conversationID string) ([]*Meeting, error)

	CreateDocument(ctx context.Context, d *SharedDocument) error
	ListDocuments(ctx context.Context, conversationID string) ([]*SharedDocument, error)

	CreateTask(ctx context.Context, t *Task) error
	GetTask(ctx context.Context, conversationID, taskID string) (*Task, error)
	UpdateTaskStatus(ctx context.Context, conversationID, taskID string, status TaskStatus, at time.Time) error
	ListTasks(ctx context.Context, conversationID string) ([]*Task, error)

	StartScreenShare(ctx context.Context, s *ScreenShareSession) error
	EndScreenShare(ctx context.Context, conversationID, sessionID string, at time.Time) error
	ListScreenShares(ctx context.Context, conversationID string) ([]*ScreenShareSession, error)
}

// PrincipalStore backs the caller identity collaborator.
type PrincipalStore interface {
	CreatePrincipal(ctx context.Context, p *Principal) error
	GetPrincipal(ctx context.Context, id string) (*Principal, error)
}

// Store is everything the gateway persists.
type Store interface {
	ConversationStore
	MessageStore
	AuditStore
	WorkspaceStore
	PrincipalStore

	// Ping checks the backing database is reachable
	Ping(ctx context.Context) error

	// Close releases any resources held by the store
	Close() error
}
