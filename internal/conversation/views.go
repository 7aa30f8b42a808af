// ABOUTME: JSON projections returned by the conversation service
// ABOUTME: Views never include the message log or audit log of a conversation

package conversation

import (
	"time"

	"github.com/2389/workroom-gateway/internal/store"
)

// ConversationView is the projection of a conversation for one caller.
type ConversationView struct {
	ID                         string                     `json:"id"`
	JobID                      string                     `json:"job_id"`
	ProposalID                 string                     `json:"proposal_id"`
	ClientID                   string                     `json:"client_id"`
	CounterpartyID             string                     `json:"counterparty_id"`
	Role                       store.Role                 `json:"role,omitempty"`
	ClientPublicKey            *string                    `json:"client_public_key,omitempty"`
	CounterpartyPublicKey      *string                    `json:"counterparty_public_key,omitempty"`
	ClientKeyFingerprint       string                     `json:"client_key_fingerprint,omitempty"`
	CounterpartyKeyFingerprint string                     `json:"counterparty_key_fingerprint,omitempty"`
	EncryptionReady            bool                       `json:"encryption_ready"`
	Status                     store.ConversationStatus   `json:"status"`
	Settings                   store.ConversationSettings `json:"settings"`
	UnreadCount                int                        `json:"unread_count"`
	CreatedAt                  time.Time                  `json:"created_at"`
	UpdatedAt                  time.Time                  `json:"updated_at"`
	LastActivityAt             time.Time                  `json:"last_activity_at"`
}

func newConversationView(c *store.Conversation, role store.Role, unread int) *ConversationView {
	return &ConversationView{
		ID:                         c.ID,
		JobID:                      c.JobID,
		ProposalID:                 c.ProposalID,
		ClientID:                   c.ClientID,
		CounterpartyID:             c.CounterpartyID,
		Role:                       role,
		ClientPublicKey:            c.ClientPublicKey,
		CounterpartyPublicKey:      c.CounterpartyPublicKey,
		ClientKeyFingerprint:       fingerprintPtr(c.ClientPublicKey),
		CounterpartyKeyFingerprint: fingerprintPtr(c.CounterpartyPublicKey),
		EncryptionReady:            c.EncryptionReady(),
		Status:                     c.Status,
		Settings:                   c.Settings,
		UnreadCount:                unread,
		CreatedAt:                  c.CreatedAt,
		UpdatedAt:                  c.UpdatedAt,
		LastActivityAt:             c.LastActivityAt,
	}
}

// MessageView is an envelope as delivered to clients.
type MessageView struct {
	ID             string              `json:"id"`
	ConversationID string              `json:"conversation_id"`
	SenderID       string              `json:"sender_id"`
	RecipientID    string              `json:"recipient_id"`
	Ciphertext     string              `json:"ciphertext"`
	IntegrityHash  string              `json:"integrity_hash"`
	Signature      *string             `json:"signature,omitempty"`
	MessageType    string              `json:"message_type"`
	Attachments    []store.Attachment  `json:"attachments,omitempty"`
	Status         store.MessageStatus `json:"status"`
	CreatedAt      time.Time           `json:"created_at"`
	DeliveredAt    *time.Time          `json:"delivered_at,omitempty"`
	ReadAt         *time.Time          `json:"read_at,omitempty"`
	Deleted        bool                `json:"deleted,omitempty"`
	DeletedAt      *time.Time          `json:"deleted_at,omitempty"`
	ExpiresAt      *time.Time          `json:"expires_at,omitempty"`
}

func newMessageView(m *store.Message) *MessageView {
	return &MessageView{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		RecipientID:    m.RecipientID,
		Ciphertext:     m.Ciphertext,
		IntegrityHash:  m.IntegrityHash,
		Signature:      m.Signature,
		MessageType:    m.MessageType,
		Attachments:    m.Attachments,
		Status:         m.Status,
		CreatedAt:      m.CreatedAt,
		DeliveredAt:    m.DeliveredAt,
		ReadAt:         m.ReadAt,
		Deleted:        m.Deleted,
		DeletedAt:      m.DeletedAt,
		ExpiresAt:      m.ExpiresAt,
	}
}

// AuditView is one audit log entry.
type AuditView struct {
	ID               string            `json:"id"`
	Action           store.AuditAction `json:"action"`
	ActorID          string            `json:"actor_id"`
	Detail           string            `json:"detail"`
	Origin           string            `json:"origin"`
	ClientDescriptor string            `json:"client_descriptor"`
	Timestamp        time.Time         `json:"timestamp"`
}

// MeetingView is a scheduled meeting.
type MeetingView struct {
	ID              string    `json:"id"`
	ConversationID  string    `json:"conversation_id"`
	Title           string    `json:"title"`
	Description     string    `json:"description,omitempty"`
	ScheduledAt     time.Time `json:"scheduled_at"`
	DurationMinutes int       `json:"duration_minutes"`
	MeetingURL      string    `json:"meeting_url,omitempty"`
	CreatedBy       string    `json:"created_by"`
	CreatedAt       time.Time `json:"created_at"`
}

func newMeetingView(m *store.Meeting) *MeetingView {
	return &MeetingView{
		ID:              m.ID,
		ConversationID:  m.ConversationID,
		Title:           m.Title,
		Description:     m.Description,
		ScheduledAt:     m.ScheduledAt,
		DurationMinutes: m.DurationMinutes,
		MeetingURL:      m.MeetingURL,
		CreatedBy:       m.CreatedBy,
		CreatedAt:       m.CreatedAt,
	}
}

// DocumentView is a shared workspace document.
type DocumentView struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Name           string    `json:"name"`
	URL            string    `json:"url"`
	Size           int64     `json:"size"`
	MimeType       string    `json:"mime_type,omitempty"`
	EncryptedKey   string    `json:"encrypted_key,omitempty"`
	UploadedBy     string    `json:"uploaded_by"`
	CreatedAt      time.Time `json:"created_at"`
}

func newDocumentView(d *store.SharedDocument) *DocumentView {
	return &DocumentView{
		ID:             d.ID,
		ConversationID: d.ConversationID,
		Name:           d.Name,
		URL:            d.URL,
		Size:           d.Size,
		MimeType:       d.MimeType,
		EncryptedKey:   d.EncryptedKey,
		UploadedBy:     d.UploadedBy,
		CreatedAt:      d.CreatedAt,
	}
}

// TaskView is a workspace task.
type TaskView struct {
	ID             string           `json:"id"`
	ConversationID string           `json:"conversation_id"`
	Title          string           `json:"title"`
	Description    string           `json:"description,omitempty"`
	Status         store.TaskStatus `json:"status"`
	AssigneeID     *string          `json:"assignee_id,omitempty"`
	DueAt          *time.Time       `json:"due_at,omitempty"`
	CreatedBy      string           `json:"created_by"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

func newTaskView(t *store.Task) *TaskView {
	return &TaskView{
		ID:             t.ID,
		ConversationID: t.ConversationID,
		Title:          t.Title,
		Description:    t.Description,
		Status:         t.Status,
		AssigneeID:     t.AssigneeID,
		DueAt:          t.DueAt,
		CreatedBy:      t.CreatedBy,
		CreatedAt:      t.CreatedAt,
		UpdatedAt:      t.UpdatedAt,
	}
}

// ScreenShareView is a screen-share session.
type ScreenShareView struct {
	ID             string     `json:"id"`
	ConversationID string     `json:"conversation_id"`
	StartedBy      string     `json:"started_by"`
	StartedAt      time.Time  `json:"started_at"`
	EndedAt        *time.Time `json:"ended_at,omitempty"`
}

func newScreenShareView(s *store.ScreenShareSession) *ScreenShareView {
	return &ScreenShareView{
		ID:             s.ID,
		ConversationID: s.ConversationID,
		StartedBy:      s.StartedBy,
		StartedAt:      s.StartedAt,
		EndedAt:        s.EndedAt,
	}
}
